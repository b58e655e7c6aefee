package main

import (
	"flag"
	"fmt"
	"os"

	"AdaAssist/internal/chatbot"
	"AdaAssist/internal/config"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "Assistant backend base URL")
	flag.StringVar(&cfg.SessionID, "session-id", cfg.SessionID, "Load existing session by ID")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.Feature, "feature", cfg.Feature, "Initial feature (chat|generate|dictionary|corrector|grammar|essay|paraphrase|scenario)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.StringVar(&cfg.RecognizerURL, "recognizer", cfg.RecognizerURL, "Speech recognition WebSocket URL (enables /listen)")
	flag.Parse()

	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
