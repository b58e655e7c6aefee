package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	FeatureChat       = "chat"
	FeatureGenerate   = "generate"
	FeatureDictionary = "dictionary"
	FeatureCorrector  = "corrector"
	FeatureGrammar    = "grammar"
	FeatureEssay      = "essay"
	FeatureParaphrase = "paraphrase"
	FeatureScenario   = "scenario"
)

// Features lists every feature tab in display order.
var Features = []string{
	FeatureChat,
	FeatureGenerate,
	FeatureDictionary,
	FeatureCorrector,
	FeatureGrammar,
	FeatureEssay,
	FeatureParaphrase,
	FeatureScenario,
}

// IsFeature reports whether name is a known feature tab.
func IsFeature(name string) bool {
	for _, f := range Features {
		if f == name {
			return true
		}
	}
	return false
}

// Config holds application configuration
type Config struct {
	APIBaseURL string `env:"ADA_API_BASE_URL" envDefault:"http://localhost:5000"`
	SessionID  string `env:"ADA_SESSION_ID"`
	Debug      bool   `env:"ADA_DEBUG"`
	LogDir     string `env:"ADA_LOG_DIR" envDefault:"logs"`
	DBPath     string `env:"ADA_DB_PATH" envDefault:"adaassist.db"`
	Feature    string `env:"ADA_FEATURE" envDefault:"chat"`

	// Identity
	TokenSecret string        `env:"ADA_TOKEN_SECRET" envDefault:"dev-secret-change-me"`
	TokenIssuer string        `env:"ADA_TOKEN_ISSUER" envDefault:"adaassist"`
	TokenTTL    time.Duration `env:"ADA_TOKEN_TTL" envDefault:"1h"`

	// Speech
	SpeechEnabled  bool   `env:"ADA_SPEECH_ENABLED" envDefault:"true"` // default when no preference is stored
	RecognizerURL  string `env:"ADA_RECOGNIZER_URL"`                   // ws:// endpoint for speech input, empty disables /listen
	ChatHistory    int    `env:"ADA_CHAT_HISTORY" envDefault:"6"`
	ScenarioWindow int    `env:"ADA_SCENARIO_HISTORY" envDefault:"8"`

	// Speech devices, given as command lines. Voices are name=lang pairs.
	AudioPlayer string   `env:"ADA_AUDIO_PLAYER" envDefault:"mpg123 -q -"`
	Synthesizer string   `env:"ADA_SYNTHESIZER" envDefault:"espeak-ng"`
	SynthVoices []string `env:"ADA_SYNTH_VOICES" envSeparator:"," envDefault:"en-gb=en-GB,en-us=en-US"`
	Microphone  string   `env:"ADA_MICROPHONE" envDefault:"arecord -q -f S16_LE -r 16000 -c 1 -d 8"`

	// Offline proxy
	ProxyAddr     string   `env:"ADA_PROXY_ADDR" envDefault:":8080"`
	ProxyUpstream string   `env:"ADA_PROXY_UPSTREAM" envDefault:"http://localhost:5000"`
	CacheName     string   `env:"ADA_CACHE_NAME" envDefault:"adai-cache-v1"`
	CacheManifest []string `env:"ADA_CACHE_MANIFEST" envSeparator:","`
}

// DefaultManifest is the critical asset list cached on install.
var DefaultManifest = []string{
	"/",
	"/signin",
	"/static/css/style.css",
	"/static/js/script.js",
	"/static/js/firebase-config.js",
	"/static/icons/icon-192x192.png",
	"/static/icons/icon-512x512.png",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
}

// Load reads configuration from an optional .env file and the environment.
func Load(dotenv string) (Config, error) {
	var cfg Config
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.CacheManifest) == 0 {
		cfg.CacheManifest = append([]string(nil), DefaultManifest...)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that flags or the environment may have broken.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api base url is required")
	}
	if c.Feature != "" && !IsFeature(c.Feature) {
		return fmt.Errorf("unknown feature: %s", c.Feature)
	}
	if c.ChatHistory < 0 || c.ScenarioWindow < 0 {
		return errors.New("history windows must not be negative")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	return nil
}
