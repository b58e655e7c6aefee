package chatbot

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"AdaAssist/internal/config"
	"AdaAssist/internal/gateway"
	"AdaAssist/internal/identity"
	"AdaAssist/internal/session"
	"AdaAssist/internal/speech"
	"AdaAssist/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

// Version is reported in telemetry resources.
const Version = "1.0.0"

const greeting = "Hello! I'm Ada, your English practice assistant. How can I help you today?"

// Microphone opens a raw audio stream for one utterance.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Option overrides a collaborator that NewChatBot would otherwise build from config.
type Option func(*ChatBot)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(cb *ChatBot) {
		cb.in = in
		cb.out = &console{w: out}
	}
}

// WithProvider replaces the local identity provider.
func WithProvider(p identity.Provider) Option {
	return func(cb *ChatBot) { cb.auth = p }
}

// WithSpeechDevices replaces the command-line speech devices.
func WithSpeechDevices(synth speech.Synthesizer, player speech.Player) Option {
	return func(cb *ChatBot) {
		cb.synth = synth
		cb.player = player
	}
}

// WithListener replaces the microphone and the recognizer used by /listen.
func WithListener(mic Microphone, rec speech.Recognizer) Option {
	return func(cb *ChatBot) {
		cb.mic = mic
		cb.recognizer = rec
	}
}

// ChatBot is the interactive Ada client.
type ChatBot struct {
	config   config.Config
	db       *sql.DB
	logger   *slog.Logger
	tracer   trace.Tracer
	shutdown func()

	auth       identity.Provider
	api        *gateway.Client
	store      *session.Store
	prefs      *speech.Preferences
	speaker    *speech.Speaker
	synth      speech.Synthesizer
	player     speech.Player
	mic        Microphone
	recognizer speech.Recognizer

	in       io.Reader
	out      *console
	speaking sync.WaitGroup

	mu        sync.Mutex
	feature   string
	chat      *session.Transcript
	scenario  *session.Transcript
	situation string // active role-play description
	level     string
	essayType string
	style     string
	lastWord  string
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config, opts ...Option) (*ChatBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, "adaassist", cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "adaassist", Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	cb := &ChatBot{
		config:    cfg,
		db:        db,
		logger:    logger,
		tracer:    tracer,
		shutdown:  shutdown,
		store:     session.NewStore(db),
		prefs:     speech.NewPreferences(db),
		in:        os.Stdin,
		feature:   cfg.Feature,
		level:     "encounter",
		essayType: "argumentative",
		style:     "simpler",
	}
	cb.prefs.Default = cfg.SpeechEnabled
	if cb.feature == "" {
		cb.feature = config.FeatureChat
	}
	cb.out = &console{w: os.Stdout}

	for _, opt := range opts {
		opt(cb)
	}

	if cb.auth == nil {
		cb.auth, err = identity.NewLocalProvider(identity.LocalConfig{
			Secret: []byte(cfg.TokenSecret),
			Issuer: cfg.TokenIssuer,
			TTL:    cfg.TokenTTL,
		})
		if err != nil {
			cb.Close()
			return nil, fmt.Errorf("failed to initialize identity: %w", err)
		}
	}
	cb.auth.OnAuthStateChanged(cb.authStateChanged)

	cb.api, err = gateway.New(gateway.Options{
		BaseURL:   cfg.APIBaseURL,
		Auth:      cb.auth,
		Logger:    logger,
		Notifier:  gateway.NotifierFunc(cb.out.alert),
		Indicator: gateway.IndicatorFunc(cb.out.busy),
		Tracer:    tracer,
		Meter:     meter,
	})
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to initialize api gateway: %w", err)
	}

	if err := cb.initSpeech(); err != nil {
		cb.Close()
		return nil, err
	}

	cb.chat = cb.resumeChat(cfg.SessionID)
	return cb, nil
}

// initSpeech builds command-line devices unless options supplied them.
func (cb *ChatBot) initSpeech() error {
	if cb.synth == nil {
		cb.synth = speech.CommandSynthesizer{Command: cb.config.Synthesizer, Installed: parseVoices(cb.config.SynthVoices)}
	}
	if cb.player == nil {
		name, args := splitCommand(cb.config.AudioPlayer)
		cb.player = speech.CommandPlayer{Command: name, Args: args}
	}

	speaker, err := speech.NewSpeaker(speech.SpeakerOptions{
		Premium: cb.api,
		Player:  cb.player,
		Synth:   cb.synth,
		Toggle:  cb.prefs,
		Logger:  cb.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize speech: %w", err)
	}
	cb.speaker = speaker

	if cb.recognizer == nil && cb.config.RecognizerURL != "" {
		rec, err := speech.NewWebSocketRecognizer(cb.config.RecognizerURL, cb.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize speech recognition: %w", err)
		}
		cb.recognizer = rec
	}
	if cb.mic == nil {
		name, args := splitCommand(cb.config.Microphone)
		cb.mic = speech.CommandMicrophone{Command: name, Args: args}
	}
	return nil
}

// resumeChat loads a saved chat transcript, or starts a new one.
func (cb *ChatBot) resumeChat(id string) *session.Transcript {
	if id == "" {
		return cb.newTranscript(config.FeatureChat)
	}
	t, err := cb.store.Load(id)
	if err != nil {
		cb.logger.Warn("failed to load session, creating new one", "error", err)
		return cb.newTranscript(config.FeatureChat)
	}
	cb.logger.Info("loaded existing session", "session_id", t.ID, "entries", t.Len())
	return t
}

func (cb *ChatBot) newTranscript(feature string) *session.Transcript {
	t := session.New(feature)
	cb.logger.Info("created new session", "session_id", t.ID, "feature", feature)
	return t
}

// saveChat persists the chat transcript.
func (cb *ChatBot) saveChat() {
	cb.mu.Lock()
	t := cb.chat
	cb.mu.Unlock()
	if t.Len() == 0 {
		return
	}
	if err := cb.store.Save(t); err != nil {
		cb.logger.Error("failed to save session", "error", err)
		return
	}
	cb.logger.Info("session saved", "session_id", t.ID, "entry_count", t.Len())
}

// Close releases the database and flushes telemetry.
func (cb *ChatBot) Close() {
	if cb.speaker != nil {
		cb.speaker.Stop()
	}
	cb.speaking.Wait()
	if cb.db != nil {
		cb.db.Close()
	}
	if cb.shutdown != nil {
		cb.shutdown()
	}
}

// SessionID returns the ID of the chat transcript.
func (cb *ChatBot) SessionID() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.chat.ID
}

func (cb *ChatBot) authStateChanged(u *identity.User) {
	if u == nil {
		if cb.speaker != nil {
			cb.speaker.Stop()
		}
		cb.out.println("Signed out.")
		cb.logger.Info("auth state changed", "signed_in", false)
		return
	}
	cb.out.printf("Signed in as %s\n", u.Email)
	cb.logger.Info("auth state changed", "signed_in", true, "uid", u.UID)
}

// open reports whether cmd may run without a signed-in user.
func open(cmd string) bool {
	switch cmd {
	case "/signin", "/help", "/quit", "/exit":
		return true
	}
	return false
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, nil
	}
	cmd := parts[0]
	arg := strings.TrimSpace(strings.TrimPrefix(input, cmd))

	if cb.auth.CurrentUser() == nil && !open(cmd) {
		cb.out.println("Please sign in first: /signin <email>")
		return false, nil
	}

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/signin":
		if arg == "" {
			return false, fmt.Errorf("usage: /signin <email>")
		}
		if _, err := cb.auth.SignIn(ctx, arg); err != nil {
			return false, fmt.Errorf("sign in failed: %w", err)
		}
		return false, nil

	case "/signout":
		return false, cb.auth.SignOut(ctx)

	case "/whoami":
		u := cb.auth.CurrentUser()
		cb.out.printf("%s (%s)\n", u.Email, u.UID)
		return false, nil

	case "/feature":
		if !config.IsFeature(arg) {
			return false, fmt.Errorf("usage: /feature <%s>", strings.Join(config.Features, "|"))
		}
		cb.mu.Lock()
		cb.feature = arg
		cb.mu.Unlock()
		cb.out.printf("Switched to %s\n", arg)
		return false, nil

	case "/new-session":
		cb.saveChat()
		cb.mu.Lock()
		cb.chat = cb.newTranscript(config.FeatureChat)
		id := cb.chat.ID
		cb.mu.Unlock()
		cb.out.println("Started new session:", id)
		return false, nil

	case "/level":
		return false, cb.setOption(&cb.level, arg, "usage: /level <level>", "Level")
	case "/essay-type":
		return false, cb.setOption(&cb.essayType, arg, "usage: /essay-type <type>", "Essay type")
	case "/style":
		return false, cb.setOption(&cb.style, arg, "usage: /style <style>", "Paraphrase style")

	case "/outline", "/essay":
		if arg == "" {
			return false, fmt.Errorf("usage: %s <topic>", cmd)
		}
		cb.essay(ctx, arg, cmd == "/outline")
		return false, nil

	case "/scenario":
		if arg == "" {
			return false, fmt.Errorf("usage: /scenario <description>")
		}
		cb.startScenario(ctx, arg)
		return false, nil

	case "/say":
		word := arg
		if word == "" {
			cb.mu.Lock()
			word = cb.lastWord
			cb.mu.Unlock()
		}
		if word == "" {
			return false, fmt.Errorf("usage: /say <word>")
		}
		return false, cb.speaker.SpeakLocal(ctx, word)

	case "/speak":
		return false, cb.setSpeech(ctx, arg)

	case "/listen":
		cb.listen(ctx)
		return false, nil

	case "/help":
		cb.printHelp()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", cmd)
	}
}

func (cb *ChatBot) setOption(field *string, value, usage, label string) error {
	if value == "" {
		return errors.New(usage)
	}
	cb.mu.Lock()
	*field = value
	cb.mu.Unlock()
	cb.out.printf("%s set to: %s\n", label, value)
	return nil
}

func (cb *ChatBot) setSpeech(ctx context.Context, arg string) error {
	var on bool
	switch arg {
	case "on":
		on = true
	case "off":
		on = false
	case "":
		enabled, err := cb.prefs.SpeechOutputEnabled(ctx)
		if err != nil {
			return err
		}
		cb.out.printf("Speech output is %s\n", onOff(enabled))
		return nil
	default:
		return fmt.Errorf("usage: /speak on|off")
	}
	if err := cb.prefs.SetSpeechOutput(ctx, on); err != nil {
		return err
	}
	if !on {
		cb.speaker.Stop()
	}
	cb.out.printf("Speech output %s\n", onOff(on))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (cb *ChatBot) printHelp() {
	cb.out.println("Available commands:")
	cb.out.println("  /signin <email>         - Sign in")
	cb.out.println("  /signout                - Sign out")
	cb.out.println("  /whoami                 - Show the signed-in user")
	cb.out.printf("  /feature <name>         - Switch feature (%s)\n", strings.Join(config.Features, "|"))
	cb.out.println("  /new-session            - Start a new chat session")
	cb.out.println("  /level <level>          - Text generator level")
	cb.out.println("  /essay-type <type>      - Essay type (default argumentative)")
	cb.out.println("  /outline <topic>        - Outline an essay")
	cb.out.println("  /essay <topic>          - Write an essay")
	cb.out.println("  /style <style>          - Paraphrase style (default simpler)")
	cb.out.println("  /scenario <description> - Start a role-play")
	cb.out.println("  /say [word]             - Pronounce a word")
	cb.out.println("  /speak on|off           - Toggle spoken replies")
	cb.out.println("  /listen                 - Speak your next message")
	cb.out.println("  /quit, /exit            - Exit")
	cb.out.println("  /help                   - Show this help message")
}

// Run starts the chat bot
func (cb *ChatBot) Run() error {
	defer cb.Close()

	cb.out.println("=== Ada English Assistant ===")
	cb.out.printf("Session: %s\n", cb.SessionID())
	cb.out.printf("Feature: %s\n", cb.feature)
	if u := cb.auth.CurrentUser(); u != nil {
		cb.out.printf("Signed in as %s\n", u.Email)
	} else {
		cb.out.println("Sign in with /signin <email> to start.")
	}
	cb.out.println("Type /help for commands, /quit to exit")
	cb.out.println("Ada:", greeting)
	cb.out.println()

	scanner := bufio.NewScanner(cb.in)
	ctx := context.Background()

	for {
		cb.out.prompt("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.out.printf("Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if cb.auth.CurrentUser() == nil {
			cb.out.println("Please sign in first: /signin <email>")
			continue
		}
		cb.submit(ctx, input)
	}

	// let the last reply finish speaking
	cb.speaking.Wait()
	cb.saveChat()
	cb.out.println("Goodbye!")
	return scanner.Err()
}

// console serialises writes from the REPL, the notifier and auth callbacks.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, a...)
}

func (c *console) println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, a...)
}

func (c *console) prompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, p)
}

func (c *console) alert(message string) {
	c.println("[!]", message)
}

func (c *console) busy(on bool) {
	if on {
		c.println("Ada is thinking...")
	}
}

func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// parseVoices reads name=lang pairs.
func parseVoices(pairs []string) []speech.Voice {
	var voices []speech.Voice
	for _, p := range pairs {
		name, lang, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || name == "" {
			continue
		}
		voices = append(voices, speech.Voice{Name: name, Lang: lang})
	}
	return voices
}
