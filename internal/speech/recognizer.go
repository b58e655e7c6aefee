package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrMicrophoneDenied means the user or the platform refused microphone access.
	ErrMicrophoneDenied = errors.New("microphone access denied")
	// ErrNoMatch means the utterance ended without a recognisable phrase.
	ErrNoMatch = errors.New("no speech recognized")
)

// Recognizer turns one spoken utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio io.Reader) (string, error)
}

// RecognitionConfig is sent to the recognition service before any audio.
type RecognitionConfig struct {
	Lang            string `json:"lang"`
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interim_results"`
	MaxAlternatives int    `json:"max_alternatives"`
	SampleRate      int    `json:"sample_rate"`
	Encoding        string `json:"encoding"`
}

// DefaultRecognitionConfig asks for a single final en-US result from 16 kHz
// signed 16-bit mono audio.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		Lang:            RecognitionLocale,
		Continuous:      false,
		InterimResults:  false,
		MaxAlternatives: 1,
		SampleRate:      16000,
		Encoding:        "LINEAR16",
	}
}

// Messages exchanged with the recognition service. Audio travels as binary
// frames between "start" and "stop".
type controlMessage struct {
	Type   string             `json:"type"`
	Config *RecognitionConfig `json:"config,omitempty"`
}

// Alternative is one candidate transcript.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type recognitionEvent struct {
	Type         string        `json:"type"` // result, nomatch, error, speechend
	Final        bool          `json:"final"`
	Alternatives []Alternative `json:"alternatives"`
	Error        string        `json:"error"`
}

// WebSocketRecognizer streams audio to a recognition service over a WebSocket.
type WebSocketRecognizer struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	config    RecognitionConfig
	chunkSize int
	logger    *slog.Logger
}

// NewWebSocketRecognizer creates a recognizer for the service at url (ws:// or wss://).
func NewWebSocketRecognizer(url string, logger *slog.Logger) (*WebSocketRecognizer, error) {
	if url == "" {
		return nil, fmt.Errorf("recognizer url cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &WebSocketRecognizer{
		url:       url,
		header:    http.Header{},
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		config:    DefaultRecognitionConfig(),
		chunkSize: 3200,
		logger:    logger,
	}, nil
}

// Recognize streams audio until the service returns a final result. Only the
// first alternative is used.
func (r *WebSocketRecognizer) Recognize(ctx context.Context, audio io.Reader) (string, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.url, r.header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to recognizer: %w", err)
	}
	defer conn.Close()

	// unblocks ReadJSON when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	cfg := r.config
	if err := conn.WriteJSON(controlMessage{Type: "start", Config: &cfg}); err != nil {
		return "", fmt.Errorf("failed to start recognition: %w", err)
	}
	r.logger.Info("speech recognition started", "lang", cfg.Lang)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamErr := make(chan error, 1)
	go func() {
		if err := r.stream(streamCtx, conn, audio); err != nil && streamCtx.Err() == nil {
			r.logger.Warn("audio stream ended with error", "error", err)
			streamErr <- err
			// the service never sees stop, so unblock ReadJSON here
			conn.Close()
		}
	}()

	for {
		var ev recognitionEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", ErrNoMatch
			}
			select {
			case serr := <-streamErr:
				return "", fmt.Errorf("audio stream failed: %w", serr)
			default:
			}
			return "", fmt.Errorf("failed to read recognition event: %w", err)
		}

		switch ev.Type {
		case "result":
			if !ev.Final {
				continue
			}
			if len(ev.Alternatives) == 0 || strings.TrimSpace(ev.Alternatives[0].Transcript) == "" {
				return "", ErrNoMatch
			}
			transcript := strings.TrimSpace(ev.Alternatives[0].Transcript)
			r.logger.Info("speech recognized", "chars", len(transcript), "confidence", ev.Alternatives[0].Confidence)
			return transcript, nil
		case "nomatch":
			return "", ErrNoMatch
		case "error":
			return "", recognitionError(ev.Error)
		case "speechend":
			r.logger.Debug("speech ended, processing")
		default:
			r.logger.Debug("ignoring recognition event", "type", ev.Type)
		}
	}
}

// stream is the only writer after the start message.
func (r *WebSocketRecognizer) stream(ctx context.Context, conn *websocket.Conn, audio io.Reader) error {
	buf := make([]byte, r.chunkSize)
	for {
		n, err := audio.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return fmt.Errorf("failed to send audio: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return conn.WriteJSON(controlMessage{Type: "stop"})
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
}

func recognitionError(code string) error {
	switch code {
	case "not-allowed", "service-not-allowed":
		return ErrMicrophoneDenied
	case "no-speech":
		return ErrNoMatch
	default:
		return fmt.Errorf("speech recognition error: %s", code)
	}
}
