package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Utterance is one on-device speech request.
type Utterance struct {
	Text  string
	Lang  string
	Voice *Voice
	Pitch float64
	Rate  float64
}

// Synthesizer speaks text on the device.
type Synthesizer interface {
	Voices() []Voice
	Speak(ctx context.Context, u Utterance) error
}

// Player plays MPEG audio.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Premium produces MPEG audio for text. *gateway.Client satisfies it.
type Premium interface {
	Speech(ctx context.Context, text string) ([]byte, error)
}

// Toggle reports whether speech output is switched on. *Preferences satisfies it.
type Toggle interface {
	SpeechOutputEnabled(ctx context.Context) (bool, error)
}

// SpeakerOptions configures a Speaker. Synth and Logger are required; without
// Premium or Player every utterance is spoken on the device.
type SpeakerOptions struct {
	Premium Premium
	Player  Player
	Synth   Synthesizer
	Toggle  Toggle
	Logger  *slog.Logger
}

// Speaker speaks one utterance at a time. Starting a new utterance cancels the
// one in flight.
type Speaker struct {
	premium Premium
	player  Player
	synth   Synthesizer
	toggle  Toggle
	logger  *slog.Logger

	mu      sync.Mutex
	seq     uint64
	current context.CancelFunc
}

// NewSpeaker creates a Speaker.
func NewSpeaker(opts SpeakerOptions) (*Speaker, error) {
	if opts.Synth == nil {
		return nil, fmt.Errorf("synthesizer cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Speaker{
		premium: opts.Premium,
		player:  opts.Player,
		synth:   opts.Synth,
		toggle:  opts.Toggle,
		logger:  opts.Logger,
	}, nil
}

// Speak reads text aloud with the premium voice, falling back to the device
// voice if the premium path fails for any reason. It does nothing when speech
// output is off or text is blank.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" || !s.enabled(ctx) {
		return nil
	}

	ctx, done := s.begin(ctx)
	defer done()

	if s.premium != nil && s.player != nil {
		err := s.speakPremium(ctx, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("premium speech failed, falling back to device voice", "error", err)
	}

	return s.speakDevice(ctx, text)
}

// SpeakLocal reads text with the device voice only. Used for single words.
func (s *Speaker) SpeakLocal(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ctx, done := s.begin(ctx)
	defer done()
	return s.speakDevice(ctx, text)
}

// Stop cancels the utterance in flight, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current()
		s.current = nil
	}
}

func (s *Speaker) enabled(ctx context.Context) bool {
	if s.toggle == nil {
		return true
	}
	on, err := s.toggle.SpeechOutputEnabled(ctx)
	if err != nil {
		s.logger.Warn("could not read speech preference", "error", err)
	}
	return on
}

// begin takes the utterance slot, cancelling its previous holder.
func (s *Speaker) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.current != nil {
		s.current()
	}
	s.seq++
	id := s.seq
	s.current = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.seq == id {
			s.current = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

func (s *Speaker) speakPremium(ctx context.Context, text string) error {
	audio, err := s.premium.Speech(ctx, text)
	if err != nil {
		return fmt.Errorf("premium speech: %w", err)
	}
	if err := s.player.Play(ctx, audio); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

func (s *Speaker) speakDevice(ctx context.Context, text string) error {
	u := Utterance{Text: text, Lang: Locale, Pitch: 1, Rate: 1}
	if v, ok := SelectVoice(s.synth.Voices()); ok {
		u.Voice = &v
	} else {
		s.logger.Debug("no British voice found, speaking with default voice", "lang", Locale)
	}

	if err := s.synth.Speak(ctx, u); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("device speech: %w", err)
	}
	return nil
}
