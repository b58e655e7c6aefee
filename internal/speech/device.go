package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strconv"
)

// CommandPlayer plays MPEG audio by piping it to an external player such as
// "mpg123 -q -".
type CommandPlayer struct {
	Command string
	Args    []string
}

// Play blocks until playback ends or ctx is cancelled.
func (p CommandPlayer) Play(ctx context.Context, audio []byte) error {
	if p.Command == "" {
		return fmt.Errorf("no audio player configured")
	}
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// CommandSynthesizer speaks through an espeak-compatible command.
type CommandSynthesizer struct {
	Command   string
	Installed []Voice
}

// Voices returns the configured voices.
func (s CommandSynthesizer) Voices() []Voice { return s.Installed }

// Speak runs the synthesizer and blocks until it finishes or ctx is cancelled.
func (s CommandSynthesizer) Speak(ctx context.Context, u Utterance) error {
	if s.Command == "" {
		return fmt.Errorf("no speech synthesizer configured")
	}
	cmd := exec.CommandContext(ctx, s.Command, s.args(u)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.Command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// args maps an utterance to espeak flags. Pitch 1 and rate 1 are the
// synthesizer defaults of 50 and 175 words per minute.
func (s CommandSynthesizer) args(u Utterance) []string {
	voice := u.Lang
	if u.Voice != nil {
		voice = u.Voice.Name
	}
	pitch, rate := u.Pitch, u.Rate
	if pitch <= 0 {
		pitch = 1
	}
	if rate <= 0 {
		rate = 1
	}
	return []string{
		"-v", voice,
		"-p", strconv.Itoa(int(50 * pitch)),
		"-s", strconv.Itoa(int(175 * rate)),
		"--", u.Text,
	}
}

// CommandMicrophone records from an external capture command such as
// "arecord -q -f S16_LE -r 16000 -c 1 -d 8" that writes raw audio to stdout.
type CommandMicrophone struct {
	Command string
	Args    []string
}

// Open starts recording. Closing the returned reader stops the recorder.
func (m CommandMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	if m.Command == "" {
		return nil, ErrMicrophoneDenied
	}
	cmd := exec.CommandContext(ctx, m.Command, m.Args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrMicrophoneDenied
		}
		return nil, fmt.Errorf("failed to start %s: %w", m.Command, err)
	}
	return &recording{ReadCloser: out, cmd: cmd}, nil
}

type recording struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *recording) Close() error {
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.ReadCloser.Close()
	r.cmd.Wait()
	return nil
}
