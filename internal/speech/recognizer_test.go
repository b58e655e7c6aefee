package speech

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recognitionService accepts one session, collects the audio and answers
// with reply once the client sends stop.
type recognitionService struct {
	srv   *httptest.Server
	reply func() any

	mu     sync.Mutex
	config RecognitionConfig
	audio  bytes.Buffer
}

func newRecognitionService(t *testing.T, reply func() any) *recognitionService {
	t.Helper()
	rs := &recognitionService{reply: reply}
	upgrader := websocket.Upgrader{}

	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var start controlMessage
		if err := conn.ReadJSON(&start); err != nil || start.Config == nil {
			return
		}
		rs.mu.Lock()
		rs.config = *start.Config
		rs.mu.Unlock()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				rs.mu.Lock()
				rs.audio.Write(data)
				rs.mu.Unlock()
				continue
			}
			if strings.Contains(string(data), `"stop"`) {
				break
			}
		}

		conn.WriteJSON(recognitionEvent{Type: "speechend"})
		if rs.reply == nil {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		conn.WriteJSON(rs.reply())
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *recognitionService) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func recognize(t *testing.T, rs *recognitionService, audio []byte) (string, error) {
	t.Helper()
	r, err := NewWebSocketRecognizer(rs.url(), discardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Recognize(ctx, bytes.NewReader(audio))
}

func TestRecognizeFinalTranscript(t *testing.T) {
	rs := newRecognitionService(t, func() any {
		return recognitionEvent{Type: "result", Final: true, Alternatives: []Alternative{
			{Transcript: "  how do I use the present perfect ", Confidence: 0.93},
		}}
	})

	audio := bytes.Repeat([]byte{0x01, 0x02}, 5000)
	text, err := recognize(t, rs, audio)
	require.NoError(t, err)
	assert.Equal(t, "how do I use the present perfect", text)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Equal(t, audio, rs.audio.Bytes())
	assert.Equal(t, DefaultRecognitionConfig(), rs.config)
	assert.Equal(t, "en-US", rs.config.Lang)
	assert.False(t, rs.config.Continuous)
	assert.False(t, rs.config.InterimResults)
	assert.Equal(t, 1, rs.config.MaxAlternatives)
}

func TestRecognizeFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply func() any
		want  error
	}{
		{"no match event", func() any { return recognitionEvent{Type: "nomatch"} }, ErrNoMatch},
		{"empty final result", func() any { return recognitionEvent{Type: "result", Final: true} }, ErrNoMatch},
		{"microphone blocked", func() any { return recognitionEvent{Type: "error", Error: "not-allowed"} }, ErrMicrophoneDenied},
		{"service blocked", func() any { return recognitionEvent{Type: "error", Error: "service-not-allowed"} }, ErrMicrophoneDenied},
		{"closed without result", nil, ErrNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRecognitionService(t, tt.reply)
			_, err := recognize(t, rs, []byte("pcm"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecognizeOtherServiceError(t *testing.T) {
	rs := newRecognitionService(t, func() any { return recognitionEvent{Type: "error", Error: "network"} })
	_, err := recognize(t, rs, []byte("pcm"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, err.Error(), "network")
}

func TestRecognizeHonoursContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	r, err := NewWebSocketRecognizer("ws"+strings.TrimPrefix(srv.URL, "http"), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Recognize(ctx, bytes.NewReader([]byte("pcm")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// unpluggedMic yields one chunk of audio and then fails.
type unpluggedMic struct{ read bool }

var errUnplugged = errors.New("device unplugged")

func (m *unpluggedMic) Read(p []byte) (int, error) {
	if m.read {
		return 0, errUnplugged
	}
	m.read = true
	return copy(p, make([]byte, 320)), nil
}

func TestRecognizeReturnsWhenAudioFails(t *testing.T) {
	rs := newRecognitionService(t, func() any {
		return recognitionEvent{Type: "result", Final: true, Alternatives: []Alternative{{Transcript: "hello"}}}
	})
	r, err := NewWebSocketRecognizer(rs.url(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = r.Recognize(ctx, &unpluggedMic{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnplugged)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewWebSocketRecognizerValidates(t *testing.T) {
	_, err := NewWebSocketRecognizer("", discardLogger())
	assert.Error(t, err)
	_, err = NewWebSocketRecognizer("ws://localhost:1/", nil)
	assert.Error(t, err)
}
