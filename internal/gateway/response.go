package gateway

import (
	"encoding/json"
	"fmt"
)

// Kind tags the payload held by a Response.
type Kind int

const (
	KindJSON Kind = iota
	KindAudio
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response is a successful API result, classified by declared content type.
// Exactly one of JSON, Audio or Text is set, according to Kind.
type Response struct {
	Kind        Kind
	ContentType string
	Status      int

	JSON  json.RawMessage
	Audio []byte
	Text  string
}

// Decode unmarshals a JSON response into v.
func (r *Response) Decode(v any) error {
	if r.Kind != KindJSON {
		return fmt.Errorf("%w: want json, got %s (%s)", ErrUnexpectedContent, r.Kind, r.ContentType)
	}
	if err := json.Unmarshal(r.JSON, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// object returns a JSON object response as a generic map.
func (r *Response) object() (map[string]any, error) {
	var out map[string]any
	if err := r.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
