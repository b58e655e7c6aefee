package backend

import "AdaAssist/internal/session"

// Endpoint paths served by the assistant backend.
const (
	EndpointChat         = "/api/chat"
	EndpointSpeech       = "/api/elevenlabs_tts"
	EndpointGenerateText = "/api/generate_text"
	EndpointDictionary   = "/api/dictionary"
	EndpointCorrectText  = "/api/correct_text"
	EndpointGrammarAid   = "/api/grammar_aid"
	EndpointEssay        = "/api/essay"
	EndpointParaphrase   = "/api/paraphrase"
	EndpointScenarioChat = "/api/scenario-chat"
)

// ChatRequest represents the request body for /api/chat
type ChatRequest struct {
	Message string          `json:"message"`
	History []session.Entry `json:"history"`
}

// ChatResponse represents the response from /api/chat and /api/scenario-chat
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ScenarioRequest represents the request body for /api/scenario-chat.
// Message is empty when Start is set.
type ScenarioRequest struct {
	Scenario string          `json:"scenario"`
	History  []session.Entry `json:"history"`
	Message  string          `json:"message,omitempty"`
	Start    bool            `json:"start"`
}

// SpeechRequest represents the request body for /api/elevenlabs_tts, which answers with audio/mpeg
type SpeechRequest struct {
	Text string `json:"text"`
}

// ErrorResponse is the body of every non-2xx backend response
type ErrorResponse struct {
	Error string `json:"error"`
}
