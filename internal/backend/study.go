package backend

// GenerateTextRequest represents the request body for /api/generate_text
type GenerateTextRequest struct {
	Level string `json:"level"`
	Topic string `json:"topic"`
}

// GenerateTextResponse represents the response from /api/generate_text
type GenerateTextResponse struct {
	GeneratedText string `json:"generated_text"`
}

// DictionaryRequest represents the request body for /api/dictionary
type DictionaryRequest struct {
	Word string `json:"word"`
}

// DictionaryResponse represents the response from /api/dictionary
type DictionaryResponse struct {
	Details string `json:"details"`
}

// CorrectTextRequest represents the request body for /api/correct_text
type CorrectTextRequest struct {
	Text string `json:"text"`
}

// CorrectTextResponse represents the response from /api/correct_text
type CorrectTextResponse struct {
	CorrectedText string `json:"corrected_text"`
	Feedback      string `json:"feedback"`
}

// GrammarAidRequest represents the request body for /api/grammar_aid
type GrammarAidRequest struct {
	Topic string `json:"topic"`
}

// GrammarAidResponse represents the response from /api/grammar_aid
type GrammarAidResponse struct {
	Explanation string `json:"explanation"`
}

// EssayRequest represents the request body for /api/essay
type EssayRequest struct {
	Topic       string `json:"topic"`
	EssayType   string `json:"essay_type"`
	OutlineOnly bool   `json:"outline_only"`
}

// EssayResponse represents the response from /api/essay
type EssayResponse struct {
	EssayContent string `json:"essay_content"`
}

// ParaphraseRequest represents the request body for /api/paraphrase
type ParaphraseRequest struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// ParaphraseResponse represents the response from /api/paraphrase
type ParaphraseResponse struct {
	RephrasedText string `json:"rephrased_text"`
}
