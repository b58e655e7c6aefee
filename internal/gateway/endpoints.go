package gateway

import (
	"context"
	"fmt"

	"AdaAssist/internal/backend"
	"AdaAssist/internal/session"
)

// callJSON calls endpoint and decodes a JSON answer into out.
func (c *Client) callJSON(ctx context.Context, endpoint string, payload, out any, opts ...CallOption) error {
	resp, err := c.Call(ctx, endpoint, payload, opts...)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		c.logger.Warn("could not decode response", "endpoint", endpoint, "error", err)
		return err
	}
	return nil
}

func nonEmpty(endpoint, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%s: %w", endpoint, ErrEmptyResult)
	}
	return value, nil
}

// Chat sends message with recent history and returns Ada's reply.
func (c *Client) Chat(ctx context.Context, message string, history []session.Entry) (string, error) {
	if history == nil {
		history = []session.Entry{}
	}
	var out backend.ChatResponse
	if err := c.callJSON(ctx, backend.EndpointChat, backend.ChatRequest{Message: message, History: history}, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointChat, out.Reply)
}

// Speech returns MPEG audio for text from the premium voice service. The call
// is quiet: a failure here is recovered by the caller, not shown to the user.
func (c *Client) Speech(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.Call(ctx, backend.EndpointSpeech, backend.SpeechRequest{Text: text}, Quiet())
	if err != nil {
		return nil, err
	}
	if resp.Kind != KindAudio {
		return nil, fmt.Errorf("%w: want audio, got %s (%s)", ErrUnexpectedContent, resp.Kind, resp.ContentType)
	}
	if len(resp.Audio) == 0 {
		return nil, fmt.Errorf("%s: %w", backend.EndpointSpeech, ErrEmptyResult)
	}
	return resp.Audio, nil
}

// GenerateText returns a reading text about topic at the given proficiency level.
func (c *Client) GenerateText(ctx context.Context, level, topic string) (string, error) {
	var out backend.GenerateTextResponse
	if err := c.callJSON(ctx, backend.EndpointGenerateText, backend.GenerateTextRequest{Level: level, Topic: topic}, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointGenerateText, out.GeneratedText)
}

// Lookup returns the dictionary entry for word.
func (c *Client) Lookup(ctx context.Context, word string) (string, error) {
	var out backend.DictionaryResponse
	if err := c.callJSON(ctx, backend.EndpointDictionary, backend.DictionaryRequest{Word: word}, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointDictionary, out.Details)
}

// Correct proofreads text. Either field of the result may be empty.
func (c *Client) Correct(ctx context.Context, text string) (backend.CorrectTextResponse, error) {
	var out backend.CorrectTextResponse
	err := c.callJSON(ctx, backend.EndpointCorrectText, backend.CorrectTextRequest{Text: text}, &out)
	return out, err
}

// ExplainGrammar explains a grammar topic.
func (c *Client) ExplainGrammar(ctx context.Context, topic string) (string, error) {
	var out backend.GrammarAidResponse
	if err := c.callJSON(ctx, backend.EndpointGrammarAid, backend.GrammarAidRequest{Topic: topic}, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointGrammarAid, out.Explanation)
}

// Essay writes an essay, or only its outline, on topic.
func (c *Client) Essay(ctx context.Context, topic, essayType string, outlineOnly bool) (string, error) {
	if essayType == "" {
		essayType = "argumentative"
	}
	req := backend.EssayRequest{Topic: topic, EssayType: essayType, OutlineOnly: outlineOnly}
	var out backend.EssayResponse
	if err := c.callJSON(ctx, backend.EndpointEssay, req, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointEssay, out.EssayContent)
}

// Paraphrase rephrases text in the given style.
func (c *Client) Paraphrase(ctx context.Context, text, style string) (string, error) {
	if style == "" {
		style = "simpler"
	}
	var out backend.ParaphraseResponse
	if err := c.callJSON(ctx, backend.EndpointParaphrase, backend.ParaphraseRequest{Text: text, Style: style}, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointParaphrase, out.RephrasedText)
}

// ScenarioChat starts (start=true, empty message) or continues a role-play.
func (c *Client) ScenarioChat(ctx context.Context, scenario string, history []session.Entry, message string, start bool) (string, error) {
	if history == nil {
		history = []session.Entry{}
	}
	req := backend.ScenarioRequest{Scenario: scenario, History: history, Message: message, Start: start}
	var out backend.ChatResponse
	if err := c.callJSON(ctx, backend.EndpointScenarioChat, req, &out); err != nil {
		return "", err
	}
	return nonEmpty(backend.EndpointScenarioChat, out.Reply)
}
