package chatbot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"AdaAssist/internal/config"
	"AdaAssist/internal/gateway"
	"AdaAssist/internal/session"
	"AdaAssist/internal/speech"
)

const chatFailure = "Sorry, I encountered an error. Please try again."

// submit sends plain input to the active feature.
func (cb *ChatBot) submit(ctx context.Context, input string) {
	cb.mu.Lock()
	feature := cb.feature
	cb.mu.Unlock()

	ctx, span := cb.tracer.Start(ctx, "feature_request", trace.WithAttributes(
		attribute.String("ada.feature", feature),
	))
	defer span.End()

	switch feature {
	case config.FeatureChat:
		cb.chatTurn(ctx, input)
	case config.FeatureGenerate:
		cb.generate(ctx, input)
	case config.FeatureDictionary:
		cb.lookup(ctx, input)
	case config.FeatureCorrector:
		cb.correct(ctx, input)
	case config.FeatureGrammar:
		cb.explainGrammar(ctx, input)
	case config.FeatureEssay:
		cb.essay(ctx, input, false)
	case config.FeatureParaphrase:
		cb.paraphrase(ctx, input)
	case config.FeatureScenario:
		cb.scenarioTurn(ctx, input)
	}
}

// chatTurn sends message with the preceding history and speaks the reply.
func (cb *ChatBot) chatTurn(ctx context.Context, message string) {
	cb.mu.Lock()
	t := cb.chat
	cb.mu.Unlock()

	history := t.Window(cb.config.ChatHistory)
	t.Append(session.SenderUser, message)

	reply, err := cb.api.Chat(ctx, message, history)
	if err != nil {
		t.Append(session.SenderBot, chatFailure)
		cb.failed(err, "Ada: "+chatFailure)
		cb.saveChat()
		return
	}

	t.Append(session.SenderBot, reply)
	cb.out.printf("Ada: %s\n\n", reply)
	cb.saveChat()
	cb.speak(reply)
}

// failed reports a feature failure. A rejected token has already signed the
// user out, so point them back to /signin.
func (cb *ChatBot) failed(err error, notice string) {
	cb.logger.Error("feature request failed", "error", err)
	cb.out.println(notice)
	if gateway.IsKind(err, gateway.AuthRejected) {
		cb.out.println("Your session has ended. Sign in again with /signin <email>.")
	}
}

// speak reads text aloud in the background. A later utterance replaces it.
func (cb *ChatBot) speak(text string) {
	cb.speaking.Add(1)
	go func() {
		defer cb.speaking.Done()
		err := cb.speaker.Speak(context.Background(), text)
		if err != nil && !errors.Is(err, context.Canceled) {
			cb.logger.Warn("speech output failed", "error", err)
		}
	}()
}

func (cb *ChatBot) generate(ctx context.Context, topic string) {
	cb.mu.Lock()
	level := cb.level
	cb.mu.Unlock()

	text, err := cb.api.GenerateText(ctx, level, topic)
	if err != nil {
		cb.failed(err, "Error generating text.")
		return
	}
	cb.out.printf("%s\n\n", text)
}

func (cb *ChatBot) lookup(ctx context.Context, word string) {
	details, err := cb.api.Lookup(ctx, word)
	if err != nil {
		cb.failed(err, "Error looking up word.")
		return
	}
	cb.mu.Lock()
	cb.lastWord = word
	cb.mu.Unlock()
	cb.out.printf("%s\n\n", RenderDictionary(word, details))
}

var boldMarkers = regexp.MustCompile(`\*\*(.*?)\*\*`)

// RenderDictionary formats a dictionary answer for word. Answers the backend
// marks as unknown or nonsensical collapse to a single notice.
func RenderDictionary(word, details string) string {
	lower := strings.ToLower(details)
	if strings.Contains(lower, "not found") || strings.Contains(lower, "nonsensical") {
		return `Could not find dictionary information for "` + word + `".`
	}
	body := boldMarkers.ReplaceAllString(details, "$1")
	return capitalize(word) + "  (/say to hear it)\n" + strings.TrimSpace(body)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func (cb *ChatBot) correct(ctx context.Context, text string) {
	out, err := cb.api.Correct(ctx, text)
	if err != nil {
		cb.failed(err, "Error correcting text.")
		return
	}
	corrected := out.CorrectedText
	if corrected == "" {
		corrected = "No correction provided."
	}
	feedback := out.Feedback
	if feedback == "" {
		feedback = "No feedback provided."
	}
	cb.out.printf("Corrected: %s\nFeedback: %s\n\n", corrected, feedback)
}

func (cb *ChatBot) explainGrammar(ctx context.Context, topic string) {
	explanation, err := cb.api.ExplainGrammar(ctx, topic)
	if err != nil {
		cb.failed(err, "Error explaining grammar topic.")
		return
	}
	cb.out.printf("%s\n\n", explanation)
}

func (cb *ChatBot) essay(ctx context.Context, topic string, outlineOnly bool) {
	cb.mu.Lock()
	essayType := cb.essayType
	cb.mu.Unlock()

	content, err := cb.api.Essay(ctx, topic, essayType, outlineOnly)
	if err != nil {
		if outlineOnly {
			cb.failed(err, "Error generating outline.")
		} else {
			cb.failed(err, "Error generating essay.")
		}
		return
	}
	cb.out.printf("%s\n\n", content)
}

func (cb *ChatBot) paraphrase(ctx context.Context, text string) {
	cb.mu.Lock()
	style := cb.style
	cb.mu.Unlock()

	rephrased, err := cb.api.Paraphrase(ctx, text, style)
	if err != nil {
		cb.failed(err, "Error paraphrasing text.")
		return
	}
	cb.out.printf("%s\n\n", rephrased)
}

// startScenario opens a new role-play and prints Ada's opening line.
func (cb *ChatBot) startScenario(ctx context.Context, description string) {
	t := cb.newTranscript(config.FeatureScenario)
	cb.mu.Lock()
	cb.feature = config.FeatureScenario
	cb.situation = description
	cb.scenario = t
	cb.mu.Unlock()

	reply, err := cb.api.ScenarioChat(ctx, description, []session.Entry{}, "", true)
	if err != nil {
		cb.failed(err, "Ada: "+chatFailure)
		return
	}
	t.Append(session.SenderBot, reply)
	cb.out.printf("Ada: %s\n\n", reply)
	cb.speak(reply)
}

// scenarioTurn continues the role-play. Without one, input describes a new scenario.
func (cb *ChatBot) scenarioTurn(ctx context.Context, message string) {
	cb.mu.Lock()
	t, description := cb.scenario, cb.situation
	cb.mu.Unlock()

	if t == nil {
		cb.startScenario(ctx, message)
		return
	}

	history := t.Window(cb.config.ScenarioWindow)
	t.Append(session.SenderUser, message)

	reply, err := cb.api.ScenarioChat(ctx, description, history, message, false)
	if err != nil {
		t.Append(session.SenderBot, chatFailure)
		cb.failed(err, "Ada: "+chatFailure)
		return
	}
	t.Append(session.SenderBot, reply)
	cb.out.printf("Ada: %s\n\n", reply)
	cb.speak(reply)
}

// listen records one utterance and submits it to the active feature.
func (cb *ChatBot) listen(ctx context.Context) {
	if cb.recognizer == nil {
		cb.out.println("Speech input is not configured. Set ADA_RECOGNIZER_URL to enable /listen.")
		return
	}
	cb.speaker.Stop()

	stream, err := cb.mic.Open(ctx)
	if err != nil {
		cb.reportRecognition(err)
		return
	}
	defer stream.Close()

	cb.out.println("Listening...")
	text, err := cb.recognizer.Recognize(ctx, stream)
	if err != nil {
		cb.reportRecognition(err)
		return
	}
	cb.out.printf("You said: %s\n", text)
	cb.submit(ctx, text)
}

func (cb *ChatBot) reportRecognition(err error) {
	cb.logger.Warn("speech recognition failed", "error", err)
	switch {
	case errors.Is(err, speech.ErrMicrophoneDenied):
		cb.out.alert("Microphone access denied. Please allow microphone access in your system settings.")
	case errors.Is(err, speech.ErrNoMatch):
		cb.out.println("No speech recognized.")
	default:
		cb.out.alert("Speech recognition error: " + err.Error())
	}
}
