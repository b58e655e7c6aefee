// Package speech speaks assistant replies and listens for one spoken utterance.
//
// Output prefers the premium voice service and falls back to an on-device
// synthesizer speaking British English. Input streams microphone audio to a
// recognition service and returns a single final transcript.
package speech

import (
	"strings"

	"golang.org/x/text/language"
)

// Locale requested for every on-device utterance.
const Locale = "en-GB"

// RecognitionLocale is the language recognised by Recognizer.
const RecognitionLocale = "en-US"

// Voice is an on-device synthesizer voice.
type Voice struct {
	Name string
	Lang string
}

// SelectVoice picks the preferred British voice: an en-GB voice named Google
// or UK English first, then any en-GB voice.
func SelectVoice(voices []Voice) (Voice, bool) {
	for _, v := range voices {
		if isBritish(v.Lang) && (strings.Contains(v.Name, "Google") || strings.Contains(v.Name, "UK English")) {
			return v, true
		}
	}
	for _, v := range voices {
		if isBritish(v.Lang) {
			return v, true
		}
	}
	return Voice{}, false
}

// isBritish reports whether lang names English as spoken in Great Britain.
// Tags are compared after normalisation, so en_GB and EN-gb match too.
func isBritish(lang string) bool {
	tag, err := language.Parse(lang)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	return base.String() == "en" && region.String() == "GB" && conf == language.Exact
}
