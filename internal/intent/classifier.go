// Package intent labels masked messages as medical, small talk or unsafe.
//
// Precedence is unsafe > medical > small_talk. A message with no clear
// signal is labelled medical so the full safety and translation path runs.
package intent

import (
	"strings"
	"unicode"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/safety"
)

// Result is the classifier output.
type Result struct {
	Label      domain.Intent
	Confidence float64
	// Signals lists the lexicon entries or rule reasons that fired.
	Signals []string
}

// Term lists are matched against word starts, so "vomit" also hits
// "vomiting".
var medicalTerms = []string{
	"pain", "ache", "headache", "fever", "cough", "cold", "vomit", "nausea",
	"dizz", "breath", "chest", "blood", "pressure", "diabet", "sugar",
	"medicine", "tablet", "dose", "prescri", "symptom", "allerg", "injur",
	"swell", "rash", "infect", "stomach", "diarrh", "bleed", "pregnan",
	"heart", "sleep", "tired", "weak", "sore", "throat", "burn", "itch",
	"x-ray", "scan", "test", "report", "hospital", "surgery", "antibiotic",
	"दर्द", "बुखार", "खांसी", "खाँसी", "जुकाम", "उल्टी", "मतली", "चक्कर", "सांस",
	"साँस", "सीने", "छाती", "खून", "दवा", "दवाई", "गोली", "पेट", "सिर", "चोट",
	"सूजन", "कमजोरी", "कमज़ोरी", "थकान", "शुगर", "बीपी", "जलन", "दस्त",
	"नींद", "घबराहट", "खुजली", "गला", "गले", "इंजेक्शन", "टीका", "ऑपरेशन",
}

var smallTalkTerms = []string{
	"hello", "hi", "hey", "namaste", "good morning", "good afternoon",
	"good evening", "good night", "thanks", "thank you", "bye", "goodbye",
	"see you", "how are you", "nice to meet you", "ok", "okay",
	"नमस्ते", "नमस्कार", "धन्यवाद", "शुक्रिया", "आप कैसे हैं", "ठीक है",
	"अलविदा", "फिर मिलेंगे",
}

// Classifier is a lexicon classifier over masked text. It is pure and safe
// for concurrent use.
type Classifier struct {
	medical   []string
	smallTalk []string
	unsafe    func(string) (safety.Reason, bool)
}

// New returns a Classifier with the built-in English and Hindi lexicons.
func New() *Classifier {
	return &Classifier{
		medical:   medicalTerms,
		smallTalk: smallTalkTerms,
		unsafe:    safety.Match,
	}
}

// Classify labels text. It never fails.
func (c *Classifier) Classify(text domain.MaskedText) Result {
	if reason, hit := c.unsafe(string(text)); hit {
		return Result{Label: domain.IntentUnsafe, Confidence: 0.95, Signals: []string{string(reason)}}
	}

	norm := normalize(string(text))
	medical := matchTerms(norm, c.medical, true)
	if len(medical) > 0 {
		return Result{Label: domain.IntentMedical, Confidence: medicalConfidence(len(medical)), Signals: medical}
	}

	small := matchTerms(norm, c.smallTalk, false)
	if len(small) > 0 && len(strings.Fields(norm)) <= 12 {
		return Result{Label: domain.IntentSmallTalk, Confidence: 0.8, Signals: small}
	}

	return Result{Label: domain.IntentMedical, Confidence: 0.5, Signals: []string{"default"}}
}

func medicalConfidence(hits int) float64 {
	c := 0.6 + 0.1*float64(hits)
	if c > 0.95 {
		return 0.95
	}
	return c
}

// normalize lowercases text and collapses everything that is not a letter,
// mark or digit into single spaces, padded on both ends.
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r) && r != '-'
	})
	return " " + strings.Join(words, " ") + " "
}

// matchTerms returns the terms found in norm. Prefix terms match the start
// of a word; others must match whole words.
func matchTerms(norm string, terms []string, prefix bool) []string {
	var out []string
	for _, t := range terms {
		needle := " " + t
		if !prefix {
			needle += " "
		}
		if strings.Contains(norm, needle) {
			out = append(out, t)
		}
	}
	return out
}
