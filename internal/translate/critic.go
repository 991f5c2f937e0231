package translate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"medical-interpreter/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\[(?:NAME|PHONE)_\d+_[0-9a-f]+\]`)

// RuleCheck is the local verdict on a candidate.
type RuleCheck struct {
	Pass         bool
	Score        float64
	Deficiencies []string
}

// CheckRules verifies a candidate without calling the oracle: it must be
// non-empty, keep every source placeholder (and invent none), and be written
// in the target script.
func CheckRules(candidate domain.MaskedText, placeholders []string, target language.Tag) RuleCheck {
	text := strings.TrimSpace(string(candidate))
	if text == "" {
		return RuleCheck{Score: 0, Deficiencies: []string{"translation is empty"}}
	}

	var def []string
	for _, p := range placeholders {
		if !strings.Contains(text, p) {
			def = append(def, fmt.Sprintf("placeholder %s is missing", p))
		}
	}
	known := make(map[string]bool, len(placeholders))
	for _, p := range placeholders {
		known[p] = true
	}
	for _, tok := range placeholderRe.FindAllString(text, -1) {
		if !known[tok] {
			def = append(def, fmt.Sprintf("placeholder %s does not appear in the source", tok))
		}
	}
	if msg := scriptDeficiency(placeholderRe.ReplaceAllString(text, " "), target); msg != "" {
		def = append(def, msg)
	}

	score := 1 - 0.25*float64(len(def))
	if score < 0 {
		score = 0
	}
	return RuleCheck{Pass: len(def) == 0, Score: score, Deficiencies: def}
}

// scriptDeficiency checks the share of Devanagari letters. Latin drug names
// inside Hindi text are allowed.
func scriptDeficiency(text string, target language.Tag) string {
	var letters, deva int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Devanagari, r) {
			deva++
		}
	}
	if letters == 0 {
		return ""
	}
	ratio := float64(deva) / float64(letters)
	base, _ := target.Base()
	switch base.String() {
	case "hi":
		if ratio < 0.4 {
			return "translation is not written in Devanagari script"
		}
	case "en":
		if ratio > 0.2 {
			return "translation is not written in English"
		}
	}
	return ""
}
