package pii

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// cue is a regex whose first capture group is a person name.
type cue struct {
	re *regexp.Regexp
}

var englishCues = []cue{
	{re: regexp.MustCompile(`\b(?:[Mm]y name is|[Mm]y name's|[Tt]his is|I am|I'm|[Cc]all me)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)},
	{re: regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Miss|Shri|Smt)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)},
	{re: regexp.MustCompile(`\b[Nn]ame\s*:\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)},
}

var hindiCues = []cue{
	{re: regexp.MustCompile(`मेरा नाम\s+(\S+(?:\s+\S+){0,2})\s+है`)},
	{re: regexp.MustCompile(`नाम\s*[:：]\s*(\S+)`)},
	{re: regexp.MustCompile(`(?:डॉ\.?|डॉक्टर|श्रीमती|श्री)\s+(\S+)`)},
}

// words that follow a cue but are not names ("I am Feeling", "मेरा नाम क्या है").
var notNames = map[string]bool{
	"Feeling": true, "Not": true, "Sorry": true, "Fine": true, "Having": true,
	"Here": true, "Very": true, "Okay": true, "Also": true, "Still": true,
	"क्या": true,
}

// CueRecognizer is a local, rule-based person-name recognizer. It looks for
// self-introduction and title cues in English and Hindi. English cues always
// run because patients often write names in Latin script.
type CueRecognizer struct{}

// NewCueRecognizer returns the default recognizer.
func NewCueRecognizer() *CueRecognizer { return &CueRecognizer{} }

func (r *CueRecognizer) Recognize(text string, lang language.Tag) ([]Span, error) {
	cues := englishCues
	if base, _ := lang.Base(); base.String() == "hi" {
		cues = append(append([]cue(nil), hindiCues...), englishCues...)
	}

	var out []Span
	for _, c := range cues {
		for _, m := range c.re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			start, end := trimName(text, m[2], m[3])
			if start >= end {
				continue
			}
			if notNames[firstWord(text[start:end])] {
				continue
			}
			out = append(out, Span{Start: start, End: end, Kind: KindName})
		}
	}
	return out, nil
}

// trimName drops trailing punctuation from a captured name.
func trimName(text string, start, end int) (int, int) {
	trimmed := strings.TrimRightFunc(text[start:end], func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || r == '।'
	})
	return start, start + len(trimmed)
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i]
	}
	return s
}
