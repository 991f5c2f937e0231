// Package pii detects and redacts identifying spans in conversation text.
//
// Detection runs in two stages:
//  1. Pattern pass for structured identifiers (phone numbers).
//  2. Entity recognizer pass for person names.
//
// If the recognizer is unavailable the masker still returns the pattern-only
// result and marks it degraded. Masking never blocks a turn.
//
// Every detected span is replaced by a placeholder token that is unique to
// the message. The TokenMap restores the original text exactly, and only once.
package pii

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"medical-interpreter/internal/domain"
)

// Kind classifies a detected span.
type Kind string

const (
	KindName  Kind = "NAME"
	KindPhone Kind = "PHONE"
)

// Span is a byte range in the input text.
type Span struct {
	Start int
	End   int
	Kind  Kind
}

// ErrEmptyInput is returned for empty or whitespace-only text.
var ErrEmptyInput = errors.New("pii: input text is empty")

// ErrRecognizerUnavailable is returned by a Recognizer that cannot serve.
var ErrRecognizerUnavailable = errors.New("pii: entity recognizer unavailable")

// ErrAlreadyRevealed is returned when a TokenMap is used a second time.
var ErrAlreadyRevealed = errors.New("pii: token map already revealed")

// Recognizer finds person names in text.
type Recognizer interface {
	Recognize(text string, lang language.Tag) ([]Span, error)
}

// pattern pairs a compiled regex with the kind it detects.
type pattern struct {
	re   *regexp.Regexp
	kind Kind
}

var phonePatterns = []pattern{
	// Indian mobile numbers, optionally prefixed with +91 or 0.
	{re: regexp.MustCompile(`(?:\+91[\-\s]?|\b0|\b)[6-9]\d{4}[\-\s]?\d{5}\b`), kind: KindPhone},
	// Generic international and NANP formats.
	{re: regexp.MustCompile(`(?:\+\d{1,3}[\-.\s]?)?\(?\b\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4}\b`), kind: KindPhone},
	// Indian landlines with an STD code.
	{re: regexp.MustCompile(`\b0\d{2,4}[\-\s]?\d{6,8}\b`), kind: KindPhone},
	// Numbers typed with Devanagari digits, optionally split in two.
	{re: regexp.MustCompile(`[०-९]{5}\s?[०-९]{5}`), kind: KindPhone},
}

// Result is the output of one Mask call.
type Result struct {
	Masked   domain.MaskedText
	Tokens   *TokenMap
	Degraded bool
	Detected map[Kind]int
}

// Masker holds the pattern table and the entity recognizer.
type Masker struct {
	patterns   []pattern
	recognizer Recognizer
	newNonce   func() string
}

// New creates a Masker. A nil recognizer yields degraded, pattern-only
// masking.
func New(recognizer Recognizer) *Masker {
	return &Masker{
		patterns:   phonePatterns,
		recognizer: recognizer,
		newNonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
		},
	}
}

// Mask redacts every detected span in raw. The only error is ErrEmptyInput.
func (m *Masker) Mask(raw string, lang language.Tag) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		return Result{}, ErrEmptyInput
	}

	var spans []Span
	for _, p := range m.patterns {
		for _, loc := range p.re.FindAllStringIndex(raw, -1) {
			spans = append(spans, Span{Start: loc[0], End: loc[1], Kind: p.kind})
		}
	}

	degraded := false
	if m.recognizer == nil {
		degraded = true
	} else {
		names, err := m.recognizer.Recognize(raw, lang)
		if err != nil {
			degraded = true
		} else {
			spans = append(spans, expandOccurrences(raw, names)...)
		}
	}

	spans = resolveOverlaps(spans)

	tokens := &TokenMap{originals: make(map[string]string, len(spans))}
	nonce := m.newNonce()
	counts := make(map[Kind]int)
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		counts[s.Kind]++
		token := fmt.Sprintf("[%s_%d_%s]", s.Kind, counts[s.Kind], nonce)
		tokens.add(token, raw[s.Start:s.End])
		b.WriteString(raw[prev:s.Start])
		b.WriteString(token)
		prev = s.End
	}
	b.WriteString(raw[prev:])

	return Result{
		Masked:   domain.MaskedText(b.String()),
		Tokens:   tokens,
		Degraded: degraded,
		Detected: counts,
	}, nil
}

// expandOccurrences adds a span for every standalone repeat of each
// recognized entity so the masked text never contains a detected value
// verbatim. The parts of a multi-word name are masked on their own too.
func expandOccurrences(raw string, names []Span) []Span {
	out := make([]Span, 0, len(names))
	seen := make(map[string]bool)
	add := func(value string, kind Kind) {
		if seen[value] {
			return
		}
		seen[value] = true
		for from := 0; from < len(raw); {
			i := strings.Index(raw[from:], value)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(value)
			if standalone(raw, start, end) {
				out = append(out, Span{Start: start, End: end, Kind: kind})
			}
			from = end
		}
	}
	for _, n := range names {
		if n.Start < 0 || n.End > len(raw) || n.Start >= n.End {
			continue
		}
		out = append(out, n)
		value := raw[n.Start:n.End]
		add(value, n.Kind)
		if parts := strings.Fields(value); len(parts) > 1 {
			for _, p := range parts {
				if namePart(p) {
					add(p, n.Kind)
				}
			}
		}
	}
	return out
}

// standalone reports whether raw[start:end] is not part of a longer word.
func standalone(raw string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(raw[:start])
		if wordRune(r) {
			return false
		}
	}
	if end < len(raw) {
		r, _ := utf8.DecodeRuneInString(raw[end:])
		if wordRune(r) {
			return false
		}
	}
	return true
}

func wordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
}

// namePart keeps capitalised Latin and Devanagari tokens of at least two
// runes.
func namePart(p string) bool {
	if utf8.RuneCountInString(p) < 2 || notNames[p] {
		return false
	}
	r, _ := utf8.DecodeRuneInString(p)
	return unicode.IsUpper(r) || unicode.Is(unicode.Devanagari, r)
}

// resolveOverlaps keeps the earliest span, preferring the longer one when two
// start together, and drops anything overlapping a kept span.
func resolveOverlaps(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	kept := spans[:0]
	end := -1
	for _, s := range spans {
		if s.Start < end {
			continue
		}
		kept = append(kept, s)
		end = s.End
	}
	return kept
}

// TokenMap maps placeholder tokens back to the original spans. It lives for a
// single pipeline pass and is never persisted.
type TokenMap struct {
	originals map[string]string
	order     []string
	revealed  bool
}

func (t *TokenMap) add(token, original string) {
	t.originals[token] = original
	t.order = append(t.order, token)
}

// Len returns the number of placeholders issued.
func (t *TokenMap) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Tokens returns the issued placeholders in order of appearance.
func (t *TokenMap) Tokens() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// Reveal replaces every placeholder in text with its original span and
// discards the map. A second call returns ErrAlreadyRevealed.
func (t *TokenMap) Reveal(text string) (string, error) {
	if t == nil {
		return text, nil
	}
	if t.revealed {
		return "", ErrAlreadyRevealed
	}
	t.revealed = true
	if len(t.order) == 0 {
		return text, nil
	}
	pairs := make([]string, 0, 2*len(t.order))
	for _, token := range t.order {
		pairs = append(pairs, token, t.originals[token])
	}
	out := strings.NewReplacer(pairs...).Replace(text)
	t.originals = nil
	t.order = nil
	return out, nil
}

// Revealed reports whether Reveal has been called.
func (t *TokenMap) Revealed() bool {
	return t != nil && t.revealed
}
