package pii

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type failingRecognizer struct{}

func (failingRecognizer) Recognize(string, language.Tag) ([]Span, error) {
	return nil, ErrRecognizerUnavailable
}

func newTestMasker(r Recognizer) *Masker {
	m := New(r)
	m.newNonce = func() string { return "n0nce1" }
	return m
}

func TestMask_ExampleScenario(t *testing.T) {
	raw := "मेरा नाम Ravi है, मेरा फोन 9876543210 है, सिर फट रहा है"
	m := newTestMasker(NewCueRecognizer())

	res, err := m.Mask(raw, language.Hindi)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, "मेरा नाम [NAME_1_n0nce1] है, मेरा फोन [PHONE_1_n0nce1] है, सिर फट रहा है", string(res.Masked))
	require.NotContains(t, string(res.Masked), "Ravi")
	require.NotContains(t, string(res.Masked), "9876543210")
	require.Equal(t, 1, res.Detected[KindName])
	require.Equal(t, 1, res.Detected[KindPhone])

	restored, err := res.Tokens.Reveal(string(res.Masked))
	require.NoError(t, err)
	require.Equal(t, raw, restored)
}

func TestMask_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		lang language.Tag
	}{
		{name: "english intro", raw: "Hello doctor, my name is Anita Verma and my number is +91 98765 43210.", lang: language.English},
		{name: "title", raw: "Please ask Dr. Mehta to call 555-867-5309 tomorrow", lang: language.English},
		{name: "hindi name", raw: "मेरा नाम सुनीता है और मुझे बुखार है", lang: language.Hindi},
		{name: "devanagari digits", raw: "मेरा नंबर ९८७६५४३२१० है", lang: language.Hindi},
		{name: "repeated name", raw: "I am Ravi. Ravi has had a cough for two weeks.", lang: language.English},
		{name: "no pii", raw: "I have had a fever since Monday", lang: language.English},
		{name: "two phones", raw: "call 9876543210 or 8123456789", lang: language.English},
	}
	m := New(NewCueRecognizer())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := m.Mask(tc.raw, tc.lang)
			require.NoError(t, err)
			restored, err := res.Tokens.Reveal(string(res.Masked))
			require.NoError(t, err)
			require.Equal(t, tc.raw, restored)
		})
	}
}

func TestMask_RepeatedNameIsMaskedEverywhere(t *testing.T) {
	m := newTestMasker(NewCueRecognizer())
	res, err := m.Mask("I am Ravi. Ravi has had a cough.", language.English)
	require.NoError(t, err)
	require.NotContains(t, string(res.Masked), "Ravi")
	require.Equal(t, 2, res.Tokens.Len())
}

func TestMask_DegradesWhenRecognizerUnavailable(t *testing.T) {
	m := newTestMasker(failingRecognizer{})
	res, err := m.Mask("my name is Ravi, phone 9876543210", language.English)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.NotContains(t, string(res.Masked), "9876543210")
	require.Contains(t, string(res.Masked), "Ravi")
}

func TestMask_NilRecognizerIsDegraded(t *testing.T) {
	res, err := newTestMasker(nil).Mask("fever", language.English)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, "fever", string(res.Masked))
}

func TestMask_EmptyInput(t *testing.T) {
	_, err := New(nil).Mask("   ", language.English)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestMask_PlaceholdersAreUniquePerMessage(t *testing.T) {
	m := New(NewCueRecognizer())
	a, err := m.Mask("call 9876543210", language.English)
	require.NoError(t, err)
	b, err := m.Mask("call 9876543210", language.English)
	require.NoError(t, err)
	require.NotEqual(t, a.Tokens.Tokens(), b.Tokens.Tokens())
}

func TestTokenMap_RevealOnlyOnce(t *testing.T) {
	m := newTestMasker(NewCueRecognizer())
	res, err := m.Mask("call 9876543210", language.English)
	require.NoError(t, err)

	_, err = res.Tokens.Reveal(string(res.Masked))
	require.NoError(t, err)
	require.True(t, res.Tokens.Revealed())

	_, err = res.Tokens.Reveal(string(res.Masked))
	require.True(t, errors.Is(err, ErrAlreadyRevealed))
}

func TestTokenMap_RevealTranslatedText(t *testing.T) {
	m := newTestMasker(NewCueRecognizer())
	res, err := m.Mask("मेरा नाम Ravi है", language.Hindi)
	require.NoError(t, err)
	token := res.Tokens.Tokens()[0]

	out, err := res.Tokens.Reveal("My name is " + token + ".")
	require.NoError(t, err)
	require.Equal(t, "My name is Ravi.", out)
}

func TestCueRecognizer_SkipsNonNames(t *testing.T) {
	spans, err := NewCueRecognizer().Recognize("I am Feeling dizzy", language.English)
	require.NoError(t, err)
	require.Empty(t, spans)
}

func TestCueRecognizer_TrimsPunctuation(t *testing.T) {
	text := "नाम: सुनीता।"
	spans, err := NewCueRecognizer().Recognize(text, language.Hindi)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "सुनीता", text[spans[0].Start:spans[0].End])
	require.False(t, strings.HasSuffix(text[spans[0].Start:spans[0].End], "।"))
}

func TestMask_NamePartsMaskedOnTheirOwn(t *testing.T) {
	raw := "My name is Ravi Kumar. Ravi has had fever and Kumar is worried."
	res, err := newTestMasker(NewCueRecognizer()).Mask(raw, language.English)
	require.NoError(t, err)
	require.NotContains(t, string(res.Masked), "Ravi")
	require.NotContains(t, string(res.Masked), "Kumar")

	restored, err := res.Tokens.Reveal(string(res.Masked))
	require.NoError(t, err)
	require.Equal(t, raw, restored)
}

func TestMask_HindiThreeWordName(t *testing.T) {
	raw := "मेरा नाम रवि कुमार शर्मा है, रवि को बुखार है"
	res, err := newTestMasker(NewCueRecognizer()).Mask(raw, language.Hindi)
	require.NoError(t, err)
	for _, part := range []string{"रवि", "कुमार", "शर्मा"} {
		require.NotContains(t, string(res.Masked), part)
	}
	restored, err := res.Tokens.Reveal(string(res.Masked))
	require.NoError(t, err)
	require.Equal(t, raw, restored)
}

func TestMask_NameInsideLongerWordIsLeftAlone(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		lang language.Tag
		keep string
	}{
		{name: "latin", raw: "I am Ravi. Ravindra is my brother.", lang: language.English, keep: "Ravindra"},
		{name: "devanagari", raw: "मेरा नाम रवि है, रविवार से बुखार है", lang: language.Hindi, keep: "रविवार"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := newTestMasker(NewCueRecognizer()).Mask(tc.raw, tc.lang)
			require.NoError(t, err)
			require.Contains(t, string(res.Masked), tc.keep)
			require.Equal(t, 1, res.Detected[KindName])
		})
	}
}

func TestMask_MorePhoneFormats(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		phone string
	}{
		{name: "spaced devanagari", raw: "मेरा नंबर ९८७६५ ४३२१० है", phone: "९८७६५ ४३२१०"},
		{name: "std landline", raw: "my landline is 011-23456789", phone: "011-23456789"},
		{name: "std landline spaced", raw: "call 0522 2345678 please", phone: "0522 2345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := newTestMasker(NewCueRecognizer()).Mask(tc.raw, language.Hindi)
			require.NoError(t, err)
			require.NotContains(t, string(res.Masked), tc.phone)
			require.Equal(t, 1, res.Detected[KindPhone])

			restored, err := res.Tokens.Reveal(string(res.Masked))
			require.NoError(t, err)
			require.Equal(t, tc.raw, restored)
		})
	}
}
