package translate

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"medical-interpreter/internal/domain"
)

// DefaultRubric is used when no rubric is configured.
const DefaultRubric = "1) Clinical accuracy: symptoms, severity, duration, body parts, drugs and doses carry the same meaning.\n" +
	"2) Cultural fidelity: idioms are rendered by their meaning, not word for word.\n" +
	"3) Fluency: natural phrasing a patient or clinician would use.\n" +
	"4) Placeholders: every bracketed token such as [NAME_1_ab12cd] appears unchanged."

func languageName(tag language.Tag) string {
	return display.English.Languages().Name(tag)
}

func buildTranslationInstructions(in Input) string {
	src, tgt := in.Role.SourceLanguage(), in.Role.TargetLanguage()
	lines := []string{
		"Role:",
		"You are a professional medical interpreter between a doctor and a patient.",
		"",
		"Task:",
		fmt.Sprintf("Translate the %s message from %s into %s.", in.Role, languageName(src), languageName(tgt)),
		"",
		"Rules:",
		"1) Return only the translation, with no notes or quotes.",
		"2) Keep every bracketed placeholder token exactly as written.",
		"3) Translate idioms by meaning. Reference passages explain common idioms and terms.",
		"4) Do not add advice, diagnoses or information that is not in the message.",
	}
	if summary := summaryBlock(in.Summary); summary != "" {
		lines = append(lines, "", "Conversation so far:", summary)
	}
	if in.Lightweight {
		lines = append(lines, "", "This is a greeting or courtesy message. Keep it short and polite.")
	}
	return strings.Join(lines, "\n")
}

func buildCritiqueInstructions(in Input, rubric string) string {
	if strings.TrimSpace(rubric) == "" {
		rubric = DefaultRubric
	}
	return strings.Join([]string{
		"Role:",
		"You review medical translations for a clinic.",
		"",
		"Task:",
		fmt.Sprintf("Judge the %s candidate translation of the %s source against the rubric.",
			languageName(in.Role.TargetLanguage()), languageName(in.Role.SourceLanguage())),
		"",
		"Rubric:",
		rubric,
		"",
		"Output Contract:",
		"Return JSON only with keys pass (boolean), score (number from 0 to 1) and deficiencies (array of short strings).",
		"Set pass=true only if every rubric item is met. List one deficiency per failed item.",
	}, "\n")
}

func buildCritiqueContent(source, candidate domain.MaskedText) domain.MaskedText {
	return domain.MaskedText("Source:\n" + strings.TrimSpace(string(source)) +
		"\n\nCandidate:\n" + strings.TrimSpace(string(candidate)))
}

func summaryBlock(s domain.SessionSummary) string {
	var parts []string
	if len(s.KeySymptoms) > 0 {
		parts = append(parts, "Key symptoms: "+strings.Join(s.KeySymptoms, ", "))
	}
	if len(s.KeyDecisions) > 0 {
		parts = append(parts, "Key decisions: "+strings.Join(s.KeyDecisions, ", "))
	}
	return strings.Join(parts, "\n")
}
