package memory

import (
	"regexp"
	"slices"
	"strings"

	"medical-interpreter/internal/domain"
)

const (
	maxSymptoms    = 10
	maxDecisions   = 10
	maxDecisionLen = 160
)

type symptom struct {
	name string
	re   *regexp.Regexp
}

var symptoms = []symptom{
	{"headache", regexp.MustCompile(`(?i)headache|head\s+is\s+(?:pounding|bursting|splitting)|सिर\s*(?:में\s*)?दर्द|सिर\s+फट`)},
	{"fever", regexp.MustCompile(`(?i)fever|temperature|बुखार|ताप`)},
	{"cough", regexp.MustCompile(`(?i)cough|खा[ंँ]सी`)},
	{"vomiting", regexp.MustCompile(`(?i)vomit|throwing\s+up|उल्टी`)},
	{"nausea", regexp.MustCompile(`(?i)nause|मतली|जी\s+मिचला`)},
	{"dizziness", regexp.MustCompile(`(?i)dizz|चक्कर`)},
	{"shortness of breath", regexp.MustCompile(`(?i)breath|सा[ंँ]स`)},
	{"chest pain", regexp.MustCompile(`(?i)chest\s+pain|सीने\s+में\s+दर्द|छाती\s+में\s+दर्द`)},
	{"stomach pain", regexp.MustCompile(`(?i)stomach\s*(?:ache|pain)|abdominal\s+pain|पेट\s*(?:में\s*)?दर्द`)},
	{"diarrhea", regexp.MustCompile(`(?i)diarrh|loose\s+motion|दस्त`)},
	{"sore throat", regexp.MustCompile(`(?i)sore\s+throat|गले\s+में\s+(?:खराश|दर्द)`)},
	{"rash", regexp.MustCompile(`(?i)\brash|चकत्त`)},
	{"swelling", regexp.MustCompile(`(?i)swell|सूजन`)},
	{"weakness", regexp.MustCompile(`(?i)weakness|कमज़?ोरी`)},
	{"fatigue", regexp.MustCompile(`(?i)fatigue|tired|थकान`)},
	{"bleeding", regexp.MustCompile(`(?i)bleed|खून\s+(?:आ|बह)`)},
	{"burning sensation", regexp.MustCompile(`(?i)burning|जलन`)},
}

var decisionCue = regexp.MustCompile(`(?i)\b(?:prescrib\w*|take|start|stop|continue|avoid|test|x-ray|scan|ultrasound|follow[\s-]up|come\s+back|admit\w*|refer\w*|dose|tablet|injection)\b`)

var sentenceSplit = regexp.MustCompile(`[.!?।]+\s*`)

// UpdateSummary folds one committed turn into the summary. It reads only
// masked text and never modifies prev.
func UpdateSummary(prev domain.SessionSummary, msg domain.Message) domain.SessionSummary {
	next := domain.SessionSummary{
		SessionID:       msg.SessionID,
		KeySymptoms:     slices.Clone(prev.KeySymptoms),
		KeyDecisions:    slices.Clone(prev.KeyDecisions),
		LastUpdatedTurn: msg.TurnIndex,
	}
	if next.SessionID == "" {
		next.SessionID = prev.SessionID
	}

	texts := []string{string(msg.MaskedText), string(msg.TranslatedMasked)}
	for _, s := range symptoms {
		for _, t := range texts {
			if s.re.MatchString(t) {
				next.KeySymptoms = appendCapped(next.KeySymptoms, s.name, maxSymptoms)
				break
			}
		}
	}

	if msg.SenderRole == domain.RoleDoctor {
		for _, sentence := range sentenceSplit.Split(string(msg.MaskedText), -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || !decisionCue.MatchString(sentence) {
				continue
			}
			next.KeyDecisions = appendCapped(next.KeyDecisions, truncate(sentence, maxDecisionLen), maxDecisions)
		}
	}
	return next
}

// appendCapped adds v unless present and drops the oldest entries past cap.
func appendCapped(list []string, v string, limit int) []string {
	if slices.Contains(list, v) {
		return list
	}
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
