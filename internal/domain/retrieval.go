package domain

// PassageTag is the corpus a retrieved passage came from.
type PassageTag string

const (
	TagMedical  PassageTag = "medical"
	TagCultural PassageTag = "cultural"
)

// Passage is a single retrieval oracle hit.
type Passage struct {
	ID        string
	Text      string
	Score     float64
	Tag       PassageTag
	IndexedAt int64
}

// TranslationCandidate is one output of the reflection loop.
type TranslationCandidate struct {
	Text            MaskedText
	ReflectionRound int
	Accepted        bool
	Score           float64
	Deficiencies    []string
}
