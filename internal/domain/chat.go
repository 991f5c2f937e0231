package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// reasoning oracle integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasoningRequest is a single call to the reasoning oracle. Every text field
// must already be masked; the oracle sits outside the trust boundary.
type ReasoningRequest struct {
	SystemInstructions string
	UserContent        MaskedText
	RetrievedContext   []Passage
	ReflectionFeedback []string
	// ExpectCritique asks the oracle for a structured critique instead of
	// free text.
	ExpectCritique bool
	Model          string
}

// Critique is the structured verdict returned for a candidate translation.
type Critique struct {
	Pass         bool     `json:"pass"`
	Score        float64  `json:"score"`
	Deficiencies []string `json:"deficiencies"`
}

// ReasoningResponse carries the oracle's text and, for critique calls, the
// decoded critique.
type ReasoningResponse struct {
	Text     string
	Critique *Critique
}
