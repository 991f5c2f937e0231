package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"medical-interpreter/internal/domain"
)

type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// critiqueWire mirrors domain.Critique with pointer fields so missing keys
// are detected.
type critiqueWire struct {
	Pass         *bool    `json:"pass"`
	Score        *float64 `json:"score"`
	Deficiencies []string `json:"deficiencies"`
}

func critiqueResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "critique",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"pass":{"type":"boolean"},
					"score":{"type":"number"},
					"deficiencies":{"type":"array","items":{"type":"string"}}
				},
				"required":["pass","score","deficiencies"]
			}`),
		},
	}
}

// Reason sends one reasoning request. Critique requests use a strict JSON
// schema and return the decoded verdict.
func (c *Client) Reason(ctx context.Context, req domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return domain.ReasoningResponse{}, errors.New("openai: model must not be empty")
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
	}
	if req.ExpectCritique {
		zero := 0.0
		body.Temperature = &zero
		body.ResponseFormat = critiqueResponseFormat()
	}

	raw, err := c.postJSON(ctx, "/chat/completions", body)
	if err != nil {
		return domain.ReasoningResponse{}, fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ReasoningResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return domain.ReasoningResponse{}, errors.New("openai: no choices in response")
	}
	text := payload.Choices[0].Message.Content
	if !req.ExpectCritique {
		return domain.ReasoningResponse{Text: text}, nil
	}

	crit, err := parseCritique(text)
	if err != nil {
		return domain.ReasoningResponse{}, err
	}
	return domain.ReasoningResponse{Text: text, Critique: &crit}, nil
}

func buildMessages(req domain.ReasoningRequest) []domain.ChatMessage {
	msgs := []domain.ChatMessage{{Role: "system", Content: strings.TrimSpace(req.SystemInstructions)}}
	if len(req.RetrievedContext) > 0 {
		var b strings.Builder
		b.WriteString("Reference passages. Use them for terminology and idioms only; they are not part of the message.\n")
		for _, p := range req.RetrievedContext {
			fmt.Fprintf(&b, "[%s] %s\n", p.Tag, strings.TrimSpace(p.Text))
		}
		msgs = append(msgs, domain.ChatMessage{Role: "system", Content: strings.TrimRight(b.String(), "\n")})
	}
	if len(req.ReflectionFeedback) > 0 {
		msgs = append(msgs, domain.ChatMessage{
			Role:    "system",
			Content: "A reviewer rejected the previous translation. Fix these issues:\n- " + strings.Join(req.ReflectionFeedback, "\n- "),
		})
	}
	return append(msgs, domain.ChatMessage{Role: "user", Content: string(req.UserContent)})
}

func parseCritique(raw string) (domain.Critique, error) {
	var out critiqueWire
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return domain.Critique{}, fmt.Errorf("openai: decode critique: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.Critique{}, errors.New("openai: decode critique: multiple JSON values")
		}
		return domain.Critique{}, fmt.Errorf("openai: decode critique trailing data: %w", err)
	}
	if out.Pass == nil || out.Score == nil {
		return domain.Critique{}, errors.New("openai: critique missing pass or score")
	}
	return domain.Critique{Pass: *out.Pass, Score: *out.Score, Deficiencies: out.Deficiencies}, nil
}
