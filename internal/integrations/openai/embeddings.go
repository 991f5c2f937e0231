package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector of text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: embedding model must not be empty")
	}
	raw, err := c.postJSON(ctx, "/embeddings", embeddingRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding request failed: %w", err)
	}
	var payload embeddingResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("openai: decode embedding response: %w", err)
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: no embedding in response")
	}
	return payload.Data[0].Embedding, nil
}

// EmbeddingFunc adapts Embed to the vector store's embedding signature.
func (c *Client) EmbeddingFunc(model string) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.Embed(ctx, model, text)
	}
}
