package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/joebot/toolbot/internal/errors"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultEmbeddingModel is used when none is configured.
const DefaultEmbeddingModel = "text-embedding-004"

// GoogleEmbedder calls the embedContent endpoint of the generation API.
type GoogleEmbedder struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

// NewGoogleEmbedder creates an embedder. An empty apiBase uses GeminiBaseURL.
func NewGoogleEmbedder(apiKey, apiBase, model string, client *http.Client) *GoogleEmbedder {
	if apiBase == "" {
		apiBase = GeminiBaseURL
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GoogleEmbedder{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  client,
	}
}

type embedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the embedding of text.
func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "gemini embedContent"

	payload, err := json.Marshal(embedRequest{
		Model:   "models/" + e.model,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent?key=%s", e.apiBase, e.model, url.QueryEscape(e.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(op, ctx.Err())
		}
		return nil, errors.Transport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Vendor(op, resp.StatusCode, string(body))
	}

	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Protocol(op, "parse response: %w", err)
	}
	if len(out.Embedding.Values) == 0 {
		return nil, errors.Protocol(op, "response has no embedding values")
	}
	return out.Embedding.Values, nil
}
