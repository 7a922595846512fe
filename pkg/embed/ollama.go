package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder calls Ollama's batch /api/embed endpoint.
type OllamaEmbedder struct {
	opts Options
}

// NewOllama creates an Ollama embedder. The default model is all-minilm.
func NewOllama(opts ...Option) *OllamaEmbedder {
	o := newOptions(opts)
	if o.BaseURL == "" {
		o.BaseURL = DefaultOllamaURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Model == "" {
		o.Model = "all-minilm"
	}
	return &OllamaEmbedder{opts: o}
}

type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResp struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Model() string { return ProviderOllama + "/" + e.opts.Model }

func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := single(ctx, text, e.embed)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return v, nil
}

func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := embedBatched(ctx, texts, e.opts.BatchSize, e.opts.Workers, e.embed)
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: e.opts.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ollamaEmbedResp
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &result) == nil && result.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	e.opts.Logger.Debug("ollama embed", "model", e.opts.Model, "inputs", len(texts))
	return result.Embeddings, nil
}
