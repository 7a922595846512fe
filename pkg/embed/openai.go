package embed

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sashabaranov/go-openai"
)

var ErrMissingAPIKey = errors.New("openai embedder requires an API key")

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	opts   Options
	client *openai.Client
}

// NewOpenAI creates an OpenAI-compatible embedder. The default model is
// text-embedding-3-small; WithBaseURL points it at a compatible server.
func NewOpenAI(opts ...Option) (*OpenAIEmbedder, error) {
	o := newOptions(opts)
	if o.APIKey == "" {
		return nil, fmt.Errorf("embed: %w", ErrMissingAPIKey)
	}
	if o.Model == "" {
		o.Model = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	cfg.HTTPClient = o.HTTPClient
	return &OpenAIEmbedder{opts: o, client: openai.NewClientWithConfig(cfg)}, nil
}

func (e *OpenAIEmbedder) Model() string { return ProviderOpenAI + "/" + e.opts.Model }

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := single(ctx, text, e.embed)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return v, nil
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := embedBatched(ctx, texts, e.opts.BatchSize, e.opts.Workers, e.embed)
	if err != nil {
		return nil, fmt.Errorf("openai embed batch: %w", err)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.opts.Model),
	})
	if err != nil {
		return nil, err
	}
	// The API does not promise response order; Index does.
	data := slices.Clone(rsp.Data)
	slices.SortFunc(data, func(a, b openai.Embedding) int { return a.Index - b.Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}
