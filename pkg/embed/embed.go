// Package embed turns text into vectors. Providers are selected by name and
// share batching, ordering and count checks.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/member-qa/pkg/fn"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	// EmbedText embeds a single text.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedTexts embeds texts, returning one vector per input in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding space, e.g. "ollama/all-minilm".
	// Vectors from different models must never be compared.
	Model() string
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

var (
	ErrUnknownProvider = errors.New("unknown embedding provider")
	ErrEmptyEmbedding  = errors.New("provider returned an empty embedding")
	ErrCountMismatch   = errors.New("provider returned wrong number of embeddings")
)

// Options configures a provider.
type Options struct {
	BaseURL    string
	Model      string
	APIKey     string
	BatchSize  int
	Workers    int
	Dimension  int // hash provider only
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

func WithBaseURL(u string) Option          { return func(o *Options) { o.BaseURL = u } }
func WithModel(m string) Option            { return func(o *Options) { o.Model = m } }
func WithAPIKey(k string) Option           { return func(o *Options) { o.APIKey = k } }
func WithBatchSize(n int) Option           { return func(o *Options) { o.BatchSize = n } }
func WithWorkers(n int) Option             { return func(o *Options) { o.Workers = n } }
func WithDimension(n int) Option           { return func(o *Options) { o.Dimension = n } }
func WithTimeout(d time.Duration) Option   { return func(o *Options) { o.Timeout = d } }
func WithHTTPClient(c *http.Client) Option { return func(o *Options) { o.HTTPClient = c } }
func WithLogger(l *slog.Logger) Option     { return func(o *Options) { o.Logger = l } }

func newOptions(opts []Option) Options {
	o := Options{
		BatchSize: 64,
		Workers:   2,
		Dimension: 256,
		Timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout:   o.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return o
}

// New builds the embedder for provider.
func New(provider string, opts ...Option) (Embedder, error) {
	switch provider {
	case ProviderOllama, "":
		return NewOllama(opts...), nil
	case ProviderOpenAI:
		return NewOpenAI(opts...)
	case ProviderHash:
		return NewHash(opts...), nil
	default:
		return nil, fmt.Errorf("embed: %w: %q", ErrUnknownProvider, provider)
	}
}

// batchFunc embeds one chunk of texts.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedBatched splits texts into chunks, embeds them with bounded
// concurrency and reassembles the vectors in input order.
func embedBatched(ctx context.Context, texts []string, size, workers int, f batchFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	chunks := fn.Chunk(texts, size)
	results := fn.ParMapResult(chunks, workers, func(chunk []string) fn.Result[[][]float32] {
		vecs, err := f(ctx, chunk)
		if err != nil {
			return fn.Err[[][]float32](err)
		}
		if len(vecs) != len(chunk) {
			return fn.Err[[][]float32](fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(vecs), len(chunk)))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return fn.Err[[][]float32](fmt.Errorf("%w: input %d", ErrEmptyEmbedding, i))
			}
		}
		return fn.Ok(vecs)
	})
	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, err
	}
	return fn.Flatten(all), nil
}

// single embeds one text through a batch function.
func single(ctx context.Context, text string, f batchFunc) ([]float32, error) {
	vecs, err := f(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d, want 1", ErrCountMismatch, len(vecs))
	}
	if len(vecs[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vecs[0], nil
}
