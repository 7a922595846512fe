package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/pkg/embed"
)

// keywordEmbedder gives every distinct token its own dimension and marks
// presence, so cosine = shared / sqrt(|a| * |b|) over token sets.
type keywordEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	model string
	dim   int
	fail  error
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: map[string]int{}, model: "test/keywords", dim: 128}
}

func (e *keywordEmbedder) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

func (e *keywordEmbedder) setModel(m string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = m
}

func (e *keywordEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	v := make([]float32, e.dim)
	for _, tok := range embed.Tokenize(text) {
		i, ok := e.vocab[tok]
		if !ok {
			i = len(e.vocab)
			e.vocab[tok] = i
		}
		v[i] = 1
	}
	return v, nil
}

func (e *keywordEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// vectorEmbedder returns fixed vectors per text.
type vectorEmbedder struct {
	vectors map[string][]float32
}

func (e vectorEmbedder) Model() string { return "test/vectors" }

func (e vectorEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e vectorEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// stubFetcher serves whatever corpus is current.
type stubFetcher struct {
	mu      sync.Mutex
	records []domain.Record
	err     error
	calls   int
	entered chan struct{}
	release chan struct{}
}

var errSourceDown = errors.New("connection refused")

func (f *stubFetcher) set(records []domain.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

func (f *stubFetcher) Fetch(ctx context.Context) ([]domain.Record, error) {
	f.mu.Lock()
	f.calls++
	records, err := f.records, f.err
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return records, err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func rec(speaker, text string) domain.Record { return domain.Record{Speaker: speaker, Text: text} }
