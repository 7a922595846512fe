package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline bag-of-words embedder. Tokens are lowercased,
// hashed into Dimension buckets and the result is L2-normalised, so texts
// sharing words score a positive cosine. Useful for local runs without a
// model server.
type HashEmbedder struct {
	dim int
}

// NewHash creates a HashEmbedder. The default dimension is 256.
func NewHash(opts ...Option) *HashEmbedder {
	o := newOptions(opts)
	if o.Dimension <= 0 {
		o.Dimension = 256
	}
	return &HashEmbedder{dim: o.Dimension}
}

func (e *HashEmbedder) Model() string { return fmt.Sprintf("%s/fnv-%d", ProviderHash, e.dim) }

func (e *HashEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
