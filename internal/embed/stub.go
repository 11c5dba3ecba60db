package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
)

const defaultStubDimension = 1024

type stubConfig struct {
	Dimension int `json:"dimension"`
}

// StubProvider produces deterministic pseudo-random vectors keyed by file
// identity (or query text) and model. It makes pipeline and resume behavior
// reproducible without spending provider credits, and is selected like any
// other provider.
type StubProvider struct {
	dimension int
}

func NewStubProvider(dimension int) *StubProvider {
	if dimension <= 0 {
		dimension = defaultStubDimension
	}
	return &StubProvider{dimension: dimension}
}

func (p *StubProvider) Name() string {
	return "stub"
}

func (p *StubProvider) EmbedImage(ctx context.Context, model string, relativePath string, content []byte) ([]float32, error) {
	_ = content
	return p.vectorFor(model + "\x00" + relativePath), nil
}

func (p *StubProvider) EmbedText(ctx context.Context, model string, text string) ([]float32, error) {
	return p.vectorFor(model + "\x00query\x00" + text), nil
}

func (p *StubProvider) vectorFor(key string) []float32 {
	digest := sha256.Sum256([]byte(key))
	vec := make([]float32, p.dimension)
	for i := range vec {
		vec[i] = float32(digest[i%len(digest)]) / 255.0
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func createStubFactory(args interface{}) (Provider, error) {
	cfg := &stubConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("stub dimension must be positive")
	}
	return NewStubProvider(cfg.Dimension), nil
}

func init() {
	Register("stub", createStubFactory)
}
