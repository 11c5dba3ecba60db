package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

// Provider talks to one external embedding backend. One call embeds exactly
// one image or one query text; providers never batch multiple files into a
// single call.
type Provider interface {
	Name() string
	EmbedImage(ctx context.Context, model string, relativePath string, content []byte) ([]float32, error)
	EmbedText(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder is a Provider bound to one model id.
type Embedder interface {
	EmbedImage(ctx context.Context, relativePath string, content []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

type embedder struct {
	provider Provider
	model    string
}

func NewEmbedder(p Provider, model string) Embedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) EmbedImage(ctx context.Context, relativePath string, content []byte) ([]float32, error) {
	return e.provider.EmbedImage(ctx, e.model, relativePath, content)
}

func (e *embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.provider.EmbedText(ctx, e.model, text)
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(args interface{}) (Provider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("embed.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embed provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embed provider config: %w", err)
	}
	return nil
}

// classifyStatus maps an HTTP response code to the embed error taxonomy.
// Rate limiting and server-side failures are worth retrying; anything else
// the provider rejected is permanent for this payload.
func classifyStatus(provider string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return fmt.Errorf("%w: %s returned %d: %s", errs.ErrEmbedTransient, provider, status, msg)
	}
	return fmt.Errorf("%w: %s returned %d: %s", errs.ErrEmbedPermanent, provider, status, msg)
}

// classifyErr wraps an unclassified provider error as transient;
// already-classified errors pass through. Context errors stay visible in the
// chain so the pipeline can tell a run abort from an ordinary failure.
func classifyErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errs.IsTransient(err) || errs.IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", errs.ErrEmbedTransient, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrEmbedTransient, provider, err)
}

func mimeForPath(relativePath string) string {
	switch strings.ToLower(path.Ext(relativePath)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
