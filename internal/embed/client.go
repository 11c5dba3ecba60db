package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

// Fetcher loads the raw content of a listed file so a provider can embed it.
// A nil Fetcher means the provider works from file identity alone (stub, or
// text-only providers).
type Fetcher func(ctx context.Context, file model.FileRecord) ([]byte, error)

// FaultFunc injects a failure before the provider call for the given file and
// attempt number. Used by checkpoint/resume tests; never set in production
// wiring.
type FaultFunc func(file model.FileRecord, attempt int) error

// FileResult is one slot of an EmbedBatch response, same position as the
// input file.
type FileResult struct {
	File   model.FileRecord
	Vector []float32
	Err    error
}

// Client embeds files one provider call at a time with bounded retries.
// Per-file failures are reported in the result slice and never abort the
// batch.
type Client struct {
	embedder Embedder
	timeout  time.Duration
	retry    RetryConfig
	fetcher  Fetcher
	fault    FaultFunc
	dim      int
}

type Option func(*Client)

func WithFetcher(f Fetcher) Option {
	return func(c *Client) { c.fetcher = f }
}

func WithFaultFunc(f FaultFunc) Option {
	return func(c *Client) { c.fault = f }
}

// WithDimension pins the expected vector width. A provider response of any
// other width is a permanent error; the store only holds vectors of one
// dimensionality per generation.
func WithDimension(d int) Option {
	return func(c *Client) { c.dim = d }
}

func New(embedder Embedder, timeout time.Duration, retry RetryConfig, opts ...Option) *Client {
	c := &Client{
		embedder: embedder,
		timeout:  timeout,
		retry:    retry.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ModelName() string {
	return c.embedder.ModelName()
}

// EmbedBatch embeds every file in order and returns one result per input.
// When ctx expires mid-batch the in-flight call settles first; the remaining
// files are marked transient so the next run picks them up.
func (c *Client) EmbedBatch(ctx context.Context, files []model.FileRecord) []FileResult {
	results := make([]FileResult, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results[i] = FileResult{File: f, Err: fmt.Errorf("%w: batch aborted: %w", errs.ErrEmbedTransient, err)}
			continue
		}
		vec, err := c.embedOne(ctx, f)
		if err != nil {
			logutil.GetLogger(ctx).Warn("embed file failed",
				zap.String("remote_id", f.RemoteID),
				zap.String("path", f.RelativePath),
				zap.Bool("permanent", errs.IsPermanent(err)),
				zap.Error(err))
		}
		results[i] = FileResult{File: f, Vector: vec, Err: err}
	}
	return results
}

// EmbedText embeds query text with the same timeout and retry policy as file
// embedding. Used by the search path.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty query text", errs.ErrInvalidQuery)
	}
	return retryWithBackoff(ctx, c.retry, func() ([]float32, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		vec, err := c.embedder.EmbedText(callCtx, text)
		if err != nil {
			return nil, classifyErr("embed", err)
		}
		if err := c.checkDimension(vec, "query"); err != nil {
			return nil, err
		}
		return vec, nil
	})
}

func (c *Client) embedOne(ctx context.Context, f model.FileRecord) ([]float32, error) {
	attempt := 0
	var content []byte
	return retryWithBackoff(ctx, c.retry, func() ([]float32, error) {
		attempt++
		if c.fault != nil {
			if err := c.fault(f, attempt); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		if c.fetcher != nil && content == nil {
			data, err := c.fetcher(callCtx, f)
			if err != nil {
				return nil, fmt.Errorf("%w: fetch %s: %w", errs.ErrEmbedTransient, f.RelativePath, err)
			}
			content = data
		}

		vec, err := c.embedder.EmbedImage(callCtx, f.RelativePath, content)
		if err != nil {
			return nil, classifyErr("embed", err)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: provider returned empty vector for %s", errs.ErrEmbedPermanent, f.RelativePath)
		}
		if err := c.checkDimension(vec, f.RelativePath); err != nil {
			return nil, err
		}
		return vec, nil
	})
}

func (c *Client) checkDimension(vec []float32, what string) error {
	if c.dim > 0 && len(vec) != c.dim {
		return fmt.Errorf("%w: vector for %s has dimension %d, expected %d", errs.ErrEmbedPermanent, what, len(vec), c.dim)
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
