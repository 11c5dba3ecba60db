package embed

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) EmbedImage(ctx context.Context, model string, relativePath string, content []byte) ([]float32, error) {
	part := &genai.Part{Text: relativePath}
	if len(content) > 0 {
		part = &genai.Part{InlineData: &genai.Blob{MIMEType: mimeForPath(relativePath), Data: content}}
	}
	return p.embed(ctx, model, part)
}

func (p *geminiProvider) EmbedText(ctx context.Context, model string, text string) ([]float32, error) {
	return p.embed(ctx, model, &genai.Part{Text: text})
}

func (p *geminiProvider) embed(ctx context.Context, model string, part *genai.Part) ([]float32, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not configured", errs.ErrEmbedPermanent)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classifyErr("gemini", err)
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{part}}},
		nil,
	)
	if err != nil {
		return nil, classifyErr("gemini", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no embedding values", errs.ErrEmbedPermanent)
	}
	return resp.Embeddings[0].Values, nil
}

func createGeminiFactory(args interface{}) (Provider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
