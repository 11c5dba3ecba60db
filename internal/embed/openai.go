package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// openAIProvider embeds through the OpenAI embeddings API. The API is
// text-only, so image files are represented by their relative path; useful
// against OpenAI-compatible gateways that proxy multimodal models.
type openAIProvider struct {
	client *openai.Client
}

func (p *openAIProvider) Name() string {
	return "openai"
}

func (p *openAIProvider) EmbedImage(ctx context.Context, model string, relativePath string, content []byte) ([]float32, error) {
	_ = content
	return p.embed(ctx, model, relativePath)
}

func (p *openAIProvider) EmbedText(ctx context.Context, model string, text string) ([]float32, error) {
	return p.embed(ctx, model, text)
}

func (p *openAIProvider) embed(ctx context.Context, model string, input string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, classifyStatus("openai", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, classifyErr("openai", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai response has no embeddings", errs.ErrEmbedPermanent)
	}
	return resp.Data[0].Embedding, nil
}

func createOpenAIFactory(args interface{}) (Provider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return &openAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func init() {
	Register("openai", createOpenAIFactory)
}
