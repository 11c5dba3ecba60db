package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

const defaultCohereBaseURL = "https://api.cohere.com"

type cohereConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type cohereProvider struct {
	apiKey  string
	baseURL string
}

type cohereEmbedRequest struct {
	Model          string   `json:"model"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
	Images         []string `json:"images,omitempty"`
	Texts          []string `json:"texts,omitempty"`
}

type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

func (p *cohereProvider) Name() string {
	return "cohere"
}

func (p *cohereProvider) EmbedImage(ctx context.Context, model string, relativePath string, content []byte) ([]float32, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: cohere needs image content for %s", errs.ErrEmbedPermanent, relativePath)
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeForPath(relativePath), base64.StdEncoding.EncodeToString(content))
	return p.embed(ctx, cohereEmbedRequest{
		Model:          model,
		InputType:      "image",
		EmbeddingTypes: []string{"float"},
		Images:         []string{dataURI},
	})
}

func (p *cohereProvider) EmbedText(ctx context.Context, model string, text string) ([]float32, error) {
	return p.embed(ctx, cohereEmbedRequest{
		Model:          model,
		InputType:      "search_query",
		EmbeddingTypes: []string{"float"},
		Texts:          []string{text},
	})
}

func (p *cohereProvider) embed(ctx context.Context, reqBody cohereEmbedRequest) ([]float32, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: cohere api key not configured", errs.ErrEmbedPermanent)
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/v2/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, classifyErr("cohere", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("cohere", resp.StatusCode, string(body))
	}
	var out cohereEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings.Float) == 0 {
		return nil, fmt.Errorf("%w: cohere response has no embeddings", errs.ErrEmbedPermanent)
	}
	return out.Embeddings.Float[0], nil
}

func createCohereFactory(args interface{}) (Provider, error) {
	cfg := &cohereConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	return &cohereProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
	}, nil
}

func init() {
	Register("cohere", createCohereFactory)
}
