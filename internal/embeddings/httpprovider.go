package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for the embeddings package.
var (
	ErrEmptyInput      = errors.New("empty or nil input texts")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
	ErrRateLimited     = errors.New("embedding provider rate limited the request")
)

// httpProviderConfig configures the hosted HTTP embedding provider.
type httpProviderConfig struct {
	// Kind selects the wire shape: "openai" (OpenAI's POST /embeddings
	// contract) or "google" (spec.md §6's
	// {model, content:{parts:[{text}]}} -> {embedding:{values}} contract).
	Kind    string
	BaseURL string
	Model   string
	APIKey  string
}

func (c httpProviderConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// httpProvider implements Provider for the two hosted backends by calling
// a plain JSON-in/JSON-out HTTP endpoint. Both wire shapes are simple
// enough that a provider SDK would only wrap net/http; DESIGN.md records
// why this stays stdlib.
type httpProvider struct {
	cfg       httpProviderConfig
	client    *http.Client
	dimension int
}

func newHTTPProvider(cfg httpProviderConfig) (*httpProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &httpProvider{
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		dimension: detectDimensionFromModel(cfg.Model),
	}, nil
}

// openAIRequest is the request body for OpenAI's POST /embeddings.
type openAIRequest struct {
	Input interface{} `json:"input"`
	Model string      `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// googlePart/googleContent/googleRequest/googleResponse implement
// spec.md §6's embedding provider contract verbatim:
// request  {model, content:{parts:[{text}]}}
// response {embedding:{values:float[]}}
type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Model   string        `json:"model"`
	Content googleContent `json:"content"`
}

type googleResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (p *httpProvider) endpoint() string {
	if p.cfg.Kind == "openai" {
		return p.cfg.BaseURL + "/embeddings"
	}
	return p.cfg.BaseURL + "/models/" + p.cfg.Model + ":embedContent"
}

// embedOne performs a single-text request. The google contract (spec.md
// §6) is defined per-text (one `content` per call); batches of texts are
// fanned out by the caller rather than folded into one request.
func (p *httpProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	var body []byte
	var err error
	if p.cfg.Kind == "openai" {
		body, err = json.Marshal(openAIRequest{Input: text, Model: p.cfg.Model})
	} else {
		body, err = json.Marshal(googleRequest{
			Model:   p.cfg.Model,
			Content: googleContent{Parts: []googlePart{{Text: text}}},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	if p.cfg.Kind == "openai" {
		var out openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		if len(out.Data) == 0 {
			return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		}
		return out.Data[0].Embedding, nil
	}
	var out googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return out.Embedding.Values, nil
}

// EmbedDocuments generates embeddings for multiple texts, one request per
// text (neither contract in use here defines a true batch endpoint).
func (p *httpProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *httpProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return p.embedOne(ctx, text)
}

// Dimension returns the embedding dimension based on the configured model.
func (p *httpProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the provider only holds an *http.Client.
func (p *httpProvider) Close() error {
	return nil
}
