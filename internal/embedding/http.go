package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// HTTPProvider calls an OpenAI-compatible /embeddings endpoint (LM Studio,
// Ollama, vLLM, or the real OpenAI API all speak this shape).
type HTTPProvider struct {
	baseURL    string
	model      string
	apiKey     string
	client     *http.Client
	dimensions int
	maxConcurrency int
}

// NewHTTPProvider builds a provider pointed at baseURL. apiKey may be empty
// for local servers that don't check it.
func NewHTTPProvider(baseURL, model, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		dimensions:     1536,
		maxConcurrency: 4,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error: %s - %s", resp.Status, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}

	vec := embResp.Data[0].Embedding
	p.dimensions = len(vec)
	return vec, nil
}

// EmbedBatch fans the batch out across a bounded pool of goroutines rather
// than embedding one text at a time, since most OpenAI-compatible servers
// don't accept a multi-input request body reliably across implementations.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := p.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *HTTPProvider) Dimensions() int { return p.dimensions }
func (p *HTTPProvider) Name() string    { return "http:" + p.model }

// IsAvailable probes the server's /models endpoint with a short timeout. It is
// a best-effort health check, not a guarantee the next Embed call succeeds.
func (p *HTTPProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
