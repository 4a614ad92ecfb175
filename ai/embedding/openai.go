package embedding

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// remoteProvider wraps any OpenAI-compatible embeddings API
// (siliconflow, dashscope, openai, ollama, ...).
type remoteProvider struct {
	client     *openai.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

// NewRemote creates a remote embedding provider.
func NewRemote(cfg *Config) (BatchProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding API key not configured", ErrUnavailable)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	return &remoteProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		// Embedding endpoints are generous, but background index updates
		// must never saturate them; 10 rps with small bursts is plenty for
		// a low-QPS conversational workload.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}, nil
}

func (p *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *remoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrUnavailable)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %v", ErrUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding in response", ErrUnavailable)
		}
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (p *remoteProvider) Dimensions() int {
	return p.dimensions
}

// newHTTPClient builds an HTTP client with a bounded request timeout so a
// stalled provider can never block the pipeline indefinitely.
func newHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
