// Package llm provides the minimal completion client consumed by the
// importance classifier's optional LLM override.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Service is the completion service interface.
type Service interface {
	// Complete sends a single-prompt request and returns the response text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config represents LLM service configuration.
type Config struct {
	Provider string // siliconflow, dashscope, openai, ollama
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  int // Request timeout in seconds (default: 30)
}

type service struct {
	client *openai.Client
	model  string
}

// NewService creates a new completion Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm API key not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	return &service{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (s *service) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func newHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
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
