package core

import (
	"context"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultTogetherBaseURL = "https://api.together.xyz/v1"
	DefaultChatModel       = "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"
)

// TogetherProvider talks to Together AI through its OpenAI-compatible API.
type TogetherProvider struct {
	client *openai.Client
	model  string
}

func NewTogetherProvider(apiKey, baseURL, model string, httpClient *http.Client) *TogetherProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultTogetherBaseURL
	}
	config.BaseURL = baseURL
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &TogetherProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (p *TogetherProvider) Model() string {
	return p.model
}

func (p *TogetherProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// go-openai omits a zero temperature from the request body.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("together chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("together returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
