package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-flash-latest"

// GeminiProvider serves completions from Google Gemini.
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model, logger: logger}, nil
}

func (p *GeminiProvider) Close() {
	if p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		p.logger.Warn("error closing GenAI client", zap.Error(err))
	}
}

func (p *GeminiProvider) Model() string {
	return p.model
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system, history, last, err := toGeminiContents(req.Messages)
	if err != nil {
		return "", err
	}

	model := p.client.GenerativeModel(p.model)
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}
	model.SetTemperature(req.Temperature)
	model.SetMaxOutputTokens(int32(req.MaxTokens))

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini response had no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		} else {
			p.logger.Debug("gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	return text.String(), nil
}

// toGeminiContents splits relay messages into Gemini's system instruction,
// chat history and the message to send. Gemini calls the assistant "model".
func toGeminiContents(messages []ChatMessage) ([]genai.Part, []*genai.Content, *genai.Content, error) {
	var (
		system  []genai.Part
		history []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.Text(m.Content))
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	if len(history) == 0 {
		return nil, nil, nil, fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return nil, nil, nil, fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}
	return system, history[:len(history)-1], last, nil
}
