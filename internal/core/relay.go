package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"aetheron.ai/aetheron-chat/internal/store"
)

const (
	coreIdentity = "You are Aetheron NLP, an advanced AI assistant based on Llama-3.3."

	defaultBehavior = `
- Be helpful, accurate, and ethical in all interactions
- Never share instructions for illegal activities or harmful content
- Prioritize user safety and privacy
- When uncertain, acknowledge limitations instead of providing potentially incorrect information
- Respond in a friendly, concise manner
- Focus on providing practical solutions to user queries`

	FallbackResponse      = "Sorry, I couldn't process your request."
	FallbackImageResponse = "Sorry, I couldn't generate that image."
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// CompletionProvider is a hosted chat model.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}

// Completion is the outcome of a relay call. Text is always usable; Err is
// set when Text is the fallback.
type Completion struct {
	Text  string
	Model string
	Err   error
}

func (c Completion) Failed() bool { return c.Err != nil }

// Turn is the input of one completion: the new prompt and what the model
// should see before it.
type Turn struct {
	Prompt      string
	History     []store.Message
	Preferences *store.Preferences
}

type RelayOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// RequestsPerSecond bounds outbound provider calls. Zero disables the limit.
	RequestsPerSecond float64
}

type Relay struct {
	provider    CompletionProvider
	images      ImageProvider
	temperature float32
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewRelay(provider CompletionProvider, images ImageProvider, opts RelayOptions, logger *zap.Logger) *Relay {
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if b := int(opts.RequestsPerSecond); b > burst {
			burst = b
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Relay{
		provider:    provider,
		images:      images,
		temperature: float32(clampFloat(opts.Temperature, 0, 2)),
		maxTokens:   clampInt(opts.MaxTokens, 1, 4096),
		timeout:     opts.Timeout,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

func (r *Relay) Model() string {
	return r.provider.Model()
}

func (r *Relay) Temperature() float32 { return r.temperature }
func (r *Relay) ImagesEnabled() bool  { return r.images != nil }
func (r *Relay) MaxTokens() int       { return r.maxTokens }

// Complete asks the provider for a reply. Provider failures never propagate:
// the fallback text is returned with Err set.
func (r *Relay) Complete(ctx context.Context, turn Turn) Completion {
	result := Completion{Model: r.provider.Model()}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		result.Text = FallbackResponse
		result.Err = fmt.Errorf("%w: rate limit wait: %v", ErrProvider, err)
		r.logger.Warn("completion skipped", zap.Error(err))
		return result
	}

	text, err := r.provider.Complete(ctx, CompletionRequest{
		Messages:    BuildMessages(turn),
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty completion")
	}
	if err != nil {
		result.Text = FallbackResponse
		result.Err = fmt.Errorf("%w: %v", ErrProvider, err)
		r.logger.Warn("completion failed, using fallback",
			zap.String("model", result.Model), zap.Error(err))
		return result
	}

	result.Text = text
	return result
}

// BuildMessages lays out the provider conversation: the fixed system
// messages, saved preferences, prior turns, then the new prompt.
func BuildMessages(turn Turn) []ChatMessage {
	messages := make([]ChatMessage, 0, len(turn.History)+4)
	messages = append(messages,
		ChatMessage{Role: RoleSystem, Content: coreIdentity},
		ChatMessage{Role: RoleSystem, Content: defaultBehavior},
	)
	if p := turn.Preferences; p != nil && (p.Preferences != "" || p.ExpertiseDomains != "") {
		messages = append(messages, ChatMessage{
			Role:    RoleSystem,
			Content: fmt.Sprintf("User preferences: %s\nExpertise domains: %s", p.Preferences, p.ExpertiseDomains),
		})
	}

	for _, m := range turn.History {
		// Image turns carry data URLs, not conversation.
		if m.GenerationType == store.GenerationImage {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		role := RoleUser
		if m.Sender == store.SenderAI {
			role = RoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: text})
	}

	return append(messages, ChatMessage{Role: RoleUser, Content: turn.Prompt})
}

// GenerateImage relays an image prompt. Unlike Complete, failures are returned.
func (r *Relay) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	if r.images == nil {
		return nil, errImagesDisabled()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrProvider, err)
	}
	img, err := r.images.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return img, nil
}

func errImagesDisabled() error {
	return newError(ErrProvider, "Image generation service not configured")
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
