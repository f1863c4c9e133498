package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/types"
)

const (
	defaultModel        = "gpt-4o-mini"
	systemPrompt        = "You are a diagnostic assistant for a runtime coordination system. You are given one unresolved component problem at a time and answer with a single concrete remedy."
	defaultOpenAITemp   = 0.2
	defaultAnswerTokens = 512
)

// OpenAIConfig configures the chat-completion backed service
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIService solves problems through an OpenAI-compatible chat
// completion API.
type OpenAIService struct {
	logger zerolog.Logger
	client *openai.Client
	model  string
}

// NewOpenAIService creates the service. BaseURL overrides the endpoint
// for OpenAI-compatible local servers.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIService{
		logger: log.WithSubsystem("reasoning").With().Str("provider", "openai").Logger(),
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Solve sends the problem as a chat completion and returns the proposed
// remedy. Transport failures and empty answers wrap ErrExternalService.
func (s *OpenAIService) Solve(ctx context.Context, problem Problem) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ReasoningRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	}()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(problem)},
		},
		Temperature:         defaultOpenAITemp,
		MaxCompletionTokens: defaultAnswerTokens,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("component_id", problem.ComponentID).Msg("chat completion failed")
		return "", fmt.Errorf("%w: %v", types.ErrExternalService, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", types.ErrExternalService)
	}
	remedy := strings.TrimSpace(resp.Choices[0].Message.Content)
	if remedy == "" {
		return "", fmt.Errorf("%w: empty remedy", types.ErrExternalService)
	}

	s.logger.Debug().
		Str("component_id", problem.ComponentID).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("remedy proposed")
	return remedy, nil
}
