package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/types"
)

const (
	webhookTimeout       = 30 * time.Second
	webhookBodyLimit     = 64 * 1024
	webhookTransportTrys = 2
)

// WebhookConfig configures the generic JSON webhook service
type WebhookConfig struct {
	URL       string
	AuthToken string
}

// WebhookService solves problems through a generic JSON webhook: the
// problem is POSTed and the response carries the remedy.
type WebhookService struct {
	logger zerolog.Logger
	cfg    WebhookConfig
	client *retryablehttp.Client
}

type webhookRequest struct {
	ComponentID       string            `json:"component_id"`
	Category          string            `json:"category"`
	Description       string            `json:"description"`
	Context           map[string]string `json:"context,omitempty"`
	AttemptedRemedies []string          `json:"attempted_remedies,omitempty"`
	Prompt            string            `json:"prompt"`
}

type webhookResponse struct {
	Remedy string `json:"remedy"`
}

// NewWebhookService creates the service. Transport-level retries are
// handled by the retryable client; semantic retries stay with the broker.
func NewWebhookService(cfg WebhookConfig) (*WebhookService, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url not set")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = webhookTransportTrys
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: webhookTimeout}

	return &WebhookService{
		logger: log.WithSubsystem("reasoning").With().Str("provider", "webhook").Logger(),
		cfg:    cfg,
		client: client,
	}, nil
}

// Solve POSTs the problem and decodes the remedy. Non-2xx statuses,
// malformed bodies, and empty remedies wrap ErrExternalService.
func (s *WebhookService) Solve(ctx context.Context, problem Problem) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ReasoningRequestDuration.WithLabelValues("webhook").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(webhookRequest{
		ComponentID:       problem.ComponentID,
		Category:          problem.Category,
		Description:       problem.Description,
		Context:           problem.Context,
		AttemptedRemedies: problem.AttemptedRemedies,
		Prompt:            BuildPrompt(problem),
	})
	if err != nil {
		return "", fmt.Errorf("encode webhook request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, body)
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("component_id", problem.ComponentID).Msg("webhook request failed")
		return "", fmt.Errorf("%w: %v", types.ErrExternalService, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: webhook returned %s", types.ErrExternalService, resp.Status)
	}

	var decoded webhookResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: malformed webhook response: %v", types.ErrExternalService, err)
	}
	remedy := strings.TrimSpace(decoded.Remedy)
	if remedy == "" {
		return "", fmt.Errorf("%w: empty remedy", types.ErrExternalService)
	}

	s.logger.Debug().Str("component_id", problem.ComponentID).Msg("remedy proposed")
	return remedy, nil
}
