package reasoning

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/maestro-sys/maestro/pkg/types"
)

// Service is an external reasoning endpoint that proposes a remedy for an
// escalated problem. Empty answers are an error so the broker can retry.
type Service interface {
	Solve(ctx context.Context, problem Problem) (string, error)
}

// Problem is the escalated problem statement handed to the external
// reasoning service.
type Problem struct {
	ComponentID       string
	Category          string
	Description       string
	Context           map[string]string
	AttemptedRemedies []string
}

// ProblemFromTicket projects the fields the reasoning service needs
func ProblemFromTicket(t *types.Ticket) Problem {
	return Problem{
		ComponentID:       t.ComponentID,
		Category:          t.Category,
		Description:       t.Description,
		Context:           t.Context,
		AttemptedRemedies: t.AttemptedRemedies,
	}
}

// BuildPrompt renders the problem as the prompt sent to the service.
// Context keys are sorted so the same problem always yields the same
// prompt.
func BuildPrompt(p Problem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A component in a runtime coordination system is misbehaving and local remedies are exhausted.\n\n")
	fmt.Fprintf(&b, "Component: %s\n", p.ComponentID)
	fmt.Fprintf(&b, "Problem category: %s\n", p.Category)
	fmt.Fprintf(&b, "Description: %s\n", p.Description)

	if len(p.Context) > 0 {
		b.WriteString("\nContext:\n")
		keys := make([]string, 0, len(p.Context))
		for k := range p.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, p.Context[k])
		}
	}

	if len(p.AttemptedRemedies) > 0 {
		b.WriteString("\nRemedies already attempted:\n")
		for _, r := range p.AttemptedRemedies {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}

	b.WriteString("\nPropose one concrete remedy. Answer with the remedy only.")
	return b.String()
}

// FromEnv builds the service selected by REASONING_PROVIDER ("openai" or
// "webhook"). Credentials and endpoints come from the environment, loaded
// from a .env file at startup when present.
func FromEnv() (Service, error) {
	provider := os.Getenv("REASONING_PROVIDER")
	switch provider {
	case "", "openai":
		return NewOpenAIService(OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   os.Getenv("OPENAI_MODEL"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		})
	case "webhook":
		return NewWebhookService(WebhookConfig{
			URL:       os.Getenv("REASONING_WEBHOOK_URL"),
			AuthToken: os.Getenv("REASONING_WEBHOOK_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", provider)
	}
}
