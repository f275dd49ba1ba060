package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type ProviderOptions struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

// NewGenerator picks the generator named by opts.Provider. An empty provider
// or "stub" yields the canned generator.
func NewGenerator(ctx context.Context, opts ProviderOptions) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" || provider == "stub" {
		return NewStubGenerator(), nil
	}
	model, err := newModel(ctx, provider, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", provider, err)
	}
	return NewLLMGenerator(provider, model, opts.Temperature), nil
}

func newModel(ctx context.Context, provider string, opts ProviderOptions) (llms.Model, error) {
	switch provider {
	case "openai":
		options := []openai.Option{openai.WithToken(opts.APIKey)}
		if opts.Model != "" {
			options = append(options, openai.WithModel(opts.Model))
		}
		if opts.BaseURL != "" {
			options = append(options, openai.WithBaseURL(opts.BaseURL))
		}
		return openai.New(options...)
	case "anthropic", "claude":
		options := []anthropic.Option{anthropic.WithToken(opts.APIKey)}
		if opts.Model != "" {
			options = append(options, anthropic.WithModel(opts.Model))
		}
		return anthropic.New(options...)
	case "gemini", "googleai":
		options := []googleai.Option{googleai.WithAPIKey(opts.APIKey)}
		if opts.Model != "" {
			options = append(options, googleai.WithDefaultModel(opts.Model))
		}
		return googleai.New(ctx, options...)
	case "cohere":
		options := []cohere.Option{cohere.WithToken(opts.APIKey)}
		if opts.Model != "" {
			options = append(options, cohere.WithModel(opts.Model))
		}
		if opts.BaseURL != "" {
			options = append(options, cohere.WithBaseURL(opts.BaseURL))
		}
		return cohere.New(options...)
	case "ollama":
		serverURL := opts.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(opts.Model))
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// LLMGenerator asks a language model for a revised document.
type LLMGenerator struct {
	name        string
	model       llms.Model
	temperature float64
	now         func() time.Time
}

func NewLLMGenerator(name string, model llms.Model, temperature float64) *LLMGenerator {
	return &LLMGenerator{name: name, model: model, temperature: temperature, now: time.Now}
}

func (g *LLMGenerator) Name() string { return g.name }

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return Result{}, err
	}

	started := g.now()
	raw, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return Result{}, fmt.Errorf("generate proposal: %w", err)
	}
	log.Debug().
		Str("provider", g.name).
		Str("project_id", req.ProjectID).
		Dur("elapsed", g.now().Sub(started)).
		Int("response_bytes", len(raw)).
		Msg("llm proposal generated")

	proposed := parseProposed(raw)
	if strings.TrimSpace(proposed) == "" {
		return Result{}, ErrEmptyProposal
	}
	if !strings.HasSuffix(proposed, "\n") {
		proposed += "\n"
	}
	return Result{Proposed: proposed, CreatedAt: g.now().UTC()}, nil
}

var promptTemplate = template.Must(template.New("proposal").Parse(`You are editing a Markdown document.
Apply the instructions to CURRENT. BASE is the last approved version and is given for context only.
Respond with a single JSON object of the form {"proposed": "<full revised Markdown document>"} and nothing else.

INSTRUCTIONS:
{{if .Instructions}}{{.Instructions}}{{else}}Improve clarity and fix mistakes without changing meaning.{{end}}

BASE:
{{.Base}}

CURRENT:
{{.Current}}
`))

func buildPrompt(req Request) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, req); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

type llmPayload struct {
	Proposed string `json:"proposed"`
}

// parseProposed extracts the proposed document from a model response. It
// tries strict JSON, then a repaired JSON object, and finally treats the
// whole response as the document.
func parseProposed(raw string) string {
	candidate := stripCodeFence(strings.TrimSpace(raw))

	var payload llmPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err == nil && payload.Proposed != "" {
		return payload.Proposed
	}
	if strings.HasPrefix(candidate, "{") {
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
			if err := json.Unmarshal([]byte(repaired), &payload); err == nil && payload.Proposed != "" {
				return payload.Proposed
			}
		}
	}
	return candidate
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if newline := strings.IndexByte(s, '\n'); newline >= 0 {
		s = s[newline+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
