package generator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models the generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for candidate plans, one rate-limited
// call per request.
type GeminiGenerator struct {
	models  contentGenerator
	model   string
	catalog []registry.ToolContract
	limiter *rate.Limiter
	logger  *zap.Logger
}

// GeminiConfig configures a GeminiGenerator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	RPS     float64 // <= 0 disables limiting
	Catalog []registry.ToolContract
	Logger  *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiGenerator: %w", err)
	}
	return newGeminiGenerator(cli.Models, cfg), nil
}

func newGeminiGenerator(models contentGenerator, cfg GeminiConfig) *GeminiGenerator {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &GeminiGenerator{
		models:  models,
		model:   model,
		catalog: cfg.Catalog,
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	prompt, err := buildPrompt(req, g.catalog)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("Generate: %w: %v", ErrGeneratorUnavailable, err)
	}

	g.logger.Debug("requesting candidate plan",
		zap.String("model", g.model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Bool("has_feedback", req.Feedback != ""),
	)

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w: %v", ErrGeneratorUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("Generate: %w: empty response", ErrGeneratorUnavailable)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return []byte(b.String()), nil
}
