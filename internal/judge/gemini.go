package judge

import (
	"context"
	"fmt"
	"log"
	"time"

	genai "google.golang.org/genai"

	"normgate/internal/metrics"
)

// GeminiJudge answers judgment prompts with a Gemini model, requesting
// application/json so the verdict can be decoded directly.
type GeminiJudge struct {
	cli   *genai.Client
	model string
}

func NewGeminiJudge(ctx context.Context, apiKey, model string) (*GeminiJudge, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiJudge{cli: cli, model: model}, nil
}

func (g *GeminiJudge) Name() string { return "Gemini:" + g.model }
func (g *GeminiJudge) Close() error { return nil }

func (g *GeminiJudge) Judge(ctx context.Context, prompt string) (*Verdict, error) {
	metrics.JudgeCalls.WithLabelValues(g.Name()).Inc()
	full := prompt + verdictInstruction
	log.Printf("judge request (%s): %d bytes", g.Name(), len(full))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				metrics.JudgeErrors.WithLabelValues(g.Name()).Inc()
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidVerdict
			continue
		}
		verdict, err := ParseVerdict([]byte(resp.Candidates[0].Content.Parts[0].Text))
		if err != nil {
			lastErr = err
			continue
		}
		return verdict, nil
	}
	metrics.JudgeErrors.WithLabelValues(g.Name()).Inc()
	return nil, fmt.Errorf("gemini judgment failed: %w", lastErr)
}
