package judge

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"normgate/internal/metrics"
)

// OpenAIJudge answers judgment prompts with an OpenAI chat model in JSON mode.
type OpenAIJudge struct {
	cli   *openai.Client
	model string
}

func NewOpenAIJudge(apiKey, model string) (*OpenAIJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai judge: api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIJudge{cli: openai.NewClient(apiKey), model: model}, nil
}

func (o *OpenAIJudge) Name() string { return "OpenAI:" + o.model }
func (o *OpenAIJudge) Close() error { return nil }

func (o *OpenAIJudge) Judge(ctx context.Context, prompt string) (*Verdict, error) {
	metrics.JudgeCalls.WithLabelValues(o.Name()).Inc()
	full := prompt + verdictInstruction
	log.Printf("judge request (%s): %d bytes", o.Name(), len(full))

	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a legal compliance analyst. Answer strictly in JSON."},
			{Role: openai.ChatMessageRoleUser, Content: full},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		metrics.JudgeErrors.WithLabelValues(o.Name()).Inc()
		return nil, fmt.Errorf("openai judgment failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.JudgeErrors.WithLabelValues(o.Name()).Inc()
		return nil, fmt.Errorf("openai judgment failed: %w", ErrInvalidVerdict)
	}
	verdict, err := ParseVerdict([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		metrics.JudgeErrors.WithLabelValues(o.Name()).Inc()
		return nil, err
	}
	return verdict, nil
}
