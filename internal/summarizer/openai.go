package summarizer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	DefaultOpenAIModel = string(openai.ChatModelGPT5Mini2025_08_07)

	initialOutputTokens int64 = 512
	maxOutputTokens     int64 = 2048
	maxInputRunes             = 8000

	descriptionInstructions = `Describe the article in one short sentence for a feed reader list.

Rules:
- At most 30 words (hard limit 45).
- State what the article is about, keeping critical context (dates, numbers, names).
- Do not repeat the headline verbatim.
- Neutral tone.
- No emojis, hashtags or links.
- Output exactly one line in the same language as the input.`
)

var errEmptyInput = errors.New("input is empty")

type OpenAIConfig struct {
	APIKey string
	// Model defaults to DefaultOpenAIModel.
	Model string
}

// OpenAISummarizer writes article descriptions with the Responses API.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("API key is empty")
	}

	return &OpenAISummarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  cmp.Or(strings.TrimSpace(cfg.Model), DefaultOpenAIModel),
	}, nil
}

// Summarize retries with a doubled output budget while the model stops on max_output_tokens.
func (s *OpenAISummarizer) Summarize(ctx context.Context, input Input) (string, error) {
	prompt, err := describePrompt(input)
	if err != nil {
		return "", err
	}

	for budget := initialOutputTokens; ; {
		resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
			Model:           s.model,
			ServiceTier:     responses.ResponseNewParamsServiceTierFlex,
			MaxOutputTokens: openai.Int(budget),
			Reasoning: responses.ReasoningParam{
				Effort: openai.ReasoningEffortLow,
			},
			Instructions: openai.String(descriptionInstructions),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(prompt),
			},
		})
		if err != nil {
			return "", fmt.Errorf("create response: %w", err)
		}

		if resp.Status == "incomplete" {
			reason := resp.IncompleteDetails.Reason
			if next, ok := nextBudget(reason, budget); ok {
				budget = next
				continue
			}

			return "", fmt.Errorf("response is incomplete (reason = %s, budget = %d)", reason, budget)
		}

		description := strings.Join(strings.Fields(resp.OutputText()), " ")
		if description == "" {
			return "", fmt.Errorf("output text is missing (status = %s)", resp.Status)
		}

		return description, nil
	}
}

// nextBudget doubles the output budget up to maxOutputTokens when the model ran out of tokens.
func nextBudget(reason string, budget int64) (int64, bool) {
	if reason != "max_output_tokens" || budget >= maxOutputTokens {
		return budget, false
	}

	return min(budget*2, maxOutputTokens), true
}

func describePrompt(input Input) (string, error) {
	text := Excerpt(input.Text, maxInputRunes)
	if text == "" {
		return "", errEmptyInput
	}

	var b strings.Builder

	for _, section := range [][2]string{
		{"Title", strings.TrimSpace(input.Title)},
		{"Source", strings.TrimSpace(input.SourceURL)},
		{"Content", text},
	} {
		if section[1] == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "%s:\n%s", section[0], section[1])
	}

	return b.String(), nil
}
