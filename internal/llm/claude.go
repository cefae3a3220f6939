package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/findoc/backend/internal/logger"
)

// ClaudeAnalyzer calls the Anthropic Messages API.
type ClaudeAnalyzer struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	maxChars    int
	calls       *CallLog
}

func NewClaudeAnalyzer(apiKey, model string, maxTokens int, temperature float64, maxDocumentChars int, timeout time.Duration) (*ClaudeAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &ClaudeAnalyzer{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		maxChars:    maxDocumentChars,
		calls:       NewCallLog(),
	}, nil
}

func (c *ClaudeAnalyzer) Name() string { return "claude" }
func (c *ClaudeAnalyzer) Model() string { return c.model }
func (c *ClaudeAnalyzer) Calls() *CallLog { return c.calls }

func (c *ClaudeAnalyzer) Analyze(ctx context.Context, documentText, query string) (string, error) {
	prompt := BuildPrompt(documentText, query, c.maxChars)
	startTime := time.Now()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	call := APICall{
		Timestamp:    startTime,
		Provider:     c.Name(),
		Model:        c.model,
		CallType:     "financial_analysis",
		PromptLength: len(prompt),
	}

	resp, err := c.client.Messages.New(ctx, params)
	call.Duration = time.Since(startTime)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			call.Status = apiErr.StatusCode
		}
		call.Error = err.Error()
		c.calls.Add(call)
		logger.WithLLM(c.Name(), c.model).WithError(err).Warn("Claude API call failed")
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	call.Status = 200
	call.Response = text.String()
	c.calls.Add(call)

	if text.Len() == 0 {
		return "", errors.New("empty response from Claude API")
	}
	return text.String(), nil
}

// CheckHealth only validates configuration; the API has no free health endpoint.
func (c *ClaudeAnalyzer) CheckHealth(context.Context) error {
	if c.model == "" {
		return errors.New("claude model is not configured")
	}
	return nil
}
