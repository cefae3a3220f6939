package llm

import (
	"context"
	"fmt"

	"github.com/findoc/backend/internal/config"
)

// Provider is an LLM backend able to run a financial document analysis.
type Provider interface {
	Analyze(ctx context.Context, documentText, query string) (string, error)
	CheckHealth(ctx context.Context) error
	Name() string
	Model() string
	Calls() *CallLog
}

var (
	_ Provider = (*OllamaAnalyzer)(nil)
	_ Provider = (*ClaudeAnalyzer)(nil)
)

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaAnalyzer(cfg.OllamaURL, cfg.OllamaModel, cfg.Temperature, cfg.MaxDocumentChars, cfg.RequestTimeout), nil
	case "claude":
		return NewClaudeAnalyzer(cfg.AnthropicAPIKey, cfg.ClaudeModel, cfg.MaxTokens, cfg.Temperature, cfg.MaxDocumentChars, cfg.RequestTimeout)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
