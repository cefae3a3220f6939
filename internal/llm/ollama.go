package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/findoc/backend/internal/logger"
)

type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type OllamaModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaAnalyzer calls a local Ollama server's /api/generate endpoint.
type OllamaAnalyzer struct {
	baseURL     string
	model       string
	temperature float64
	maxChars    int
	client      *http.Client
	calls       *CallLog
}

func NewOllamaAnalyzer(baseURL, model string, temperature float64, maxDocumentChars int, timeout time.Duration) *OllamaAnalyzer {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaAnalyzer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxChars:    maxDocumentChars,
		client:      &http.Client{Timeout: timeout},
		calls:       NewCallLog(),
	}
}

func (o *OllamaAnalyzer) Name() string { return "ollama" }
func (o *OllamaAnalyzer) Model() string { return o.model }
func (o *OllamaAnalyzer) Calls() *CallLog { return o.calls }

// Analyze sends the financial analysis prompt and returns the raw model answer.
func (o *OllamaAnalyzer) Analyze(ctx context.Context, documentText, query string) (string, error) {
	prompt := BuildPrompt(documentText, query, o.maxChars)
	return o.generate(ctx, prompt, "financial_analysis")
}

func (o *OllamaAnalyzer) generate(ctx context.Context, prompt, callType string) (string, error) {
	startTime := time.Now()
	call := APICall{
		Timestamp:    startTime,
		Provider:     o.Name(),
		Model:        o.model,
		CallType:     callType,
		PromptLength: len(prompt),
	}
	track := func(status int, response string, err error) {
		call.Status = status
		call.Duration = time.Since(startTime)
		call.Response = response
		if err != nil {
			call.Error = err.Error()
		}
		o.calls.Add(call)
	}

	request := OllamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": o.temperature,
			"top_p":       0.8,
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		err = fmt.Errorf("failed to marshal request: %w", err)
		track(0, "", err)
		return "", err
	}

	url := fmt.Sprintf("%s/api/generate", o.baseURL)
	log := logger.WithLLM(o.Name(), o.model)
	log.WithField("prompt_length", len(prompt)).Debug("Making LLM request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		err = fmt.Errorf("failed to create request: %w", err)
		track(0, "", err)
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	elapsed := time.Since(startTime)
	if err != nil {
		log.WithField("elapsed", elapsed.String()).WithError(err).Warn("LLM request failed")
		err = fmt.Errorf("HTTP request failed: %w", err)
		track(0, "", err)
		return "", err
	}
	defer resp.Body.Close()

	log.WithFields(map[string]interface{}{
		"elapsed": elapsed.String(),
		"status":  resp.StatusCode,
	}).Debug("LLM request completed")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("Ollama API returned status %d, body: %s", resp.StatusCode, string(body))
		track(resp.StatusCode, "", err)
		return "", err
	}

	var ollamaResp OllamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		err = fmt.Errorf("failed to decode Ollama response: %w", err)
		track(resp.StatusCode, "", err)
		return "", err
	}

	track(resp.StatusCode, ollamaResp.Response, nil)
	return ollamaResp.Response, nil
}

// CheckHealth verifies the Ollama server answers /api/tags.
func (o *OllamaAnalyzer) CheckHealth(ctx context.Context) error {
	_, err := o.AvailableModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM service not available: %w", err)
	}
	return nil
}

// AvailableModels returns the models installed on the server.
func (o *OllamaAnalyzer) AvailableModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get models: status %d", resp.StatusCode)
	}

	var modelsResp OllamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, err
	}

	modelNames := make([]string, 0, len(modelsResp.Models))
	for _, model := range modelsResp.Models {
		modelNames = append(modelNames, model.Name)
	}
	return modelNames, nil
}
