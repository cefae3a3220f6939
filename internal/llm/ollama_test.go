package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/findoc/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaAnalyze(t *testing.T) {
	var got OllamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(OllamaGenerateResponse{Model: got.Model, Response: "Revenue grew 10% year over year.", Done: true})
	}))
	defer srv.Close()

	o := NewOllamaAnalyzer(srv.URL, "test-model", 0.1, 0, time.Second)
	out, err := o.Analyze(context.Background(), "Revenue rose 10%", "Summarize revenue")
	require.NoError(t, err)

	assert.Equal(t, "Revenue grew 10% year over year.", out)
	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	assert.Contains(t, got.Prompt, "Summarize revenue")
	assert.Contains(t, got.Prompt, "Revenue rose 10%")

	calls := o.Calls().List()
	require.Len(t, calls, 1)
	assert.Equal(t, http.StatusOK, calls[0].Status)
	assert.Empty(t, calls[0].Error)
}

func TestOllamaAnalyzeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOllamaAnalyzer(srv.URL, "m", 0, 0, time.Second)
	_, err := o.Analyze(context.Background(), "doc", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	calls := o.Calls().List()
	require.Len(t, calls, 1)
	assert.Equal(t, http.StatusTooManyRequests, calls[0].Status)
	assert.NotEmpty(t, calls[0].Error)
}

func TestOllamaAnalyzeHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	o := NewOllamaAnalyzer(srv.URL, "m", 0, 0, 5*time.Second)
	start := time.Now()
	_, err := o.Analyze(ctx, "doc", "q")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOllamaAvailableModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"mistral"}]}`))
	}))
	defer srv.Close()

	o := NewOllamaAnalyzer(srv.URL, "", 0, 0, time.Second)
	models, err := o.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "mistral"}, models)
	assert.NoError(t, o.CheckHealth(context.Background()))
}

func TestCallLogKeepsLastHundred(t *testing.T) {
	l := NewCallLog()
	for i := 0; i < 150; i++ {
		l.Add(APICall{CallType: "c", Status: i})
	}
	calls := l.List()
	require.Len(t, calls, 100)
	assert.Equal(t, 50, calls[0].Status)
	assert.Equal(t, 149, calls[99].Status)

	l.Clear()
	assert.Empty(t, l.List())
}

func TestTruncateDocument(t *testing.T) {
	assert.Equal(t, "abc", TruncateDocument("abc", 0))
	assert.Equal(t, "abc", TruncateDocument("abc", 3))
	out := TruncateDocument("ééééé", 2)
	assert.True(t, strings.HasPrefix(out, "éé\n"))
	assert.Contains(t, out, "truncated")
}

func TestClaudeRequiresAPIKey(t *testing.T) {
	_, err := NewClaudeAnalyzer("", "m", 0, 0, 0, 0)
	assert.Error(t, err)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "gpt"})
	assert.Error(t, err)

	p, err := New(config.LLMConfig{Provider: "ollama", OllamaURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}
