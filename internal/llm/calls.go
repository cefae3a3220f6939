package llm

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxTrackedCalls = 100

// APICall is one tracked request to an LLM backend.
type APICall struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	CallType     string        `json:"callType"`
	PromptLength int           `json:"promptLength"`
	Status       int           `json:"status"`
	Duration     time.Duration `json:"duration"`
	Response     string        `json:"response"`
	Error        string        `json:"error,omitempty"`
}

// CallLog keeps the most recent API calls for the admin endpoints.
type CallLog struct {
	mu    sync.RWMutex
	calls []APICall
}

func NewCallLog() *CallLog {
	return &CallLog{calls: make([]APICall, 0, maxTrackedCalls)}
}

func (l *CallLog) Add(call APICall) {
	if call.ID == "" {
		call.ID = "llm_" + uuid.NewString()
	}
	if len(call.Response) > 2000 {
		call.Response = call.Response[:2000] + "..."
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) >= maxTrackedCalls {
		l.calls = l.calls[1:]
	}
	l.calls = append(l.calls, call)
}

// List returns a copy, oldest first.
func (l *CallLog) List() []APICall {
	l.mu.RLock()
	defer l.mu.RUnlock()
	calls := make([]APICall, len(l.calls))
	copy(calls, l.calls)
	return calls
}

func (l *CallLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = make([]APICall, 0, maxTrackedCalls)
}
