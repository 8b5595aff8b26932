package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/khata/pkg/nlu"
)

// LLM replays scripted parse responses in order, repeating the last one when
// the script runs out.
type LLM struct {
	mu        sync.Mutex
	responses []map[string]any
	calls     int
}

func NewLLM(responses ...map[string]any) *LLM {
	if len(responses) == 0 {
		responses = []map[string]any{{
			"intent":     "QUERY_TODAY_SALES",
			"entities":   map[string]any{},
			"confidence": 0.99,
		}}
	}
	return &LLM{responses: responses}
}

func (l *LLM) ParseJSON(context.Context, string, string, int) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	if i >= len(l.responses) {
		i = len(l.responses) - 1
	}
	l.calls++
	return l.responses[i], nil
}

// Calls reports how many parses were requested.
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var _ nlu.LLMClient = (*LLM)(nil)
