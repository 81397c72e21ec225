package mind

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keshon/sophia/internal/ai"
)

// fakeProvider replays scripted replies and records every request.
type fakeProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]ai.Message
	// block, when set, is waited on (or ctx) before answering.
	block chan struct{}
}

func (f *fakeProvider) Generate(ctx context.Context, messages []ai.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "d'accord", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) lastCall() []ai.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type summarizerFunc func(ctx context.Context, name string, t []HistoryEntry) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, name string, t []HistoryEntry) (string, error) {
	return f(ctx, name, t)
}

func testScript(t *testing.T) *Script {
	t.Helper()
	s, err := DefaultScript()
	require.NoError(t, err)
	return s
}

func newTestEngine(t *testing.T, gen ai.Provider, opts Options) *Engine {
	t.Helper()
	if opts.MaxTurns == 0 {
		opts.MaxTurns = 10
	}
	if opts.ConsolidationThreshold == 0 {
		opts.ConsolidationThreshold = 16
	}
	return NewEngine(testScript(t), gen, opts)
}

// onboard drives a fresh session through name and every question.
func onboard(t *testing.T, e *Engine, s *Session, name string, answers ...string) {
	t.Helper()
	e.Handle(context.Background(), s, "je suis "+name, nil)
	for _, a := range answers {
		e.Handle(context.Background(), s, a, nil)
	}
	require.Equal(t, Chatting, s.State)
}
