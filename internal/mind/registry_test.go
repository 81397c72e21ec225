package mind

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/keshon/sophia/internal/ai"
)

type memJournal struct {
	mu     sync.Mutex
	events map[string][]EventKind
}

func (j *memJournal) Record(userID string, kind EventKind, _ string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.events == nil {
		j.events = make(map[string][]EventKind)
	}
	j.events[userID] = append(j.events[userID], kind)
}

func (j *memJournal) kinds(userID string) []EventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]EventKind(nil), j.events[userID]...)
}

func dispatchAll(t *testing.T, r *Registry, userID string, texts ...string) []Turn {
	t.Helper()
	var out []Turn
	for _, text := range texts {
		turn, err := r.Dispatch(context.Background(), Inbound{UserID: userID, Text: text})
		require.NoError(t, err)
		out = append(out, turn)
	}
	return out
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	journal := &memJournal{}
	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{}), summarizerFunc(nil), WithJournal(journal))
	defer r.Close()

	dispatchAll(t, r, "a", "je suis Alice", "x", "y", "féminin")
	dispatchAll(t, r, "b", "je suis Bob")

	va, err := r.Snapshot(context.Background(), "a")
	require.NoError(t, err)
	vb, err := r.Snapshot(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, "chatting", va.State)
	assert.Equal(t, "Alice", va.Profile.Name)
	assert.Equal(t, GenderFeminine, va.Profile.Gender)
	assert.Equal(t, "onboarding(0)", vb.State)
	assert.Equal(t, "Bob", vb.Profile.Name)
	assert.Equal(t, map[string]int{"sessions": 2, "consolidations": 0}, r.Stats())

	assert.Equal(t, []EventKind{EventSessionStarted, EventOnboardingCompleted}, journal.kinds("a"))
	assert.Equal(t, []EventKind{EventSessionStarted}, journal.kinds("b"))
}

func TestRegistry_SnapshotDoesNotCreate(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{}), summarizerFunc(nil))
	defer r.Close()

	_, err := r.Snapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, 0, r.Stats()["sessions"])
}

func TestRegistry_MessagesOfOneUserApplyInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{MaxTurns: 50, ConsolidationThreshold: 100}), summarizerFunc(nil))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c")

	// Messages sent one after another from a single sender land in order.
	const n = 20
	for i := 0; i < n; i++ {
		dispatchAll(t, r, "u", fmt.Sprintf("m%02d", i))
	}
	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, v.Transcript, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("m%02d", i), v.Transcript[2*i].Content)
	}
}

func TestRegistry_UsersRunInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	gen := &fakeProvider{block: make(chan struct{})}
	r := NewRegistry(newTestEngine(t, gen, Options{}), summarizerFunc(nil))
	defer r.Close()
	dispatchAll(t, r, "slow", "je suis Lent", "a", "b", "c")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Dispatch(context.Background(), Inbound{UserID: "slow", Text: "tu es là ?"})
	}()
	require.Eventually(t, func() bool { return gen.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// "slow" is stuck inside generation; another user still progresses.
	turns := dispatchAll(t, r, "fast", "je suis Vif")
	assert.Equal(t, Onboarding(0), turns[0].State)

	close(gen.block)
	<-done
}

func TestRegistry_SerializesConcurrentSenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{MaxTurns: 100, ConsolidationThreshold: 200}), summarizerFunc(nil))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c")

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Dispatch(context.Background(), Inbound{UserID: "u", Text: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Len(t, v.Transcript, 60)
	assert.Equal(t, 34, v.Turns)
	for i := 0; i < len(v.Transcript); i += 2 {
		assert.Equal(t, RoleUser, v.Transcript[i].Role, "exchanges never interleave")
	}
}

func TestRegistry_ResetStartsOver(t *testing.T) {
	defer goleak.VerifyNone(t)

	journal := &memJournal{}
	e := newTestEngine(t, &fakeProvider{}, Options{})
	r := NewRegistry(e, summarizerFunc(nil), WithJournal(journal))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c", "bonsoir")

	greeting, err := r.Reset(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, e.Script().Line(LineGreeting, NewProfile("Soph_IA")), greeting)

	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_name", v.State)
	assert.Empty(t, v.Profile.Name)
	assert.Empty(t, v.Transcript)
	assert.Contains(t, journal.kinds("u"), EventSessionReset)
}

func TestRegistry_Remember(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{}), summarizerFunc(nil))
	defer r.Close()

	require.NoError(t, r.Remember(context.Background(), "u", DynamicTopics, "travail"))
	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"travail"}, v.Profile.DynamicInfo[DynamicTopics])
}

func TestRegistry_ConsolidatesInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	journal := &memJournal{}
	summarized := make(chan []HistoryEntry, 1)
	sum := summarizerFunc(func(_ context.Context, name string, tr []HistoryEntry) (string, error) {
		summarized <- tr
		return name + " a parlé de tout.", nil
	})
	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{MaxTurns: 5, ConsolidationThreshold: 4}), sum, WithJournal(journal))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c")

	turns := dispatchAll(t, r, "u", "un", "deux")
	assert.True(t, turns[1].Consolidate)

	select {
	case tr := <-summarized:
		assert.Len(t, tr, 4)
	case <-time.After(time.Second):
		t.Fatal("summarizer never called")
	}

	require.Eventually(t, func() bool {
		v, err := r.Snapshot(context.Background(), "u")
		return err == nil && v.Summary == "Nora a parlé de tout." && len(v.Transcript) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, journal.kinds("u"), EventConsolidated)
}

type providerFunc func(ctx context.Context, messages []ai.Message) (string, error)

func (f providerFunc) Generate(ctx context.Context, messages []ai.Message) (string, error) {
	return f(ctx, messages)
}

func TestRegistry_SlowCommitIsNotSummarizedTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu        sync.Mutex
		chats     int
		summaries int
	)
	gen := providerFunc(func(context.Context, []ai.Message) (string, error) {
		mu.Lock()
		chats++
		n := chats
		mu.Unlock()
		if n == 3 {
			// Keeps the worker busy past the consolidation timeout.
			time.Sleep(150 * time.Millisecond)
		}
		return "d'accord", nil
	})
	sum := summarizerFunc(func(ctx context.Context, _ string, _ []HistoryEntry) (string, error) {
		mu.Lock()
		summaries++
		mu.Unlock()
		select {
		case <-time.After(60 * time.Millisecond):
			return "digest", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	journal := &memJournal{}
	r := NewRegistry(newTestEngine(t, gen, Options{MaxTurns: 5, ConsolidationThreshold: 4}), sum,
		WithJournal(journal),
		WithConsolidationTimeout(100*time.Millisecond),
	)
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c")

	turns := dispatchAll(t, r, "u", "un", "deux")
	require.True(t, turns[1].Consolidate)
	assert.Equal(t, "Running jobs: consolidate:u", r.Jobs())

	// The digest is ready while "trois" still holds the worker, and the job
	// deadline passes before the commit gets its turn.
	dispatchAll(t, r, "u", "trois")

	require.Eventually(t, func() bool { return r.Jobs() == "No jobs are running." }, time.Second, 5*time.Millisecond)
	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "digest", v.Summary)
	assert.Len(t, v.Transcript, 2)
	assert.Equal(t, "trois", v.Transcript[0].Content)

	mu.Lock()
	assert.Equal(t, 1, summaries)
	mu.Unlock()

	kinds := journal.kinds("u")
	assert.Contains(t, kinds, EventConsolidated)
	assert.NotContains(t, kinds, EventConsolidationFailed)
}

func TestRegistry_ConsolidationFailureKeepsTranscript(t *testing.T) {
	defer goleak.VerifyNone(t)

	journal := &memJournal{}
	sum := summarizerFunc(func(context.Context, string, []HistoryEntry) (string, error) {
		return "", fmt.Errorf("backend down")
	})
	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{MaxTurns: 5, ConsolidationThreshold: 2}), sum, WithJournal(journal))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c", "un")

	require.Eventually(t, func() bool {
		for _, k := range journal.kinds("u") {
			if k == EventConsolidationFailed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Len(t, v.Transcript, 2)
	assert.Empty(t, v.Summary)
}

func TestRegistry_ResetDiscardsLateDigest(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	started := make(chan struct{})
	sum := summarizerFunc(func(ctx context.Context, _ string, _ []HistoryEntry) (string, error) {
		close(started)
		<-release
		return "stale", nil
	})
	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{MaxTurns: 5, ConsolidationThreshold: 2}), sum)
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c", "un")
	<-started

	_, err := r.Reset(context.Background(), "u")
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool { return r.Stats()["consolidations"] == 0 }, time.Second, 5*time.Millisecond)
	v, err := r.Snapshot(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, v.Summary)
}

func TestRegistry_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(newTestEngine(t, &fakeProvider{}, Options{}), summarizerFunc(nil))
	dispatchAll(t, r, "u", "je suis Nora")
	r.Close()
	r.Close()

	_, err := r.Dispatch(context.Background(), Inbound{UserID: "u", Text: "encore"})
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, err = r.Reset(context.Background(), "new")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_DispatchHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	gen := &fakeProvider{block: make(chan struct{})}
	r := NewRegistry(newTestEngine(t, gen, Options{}), summarizerFunc(nil))
	defer r.Close()
	dispatchAll(t, r, "u", "je suis Nora", "a", "b", "c")

	go func() { _, _ = r.Dispatch(context.Background(), Inbound{UserID: "u", Text: "premier"}) }()
	require.Eventually(t, func() bool { return gen.callCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	turn, err := r.Dispatch(ctx, Inbound{UserID: "u", Text: "second"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, turn.Reply)

	close(gen.block)
}
