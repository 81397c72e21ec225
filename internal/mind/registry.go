package mind

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/pkg/jobmgr"
)

var (
	// ErrRegistryClosed is returned once Close has been called.
	ErrRegistryClosed = errors.New("session registry closed")
	// ErrUnknownSession is returned when reading a session that was never created.
	ErrUnknownSession = errors.New("unknown session")
)

const (
	defaultInboxSize            = 32
	defaultConsolidationTimeout = 45 * time.Second
)

// Inbound is one message from a gateway.
type Inbound struct {
	UserID string
	Text   string
	// Typing, when set, is called right before a generation request.
	Typing func()
}

type request struct {
	// fn runs on the worker; the returned func (if any) runs after done is closed.
	fn   func(w *worker) func()
	done chan struct{}
}

type worker struct {
	userID  string
	session *Session
	inbox   chan request
}

// Registry maps user ids to sessions and serialises everything that touches
// a session: each user has one worker goroutine draining a FIFO inbox, so
// messages apply one at a time in arrival order while different users run
// in parallel. Sessions live until reset or process exit.
type Registry struct {
	engine     *Engine
	summarizer Summarizer
	journal    Journal
	jobs       *jobmgr.Manager
	inboxSize  int
	timeout    time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithJournal records session milestones in j.
func WithJournal(j Journal) RegistryOption {
	return func(r *Registry) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithConsolidationTimeout bounds each background consolidation.
func WithConsolidationTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithInboxSize sets how many messages may queue per user before senders block.
func WithInboxSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.inboxSize = n
		}
	}
}

func NewRegistry(engine *Engine, summarizer Summarizer, opts ...RegistryOption) *Registry {
	r := &Registry{
		engine:     engine,
		summarizer: summarizer,
		journal:    nopJournal{},
		inboxSize:  defaultInboxSize,
		timeout:    defaultConsolidationTimeout,
		log:        logging.Component("mind"),
		workers:    make(map[string]*worker),
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.jobs = jobmgr.NewManager(r.reportJob)
	return r
}

// Dispatch runs one inbound message through the user's session and returns
// the turn. A generation call, once issued, is not cancelled by ctx: only
// its own timeout bounds it.
func (r *Registry) Dispatch(ctx context.Context, in Inbound) (Turn, error) {
	var turn Turn
	err := r.do(ctx, in.UserID, func(w *worker) func() {
		turn = r.engine.Handle(context.WithoutCancel(ctx), w.session, in.Text, in.Typing)
		if turn.Completed {
			r.journal.Record(w.userID, EventOnboardingCompleted, w.session.Profile.Name)
		}
		if turn.Consolidate {
			return r.consolidationAfter(w)
		}
		return nil
	})
	if err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// Reset replaces the user's session with a fresh one and returns the greeting.
func (r *Registry) Reset(ctx context.Context, userID string) (string, error) {
	var greeting string
	err := r.do(ctx, userID, func(w *worker) func() {
		w.session = r.engine.NewSession(userID)
		greeting = r.engine.Greeting(w.session)
		r.journal.Record(userID, EventSessionReset, "")
		return nil
	})
	if err != nil {
		return "", err
	}
	return greeting, nil
}

// Remember merges a derived fact into the user's profile.
func (r *Registry) Remember(ctx context.Context, userID, key string, value any) error {
	return r.do(ctx, userID, func(w *worker) func() {
		w.session.Profile.Remember(key, value)
		return nil
	})
}

// Snapshot returns a copy of an existing session without creating one.
func (r *Registry) Snapshot(ctx context.Context, userID string) (SessionView, error) {
	r.mu.RLock()
	_, ok := r.workers[userID]
	r.mu.RUnlock()
	if !ok {
		return SessionView{}, ErrUnknownSession
	}

	var view SessionView
	err := r.do(ctx, userID, func(w *worker) func() {
		view = w.session.View()
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return view, nil
}

// Stats reports registry counters.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	sessions := len(r.workers)
	r.mu.RUnlock()
	return map[string]int{
		"sessions":       sessions,
		"consolidations": len(r.jobs.List()),
	}
}

// Jobs describes the background consolidations in flight.
func (r *Registry) Jobs() string {
	return r.jobs.Status()
}

// Close stops every worker and waits for in-flight consolidations.
// Queued messages that have not started are dropped.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	r.wg.Wait()
	r.jobs.Shutdown()
}

// do runs fn on the user's worker and waits for it.
func (r *Registry) do(ctx context.Context, userID string, fn func(w *worker) func()) error {
	req, err := r.enqueue(ctx, userID, fn)
	if err != nil {
		return err
	}

	select {
	case <-req.done:
		return nil
	case <-r.quit:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit is do for writes that must not be reported as failed once queued:
// ctx only bounds the wait for an inbox slot, after that the caller waits
// for the worker to run fn.
func (r *Registry) commit(ctx context.Context, userID string, fn func(w *worker) func()) error {
	req, err := r.enqueue(ctx, userID, fn)
	if err != nil {
		return err
	}

	select {
	case <-req.done:
		return nil
	case <-r.quit:
		return ErrRegistryClosed
	}
}

func (r *Registry) enqueue(ctx context.Context, userID string, fn func(w *worker) func()) (request, error) {
	w, err := r.worker(userID)
	if err != nil {
		return request{}, err
	}

	req := request{fn: fn, done: make(chan struct{})}
	select {
	case w.inbox <- req:
		return req, nil
	case <-r.quit:
		return request{}, ErrRegistryClosed
	case <-ctx.Done():
		return request{}, ctx.Err()
	}
}

// worker returns the user's worker, creating session and goroutine on first contact.
func (r *Registry) worker(userID string) (*worker, error) {
	r.mu.RLock()
	w, closed := r.workers[userID], r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if w != nil {
		return w, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if w = r.workers[userID]; w != nil {
		return w, nil
	}
	w = &worker{
		userID:  userID,
		session: r.engine.NewSession(userID),
		inbox:   make(chan request, r.inboxSize),
	}
	r.workers[userID] = w
	r.wg.Add(1)
	go r.run(w)

	r.journal.Record(userID, EventSessionStarted, "")
	r.log.Info().Str("user", userID).Msg("session created")
	return w, nil
}

func (r *Registry) run(w *worker) {
	defer r.wg.Done()
	for {
		select {
		case req := <-w.inbox:
			after := req.fn(w)
			close(req.done)
			if after != nil {
				after()
			}
		case <-r.quit:
			return
		}
	}
}

// consolidationAfter snapshots the transcript on the worker and returns the
// func that launches the detached summarization once the reply is out.
// The commit goes back through the inbox so the session keeps one writer,
// and the job holds its name until the commit has run: a second
// consolidation of the same entries cannot start in between.
func (r *Registry) consolidationAfter(w *worker) func() {
	job := consolidationJob(w.userID)
	if r.jobs.Running(job) {
		return nil
	}

	s := w.session
	snap := s.Memory.Snapshot()
	name := s.Profile.Name
	userID := w.userID

	return func() {
		err := r.jobs.StartAsync(job, r.timeout, func(ctx context.Context) error {
			digest, err := r.summarizer.Summarize(ctx, name, snap.Entries)
			if err != nil {
				r.journal.Record(userID, EventConsolidationFailed, err.Error())
				return &ConsolidationError{Err: err}
			}
			return r.commit(ctx, userID, func(w *worker) func() {
				if w.session != s {
					// Reset while summarizing; the digest belongs to a dead session.
					return nil
				}
				s.Memory.Commit(snap, digest)
				r.journal.Record(userID, EventConsolidated, "")
				return nil
			})
		})
		if err != nil && !errors.Is(err, jobmgr.ErrShutdown) {
			r.log.Debug().Err(err).Str("user", userID).Msg("consolidation not scheduled")
		}
	}
}

func consolidationJob(userID string) string {
	return "consolidate:" + userID
}

func (r *Registry) reportJob(ev jobmgr.Event) {
	switch ev.Kind {
	case jobmgr.EventError:
		r.log.Warn().Err(ev.Err).Str("job", ev.Name).Dur("took", ev.Duration).Msg("background job failed")
	case jobmgr.EventDone:
		r.log.Info().Str("job", ev.Name).Dur("took", ev.Duration).Msg("background job done")
	default:
		r.log.Debug().Str("job", ev.Name).Msg("background job running")
	}
}
