// Package jobmgr runs detached, best-effort background jobs keyed by name.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(func(ev jobmgr.Event) {
//	    log.Println("JOB:", ev)
//	})
//
//	err := jm.StartAsync("consolidate:42", time.Minute, func(ctx context.Context) error {
//	    // do work until ctx is done
//	    return nil
//	})
//
//	// at shutdown
//	jm.Shutdown()
//
// At most one job per name runs at a time. Callers never wait on a job's
// result: outcomes are only observed through the reporter. There is no
// retry and no persistence.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrJobRunning is returned by StartAsync when a job with the same name is in flight.
var ErrJobRunning = errors.New("job already running")

// ErrShutdown is returned by StartAsync once Shutdown has been called.
var ErrShutdown = errors.New("job manager shut down")

// EventKind is the lifecycle stage reported for a job.
type EventKind string

const (
	EventRunning EventKind = "running"
	EventDone    EventKind = "done"
	EventError   EventKind = "error"
)

// Event is delivered to the reporter on every lifecycle change.
type Event struct {
	Kind     EventKind
	Name     string
	Err      error
	Duration time.Duration
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%s:%v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.Name)
}

// StatusReporter receives lifecycle events for jobs. It is called from the
// job goroutine and must not block for long.
type StatusReporter func(Event)

type job struct {
	cancel context.CancelFunc
}

// Manager orchestrates starting, tracking and draining jobs.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*job
	wg       sync.WaitGroup
	base     context.Context
	stop     context.CancelFunc
	closed   bool
	reporter StatusReporter
}

// NewManager creates a new Manager. The reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*job),
		base:     base,
		stop:     stop,
		reporter: reporter,
	}
}

// StartAsync runs runner in its own goroutine and returns immediately.
// A positive timeout bounds the job's context. The job is forgotten once
// runner returns, whatever the outcome.
func (m *Manager) StartAsync(name string, timeout time.Duration, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(m.base, timeout)
	} else {
		ctx, cancel = context.WithCancel(m.base)
	}
	m.jobs[name] = &job{cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()

		started := time.Now()
		m.report(Event{Kind: EventRunning, Name: name})

		err := runner(ctx)

		m.mu.Lock()
		delete(m.jobs, name)
		m.mu.Unlock()

		ev := Event{Kind: EventDone, Name: name, Duration: time.Since(started)}
		if err != nil {
			ev.Kind = EventError
			ev.Err = err
		}
		m.report(ev)
	}()

	return nil
}

// Running reports whether a job with this name is in flight.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
// Example:
//
//	"Running jobs: consolidate:1, consolidate:2"
//
// If none are running: "No jobs are running."
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// Shutdown refuses new jobs, cancels running ones and waits for them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
}

func (m *Manager) report(ev Event) {
	if m.reporter != nil {
		m.reporter(ev)
	}
}
