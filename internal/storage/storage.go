// /internal/storage/storage.go
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/keshon/datastore"
	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/internal/mind"
)

const eventHistoryLimit int = 50

// Storage is the on-disk audit journal: one capped event list per user.
// Sessions are never rebuilt from it.
type Storage struct {
	ds *datastore.DataStore
	// stop ends the datastore autosave loop; Close needs it gone before the final save.
	stop context.CancelFunc
	mu   sync.Mutex
	log  zerolog.Logger
	now  func() time.Time
}

type Event struct {
	Kind     mind.EventKind `json:"kind"`
	Detail   string         `json:"detail,omitempty"`
	Datetime time.Time      `json:"datetime"`
}

type Record struct {
	UserID string  `json:"user_id"`
	Events []Event `json:"events"`
}

// New opens (or creates) the journal file. The journal lives until Close
// or until ctx is cancelled, whichever comes first.
func New(ctx context.Context, filePath string, opts ...datastore.Option) (*Storage, error) {
	log := logging.Component("storage")
	ctx, stop := context.WithCancel(ctx)

	// Datastore chatter below warn stays out of the process log.
	dsLog := slog.New(slog.NewTextHandler(log, &slog.HandlerOptions{Level: slog.LevelWarn}))
	opts = append([]datastore.Option{datastore.WithLogger(dsLog)}, opts...)

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			stop()
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	ds, err := datastore.New(ctx, filePath, opts...)
	if err != nil {
		stop()
		return nil, fmt.Errorf("open journal %s: %w", filePath, err)
	}
	return &Storage{ds: ds, stop: stop, log: log, now: time.Now}, nil
}

// Close writes the journal to disk. Safe to call more than once.
func (s *Storage) Close() error {
	s.stop()
	return s.ds.Close()
}

func userKey(userID string) string {
	return "user:" + userID
}

// getOrCreateUserRecord loads the user's record or starts an empty one.
// Caller holds s.mu.
func (s *Storage) getOrCreateUserRecord(userID string) (*Record, error) {
	var record Record
	exists, err := s.ds.Get(userKey(userID), &record)
	if err != nil {
		return nil, fmt.Errorf("load journal of %s: %w", userID, err)
	}
	if !exists || record.Events == nil {
		record.Events = []Event{}
	}
	record.UserID = userID
	return &record, nil
}

// Append adds an event to the user's history, keeping the newest
// eventHistoryLimit entries.
func (s *Storage) Append(userID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateUserRecord(userID)
	if err != nil {
		return err
	}
	if ev.Datetime.IsZero() {
		ev.Datetime = s.now()
	}

	record.Events = append(record.Events, ev)
	if len(record.Events) > eventHistoryLimit {
		record.Events = record.Events[len(record.Events)-eventHistoryLimit:]
	}
	if err := s.ds.Set(userKey(userID), record); err != nil {
		return fmt.Errorf("save journal of %s: %w", userID, err)
	}
	return nil
}

// History returns the user's events, oldest first. An unknown user has none.
func (s *Storage) History(userID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.getOrCreateUserRecord(userID)
	if err != nil {
		return nil, err
	}
	return record.Events, nil
}

// Record implements mind.Journal. Failures are logged; the journal never
// blocks a conversation.
func (s *Storage) Record(userID string, kind mind.EventKind, detail string) {
	if err := s.Append(userID, Event{Kind: kind, Detail: detail}); err != nil {
		s.log.Error().Err(err).Str("user", userID).Str("kind", string(kind)).Msg("journal append failed")
	}
}
