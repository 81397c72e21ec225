package mind

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer compresses a transcript into a short third-person digest about
// the named user.
type Summarizer interface {
	Summarize(ctx context.Context, name string, transcript []HistoryEntry) (string, error)
}

// ConsolidationError reports a failed consolidation. Memory is left untouched.
type ConsolidationError struct {
	Err error
}

func (e *ConsolidationError) Error() string {
	return "consolidation failed: " + e.Err.Error()
}

func (e *ConsolidationError) Unwrap() error { return e.Err }

// Memory is the two-tier store: a bounded verbatim transcript and an
// append-only long-term summary. Not safe for concurrent use; the owning
// session's worker serialises access.
type Memory struct {
	maxTurns  int
	threshold int

	transcript []HistoryEntry
	summary    string
	// first is the sequence number of transcript[0]; it only grows.
	first uint64
}

// NewMemory returns an empty memory keeping at most 2*maxTurns entries and
// asking for consolidation from threshold entries on.
func NewMemory(maxTurns, threshold int) *Memory {
	if maxTurns < 1 {
		maxTurns = 1
	}
	if threshold < 1 {
		threshold = 2 * maxTurns
	}
	return &Memory{maxTurns: maxTurns, threshold: threshold}
}

// Append adds an entry, dropping the oldest entries beyond 2*maxTurns.
func (m *Memory) Append(role Role, content string) {
	m.transcript = append(m.transcript, HistoryEntry{Role: role, Content: content})
	if over := len(m.transcript) - 2*m.maxTurns; over > 0 {
		m.drop(over)
	}
}

// AppendExchange records one user/assistant pair.
func (m *Memory) AppendExchange(user, assistant string) {
	m.Append(RoleUser, user)
	m.Append(RoleAssistant, assistant)
}

// ShouldConsolidate reports whether the transcript reached the threshold.
func (m *Memory) ShouldConsolidate() bool {
	return len(m.transcript) >= m.threshold
}

// Len returns the number of transcript entries.
func (m *Memory) Len() int { return len(m.transcript) }

// Transcript returns a copy of the transcript, oldest first.
func (m *Memory) Transcript() []HistoryEntry {
	out := make([]HistoryEntry, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Summary returns the long-term summary.
func (m *Memory) Summary() string { return m.summary }

// Clear empties the transcript; the summary is kept.
func (m *Memory) Clear() {
	m.drop(len(m.transcript))
}

func (m *Memory) drop(n int) {
	// Zero the dropped prefix so the backing array does not pin old strings.
	clear(m.transcript[:n])
	m.transcript = m.transcript[n:]
	m.first += uint64(n)
}

// Snapshot is a consolidation candidate: the entries handed to the
// summarizer and the sequence number just past the last of them.
type Snapshot struct {
	Entries []HistoryEntry
	Through uint64
}

// Snapshot captures the current transcript for an out-of-band consolidation.
func (m *Memory) Snapshot() Snapshot {
	return Snapshot{
		Entries: m.Transcript(),
		Through: m.first + uint64(len(m.transcript)),
	}
}

// Commit appends digest to the summary and removes the entries covered by
// snap that are still in the transcript. Entries appended after the
// snapshot survive.
func (m *Memory) Commit(snap Snapshot, digest string) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return
	}
	if m.summary == "" {
		m.summary = digest
	} else {
		m.summary += "\n" + digest
	}
	if snap.Through > m.first {
		n := int(snap.Through - m.first)
		if n > len(m.transcript) {
			n = len(m.transcript)
		}
		m.drop(n)
	}
}

// Consolidate summarises the whole transcript, appends the digest to the
// summary and clears the transcript. On failure nothing changes and a
// *ConsolidationError is returned.
func (m *Memory) Consolidate(ctx context.Context, name string, s Summarizer) error {
	if len(m.transcript) == 0 {
		return nil
	}
	snap := m.Snapshot()
	digest, err := s.Summarize(ctx, name, snap.Entries)
	if err != nil {
		return &ConsolidationError{Err: err}
	}
	if strings.TrimSpace(digest) == "" {
		return &ConsolidationError{Err: fmt.Errorf("summarizer returned empty")}
	}
	m.Commit(snap, digest)
	return nil
}
