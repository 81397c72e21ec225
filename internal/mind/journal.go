package mind

// EventKind names a journaled session milestone.
type EventKind string

const (
	EventSessionStarted      EventKind = "session_started"
	EventSessionReset        EventKind = "session_reset"
	EventOnboardingCompleted EventKind = "onboarding_completed"
	EventConsolidated        EventKind = "consolidated"
	EventConsolidationFailed EventKind = "consolidation_failed"
)

// Journal records session milestones for auditing. It is never read back
// into a session.
type Journal interface {
	Record(userID string, kind EventKind, detail string)
}

type nopJournal struct{}

func (nopJournal) Record(string, EventKind, string) {}
