package mind

import "time"

// Session is all state owned by one user for the lifetime of the process.
// Only the user's registry worker touches it.
type Session struct {
	UserID    string
	State     State
	Profile   *Profile
	Memory    *Memory
	CreatedAt time.Time
	Turns     int
}

// SessionView is a read-only copy of a session, safe to use outside the worker.
type SessionView struct {
	UserID     string         `json:"user_id"`
	State      string         `json:"state"`
	Profile    Profile        `json:"profile"`
	Transcript []HistoryEntry `json:"transcript"`
	Summary    string         `json:"summary"`
	Turns      int            `json:"turns"`
	CreatedAt  time.Time      `json:"created_at"`
}

// View copies the session.
func (s *Session) View() SessionView {
	return SessionView{
		UserID:     s.UserID,
		State:      s.State.String(),
		Profile:    s.Profile.Clone(),
		Transcript: s.Memory.Transcript(),
		Summary:    s.Memory.Summary(),
		Turns:      s.Turns,
		CreatedAt:  s.CreatedAt,
	}
}
