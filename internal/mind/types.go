package mind

import "fmt"

// Role tags a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one message of the short-term transcript.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Gender drives downstream phrasing; it is never stored with the free-text answers.
type Gender string

const (
	GenderUnknown   Gender = "unknown"
	GenderMasculine Gender = "masculin"
	GenderFeminine  Gender = "féminin"
)

// Phase is the closed set of session states.
type Phase int

const (
	PhaseAwaitingName Phase = iota
	PhaseAwaitingNickname
	PhaseAwaitingConsent
	PhaseOnboarding
	PhaseChatting
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingName:
		return "awaiting_name"
	case PhaseAwaitingNickname:
		return "awaiting_nickname"
	case PhaseAwaitingConsent:
		return "awaiting_consent"
	case PhaseOnboarding:
		return "onboarding"
	case PhaseChatting:
		return "chatting"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the active session state. Step is meaningful only in
// PhaseOnboarding, where it is the index of the question whose answer is
// pending (0 <= Step < script.StepCount()).
type State struct {
	Phase Phase
	Step  int
}

var (
	AwaitingName     = State{Phase: PhaseAwaitingName}
	AwaitingNickname = State{Phase: PhaseAwaitingNickname}
	AwaitingConsent  = State{Phase: PhaseAwaitingConsent}
	Chatting         = State{Phase: PhaseChatting}
)

// Onboarding returns the state waiting for the answer to question step.
func Onboarding(step int) State {
	return State{Phase: PhaseOnboarding, Step: step}
}

func (s State) String() string {
	if s.Phase == PhaseOnboarding {
		return fmt.Sprintf("onboarding(%d)", s.Step)
	}
	return s.Phase.String()
}
