package mind

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/ai"
	"github.com/keshon/sophia/internal/logging"
)

// Options tune the state machine and the memory of new sessions.
type Options struct {
	// AskNickname inserts AwaitingNickname after the name.
	AskNickname bool
	// AskConsent asks permission before the questionnaire.
	AskConsent bool

	MaxTurns               int
	ConsolidationThreshold int
}

// Turn is the outcome of one inbound message.
type Turn struct {
	ID    string
	Reply string
	State State
	// Fallback is set when generation failed and the apology was sent instead.
	Fallback bool
	// Consolidate is set when the memory crossed its threshold.
	Consolidate bool
	// Completed is set on the turn that finished onboarding.
	Completed bool
}

// Engine is the per-user state machine. It keeps no state between calls
// besides the Session it is handed.
type Engine struct {
	script *Script
	gen    ai.Provider
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

func NewEngine(script *Script, gen ai.Provider, opts Options) *Engine {
	return &Engine{
		script: script,
		gen:    gen,
		opts:   opts,
		log:    logging.Component("mind"),
		now:    time.Now,
	}
}

// Script returns the onboarding script the engine runs.
func (e *Engine) Script() *Script { return e.script }

// NewSession returns a fresh session waiting for the user's name.
func (e *Engine) NewSession(userID string) *Session {
	return &Session{
		UserID:    userID,
		State:     AwaitingName,
		Profile:   NewProfile(e.script.BotName()),
		Memory:    NewMemory(e.opts.MaxTurns, e.opts.ConsolidationThreshold),
		CreatedAt: e.now(),
	}
}

// Greeting is the line sent when a session starts over.
func (e *Engine) Greeting(s *Session) string {
	return e.script.Line(LineGreeting, s.Profile)
}

// Handle applies one inbound message to s. typing, when not nil, is called
// right before a generation request. Partial mutations are never rolled
// back; every transition is safe even if the reply is never delivered.
func (e *Engine) Handle(ctx context.Context, s *Session, text string, typing func()) Turn {
	text = strings.TrimSpace(text)
	turn := Turn{ID: uuid.NewString()}
	if text == "" {
		turn.State = s.State
		return turn
	}

	from := s.State
	s.Turns++

	switch s.State.Phase {
	case PhaseAwaitingName:
		s.Profile.SetName(ExtractName(text))
		turn.Reply = e.afterName(s)

	case PhaseAwaitingNickname:
		s.Profile.SetNickname(Capitalize(text))
		turn.Reply = e.afterNickname(s)

	case PhaseAwaitingConsent:
		if ContainsFold(text, e.script.Affirmations()...) {
			turn.Reply = e.startOnboarding(s)
		} else {
			s.State = Chatting
			turn.Reply = e.script.Line(LineConsentDeclined, s.Profile)
		}

	case PhaseOnboarding:
		turn.Reply, turn.Completed = e.answer(s, text)

	case PhaseChatting:
		turn.Reply, turn.Fallback = e.chat(ctx, s, text, typing, turn.ID)
		turn.Consolidate = s.Memory.ShouldConsolidate()

	default:
		panic(fmt.Sprintf("mind: unhandled phase %v", s.State.Phase))
	}

	turn.State = s.State
	e.log.Info().
		Str("turn", turn.ID).
		Str("user", s.UserID).
		Stringer("from", from).
		Stringer("to", s.State).
		Bool("fallback", turn.Fallback).
		Msg("turn handled")
	return turn
}

func (e *Engine) afterName(s *Session) string {
	if e.opts.AskNickname {
		s.State = AwaitingNickname
		return e.script.Line(LineAskNickname, s.Profile)
	}
	return e.afterNickname(s)
}

func (e *Engine) afterNickname(s *Session) string {
	if e.opts.AskConsent {
		s.State = AwaitingConsent
		return e.script.Line(LineAskConsent, s.Profile)
	}
	return e.startOnboarding(s)
}

func (e *Engine) startOnboarding(s *Session) string {
	if e.script.StepCount() == 0 {
		return e.finishOnboarding(s)
	}
	s.State = Onboarding(0)
	return e.prompt(s, 0)
}

// answer records the pending answer and asks the next question, or moves
// to Chatting after the last one.
func (e *Engine) answer(s *Session, text string) (string, bool) {
	step := s.State.Step
	key, err := e.script.KeyFor(step)
	if err != nil {
		// Unreachable while the bounds below hold; recover into chat.
		e.log.Error().Err(err).Str("user", s.UserID).Msg("onboarding state out of script bounds")
		return e.finishOnboarding(s), true
	}
	s.Profile.RecordOnboardingAnswer(key, text)

	if next := step + 1; next < e.script.StepCount() {
		s.State = Onboarding(next)
		return e.prompt(s, next), false
	}
	return e.finishOnboarding(s), true
}

func (e *Engine) finishOnboarding(s *Session) string {
	s.State = Chatting
	s.Memory.Clear()
	return e.script.Line(LineOnboardingDone, s.Profile)
}

func (e *Engine) prompt(s *Session, step int) string {
	p, err := e.script.PromptFor(step, s.Profile)
	if err != nil {
		e.log.Error().Err(err).Int("step", step).Msg("render onboarding prompt")
	}
	return p
}

// chat runs one generation turn. Generation failures are absorbed: the
// apology replaces the reply and is recorded like any assistant turn.
func (e *Engine) chat(ctx context.Context, s *Session, text string, typing func(), turnID string) (string, bool) {
	messages := BuildMessagesForLLM(e.script, s.Profile, s.Memory, text)
	if typing != nil {
		typing()
	}
	LogLLMCall(e.log, "chat", messages)

	reply, err := e.gen.Generate(ctx, messages)
	fallback := false
	if err != nil {
		e.log.Warn().Err(err).Str("turn", turnID).Str("user", s.UserID).Msg("generation failed, sending fallback")
		reply = e.script.Line(LineFallback, s.Profile)
		fallback = true
	} else {
		e.log.Debug().Str("turn", turnID).Str("reply", logging.Preview(reply, 150)).Msg("reply")
	}

	s.Memory.AppendExchange(text, reply)
	return reply, fallback
}
