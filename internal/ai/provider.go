package ai

import (
	"context"
	"errors"
	"fmt"
)

// Roles understood by the chat/completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider turns an ordered list of role-tagged messages into one reply.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ErrTransient marks every generation failure: transport errors, non-2xx
// responses, timeouts and malformed bodies. None of them are retried here.
var ErrTransient = errors.New("generation failed")

// Error is a non-2xx answer from the backend.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation backend http %d: %s", e.Status, e.Body)
}

// StatusCode lets rate limiters classify the failure.
func (e *Error) StatusCode() int { return e.Status }

func (e *Error) Is(target error) bool { return target == ErrTransient }
