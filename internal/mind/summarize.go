package mind

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/ai"
	"github.com/keshon/sophia/internal/logging"
)

// SummarizePrompt asks for a compact, factual digest of one conversation window.
const SummarizePrompt = `You are a summarizer. Read the conversation between a user and their companion and write a digest of 2 to 3 sentences, in the third person, about the user. Keep only facts: events, feelings, people, plans and preferences the user shared. Write in the language of the conversation. Output ONLY the digest, no preamble.`

// maxSummarizeInput caps the conversation text sent to the summarizer, in runes.
// The newest lines are kept.
const maxSummarizeInput = 8000

// LLMSummarizer is a Summarizer backed by the generation provider.
type LLMSummarizer struct {
	provider ai.Provider
	log      zerolog.Logger
}

func NewLLMSummarizer(provider ai.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, log: logging.Component("mind")}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, name string, transcript []HistoryEntry) (string, error) {
	if name == "" {
		name = "l'utilisateur"
	}

	var recent strings.Builder
	for _, m := range transcript {
		if m.Role == RoleUser {
			recent.WriteString(name)
		} else {
			recent.WriteString("Companion")
		}
		recent.WriteString(": ")
		recent.WriteString(m.Content)
		recent.WriteString("\n")
	}

	body := recent.String()
	if r := []rune(body); len(r) > maxSummarizeInput {
		body = string(r[len(r)-maxSummarizeInput:])
	}
	content := fmt.Sprintf("User name: %s\n\nConversation:\n%s", name, body)

	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: SummarizePrompt},
		{Role: ai.RoleUser, Content: content},
	}
	LogLLMCall(s.log, "summarize", messages)

	out, err := s.provider.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	digest := strings.TrimSpace(out)
	if digest == "" {
		return "", fmt.Errorf("summarizer returned empty")
	}
	s.log.Debug().Int("digest_len", len(digest)).Str("preview", logging.Preview(digest, 200)).Msg("summarization result")
	return digest, nil
}
