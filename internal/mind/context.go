package mind

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/keshon/sophia/internal/ai"
)

// BuildSystemPrompt renders persona, profile and (when present) the long-term
// summary. It is rebuilt on every call since both may have changed.
func BuildSystemPrompt(script *Script, p *Profile, summary string) string {
	var b strings.Builder

	// 1. Persona
	b.WriteString(strings.TrimSpace(script.Persona(p)))
	b.WriteString("\n\n")

	// 2. Profile as indented JSON, accents kept readable
	b.WriteString(script.profileHeader)
	b.WriteString(profileJSON(p))
	b.WriteString("\n")

	// 3. Long-term summary
	if summary = strings.TrimSpace(summary); summary != "" {
		b.WriteString("\n")
		b.WriteString(script.summaryHeader)
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return b.String()
}

// BuildMessagesForLLM returns system + transcript + the new user turn.
func BuildMessagesForLLM(script *Script, p *Profile, mem *Memory, userText string) []ai.Message {
	msgs := make([]ai.Message, 0, mem.Len()+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: BuildSystemPrompt(script, p, mem.Summary())})
	for _, e := range mem.transcript {
		msgs = append(msgs, ai.Message{Role: string(e.Role), Content: e.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: userText})
	return msgs
}

func profileJSON(p *Profile) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
