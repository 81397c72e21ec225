package mind

import (
	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/ai"
	"github.com/keshon/sophia/internal/logging"
)

// LogLLMCall logs the outgoing prompt at debug level. Call immediately
// before provider.Generate.
func LogLLMCall(l zerolog.Logger, action string, messages []ai.Message) {
	if l.GetLevel() > zerolog.DebugLevel || zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}
	l.Debug().Str("action", action).Int("messages", len(messages)).Msg("llm call")
	if len(messages) == 0 {
		return
	}
	l.Debug().
		Int("system_len", len(messages[0].Content)).
		Str("system_preview", logging.Preview(messages[0].Content, 500)).
		Msg("llm system prompt")
	for i := 1; i < len(messages); i++ {
		m := messages[i]
		l.Debug().
			Int("idx", i).
			Str("role", m.Role).
			Int("len", len(m.Content)).
			Str("preview", logging.Preview(m.Content, 200)).
			Msg("llm message")
	}
}
