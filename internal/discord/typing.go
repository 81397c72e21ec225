package discord

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Discord shows "typing" for about ten seconds per call.
const defaultTypingInterval = 8 * time.Second

// typingLoop keeps the typing indicator alive while a reply is generated.
// start may be called from another goroutine; stop is idempotent.
type typingLoop struct {
	api       channelAPI
	channelID string
	interval  time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func newTypingLoop(api channelAPI, channelID string, interval time.Duration, log zerolog.Logger) *typingLoop {
	return &typingLoop{
		api:       api,
		channelID: channelID,
		interval:  interval,
		log:       log,
		done:      make(chan struct{}),
	}
}

func (t *typingLoop) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	t.wg.Add(1)
	go t.run()
}

func (t *typingLoop) run() {
	defer t.wg.Done()
	t.ping()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.ping()
		}
	}
}

func (t *typingLoop) ping() {
	if err := t.api.ChannelTyping(t.channelID); err != nil {
		t.log.Debug().Err(err).Str("channel", t.channelID).Msg("typing indicator failed")
	}
}

func (t *typingLoop) stop() {
	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.done)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
