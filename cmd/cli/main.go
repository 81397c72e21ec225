// cmd/cli/main.go runs one conversation in the terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/keshon/sophia/internal/app"
	"github.com/keshon/sophia/internal/config"
	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/internal/mind"
)

const userID = "console"

func main() {
	os.Exit(run())
}

// run owns every deferred cleanup; main only turns its result into an exit code.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration rejected")
		return 1
	}
	// Keep the terminal for the conversation unless asked otherwise.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	logging.Setup(cfg.Log)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot := a.Engine.Script().BotName()
	greeting, err := a.Registry.Reset(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("start session")
		return 1
	}
	fmt.Printf("%s: %s\n", bot, greeting)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return 0
		case l, ok := <-lines:
			if !ok {
				return 0
			}
			line = l
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return 0
		case "/start":
			greeting, err := a.Registry.Reset(ctx, userID)
			if err != nil {
				log.Error().Err(err).Msg("restart session")
				return 1
			}
			fmt.Printf("%s: %s\n", bot, greeting)
			continue
		}

		turn, err := a.Registry.Dispatch(ctx, mind.Inbound{
			UserID: userID,
			Text:   line,
			Typing: func() { fmt.Printf("(%s écrit...)\n", bot) },
		})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return 0
			}
			log.Error().Err(err).Msg("conversation stopped")
			return 1
		}
		if turn.Reply != "" {
			fmt.Printf("%s: %s\n", bot, turn.Reply)
		}
	}
}
