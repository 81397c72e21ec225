// Package app assembles the session engine shared by every entry point.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/ai"
	"github.com/keshon/sophia/internal/config"
	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/internal/mind"
	"github.com/keshon/sophia/internal/storage"
)

// summaryTemperature keeps digests factual.
const summaryTemperature = 0.3

type App struct {
	Config   *config.Config
	Engine   *mind.Engine
	Registry *mind.Registry
	Journal  *storage.Storage
	Log      zerolog.Logger
}

// New wires script, model client, engine, journal and registry from cfg.
// cfg must already be validated. ctx bounds the journal's background saves.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.Component("app")

	script, err := mind.LoadScript(cfg.Onboarding.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("load onboarding script: %w", err)
	}

	client := ai.NewClient(cfg.Model)
	params := client.Params()
	params.Temperature = summaryTemperature
	summarizer := mind.NewLLMSummarizer(client.WithParams(params))

	engine := mind.NewEngine(script, client, mind.Options{
		AskNickname:            cfg.Onboarding.AskNickname,
		AskConsent:             cfg.Onboarding.AskConsent,
		MaxTurns:               cfg.Memory.MaxTurns,
		ConsolidationThreshold: cfg.Memory.ConsolidationThreshold,
	})

	journal, err := storage.New(ctx, cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	registry := mind.NewRegistry(engine, summarizer,
		mind.WithJournal(journal),
		mind.WithConsolidationTimeout(cfg.Model.Timeout),
	)

	log.Info().
		Str("model", cfg.Model.Name).
		Int("steps", script.StepCount()).
		Int("max_turns", cfg.Memory.MaxTurns).
		Int("consolidation_threshold", cfg.Memory.ConsolidationThreshold).
		Bool("ask_nickname", cfg.Onboarding.AskNickname).
		Bool("ask_consent", cfg.Onboarding.AskConsent).
		Msg("session engine ready")

	return &App{Config: cfg, Engine: engine, Registry: registry, Journal: journal, Log: log}, nil
}

// Close stops the registry, then flushes the journal.
func (a *App) Close() {
	a.Registry.Close()
	if err := a.Journal.Close(); err != nil {
		a.Log.Error().Err(err).Msg("closing journal")
	}
}
