package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/sophia/internal/config"
	"github.com/keshon/sophia/internal/mind"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StoragePath: filepath.Join(t.TempDir(), "journal.json"),
		Model: config.Model{
			APIURL:        "http://127.0.0.1:1",
			APIKey:        "k",
			Name:          "m",
			Timeout:       time.Second,
			MaxTokens:     10,
			RatePerSecond: 1,
			RateMax:       2,
		},
		Memory:     config.Memory{MaxTurns: 10, ConsolidationThreshold: 16},
		Onboarding: config.Onboarding{AskNickname: true},
	}
}

func TestNew_WiresRegistryAndJournal(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	turn, err := a.Registry.Dispatch(context.Background(), mind.Inbound{UserID: "u", Text: "je suis Nora"})
	require.NoError(t, err)
	assert.Equal(t, mind.AwaitingNickname, turn.State)

	events, err := a.Journal.History("u")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, mind.EventSessionStarted, events[0].Kind)
}

func TestNew_BadScript(t *testing.T) {
	cfg := testConfig(t)
	cfg.Onboarding.ScriptPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
