package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/sophia/internal/ai"
	"github.com/keshon/sophia/internal/mind"
	"github.com/keshon/sophia/internal/storage"
)

type echoProvider struct{}

func (echoProvider) Generate(_ context.Context, msgs []ai.Message) (string, error) {
	return "écho: " + msgs[len(msgs)-1].Content, nil
}

type fakeHistory map[string][]storage.Event

func (f fakeHistory) History(userID string) ([]storage.Event, error) {
	return f[userID], nil
}

func newTestServer(t *testing.T, history History) *httptest.Server {
	t.Helper()
	script, err := mind.DefaultScript()
	require.NoError(t, err)
	engine := mind.NewEngine(script, echoProvider{}, mind.Options{MaxTurns: 10, ConsolidationThreshold: 16})
	reg := mind.NewRegistry(engine, mind.NewLLMSummarizer(echoProvider{}))

	srv := httptest.NewServer(NewRouter(NewHandler(reg, history)))
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestConversationOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/users/42"

	resp, out := do(t, http.MethodPost, base+"/messages", `{"text":"je suis Nora"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "onboarding(0)", out["state"])
	assert.Contains(t, out["reply"], "Nora")
	assert.NotEmpty(t, out["turn_id"])

	for _, answer := range []string{"la danse", "la mer", "féminin"} {
		resp, _ = do(t, http.MethodPost, base+"/messages", `{"text":"`+answer+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, out = do(t, http.MethodPost, base+"/messages", `{"text":"bonsoir"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chatting", out["state"])
	assert.Equal(t, "écho: bonsoir", out["reply"])
	assert.Equal(t, false, out["fallback"])

	resp, _ = do(t, http.MethodPost, base+"/facts", `{"key":"sujets_abordes","value":["travail"]}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := out["profile"].(map[string]any)
	assert.Equal(t, "Nora", profile["name"])
	assert.Equal(t, "féminin", profile["gender"])
	assert.Equal(t, []any{"travail"}, profile["dynamic_info"].(map[string]any)["sujets_abordes"])
	assert.Len(t, out["transcript"], 2)

	resp, out = do(t, http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_name", out["state"])
	assert.NotEmpty(t, out["reply"])

	resp, out = do(t, http.MethodGet, srv.URL+"/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["sessions"])
	assert.EqualValues(t, 0, out["consolidations"])
	assert.Equal(t, "No jobs are running.", out["jobs"])
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown session", http.MethodGet, "/v1/users/ghost", "", http.StatusNotFound},
		{"bad json", http.MethodPost, "/v1/users/1/messages", "{", http.StatusBadRequest},
		{"fact without key", http.MethodPost, "/v1/users/1/facts", `{"value":"x"}`, http.StatusBadRequest},
		{"fact without value", http.MethodPost, "/v1/users/1/facts", `{"key":"x"}`, http.StatusBadRequest},
		{"journal disabled", http.MethodGet, "/v1/users/1/journal", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestJournalAndHealth(t *testing.T) {
	history := fakeHistory{"7": {{Kind: mind.EventSessionStarted}}}
	srv := newTestServer(t, history)

	resp, out := do(t, http.MethodGet, srv.URL+"/v1/users/7/journal", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := out["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "session_started", events[0].(map[string]any)["kind"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNormalizeFact(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeFact([]any{"a", "b"}))
	assert.Equal(t, map[string]string{"Julie": "sœur"}, normalizeFact(map[string]any{"Julie": "sœur"}))
	assert.Equal(t, []any{"a", 1.0}, normalizeFact([]any{"a", 1.0}))
	assert.Equal(t, "joyeuse", normalizeFact("joyeuse"))
}
