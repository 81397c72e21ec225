package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/sophia/internal/config"
	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/pkg/ratelimit"
)

const maxResponseBytes = 256 * 1024

// Params are the sampling parameters sent with every request.
type Params struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Client talks to an OpenAI-compatible chat/completions endpoint
// (Together by default).
type Client struct {
	url     string
	apiKey  string
	params  Params
	timeout time.Duration
	http    *http.Client
	limiter *ratelimit.AdaptiveLimiter
	log     zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLimiter replaces the adaptive limiter; nil disables throttling.
func WithLimiter(l *ratelimit.AdaptiveLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(cfg config.Model, opts ...Option) *Client {
	c := &Client{
		url:    cfg.APIURL,
		apiKey: cfg.APIKey,
		params: Params{
			Model:            cfg.Name,
			Temperature:      cfg.Temperature,
			MaxTokens:        cfg.MaxTokens,
			TopP:             cfg.TopP,
			PresencePenalty:  cfg.PresencePenalty,
			FrequencyPenalty: cfg.FrequencyPenalty,
		},
		timeout: cfg.Timeout,
		http:    &http.Client{},
		log:     logging.Component("ai"),
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = ratelimit.NewAdaptiveLimiter(
			rate.Limit(cfg.RatePerSecond), rate.Limit(cfg.RatePerSecond/4),
			rate.Limit(cfg.RateMax), 0.5, 0.5)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params returns the sampling parameters used by Generate.
func (c *Client) Params() Params { return c.params }

// WithParams returns a Provider sharing this client's transport, limiter
// and timeout but sampling with p.
func (c *Client) WithParams(p Params) Provider {
	return providerFunc(func(ctx context.Context, messages []Message) (string, error) {
		return c.Complete(ctx, messages, p)
	})
}

func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	return c.Complete(ctx, messages, c.params)
}

// Complete performs one bounded request. Every failure wraps ErrTransient.
func (c *Client) Complete(ctx context.Context, messages []Message, p Params) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limiter: %w", ErrTransient, err)
		}
	}

	started := time.Now()
	reply, err := c.do(ctx, messages, p)
	if c.limiter != nil {
		c.limiter.Observe(err)
	}

	var ev *zerolog.Event
	if err != nil {
		ev = c.log.Warn().Err(err)
	} else {
		ev = c.log.Debug()
	}
	if c.limiter != nil {
		ev = ev.Float64("rate", c.limiter.CurrentLimit()).Int("burst", c.limiter.CurrentBurst())
	}
	ev.Str("model", p.Model).
		Int("messages", len(messages)).
		Dur("took", time.Since(started)).
		Msg("chat completion")

	return reply, err
}

func (c *Client) do(ctx context.Context, messages []Message, p Params) (string, error) {
	payload := map[string]any{
		"model":             p.Model,
		"messages":          messages,
		"temperature":       p.Temperature,
		"max_tokens":        p.MaxTokens,
		"top_p":             p.TopP,
		"presence_penalty":  p.PresencePenalty,
		"frequency_penalty": p.FrequencyPenalty,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTransient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode, Body: truncate(body)}
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return "", fmt.Errorf("%w: backend returned html", ErrTransient)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: unmarshal: %v body=%s", ErrTransient, err, truncate(body))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrTransient)
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrTransient)
	}
	return reply, nil
}

type providerFunc func(ctx context.Context, messages []Message) (string, error)

func (f providerFunc) Generate(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
