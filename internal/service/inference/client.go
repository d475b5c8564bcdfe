// Package inference wraps the local Ollama generate API with the retry,
// cancellation and failure semantics the session engine depends on.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ollama/ollama/api"
)

// Terminal error taxonomy. Messages are user-visible: the session engine
// stores them verbatim as assistant-turn content when a cycle fails.
var (
	ErrTimeout            = errors.New("the model backend timed out")
	ErrBackendUnavailable = errors.New("could not connect to the model backend, please ensure it is running")
	ErrRetriesExhausted   = errors.New("maximum retries reached, please try again later")
	ErrMalformedResponse  = errors.New("the model backend returned an unreadable response")
)

// errBadStatus marks a retryable non-success HTTP status.
var errBadStatus = errors.New("backend returned a non-success status")

// errStopped aborts a stream when the cancel token fires. It never escapes
// Generate: cancellation is a graceful short-circuit, not a failure.
var errStopped = errors.New("generation stopped")

// CancelToken is a cooperative cancellation flag checked between stream
// fragments. Safe for concurrent use.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel requests that the in-flight stream stop at the next fragment
// boundary.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested. A nil token is never
// cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Config controls the client's model, timeout and retry behavior.
type Config struct {
	// Host is the Ollama base URL, e.g. http://localhost:11434.
	Host string
	// Model is the model identifier sent with every request.
	Model string
	// Timeout bounds a single request, streaming included.
	Timeout time.Duration
	// MaxRetries caps blocking-mode attempts.
	MaxRetries int
	// RetryWait is slept after a non-success status before retrying.
	RetryWait time.Duration
	// TimeoutWait is slept after a timeout before retrying.
	TimeoutWait time.Duration
}

// Client issues prompt requests against a local Ollama server.
type Client struct {
	api         *api.Client
	model       string
	timeout     time.Duration
	maxRetries  int
	retryWait   time.Duration
	timeoutWait time.Duration
}

// NewClient builds a client for the configured backend.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("model must not be empty")
	}
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse backend host: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.TimeoutWait <= 0 {
		cfg.TimeoutWait = 2 * time.Second
	}

	return &Client{
		api:         api.NewClient(base, http.DefaultClient),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryWait:   cfg.RetryWait,
		timeoutWait: cfg.TimeoutWait,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Healthy probes the backend. A failure means no generation request should
// be attempted.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Generate sends the prompt to the backend and returns the full reply.
//
// In streaming mode the cancel token is checked before each fragment is
// consumed; once it fires, the accumulated partial text is returned as the
// final reply with a nil error. onDelta observes each fragment as it
// arrives.
//
// In blocking mode the request is retried with a bounded attempt counter:
// a non-success status waits RetryWait, a timeout waits TimeoutWait, and the
// cap surfaces ErrRetriesExhausted. A refused connection fails immediately
// with ErrBackendUnavailable since retrying a down service wastes the
// timeout budget.
func (c *Client) Generate(ctx context.Context, prompt string, stream bool, cancel *CancelToken, onDelta func(fragment string)) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt must not be empty")
	}
	if stream {
		return c.generateStream(ctx, prompt, cancel, onDelta)
	}
	return c.generateBlocking(ctx, prompt)
}

func (c *Client) generateStream(ctx context.Context, prompt string, cancel *CancelToken, onDelta func(string)) (string, error) {
	ctx, cancelCtx := context.WithTimeout(ctx, c.timeout)
	defer cancelCtx()

	streaming := true
	req := &api.GenerateRequest{Model: c.model, Prompt: prompt, Stream: &streaming}

	var reply strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		if cancel.Cancelled() {
			return errStopped
		}
		if resp.Response != "" {
			reply.WriteString(resp.Response)
			if onDelta != nil {
				onDelta(resp.Response)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopped) {
		return reply.String(), c.classify(err)
	}
	return reply.String(), nil
}

func (c *Client) generateBlocking(ctx context.Context, prompt string) (string, error) {
	streaming := false
	req := &api.GenerateRequest{Model: c.model, Prompt: prompt, Stream: &streaming}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, c.timeout)
		var reply strings.Builder
		err := c.api.Generate(attemptCtx, req, func(resp api.GenerateResponse) error {
			reply.WriteString(resp.Response)
			return nil
		})
		cancelAttempt()

		if err == nil {
			return reply.String(), nil
		}

		lastErr = c.classify(err)
		switch {
		case errors.Is(lastErr, ErrBackendUnavailable), errors.Is(lastErr, ErrMalformedResponse),
			errors.Is(lastErr, context.Canceled):
			return "", lastErr
		case errors.Is(lastErr, ErrTimeout):
			time.Sleep(c.timeoutWait)
		default:
			time.Sleep(c.retryWait)
		}
	}

	return "", fmt.Errorf("%w (%v)", ErrRetriesExhausted, lastErr)
}

// classify maps transport failures onto the package error taxonomy.
func (c *Client) classify(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrBackendUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrMalformedResponse
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %s", errBadStatus, statusErr.Error())
	}
	return fmt.Errorf("%w: %v", errBadStatus, err)
}
