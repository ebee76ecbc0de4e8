// Package webhook delivers job notifications to the orchestrator's callback URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// DeliveryIDHeader carries a unique id per delivery attempt group so receivers can de-duplicate retries.
const DeliveryIDHeader = "X-Webhook-Delivery-Id"

// ErrEmptyURL is returned when a payload has nowhere to go.
var ErrEmptyURL = errors.New("webhook url is empty")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures a Sender.
type Config struct {
	Timeout    time.Duration
	RetryLimit int
	// Backoff is the base delay; attempt n waits n*Backoff.
	Backoff time.Duration
	// AuthHeader and AuthToken add a static credential to every request.
	AuthHeader string
	AuthToken  string
	// BodyExpr is an optional JMESPath expression applied to the payload before sending.
	BodyExpr string
	Client   *http.Client
	Logger   *slog.Logger
}

// Sender posts JSON payloads with bounded retries.
type Sender struct {
	client     *http.Client
	retryLimit int
	backoff    time.Duration
	authHeader string
	authToken  string
	shape      func(any) (any, error)
	logger     *slog.Logger
}

var _ core.WebhookSender = (*Sender)(nil)

// NewSender validates cfg and builds a Sender.
func NewSender(cfg Config) (*Sender, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := max(cfg.RetryLimit, 0)
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sender{
		client:     hc,
		retryLimit: retries,
		backoff:    backoff,
		authHeader: strings.TrimSpace(cfg.AuthHeader),
		authToken:  cfg.AuthToken,
		logger:     logger.With("component", "webhook_sender"),
	}
	if expr := strings.TrimSpace(cfg.BodyExpr); expr != "" {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile webhook body expression: %w", err)
		}
		s.shape = compiled.Search
	}
	if s.authHeader != "" && s.authToken == "" {
		return nil, errors.New("webhook auth header set without a token")
	}
	return s, nil
}

// Send posts payload to url. Network errors, 429 and 5xx responses are retried
// with linear backoff; other 4xx responses fail immediately.
func (s *Sender) Send(ctx context.Context, url string, payload model.WebhookPayload) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyURL
	}
	body, err := s.encode(payload)
	if err != nil {
		return err
	}
	deliveryID := uuid.NewString()

	attempts := s.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = s.post(ctx, url, deliveryID, body)
		if err == nil {
			return nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		s.logger.DebugContext(ctx, "webhook attempt failed",
			"job_id", payload.ID,
			"attempt", attempt+1,
			"error", err,
		)
		timer := time.NewTimer(time.Duration(attempt+1) * s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (s *Sender) encode(payload model.WebhookPayload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}
	if s.shape == nil {
		return raw, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	shaped, err := s.shape(doc)
	if err != nil {
		return nil, fmt.Errorf("apply webhook body expression: %w", err)
	}
	out, err := json.Marshal(shaped)
	if err != nil {
		return nil, fmt.Errorf("encode shaped webhook payload: %w", err)
	}
	return out, nil
}

func (s *Sender) post(ctx context.Context, url, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryIDHeader, deliveryID)
	if s.authHeader != "" {
		req.Header.Set(s.authHeader, s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
