package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/id"
)

const (
	HeaderSignature = "X-Optimizer-Signature"
	HeaderTimestamp = "X-Optimizer-Timestamp"
	HeaderEvent     = "X-Optimizer-Event"
	HeaderDelivery  = "X-Optimizer-Delivery"
)

const (
	EventExportCompleted = "export.completed"
	EventExportFailed    = "export.failed"
)

// ErrRejected marks a delivery the receiver refused with a 4xx status that
// is not worth retrying.
var ErrRejected = errors.New("webhook rejected")

// Envelope is the JSON body of every delivery. Receivers verify the
// signature over the raw body before decoding it.
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
	}
}

// Send posts data wrapped in an Envelope to endpoint. An empty endpoint is a
// no-op. 5xx responses, 408, 429 and transport errors are retried with
// exponential backoff; other 4xx responses stop immediately with ErrRejected.
func (c *Client) Send(ctx context.Context, endpoint, event string, data any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	envelope := Envelope{
		ID:        id.New(),
		Event:     event,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(envelope.CreatedAt.Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.deliver(ctx, endpoint, envelope, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRejected) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery %s failed after %d attempts: %w", envelope.ID, c.maxAttempts, lastErr)
}

func (c *Client) deliver(ctx context.Context, endpoint string, envelope Envelope, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "imageoptimizer-webhook/1")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, envelope.Event)
	req.Header.Set(HeaderDelivery, envelope.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status=%d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
