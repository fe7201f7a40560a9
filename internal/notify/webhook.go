package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/metrics"
)

const (
	HeaderDeliveryID = "X-Marketwatch-Delivery-ID"
	HeaderListingID  = "X-Marketwatch-Listing-ID"
	HeaderSignature  = "X-Marketwatch-Signature"
)

// Breaker guards a webhook URL against repeated failures.
type Breaker interface {
	Allow(url string) error
	RecordSuccess(url string)
	RecordFailure(url string)
}

// WebhookMetrics defines the interface for recording webhook delivery metrics.
type WebhookMetrics interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	RetryAttempt(retryable bool)
}

type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration

	// Attempts includes the first request.
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

// WebhookSink POSTs each listing as JSON with an HMAC-SHA256 signature.
type WebhookSink struct {
	client  *http.Client
	cfg     WebhookConfig
	breaker Breaker        // optional
	metrics WebhookMetrics // optional
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &WebhookSink{client: &http.Client{}, cfg: cfg}
}

func (s *WebhookSink) WithBreaker(b Breaker) *WebhookSink {
	s.breaker = b
	return s
}

// WithMetrics attaches a metrics sink to the webhook sink.
func (s *WebhookSink) WithMetrics(m WebhookMetrics) *WebhookSink {
	s.metrics = m
	return s
}

// WithHTTPClient replaces the HTTP client. Used by tests.
func (s *WebhookSink) WithHTTPClient(c *http.Client) *WebhookSink {
	s.client = c
	return s
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	if s.breaker != nil {
		if err := s.breaker.Allow(s.cfg.URL); err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
	}

	body, err := json.Marshal(NewPayload(l))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var last WebhookResult
	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			last = s.send(ctx, uuid.NewString(), l.ID.String(), body)
			if s.metrics != nil {
				s.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(last.StatusCode, last.Error), last.Duration)
			}
			if last.IsSuccess() {
				return nil
			}
			failure := last.Error
			if failure == nil {
				failure = fmt.Errorf("status %d", last.StatusCode)
			}
			if !last.IsRetryable() {
				return retry.Unrecoverable(failure)
			}
			return failure
		},
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.Delay),
		retry.MaxDelay(s.cfg.MaxDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("notify: webhook listing=%s attempt=%d failed, retrying: %v", l.ID, n+1, err)
			if s.metrics != nil {
				s.metrics.RetryAttempt(last.IsRetryable())
			}
		}),
	)

	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(s.cfg.URL)
		} else {
			s.breaker.RecordSuccess(s.cfg.URL)
		}
	}
	if err != nil {
		if last.Error != nil {
			return fmt.Errorf("webhook: send: %w", last.Error)
		}
		return fmt.Errorf("webhook: status %d after %d attempts", last.StatusCode, attempt)
	}
	return nil
}

func (s *WebhookSink) send(ctx context.Context, deliveryID, listingID string, body []byte) WebhookResult {
	start := time.Now()

	ctxTimeout, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, deliveryID)
	req.Header.Set(HeaderListingID, listingID)
	if s.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, ComputeSignature(s.cfg.Secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return WebhookResult{Error: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
