package fetch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// HTTPOpener opens sessions that fetch search pages over plain HTTP and
// parse them with ExtractCandidates.
type HTTPOpener struct {
	opts      Options
	transport http.RoundTripper
	retryWait time.Duration
}

func NewHTTPOpener(opts Options) *HTTPOpener {
	return &HTTPOpener{opts: opts.withDefaults(), retryWait: time.Second}
}

// WithTransport sets the round tripper used by new sessions.
func (o *HTTPOpener) WithTransport(rt http.RoundTripper) *HTTPOpener {
	o.transport = rt
	return o
}

// WithRetryDelay sets the base delay between attempts.
func (o *HTTPOpener) WithRetryDelay(d time.Duration) *HTTPOpener {
	o.retryWait = d
	return o
}

// Open creates a session with its own cookie jar, so cookies set by the
// source persist across the session's fetches like a browser profile.
func (o *HTTPOpener) Open(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Transport: o.transport}
	return &httpSession{opts: o.opts, client: client, retryWait: o.retryWait}, nil
}

type httpSession struct {
	opts      Options
	client    *http.Client
	retryWait time.Duration
}

func (s *httpSession) Fetch(ctx context.Context, term, region string, limit int) ([]domain.Candidate, error) {
	pageURL := SearchURL(s.opts.URLTemplate, term, region)

	var candidates []domain.Candidate
	var lastErr *Error
	err := retry.Do(
		func() error {
			result, err := s.fetchOnce(ctx, pageURL, limit)
			if err != nil {
				lastErr = Classify(err)
				if lastErr.Kind == KindBlocked || lastErr.Kind == KindParseFailure {
					return retry.Unrecoverable(lastErr)
				}
				return lastErr
			}
			candidates = result
			return nil
		},
		retry.Attempts(s.opts.Retries),
		retry.Delay(s.retryWait),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(s.retryWait),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("fetch: retrying term=%q region=%s attempt=%d error=%v", term, region, n+1, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Classify(ctx.Err())
		}
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, Classify(err)
	}
	return candidates, nil
}

func (s *httpSession) fetchOnce(ctx context.Context, pageURL string, limit int) ([]domain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, ParseFailure(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Blocked(fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Blocked(fmt.Errorf("HTTP %d rate limited", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if isLoginURL(resp.Request.URL.String()) {
		return nil, Blocked(ErrLoginRedirect)
	}

	return ExtractCandidates(resp.Body, resp.Request.URL.String(), s.opts, limit)
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
