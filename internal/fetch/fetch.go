// Package fetch adapts external classifieds sources into candidate listings.
//
// A Session is owned by exactly one worker at a time and reused for
// consecutive fetches; Close must be called on every exit path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// Session fetches candidates for one (term, region) pair at a time.
type Session interface {
	// Fetch returns at most limit candidates. Errors are *Error.
	Fetch(ctx context.Context, term, region string, limit int) ([]domain.Candidate, error)
	Close() error
}

// Opener creates sessions. An Open failure means the adapter itself is
// unusable (e.g. the browser cannot be launched).
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindBlocked      Kind = "blocked"
	KindParseFailure Kind = "parse_failure"
	KindUnknown      Kind = "unknown"
)

// Error is the only error type a Session returns from Fetch.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrLoginRedirect is wrapped in a KindBlocked error when the source
// redirects to a login wall.
var ErrLoginRedirect = errors.New("redirected to login")

func Blocked(err error) *Error      { return &Error{Kind: KindBlocked, Err: err} }
func ParseFailure(err error) *Error { return &Error{Kind: KindParseFailure, Err: err} }

// Classify converts any error into *Error. Existing *Error values pass through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

// KindOf returns the kind of a fetch error, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// Options configures the page-based adapters.
type Options struct {
	// URLTemplate is the search URL; {region} and {term} are replaced with
	// the escaped values.
	URLTemplate string

	// ItemSelector matches one element per listing, usually its anchor.
	ItemSelector string

	// IDPattern extracts the source id from the listing URL; the first
	// capture group is the id.
	IDPattern *regexp.Regexp

	UserAgent string
	Retries   uint
}

const (
	DefaultURLTemplate  = "https://www.facebook.com/marketplace/{region}/search?query={term}&sortBy=creation_time_descend&exact=false"
	DefaultItemSelector = `a[href*="/marketplace/item/"]`
	DefaultIDPattern    = `/marketplace/item/(\d+)`
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// DefaultOptions returns options for the default marketplace layout.
func DefaultOptions() Options {
	return Options{
		URLTemplate:  DefaultURLTemplate,
		ItemSelector: DefaultItemSelector,
		IDPattern:    regexp.MustCompile(DefaultIDPattern),
		UserAgent:    DefaultUserAgent,
		Retries:      3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.URLTemplate == "" {
		o.URLTemplate = d.URLTemplate
	}
	if o.ItemSelector == "" {
		o.ItemSelector = d.ItemSelector
	}
	if o.IDPattern == nil {
		o.IDPattern = d.IDPattern
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Retries == 0 {
		o.Retries = d.Retries
	}
	return o
}

// SearchURL renders the URL template for term and region.
func SearchURL(template, term, region string) string {
	r := strings.NewReplacer(
		"{region}", url.PathEscape(region),
		"{term}", url.QueryEscape(term),
	)
	return r.Replace(template)
}

func isLoginURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(parsed.Path), "login")
}
