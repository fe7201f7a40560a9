package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// BrowserConfig configures the headless browser adapter.
type BrowserConfig struct {
	Options Options

	// RemoteURL connects to an already running Chrome (DevTools websocket).
	// Empty launches a local Chrome per session.
	RemoteURL string
	Headless  bool

	// Scrolls is how many times the result page is scrolled to load more
	// listings before it is parsed.
	Scrolls     int
	ScrollPause time.Duration
}

// BrowserOpener opens one browser per session. Sessions are expensive; the
// dispatcher keeps one per worker for the whole cycle.
type BrowserOpener struct {
	cfg BrowserConfig
}

func NewBrowserOpener(cfg BrowserConfig) *BrowserOpener {
	cfg.Options = cfg.Options.withDefaults()
	if cfg.Scrolls == 0 {
		cfg.Scrolls = 3
	}
	if cfg.ScrollPause == 0 {
		cfg.ScrollPause = 2 * time.Second
	}
	return &BrowserOpener{cfg: cfg}
}

func (o *BrowserOpener) Open(ctx context.Context) (Session, error) {
	var wsURL string
	var l *launcher.Launcher

	if o.cfg.RemoteURL != "" {
		wsURL = o.cfg.RemoteURL
	} else {
		l = launcher.New().Headless(o.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		l = l.Set("lang", "pt-BR")

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	return &browserSession{cfg: o.cfg, browser: b, launcher: l}, nil
}

type browserSession struct {
	cfg      BrowserConfig
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (s *browserSession) Fetch(ctx context.Context, term, region string, limit int) ([]domain.Candidate, error) {
	pageURL := SearchURL(s.cfg.Options.URLTemplate, term, region)

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, Classify(fmt.Errorf("browser: create tab: %w", err))
	}
	defer page.Close()

	p := page.Context(ctx)
	if err := p.Navigate(pageURL); err != nil {
		return nil, Classify(fmt.Errorf("browser: navigate: %w", err))
	}
	if err := p.WaitLoad(); err != nil {
		return nil, Classify(fmt.Errorf("browser: wait load: %w", err))
	}

	info, err := p.Info()
	if err == nil && isLoginURL(info.URL) {
		return nil, Blocked(ErrLoginRedirect)
	}

	for i := 0; i < s.cfg.Scrolls; i++ {
		if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, Classify(ctx.Err())
		case <-time.After(s.cfg.ScrollPause):
		}
	}

	html, err := p.HTML()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, Classify(err)
		}
		return nil, ParseFailure(fmt.Errorf("browser: read html: %w", err))
	}

	return ExtractCandidates(strings.NewReader(html), pageURL, s.cfg.Options, limit)
}

// Close disconnects from the browser and kills a locally launched Chrome.
func (s *browserSession) Close() error {
	err := s.browser.Close()
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	if err != nil {
		log.Printf("fetch: browser close: %v", err)
	}
	return err
}
