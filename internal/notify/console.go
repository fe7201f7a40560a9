package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// ConsoleSink writes listings to a terminal. Detailed mode prints a framed
// block per listing; simple mode prints one line.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	detailed bool
}

func NewConsoleSink(detailed bool) *ConsoleSink {
	return &ConsoleSink{w: os.Stdout, detailed: detailed}
}

// WithWriter redirects output. Used by tests.
func (s *ConsoleSink) WithWriter(w io.Writer) *ConsoleSink {
	s.w = w
	return s
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	var msg string
	if s.detailed {
		msg = formatDetailed(l)
	} else {
		msg = formatSimple(l) + "\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, msg); err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func formatDetailed(l domain.ListingRecord) string {
	sep := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString("\n" + sep + "\n")
	b.WriteString("NEW LISTING FOUND\n")
	b.WriteString(sep + "\n")
	fmt.Fprintf(&b, "Term:     %s\n", l.Term)
	fmt.Fprintf(&b, "Region:   %s\n", l.Region)
	fmt.Fprintf(&b, "Found at: %s\n\n", l.DiscoveredAt.Local().Format("02/01/2006 15:04:05"))
	fmt.Fprintf(&b, "Title:    %s\n", orDefault(l.Title, "untitled"))
	fmt.Fprintf(&b, "Price:    %s\n", orDefault(l.Price, "not informed"))
	fmt.Fprintf(&b, "Location: %s\n\n", orDefault(l.Location, "not informed"))
	fmt.Fprintf(&b, "Link:     %s\n", l.URL)
	b.WriteString(sep + "\n")
	return b.String()
}

func formatSimple(l domain.ListingRecord) string {
	title := orDefault(l.Title, "untitled")
	if r := []rune(title); len(r) > 50 {
		title = string(r[:47]) + "..."
	}
	return fmt.Sprintf("[%s] %s in %s: %s - %s",
		l.DiscoveredAt.Local().Format("15:04:05"), l.Term, l.Region, title, orDefault(l.Price, "no price"))
}
