// Package interval parses the check interval descriptors accepted for
// keywords: bare seconds ("120"), Go durations ("2m30s"), and cron
// descriptors or expressions ("@every 5m", "@hourly", "*/10 * * * *").
package interval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Minimum is the shortest interval a keyword may use.
const Minimum = 30 * time.Second

var ErrTooShort = fmt.Errorf("interval shorter than %s", Minimum)

// samples bounds how many firings are inspected for a cron expression.
const samples = 16

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse returns the polling interval described by s. Cron expressions are
// reduced to the shortest gap between their upcoming firings.
func (p *Parser) Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty interval")
	}

	d, err := p.parse(s)
	if err != nil {
		return 0, err
	}
	if d < Minimum {
		return 0, fmt.Errorf("%q: %w", s, ErrTooShort)
	}
	return d, nil
}

func (p *Parser) parse(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	sched, err := p.parser.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parse interval %q: %w", s, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return every.Delay, nil
	}

	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := sched.Next(ref)
	shortest := time.Duration(0)
	for i := 0; i < samples; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); shortest == 0 || gap < shortest {
			shortest = gap
		}
		prev = next
	}
	if shortest == 0 {
		return 0, fmt.Errorf("parse interval %q: schedule never repeats", s)
	}
	return shortest, nil
}

// Format renders d the way the CLI prints intervals.
func Format(d time.Duration) string {
	if d%time.Minute == 0 && d >= time.Minute {
		return d.String()
	}
	return strconv.Itoa(int(d/time.Second)) + "s"
}
