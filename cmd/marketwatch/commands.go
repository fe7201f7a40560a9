package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/config"
	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/interval"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
	"github.com/dalexandrias/marketwatch/internal/store"
)

// errUsage means the arguments were wrong; the flag set already printed why.
var errUsage = errors.New("usage error")

// withBackend loads and validates the configuration, opens the backend and
// runs fn against it.
func withBackend(fn func(ctx context.Context, cfg config.Config, s backend) error) int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	ctx := context.Background()
	s, db, err := openBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	if err := fn(ctx, cfg, s); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return exitRuntimeError
	}
	return exitSuccess
}

func runInit(w io.Writer) int {
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		// openBackend already migrated.
		if cfg.DatabaseDriver == "postgres" {
			fmt.Fprintln(w, "schema ready (postgres)")
		} else {
			fmt.Fprintf(w, "schema ready (%s)\n", cfg.DatabasePath)
		}
		return nil
	})
}

func runSeed(args []string, w io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: marketwatch seed FILE")
		return exitRuntimeError
	}
	seed, err := config.LoadSeed(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		return applySeed(ctx, s, seed, cfg.DefaultInterval, time.Now().UTC(), w)
	})
}

// applySeed creates the seed's keywords and regions. Entries that already
// exist are left untouched.
func applySeed(ctx context.Context, s backend, seed config.Seed, defaultInterval time.Duration, now time.Time, w io.Writer) error {
	var createdKeywords, createdRegions, skipped int

	for _, sk := range seed.Keywords {
		term := normalizeTerm(sk.Term)
		if _, err := s.GetKeywordByTerm(ctx, term); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		every := sk.Parsed
		if every == 0 {
			every = defaultInterval
		}
		err := s.CreateKeyword(ctx, domain.Keyword{
			ID:        uuid.New(),
			Term:      term,
			Interval:  every,
			Active:    sk.IsActive(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, store.ErrConflict) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		createdKeywords++
	}

	for _, sr := range seed.Regions {
		if _, err := s.GetRegionBySlug(ctx, sr.Slug); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		err := s.CreateRegion(ctx, domain.Region{
			ID:        uuid.New(),
			Name:      sr.Name,
			Slug:      sr.Slug,
			Active:    sr.IsActive(),
			CreatedAt: now,
		})
		if errors.Is(err, store.ErrConflict) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		createdRegions++
	}

	fmt.Fprintf(w, "seeded %d keywords, %d regions (%d already present)\n", createdKeywords, createdRegions, skipped)
	return nil
}

func runKeyword(args []string, w io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: marketwatch keyword add|list|update|toggle ...")
		return exitRuntimeError
	}
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		return keywordCommand(ctx, s, args, cfg.DefaultInterval, time.Now().UTC(), w)
	})
}

func keywordCommand(ctx context.Context, s backend, args []string, defaultInterval time.Duration, now time.Time, w io.Writer) error {
	sub, args := args[0], args[1:]
	parser := interval.NewParser()

	switch sub {
	case "add":
		fs := flag.NewFlagSet("keyword add", flag.ContinueOnError)
		every := fs.String("interval", "", "polling interval (seconds, duration or cron expression)")
		inactive := fs.Bool("inactive", false, "create the keyword deactivated")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		term := normalizeTerm(strings.Join(fs.Args(), " "))
		if term == "" {
			return errors.New("keyword add: term is required")
		}
		d := defaultInterval
		if *every != "" {
			parsed, err := parser.Parse(*every)
			if err != nil {
				return fmt.Errorf("keyword add: %w", err)
			}
			d = parsed
		}
		k := domain.Keyword{
			ID:        uuid.New(),
			Term:      term,
			Interval:  d,
			Active:    !*inactive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateKeyword(ctx, k); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("keyword %q already exists", term)
			}
			return err
		}
		fmt.Fprintf(w, "added keyword %q (every %s)\n", term, interval.Format(d))
		return nil

	case "list":
		fs := flag.NewFlagSet("keyword list", flag.ContinueOnError)
		activeOnly := fs.Bool("active", false, "only active keywords")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		keywords, err := s.ListKeywords(ctx, *activeOnly)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TERM\tINTERVAL\tACTIVE\tCHECKS\tFOUND")
		for _, k := range keywords {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", k.Term, interval.Format(k.Interval), yesNo(k.Active), k.TotalChecks, k.TotalFound)
		}
		return tw.Flush()

	case "update":
		fs := flag.NewFlagSet("keyword update", flag.ContinueOnError)
		every := fs.String("interval", "", "new polling interval")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *every == "" {
			return errors.New("keyword update: -interval is required")
		}
		d, err := parser.Parse(*every)
		if err != nil {
			return fmt.Errorf("keyword update: %w", err)
		}
		k, err := findKeyword(ctx, s, strings.Join(fs.Args(), " "))
		if err != nil {
			return err
		}
		if err := s.UpdateKeywordInterval(ctx, k.ID, d, now); err != nil {
			return err
		}
		fmt.Fprintf(w, "keyword %q now runs every %s\n", k.Term, interval.Format(d))
		return nil

	case "toggle":
		k, err := findKeyword(ctx, s, strings.Join(args, " "))
		if err != nil {
			return err
		}
		active, err := s.ToggleKeyword(ctx, k.ID, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "keyword %q is now %s\n", k.Term, activeWord(active))
		return nil

	default:
		return fmt.Errorf("unknown keyword command %q (add, list, update, toggle)", sub)
	}
}

func findKeyword(ctx context.Context, s backend, term string) (domain.Keyword, error) {
	term = normalizeTerm(term)
	if term == "" {
		return domain.Keyword{}, errors.New("term is required")
	}
	k, err := s.GetKeywordByTerm(ctx, term)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Keyword{}, fmt.Errorf("keyword %q not found", term)
	}
	return k, err
}

func runRegion(args []string, w io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: marketwatch region add|list|toggle ...")
		return exitRuntimeError
	}
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		return regionCommand(ctx, s, args, time.Now().UTC(), w)
	})
}

func regionCommand(ctx context.Context, s backend, args []string, now time.Time, w io.Writer) error {
	sub, args := args[0], args[1:]

	switch sub {
	case "add":
		fs := flag.NewFlagSet("region add", flag.ContinueOnError)
		name := fs.String("name", "", "display name (defaults to the slug)")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if fs.NArg() != 1 {
			return errors.New("region add: exactly one SLUG is required")
		}
		slug := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
		r := domain.Region{
			ID:        uuid.New(),
			Name:      strings.TrimSpace(*name),
			Slug:      slug,
			Active:    true,
			CreatedAt: now,
		}
		if r.Name == "" {
			r.Name = slug
		}
		if err := s.CreateRegion(ctx, r); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("region %q already exists", slug)
			}
			return err
		}
		fmt.Fprintf(w, "added region %q (%s)\n", slug, r.Name)
		return nil

	case "list":
		fs := flag.NewFlagSet("region list", flag.ContinueOnError)
		activeOnly := fs.Bool("active", false, "only active regions")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		regions, err := s.ListRegions(ctx, *activeOnly)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLUG\tNAME\tACTIVE")
		for _, r := range regions {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Slug, r.Name, yesNo(r.Active))
		}
		return tw.Flush()

	case "toggle":
		if len(args) != 1 {
			return errors.New("region toggle: exactly one SLUG is required")
		}
		slug := strings.ToLower(strings.TrimSpace(args[0]))
		r, err := s.GetRegionBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("region %q not found", slug)
		}
		if err != nil {
			return err
		}
		active, err := s.ToggleRegion(ctx, r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "region %q is now %s\n", r.Slug, activeWord(active))
		return nil

	default:
		return fmt.Errorf("unknown region command %q (add, list, toggle)", sub)
	}
}

func runStatus(w io.Writer) int {
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		sum, err := scheduler.Snapshot(ctx, s, time.Now().UTC(), 24*time.Hour)
		if err != nil {
			return err
		}
		keywords, err := s.ListKeywords(ctx, true)
		if err != nil {
			return err
		}
		regions, err := s.ListRegions(ctx, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Active keywords: %d\nActive regions:  %d\n\n", len(keywords), len(regions))
		return printSummary(w, sum)
	})
}

func runReport(args []string, w io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	hours := fs.Int("hours", 24, "report window in hours")
	if err := fs.Parse(args); err != nil {
		return exitRuntimeError
	}
	if *hours < 1 {
		fmt.Fprintln(os.Stderr, "report: -hours must be at least 1")
		return exitRuntimeError
	}
	return withBackend(func(ctx context.Context, cfg config.Config, s backend) error {
		window := time.Duration(*hours) * time.Hour
		sum, err := scheduler.Snapshot(ctx, s, time.Now().UTC(), window)
		if err != nil {
			return err
		}
		return printSummary(w, sum)
	})
}

// printSummary writes the statistics part of a summary as text.
func printSummary(w io.Writer, sum scheduler.Summary) error {
	st := sum.Stats
	fmt.Fprintf(w, "Last %s\n", sum.Window)
	fmt.Fprintf(w, "  Executions:      %d (errors %d, avg %s)\n", st.Executions, st.Errors, st.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Candidates seen: %d\n", st.CandidatesSeen)
	fmt.Fprintf(w, "  New listings:    %d\n", st.Admitted)

	n := sum.Notifications
	fmt.Fprintf(w, "  Notifications:   %d sent, %d failed, %d pending\n", n.Sent, n.Failed, n.Pending)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(st.TopTerms) > 0 {
		fmt.Fprintln(tw, "\nTOP TERMS\tEXECUTIONS\tNEW")
		for _, t := range st.TopTerms {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", t.Term, t.Executions, t.Admitted)
		}
	}
	if len(sum.Upcoming) > 0 {
		fmt.Fprintln(tw, "\nUPCOMING\tREGION\tDUE")
		for _, t := range sum.Upcoming {
			due := "now"
			if t.LastRunAt != nil {
				due = t.NextDue().UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Term, t.Region, due)
		}
	}
	return tw.Flush()
}

func runTest(args []string, w io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: marketwatch test TERM REGION")
		return exitRuntimeError
	}

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	if err := testFetch(context.Background(), cfg, normalizeTerm(args[0]), args[1], w); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}

// testFetch runs one fetch and prints the candidates. Nothing is stored.
func testFetch(ctx context.Context, cfg config.Config, term, region string, w io.Writer) error {
	opener, err := buildOpener(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	session, err := opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	start := time.Now()
	candidates, err := session.Fetch(ctx, term, region, cfg.FetchLimit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%d candidates for %q in %s (%s)\n", len(candidates), term, region, time.Since(start).Round(time.Millisecond))
	for i, c := range candidates {
		fmt.Fprintf(w, "%3d. [%s] %s", i+1, c.SourceID, c.Title)
		if c.Price != "" {
			fmt.Fprintf(w, " - %s", c.Price)
		}
		fmt.Fprintf(w, "\n     %s\n", c.URL)
	}
	return nil
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func activeWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
