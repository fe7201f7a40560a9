package scheduler_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/dispatcher"
	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/fetch"
	"github.com/dalexandrias/marketwatch/internal/notify"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
	"github.com/dalexandrias/marketwatch/internal/store/sqlite"
	"github.com/dalexandrias/marketwatch/internal/testutil"
)

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []string
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, l.SourceID)
	return nil
}

func (r *recordingSink) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// TestScenario_HondaCivicSaoPaulo runs one full cycle against a real SQLite
// ledger: a never-run task is due, 2 of 3 fetched candidates are new, the
// task is not due again until its interval elapses, and every sink gets
// both new listings.
func TestScenario_HondaCivicSaoPaulo(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := sqlite.New(db)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := clock.Now()
	if err := st.CreateKeyword(ctx, domain.Keyword{
		ID: uuid.New(), Term: "honda civic", Interval: 120 * time.Second, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	if err := st.CreateRegion(ctx, domain.Region{
		ID: uuid.New(), Name: "Sao Paulo", Slug: "saopaulo", Active: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create region: %v", err)
	}
	if _, err := st.SyncTasks(ctx, now); err != nil {
		t.Fatalf("sync: %v", err)
	}

	due, err := st.DueTasks(ctx, now)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected the never-run task due immediately, got %d (%v)", len(due), err)
	}
	task := due[0]

	// One listing was seen and notified in an earlier session.
	prior, err := st.Admit(ctx, domain.AdmitRequest{
		Candidate: domain.Candidate{SourceID: "1001", Title: "Honda Civic 2015", URL: "https://example.com/item/1001"},
		TaskID:    task.ID, RegionID: task.RegionID, Region: task.Region, Term: task.Term, At: now,
	})
	if err != nil || !prior.Admitted {
		t.Fatalf("seed listing: %v", err)
	}
	if err := st.MarkNotified(ctx, prior.Record.ID, now); err != nil {
		t.Fatalf("seed notified: %v", err)
	}

	opener := fetch.NewStaticOpener()
	opener.Set("honda civic", "saopaulo",
		domain.Candidate{SourceID: "1001", Title: "Honda Civic 2015", URL: "https://example.com/item/1001"},
		domain.Candidate{SourceID: "1002", Title: "Honda Civic 2018", Price: "R$ 95.000", URL: "https://example.com/item/1002"},
		domain.Candidate{SourceID: "1003", Title: "Honda Civic 2020", URL: "https://example.com/item/1003"},
	)

	console := &recordingSink{name: "console"}
	file := &recordingSink{name: "file"}

	disp := dispatcher.New(st, opener, dispatcher.Config{
		Workers: 1, FetchTimeout: time.Second, FetchLimit: 50, ShutdownGrace: time.Second, OpTimeout: time.Second,
	}).WithClock(clock.Now)
	pipeline := notify.NewPipeline(st, []notify.Sink{console, file}, 100).WithClock(clock.Now)
	sched := scheduler.New(scheduler.DefaultConfig(), st, disp, pipeline).WithClock(clock.Now)

	if err := sched.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	sum, err := sched.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	last := sum.LastCycle
	if last == nil {
		t.Fatal("expected a cycle report")
	}
	if last.TasksRun != 1 || last.CandidatesSeen != 3 || last.Admitted != 2 {
		t.Errorf("unexpected cycle report: %+v", *last)
	}
	if last.NotificationsSent != 4 {
		t.Errorf("expected 2 listings x 2 sinks = 4 deliveries, got %d", last.NotificationsSent)
	}

	for _, sink := range []*recordingSink{console, file} {
		got := sink.delivered()
		sort.Strings(got)
		if len(got) != 2 || got[0] != "1002" || got[1] != "1003" {
			t.Errorf("sink %s: expected [1002 1003], got %v", sink.name, got)
		}
	}

	pending, err := st.Unnotified(ctx, 100)
	if err != nil {
		t.Fatalf("unnotified: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected every listing notified, %d pending", len(pending))
	}

	recent, err := st.RecentListings(ctx, now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected ledger of 3 listings, got %d", len(recent))
	}

	ns, err := st.NotificationSummary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("notification summary: %v", err)
	}
	if ns.Sent != 4 || ns.Failed != 0 {
		t.Errorf("expected 4 sent attempts, got %+v", ns)
	}

	for _, tc := range []struct {
		after time.Duration
		want  int
	}{
		{0, 0},
		{60 * time.Second, 0},
		{120 * time.Second, 1},
	} {
		got, err := st.DueTasks(ctx, now.Add(tc.after))
		if err != nil {
			t.Fatalf("due tasks: %v", err)
		}
		if len(got) != tc.want {
			t.Errorf("due tasks at +%s = %d, want %d", tc.after, len(got), tc.want)
		}
	}

	// A second cycle inside the interval finds nothing due.
	clock.Advance(30 * time.Second)
	if err := sched.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	sum, _ = sched.Summary(ctx)
	if sum.LastCycle.TasksDue != 0 || sum.Cycles != 2 {
		t.Errorf("expected an empty second cycle, got %+v", *sum.LastCycle)
	}
}
