package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// mockStore keeps listings and attempts in memory.
type mockStore struct {
	mu          sync.Mutex
	listings    []domain.ListingRecord
	attempts    map[uuid.UUID]domain.NotificationAttempt
	unnotifyErr error
	markErr     error
}

func newMockStore(listings ...domain.ListingRecord) *mockStore {
	return &mockStore{
		listings: listings,
		attempts: make(map[uuid.UUID]domain.NotificationAttempt),
	}
}

func (s *mockStore) Unnotified(ctx context.Context, limit int) ([]domain.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unnotifyErr != nil {
		return nil, s.unnotifyErr
	}
	var out []domain.ListingRecord
	for _, l := range s.listings {
		if !l.Notified {
			out = append(out, l)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockStore) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.listings {
		if s.listings[i].ID == id {
			s.listings[i].Notified = true
			s.listings[i].NotifiedAt = &at
			return nil
		}
	}
	return errors.New("not found")
}

func (s *mockStore) InsertAttempt(ctx context.Context, a domain.NotificationAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
	return nil
}

func (s *mockStore) UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.attempts[id]
	a.Status = status
	a.Error = errMsg
	a.SentAt = sentAt
	s.attempts[id] = a
	return nil
}

func (s *mockStore) SentSinks(ctx context.Context, listingID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, a := range s.attempts {
		if a.ListingID == listingID && a.Status == domain.NotificationStatusSent {
			names = append(names, a.Sink)
		}
	}
	return names, nil
}

func (s *mockStore) attemptCount(status domain.NotificationStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

func (s *mockStore) notifiedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listings {
		if l.Notified {
			n++
		}
	}
	return n
}

// fakeSink records deliveries and fails or panics on request.
type fakeSink struct {
	name   string
	fail   bool
	panics bool
	mu     sync.Mutex
	got    []uuid.UUID
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	if f.panics {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, l.ID)
	if f.fail {
		return errors.New("unreachable")
	}
	return nil
}

// cancelSink cancels the pass while delivering, then succeeds.
type cancelSink struct {
	fakeSink
	cancel context.CancelFunc
}

func (c *cancelSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	c.cancel()
	return c.fakeSink.Deliver(ctx, l)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func listing(sourceID string) domain.ListingRecord {
	return domain.ListingRecord{
		ID:           uuid.New(),
		SourceID:     sourceID,
		Title:        "Honda Civic " + sourceID,
		URL:          "https://example.com/item/" + sourceID,
		Term:         "honda civic",
		Region:       "saopaulo",
		DiscoveredAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestDeliverPending_Completeness(t *testing.T) {
	store := newMockStore(listing("1"), listing("2"), listing("3"))
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}

	p := NewPipeline(store, []Sink{a, b}, 100)
	report, err := p.DeliverPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Listings != 3 || report.Sent != 6 || report.Marked != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if got := store.attemptCount(domain.NotificationStatusSent); got != 6 {
		t.Errorf("expected sinks x listings = 6 sent attempts, got %d", got)
	}
	if store.notifiedCount() != 3 {
		t.Errorf("expected all listings notified, got %d", store.notifiedCount())
	}
}

func TestDeliverPending_SinkFailureIsolated(t *testing.T) {
	store := newMockStore(listing("1"), listing("2"))
	bad := &fakeSink{name: "bad", fail: true}
	good := &fakeSink{name: "good"}

	p := NewPipeline(store, []Sink{bad, good}, 100)
	report, err := p.DeliverPending(context.Background())
	if err != nil {
		t.Fatalf("sink failures must not surface: %v", err)
	}

	if good.count() != 2 {
		t.Errorf("expected good sink to receive 2, got %d", good.count())
	}
	if report.Failed != 2 || report.Sent != 2 {
		t.Errorf("expected 2 failed and 2 sent, got %+v", report)
	}
	if store.attemptCount(domain.NotificationStatusFailed) != 2 {
		t.Error("expected failed attempts recorded")
	}
	if store.notifiedCount() != 2 {
		t.Error("listings attempted on every sink must be marked notified")
	}
}

func TestDeliverPending_PanicRecovered(t *testing.T) {
	store := newMockStore(listing("1"))
	boom := &fakeSink{name: "boom", panics: true}
	good := &fakeSink{name: "good"}

	p := NewPipeline(store, []Sink{boom, good}, 100)
	report, err := p.DeliverPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Failed != 1 || good.count() != 1 {
		t.Errorf("expected panic recorded as failure and other sink served, got %+v", report)
	}
}

func TestDeliverPending_ZeroSinks(t *testing.T) {
	store := newMockStore(listing("1"))

	p := NewPipeline(store, nil, 100)
	report, err := p.DeliverPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Marked != 1 {
		t.Errorf("expected listing vacuously notified, got %+v", report)
	}
}

func TestDeliverPending_SkipsSinksAlreadySent(t *testing.T) {
	l := listing("1")
	store := newMockStore(l)
	store.attempts[uuid.New()] = domain.NotificationAttempt{
		ID:        uuid.New(),
		ListingID: l.ID,
		Sink:      "a",
		Status:    domain.NotificationStatusSent,
	}
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}

	p := NewPipeline(store, []Sink{a, b}, 100)
	if _, err := p.DeliverPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.count() != 0 {
		t.Error("sink that already delivered must be skipped")
	}
	if b.count() != 1 {
		t.Error("remaining sink must be attempted")
	}
}

func TestDeliverPending_RetriesUnmarkedListings(t *testing.T) {
	store := newMockStore(listing("1"))
	store.markErr = errors.New("database is locked")
	a := &fakeSink{name: "a"}

	p := NewPipeline(store, []Sink{a}, 100)
	report, _ := p.DeliverPending(context.Background())
	if report.Marked != 0 {
		t.Fatalf("expected nothing marked, got %d", report.Marked)
	}

	store.mu.Lock()
	store.markErr = nil
	store.mu.Unlock()

	report, _ = p.DeliverPending(context.Background())
	if report.Marked != 1 {
		t.Errorf("expected listing marked on second pass, got %d", report.Marked)
	}
	if a.count() != 1 {
		t.Errorf("sent sink must not be re-delivered, got %d deliveries", a.count())
	}
}

func TestDeliverPending_LedgerError(t *testing.T) {
	store := newMockStore()
	store.unnotifyErr = errors.New("connection refused")

	p := NewPipeline(store, []Sink{&fakeSink{name: "a"}}, 100)
	if _, err := p.DeliverPending(context.Background()); err == nil {
		t.Fatal("expected error when ledger is unreadable")
	}
}

func TestDeliverPending_BatchLimit(t *testing.T) {
	store := newMockStore(listing("1"), listing("2"), listing("3"))

	p := NewPipeline(store, []Sink{&fakeSink{name: "a"}}, 2)
	report, _ := p.DeliverPending(context.Background())
	if report.Listings != 2 {
		t.Errorf("expected batch of 2, got %d", report.Listings)
	}
}

func TestDeliverPending_CancelDuringDeliveryStillRecorded(t *testing.T) {
	store := newMockStore(listing("1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &cancelSink{fakeSink: fakeSink{name: "a"}, cancel: cancel}

	p := NewPipeline(store, []Sink{a}, 100)
	report, err := p.DeliverPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Sent != 1 || report.Marked != 1 {
		t.Errorf("expected delivery recorded and listing marked, got %+v", report)
	}
	if got := store.attemptCount(domain.NotificationStatusSent); got != 1 {
		t.Errorf("expected 1 sent attempt, got %d", got)
	}

	report, _ = p.DeliverPending(context.Background())
	if report.Listings != 0 {
		t.Errorf("expected nothing pending after the cancelled pass, got %+v", report)
	}
	if a.count() != 1 {
		t.Errorf("sink delivered %d times, want 1", a.count())
	}
}

func TestDeliverPending_CancelLeavesRemainingSinksPending(t *testing.T) {
	store := newMockStore(listing("1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &cancelSink{fakeSink: fakeSink{name: "a"}, cancel: cancel}
	b := &fakeSink{name: "b"}

	p := NewPipeline(store, []Sink{a, b}, 100)
	report, _ := p.DeliverPending(ctx)
	if report.Marked != 0 {
		t.Fatalf("listing with an unattempted sink must stay unnotified, got %+v", report)
	}
	if b.count() != 0 {
		t.Fatal("no sink may be attempted after cancellation")
	}

	report, _ = p.DeliverPending(context.Background())
	if report.Marked != 1 {
		t.Errorf("expected listing marked on the next pass, got %+v", report)
	}
	if a.count() != 1 {
		t.Errorf("sink a delivered %d times, want 1", a.count())
	}
	if b.count() != 1 {
		t.Errorf("sink b delivered %d times, want 1", b.count())
	}
	if got := store.attemptCount(domain.NotificationStatusSent); got != 2 {
		t.Errorf("expected 2 sent attempts, got %d", got)
	}
}
