// Command webhook-receiver is a local target for the webhook sink. It checks
// signatures, counts deliveries per listing and exposes what it saw on /stats.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dalexandrias/marketwatch/internal/notify"
)

type delivery struct {
	Timestamp  string         `json:"timestamp"`
	DeliveryID string         `json:"delivery_id"`
	Signed     bool           `json:"signed"`
	Payload    notify.Payload `json:"payload"`
}

type stats struct {
	Count        int64          `json:"count"`
	Rejected     int64          `json:"rejected"`
	Duplicates   int64          `json:"duplicates"`
	LastRequests []delivery     `json:"last_requests"`
	PerListing   map[string]int `json:"per_listing"`
	Since        string         `json:"since"`
}

const maxStored = 50

type receiver struct {
	secret string
	// failEvery makes every Nth delivery answer 503.
	failEvery int64
	clock     func() time.Time

	mu         sync.Mutex
	count      int64
	rejected   int64
	duplicates int64
	last       []delivery
	perListing map[string]int
	since      time.Time
}

func newReceiver(secret string, failEvery int64) *receiver {
	r := &receiver{secret: secret, failEvery: failEvery, clock: time.Now}
	r.reset()
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count = 0
	rc.rejected = 0
	rc.duplicates = 0
	rc.last = nil
	rc.perListing = make(map[string]int)
	rc.since = rc.clock().UTC()
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/hook", rc.hook)
	r.Get("/stats", rc.stats)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return r
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(notify.HeaderSignature)
	if rc.secret != "" && !notify.VerifySignature(rc.secret, body, signature) {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Printf("webhook-receiver: rejected delivery %s: bad signature", r.Header.Get(notify.HeaderDeliveryID))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var p notify.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	rc.count++
	current := rc.count
	if rc.failEvery > 0 && current%rc.failEvery == 0 {
		rc.mu.Unlock()
		log.Printf("webhook-receiver: failing delivery #%d on purpose", current)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	rc.perListing[p.ListingID]++
	if rc.perListing[p.ListingID] > 1 {
		rc.duplicates++
	}
	rc.last = append(rc.last, delivery{
		Timestamp:  rc.clock().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get(notify.HeaderDeliveryID),
		Signed:     signature != "",
		Payload:    p,
	})
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	rc.mu.Unlock()

	log.Printf("webhook-receiver: #%d listing=%s term=%q region=%s title=%q", current, p.ListingID, p.Term, p.Region, p.Title)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:        rc.count,
		Rejected:     rc.rejected,
		Duplicates:   rc.duplicates,
		LastRequests: append([]delivery(nil), rc.last...),
		PerListing:   make(map[string]int, len(rc.perListing)),
		Since:        rc.since.Format(time.RFC3339),
	}
	for k, v := range rc.perListing {
		s.PerListing[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func main() {
	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	var failEvery int64
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			log.Fatalf("webhook-receiver: invalid FAIL_EVERY %q", v)
		}
		failEvery = n
	}

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		log.Println("webhook-receiver: WEBHOOK_SECRET not set; signatures are not checked")
	}

	rc := newReceiver(secret, failEvery)
	log.Printf("webhook-receiver: listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, rc.routes()))
}
