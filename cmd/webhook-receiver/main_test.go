package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalexandrias/marketwatch/internal/notify"
)

func postHook(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(notify.HeaderDeliveryID, "d-1")
	if signature != "" {
		req.Header.Set(notify.HeaderSignature, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func payloadBody(t *testing.T, listingID string) []byte {
	t.Helper()
	body, err := json.Marshal(notify.Payload{ListingID: listingID, Title: "Honda Civic", Term: "honda civic", Region: "saopaulo"})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func getStats(t *testing.T, h http.Handler) stats {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var s stats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return s
}

func TestHook_VerifiesSignature(t *testing.T) {
	rc := newReceiver("s3cret", 0)
	h := rc.routes()
	body := payloadBody(t, "l-1")

	if rec := postHook(t, h, body, "deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rec.Code)
	}
	if rec := postHook(t, h, body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: status = %d, want 401", rec.Code)
	}
	if rec := postHook(t, h, body, notify.ComputeSignature("s3cret", body)); rec.Code != http.StatusOK {
		t.Errorf("good signature: status = %d, want 200", rec.Code)
	}

	s := getStats(t, h)
	if s.Count != 1 || s.Rejected != 2 {
		t.Errorf("count=%d rejected=%d, want 1 and 2", s.Count, s.Rejected)
	}
	if len(s.LastRequests) != 1 || !s.LastRequests[0].Signed {
		t.Errorf("last requests = %+v", s.LastRequests)
	}
}

func TestHook_CountsDuplicates(t *testing.T) {
	rc := newReceiver("", 0)
	h := rc.routes()

	postHook(t, h, payloadBody(t, "l-1"), "")
	postHook(t, h, payloadBody(t, "l-1"), "")
	postHook(t, h, payloadBody(t, "l-2"), "")

	s := getStats(t, h)
	if s.Count != 3 {
		t.Errorf("count = %d, want 3", s.Count)
	}
	if s.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", s.Duplicates)
	}
	if s.PerListing["l-1"] != 2 {
		t.Errorf("per_listing[l-1] = %d, want 2", s.PerListing["l-1"])
	}
}

func TestHook_FailEvery(t *testing.T) {
	rc := newReceiver("", 2)
	h := rc.routes()

	if rec := postHook(t, h, payloadBody(t, "l-1"), ""); rec.Code != http.StatusOK {
		t.Errorf("first: status = %d, want 200", rec.Code)
	}
	if rec := postHook(t, h, payloadBody(t, "l-2"), ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("second: status = %d, want 503", rec.Code)
	}
}

func TestHook_InvalidPayload(t *testing.T) {
	h := newReceiver("", 0).routes()
	if rec := postHook(t, h, []byte("not json"), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReset(t *testing.T) {
	rc := newReceiver("", 0)
	h := rc.routes()
	postHook(t, h, payloadBody(t, "l-1"), "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if s := getStats(t, h); s.Count != 0 || len(s.PerListing) != 0 {
		t.Errorf("after reset: %+v", s)
	}
}
