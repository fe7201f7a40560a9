package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), KindTimeout},
		{"blocked passthrough", Blocked(ErrLoginRedirect), KindBlocked},
		{"parse passthrough", ParseFailure(errors.New("bad")), KindParseFailure},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err).Kind; got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func newHTTPTestOpener(srv *httptest.Server, retries uint) *HTTPOpener {
	return NewHTTPOpener(Options{
		URLTemplate: srv.URL + "/marketplace/{region}/search?query={term}",
		Retries:     retries,
	}).WithRetryDelay(time.Millisecond)
}

func fetchOnce(t *testing.T, o Opener, ctx context.Context) ([]domain.Candidate, error) {
	t.Helper()
	s, err := o.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	return s.Fetch(ctx, "honda civic", "saopaulo", 50)
}

func TestHTTPSession_Success(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		fmt.Fprint(w, searchPage)
	}))
	defer srv.Close()

	cs, err := fetchOnce(t, newHTTPTestOpener(srv, 3), context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery != "honda civic" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(cs) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(cs))
	}
}

func TestHTTPSession_ForbiddenIsBlockedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := fetchOnce(t, newHTTPTestOpener(srv, 3), context.Background())
	if KindOf(err) != KindBlocked {
		t.Fatalf("expected blocked, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("blocked responses must not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPSession_LoginRedirectIsBlocked(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>please log in</html>")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/?next=search", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := fetchOnce(t, newHTTPTestOpener(srv, 2), context.Background())
	if KindOf(err) != KindBlocked {
		t.Fatalf("expected blocked, got %v", err)
	}
	if !errors.Is(err, ErrLoginRedirect) {
		t.Errorf("expected ErrLoginRedirect, got %v", err)
	}
}

func TestHTTPSession_ServerErrorRetriesThenUnknown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fetchOnce(t, newHTTPTestOpener(srv, 3), context.Background())
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPSession_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := fetchOnce(t, newHTTPTestOpener(srv, 1), ctx)
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>search</title>
<item><title>Honda Civic 2015 R$ 60.000</title><link>https://example.test/marketplace/item/1001/</link><guid>a</guid></item>
<item><title>Honda Civic 2012</title><link>https://example.test/other/77</link><guid>g-77</guid></item>
<item><title>dup</title><link>https://example.test/marketplace/item/1001/</link><guid>b</guid></item>
</channel></rss>`

func TestFeedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed)
	}))
	defer srv.Close()

	o := NewFeedOpener(Options{URLTemplate: srv.URL + "/feed/{region}?q={term}"})
	cs, err := fetchOnce(t, o, context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(cs), cs)
	}
	if cs[0].SourceID != "1001" || cs[0].Price != "R$ 60.000" {
		t.Errorf("unexpected first candidate: %+v", cs[0])
	}
	if cs[1].SourceID != "g-77" {
		t.Errorf("expected GUID fallback, got %q", cs[1].SourceID)
	}
}

func TestFeedSession_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	o := NewFeedOpener(Options{URLTemplate: srv.URL + "/feed/{region}?q={term}"})
	_, err := fetchOnce(t, o, context.Background())
	if KindOf(err) != KindBlocked {
		t.Fatalf("expected blocked, got %v", err)
	}
}

func TestStaticOpener_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	data := `results:
  - term: honda civic
    region: saopaulo
    listings:
      - {id: "1001", title: "Honda Civic 2015", price: "R$ 60.000", url: "https://example.test/1001"}
      - {id: "1002", title: "Honda Civic 2016", url: "https://example.test/1002"}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	o, err := LoadStaticFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cs, err := fetchOnce(t, o, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 || cs[0].SourceID != "1001" || cs[0].Price != "R$ 60.000" {
		t.Errorf("unexpected candidates: %+v", cs)
	}

	o.Fail("honda civic", "saopaulo", Blocked(ErrLoginRedirect))
	if _, err := fetchOnce(t, o, context.Background()); KindOf(err) != KindBlocked {
		t.Errorf("expected blocked, got %v", err)
	}
}

func TestStaticOpener_FixturesDoNotAlias(t *testing.T) {
	in := []domain.Candidate{{SourceID: "1001"}, {SourceID: "1002"}}
	o := NewStaticOpener()
	o.Set("honda civic", "saopaulo", in...)
	in[0].SourceID = "changed-by-caller"

	first, err := fetchOnce(t, o, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first[0].SourceID != "1001" {
		t.Fatalf("fixture followed caller mutation: %+v", first)
	}
	first[1].SourceID = "changed-by-consumer"

	second, err := fetchOnce(t, o, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second[0].SourceID != "1001" || second[1].SourceID != "1002" {
		t.Errorf("fixture followed result mutation: %+v", second)
	}
}
