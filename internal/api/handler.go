package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/interval"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
	"github.com/dalexandrias/marketwatch/internal/store"
)

// Listing query defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000

	DefaultHours = 24
	MaxHours     = 24 * 90
)

// Store is the slice of the storage backend the operator API uses. It is a
// superset of scheduler.StatusStore so /status works without a running
// scheduler.
type Store interface {
	scheduler.StatusStore

	CreateKeyword(ctx context.Context, k domain.Keyword) error
	ListKeywords(ctx context.Context, activeOnly bool) ([]domain.Keyword, error)
	ToggleKeyword(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	UpdateKeywordInterval(ctx context.Context, id uuid.UUID, interval time.Duration, now time.Time) error

	CreateRegion(ctx context.Context, r domain.Region) error
	ListRegions(ctx context.Context, activeOnly bool) ([]domain.Region, error)
	ToggleRegion(ctx context.Context, id uuid.UUID) (bool, error)

	RecentListings(ctx context.Context, since time.Time, limit int) ([]domain.ListingRecord, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// StatusProvider is the running scheduler.
type StatusProvider interface {
	Summary(ctx context.Context) (scheduler.Summary, error)
}

type Handler struct {
	store           Store
	db              HealthChecker
	status          StatusProvider
	parser          *interval.Parser
	defaultInterval time.Duration
	clock           func() time.Time
	router          chi.Router
}

func NewHandler(store Store, defaultInterval time.Duration) *Handler {
	h := &Handler{
		store:           store,
		parser:          interval.NewParser(),
		defaultInterval: defaultInterval,
		clock:           time.Now,
	}
	h.router = h.routes()
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithStatusProvider reports live scheduler state on /status. Without one the
// endpoint serves statistics from the store only.
func (h *Handler) WithStatusProvider(p StatusProvider) *Handler {
	h.status = p
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/status", h.statusSummary)
	r.Get("/report", h.report)
	r.Get("/listings", h.listListings)

	r.Route("/keywords", func(r chi.Router) {
		r.Get("/", h.listKeywords)
		r.Post("/", h.createKeyword)
		r.Post("/{id}/toggle", h.toggleKeyword)
		r.Put("/{id}/interval", h.updateKeywordInterval)
	})
	r.Route("/regions", func(r chi.Router) {
		r.Get("/", h.listRegions)
		r.Post("/", h.createRegion)
		r.Post("/{id}/toggle", h.toggleRegion)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	if h.status != nil {
		if sum, err := h.status.Summary(ctx); err == nil {
			resp.Components["scheduler"] = string(sum.State)
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) statusSummary(w http.ResponseWriter, r *http.Request) {
	var (
		sum scheduler.Summary
		err error
	)
	if h.status != nil {
		sum, err = h.status.Summary(r.Context())
	} else {
		sum, err = scheduler.Snapshot(r.Context(), h.store, h.clock(), DefaultHours*time.Hour)
	}
	if err != nil {
		log.Printf("api: status error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build status")
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(sum))
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	window := time.Duration(hours) * time.Hour
	sum, err := scheduler.Snapshot(r.Context(), h.store, h.clock(), window)
	if err != nil {
		log.Printf("api: report error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(hours, sum))
}

func (h *Handler) listListings(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	since := h.clock().Add(-time.Duration(hours) * time.Hour)
	listings, err := h.store.RecentListings(r.Context(), since, limit)
	if err != nil {
		log.Printf("api: list listings error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}

	resp := ListListingsResponse{Listings: make([]ListingResponse, len(listings))}
	for i, l := range listings {
		resp.Listings[i] = newListingResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createKeyword(w http.ResponseWriter, r *http.Request) {
	var req CreateKeywordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	term, every, err := h.validateCreateKeyword(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	k := domain.Keyword{
		ID:        uuid.New(),
		Term:      term,
		Interval:  every,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateKeyword(r.Context(), k); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "keyword already exists")
			return
		}
		log.Printf("api: create keyword error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create keyword")
		return
	}

	writeJSON(w, http.StatusCreated, newKeywordResponse(k))
}

func (h *Handler) listKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := h.store.ListKeywords(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		log.Printf("api: list keywords error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}

	resp := ListKeywordsResponse{Keywords: make([]KeywordResponse, len(keywords))}
	for i, k := range keywords {
		resp.Keywords[i] = newKeywordResponse(k)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) toggleKeyword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "keyword")
	if !ok {
		return
	}

	active, err := h.store.ToggleKeyword(r.Context(), id, h.clock().UTC())
	if err != nil {
		writeStoreError(w, err, "keyword", "toggle")
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{ID: id.String(), Active: active})
}

func (h *Handler) updateKeywordInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "keyword")
	if !ok {
		return
	}

	var req UpdateIntervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	every, err := h.parser.Parse(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval: "+err.Error())
		return
	}

	if err := h.store.UpdateKeywordInterval(r.Context(), id, every, h.clock().UTC()); err != nil {
		writeStoreError(w, err, "keyword", "update")
		return
	}
	writeJSON(w, http.StatusOK, UpdateIntervalResponse{ID: id.String(), Interval: interval.Format(every)})
}

func (h *Handler) createRegion(w http.ResponseWriter, r *http.Request) {
	var req CreateRegionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	name, slug, err := validateCreateRegion(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reg := domain.Region{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: h.clock().UTC(),
	}

	if err := h.store.CreateRegion(r.Context(), reg); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "region already exists")
			return
		}
		log.Printf("api: create region error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create region")
		return
	}

	writeJSON(w, http.StatusCreated, newRegionResponse(reg))
}

func (h *Handler) listRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.store.ListRegions(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		log.Printf("api: list regions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list regions")
		return
	}

	resp := ListRegionsResponse{Regions: make([]RegionResponse, len(regions))}
	for i, reg := range regions {
		resp.Regions[i] = newRegionResponse(reg)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) toggleRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "region")
	if !ok {
		return
	}

	active, err := h.store.ToggleRegion(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "region", "toggle")
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{ID: id.String(), Active: active})
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+kind+" id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error, kind, op string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	log.Printf("api: %s %s error: %v", op, kind, err)
	writeError(w, http.StatusInternalServerError, "failed to "+op+" "+kind)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseLimit returns DefaultLimit when limit is absent or zero.
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, strconv.ErrRange
	}
	if limit > MaxLimit {
		return 0, &limitExceededError{name: "limit", max: MaxLimit}
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return limit, nil
}

func parseHours(r *http.Request) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get("hours"))
	if s == "" {
		return DefaultHours, nil
	}
	hours, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if hours <= 0 {
		return 0, strconv.ErrRange
	}
	if hours > MaxHours {
		return 0, &limitExceededError{name: "hours", max: MaxHours}
	}
	return hours, nil
}

type limitExceededError struct {
	name string
	max  int
}

func (e *limitExceededError) Error() string {
	return e.name + " exceeds maximum of " + strconv.Itoa(e.max)
}
