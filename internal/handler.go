package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler is the engine's HTTP entrypoint. It defers all resolution work to
// TieredResolver/CoverOrchestrator/RecommendationEngine and only handles
// muxing, request validation, and cache response headers.
type Handler struct {
	resolver  *TieredResolver
	cover     *CoverOrchestrator
	recommend *RecommendationEngine

	validate *validator.Validate
}

// NewHandler creates a new Handler.
func NewHandler(resolver *TieredResolver, cover *CoverOrchestrator, recommend *RecommendationEngine) *Handler {
	return &Handler{
		resolver:  resolver,
		cover:     cover,
		recommend: recommend,
		validate:  validator.New(),
	}
}

const (
	bookTTL         = time.Hour
	searchTTL       = 10 * time.Minute
	recommendTTL    = time.Hour
	bulkLookupLimit = 50
)

// NewMux registers a Handler's routes on a new chi router. It adds no
// middleware; the caller wraps the returned handler.
func NewMux(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/book/{identifier}", h.getBook)
	r.Get("/book/{identifier}/recommendations", h.getRecommendations)
	r.Get("/book/bulk", h.bulkBooks)
	r.Get("/search", h.search)
	r.Get("/healthz", h.healthz)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return r
}

// getBook handles /book/{identifier}: any inbound identifier the
// IdentityResolver understands (canonical key, ISBN-10/13, provider ID,
// slug) resolves to a hydrated Book.
func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if identifier == "" {
		h.error(w, errBadRequest)
		return
	}

	book, err := h.resolver.FetchByIdentifier(r.Context(), identifier)
	if err != nil {
		h.error(w, err)
		return
	}
	if h.cover != nil {
		book.Cover = h.cover.Synchronous(book.Key, book.Cover)
	}

	cacheFor(w, bookTTL, false)
	_ = json.NewEncoder(w).Encode(book)
}

// bulkBooks handles /book/bulk?id=...&id=..., resolving each identifier
// concurrently. Individual lookups may already be cached or in flight via
// the resolver's own singleflight coalescing, so this just parallelizes
// the round trips.
func (h *Handler) bulkBooks(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		h.error(w, errMissingIDs)
		return
	}
	if len(ids) > bulkLookupLimit {
		ids = ids[:bulkLookupLimit]
	}

	books := make([]Book, 0, len(ids))
	mu := sync.Mutex{}
	wg := sync.WaitGroup{}

	for _, id := range ids {
		wg.Add(1)
		go func(identifier string) {
			defer wg.Done()

			book, err := h.resolver.FetchByIdentifier(r.Context(), identifier)
			if err != nil {
				Log(r.Context()).Debug("bulk lookup failed", "identifier", identifier, "err", err)
				return
			}
			if h.cover != nil {
				book.Cover = h.cover.Synchronous(book.Key, book.Cover)
			}

			mu.Lock()
			books = append(books, book)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	cacheFor(w, bookTTL, true)
	_ = json.NewEncoder(w).Encode(books)
}

// searchRequest validates the /search query string.
type searchRequest struct {
	Query string `validate:"required"`
	Limit int    `validate:"gte=0,lte=200"`
}

// search handles /search?q=...&limit=..., delegating to TieredResolver's
// store-then-provider search precedence.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			h.error(w, errors.Join(err, errBadRequest))
			return
		}
		limit = n
	}

	req := searchRequest{Query: r.URL.Query().Get("q"), Limit: limit}
	if err := h.validate.Struct(req); err != nil {
		h.error(w, errors.Join(err, errBadRequest))
		return
	}

	books, err := h.resolver.SearchBooks(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.error(w, err)
		return
	}

	cacheFor(w, searchTTL, true)
	_ = json.NewEncoder(w).Encode(books)
}

// getRecommendations handles /book/{identifier}/recommendations, computing
// a fresh ranked set synchronously on every request and persisting it
// off-thread; the persisted set is not read back here.
func (h *Handler) getRecommendations(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	book, err := h.resolver.FetchByIdentifier(r.Context(), identifier)
	if err != nil {
		h.error(w, err)
		return
	}

	recs, err := h.recommend.Compute(r.Context(), book, 10)
	if err != nil {
		h.error(w, err)
		return
	}
	h.recommend.PersistAsync(book.Key, recs)

	cacheFor(w, recommendTTL, false)
	_ = json.NewEncoder(w).Encode(recs)
}

func (*Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// cacheFor sets cache response headers. s-maxage controls CDN cache time;
// clients default to an hour.
func cacheFor(w http.ResponseWriter, d time.Duration, varyParams bool) {
	w.Header().Add("Cache-Control", fmt.Sprintf("public, s-maxage=%d, max-age=3600", int(d.Seconds())))
	w.Header().Add("Vary", "Content-Type,Accept-Encoding")
	w.Header().Add("Content-Type", "application/json")

	if !varyParams {
		w.Header().Add("No-Vary-Search", "params")
	}
}

// error maps an error onto the taxonomy in errors.go and writes the
// corresponding HTTP status.
func (*Handler) error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var s statusErr
	switch {
	case errors.As(err, &s):
		status = s.Status()
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrPermanent):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
