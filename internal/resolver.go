package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// edgeKind enumerates the kinds of background denormalization work
// TieredResolver queues once a fetch completes.
type edgeKind int

const (
	authorEdge edgeKind = iota
	bookEdge
	collectionEdge
	refreshDone
)

// edge records denormalization work: parentID needs childIDs ensured
// reachable from it.
type edge struct {
	kind     edgeKind
	parentID BookKey
	childIDs set[BookKey]
}

// TieredResolver implements the engine's fetch and search precedence:
// canonical store, then object-store cache, then providers in order,
// aggregating when more than one provider succeeds. Concurrent requests for
// the same key coalesce via singleflight; background cover refreshes run
// through a bounded errgroup, and denormalization edges queue up for Run.
type TieredResolver struct {
	store    *Store
	identity *IdentityResolver
	objects  *ObjectStoreCache
	cover    *CoverOrchestrator

	// providers is tried in precedence order for fetchById.
	providers []ProviderClient

	// searchGoogleBooksAuthed/Unauthed/openLibrary back searchBooks'
	// fallback chain; they may alias entries in providers.
	searchGoogleBooksAuthed   ProviderClient
	searchGoogleBooksUnauthed ProviderClient
	searchOpenLibrary         ProviderClient

	group singleflight.Group

	denormC chan edge
	buf     edgebuf
	refreshG errgroup.Group

	metrics *controllerMetrics
}

// ResolverConfig wires a TieredResolver's collaborators.
type ResolverConfig struct {
	Store     *Store
	Identity  *IdentityResolver
	Objects   *ObjectStoreCache
	Cover     *CoverOrchestrator
	Providers []ProviderClient // precedence order for fetchById

	SearchGoogleBooksAuthed   ProviderClient
	SearchGoogleBooksUnauthed ProviderClient
	SearchOpenLibrary         ProviderClient

	Metrics *controllerMetrics
}

// NewTieredResolver builds a resolver and starts its stats-logging
// goroutine. The denormalization queue is drained by Run, which the caller
// starts.
func NewTieredResolver(cfg ResolverConfig) *TieredResolver {
	r := &TieredResolver{
		store:                     cfg.Store,
		identity:                  cfg.Identity,
		objects:                   cfg.Objects,
		cover:                     cfg.Cover,
		providers:                 cfg.Providers,
		searchGoogleBooksAuthed:   cfg.SearchGoogleBooksAuthed,
		searchGoogleBooksUnauthed: cfg.SearchGoogleBooksUnauthed,
		searchOpenLibrary:         cfg.SearchOpenLibrary,
		metrics:                   cfg.Metrics,
		denormC:                   make(chan edge),
	}
	r.refreshG.SetLimit(15)

	go func() {
		ctx := context.Background()
		for {
			time.Sleep(time.Minute)
			Log(ctx).Debug("resolver stats",
				"refreshWaiting", r.metrics.refreshWaitingGet(),
				"denormWaiting", r.metrics.denormWaitingGet(),
			)
		}
	}()

	return r
}

// FetchByIdentifier resolves any inbound identifier to a hydrated Book,
// trying canonical store, object-store cache, then providers in precedence
// order, in that fixed sequence.
func (r *TieredResolver) FetchByIdentifier(ctx context.Context, identifier string) (Book, error) {
	v, err, _ := r.group.Do("fetch:"+identifier, func() (any, error) {
		return r.fetch(ctx, identifier)
	})
	if err != nil {
		return Book{}, err
	}
	return v.(Book), nil
}

func (r *TieredResolver) fetch(ctx context.Context, identifier string) (Book, error) {
	if key, err := r.identity.Resolve(ctx, identifier); err == nil {
		b, err := r.store.FetchByKey(ctx, key)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Book{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Book{}, err
	}

	if r.objects != nil {
		if raw, err := r.objects.Fetch(ctx, identifier); err == nil {
			books, perr := ParseProviderPayload(SchemeGoogleBooks, raw)
			if perr == nil && len(books) > 0 {
				key, perr := r.store.Upsert(ctx, UpsertInput{
					Book:      books[0],
					Source:    SchemeGoogleBooks,
					ExtID:     identifier,
					RawBody:   raw,
					FetchedAt: time.Now(),
				})
				if perr == nil {
					b, perr := r.store.FetchByKey(ctx, key)
					if perr == nil {
						r.queueDenorm(b)
						return b, nil
					}
				}
			}
		}
	}

	parsed := map[IdentifierScheme]Book{}
	var lastRaw []byte
	var lastSource IdentifierScheme

	for _, p := range r.providers {
		raw, err := p.FetchByID(ctx, identifier)
		if err != nil {
			Log(ctx).Debug("provider fetch failed", "provider", p.Source(), "err", err)
			continue
		}
		books, err := ParseProviderPayload(p.Source(), raw)
		if err != nil || len(books) == 0 {
			continue
		}
		parsed[p.Source()] = books[0]
		lastRaw, lastSource = raw, p.Source()
	}

	if len(parsed) == 0 {
		return Book{}, fmt.Errorf("identifier %q: %w", identifier, ErrNotFound)
	}

	aggregated, sources := Aggregate(parsed)
	_ = provenanceLabel(BuildProvenance(sources))

	key, err := r.store.Upsert(ctx, UpsertInput{
		Book:      aggregated,
		Source:    lastSource,
		ExtID:     identifier,
		RawBody:   lastRaw,
		FetchedAt: time.Now(),
	})
	if err != nil {
		return Book{}, err
	}

	b, err := r.store.FetchByKey(ctx, key)
	if err != nil {
		return Book{}, err
	}

	if r.objects != nil {
		if body, merr := marshalBook(b); merr == nil {
			_ = r.objects.Put(ctx, identifier, body)
		}
	}

	r.queueDenorm(b)
	return b, nil
}

// SearchBooks implements the engine's search precedence: the canonical
// store's full-text function first, then authenticated GoogleBooks search
// (falling back to the unauthenticated variant on rate-limit or empty
// results), then OpenLibrary.
func (r *TieredResolver) SearchBooks(ctx context.Context, query string, limit int) ([]Book, error) {
	qualifiers := ExtractQualifiers(query)

	if results, err := r.store.SearchFullText(ctx, query, limit); err == nil && len(results) > 0 {
		return results, nil
	}

	if r.searchGoogleBooksAuthed != nil {
		if books, err := r.searchViaProvider(ctx, r.searchGoogleBooksAuthed, qualifiers, limit); err == nil && len(books) > 0 {
			return books, nil
		}
	}

	if r.searchGoogleBooksUnauthed != nil {
		if books, err := r.searchViaProvider(ctx, r.searchGoogleBooksUnauthed, qualifiers, limit); err == nil && len(books) > 0 {
			return books, nil
		}
	}

	if r.searchOpenLibrary != nil {
		return r.searchViaProvider(ctx, r.searchOpenLibrary, qualifiers, limit)
	}

	return nil, fmt.Errorf("search %q: %w", query, ErrNotFound)
}

func (r *TieredResolver) searchViaProvider(ctx context.Context, p ProviderClient, q SearchQualifiers, limit int) ([]Book, error) {
	paging := DefaultPaging()
	if limit > 0 {
		paging.MaxItems = limit
	}
	qualifiers := q.qualifierMap()

	var out []Book
	var firstErr error
	for raw, err := range p.SearchByQuery(ctx, q, paging) {
		if err != nil {
			firstErr = err
			break
		}
		books, perr := ParseProviderPayload(p.Source(), raw)
		if perr != nil {
			continue
		}
		for i := range books {
			books[i].Qualifiers = qualifiers
		}
		r.persistSearchResults(p.Source(), books)
		out = append(out, books...)
		if limit > 0 && len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// persistSearchResults upserts each search hit into the canonical store in
// the background -- the search path never waits on it -- so a subsequent
// lookup by identifier finds a hydrated record instead of re-hitting the
// provider.
func (r *TieredResolver) persistSearchResults(source IdentifierScheme, books []Book) {
	for _, b := range books {
		extID := ""
		for _, id := range b.ExternalIDs {
			if id.Scheme == source {
				extID = id.Value
				break
			}
		}
		if extID == "" {
			continue
		}

		b := b
		go func() {
			ctx := context.Background()
			if _, err := r.store.Upsert(ctx, UpsertInput{
				Book:      b,
				Source:    source,
				ExtID:     extID,
				FetchedAt: time.Now(),
			}); err != nil {
				Log(ctx).Debug("search result persistence failed", "source", source, "extID", extID, "err", err)
			}
		}()
	}
}

// queueDenorm enqueues an author edge for Run and, when the cover isn't
// final, a background cover refresh, without blocking the caller.
func (r *TieredResolver) queueDenorm(b Book) {
	if len(b.Authors) == 0 {
		return
	}
	childIDs := newSet(b.Key)
	r.metrics.denormWaitingAdd(1)
	go r.add(edge{kind: authorEdge, parentID: b.Authors[0].Key, childIDs: childIDs})

	if r.cover != nil && !b.Cover.Final {
		r.refreshG.Go(func() error {
			ctx := context.WithValue(context.Background(), middleware.RequestIDKey, fmt.Sprintf("cover-%s", b.Key))
			defer func() {
				if rec := recover(); rec != nil {
					Log(ctx).Error("panic refreshing cover", "details", rec)
				}
			}()
			return r.cover.Resolve(ctx, b.Key)
		})
	}
}

func (r *TieredResolver) add(e edge) { r.denormC <- e }

// Run drains the denormalization queue until the channel is closed,
// decrementing the pending-work gauges for each edge; no other work is done
// for an edge. Runs in its own goroutine for the process lifetime.
func (r *TieredResolver) Run(ctx context.Context) {
	for e := range r.groupEdges() {
		dctx, cancel := context.WithTimeout(ctx, time.Minute)
		dctx = context.WithValue(dctx, middleware.RequestIDKey, fmt.Sprintf("denorm-%d", e.kind))

		switch e.kind {
		case authorEdge, bookEdge, collectionEdge:
			r.metrics.denormWaitingAdd(-1)
		case refreshDone:
			r.metrics.refreshWaitingAdd(-1)
		}
		cancel()
	}
}

// groupEdges smooths and merges denormalization edges before Run consumes
// them, via buffer.go's accumulate helper.
func (r *TieredResolver) groupEdges() <-chan edge {
	return accumulate(r.denormC, &r.buf)
}

// Shutdown stops accepting new denormalization work. Run will finish
// draining whatever is already queued.
func (r *TieredResolver) Shutdown(context.Context) {
	close(r.denormC)
}

func marshalBook(b Book) ([]byte, error) {
	return marshalJSON(b)
}
