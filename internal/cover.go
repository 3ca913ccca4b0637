package internal

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// coverAttemptStatus enumerates the outcome of a single provider probe, per
// attempt provenance recorded alongside cover selection.
type coverAttemptStatus string

const (
	coverSuccess              coverAttemptStatus = "SUCCESS"
	coverFailure404           coverAttemptStatus = "FAILURE_404"
	coverFailureTimeout       coverAttemptStatus = "FAILURE_TIMEOUT"
	coverFailureProcessing    coverAttemptStatus = "FAILURE_PROCESSING"
	coverFailurePlaceholder   coverAttemptStatus = "FAILURE_PLACEHOLDER_DETECTED"
	coverSkippedBadURL        coverAttemptStatus = "SKIPPED_BAD_URL"
)

// coverAttempt is one provenance entry for a cover resolution.
type coverAttempt struct {
	Source IdentifierScheme
	URL    string
	Status coverAttemptStatus
	Width  int
	Height int
	Reason string
}

// minHighResWidth/minHighResHeight are the dimension floor a candidate must
// clear to count as high-resolution.
const (
	minHighResWidth  = 800
	minHighResHeight = 1200
)

// coverSourcePrecedence orders providers for the async cover probe.
var coverSourcePrecedence = []CoverSourceTag{CoverGoogleBooks, CoverOpenLibrary, CoverLongitood}

func coverSourceRank(tag CoverSourceTag) int {
	for i, t := range coverSourcePrecedence {
		if t == tag {
			return i
		}
	}
	return len(coverSourcePrecedence)
}

// coverFetcher abstracts the byte-fetching surface CoverOrchestrator needs
// from each provider; GoogleBooksClient/OpenLibraryClient/LongitoodClient
// each expose FetchByISBN already satisfying this narrower shape.
type coverFetcher interface {
	FetchByISBN(ctx context.Context, isbn string) ([]byte, error)
}

// CoverOrchestrator selects and maintains each Book's cover image,
// resolving a synchronous best-effort answer immediately and refining it
// in the background.
type CoverOrchestrator struct {
	store   *Store
	images  ObjectStore // raw image bytes under images/book-covers/, unlike ObjectStoreCache's gzip-JSON convention

	providers map[CoverSourceTag]coverFetcher

	finalCache      sync.Map // BookKey -> CoverState
	provisionalCache sync.Map // BookKey -> CoverState

	inflight singleflight.Group // coalesces duplicate async refresh triggers
	persist  refreshPersister   // records in-flight refreshes for restart recovery
	etags    *etagGate          // skips a store write when provenance didn't actually change
}

// NewCoverOrchestrator builds an orchestrator over store/images and the
// given provider clients, keyed by their cover source tag.
func NewCoverOrchestrator(store *Store, images ObjectStore, providers map[CoverSourceTag]coverFetcher, persist refreshPersister) *CoverOrchestrator {
	if persist == nil {
		persist = &noRefreshPersist{}
	}
	return &CoverOrchestrator{store: store, images: images, providers: providers, persist: persist, etags: newETagGate()}
}

// Recover re-triggers any cover refresh that was in flight when the process
// last stopped.
func (o *CoverOrchestrator) Recover(ctx context.Context) {
	keys, err := o.persist.Persisted(ctx, "cover")
	if err != nil {
		Log(ctx).Warn("problem listing in-flight cover refreshes", "err", err)
		return
	}
	for _, k := range keys {
		if err := o.Resolve(ctx, k); err != nil {
			Log(ctx).Debug("recovered cover refresh failed", "bookKey", k, "err", err)
		}
	}
}

// imageKey builds the bucket-relative key for a book cover image.
func imageKey(suffix string) string {
	return "images/book-covers/" + suffix
}

// Synchronous returns the best cover known right now without making any
// network calls: final cache, then provisional cache, then the book's
// stored fields, then a placeholder.
func (o *CoverOrchestrator) Synchronous(key BookKey, stored CoverState) CoverState {
	if v, ok := o.finalCache.Load(key); ok {
		return v.(CoverState)
	}
	if v, ok := o.provisionalCache.Load(key); ok {
		return v.(CoverState)
	}
	if stored.URL != "" {
		o.provisionalCache.Store(key, stored)
		return stored
	}
	return CoverState{Source: CoverNone}
}

// Resolve runs the asynchronous cover-selection pipeline for key, probing
// the object store's large-cover convention first and falling through
// providers in precedence order, committing the best accepted candidate.
// Duplicate concurrent triggers for the same key coalesce.
func (o *CoverOrchestrator) Resolve(ctx context.Context, key BookKey) error {
	_, err, _ := o.inflight.Do(key.String(), func() (any, error) {
		return nil, o.resolve(ctx, key)
	})
	return err
}

func (o *CoverOrchestrator) resolve(ctx context.Context, key BookKey) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	b, err := o.store.FetchByKey(ctx, key)
	if err != nil {
		return err
	}
	if b.Cover.Final {
		return nil
	}

	if err := o.persist.Persist(ctx, "cover", key); err != nil {
		Log(ctx).Warn("problem persisting in-flight cover refresh", "err", err)
	}
	defer func() {
		if err := o.persist.Delete(context.Background(), "cover", key); err != nil {
			Log(ctx).Warn("problem clearing in-flight cover refresh", "err", err)
		}
	}()

	var attempts []coverAttempt
	var best CoverState
	externalID := firstExternalID(b)

	if o.images != nil && externalID != "" {
		objKey := imageKey(externalID + "-lg-google-books.jpg")
		if raw, err := o.images.GetObject(ctx, objKey); err == nil {
			if w, h, perr := decodeDimensions(raw); perr == nil && (w >= minHighResWidth && h >= minHighResHeight) {
				best = CoverState{URL: objKey, Source: CoverGoogleBooks, Width: w, Height: h, HighRes: true, Final: true, ObjectKey: objKey}
				attempts = append(attempts, coverAttempt{Source: SchemeGoogleBooks, URL: objKey, Status: coverSuccess, Width: w, Height: h})
			}
		}
	}

	if best.URL == "" {
		isbn := b.ISBN13
		if isbn == "" {
			isbn = b.ISBN10
		}
		for _, tag := range coverSourcePrecedence {
			fetcher, ok := o.providers[tag]
			if !ok || isbn == "" {
				continue
			}
			raw, err := fetcher.FetchByISBN(ctx, isbn)
			if err != nil {
				attempts = append(attempts, coverAttempt{Source: IdentifierScheme(tag), Status: coverFailure404, Reason: err.Error()})
				continue
			}
			w, h, err := decodeDimensions(raw)
			if err != nil {
				attempts = append(attempts, coverAttempt{Source: IdentifierScheme(tag), Status: coverFailureProcessing, Reason: err.Error()})
				continue
			}
			if looksLikePlaceholder(raw, w, h) {
				attempts = append(attempts, coverAttempt{Source: IdentifierScheme(tag), Status: coverFailurePlaceholder, Width: w, Height: h})
				continue
			}

			candidate := CoverState{URL: fmt.Sprintf("covers/%s", key), Source: tag, Width: w, Height: h, HighRes: w >= minHighResWidth && h >= minHighResHeight}
			attempts = append(attempts, coverAttempt{Source: IdentifierScheme(tag), Status: coverSuccess, Width: w, Height: h})

			if betterCandidate(candidate, best) {
				best = candidate
				if o.images != nil && externalID != "" {
					_ = o.images.PutObject(ctx, imageKey(externalID+"-cover."+string(tag)), raw)
				}
			}
		}
	}

	if best.URL == "" {
		return fmt.Errorf("no cover candidate for %s: %w", key, ErrNotFound)
	}

	best.Final = best.HighRes
	if best.Final {
		o.finalCache.Store(key, best)
	} else {
		o.provisionalCache.Store(key, best)
	}

	tag, err := etagOf(struct {
		Cover      CoverState
		Provenance []coverAttempt
	}{best, attempts})
	if err == nil && o.etags.Unchanged(key.String(), tag) {
		// Same cover, same provenance: skip the write.
		return nil
	}

	if err := o.store.UpdateCover(ctx, key, best, attempts); err != nil {
		return err
	}

	if best.Final {
		o.emitCoverUpdated(key, best)
	}
	return nil
}

// CoverUpdatedEvent is emitted on a provisional -> final cover transition.
type CoverUpdatedEvent struct {
	BookKey BookKey
	Cover   CoverState
}

// emitCoverUpdated logs the transition. A full pub/sub bus is out of scope;
// the log line is the audit trail consumers (e.g. the sitemap job) can
// correlate against.
func (o *CoverOrchestrator) emitCoverUpdated(key BookKey, cover CoverState) {
	Log(context.Background()).Info("cover updated", "bookKey", key, "source", cover.Source, "final", cover.Final)
}

// betterCandidate implements the pipeline's selection order: high-res
// first, then provider precedence, then larger area.
func betterCandidate(candidate, current CoverState) bool {
	if current.URL == "" {
		return true
	}
	if candidate.HighRes != current.HighRes {
		return candidate.HighRes
	}
	if rc, rC := coverSourceRank(candidate.Source), coverSourceRank(current.Source); rc != rC {
		return rc < rC
	}
	return candidate.Width*candidate.Height > current.Width*current.Height
}

func decodeDimensions(raw []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(newByteReader(raw))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// looksLikePlaceholder rejects stock "no cover available" images:
// implausibly small, or a near-blank (almost entirely white) canvas
// relative to pixel count.
func looksLikePlaceholder(raw []byte, width, height int) bool {
	if width < 50 || height < 50 {
		return true
	}
	return len(raw) < 2048 && width*height > 40_000
}

func firstExternalID(b Book) string {
	for _, id := range b.ExternalIDs {
		if id.Scheme == SchemeGoogleBooks {
			return id.Value
		}
	}
	if len(b.ExternalIDs) > 0 {
		return b.ExternalIDs[0].Value
	}
	return ""
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
