package internal

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

const (
	scoreAuthorMatch  = 4.0
	scoreCategoryMax  = 3.0
	scoreKeywordMax   = 2.0
)

// RecommendationEngine computes up to N similar books for a given canonical
// Book by merging scored candidates from three independent strategies, then
// persists the result off-thread.
type RecommendationEngine struct {
	store   *Store
	persist refreshPersister // records in-flight computations for restart recovery

	inflight singleflight.Group // at-most-one persistence in flight per source book
	queueMu  sync.Mutex
	queued   map[BookKey]bool // small queue-bound: a second request while one is queued is dropped
	etags    *etagGate        // skips a store write when the recommendation set didn't actually change
}

// NewRecommendationEngine builds an engine backed by store.
func NewRecommendationEngine(store *Store, persist refreshPersister) *RecommendationEngine {
	if persist == nil {
		persist = &noRefreshPersist{}
	}
	return &RecommendationEngine{store: store, persist: persist, queued: map[BookKey]bool{}, etags: newETagGate()}
}

// Recover re-triggers recomputation for any source book whose recommendation
// set was still being computed when the process last stopped.
func (e *RecommendationEngine) Recover(ctx context.Context) {
	keys, err := e.persist.Persisted(ctx, "recommend")
	if err != nil {
		Log(ctx).Warn("problem listing in-flight recommendation computations", "err", err)
		return
	}
	for _, k := range keys {
		book, err := e.store.FetchByKey(ctx, k)
		if err != nil {
			continue
		}
		recs, err := e.Compute(ctx, book, 10)
		if err != nil {
			continue
		}
		e.PersistAsync(k, recs)
	}
}

type scoredCandidate struct {
	key     BookKey
	score   float64
	reasons []string
}

// Compute returns up to limit recommendations for book, ranked by merged,
// normalized score. Computation never blocks on persistence.
func (e *RecommendationEngine) Compute(ctx context.Context, book Book, limit int) ([]Recommendation, error) {
	candidates := map[BookKey]*scoredCandidate{}

	if err := e.scoreAuthorMatches(ctx, book, candidates); err != nil {
		return nil, err
	}
	if err := e.scoreCategoryOverlap(ctx, book, candidates); err != nil {
		return nil, err
	}
	if err := e.scoreKeywordSearch(ctx, book, candidates); err != nil {
		return nil, err
	}

	delete(candidates, book.Key)

	maxScore := 0.0
	for _, c := range candidates {
		if c.score > maxScore {
			maxScore = c.score
		}
	}
	if maxScore == 0 {
		return nil, nil
	}

	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Recommendation{
			BookKey: c.key,
			Score:   c.score / maxScore,
			Reason:  joinReasons(c.reasons),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *RecommendationEngine) scoreAuthorMatches(ctx context.Context, book Book, candidates map[BookKey]*scoredCandidate) error {
	for _, a := range book.Authors {
		keys, err := e.store.BooksByAuthor(ctx, a.Key)
		if err != nil {
			return err
		}
		for _, k := range keys {
			add(candidates, k, scoreAuthorMatch, "shares author "+a.Name)
		}
	}
	return nil
}

func (e *RecommendationEngine) scoreCategoryOverlap(ctx context.Context, book Book, candidates map[BookKey]*scoredCandidate) error {
	if len(book.Genres) == 0 {
		return nil
	}
	own := newSet(normalizeNames(book.Genres)...)

	others, err := e.store.BooksByAnyGenre(ctx, book.Genres)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.Key == book.Key {
			continue
		}
		theirs := newSet(normalizeNames(other.Genres)...)
		overlap := 0
		for g := range own {
			if _, ok := theirs[g]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		maxLen := len(own)
		if len(theirs) > maxLen {
			maxLen = len(theirs)
		}
		score := scoreCategoryMax * float64(overlap) / float64(maxLen)
		add(candidates, other.Key, score, "shares category")
	}
	return nil
}

func (e *RecommendationEngine) scoreKeywordSearch(ctx context.Context, book Book, candidates map[BookKey]*scoredCandidate) error {
	if book.Title == "" {
		return nil
	}
	results, err := e.store.SearchFullText(ctx, book.Title, 10)
	if err != nil {
		return err
	}
	for i, other := range results {
		if other.Key == book.Key {
			continue
		}
		// Rank-decayed score: first result scores highest.
		score := scoreKeywordMax * (1 - float64(i)/float64(len(results)))
		add(candidates, other.Key, score, "title/keyword match")
	}
	return nil
}

func add(candidates map[BookKey]*scoredCandidate, key BookKey, score float64, reason string) {
	c, ok := candidates[key]
	if !ok {
		c = &scoredCandidate{key: key}
		candidates[key] = c
	}
	c.score += score
	c.reasons = append(c.reasons, reason)
}

func normalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = normalizeName(n)
	}
	return out
}

func joinReasons(reasons []string) string {
	seen := map[string]bool{}
	out := ""
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		if out != "" {
			out += "; "
		}
		out += r
	}
	return out
}

// PersistAsync does not compute anything: recommendations are already
// computed by Compute, and PersistAsync stores them off-thread, deduping concurrent triggers for the
// same source book via singleflight and dropping a second queued request
// rather than growing an unbounded backlog.
func (e *RecommendationEngine) PersistAsync(source BookKey, recs []Recommendation) {
	e.queueMu.Lock()
	if e.queued[source] {
		e.queueMu.Unlock()
		return
	}
	e.queued[source] = true
	e.queueMu.Unlock()

	ctx := context.Background()
	if err := e.persist.Persist(ctx, "recommend", source); err != nil {
		Log(ctx).Warn("problem persisting in-flight recommendation computation", "err", err)
	}

	go func() {
		defer func() {
			e.queueMu.Lock()
			delete(e.queued, source)
			e.queueMu.Unlock()
			if err := e.persist.Delete(context.Background(), "recommend", source); err != nil {
				Log(ctx).Warn("problem clearing in-flight recommendation computation", "err", err)
			}
		}()

		_, _, _ = e.inflight.Do(source.String(), func() (any, error) {
			if tag, err := etagOf(recs); err == nil && e.etags.Unchanged(source.String(), tag) {
				return nil, nil
			}
			return nil, e.store.ReplaceRecommendations(ctx, source, recs)
		})
	}()
}
