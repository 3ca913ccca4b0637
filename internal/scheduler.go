package internal

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"
)

//go:embed scheduler_jobs.yaml
var schedulerJobsYAML []byte

type schedulerJobYAML struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`
}

// defaultSchedulerJobs parses the job table bundled with the binary -- the
// one piece of static configuration this engine loads itself, as a bootstrap
// file rather than a general config-loading subsystem.
func defaultSchedulerJobs() []SchedulerJob {
	var raw []schedulerJobYAML
	if err := yaml.Unmarshal(schedulerJobsYAML, &raw); err != nil {
		panic(fmt.Sprintf("invalid scheduler_jobs.yaml: %v", err))
	}
	jobs := make([]SchedulerJob, 0, len(raw))
	for _, r := range raw {
		d, err := time.ParseDuration(r.Interval)
		if err != nil {
			panic(fmt.Sprintf("scheduler_jobs.yaml: job %q: %v", r.Name, err))
		}
		jobs = append(jobs, SchedulerJob{Name: r.Name, Interval: d})
	}
	return jobs
}

// SchedulerJob is one periodic task definition, loaded from the job table
// (scheduler_jobs.yaml) at startup.
type SchedulerJob struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
}

// Scheduler runs the engine's periodic jobs -- cache warming, bestseller
// ingestion, sitemap snapshotting -- each on its own ticker, with a per-job
// mutex suppressing concurrent runs of the same job. The search index
// refresh has no ticker: it runs after bestseller ingestion or on
// TriggerSearchRefresh.
type Scheduler struct {
	resolver *TieredResolver
	store    *Store
	objects  *ObjectStoreCache
	nyt      *NYTClient
	identity *IdentityResolver

	jobMu sync.Map // job name -> *sync.Mutex, suppresses concurrent runs of the same job
}

// NewScheduler builds a Scheduler over its collaborators.
func NewScheduler(resolver *TieredResolver, store *Store, objects *ObjectStoreCache, nyt *NYTClient, identity *IdentityResolver) *Scheduler {
	return &Scheduler{resolver: resolver, store: store, objects: objects, nyt: nyt, identity: identity}
}

func (s *Scheduler) mutexFor(job string) *sync.Mutex {
	v, _ := s.jobMu.LoadOrStore(job, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// runExclusive skips a job invocation entirely if the previous run of the
// same job is still in flight, rather than queueing -- scheduler jobs are
// periodic and the next tick will pick up the work regardless.
func (s *Scheduler) runExclusive(ctx context.Context, job string, fn func(context.Context) error) {
	m := s.mutexFor(job)
	if !m.TryLock() {
		Log(ctx).Debug("skipping overlapping scheduler run", "job", job)
		return
	}
	defer m.Unlock()

	jctx := context.WithValue(ctx, middleware.RequestIDKey, fmt.Sprintf("scheduler-%s", job))
	if err := fn(jctx); err != nil {
		Log(jctx).Error("scheduler job failed", "job", job, "err", err)
	}
}

// Run starts every job named in scheduler_jobs.yaml on its own ticker and
// blocks until ctx is cancelled. A job name with no registered handler is
// logged and skipped rather than failing startup.
func (s *Scheduler) Run(ctx context.Context) {
	fns := map[string]func(context.Context) error{
		"cache-warming":        s.warmCache,
		"bestseller-ingestion": s.ingestBestsellers,
		"sitemap-snapshot":     s.snapshotSitemap,
	}

	var wg sync.WaitGroup
	for _, j := range defaultSchedulerJobs() {
		fn, ok := fns[j.Name]
		if !ok {
			Log(ctx).Warn("scheduler_jobs.yaml names unknown job", "job", j.Name)
			continue
		}
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context) error) {
			defer wg.Done()
			ticker := time.NewTicker(fuzz(interval, 1.1))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runExclusive(ctx, name, fn)
				}
			}
		}(j.Name, j.Interval, fn)
	}
	wg.Wait()
}

// warmCache re-resolves recently viewed keys to keep their cached state
// fresh, respecting provider rate limits (the resolver's own RateLimiter
// wiring does the throttling; this job just walks the candidate set).
func (s *Scheduler) warmCache(ctx context.Context) error {
	keys, err := s.store.RecentlyViewed(ctx, 500)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.resolver.FetchByIdentifier(ctx, k.String()); err != nil {
			Log(ctx).Debug("cache warm skipped", "key", k, "err", err)
		}
	}
	return nil
}

// ingestBestsellers fetches every current NYT bestseller list and, for each
// entry, resolves it by ISBN through IdentityResolver then TieredResolver,
// recording BESTSELLER_LIST collection membership with rank and
// weeks-on-list, plus a "nytBestseller" qualifier carrying the same data.
func (s *Scheduler) ingestBestsellers(ctx context.Context) error {
	raw, err := s.nyt.FullOverview(ctx)
	if err != nil {
		return err
	}

	entries, err := parseNYTOverview(raw)
	if err != nil {
		return err
	}

	for _, e := range entries {
		key, err := s.identity.Resolve(ctx, e.ISBN)
		var book Book
		if err == nil {
			book, err = s.store.FetchByKey(ctx, key)
		}
		if err != nil {
			book, err = s.resolver.FetchByIdentifier(ctx, e.ISBN)
			if err != nil {
				Log(ctx).Debug("bestseller entry unresolvable", "isbn", e.ISBN, "err", err)
				continue
			}
		}

		if err := s.store.RecordBestseller(ctx, book.Key, e.ListName, e.Rank, e.WeeksOnList); err != nil {
			Log(ctx).Warn("problem recording bestseller membership", "err", err, "isbn", e.ISBN)
			continue
		}

		if err := s.store.MergeQualifier(ctx, book.Key, "nytBestseller", map[string]any{
			"list":        e.ListName,
			"rank":        e.Rank,
			"weeksOnList": e.WeeksOnList,
		}); err != nil {
			Log(ctx).Warn("problem recording bestseller qualifier", "err", err, "isbn", e.ISBN)
		}
	}

	s.runExclusive(ctx, "search-index-refresh", s.refreshSearchIndex)
	return nil
}

// refreshSearchIndex invokes the database's search view refresh function.
// Not ticker-driven: it runs after batch-modifying operations complete
// (bestseller ingestion here; TriggerSearchRefresh for ad-hoc callers like a
// bulk reindex command).
func (s *Scheduler) refreshSearchIndex(ctx context.Context) error {
	return s.store.RefreshSearchIndex(ctx)
}

// TriggerSearchRefresh runs the search index refresh job immediately,
// suppressing overlap with any run already in flight. For callers outside
// the scheduler's own ticker loop, e.g. a CLI reindex command.
func (s *Scheduler) TriggerSearchRefresh(ctx context.Context) {
	s.runExclusive(ctx, "search-index-refresh", s.refreshSearchIndex)
}

// snapshotSitemap queries the (slug, updated-at) pairs for every book and
// emits them to the object store for the public sitemap.
func (s *Scheduler) snapshotSitemap(ctx context.Context) error {
	snapshot, err := s.store.SitemapSnapshot(ctx)
	if err != nil {
		return err
	}
	if s.objects == nil {
		return nil
	}
	body, err := marshalJSON(snapshot)
	if err != nil {
		return err
	}
	return s.objects.Put(ctx, "sitemap/books", body)
}

// nytBestsellerEntry is one row from NYT's full-overview response.
type nytBestsellerEntry struct {
	ListName    string
	ISBN        string
	Rank        int
	WeeksOnList int
}

func parseNYTOverview(raw []byte) ([]nytBestsellerEntry, error) {
	var envelope struct {
		Results struct {
			Lists []struct {
				ListName string `json:"list_name"`
				Books    []struct {
					PrimaryISBN13 string `json:"primary_isbn13"`
					Rank          int    `json:"rank"`
					WeeksOnList   int    `json:"weeks_on_list"`
				} `json:"books"`
			} `json:"lists"`
		} `json:"results"`
	}
	if err := unmarshalJSON(raw, &envelope); err != nil {
		return nil, err
	}

	var out []nytBestsellerEntry
	for _, list := range envelope.Results.Lists {
		for _, b := range list.Books {
			out = append(out, nytBestsellerEntry{
				ListName:    list.ListName,
				ISBN:        b.PrimaryISBN13,
				Rank:        b.Rank,
				WeeksOnList: b.WeeksOnList,
			})
		}
	}
	return out, nil
}
