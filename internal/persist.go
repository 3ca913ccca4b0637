package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// refreshPersister records in-flight async work (cover refresh, recommendation
// computation) keyed by BookKey, so it can be resumed after a restart. Jobs
// are distinguished by a name prefix so one table serves every background
// job kind.
type refreshPersister interface {
	Persist(ctx context.Context, job string, key BookKey) error
	Persisted(ctx context.Context, job string) ([]BookKey, error)
	Delete(ctx context.Context, job string, key BookKey) error
}

// RefreshPersister tracks in-flight background refreshes across reboots in
// the durable cache table.
type RefreshPersister struct {
	db    *pgxpool.Pool
	cache cache[[]byte]
}

// noRefreshPersist no-ops persistence for tests and standalone runs.
type noRefreshPersist struct{}

var (
	_ refreshPersister = (*RefreshPersister)(nil)
	_ refreshPersister = (*noRefreshPersist)(nil)
)

func (*noRefreshPersist) Persist(context.Context, string, BookKey) error { return nil }
func (*noRefreshPersist) Persisted(context.Context, string) ([]BookKey, error) {
	return nil, nil
}
func (*noRefreshPersist) Delete(context.Context, string, BookKey) error { return nil }

// NewRefreshPersister creates a new RefreshPersister over dsn.
func NewRefreshPersister(ctx context.Context, cache cache[[]byte], dsn string) (*RefreshPersister, error) {
	db, err := newDB(ctx, dsn)
	return &RefreshPersister{db: db, cache: cache}, err
}

// Persist records key's job as in-flight.
func (p *RefreshPersister) Persist(ctx context.Context, job string, key BookKey) error {
	p.cache.Set(ctx, refreshJobKey(job, key), key[:], 365*24*time.Hour)
	return nil
}

// Delete records job's refresh of key as completed.
func (p *RefreshPersister) Delete(ctx context.Context, job string, key BookKey) error {
	return p.cache.Delete(ctx, refreshJobKey(job, key))
}

// Persisted returns every BookKey with an in-flight job so it can be resumed.
func (p *RefreshPersister) Persisted(ctx context.Context, job string) ([]BookKey, error) {
	rows, err := p.db.Query(ctx, "SELECT value FROM cache WHERE key LIKE $1", refreshJobPrefix(job)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []BookKey
	for rows.Next() {
		var buf []byte
		if err := rows.Scan(&buf); err != nil {
			continue
		}
		if len(buf) != len(BookKey{}) {
			continue
		}
		var k BookKey
		copy(k[:], buf)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// refreshJobPrefix distinguishes job kinds sharing the durable cache table:
// "cr" for cover refresh, "re" for recommendation computation.
func refreshJobPrefix(job string) string {
	switch job {
	case "cover":
		return "cr"
	case "recommend":
		return "re"
	default:
		return "rj" + job
	}
}

func refreshJobKey(job string, key BookKey) string {
	return fmt.Sprintf("%s%s", refreshJobPrefix(job), key.String())
}
