// Command bookfinder runs the book data acquisition and hydration engine:
// an HTTP server backed by a tiered resolver, canonical Postgres store, and
// S3-compatible cover/object cache.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"

	"github.com/WilliamAGH/book-finder-sub007/internal"
)

// cliRoot contains our command-line flags.
type cliRoot struct {
	Serve   server  `cmd:"" help:"Run an HTTP server."`
	Bust    bust    `cmd:"" help:"Clear an in-flight cover/recommendation refresh for a book."`
	Reindex reindex `cmd:"" help:"Refresh the full-text search index once."`
}

type server struct {
	pgconfig
	s3config
	providerconfig
	logconfig

	Port int `default:"8788" help:"Port to serve traffic on."`
}

type bust struct {
	pgconfig
	logconfig

	BookKey string `arg:"" help:"canonical book key to clear in-flight refresh state for"`
	Job     string `default:"cover" enum:"cover,recommend" help:"which in-flight job to clear."`
}

type reindex struct {
	pgconfig
	s3config
	providerconfig
	logconfig
}

type pgconfig struct {
	PostgresHost     string `default:"localhost" help:"Postgres host."`
	PostgresUser     string `default:"postgres" help:"Postgres user."`
	PostgresPassword string `default:"" help:"Postgres password."`
	PostgresPort     int    `default:"5432" help:"Postgres port."`
	PostgresDatabase string `default:"bookfinder" help:"Postgres database to use."`
}

// dsn returns the database's DSN based on the provided flags.
func (c *pgconfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDatabase,
	)
}

type s3config struct {
	S3Bucket    string `help:"Durable object-store bucket for covers and JSON blobs."`
	S3Region    string `default:"us-east-1" help:"Object-store region."`
	S3Endpoint  string `default:"" help:"Object-store endpoint, for S3-compatible providers (R2, MinIO)."`
	S3AccessKey string `default:"" help:"Object-store access key ID."`
	S3SecretKey string `default:"" help:"Object-store secret access key."`
}

func (c *s3config) objectStore(ctx context.Context) (internal.ObjectStore, error) {
	if c.S3Bucket == "" {
		return nil, nil
	}
	return internal.NewS3Store(ctx, internal.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.S3AccessKey,
		SecretAccessKey: c.S3SecretKey,
	})
}

type providerconfig struct {
	GoogleBooksAPIKey string  `help:"GoogleBooks API key for authenticated requests."`
	NYTAPIKey         string  `help:"NYT Books API key, required for bestseller ingestion."`
	ProviderRPS       float64 `default:"1" help:"Steady-state requests/sec budget per upstream provider."`
}

type logconfig struct {
	Verbose bool `help:"increase log verbosity"`
}

func (c *logconfig) Run() error {
	if c.Verbose {
		internal.SetVerbose()
	}
	return nil
}

func (s *server) appConfig(ctx context.Context) (internal.Config, error) {
	objects, err := s.s3config.objectStore(ctx)
	if err != nil {
		return internal.Config{}, fmt.Errorf("setting up object store: %w", err)
	}
	return internal.Config{
		DSN:               s.pgconfig.dsn(),
		Objects:           objects,
		GoogleBooksAPIKey: s.providerconfig.GoogleBooksAPIKey,
		NYT:               internal.NYTConfig{APIKey: s.providerconfig.NYTAPIKey},
		ProviderRPS:       s.providerconfig.ProviderRPS,
	}, nil
}

func (s *server) Run() error {
	_ = s.logconfig.Run()
	ctx := context.Background()

	cfg, err := s.appConfig(ctx)
	if err != nil {
		return err
	}
	app, err := internal.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring app: %w", err)
	}

	app.Recover(ctx)
	go app.RunScheduler(ctx)
	go app.RunDenormalizer(ctx)
	defer app.Shutdown(context.Background())

	mux := app.Mux()
	mux = stampede.Handler(1024, 0)(mux)    // Coalesce requests to the same resource.
	mux = middleware.RequestSize(1024)(mux) // Limit request bodies.
	mux = middleware.RedirectSlashes(mux)   // Normalize paths for caching.
	mux = middleware.RequestID(mux)         // Include a request ID header.
	mux = middleware.Recoverer(mux)         // Recover from panics.

	addr := fmt.Sprintf(":%d", s.Port)
	httpServer := &http.Server{
		Handler:  mux,
		Addr:     addr,
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	slog.Info("listening on " + addr)
	return httpServer.ListenAndServe()
}

func (b *bust) Run() error {
	_ = b.logconfig.Run()
	ctx := context.Background()

	cache, err := internal.NewCacheForBusting(ctx, b.pgconfig.dsn())
	if err != nil {
		return err
	}
	persister, err := internal.NewRefreshPersister(ctx, cache, b.pgconfig.dsn())
	if err != nil {
		return err
	}

	var key internal.BookKey
	if err := key.UnmarshalText([]byte(b.BookKey)); err != nil {
		return fmt.Errorf("invalid book key %q: %w", b.BookKey, err)
	}

	return persister.Delete(ctx, b.Job, key)
}

func (r *reindex) Run() error {
	_ = r.logconfig.Run()
	ctx := context.Background()

	objects, err := r.s3config.objectStore(ctx)
	if err != nil {
		return err
	}
	app, err := internal.NewApp(ctx, internal.Config{
		DSN:               r.pgconfig.dsn(),
		Objects:           objects,
		GoogleBooksAPIKey: r.providerconfig.GoogleBooksAPIKey,
		NYT:               internal.NYTConfig{APIKey: r.providerconfig.NYTAPIKey},
		ProviderRPS:       r.providerconfig.ProviderRPS,
	})
	if err != nil {
		return err
	}

	app.TriggerReindex(ctx)
	return nil
}

func main() {
	kctx := kong.Parse(&cliRoot{})
	err := kctx.Run()
	if err != nil {
		internal.Log(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
