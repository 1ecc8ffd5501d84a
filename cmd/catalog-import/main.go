// Command catalog-import loads gzipped JSONL product catalogs into the
// database. Each line is one product record; files are processed
// concurrently and names are deduplicated across the whole run.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
	"github.com/dealhound/dealhound/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// catalogRecord is one JSONL line in a catalog file.
type catalogRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one catalog file is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := repository.NewProductRepository(pool)
	imp := newImporter(repo)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			return imp.importFile(gctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Uint64("imported", imp.imported),
		slog.Uint64("skipped", imp.skipped),
	)
	return nil
}

// importer deduplicates product names across files with a bloom filter.
// A positive test may be a false positive, so the products table keeps the
// upsert as the final arbiter; the filter just avoids most duplicate writes.
type importer struct {
	repo *repository.ProductRepository

	mu       sync.Mutex
	seen     *bloom.BloomFilter
	imported uint64
	skipped  uint64
}

func newImporter(repo *repository.ProductRepository) *importer {
	return &importer{
		repo: repo,
		seen: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

func (imp *importer) importFile(ctx context.Context, path string) error {
	slog.Info("importing catalog", slog.String("path", path))

	var count uint64
	err := streamGzLines(ctx, path, func(line []byte) error {
		count++
		if count%progressEvery == 0 {
			slog.Info("import progress", slog.String("path", path), slog.Uint64("lines", count))
		}

		var rec catalogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed line", slog.String("path", path), slog.Uint64("line", count))
			return nil
		}
		return imp.importRecord(ctx, rec)
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}

	slog.Info("catalog imported", slog.String("path", path), slog.Uint64("lines", count))
	return nil
}

func (imp *importer) importRecord(ctx context.Context, rec catalogRecord) error {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return nil
	}

	key := offer.Sanitize(name)
	imp.mu.Lock()
	dup := imp.seen.TestString(key)
	if !dup {
		imp.seen.AddString(key)
	}
	imp.mu.Unlock()
	if dup {
		imp.mu.Lock()
		imp.skipped++
		imp.mu.Unlock()
		return nil
	}

	p := &product.Product{
		ID:        rec.ID,
		Name:      name,
		Category:  rec.Category,
		CreatedAt: time.Now(),
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Category == "" {
		p.Category = product.DefaultCategory
	}

	if err := imp.repo.Upsert(ctx, p); err != nil {
		return errors.Wrapf(err, "upsert product %q", name)
	}

	imp.mu.Lock()
	imp.imported++
	imp.mu.Unlock()
	return nil
}

// streamGzLines opens a gzip-compressed file and calls fn for each line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
