// Command coupon-ingest loads coupon definitions from gzip-compressed JSON
// lines files and upserts them into storage.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-fulfillment/internal/app"
	"github.com/xenking/kart-fulfillment/internal/cli"
	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 64 << 10
)

func main() {
	storage := cli.StorageFlags(flag.CommandLine)
	workers := flag.Int("workers", 8, "concurrent upserts")
	strict := flag.Bool("strict", false, "abort on the first invalid line instead of skipping it")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: coupon-ingest [flags] file.jsonl.gz...")
		os.Exit(2)
	}
	if err := cli.ResolveStorage(storage); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *storage, files, options{workers: *workers, strict: *strict}); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, cfg app.StorageConfig, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to storage", slog.String("driver", cfg.Driver))

	st, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer func() { _ = st.Close() }()

	s, err := ingest(ctx, st.Coupons, files, opts)
	if err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Int64("lines", s.lines.Load()),
		slog.Int64("upserted", s.upserted.Load()),
		slog.Int64("duplicates", s.duplicates.Load()),
		slog.Int64("invalid", s.invalid.Load()),
	)
	return nil
}

type options struct {
	workers int
	strict  bool
}

type stats struct {
	lines      atomic.Int64
	upserted   atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
}

// ingest streams every file concurrently into a pool of upsert workers. The
// first definition of a code wins; later ones are counted as duplicates.
func ingest(ctx context.Context, repo coupon.Repository, files []string, opts options) (*stats, error) {
	if opts.workers < 1 {
		opts.workers = 1
	}

	var (
		s    stats
		seen = newCodeSet(bloomCapacity, bloomFPR)
		recs = make(chan *coupon.Coupon, opts.workers*4)
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(recs)

		readers, ctx := errgroup.WithContext(ctx)
		for _, path := range files {
			readers.Go(func() error {
				return readFile(ctx, path, opts.strict, &s, func(c *coupon.Coupon) error {
					if !seen.add(c.Code) {
						s.duplicates.Add(1)
						return nil
					}
					select {
					case recs <- c:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
			})
		}
		return readers.Wait()
	})

	for range opts.workers {
		g.Go(func() error {
			for c := range recs {
				if err := repo.Upsert(ctx, c); err != nil {
					return errors.Wrapf(err, "upsert coupon %s", c.Code)
				}
				if n := s.upserted.Add(1); n%progressEvery == 0 {
					slog.Info("write progress", slog.Int64("upserted", n))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &s, err
	}
	return &s, nil
}

// readFile decodes each non-blank line of a gzip-compressed file and hands
// valid coupons to fn.
func readFile(ctx context.Context, path string, strict bool, s *stats, fn func(*coupon.Coupon) error) error {
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
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	var line int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if isBlank(raw) {
			continue
		}
		s.lines.Add(1)

		c, err := parseCoupon(raw)
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			if strict {
				return errors.Wrapf(err, "%s:%d", path, line)
			}
			s.invalid.Add(1)
			slog.Warn("skipping invalid coupon",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := fn(c); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Int("lines", line))
	return nil
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

// codeSet tracks normalized codes. The bloom filter answers the common
// "never seen" case; the exact set settles its false positives.
type codeSet struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newCodeSet(capacity uint, fpr float64) *codeSet {
	return &codeSet{
		filter: bloom.NewWithEstimates(capacity, fpr),
		exact:  make(map[string]struct{}),
	}
}

// add records code and reports whether it was new.
func (s *codeSet) add(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filter.TestOrAddString(code) {
		if _, ok := s.exact[code]; ok {
			return false
		}
	}
	s.exact[code] = struct{}{}
	return true
}
