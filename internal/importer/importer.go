package importer

import (
	"context"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-management/internal/domain/order"
)

// MaxFiles is the number of files a single run can deduplicate across.
const MaxFiles = bits.UintSize

// Placer places a single order.
type Placer interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
}

// Config tunes an import run.
type Config struct {
	// BloomCapacity is the expected number of references per file.
	BloomCapacity uint
	// BloomFPR is the target false positive rate of each filter.
	BloomFPR float64
	// Workers bounds concurrent order placement.
	Workers int
	// ProgressEvery logs progress each time that many lines are read.
	ProgressEvery uint64
}

func (c *Config) setDefaults() {
	if c.BloomCapacity == 0 {
		c.BloomCapacity = 1_000_000
	}
	if c.BloomFPR == 0 {
		c.BloomFPR = 0.001
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 100_000
	}
}

// Stats summarises an import run.
type Stats struct {
	Lines      uint64
	Placed     uint64
	Duplicates uint64
	Rejected   uint64
}

// Importer places orders read from NDJSON files, skipping references that
// already appeared in an earlier file.
type Importer struct {
	placer Placer
	cfg    Config
	lg     *slog.Logger
}

// New creates an Importer.
func New(placer Placer, lg *slog.Logger, cfg Config) *Importer {
	cfg.setDefaults()
	return &Importer{placer: placer, cfg: cfg, lg: lg}
}

// Run imports files in order.
//
// Duplicates are found in three passes before anything is placed: a bloom
// filter per file, a scan of every file against the filters of the files
// before it, and an exact check of the resulting candidates.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	if len(files) > MaxFiles {
		return Stats{}, errors.Errorf("at most %d files per run, got %d", MaxFiles, len(files))
	}

	im.lg.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return Stats{}, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("pass 2: finding candidate duplicates")
	candidates, err := im.findCandidates(ctx, files, filters)
	if err != nil {
		return Stats{}, errors.Wrap(err, "find candidates")
	}

	im.lg.Info("pass 3: confirming duplicates", slog.Int("candidates", len(candidates)))
	owners, err := im.confirm(ctx, files, candidates)
	if err != nil {
		return Stats{}, errors.Wrap(err, "confirm duplicates")
	}

	var stats Stats
	for i, f := range files {
		if err := im.importFile(ctx, i, f, owners, &stats); err != nil {
			return stats, errors.Wrapf(err, "import file %d", i+1)
		}
	}
	return stats, nil
}

// buildFilters creates one bloom filter per file, concurrently.
func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.cfg.BloomCapacity, im.cfg.BloomFPR)
			var count uint64
			if err := streamRefs(ctx, path, func(ref string) {
				filter.AddString(ref)
				count++
			}); err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			im.lg.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("refs", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates returns references that may also appear in an earlier file.
// Only filters of earlier files are consulted, so the first file yields none.
func (im *Importer) findCandidates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]map[string]struct{}, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		if i == 0 {
			continue
		}
		g.Go(func() error {
			found := make(map[string]struct{})
			if err := streamRefs(ctx, path, func(ref string) {
				for _, f := range filters[:i] {
					if f.TestString(ref) {
						found[ref] = struct{}{}
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			im.lg.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(found)))
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]struct{})
	for _, r := range results {
		for ref := range r {
			merged[ref] = struct{}{}
		}
	}
	return merged, nil
}

// confirm maps every candidate that truly occurs in more than one file to
// the index of the first file containing it. Bloom false positives drop out
// here.
func (im *Importer) confirm(ctx context.Context, files []string, candidates map[string]struct{}) (map[string]int, error) {
	if len(candidates) == 0 {
		return map[string]int{}, nil
	}

	var (
		mu    sync.Mutex
		masks = make(map[string]uint, len(candidates))
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			present := make(map[string]struct{})
			if err := streamRefs(ctx, path, func(ref string) {
				if _, ok := candidates[ref]; ok {
					present[ref] = struct{}{}
				}
			}); err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			bit := uint(1) << uint(i)
			mu.Lock()
			for ref := range present {
				masks[ref] |= bit
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	owners := make(map[string]int)
	for ref, mask := range masks {
		if bits.OnesCount(mask) >= 2 {
			owners[ref] = bits.TrailingZeros(mask)
		}
	}
	return owners, nil
}

// importFile places the orders of file idx. Rejected orders are logged and
// counted; only context cancellation aborts the run.
func (im *Importer) importFile(ctx context.Context, idx int, path string, owners map[string]int, stats *Stats) error {
	var (
		lines, placed, dupes, rejected atomic.Uint64
		// Duplicated references are placed once even when repeated within
		// their owning file.
		done = make(map[string]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)

	err := streamFile(gctx, path, func(data []byte) error {
		n := lines.Add(1)
		if n%im.cfg.ProgressEvery == 0 {
			im.lg.Info("import progress", slog.Int("file", idx+1), slog.Uint64("lines", n))
		}

		l, err := DecodeLine(data)
		if err != nil {
			rejected.Add(1)
			im.lg.Warn("skipping malformed line",
				slog.Int("file", idx+1),
				slog.Uint64("line", n),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if owner, ok := owners[l.Ref]; ok {
			_, seen := done[l.Ref]
			done[l.Ref] = struct{}{}
			if owner != idx || seen {
				dupes.Add(1)
				return nil
			}
		}

		g.Go(func() error {
			o, err := im.placer.CreateOrder(gctx, l.Request)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				rejected.Add(1)
				im.lg.Warn("order rejected",
					slog.Int("file", idx+1),
					slog.String("ref", l.Ref),
					slog.String("error", err.Error()),
				)
				return nil
			}
			placed.Add(1)
			im.lg.Debug("order placed", slog.String("ref", l.Ref), slog.String("number", o.Number))
			return nil
		})
		return nil
	})
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}

	stats.Lines += lines.Load()
	stats.Placed += placed.Load()
	stats.Duplicates += dupes.Load()
	stats.Rejected += rejected.Load()

	im.lg.Info("file imported",
		slog.Int("file", idx+1),
		slog.Uint64("lines", lines.Load()),
		slog.Uint64("placed", placed.Load()),
		slog.Uint64("duplicates", dupes.Load()),
		slog.Uint64("rejected", rejected.Load()),
	)
	return err
}
