package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/order-management/internal/app"
	"github.com/xenking/order-management/internal/domain/order"
	"github.com/xenking/order-management/internal/importer"
	"github.com/xenking/order-management/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		rulesFile   string
		stacking    string
		cfg         importer.Config
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing order files")
	flag.StringVar(&pattern, "pattern", "*.ndjson.gz", "glob of order files inside data-dir, imported in lexical order")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&rulesFile, "rules-file", "", "YAML file with additional discount rules")
	flag.StringVar(&stacking, "stacking", "original", "discount stacking policy: original or remaining")
	flag.UintVar(&cfg.BloomCapacity, "bloom-capacity", 1_000_000, "expected orders per file")
	flag.Float64Var(&cfg.BloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&cfg.Workers, "workers", 8, "concurrent order placements")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	discountCfg := app.DiscountConfig{Stacking: stacking, RulesFile: rulesFile}
	if err := run(ctx, dataDir, pattern, databaseURL, discountCfg, cfg); err != nil {
		slog.Error("order import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("order import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, discountCfg app.DiscountConfig, cfg importer.Config) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list order files")
	}
	if len(files) == 0 {
		slog.Info("no order files found", slog.String("dir", dataDir), slog.String("pattern", pattern))
		return nil
	}
	slices.Sort(files)

	engine, err := app.NewEngine(discountCfg)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	orders := order.NewService(
		postgres.NewCustomerRepository(pool),
		postgres.NewProductRepository(pool),
		postgres.NewOrderRepository(pool),
		engine,
	)

	stats, err := importer.New(orders, slog.Default(), cfg).Run(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Uint64("lines", stats.Lines),
		slog.Uint64("placed", stats.Placed),
		slog.Uint64("duplicates", stats.Duplicates),
		slog.Uint64("rejected", stats.Rejected),
	)
	return nil
}
