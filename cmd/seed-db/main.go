package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/product"
	"github.com/xenking/order-management/internal/storage/postgres"
)

type catalogJSON struct {
	Customers []struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Segment string `json:"segment"`
	} `json:"customers"`
	Products []struct {
		Name          string          `json:"name"`
		Description   string          `json:"description"`
		Price         decimal.Decimal `json:"price"`
		StockQuantity int             `json:"stockQuantity"`
	} `json:"products"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
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

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCustomers(ctx, customer.NewService(postgres.NewCustomerRepository(pool)), catalog); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedProducts(ctx, postgres.NewProductRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}
	return nil
}

// seedCustomers registers the catalog customers unless any customer exists.
func seedCustomers(ctx context.Context, svc *customer.Service, catalog catalogJSON) error {
	existing, err := svc.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list customers")
	}
	if len(existing) > 0 {
		slog.Info("customers already present, skipping", slog.Int("count", len(existing)))
		return nil
	}

	for _, c := range catalog.Customers {
		segment, err := customer.ParseSegment(c.Segment)
		if err != nil {
			return errors.Wrapf(err, "customer %s", c.Name)
		}
		created, err := svc.Create(ctx, customer.CreateRequest{Name: c.Name, Email: c.Email, Segment: segment})
		if err != nil {
			return errors.Wrapf(err, "create customer %s", c.Name)
		}

		slog.Info("created customer",
			slog.Int64("id", created.ID),
			slog.String("name", created.Name),
			slog.String("segment", created.Segment.String()),
		)
	}
	return nil
}

// seedProducts inserts the catalog products unless any product exists.
func seedProducts(ctx context.Context, repo *postgres.ProductRepository, catalog catalogJSON) error {
	existing, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	if len(existing) > 0 {
		slog.Info("products already present, skipping", slog.Int("count", len(existing)))
		return nil
	}

	for _, p := range catalog.Products {
		prod := &product.Product{
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price,
			StockQuantity: p.StockQuantity,
		}
		if err := repo.Create(ctx, prod); err != nil {
			return errors.Wrapf(err, "create product %s", p.Name)
		}

		slog.Info("created product", slog.Int64("id", prod.ID), slog.String("name", prod.Name))
	}
	return nil
}
