package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-management/internal/domain/customer"
)

const (
	insertCustomerSQL = `INSERT INTO customers (name, email, segment, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`

	getCustomerByIDSQL = `SELECT id, name, email, segment, created_at, updated_at
		FROM customers WHERE id = $1`

	listCustomersSQL = `SELECT id, name, email, segment, created_at, updated_at
		FROM customers ORDER BY id`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Create inserts c and sets its ID.
func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	err := r.pool.QueryRow(ctx, insertCustomerSQL,
		c.Name, c.Email, int16(c.Segment), c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("creating customer %q: %w", c.Name, err)
	}
	return nil
}

// GetByID returns a single customer by its identifier.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, getCustomerByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	return &c, nil
}

// List returns all customers ordered by ID.
func (r *CustomerRepository) List(ctx context.Context) ([]customer.Customer, error) {
	rows, err := r.pool.Query(ctx, listCustomersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	return pgx.CollectRows(rows, scanCustomer)
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var (
		c       customer.Customer
		segment int16
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &segment, &c.CreatedAt, &c.UpdatedAt)
	c.Segment = customer.Segment(segment)
	return c, err
}
