package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(number, placed_at, status, customer_id, total_amount, discount_amount, final_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items
		(order_id, product_id, product_name, quantity, unit_price, discount)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	insertOrderDiscountSQL = `INSERT INTO order_discounts (order_id, position, rule, amount)
		VALUES ($1, $2, $3, $4)`

	selectOrdersSQL = `SELECT o.id, o.number, o.placed_at, o.status, o.customer_id, c.name, c.segment,
		o.total_amount, o.discount_amount, o.final_amount
		FROM orders o JOIN customers c ON c.id = o.customer_id`

	getOrderByIDSQL         = selectOrdersSQL + ` WHERE o.id = $1`
	listOrdersByCustomerSQL = selectOrdersSQL + ` WHERE o.customer_id = $1 ORDER BY o.placed_at DESC, o.id DESC`
	listOrdersByStatusSQL   = selectOrdersSQL + ` WHERE o.status = $1 ORDER BY o.placed_at DESC, o.id DESC`
	listOrdersPlacedSQL     = selectOrdersSQL + ` WHERE o.placed_at BETWEEN $1 AND $2 ORDER BY o.placed_at`

	selectItemsSQL = `SELECT id, order_id, product_id, product_name, quantity, unit_price, discount
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	selectDiscountsSQL = `SELECT order_id, rule, amount
		FROM order_discounts WHERE order_id = ANY($1) ORDER BY order_id, position`

	selectHistorySQL = `SELECT id, order_id, old_status, new_status, changed_at, changed_by, notes
		FROM order_status_history WHERE order_id = ANY($1) ORDER BY changed_at DESC, id DESC`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	insertHistorySQL = `INSERT INTO order_status_history
		(order_id, old_status, new_status, changed_at, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Items, applied discounts and status history live in child tables.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order row with its items, discounts and initial
// history in a single transaction and assigns IDs.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.Number, o.PlacedAt, int16(o.Status), o.CustomerID,
			o.TotalAmount, o.DiscountAmount, o.FinalAmount,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		b := &pgx.Batch{}
		for _, it := range o.Items {
			b.Queue(insertOrderItemSQL, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Discount)
		}
		for i, d := range o.Discounts {
			b.Queue(insertOrderDiscountSQL, o.ID, i, d.Rule, d.Amount)
		}
		for _, h := range o.History {
			b.Queue(insertHistorySQL, o.ID, int16(h.OldStatus), int16(h.NewStatus), h.ChangedAt, h.ChangedBy, h.Notes)
		}

		br := tx.SendBatch(ctx, b)
		for i := range o.Items {
			if err := br.QueryRow().Scan(&o.Items[i].ID); err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting order item: %w", err)
			}
		}
		for range o.Discounts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting order discount: %w", err)
			}
		}
		for i := range o.History {
			o.History[i].OrderID = o.ID
			if err := br.QueryRow().Scan(&o.History[i].ID); err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting order history: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}
	return nil
}

// GetByID returns an order with items, discounts and history.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	orders, err := r.query(ctx, true, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return &orders[0], nil
}

// ListByCustomer returns a customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]order.Order, error) {
	orders, err := r.query(ctx, false, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}
	return orders, nil
}

// ListByStatus returns orders in status, newest first.
func (r *OrderRepository) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	orders, err := r.query(ctx, false, listOrdersByStatusSQL, int16(status))
	if err != nil {
		return nil, fmt.Errorf("listing %s orders: %w", status, err)
	}
	return orders, nil
}

// ListPlacedBetween returns orders placed in [from, to] with their history.
func (r *OrderRepository) ListPlacedBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	orders, err := r.query(ctx, true, listOrdersPlacedSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders placed between %s and %s: %w", from, to, err)
	}
	return orders, nil
}

// ChangeStatus locks the order row, updates its status and appends the
// change to the history.
func (r *OrderRepository) ChangeStatus(ctx context.Context, change *order.StatusChange) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var old int16
		if err := tx.QueryRow(ctx, lockOrderStatusSQL, change.OrderID).Scan(&old); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("locking order %d: %w", change.OrderID, err)
		}
		change.OldStatus = order.Status(old)

		if _, err := tx.Exec(ctx, updateOrderStatusSQL, change.OrderID, int16(change.NewStatus)); err != nil {
			return fmt.Errorf("updating order %d status: %w", change.OrderID, err)
		}

		err := tx.QueryRow(ctx, insertHistorySQL,
			change.OrderID, int16(change.OldStatus), int16(change.NewStatus),
			change.ChangedAt, change.ChangedBy, change.Notes,
		).Scan(&change.ID)
		if err != nil {
			return fmt.Errorf("recording order %d history: %w", change.OrderID, err)
		}
		return nil
	})
}

// History returns the status changes of an order, newest first.
func (r *OrderRepository) History(ctx context.Context, orderID int64) ([]order.StatusChange, error) {
	byOrder, err := r.history(ctx, []int64{orderID})
	if err != nil {
		return nil, fmt.Errorf("getting order %d history: %w", orderID, err)
	}
	return byOrder[orderID], nil
}

// Delete removes an order. Child rows are removed by cascade.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// query selects orders and attaches their items and discounts, plus the
// status history when withHistory is set.
func (r *OrderRepository) query(ctx context.Context, withHistory bool, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	var (
		orderID int64
		it      order.Item
	)
	rows, err = r.pool.Query(ctx, selectItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("selecting items: %w", err)
	}
	_, err = pgx.ForEachRow(rows,
		[]any{&it.ID, &orderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Discount},
		func() error {
			o := &orders[index[orderID]]
			o.Items = append(o.Items, it)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("scanning items: %w", err)
	}

	var d order.AppliedDiscount
	rows, err = r.pool.Query(ctx, selectDiscountsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("selecting discounts: %w", err)
	}
	_, err = pgx.ForEachRow(rows, []any{&orderID, &d.Rule, &d.Amount}, func() error {
		o := &orders[index[orderID]]
		o.Discounts = append(o.Discounts, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning discounts: %w", err)
	}

	if withHistory {
		byOrder, err := r.history(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range orders {
			orders[i].History = byOrder[orders[i].ID]
		}
	}
	return orders, nil
}

func (r *OrderRepository) history(ctx context.Context, ids []int64) (map[int64][]order.StatusChange, error) {
	rows, err := r.pool.Query(ctx, selectHistorySQL, ids)
	if err != nil {
		return nil, fmt.Errorf("selecting history: %w", err)
	}

	var (
		h                  order.StatusChange
		oldStatus, current int16
	)
	byOrder := make(map[int64][]order.StatusChange, len(ids))
	_, err = pgx.ForEachRow(rows,
		[]any{&h.ID, &h.OrderID, &oldStatus, &current, &h.ChangedAt, &h.ChangedBy, &h.Notes},
		func() error {
			h.OldStatus, h.NewStatus = order.Status(oldStatus), order.Status(current)
			byOrder[h.OrderID] = append(byOrder[h.OrderID], h)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("scanning history: %w", err)
	}
	return byOrder, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		status  int16
		segment int16
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.PlacedAt, &status, &o.CustomerID, &o.CustomerName, &segment,
		&o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
	)
	o.Status = order.Status(status)
	o.Segment = customer.Segment(segment)
	return o, err
}
