package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/order"
)

const (
	orderColumns = `id::text, customer_id::text, shop_id::text, items, subtotal, offer_id::text,
		offer_discount, discount, tax, delivery_fee, total, address, status, version,
		checkout_key, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, customer_id, shop_id, items, subtotal, offer_id,
		offer_discount, discount, tax, delivery_fee, total, address, status, version,
		checkout_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByCheckoutKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE checkout_key = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 ORDER BY created_at DESC`

	listOrdersByShopSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE shop_id = $1 ORDER BY created_at DESC`

	listOrdersByStatusBeforeSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	checkoutKeyConstraint = "orders_checkout_key_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, o.ShopID, itemsJSON, o.Subtotal, nullable(o.OfferID),
		o.OfferCut, o.Discount, o.Tax, o.DeliveryFee, o.Total, o.Address, string(o.Status), o.Version,
		nullable(o.CheckoutKey), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, checkoutKeyConstraint) {
			return order.ErrDuplicateCheckoutKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderByIDSQL, id)
}

func (r *OrderRepository) FindByCheckoutKey(ctx context.Context, key string) (*order.Order, error) {
	return r.one(ctx, getOrderByCheckoutKeySQL, key)
}

func (r *OrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	return r.many(ctx, listOrdersByCustomerSQL, customerID)
}

func (r *OrderRepository) FindByShop(ctx context.Context, shopID string) ([]order.Order, error) {
	return r.many(ctx, listOrdersByShopSQL, shopID)
}

func (r *OrderRepository) ListByStatusBefore(ctx context.Context, status order.Status, before time.Time, limit int) ([]order.Order, error) {
	return r.many(ctx, listOrdersByStatusBeforeSQL, string(status), before, limit)
}

// UpdateStatus performs a compare-and-set on the order version.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, expectedVersion int) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, updateOrderStatusSQL, id, expectedVersion, string(status))
	if err != nil {
		return nil, fmt.Errorf("updating order %q status: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %q status: %w", id, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrVersionConflict
}

func (r *OrderRepository) one(ctx context.Context, sql string, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

func (r *OrderRepository) many(ctx context.Context, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		offerID     *string
		status      string
		version     int32
		checkoutKey *string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.ShopID, &itemsJSON, &o.Subtotal, &offerID,
		&o.OfferCut, &o.Discount, &o.Tax, &o.DeliveryFee, &o.Total, &o.Address, &status, &version,
		&checkoutKey, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.OfferID = deref(offerID)
	o.Status = order.Status(status)
	o.Version = int(version)
	o.CheckoutKey = deref(checkoutKey)
	return o, nil
}
