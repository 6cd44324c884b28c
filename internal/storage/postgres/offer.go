package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/offer"
)

const (
	offerColumns = `id::text, shop_id::text, code, discount_type, value, min_items, description,
		valid_from, valid_until, max_uses, uses, active`

	getOfferByIDSQL = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	listOffersByShopSQL = `SELECT ` + offerColumns + ` FROM offers
		WHERE shop_id = $1 AND active = TRUE ORDER BY code`

	// The limit check in the WHERE clause keeps concurrent redemptions from
	// overshooting max_uses.
	incrementOfferUsesSQL = `UPDATE offers SET uses = uses + 1
		WHERE id = $1 AND (max_uses = 0 OR uses < max_uses)`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

func (r *OfferRepository) FindByID(ctx context.Context, id string) (*offer.Offer, error) {
	rows, err := r.pool.Query(ctx, getOfferByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}
	return &o, nil
}

func (r *OfferRepository) ListByShop(ctx context.Context, shopID string) ([]offer.Offer, error) {
	rows, err := r.pool.Query(ctx, listOffersByShopSQL, shopID)
	if err != nil {
		return nil, fmt.Errorf("listing offers of shop %q: %w", shopID, err)
	}
	return pgx.CollectRows(rows, scanOffer)
}

// IncrementUses consumes one use. It returns offer.ErrUsageLimitReached when
// the offer is exhausted.
func (r *OfferRepository) IncrementUses(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, incrementOfferUsesSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing uses for offer %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrUsageLimitReached
	}
	return nil
}

func scanOffer(row pgx.CollectableRow) (offer.Offer, error) {
	var (
		o            offer.Offer
		discountType string
		minItems     int32
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&o.ID, &o.ShopID, &o.Code, &discountType, &o.Value, &minItems, &o.Description,
		&o.ValidFrom, &o.ValidUntil, &maxUses, &uses, &o.Active,
	)
	o.DiscountType = offer.DiscountType(discountType)
	o.MinItems = int(minItems)
	o.MaxUses = int(maxUses)
	o.Uses = int(uses)
	return o, err
}
