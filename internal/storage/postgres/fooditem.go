package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/fooditem"
)

const (
	foodItemColumns = `id::text, shop_id::text, name, description, price, category, image, available`

	getFoodItemByIDSQL = `SELECT ` + foodItemColumns + ` FROM food_items WHERE id = $1`

	listFoodItemsByShopSQL = `SELECT ` + foodItemColumns + ` FROM food_items
		WHERE shop_id = $1 ORDER BY category, name`
)

var _ fooditem.Repository = (*FoodItemRepository)(nil)

// FoodItemRepository implements fooditem.Repository backed by PostgreSQL.
type FoodItemRepository struct {
	pool *pgxpool.Pool
}

// NewFoodItemRepository returns a FoodItemRepository that uses the given pool.
func NewFoodItemRepository(pool *pgxpool.Pool) *FoodItemRepository {
	return &FoodItemRepository{pool: pool}
}

// FindByID returns a single food item by its identifier.
func (r *FoodItemRepository) FindByID(ctx context.Context, id string) (*fooditem.FoodItem, error) {
	rows, err := r.pool.Query(ctx, getFoodItemByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting food item %q: %w", id, err)
	}

	f, err := pgx.CollectExactlyOneRow(rows, scanFoodItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fooditem.ErrNotFound
		}
		return nil, fmt.Errorf("getting food item %q: %w", id, err)
	}
	return &f, nil
}

// ListByShop returns the menu of a shop grouped by category.
func (r *FoodItemRepository) ListByShop(ctx context.Context, shopID string) ([]fooditem.FoodItem, error) {
	rows, err := r.pool.Query(ctx, listFoodItemsByShopSQL, shopID)
	if err != nil {
		return nil, fmt.Errorf("listing food items of shop %q: %w", shopID, err)
	}
	return pgx.CollectRows(rows, scanFoodItem)
}

func scanFoodItem(row pgx.CollectableRow) (fooditem.FoodItem, error) {
	var f fooditem.FoodItem
	err := row.Scan(&f.ID, &f.ShopID, &f.Name, &f.Description, &f.Price, &f.Category, &f.Image, &f.Available)
	return f, err
}
