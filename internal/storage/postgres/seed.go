package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, name, email, user_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email,
			user_type = EXCLUDED.user_type`

	upsertShopSQL = `INSERT INTO shops (id, owner_id, name, description, logo, categories, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, name = EXCLUDED.name,
			description = EXCLUDED.description, logo = EXCLUDED.logo,
			categories = EXCLUDED.categories, status = EXCLUDED.status`

	upsertFoodItemSQL = `INSERT INTO food_items (id, shop_id, name, description, price, category, image, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET shop_id = EXCLUDED.shop_id, name = EXCLUDED.name,
			description = EXCLUDED.description, price = EXCLUDED.price,
			category = EXCLUDED.category, image = EXCLUDED.image, available = EXCLUDED.available`

	// uses is left alone so reseeding does not reset redemption counters.
	upsertOfferSQL = `INSERT INTO offers (id, shop_id, code, discount_type, value, min_items,
			description, valid_from, valid_until, max_uses, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET shop_id = EXCLUDED.shop_id, code = EXCLUDED.code,
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_items = EXCLUDED.min_items, description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, active = EXCLUDED.active`
)

// Catalog is the reference data loaded by the seeder.
type Catalog struct {
	Users     []user.User
	Shops     []shop.Shop
	FoodItems []fooditem.FoodItem
	Offers    []offer.Offer
}

// SeedCatalog upserts c in one transaction, parents before children.
func SeedCatalog(ctx context.Context, pool *pgxpool.Pool, c Catalog) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range c.Users {
			b.Queue(upsertUserSQL, u.ID, u.Name, u.Email, string(u.Type))
		}
		for _, s := range c.Shops {
			categories := s.Categories
			if categories == nil {
				categories = []string{}
			}
			b.Queue(upsertShopSQL, s.ID, s.OwnerID, s.Name, s.Description, s.Logo, categories, string(s.Status))
		}
		for _, f := range c.FoodItems {
			b.Queue(upsertFoodItemSQL, f.ID, f.ShopID, f.Name, f.Description, f.Price, f.Category, f.Image, f.Available)
		}
		for _, o := range c.Offers {
			b.Queue(upsertOfferSQL, o.ID, o.ShopID, o.Code, string(o.DiscountType), o.Value, o.MinItems,
				o.Description, o.ValidFrom, o.ValidUntil, o.MaxUses, o.Active)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
		return nil
	})
}
