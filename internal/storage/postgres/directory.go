package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

const (
	userColumns = `id::text, name, email, user_type, created_at`

	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	shopColumns = `id::text, owner_id::text, name, description, logo, categories, status, created_at`

	getShopByIDSQL = `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`
)

var (
	_ user.Repository = (*UserRepository)(nil)
	_ shop.Repository = (*ShopRepository)(nil)
)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	return r.one(ctx, getUserByIDSQL, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.one(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) one(ctx context.Context, sql, arg string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	return &u, nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u        user.User
		userType string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &userType, &u.CreatedAt)
	u.Type = user.Type(userType)
	return u, err
}

// ShopRepository implements shop.Repository backed by PostgreSQL.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

func (r *ShopRepository) FindByID(ctx context.Context, id string) (*shop.Shop, error) {
	rows, err := r.pool.Query(ctx, getShopByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting shop %q: %w", id, err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanShop)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shop.ErrNotFound
		}
		return nil, fmt.Errorf("getting shop %q: %w", id, err)
	}
	return &s, nil
}

func scanShop(row pgx.CollectableRow) (shop.Shop, error) {
	var (
		s         shop.Shop
		status    string
		createdAt time.Time
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Description, &s.Logo, &s.Categories, &status, &createdAt)
	s.Status = shop.Status(status)
	s.CreatedAt = createdAt
	return s, err
}
