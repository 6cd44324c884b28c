package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
	"github.com/xenking/cravekart/internal/storage/postgres"
)

type userJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	UserType string `json:"userType"`
}

type shopJSON struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"ownerId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Logo        string   `json:"logo"`
	Categories  []string `json:"categories"`
	Status      string   `json:"status"`
}

type foodItemJSON struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shopId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Available   *bool           `json:"isAvailable"`
}

type offerJSON struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shopId"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discountType"`
	Value        decimal.Decimal `json:"value"`
	MinItems     int             `json:"minItems"`
	Description  string          `json:"description"`
	ValidFrom    *time.Time      `json:"validFrom"`
	ValidUntil   *time.Time      `json:"validUntil"`
	MaxUses      int             `json:"maxUses"`
}

func main() {
	var (
		databaseURL string
		seedDir     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedDir, "seed-dir", "db/seed", "directory with users, shops, food_items and offers JSON files (optionally .gz)")
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

	if err := run(ctx, databaseURL, seedDir); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedDir string) error {
	catalog, err := loadCatalog(ctx, seedDir)
	if err != nil {
		return errors.Wrap(err, "load catalog")
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

	slog.Info("upserting catalog",
		slog.Int("users", len(catalog.Users)),
		slog.Int("shops", len(catalog.Shops)),
		slog.Int("food_items", len(catalog.FoodItems)),
		slog.Int("offers", len(catalog.Offers)),
	)

	if err := postgres.SeedCatalog(ctx, pool, catalog); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	return nil
}

// loadCatalog decodes the four seed files concurrently.
func loadCatalog(ctx context.Context, dir string) (postgres.Catalog, error) {
	var (
		users  []userJSON
		shops  []shopJSON
		foods  []foodItemJSON
		offers []offerJSON
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return readSeed(dir, "users", &users) })
	g.Go(func() error { return readSeed(dir, "shops", &shops) })
	g.Go(func() error { return readSeed(dir, "food_items", &foods) })
	g.Go(func() error { return readSeed(dir, "offers", &offers) })
	if err := g.Wait(); err != nil {
		return postgres.Catalog{}, err
	}

	var c postgres.Catalog
	for _, u := range users {
		t := user.Type(u.UserType)
		if t == "" {
			t = user.TypeCustomer
		}
		c.Users = append(c.Users, user.User{ID: u.ID, Name: u.Name, Email: strings.ToLower(u.Email), Type: t})
	}
	for _, s := range shops {
		status := shop.Status(s.Status)
		if status == "" {
			status = shop.StatusApproved
		}
		c.Shops = append(c.Shops, shop.Shop{
			ID:          s.ID,
			OwnerID:     s.OwnerID,
			Name:        s.Name,
			Description: s.Description,
			Logo:        s.Logo,
			Categories:  s.Categories,
			Status:      status,
		})
	}
	for _, f := range foods {
		c.FoodItems = append(c.FoodItems, fooditem.FoodItem{
			ID:          f.ID,
			ShopID:      f.ShopID,
			Name:        f.Name,
			Description: f.Description,
			Price:       f.Price,
			Category:    f.Category,
			Image:       f.Image,
			Available:   f.Available == nil || *f.Available,
		})
	}
	for _, o := range offers {
		c.Offers = append(c.Offers, offer.Offer{
			ID:           o.ID,
			ShopID:       o.ShopID,
			Code:         o.Code,
			DiscountType: offer.DiscountType(o.DiscountType),
			Value:        o.Value,
			MinItems:     o.MinItems,
			Description:  o.Description,
			ValidFrom:    o.ValidFrom,
			ValidUntil:   o.ValidUntil,
			MaxUses:      o.MaxUses,
			Active:       true,
		})
	}
	return c, nil
}

// readSeed decodes dir/name.json, falling back to dir/name.json.gz. A missing
// file leaves dst empty.
func readSeed(dir, name string, dst any) error {
	path := filepath.Join(dir, name+".json")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		path += ".gz"
		f, err = os.Open(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("seed file not found, skipping", slog.String("name", name))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "open gzip %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	slog.Info("reading seed file", slog.String("path", path))
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
