package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator checks an offer against a cart and records its redemption.
type Validator interface {
	// Validate returns the discount the offer grants on items of shopID.
	// It does not consume a use.
	Validate(ctx context.Context, offerID, shopID string, items []Item) (*Discount, error)
	// Redeem consumes one use of the offer.
	Redeem(ctx context.Context, offerID string) error
}

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by repo.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

func (v *RepoValidator) Validate(ctx context.Context, offerID, shopID string, items []Item) (*Discount, error) {
	o, err := v.repo.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.Wrapf(ErrInvalidOffer, "offer %s not found", offerID)
		}
		return nil, errors.Wrap(err, "lookup offer")
	}

	if !o.Active {
		return nil, errors.Wrap(ErrInvalidOffer, "offer is not active")
	}
	if o.ShopID != shopID {
		return nil, errors.Wrap(ErrInvalidOffer, "offer belongs to another shop")
	}

	now := v.now()
	if o.ValidFrom != nil && now.Before(*o.ValidFrom) {
		return nil, ErrExpired
	}
	if o.ValidUntil != nil && now.After(*o.ValidUntil) {
		return nil, ErrExpired
	}
	if o.MaxUses > 0 && o.Uses >= o.MaxUses {
		return nil, ErrUsageLimitReached
	}

	d, err := Apply(o, items)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (v *RepoValidator) Redeem(ctx context.Context, offerID string) error {
	if err := v.repo.IncrementUses(ctx, offerID); err != nil {
		return errors.Wrap(err, "increment offer uses")
	}
	return nil
}
