package store

import (
	"context"
	"errors"
	"log"

	"github.com/lifedesk/lifedesk/app/models"
	"gorm.io/gorm"
)

// Service is the ledger's synced write path: every user-initiated mutation of
// the Customer/Product/Price family goes through here, persisting locally
// first and then mirroring to the remote processor. Webhook handlers never
// use these methods — they write through the repository only, so applying a
// fact about the remote can never trigger a write back to the remote.
//
// Remote failures during a save are logged and do not roll back the local
// write; the missing external reference is retried on the next save.
type Service struct {
	repo   Repository
	client RemoteProcessorClient
}

// NewService creates a store service from an injected repository and remote
// client.
func NewService(repo Repository, client RemoteProcessorClient) *Service {
	return &Service{repo: repo, client: client}
}

// NewServiceFromDB creates a store service from a GORM DB handle, selecting
// the remote client from the paid-mode feature flag.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewClientFromEnv())
}

// Repo exposes the repository for read paths (controllers, dispatcher).
func (s *Service) Repo() Repository {
	return s.repo
}

// Client exposes the remote client, mainly for the webhook dispatcher.
func (s *Service) Client() RemoteProcessorClient {
	return s.client
}

// EnsureCustomer returns the customer for a user, creating it lazily on the
// first purchase-related action. In paid mode a missing remote counterpart is
// created as well; failure to do so leaves the reference empty for retry.
func (s *Service) EnsureCustomer(ctx context.Context, userID uint) (*models.Customer, error) {
	customer, err := s.repo.GetOrCreateCustomer(userID)
	if err != nil {
		return nil, err
	}

	if !customer.HasStripeRef() {
		remote, err := s.client.CreateCustomer(ctx, customer.Email(), customer.Name())
		if err != nil {
			if !errors.Is(err, ErrRemoteDisabled) {
				log.Printf("[Store] remote customer creation failed: %v", err)
			}
			return customer, nil
		}
		customer.StripeCustomerID = remote.ID
		if err := s.repo.SaveCustomer(customer); err != nil {
			return nil, err
		}
	}

	return customer, nil
}

// SaveProduct persists a product locally, then creates or updates its remote
// counterpart.
func (s *Service) SaveProduct(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	if err := s.repo.SaveProduct(product); err != nil {
		return err
	}

	if err := s.syncProduct(ctx, product); err != nil && !errors.Is(err, ErrRemoteDisabled) {
		log.Printf("[Store] remote product sync failed for %s: %v", product.ID, err)
	}
	return nil
}

func (s *Service) syncProduct(ctx context.Context, product *models.Product) error {
	if !product.HasStripeRef() {
		remote, err := s.client.CreateProduct(ctx, product.ID, product.Name, product.Description)
		if err != nil {
			return err
		}
		product.StripeProductID = remote.ID
		return s.repo.SaveProduct(product)
	}
	return s.client.UpdateProduct(ctx, product.StripeProductID, product.Name, product.Description)
}

// SavePrice persists a price locally, then creates its remote counterpart.
// A price's parent product is created remotely first when needed.
//
// Once a price exists remotely its amount, interval and subscription flag are
// frozen; only the active flag may still change, which is mirrored remotely.
func (s *Service) SavePrice(ctx context.Context, price *models.Price) error {
	if err := price.Validate(); err != nil {
		return err
	}

	if price.HasStripeRef() {
		existing, err := s.repo.GetPrice(price.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			if existing.Amount != price.Amount ||
				existing.IsSubscription != price.IsSubscription ||
				existing.BillingInterval != price.BillingInterval {
				return ErrPriceImmutable
			}
		}
	}

	if err := s.repo.SavePrice(price); err != nil {
		return err
	}

	if err := s.syncPrice(ctx, price); err != nil && !errors.Is(err, ErrRemoteDisabled) {
		log.Printf("[Store] remote price sync failed for %s: %v", price.ID, err)
	}
	return nil
}

func (s *Service) syncPrice(ctx context.Context, price *models.Price) error {
	if price.HasStripeRef() {
		// Only visibility can change on an existing remote price.
		return s.client.SetPriceActive(ctx, price.StripePriceID, price.Active)
	}

	product, err := s.repo.GetProduct(price.ProductID)
	if err != nil {
		return err
	}
	// The processor requires the parent product before the price.
	if !product.HasStripeRef() {
		if err := s.syncProduct(ctx, product); err != nil {
			return err
		}
	}

	params := PriceParams{
		ProductID:   product.StripeProductID,
		AmountCents: price.AmountCents(),
		Metadata:    map[string]string{"internal_price_id": price.ID},
	}
	if price.IsSubscription {
		interval, count, err := price.RecurringInterval()
		if err != nil {
			return err
		}
		params.Recurring = true
		params.Interval = interval
		params.IntervalCount = count
	}

	remote, err := s.client.CreatePrice(ctx, params)
	if err != nil {
		return err
	}
	price.StripePriceID = remote.ID
	return s.repo.SavePrice(price)
}

// DeletePrice removes a price, refusing while order items or subscriptions
// still reference it.
func (s *Service) DeletePrice(ctx context.Context, priceID string) error {
	_ = ctx
	return s.repo.DeletePrice(priceID)
}
