package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	repo        Repo
	defaultRate decimal.Decimal
	log         *zap.Logger
	now         func() time.Time
}

func NewService(repo Repo, defaultCommission decimal.Decimal, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, defaultRate: defaultCommission, log: log, now: time.Now}
}

// UpsertMerchant creates or updates a store record. Only operators set
// commission rates; a nil rate keeps the current one (or the platform default).
func (s *Service) UpsertMerchant(ctx context.Context, by auth.Actor, id, name string, rate *decimal.Decimal) (*Merchant, error) {
	if !by.Privileged() {
		return nil, apperr.ErrForbidden
	}
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)
	if id == "" || name == "" {
		return nil, apperr.Validation("merchant id and name are required")
	}
	if rate != nil && (rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1))) {
		return nil, apperr.Validation("commissionRate must be in [0, 1)")
	}

	now := s.now().UTC()
	m, err := s.repo.GetMerchant(ctx, id)
	switch {
	case err == nil:
	case apperr.From(err).Code == apperr.CodeNotFound:
		m = &Merchant{ID: id, CommissionRate: s.defaultRate, CreatedAt: now}
	default:
		return nil, err
	}
	m.Name = name
	if rate != nil {
		m.CommissionRate = *rate
	}
	m.UpdatedAt = now
	if err := s.repo.UpsertMerchant(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("merchant saved", zap.String("merchant", id), zap.String("commission", m.CommissionRate.String()))
	return m, nil
}

func (s *Service) Merchant(ctx context.Context, id string) (*Merchant, error) {
	return s.repo.GetMerchant(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, merchantID string) ([]Product, error) {
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, merchantID)
}

// ProductsByID returns the products found among ids; missing ids are simply
// absent from the result.
func (s *Service) ProductsByID(ctx context.Context, ids []string) ([]Product, error) {
	return s.repo.ProductsByID(ctx, ids)
}

// CreateProduct adds a product to the caller's store. Operators may create on
// behalf of any merchant.
func (s *Service) CreateProduct(ctx context.Context, by auth.Actor, merchantID, name string, price, discount int64) (*Product, error) {
	merchantID, err := s.ownerFor(by, merchantID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if err := validatePrice(price, discount); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Product{
		ID:            uuid.NewString(),
		MerchantID:    merchantID,
		Name:          name,
		Price:         price,
		DiscountPrice: discount,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct applies patch. Price changes never affect already captured
// line items.
func (s *Service) UpdateProduct(ctx context.Context, by auth.Actor, id string, patch ProductPatch) (*Product, error) {
	p, err := s.ownedProduct(ctx, by, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Validation("name must not be empty")
		}
		p.Name = name
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.DiscountPrice != nil {
		p.DiscountPrice = *patch.DiscountPrice
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if err := validatePrice(p.Price, p.DiscountPrice); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProduct deactivates the product. Rows are kept because sub-orders
// reference them.
func (s *Service) DeleteProduct(ctx context.Context, by auth.Actor, id string) error {
	inactive := false
	_, err := s.UpdateProduct(ctx, by, id, ProductPatch{Active: &inactive})
	return err
}

func (s *Service) ownedProduct(ctx context.Context, by auth.Actor, id string) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !by.Privileged() && !(by.Role == auth.RoleVendor && by.ID == p.MerchantID) {
		return nil, apperr.ErrForbidden
	}
	return p, nil
}

func (s *Service) ownerFor(by auth.Actor, merchantID string) (string, error) {
	switch {
	case by.Privileged():
		if merchantID == "" {
			return "", apperr.Validation("merchantId is required")
		}
		return merchantID, nil
	case by.Role == auth.RoleVendor:
		if merchantID != "" && merchantID != by.ID {
			return "", apperr.ErrForbidden
		}
		return by.ID, nil
	default:
		return "", apperr.ErrForbidden
	}
}

func validatePrice(price, discount int64) error {
	if price < 0 {
		return apperr.Validation("price must be >= 0")
	}
	if discount < 0 || (discount > 0 && discount > price) {
		return apperr.Validation("discountPrice must be between 0 and price")
	}
	return nil
}
