// Package catalog holds merchant store records and their products. It is the
// price source orders capture line items from.
package catalog

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrMerchantNotFound = apperr.ErrNotFound.Withf("merchant not found")
	ErrProductNotFound  = apperr.ErrNotFound.Withf("product not found")
)

// Merchant is a store record. CommissionRate is the platform's cut of a
// sub-order's line totals, copied onto each sub-order at checkout.
type Merchant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Product struct {
	ID            string    `json:"id"`
	MerchantID    string    `json:"merchantId"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	DiscountPrice int64     `json:"discountPrice,omitempty"` // 0 = no promotion
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EffectivePrice is the unit price a buyer pays right now.
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice > 0 && p.DiscountPrice < p.Price {
		return p.DiscountPrice
	}
	return p.Price
}

type ProductPatch struct {
	Name          *string
	Price         *int64
	DiscountPrice *int64
	Active        *bool
}

type Repo interface {
	UpsertMerchant(ctx context.Context, m *Merchant) error
	GetMerchant(ctx context.Context, id string) (*Merchant, error)
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context, merchantID string) ([]Product, error)
	ProductsByID(ctx context.Context, ids []string) ([]Product, error)
}
