package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
)

type CatalogRepo struct{ s *Store }

func (r *CatalogRepo) UpsertMerchant(_ context.Context, m *catalog.Merchant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if old, ok := r.s.merchants[m.ID]; ok {
		m.CreatedAt = old.CreatedAt
	}
	r.s.merchants[m.ID] = *m
	return nil
}

func (r *CatalogRepo) GetMerchant(_ context.Context, id string) (*catalog.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return nil, catalog.ErrMerchantNotFound
	}
	return &m, nil
}

func (r *CatalogRepo) CreateProduct(_ context.Context, p *catalog.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.products[p.ID]; dup {
		return apperr.ErrConflict.Withf("product %s exists", p.ID)
	}
	r.s.products[p.ID] = *p
	return nil
}

func (r *CatalogRepo) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (r *CatalogRepo) UpdateProduct(_ context.Context, p *catalog.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.products[p.ID]; !ok {
		return catalog.ErrProductNotFound
	}
	r.s.products[p.ID] = *p
	return nil
}

func (r *CatalogRepo) ListProducts(_ context.Context, merchantID string) ([]catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []catalog.Product{}
	for _, p := range r.s.products {
		if p.MerchantID == merchantID && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *CatalogRepo) ProductsByID(_ context.Context, ids []string) ([]catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
