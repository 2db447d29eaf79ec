package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type merchantReq struct {
	Name string `json:"name" validate:"required"`
	// CommissionRate is a decimal string such as "0.10"; omitted keeps the
	// current rate.
	CommissionRate *string `json:"commissionRate"`
}

type createProductReq struct {
	MerchantID    string `json:"merchantId"`
	Name          string `json:"name" validate:"required"`
	Price         int64  `json:"price" validate:"gt=0"`
	DiscountPrice int64  `json:"discountPrice" validate:"gte=0"`
}

type patchProductReq struct {
	Name          *string `json:"name" validate:"omitempty,min=1"`
	Price         *int64  `json:"price" validate:"omitempty,gt=0"`
	DiscountPrice *int64  `json:"discountPrice" validate:"omitempty,gte=0"`
	Active        *bool   `json:"active"`
}

func (h *handlers) registerCatalog(r chi.Router) {
	r.Get("/merchants/{merchantId}/products", h.listProducts)
	r.Put("/merchants/{merchantId}", h.upsertMerchant)
	r.Post("/merchants/products", h.createProduct)
	r.Patch("/merchants/products/{id}", h.updateProduct)
	r.Delete("/merchants/products/{id}", h.deleteProduct)
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.d.Catalog.ListProducts(r.Context(), chi.URLParam(r, "merchantId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	writeOK(w, http.StatusOK, ps)
}

func (h *handlers) upsertMerchant(w http.ResponseWriter, r *http.Request) {
	var req merchantReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var rate *decimal.Decimal
	if req.CommissionRate != nil {
		d, err := decimal.NewFromString(*req.CommissionRate)
		if err != nil {
			writeError(w, apperr.Validation("commissionRate must be a decimal string"))
			return
		}
		rate = &d
	}
	m, err := h.d.Catalog.UpsertMerchant(r.Context(), actor(r), chi.URLParam(r, "merchantId"), req.Name, rate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (h *handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.d.Catalog.CreateProduct(r.Context(), actor(r), req.MerchantID, req.Name, req.Price, req.DiscountPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, p)
}

func (h *handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req patchProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.d.Catalog.UpdateProduct(r.Context(), actor(r), chi.URLParam(r, "id"), catalog.ProductPatch{
		Name:          req.Name,
		Price:         req.Price,
		DiscountPrice: req.DiscountPrice,
		Active:        req.Active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, p)
}

func (h *handlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Catalog.DeleteProduct(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
}
