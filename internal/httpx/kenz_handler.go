package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/go-chi/chi/v5"
)

type createListingReq struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	Price       int64  `json:"price" validate:"gt=0"`
}

type amountReq struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

func (h *handlers) registerKenz(r chi.Router) {
	r.Post("/kenz", h.createListing)
	r.Get("/kenz", h.listListings)
	r.Get("/kenz/escrow/{dealId}", h.getDeal)
	r.Post("/kenz/escrow/{dealId}/release", h.releaseEscrow)
	r.Post("/kenz/escrow/{dealId}/refund", h.refundEscrow)
	r.Get("/kenz/{id}", h.getListing)
	r.Get("/kenz/{id}/bids", h.listBids)
	r.Post("/kenz/{id}/bids", h.placeBid)
	r.Post("/kenz/{id}/bids/{bidId}/accept", h.acceptBid)
	r.Post("/kenz/{id}/escrow-buy", h.escrowBuy)
	r.Post("/kenz/{id}/sold", h.markSold)
}

func (h *handlers) createListing(w http.ResponseWriter, r *http.Request) {
	var req createListingReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	l, err := h.d.Kenz.CreateListing(r.Context(), actor(r), req.Title, req.Description, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, l)
}

func (h *handlers) listListings(w http.ResponseWriter, r *http.Request) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status := kenz.ListingStatus(r.URL.Query().Get("status"))
	switch status {
	case "", kenz.ListingActive, kenz.ListingReserved, kenz.ListingSold:
	default:
		writeError(w, apperr.Validation("unknown listing status %q", status))
		return
	}
	list, page, err := h.d.Kenz.ListListings(r.Context(), status, p)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []kenz.Listing{}
	}
	writePage(w, list, page)
}

func (h *handlers) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.d.Kenz.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, l)
}

func (h *handlers) listBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.d.Kenz.ListBids(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if bids == nil {
		bids = []kenz.Bid{}
	}
	writeOK(w, http.StatusOK, bids)
}

func (h *handlers) placeBid(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := h.d.Kenz.PlaceBid(r.Context(), actor(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, b)
}

func (h *handlers) acceptBid(w http.ResponseWriter, r *http.Request) {
	d, err := h.d.Kenz.AcceptBid(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "bidId"))
	writeDeal(w, http.StatusCreated, d, err)
}

func (h *handlers) escrowBuy(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.d.Kenz.BuyWithEscrow(r.Context(), actor(r), chi.URLParam(r, "id"), req.Amount)
	writeDeal(w, http.StatusCreated, d, err)
}

func (h *handlers) markSold(w http.ResponseWriter, r *http.Request) {
	l, err := h.d.Kenz.MarkSold(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, l)
}

func (h *handlers) getDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.d.Kenz.GetDeal(r.Context(), actor(r), chi.URLParam(r, "dealId"))
	writeDeal(w, http.StatusOK, d, err)
}

func (h *handlers) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	d, err := h.d.Kenz.ReleaseEscrow(r.Context(), actor(r), chi.URLParam(r, "dealId"))
	writeDeal(w, http.StatusOK, d, err)
}

func (h *handlers) refundEscrow(w http.ResponseWriter, r *http.Request) {
	d, err := h.d.Kenz.RefundEscrow(r.Context(), actor(r), chi.URLParam(r, "dealId"))
	writeDeal(w, http.StatusOK, d, err)
}

func writeDeal(w http.ResponseWriter, code int, d *kenz.Deal, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, code, d)
}
