package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type checkoutItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

type checkoutReq struct {
	Items       []checkoutItem `json:"items" validate:"required,min=1,dive"`
	DeliveryFee int64          `json:"deliveryFee" validate:"gte=0"`
}

type checkoutResp struct {
	*orders.Order
	Status     orders.Status `json:"status"`
	Total      int64         `json:"total"`
	Idempotent bool          `json:"idempotent"`
}

type cancelReq struct {
	Reason string `json:"reason" validate:"required"`
}

type deliveryStatusReq struct {
	Status string `json:"status" validate:"required,oneof=out_for_delivery delivered"`
}

func (h *handlers) registerOrders(r chi.Router) {
	r.Post("/delivery/orders", h.checkout)
	r.Get("/delivery/order/vendor/orders", h.vendorOrders)
	r.Get("/delivery/order/{id}", h.getOrder)
	r.Get("/delivery/suborders/{id}", h.getSubOrder)
	r.Post("/delivery/order/{id}/vendor-accept", h.vendorAccept)
	r.Post("/delivery/order/{id}/vendor-cancel", h.vendorCancel)
	r.Post("/delivery/order/{id}/delivery-status", h.deliveryStatus)
	r.Post("/delivery/order/{id}/returned", h.returned)
	r.Post("/delivery/order/{id}/review", h.review)
	r.Post("/delivery/order/{id}/review/approve", h.approveReview)
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	by := actor(r)
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	idem := h.d.Idempotency
	if key == "" || by.Role != auth.RoleBuyer {
		idem = nil
	}
	if idem != nil {
		orderID, claimed, err := idem.Begin(ctx, by.ID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeError(w, apperr.ErrConflict.Wrap(err))
			return
		case err != nil:
			// the cache is an accelerator; checkout proceeds without it
			h.d.Log.Warn("idempotency begin", zap.Error(err))
			idem = nil
		case !claimed:
			o, err := h.d.Orders.GetOrder(ctx, by, orderID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeOK(w, http.StatusOK, checkoutResp{Order: o, Status: o.Status(), Total: o.Total(), Idempotent: true})
			return
		}
	}

	items := make([]orders.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	o, err := h.d.Orders.Checkout(ctx, by, items, req.DeliveryFee)
	if err != nil {
		if idem != nil {
			_ = idem.Abort(ctx, by.ID, key)
		}
		writeError(w, err)
		return
	}
	if idem != nil {
		if err := idem.Complete(ctx, by.ID, key, o.ID); err != nil {
			h.d.Log.Warn("idempotency complete", zap.String("order", o.ID), zap.Error(err))
		}
	}
	writeOK(w, http.StatusCreated, checkoutResp{Order: o, Status: o.Status(), Total: o.Total()})
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.d.Orders.GetOrder(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, checkoutResp{Order: o, Status: o.Status(), Total: o.Total()})
}

func (h *handlers) getSubOrder(w http.ResponseWriter, r *http.Request) {
	so, err := h.d.Orders.GetSubOrder(r.Context(), actor(r), chi.URLParam(r, "id"))
	writeSubOrder(w, so, err)
}

func (h *handlers) vendorOrders(w http.ResponseWriter, r *http.Request) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	list, page, err := h.d.Orders.ListVendorSubOrders(r.Context(), actor(r), q.Get("vendorId"), orders.Status(q.Get("status")), p)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []orders.SubOrder{}
	}
	writePage(w, list, page)
}

func (h *handlers) vendorAccept(w http.ResponseWriter, r *http.Request) {
	so, err := h.d.Orders.VendorAccept(r.Context(), actor(r), chi.URLParam(r, "id"))
	writeSubOrder(w, so, err)
}

func (h *handlers) vendorCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	so, err := h.d.Orders.VendorCancel(r.Context(), actor(r), chi.URLParam(r, "id"), req.Reason)
	writeSubOrder(w, so, err)
}

func (h *handlers) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req deliveryStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	so, err := h.d.Orders.AdvanceDelivery(r.Context(), actor(r), chi.URLParam(r, "id"), orders.Status(req.Status))
	writeSubOrder(w, so, err)
}

func (h *handlers) returned(w http.ResponseWriter, r *http.Request) {
	so, err := h.d.Orders.MarkReturned(r.Context(), actor(r), chi.URLParam(r, "id"))
	writeSubOrder(w, so, err)
}

func (h *handlers) review(w http.ResponseWriter, r *http.Request) {
	so, err := h.d.Orders.FlagForReview(r.Context(), actor(r), chi.URLParam(r, "id"))
	writeSubOrder(w, so, err)
}

func (h *handlers) approveReview(w http.ResponseWriter, r *http.Request) {
	so, err := h.d.Orders.ApproveReview(r.Context(), actor(r), chi.URLParam(r, "id"))
	writeSubOrder(w, so, err)
}

func writeSubOrder(w http.ResponseWriter, so *orders.SubOrder, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, so)
}
