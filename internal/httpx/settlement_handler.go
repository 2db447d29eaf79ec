package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/go-chi/chi/v5"
)

type settlementReq struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	BankAccount string `json:"bankAccount" validate:"required,max=64"`
}

type processReq struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed rejected"`
	Note    string `json:"note" validate:"max=500"`
}

type depositReq struct {
	ActorID string `json:"actorId" validate:"required"`
	Amount  int64  `json:"amount" validate:"gt=0"`
}

type balanceResp struct {
	ActorID string `json:"actorId"`
	Balance int64  `json:"balance"`
}

func (h *handlers) registerSettlement(r chi.Router) {
	r.Get("/vendors/account/statement", h.statement)
	r.Get("/vendors/settlements", h.listSettlements)
	r.Post("/vendors/settlements", h.requestSettlement)
	r.Post("/admin/settlements/{id}/process", h.processSettlement)
}

func (h *handlers) registerWallet(r chi.Router) {
	r.Post("/admin/wallet/deposits", h.deposit)
	r.Get("/wallet/balance", h.balance)
}

func (h *handlers) statement(w http.ResponseWriter, r *http.Request) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.d.Settlement.GetStatement(r.Context(), actor(r), r.URL.Query().Get("vendorId"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writePage(w, st, st.Page)
}

func (h *handlers) listSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Settlement.ListSettlements(r.Context(), actor(r), r.URL.Query().Get("vendorId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []settlement.Request{}
	}
	writeOK(w, http.StatusOK, list)
}

func (h *handlers) requestSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sr, err := h.d.Settlement.RequestSettlement(r.Context(), actor(r), req.Amount, req.BankAccount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, sr)
}

func (h *handlers) processSettlement(w http.ResponseWriter, r *http.Request) {
	var req processReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sr, err := h.d.Settlement.ProcessSettlement(r.Context(), actor(r), chi.URLParam(r, "id"), settlement.Status(req.Outcome), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, sr)
}

func (h *handlers) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.d.Ledger.Deposit(r.Context(), actor(r), req.ActorID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, t)
}

// balance returns the caller's balance; operators may pass actorId.
func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	by := actor(r)
	id := by.ID
	if q := r.URL.Query().Get("actorId"); q != "" && q != by.ID {
		if !by.Privileged() {
			writeError(w, apperr.ErrForbidden.Withf("cannot read another actor's balance"))
			return
		}
		id = q
	}
	bal, err := h.d.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, balanceResp{ActorID: id, Balance: bal})
}
