package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/httpx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	operator = auth.Actor{ID: "op-1", Role: auth.RoleOperator}
	buyer    = auth.Actor{ID: "buyer-1", Role: auth.RoleBuyer}
	vendor   = auth.Actor{ID: "m1", Role: auth.RoleVendor}
	driver   = auth.Actor{ID: "driver-1", Role: auth.RoleDriver}
	seller   = auth.Actor{ID: "seller-1", Role: auth.RoleBuyer}
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Pagination *pagination.Page `json:"pagination"`
}

func (r response) code() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// memIdempotency mirrors redisx.Idempotency without a server.
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotency) Begin(_ context.Context, buyerID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := buyerID + ":" + key
	if v, ok := m.keys[k]; ok {
		return v, false, nil
	}
	m.keys[k] = ""
	return "", true, nil
}

func (m *memIdempotency) Complete(_ context.Context, buyerID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[buyerID+":"+key] = orderID
	return nil
}

func (m *memIdempotency) Abort(_ context.Context, buyerID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, buyerID+":"+key)
	return nil
}

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	verifier *auth.Verifier
}

func newEnv(t *testing.T, tweak func(*httpx.Deps)) *testEnv {
	t.Helper()
	st := memstore.New()
	pub := &events.Recorder{}
	cat := catalog.NewService(st.Catalog(), decimal.RequireFromString("0.10"), nil)
	d := httpx.Deps{
		Verifier:    auth.NewVerifier("test-secret"),
		Catalog:     cat,
		Orders:      orders.NewService(st.Orders(), cat, pub, nil, "test"),
		Kenz:        kenz.NewService(st.Kenz(), decimal.RequireFromString("0.05"), pub, nil, "test"),
		Settlement:  settlement.NewService(st.Settlements(), st.Ledger(), pub, nil, "test", settlement.Options{}),
		Ledger:      ledger.NewService(st.Ledger(), pub, nil, "test"),
		Idempotency: &memIdempotency{keys: map[string]string{}},
	}
	if tweak != nil {
		tweak(&d)
	}
	return &testEnv{t: t, handler: httpx.NewRouter(d), verifier: d.Verifier}
}

func (e *testEnv) do(a auth.Actor, method, path string, body any, headers ...string) (int, response) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.ID != "" {
		token, err := e.verifier.Issue(a, time.Minute)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func decodeData[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_StorageDown(t *testing.T) {
	e := newEnv(t, func(d *httpx.Deps) {
		d.Health = func(context.Context) error { return assert.AnError }
	})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	e := newEnv(t, nil)

	code, res := e.do(auth.Actor{}, http.MethodGet, "/kenz", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, res.Success)
	assert.Equal(t, "UNAUTHORIZED", res.code())

	code, res = e.do(auth.Actor{}, http.MethodGet, "/kenz", nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", res.code())
}

func TestValidationErrors(t *testing.T) {
	e := newEnv(t, nil)

	code, res := e.do(seller, http.MethodPost, "/kenz", map[string]any{"title": "Bike", "price": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", res.code())

	code, res = e.do(seller, http.MethodPost, "/kenz", map[string]any{"title": "Bike", "price": 10, "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", res.code())

	code, res = e.do(seller, http.MethodGet, "/kenz?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", res.code())
}

func TestOrderLifecycleAndSettlement(t *testing.T) {
	e := newEnv(t, nil)

	code, _ := e.do(operator, http.MethodPut, "/merchants/m1", map[string]any{"name": "Toko Satu", "commissionRate": "0.10"})
	require.Equal(t, http.StatusOK, code)

	code, res := e.do(vendor, http.MethodPost, "/merchants/products", map[string]any{"name": "Rice 5kg", "price": 50000})
	require.Equal(t, http.StatusCreated, code, res.code())
	product := decodeData[catalog.Product](t, res)
	assert.Equal(t, "m1", product.MerchantID)

	code, res = e.do(buyer, http.MethodGet, "/merchants/m1/products", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]catalog.Product](t, res), 1)

	body := map[string]any{"items": []map[string]any{{"productId": product.ID, "quantity": 2}}, "deliveryFee": 5000}
	code, res = e.do(buyer, http.MethodPost, "/delivery/orders", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, code, res.code())
	type orderView struct {
		ID         string            `json:"id"`
		Status     orders.Status     `json:"status"`
		Total      int64             `json:"total"`
		Idempotent bool              `json:"idempotent"`
		SubOrders  []orders.SubOrder `json:"subOrders"`
	}
	order := decodeData[orderView](t, res)
	require.Len(t, order.SubOrders, 1)
	assert.Equal(t, int64(105000), order.Total)
	assert.Equal(t, orders.StatusPendingConfirmation, order.Status)

	code, res = e.do(buyer, http.MethodPost, "/delivery/orders", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, code)
	again := decodeData[orderView](t, res)
	assert.Equal(t, order.ID, again.ID)
	assert.True(t, again.Idempotent)

	soID := order.SubOrders[0].ID
	code, res = e.do(vendor, http.MethodGet, "/delivery/order/vendor/orders?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, res.Pagination)
	assert.False(t, res.Pagination.HasMore)
	assert.Len(t, decodeData[[]orders.SubOrder](t, res), 1)

	code, _ = e.do(vendor, http.MethodPost, "/delivery/order/"+soID+"/vendor-accept", nil)
	require.Equal(t, http.StatusOK, code)
	code, res = e.do(vendor, http.MethodPost, "/delivery/order/"+soID+"/vendor-accept", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", res.code())

	code, _ = e.do(driver, http.MethodPost, "/delivery/order/"+soID+"/delivery-status", map[string]any{"status": "out_for_delivery"})
	require.Equal(t, http.StatusOK, code)
	code, res = e.do(driver, http.MethodPost, "/delivery/order/"+soID+"/delivery-status", map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orders.StatusDelivered, decodeData[orders.SubOrder](t, res).Status)

	code, res = e.do(vendor, http.MethodGet, "/delivery/suborders/"+soID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, decodeData[orders.SubOrder](t, res).SettlementTxID)
	code, res = e.do(buyer, http.MethodGet, "/delivery/suborders/"+soID, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", res.code())

	code, res = e.do(vendor, http.MethodGet, "/vendors/account/statement", nil)
	require.Equal(t, http.StatusOK, code)
	st := decodeData[settlement.Statement](t, res)
	assert.Equal(t, int64(90000), st.Balance)
	assert.Equal(t, int64(90000), st.Available)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, ledger.ReasonOrderSettlement, st.Entries[0].Reason)

	code, res = e.do(vendor, http.MethodPost, "/vendors/settlements", map[string]any{"amount": 20000, "bankAccount": "BCA-123"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "BELOW_MINIMUM", res.code())

	code, res = e.do(vendor, http.MethodPost, "/vendors/settlements", map[string]any{"amount": 90000, "bankAccount": "BCA-123"})
	require.Equal(t, http.StatusCreated, code, res.code())
	req := decodeData[settlement.Request](t, res)
	assert.Equal(t, settlement.StatusPending, req.Status)

	code, res = e.do(vendor, http.MethodPost, "/vendors/settlements", map[string]any{"amount": 30000, "bankAccount": "BCA-123"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", res.code())

	code, res = e.do(vendor, http.MethodPost, "/admin/settlements/"+req.ID+"/process", map[string]any{"outcome": "completed"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", res.code())

	code, res = e.do(operator, http.MethodPost, "/admin/settlements/"+req.ID+"/process", map[string]any{"outcome": "completed", "note": "paid"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, settlement.StatusCompleted, decodeData[settlement.Request](t, res).Status)

	code, res = e.do(vendor, http.MethodGet, "/wallet/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"balance":0`)
}

func TestKenzEscrowFlow(t *testing.T) {
	e := newEnv(t, nil)

	code, res := e.do(operator, http.MethodPost, "/admin/wallet/deposits", map[string]any{"actorId": buyer.ID, "amount": 100000})
	require.Equal(t, http.StatusCreated, code, res.code())

	code, res = e.do(seller, http.MethodPost, "/kenz", map[string]any{"title": "Used bike", "price": 40000})
	require.Equal(t, http.StatusCreated, code)
	listing := decodeData[kenz.Listing](t, res)

	code, res = e.do(seller, http.MethodPost, "/kenz/"+listing.ID+"/escrow-buy", map[string]any{"amount": 40000})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", res.code())

	code, res = e.do(buyer, http.MethodPost, "/kenz/"+listing.ID+"/escrow-buy", map[string]any{"amount": 40000})
	require.Equal(t, http.StatusCreated, code, res.code())
	deal := decodeData[kenz.Deal](t, res)
	assert.Equal(t, kenz.DealHeld, deal.Status)

	code, res = e.do(buyer, http.MethodGet, "/wallet/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"balance":60000`)

	code, res = e.do(buyer, http.MethodGet, "/kenz/"+listing.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, kenz.ListingReserved, decodeData[kenz.Listing](t, res).Status)

	code, res = e.do(buyer, http.MethodPost, "/kenz/"+listing.ID+"/bids", map[string]any{"amount": 50000})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "LISTING_UNAVAILABLE", res.code())

	code, res = e.do(buyer, http.MethodPost, "/kenz/escrow/"+deal.ID+"/release", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, kenz.DealReleased, decodeData[kenz.Deal](t, res).Status)

	code, res = e.do(seller, http.MethodGet, "/wallet/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"balance":38000`)

	code, res = e.do(buyer, http.MethodPost, "/kenz/escrow/"+deal.ID+"/release", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", res.code())
}

func TestKenzBidding(t *testing.T) {
	e := newEnv(t, nil)
	other := auth.Actor{ID: "buyer-2", Role: auth.RoleBuyer}
	for _, a := range []auth.Actor{buyer, other} {
		code, _ := e.do(operator, http.MethodPost, "/admin/wallet/deposits", map[string]any{"actorId": a.ID, "amount": 100000})
		require.Equal(t, http.StatusCreated, code)
	}

	_, res := e.do(seller, http.MethodPost, "/kenz", map[string]any{"title": "Camera", "price": 10000})
	listing := decodeData[kenz.Listing](t, res)

	code, res := e.do(buyer, http.MethodPost, "/kenz/"+listing.ID+"/bids", map[string]any{"amount": 20000})
	require.Equal(t, http.StatusCreated, code)
	first := decodeData[kenz.Bid](t, res)

	code, res = e.do(other, http.MethodPost, "/kenz/"+listing.ID+"/bids", map[string]any{"amount": 20000})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "BID_TOO_LOW", res.code())

	code, res = e.do(other, http.MethodPost, "/kenz/"+listing.ID+"/bids", map[string]any{"amount": 25000})
	require.Equal(t, http.StatusCreated, code)
	top := decodeData[kenz.Bid](t, res)

	code, res = e.do(seller, http.MethodPost, "/kenz/"+listing.ID+"/bids/"+first.ID+"/accept", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "STALE_BID", res.code())

	code, res = e.do(seller, http.MethodPost, "/kenz/"+listing.ID+"/bids/"+top.ID+"/accept", nil)
	require.Equal(t, http.StatusCreated, code, res.code())
	deal := decodeData[kenz.Deal](t, res)
	assert.Equal(t, other.ID, deal.BuyerID)
	assert.Equal(t, int64(25000), deal.Amount)

	code, res = e.do(buyer, http.MethodGet, "/kenz/"+listing.ID+"/bids", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]kenz.Bid](t, res), 2)

	code, res = e.do(buyer, http.MethodGet, "/kenz/escrow/"+deal.ID, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", res.code())
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(d *httpx.Deps) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})
	code, _ := e.do(buyer, http.MethodGet, "/kenz", nil)
	require.Equal(t, http.StatusOK, code)

	code, res := e.do(buyer, http.MethodGet, "/kenz", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", res.code())

	code, _ = e.do(seller, http.MethodGet, "/kenz", nil)
	assert.Equal(t, http.StatusOK, code)
}
