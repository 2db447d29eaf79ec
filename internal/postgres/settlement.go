package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/jackc/pgx/v5"
)

type SettlementRepo struct{ s *Store }

const requestCols = `id, vendor_id, amount, bank_account, status, note, ledger_tx_id, requested_at, processed_at`

func scanRequest(row pgx.Row) (*settlement.Request, error) {
	var (
		r      settlement.Request
		status string
	)
	if err := row.Scan(&r.ID, &r.VendorID, &r.Amount, &r.BankAccount, &status, &r.Note,
		&r.LedgerTxID, &r.RequestedAt, &r.ProcessedAt); err != nil {
		return nil, err
	}
	r.Status = settlement.Status(status)
	return &r, nil
}

func (r *SettlementRepo) Get(ctx context.Context, id string) (*settlement.Request, error) {
	req, err := scanRequest(r.s.pool.QueryRow(ctx, `SELECT `+requestCols+` FROM settlement_requests WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, settlement.ErrRequestNotFound
	}
	return req, err
}

func (r *SettlementRepo) List(ctx context.Context, vendorID string) ([]settlement.Request, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+requestCols+` FROM settlement_requests
		WHERE vendor_id=$1 ORDER BY requested_at DESC, id DESC`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []settlement.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *SettlementRepo) PendingTotal(ctx context.Context, vendorID string) (int64, error) {
	return pendingTotal(ctx, r.s.pool, vendorID)
}

func pendingTotal(ctx context.Context, q querier, vendorID string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM settlement_requests
		WHERE vendor_id=$1 AND status='pending'`, vendorID).Scan(&total)
	return total, err
}

// WithVendor takes the vendor's balance lock for the duration of fn.
func (r *SettlementRepo) WithVendor(ctx context.Context, vendorID string, fn func(tx settlement.VendorTx) error) error {
	return r.s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockActor(ctx, tx, vendorID); err != nil {
			return err
		}
		return fn(&vendorTx{tx: tx, vendorID: vendorID})
	})
}

type vendorTx struct {
	tx       pgx.Tx
	vendorID string
}

func (t *vendorTx) Balance(ctx context.Context) (int64, error) {
	return balanceOf(ctx, t.tx, t.vendorID)
}

func (t *vendorTx) PendingTotal(ctx context.Context) (int64, error) {
	return pendingTotal(ctx, t.tx, t.vendorID)
}

func (t *vendorTx) Get(ctx context.Context, id string) (*settlement.Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `
		SELECT `+requestCols+` FROM settlement_requests WHERE id=$1 AND vendor_id=$2 FOR UPDATE`, id, t.vendorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, settlement.ErrRequestNotFound
	}
	return req, err
}

func (t *vendorTx) Create(ctx context.Context, req *settlement.Request) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO settlement_requests(id, vendor_id, amount, bank_account, status, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		req.ID, req.VendorID, req.Amount, req.BankAccount, string(req.Status), req.RequestedAt)
	return err
}

func (t *vendorTx) Update(ctx context.Context, req *settlement.Request) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE settlement_requests SET status=$2, note=$3, ledger_tx_id=$4, processed_at=$5
		WHERE id=$1 AND vendor_id=$6`,
		req.ID, string(req.Status), req.Note, req.LedgerTxID, req.ProcessedAt, t.vendorID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return settlement.ErrRequestNotFound
	}
	return nil
}

func (t *vendorTx) Post(ctx context.Context, tr ledger.Transaction) error {
	return postTx(ctx, t.tx, tr)
}
