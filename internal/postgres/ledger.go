package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/jackc/pgx/v5"
)

type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) Post(ctx context.Context, t ledger.Transaction) error {
	return r.s.inTx(ctx, func(tx pgx.Tx) error {
		return postTx(ctx, tx, t)
	})
}

// postTx writes all entries of t inside an open transaction.
func postTx(ctx context.Context, q querier, t ledger.Transaction) error {
	if t.Sum() != 0 || len(t.Entries) < 2 {
		return fmt.Errorf("%w: transaction %s", ledger.ErrUnbalanced, t.ID)
	}
	if _, err := q.Exec(ctx, `INSERT INTO ledger_transactions(id, reference_id, created_at) VALUES ($1,$2,$3)`,
		t.ID, t.ReferenceID, t.Entries[0].CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrConflict.Withf("ledger transaction %s already posted", t.ID)
		}
		return err
	}
	for _, e := range t.Entries {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_entries(id, transaction_id, actor_id, amount, reason, reference_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.TransactionID, e.ActorID, e.Amount, string(e.Reason), e.ReferenceID, e.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *LedgerRepo) Balance(ctx context.Context, actorID string) (int64, error) {
	return balanceOf(ctx, r.s.pool, actorID)
}

func (r *LedgerRepo) Entries(ctx context.Context, actorID string, p pagination.Params) ([]ledger.Entry, pagination.Page, error) {
	p = p.Normalize()
	at, id, err := keyset(p)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	rows, err := r.s.pool.Query(ctx, `
		SELECT id, transaction_id, actor_id, amount, reason, reference_id, created_at
		FROM ledger_entries
		WHERE actor_id = $1 AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, actorID, at, id, p.Limit+1)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	items, page := pagination.Slice(out, p.Limit, ledger.Entry.Cursor)
	return items, page, nil
}

func (r *LedgerRepo) Transaction(ctx context.Context, txID string) (ledger.Transaction, error) {
	return loadTx(ctx, r.s.pool, txID)
}

// txReader serves committed transactions from inside another unit of work.
type txReader struct{ q querier }

func (r txReader) Transaction(ctx context.Context, txID string) (ledger.Transaction, error) {
	return loadTx(ctx, r.q, txID)
}

func loadTx(ctx context.Context, q querier, txID string) (ledger.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transaction_id, actor_id, amount, reason, reference_id, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY id`, txID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(entries) == 0 {
		return ledger.Transaction{}, apperr.ErrNotFound.Withf("ledger transaction %s not found", txID)
	}
	return ledger.Transaction{ID: txID, ReferenceID: entries[0].ReferenceID, Entries: entries}, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var reason string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.ActorID, &e.Amount, &reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = ledger.Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}
