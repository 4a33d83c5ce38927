package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/port"
)

var _ port.Repository = (*PgRepo)(nil)

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finished working with the database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const saveOrderSQL = `
INSERT INTO orders(id, owner_id, product_id, side, price, quantity, remaining,
                   grid_operator_id, device_type_id, seq, status, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  remaining = EXCLUDED.remaining,
  status = EXCLUDED.status
`

const saveTradeSQL = `
INSERT INTO trades(id, product_id, bid_order, ask_order, price, quantity, seq, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`

func (p *PgRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := p.pool.Exec(ctx, saveOrderSQL,
		o.ID, o.OwnerID, o.ProductID, string(o.Side), o.Price, o.Quantity, o.Remaining,
		o.GridOperatorID, o.DeviceTypeID, int64(o.Seq), string(o.Status), o.CreatedAt)
	return err
}

func (p *PgRepo) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, owner_id, product_id, side, price, quantity, remaining,
       grid_operator_id, device_type_id, seq, status, created_at
FROM orders WHERE id = $1
`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return o, err
}

// LoadOpenOrders returns resting orders for a product in submission order.
func (p *PgRepo) LoadOpenOrders(ctx context.Context, productID string) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, owner_id, product_id, side, price, quantity, remaining,
       grid_operator_id, device_type_id, seq, status, created_at
FROM orders
WHERE product_id = $1 AND status IN ('ACTIVE','PARTIALLY_FILLED') AND remaining > 0
ORDER BY seq ASC
`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (p *PgRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, product_id, bid_order, ask_order, price, quantity, seq, executed_at
FROM trades
WHERE bid_order = $1 OR ask_order = $1
ORDER BY seq ASC
`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var seq int64
		if err := rows.Scan(&t.ID, &t.ProductID, &t.BidOrderID, &t.AskOrderID,
			&t.Price, &t.Quantity, &seq, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Seq = uint64(seq)
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (p *PgRepo) ListProducts(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT product_id FROM orders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (p *PgRepo) MaxOrderSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0) FROM orders`).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (p *PgRepo) MaxTradeSeq(ctx context.Context, productID string) (uint64, error) {
	var seq int64
	if err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq),0) FROM trades WHERE product_id = $1`, productID).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// LoadCompatibility reads the legality table. Kinds map to the two
// validators; unknown kinds are ignored.
func (p *PgRepo) LoadCompatibility(ctx context.Context) (*compat.Table, error) {
	rows, err := p.pool.Query(ctx, `SELECT kind, from_id, to_id FROM compatibility_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := &compat.Table{
		GridOperators: make(map[string][]string),
		DeviceTypes:   make(map[string][]string),
	}
	for rows.Next() {
		var kind, from, to string
		if err := rows.Scan(&kind, &from, &to); err != nil {
			return nil, err
		}
		switch kind {
		case "GRID_OPERATOR":
			table.GridOperators[from] = append(table.GridOperators[from], to)
		case "DEVICE_TYPE":
			table.DeviceTypes[from] = append(table.DeviceTypes[from], to)
		}
	}
	return table, rows.Err()
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, saveOrderSQL,
		o.ID, o.OwnerID, o.ProductID, string(o.Side), o.Price, o.Quantity, o.Remaining,
		o.GridOperatorID, o.DeviceTypeID, int64(o.Seq), string(o.Status), o.CreatedAt)
	return err
}

func (t *pgTx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	_, err := t.tx.Exec(ctx, saveTradeSQL,
		tr.ID, tr.ProductID, tr.BidOrderID, tr.AskOrderID, tr.Price, tr.Quantity,
		int64(tr.Seq), tr.ExecutedAt)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, status string
	var seq int64
	if err := row.Scan(&o.ID, &o.OwnerID, &o.ProductID, &side, &o.Price, &o.Quantity,
		&o.Remaining, &o.GridOperatorID, &o.DeviceTypeID, &seq, &status, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.Seq = uint64(seq)
	return &o, nil
}
