package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAccountRequired = errors.New("account is required")
	ErrNotFound        = errors.New("record not found")
)

// EventRow is one persisted lifecycle event. Payload is the JSON encoding of
// the event data.
type EventRow struct {
	ID        string
	Account   string
	Type      string
	Symbol    string
	OrderID   uint64
	Payload   string
	CreatedAt time.Time
}

// EventFilter narrows ListEvents. Zero values mean no constraint.
type EventFilter struct {
	Account string
	Types   []string
	Symbol  string
	AfterID string
	Limit   int
}

const insertEventSQL = `
	INSERT OR IGNORE INTO events (id, account, type, symbol, order_id, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// InsertEventQuery returns the statement and args used to insert e, for
// callers that batch writes in their own transaction.
func InsertEventQuery(e EventRow) (string, []any) {
	return insertEventSQL, []any{e.ID, e.Account, e.Type, e.Symbol, int64(e.OrderID), e.Payload, e.CreatedAt.UTC()}
}

// Queries runs event log queries.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// InsertEvent stores one event; duplicates by id are ignored.
func (q *Queries) InsertEvent(ctx context.Context, e EventRow) error {
	if e.Account == "" {
		return ErrAccountRequired
	}
	query, args := InsertEventQuery(e)
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns events ordered by id (emission order).
func (q *Queries) ListEvents(ctx context.Context, f EventFilter) ([]EventRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Account != "" {
		where = append(where, "account = ?")
		args = append(args, f.Account)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.AfterID != "" {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}
	if len(f.Types) > 0 {
		where = append(where, "type IN (?"+strings.Repeat(",?", len(f.Types)-1)+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}

	query := "SELECT id, account, type, symbol, order_id, COALESCE(payload, ''), created_at FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			e       EventRow
			orderID int64
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Type, &e.Symbol, &orderID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OrderID = uint64(orderID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEvent returns one event by id.
func (q *Queries) GetEvent(ctx context.Context, id string) (EventRow, error) {
	var (
		e       EventRow
		orderID int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, account, type, symbol, order_id, COALESCE(payload, ''), created_at
		FROM events WHERE id = ?
	`, id).Scan(&e.ID, &e.Account, &e.Type, &e.Symbol, &orderID, &e.Payload, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRow{}, ErrNotFound
	}
	if err != nil {
		return EventRow{}, fmt.Errorf("get event: %w", err)
	}
	e.OrderID = uint64(orderID)
	return e, nil
}

// CountEvents returns the number of events per type for an account.
func (q *Queries) CountEvents(ctx context.Context, account string) (map[string]int, error) {
	if account == "" {
		return nil, ErrAccountRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM events WHERE account = ? GROUP BY type
	`, account)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[typ] = n
	}
	return out, rows.Err()
}
