package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"insta_relay/internal/domain"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates the watermarks table if it does not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type watermarkRow struct {
	Account    string    `db:"account"`
	LastPostID string    `db:"last_post_id"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type WatermarkStore struct {
	db        *sqlx.DB
	txManager *TransactionManager
}

func NewWatermarkStore(db *sqlx.DB, txManager *TransactionManager) *WatermarkStore {
	return &WatermarkStore{db: db, txManager: txManager}
}

func (s *WatermarkStore) Load(ctx context.Context) (domain.Watermarks, error) {
	var rows []watermarkRow
	query := `SELECT account, last_post_id, updated_at FROM watermarks`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query); err != nil {
		return nil, fmt.Errorf("select watermarks: %w", err)
	}

	state := make(domain.Watermarks, len(rows))
	for _, r := range rows {
		state[r.Account] = domain.PostID(r.LastPostID)
	}
	return state, nil
}

// Save upserts every entry of state in a single transaction. Rows for
// accounts absent from state are left alone.
func (s *WatermarkStore) Save(ctx context.Context, state domain.Watermarks) error {
	if len(state) == 0 {
		return nil
	}

	accounts := make([]string, 0, len(state))
	for account := range state {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	var sb strings.Builder
	sb.WriteString("INSERT INTO watermarks (account, last_post_id, updated_at) VALUES ")
	args := make([]any, 0, len(accounts)*2+1)
	args = append(args, time.Now().UTC())

	for i, account := range accounts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($")
		sb.WriteString(strconv.Itoa(i*2 + 2))
		sb.WriteString(", $")
		sb.WriteString(strconv.Itoa(i*2 + 3))
		sb.WriteString(", $1)")
		args = append(args, account, string(state[account]))
	}
	sb.WriteString(`
		ON CONFLICT (account) DO UPDATE SET
			last_post_id = EXCLUDED.last_post_id,
			updated_at = EXCLUDED.updated_at
		WHERE watermarks.last_post_id <> EXCLUDED.last_post_id`)

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := GetExecutor(txCtx, s.db).ExecContext(txCtx, sb.String(), args...); err != nil {
			return fmt.Errorf("upsert watermarks: %w", err)
		}
		return nil
	})
}
