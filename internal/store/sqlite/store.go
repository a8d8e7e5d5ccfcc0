// Package sqlite is the durable position store. One writer connection in WAL
// mode; every mutation is a single short transaction so the tick path never
// queues behind a long batch.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"optionsbot-v1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// StoreConfig configures the SQLite position store.
type StoreConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/positions.db"

	// OnWrite is called with the duration of each mutation. Metrics hook.
	OnWrite func(d time.Duration)
}

// Store implements model.PositionStore on SQLite.
type Store struct {
	db      *sql.DB
	onWrite func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode and creates the schema.
func New(cfg StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer: SQLite serializes writers anyway, so one connection
	// avoids busy retries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db, onWrite: cfg.OnWrite}, nil
}

func (s *Store) observe(start time.Time) {
	if s.onWrite != nil {
		s.onWrite(time.Since(start))
	}
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			tracker_id     TEXT    PRIMARY KEY,
			token          TEXT    NOT NULL,
			exchange       TEXT    NOT NULL,
			trading_symbol TEXT    NOT NULL,
			entry_price    INTEGER NOT NULL,
			qty            INTEGER NOT NULL,
			side           INTEGER NOT NULL,
			sl_price       INTEGER NOT NULL DEFAULT 0,
			tp_price       INTEGER NOT NULL DEFAULT 0,
			status         TEXT    NOT NULL,
			entry_at       INTEGER NOT NULL,
			exit_price     INTEGER NOT NULL DEFAULT 0,
			exit_reason    TEXT    NOT NULL DEFAULT '',
			exit_at        INTEGER,
			updated_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	`)
	return err
}

// LoadActive returns every position whose durable status is ACTIVE.
func (s *Store) LoadActive(ctx context.Context) ([]model.PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tracker_id, token, exchange, trading_symbol,
		       entry_price, qty, side, sl_price, tp_price, status, entry_at
		FROM positions
		WHERE status = ?
	`, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("sqlite load active: %w", err)
	}
	defer rows.Close()

	var recs []model.PositionRecord
	for rows.Next() {
		var rec model.PositionRecord
		var side int64
		var entryAt int64
		if err := rows.Scan(
			&rec.TrackerID, &rec.Token, &rec.Exchange, &rec.TradingSymbol,
			&rec.EntryPrice, &rec.Qty, &side, &rec.SLPrice, &rec.TPPrice,
			&rec.Status, &entryAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		rec.Side = model.Side(side)
		rec.EntryAt = time.Unix(entryAt, 0)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveOpen inserts or replaces an open position record.
func (s *Store) SaveOpen(ctx context.Context, rec model.PositionRecord) error {
	defer s.observe(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(tracker_id, token, exchange, trading_symbol,
			 entry_price, qty, side, sl_price, tp_price, status, entry_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT (tracker_id) DO UPDATE SET
			sl_price   = excluded.sl_price,
			tp_price   = excluded.tp_price,
			status     = excluded.status,
			updated_at = strftime('%s', 'now')
	`, rec.TrackerID, rec.Token, rec.Exchange, rec.TradingSymbol,
		rec.EntryPrice, rec.Qty, int64(rec.Side), rec.SLPrice, rec.TPPrice,
		rec.Status, rec.EntryAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite save position: %w", err)
	}
	return nil
}

// UpdateStops persists new stop/target prices for an open position. A zero
// tpPrice leaves the stored target untouched.
func (s *Store) UpdateStops(ctx context.Context, trackerID string, slPrice, tpPrice int64) error {
	defer s.observe(time.Now())
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET sl_price   = ?,
		    tp_price   = CASE WHEN ? > 0 THEN ? ELSE tp_price END,
		    updated_at = strftime('%s', 'now')
		WHERE tracker_id = ? AND status = ?
	`, slPrice, tpPrice, tpPrice, trackerID, model.StatusActive)
	if err != nil {
		return fmt.Errorf("sqlite update stops: %w", err)
	}
	return nil
}

// MarkExited transitions a position to EXITED. The status guard makes the
// transition one-way: a second call is a no-op, never an overwrite.
func (s *Store) MarkExited(ctx context.Context, trackerID string, exitPrice int64, reason string, at time.Time) error {
	defer s.observe(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET status      = ?,
		    exit_price  = ?,
		    exit_reason = ?,
		    exit_at     = ?,
		    updated_at  = strftime('%s', 'now')
		WHERE tracker_id = ? AND status = ?
	`, model.StatusExited, exitPrice, reason, at.Unix(), trackerID, model.StatusActive)
	if err != nil {
		return fmt.Errorf("sqlite mark exited: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[sqlite] mark exited %s: no active row (already exited?)", trackerID)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
