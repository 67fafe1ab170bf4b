package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stockdesk/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the instrument store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "<dataDir>/stock.db"

	// OnReplace, if set, is called after each successful ReplaceAll with the
	// number of rows written and the commit latency.
	OnReplace func(rows int, took time.Duration)
}

// Store is the file-backed instrument table. Writes are serialised through
// writeMu; reads rely on SQLite's WAL snapshot isolation.
type Store struct {
	db        *sql.DB
	writeMu   sync.Mutex
	onReplace func(int, time.Duration)
	log       *slog.Logger
}

var _ model.InstrumentStore = (*Store)(nil)

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (creating if needed) the database with WAL mode and ensures the
// schema exists.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// One writer at a time is enforced by writeMu; extra connections let
	// searches read the last committed snapshot while a replace is running.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := createSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := slog.Default().With("component", "sqlite")
	log.Info("opened instrument store", "path", cfg.DBPath)
	return &Store{db: db, onReplace: cfg.OnReplace, log: log}, nil
}

const stocksSchema = `
	CREATE TABLE IF NOT EXISTS stocks (
		code             TEXT PRIMARY KEY,
		name             TEXT,
		listCount        TEXT,
		auditInfo        TEXT,
		regDay           TEXT,
		lastPrice        TEXT,
		state            TEXT,
		marketCode       TEXT,
		marketName       TEXT,
		upName           TEXT,
		upSizeName       TEXT,
		companyClassName TEXT,
		orderWarning     TEXT,
		nxtEnable        TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_stocks_name ON stocks (name);
`

func createSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, stocksSchema)
	return err
}

// ReplaceAll overwrites the whole instrument set in a single transaction.
// Concurrent readers observe either the old or the new complete set.
// Duplicate codes within records resolve to the last occurrence.
func (s *Store) ReplaceAll(ctx context.Context, records []model.Instrument) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	// Recreating the schema inside the tx keeps first use and a dropped
	// table atomic with the swap.
	if _, err := tx.ExecContext(ctx, stocksSchema); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite ensure schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stocks`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO stocks (code, name, listCount, auditInfo, regDay, lastPrice, state,
			marketCode, marketName, upName, upSizeName, companyClassName, orderWarning, nxtEnable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.Code, r.Name, r.ListCount, r.AuditInfo, r.RegDay, r.LastPrice, r.State,
			r.MarketCode, r.MarketName, r.UpName, r.UpSizeName, r.CompanyClassName, r.OrderWarning, r.NxtEnable)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", r.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}

	took := time.Since(start)
	s.log.Info("replaced instruments", "rows", len(records), "took", took)
	if s.onReplace != nil {
		s.onReplace(len(records), took)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
