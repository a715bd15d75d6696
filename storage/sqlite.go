package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fundingheat/models"
)

// SQLiteRepository keeps every symbol's rows in one funding_rates table. seq
// preserves the order in which rows were written.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS funding_rates (
			symbol TEXT NOT NULL,
			calc_time_ms INTEGER NOT NULL,
			funding_rate REAL NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (symbol, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_funding_rates_symbol_time ON funding_rates(symbol, calc_time_ms);`,
	}
	for _, q := range queries {
		if _, err := r.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM funding_rates ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (r *SQLiteRepository) Read(ctx context.Context, symbol string) (models.SymbolDataset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT calc_time_ms, funding_rate FROM funding_rates WHERE symbol = ? ORDER BY seq`, symbol)
	if err != nil {
		return models.SymbolDataset{}, err
	}
	defer rows.Close()

	ds := models.SymbolDataset{Symbol: symbol}
	for rows.Next() {
		var ms int64
		var rate float64
		if err := rows.Scan(&ms, &rate); err != nil {
			return models.SymbolDataset{}, fmt.Errorf("scan %s: %w", symbol, err)
		}
		ds.Observations = append(ds.Observations, models.FundingRateObservation{
			Symbol:      symbol,
			ObservedAt:  time.UnixMilli(ms).UTC(),
			FundingRate: rate,
		})
	}
	return ds, rows.Err()
}

// Replace deletes the symbol's rows and inserts the new ones in one
// transaction.
func (r *SQLiteRepository) Replace(ctx context.Context, ds models.SymbolDataset) error {
	if ds.Symbol == "" {
		return fmt.Errorf("dataset without symbol")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM funding_rates WHERE symbol = ?`, ds.Symbol); err != nil {
		return fmt.Errorf("delete %s: %w", ds.Symbol, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO funding_rates (symbol, calc_time_ms, funding_rate, seq) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, o := range ds.Observations {
		if _, err := stmt.ExecContext(ctx, ds.Symbol, o.ObservedAt.UnixMilli(), o.FundingRate, i); err != nil {
			return fmt.Errorf("insert %s row %d: %w", ds.Symbol, i, err)
		}
	}
	return tx.Commit()
}
