package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/pricer/internal/id"
)

// SQLite is the durable Store. All timestamps are written in UTC so the
// DATETIME text columns order correctly.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string, opts ...Option) (*SQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and makes every
	// transaction below strictly serial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	o := buildOptions(opts)
	return &SQLite{db: db, now: o.now}, nil
}

const productColumns = `id, name, current_price, base_price, cost_price, min_price, max_price,
	stock_quantity, pricing_strategy, last_price_update, last_strategy_change`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	var strategy string
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.CurrentPrice,
		&p.BasePrice,
		&p.CostPrice,
		&p.MinPrice,
		&p.MaxPrice,
		&p.StockQuantity,
		&strategy,
		&p.LastPriceUpdate,
		&p.LastStrategyChange,
	)
	if err != nil {
		return Product{}, err
	}
	p.Strategy = Strategy(strategy)
	p.LastPriceUpdate = p.LastPriceUpdate.UTC()
	p.LastStrategyChange = p.LastStrategyChange.UTC()
	return p, nil
}

func (s *SQLite) Product(ctx context.Context, productID int64) (Product, error) {
	return s.product(ctx, s.db, productID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) product(ctx context.Context, q querier, productID int64) (Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", productID, ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

func (s *SQLite) Products(ctx context.Context, strategy Strategy) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if strategy != "" {
		query += ` WHERE pricing_strategy = ?`
		args = append(args, string(strategy))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProduct validates and inserts p, filling in its id.
func (s *SQLite) CreateProduct(ctx context.Context, p *Product) error {
	if p.Strategy == "" {
		p.Strategy = StrategyRL
	}
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	if p.LastPriceUpdate.IsZero() {
		p.LastPriceUpdate = now
	}
	if p.LastStrategyChange.IsZero() {
		p.LastStrategyChange = now
	}

	query := `INSERT INTO products
		(name, current_price, base_price, cost_price, min_price, max_price,
		 stock_quantity, pricing_strategy, last_price_update, last_strategy_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		p.Name, p.CurrentPrice, p.BasePrice, p.CostPrice, p.MinPrice, p.MaxPrice,
		p.StockQuantity, string(p.Strategy), p.LastPriceUpdate.UTC(), p.LastStrategyChange.UTC(),
	}
	if p.ID != 0 {
		query = strings.Replace(query, "(name,", "(id, name,", 1)
		query = strings.Replace(query, "VALUES (?,", "VALUES (?, ?,", 1)
		args = append([]any{p.ID}, args...)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	if p.ID == 0 {
		p.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}
	return nil
}

// CommitPrice updates the product row and appends rec in one transaction.
func (s *SQLite) CommitPrice(ctx context.Context, productID int64, rec PriceRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err := s.product(ctx, tx, productID)
	if err != nil {
		return err
	}

	last, err := lastHistoryTime(ctx, tx, productID)
	if err != nil {
		return err
	}

	rec.ProductID = productID
	rec.Timestamp = rec.Timestamp.UTC()
	if err = checkCommit(p, last, rec, s.now()); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = id.NewAt(rec.Timestamp)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET current_price = ?, last_price_update = ? WHERE id = ?`,
		rec.Price, rec.Timestamp, productID,
	); err != nil {
		return fmt.Errorf("update product price: %w", err)
	}

	if err = insertHistory(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordSale appends the sale and decrements stock in one transaction.
func (s *SQLite) RecordSale(ctx context.Context, productID int64, units int64, at time.Time) (rec PriceRecord, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PriceRecord{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p, err := s.product(ctx, tx, productID)
	if err != nil {
		return PriceRecord{}, err
	}
	last, err := lastHistoryTime(ctx, tx, productID)
	if err != nil {
		return PriceRecord{}, err
	}

	rec, err = saleRecord(p, last, units, at, s.now())
	if err != nil {
		return PriceRecord{}, err
	}
	rec.ID = id.NewAt(rec.Timestamp)

	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - ? WHERE id = ?`,
		units, productID,
	); err != nil {
		return PriceRecord{}, fmt.Errorf("update stock: %w", err)
	}
	if err = insertHistory(ctx, tx, rec); err != nil {
		return PriceRecord{}, err
	}
	if err = tx.Commit(); err != nil {
		return PriceRecord{}, err
	}
	return rec, nil
}

func lastHistoryTime(ctx context.Context, q querier, productID int64) (time.Time, error) {
	var last time.Time
	err := q.QueryRowContext(ctx, `
		SELECT timestamp FROM price_history
		WHERE product_id = ?
		ORDER BY timestamp DESC LIMIT 1`, productID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, err
	}
	return last.UTC(), nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, rec PriceRecord) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_history
		(id, product_id, price, change_percentage, timestamp, units_sold, revenue)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.Price, rec.ChangePercentage, rec.Timestamp, rec.UnitsSold, rec.Revenue,
	); err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

func (s *SQLite) HistorySince(ctx context.Context, productID int64, since time.Time) ([]PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, price, change_percentage, timestamp, units_sold, revenue
		FROM price_history
		WHERE product_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, productID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceRecord
	for rows.Next() {
		var rec PriceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ProductID,
			&rec.Price,
			&rec.ChangePercentage,
			&rec.Timestamp,
			&rec.UnitsSold,
			&rec.Revenue,
		); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) SetStrategy(ctx context.Context, productID int64, strategy Strategy, at time.Time) error {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET pricing_strategy = ?, last_strategy_change = ? WHERE id = ?`,
		string(strategy), at.UTC(), productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
