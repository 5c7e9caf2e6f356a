package journal

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

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string, opts ...Option) (*SQLite, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLite{db: db, now: o.now}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func (j *SQLite) Model(ctx context.Context, productID int64, alg string) (ModelRecord, error) {
	var rec ModelRecord
	err := j.db.QueryRowContext(ctx, `
		SELECT product_id, algorithm, path, version, created_at, updated_at
		FROM policy_models
		WHERE product_id = ? AND algorithm = ?`, productID, alg).Scan(
		&rec.ProductID,
		&rec.Algorithm,
		&rec.Path,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelRecord{}, fmt.Errorf("model %d/%s: %w", productID, alg, ErrNotFound)
		}
		return ModelRecord{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (j *SQLite) EnsureModel(ctx context.Context, productID int64, alg, path string) (ModelRecord, error) {
	now := j.now().UTC()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO policy_models (product_id, algorithm, path, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (product_id, algorithm) DO NOTHING`,
		productID, alg, path, now, now,
	)
	if err != nil {
		return ModelRecord{}, fmt.Errorf("ensure model %d/%s: %w", productID, alg, err)
	}
	return j.Model(ctx, productID, alg)
}

func (j *SQLite) RaiseVersion(ctx context.Context, productID int64, alg string, min int) (ModelRecord, error) {
	return j.updateVersion(ctx, productID, alg, `MAX(version, ?)`, min)
}

func (j *SQLite) BumpVersion(ctx context.Context, productID int64, alg string) (ModelRecord, error) {
	return j.updateVersion(ctx, productID, alg, `version + ?`, 1)
}

func (j *SQLite) updateVersion(ctx context.Context, productID int64, alg, expr string, arg int) (ModelRecord, error) {
	res, err := j.db.ExecContext(ctx, `
		UPDATE policy_models SET version = `+expr+`, updated_at = ?
		WHERE product_id = ? AND algorithm = ?`,
		arg, j.now().UTC(), productID, alg,
	)
	if err != nil {
		return ModelRecord{}, fmt.Errorf("update model version %d/%s: %w", productID, alg, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ModelRecord{}, fmt.Errorf("model %d/%s: %w", productID, alg, ErrNotFound)
	}
	return j.Model(ctx, productID, alg)
}

func (j *SQLite) StartSession(ctx context.Context, productID int64, alg string, timesteps int) (TrainingSession, error) {
	now := j.now().UTC()
	s := TrainingSession{
		ID:        id.NewAt(now),
		ProductID: productID,
		Algorithm: alg,
		StartedAt: now,
		Status:    StatusStarted,
		Timesteps: timesteps,
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO training_sessions (id, product_id, algorithm, started_at, status, timesteps)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProductID, s.Algorithm, s.StartedAt, string(s.Status), s.Timesteps,
	)
	if err != nil {
		return TrainingSession{}, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// AppendLog adds one line to a running session's log.
func (j *SQLite) AppendLog(ctx context.Context, sessionID, line string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE training_sessions SET log = log || ? || char(10)
		WHERE id = ? AND status = ?`,
		line, sessionID, string(StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("running session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (j *SQLite) CompleteSession(ctx context.Context, sessionID string, status Status, version int) (TrainingSession, error) {
	if !status.Terminal() {
		return TrainingSession{}, fmt.Errorf("complete session %s: %q is not a terminal status", sessionID, status)
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE training_sessions
		SET status = ?, successful = ?, version = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), status == StatusSucceeded, version, j.now().UTC(),
		sessionID, string(StatusStarted),
	)
	if err != nil {
		return TrainingSession{}, fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TrainingSession{}, fmt.Errorf("running session %s: %w", sessionID, ErrNotFound)
	}
	return j.Session(ctx, sessionID)
}

const sessionColumns = `id, product_id, algorithm, started_at, completed_at, status, successful, timesteps, version, log`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (TrainingSession, error) {
	var (
		s         TrainingSession
		completed sql.NullTime
		status    string
	)
	err := row.Scan(
		&s.ID,
		&s.ProductID,
		&s.Algorithm,
		&s.StartedAt,
		&completed,
		&status,
		&s.Successful,
		&s.Timesteps,
		&s.Version,
		&s.Log,
	)
	if err != nil {
		return TrainingSession{}, err
	}
	s.Status = Status(status)
	s.StartedAt = s.StartedAt.UTC()
	if completed.Valid {
		s.CompletedAt = completed.Time.UTC()
	}
	return s, nil
}

func (j *SQLite) Session(ctx context.Context, sessionID string) (TrainingSession, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM training_sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TrainingSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return TrainingSession{}, err
	}
	return s, nil
}

func (j *SQLite) Sessions(ctx context.Context, productID int64, alg string) ([]TrainingSession, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM training_sessions
		WHERE product_id = ? AND (? = '' OR algorithm = ?)
		ORDER BY started_at DESC, id DESC`, productID, alg, alg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrainingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
