// Package sqlstore persists forms and submissions through sqlx. It runs on
// sqlite3 for single-node deployments and postgres otherwise.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/repository"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		name         TEXT NOT NULL,
		api_key      TEXT NOT NULL,
		redirect_url TEXT NOT NULL DEFAULT '',
		notify_email TEXT NOT NULL DEFAULT '',
		deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_forms_api_key ON forms (api_key)`,
	`CREATE INDEX IF NOT EXISTS idx_forms_owner ON forms (owner_id)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id         TEXT PRIMARY KEY,
		form_id    TEXT NOT NULL,
		data       TEXT NOT NULL,
		ip         TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		referer    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions (form_id, created_at)`,
}

const formColumns = `id, owner_id, name, api_key, redirect_url, notify_email, deleted, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

// Open connects with the given driver ("sqlite3" or "postgres") and applies
// the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	conn, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer; in-memory databases are per-connection.
		conn.SetMaxOpenConns(1)
	}
	s := &Store{db: conn}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) GetForm(ctx context.Context, id string) (*db.Form, error) {
	var f db.Form
	q := s.db.Rebind(`SELECT ` + formColumns + ` FROM forms WHERE id = ?`)
	if err := s.db.GetContext(ctx, &f, q, id); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Store) FindFormByAPIKey(ctx context.Context, key string) (*db.Form, error) {
	var f db.Form
	q := s.db.Rebind(`SELECT ` + formColumns + ` FROM forms WHERE api_key = ? AND deleted = ? ORDER BY created_at LIMIT 1`)
	if err := s.db.GetContext(ctx, &f, q, key, false); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Store) ListFormsByOwner(ctx context.Context, ownerID string) ([]*db.Form, error) {
	var forms []*db.Form
	q := s.db.Rebind(`SELECT ` + formColumns + ` FROM forms WHERE owner_id = ? AND deleted = ? ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &forms, q, ownerID, false); err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return forms, nil
}

func (s *Store) CreateForm(ctx context.Context, form *db.Form) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO forms (`+formColumns+`)
		VALUES (:id, :owner_id, :name, :api_key, :redirect_url, :notify_email, :deleted, :created_at, :updated_at)`, form)
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *Store) UpdateForm(ctx context.Context, form *db.Form) error {
	res, err := s.db.NamedExecContext(ctx, `UPDATE forms SET
		owner_id = :owner_id, name = :name, api_key = :api_key, redirect_url = :redirect_url,
		notify_email = :notify_email, deleted = :deleted, updated_at = :updated_at
		WHERE id = :id`, form)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateSubmission(ctx context.Context, sub *db.Submission) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO submissions (id, form_id, data, ip, user_agent, referer, created_at)
		VALUES (:id, :form_id, :data, :ip, :user_agent, :referer, :created_at)`, sub)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*db.Submission, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM submissions WHERE form_id = ?`), formID); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	var subs []*db.Submission
	q := s.db.Rebind(`SELECT id, form_id, data, ip, user_agent, referer, created_at FROM submissions
		WHERE form_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &subs, q, formID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	return subs, total, nil
}

func (s *Store) DeleteSubmissions(ctx context.Context, formID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM submissions WHERE form_id = ?`), formID)
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("query form: %w", err)
}

var _ repository.Store = (*Store)(nil)
