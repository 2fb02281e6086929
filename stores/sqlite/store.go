package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notion-collab/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	category TEXT,
	is_public INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS collaborators (
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	permission TEXT NOT NULL,
	PRIMARY KEY (document_id, user_id)
);`

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and ensures the schema.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

const documentColumns = "id, owner_id, title, content, COALESCE(category, ''), is_public, created_at, updated_at"

func scanDocument(row interface{ Scan(...any) error }) (*core.Document, error) {
	var doc core.Document
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &doc.Category, &doc.IsPublic, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *sqliteStore) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	return doc, nil
}

func (s *sqliteStore) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var title any
	if u.Title != nil {
		title = *u.Title
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET content = ?, title = COALESCE(NULLIF(?, ''), title), updated_at = ? WHERE id = ?",
		u.Content, title, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}

	doc, err := scanDocument(tx.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logrus.WithField("document_id", id).Debug("Document updated")
	return doc, nil
}

func (s *sqliteStore) IsPublic(ctx context.Context, id string) (bool, error) {
	var public bool
	err := s.db.QueryRowContext(ctx, "SELECT is_public FROM documents WHERE id = ?", id).Scan(&public)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return public, err
}

func (s *sqliteStore) CreateDocument(ctx context.Context, doc *core.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, owner_id, title, content, category, is_public, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		doc.ID, doc.OwnerID, doc.Title, doc.Content, doc.Category, doc.IsPublic, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		logrus.WithError(err).Error("Failed to create document")
		return "", err
	}
	logrus.WithField("document_id", doc.ID).Info("Document created successfully")
	return doc.ID, nil
}

func (s *sqliteStore) getUser(ctx context.Context, where string, arg any) (*core.User, error) {
	var u core.User
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, email, name, created_at, updated_at FROM users WHERE "+where+" = ?", arg).
		Scan(&u.ID, &u.Email, &name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	return &u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *sqliteStore) CreateUser(ctx context.Context, u *core.User) (string, error) {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return u.ID, nil
}

func (s *sqliteStore) GetPermission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	var p string
	err := s.db.QueryRowContext(ctx,
		"SELECT permission FROM collaborators WHERE document_id = ? AND user_id = ?", documentID, userID).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PermissionNone, nil
	}
	return core.Permission(p), err
}

func (s *sqliteStore) SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error {
	if p == core.PermissionNone {
		_, err := s.db.ExecContext(ctx, "DELETE FROM collaborators WHERE document_id = ? AND user_id = ?", documentID, userID)
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collaborators (document_id, user_id, permission) VALUES (?, ?, ?)
		 ON CONFLICT(document_id, user_id) DO UPDATE SET permission = excluded.permission`,
		documentID, userID, string(p))
	return err
}
