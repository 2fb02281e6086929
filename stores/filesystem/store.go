package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"notion-collab/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	usersDir       = "users"
	documentsDir   = "documents"
	permissionsDir = "permissions"
)

// fsStore keeps one JSON file per user and document, plus one permission
// file per document.
type fsStore struct {
	basePath string
	// mu serializes read-modify-write cycles on the same directory tree.
	mu sync.Mutex
}

// NewStore creates a new filesystem-based store rooted at basePath.
func NewStore(basePath string) (*fsStore, error) {
	for _, dir := range []string{usersDir, documentsDir, permissionsDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &fsStore{basePath: basePath}, nil
}

func (s *fsStore) path(dir, id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(s.basePath, dir, id+".json"), nil
}

func (s *fsStore) readJSON(dir, id string, v any) error {
	p, err := s.path(dir, id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s %s: %w", strings.TrimSuffix(dir, "s"), id, core.ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *fsStore) writeJSON(dir, id string, v any) error {
	p, err := s.path(dir, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// Write to a sibling file first so readers never see a torn document.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *fsStore) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := s.readJSON(documentsDir, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *fsStore) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("document_id", id)
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(doc, time.Now())
	if err := s.writeJSON(documentsDir, id, doc); err != nil {
		log.WithError(err).Error("Failed to write document file")
		return nil, err
	}
	log.Debug("Document updated")
	return doc, nil
}

func (s *fsStore) IsPublic(ctx context.Context, id string) (bool, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return false, err
	}
	return doc.IsPublic, nil
}

func (s *fsStore) CreateDocument(ctx context.Context, doc *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if err := s.writeJSON(documentsDir, doc.ID, doc); err != nil {
		return "", err
	}
	logrus.WithField("document_id", doc.ID).Info("Document created successfully")
	return doc.ID, nil
}

func (s *fsStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	var u core.User
	if err := s.readJSON(usersDir, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *fsStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, usersDir))
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		u, err := s.GetUser(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read user file %s, skipping", entry.Name())
			continue
		}
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *fsStore) CreateUser(ctx context.Context, u *core.User) (string, error) {
	if existing, err := s.GetUserByEmail(ctx, u.Email); err == nil && existing.ID != u.ID {
		return "", fmt.Errorf("email %s already registered", u.Email)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if err := s.writeJSON(usersDir, u.ID, u); err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *fsStore) readPermissions(documentID string) (map[string]core.Permission, error) {
	perms := make(map[string]core.Permission)
	err := s.readJSON(permissionsDir, documentID, &perms)
	if errors.Is(err, core.ErrNotFound) {
		return perms, nil
	}
	return perms, err
}

func (s *fsStore) GetPermission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	perms, err := s.readPermissions(documentID)
	if err != nil {
		return core.PermissionNone, err
	}
	return perms[userID], nil
}

func (s *fsStore) SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error {
	if p != core.PermissionNone && !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	perms, err := s.readPermissions(documentID)
	if err != nil {
		return err
	}
	if p == core.PermissionNone {
		delete(perms, userID)
	} else {
		perms[userID] = p
	}
	return s.writeJSON(permissionsDir, documentID, perms)
}
