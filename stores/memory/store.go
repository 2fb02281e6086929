package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notion-collab/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps users, documents and collaborator permissions in process
// memory. Every instance is independent.
type memStore struct {
	mu          sync.RWMutex
	users       map[string]core.User
	documents   map[string]core.Document
	permissions map[string]map[string]core.Permission // document id -> user id -> permission
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		users:       make(map[string]core.User),
		documents:   make(map[string]core.Document),
		permissions: make(map[string]map[string]core.Permission),
	}
}

func (s *memStore) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		logrus.WithField("document_id", id).Debug("Document not found")
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return &doc, nil
}

func (s *memStore) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	u.Apply(&doc, time.Now())
	s.documents[id] = doc

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(doc.Content),
	}).Debug("Document updated")
	return &doc, nil
}

func (s *memStore) IsPublic(ctx context.Context, id string) (bool, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return false, err
	}
	return doc.IsPublic, nil
}

func (s *memStore) CreateDocument(ctx context.Context, doc *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.documents[doc.ID] = *doc

	logrus.WithField("document_id", doc.ID).Info("Document created successfully")
	return doc.ID, nil
}

// Users

func (s *memStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return &u, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *memStore) CreateUser(ctx context.Context, u *core.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email && existing.ID != u.ID {
			return "", fmt.Errorf("email %s already registered", u.Email)
		}
	}
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return u.ID, nil
}

// Collaborators

func (s *memStore) GetPermission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions[documentID][userID], nil
}

func (s *memStore) SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == core.PermissionNone {
		delete(s.permissions[documentID], userID)
		return nil
	}
	if !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}
	perms, ok := s.permissions[documentID]
	if !ok {
		perms = make(map[string]core.Permission)
		s.permissions[documentID] = perms
	}
	perms[userID] = p
	return nil
}
