package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by every store when the requested record is absent.
var ErrNotFound = errors.New("not found")

type Permission string

const (
	PermissionNone  Permission = ""
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// CanWrite reports whether a collaborator permission allows editing.
func (p Permission) CanWrite() bool {
	return p == PermissionWrite || p == PermissionAdmin
}

// Valid reports whether p is one of the known collaborator permissions.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

type (
	// Document is a note as seen by the collaboration layer.
	Document struct {
		ID        string    `json:"id"`
		OwnerID   string    `json:"ownerId"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		Category  string    `json:"category,omitempty"`
		IsPublic  bool      `json:"isPublic"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// DocumentUpdate replaces the content of a document. A nil or empty
	// Title leaves the stored title untouched.
	DocumentUpdate struct {
		Content string
		Title   *string
	}

	DocumentStore interface {
		GetDocument(ctx context.Context, id string) (*Document, error)
		// UpdateDocument persists u and returns the document as stored afterwards.
		UpdateDocument(ctx context.Context, id string, u DocumentUpdate) (*Document, error)
		IsPublic(ctx context.Context, id string) (bool, error)
	}

	PermissionStore interface {
		// GetPermission returns PermissionNone when the user is not a
		// collaborator on the document.
		GetPermission(ctx context.Context, documentID, userID string) (Permission, error)
	}
)

// Apply applies u to d in place and stamps UpdatedAt.
func (u DocumentUpdate) Apply(d *Document, now time.Time) {
	d.Content = u.Content
	if u.Title != nil && *u.Title != "" {
		d.Title = *u.Title
	}
	d.UpdatedAt = now
}
