package collab

import (
	"context"
	"errors"
	"fmt"

	"notion-collab/core"
)

// AccessAuthority answers read and write questions against the stores.
// Nothing is cached: permissions can change between two calls.
type AccessAuthority struct {
	docs  core.DocumentStore
	perms core.PermissionStore
}

func NewAccessAuthority(docs core.DocumentStore, perms core.PermissionStore) *AccessAuthority {
	return &AccessAuthority{docs: docs, perms: perms}
}

// CanRead is true for the owner, any collaborator, or anyone when the
// document is public.
func (a *AccessAuthority) CanRead(ctx context.Context, userID, documentID string) (bool, error) {
	doc, err := a.document(ctx, documentID)
	if err != nil {
		return false, err
	}
	if doc.OwnerID == userID {
		return true, nil
	}
	perm, err := a.permission(ctx, documentID, userID)
	if err != nil {
		return false, err
	}
	if perm != core.PermissionNone {
		return true, nil
	}
	public, err := a.docs.IsPublic(ctx, documentID)
	if err != nil {
		return false, mapStoreErr(documentID, err)
	}
	return public, nil
}

// CanWrite is true for the owner or a write/admin collaborator. Public
// visibility never grants write.
func (a *AccessAuthority) CanWrite(ctx context.Context, userID, documentID string) (bool, error) {
	doc, err := a.document(ctx, documentID)
	if err != nil {
		return false, err
	}
	if doc.OwnerID == userID {
		return true, nil
	}
	perm, err := a.permission(ctx, documentID, userID)
	if err != nil {
		return false, err
	}
	return perm.CanWrite(), nil
}

func (a *AccessAuthority) document(ctx context.Context, documentID string) (*core.Document, error) {
	doc, err := a.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, mapStoreErr(documentID, err)
	}
	return doc, nil
}

func (a *AccessAuthority) permission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	perm, err := a.perms.GetPermission(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.PermissionNone, nil
		}
		return core.PermissionNone, fmt.Errorf("permission lookup for %s: %w", documentID, err)
	}
	return perm, nil
}

func mapStoreErr(documentID string, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return fmt.Errorf("document %s: %w", documentID, err)
}
