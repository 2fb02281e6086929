// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"notion-collab/core"
)

// Store mirrors stores.Store. It is redeclared here so backend packages can
// run the suite from their own tests.
type Store interface {
	core.UserStore
	core.DocumentStore
	core.PermissionStore
	CreateUser(ctx context.Context, u *core.User) (string, error)
	CreateDocument(ctx context.Context, d *core.Document) (string, error)
	SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error
}

// Run exercises s against the common contract. newStore must return an
// empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UserRoundTrip", func(t *testing.T) { testUserRoundTrip(t, newStore(t)) })
	t.Run("MissingUser", func(t *testing.T) { testMissingUser(t, newStore(t)) })
	t.Run("DocumentRoundTrip", func(t *testing.T) { testDocumentRoundTrip(t, newStore(t)) })
	t.Run("UpdateKeepsTitle", func(t *testing.T) { testUpdateKeepsTitle(t, newStore(t)) })
	t.Run("UpdateReplacesTitle", func(t *testing.T) { testUpdateReplacesTitle(t, newStore(t)) })
	t.Run("MissingDocument", func(t *testing.T) { testMissingDocument(t, newStore(t)) })
	t.Run("Permissions", func(t *testing.T) { testPermissions(t, newStore(t)) })
}

func testUserRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	id, err := s.CreateUser(ctx, &core.User{Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if id == "" {
		t.Fatal("CreateUser() returned empty ID")
	}

	got, err := s.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if got.Email != "ada@example.com" || got.Name != "Ada" {
		t.Errorf("GetUser() = %+v, want ada@example.com/Ada", got)
	}

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() failed: %v", err)
	}
	if byEmail.ID != id {
		t.Errorf("GetUserByEmail() id = %q, want %q", byEmail.ID, id)
	}
}

func testMissingUser(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.GetUser(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUserByEmail() error = %v, want ErrNotFound", err)
	}
}

func testDocumentRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	id, err := s.CreateDocument(ctx, &core.Document{
		ID:       "42",
		OwnerID:  "A",
		Title:    "Plan",
		Content:  "hello",
		IsPublic: true,
	})
	if err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	if id != "42" {
		t.Errorf("CreateDocument() id = %q, want 42", id)
	}

	doc, err := s.GetDocument(ctx, "42")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.OwnerID != "A" || doc.Title != "Plan" || doc.Content != "hello" {
		t.Errorf("GetDocument() = %+v", doc)
	}

	public, err := s.IsPublic(ctx, "42")
	if err != nil {
		t.Fatalf("IsPublic() failed: %v", err)
	}
	if !public {
		t.Error("IsPublic() = false, want true")
	}
}

func testUpdateKeepsTitle(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.CreateDocument(ctx, &core.Document{ID: "7", OwnerID: "A", Title: "Keep", Content: "v1"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	empty := ""
	for _, title := range []*string{nil, &empty} {
		updated, err := s.UpdateDocument(ctx, "7", core.DocumentUpdate{Content: "v2", Title: title})
		if err != nil {
			t.Fatalf("UpdateDocument() failed: %v", err)
		}
		if updated.Title != "Keep" {
			t.Errorf("UpdateDocument() title = %q, want Keep", updated.Title)
		}
	}

	doc, err := s.GetDocument(ctx, "7")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Content != "v2" || doc.Title != "Keep" {
		t.Errorf("stored document = %q/%q, want Keep/v2", doc.Title, doc.Content)
	}
}

func testUpdateReplacesTitle(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.CreateDocument(ctx, &core.Document{ID: "8", OwnerID: "A", Title: "Old", Content: "x"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
	title := "New"
	if _, err := s.UpdateDocument(ctx, "8", core.DocumentUpdate{Content: "y", Title: &title}); err != nil {
		t.Fatalf("UpdateDocument() failed: %v", err)
	}
	doc, err := s.GetDocument(ctx, "8")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Title != "New" || doc.Content != "y" {
		t.Errorf("stored document = %q/%q, want New/y", doc.Title, doc.Content)
	}
}

func testMissingDocument(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetDocument() error = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateDocument(ctx, "missing", core.DocumentUpdate{Content: "x"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateDocument() error = %v, want ErrNotFound", err)
	}
	if _, err := s.IsPublic(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("IsPublic() error = %v, want ErrNotFound", err)
	}
}

func testPermissions(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.CreateDocument(ctx, &core.Document{ID: "42", OwnerID: "A"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	p, err := s.GetPermission(ctx, "42", "B")
	if err != nil {
		t.Fatalf("GetPermission() failed: %v", err)
	}
	if p != core.PermissionNone {
		t.Errorf("GetPermission() = %q, want none", p)
	}

	if err := s.SetPermission(ctx, "42", "B", core.PermissionRead); err != nil {
		t.Fatalf("SetPermission() failed: %v", err)
	}
	if err := s.SetPermission(ctx, "42", "B", core.PermissionWrite); err != nil {
		t.Fatalf("SetPermission() overwrite failed: %v", err)
	}
	if p, _ := s.GetPermission(ctx, "42", "B"); p != core.PermissionWrite {
		t.Errorf("GetPermission() = %q, want write", p)
	}

	if err := s.SetPermission(ctx, "42", "B", core.PermissionNone); err != nil {
		t.Fatalf("SetPermission(none) failed: %v", err)
	}
	if p, _ := s.GetPermission(ctx, "42", "B"); p != core.PermissionNone {
		t.Errorf("GetPermission() after revoke = %q, want none", p)
	}

	if err := s.SetPermission(ctx, "42", "C", core.Permission("owner")); err == nil {
		t.Error("SetPermission() accepted an unknown permission")
	}
}
