package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"notion-collab/config"
	"notion-collab/core"
)

func TestGetStore_Memory(t *testing.T) {
	store, err := GetStore(context.Background(), config.Storage{Type: "memory"})
	if err != nil {
		t.Fatalf("GetStore() failed: %v", err)
	}
	if store == nil {
		t.Fatal("GetStore() returned nil store")
	}
}

func TestGetStore_Filesystem(t *testing.T) {
	store, err := GetStore(context.Background(), config.Storage{Type: "filesystem", LocalPath: t.TempDir()})
	if err != nil {
		t.Fatalf("GetStore() failed: %v", err)
	}
	if _, err := store.CreateDocument(context.Background(), &core.Document{ID: "42"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}
}

func TestGetStore_Unknown(t *testing.T) {
	if _, err := GetStore(context.Background(), config.Storage{Type: "floppy"}); err == nil {
		t.Error("GetStore() accepted an unknown storage type")
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	err := os.WriteFile(path, []byte(`
users:
  - {id: A, email: a@example.com, name: Alice}
  - {id: B, email: b@example.com, name: Bob}
documents:
  - {id: "42", owner_id: A, title: Plan, content: hello}
  - {id: "7", owner_id: A, title: Private, content: secret}
collaborators:
  - {document_id: "42", user_id: B, permission: write}
`), 0o644)
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	ctx := context.Background()
	store, _ := GetStore(ctx, config.Storage{Type: "memory"})
	if err := LoadSeedFile(ctx, store, path); err != nil {
		t.Fatalf("LoadSeedFile() failed: %v", err)
	}

	doc, err := store.GetDocument(ctx, "42")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Content != "hello" || doc.OwnerID != "A" {
		t.Errorf("document 42 = %+v", doc)
	}
	if p, _ := store.GetPermission(ctx, "42", "B"); p != core.PermissionWrite {
		t.Errorf("permission = %q, want write", p)
	}
	if u, err := store.GetUserByEmail(ctx, "b@example.com"); err != nil || u.ID != "B" {
		t.Errorf("GetUserByEmail() = %v, %v", u, err)
	}
}

func TestLoadSeedFile_BadPermission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	os.WriteFile(path, []byte(`
documents:
  - {id: "1", owner_id: A}
collaborators:
  - {document_id: "1", user_id: B, permission: owner}
`), 0o644)

	ctx := context.Background()
	store, _ := GetStore(ctx, config.Storage{Type: "memory"})
	if err := LoadSeedFile(ctx, store, path); err == nil {
		t.Error("LoadSeedFile() accepted an unknown permission")
	}
}
