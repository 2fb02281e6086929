package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"notion-collab/core"
	"notion-collab/stores/storetest"
)

func newTestStore(t *testing.T) *fsStore {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	return s
}

func TestFilesystemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return newTestStore(t) })
}

func TestNewStore_CreatesLayout(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := NewStore(base); err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	for _, dir := range []string{usersDir, documentsDir, permissionsDir} {
		info, err := os.Stat(filepath.Join(base, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing: %v", dir, err)
		}
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", "..", ""} {
		if _, err := s.GetDocument(ctx, id); err == nil {
			t.Errorf("GetDocument(%q) succeeded, want error", id)
		}
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	first, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	if _, err := first.CreateDocument(ctx, &core.Document{ID: "42", Content: "hello"}); err != nil {
		t.Fatalf("CreateDocument() failed: %v", err)
	}

	second, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	doc, err := second.GetDocument(ctx, "42")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if doc.Content != "hello" {
		t.Errorf("content = %q, want hello", doc.Content)
	}
}
