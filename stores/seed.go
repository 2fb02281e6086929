package stores

import (
	"context"
	"fmt"
	"os"

	"notion-collab/core"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Seed describes fixture data for local development.
type Seed struct {
	Users []struct {
		ID    string `yaml:"id"`
		Email string `yaml:"email"`
		Name  string `yaml:"name"`
	} `yaml:"users"`
	Documents []struct {
		ID       string `yaml:"id"`
		OwnerID  string `yaml:"owner_id"`
		Title    string `yaml:"title"`
		Content  string `yaml:"content"`
		Category string `yaml:"category"`
		Public   bool   `yaml:"public"`
	} `yaml:"documents"`
	Collaborators []struct {
		DocumentID string          `yaml:"document_id"`
		UserID     string          `yaml:"user_id"`
		Permission core.Permission `yaml:"permission"`
	} `yaml:"collaborators"`
}

// LoadSeedFile reads a YAML seed file and applies it to store.
func LoadSeedFile(ctx context.Context, store Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	return ApplySeed(ctx, store, &seed)
}

func ApplySeed(ctx context.Context, store Store, seed *Seed) error {
	for _, u := range seed.Users {
		if _, err := store.CreateUser(ctx, &core.User{ID: u.ID, Email: u.Email, Name: u.Name}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	for _, d := range seed.Documents {
		doc := &core.Document{
			ID:       d.ID,
			OwnerID:  d.OwnerID,
			Title:    d.Title,
			Content:  d.Content,
			Category: d.Category,
			IsPublic: d.Public,
		}
		if _, err := store.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("seed document %s: %w", d.ID, err)
		}
	}
	for _, c := range seed.Collaborators {
		if err := store.SetPermission(ctx, c.DocumentID, c.UserID, c.Permission); err != nil {
			return fmt.Errorf("seed collaborator %s on %s: %w", c.UserID, c.DocumentID, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"users":         len(seed.Users),
		"documents":     len(seed.Documents),
		"collaborators": len(seed.Collaborators),
	}).Info("Seed data loaded")
	return nil
}
