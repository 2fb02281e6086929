package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notion-collab/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type documentRow struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"index;not null"`
	Title     string `gorm:"not null;default:''"`
	Content   string `gorm:"type:text;not null;default:''"`
	Category  string
	IsPublic  bool `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (documentRow) TableName() string { return "documents" }

func (r documentRow) toCore() *core.Document {
	return &core.Document{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Content:   r.Content,
		Category:  r.Category,
		IsPublic:  r.IsPublic,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type collaboratorRow struct {
	DocumentID string `gorm:"primaryKey"`
	UserID     string `gorm:"primaryKey"`
	Permission string `gorm:"not null"`
}

func (collaboratorRow) TableName() string { return "collaborators" }

type gormStore struct {
	db *gorm.DB
}

// NewStore connects to Postgres and migrates the schema.
func NewStore(dsn string) (*gormStore, error) {
	return open(postgres.Open(dsn))
}

func open(dialector gorm.Dialector) (*gormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&core.User{}, &documentRow{}, &collaboratorRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logrus.Info("Database connected and migrated")
	return &gormStore{db: db}, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return row.toCore(), nil
}

func (s *gormStore) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		doc := row.toCore()
		u.Apply(doc, time.Now())
		row.Content, row.Title, row.UpdatedAt = doc.Content, doc.Title, doc.UpdatedAt
		return tx.Model(&row).Updates(map[string]any{
			"content":    row.Content,
			"title":      row.Title,
			"updated_at": row.UpdatedAt,
		}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return row.toCore(), nil
}

func (s *gormStore) IsPublic(ctx context.Context, id string) (bool, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return false, err
	}
	return doc.IsPublic, nil
}

func (s *gormStore) CreateDocument(ctx context.Context, doc *core.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	row := documentRow{
		ID:       doc.ID,
		OwnerID:  doc.OwnerID,
		Title:    doc.Title,
		Content:  doc.Content,
		Category: doc.Category,
		IsPublic: doc.IsPublic,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	doc.CreatedAt, doc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return doc.ID, nil
}

func (s *gormStore) getUser(ctx context.Context, query string, arg string) (*core.User, error) {
	var u core.User
	err := s.db.WithContext(ctx).First(&u, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", arg, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *gormStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *gormStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *gormStore) CreateUser(ctx context.Context, u *core.User) (string, error) {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return u.ID, nil
}

func (s *gormStore) GetPermission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	var row collaboratorRow
	err := s.db.WithContext(ctx).First(&row, "document_id = ? AND user_id = ?", documentID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.PermissionNone, nil
	}
	if err != nil {
		return core.PermissionNone, fmt.Errorf("failed to get permission: %w", err)
	}
	return core.Permission(row.Permission), nil
}

func (s *gormStore) SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error {
	db := s.db.WithContext(ctx)
	if p == core.PermissionNone {
		return db.Delete(&collaboratorRow{}, "document_id = ? AND user_id = ?", documentID, userID).Error
	}
	if !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"permission"}),
	}).Create(&collaboratorRow{DocumentID: documentID, UserID: userID, Permission: string(p)}).Error
}
