package stores

import (
	"context"
	"fmt"

	"notion-collab/config"
	"notion-collab/core"
	"notion-collab/stores/aws"
	"notion-collab/stores/filesystem"
	"notion-collab/stores/memory"
	"notion-collab/stores/postgres"
	"notion-collab/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types, plus the
// write paths used for seeding.
type Store interface {
	core.UserStore
	core.DocumentStore
	core.PermissionStore
	CreateUser(ctx context.Context, u *core.User) (string, error)
	CreateDocument(ctx context.Context, d *core.Document) (string, error)
	SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error
}

func GetStore(ctx context.Context, cfg config.Storage) (Store, error) {
	storageField := logrus.Fields{
		"storageType": cfg.Type,
	}

	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case "filesystem":
		storageField["basePath"] = cfg.LocalPath
		store, err = filesystem.NewStore(cfg.LocalPath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		storageField["bucketName"] = cfg.S3Bucket
		store, err = aws.NewStore(ctx, cfg.S3Bucket)
	case "postgres":
		store, err = postgres.NewStore(cfg.PostgresDSN)
	case "", "memory":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialise %s storage: %w", cfg.Type, err)
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
