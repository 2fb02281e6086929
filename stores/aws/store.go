package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"notion-collab/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	usersPrefix       = "users/"
	documentsPrefix   = "documents/"
	permissionsPrefix = "permissions/"
)

// objectAPI is the subset of the S3 client the store relies on.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Store struct {
	s3Client objectAPI
	bucket   string
	mu       sync.Mutex
}

// NewStore creates a new S3-based store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func newStoreWithClient(client objectAPI, bucketName string) *s3Store {
	return &s3Store{s3Client: client, bucket: bucketName}
}

func objectKey(prefix, id string) (string, error) {
	// Ids become key segments, so they must not smuggle in a path.
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return prefix + id + ".json", nil
}

func (s *s3Store) getJSON(ctx context.Context, prefix, id string, v any) error {
	key, err := objectKey(prefix, id)
	if err != nil {
		return err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%s%s: %w", prefix, id, core.ErrNotFound)
		}
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

func (s *s3Store) putJSON(ctx context.Context, prefix, id string, v any) error {
	key, err := objectKey(prefix, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := s.getJSON(ctx, documentsPrefix, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *s3Store) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(doc, time.Now())
	if err := s.putJSON(ctx, documentsPrefix, id, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *s3Store) IsPublic(ctx context.Context, id string) (bool, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return false, err
	}
	return doc.IsPublic, nil
}

func (s *s3Store) CreateDocument(ctx context.Context, doc *core.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if err := s.putJSON(ctx, documentsPrefix, doc.ID, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *s3Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	var u core.User
	if err := s.getJSON(ctx, usersPrefix, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *s3Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(usersPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for _, object := range page.Contents {
			id := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(object.Key), usersPrefix), ".json")
			u, err := s.GetUser(ctx, id)
			if err != nil {
				logrus.WithError(err).Warnf("Failed to read user object %s, skipping", aws.ToString(object.Key))
				continue
			}
			if u.Email == email {
				return u, nil
			}
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, core.ErrNotFound)
}

func (s *s3Store) CreateUser(ctx context.Context, u *core.User) (string, error) {
	if existing, err := s.GetUserByEmail(ctx, u.Email); err == nil && existing.ID != u.ID {
		return "", fmt.Errorf("email %s already registered", u.Email)
	}
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if err := s.putJSON(ctx, usersPrefix, u.ID, u); err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *s3Store) readPermissions(ctx context.Context, documentID string) (map[string]core.Permission, error) {
	perms := make(map[string]core.Permission)
	err := s.getJSON(ctx, permissionsPrefix, documentID, &perms)
	if errors.Is(err, core.ErrNotFound) {
		return perms, nil
	}
	return perms, err
}

func (s *s3Store) GetPermission(ctx context.Context, documentID, userID string) (core.Permission, error) {
	perms, err := s.readPermissions(ctx, documentID)
	if err != nil {
		return core.PermissionNone, err
	}
	return perms[userID], nil
}

func (s *s3Store) SetPermission(ctx context.Context, documentID, userID string, p core.Permission) error {
	if p != core.PermissionNone && !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	perms, err := s.readPermissions(ctx, documentID)
	if err != nil {
		return err
	}
	if p == core.PermissionNone {
		delete(perms, userID)
	} else {
		perms[userID] = p
	}
	return s.putJSON(ctx, permissionsPrefix, documentID, perms)
}
