// Package objectstore adapts an S3-compatible object store to the platform's
// path grammar. All access goes through /buckets/{tenant_id}/{category}/...
// paths; the adapter maps them onto a single bucket with tenant-prefixed keys.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
)

var (
	// ErrNotFound indicates the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath indicates a path outside the /buckets/ grammar.
	ErrInvalidPath = errors.New("invalid object path")
	// ErrTenantMismatch indicates the path's tenant differs from the caller's.
	ErrTenantMismatch = errors.New("path tenant does not match caller tenant")
)

// Object is a downloaded object's content.
type Object struct {
	Content []byte
	Size    int64
}

// ObjectInfo is object metadata without content.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ETag        string
	ModTime     time.Time
}

// Entry is one listing result.
type Entry struct {
	Path    string
	Size    int64
	ETag    string
	ModTime time.Time
	IsDir   bool
}

// Notification is one metadata-change feed record, normalized.
type Notification struct {
	EventType   model.EventType
	Path        string
	Size        int64
	ContentType string
	Timestamp   time.Time
}

// Store is the object-store capability surface the platform consumes.
type Store interface {
	// Download fetches an object's full content. The tenant must match the
	// path's tenant segment.
	Download(ctx context.Context, path, tenantID string) (*Object, error)
	// DownloadToTemp fetches an object into a temporary file and returns its
	// local path. The caller owns deletion.
	DownloadToTemp(ctx context.Context, path, tenantID string) (string, error)
	// Head returns object metadata without content.
	Head(ctx context.Context, path, tenantID string) (ObjectInfo, error)
	// List walks all objects under prefix. The channel closes when the
	// listing completes or ctx is cancelled.
	List(ctx context.Context, prefix string) (<-chan Entry, error)
	// ListenEvents opens the store's metadata-change feed. The channel
	// closes on feed error or ctx cancellation; callers reconnect.
	ListenEvents(ctx context.Context) (<-chan Notification, error)
}

// Config holds object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type minioStore struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewMinioStore connects to an S3-compatible endpoint.
func NewMinioStore(cfg Config, logger *zap.Logger) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "buckets"
	}

	logger.Info("object store connected",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", bucket))
	return &minioStore{client: client, bucket: bucket, log: logger}, nil
}

// objectKey validates a platform path and returns the store key, which is
// the path with the leading /buckets/ stripped.
func (s *minioStore) objectKey(path, tenantID string) (string, error) {
	info, err := model.ParsePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if tenantID != "" && info.TenantID != tenantID {
		return "", fmt.Errorf("%w: path=%s caller=%s", ErrTenantMismatch, info.TenantID, tenantID)
	}
	key := strings.TrimPrefix(strings.TrimPrefix(path, "/"), "buckets/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("%w: %s is not an object", ErrInvalidPath, path)
	}
	return key, nil
}

func (s *minioStore) Download(ctx context.Context, path, tenantID string) (*Object, error) {
	key, err := s.objectKey(path, tenantID)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", path, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return &Object{Content: content, Size: int64(len(content))}, nil
}

func (s *minioStore) DownloadToTemp(ctx context.Context, path, tenantID string) (string, error) {
	key, err := s.objectKey(path, tenantID)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "p8fs-ingest-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	local := tmp.Name()
	tmp.Close()

	if err := s.client.FGetObject(ctx, s.bucket, key, local, minio.GetObjectOptions{}); err != nil {
		os.Remove(local)
		if notFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to download object %s: %w", path, err)
	}
	return local, nil
}

func (s *minioStore) Head(ctx context.Context, path, tenantID string) (ObjectInfo, error) {
	key, err := s.objectKey(path, tenantID)
	if err != nil {
		return ObjectInfo{}, err
	}

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat object %s: %w", path, err)
	}
	return ObjectInfo{
		Size:        stat.Size,
		ContentType: stat.ContentType,
		ETag:        stat.ETag,
		ModTime:     stat.LastModified,
	}, nil
}

func (s *minioStore) List(ctx context.Context, prefix string) (<-chan Entry, error) {
	keyPrefix := strings.TrimPrefix(strings.TrimPrefix(prefix, "/"), "buckets/")

	out := make(chan Entry)
	go func() {
		defer close(out)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    keyPrefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				s.log.Warn("object listing error", zap.Error(obj.Err))
				return
			}
			entry := Entry{
				Path:    "/buckets/" + obj.Key,
				Size:    obj.Size,
				ETag:    obj.ETag,
				ModTime: obj.LastModified,
				IsDir:   strings.HasSuffix(obj.Key, "/"),
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *minioStore) ListenEvents(ctx context.Context) (<-chan Notification, error) {
	out := make(chan Notification)
	go func() {
		defer close(out)
		for info := range s.client.ListenBucketNotification(ctx, s.bucket, "", "", []string{
			"s3:ObjectCreated:*",
			"s3:ObjectRemoved:*",
		}) {
			if info.Err != nil {
				s.log.Warn("notification feed error", zap.Error(info.Err))
				return
			}
			for _, rec := range info.Records {
				n, ok := normalizeRecord(rec.EventName, rec.S3.Object.Key, rec.S3.Object.Size, rec.S3.Object.ContentType, rec.EventTime)
				if !ok {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// normalizeRecord maps one raw feed record to a platform notification.
// Object keys arrive URL-encoded.
func normalizeRecord(eventName, rawKey string, size int64, contentType, eventTime string) (Notification, bool) {
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		key = rawKey
	}

	var et model.EventType
	switch {
	case strings.HasPrefix(eventName, "s3:ObjectCreated:"):
		et = model.EventCreate
	case strings.HasPrefix(eventName, "s3:ObjectRemoved:"):
		et = model.EventDelete
	default:
		return Notification{}, false
	}

	ts, err := time.Parse(time.RFC3339, eventTime)
	if err != nil {
		ts = time.Now().UTC()
	}

	return Notification{
		EventType:   et,
		Path:        "/buckets/" + key,
		Size:        size,
		ContentType: contentType,
		Timestamp:   ts,
	}, true
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
