package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ManuscriptStore persists finished book manuscripts.
type ManuscriptStore interface {
	PutManuscript(ctx context.Context, bookID string, text string) (key string, err error)
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteManuscript(ctx context.Context, key string) error
}

// MinioStore implements ManuscriptStore on MinIO/S3-compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// PutManuscript uploads the manuscript text and returns its object key.
func (m *MinioStore) PutManuscript(ctx context.Context, bookID string, text string) (string, error) {
	key := manuscriptKey(bookID)
	reader := strings.NewReader(text)
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("put manuscript: %w", err)
	}
	return key, nil
}

// PresignDownload generates a pre-signed GET URL for a manuscript.
func (m *MinioStore) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign manuscript: %w", err)
	}
	return url.String(), nil
}

// DeleteManuscript removes a manuscript object.
func (m *MinioStore) DeleteManuscript(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete manuscript: %w", err)
	}
	return nil
}

func manuscriptKey(bookID string) string {
	return fmt.Sprintf("manuscripts/%s.txt", bookID)
}
