package object

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

// Store keeps uploaded media in one bucket. Public URLs point at the API's
// download route, which redirects to a short-lived presigned URL.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
}

func NewStore(client *minio.Client, bucket, publicBaseURL string, presignTTL time.Duration) *Store {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimSuffix(strings.TrimSpace(publicBaseURL), "/"),
		presignTTL:    presignTTL,
	}
}

func (s *Store) Put(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func (s *Store) PresignDownload(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.presignTTL, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PublicURL is the stable address stored with a file record.
func (s *Store) PublicURL(objectKey string) string {
	return s.publicBaseURL + "/media/" + strings.TrimPrefix(objectKey, "/")
}
