package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// LocalStorage implements StorageService for local disk.
type LocalStorage struct {
	UploadDir string
	PublicURL string // prefix used to build references, e.g. "https://cdn.example/uploads"
}

func (ls *LocalStorage) SaveFile(_ context.Context, filename string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(ls.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("could not create upload directory: %w", err)
	}
	fullPath := filepath.Join(ls.UploadDir, filepath.Base(filename))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", err
	}
	prefix := strings.TrimSuffix(ls.PublicURL, "/")
	if prefix == "" {
		prefix = "/uploads"
	}
	return prefix + "/" + filepath.Base(filename), nil
}

func (ls *LocalStorage) DeleteFile(_ context.Context, path string) error {
	// Path is like "<prefix>/filename.ext"
	fullPath := filepath.Join(ls.UploadDir, filepath.Base(path))
	err := os.Remove(fullPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// S3Storage implements StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
	PublicURL  string
}

func NewS3Storage(ctx context.Context, endpoint, accessKey, secretKey, bucket, region, publicURL string, useSSL bool) (*S3Storage, error) {
	// Strip scheme if present
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Use IAM role credentials if keys are not provided
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	if publicURL == "" {
		protocol := "http"
		if useSSL {
			protocol = "https"
		}
		publicURL = fmt.Sprintf("%s://%s.%s", protocol, bucket, endpoint)
	}

	return &S3Storage{
		Client:     minioClient,
		BucketName: bucket,
		PublicURL:  strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (s3 *S3Storage) SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	_, err := s3.Client.PutObject(ctx, s3.BucketName, filename, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s3.PublicURL, filename), nil
}

func (s3 *S3Storage) DeleteFile(ctx context.Context, path string) error {
	// The object key is the last path segment of the public URL.
	parts := strings.Split(path, "/")
	key := parts[len(parts)-1]
	if key == "" {
		return nil
	}
	return s3.Client.RemoveObject(ctx, s3.BucketName, key, minio.RemoveObjectOptions{})
}
