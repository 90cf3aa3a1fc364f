package services

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStorage stores uploaded artifacts in a single bucket and hands back
// public URLs the vision service can fetch.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

func NewGCSStorage(ctx context.Context, bucket, credentialsFile string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// UploadPublic writes the object and returns its public URL. The bucket is
// expected to allow public reads on the uploads prefix.
func (s *GCSStorage) UploadPublic(ctx context.Context, objectName string, content io.Reader, contentType string) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, content); err != nil {
		writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectName), nil
}

func (s *GCSStorage) DeleteObject(ctx context.Context, objectName string) error {
	return s.client.Bucket(s.bucket).Object(objectName).Delete(ctx)
}
