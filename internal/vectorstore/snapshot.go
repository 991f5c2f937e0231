package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, in *s3.GetObjectInput, opts ...func(*manager.Downloader)) (int64, error)
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// s3API is satisfied by *s3.Client.
type s3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// Snapshot moves exported vector stores to and from S3.
type Snapshot struct {
	down   downloader
	up     uploader
	bucket string
	key    string
	tmpDir string
}

// NewSnapshot creates a Snapshot for s3://bucket/key. The key must end in
// .gz because snapshots are gzip compressed.
func NewSnapshot(api s3API, bucket, key string) (*Snapshot, error) {
	if api == nil {
		return nil, errors.New("vectorstore: s3 client must not be nil")
	}
	return newSnapshot(manager.NewDownloader(api), manager.NewUploader(api), bucket, key)
}

func newSnapshot(down downloader, up uploader, bucket, key string) (*Snapshot, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bucket == "" {
		return nil, errors.New("vectorstore: snapshot bucket must not be empty")
	}
	if !strings.HasSuffix(key, ".gz") {
		return nil, fmt.Errorf("vectorstore: snapshot key %q must end in .gz", key)
	}
	return &Snapshot{down: down, up: up, bucket: bucket, key: key, tmpDir: os.TempDir()}, nil
}

func (s *Snapshot) tempPath() (string, func(), error) {
	dir, err := os.MkdirTemp(s.tmpDir, "vectors-")
	if err != nil {
		return "", nil, fmt.Errorf("vectorstore: temp dir: %w", err)
	}
	return filepath.Join(dir, filepath.Base(s.key)), func() { _ = os.RemoveAll(dir) }, nil
}

// Load downloads the snapshot and imports it into store.
func (s *Snapshot) Load(ctx context.Context, store *Store) error {
	path, cleanup, err := s.tempPath()
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vectorstore: create snapshot file: %w", err)
	}
	_, err = s.down.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("vectorstore: download s3://%s/%s: %w", s.bucket, s.key, err)
	}
	if closeErr != nil {
		return fmt.Errorf("vectorstore: close snapshot file: %w", closeErr)
	}
	return store.ImportFile(path)
}

// Save exports store and uploads it, replacing the previous snapshot.
func (s *Snapshot) Save(ctx context.Context, store *Store) error {
	path, cleanup, err := s.tempPath()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.ExportFile(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vectorstore: open snapshot file: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
