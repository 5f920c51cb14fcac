package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStorage keeps objects under a directory, one sub-directory per
// bucket. The directory is expected to be served at baseURL.
type LocalStorage struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

var _ ObjectStorage = (*LocalStorage)(nil)

func NewLocalStorage(root, baseURL string, logger *zap.Logger) (*LocalStorage, error) {
	if root == "" {
		return nil, errors.New("storage: local directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", root, err)
	}
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Root is the directory objects are written to.
func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) Upload(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	if err := validKey(bucket, objectPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.root, bucket, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("storage: creating directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(target, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrObjectExists
	}
	if err != nil {
		return fmt.Errorf("storage: opening %s/%s: %w", bucket, objectPath, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("storage: writing %s/%s: %w", bucket, objectPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: closing %s/%s: %w", bucket, objectPath, err)
	}

	s.logger.Debug("object stored",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *LocalStorage) PublicURL(bucket, objectPath string) string {
	return s.baseURL + "/" + escapePath(bucket) + "/" + escapePath(objectPath)
}
