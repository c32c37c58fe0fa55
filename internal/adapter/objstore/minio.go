package objstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pdfrag/internal/log"
)

// MinioSync mirrors PDF objects from a bucket prefix into a local input directory.
type MinioSync struct {
	client *minio.Client
	bucket string
	prefix string
}

// SyncResult counts what one sync pass did.
type SyncResult struct {
	Downloaded int
	Skipped    int
}

func NewMinioSync(endpoint, accessKeyID, secretAccessKey string, useSSL bool, bucket, prefix string) (*MinioSync, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioSync{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Sync downloads every *.pdf object under the prefix into dir, keeping the
// key layout below the prefix. Objects whose local copy already has the same
// size are skipped.
func (s *MinioSync) Sync(ctx context.Context, dir string) (SyncResult, error) {
	var res SyncResult

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return res, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return res, fmt.Errorf("bucket %s does not exist", s.bucket)
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return res, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if !IsPDFKey(obj.Key) {
			continue
		}

		dst, err := LocalPath(dir, s.prefix, obj.Key)
		if err != nil {
			log.Info("skipping object", "key", obj.Key, "error", err.Error())
			continue
		}
		if fi, err := os.Stat(dst); err == nil && fi.Size() == obj.Size {
			res.Skipped++
			continue
		}

		if err := s.client.FGetObject(ctx, s.bucket, obj.Key, dst, minio.GetObjectOptions{}); err != nil {
			return res, fmt.Errorf("failed to download %s: %w", obj.Key, err)
		}
		log.Debug("downloaded object", "key", obj.Key, "path", dst, "size", obj.Size)
		res.Downloaded++
	}

	return res, nil
}

// IsPDFKey reports whether an object key names a PDF.
func IsPDFKey(key string) bool {
	return strings.EqualFold(path.Ext(key), ".pdf")
}

// LocalPath maps an object key to a path under dir, dropping the prefix.
// Keys that would escape dir are rejected.
func LocalPath(dir, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(key, prefix)
	rel = strings.TrimLeft(rel, "/")
	rel = path.Clean("/" + rel)[1:]
	if rel == "" {
		return "", fmt.Errorf("empty object name for key %q", key)
	}
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(dst, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes %s", key, dir)
	}
	return dst, nil
}
