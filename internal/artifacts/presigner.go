// Package artifacts issues write locations for binary pipeline outputs.
// The service never proxies artifact bytes; the worker uploads directly to
// object storage with a presigned URL.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/anraghav/visionhub/internal/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const pathRoot = "ml_outputs"

// StoragePath builds the deterministic object key for an artifact. The
// filename is flattened with path.Base so a caller-supplied name cannot
// escape the analysis prefix; a missing filename falls back to
// "{artifact_type}.bin".
func StoragePath(analysisID uuid.UUID, artifactType, filename string) string {
	if filename != "" {
		filename = path.Base(filename)
	}
	if filename == "" || filename == "." || filename == "/" || filename == ".." {
		filename = artifactType + ".bin"
	}
	return fmt.Sprintf("%s/%s/%s", pathRoot, analysisID, filename)
}

// Presigner issues upload authorizations for artifact object keys.
type Presigner interface {
	PresignUpload(ctx context.Context, objectPath string) (string, error)
	Expiry() time.Duration
}

// MinioPresigner implements Presigner against an S3-compatible endpoint.
type MinioPresigner struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioPresigner connects to object storage and ensures the bucket exists.
func NewMinioPresigner(ctx context.Context, cfg config.StorageConfig) (*MinioPresigner, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinioPresigner{client: cli, bucket: cfg.Bucket, expiry: cfg.PresignExpiry}, nil
}

// PresignUpload returns a presigned PUT URL for objectPath.
func (p *MinioPresigner) PresignUpload(ctx context.Context, objectPath string) (string, error) {
	u, err := p.client.PresignedPutObject(ctx, p.bucket, objectPath, p.expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload for %s: %w", objectPath, err)
	}
	return u.String(), nil
}

func (p *MinioPresigner) Expiry() time.Duration {
	return p.expiry
}
