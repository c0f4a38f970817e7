package blob

import (
	"context"

	"hemoledger/internal/infra/blob/fs"
	"hemoledger/internal/infra/blob/memory"
	"hemoledger/internal/infra/blob/s3"
)

// NewFilesystem returns a filesystem-backed Store rooted at the provided
// path. Call sites receive the interface so they stay driver-agnostic.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.New() }

// S3Config configures the S3 driver.
type S3Config = s3.Config

// NewS3 returns an S3-backed Store from explicit configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, cfg)
}
