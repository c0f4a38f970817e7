package blob

import (
	"context"
	"fmt"
	"os"

	"hemoledger/internal/infra/blob/s3"
)

// Open selects a Store implementation using environment variables.
//
//	HEMOLEDGER_BLOB_DRIVER: fs|s3|memory (default fs)
//	HEMOLEDGER_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	HEMOLEDGER_BLOB_S3_*: S3 settings, documented in the s3 driver
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("HEMOLEDGER_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("HEMOLEDGER_BLOB_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
