package blob

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by Open.
const (
	EnvDriver      = "FOODSHARE_BLOB_DRIVER"
	EnvFSRoot      = "FOODSHARE_BLOB_FS_ROOT"
	EnvS3Bucket    = "FOODSHARE_BLOB_S3_BUCKET"
	EnvS3Region    = "FOODSHARE_BLOB_S3_REGION"
	EnvS3Endpoint  = "FOODSHARE_BLOB_S3_ENDPOINT"
	EnvS3PathStyle = "FOODSHARE_BLOB_S3_PATH_STYLE"
)

// Open selects a Store from the environment.
//
//	FOODSHARE_BLOB_DRIVER          fs|s3|memory (default fs)
//	FOODSHARE_BLOB_FS_ROOT         directory for the fs driver (default ./blobdata)
//	FOODSHARE_BLOB_S3_BUCKET       required for the s3 driver
//	FOODSHARE_BLOB_S3_REGION       default us-east-1
//	FOODSHARE_BLOB_S3_ENDPOINT     custom endpoint, e.g. MinIO
//	FOODSHARE_BLOB_S3_PATH_STYLE   true for path style addressing
//
// S3 credentials come from the standard AWS environment and config chain.
func Open(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv(EnvDriver))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		fs, err := NewFilesystem(os.Getenv(EnvFSRoot))
		if err != nil {
			return nil, err
		}
		return fs, nil
	case DriverS3:
		cfg, err := S3ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		store, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// S3ConfigFromEnv reads the FOODSHARE_BLOB_S3_* variables.
func S3ConfigFromEnv() (S3Config, error) {
	cfg := S3Config{
		Bucket:   os.Getenv(EnvS3Bucket),
		Region:   os.Getenv(EnvS3Region),
		Endpoint: os.Getenv(EnvS3Endpoint),
	}
	if cfg.Bucket == "" {
		return S3Config{}, fmt.Errorf("%s required for s3 driver", EnvS3Bucket)
	}
	if raw := os.Getenv(EnvS3PathStyle); raw != "" {
		pathStyle, err := strconv.ParseBool(raw)
		if err != nil {
			return S3Config{}, fmt.Errorf("parse %s: %w", EnvS3PathStyle, err)
		}
		cfg.PathStyle = pathStyle
	}
	return cfg, nil
}
