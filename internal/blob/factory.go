package blob

import (
	"context"
	"fmt"
	"net/http"

	"mousedb/internal/infra/blob/fs"
	"mousedb/internal/infra/blob/memory"
	"mousedb/internal/infra/blob/s3"
)

// S3Config holds the bucket settings for DriverS3.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client
}

// Config selects and parameterises a blob driver.
type Config struct {
	// Driver is fs, s3 or memory. Empty means fs.
	Driver Driver
	// FSRoot is the directory used by the fs driver.
	FSRoot string
	S3     S3Config
}

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			HTTPClient:      cfg.S3.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
