package storage

import (
	"context"
	"fmt"

	"github.com/freekieb7/sheets/internal/config"
)

type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

type Factory struct {
	config config.StorageConfig
}

func NewFactory(config config.StorageConfig) *Factory {
	return &Factory{
		config: config,
	}
}

func (f *Factory) CreateStorage(ctx context.Context) (Storage, error) {
	switch StorageType(f.config.Type) {
	case StorageTypeLocal:
		basePath := f.config.LocalPath
		if basePath == "" {
			basePath = "./data/files"
		}
		return NewLocalStorage(basePath)

	case StorageTypeS3:
		if f.config.Bucket == "" {
			return nil, fmt.Errorf("S3 storage requires a bucket")
		}
		return NewS3Storage(ctx, S3Config{
			Bucket:   f.config.Bucket,
			Region:   f.config.Region,
			Endpoint: f.config.Endpoint,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", f.config.Type)
	}
}
