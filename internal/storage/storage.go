package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
)

var ErrFileNotFound = fmt.Errorf("file %w", model.ErrNotFound)

// Storage holds the blobs referenced by file cells.
type Storage interface {
	// Store saves a file uploaded to a table and returns the storage key
	Store(ctx context.Context, tableID uuid.UUID, filename string, content io.Reader, contentType string) (string, error)

	// Retrieve gets a file by storage key
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a file by storage key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// GetURL returns a signed URL for accessing the file (for S3) or local path
	GetURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	Exists(ctx context.Context, key string) (bool, error)

	GetMetadata(ctx context.Context, key string) (FileMetadata, error)
}

type FileMetadata struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
}

// newKey lays files out as tables/<table>/<year>/<month>/<uuid>_<name>.
func newKey(tableID uuid.UUID, filename string, now time.Time) string {
	return fmt.Sprintf("tables/%s/%d/%02d/%s_%s",
		tableID.String(),
		now.Year(),
		now.Month(),
		uuid.New().String(),
		sanitizeFilename(filename),
	)
}
