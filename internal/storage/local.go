package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure base path exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return &LocalStorage{
		basePath: absBasePath,
	}, nil
}

// resolve maps a key to a path inside the base directory.
func (ls *LocalStorage) resolve(key string) (string, error) {
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(key))
	if fullPath != ls.basePath && !strings.HasPrefix(fullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path: path traversal detected")
	}
	return fullPath, nil
}

func (ls *LocalStorage) Store(ctx context.Context, tableID uuid.UUID, filename string, content io.Reader, contentType string) (string, error) {
	key := newKey(tableID, filename, time.Now())

	fullPath, err := ls.resolve(key)
	if err != nil {
		return "", err
	}

	// Create directory structure
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err = io.Copy(file, content); err != nil {
		os.Remove(fullPath) // Cleanup on error
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return key, nil
}

func (ls *LocalStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (ls *LocalStorage) GetURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	// Served by the files route of the HTTP adapter
	return fmt.Sprintf("/files/%s", key), nil
}

func (ls *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err = os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (ls *LocalStorage) GetMetadata(ctx context.Context, key string) (FileMetadata, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return FileMetadata{}, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileMetadata{}, ErrFileNotFound
		}
		return FileMetadata{}, fmt.Errorf("failed to get file stats: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(fullPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return FileMetadata{
		Size:         stat.Size(),
		ContentType:  contentType,
		LastModified: stat.ModTime(),
		ETag:         fmt.Sprintf("%d-%d", stat.Size(), stat.ModTime().Unix()),
	}, nil
}

func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	replacer := strings.NewReplacer(
		"/", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	filename = replacer.Replace(filename)
	if filename == "" || filename == "." {
		return "file"
	}
	return filename
}
