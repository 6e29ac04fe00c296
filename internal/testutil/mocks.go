package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) Store(ctx context.Context, tableID uuid.UUID, filename string, content io.Reader, contentType string) (string, error) {
	args := m.Called(tableID, filename, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockStorage) GetURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	args := m.Called(key, expiration)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetMetadata(ctx context.Context, key string) (storage.FileMetadata, error) {
	args := m.Called(key)
	return args.Get(0).(storage.FileMetadata), args.Error(1)
}

// Events records published notifications.
type Events struct {
	mu     sync.Mutex
	events []notify.Event
}

var _ notify.Publisher = (*Events)(nil)

func (e *Events) Publish(ctx context.Context, event notify.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *Events) Types() []notify.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]notify.EventType, len(e.events))
	for i, event := range e.events {
		types[i] = event.Type
	}
	return types
}

func (e *Events) All() []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Event(nil), e.events...)
}
