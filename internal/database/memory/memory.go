// Package memory is an in-process implementation of database.Store. It keeps
// the same constraint and cascade semantics as the PostgreSQL schema and is
// used by tests and by the "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
)

type cellKey struct {
	rowID    uuid.UUID
	columnID uuid.UUID
}

type filialKey struct {
	tableID  uuid.UUID
	filialID int64
}

type state struct {
	filials           map[int64]database.Filial
	principals        map[uuid.UUID]database.Principal
	admins            map[uuid.UUID]time.Time
	tables            map[uuid.UUID]database.Table
	columns           map[uuid.UUID]database.Column
	rows              map[uuid.UUID]database.Row
	cells             map[cellKey]database.Cell
	tablePermissions  map[uuid.UUID]database.TablePermission
	filialPermissions map[filialKey]database.FilialPermission
	userFilials       map[uuid.UUID]database.UserFilial
	rowLocks          map[uuid.UUID]database.RowLock
	filialLocks       map[filialKey]database.FilialLock
	auditEvents       []database.AuditLogEvent
}

func newState() *state {
	return &state{
		filials:           make(map[int64]database.Filial),
		principals:        make(map[uuid.UUID]database.Principal),
		admins:            make(map[uuid.UUID]time.Time),
		tables:            make(map[uuid.UUID]database.Table),
		columns:           make(map[uuid.UUID]database.Column),
		rows:              make(map[uuid.UUID]database.Row),
		cells:             make(map[cellKey]database.Cell),
		tablePermissions:  make(map[uuid.UUID]database.TablePermission),
		filialPermissions: make(map[filialKey]database.FilialPermission),
		userFilials:       make(map[uuid.UUID]database.UserFilial),
		rowLocks:          make(map[uuid.UUID]database.RowLock),
		filialLocks:       make(map[filialKey]database.FilialLock),
	}
}

func (s *state) clone() *state {
	return &state{
		filials:           maps.Clone(s.filials),
		principals:        maps.Clone(s.principals),
		admins:            maps.Clone(s.admins),
		tables:            maps.Clone(s.tables),
		columns:           maps.Clone(s.columns),
		rows:              maps.Clone(s.rows),
		cells:             maps.Clone(s.cells),
		tablePermissions:  maps.Clone(s.tablePermissions),
		filialPermissions: maps.Clone(s.filialPermissions),
		userFilials:       maps.Clone(s.userFilials),
		rowLocks:          maps.Clone(s.rowLocks),
		filialLocks:       maps.Clone(s.filialLocks),
		auditEvents:       slices.Clone(s.auditEvents),
	}
}

type Option func(*Store)

// WithClock replaces time.Now for timestamps written by the store.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store serializes every operation. A transaction holds the store for its
// whole duration and works on a copy that replaces the state on commit.
type Store struct {
	mu    *sync.Mutex
	state *state
	now   func() time.Time
	inTx  bool
}

var _ database.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		mu:    &sync.Mutex{},
		state: newState(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds; it lets the health check treat both drivers alike.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) InTx(ctx context.Context, fn func(tx database.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Store{
		mu:    s.mu,
		state: s.state.clone(),
		now:   s.now,
		inTx:  true,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.state.checkDeferred(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// checkDeferred verifies the constraints PostgreSQL checks at commit.
func (s *state) checkDeferred() error {
	seen := make(map[struct {
		tableID uuid.UUID
		order   int
	}]uuid.UUID, len(s.columns))
	for id, column := range s.columns {
		key := struct {
			tableID uuid.UUID
			order   int
		}{column.TableID, column.Order}
		if other, ok := seen[key]; ok {
			return fmt.Errorf("database: failed to commit: %w: columns %s and %s share position %d", model.ErrConflict, id, other, column.Order)
		}
		seen[key] = id
	}
	return nil
}

func conflict(action, detail string) error {
	return fmt.Errorf("database: failed to %s: %w: %s", action, model.ErrConflict, detail)
}

func missing(action, detail string) error {
	return fmt.Errorf("database: failed to %s: %w: %s", action, model.ErrNotFound, detail)
}

func inSet[T comparable](values []T, v T) bool {
	return slices.Contains(values, v)
}
