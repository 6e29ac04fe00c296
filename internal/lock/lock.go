// Package lock hands out exclusive edit locks on rows. A row is either
// unlocked or locked by exactly one principal.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

// ErrLockNotFound is returned when releasing a lock the principal does not hold.
var ErrLockNotFound = database.ErrRowLockNotFound

// acquireAttempts bounds the retries when a lock disappears between the
// failed insert and the holder lookup.
const acquireAttempts = 3

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithStaleAfter lets Acquire take over locks older than d. Zero keeps locks
// until they are released.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		m.staleAfter = d
	}
}

type Manager struct {
	db         database.Store
	publisher  notify.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time

	// pending holds the events and metrics of a transactional manager
	// until Commit.
	pending *[]func(context.Context)
}

func NewManager(db database.Store, publisher notify.Publisher, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Manager {
	manager := &Manager{
		db:        db,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "lock_manager"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// With returns a manager working through db, typically an open transaction.
// It holds back its events and metrics until Commit, so a rolled back
// transaction leaves no trace outside the database.
func (m *Manager) With(db database.Store) *Manager {
	clone := *m
	clone.db = db
	clone.pending = new([]func(context.Context))
	return &clone
}

// Commit emits what the manager held back. Call it once the transaction of
// With committed; a manager not created by With emits right away.
func (m *Manager) Commit(ctx context.Context) {
	if m.pending == nil {
		return
	}
	for _, emit := range *m.pending {
		emit(ctx)
	}
	*m.pending = nil
}

// later runs emit now, or at Commit for a manager created by With.
func (m *Manager) later(ctx context.Context, emit func(context.Context)) {
	if m.pending != nil {
		*m.pending = append(*m.pending, emit)
		return
	}
	emit(ctx)
}

// done records a successful lock change.
func (m *Manager) done(ctx context.Context, op string, eventType notify.EventType, row database.Row, principalID uuid.UUID) {
	m.later(ctx, func(ctx context.Context) {
		m.metrics.LockOperation(op, "ok")
		m.publish(ctx, eventType, row, principalID)
	})
}

// Acquire locks the row for principalID. Acquiring a lock the principal
// already holds succeeds without change. A lock held by someone else yields a
// *model.LockConflictError naming the holder.
func (m *Manager) Acquire(ctx context.Context, rowID, principalID uuid.UUID) (database.RowLock, error) {
	row, err := m.db.GetRow(ctx, rowID)
	if err != nil {
		return database.RowLock{}, err
	}

	for range acquireAttempts {
		lock, err := m.db.CreateRowLock(ctx, database.CreateRowLockParams{RowID: rowID, PrincipalID: principalID})
		if err == nil {
			m.done(ctx, "acquire", notify.EventLockAcquired, row, principalID)
			m.logger.DebugContext(ctx, "Row locked", "row_id", rowID, "principal_id", principalID)
			return lock, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return database.RowLock{}, fmt.Errorf("lock: failed to acquire: %w", err)
		}

		current, err := m.db.GetRowLock(ctx, rowID)
		if errors.Is(err, database.ErrRowLockNotFound) {
			// Released in between; try again.
			continue
		}
		if err != nil {
			return database.RowLock{}, fmt.Errorf("lock: failed to get holder: %w", err)
		}

		if current.PrincipalID == principalID {
			m.metrics.LockOperation("acquire", "held")
			return current, nil
		}

		if !m.isStale(current) {
			m.metrics.LockOperation("acquire", "conflict")
			return database.RowLock{}, &model.LockConflictError{RowID: rowID, Holder: current.PrincipalID}
		}

		if err := m.db.DeleteRowLock(ctx, database.DeleteRowLockParams{
			RowID:       rowID,
			PrincipalID: util.Some(current.PrincipalID),
		}); err != nil && !errors.Is(err, database.ErrRowLockNotFound) {
			return database.RowLock{}, fmt.Errorf("lock: failed to take over stale lock: %w", err)
		}
		m.later(ctx, func(context.Context) { m.metrics.LockOperation("takeover", "ok") })
		m.logger.WarnContext(ctx, "Stale lock taken over",
			"row_id", rowID,
			"previous_holder", current.PrincipalID,
			"locked_at", current.LockedAt,
			"principal_id", principalID,
		)
	}

	m.metrics.LockOperation("acquire", "contended")
	return database.RowLock{}, fmt.Errorf("lock: row %s is contended: %w", rowID, model.ErrConflict)
}

func (m *Manager) isStale(lock database.RowLock) bool {
	return m.staleAfter > 0 && m.now().Sub(lock.LockedAt) >= m.staleAfter
}

// Release unlocks a row held by principalID. It returns ErrLockNotFound and
// changes nothing when the principal holds no lock on the row.
func (m *Manager) Release(ctx context.Context, rowID, principalID uuid.UUID) error {
	row, err := m.db.GetRow(ctx, rowID)
	if err != nil {
		return err
	}

	if err := m.db.DeleteRowLock(ctx, database.DeleteRowLockParams{
		RowID:       rowID,
		PrincipalID: util.Some(principalID),
	}); err != nil {
		if errors.Is(err, database.ErrRowLockNotFound) {
			m.metrics.LockOperation("release", "not_found")
			return ErrLockNotFound
		}
		return fmt.Errorf("lock: failed to release: %w", err)
	}

	m.done(ctx, "release", notify.EventLockReleased, row, principalID)
	m.logger.DebugContext(ctx, "Row unlocked", "row_id", rowID, "principal_id", principalID)
	return nil
}

// Clear removes the lock whoever holds it.
func (m *Manager) Clear(ctx context.Context, rowID, actor uuid.UUID) error {
	row, err := m.db.GetRow(ctx, rowID)
	if err != nil {
		return err
	}

	if err := m.db.DeleteRowLock(ctx, database.DeleteRowLockParams{RowID: rowID}); err != nil {
		if errors.Is(err, database.ErrRowLockNotFound) {
			return ErrLockNotFound
		}
		return fmt.Errorf("lock: failed to clear: %w", err)
	}

	m.done(ctx, "clear", notify.EventLockReleased, row, actor)
	m.logger.InfoContext(ctx, "Row lock cleared", "row_id", rowID, "principal_id", actor)
	return nil
}

// Sweep removes every stale lock and returns how many it removed. It does
// nothing when locks never expire.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.staleAfter <= 0 {
		return 0, nil
	}
	locks, err := m.db.DeleteStaleRowLocks(ctx, m.now().Add(-m.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("lock: failed to sweep: %w", err)
	}
	for _, lock := range locks {
		row, err := m.db.GetRow(ctx, lock.RowID)
		if err != nil {
			m.metrics.LockOperation("sweep", "ok")
			continue
		}
		m.done(ctx, "sweep", notify.EventLockReleased, row, lock.PrincipalID)
	}
	if len(locks) > 0 {
		m.logger.InfoContext(ctx, "Stale locks swept", "count", len(locks))
	}
	return len(locks), nil
}

// Holder returns the principal holding the row, None when unlocked.
func (m *Manager) Holder(ctx context.Context, rowID uuid.UUID) (util.Optional[database.RowLock], error) {
	lock, err := m.db.GetRowLock(ctx, rowID)
	if err != nil {
		if errors.Is(err, database.ErrRowLockNotFound) {
			return util.None[database.RowLock](), nil
		}
		return util.None[database.RowLock](), fmt.Errorf("lock: failed to get holder: %w", err)
	}
	return util.Some(lock), nil
}

func (m *Manager) publish(ctx context.Context, eventType notify.EventType, row database.Row, principalID uuid.UUID) {
	rowID := row.ID
	if err := m.publisher.Publish(ctx, notify.Event{
		Type:        eventType,
		TableID:     row.TableID,
		RowID:       &rowID,
		PrincipalID: principalID,
		At:          m.now().UTC(),
	}); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish lock event", "type", eventType, "row_id", row.ID, "error", err)
	}
}
