package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/freekieb7/sheets/internal/database"

	"github.com/google/uuid"
)

func (s *Store) CreateRowLock(ctx context.Context, params database.CreateRowLockParams) (database.RowLock, error) {
	defer s.lock()()
	if _, ok := s.state.rows[params.RowID]; !ok {
		return database.RowLock{}, missing("insert row lock", "row")
	}
	if _, ok := s.state.rowLocks[params.RowID]; ok {
		return database.RowLock{}, conflict("insert row lock", "tbl_row_lock_pkey")
	}

	lock := database.RowLock{
		RowID:       params.RowID,
		PrincipalID: params.PrincipalID,
		LockedAt:    s.timestamp(),
	}
	s.state.rowLocks[lock.RowID] = lock
	return lock, nil
}

func (s *Store) GetRowLock(ctx context.Context, rowID uuid.UUID) (database.RowLock, error) {
	defer s.lock()()
	lock, ok := s.state.rowLocks[rowID]
	if !ok {
		return lock, database.ErrRowLockNotFound
	}
	return lock, nil
}

func (s *Store) ListRowLocks(ctx context.Context, rowIDs []uuid.UUID) ([]database.RowLock, error) {
	defer s.lock()()
	var locks []database.RowLock
	for _, id := range rowIDs {
		if lock, ok := s.state.rowLocks[id]; ok {
			locks = append(locks, lock)
		}
	}
	return locks, nil
}

func (s *Store) DeleteRowLock(ctx context.Context, params database.DeleteRowLockParams) error {
	defer s.lock()()
	lock, ok := s.state.rowLocks[params.RowID]
	if !ok || (params.PrincipalID.IsSet && lock.PrincipalID != params.PrincipalID.Val) {
		return database.ErrRowLockNotFound
	}
	delete(s.state.rowLocks, params.RowID)
	return nil
}

func (s *Store) DeleteStaleRowLocks(ctx context.Context, lockedBefore time.Time) ([]database.RowLock, error) {
	defer s.lock()()
	var locks []database.RowLock
	for rowID, lock := range s.state.rowLocks {
		if lock.LockedAt.Before(lockedBefore) {
			locks = append(locks, lock)
			delete(s.state.rowLocks, rowID)
		}
	}
	slices.SortFunc(locks, func(a, b database.RowLock) int {
		return cmp.Or(a.LockedAt.Compare(b.LockedAt), compareIDs(a.RowID, b.RowID))
	})
	return locks, nil
}

func (s *Store) UpsertFilialLock(ctx context.Context, params database.UpsertFilialLockParams) (database.FilialLock, error) {
	defer s.lock()()
	if _, ok := s.state.tables[params.TableID]; !ok {
		return database.FilialLock{}, missing("upsert filial lock", "table")
	}
	if _, ok := s.state.filials[params.FilialID]; !ok {
		return database.FilialLock{}, missing("upsert filial lock", "filial")
	}

	lock := database.FilialLock{
		TableID:  params.TableID,
		FilialID: params.FilialID,
		LockedBy: params.LockedBy,
		LockedAt: s.timestamp(),
	}
	s.state.filialLocks[filialKey{params.TableID, params.FilialID}] = lock
	return lock, nil
}

func (s *Store) ListFilialLocks(ctx context.Context, tableID uuid.UUID) ([]database.FilialLock, error) {
	defer s.lock()()
	var locks []database.FilialLock
	for key, lock := range s.state.filialLocks {
		if key.tableID == tableID {
			locks = append(locks, lock)
		}
	}
	slices.SortFunc(locks, func(a, b database.FilialLock) int {
		return cmp.Compare(a.FilialID, b.FilialID)
	})
	return locks, nil
}

func (s *Store) DeleteFilialLock(ctx context.Context, tableID uuid.UUID, filialID int64) error {
	defer s.lock()()
	key := filialKey{tableID, filialID}
	if _, ok := s.state.filialLocks[key]; !ok {
		return database.ErrFilialLockNotFound
	}
	delete(s.state.filialLocks, key)
	return nil
}
