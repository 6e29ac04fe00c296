package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRowLock inserts a lock for an unlocked row. A row that is already
// locked yields model.ErrConflict. The insert never raises a unique violation
// so a surrounding transaction stays usable after a conflict.
func (db *Database) CreateRowLock(ctx context.Context, params CreateRowLockParams) (RowLock, error) {
	lock := RowLock{
		RowID:       params.RowID,
		PrincipalID: params.PrincipalID,
		LockedAt:    time.Now().UTC(),
	}
	tag, err := db.conn().Exec(ctx, `INSERT INTO tbl_row_lock (row_id, principal_id, locked_at) VALUES ($1, $2, $3)
		ON CONFLICT (row_id) DO NOTHING`,
		lock.RowID, lock.PrincipalID, lock.LockedAt)
	if err != nil {
		return lock, wrapError("insert row lock", err)
	}
	if tag.RowsAffected() == 0 {
		return lock, fmt.Errorf("database: failed to insert row lock: %w", model.ErrConflict)
	}
	return lock, nil
}

func (db *Database) GetRowLock(ctx context.Context, rowID uuid.UUID) (RowLock, error) {
	var lock RowLock
	err := db.conn().QueryRow(ctx, `SELECT row_id, principal_id, locked_at FROM tbl_row_lock WHERE row_id = $1`, rowID).Scan(
		&lock.RowID, &lock.PrincipalID, &lock.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lock, ErrRowLockNotFound
		}
		return lock, fmt.Errorf("database: failed to scan row lock: %w", err)
	}
	return lock, nil
}

func (db *Database) ListRowLocks(ctx context.Context, rowIDs []uuid.UUID) ([]RowLock, error) {
	rows, err := db.conn().Query(ctx, `SELECT row_id, principal_id, locked_at FROM tbl_row_lock WHERE row_id = ANY($1)`, rowIDs)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list row locks: %w", err)
	}
	defer rows.Close()

	var locks []RowLock
	for rows.Next() {
		var lock RowLock
		if err := rows.Scan(&lock.RowID, &lock.PrincipalID, &lock.LockedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan row lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate row locks: %w", err)
	}
	return locks, nil
}

func (db *Database) DeleteRowLock(ctx context.Context, params DeleteRowLockParams) error {
	var w where
	w.add("row_id = $%d", params.RowID)
	if params.PrincipalID.IsSet {
		w.add("principal_id = $%d", params.PrincipalID.Val)
	}

	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_row_lock`+w.String(), w.args...)
	if err != nil {
		return fmt.Errorf("database: failed to delete row lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRowLockNotFound
	}
	return nil
}

// DeleteStaleRowLocks removes every lock taken before lockedBefore and
// returns the removed locks.
func (db *Database) DeleteStaleRowLocks(ctx context.Context, lockedBefore time.Time) ([]RowLock, error) {
	rows, err := db.conn().Query(ctx, `DELETE FROM tbl_row_lock WHERE locked_at < $1 RETURNING row_id, principal_id, locked_at`, lockedBefore)
	if err != nil {
		return nil, fmt.Errorf("database: failed to delete stale row locks: %w", err)
	}
	defer rows.Close()

	var locks []RowLock
	for rows.Next() {
		var lock RowLock
		if err := rows.Scan(&lock.RowID, &lock.PrincipalID, &lock.LockedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan row lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate row locks: %w", err)
	}
	return locks, nil
}

func (db *Database) UpsertFilialLock(ctx context.Context, params UpsertFilialLockParams) (FilialLock, error) {
	lock := FilialLock{
		TableID:  params.TableID,
		FilialID: params.FilialID,
		LockedBy: params.LockedBy,
		LockedAt: time.Now().UTC(),
	}
	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_table_filial_lock (table_id, filial_id, locked_by, locked_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_id, filial_id) DO UPDATE SET locked_by = EXCLUDED.locked_by, locked_at = EXCLUDED.locked_at`,
		lock.TableID, lock.FilialID, lock.LockedBy, lock.LockedAt); err != nil {
		return lock, wrapError("upsert filial lock", err)
	}
	return lock, nil
}

func (db *Database) ListFilialLocks(ctx context.Context, tableID uuid.UUID) ([]FilialLock, error) {
	rows, err := db.conn().Query(ctx, `SELECT table_id, filial_id, locked_by, locked_at FROM tbl_table_filial_lock WHERE table_id = $1 ORDER BY filial_id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list filial locks: %w", err)
	}
	defer rows.Close()

	var locks []FilialLock
	for rows.Next() {
		var lock FilialLock
		if err := rows.Scan(&lock.TableID, &lock.FilialID, &lock.LockedBy, &lock.LockedAt); err != nil {
			return nil, fmt.Errorf("database: failed to scan filial lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate filial locks: %w", err)
	}
	return locks, nil
}

func (db *Database) DeleteFilialLock(ctx context.Context, tableID uuid.UUID, filialID int64) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_table_filial_lock WHERE table_id = $1 AND filial_id = $2`, tableID, filialID)
	if err != nil {
		return fmt.Errorf("database: failed to delete filial lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFilialLockNotFound
	}
	return nil
}
