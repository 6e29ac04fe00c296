package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const rowColumns = `id, table_id, position, filial_id, created_by, updated_by, created_at, updated_at`

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.TableID, &r.Order, &r.FilialID, &r.CreatedBy, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (db *Database) CreateRow(ctx context.Context, params CreateRowParams) (Row, error) {
	now := time.Now().UTC()
	row := Row{
		ID:        uuid.New(),
		TableID:   params.TableID,
		Order:     params.Order,
		FilialID:  params.FilialID,
		CreatedBy: params.CreatedBy,
		UpdatedBy: params.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_row (`+rowColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.ID, row.TableID, row.Order, row.FilialID, row.CreatedBy, row.UpdatedBy, row.CreatedAt, row.UpdatedAt); err != nil {
		return row, wrapError("insert row", err)
	}
	return row, nil
}

func (db *Database) GetRow(ctx context.Context, id uuid.UUID) (Row, error) {
	row, err := scanRow(db.conn().QueryRow(ctx, `SELECT `+rowColumns+` FROM tbl_row WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, ErrRowNotFound
		}
		return row, fmt.Errorf("database: failed to scan row: %w", err)
	}
	return row, nil
}

func (db *Database) ListRows(ctx context.Context, params ListRowsParams) ([]Row, error) {
	var w where
	w.add("table_id = $%d", params.TableID)
	if params.FilialIDs.IsSet {
		w.add("filial_id = ANY($%d)", params.FilialIDs.Val)
	}
	if params.IDs.IsSet {
		w.add("id = ANY($%d)", params.IDs.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+rowColumns+` FROM tbl_row`+w.String()+` ORDER BY position, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list rows: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate rows: %w", err)
	}
	return result, nil
}

func (db *Database) CountRows(ctx context.Context, tableID uuid.UUID) (int, error) {
	var count int
	if err := db.conn().QueryRow(ctx, `SELECT COUNT(*) FROM tbl_row WHERE table_id = $1`, tableID).Scan(&count); err != nil {
		return 0, fmt.Errorf("database: failed to count rows: %w", err)
	}
	return count, nil
}

func (db *Database) UpdateRow(ctx context.Context, id uuid.UUID, params UpdateRowParams) (Row, error) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	argNum := 2

	if params.UpdatedBy.IsSet {
		sets = append(sets, fmt.Sprintf("updated_by = $%d", argNum))
		args = append(args, params.UpdatedBy.Val)
		argNum++
	}
	if params.FilialID.IsSet {
		sets = append(sets, fmt.Sprintf("filial_id = $%d", argNum))
		args = append(args, params.FilialID.Val)
		argNum++
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE tbl_row SET %s WHERE id = $%d RETURNING `+rowColumns, strings.Join(sets, ", "), argNum)
	row, err := scanRow(db.conn().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, ErrRowNotFound
		}
		return row, wrapError("update row", err)
	}
	return row, nil
}

func (db *Database) DeleteRow(ctx context.Context, id uuid.UUID) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_row WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("database: failed to delete row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRowNotFound
	}
	return nil
}
