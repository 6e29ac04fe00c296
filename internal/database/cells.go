package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cellColumns = `id, row_id, column_id, text_value, integer_value, float_value, boolean_value, date_value, choice_value, email_value, url_value, file_value, updated_at`

func scanCell(row pgx.Row) (Cell, error) {
	var c Cell
	err := row.Scan(&c.ID, &c.RowID, &c.ColumnID, &c.TextValue, &c.IntegerValue, &c.FloatValue, &c.BooleanValue,
		&c.DateValue, &c.ChoiceValue, &c.EmailValue, &c.URLValue, &c.FileValue, &c.UpdatedAt)
	return c, err
}

func (db *Database) GetCell(ctx context.Context, rowID, columnID uuid.UUID) (Cell, error) {
	cell, err := scanCell(db.conn().QueryRow(ctx, `SELECT `+cellColumns+` FROM tbl_cell WHERE row_id = $1 AND column_id = $2`, rowID, columnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cell, ErrCellNotFound
		}
		return cell, fmt.Errorf("database: failed to scan cell: %w", err)
	}
	return cell, nil
}

func (db *Database) ListCells(ctx context.Context, params ListCellsParams) ([]Cell, error) {
	var w where
	if params.TableID.IsSet {
		w.add("row_id IN (SELECT id FROM tbl_row WHERE table_id = $%d)", params.TableID.Val)
	}
	if params.RowIDs.IsSet {
		w.add("row_id = ANY($%d)", params.RowIDs.Val)
	}
	if params.ColumnID.IsSet {
		w.add("column_id = $%d", params.ColumnID.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+cellColumns+` FROM tbl_cell`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list cells: %w", err)
	}
	defer rows.Close()

	var cells []Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan cell: %w", err)
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate cells: %w", err)
	}
	return cells, nil
}

// UpsertCell writes every slot of cell, keyed by (row, column).
func (db *Database) UpsertCell(ctx context.Context, cell Cell) (Cell, error) {
	if cell.ID == uuid.Nil {
		cell.ID = uuid.New()
	}
	cell.UpdatedAt = time.Now().UTC()

	stored, err := scanCell(db.conn().QueryRow(ctx, `INSERT INTO tbl_cell (`+cellColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (row_id, column_id) DO UPDATE SET
			text_value = EXCLUDED.text_value,
			integer_value = EXCLUDED.integer_value,
			float_value = EXCLUDED.float_value,
			boolean_value = EXCLUDED.boolean_value,
			date_value = EXCLUDED.date_value,
			choice_value = EXCLUDED.choice_value,
			email_value = EXCLUDED.email_value,
			url_value = EXCLUDED.url_value,
			file_value = EXCLUDED.file_value,
			updated_at = EXCLUDED.updated_at
		RETURNING `+cellColumns,
		cell.ID, cell.RowID, cell.ColumnID, cell.TextValue, cell.IntegerValue, cell.FloatValue, cell.BooleanValue,
		cell.DateValue, cell.ChoiceValue, cell.EmailValue, cell.URLValue, cell.FileValue, cell.UpdatedAt))
	if err != nil {
		return cell, wrapError("upsert cell", err)
	}
	return stored, nil
}

func (db *Database) DeleteCell(ctx context.Context, rowID, columnID uuid.UUID) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_cell WHERE row_id = $1 AND column_id = $2`, rowID, columnID)
	if err != nil {
		return fmt.Errorf("database: failed to delete cell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCellNotFound
	}
	return nil
}
