package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const columnColumns = `id, table_id, name, position, is_required, data_type, choices`

func scanColumn(row pgx.Row) (Column, error) {
	var c Column
	var dataType string
	if err := row.Scan(&c.ID, &c.TableID, &c.Name, &c.Order, &c.Required, &dataType, &c.Choices); err != nil {
		return c, err
	}
	t, err := model.ParseColumnType(dataType)
	if err != nil {
		return c, err
	}
	c.DataType = t
	return c, nil
}

func (db *Database) CreateColumn(ctx context.Context, params CreateColumnParams) (Column, error) {
	column := Column{
		ID:       uuid.New(),
		TableID:  params.TableID,
		Name:     params.Name,
		Order:    params.Order,
		Required: params.Required,
		DataType: params.DataType,
		Choices:  params.Choices,
	}
	if column.Choices == nil {
		column.Choices = []string{}
	}

	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_column (`+columnColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		column.ID, column.TableID, column.Name, column.Order, column.Required, string(column.DataType), column.Choices); err != nil {
		return column, wrapError("insert column", err)
	}
	return column, nil
}

func (db *Database) GetColumn(ctx context.Context, id uuid.UUID) (Column, error) {
	column, err := scanColumn(db.conn().QueryRow(ctx, `SELECT `+columnColumns+` FROM tbl_column WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return column, ErrColumnNotFound
		}
		return column, fmt.Errorf("database: failed to scan column: %w", err)
	}
	return column, nil
}

func (db *Database) ListColumns(ctx context.Context, tableID uuid.UUID) ([]Column, error) {
	rows, err := db.conn().Query(ctx, `SELECT `+columnColumns+` FROM tbl_column WHERE table_id = $1 ORDER BY position, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		column, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate columns: %w", err)
	}
	return columns, nil
}

func (db *Database) CountColumns(ctx context.Context, tableID uuid.UUID) (int, error) {
	var count int
	if err := db.conn().QueryRow(ctx, `SELECT COUNT(*) FROM tbl_column WHERE table_id = $1`, tableID).Scan(&count); err != nil {
		return 0, fmt.Errorf("database: failed to count columns: %w", err)
	}
	return count, nil
}

func (db *Database) UpdateColumn(ctx context.Context, id uuid.UUID, params UpdateColumnParams) (Column, error) {
	var sets []string
	var args []any
	argNum := 1

	if params.Name.IsSet {
		sets = append(sets, fmt.Sprintf("name = $%d", argNum))
		args = append(args, params.Name.Val)
		argNum++
	}
	if params.Order.IsSet {
		sets = append(sets, fmt.Sprintf("position = $%d", argNum))
		args = append(args, params.Order.Val)
		argNum++
	}
	if params.Required.IsSet {
		sets = append(sets, fmt.Sprintf("is_required = $%d", argNum))
		args = append(args, params.Required.Val)
		argNum++
	}
	if params.Choices.IsSet {
		choices := params.Choices.Val
		if choices == nil {
			choices = []string{}
		}
		sets = append(sets, fmt.Sprintf("choices = $%d", argNum))
		args = append(args, choices)
		argNum++
	}
	if len(sets) == 0 {
		return db.GetColumn(ctx, id)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE tbl_column SET %s WHERE id = $%d RETURNING `+columnColumns, strings.Join(sets, ", "), argNum)
	column, err := scanColumn(db.conn().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return column, ErrColumnNotFound
		}
		return column, wrapError("update column", err)
	}
	return column, nil
}

func (db *Database) DeleteColumn(ctx context.Context, id uuid.UUID) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_column WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("database: failed to delete column: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrColumnNotFound
	}
	return nil
}
