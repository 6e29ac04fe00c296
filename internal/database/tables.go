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

const tableColumns = `id, title, owner_id, share_token, edit_only_creator, created_at, updated_at`

func scanTable(row pgx.Row) (Table, error) {
	var t Table
	err := row.Scan(&t.ID, &t.Title, &t.OwnerID, &t.ShareToken, &t.EditOnlyCreator, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (db *Database) CreateTable(ctx context.Context, params CreateTableParams) (Table, error) {
	now := time.Now().UTC()
	table := Table{
		ID:              uuid.New(),
		Title:           params.Title,
		OwnerID:         params.OwnerID,
		ShareToken:      params.ShareToken,
		EditOnlyCreator: params.EditOnlyCreator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_table (`+tableColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		table.ID, table.Title, table.OwnerID, table.ShareToken, table.EditOnlyCreator, table.CreatedAt, table.UpdatedAt); err != nil {
		return table, wrapError("insert table", err)
	}
	return table, nil
}

func (db *Database) GetTable(ctx context.Context, params GetTableParams) (Table, error) {
	var w where
	if params.ID.IsSet {
		w.add("id = $%d", params.ID.Val)
	}
	if params.ShareToken.IsSet {
		w.add("share_token = $%d", params.ShareToken.Val)
	}
	if len(w.clauses) == 0 {
		return Table{}, ErrTableNotFound
	}

	table, err := scanTable(db.conn().QueryRow(ctx, `SELECT `+tableColumns+` FROM tbl_table`+w.String(), w.args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return table, ErrTableNotFound
		}
		return table, fmt.Errorf("database: failed to scan table: %w", err)
	}
	return table, nil
}

func (db *Database) ListTables(ctx context.Context, params ListTablesParams) ([]Table, error) {
	var w where
	if params.OwnerID.IsSet {
		w.add("owner_id = $%d", params.OwnerID.Val)
	}
	if params.IDs.IsSet {
		w.add("id = ANY($%d)", params.IDs.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+tableColumns+` FROM tbl_table`+w.String()+` ORDER BY created_at DESC, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		table, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan table: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate tables: %w", err)
	}
	return tables, nil
}

func (db *Database) UpdateTable(ctx context.Context, id uuid.UUID, params UpdateTableParams) (Table, error) {
	var sets []string
	var args []any
	argNum := 1

	if params.Title.IsSet {
		sets = append(sets, fmt.Sprintf("title = $%d", argNum))
		args = append(args, params.Title.Val)
		argNum++
	}
	if params.EditOnlyCreator.IsSet {
		sets = append(sets, fmt.Sprintf("edit_only_creator = $%d", argNum))
		args = append(args, params.EditOnlyCreator.Val)
		argNum++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", argNum))
	args = append(args, time.Now().UTC())
	argNum++
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE tbl_table SET %s WHERE id = $%d RETURNING `+tableColumns, strings.Join(sets, ", "), argNum)
	table, err := scanTable(db.conn().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return table, ErrTableNotFound
		}
		return table, wrapError("update table", err)
	}
	return table, nil
}

func (db *Database) DeleteTable(ctx context.Context, id uuid.UUID) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_table WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("database: failed to delete table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTableNotFound
	}
	return nil
}
