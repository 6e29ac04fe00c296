package database

import (
	"context"
	"fmt"

	"github.com/freekieb7/sheets/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	tablePermissionColumns  = `id, table_id, principal_id, filial_id, permission_type`
	filialPermissionColumns = `id, table_id, filial_id, permission_type`
	userFilialColumns       = `id, table_id, principal_id, filial_id`
)

func scanTablePermission(row pgx.Row) (TablePermission, error) {
	var p TablePermission
	var code string
	if err := row.Scan(&p.ID, &p.TableID, &p.PrincipalID, &p.FilialID, &code); err != nil {
		return p, err
	}
	t, err := model.ParsePermissionType(code)
	if err != nil {
		return p, err
	}
	p.Type = t
	return p, nil
}

func scanFilialPermission(row pgx.Row) (FilialPermission, error) {
	var p FilialPermission
	var code string
	if err := row.Scan(&p.ID, &p.TableID, &p.FilialID, &code); err != nil {
		return p, err
	}
	t, err := model.ParsePermissionType(code)
	if err != nil {
		return p, err
	}
	p.Type = t
	return p, nil
}

func (db *Database) ListTablePermissions(ctx context.Context, params ListTablePermissionsParams) ([]TablePermission, error) {
	var w where
	if params.TableID.IsSet {
		w.add("table_id = $%d", params.TableID.Val)
	}
	if params.PrincipalID.IsSet {
		w.add("principal_id = $%d", params.PrincipalID.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+tablePermissionColumns+` FROM tbl_table_permission`+w.String()+` ORDER BY principal_id, filial_id NULLS FIRST`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list table permissions: %w", err)
	}
	defer rows.Close()

	var permissions []TablePermission
	for rows.Next() {
		p, err := scanTablePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan table permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate table permissions: %w", err)
	}
	return permissions, nil
}

func (db *Database) UpsertTablePermission(ctx context.Context, params UpsertTablePermissionParams) (TablePermission, error) {
	p, err := scanTablePermission(db.conn().QueryRow(ctx, `INSERT INTO tbl_table_permission (`+tablePermissionColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_id, principal_id, filial_id) DO UPDATE SET permission_type = EXCLUDED.permission_type
		RETURNING `+tablePermissionColumns,
		uuid.New(), params.TableID, params.PrincipalID, params.FilialID, params.Type.Code()))
	if err != nil {
		return p, wrapError("upsert table permission", err)
	}
	return p, nil
}

func (db *Database) DeleteTablePermission(ctx context.Context, params DeleteTablePermissionParams) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_table_permission WHERE table_id = $1 AND principal_id = $2 AND filial_id IS NOT DISTINCT FROM $3`,
		params.TableID, params.PrincipalID, params.FilialID)
	if err != nil {
		return fmt.Errorf("database: failed to delete table permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTablePermissionNotFound
	}
	return nil
}

func (db *Database) ListFilialPermissions(ctx context.Context, params ListFilialPermissionsParams) ([]FilialPermission, error) {
	var w where
	if params.TableID.IsSet {
		w.add("table_id = $%d", params.TableID.Val)
	}
	if params.FilialIDs.IsSet {
		w.add("filial_id = ANY($%d)", params.FilialIDs.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+filialPermissionColumns+` FROM tbl_table_filial_permission`+w.String()+` ORDER BY filial_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list filial permissions: %w", err)
	}
	defer rows.Close()

	var permissions []FilialPermission
	for rows.Next() {
		p, err := scanFilialPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("database: failed to scan filial permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate filial permissions: %w", err)
	}
	return permissions, nil
}

func (db *Database) UpsertFilialPermission(ctx context.Context, params UpsertFilialPermissionParams) (FilialPermission, error) {
	p, err := scanFilialPermission(db.conn().QueryRow(ctx, `INSERT INTO tbl_table_filial_permission (`+filialPermissionColumns+`)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_id, filial_id) DO UPDATE SET permission_type = EXCLUDED.permission_type
		RETURNING `+filialPermissionColumns,
		uuid.New(), params.TableID, params.FilialID, params.Type.Code()))
	if err != nil {
		return p, wrapError("upsert filial permission", err)
	}
	return p, nil
}

func (db *Database) DeleteFilialPermission(ctx context.Context, tableID uuid.UUID, filialID int64) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_table_filial_permission WHERE table_id = $1 AND filial_id = $2`, tableID, filialID)
	if err != nil {
		return fmt.Errorf("database: failed to delete filial permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFilialPermissionNotFound
	}
	return nil
}

func (db *Database) ListUserFilials(ctx context.Context, params ListUserFilialsParams) ([]UserFilial, error) {
	var w where
	if params.TableID.IsSet {
		w.add("table_id = $%d", params.TableID.Val)
	}
	if params.PrincipalID.IsSet {
		w.add("principal_id = $%d", params.PrincipalID.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT `+userFilialColumns+` FROM tbl_user_filial`+w.String()+` ORDER BY principal_id, filial_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list user filials: %w", err)
	}
	defer rows.Close()

	var result []UserFilial
	for rows.Next() {
		var uf UserFilial
		if err := rows.Scan(&uf.ID, &uf.TableID, &uf.PrincipalID, &uf.FilialID); err != nil {
			return nil, fmt.Errorf("database: failed to scan user filial: %w", err)
		}
		result = append(result, uf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate user filials: %w", err)
	}
	return result, nil
}

func (db *Database) CreateUserFilial(ctx context.Context, params CreateUserFilialParams) (UserFilial, error) {
	uf := UserFilial{
		ID:          uuid.New(),
		TableID:     params.TableID,
		PrincipalID: params.PrincipalID,
		FilialID:    params.FilialID,
	}
	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_user_filial (`+userFilialColumns+`) VALUES ($1, $2, $3, $4)`,
		uf.ID, uf.TableID, uf.PrincipalID, uf.FilialID); err != nil {
		return uf, wrapError("insert user filial", err)
	}
	return uf, nil
}

func (db *Database) DeleteUserFilial(ctx context.Context, params DeleteUserFilialParams) error {
	tag, err := db.conn().Exec(ctx, `DELETE FROM tbl_user_filial WHERE table_id = $1 AND principal_id = $2 AND filial_id = $3`,
		params.TableID, params.PrincipalID, params.FilialID)
	if err != nil {
		return fmt.Errorf("database: failed to delete user filial: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserFilialNotFound
	}
	return nil
}
