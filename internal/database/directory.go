package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (db *Database) GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error) {
	var p Principal
	err := db.conn().QueryRow(ctx, `SELECT id, username, first_name, second_name, last_name, filial_id FROM tbl_principal WHERE id = $1`, id).Scan(
		&p.ID, &p.Username, &p.FirstName, &p.SecondName, &p.LastName, &p.FilialID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrPrincipalNotFound
		}
		return p, fmt.Errorf("database: failed to scan principal: %w", err)
	}
	return p, nil
}

func (db *Database) ListPrincipals(ctx context.Context, ids []uuid.UUID) ([]Principal, error) {
	rows, err := db.conn().Query(ctx, `SELECT id, username, first_name, second_name, last_name, filial_id FROM tbl_principal WHERE id = ANY($1) ORDER BY username`, ids)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Username, &p.FirstName, &p.SecondName, &p.LastName, &p.FilialID); err != nil {
			return nil, fmt.Errorf("database: failed to scan principal: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate principals: %w", err)
	}
	return principals, nil
}

func (db *Database) GetFilial(ctx context.Context, id int64) (Filial, error) {
	var f Filial
	err := db.conn().QueryRow(ctx, `SELECT id, name, long_name, short_name FROM tbl_filial WHERE id = $1`, id).Scan(
		&f.ID, &f.Name, &f.LongName, &f.ShortName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return f, ErrFilialNotFound
		}
		return f, fmt.Errorf("database: failed to scan filial: %w", err)
	}
	return f, nil
}

func (db *Database) ListFilials(ctx context.Context, params ListFilialsParams) ([]Filial, error) {
	var w where
	if params.IDs.IsSet {
		w.add("id = ANY($%d)", params.IDs.Val)
	}

	rows, err := db.conn().Query(ctx, `SELECT id, name, long_name, short_name FROM tbl_filial`+w.String()+` ORDER BY name, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to list filials: %w", err)
	}
	defer rows.Close()

	var filials []Filial
	for rows.Next() {
		var f Filial
		if err := rows.Scan(&f.ID, &f.Name, &f.LongName, &f.ShortName); err != nil {
			return nil, fmt.Errorf("database: failed to scan filial: %w", err)
		}
		filials = append(filials, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to iterate filials: %w", err)
	}
	return filials, nil
}

func (db *Database) IsAdmin(ctx context.Context, principalID uuid.UUID) (bool, error) {
	var exists bool
	if err := db.conn().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tbl_admin WHERE principal_id = $1)`, principalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("database: failed to check admin: %w", err)
	}
	return exists, nil
}

func (db *Database) CreateAdmin(ctx context.Context, principalID uuid.UUID) error {
	if _, err := db.conn().Exec(ctx, `INSERT INTO tbl_admin (principal_id, created_at) VALUES ($1, NOW()) ON CONFLICT (principal_id) DO NOTHING`, principalID); err != nil {
		return wrapError("insert admin", err)
	}
	return nil
}

func (db *Database) DeleteAdmin(ctx context.Context, principalID uuid.UUID) error {
	if _, err := db.conn().Exec(ctx, `DELETE FROM tbl_admin WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("database: failed to delete admin: %w", err)
	}
	return nil
}
