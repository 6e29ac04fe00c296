package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

var ErrNoHomeFilial = fmt.Errorf("principal has no home filial: %w", model.ErrConflict)

// manage runs fn in a transaction after checking that actor may manage the
// table.
func (r *Resolver) manage(ctx context.Context, actor, tableID uuid.UUID, fn func(tx *Resolver, table database.Table) error) error {
	return r.db.InTx(ctx, func(db database.Store) error {
		tx := r.With(db)
		table, err := db.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
		if err != nil {
			return err
		}
		if err := Require(tx.CanManage(ctx, actor, table)); err != nil {
			return err
		}
		return fn(tx, table)
	})
}

func (r *Resolver) GrantFilial(ctx context.Context, actor, tableID uuid.UUID, filialID int64, level model.PermissionType) (database.FilialPermission, error) {
	var grant database.FilialPermission
	err := r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if _, err := tx.db.GetFilial(ctx, filialID); err != nil {
			return err
		}

		var err error
		grant, err = tx.db.UpsertFilialPermission(ctx, database.UpsertFilialPermissionParams{
			TableID:  table.ID,
			FilialID: filialID,
			Type:     level,
		})
		if err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeFilialPermissionGrant,
			Data:        map[string]any{"filial_id": filialID, "permission": level.Code()},
		})
	})
	if err != nil {
		return database.FilialPermission{}, err
	}
	r.logger.InfoContext(ctx, "Filial permission granted", "table_id", tableID, "filial_id", filialID, "permission", level)
	return grant, nil
}

// RevokeFilial removes the unit grant together with every user override
// scoped to that unit.
func (r *Resolver) RevokeFilial(ctx context.Context, actor, tableID uuid.UUID, filialID int64) error {
	err := r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if err := tx.db.DeleteFilialPermission(ctx, table.ID, filialID); err != nil {
			return err
		}

		overrides, err := tx.db.ListTablePermissions(ctx, database.ListTablePermissionsParams{TableID: util.Some(table.ID)})
		if err != nil {
			return err
		}
		removed := 0
		for _, p := range overrides {
			if !util.Equal(p.FilialID, util.Some(filialID)) {
				continue
			}
			if err := tx.db.DeleteTablePermission(ctx, database.DeleteTablePermissionParams{
				TableID:     table.ID,
				PrincipalID: p.PrincipalID,
				FilialID:    p.FilialID,
			}); err != nil {
				return err
			}
			removed++
		}

		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeFilialPermissionRevoke,
			Data:        map[string]any{"filial_id": filialID, "removed_overrides": removed},
		})
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Filial permission revoked", "table_id", tableID, "filial_id", filialID)
	return nil
}

// GrantUser stores a user override. A None filial applies to every unit that
// has no override of its own.
func (r *Resolver) GrantUser(ctx context.Context, actor, tableID, principalID uuid.UUID, filialID util.Optional[int64], level model.PermissionType) (database.TablePermission, error) {
	var grant database.TablePermission
	err := r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if _, err := tx.db.GetPrincipal(ctx, principalID); err != nil {
			return err
		}
		if filialID.IsSet {
			if _, err := tx.db.GetFilial(ctx, filialID.Val); err != nil {
				return err
			}
		}

		var err error
		grant, err = tx.db.UpsertTablePermission(ctx, database.UpsertTablePermissionParams{
			TableID:     table.ID,
			PrincipalID: principalID,
			FilialID:    filialID,
			Type:        level,
		})
		if err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeUserPermissionGrant,
			Data: map[string]any{
				"principal_id": principalID,
				"filial_id":    filialID.Ptr(),
				"permission":   level.Code(),
			},
		})
	})
	if err != nil {
		return database.TablePermission{}, err
	}
	r.logger.InfoContext(ctx, "User permission granted", "table_id", tableID, "principal_id", principalID, "permission", level)
	return grant, nil
}

func (r *Resolver) RevokeUser(ctx context.Context, actor, tableID, principalID uuid.UUID, filialID util.Optional[int64]) error {
	return r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if err := tx.db.DeleteTablePermission(ctx, database.DeleteTablePermissionParams{
			TableID:     table.ID,
			PrincipalID: principalID,
			FilialID:    filialID,
		}); err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeUserPermissionRevoke,
			Data:        map[string]any{"principal_id": principalID, "filial_id": filialID.Ptr()},
		})
	})
}

// AddUserFilial lets the principal act for one more unit on the table.
func (r *Resolver) AddUserFilial(ctx context.Context, actor, tableID, principalID uuid.UUID, filialID int64) (database.UserFilial, error) {
	var uf database.UserFilial
	err := r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		var err error
		uf, err = tx.db.CreateUserFilial(ctx, database.CreateUserFilialParams{
			TableID:     table.ID,
			PrincipalID: principalID,
			FilialID:    filialID,
		})
		if err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeUserFilialAdd,
			Data:        map[string]any{"principal_id": principalID, "filial_id": filialID},
		})
	})
	if err != nil {
		return database.UserFilial{}, err
	}
	return uf, nil
}

func (r *Resolver) RemoveUserFilial(ctx context.Context, actor, tableID, principalID uuid.UUID, filialID int64) error {
	return r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if err := tx.db.DeleteUserFilial(ctx, database.DeleteUserFilialParams{
			TableID:     table.ID,
			PrincipalID: principalID,
			FilialID:    filialID,
		}); err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeUserFilialRemove,
			Data:        map[string]any{"principal_id": principalID, "filial_id": filialID},
		})
	})
}

// GrantAdmin and RevokeAdmin may only be called by an admin.
func (r *Resolver) GrantAdmin(ctx context.Context, actor, principalID uuid.UUID) error {
	return r.changeAdmin(ctx, actor, principalID, true)
}

func (r *Resolver) RevokeAdmin(ctx context.Context, actor, principalID uuid.UUID) error {
	return r.changeAdmin(ctx, actor, principalID, false)
}

func (r *Resolver) changeAdmin(ctx context.Context, actor, principalID uuid.UUID, grant bool) error {
	err := r.db.InTx(ctx, func(db database.Store) error {
		admin, err := db.IsAdmin(ctx, actor)
		if err != nil {
			return err
		}
		if !admin {
			return model.ErrAccessDenied
		}

		event := audit.AuditLogEventTypeAdminGrant
		if grant {
			err = db.CreateAdmin(ctx, principalID)
		} else {
			event = audit.AuditLogEventTypeAdminRevoke
			err = db.DeleteAdmin(ctx, principalID)
		}
		if err != nil {
			return err
		}
		return r.auditor.LogEvent(ctx, db, audit.LogEventParam{
			PrincipalID: actor,
			Type:        event,
			Data:        map[string]any{"principal_id": principalID},
		})
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Admin marker changed", "principal_id", principalID, "granted", grant)
	return nil
}

// FinishEditing closes the principal's home unit on the table: the unit grant
// and every user override scoped to the unit that allow editing drop to
// view-only, and the unit may no longer add rows. Either all of it happens or
// nothing does.
func (r *Resolver) FinishEditing(ctx context.Context, principalID, tableID uuid.UUID) (database.FilialLock, error) {
	var lock database.FilialLock
	err := r.db.InTx(ctx, func(db database.Store) error {
		tx := r.With(db)
		table, err := db.GetTable(ctx, database.GetTableParams{ID: util.Some(tableID)})
		if err != nil {
			return err
		}
		if err := Require(tx.CanView(ctx, principalID, table)); err != nil {
			return err
		}

		principal, err := db.GetPrincipal(ctx, principalID)
		if err != nil {
			return err
		}
		if !principal.FilialID.IsSet {
			return ErrNoHomeFilial
		}
		home := principal.FilialID.Val

		downgraded, err := tx.setUnitLevel(ctx, table.ID, home, func(current model.PermissionType) bool {
			return current > model.PermissionViewOnly
		}, model.PermissionViewOnly)
		if err != nil {
			return err
		}

		lock, err = db.UpsertFilialLock(ctx, database.UpsertFilialLockParams{
			TableID:  table.ID,
			FilialID: home,
			LockedBy: util.Some(principalID),
		})
		if err != nil {
			return err
		}
		return tx.auditor.LogEvent(ctx, db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: principalID,
			Type:        audit.AuditLogEventTypeFilialFinish,
			Data:        map[string]any{"filial_id": home, "downgraded": downgraded},
		})
	})
	if err != nil {
		return database.FilialLock{}, err
	}
	r.logger.InfoContext(ctx, "Filial finished editing", "table_id", tableID, "filial_id", lock.FilialID, "principal_id", principalID)
	return lock, nil
}

// UnlockFilial reopens a finished unit: the unit grant and the user overrides
// of the unit that grant at least view access are set to level and the unit
// may add rows again.
func (r *Resolver) UnlockFilial(ctx context.Context, actor, tableID uuid.UUID, filialID int64, level model.PermissionType) error {
	err := r.manage(ctx, actor, tableID, func(tx *Resolver, table database.Table) error {
		if _, err := tx.db.GetFilial(ctx, filialID); err != nil {
			return err
		}

		changed, err := tx.setUnitLevel(ctx, table.ID, filialID, func(current model.PermissionType) bool {
			return current >= model.PermissionViewOnly
		}, level)
		if err != nil {
			return err
		}

		if err := tx.db.DeleteFilialLock(ctx, table.ID, filialID); err != nil && !errors.Is(err, database.ErrFilialLockNotFound) {
			return err
		}
		return tx.auditor.LogEvent(ctx, tx.db, audit.LogEventParam{
			TableID:     util.Some(table.ID),
			PrincipalID: actor,
			Type:        audit.AuditLogEventTypeFilialUnlock,
			Data:        map[string]any{"filial_id": filialID, "permission": level.Code(), "changed": changed},
		})
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Filial unlocked", "table_id", tableID, "filial_id", filialID, "permission", level)
	return nil
}

// setUnitLevel sets the unit grant and the unit-scoped user overrides matched
// by match to level and returns how many records changed.
func (r *Resolver) setUnitLevel(ctx context.Context, tableID uuid.UUID, filialID int64, match func(model.PermissionType) bool, level model.PermissionType) (int, error) {
	changed := 0

	grants, err := r.db.ListFilialPermissions(ctx, database.ListFilialPermissionsParams{
		TableID:   util.Some(tableID),
		FilialIDs: util.Some([]int64{filialID}),
	})
	if err != nil {
		return 0, err
	}
	for _, g := range grants {
		if !match(g.Type) || g.Type == level {
			continue
		}
		if _, err := r.db.UpsertFilialPermission(ctx, database.UpsertFilialPermissionParams{
			TableID:  tableID,
			FilialID: filialID,
			Type:     level,
		}); err != nil {
			return 0, err
		}
		changed++
	}

	overrides, err := r.db.ListTablePermissions(ctx, database.ListTablePermissionsParams{TableID: util.Some(tableID)})
	if err != nil {
		return 0, err
	}
	for _, p := range overrides {
		if !util.Equal(p.FilialID, util.Some(filialID)) || !match(p.Type) || p.Type == level {
			continue
		}
		if _, err := r.db.UpsertTablePermission(ctx, database.UpsertTablePermissionParams{
			TableID:     tableID,
			PrincipalID: p.PrincipalID,
			FilialID:    p.FilialID,
			Type:        level,
		}); err != nil {
			return 0, err
		}
		changed++
	}
	return changed, nil
}
