package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/util"

	"github.com/google/uuid"
)

var (
	ErrPrincipalNotFound        = fmt.Errorf("principal %w", model.ErrNotFound)
	ErrFilialNotFound           = fmt.Errorf("filial %w", model.ErrNotFound)
	ErrTableNotFound            = fmt.Errorf("table %w", model.ErrNotFound)
	ErrColumnNotFound           = fmt.Errorf("column %w", model.ErrNotFound)
	ErrRowNotFound              = fmt.Errorf("row %w", model.ErrNotFound)
	ErrCellNotFound             = fmt.Errorf("cell %w", model.ErrNotFound)
	ErrTablePermissionNotFound  = fmt.Errorf("table permission %w", model.ErrNotFound)
	ErrFilialPermissionNotFound = fmt.Errorf("filial permission %w", model.ErrNotFound)
	ErrUserFilialNotFound       = fmt.Errorf("user filial %w", model.ErrNotFound)
	ErrRowLockNotFound          = fmt.Errorf("row lock %w", model.ErrNotFound)
	ErrFilialLockNotFound       = fmt.Errorf("filial lock %w", model.ErrNotFound)
)

// Store is the persistence boundary of the service. Every method is safe for
// concurrent use; InTx runs fn against a transactional view of the store and
// commits only when fn returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error)
	ListPrincipals(ctx context.Context, ids []uuid.UUID) ([]Principal, error)
	GetFilial(ctx context.Context, id int64) (Filial, error)
	ListFilials(ctx context.Context, params ListFilialsParams) ([]Filial, error)
	IsAdmin(ctx context.Context, principalID uuid.UUID) (bool, error)
	CreateAdmin(ctx context.Context, principalID uuid.UUID) error
	DeleteAdmin(ctx context.Context, principalID uuid.UUID) error

	CreateTable(ctx context.Context, params CreateTableParams) (Table, error)
	GetTable(ctx context.Context, params GetTableParams) (Table, error)
	ListTables(ctx context.Context, params ListTablesParams) ([]Table, error)
	UpdateTable(ctx context.Context, id uuid.UUID, params UpdateTableParams) (Table, error)
	DeleteTable(ctx context.Context, id uuid.UUID) error

	CreateColumn(ctx context.Context, params CreateColumnParams) (Column, error)
	GetColumn(ctx context.Context, id uuid.UUID) (Column, error)
	ListColumns(ctx context.Context, tableID uuid.UUID) ([]Column, error)
	CountColumns(ctx context.Context, tableID uuid.UUID) (int, error)
	UpdateColumn(ctx context.Context, id uuid.UUID, params UpdateColumnParams) (Column, error)
	DeleteColumn(ctx context.Context, id uuid.UUID) error

	CreateRow(ctx context.Context, params CreateRowParams) (Row, error)
	GetRow(ctx context.Context, id uuid.UUID) (Row, error)
	ListRows(ctx context.Context, params ListRowsParams) ([]Row, error)
	CountRows(ctx context.Context, tableID uuid.UUID) (int, error)
	UpdateRow(ctx context.Context, id uuid.UUID, params UpdateRowParams) (Row, error)
	DeleteRow(ctx context.Context, id uuid.UUID) error

	GetCell(ctx context.Context, rowID, columnID uuid.UUID) (Cell, error)
	ListCells(ctx context.Context, params ListCellsParams) ([]Cell, error)
	UpsertCell(ctx context.Context, cell Cell) (Cell, error)
	DeleteCell(ctx context.Context, rowID, columnID uuid.UUID) error

	ListTablePermissions(ctx context.Context, params ListTablePermissionsParams) ([]TablePermission, error)
	UpsertTablePermission(ctx context.Context, params UpsertTablePermissionParams) (TablePermission, error)
	DeleteTablePermission(ctx context.Context, params DeleteTablePermissionParams) error
	ListFilialPermissions(ctx context.Context, params ListFilialPermissionsParams) ([]FilialPermission, error)
	UpsertFilialPermission(ctx context.Context, params UpsertFilialPermissionParams) (FilialPermission, error)
	DeleteFilialPermission(ctx context.Context, tableID uuid.UUID, filialID int64) error
	ListUserFilials(ctx context.Context, params ListUserFilialsParams) ([]UserFilial, error)
	CreateUserFilial(ctx context.Context, params CreateUserFilialParams) (UserFilial, error)
	DeleteUserFilial(ctx context.Context, params DeleteUserFilialParams) error

	CreateRowLock(ctx context.Context, params CreateRowLockParams) (RowLock, error)
	GetRowLock(ctx context.Context, rowID uuid.UUID) (RowLock, error)
	ListRowLocks(ctx context.Context, rowIDs []uuid.UUID) ([]RowLock, error)
	DeleteRowLock(ctx context.Context, params DeleteRowLockParams) error
	DeleteStaleRowLocks(ctx context.Context, lockedBefore time.Time) ([]RowLock, error)
	UpsertFilialLock(ctx context.Context, params UpsertFilialLockParams) (FilialLock, error)
	ListFilialLocks(ctx context.Context, tableID uuid.UUID) ([]FilialLock, error)
	DeleteFilialLock(ctx context.Context, tableID uuid.UUID, filialID int64) error

	CreateAuditLogEvent(ctx context.Context, params CreateAuditLogEventParams) (AuditLogEvent, error)
	ListAuditLogEvents(ctx context.Context, params ListAuditLogEventsParams) ([]AuditLogEvent, error)
}

type Filial struct {
	ID        int64
	Name      string
	LongName  string
	ShortName string
}

type Principal struct {
	ID         uuid.UUID
	Username   string
	FirstName  string
	SecondName string
	LastName   string
	FilialID   util.Optional[int64]
}

// FullName renders the directory name as "second first last", skipping blanks,
// and falls back to the username.
func (p Principal) FullName() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{p.SecondName, p.FirstName, p.LastName} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return p.Username
	}
	return strings.Join(parts, " ")
}

type Table struct {
	ID              uuid.UUID
	Title           string
	OwnerID         uuid.UUID
	ShareToken      string
	EditOnlyCreator bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Column struct {
	ID       uuid.UUID
	TableID  uuid.UUID
	Name     string
	Order    int
	Required bool
	DataType model.ColumnType
	Choices  []string
}

type Row struct {
	ID        uuid.UUID
	TableID   uuid.UUID
	Order     int
	FilialID  util.Optional[int64]
	CreatedBy util.Optional[uuid.UUID]
	UpdatedBy util.Optional[uuid.UUID]
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cell stores one value per typed slot. At most one slot is set, the one
// selected by the column's data type.
type Cell struct {
	ID           uuid.UUID
	RowID        uuid.UUID
	ColumnID     uuid.UUID
	TextValue    util.Optional[string]
	IntegerValue util.Optional[int64]
	FloatValue   util.Optional[float64]
	BooleanValue util.Optional[bool]
	DateValue    util.Optional[time.Time]
	ChoiceValue  util.Optional[string]
	EmailValue   util.Optional[string]
	URLValue     util.Optional[string]
	FileValue    util.Optional[string]
	UpdatedAt    time.Time
}

// TablePermission is a per-principal override. A None FilialID applies to
// every unit.
type TablePermission struct {
	ID          uuid.UUID
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    util.Optional[int64]
	Type        model.PermissionType
}

// FilialPermission grants a level to every member of a unit.
type FilialPermission struct {
	ID       uuid.UUID
	TableID  uuid.UUID
	FilialID int64
	Type     model.PermissionType
}

// UserFilial extends the units a principal acts for on one table.
type UserFilial struct {
	ID          uuid.UUID
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    int64
}

type RowLock struct {
	RowID       uuid.UUID
	PrincipalID uuid.UUID
	LockedAt    time.Time
}

// FilialLock marks a unit whose editing was finished; the unit may not add rows.
type FilialLock struct {
	TableID  uuid.UUID
	FilialID int64
	LockedBy util.Optional[uuid.UUID]
	LockedAt time.Time
}

type AuditLogEvent struct {
	ID          uuid.UUID
	TableID     util.Optional[uuid.UUID]
	PrincipalID util.Optional[uuid.UUID]
	Type        string
	Data        json.RawMessage
	CreatedAt   time.Time
}

type ListFilialsParams struct {
	IDs util.Optional[[]int64]
}

type CreateTableParams struct {
	Title           string
	OwnerID         uuid.UUID
	ShareToken      string
	EditOnlyCreator bool
}

type GetTableParams struct {
	ID         util.Optional[uuid.UUID]
	ShareToken util.Optional[string]
}

type ListTablesParams struct {
	OwnerID util.Optional[uuid.UUID]
	IDs     util.Optional[[]uuid.UUID]
}

type UpdateTableParams struct {
	Title           util.Optional[string]
	EditOnlyCreator util.Optional[bool]
}

type CreateColumnParams struct {
	TableID  uuid.UUID
	Name     string
	Order    int
	Required bool
	DataType model.ColumnType
	Choices  []string
}

type UpdateColumnParams struct {
	Name     util.Optional[string]
	Order    util.Optional[int]
	Required util.Optional[bool]
	Choices  util.Optional[[]string]
}

type CreateRowParams struct {
	TableID   uuid.UUID
	Order     int
	FilialID  util.Optional[int64]
	CreatedBy util.Optional[uuid.UUID]
}

type ListRowsParams struct {
	TableID   uuid.UUID
	FilialIDs util.Optional[[]int64]
	IDs       util.Optional[[]uuid.UUID]
}

type UpdateRowParams struct {
	UpdatedBy util.Optional[uuid.UUID]
	FilialID  util.Optional[int64]
}

type ListCellsParams struct {
	TableID  util.Optional[uuid.UUID]
	RowIDs   util.Optional[[]uuid.UUID]
	ColumnID util.Optional[uuid.UUID]
}

type ListTablePermissionsParams struct {
	TableID     util.Optional[uuid.UUID]
	PrincipalID util.Optional[uuid.UUID]
}

type UpsertTablePermissionParams struct {
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    util.Optional[int64]
	Type        model.PermissionType
}

type DeleteTablePermissionParams struct {
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    util.Optional[int64]
}

type ListFilialPermissionsParams struct {
	TableID   util.Optional[uuid.UUID]
	FilialIDs util.Optional[[]int64]
}

type UpsertFilialPermissionParams struct {
	TableID  uuid.UUID
	FilialID int64
	Type     model.PermissionType
}

type ListUserFilialsParams struct {
	TableID     util.Optional[uuid.UUID]
	PrincipalID util.Optional[uuid.UUID]
}

type CreateUserFilialParams struct {
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    int64
}

type DeleteUserFilialParams struct {
	TableID     uuid.UUID
	PrincipalID uuid.UUID
	FilialID    int64
}

type CreateRowLockParams struct {
	RowID       uuid.UUID
	PrincipalID uuid.UUID
}

// DeleteRowLockParams removes the lock on a row. When PrincipalID is set only
// a lock held by that principal matches.
type DeleteRowLockParams struct {
	RowID       uuid.UUID
	PrincipalID util.Optional[uuid.UUID]
}

type UpsertFilialLockParams struct {
	TableID  uuid.UUID
	FilialID int64
	LockedBy util.Optional[uuid.UUID]
}

type CreateAuditLogEventParams struct {
	TableID     util.Optional[uuid.UUID]
	PrincipalID util.Optional[uuid.UUID]
	Type        string
	Data        json.RawMessage
}

type ListAuditLogEventsParams struct {
	TableID util.Optional[uuid.UUID]
	Limit   int
}
