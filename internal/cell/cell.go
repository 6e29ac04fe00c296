// Package cell stores typed cell values. Each cell keeps its value in the one
// slot selected by the data type of its column.
package cell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/storage"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/validator"

	"github.com/google/uuid"
)

type Store struct {
	db        database.Store
	files     storage.Storage
	validator *validator.Validator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(db database.Store, files storage.Storage, v *validator.Validator, m *metrics.Metrics, logger *slog.Logger) *Store {
	return &Store{
		db:        db,
		files:     files,
		validator: v,
		metrics:   m,
		logger:    logger.With("component", "cell_store"),
		now:       time.Now,
	}
}

// FileChanges lists the blobs touched by a write. Stored blobs are orphaned
// if the transaction rolls back, Replaced blobs once it commits.
type FileChanges struct {
	Stored   []string
	Replaced []string
}

func (c *FileChanges) Merge(other FileChanges) {
	c.Stored = append(c.Stored, other.Stored...)
	c.Replaced = append(c.Replaced, other.Replaced...)
}

// Settle releases the blobs no longer referenced once the transaction that
// produced changes finished with err.
func (s *Store) Settle(ctx context.Context, changes FileChanges, err error) {
	if err != nil {
		s.ReleaseFiles(ctx, changes.Stored)
		return
	}
	s.ReleaseFiles(ctx, changes.Replaced)
}

// ReleaseFiles deletes blobs of removed cells. Failures leave an orphaned blob
// behind and are only logged.
func (s *Store) ReleaseFiles(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.files.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "Failed to release file", "key", key, "error", err)
		}
	}
}

// FileKeys returns the blob keys referenced by the cells matching params.
func (s *Store) FileKeys(ctx context.Context, db database.Store, params database.ListCellsParams) ([]string, error) {
	cells, err := db.ListCells(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("cell: failed to list cells: %w", err)
	}
	var keys []string
	for _, c := range cells {
		if c.FileValue.IsSet && c.FileValue.Val != "" {
			keys = append(keys, c.FileValue.Val)
		}
	}
	return keys, nil
}

// Default is the value of a cell that was never written.
func (s *Store) Default(t model.ColumnType) model.Value {
	return model.DefaultValue(t, s.now())
}

// GetValue returns the stored value, or the type default when the cell is empty.
func (s *Store) GetValue(ctx context.Context, rowID uuid.UUID, column database.Column) (model.Value, error) {
	c, err := s.db.GetCell(ctx, rowID, column.ID)
	if err != nil {
		if errors.Is(err, database.ErrCellNotFound) {
			return s.Default(column.DataType), nil
		}
		return model.Value{}, fmt.Errorf("cell: failed to get value: %w", err)
	}
	if v, ok := Decode(c, column.DataType); ok {
		return v, nil
	}
	return s.Default(column.DataType), nil
}

// ListValues returns the stored values of the given rows keyed by row and
// column id. Empty cells are absent from the result.
func (s *Store) ListValues(ctx context.Context, rowIDs []uuid.UUID, columns []database.Column) (map[uuid.UUID]map[uuid.UUID]model.Value, error) {
	values := make(map[uuid.UUID]map[uuid.UUID]model.Value, len(rowIDs))
	if len(rowIDs) == 0 || len(columns) == 0 {
		return values, nil
	}

	types := make(map[uuid.UUID]model.ColumnType, len(columns))
	for _, column := range columns {
		types[column.ID] = column.DataType
	}

	cells, err := s.db.ListCells(ctx, database.ListCellsParams{RowIDs: util.Some(rowIDs)})
	if err != nil {
		return nil, fmt.Errorf("cell: failed to list values: %w", err)
	}
	for _, c := range cells {
		t, ok := types[c.ColumnID]
		if !ok {
			continue
		}
		v, ok := Decode(c, t)
		if !ok {
			continue
		}
		if values[c.RowID] == nil {
			values[c.RowID] = make(map[uuid.UUID]model.Value)
		}
		values[c.RowID][c.ColumnID] = v
	}
	return values, nil
}

// SetValue writes one cell in its own transaction and returns the stored value.
// A blank raw value clears the cell.
func (s *Store) SetValue(ctx context.Context, rowID uuid.UUID, column database.Column, raw any) (model.Value, error) {
	var (
		changes FileChanges
		value   model.Value
	)
	err := s.db.InTx(ctx, func(tx database.Store) error {
		row, err := tx.GetRow(ctx, rowID)
		if err != nil {
			return err
		}
		if row.TableID != column.TableID {
			return fmt.Errorf("cell: column %s is not part of table %s: %w", column.ID, row.TableID, database.ErrColumnNotFound)
		}

		p, err := s.prepare(column, raw)
		if err != nil {
			return err
		}
		existing, err := s.existingCells(ctx, tx, rowID)
		if err != nil {
			return err
		}
		value, err = s.apply(ctx, tx, row, p, existing, &changes)
		return err
	})
	s.Settle(ctx, changes, err)
	if err != nil {
		s.countValidation(err)
		return model.Value{}, err
	}
	return value, nil
}

// SaveRow validates values against every column of the row and writes them
// through tx. All rejected fields are reported together as
// model.ValidationErrors and nothing is written then. A column missing from
// values keeps its stored value. The caller must pass the returned changes to
// Settle once tx finished.
func (s *Store) SaveRow(ctx context.Context, tx database.Store, row database.Row, columns []database.Column, values map[uuid.UUID]any) (FileChanges, error) {
	existing, err := s.existingCells(ctx, tx, row.ID)
	if err != nil {
		return FileChanges{}, err
	}

	var errs model.ValidationErrors
	for _, id := range unknownColumns(columns, values) {
		errs = append(errs, &model.ValidationError{
			Kind:     model.ValidationTypeMismatch,
			ColumnID: id,
			Column:   id.String(),
			Message:  "not a column of this table",
		})
	}

	pendings := make([]pending, 0, len(values))
	for _, column := range columns {
		raw, present := values[column.ID]
		if !present {
			if column.Required {
				current, ok := Decode(existing[column.ID], column.DataType)
				if !ok || current.IsEmpty() {
					errs = append(errs, invalid(column, model.ValidationRequired, "a value is required"))
				}
			}
			continue
		}

		p, err := s.prepare(column, raw)
		if err != nil {
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				return FileChanges{}, err
			}
			errs = append(errs, verr)
			continue
		}
		pendings = append(pendings, p)
	}
	if len(errs) > 0 {
		s.countValidation(errs)
		return FileChanges{}, errs
	}

	var changes FileChanges
	for _, p := range pendings {
		if _, err := s.apply(ctx, tx, row, p, existing, &changes); err != nil {
			return changes, err
		}
	}
	return changes, nil
}

// pending is a validated value waiting to be written.
type pending struct {
	column database.Column
	value  model.Value
	upload *FileUpload
}

func (s *Store) prepare(column database.Column, raw any) (pending, error) {
	if upload, ok := raw.(*FileUpload); ok && upload != nil {
		if column.DataType != model.ColumnTypeFile {
			return pending{}, invalid(column, model.ValidationTypeMismatch, "files can only be stored in file columns")
		}
		if upload.Content == nil {
			return pending{}, invalid(column, model.ValidationTypeMismatch, "empty upload")
		}
		return pending{column: column, upload: upload}, nil
	}

	value, err := s.Coerce(column, raw)
	if err != nil {
		return pending{}, err
	}
	return pending{column: column, value: value}, nil
}

func (s *Store) apply(ctx context.Context, tx database.Store, row database.Row, p pending, existing map[uuid.UUID]database.Cell, changes *FileChanges) (model.Value, error) {
	value := p.value
	if p.upload != nil {
		key, err := s.files.Store(ctx, row.TableID, p.upload.Name, p.upload.Content, p.upload.ContentType)
		if err != nil {
			return model.Value{}, fmt.Errorf("cell: failed to store file: %w", err)
		}
		changes.Stored = append(changes.Stored, key)
		value = model.FileValue(key)
	}

	if previous, ok := existing[p.column.ID]; ok && previous.FileValue.IsSet && previous.FileValue.Val != value.Str() {
		changes.Replaced = append(changes.Replaced, previous.FileValue.Val)
	}

	if value.IsNull() {
		if err := tx.DeleteCell(ctx, row.ID, p.column.ID); err != nil && !errors.Is(err, database.ErrCellNotFound) {
			return model.Value{}, fmt.Errorf("cell: failed to clear value: %w", err)
		}
		return value, nil
	}

	if _, err := tx.UpsertCell(ctx, Encode(row.ID, p.column.ID, value)); err != nil {
		return model.Value{}, fmt.Errorf("cell: failed to write value: %w", err)
	}
	return value, nil
}

func (s *Store) existingCells(ctx context.Context, db database.Store, rowID uuid.UUID) (map[uuid.UUID]database.Cell, error) {
	cells, err := db.ListCells(ctx, database.ListCellsParams{RowIDs: util.Some([]uuid.UUID{rowID})})
	if err != nil {
		return nil, fmt.Errorf("cell: failed to list cells: %w", err)
	}
	byColumn := make(map[uuid.UUID]database.Cell, len(cells))
	for _, c := range cells {
		byColumn[c.ColumnID] = c
	}
	return byColumn, nil
}

func unknownColumns(columns []database.Column, values map[uuid.UUID]any) []uuid.UUID {
	var unknown []uuid.UUID
	for id := range values {
		if !slices.ContainsFunc(columns, func(c database.Column) bool { return c.ID == id }) {
			unknown = append(unknown, id)
		}
	}
	slices.SortFunc(unknown, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return unknown
}

func (s *Store) countValidation(err error) {
	var errs model.ValidationErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			s.metrics.ValidationError(string(e.Kind))
		}
		return
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		s.metrics.ValidationError(string(verr.Kind))
	}
}
