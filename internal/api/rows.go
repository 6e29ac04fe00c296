package api

import (
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/sheet"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RowRequest carries the values of a row keyed by column id. Multipart forms
// use the column id as field name, file parts included.
type RowRequest struct {
	FilialID util.Optional[int64] `json:"filial_id"`
	Values   map[uuid.UUID]any    `json:"values"`
}

type RowsRequest struct {
	RowIDs   []uuid.UUID `json:"row_ids"`
	ColumnID uuid.UUID   `json:"column_id"`
	Value    any         `json:"value"`
}

// parseRowRequest reads a JSON or multipart row. The returned func closes
// the uploaded files and must be called once the values were written.
func parseRowRequest(c *fiber.Ctx) (RowRequest, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		var req RowRequest
		if err := parseBody(c, &req); err != nil {
			return RowRequest{}, noop, err
		}
		return req, noop, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return RowRequest{}, noop, fiber.NewError(fiber.StatusBadRequest, "invalid multipart form")
	}
	req := RowRequest{Values: make(map[uuid.UUID]any, len(form.Value)+len(form.File))}
	for key, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		if key == "filial_id" {
			id, err := strconv.ParseInt(values[0], 10, 64)
			if err != nil {
				return RowRequest{}, noop, fiber.NewError(fiber.StatusBadRequest, "invalid filial_id")
			}
			req.FilialID = util.Some(id)
			continue
		}
		columnID, err := uuid.Parse(key)
		if err != nil {
			return RowRequest{}, noop, fiber.NewError(fiber.StatusBadRequest, "unknown form field "+key)
		}
		req.Values[columnID] = values[0]
	}

	var files []io.Closer
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for key, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		columnID, err := uuid.Parse(key)
		if err != nil {
			cleanup()
			return RowRequest{}, noop, fiber.NewError(fiber.StatusBadRequest, "unknown form field "+key)
		}
		header := headers[0]
		f, err := header.Open()
		if err != nil {
			cleanup()
			return RowRequest{}, noop, fiber.NewError(fiber.StatusBadRequest, "unreadable upload "+header.Filename)
		}
		files = append(files, f)
		req.Values[columnID] = &cell.FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get(fiber.HeaderContentType),
			Content:     f,
		}
	}
	return req, cleanup, nil
}

func (h *Handler) ListRows(c *fiber.Ctx) error {
	ctx := c.UserContext()
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	columns, err := h.sheets.ListColumns(ctx, principal(c), tableID)
	if err != nil {
		return err
	}

	params, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query string")
	}
	filters, err := visibility.ParseFilters(columns, params)
	if err != nil {
		return err
	}
	sort, err := visibility.ParseSort(columns, c.Query("sort"))
	if err != nil {
		return err
	}

	page, err := h.sheets.ListRows(ctx, principal(c), tableID, visibility.Query{
		Search:  c.Query("search"),
		Filters: filters,
		Sort:    sort,
		Limit:   c.QueryInt("limit", 0),
		Offset:  c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	items := make([]RowResponse, len(page.Rows))
	for i, v := range page.Rows {
		items[i] = newRowResponse(v)
	}
	return c.JSON(fiber.Map{"items": items, "total": page.Total})
}

func (h *Handler) AddRow(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	req, done, err := parseRowRequest(c)
	if err != nil {
		return err
	}
	defer done()

	view, err := h.sheets.AddRow(c.UserContext(), principal(c), tableID, sheet.AddRowParams{
		FilialID: req.FilialID,
		Values:   req.Values,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newRowResponse(view))
}

func (h *Handler) GetRow(c *fiber.Ctx) error {
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	view, err := h.sheets.GetRow(c.UserContext(), principal(c), rowID)
	if err != nil {
		return err
	}
	return c.JSON(newRowResponse(view))
}

func (h *Handler) BeginEdit(c *fiber.Ctx) error {
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	view, err := h.sheets.BeginEdit(c.UserContext(), principal(c), rowID)
	if err != nil {
		return err
	}
	return c.JSON(newRowResponse(view))
}

// ReleaseLock cancels the edit of the caller. With ?force=true the owner or
// an admin clears the lock of whoever holds it.
func (h *Handler) ReleaseLock(c *fiber.Ctx) error {
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if c.QueryBool("force", false) {
		err = h.sheets.ClearLock(c.UserContext(), principal(c), rowID)
	} else {
		err = h.sheets.CancelEdit(c.UserContext(), principal(c), rowID)
	}
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) SaveRow(c *fiber.Ctx) error {
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	req, done, err := parseRowRequest(c)
	if err != nil {
		return err
	}
	defer done()

	view, err := h.sheets.SaveRow(c.UserContext(), principal(c), rowID, req.Values)
	if err != nil {
		return err
	}
	return c.JSON(newRowResponse(view))
}

func (h *Handler) DeleteRow(c *fiber.Ctx) error {
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.sheets.DeleteRow(c.UserContext(), principal(c), rowID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) DeleteRows(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req RowsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	n, err := h.sheets.DeleteRows(c.UserContext(), principal(c), tableID, req.RowIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": n})
}

func (h *Handler) UpdateRows(c *fiber.Ctx) error {
	tableID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req RowsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	n, err := h.sheets.UpdateRows(c.UserContext(), principal(c), tableID, req.RowIDs, req.ColumnID, req.Value)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": n})
}

// DownloadFile streams the blob stored in a file cell the caller may view.
func (h *Handler) DownloadFile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rowID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	columnID, err := uuidParam(c, "columnID")
	if err != nil {
		return err
	}
	view, err := h.sheets.GetRow(ctx, principal(c), rowID)
	if err != nil {
		return err
	}
	value, ok := view.Values[columnID]
	if !ok || value.Type() != model.ColumnTypeFile || value.Str() == "" {
		return fiber.NewError(fiber.StatusNotFound, "no file stored in this cell")
	}

	key := value.Str()
	meta, err := h.files.GetMetadata(ctx, key)
	if err != nil {
		return err
	}
	content, err := h.files.Retrieve(ctx, key)
	if err != nil {
		return err
	}

	// Keys end in <uuid>_<name>.
	name := path.Base(key)
	if _, rest, found := strings.Cut(name, "_"); found {
		name = rest
	}
	c.Set(fiber.HeaderContentType, meta.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.SendStream(content, int(meta.Size))
}
