package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/freekieb7/sheets/internal/api"
	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/config"
	"github.com/freekieb7/sheets/internal/lock"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/model"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/schema"
	"github.com/freekieb7/sheets/internal/sheet"
	"github.com/freekieb7/sheets/internal/storage"
	"github.com/freekieb7/sheets/internal/testutil"
	"github.com/freekieb7/sheets/internal/util"
	"github.com/freekieb7/sheets/internal/validator"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	*testutil.Fixture
	app   *fiber.App
	files *testutil.MockStorage
}

func setup(t *testing.T) *harness {
	t.Helper()
	f := testutil.NewFixture(t)
	files := &testutil.MockStorage{}
	m := metrics.New()
	publisher := notify.Nop{}
	auditor := audit.NewAuditor(logger.Discard(), f.Store)
	resolver := permission.NewResolver(f.Store, auditor, m, logger.Discard())
	cells := cell.NewStore(f.Store, files, validator.New(), m, logger.Discard())

	sheets := sheet.NewService(sheet.Deps{
		DB:        f.Store,
		Resolver:  resolver,
		Locks:     lock.NewManager(f.Store, publisher, m, logger.Discard()),
		Cells:     cells,
		Builder:   visibility.NewBuilder(f.Store, resolver, cells, logger.Discard()),
		Auditor:   auditor,
		Publisher: publisher,
		Metrics:   m,
	}, logger.Discard())

	handler := api.NewHandler(api.Deps{
		Sheets:   sheets,
		Schema:   schema.NewRegistry(f.Store, resolver, cells, auditor, publisher, logger.Discard()),
		Resolver: resolver,
		Files:    files,
		DB:       f.Store,
		Metrics:  m,
	}, logger.Discard())

	return &harness{Fixture: f, app: api.NewApp(handler, config.ServerConfig{}), files: files}
}

// do sends a JSON request as principalID and decodes a JSON response into out.
func (h *harness) do(t *testing.T, method, path string, principalID uuid.UUID, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if principalID != uuid.Nil {
		req.Header.Set(api.PrincipalHeader, principalID.String())
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error struct {
		Code    int                     `json:"code"`
		Status  string                  `json:"status"`
		Message string                  `json:"message"`
		Holder  uuid.UUID               `json:"holder"`
		Fields  []model.ValidationError `json:"fields"`
	} `json:"error"`
}

// rowBody decodes a RowResponse with cell values as plain JSON.
type rowBody struct {
	ID         uuid.UUID         `json:"id"`
	FilialName string            `json:"filial_name"`
	Values     map[uuid.UUID]any `json:"values"`
}

func TestAPI_Healthz(t *testing.T) {
	h := setup(t)
	var body map[string]any
	status := h.do(t, http.MethodGet, "/healthz", uuid.Nil, nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_Authentication(t *testing.T) {
	h := setup(t)

	var body errorBody
	status := h.do(t, http.MethodGet, "/api/v1/tables", uuid.Nil, nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	req.Header.Set(api.PrincipalHeader, "not-a-uuid")
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := setup(t)
	table := h.CreateTable(t, false)
	h.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditView)
	name := h.AddColumn(t, table.ID, "Name", model.ColumnTypeText, true)
	row := h.AddRow(t, table.ID, testutil.FilialNorth, h.North.ID)
	colleague := h.AddPrincipal(t, "colleague", util.Some(testutil.FilialNorth))

	status := h.do(t, http.MethodPost, "/api/v1/rows/"+row.ID.String()+"/lock", h.North.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name       string
		method     string
		path       string
		principal  uuid.UUID
		body       any
		wantStatus int
		check      func(t *testing.T, body errorBody)
	}{
		{
			name:       "forbidden",
			method:     http.MethodGet,
			path:       "/api/v1/tables/" + table.ID.String(),
			principal:  h.Outsider.ID,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "not_found",
			method:     http.MethodGet,
			path:       "/api/v1/tables/" + uuid.NewString(),
			principal:  h.Owner.ID,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "bad_path_id",
			method:     http.MethodGet,
			path:       "/api/v1/tables/abc",
			principal:  h.Owner.ID,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "locked",
			method:     http.MethodPost,
			path:       "/api/v1/rows/" + row.ID.String() + "/lock",
			principal:  colleague.ID,
			wantStatus: http.StatusLocked,
			check: func(t *testing.T, body errorBody) {
				assert.Equal(t, h.North.ID, body.Error.Holder)
			},
		},
		{
			name:       "validation",
			method:     http.MethodPut,
			path:       "/api/v1/rows/" + row.ID.String(),
			principal:  h.North.ID,
			body:       map[string]any{"values": map[string]any{name.ID.String(): "  "}},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body errorBody) {
				require.Len(t, body.Error.Fields, 1)
				assert.Equal(t, model.ValidationRequired, body.Error.Fields[0].Kind)
				assert.Equal(t, name.ID, body.Error.Fields[0].ColumnID)
			},
		},
		{
			name:       "no_home_unit",
			method:     http.MethodPost,
			path:       "/api/v1/tables/" + table.ID.String() + "/finish-editing",
			principal:  h.Admin.ID,
			wantStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			status := h.do(t, tt.method, tt.path, tt.principal, tt.body, &body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantStatus, body.Error.Code)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestAPI_TableLifecycle(t *testing.T) {
	h := setup(t)

	var table api.TableResponse
	status := h.do(t, http.MethodPost, "/api/v1/tables", h.Owner.ID, api.CreateTableRequest{Title: "Stock"}, &table)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Stock", table.Title)
	base := "/api/v1/tables/" + table.ID.String()

	var column api.ColumnResponse
	status = h.do(t, http.MethodPost, base+"/columns", h.Owner.ID, api.AddColumnRequest{Name: "Amount", DataType: "integer"}, &column)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, model.ColumnTypeInteger, column.DataType)

	status = h.do(t, http.MethodPut, base+"/permissions/filials/1", h.Owner.ID, map[string]any{"level": "RWN"}, nil)
	require.Equal(t, http.StatusOK, status)

	var access sheet.Access
	status = h.do(t, http.MethodGet, base+"/access", h.North.ID, nil, &access)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, access.CanAdd)
	assert.Equal(t, []int64{testutil.FilialNorth}, access.AddableFilials)

	var shared struct {
		Items []api.TableResponse `json:"items"`
	}
	status = h.do(t, http.MethodGet, "/api/v1/tables/shared", h.North.ID, nil, &shared)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, shared.Items, 1)
	assert.Equal(t, table.ID, shared.Items[0].ID)

	var byToken api.TableResponse
	status = h.do(t, http.MethodGet, "/api/v1/shared/"+table.ShareToken, h.North.ID, nil, &byToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, table.ID, byToken.ID)

	for _, amount := range []any{3, "12", 7} {
		var row rowBody
		body := map[string]any{"values": map[string]any{column.ID.String(): amount}}
		status = h.do(t, http.MethodPost, base+"/rows", h.North.ID, body, &row)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "North", row.FilialName)
	}

	var page struct {
		Items []rowBody `json:"items"`
		Total int       `json:"total"`
	}
	query := "?filter_" + column.ID.String() + "_min=5&sort=-" + column.ID.String()
	status = h.do(t, http.MethodGet, base+"/rows"+query, h.North.ID, nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, float64(12), page.Items[0].Values[column.ID])
	assert.Equal(t, float64(7), page.Items[1].Values[column.ID])

	status = h.do(t, http.MethodGet, base+"/rows?sort=nope", h.North.ID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var deleted map[string]int
	ids := []uuid.UUID{page.Items[0].ID, page.Items[1].ID}
	status = h.do(t, http.MethodDelete, base+"/rows", h.Owner.ID, api.RowsRequest{RowIDs: ids}, &deleted)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, deleted["deleted"])

	var audit struct {
		Items []api.AuditEventResponse `json:"items"`
	}
	status = h.do(t, http.MethodGet, base+"/audit", h.Owner.ID, nil, &audit)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, audit.Items)

	status = h.do(t, http.MethodDelete, base, h.North.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status = h.do(t, http.MethodDelete, base, h.Owner.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPI_ForceUnlock(t *testing.T) {
	h := setup(t)
	table := h.CreateTable(t, false)
	h.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionEditView)
	row := h.AddRow(t, table.ID, testutil.FilialNorth, h.North.ID)
	path := "/api/v1/rows/" + row.ID.String() + "/lock"

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path, h.North.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, path, h.Owner.ID, nil, nil))
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, path+"?force=true", h.North.ID, nil, nil))
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, path+"?force=true", h.Owner.ID, nil, nil))
}

func TestAPI_DownloadFile(t *testing.T) {
	ctx := context.Background()
	h := setup(t)
	table := h.CreateTable(t, false)
	h.GrantFilial(t, table.ID, testutil.FilialNorth, model.PermissionViewOnly)
	attachment := h.AddColumn(t, table.ID, "Attachment", model.ColumnTypeFile, false)
	empty := h.AddColumn(t, table.ID, "Other", model.ColumnTypeFile, false)
	row := h.AddRow(t, table.ID, testutil.FilialNorth, h.Owner.ID)
	key := "tables/" + table.ID.String() + "/2024/03/" + uuid.NewString() + "_report.pdf"
	_, err := h.Store.UpsertCell(ctx, cell.Encode(row.ID, attachment.ID, model.FileValue(key)))
	require.NoError(t, err)

	h.files.On("GetMetadata", key).Return(storage.FileMetadata{Size: 5, ContentType: "application/pdf"}, nil)
	h.files.On("Retrieve", key).Return(io.NopCloser(bytes.NewReader([]byte("%PDF-"))), nil)

	base := "/api/v1/rows/" + row.ID.String() + "/files/"
	req := httptest.NewRequest(http.MethodGet, base+attachment.ID.String(), nil)
	req.Header.Set(api.PrincipalHeader, h.North.ID.String())
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `attachment; filename="report.pdf"`, resp.Header.Get(fiber.HeaderContentDisposition))
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(content))

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, base+empty.ID.String(), h.North.ID, nil, nil))
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, base+attachment.ID.String(), h.South.ID, nil, nil))
}

func TestAPI_InternalErrorIsLogged(t *testing.T) {
	h := setup(t)
	table := h.CreateTable(t, false)
	attachment := h.AddColumn(t, table.ID, "Attachment", model.ColumnTypeFile, false)
	row := h.AddRow(t, table.ID, testutil.FilialNorth, h.Owner.ID)
	_, err := h.Store.UpsertCell(context.Background(), cell.Encode(row.ID, attachment.ID, model.FileValue("broken")))
	require.NoError(t, err)
	h.files.On("GetMetadata", "broken").Return(storage.FileMetadata{}, errors.New("disk on fire"))

	var body errorBody
	status := h.do(t, http.MethodGet, "/api/v1/rows/"+row.ID.String()+"/files/"+attachment.ID.String(), h.Owner.ID, nil, &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body.Error.Message)
}
