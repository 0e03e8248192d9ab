package export

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/revisionable/internal/domain"
)

type staticHistory []domain.Revision

func (h staticHistory) Revisions(context.Context, domain.SubjectRef) ([]domain.Revision, error) {
	return h, nil
}

func sampleHistory() staticHistory {
	subject := domain.SubjectRef{Type: "post", ID: 3}
	user := int64(42)
	ip := "10.0.0.1"
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return staticHistory{
		{
			ID: 2, Action: domain.ActionUpdated, Subject: subject, UserID: &user, IP: &ip,
			Old:       map[string]string{"name": "A", "body": "x"},
			New:       map[string]string{"name": "B", "body": "x"},
			CreatedAt: created.Add(time.Minute),
		},
		{
			ID: 1, Action: domain.ActionCreated, Subject: subject,
			Old:       map[string]string{},
			New:       map[string]string{"name": "A", "body": "x"},
			CreatedAt: created,
		},
	}
}

func TestWriteHistoryWorkbook(t *testing.T) {
	service := NewService(sampleHistory(), nil)

	var buf bytes.Buffer
	n, err := service.WriteHistory(context.Background(), domain.SubjectRef{Type: "post", ID: 3}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"Revisions", "Changes"}, f.GetSheetList())

	rows, err := f.GetRows("Revisions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2", "updated", "2024-05-01T12:01:00Z", "42", "10.0.0.1", "", "name"}, rows[1])
	assert.Equal(t, "created", rows[2][1])
	assert.Equal(t, "body, name", rows[2][6])

	changes, err := f.GetRows("Changes")
	require.NoError(t, err)
	require.Len(t, changes, 5)
	assert.Equal(t, []string{"2", "body", "x", "x"}, changes[1])
	assert.Equal(t, []string{"2", "name", "A", "B"}, changes[2])
}

func TestHTTPHandlerServesWorkbook(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /revisions/{type}/{id}/export.xlsx", NewHTTPHandler(NewService(sampleHistory(), nil)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revisions/post/3/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "post-3-revisions.xlsx")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revisions/post/abc/export.xlsx", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileNameSanitizesType(t *testing.T) {
	assert.Equal(t, "app-models-post-9-revisions.xlsx", FileName(domain.SubjectRef{Type: `App\Models\Post`, ID: 9}))
	assert.Equal(t, "export-1-revisions.xlsx", FileName(domain.SubjectRef{Type: "", ID: 1}))
}
