package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/domain"
	"github.com/docmill/docmill/internal/observability"
)

func newTestAPI(t *testing.T) (*catalog.Catalog, http.Handler) {
	t.Helper()
	cfg := config.CatalogConfig{
		Enabled: true,
		Driver:  "sqlite",
		SQLite: config.SQLiteConfig{
			Path:         filepath.Join(t.TempDir(), "catalog.db"),
			MaxOpenConns: 1,
			JournalMode:  "WAL",
		},
	}
	cat, err := catalog.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return cat, newRouter(observability.Nop(), cat, 30*time.Second)
}

func seedRun(t *testing.T, cat *catalog.Catalog) *catalog.Run {
	t.Helper()
	ctx := context.Background()

	run := &catalog.Run{Root: "/data/docs", Backend: "fitz"}
	require.NoError(t, cat.CreateRun(ctx, run))

	outPath := "/data/docs/a.md"
	require.NoError(t, cat.RecordDocument(ctx, &catalog.DocumentRecord{
		RunID:      run.ID,
		Path:       "/data/docs/a.pdf",
		OutputPath: &outPath,
		Status:     domain.StatusSucceeded,
		Attempts:   1,
		SizeBytes:  1024,
	}))

	run.Discovered = 1
	run.Succeeded = 1
	require.NoError(t, cat.FinishRun(ctx, run))
	return run
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Health(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := get(t, handler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "docmill", body["service"])
}

func TestAPI_ListRuns(t *testing.T) {
	cat, handler := newTestAPI(t)
	run := seedRun(t, cat)

	rec := get(t, handler, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Runs  []*catalog.Run `json:"runs"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, run.ID, body.Runs[0].ID)
	assert.Equal(t, "/data/docs", body.Runs[0].Root)
}

func TestAPI_ListRuns_InvalidLimit(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := get(t, handler, "/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, handler, "/api/runs?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetRun(t *testing.T) {
	cat, handler := newTestAPI(t)
	run := seedRun(t, cat)

	rec := get(t, handler, "/api/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got catalog.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, 1, got.Succeeded)
	assert.NotNil(t, got.FinishedAt)
}

func TestAPI_GetRun_NotFound(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := get(t, handler, "/api/runs/no-such-run")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run not found", body["error"])
}

func TestAPI_ListDocuments(t *testing.T) {
	cat, handler := newTestAPI(t)
	run := seedRun(t, cat)

	rec := get(t, handler, "/api/runs/"+run.ID+"/documents")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID     string                    `json:"run_id"`
		Documents []*catalog.DocumentRecord `json:"documents"`
		Count     int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, run.ID, body.RunID)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "/data/docs/a.pdf", body.Documents[0].Path)
	assert.Equal(t, domain.StatusSucceeded, body.Documents[0].Status)
}

func TestAPI_ListDocuments_UnknownRun(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := get(t, handler, "/api/runs/no-such-run/documents")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
