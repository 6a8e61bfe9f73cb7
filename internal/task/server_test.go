package task

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/archive"
	"github.com/doc2md/agent/internal/config"
)

func newTestServer(t *testing.T) (*Server, *MemoryStore) {
	t.Helper()
	cfg := &config.Config{
		Provider: "deepseek",
		Providers: map[string]config.ProviderConfig{
			"deepseek": {Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1"},
			"ollama":   {Model: "qwen2.5"},
		},
		Server: config.ServerConfig{OutputDir: t.TempDir()},
	}
	store := NewMemoryStore()
	return NewServer(cfg, store, zap.NewNop()), store
}

func multipartBody(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestGetTaskNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/tasks/absent")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskPayload(t *testing.T) {
	s, store := newTestServer(t)
	store.Create(&Task{ID: "t1", Status: StatusRunning, Stage: "convert", Progress: 55})

	rec := doRequest(s, http.MethodGet, "/api/tasks/t1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 55, got.Progress)
}

func TestCancelTask(t *testing.T) {
	s, store := newTestServer(t)
	store.Create(&Task{ID: "t1", Status: StatusRunning})
	store.Create(&Task{ID: "t2", Status: StatusCompleted})

	rec := doRequest(s, http.MethodPost, "/api/tasks/t1/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.CancelRequested("t1"))

	// 已结束的任务不能终止
	rec = doRequest(s, http.MethodPost, "/api/tasks/t2/cancel")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/tasks/absent/cancel")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConvertRejectsUnsupportedSuffix(t *testing.T) {
	s, _ := newTestServer(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("text"))
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "仅支持")
}

func TestDownloadStates(t *testing.T) {
	s, store := newTestServer(t)

	dir := t.TempDir()
	srcDir := filepath.Join(dir, "result")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.md"), []byte("# 文档\n"), 0o644))
	archivePath := filepath.Join(dir, "result.tar.gz")
	require.NoError(t, archive.Dir(srcDir, archivePath))

	store.Create(&Task{ID: "running", Status: StatusRunning})
	store.Create(&Task{ID: "done", Status: StatusCompleted, ArchiveFile: archivePath, SourceName: "doc.docx"})
	store.Create(&Task{ID: "stopped", Status: StatusStopped, ArchiveFile: archivePath, SourceName: "doc.docx"})

	rec := doRequest(s, http.MethodGet, "/api/tasks/running/download")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/tasks/done/download")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "doc.tar.gz")

	// 终止任务的半成品同样可下载
	rec = doRequest(s, http.MethodGet, "/api/tasks/stopped/download")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreview(t *testing.T) {
	s, store := newTestServer(t)

	dir := t.TempDir()
	outputFile := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(outputFile, []byte("# 文档\n\n正文。\n"), 0o644))
	store.Create(&Task{ID: "done", Status: StatusCompleted, OutputFile: outputFile})

	rec := doRequest(s, http.MethodGet, "/api/tasks/done/preview")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Content      string `json:"content"`
		AssetBaseURL string `json:"asset_base_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload.Content, "# 文档")
	assert.Equal(t, "/api/tasks/done/assets", payload.AssetBaseURL)
}

func TestAssetTraversalGuard(t *testing.T) {
	s, store := newTestServer(t)

	dir := t.TempDir()
	outputFile := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(outputFile, []byte("# 文档\n"), 0o644))
	imgDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "a.png"), []byte("png"), 0o644))
	store.Create(&Task{ID: "done", Status: StatusCompleted, OutputFile: outputFile})

	rec := doRequest(s, http.MethodGet, "/api/tasks/done/assets/images/a.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec = doRequest(s, http.MethodGet, "/api/tasks/done/assets/../../../etc/passwd")
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/tasks/done/assets/missing.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProviders(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/config/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		CurrentProvider string `json:"current_provider"`
		Providers       []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "deepseek", payload.CurrentProvider)
	assert.Len(t, payload.Providers, 2)
}

func TestProgressFromStage(t *testing.T) {
	tests := []struct {
		stage    string
		current  int
		total    int
		progress int
	}{
		{"preprocess", 0, 1, 8},
		{"preprocess", 1, 1, 30},
		{"analyze", 1, 1, 40},
		{"convert", 0, 4, 40},
		{"convert", 2, 4, 64},
		{"convert", 4, 4, 88},
		{"toc", 1, 1, 98},
		{"done", 1, 1, 100},
		{"unknown", 0, 0, 5},
	}
	for _, tt := range tests {
		progress, message := progressFromStage(tt.stage, tt.current, tt.total, "")
		assert.Equal(t, tt.progress, progress, "stage %s %d/%d", tt.stage, tt.current, tt.total)
		assert.NotEmpty(t, message)
	}
}

