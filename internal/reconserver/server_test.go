package reconserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"shopscan/internal/jobqueue"
)

type noopRunner struct{}

func (noopRunner) Reconstruct(context.Context, string, string) error      { return nil }
func (noopRunner) Optimize(context.Context, string, string, string) error { return nil }

func newTestServer(t *testing.T) (*Server, *jobqueue.Queue, string) {
	t.Helper()
	base := t.TempDir()
	resultDir := filepath.Join(base, "logs")
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	queue := jobqueue.New(filepath.Join(base, "uploads"), resultDir, noopRunner{}, nil)
	return New("127.0.0.1:0", queue, nil), queue, resultDir
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	writer.Close()
	return &body, writer.FormDataContentType()
}

func TestGenerateAcceptsMP4(t *testing.T) {
	server, _, _ := newTestServer(t)
	body, contentType := multipartUpload(t, "shop42.mp4", []byte("video"))
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["id"] != "shop42" {
		t.Fatalf("id = %q, want shop42", payload["id"])
	}
}

func TestGenerateRejectsNonMP4(t *testing.T) {
	server, _, _ := newTestServer(t)
	body, contentType := multipartUpload(t, "shop42.avi", []byte("video"))
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateMissingFileField(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateExistingResultShortCircuits(t *testing.T) {
	server, queue, _ := newTestServer(t)
	if err := os.WriteFile(queue.OptimizedPath("shop42"), []byte("ply"), 0o644); err != nil {
		t.Fatalf("seed result: %v", err)
	}
	body, contentType := multipartUpload(t, "shop42.mp4", []byte("video"))
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["id"] != "shop42" || payload["message"] == "" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestSearchRequiresID(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchUnknownJob(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/search?id=nope", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != -1 {
		t.Fatalf("status = %d, want -1", payload["status"])
	}
}

func TestSearchCompletedReturnsArchive(t *testing.T) {
	server, queue, _ := newTestServer(t)
	if err := os.WriteFile(queue.TrajectoryPath("shop42"), []byte("0 1 2 3"), 0o644); err != nil {
		t.Fatalf("seed trajectory: %v", err)
	}
	if err := os.WriteFile(queue.OptimizedPath("shop42"), []byte("ply"), 0o644); err != nil {
		t.Fatalf("seed ply: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?id=shop42", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q, want application/zip", got)
	}
	reader, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(reader.File) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(reader.File))
	}
}

func TestSearchCompletedButMissingFilesReportsFailure(t *testing.T) {
	server, queue, _ := newTestServer(t)
	// Only the optimized point cloud exists; the trajectory is missing, so
	// the disk-inferred completed state cannot be served.
	if err := os.WriteFile(queue.OptimizedPath("shop42"), []byte("ply"), 0o644); err != nil {
		t.Fatalf("seed ply: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?id=shop42", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != -1 {
		t.Fatalf("status = %d, want -1", payload["status"])
	}
	// The failure is sticky: a re-check still reports -1.
	if status, _ := queue.Lookup("shop42"); status != jobqueue.StatusFailed {
		t.Fatalf("queue status = %s, want failed", status)
	}
}

func TestSearchQueuedJobReportsPending(t *testing.T) {
	server, queue, _ := newTestServer(t)
	// Submit without starting the worker so the job stays queued.
	if _, _, err := queue.Submit("waiting.mp4", bytes.NewReader([]byte("v"))); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?id=waiting", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != 0 {
		t.Fatalf("status = %d, want 0", payload["status"])
	}
}
