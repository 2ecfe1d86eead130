package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/jobs"
	"github.com/ternarybob/catena/internal/models"
	"github.com/ternarybob/catena/internal/sources"
	storagebadger "github.com/ternarybob/catena/internal/storage/badger"
)

type memQueue struct {
	mu       sync.Mutex
	messages []models.QueueMessage
}

func (q *memQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return &msg, func() error { return nil }, nil
}

func (q *memQueue) Close() error { return nil }

func newTestJobHandler(t *testing.T) (*JobHandler, *storagebadger.Manager) {
	t.Helper()

	tmpDir := t.TempDir()
	logger := arbor.NewLogger()
	manager, err := storagebadger.NewManager(logger, &common.StorageConfig{
		Badger:    common.BadgerConfig{Path: filepath.Join(tmpDir, "badger")},
		Artifacts: filepath.Join(tmpDir, "artifacts"),
	})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	jobsCfg := &common.JobsConfig{
		ImportChunkSize:     500,
		ExportChunkSize:     1000,
		LinkChunkSize:       200,
		EnrichmentChunkSize: 100,
		MaxRetries:          3,
		ChunkStaleAfter:     "5m",
		MediaStaleAfter:     "30m",
	}
	factory := sources.NewFactory(logger, &common.SourcesConfig{})
	orchestrator := jobs.NewOrchestrator(logger, manager.JobStorage(), manager.ProductStorage(), factory, &memQueue{}, jobsCfg)
	return NewJobHandler(logger, orchestrator, manager.JobStorage()), manager
}

func writeCatalog(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("ean,name,reference,price\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, ",Product %03d,REF-%03d,9.99\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "catalog.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartJobHandlerAccepted(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	path := writeCatalog(t, 10)
	body, _ := json.Marshal(map[string]interface{}{
		"kind":     "import",
		"owner_id": "owner-1",
		"source":   map[string]string{"type": "csv", "location": path},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["job_id"] == "" || resp["job_id"] == nil {
		t.Error("Response missing job_id")
	}
	if resp["total_estimate"].(float64) != 10 {
		t.Errorf("total_estimate = %v, want 10", resp["total_estimate"])
	}
}

func TestStartJobHandlerRejectsMissingKind(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"owner_id":"owner-1"}`))
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestStartJobHandlerRejectsEmptySource(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	// Header only, no importable rows
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("ean,name,reference,price\n"), 0644); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(map[string]interface{}{
		"kind":     "import",
		"owner_id": "owner-1",
		"source":   map[string]string{"type": "csv", "location": path},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestStartJobHandlerRejectsWrongMethod(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", rec.Code)
	}
}

func TestGetJobStatusPoll(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	path := writeCatalog(t, 10)
	body, _ := json.Marshal(map[string]interface{}{
		"kind":     "import",
		"owner_id": "owner-1",
		"source":   map[string]string{"type": "csv", "location": path},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatal(rec.Body.String())
	}
	var created map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	jobID := created["job_id"].(string)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil)
	statusRec := httptest.NewRecorder()
	handler.JobRoutesHandler(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", statusRec.Code, statusRec.Body.String())
	}
	var status map[string]interface{}
	if err := json.Unmarshal(statusRec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status["status"] != string(models.JobStatusQueued) {
		t.Errorf("Job status = %v, want queued", status["status"])
	}
	if status["progress_total"].(float64) != 10 {
		t.Errorf("progress_total = %v, want 10", status["progress_total"])
	}
}

func TestGetJobNotFound(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-missing", nil)
	rec := httptest.NewRecorder()
	handler.JobRoutesHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	handler, _ := newTestJobHandler(t)

	path := writeCatalog(t, 10)
	body, _ := json.Marshal(map[string]interface{}{
		"kind":     "import",
		"owner_id": "owner-1",
		"source":   map[string]string{"type": "csv", "location": path},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.StartJobHandler(rec, req)
	var created map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	jobID := created["job_id"].(string)

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/cancel", strings.NewReader(`{"reason":"operator abort"}`))
	cancelRec := httptest.NewRecorder()
	handler.JobRoutesHandler(cancelRec, cancelReq)

	if cancelRec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", cancelRec.Code, cancelRec.Body.String())
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(cancelRec.Body.Bytes(), &resp)
	if resp["status"] != string(models.JobStatusFailed) {
		t.Errorf("Cancelled job status = %v, want failed", resp["status"])
	}
}
