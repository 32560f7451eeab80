package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/scheduler"
	"github.com/conclave-run/conclave/internal/sessions"
)

func newTestServerWithCron(t *testing.T) *Server {
	t.Helper()
	store := sessions.NewMemoryStore()
	jobs := scheduler.NewMemoryJobStore()
	history := scheduler.NewMemoryExecutionStore()
	sched := scheduler.New(jobs, history, scheduler.ExecutorFunc(func(ctx context.Context, job *domain.CronJob) error {
		return nil
	}))
	return New(Config{Store: store, Scheduler: sched, Jobs: jobs, History: history})
}

func TestCreateAndTriggerCronJob(t *testing.T) {
	s := newTestServerWithCron(t)

	body, _ := json.Marshal(map[string]any{
		"id":              "job-1",
		"name":            "nightly report",
		"schedule":        "0 0 * * *",
		"target_agent_id": "agent-1",
		"enabled":         true,
	})
	req := httptest.NewRequest(http.MethodPost, "/cron", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /cron status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/cron/job-1/trigger", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /cron/{id}/trigger status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/cron/job-1/history?limit=10", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /cron/{id}/history status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteCronJob(t *testing.T) {
	s := newTestServerWithCron(t)

	body, _ := json.Marshal(map[string]any{
		"id":              "job-2",
		"name":            "cleanup",
		"schedule":        "*/5 * * * *",
		"target_agent_id": "agent-1",
		"enabled":         true,
	})
	req := httptest.NewRequest(http.MethodPost, "/cron", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /cron status = %d, want 201", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/cron/job-2", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /cron/{id} status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/cron/job-2", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /cron/{id} after delete status = %d, want 404", rec.Code)
	}
}
