package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/sessions"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := sessions.NewMemoryStore()
	return New(Config{Store: store})
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"title": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created session: %v", err)
	}
	if created.Title != "hello" {
		t.Fatalf("created.Title = %q, want hello", created.Title)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID, nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions/{id} status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestListSessionsPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]string{"title": "s"})
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions?limit=2", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions status = %d, want 200", rec.Code)
	}
	var resp sessionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if resp.Total != 3 || len(resp.Sessions) != 2 || !resp.HasMore {
		t.Fatalf("resp = %+v, want total=3 len=2 hasMore=true", resp)
	}
}

func TestDeleteSessionEndsIt(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"title": "s"})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var created domain.Session
	json.Unmarshal(rec.Body.Bytes(), &created)

	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	store := sessions.NewMemoryStore()
	s := New(Config{Store: store, JWTSigningKey: "test-secret"})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a bearer token", rec.Code)
	}
}

func TestBearerAuthDisabledWithoutSigningKey(t *testing.T) {
	store := sessions.NewMemoryStore()
	s := New(Config{Store: store})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no signing key is configured", rec.Code)
	}
}
