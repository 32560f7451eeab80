package transport

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/google/uuid"
)

type sessionListResponse struct {
	Sessions []*domain.Session `json:"sessions"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	HasMore  bool              `json:"has_more"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodPost:
		s.createSession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// listSessions implements GET /sessions with the §6 filter/sort/page
// contract. sessions.Store.ListOptions only carries Status/Limit/Offset,
// so agent_id/session_type/search/date range/sort are applied in-handler
// over the store's result set.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampInt(atoiDefault(q.Get("limit"), 20), 1, 100)
	offset := maxInt(atoiDefault(q.Get("offset"), 0), 0)

	all, err := s.store.ListSessions(r.Context(), q.Get("agent_id"), sessions.ListOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filtered := filterSessions(all, q)
	sortSessions(filtered, q.Get("sort"), q.Get("order"))

	total := len(filtered)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	page := filtered[offset:end]

	writeJSON(w, http.StatusOK, sessionListResponse{
		Sessions: page,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  end < total,
	})
}

func filterSessions(all []*domain.Session, q map[string][]string) []*domain.Session {
	sessionType := get(q, "session_type")
	search := strings.ToLower(get(q, "search"))
	dateFrom := parseTime(get(q, "date_from"))
	dateTo := parseTime(get(q, "date_to"))

	out := make([]*domain.Session, 0, len(all))
	for _, sess := range all {
		if sessionType != "" && string(sess.Type) != sessionType {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(sess.Title), search) {
			continue
		}
		if dateFrom != nil && sess.CreatedAt.Before(*dateFrom) {
			continue
		}
		if dateTo != nil && sess.CreatedAt.After(*dateTo) {
			continue
		}
		out = append(out, sess)
	}
	return out
}

func sortSessions(list []*domain.Session, field, order string) {
	if field == "" {
		field = "created_at"
	}
	desc := order != "asc"
	less := func(i, j int) bool {
		var a, b time.Time
		switch field {
		case "updated_at":
			a, b = list[i].UpdatedAt, list[j].UpdatedAt
		case "title":
			return lessTitle(list[i].Title, list[j].Title, desc)
		default:
			a, b = list[i].CreatedAt, list[j].CreatedAt
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	}
	sort.SliceStable(list, less)
}

func lessTitle(a, b string, desc bool) bool {
	if desc {
		return a > b
	}
	return a < b
}

type createSessionRequest struct {
	AgentID     string         `json:"agent_id"`
	Title       string         `json:"title"`
	SessionType string         `json:"session_type"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionType := domain.SessionChat
	if req.SessionType != "" {
		sessionType = domain.SessionType(req.SessionType)
	}

	sess := &domain.Session{
		ID:       uuid.NewString(),
		AgentID:  req.AgentID,
		Type:     sessionType,
		Title:    req.Title,
		Status:   domain.SessionActive,
		Metadata: req.Metadata,
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleSessionSubroutes dispatches /sessions/{id}[/messages|/end] and
// /sessions/stats.
func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "stats" {
		s.sessionStats(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "messages":
		s.sessionMessages(w, r, id)
	case len(parts) == 2 && parts[1] == "end":
		s.endSession(w, r, id)
	case len(parts) == 1:
		s.sessionDetail(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) sessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.GetSession(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		history, err := s.store.GetHistory(r.Context(), id, 10)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": history})

	case http.MethodPatch:
		sess, err := s.store.GetSession(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		var patch struct {
			Title    *string         `json:"title"`
			Metadata map[string]any  `json:"metadata"`
			Status   *domain.SessionStatus `json:"status"`
		}
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if patch.Title != nil {
			sess.Title = *patch.Title
		}
		if patch.Metadata != nil {
			sess.Metadata = patch.Metadata
		}
		if patch.Status != nil {
			sess.Status = *patch.Status
		}
		if err := s.store.UpdateSession(r.Context(), sess); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case http.MethodDelete:
		if _, err := s.store.GetSession(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := s.store.EndSession(r.Context(), id, time.Now()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) sessionMessages(w http.ResponseWriter, r *http.Request, id string) {
	limit := clampInt(atoiDefault(r.URL.Query().Get("limit"), 50), 1, 500)
	history, err := s.store.GetHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if since := parseTime(r.URL.Query().Get("since")); since != nil {
		filtered := history[:0]
		for _, m := range history {
			if m.CreatedAt.After(*since) {
				filtered = append(filtered, m)
			}
		}
		history = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.store.EndSession(r.Context(), id, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.ListSessions(r.Context(), "", sessions.ListOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var active, ended int
	for _, sess := range all {
		if sess.Status == domain.SessionEnded {
			ended++
		} else {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"total":  len(all),
		"active": active,
		"ended":  ended,
	})
}

func get(q map[string][]string, key string) string {
	if v, ok := q[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func atoiDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
