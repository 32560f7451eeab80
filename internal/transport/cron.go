package transport

import (
	"net/http"
	"strings"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/google/uuid"
)

// handleCronCollection implements CRUD /cron with 201 on create per §6.
func (s *Server) handleCronCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.jobs.ListEnabled(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})

	case http.MethodPost:
		var job domain.CronJob
		if err := decodeJSON(r, &job); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if err := s.sched.RegisterJob(r.Context(), &job); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, &job)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCronItemRoutes dispatches /cron/{id}, /cron/{id}/trigger, and
// /cron/{id}/history.
func (s *Server) handleCronItemRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cron/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "job id required")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "trigger":
		s.triggerCron(w, r, id)
	case len(parts) == 2 && parts[1] == "history":
		s.cronHistory(w, r, id)
	case len(parts) == 1:
		s.cronItem(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) cronItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		job, err := s.jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, job)

	case http.MethodPatch:
		job, err := s.jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := decodeJSONPartial(r, job); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.jobs.Put(r.Context(), job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, job)

	case http.MethodDelete:
		if _, err := s.jobs.Get(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := s.sched.UnregisterJob(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) triggerCron(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.sched.RunNow(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) cronHistory(w http.ResponseWriter, r *http.Request, id string) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "execution history not configured")
		return
	}
	limit := clampInt(atoiDefault(r.URL.Query().Get("limit"), 50), 1, 500)
	entries, err := s.history.List(r.Context(), id, limit, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}
