package api

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/dispatcher"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// download handles GET /api/v1/download/{filename}. Only plain file names
// are served; anything with a directory component is rejected.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		writeError(w, http.StatusServiceUnavailable, "output store unavailable")
		return
	}
	raw := chi.URLParam(r, "filename")
	name, err := storage.CleanName(raw)
	if err != nil || strings.Contains(name, "/") || path.Ext(name) != ".csv" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	data, err := s.deps.Files.Read(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("read output failed", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("download write failed", zap.Error(err))
	}
}

// stopRun handles POST /api/v1/runs/{run_id}/stop.
func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runs unavailable")
		return
	}
	id := chi.URLParam(r, "run_id")
	if err := s.deps.Runs.Stop(id); err != nil {
		if errors.Is(err, dispatcher.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not active")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "stopping"})
}
