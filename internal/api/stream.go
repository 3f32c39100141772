package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/dispatcher"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// streamParams reads the run parameters from the query string.
func streamParams(r *http.Request) (agent.Params, error) {
	q := r.URL.Query()
	params := agent.Params{
		TargetURL: strings.TrimSpace(q.Get("target_url")),
		StartDate: strings.TrimSpace(q.Get("start_date")),
		EndDate:   strings.TrimSpace(q.Get("end_date")),
	}
	if raw := strings.TrimSpace(q.Get("target_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return agent.Params{}, errors.New("target_count must be an integer")
		}
		params.TargetCount = n
	}
	if raw := strings.TrimSpace(q.Get("max_requests")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return agent.Params{}, errors.New("max_requests must be an integer")
		}
		params.MaxRequests = n
	}
	return params, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// stream handles GET /api/v1/stream. It starts a run and relays its events
// as server-sent events, ending with an "event: close" frame. The run is
// stopped when the client disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.deps.Runs == nil || s.deps.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "runs unavailable")
		return
	}
	params, err := streamParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	run, err := s.deps.Runs.Prepare(params)
	switch {
	case errors.Is(err, dispatcher.ErrTargetActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, dispatcher.ErrNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, dispatcher.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := s.deps.Stream.Subscribe(run.RunID())
	defer s.deps.Stream.Unsubscribe(sub)
	if err := s.deps.Runs.Launch(r.Context(), run); err != nil {
		s.deps.Runs.Release(run)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Run-ID", run.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	status := ""
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream client went away", zap.String("run_id", run.ID()))
			return
		case evt, open := <-sub.C:
			if !open {
				s.closeStream(w, flusher, run, status, sub.Dropped())
				return
			}
			if evt.Type == progress.TypeTerminal {
				status = evt.Status
			}
			if err := writeEvent(w, evt); err != nil {
				s.logger.Warn("stream write failed", zap.String("run_id", run.ID()), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) closeStream(w http.ResponseWriter, flusher http.Flusher, run *agent.Run, status string, dropped int64) {
	if dropped > 0 {
		s.logger.Warn("stream subscriber fell behind",
			zap.String("run_id", run.ID()), zap.Int64("dropped", dropped))
	}
	if status == "" {
		status = "interrupted"
	}
	if _, err := fmt.Fprintf(w, "event: close\ndata: %s\n\n", status); err != nil {
		s.logger.Debug("stream close frame failed", zap.Error(err))
		return
	}
	flusher.Flush()
}

// writeEvent renders one SSE frame. Download frames carry the file name so
// clients can fetch it from /api/v1/download.
func writeEvent(w http.ResponseWriter, evt progress.Event) error {
	data := evt.String()
	if evt.Type == progress.TypeDownload {
		data = evt.Filename
	}
	data = strings.ReplaceAll(data, "\n", " ")
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
