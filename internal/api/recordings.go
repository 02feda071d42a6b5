package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visora/visora/internal/recording"
)

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam := s.cfg.GetCamera(id)
	if cam == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}

	rec, err := s.recorders.StartRecording(r.Context(), *cam)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	if err := s.cameras.Attach(id, rec); err != nil {
		s.logger.Warn("No running worker to feed recorder", "camera_id", id, "error", err)
	}
	JSON(w, http.StatusOK, rec.Status())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.cameras.Detach(id)
	if err := s.recorders.StopRecording(r.Context(), id); err != nil {
		NotFound(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"camera_id": id, "recording": "stopped"})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.recorders.Status())
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	opts := recording.ListOptions{Limit: 50}
	q := r.URL.Query()

	if v := q.Get("camera_id"); v != "" {
		opts.CameraID = v
	}
	if v := q.Get("start"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			BadRequest(w, "invalid start: "+err.Error())
			return
		}
		opts.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			BadRequest(w, "invalid end: "+err.Error())
			return
		}
		opts.End = &t
	}
	if v := q.Get("has_motion"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid has_motion: "+err.Error())
			return
		}
		opts.HasMotion = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		opts.Offset = n
	}

	recs, err := s.store.List(r.Context(), opts)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		BadRequest(w, "invalid recording id")
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		NotFound(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordingEvents(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		BadRequest(w, "invalid recording id")
		return
	}
	events, err := s.store.EventsForRecording(r.Context(), id)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, events)
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	usage, err := s.store.UsageByCamera(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, usage)
}

func (s *Server) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	stats, err := s.monitor.Cleanup(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, stats)
}

// parseTimeParam accepts RFC 3339 timestamps or Unix seconds.
func parseTimeParam(v string) (time.Time, error) {
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}
