package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visora/visora/internal/capture"
	"github.com/visora/visora/internal/config"
)

// cameraView joins a camera's stored config with its live worker state.
type cameraView struct {
	config.CameraConfig
	State capture.WorkerState `json:"state"`
	FPS   float64             `json:"fps"`
}

func (s *Server) cameraView(cam config.CameraConfig) cameraView {
	v := cameraView{CameraConfig: cam, State: capture.StateStopped}
	if w := s.cameras.Get(cam.ID); w != nil {
		v.State = w.State()
		v.FPS = w.FPS()
	}
	return v
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams := s.cfg.ListCameras()
	views := make([]cameraView, 0, len(cams))
	for _, cam := range cams {
		views = append(views, s.cameraView(cam))
	}
	JSON(w, http.StatusOK, views)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam := s.cfg.GetCamera(id)
	if cam == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}
	JSON(w, http.StatusOK, s.cameraView(*cam))
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var cam config.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		BadRequest(w, "invalid camera config: "+err.Error())
		return
	}
	// The ID may be blank here; the registry generates one from the name.
	if cam.URI == "" {
		BadRequest(w, "camera uri is required")
		return
	}
	if cam.ID != "" && s.cfg.GetCamera(cam.ID) != nil {
		Conflict(w, fmt.Sprintf("camera %s already exists", cam.ID))
		return
	}

	cam, err := s.cameras.Add(r.Context(), cam)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	if err := s.cfg.UpsertCamera(cam); err != nil {
		s.logger.Warn("Failed to persist camera", "camera_id", cam.ID, "error", err)
	}
	JSON(w, http.StatusCreated, s.cameraView(cam))
}

func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.GetCamera(id) == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}

	var cam config.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		BadRequest(w, "invalid camera config: "+err.Error())
		return
	}
	cam.ID = id
	if err := cam.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := s.cameras.UpdateConfig(r.Context(), cam); err != nil {
		InternalError(w, err.Error())
		return
	}
	if err := s.cfg.UpsertCamera(cam); err != nil {
		s.logger.Warn("Failed to persist camera", "camera_id", id, "error", err)
	}
	JSON(w, http.StatusOK, s.cameraView(cam))
}

func (s *Server) handleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.GetCamera(id) == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}

	_ = s.recorders.StopRecording(r.Context(), id)
	if err := s.cameras.Remove(id); err != nil {
		s.logger.Warn("Worker removal failed", "camera_id", id, "error", err)
	}
	if err := s.cfg.RemoveCamera(id); err != nil {
		InternalError(w, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handlePauseCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker := s.cameras.Get(id)
	if worker == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}
	worker.Pause()
	JSON(w, http.StatusOK, map[string]string{"camera_id": id, "state": string(worker.State())})
}

func (s *Server) handleResumeCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker := s.cameras.Get(id)
	if worker == nil {
		NotFound(w, fmt.Sprintf("camera %s not found", id))
		return
	}
	worker.Resume()
	JSON(w, http.StatusOK, map[string]string{"camera_id": id, "state": string(worker.State())})
}
