package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/video"
)

// Registry supervises one worker per camera. All mutation goes through the
// registry mutex so add/remove/reconfigure never race with each other.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker

	factory video.SourceFactory
	bus     *bus.Bus
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. The factory is used to build a
// video source for each added camera.
func NewRegistry(factory video.SourceFactory, b *bus.Bus) *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		factory: factory,
		bus:     b,
		logger:  slog.Default().With("component", "capture-registry"),
	}
}

// Add creates and starts a worker for the camera. If the camera ID is
// empty one is generated from the name. An existing worker with the same
// ID is stopped and replaced.
func (r *Registry) Add(ctx context.Context, cam config.CameraConfig) (config.CameraConfig, error) {
	if cam.ID == "" {
		cam.ID = generateCameraID(cam.Name)
	}
	cam.ApplyDefaults()
	if cam.URI == "" {
		return cam, fmt.Errorf("camera %s has no uri", cam.ID)
	}

	source, err := r.factory(cam.ID, cam.URI)
	if err != nil {
		return cam, fmt.Errorf("create source for camera %s: %w", cam.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.workers[cam.ID]; ok {
		r.logger.Info("Replacing existing worker", "camera_id", cam.ID)
		old.Stop()
		delete(r.workers, cam.ID)
	}

	w := NewWorker(cam, source, r.bus)
	if cam.Enabled {
		if err := w.Start(ctx); err != nil {
			return cam, fmt.Errorf("start worker for camera %s: %w", cam.ID, err)
		}
	}
	r.workers[cam.ID] = w
	r.logger.Info("Camera added", "camera_id", cam.ID, "name", cam.Name, "enabled", cam.Enabled)
	return cam, nil
}

// Remove stops the camera's worker and forgets it.
func (r *Registry) Remove(cameraID string) error {
	r.mu.Lock()
	w, ok := r.workers[cameraID]
	if ok {
		delete(r.workers, cameraID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("camera %s not found", cameraID)
	}
	w.Stop()
	r.logger.Info("Camera removed", "camera_id", cameraID)
	return nil
}

// Get returns the worker for a camera, or nil.
func (r *Registry) Get(cameraID string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[cameraID]
}

// WorkerStatus is a point-in-time snapshot of one worker.
type WorkerStatus struct {
	CameraID string      `json:"camera_id"`
	Name     string      `json:"name"`
	State    WorkerState `json:"state"`
	FPS      float64     `json:"fps"`
}

// Status returns a snapshot for every registered camera.
func (r *Registry) Status() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WorkerStatus, 0, len(r.workers))
	for id, w := range r.workers {
		out = append(out, WorkerStatus{
			CameraID: id,
			Name:     w.Config().Name,
			State:    w.State(),
			FPS:      w.FPS(),
		})
	}
	return out
}

// UpdateConfig applies a new configuration to a camera by restarting its
// worker. Capture state (background model, fps window) starts fresh.
func (r *Registry) UpdateConfig(ctx context.Context, cam config.CameraConfig) error {
	if cam.ID == "" {
		return fmt.Errorf("camera config has no id")
	}
	r.mu.Lock()
	w, ok := r.workers[cam.ID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("camera %s not found", cam.ID)
	}

	// Preserve the attached sink across the restart.
	w.sinkMu.RLock()
	sink := w.sink
	w.sinkMu.RUnlock()

	if _, err := r.Add(ctx, cam); err != nil {
		return err
	}
	if sink != nil {
		if nw := r.Get(cam.ID); nw != nil {
			nw.SetSink(sink)
		}
	}
	return nil
}

// Sync reconciles the running workers with a camera list from the config
// file: new cameras are added, missing ones removed, changed ones restarted.
func (r *Registry) Sync(ctx context.Context, cams []config.CameraConfig) {
	want := make(map[string]config.CameraConfig, len(cams))
	for _, cam := range cams {
		if cam.ID == "" {
			continue
		}
		// Compare in defaulted form so an unchanged file entry does not
		// look different from the running worker's config.
		cam.ApplyDefaults()
		want[cam.ID] = cam
	}

	r.mu.Lock()
	var stale []string
	for id := range r.workers {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if err := r.Remove(id); err != nil {
			r.logger.Warn("Sync remove failed", "camera_id", id, "error", err)
		}
	}
	for id, cam := range want {
		existing := r.Get(id)
		if existing != nil {
			if existing.Config().Equal(cam) {
				continue
			}
			// Restart through UpdateConfig so an attached sink survives.
			if err := r.UpdateConfig(ctx, cam); err != nil {
				r.logger.Warn("Sync update failed", "camera_id", id, "error", err)
			}
			continue
		}
		if _, err := r.Add(ctx, cam); err != nil {
			r.logger.Warn("Sync add failed", "camera_id", id, "error", err)
		}
	}
}

// Attach binds a frame sink to a camera's worker.
func (r *Registry) Attach(cameraID string, sink FrameSink) error {
	w := r.Get(cameraID)
	if w == nil {
		return fmt.Errorf("camera %s not found", cameraID)
	}
	w.SetSink(sink)
	return nil
}

// Detach removes any frame sink from a camera's worker.
func (r *Registry) Detach(cameraID string) {
	if w := r.Get(cameraID); w != nil {
		w.SetSink(nil)
	}
}

// StopAll stops every worker. The registry stays usable afterwards.
func (r *Registry) StopAll() {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	r.logger.Info("All camera workers stopped", "count", len(workers))
}

// generateCameraID builds a unique camera ID from the display name.
func generateCameraID(name string) string {
	uid := uuid.New().String()[:8]
	base := sanitizeName(name)
	if base == "" {
		base = "camera"
	}
	return fmt.Sprintf("%s_%s", base, uid)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '_':
			b.WriteByte('_')
		}
	}
	return b.String()
}
