package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
)

// Registry supervises one recorder per camera and relays motion events
// from the bus onto the active segment's metadata.
type Registry struct {
	mu        sync.Mutex
	recorders map[string]*Recorder

	store       *Store
	bus         *bus.Bus
	storagePath string
	factory     WriterFactory
	logger      *slog.Logger

	motionSub *nats.Subscription
}

// NewRegistry creates a recorder registry. A nil factory uses the default
// segment writer.
func NewRegistry(store *Store, b *bus.Bus, storagePath string, factory WriterFactory) *Registry {
	return &Registry{
		recorders:   make(map[string]*Recorder),
		store:       store,
		bus:         b,
		storagePath: storagePath,
		factory:     factory,
		logger:      slog.Default().With("component", "recording-registry"),
	}
}

// Start subscribes the registry to motion events so active recordings get
// their has_motion flag set.
func (r *Registry) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(bus.SubjectMotion+".>", func(msg *nats.Msg) {
		var ev bus.MotionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			r.logger.Warn("Bad motion event payload", "error", err)
			return
		}
		if !ev.Detected {
			return
		}
		if rec := r.Get(ev.CameraID); rec != nil {
			rec.MarkMotion(ctx)
			if err := r.store.InsertEvent(ctx, ev.CameraID, "motion", ""); err != nil {
				r.logger.Warn("Failed to log motion event", "camera_id", ev.CameraID, "error", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to motion events: %w", err)
	}
	r.motionSub = sub
	return nil
}

// StartRecording creates and starts a recorder for the camera. An already
// recording camera is stopped and restarted with the given config.
func (r *Registry) StartRecording(ctx context.Context, cam config.CameraConfig) (*Recorder, error) {
	if cam.ID == "" {
		return nil, fmt.Errorf("camera config has no id")
	}

	r.mu.Lock()
	old := r.recorders[cam.ID]
	delete(r.recorders, cam.ID)
	r.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	rec := NewRecorder(cam, r.store, r.bus, r.storagePath, r.factory)
	if err := rec.Start(ctx); err != nil {
		return nil, fmt.Errorf("start recorder for camera %s: %w", cam.ID, err)
	}

	r.mu.Lock()
	r.recorders[cam.ID] = rec
	r.mu.Unlock()

	if err := r.store.InsertEvent(ctx, cam.ID, "recording_start", ""); err != nil {
		r.logger.Warn("Failed to log recording start", "camera_id", cam.ID, "error", err)
	}
	return rec, nil
}

// StopRecording stops and removes the camera's recorder.
func (r *Registry) StopRecording(ctx context.Context, cameraID string) error {
	r.mu.Lock()
	rec, ok := r.recorders[cameraID]
	if ok {
		delete(r.recorders, cameraID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("camera %s is not recording", cameraID)
	}
	rec.Stop()

	if err := r.store.InsertEvent(ctx, cameraID, "recording_stop", ""); err != nil {
		r.logger.Warn("Failed to log recording stop", "camera_id", cameraID, "error", err)
	}
	return nil
}

// Get returns the camera's recorder, or nil.
func (r *Registry) Get(cameraID string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorders[cameraID]
}

// Status returns a snapshot of every active recorder.
func (r *Registry) Status() []RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecorderStatus, 0, len(r.recorders))
	for _, rec := range r.recorders {
		out = append(out, rec.Status())
	}
	return out
}

// StopAll stops every recorder and the motion subscription.
func (r *Registry) StopAll() {
	if r.motionSub != nil {
		_ = r.motionSub.Unsubscribe()
		r.motionSub = nil
	}

	r.mu.Lock()
	recs := make([]*Recorder, 0, len(r.recorders))
	for _, rec := range r.recorders {
		recs = append(recs, rec)
	}
	r.recorders = make(map[string]*Recorder)
	r.mu.Unlock()

	for _, rec := range recs {
		rec.Stop()
	}
	r.logger.Info("All recorders stopped", "count", len(recs))
}
