package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/video"
)

// recordQueueSize bounds the frame queue between capture hand-off and the
// encoder. A stalled disk sheds frames instead of backing up capture.
const recordQueueSize = 300

// Recorder writes one camera's frames into timed segment files and keeps
// the metadata store in sync. Frames arrive through AddFrame, which never
// blocks.
type Recorder struct {
	cameraID    string
	cfg         config.CameraConfig
	store       *Store
	bus         *bus.Bus
	storagePath string
	newWriter   WriterFactory
	logger      *slog.Logger

	queue    chan *video.Frame
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	started       bool
	recording     bool
	currentID     int64
	currentPath   string
	segmentStart  time.Time
	segmentMotion bool
	framesWritten int64
	dropped       int64
	lastErr       error
}

// NewRecorder creates a recorder for a camera. Call Start to open the
// first segment and begin consuming frames.
func NewRecorder(cam config.CameraConfig, store *Store, b *bus.Bus, storagePath string, factory WriterFactory) *Recorder {
	if factory == nil {
		factory = NewSegmentWriter
	}
	return &Recorder{
		cameraID:    cam.ID,
		cfg:         cam,
		store:       store,
		bus:         b,
		storagePath: storagePath,
		newWriter:   factory,
		queue:       make(chan *video.Frame, recordQueueSize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		logger:      slog.Default().With("component", "recorder", "camera_id", cam.ID),
	}
}

// Start opens the first segment and launches the write loop. Errors
// opening the segment file or inserting the metadata row surface here.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("recorder for camera %s already started", r.cameraID)
	}

	writer, err := r.openSegmentLocked(ctx, time.Now())
	if err != nil {
		_ = r.bus.PublishRecordingError(r.cameraID, err.Error())
		return err
	}
	r.started = true
	r.recording = true

	go r.run(ctx, writer)

	_ = r.bus.PublishRecordingStarted(r.cameraID, r.currentID, r.currentPath)
	r.logger.Info("Recording started", "recording_id", r.currentID, "path", r.currentPath)
	return nil
}

// AddFrame queues a frame for writing. Frames are dropped when the queue
// is full or the recorder is not running.
func (r *Recorder) AddFrame(frame *video.Frame) {
	r.mu.Lock()
	active := r.recording
	r.mu.Unlock()
	if !active {
		return
	}
	select {
	case r.queue <- frame:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// MarkMotion flags the current segment as containing motion.
func (r *Recorder) MarkMotion(ctx context.Context) {
	r.mu.Lock()
	id := r.currentID
	seen := r.segmentMotion
	r.segmentMotion = true
	active := r.recording
	r.mu.Unlock()

	if !active || seen {
		return
	}
	if err := r.store.SetHasMotion(ctx, id); err != nil {
		r.logger.Warn("Failed to flag motion on recording", "recording_id", id, "error", err)
	}
}

// Stop drains queued frames, finalizes the open segment, and waits for the
// write loop to exit. Safe to call more than once and on a recorder that
// never started.
func (r *Recorder) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

// RecorderStatus is a point-in-time snapshot of a recorder.
type RecorderStatus struct {
	CameraID      string    `json:"camera_id"`
	Recording     bool      `json:"recording"`
	RecordingID   int64     `json:"recording_id"`
	CurrentPath   string    `json:"current_path"`
	SegmentStart  time.Time `json:"segment_start"`
	FramesWritten int64     `json:"frames_written"`
	DroppedFrames int64     `json:"dropped_frames"`
}

// Status returns a snapshot of the recorder.
func (r *Recorder) Status() RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStatus{
		CameraID:      r.cameraID,
		Recording:     r.recording,
		RecordingID:   r.currentID,
		CurrentPath:   r.currentPath,
		SegmentStart:  r.segmentStart,
		FramesWritten: r.framesWritten,
		DroppedFrames: r.dropped,
	}
}

// Err returns the error that stopped the recorder, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// openSegmentLocked creates the segment file, its writer, and the open
// metadata row. Caller holds r.mu.
func (r *Recorder) openSegmentLocked(ctx context.Context, start time.Time) (SegmentWriter, error) {
	path, err := segmentPath(r.storagePath, r.cameraID, start, r.cfg.Recording.Codec)
	if err != nil {
		return nil, err
	}
	writer, err := r.newWriter(path, r.cfg.Recording.Codec)
	if err != nil {
		return nil, fmt.Errorf("open segment writer: %w", err)
	}
	id, err := r.store.InsertRecording(ctx, r.cameraID, start, path)
	if err != nil {
		writer.Close()
		os.Remove(path)
		return nil, err
	}
	r.currentID = id
	r.currentPath = path
	r.segmentStart = start
	r.segmentMotion = false
	return writer, nil
}

func (r *Recorder) run(ctx context.Context, writer SegmentWriter) {
	defer close(r.done)

	for {
		select {
		case frame := <-r.queue:
			var err error
			writer, err = r.writeFrame(ctx, writer, frame)
			if err != nil {
				r.fail(writer, err)
				return
			}
		case <-r.stopCh:
			writer = r.drain(ctx, writer)
			r.finalize(ctx, writer)
			_ = r.bus.PublishRecordingStopped(r.cameraID)
			r.logger.Info("Recording stopped")
			return
		}
	}
}

// writeFrame writes one frame, rotating first when the current segment has
// run its full duration. The frame that triggers rotation lands in the new
// segment.
func (r *Recorder) writeFrame(ctx context.Context, writer SegmentWriter, frame *video.Frame) (SegmentWriter, error) {
	r.mu.Lock()
	elapsed := time.Since(r.segmentStart)
	r.mu.Unlock()

	if elapsed >= r.cfg.Recording.SegmentDuration {
		var err error
		writer, err = r.rotate(ctx, writer)
		if err != nil {
			return writer, err
		}
	}

	if err := writer.WriteFrame(frame); err != nil {
		return writer, fmt.Errorf("write frame: %w", err)
	}
	r.mu.Lock()
	r.framesWritten++
	r.mu.Unlock()
	return writer, nil
}

// rotate closes the current segment and opens the next one.
func (r *Recorder) rotate(ctx context.Context, writer SegmentWriter) (SegmentWriter, error) {
	now := time.Now()

	r.mu.Lock()
	closedID := r.currentID
	closedPath := r.currentPath
	start := r.segmentStart
	r.mu.Unlock()

	size, err := writer.Close()
	if err != nil {
		return writer, fmt.Errorf("close segment: %w", err)
	}
	if err := r.store.CloseRecording(ctx, closedID, now, size, now.Sub(start).Seconds()); err != nil {
		return writer, err
	}
	_ = r.bus.PublishSegmentClosed(r.cameraID, closedID, closedPath)
	r.logger.Debug("Segment rotated", "recording_id", closedID, "size", size)

	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.openSegmentLocked(ctx, now)
	if err != nil {
		return writer, err
	}
	return next, nil
}

// drain writes out whatever is still queued without waiting for more.
func (r *Recorder) drain(ctx context.Context, writer SegmentWriter) SegmentWriter {
	for {
		select {
		case frame := <-r.queue:
			var err error
			writer, err = r.writeFrame(ctx, writer, frame)
			if err != nil {
				r.logger.Warn("Dropping queued frames after write error", "error", err)
				return writer
			}
		default:
			return writer
		}
	}
}

// finalize closes the writer and the open metadata row.
func (r *Recorder) finalize(ctx context.Context, writer SegmentWriter) {
	now := time.Now()

	r.mu.Lock()
	id := r.currentID
	start := r.segmentStart
	r.recording = false
	r.mu.Unlock()

	size, err := writer.Close()
	if err != nil {
		r.logger.Warn("Segment close failed", "error", err)
	}
	if err := r.store.CloseRecording(ctx, id, now, size, now.Sub(start).Seconds()); err != nil {
		r.logger.Warn("Failed to close recording row", "recording_id", id, "error", err)
	}
}

// fail records a terminal write error, closes out the segment, and stops.
func (r *Recorder) fail(writer SegmentWriter, err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	_ = r.bus.PublishRecordingError(r.cameraID, err.Error())
	r.logger.Error("Recorder write loop failed", "error", err)
	r.finalize(context.Background(), writer)
}
