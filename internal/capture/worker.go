// Package capture runs per-camera acquisition workers. Each worker owns a
// video source, applies frame processing and motion detection, and hands
// frames off to the recording side through a bounded buffer.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/video"
)

// WorkerState represents the lifecycle state of a camera worker
type WorkerState string

const (
	StateStopped    WorkerState = "stopped"
	StateConnecting WorkerState = "connecting"
	StateStreaming  WorkerState = "streaming"
	StatePaused     WorkerState = "paused"
	StateFailed     WorkerState = "failed"
)

// FrameSink receives frames from a worker. AddFrame must not block.
type FrameSink interface {
	AddFrame(frame *video.Frame)
}

// frameBufferSize bounds the hand-off between capture and the sink so a
// slow consumer sheds frames instead of stalling acquisition.
const frameBufferSize = 30

// Worker captures frames from a single camera. It reconnects on source
// failures up to the configured retry limit and paces frame acceptance to
// the configured fps limit.
type Worker struct {
	cfg       config.CameraConfig
	source    video.Source
	processor *video.Processor
	detector  *video.MotionDetector
	bus       *bus.Bus
	logger    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	state   WorkerState
	paused  bool
	running bool
	retries int
	fps     float64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	fwdDone chan struct{}

	buffer chan *video.Frame

	sinkMu sync.RWMutex
	sink   FrameSink

	subMu sync.RWMutex
	subs  map[chan *video.Frame]struct{}
}

// NewWorker creates a worker for the given camera. The source is opened
// when Start is called, not here.
func NewWorker(cfg config.CameraConfig, source video.Source, b *bus.Bus) *Worker {
	w := &Worker{
		cfg:    cfg,
		source: source,
		processor: video.NewProcessor(video.ProcessorConfig{
			TargetWidth:  cfg.Resolution.Width,
			TargetHeight: cfg.Resolution.Height,
			Denoise:      cfg.Processing.Denoise,
			Sharpen:      cfg.Processing.Sharpen,
			Brightness:   cfg.Processing.Brightness,
		}),
		bus: b,
		state:     StateStopped,
		buffer:    make(chan *video.Frame, frameBufferSize),
		subs:      make(map[chan *video.Frame]struct{}),
		logger:    slog.Default().With("component", "capture", "camera_id", cfg.ID),
	}
	if cfg.Motion.Enabled {
		w.detector = video.NewMotionDetector(video.MotionConfig{
			Threshold: cfg.Motion.Threshold,
			MinArea:   cfg.Motion.MinArea,
		})
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start begins the capture loop. It is an error to start a running worker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker for camera %s already running", w.cfg.ID)
	}
	w.running = true
	w.paused = false
	w.retries = 0
	w.state = StateConnecting
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.fwdDone = make(chan struct{})

	go w.forward()
	go w.run()

	w.logger.Info("Camera worker started", "uri", w.cfg.URI)
	return nil
}

// Stop halts the capture loop, releases the source, and waits for both
// worker goroutines to exit, so no sink receives frames after it returns.
// Safe to call more than once, on a worker that never started, and on a
// worker that already failed.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.running = false
	w.cond.Broadcast()
	cancel := w.cancel
	done := w.done
	fwdDone := w.fwdDone
	w.mu.Unlock()

	cancel()
	<-done
	<-fwdDone
	if wasRunning {
		w.logger.Info("Camera worker stopped")
	}
}

// Pause suspends frame acceptance without closing the source.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.paused {
		return
	}
	w.paused = true
	w.logger.Info("Camera worker paused")
}

// Resume continues a paused worker.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		return
	}
	w.paused = false
	w.cond.Broadcast()
	w.logger.Info("Camera worker resumed")
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// FPS returns the most recent measured frame rate.
func (w *Worker) FPS() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fps
}

// Config returns the camera configuration the worker was built with.
func (w *Worker) Config() config.CameraConfig {
	return w.cfg
}

// SetSink attaches the frame consumer. Passing nil detaches.
func (w *Worker) SetSink(sink FrameSink) {
	w.sinkMu.Lock()
	w.sink = sink
	w.sinkMu.Unlock()
}

// Subscribe returns a channel that receives processed frames. Frames are
// dropped for subscribers that fall behind.
func (w *Worker) Subscribe() chan *video.Frame {
	ch := make(chan *video.Frame, 16)
	w.subMu.Lock()
	w.subs[ch] = struct{}{}
	w.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (w *Worker) Unsubscribe(ch chan *video.Frame) {
	w.subMu.Lock()
	if _, ok := w.subs[ch]; ok {
		delete(w.subs, ch)
		close(ch)
	}
	w.subMu.Unlock()
}

// forward drains the hand-off buffer into the attached sink.
func (w *Worker) forward() {
	defer close(w.fwdDone)
	for {
		select {
		case frame := <-w.buffer:
			w.sinkMu.RLock()
			sink := w.sink
			w.sinkMu.RUnlock()
			if sink != nil {
				sink.AddFrame(frame)
			}
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if err := w.source.Release(); err != nil {
			w.logger.Warn("Source release failed", "error", err)
		}
	}()

	for w.isRunning() {
		w.setState(StateConnecting)
		if err := w.connect(); err != nil {
			if !w.isRunning() {
				break
			}
			if w.failureBudgetExceeded(err) {
				return
			}
			w.waitRetry()
			continue
		}

		_ = w.bus.PublishStatus(w.cfg.ID, true)
		w.resetRetries()
		if w.detector != nil {
			w.detector.Reset()
		}
		w.setState(StateStreaming)
		w.logger.Info("Camera connected", "uri", w.cfg.URI)

		err := w.stream()
		if err == nil || !w.isRunning() {
			break
		}

		_ = w.bus.PublishStatus(w.cfg.ID, false)
		_ = w.bus.PublishError(w.cfg.ID, fmt.Sprintf("stream interrupted: %v", err))
		w.logger.Warn("Stream interrupted", "error", err)
		if err := w.source.Release(); err != nil {
			w.logger.Warn("Source release failed", "error", err)
		}
		if w.failureBudgetExceeded(err) {
			return
		}
		w.waitRetry()
	}
	w.setState(StateStopped)
}

func (w *Worker) connect() error {
	if err := w.source.Open(w.ctx); err != nil {
		_ = w.bus.PublishStatus(w.cfg.ID, false)
		w.logger.Warn("Camera connect failed", "error", err)
		return err
	}
	if err := w.source.SetResolution(w.cfg.Resolution.Width, w.cfg.Resolution.Height); err != nil {
		w.logger.Warn("Resolution request rejected", "error", err)
	}
	return nil
}

// failureBudgetExceeded counts a consecutive failure. When the retry limit
// is reached it emits a single terminal error and puts the worker into the
// failed state. No automatic restart happens after that.
func (w *Worker) failureBudgetExceeded(cause error) bool {
	w.mu.Lock()
	w.retries++
	retries := w.retries
	w.mu.Unlock()

	if retries < w.cfg.MaxRetries {
		return false
	}
	_ = w.bus.PublishFatalError(w.cfg.ID,
		fmt.Sprintf("camera unreachable after %d attempts: %v", retries, cause))
	w.logger.Error("Retry limit reached, giving up", "retries", retries, "error", cause)

	w.mu.Lock()
	w.running = false
	w.state = StateFailed
	cancel := w.cancel
	w.mu.Unlock()
	// Release the derived context so the forward goroutine exits even when
	// nobody calls Stop on the failed worker.
	cancel()
	return true
}

func (w *Worker) resetRetries() {
	w.mu.Lock()
	w.retries = 0
	w.mu.Unlock()
}

func (w *Worker) waitRetry() {
	select {
	case <-time.After(w.cfg.RetryInterval):
	case <-w.ctx.Done():
	}
}

// stream reads frames until the worker stops or the source errors. Frames
// are paced to the fps limit by sleeping out the remainder of each frame
// interval before the next read, so the source is never read faster than
// the limit allows.
func (w *Worker) stream() error {
	var interval time.Duration
	if w.cfg.FPSLimit > 0 {
		interval = time.Duration(float64(time.Second) / w.cfg.FPSLimit)
	}

	var lastAccepted time.Time
	fpsWindow := time.Now()
	fpsCount := 0

	for {
		if !w.waitWhilePaused() {
			return nil
		}

		if interval > 0 && !lastAccepted.IsZero() {
			if wait := interval - time.Since(lastAccepted); wait > 0 {
				select {
				case <-time.After(wait):
				case <-w.ctx.Done():
					return nil
				}
			}
		}

		frame, err := w.source.ReadFrame(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		lastAccepted = time.Now()
		frame.CameraID = w.cfg.ID

		w.handleFrame(frame)

		fpsCount++
		if elapsed := time.Since(fpsWindow); elapsed >= time.Second {
			fps := float64(fpsCount) / elapsed.Seconds()
			w.mu.Lock()
			w.fps = fps
			w.mu.Unlock()
			_ = w.bus.PublishFPS(w.cfg.ID, fps)
			fpsWindow = time.Now()
			fpsCount = 0
		}
	}
}

// handleFrame runs the processing chain on one accepted frame. Processing
// and detection failures are reported but never stop the stream.
func (w *Worker) handleFrame(frame *video.Frame) {
	processed, err := w.processor.Process(frame)
	if err != nil {
		_ = w.bus.PublishError(w.cfg.ID, fmt.Sprintf("frame processing: %v", err))
		w.logger.Warn("Frame processing failed, using raw frame", "error", err)
	}

	if w.detector != nil {
		detected, derr := w.detector.Detect(processed)
		if derr != nil {
			_ = w.bus.PublishError(w.cfg.ID, fmt.Sprintf("motion detection: %v", derr))
			detected = false
		}
		_ = w.bus.PublishMotion(w.cfg.ID, detected)
	}

	select {
	case w.buffer <- processed:
	default:
		// Hand-off full, shed the frame rather than block capture.
	}

	w.subMu.RLock()
	for ch := range w.subs {
		select {
		case ch <- processed:
		default:
		}
	}
	w.subMu.RUnlock()

	_ = w.bus.PublishFrame(w.cfg.ID, processed.Seq, processed.Width, processed.Height, processed.Timestamp)
}

// waitWhilePaused blocks while the worker is paused. Returns false once
// the worker is stopping.
func (w *Worker) waitWhilePaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.paused && w.running {
		w.state = StatePaused
		w.cond.Wait()
	}
	if w.running && w.state == StatePaused {
		w.state = StateStreaming
	}
	return w.running
}

func (w *Worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
