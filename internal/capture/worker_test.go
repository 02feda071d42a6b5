package capture

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/video"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.New(bus.Config{Port: -1})
	if err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func testWorkerConfig(id, uri string, fpsLimit float64) config.CameraConfig {
	cam := config.CameraConfig{
		ID:      id,
		Name:    "Test Camera",
		URI:     uri,
		Enabled: true,
	}
	cam.ApplyDefaults()
	cam.FPSLimit = fpsLimit
	cam.Resolution = config.ResolutionConfig{Width: 32, Height: 24}
	cam.RetryInterval = 10 * time.Millisecond
	return cam
}

// countingSink counts frames handed off by a worker.
type countingSink struct {
	frames atomic.Int64
}

func (s *countingSink) AddFrame(frame *video.Frame) {
	s.frames.Add(1)
}

// blockedSink never returns from AddFrame until released.
type blockedSink struct {
	gate chan struct{}
}

func (s *blockedSink) AddFrame(frame *video.Frame) {
	<-s.gate
}

func startWorker(t *testing.T, cam config.CameraConfig, b *bus.Bus) *Worker {
	t.Helper()
	source, err := video.DefaultSourceFactory(cam.ID, cam.URI)
	if err != nil {
		t.Fatalf("Source factory failed: %v", err)
	}
	w := NewWorker(cam, source, b)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitForState(t *testing.T, w *Worker, want WorkerState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Worker state = %s, want %s", w.State(), want)
}

func TestWorker_PacesToFPSLimit(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_1", "synthetic://pattern", 20)
	w := startWorker(t, cam, b)

	sink := &countingSink{}
	w.SetSink(sink)
	waitForState(t, w, StateStreaming, time.Second)

	start := time.Now()
	time.Sleep(time.Second)
	got := sink.frames.Load()
	elapsed := time.Since(start).Seconds()

	// The synthetic source produces frames instantly, so the count is
	// bounded by pacing alone. Allow generous slack for scheduler jitter.
	min := int64(0.5 * 20 * elapsed)
	max := int64(1.5 * 20 * elapsed)
	if got < min || got > max {
		t.Errorf("Got %d frames in %.2fs at fps_limit 20, want %d..%d", got, elapsed, min, max)
	}
}

func TestWorker_PublishesFPS(t *testing.T) {
	b := newTestBus(t)

	events := make(chan bus.FPSEvent, 4)
	sub, err := b.Subscribe(bus.SubjectFPS+".cam_1", func(msg *nats.Msg) {
		var ev bus.FPSEvent
		if json.Unmarshal(msg.Data, &ev) == nil {
			select {
			case events <- ev:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	cam := testWorkerConfig("cam_1", "synthetic://pattern", 30)
	startWorker(t, cam, b)

	select {
	case ev := <-events:
		if ev.FPS <= 0 {
			t.Errorf("FPS event carries %v", ev.FPS)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No FPS event within 3 seconds")
	}
}

func TestWorker_RetryGivesUpAfterLimit(t *testing.T) {
	b := newTestBus(t)

	var fatals atomic.Int64
	sub, err := b.Subscribe(bus.SubjectError+".cam_1", func(msg *nats.Msg) {
		var ev bus.ErrorEvent
		if json.Unmarshal(msg.Data, &ev) == nil && ev.Fatal {
			fatals.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// The source fails more times than the retry budget allows.
	cam := testWorkerConfig("cam_1", "synthetic://pattern,fail=10", 30)
	cam.MaxRetries = 3
	w := startWorker(t, cam, b)

	waitForState(t, w, StateFailed, 2*time.Second)
	_ = b.Flush()
	time.Sleep(100 * time.Millisecond)

	if n := fatals.Load(); n != 1 {
		t.Errorf("Got %d fatal errors, want exactly 1", n)
	}
	// A failed worker never restarts on its own.
	time.Sleep(100 * time.Millisecond)
	if w.State() != StateFailed {
		t.Errorf("Worker left the failed state: %s", w.State())
	}
}

func TestWorker_RetryRecoversWithinLimit(t *testing.T) {
	b := newTestBus(t)

	cam := testWorkerConfig("cam_1", "synthetic://pattern,fail=2", 30)
	cam.MaxRetries = 3
	w := startWorker(t, cam, b)

	waitForState(t, w, StateStreaming, 2*time.Second)

	sink := &countingSink{}
	w.SetSink(sink)
	deadline := time.Now().Add(2 * time.Second)
	for sink.frames.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.frames.Load() == 0 {
		t.Error("No frames after recovering from transient failures")
	}
}

func TestWorker_PauseResume(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_1", "synthetic://pattern", 100)
	w := startWorker(t, cam, b)

	sink := &countingSink{}
	w.SetSink(sink)
	waitForState(t, w, StateStreaming, time.Second)

	w.Pause()
	waitForState(t, w, StatePaused, time.Second)

	// Let frames already in the hand-off buffer drain before sampling.
	time.Sleep(50 * time.Millisecond)
	paused := sink.frames.Load()
	time.Sleep(100 * time.Millisecond)
	if after := sink.frames.Load(); after != paused {
		t.Errorf("Frames advanced while paused: %d -> %d", paused, after)
	}

	w.Resume()
	waitForState(t, w, StateStreaming, time.Second)

	deadline := time.Now().Add(time.Second)
	for sink.frames.Load() == paused && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.frames.Load() == paused {
		t.Error("No frames after resume")
	}
}

func TestWorker_StopIdempotent(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_1", "synthetic://pattern", 30)

	source, err := video.DefaultSourceFactory(cam.ID, cam.URI)
	if err != nil {
		t.Fatalf("Source factory failed: %v", err)
	}
	w := NewWorker(cam, source, b)

	// Stop before start is a no-op.
	w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Second Start must fail while running")
	}

	w.Stop()
	w.Stop()
	if w.State() != StateStopped {
		t.Errorf("State after Stop = %s", w.State())
	}
}

func TestWorker_FailureReleasesGoroutines(t *testing.T) {
	b := newTestBus(t)

	cam := testWorkerConfig("cam_1", "synthetic://pattern,fail=10", 30)
	cam.MaxRetries = 3
	w := startWorker(t, cam, b)

	waitForState(t, w, StateFailed, 2*time.Second)

	// The terminal failure itself tears down the derived context, so the
	// forward goroutine exits even if nobody calls Stop afterwards.
	select {
	case <-w.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Context still live after terminal failure")
	}
	select {
	case <-w.fwdDone:
	case <-time.After(time.Second):
		t.Fatal("Forward goroutine still running after terminal failure")
	}

	// Stop on a failed worker returns promptly and leaves the state alone.
	w.Stop()
	if w.State() != StateFailed {
		t.Errorf("State after Stop = %s, want %s", w.State(), StateFailed)
	}
}

func TestWorker_StopQuiescesSink(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_1", "synthetic://pattern", 100)
	w := startWorker(t, cam, b)

	sink := &countingSink{}
	w.SetSink(sink)
	waitForState(t, w, StateStreaming, time.Second)

	deadline := time.Now().Add(time.Second)
	for sink.frames.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	w.Stop()
	after := sink.frames.Load()
	time.Sleep(100 * time.Millisecond)
	if got := sink.frames.Load(); got != after {
		t.Errorf("Sink received frames after Stop returned: %d -> %d", after, got)
	}
}

func TestWorker_SlowSinkDoesNotStallCapture(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_1", "synthetic://pattern", 100)
	w := startWorker(t, cam, b)

	gate := make(chan struct{})
	defer close(gate)
	w.SetSink(&blockedSink{gate: gate})
	waitForState(t, w, StateStreaming, time.Second)

	// Subscribers keep receiving even though the sink is wedged.
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 10 {
		select {
		case <-ch:
			received++
		case <-timeout:
			t.Fatalf("Got %d frames with a blocked sink, want 10", received)
		}
	}
}

func TestWorker_FramesCarryCameraID(t *testing.T) {
	b := newTestBus(t)
	cam := testWorkerConfig("cam_main", "synthetic://pattern", 30)
	w := startWorker(t, cam, b)

	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	select {
	case frame := <-ch:
		if frame.CameraID != "cam_main" {
			t.Errorf("Frame camera ID = %q", frame.CameraID)
		}
		if frame.Width != 32 || frame.Height != 24 {
			t.Errorf("Frame size = %dx%d, want 32x24", frame.Width, frame.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No frame within 2 seconds")
	}
}
