package recording

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

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

func testCamera(id string, segmentDuration time.Duration) config.CameraConfig {
	cam := config.CameraConfig{
		ID:      id,
		Name:    "Test Camera",
		URI:     "synthetic://pattern",
		Enabled: true,
	}
	cam.ApplyDefaults()
	cam.Recording.Enabled = true
	cam.Recording.SegmentDuration = segmentDuration
	return cam
}

// memWriter collects frames in memory for recorder tests.
type memWriter struct {
	mu     sync.Mutex
	frames int
	closed bool

	writeErr error
	gate     chan struct{}
}

func (w *memWriter) WriteFrame(frame *video.Frame) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames++
	return nil
}

func (w *memWriter) Close() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return int64(w.frames) * 10, nil
}

// memWriterFactory hands out memWriters and remembers them in order.
type memWriterFactory struct {
	mu      sync.Mutex
	writers []*memWriter
	next    *memWriter
}

func (f *memWriterFactory) factory(path string, codec string) (SegmentWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.next
	if w == nil {
		w = &memWriter{}
	}
	f.next = nil
	f.writers = append(f.writers, w)
	return w, nil
}

func testFrameFor(cam string) *video.Frame {
	f := video.NewFrame(cam, 4, 4)
	f.Timestamp = time.Now()
	return f
}

func TestRecorder_StartAndStop(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}

	rec := NewRecorder(testCamera("cam_1", time.Hour), store, b, t.TempDir(), factory.factory)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	open, err := store.OpenRecording(context.Background(), "cam_1")
	if err != nil {
		t.Fatalf("OpenRecording failed: %v", err)
	}
	if open == nil {
		t.Fatal("Expected an open recording row after Start")
	}

	for i := 0; i < 5; i++ {
		rec.AddFrame(testFrameFor("cam_1"))
	}
	rec.Stop()
	rec.Stop() // second stop is a no-op

	status := rec.Status()
	if status.Recording {
		t.Error("Recorder still marked recording after Stop")
	}
	if status.FramesWritten != 5 {
		t.Errorf("FramesWritten = %d, want 5", status.FramesWritten)
	}

	closed, err := store.Get(context.Background(), open.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if closed.EndTime == nil {
		t.Error("Recording row not finalized on Stop")
	}
	if !factory.writers[0].closed {
		t.Error("Segment writer not closed on Stop")
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)

	stopReturns := func(rec *Recorder) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			rec.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop blocked on a recorder with no write loop")
		}
	}

	// Never started.
	rec := NewRecorder(testCamera("cam_1", time.Hour), store, b, t.TempDir(), (&memWriterFactory{}).factory)
	stopReturns(rec)

	// Start failed, so no write loop was launched.
	failing := func(path string, codec string) (SegmentWriter, error) {
		return nil, fmt.Errorf("no space")
	}
	rec = NewRecorder(testCamera("cam_2", time.Hour), store, b, t.TempDir(), failing)
	if err := rec.Start(context.Background()); err == nil {
		t.Fatal("Start must fail when the writer cannot be created")
	}
	stopReturns(rec)
}

func TestRecorder_Rotation(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}
	ctx := context.Background()

	rec := NewRecorder(testCamera("cam_1", 30*time.Millisecond), store, b, t.TempDir(), factory.factory)
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec.AddFrame(testFrameFor("cam_1"))
	time.Sleep(60 * time.Millisecond)
	rec.AddFrame(testFrameFor("cam_1")) // triggers rotation, lands in segment 2
	time.Sleep(20 * time.Millisecond)
	rec.Stop()

	recs, err := store.List(ctx, ListOptions{CameraID: "cam_1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Got %d recordings, want 2 after one rotation", len(recs))
	}
	for _, r := range recs {
		if r.EndTime == nil {
			t.Errorf("Recording %d left open", r.ID)
		}
	}
	if len(factory.writers) != 2 {
		t.Fatalf("Got %d writers, want 2", len(factory.writers))
	}
	if factory.writers[0].frames != 1 || factory.writers[1].frames != 1 {
		t.Errorf("Frame split = %d/%d, want 1/1 (rotation frame goes to the new segment)",
			factory.writers[0].frames, factory.writers[1].frames)
	}

	if open, _ := store.OpenRecording(ctx, "cam_1"); open != nil {
		t.Error("Open row left behind after Stop")
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)

	gate := make(chan struct{})
	blocked := &memWriter{gate: gate}
	factory := &memWriterFactory{next: blocked}

	rec := NewRecorder(testCamera("cam_1", time.Hour), store, b, t.TempDir(), factory.factory)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// With the writer blocked the loop absorbs at most one in-flight frame
	// plus the queue capacity; the rest must be shed without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < recordQueueSize+100; i++ {
			rec.AddFrame(testFrameFor("cam_1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AddFrame blocked with a stalled writer")
	}

	close(gate)
	rec.Stop()

	status := rec.Status()
	if status.DroppedFrames == 0 {
		t.Error("Expected dropped frames with a stalled writer")
	}
	if status.FramesWritten > recordQueueSize+1 {
		t.Errorf("FramesWritten = %d, exceeds queue bound", status.FramesWritten)
	}
}

func TestRecorder_MarkMotion(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}
	ctx := context.Background()

	rec := NewRecorder(testCamera("cam_1", time.Hour), store, b, t.TempDir(), factory.factory)
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rec.Stop()

	rec.MarkMotion(ctx)
	rec.MarkMotion(ctx) // idempotent within a segment

	open, err := store.OpenRecording(ctx, "cam_1")
	if err != nil {
		t.Fatalf("OpenRecording failed: %v", err)
	}
	if !open.HasMotion {
		t.Error("has_motion not set on the active recording")
	}
}

func TestRecorder_WriteErrorStopsRecorder(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)

	failing := &memWriter{writeErr: fmt.Errorf("disk gone")}
	factory := &memWriterFactory{next: failing}
	ctx := context.Background()

	rec := NewRecorder(testCamera("cam_1", time.Hour), store, b, t.TempDir(), factory.factory)
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec.AddFrame(testFrameFor("cam_1"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Err() == nil {
		t.Fatal("Recorder did not surface the write error")
	}

	if open, _ := store.OpenRecording(ctx, "cam_1"); open != nil {
		t.Error("Recording row left open after write failure")
	}
	if rec.Status().Recording {
		t.Error("Recorder still marked recording after write failure")
	}
}
