package recording

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_StartStopRecording(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}
	ctx := context.Background()

	reg := NewRegistry(store, b, t.TempDir(), factory.factory)
	defer reg.StopAll()

	cam := testCamera("cam_1", time.Hour)
	rec, err := reg.StartRecording(ctx, cam)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if reg.Get("cam_1") != rec {
		t.Error("Registry does not track the started recorder")
	}
	if len(reg.Status()) != 1 {
		t.Errorf("Status() has %d recorders, want 1", len(reg.Status()))
	}

	if err := reg.StopRecording(ctx, "cam_1"); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if reg.Get("cam_1") != nil {
		t.Error("Recorder still tracked after stop")
	}
	if err := reg.StopRecording(ctx, "cam_1"); err == nil {
		t.Error("Stopping a camera that is not recording must fail")
	}

	// Lifecycle events land on the camera's recording.
	open, err := store.List(ctx, ListOptions{CameraID: "cam_1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("Got %d recordings, want 1", len(open))
	}
	events, err := store.EventsForRecording(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("EventsForRecording failed: %v", err)
	}
	if len(events) != 2 || events[0].EventType != "recording_start" || events[1].EventType != "recording_stop" {
		t.Errorf("Lifecycle events = %+v", events)
	}
}

func TestRegistry_RestartReplacesRecorder(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}
	ctx := context.Background()

	reg := NewRegistry(store, b, t.TempDir(), factory.factory)
	defer reg.StopAll()

	cam := testCamera("cam_1", time.Hour)
	first, err := reg.StartRecording(ctx, cam)
	if err != nil {
		t.Fatalf("First StartRecording failed: %v", err)
	}
	second, err := reg.StartRecording(ctx, cam)
	if err != nil {
		t.Fatalf("Second StartRecording failed: %v", err)
	}
	if first == second {
		t.Error("Restart must create a new recorder")
	}
	if first.Status().Recording {
		t.Error("Replaced recorder still running")
	}

	// The replaced recorder's row is finalized; only the new one is open.
	recs, err := store.List(ctx, ListOptions{CameraID: "cam_1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	openCount := 0
	for _, r := range recs {
		if r.EndTime == nil {
			openCount++
		}
	}
	if openCount != 1 {
		t.Errorf("Got %d open recordings, want 1", openCount)
	}
}

func TestRegistry_MotionEventFlagsRecording(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	factory := &memWriterFactory{}
	ctx := context.Background()

	reg := NewRegistry(store, b, t.TempDir(), factory.factory)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Registry Start failed: %v", err)
	}
	defer reg.StopAll()

	if _, err := reg.StartRecording(ctx, testCamera("cam_1", time.Hour)); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	if err := b.PublishMotion("cam_1", true); err != nil {
		t.Fatalf("PublishMotion failed: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		open, err := store.OpenRecording(ctx, "cam_1")
		if err != nil {
			t.Fatalf("OpenRecording failed: %v", err)
		}
		if open != nil && open.HasMotion {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Motion event did not flag the active recording")
}

func TestRegistry_MotionWithoutRecorderIgnored(t *testing.T) {
	store := setupTestStore(t)
	b := newTestBus(t)
	ctx := context.Background()

	reg := NewRegistry(store, b, t.TempDir(), nil)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Registry Start failed: %v", err)
	}
	defer reg.StopAll()

	if err := b.PublishMotion("cam_unknown", true); err != nil {
		t.Fatalf("PublishMotion failed: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	recs, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Motion for unknown camera created %d recordings", len(recs))
	}
}
