package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.MaxStorageDays != 30 {
		t.Errorf("MaxStorageDays = %d, want 30", cfg.Storage.MaxStorageDays)
	}
	if cfg.Storage.MinFreeSpacePercent != 5 {
		t.Errorf("MinFreeSpacePercent = %v, want 5", cfg.Storage.MinFreeSpacePercent)
	}
	if cfg.Storage.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.Storage.CheckInterval)
	}
	if cfg.Bus.Host != "127.0.0.1" || cfg.Bus.Port != 12801 {
		t.Errorf("Bus defaults = %s:%d", cfg.Bus.Host, cfg.Bus.Port)
	}
	if cfg.API.Addr != ":8870" {
		t.Errorf("API addr = %s", cfg.API.Addr)
	}
}

func TestLoad_ParsesCamerasWithDefaults(t *testing.T) {
	path := writeConfig(t, `
system:
  name: test
storage:
  path: /tmp/recordings
cameras:
  - id: cam_1
    name: Front Door
    uri: synthetic://pattern
    enabled: true
    fps_limit: 15
  - id: cam_2
    name: Garage
    uri: synthetic://static
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cams := cfg.ListCameras()
	if len(cams) != 2 {
		t.Fatalf("Got %d cameras, want 2", len(cams))
	}

	cam := cfg.GetCamera("cam_1")
	if cam == nil {
		t.Fatal("cam_1 not found")
	}
	if cam.FPSLimit != 15 {
		t.Errorf("FPSLimit = %v, want 15 from file", cam.FPSLimit)
	}
	if cam.Resolution.Width != 1280 || cam.Resolution.Height != 720 {
		t.Errorf("Resolution default = %dx%d", cam.Resolution.Width, cam.Resolution.Height)
	}
	if cam.MaxRetries != 3 || cam.RetryInterval != 5*time.Second {
		t.Errorf("Retry defaults = %d/%v", cam.MaxRetries, cam.RetryInterval)
	}
	if cam.Recording.Codec != "mjpeg" || cam.Recording.SegmentDuration != 5*time.Minute {
		t.Errorf("Recording defaults = %s/%v", cam.Recording.Codec, cam.Recording.SegmentDuration)
	}
	if cam.Motion.Threshold != 25 || cam.Motion.MinArea != 500 {
		t.Errorf("Motion defaults = %d/%d", cam.Motion.Threshold, cam.Motion.MinArea)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "cameras: [body: {{{")
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestConfig_UpsertRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cam := CameraConfig{ID: "cam_1", Name: "Front", URI: "synthetic://pattern", Enabled: true}
	cam.ApplyDefaults()
	if err := cfg.UpsertCamera(cam); err != nil {
		t.Fatalf("UpsertCamera failed: %v", err)
	}

	// Persisted: a fresh load sees the camera.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if again.GetCamera("cam_1") == nil {
		t.Fatal("Camera not persisted")
	}

	// Upsert replaces in place.
	cam.Name = "Front Door"
	if err := cfg.UpsertCamera(cam); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if got := cfg.GetCamera("cam_1").Name; got != "Front Door" {
		t.Errorf("Name = %q after upsert", got)
	}
	if len(cfg.ListCameras()) != 1 {
		t.Errorf("Upsert duplicated the camera: %d entries", len(cfg.ListCameras()))
	}

	if err := cfg.RemoveCamera("cam_1"); err != nil {
		t.Fatalf("RemoveCamera failed: %v", err)
	}
	if cfg.GetCamera("cam_1") != nil {
		t.Error("Camera still present after remove")
	}
	if err := cfg.RemoveCamera("cam_1"); err == nil {
		t.Error("Removing an unknown camera must fail")
	}
}

func TestConfig_GetCameraReturnsCopy(t *testing.T) {
	path := writeConfig(t, `
cameras:
  - id: cam_1
    name: Front
    uri: synthetic://pattern
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cam := cfg.GetCamera("cam_1")
	cam.Name = "Mutated"
	if cfg.GetCamera("cam_1").Name != "Front" {
		t.Error("GetCamera leaked internal state")
	}
}

func TestConfig_WatchReloadNotifies(t *testing.T) {
	path := writeConfig(t, `
cameras:
  - id: cam_1
    name: Front
    uri: synthetic://pattern
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan int, 4)
	cfg.OnChange(func(c *Config) {
		changed <- len(c.ListCameras())
	})
	if err := cfg.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	err = os.WriteFile(path, []byte(`
cameras:
  - id: cam_1
    name: Front
    uri: synthetic://pattern
  - id: cam_2
    name: Back
    uri: synthetic://static
`), 0o644)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	select {
	case n := <-changed:
		if n != 2 {
			t.Errorf("Reload saw %d cameras, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No reload notification within 3 seconds")
	}
	if cfg.GetCamera("cam_2") == nil {
		t.Error("Reloaded config missing the new camera")
	}
}

func TestCameraConfig_Equal(t *testing.T) {
	base := CameraConfig{ID: "cam_1", Name: "Front", URI: "synthetic://pattern"}
	base.ApplyDefaults()

	same := base
	if !base.Equal(same) {
		t.Error("Identical configs reported unequal")
	}

	changed := base
	changed.FPSLimit = 10
	if base.Equal(changed) {
		t.Error("Configs with different fps limits reported equal")
	}

	// Equal must be callable on an unaddressable value, as returned from
	// an accessor.
	get := func() CameraConfig { return base }
	if !get().Equal(same) {
		t.Error("Equal on a returned value reported unequal")
	}
}

func TestCameraConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cam     CameraConfig
		wantErr bool
	}{
		{"valid", CameraConfig{ID: "cam_1", URI: "synthetic://pattern"}, false},
		{"missing id", CameraConfig{URI: "synthetic://pattern"}, true},
		{"missing uri", CameraConfig{ID: "cam_1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cam.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
