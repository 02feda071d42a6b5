package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// extensionFor maps a codec name to the segment file extension.
func extensionFor(codec string) string {
	switch codec {
	case "", "mjpeg":
		return "mjpeg"
	default:
		return codec
	}
}

// segmentPath returns the on-disk path for a segment starting at t and
// creates the date directories. Segments are partitioned by month and day
// so retention can drop whole directories as footage ages out.
//
//	<root>/2026-08/30/front_door_20260830_154500.mjpeg
func segmentPath(root, cameraID string, t time.Time, codec string) (string, error) {
	dir := filepath.Join(root, t.Format("2006-01"), t.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}
	stamp := t.Format("20060102_150405")
	ext := extensionFor(codec)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", cameraID, stamp, ext))

	// The timestamp has one-second resolution, so rotations inside the same
	// second (short test segments, restarts) need a sequence suffix to keep
	// from truncating the previous segment.
	for n := 1; ; n++ {
		if _, err := os.Stat(path); err != nil {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.%s", cameraID, stamp, n, ext))
	}
	return path, nil
}
