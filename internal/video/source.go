package video

import (
	"context"
	"fmt"
	"strings"
)

// Source abstracts a single network camera connection.
//
// Implementations are used by exactly one capture worker at a time and need
// not be safe for concurrent use. Open configures the connection, ReadFrame
// returns decoded frames until an error, and Release frees the underlying
// handle. Release must be safe to call after a failed Open.
type Source interface {
	// Open establishes the connection. It may be called again after
	// Release to reconnect.
	Open(ctx context.Context) error

	// SetResolution requests the given capture resolution. Sources that
	// cannot honor it keep their native resolution; the processing
	// pipeline resizes downstream.
	SetResolution(width, height int) error

	// ReadFrame blocks until the next frame is available.
	ReadFrame(ctx context.Context) (*Frame, error)

	// Release closes the connection and frees resources.
	Release() error
}

// SourceFactory builds a Source for a camera's stream URI.
type SourceFactory func(cameraID, uri string) (Source, error)

// DefaultSourceFactory dispatches on the URI scheme. It knows MJPEG-over-HTTP
// network cameras and the synthetic test pattern generator; other schemes are
// handled by externally supplied sources.
func DefaultSourceFactory(cameraID, uri string) (Source, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewMJPEGSource(cameraID, uri), nil
	case strings.HasPrefix(uri, "synthetic://"):
		return NewSyntheticSource(cameraID, strings.TrimPrefix(uri, "synthetic://")), nil
	default:
		return nil, fmt.Errorf("unsupported stream scheme in %q", uri)
	}
}
