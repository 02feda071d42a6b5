package recording

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/visora/visora/internal/video"
)

// SegmentWriter encodes frames into one segment file.
type SegmentWriter interface {
	// WriteFrame appends one frame to the segment.
	WriteFrame(frame *video.Frame) error
	// Close flushes and closes the segment, returning its size in bytes.
	Close() (int64, error)
}

// WriterFactory builds a segment writer for a path. Recorders use this so
// tests can substitute an in-memory writer.
type WriterFactory func(path string, codec string) (SegmentWriter, error)

// NewSegmentWriter is the default writer factory.
func NewSegmentWriter(path string, codec string) (SegmentWriter, error) {
	switch codec {
	case "", "mjpeg":
		return newMJPEGWriter(path)
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// mjpegWriter writes concatenated JPEG images. Every frame is a complete
// JPEG, so a truncated file loses at most its final frame.
type mjpegWriter struct {
	path string
	f    *os.File
	bw   *bufio.Writer
}

const jpegQuality = 80

func newMJPEGWriter(path string) (*mjpegWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	return &mjpegWriter{
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, 256*1024),
	}, nil
}

func (w *mjpegWriter) WriteFrame(frame *video.Frame) error {
	if frame == nil || len(frame.Pix) == 0 {
		return fmt.Errorf("empty frame")
	}
	opts := &jpeg.Options{Quality: jpegQuality}
	if err := jpeg.Encode(w.bw, frame.Image(), opts); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

func (w *mjpegWriter) Close() (int64, error) {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return 0, fmt.Errorf("flush segment: %w", err)
	}
	info, err := w.f.Stat()
	if err != nil {
		w.f.Close()
		return 0, fmt.Errorf("stat segment: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return info.Size(), fmt.Errorf("close segment: %w", err)
	}
	return info.Size(), nil
}
