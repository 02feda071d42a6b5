package video

import (
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"
)

// MJPEGSource reads frames from an MJPEG-over-HTTP network camera
// (multipart/x-mixed-replace streams, the common IP camera fallback format).
type MJPEGSource struct {
	cameraID string
	url      string
	client   *http.Client

	resp   *http.Response
	reader *multipart.Reader
	seq    uint64

	width  int
	height int
}

// NewMJPEGSource creates a source for an MJPEG HTTP stream URL.
func NewMJPEGSource(cameraID, url string) *MJPEGSource {
	return &MJPEGSource{
		cameraID: cameraID,
		url:      url,
		client: &http.Client{
			// Connect timeout only; the stream body is long-lived.
			Transport: &http.Transport{ResponseHeaderTimeout: 10 * time.Second},
		},
	}
}

// Open connects to the stream and prepares the multipart reader.
func (s *MJPEGSource) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream connect failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		_ = resp.Body.Close()
		return fmt.Errorf("not an MJPEG stream: content-type %q", resp.Header.Get("Content-Type"))
	}

	s.resp = resp
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// SetResolution records the requested resolution. MJPEG streams deliver
// whatever the camera is configured for; the processor resizes downstream.
func (s *MJPEGSource) SetResolution(width, height int) error {
	s.width = width
	s.height = height
	return nil
}

// ReadFrame reads and decodes the next JPEG part from the stream.
func (s *MJPEGSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("source not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	part, err := s.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	defer func() { _ = part.Close() }()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("frame decode failed: %w", err)
	}

	frame := FromImage(s.cameraID, img)
	frame.Timestamp = time.Now()
	frame.Seq = atomic.AddUint64(&s.seq, 1)
	return frame, nil
}

// Release closes the HTTP stream. Safe to call when not open.
func (s *MJPEGSource) Release() error {
	s.reader = nil
	if s.resp != nil {
		err := s.resp.Body.Close()
		s.resp = nil
		return err
	}
	return nil
}
