package video

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// SyntheticSource generates a moving test pattern. It stands in for a real
// camera in development setups and end-to-end tests.
//
// URI form: synthetic://<mode>, where mode is "pattern" (moving gradient)
// or "static" (motionless gray frame). An optional ",fail=N" suffix makes
// the first N Open calls fail, for exercising the retry path.
type SyntheticSource struct {
	cameraID string
	mode     string
	failures int

	opens  int
	open   bool
	seq    uint64
	width  int
	height int
}

// NewSyntheticSource creates a synthetic source from the URI opaque part.
func NewSyntheticSource(cameraID, spec string) *SyntheticSource {
	s := &SyntheticSource{
		cameraID: cameraID,
		mode:     "pattern",
		width:    320,
		height:   240,
	}
	for _, part := range strings.Split(spec, ",") {
		if n, ok := strings.CutPrefix(part, "fail="); ok {
			s.failures, _ = strconv.Atoi(n)
		} else if part != "" {
			s.mode = part
		}
	}
	return s
}

func (s *SyntheticSource) Open(ctx context.Context) error {
	s.opens++
	if s.opens <= s.failures {
		return fmt.Errorf("synthetic open failure %d of %d", s.opens, s.failures)
	}
	s.open = true
	return nil
}

func (s *SyntheticSource) SetResolution(width, height int) error {
	if width > 0 && height > 0 {
		s.width = width
		s.height = height
	}
	return nil
}

// ReadFrame produces the next pattern frame. Generation is immediate; the
// capture worker's pacing loop controls the effective rate.
func (s *SyntheticSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if !s.open {
		return nil, fmt.Errorf("source not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq := atomic.AddUint64(&s.seq, 1)
	frame := NewFrame(s.cameraID, s.width, s.height)
	frame.Timestamp = time.Now()
	frame.Seq = seq

	switch s.mode {
	case "static":
		for i := 0; i < len(frame.Pix); i += 4 {
			frame.Pix[i+0] = 0x80
			frame.Pix[i+1] = 0x80
			frame.Pix[i+2] = 0x80
			frame.Pix[i+3] = 0xFF
		}
	default:
		// Gradient shifted by sequence number so consecutive frames differ.
		shift := int(seq % uint64(s.width))
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				i := (y*s.width + x) * 4
				frame.Pix[i+0] = byte((x + shift) * 255 / s.width)
				frame.Pix[i+1] = byte(y * 255 / s.height)
				frame.Pix[i+2] = 0x40
				frame.Pix[i+3] = 0xFF
			}
		}
	}

	return frame, nil
}

func (s *SyntheticSource) Release() error {
	s.open = false
	return nil
}
