// Package video provides the frame model, camera source abstraction, and
// per-frame processing (filters and motion detection) for the capture pipeline.
package video

import (
	"image"
	"time"
)

// Frame is a decoded image buffer flowing through the pipeline.
//
// Once a frame has been handed to a subscriber or a recording queue it is
// shared by reference and MUST NOT be modified. Transforms always allocate
// a new frame.
type Frame struct {
	// Pix holds the pixel data in RGBA order, 4 bytes per pixel,
	// row-major with no padding.
	Pix []byte

	Width  int
	Height int

	// Timestamp is the capture time at the source, not processing time.
	Timestamp time.Time

	CameraID string

	// Seq is a per-camera monotonic sequence number assigned at capture.
	Seq uint64
}

// NewFrame allocates a zeroed RGBA frame of the given dimensions.
func NewFrame(cameraID string, width, height int) *Frame {
	return &Frame{
		Pix:      make([]byte, width*height*4),
		Width:    width,
		Height:   height,
		CameraID: cameraID,
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	c := *f
	c.Pix = pix
	return &c
}

// Image wraps the frame's pixel buffer as an image.RGBA without copying.
// The returned image aliases Pix and inherits the immutability contract.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromImage copies an image into a new frame for the given camera.
func FromImage(cameraID string, img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(cameraID, b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*f.Width + x) * 4
			f.Pix[i+0] = byte(r >> 8)
			f.Pix[i+1] = byte(g >> 8)
			f.Pix[i+2] = byte(bl >> 8)
			f.Pix[i+3] = byte(a >> 8)
		}
	}
	return f
}
