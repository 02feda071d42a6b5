package video

import "fmt"

// ProcessorConfig controls the per-frame filter pipeline.
type ProcessorConfig struct {
	// TargetWidth/TargetHeight is the output resolution. Frames already at
	// this size skip the resize step. Zero disables resizing.
	TargetWidth  int
	TargetHeight int

	Denoise    bool
	Sharpen    bool
	Brightness int // additive offset, clamped to [0,255] per channel
}

// Processor applies the fixed filter chain
// resize -> denoise -> sharpen -> brightness.
// It is stateless given its config and safe to share between goroutines.
type Processor struct {
	cfg ProcessorConfig
}

// NewProcessor creates a processor for the given config.
func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{cfg: cfg}
}

// sharpenKernel is the fixed 3x3 high-pass kernel.
var sharpenKernel = [9]int{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Process runs the filter chain on a frame. On any step failure the input
// frame is returned unchanged together with the error, so a processing bug
// never halts the capture loop.
func (p *Processor) Process(frame *Frame) (*Frame, error) {
	if frame == nil || len(frame.Pix) == 0 {
		return frame, fmt.Errorf("empty frame")
	}
	if len(frame.Pix) != frame.Width*frame.Height*4 {
		return frame, fmt.Errorf("pixel buffer size %d does not match %dx%d",
			len(frame.Pix), frame.Width, frame.Height)
	}

	out := frame
	if p.cfg.TargetWidth > 0 && p.cfg.TargetHeight > 0 &&
		(frame.Width != p.cfg.TargetWidth || frame.Height != p.cfg.TargetHeight) {
		out = resize(out, p.cfg.TargetWidth, p.cfg.TargetHeight)
	}
	if p.cfg.Denoise {
		out = convolve3x3(out, [9]int{1, 1, 1, 1, 1, 1, 1, 1, 1}, 9)
	}
	if p.cfg.Sharpen {
		out = convolve3x3(out, sharpenKernel, 1)
	}
	if p.cfg.Brightness != 0 {
		out = adjustBrightness(out, p.cfg.Brightness)
	}
	return out, nil
}

// resize scales a frame with nearest-neighbor sampling.
func resize(src *Frame, width, height int) *Frame {
	dst := NewFrame(src.CameraID, width, height)
	dst.Timestamp = src.Timestamp
	dst.Seq = src.Seq

	for y := 0; y < height; y++ {
		sy := y * src.Height / height
		for x := 0; x < width; x++ {
			sx := x * src.Width / width
			si := (sy*src.Width + sx) * 4
			di := (y*width + x) * 4
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// convolve3x3 applies a 3x3 kernel with the given divisor to the RGB
// channels. Edge pixels are copied through unchanged.
func convolve3x3(src *Frame, kernel [9]int, divisor int) *Frame {
	dst := src.Clone()
	w, h := src.Width, src.Height

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			for c := 0; c < 3; c++ {
				sum := 0
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						si := ((y+ky)*w + (x + kx)) * 4
						sum += int(src.Pix[si+c]) * kernel[(ky+1)*3+(kx+1)]
					}
				}
				dst.Pix[(y*w+x)*4+c] = clampByte(sum / divisor)
			}
		}
	}
	return dst
}

// adjustBrightness adds an offset to the RGB channels, clamped to [0,255].
func adjustBrightness(src *Frame, offset int) *Frame {
	dst := src.Clone()
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i+0] = clampByte(int(dst.Pix[i+0]) + offset)
		dst.Pix[i+1] = clampByte(int(dst.Pix[i+1]) + offset)
		dst.Pix[i+2] = clampByte(int(dst.Pix[i+2]) + offset)
	}
	return dst
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
