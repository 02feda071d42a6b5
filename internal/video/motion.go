package video

import "fmt"

// MotionConfig holds motion detection tuning for one camera.
type MotionConfig struct {
	// Threshold is the minimum absolute luma difference from the
	// background model for a pixel to count as foreground.
	Threshold int

	// MinArea is the minimum connected foreground component size, in
	// pixels, for the frame to report motion.
	MinArea int

	// History is the averaging window of the adaptive background model,
	// in frames. Larger values adapt more slowly.
	History int
}

// MotionDetector maintains an adaptive per-camera background model and
// reports whether a frame contains significant motion.
//
// The model is a running average of pixel luma, warmed incrementally
// frame by frame. It is owned by a single capture worker and is not safe
// for concurrent use. State survives for the worker's lifetime and is
// recreated only when the worker restarts.
type MotionDetector struct {
	cfg        MotionConfig
	background []float32
	width      int
	height     int
	warmed     bool
}

// NewMotionDetector creates a detector with the given config. Zero config
// fields fall back to threshold 25, min area 500 and history 500, matching
// the defaults used for MOG2-style subtractors.
func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 25
	}
	if cfg.MinArea <= 0 {
		cfg.MinArea = 500
	}
	if cfg.History <= 0 {
		cfg.History = 500
	}
	return &MotionDetector{cfg: cfg}
}

// Detect updates the background model with the frame and reports whether
// any connected foreground component meets the minimum area. Failures
// report no motion together with the error; the worker treats them as
// non-fatal.
func (d *MotionDetector) Detect(frame *Frame) (bool, error) {
	if frame == nil || len(frame.Pix) != frame.Width*frame.Height*4 {
		return false, fmt.Errorf("invalid frame buffer")
	}

	n := frame.Width * frame.Height
	if d.background == nil || d.width != frame.Width || d.height != frame.Height {
		// Resolution change resets the model; the first frame seeds it.
		d.background = make([]float32, n)
		d.width = frame.Width
		d.height = frame.Height
		d.warmed = false
	}

	alpha := float32(1) / float32(d.cfg.History)
	foreground := make([]bool, n)
	threshold := float32(d.cfg.Threshold)

	for i := 0; i < n; i++ {
		pi := i * 4
		// BT.601 integer luma approximation.
		luma := float32(77*int(frame.Pix[pi])+150*int(frame.Pix[pi+1])+29*int(frame.Pix[pi+2])) / 256

		if !d.warmed {
			d.background[i] = luma
			continue
		}

		diff := luma - d.background[i]
		if diff < 0 {
			diff = -diff
		}
		if diff >= threshold {
			foreground[i] = true
		}
		d.background[i] += alpha * (luma - d.background[i])
	}

	if !d.warmed {
		d.warmed = true
		return false, nil
	}

	return d.hasComponentOfSize(foreground, d.cfg.MinArea), nil
}

// Reset discards the background model. Called when the owning worker
// restarts its connection.
func (d *MotionDetector) Reset() {
	d.background = nil
	d.warmed = false
}

// hasComponentOfSize scans the foreground mask for a 4-connected component
// with at least minArea pixels, using an iterative flood fill.
func (d *MotionDetector) hasComponentOfSize(mask []bool, minArea int) bool {
	w, h := d.width, d.height
	visited := make([]bool, len(mask))
	var stack []int

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		area := 0
		stack = append(stack[:0], start)
		visited[start] = true

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			if area >= minArea {
				return true
			}

			x, y := i%w, i/w
			if x > 0 && mask[i-1] && !visited[i-1] {
				visited[i-1] = true
				stack = append(stack, i-1)
			}
			if x < w-1 && mask[i+1] && !visited[i+1] {
				visited[i+1] = true
				stack = append(stack, i+1)
			}
			if y > 0 && mask[i-w] && !visited[i-w] {
				visited[i-w] = true
				stack = append(stack, i-w)
			}
			if y < h-1 && mask[i+w] && !visited[i+w] {
				visited[i+w] = true
				stack = append(stack, i+w)
			}
		}
	}
	return false
}
