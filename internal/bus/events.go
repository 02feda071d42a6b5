package bus

import "time"

// Subjects for core pipeline events. Camera-scoped subjects carry the
// camera ID as the final token so collaborators can subscribe per camera
// (for example "cameras.motion.front_door") or with wildcards.
const (
	SubjectStatus           = "cameras.status"
	SubjectFPS              = "cameras.fps"
	SubjectMotion           = "cameras.motion"
	SubjectFrame            = "cameras.frame"
	SubjectError            = "cameras.error"
	SubjectRecordingStarted = "recordings.started"
	SubjectRecordingStopped = "recordings.stopped"
	SubjectRecordingError   = "recordings.error"
	SubjectSegmentClosed    = "recordings.segment_closed"
	SubjectStorageWarning   = "storage.warning"
)

// StatusEvent reports a camera connecting or disconnecting.
type StatusEvent struct {
	CameraID  string    `json:"camera_id"`
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// FPSEvent reports the measured capture rate, once per second.
type FPSEvent struct {
	CameraID  string    `json:"camera_id"`
	FPS       float64   `json:"fps"`
	Timestamp time.Time `json:"timestamp"`
}

// MotionEvent reports the motion signal for a frame.
type MotionEvent struct {
	CameraID  string    `json:"camera_id"`
	Detected  bool      `json:"detected"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameEvent announces a processed frame. The pixel data itself travels
// through in-process subscriptions; the bus carries metadata only.
type FrameEvent struct {
	CameraID  string    `json:"camera_id"`
	Seq       uint64    `json:"seq"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a camera or recording error. Fatal marks terminal
// worker errors that require operator action.
type ErrorEvent struct {
	CameraID  string    `json:"camera_id"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordingEvent reports recorder lifecycle changes.
type RecordingEvent struct {
	CameraID    string    `json:"camera_id"`
	RecordingID int64     `json:"recording_id,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StorageEvent warns about low free space.
type StorageEvent struct {
	PercentFree float64   `json:"percent_free"`
	Timestamp   time.Time `json:"timestamp"`
}

// PublishStatus publishes a camera connectivity change.
func (b *Bus) PublishStatus(cameraID string, connected bool) error {
	return b.Publish(SubjectStatus+"."+cameraID, StatusEvent{
		CameraID:  cameraID,
		Connected: connected,
		Timestamp: time.Now(),
	})
}

// PublishFPS publishes a measured-FPS update.
func (b *Bus) PublishFPS(cameraID string, fps float64) error {
	return b.Publish(SubjectFPS+"."+cameraID, FPSEvent{
		CameraID:  cameraID,
		FPS:       fps,
		Timestamp: time.Now(),
	})
}

// PublishMotion publishes the motion signal for a camera.
func (b *Bus) PublishMotion(cameraID string, detected bool) error {
	return b.Publish(SubjectMotion+"."+cameraID, MotionEvent{
		CameraID:  cameraID,
		Detected:  detected,
		Timestamp: time.Now(),
	})
}

// PublishFrame publishes frame metadata for a processed frame.
func (b *Bus) PublishFrame(cameraID string, seq uint64, width, height int, ts time.Time) error {
	return b.Publish(SubjectFrame+"."+cameraID, FrameEvent{
		CameraID:  cameraID,
		Seq:       seq,
		Width:     width,
		Height:    height,
		Timestamp: ts,
	})
}

// PublishError publishes a non-fatal camera error.
func (b *Bus) PublishError(cameraID, message string) error {
	return b.Publish(SubjectError+"."+cameraID, ErrorEvent{
		CameraID:  cameraID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// PublishFatalError publishes a terminal worker error.
func (b *Bus) PublishFatalError(cameraID, message string) error {
	return b.Publish(SubjectError+"."+cameraID, ErrorEvent{
		CameraID:  cameraID,
		Message:   message,
		Fatal:     true,
		Timestamp: time.Now(),
	})
}

// PublishRecordingStarted publishes a recording start.
func (b *Bus) PublishRecordingStarted(cameraID string, recordingID int64, path string) error {
	return b.Publish(SubjectRecordingStarted+"."+cameraID, RecordingEvent{
		CameraID:    cameraID,
		RecordingID: recordingID,
		FilePath:    path,
		Timestamp:   time.Now(),
	})
}

// PublishRecordingStopped publishes a recording stop.
func (b *Bus) PublishRecordingStopped(cameraID string) error {
	return b.Publish(SubjectRecordingStopped+"."+cameraID, RecordingEvent{
		CameraID:  cameraID,
		Timestamp: time.Now(),
	})
}

// PublishRecordingError publishes a recorder failure.
func (b *Bus) PublishRecordingError(cameraID, message string) error {
	return b.Publish(SubjectRecordingError+"."+cameraID, RecordingEvent{
		CameraID:  cameraID,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// PublishSegmentClosed publishes a finalized segment.
func (b *Bus) PublishSegmentClosed(cameraID string, recordingID int64, path string) error {
	return b.Publish(SubjectSegmentClosed+"."+cameraID, RecordingEvent{
		CameraID:    cameraID,
		RecordingID: recordingID,
		FilePath:    path,
		Timestamp:   time.Now(),
	})
}

// PublishStorageWarning publishes a low-free-space warning.
func (b *Bus) PublishStorageWarning(percentFree float64) error {
	return b.Publish(SubjectStorageWarning, StorageEvent{
		PercentFree: percentFree,
		Timestamp:   time.Now(),
	})
}
