package types

/*

	These are the "immutable" core types of Blinkwise,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here.
	Struct constructors are housed in their own packages.

*/

import "time"

// MinuteKeyLayout is the time layout of every MinuteBucket key.
// Keys are minute-truncated local timestamps and sort chronologically as strings.
const MinuteKeyLayout = "2006-01-02 15:04"

// DateLayout is the calendar date prefix of a MinuteKey.
const DateLayout = "2006-01-02"

// Sample is one processed video frame's aperture ratio pair.
// It is consumed immediately and never stored.
type Sample struct {
	RatioLeft  float64
	RatioRight float64
	CapturedAt time.Time
}

// Point is a single pixel coordinate produced by the landmark collaborator.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EyeLandmarks are the four corner/lid points of one eye.
type EyeLandmarks struct {
	Up    Point `json:"up"`
	Down  Point `json:"down"`
	Left  Point `json:"left"`
	Right Point `json:"right"`
}

// Frame is what the frame source yields per processed video frame.
// When FacePresent is false the rest of the frame is meaningless.
type Frame struct {
	FacePresent bool
	Sample      Sample
	LeftEye     *EyeLandmarks // optional raw geometry
	RightEye    *EyeLandmarks // optional raw geometry
}

// MinuteBucket is the in-memory counter for one calendar minute.
// Once sealed it is immutable and handed to the writer exactly once.
type MinuteBucket struct {
	MinuteKey string `json:"minuteKey"`
	Count     uint64 `json:"count"`
}

// Counter is the durable record of a (device, minute) pair.
// BlinkCount is only ever changed by adding a delta.
type Counter struct {
	DeviceID   string `json:"deviceId"`
	MinuteKey  string `json:"timestamp"`
	BlinkCount uint64 `json:"blink_count"`
}

// Status is the lifecycle state of a tracker
type Status string

const (
	StatusNotStarted  Status = "Not Started"
	StatusStarting    Status = "Starting"
	StatusRunning     Status = "Running"
	StatusPaused      Status = "Paused"
	StatusStopped     Status = "Stopped"
	StatusCameraError Status = "Camera Error"
)

// Classification is the wellness reading of the current blink rate.
// The zero value means no rate has been computed yet.
type Classification string

const (
	Unclassified Classification = ""
	Normal       Classification = "Normal"
	BelowAverage Classification = "Below Average"
	Critical     Classification = "Critical"
)

// ThresholdConfig holds the tunables read by the sampling loop every frame.
type ThresholdConfig struct {
	DetectionThreshold int `json:"threshold"`         // [20,50]
	NormalRate         int `json:"normal_blink_rate"` // >= 1
	LowRate            int `json:"low_blink_rate"`    // >= 1, < NormalRate
}

// TrackerState is the snapshot published by the sampling loop.
// Readers always receive a copy; it may be slightly stale.
type TrackerState struct {
	SessionID          string          `json:"session_id"`
	Status             Status          `json:"status"`
	Classification     Classification  `json:"classification"`
	Running            bool            `json:"running"`
	Paused             bool            `json:"paused"`
	BlinkCounter       uint64          `json:"blink_count"`
	ElapsedSeconds     float64         `json:"elapsed_time"`
	BlinkRatePerMinute float64         `json:"blink_rate"`
	LastAlert          string          `json:"last_alert"`
	LastAlertAt        time.Time       `json:"last_alert_at"`
	Threshold          ThresholdConfig `json:"config"`
}

// Alert is a rate-limited wellness notification.
type Alert struct {
	DeviceID       string         `json:"device_id"`
	Classification Classification `json:"classification"`
	Rate           float64        `json:"rate"`
	Message        string         `json:"message"`
	At             time.Time      `json:"at"`
}

// SessionSnapshot is the summary written when a session is saved.
type SessionSnapshot struct {
	SessionID       string         `json:"session_id"`
	Date            string         `json:"date"`
	DurationSeconds float64        `json:"duration"`
	TotalBlinks     uint64         `json:"total_blinks"`
	BlinkRate       float64        `json:"blink_rate"`
	Status          Status         `json:"status"`
	Classification  Classification `json:"classification"`
}
