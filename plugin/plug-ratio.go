package plugin

/*
	Aperture Ratio

	Turns the landmark collaborator's eye geometry into the
	integer-valued ratio the detector works on:

		ratio = int(vertical / horizontal * 100)

	~~~ Sampler Reference Implementation ~~~
*/

import (
	"math"
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

// EyeRatio returns the aperture ratio of one eye.
// A degenerate eye (no horizontal extent) reads as fully closed.
func EyeRatio(eye Mt.EyeLandmarks) float64 {
	hor := distance(eye.Left, eye.Right)
	if hor == 0 {
		return 0
	}
	ver := distance(eye.Up, eye.Down)
	return math.Trunc(ver / hor * 100)
}

// SampleFromLandmarks builds a Sample from both eyes
func SampleFromLandmarks(left, right Mt.EyeLandmarks, at time.Time) Mt.Sample {
	return Mt.Sample{
		RatioLeft:  EyeRatio(left),
		RatioRight: EyeRatio(right),
		CapturedAt: at,
	}
}

// FrameFromLandmarks is the face-present Frame for a landmark pair
func FrameFromLandmarks(left, right Mt.EyeLandmarks, at time.Time) Mt.Frame {
	return Mt.Frame{
		FacePresent: true,
		Sample:      SampleFromLandmarks(left, right, at),
		LeftEye:     &left,
		RightEye:    &right,
	}
}

func distance(a, b Mt.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
