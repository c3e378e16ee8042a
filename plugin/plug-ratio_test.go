package plugin_test

import (
	"testing"
	"time"

	Mp "github.com/maroda/blinkwise/plugin"
	Mt "github.com/maroda/blinkwise/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEyeRatio(t *testing.T) {
	t.Run("Returns truncated vertical over horizontal times 100", func(t *testing.T) {
		// horizontal 30, vertical 10 -> 33.33 -> 33
		eye := Mt.EyeLandmarks{
			Up:    Mt.Point{X: 15, Y: 0},
			Down:  Mt.Point{X: 15, Y: 10},
			Left:  Mt.Point{X: 0, Y: 5},
			Right: Mt.Point{X: 30, Y: 5},
		}
		assert.Equal(t, 33.0, Mp.EyeRatio(eye))
	})

	t.Run("Uses euclidean distance for tilted eyes", func(t *testing.T) {
		// horizontal 3-4-5 triangle -> 50, vertical 20 -> 40
		eye := Mt.EyeLandmarks{
			Up:    Mt.Point{X: 0, Y: 0},
			Down:  Mt.Point{X: 0, Y: 20},
			Left:  Mt.Point{X: 0, Y: 0},
			Right: Mt.Point{X: 30, Y: 40},
		}
		assert.Equal(t, 40.0, Mp.EyeRatio(eye))
	})

	t.Run("Degenerate eye reads as closed", func(t *testing.T) {
		eye := Mt.EyeLandmarks{Up: Mt.Point{Y: 1}, Down: Mt.Point{Y: 9}}
		assert.Equal(t, 0.0, Mp.EyeRatio(eye))
	})
}

func TestFrameFromLandmarks(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)
	open := Mt.EyeLandmarks{
		Up: Mt.Point{X: 5, Y: 0}, Down: Mt.Point{X: 5, Y: 4},
		Left: Mt.Point{X: 0, Y: 2}, Right: Mt.Point{X: 10, Y: 2},
	}
	shut := Mt.EyeLandmarks{
		Up: Mt.Point{X: 5, Y: 0}, Down: Mt.Point{X: 5, Y: 1},
		Left: Mt.Point{X: 0, Y: 2}, Right: Mt.Point{X: 10, Y: 2},
	}

	frame := Mp.FrameFromLandmarks(open, shut, now)

	require.True(t, frame.FacePresent)
	assert.Equal(t, 40.0, frame.Sample.RatioLeft)
	assert.Equal(t, 10.0, frame.Sample.RatioRight)
	assert.True(t, frame.Sample.CapturedAt.Equal(now))
	assert.NotNil(t, frame.LeftEye, "expected raw geometry to be kept")
	assert.NotNil(t, frame.RightEye, "expected raw geometry to be kept")
}
