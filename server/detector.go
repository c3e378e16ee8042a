package blinkwise

// Detection bands are empirical and must stay literal.
const (
	refractoryFrames = 10 // processed frames, not wall time
	zoneFloor        = 29 // ratios at or below this are zone C
	zoneBDelta       = 5  // required avg-r drop in zone B
	zoneCDelta       = 2  // required avg-r drop in zone C
)

// BlinkDetector is the debounced edge detector.
// A zero counter is IDLE, a non-zero counter is REFRACTORY(counter).
//
// A blink is a sharp drop of the instantaneous ratio below its trailing
// average; the drop required shrinks as the ratio itself gets smaller.
// Only the left eye drives detection.
type BlinkDetector struct {
	counter int
}

func NewBlinkDetector() *BlinkDetector {
	return &BlinkDetector{}
}

// Observe processes one frame and reports whether a blink fired.
// r is the raw left ratio, avg its smoothed average.
// After a firing frame F the next frame able to fire is F+10.
func (bd *BlinkDetector) Observe(r, avg float64, threshold int) bool {
	fired := false

	if bd.counter == 0 {
		t := float64(threshold)
		switch {
		case r > t:
			// closing edge the average hasn't caught up with
			fired = avg < t
		case r > zoneFloor:
			fired = avg-r > zoneBDelta
		default:
			fired = avg-r > zoneCDelta
		}
		if fired {
			bd.counter = 1
		}
	}

	if bd.counter != 0 {
		bd.counter++
		if bd.counter > refractoryFrames {
			bd.counter = 0
		}
	}

	return fired
}

// Refractory reports whether edge tests are currently suppressed
func (bd *BlinkDetector) Refractory() bool { return bd.counter != 0 }

func (bd *BlinkDetector) Reset() { bd.counter = 0 }
