package blinkwise

// smoothingDepth is how many raw ratios feed the trailing average
const smoothingDepth = 3

// SmoothingWindow is a bounded FIFO of the most recent raw ratios for one eye.
// It is owned by the sampling loop and never shared.
type SmoothingWindow struct {
	values [smoothingDepth]float64
	next   int
	size   int
}

func NewSmoothingWindow() *SmoothingWindow {
	return &SmoothingWindow{}
}

// Push adds a ratio, evicting the oldest when full, and returns the new average
func (sw *SmoothingWindow) Push(ratio float64) float64 {
	sw.values[sw.next] = ratio
	sw.next = (sw.next + 1) % smoothingDepth
	if sw.size < smoothingDepth {
		sw.size++
	}
	avg, _ := sw.Average()
	return avg
}

// Average is the arithmetic mean of the current contents.
// ok is false when nothing has been pushed.
func (sw *SmoothingWindow) Average() (avg float64, ok bool) {
	if sw.size == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < sw.size; i++ {
		sum += sw.values[i]
	}
	return sum / float64(sw.size), true
}

func (sw *SmoothingWindow) Len() int { return sw.size }

func (sw *SmoothingWindow) Reset() {
	*sw = SmoothingWindow{}
}
