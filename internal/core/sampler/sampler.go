// Package sampler decides which captured frames get the expensive recognition
// treatment. Capture and display continue on every frame regardless; the
// sampler only gates recognition work.
package sampler

// Sampler selects every Nth frame for processing. It is a pure function of
// its configuration; the frame counter is owned by the caller.
type Sampler struct {
	interval int
}

// New creates a sampler that selects every Nth frame. An interval of 1 or
// less selects every frame.
func New(interval int) Sampler {
	if interval < 1 {
		interval = 1
	}
	return Sampler{interval: interval}
}

// Interval returns the configured skip interval.
func (s Sampler) Interval() int {
	return s.interval
}

// ShouldProcess reports whether recognition should run on the given frame.
func (s Sampler) ShouldProcess(frameIndex int) bool {
	return frameIndex%s.interval == 0
}
