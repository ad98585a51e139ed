// Package stats provides online accumulators for per-sensor stream
// statistics. Mean and standard deviation are maintained incrementally with
// Welford's update, so memory stays bounded regardless of stream length.
package stats

import "math"

// RunningStats is an online mean/variance accumulator for a single sensor
// stream. Each instance must be owned by exactly one goroutine at a time;
// there is no internal locking.
type RunningStats struct {
	count uint64
	mean  float64
	m2    float64 // sum of squared deviations from the running mean
}

// Update folds a new value into the accumulator and returns the updated
// mean, standard deviation and sample count. O(1) per call.
func (s *RunningStats) Update(value float64) (mean, stdDev float64, count uint64) {
	s.count++
	delta := value - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (value - s.mean)
	return s.mean, s.StdDev(), s.count
}

// Count returns the number of values seen. Monotonically non-decreasing
// until Reset.
func (s *RunningStats) Count() uint64 { return s.count }

// Mean returns the running arithmetic mean, or 0 before any update.
func (s *RunningStats) Mean() float64 { return s.mean }

// Variance returns the population variance of the stream so far. The
// accumulated sum of squares can drift slightly negative from floating
// point cancellation, so it is clamped to 0.
func (s *RunningStats) Variance() float64 {
	if s.count == 0 {
		return 0
	}
	v := s.m2 / float64(s.count)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation of the stream so far.
// Never negative; 0 for an empty or single-sample stream.
func (s *RunningStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Reset discards all accumulated state, e.g. when actuator feedback asks
// for a baseline recalibration.
func (s *RunningStats) Reset() {
	s.count = 0
	s.mean = 0
	s.m2 = 0
}

// Registry holds one RunningStats per sensor ID, created lazily on first
// reading. Like the accumulators it hands out, a Registry is owned by a
// single processing goroutine.
type Registry struct {
	streams map[string]*RunningStats
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*RunningStats)}
}

// Update feeds value into the accumulator for sensorID, creating it if
// this is the first reading for that sensor.
func (r *Registry) Update(sensorID string, value float64) (mean, stdDev float64, count uint64) {
	return r.Stream(sensorID).Update(value)
}

// Stream returns the accumulator for sensorID, creating it if needed.
func (r *Registry) Stream(sensorID string) *RunningStats {
	s, ok := r.streams[sensorID]
	if !ok {
		s = &RunningStats{}
		r.streams[sensorID] = s
	}
	return s
}

// Reset clears the accumulator for sensorID if one exists. Unknown IDs are
// a no-op so feedback for never-seen actuators is harmless.
func (r *Registry) Reset(sensorID string) {
	if s, ok := r.streams[sensorID]; ok {
		s.Reset()
	}
}

// Len returns the number of distinct sensor streams seen so far.
func (r *Registry) Len() int { return len(r.streams) }
