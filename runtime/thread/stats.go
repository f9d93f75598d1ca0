package thread

import (
	"fmt"
	"time"
)

// Stats describes the stop-the-world pauses of a runtime. Stop is the time it
// took to stop every thread; Pause is the time the world stayed stopped.
type Stats struct {
	GCs int

	StopMin, StopMax, StopTotal    time.Duration
	PauseMin, PauseMax, PauseTotal time.Duration
}

func (s Stats) StopAvg() time.Duration {
	if s.GCs == 0 {
		return 0
	}
	return s.StopTotal / time.Duration(s.GCs)
}

func (s Stats) PauseAvg() time.Duration {
	if s.GCs == 0 {
		return 0
	}
	return s.PauseTotal / time.Duration(s.GCs)
}

// add records one pause. Negative durations mean the clock misbehaved; the
// pause is dropped and add reports false.
func (s *Stats) add(stop, pause time.Duration) bool {
	if stop < 0 || pause < 0 {
		return false
	}
	if s.GCs == 0 || stop < s.StopMin {
		s.StopMin = stop
	}
	if stop > s.StopMax {
		s.StopMax = stop
	}
	if s.GCs == 0 || pause < s.PauseMin {
		s.PauseMin = pause
	}
	if pause > s.PauseMax {
		s.PauseMax = pause
	}
	s.StopTotal += stop
	s.PauseTotal += pause
	s.GCs++
	return true
}

func micros(d time.Duration) int64 {
	return d.Microseconds()
}

// String formats s in the layout of the exit summary.
func (s Stats) String() string {
	return fmt.Sprintf("GC: time-to-stw=%d,%d,%d µs (min,avg,max) pause=%d,%d,%d µs over %d GCs",
		micros(s.StopMin), micros(s.StopAvg()), micros(s.StopMax),
		micros(s.PauseMin), micros(s.PauseAvg()), micros(s.PauseMax),
		s.GCs)
}

func (rt *Runtime) recordPause(stop, pause time.Duration) {
	rt.statsMu.Lock()
	ok := rt.stats.add(stop, pause)
	rt.statsMu.Unlock()
	if !ok {
		rt.logf("negative pause times: stop %v, pause %v", stop, pause)
	}
}

// ResetStats forgets the pauses recorded so far.
func (rt *Runtime) ResetStats() {
	rt.statsMu.Lock()
	rt.stats = Stats{}
	rt.statsMu.Unlock()
}

// Stats returns the pause statistics collected so far.
func (rt *Runtime) Stats() Stats {
	rt.statsMu.Lock()
	defer rt.statsMu.Unlock()
	return rt.stats
}
