package vospi

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/thermal.capture/internal/timeutil"
)

// DefaultQuietInterval is longer than one frame period at every supported
// frame rate, which is what the sensor needs to restart its packet counter.
const DefaultQuietInterval = 200 * time.Millisecond

// SynchronizerConfig contains configuration for the Synchronizer.
type SynchronizerConfig struct {
	QuietInterval time.Duration  // link idle time before re-arming (default: 200ms)
	Clock         timeutil.Clock // time source (default: timeutil.RealClock)
}

// Synchronizer runs the resync procedure: stop reception, keep the link
// quiet, reset the counters, re-arm. The quiet period is the only way the
// protocol offers to make the sensor restart at the next frame boundary.
type Synchronizer struct {
	rx    *Receiver
	asm   *Assembler
	quiet time.Duration
	clock timeutil.Clock

	resyncs atomic.Uint64
}

// NewSynchronizer creates a Synchronizer for the given receiver/assembler
// pair.
func NewSynchronizer(rx *Receiver, asm *Assembler, config SynchronizerConfig) *Synchronizer {
	if config.QuietInterval <= 0 {
		config.QuietInterval = DefaultQuietInterval
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Synchronizer{
		rx:    rx,
		asm:   asm,
		quiet: config.QuietInterval,
		clock: config.Clock,
	}
}

// Pending reports whether the assembler is waiting for a resync.
func (s *Synchronizer) Pending() bool {
	return s.asm.Resyncing()
}

// Resyncs is the number of completed resync procedures.
func (s *Synchronizer) Resyncs() uint64 {
	return s.resyncs.Load()
}

// QuietInterval returns the configured link idle time.
func (s *Synchronizer) QuietInterval() time.Duration {
	return s.quiet
}

// Resync blocks for the quiet interval. If ctx ends first, reception stays
// disarmed, the resync stays pending, and ctx.Err() is returned.
func (s *Synchronizer) Resync(ctx context.Context) error {
	s.rx.Disarm()
	opsf("resync: link quiet for %s", s.quiet)

	timer := s.clock.NewTimer(s.quiet)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
	}

	if err := s.rx.Flush(); err != nil {
		// stale bytes only cost another resync
		opsf("resync: %v", err)
	}
	s.asm.ResetSync()
	s.rx.Arm()
	s.resyncs.Add(1)
	diagf("resync: reception re-armed")
	return nil
}
