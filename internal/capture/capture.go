// Package capture drives single-frame acquisition on top of a running VoSPI
// receiver: it restarts the assembler, runs any pending resync, and waits on
// packet events until a whole frame is available.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/thermal.capture/internal/monitoring"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

var (
	// ErrNotConfigured means the sensor has not been reset (no geometry)
	// or no pixel format has been selected.
	ErrNotConfigured = errors.New("capture: sensor not configured")
	// ErrBusy is returned when another capture is already in progress.
	ErrBusy = errors.New("capture: capture already in progress")
	// ErrCaptureTimeout is returned when no complete frame arrives within
	// the capture timeout or the resync budget is spent.
	ErrCaptureTimeout = errors.New("capture: timed out waiting for frame")
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxResyncs = 10
)

var logf = monitoring.Component("Capturer")

// DecodeSettings supplies the output format for Snapshot. The sensor driver
// implements it; Static is enough for tests and replays.
type DecodeSettings interface {
	DecodeOptions() radiometry.Options
}

// Static is a fixed DecodeSettings.
type Static radiometry.Options

func (s Static) DecodeOptions() radiometry.Options { return radiometry.Options(s) }

// Config contains configuration for the Capturer.
type Config struct {
	Timeout    time.Duration  // per-capture bound (default: 5s)
	MaxResyncs int            // resyncs allowed per capture (default: 10)
	Clock      timeutil.Clock // time source (default: timeutil.RealClock)
}

// Stats summarises capture activity since the Capturer was created.
type Stats struct {
	Frames   uint64    `json:"frames"`
	Timeouts uint64    `json:"timeouts"`
	Resyncs  uint64    `json:"resyncs"`
	Last     time.Time `json:"last,omitempty"`
}

// Capturer owns the consumer side of the frame buffer.
type Capturer struct {
	rx       *vospi.Receiver
	asm      *vospi.Assembler
	syncer   *vospi.Synchronizer
	settings DecodeSettings

	timeout    time.Duration
	maxResyncs int
	clock      timeutil.Clock

	busy sync.Mutex

	frames   atomic.Uint64
	timeouts atomic.Uint64
	resyncs  atomic.Uint64
	last     atomic.Int64 // unix nanos of the last completed frame
}

// New creates a Capturer. rx must be running (or about to be) in its own
// goroutine.
func New(rx *vospi.Receiver, asm *vospi.Assembler, syncer *vospi.Synchronizer, settings DecodeSettings, config Config) *Capturer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxResyncs <= 0 {
		config.MaxResyncs = DefaultMaxResyncs
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Capturer{
		rx:         rx,
		asm:        asm,
		syncer:     syncer,
		settings:   settings,
		timeout:    config.Timeout,
		maxResyncs: config.MaxResyncs,
		clock:      config.Clock,
	}
}

// Configured reports whether a capture could start: the geometry is known
// and a supported pixel format is selected.
func (c *Capturer) Configured() bool {
	if !c.asm.Geometry().Valid() || c.settings == nil {
		return false
	}
	return c.settings.DecodeOptions().Format.BytesPerPixel() > 0
}

// AcquireFrame blocks until a complete frame has been assembled and returns
// a copy the caller owns. Partial frames are never returned.
func (c *Capturer) AcquireFrame(ctx context.Context) (vospi.Frame, error) {
	var out vospi.Frame
	err := c.acquire(ctx, func(f vospi.Frame) error {
		out = f.Clone()
		return nil
	})
	return out, err
}

// Snapshot acquires a frame and decodes it with the current settings before
// the buffer is released for the next capture.
func (c *Capturer) Snapshot(ctx context.Context) (*radiometry.Image, vospi.Frame, error) {
	var (
		img   *radiometry.Image
		frame vospi.Frame
	)
	err := c.acquire(ctx, func(f vospi.Frame) error {
		var err error
		img, err = radiometry.Decode(f, c.settings.DecodeOptions())
		if err != nil {
			return err
		}
		frame = f.Clone()
		return nil
	})
	return img, frame, err
}

// Resync runs the resync procedure immediately, outside a capture.
func (c *Capturer) Resync(ctx context.Context) error {
	if !c.busy.TryLock() {
		return ErrBusy
	}
	defer c.busy.Unlock()
	c.asm.RequestResync()
	if err := c.syncer.Resync(ctx); err != nil {
		return err
	}
	c.resyncs.Add(1)
	return nil
}

// Stats returns a copy of the capture counters.
func (c *Capturer) Stats() Stats {
	s := Stats{
		Frames:   c.frames.Load(),
		Timeouts: c.timeouts.Load(),
		Resyncs:  c.resyncs.Load(),
	}
	if ns := c.last.Load(); ns != 0 {
		s.Last = time.Unix(0, ns).UTC()
	}
	return s
}

// LinkStats returns the receiver and assembler counters.
func (c *Capturer) LinkStats() (vospi.ReceiverStats, vospi.AssemblerStats) {
	return c.rx.Stats(), c.asm.Stats()
}

// Geometry is the frame geometry captures are assembled for.
func (c *Capturer) Geometry() vospi.Geometry {
	return c.asm.Geometry()
}

// DecodeOptions returns the settings Snapshot decodes with.
func (c *Capturer) DecodeOptions() radiometry.Options {
	if c.settings == nil {
		return radiometry.Options{}
	}
	return c.settings.DecodeOptions()
}

func (c *Capturer) acquire(ctx context.Context, use func(vospi.Frame) error) error {
	if !c.busy.TryLock() {
		return ErrBusy
	}
	defer c.busy.Unlock()

	if !c.Configured() {
		return ErrNotConfigured
	}

	timer := c.clock.NewTimer(c.timeout)
	defer timer.Stop()

	c.asm.Restart()
	if !c.syncer.Pending() && !c.rx.Armed() {
		c.rx.Arm()
	}

	resyncs := 0
	for {
		if c.syncer.Pending() {
			if resyncs >= c.maxResyncs {
				c.timeouts.Add(1)
				return fmt.Errorf("%w: sync lost %d times", ErrCaptureTimeout, resyncs)
			}
			resyncs++
			if resyncs > 1 {
				logf("resync %d of %d", resyncs, c.maxResyncs)
			}
			if err := c.syncer.Resync(ctx); err != nil {
				return err
			}
			c.resyncs.Add(1)
			continue
		}

		if frame, ok := c.asm.Frame(); ok {
			if err := use(frame); err != nil {
				return err
			}
			c.frames.Add(1)
			c.last.Store(c.clock.Now().UnixNano())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			c.timeouts.Add(1)
			logf("no frame after %s (%+v)", c.timeout, c.asm.Stats())
			// the link may be byte-misaligned; start the next capture quiet
			c.asm.RequestResync()
			return fmt.Errorf("%w after %s", ErrCaptureTimeout, c.timeout)
		case <-c.rx.Done():
			return fmt.Errorf("capture: %w", c.rx.Err())
		case <-c.rx.Events():
		}
	}
}
