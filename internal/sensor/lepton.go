package sensor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/thermal.capture/internal/monitoring"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

const (
	DefaultBootTimeout  = time.Second
	DefaultFFCTimeout   = 5 * time.Second
	DefaultPollInterval = time.Millisecond

	// line settle times for the reset sequence
	pinSettle   = 10 * time.Millisecond
	bootSettle  = time.Second
	sleepSettle = 100 * time.Millisecond
)

var logf = monitoring.Component("Lepton")

// Config contains configuration for the Lepton driver.
type Config struct {
	Control   Control
	Pins      Pins             // optional
	Assembler *vospi.Assembler // receives the geometry learned at reset

	BootTimeout  time.Duration  // open, boot and busy polls (default: 1s)
	FFCTimeout   time.Duration  // flat-field correction poll (default: 5s)
	PollInterval time.Duration  // delay between polls (default: 1ms)
	Clock        timeutil.Clock // time source (default: timeutil.RealClock)

	Format radiometry.PixFormat // initial output format; unset until SetPixFormat
}

// Lepton implements Sensor for the FLIR Lepton 1.x/2.x/3.x family.
type Lepton struct {
	ctl   Control
	pins  Pins
	asm   *vospi.Assembler
	clock timeutil.Clock

	bootTimeout time.Duration
	ffcTimeout  time.Duration
	poll        time.Duration

	mu       sync.Mutex
	geometry vospi.Geometry
	format   radiometry.PixFormat
	hmirror  bool
	vflip    bool
}

var _ Sensor = (*Lepton)(nil)

// NewLepton creates a driver. Reset must succeed before frames can be
// captured.
func NewLepton(config Config) *Lepton {
	if config.BootTimeout <= 0 {
		config.BootTimeout = DefaultBootTimeout
	}
	if config.FFCTimeout <= 0 {
		config.FFCTimeout = DefaultFFCTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Lepton{
		ctl:         config.Control,
		pins:        config.Pins,
		asm:         config.Assembler,
		clock:       config.Clock,
		bootTimeout: config.BootTimeout,
		ffcTimeout:  config.FFCTimeout,
		poll:        config.PollInterval,
		format:      config.Format,
	}
}

// Close releases the command interface when it holds a device, such as
// the I2C bus behind a cci.Client.
func (l *Lepton) Close() error {
	if c, ok := l.ctl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reset power-cycles the sensor, waits for it to boot and finish flat-field
// correction, enables AGC, and learns the frame geometry from the AGC
// region of interest. Mirror and flip are cleared. On success the assembler
// is resized and a resync is left pending for the first capture.
func (l *Lepton) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.geometry = vospi.Geometry{}
	l.hmirror, l.vflip = false, false
	l.mu.Unlock()

	if err := l.cycleLines(); err != nil {
		return err
	}

	err := l.pollUntil(ctx, "open", l.bootTimeout, true, func() (bool, error) {
		return l.ctl.Open() == nil, nil
	})
	if err != nil {
		return err
	}
	if err := l.pollUntil(ctx, "boot", l.bootTimeout, false, l.ctl.BootStatus); err != nil {
		return err
	}
	err = l.pollUntil(ctx, "busy", l.bootTimeout, false, func() (bool, error) {
		busy, err := l.ctl.Busy()
		return !busy, err
	})
	if err != nil {
		return err
	}
	err = l.pollUntil(ctx, "ffc", l.ffcTimeout, false, func() (bool, error) {
		status, err := l.ctl.FFCStatus()
		return status == SysReady, err
	})
	if err != nil {
		return err
	}

	if err := l.ctl.SetRadiometryEnable(false); err != nil {
		return fmt.Errorf("disable radiometry: %w", err)
	}
	roi, err := l.ctl.AGCROI()
	if err != nil {
		return fmt.Errorf("read agc roi: %w", err)
	}
	if err := l.ctl.SetAGCEnable(true); err != nil {
		return fmt.Errorf("enable agc: %w", err)
	}
	if err := l.ctl.SetAGCCalcEnable(true); err != nil {
		return fmt.Errorf("enable agc calc: %w", err)
	}

	g := vospi.GeometryFromROI(roi.EndCol, roi.EndRow)
	if !g.Valid() {
		return fmt.Errorf("sensor: unsupported roi %+v (%s)", roi, g)
	}

	l.mu.Lock()
	l.geometry = g
	l.mu.Unlock()
	if l.asm != nil {
		// also flags the resync
		l.asm.SetGeometry(g)
	}
	logf("reset complete, %s, %d packets per frame", g, g.PacketsPerFrame())
	return nil
}

func (l *Lepton) cycleLines() error {
	if l.pins == nil {
		return nil
	}
	steps := []struct {
		set   func(bool) error
		high  bool
		delay time.Duration
	}{
		{l.pins.SetPowerDown, false, pinSettle},
		{l.pins.SetPowerDown, true, pinSettle},
		{l.pins.SetReset, false, pinSettle},
		{l.pins.SetReset, true, bootSettle},
	}
	for _, s := range steps {
		if err := s.set(s.high); err != nil {
			return fmt.Errorf("reset lines: %w", err)
		}
		l.clock.Sleep(s.delay)
	}
	return nil
}

// pollUntil calls ready every poll interval until it reports true or the
// timeout passes. Errors from ready abort immediately unless retryErrors is
// set.
func (l *Lepton) pollUntil(ctx context.Context, step string, timeout time.Duration, retryErrors bool, ready func() (bool, error)) error {
	start := l.clock.Now()
	for {
		ok, err := ready()
		if err != nil && !retryErrors {
			return fmt.Errorf("%s: %w", step, err)
		}
		if err == nil && ok {
			return nil
		}
		if l.clock.Since(start) >= timeout {
			logf("%s not ready after %s", step, timeout)
			return fmt.Errorf("%w: %s after %s", ErrConfigurationTimeout, step, timeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		l.clock.Sleep(l.poll)
	}
}

// Sleep drives the power-down line: low to sleep, high to wake.
func (l *Lepton) Sleep(enable bool) error {
	if l.pins == nil {
		return ErrUnsupported
	}
	if err := l.pins.SetPowerDown(!enable); err != nil {
		return fmt.Errorf("power-down line: %w", err)
	}
	l.clock.Sleep(sleepSettle)
	return nil
}

// ReadReg reads a CCI register.
func (l *Lepton) ReadReg(reg uint16) (uint16, error) {
	return l.ctl.ReadReg(reg)
}

// WriteReg writes a CCI register.
func (l *Lepton) WriteReg(reg, value uint16) error {
	return l.ctl.WriteReg(reg, value)
}

// Geometry returns the frame layout learned at reset; zero before that.
func (l *Lepton) Geometry() vospi.Geometry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.geometry
}

// DecodeOptions returns the current output settings.
func (l *Lepton) DecodeOptions() radiometry.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return radiometry.Options{Format: l.format, HMirror: l.hmirror, VFlip: l.vflip}
}

// SetPixFormat selects grayscale or RGB565 output.
func (l *Lepton) SetPixFormat(format radiometry.PixFormat) error {
	if format.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: pixel format %s", ErrUnsupported, format)
	}
	l.mu.Lock()
	l.format = format
	l.mu.Unlock()
	return nil
}

// SetHMirror mirrors decoded frames left to right. Reset clears it, so it
// is refused until a reset has succeeded.
func (l *Lepton) SetHMirror(enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.geometry.Valid() {
		return ErrNotReset
	}
	l.hmirror = enable
	return nil
}

// SetVFlip flips decoded frames top to bottom. Like SetHMirror it needs a
// completed reset.
func (l *Lepton) SetVFlip(enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.geometry.Valid() {
		return ErrNotReset
	}
	l.vflip = enable
	return nil
}

// The Lepton's image pipeline is controlled by AGC alone.

func (l *Lepton) SetContrast(int) error { return ErrUnsupported }
func (l *Lepton) SetBrightness(int) error { return ErrUnsupported }
func (l *Lepton) SetGainCeiling(float64) error { return ErrUnsupported }
func (l *Lepton) SetAutoExposure(bool, int) error { return ErrUnsupported }
func (l *Lepton) SetAutoWhiteBalance(bool) error { return ErrUnsupported }
