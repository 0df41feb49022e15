package simulator

import (
	"sync"

	"github.com/banshee-data/thermal.capture/internal/sensor"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// Control answers the command interface like a freshly powered sensor.
type Control struct {
	mu sync.Mutex

	roi       sensor.ROI
	bootPolls int
	ffcPolls  int
	regs      map[uint16]uint16

	agc     bool
	agcCalc bool
	rad     bool
}

var _ sensor.Control = (*Control)(nil)

// NewControl reports an AGC region of interest covering g. bootPolls and
// ffcPolls are the number of polls that see the sensor still starting up.
func NewControl(g vospi.Geometry, bootPolls, ffcPolls int) *Control {
	return &Control{
		roi:       sensor.ROI{EndCol: uint16(g.Width - 1), EndRow: uint16(g.Height - 1)},
		bootPolls: bootPolls,
		ffcPolls:  ffcPolls,
		regs:      map[uint16]uint16{},
		rad:       true,
	}
}

func (c *Control) Open() error { return nil }

func (c *Control) BootStatus() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootPolls > 0 {
		c.bootPolls--
		return false, nil
	}
	return true, nil
}

func (c *Control) Busy() (bool, error) { return false, nil }

func (c *Control) FFCStatus() (sensor.SysStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ffcPolls > 0 {
		c.ffcPolls--
		return sensor.SysBusy, nil
	}
	return sensor.SysReady, nil
}

func (c *Control) AGCROI() (sensor.ROI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi, nil
}

func (c *Control) SetAGCEnable(enable bool) error {
	c.mu.Lock()
	c.agc = enable
	c.mu.Unlock()
	return nil
}

func (c *Control) SetAGCCalcEnable(enable bool) error {
	c.mu.Lock()
	c.agcCalc = enable
	c.mu.Unlock()
	return nil
}

func (c *Control) SetRadiometryEnable(enable bool) error {
	c.mu.Lock()
	c.rad = enable
	c.mu.Unlock()
	return nil
}

// Modes reports the AGC, AGC calc and radiometry enables.
func (c *Control) Modes() (agc, agcCalc, rad bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agc, c.agcCalc, c.rad
}

func (c *Control) ReadReg(reg uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg], nil
}

func (c *Control) WriteReg(reg, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[reg] = value
	return nil
}
