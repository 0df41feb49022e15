// Package cci speaks the Lepton camera control interface: 16-bit registers
// on I2C, with SDK commands issued through a command register and up to 16
// data words.
package cci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/thermal.capture/internal/sensor"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
)

// Register map.
const (
	RegPower      uint16 = 0x0000
	RegStatus     uint16 = 0x0002
	RegCommand    uint16 = 0x0004
	RegDataLength uint16 = 0x0006
	RegData0      uint16 = 0x0008
	DataWords            = 16
)

// Status register bits.
const (
	StatusBusy       uint16 = 1 << 0
	StatusBootMode   uint16 = 1 << 1
	StatusBootStatus uint16 = 1 << 2
)

// Command IDs (module | base | type).
const (
	cmdGet = 0x0
	cmdSet = 0x1

	CmdAGCEnable     uint16 = 0x0100
	CmdAGCROI        uint16 = 0x0108
	CmdAGCCalcEnable uint16 = 0x0148
	CmdSysFFCStatus  uint16 = 0x0244
	CmdRadEnable     uint16 = 0x4E10
)

// ErrCommandFailed wraps a non-zero SDK result code from the status register.
var ErrCommandFailed = errors.New("cci: command failed")

const DefaultBusyTimeout = time.Second

// Client implements sensor.Control on a Bus.
type Client struct {
	bus   Bus
	clock timeutil.Clock

	busyTimeout time.Duration

	mu sync.Mutex
}

var _ sensor.Control = (*Client)(nil)

// NewClient wraps bus. A nil clock uses real time.
func NewClient(bus Bus, clock timeutil.Clock) *Client {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Client{bus: bus, clock: clock, busyTimeout: DefaultBusyTimeout}
}

// Close releases the bus.
func (c *Client) Close() error {
	return c.bus.Close()
}

// Open checks that the sensor answers on the bus.
func (c *Client) Open() error {
	_, err := c.ReadReg(RegStatus)
	return err
}

func (c *Client) BootStatus() (bool, error) {
	st, err := c.ReadReg(RegStatus)
	if err != nil {
		return false, err
	}
	return st&StatusBootStatus != 0, nil
}

func (c *Client) Busy() (bool, error) {
	st, err := c.ReadReg(RegStatus)
	if err != nil {
		return false, err
	}
	return st&StatusBusy != 0, nil
}

func (c *Client) FFCStatus() (sensor.SysStatus, error) {
	words, err := c.get(CmdSysFFCStatus, 2)
	if err != nil {
		return 0, err
	}
	return sensor.SysStatus(int32(enumValue(words))), nil
}

func (c *Client) AGCROI() (sensor.ROI, error) {
	words, err := c.get(CmdAGCROI, 4)
	if err != nil {
		return sensor.ROI{}, err
	}
	return sensor.ROI{StartCol: words[0], StartRow: words[1], EndCol: words[2], EndRow: words[3]}, nil
}

func (c *Client) SetAGCEnable(enable bool) error {
	return c.set(CmdAGCEnable, enumWords(enable))
}

func (c *Client) SetAGCCalcEnable(enable bool) error {
	return c.set(CmdAGCCalcEnable, enumWords(enable))
}

func (c *Client) SetRadiometryEnable(enable bool) error {
	return c.set(CmdRadEnable, enumWords(enable))
}

// ReadReg reads one big-endian register.
func (c *Client) ReadReg(reg uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readReg(reg)
}

// WriteReg writes one big-endian register.
func (c *Client) WriteReg(reg, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeReg(reg, value)
}

func (c *Client) readReg(reg uint16) (uint16, error) {
	var w [2]byte
	var r [2]byte
	binary.BigEndian.PutUint16(w[:], reg)
	if err := c.bus.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("cci: read %#04x: %w", reg, err)
	}
	return binary.BigEndian.Uint16(r[:]), nil
}

func (c *Client) writeReg(reg, value uint16) error {
	var w [4]byte
	binary.BigEndian.PutUint16(w[0:], reg)
	binary.BigEndian.PutUint16(w[2:], value)
	if err := c.bus.Tx(w[:], nil); err != nil {
		return fmt.Errorf("cci: write %#04x: %w", reg, err)
	}
	return nil
}

// waitIdle polls the busy bit and returns the last status word.
func (c *Client) waitIdle() (uint16, error) {
	start := c.clock.Now()
	for {
		st, err := c.readReg(RegStatus)
		if err != nil {
			return 0, err
		}
		if st&StatusBusy == 0 {
			return st, nil
		}
		if c.clock.Since(start) >= c.busyTimeout {
			return st, fmt.Errorf("%w: cci busy after %s", sensor.ErrConfigurationTimeout, c.busyTimeout)
		}
		c.clock.Sleep(time.Millisecond)
	}
}

// run issues one SDK command. length is the data word count: the words
// written for a set, the words expected back for a get.
func (c *Client) run(cmd uint16, length int, data []uint16) error {
	if length > DataWords {
		return fmt.Errorf("cci: command %#04x: %d data words, max %d", cmd, length, DataWords)
	}
	if _, err := c.waitIdle(); err != nil {
		return err
	}
	for i, v := range data {
		if err := c.writeReg(RegData0+uint16(2*i), v); err != nil {
			return err
		}
	}
	if err := c.writeReg(RegDataLength, uint16(length)); err != nil {
		return err
	}
	if err := c.writeReg(RegCommand, cmd); err != nil {
		return err
	}
	st, err := c.waitIdle()
	if err != nil {
		return err
	}
	if code := int8(st >> 8); code != 0 {
		return fmt.Errorf("%w: command %#04x result %d", ErrCommandFailed, cmd, code)
	}
	return nil
}

func (c *Client) get(base uint16, words int) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.run(base|cmdGet, words, nil); err != nil {
		return nil, err
	}
	out := make([]uint16, words)
	for i := range out {
		v, err := c.readReg(RegData0 + uint16(2*i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Client) set(base uint16, data []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(base|cmdSet, len(data), data)
}

// Enums travel as 32-bit values, least significant word first.
func enumWords(enable bool) []uint16 {
	if enable {
		return []uint16{1, 0}
	}
	return []uint16{0, 0}
}

func enumValue(words []uint16) uint32 {
	return uint32(words[1])<<16 | uint32(words[0])
}
