// Package sensor configures a FLIR Lepton over its command interface (CCI)
// and exposes it through a small capability interface. Operations the
// Lepton cannot perform return ErrUnsupported rather than succeeding
// silently.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

var (
	// ErrConfigurationTimeout is returned when a reset step does not reach
	// its ready condition within its timeout.
	ErrConfigurationTimeout = errors.New("sensor: configuration timed out")
	// ErrUnsupported is returned by capability setters this sensor lacks.
	ErrUnsupported = errors.New("sensor: operation not supported")
	// ErrNotReset is returned by operations that need the geometry learned
	// at reset.
	ErrNotReset = errors.New("sensor: not reset")
)

// Sensor is the capability set the capture pipeline expects from an
// imaging sensor.
type Sensor interface {
	Reset(ctx context.Context) error
	Sleep(enable bool) error
	ReadReg(reg uint16) (uint16, error)
	WriteReg(reg, value uint16) error
	Close() error

	Geometry() vospi.Geometry
	DecodeOptions() radiometry.Options

	SetPixFormat(format radiometry.PixFormat) error
	SetHMirror(enable bool) error
	SetVFlip(enable bool) error
	SetContrast(level int) error
	SetBrightness(level int) error
	SetGainCeiling(db float64) error
	SetAutoExposure(enable bool, exposureUS int) error
	SetAutoWhiteBalance(enable bool) error
}

// SysStatus mirrors the SYS module camera status values.
type SysStatus int32

const (
	SysWriteError SysStatus = -2
	SysError      SysStatus = -1
	SysReady      SysStatus = 0
	SysBusy       SysStatus = 1
	SysAveraging  SysStatus = 2 // frame averaging in progress
)

func (s SysStatus) String() string {
	switch s {
	case SysWriteError:
		return "write-error"
	case SysError:
		return "error"
	case SysReady:
		return "ready"
	case SysBusy:
		return "busy"
	case SysAveraging:
		return "averaging"
	default:
		return fmt.Sprintf("SysStatus(%d)", int32(s))
	}
}

// ROI is an inclusive pixel rectangle as reported by the AGC module.
type ROI struct {
	StartCol uint16
	StartRow uint16
	EndCol   uint16
	EndRow   uint16
}

// Control is the command interface of the sensor. Implementations talk CCI
// over I2C (see package cci) or simulate it.
type Control interface {
	Open() error
	BootStatus() (booted bool, err error)
	Busy() (bool, error)
	FFCStatus() (SysStatus, error)
	AGCROI() (ROI, error)
	SetAGCEnable(enable bool) error
	SetAGCCalcEnable(enable bool) error
	SetRadiometryEnable(enable bool) error
	ReadReg(reg uint16) (uint16, error)
	WriteReg(reg, value uint16) error
}

// Pins drives the power-down and reset lines. Boards that wire neither can
// leave Pins nil.
type Pins interface {
	SetPowerDown(high bool) error
	SetReset(high bool) error
}
