package cci

import "errors"

// DefaultAddress is the Lepton's fixed 7-bit I2C address.
const DefaultAddress = 0x2A

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("cci: bus closed")

// Bus performs one I2C transaction: write w, then read len(r) bytes.
// Either may be empty.
type Bus interface {
	Tx(w, r []byte) error
	Close() error
}
