// Package link provides the byte-stream transport that carries VoSPI packets
// from the sensor to the host: a real serial/USB bridge opened through
// go.bug.st/serial, a recorded stream replayed from disk, and fakes for
// tests.
package link

import (
	"errors"
	"io"
	"time"
)

// ErrPortClosed is returned by reads and writes on a closed port.
var ErrPortClosed = errors.New("link: port closed")

// Port defines the minimal interface needed for a packet link.
// This abstraction enables unit testing without real hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Flusher is implemented by ports that can drop buffered input. The resync
// procedure uses it so stale bytes do not survive the quiet interval.
type Flusher interface {
	ResetInputBuffer() error
}

// TimeoutPort extends Port with a read timeout.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}
