package link

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial device at path. The returned port also implements
// Flusher and TimeoutPort.
func Open(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial devices present on the host, for the
// -list-ports flag.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
