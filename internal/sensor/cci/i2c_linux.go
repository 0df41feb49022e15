//go:build linux

package cci

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave is I2C_SLAVE from linux/i2c-dev.h.
const i2cSlave = 0x0703

// I2CDev is a Bus over a Linux /dev/i2c-N character device.
type I2CDev struct {
	mu   sync.Mutex
	fd   int
	path string
}

// OpenI2C opens bus number n and binds it to addr.
func OpenI2C(n int, addr uint16) (*I2CDev, error) {
	path := fmt.Sprintf("/dev/i2c-%d", n)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set i2c address %#x on %s: %w", addr, path, err)
	}
	return &I2CDev{fd: fd, path: path}, nil
}

func (d *I2CDev) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrBusClosed
	}
	if len(w) > 0 {
		n, err := unix.Write(d.fd, w)
		if err != nil {
			return fmt.Errorf("write %s: %w", d.path, err)
		}
		if n != len(w) {
			return fmt.Errorf("write %s: short write %d/%d", d.path, n, len(w))
		}
	}
	if len(r) > 0 {
		n, err := unix.Read(d.fd, r)
		if err != nil {
			return fmt.Errorf("read %s: %w", d.path, err)
		}
		if n != len(r) {
			return fmt.Errorf("read %s: short read %d/%d", d.path, n, len(r))
		}
	}
	return nil
}

func (d *I2CDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
