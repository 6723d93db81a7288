//go:build !linux

package gpio

import "time"

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Cdev is not available on non-Linux platforms.
type Cdev struct{}

// NewCdev returns ErrUnsupported on non-Linux platforms.
func NewCdev(chipName string) (*Cdev, error) {
	return nil, ErrUnsupported
}

// Claim is not implemented on non-Linux platforms.
func (c *Cdev) Claim(pins ...int) error { return ErrUnsupported }

// Configure is not implemented on non-Linux platforms.
func (c *Cdev) Configure(pin int, mode Mode) error { return ErrUnsupported }

// Write is not implemented on non-Linux platforms.
func (c *Cdev) Write(pin int, level Level) error { return ErrUnsupported }

// Read is not implemented on non-Linux platforms.
func (c *Cdev) Read(pin int) (Level, error) { return Low, ErrUnsupported }

// Watch is not implemented on non-Linux platforms.
func (c *Cdev) Watch(pin int, edge Edge, debounce time.Duration, h Handler) error {
	return ErrUnsupported
}

// Unwatch is not implemented on non-Linux platforms.
func (c *Cdev) Unwatch(pin int) error { return nil }

// Release is not implemented on non-Linux platforms.
func (c *Cdev) Release(pins ...int) error { return nil }
