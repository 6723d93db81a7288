package gpio

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Backend names a Port implementation.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendCdev   Backend = "cdev"
	BackendPeriph Backend = "periph"
	BackendSim    Backend = "sim"
)

// ParseBackend validates a backend name. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendCdev, BackendPeriph, BackendSim:
		return b, nil
	default:
		return "", fmt.Errorf("gpio: unknown backend %q", s)
	}
}

// Open returns the Port for b. It is called once at startup; auto picks
// the character device on a Raspberry Pi and the simulator elsewhere.
func Open(b Backend, chip string) (Port, error) {
	if b == BackendAuto || b == "" {
		if IsRaspberryPi() {
			b = BackendCdev
		} else {
			log.Printf("gpio: not running on a Raspberry Pi, using simulator")
			b = BackendSim
		}
	}

	switch b {
	case BackendSim:
		return NewSim(), nil
	case BackendCdev:
		c, err := NewCdev(chip)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendPeriph:
		p, err := NewPeriph()
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("gpio: unknown backend %q", b)
	}
}

const cpuinfoPath = "/proc/cpuinfo"

// IsRaspberryPi reports whether /proc/cpuinfo describes a Pi.
func IsRaspberryPi() bool {
	data, err := os.ReadFile(cpuinfoPath)
	if err != nil {
		return false
	}
	return isPiCPUInfo(string(data))
}

func isPiCPUInfo(cpuinfo string) bool {
	return strings.Contains(cpuinfo, "Raspberry Pi") || strings.Contains(cpuinfo, "BCM")
}
