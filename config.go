package i2cbus

import "fmt"

// AddressBits selects 7- or 10-bit device addressing.
type AddressBits int

const (
	Addr7Bit  AddressBits = 7
	Addr10Bit AddressBits = 10
)

// ClockSource selects the clock feeding the bus peripheral.
type ClockSource string

const (
	ClockSourceDefault ClockSource = "default"
	ClockSourceAPB     ClockSource = "apb"
	ClockSourceXTAL    ClockSource = "xtal"
)

const (
	// DefaultClockSpeedHz is the standard-mode bus speed applied when a
	// device config leaves ClockSpeedHz at zero.
	DefaultClockSpeedHz = 100_000
	// DefaultQueueDepth is the hardware transaction queue depth applied when
	// a device config leaves QueueDepth at zero.
	DefaultQueueDepth = 8
)

// Reserved 7-bit address ranges per the I2C specification.
const (
	reservedLowEnd    = 0x07
	reservedHighStart = 0x78
)

// ScanStart and ScanEnd bound the default scan range; the reserved ranges
// 0x00-0x07 and 0x78-0x7F are left out unless requested explicitly.
const (
	ScanStart = reservedLowEnd + 1
	ScanEnd   = reservedHighStart - 1
)

// BusConfig describes one hardware bus. It is immutable after New.
type BusConfig struct {
	// Port identifies the hardware bus unit (e.g. I2C0, I2C1).
	Port int `yaml:"port"`
	// SDA and SCL are the pin identifiers of the data and clock lines. Both
	// zero means the backend's fixed or platform-assigned pins are used.
	SDA int `yaml:"sda"`
	SCL int `yaml:"scl"`
	// ClockSource selects the peripheral clock; empty means ClockSourceDefault.
	ClockSource ClockSource `yaml:"clock_source,omitempty"`
	// PullUp enables the internal pull-up resistors on both lines.
	PullUp bool `yaml:"pull_up"`
	// GlitchFilterNs suppresses line glitches shorter than this many nanoseconds.
	GlitchFilterNs int `yaml:"glitch_filter_ns,omitempty"`
}

func (c BusConfig) validate() error {
	if c.Port < 0 {
		return fmt.Errorf("%w: negative port %d", ErrConfig, c.Port)
	}
	if c.SDA < 0 || c.SCL < 0 {
		return fmt.Errorf("%w: invalid pins sda=%d scl=%d", ErrConfig, c.SDA, c.SCL)
	}
	if c.SDA == c.SCL && c.SDA != 0 {
		return fmt.Errorf("%w: sda and scl share pin %d", ErrConfig, c.SDA)
	}
	switch c.ClockSource {
	case "", ClockSourceDefault, ClockSourceAPB, ClockSourceXTAL:
	default:
		return fmt.Errorf("%w: unknown clock source %q", ErrConfig, c.ClockSource)
	}
	if c.GlitchFilterNs < 0 {
		return fmt.Errorf("%w: negative glitch filter", ErrConfig)
	}
	return nil
}

// DeviceConfig describes one peripheral on the bus.
type DeviceConfig struct {
	// Address is the 7- or 10-bit device address.
	Address uint16 `yaml:"address"`
	// AddressBits is 7 or 10; zero means 7.
	AddressBits AddressBits `yaml:"address_bits,omitempty"`
	// ClockSpeedHz is the per-device bus speed; zero means DefaultClockSpeedHz.
	ClockSpeedHz uint32 `yaml:"clock_speed_hz,omitempty"`
	// QueueDepth is the hardware transaction queue depth; zero means DefaultQueueDepth.
	QueueDepth int `yaml:"queue_depth,omitempty"`
	// GlitchFilterCount is the per-device glitch filter setting.
	GlitchFilterCount int `yaml:"glitch_filter_count,omitempty"`
}

// withDefaults returns a copy with zero fields replaced by package defaults.
func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.AddressBits == 0 {
		c.AddressBits = Addr7Bit
	}
	if c.ClockSpeedHz == 0 {
		c.ClockSpeedHz = DefaultClockSpeedHz
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	return c
}

func (c DeviceConfig) validate() error {
	switch c.AddressBits {
	case Addr7Bit:
		if c.Address > 0x7F {
			return fmt.Errorf("%w: address %#x out of 7-bit range", ErrConfig, c.Address)
		}
	case Addr10Bit:
		if c.Address > 0x3FF {
			return fmt.Errorf("%w: address %#x out of 10-bit range", ErrConfig, c.Address)
		}
	default:
		return fmt.Errorf("%w: address width must be 7 or 10 bits, got %d", ErrConfig, int(c.AddressBits))
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("%w: negative queue depth", ErrConfig)
	}
	if c.GlitchFilterCount < 0 {
		return fmt.Errorf("%w: negative glitch filter count", ErrConfig)
	}
	return nil
}

// IsReservedAddress reports whether addr falls into one of the reserved
// 7-bit ranges (general call, CBUS, 10-bit prefixes, future use).
func IsReservedAddress(addr uint16) bool {
	return addr <= reservedLowEnd || (addr >= reservedHighStart && addr <= 0x7F)
}
