package adapter

import (
	"fmt"
	"time"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/i2cbus"
)

var _ i2cbus.Driver = &Gobot{}

// Gobot bridges a gobot platform adaptor into an i2cbus driver. Any adaptor
// implementing the gobot I2C connector works: Raspberry Pi, Beaglebone,
// Tinkerboard and so on. Gobot connections are synchronous, so only the
// blocking operations are available.
type Gobot struct {
	Connector i2c.Connector
}

func NewGobot(conn i2c.Connector) *Gobot {
	return &Gobot{Connector: conn}
}

func (a *Gobot) Open(cfg i2cbus.BusConfig) (i2cbus.BusHandle, error) {
	if a.Connector == nil {
		return nil, fmt.Errorf("%w: gobot connector not set", i2cbus.ErrConfig)
	}
	return &gobotBus{conn: a.Connector, busNr: cfg.Port}, nil
}

type gobotBus struct {
	conn  i2c.Connector
	busNr int
}

func (b *gobotBus) AddDevice(cfg i2cbus.DeviceConfig) (i2cbus.DeviceHandle, error) {
	if cfg.AddressBits == i2cbus.Addr10Bit {
		return nil, fmt.Errorf("%w: gobot connections use 7-bit addressing", i2cbus.ErrUnsupported)
	}
	conn, err := b.conn.GetI2cConnection(int(cfg.Address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not get connection to %#02x: %w", cfg.Address, err)
	}
	return &gobotDevice{conn: conn, addr: cfg.Address}, nil
}

func (b *gobotBus) RemoveDevice(dev i2cbus.DeviceHandle) error {
	d, ok := dev.(*gobotDevice)
	if !ok {
		return fmt.Errorf("%w: foreign device handle", i2cbus.ErrInvalidArgument)
	}
	return d.conn.Close()
}

func (b *gobotBus) Probe(addr uint16, timeout time.Duration) error {
	conn, err := b.conn.GetI2cConnection(int(addr), b.busNr)
	if err != nil {
		return fmt.Errorf("could not get connection to %#02x: %w", addr, err)
	}
	defer conn.Close()
	if _, err = conn.ReadByte(); err != nil {
		return fmt.Errorf("probe of %#02x: %w", addr, i2cbus.ErrNack)
	}
	return nil
}

func (b *gobotBus) RegisterCompletion(fn i2cbus.CompletionFunc) {}

func (b *gobotBus) AsyncSupported() bool { return false }

func (b *gobotBus) Recover() error {
	// gobot adaptors expose no bus-level recovery
	return nil
}

func (b *gobotBus) Close() error { return nil }

type gobotDevice struct {
	conn i2c.Connection
	addr uint16
}

func (d *gobotDevice) Transmit(w []byte, timeout time.Duration) error {
	n, err := d.conn.Write(w)
	if err != nil {
		return fmt.Errorf("write to %#02x failed: %w", d.addr, err)
	}
	if n != len(w) {
		return fmt.Errorf("short write to %#02x: %d of %d bytes", d.addr, n, len(w))
	}
	return nil
}

func (d *gobotDevice) Receive(r []byte, timeout time.Duration) error {
	n, err := d.conn.Read(r)
	if err != nil {
		return fmt.Errorf("read from %#02x failed: %w", d.addr, err)
	}
	if n != len(r) {
		return fmt.Errorf("short read from %#02x: %d of %d bytes", d.addr, n, len(r))
	}
	return nil
}

// TransmitReceive maps the register-read shape onto the SMBus block call.
// Gobot connections cannot express a repeated start with an arbitrary
// write phase, so only single-byte command writes are supported.
func (d *gobotDevice) TransmitReceive(w, r []byte, timeout time.Duration) error {
	if len(w) != 1 {
		return fmt.Errorf("%w: gobot write-read needs a single command byte, got %d", i2cbus.ErrUnsupported, len(w))
	}
	if err := d.conn.ReadBlockData(w[0], r); err != nil {
		return fmt.Errorf("read of register %#02x from %#02x failed: %w", w[0], d.addr, err)
	}
	return nil
}

func (d *gobotDevice) Transfer(phases []i2cbus.Phase, timeout time.Duration) error {
	if len(phases) == 2 && phases[0].Dir == i2cbus.PhaseWrite && phases[1].Dir == i2cbus.PhaseRead {
		return d.TransmitReceive(phases[0].Buf, phases[1].Buf, timeout)
	}
	for _, ph := range phases {
		var err error
		switch ph.Dir {
		case i2cbus.PhaseWrite:
			err = d.Transmit(ph.Buf, timeout)
		case i2cbus.PhaseRead:
			err = d.Receive(ph.Buf, timeout)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *gobotDevice) TransmitAsync(w []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *gobotDevice) ReceiveAsync(r []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *gobotDevice) TransmitReceiveAsync(w, r []byte) error {
	return i2cbus.ErrUnsupported
}
