// Package periph implements the i2cbus driver contract on top of the
// periph.io host stack. It targets generic Linux hosts exposing /dev/i2c-*
// buses; pin and clock-source settings from the bus config are managed by
// the kernel driver and ignored here. The non-blocking operations are not
// available on this backend.
package periph

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/i2cbus"
)

var _ i2cbus.Driver = &Driver{}

// Driver opens periph.io buses. Name overrides the bus reference; when empty
// the bus config's port number is used (periph resolves it to /dev/i2c-N).
type Driver struct {
	Name string
}

func (d *Driver) Open(cfg i2cbus.BusConfig) (i2cbus.BusHandle, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	name := d.Name
	if name == "" {
		name = strconv.Itoa(cfg.Port)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", name, err)
	}
	return &busHandle{bus: bus, name: name}, nil
}

type busHandle struct {
	mu   sync.Mutex
	bus  i2c.BusCloser
	name string
}

func (b *busHandle) AddDevice(cfg i2cbus.DeviceConfig) (i2cbus.DeviceHandle, error) {
	if cfg.ClockSpeedHz != 0 {
		// bus speed is a bus-wide property on periph; the last added device wins
		if err := b.bus.SetSpeed(physic.Frequency(cfg.ClockSpeedHz) * physic.Hertz); err != nil {
			return nil, fmt.Errorf("could not set bus speed: %w", err)
		}
	}
	return &device{b: b, addr: cfg.Address}, nil
}

func (b *busHandle) RemoveDevice(dev i2cbus.DeviceHandle) error {
	if _, ok := dev.(*device); !ok {
		return fmt.Errorf("%w: foreign device handle", i2cbus.ErrInvalidArgument)
	}
	return nil
}

// Probe issues an empty write; a missing responder surfaces as ErrNack the
// way bus scanners expect.
func (b *busHandle) Probe(addr uint16, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bus.Tx(addr, []byte{}, nil); err != nil {
		return fmt.Errorf("%w: %v", i2cbus.ErrNack, err)
	}
	return nil
}

func (b *busHandle) RegisterCompletion(fn i2cbus.CompletionFunc) {
	// no completion source on this backend
}

func (b *busHandle) AsyncSupported() bool { return false }

// Recover reopens the bus; the kernel driver performs its own recovery on
// open.
func (b *busHandle) Recover() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bus.Close(); err != nil {
		return fmt.Errorf("could not close i2c bus %q: %w", b.name, err)
	}
	bus, err := i2creg.Open(b.name)
	if err != nil {
		return fmt.Errorf("could not reopen i2c bus %q: %w", b.name, err)
	}
	b.bus = bus
	return nil
}

func (b *busHandle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Close()
}

type device struct {
	b    *busHandle
	addr uint16
}

func (d *device) Transmit(w []byte, timeout time.Duration) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.bus.Tx(d.addr, w, nil); err != nil {
		return fmt.Errorf("could not write to %#02x: %w", d.addr, err)
	}
	return nil
}

func (d *device) Receive(r []byte, timeout time.Duration) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.bus.Tx(d.addr, nil, r); err != nil {
		return fmt.Errorf("could not read from %#02x: %w", d.addr, err)
	}
	return nil
}

func (d *device) TransmitReceive(w, r []byte, timeout time.Duration) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.bus.Tx(d.addr, w, r); err != nil {
		return fmt.Errorf("could not write-read %#02x: %w", d.addr, err)
	}
	return nil
}

// Transfer folds adjacent write+read pairs into single Tx transactions.
// periph has no multi-message primitive beyond write-then-read, so longer
// sequences execute as back-to-back transactions under the handle lock.
func (d *device) Transfer(phases []i2cbus.Phase, timeout time.Duration) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	for i := 0; i < len(phases); i++ {
		var w, r []byte
		switch phases[i].Dir {
		case i2cbus.PhaseWrite:
			w = phases[i].Buf
			if i+1 < len(phases) && phases[i+1].Dir == i2cbus.PhaseRead {
				r = phases[i+1].Buf
				i++
			}
		case i2cbus.PhaseRead:
			r = phases[i].Buf
		}
		if err := d.b.bus.Tx(d.addr, w, r); err != nil {
			return fmt.Errorf("transfer phase failed on %#02x: %w", d.addr, err)
		}
	}
	return nil
}

func (d *device) TransmitAsync(w []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *device) ReceiveAsync(r []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *device) TransmitReceiveAsync(w, r []byte) error {
	return i2cbus.ErrUnsupported
}
