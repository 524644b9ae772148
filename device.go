package i2cbus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Device is one addressable peripheral on a Bus. Instances are created by
// Bus.CreateDevice and stay valid until removed; operations on a removed
// device fail with ErrDeviceNotFound. A Device holds a non-owning reference
// to its Bus and is safe for concurrent use.
type Device struct {
	bus     *Bus
	index   int
	cfg     DeviceConfig
	hw      DeviceHandle
	removed atomic.Bool
}

// Address returns the device address.
func (d *Device) Address() uint16 {
	return d.cfg.Address
}

// Index returns the registry index assigned at creation. It is stable until
// the device is removed.
func (d *Device) Index() int {
	return d.index
}

// Config returns the device configuration with defaults applied.
func (d *Device) Config() DeviceConfig {
	return d.cfg
}

// Bus returns the bus the device is attached to.
func (d *Device) Bus() *Bus {
	return d.bus
}

// Write transmits p to the device, blocking until completion or timeout.
// The bus mutex is held for the full transaction: concurrent calls targeting
// other devices on the same bus are serialized, not parallelized.
func (d *Device) Write(ctx context.Context, p []byte, timeout time.Duration) error {
	if p == nil {
		return fmt.Errorf("write to %#02x: %w: nil buffer", d.cfg.Address, ErrInvalidArgument)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.hw.Transmit(p, timeout); err != nil {
		return wrapHardware(fmt.Sprintf("write to %#02x failed", d.cfg.Address), err)
	}
	return nil
}

// Read receives len(p) bytes from the device, blocking until completion or
// timeout.
func (d *Device) Read(ctx context.Context, p []byte, timeout time.Duration) error {
	if p == nil {
		return fmt.Errorf("read from %#02x: %w: nil buffer", d.cfg.Address, ErrInvalidArgument)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.hw.Receive(p, timeout); err != nil {
		return wrapHardware(fmt.Sprintf("read from %#02x failed", d.cfg.Address), err)
	}
	return nil
}

// WriteRead transmits w and then receives into r as one atomic bus
// transaction: the bus is not released between the write and the read
// phases, so another task's traffic can never interleave. This is what makes
// register-style "write address, then read value" access correct under
// concurrent bus use.
func (d *Device) WriteRead(ctx context.Context, w, r []byte, timeout time.Duration) error {
	if w == nil || r == nil {
		return fmt.Errorf("write-read %#02x: %w: nil buffer", d.cfg.Address, ErrInvalidArgument)
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.hw.TransmitReceive(w, r, timeout); err != nil {
		return wrapHardware(fmt.Sprintf("write-read %#02x failed", d.cfg.Address), err)
	}
	return nil
}

// Transfer executes an ordered sequence of write and read phases as one
// logical transaction, generalizing WriteRead to N phases. Bus ownership is
// preserved across all phases. The transaction fails fast on the first phase
// error; no rollback is attempted since I2C has no transactional undo.
func (d *Device) Transfer(ctx context.Context, phases []Phase, timeout time.Duration) error {
	if len(phases) == 0 {
		return fmt.Errorf("transfer %#02x: %w: no phases", d.cfg.Address, ErrInvalidArgument)
	}
	for i, ph := range phases {
		if len(ph.Buf) == 0 {
			return fmt.Errorf("transfer %#02x: %w: empty buffer in phase %d", d.cfg.Address, ErrInvalidArgument, i)
		}
		if ph.Dir != PhaseWrite && ph.Dir != PhaseRead {
			return fmt.Errorf("transfer %#02x: %w: bad direction in phase %d", d.cfg.Address, ErrInvalidArgument, i)
		}
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := d.hw.Transfer(phases, timeout); err != nil {
		return wrapHardware(fmt.Sprintf("transfer %#02x failed", d.cfg.Address), err)
	}
	return nil
}

// acquire readies the device for a blocking transaction: checks the context,
// takes the bus mutex and verifies the device is still registered. On nil
// error the returned func releases the mutex.
func (d *Device) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.bus.lockForTransaction(); err != nil {
		return nil, err
	}
	if d.removed.Load() {
		d.bus.mu.Unlock()
		return nil, fmt.Errorf("device %#02x: %w", d.cfg.Address, ErrDeviceNotFound)
	}
	return d.bus.mu.Unlock, nil
}
