// Package adapter provides i2cbus driver backends for external bus adapter
// chips: the Microchip MCP2221 USB-to-I2C bridge (over USB HID) and any
// gobot platform exposing an I2C connector.
package adapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/i2cbus"
)

// USB identifiers of the Microchip MCP2221/MCP2221A.
const (
	VendorID  = 0x04D8
	ProductID = 0x00DD
)

// MCP2221 HID command codes.
const (
	cmdStatusSetParams   = 0x10
	cmdReadData          = 0x40
	cmdWriteData         = 0x90
	cmdRequestReadData   = 0x91
	cmdWriteDataNoStop   = 0x92
	cmdReadDataRepStart  = 0x93
	cmdWriteDataRepStart = 0x94
)

// mcpClockHz is the internal clock feeding the I2C engine's speed divider.
const mcpClockHz = 12_000_000

var ErrCommandFailed = errors.New("command failed")

var _ i2cbus.Driver = &MCP2221{}

// hidHandle is the slice of the HID device the bus uses; *hid.Device
// satisfies it.
type hidHandle interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221 opens USB-attached MCP2221 bridges. The bus config's port selects
// among multiple attached bridges; pin settings do not apply (the bridge has
// fixed SDA/SCL pins). The chip has no completion interrupt, so only the
// blocking operations are available.
type MCP2221 struct {
	// ResponseWait is the pause between a command report and its response
	// read; zero means 50ms.
	ResponseWait time.Duration
}

func NewMCP2221() *MCP2221 {
	return &MCP2221{ResponseWait: 50 * time.Millisecond}
}

func (a *MCP2221) Open(cfg i2cbus.BusConfig) (i2cbus.BusHandle, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if cfg.Port >= len(devs) {
		return nil, fmt.Errorf("no MCP2221 with index %d (%d attached)", cfg.Port, len(devs))
	}
	dev, err := devs[cfg.Port].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	wait := a.ResponseWait
	if wait == 0 {
		wait = 50 * time.Millisecond
	}
	return &mcpBus{
		hid:          dev,
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: wait,
	}, nil
}

type mcpBus struct {
	mx           sync.Mutex
	hid          hidHandle
	request      []byte
	response     []byte
	responseWait time.Duration
}

func (b *mcpBus) AddDevice(cfg i2cbus.DeviceConfig) (i2cbus.DeviceHandle, error) {
	if cfg.AddressBits == i2cbus.Addr10Bit {
		return nil, fmt.Errorf("%w: MCP2221 supports 7-bit addressing only", i2cbus.ErrUnsupported)
	}
	if cfg.ClockSpeedHz != 0 {
		if err := b.setSpeed(cfg.ClockSpeedHz); err != nil {
			return nil, err
		}
	}
	return &mcpDevice{bus: b, addr: byte(cfg.Address)}, nil
}

func (b *mcpBus) RemoveDevice(dev i2cbus.DeviceHandle) error {
	if _, ok := dev.(*mcpDevice); !ok {
		return fmt.Errorf("%w: foreign device handle", i2cbus.ErrInvalidArgument)
	}
	return nil
}

// Probe issues a zero-length write and inspects the engine state for a
// missing acknowledgment.
func (b *mcpBus) Probe(addr uint16, timeout time.Duration) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.resetBuffers()
	b.request[0] = cmdWriteData
	b.request[3] = byte(addr) << 1
	if err := b.send(); err != nil {
		return fmt.Errorf("probe of %#02x failed: %w", addr, err)
	}
	if b.response[1] == 0x01 {
		_ = b.cancelTransfer()
		return fmt.Errorf("probe of %#02x: %w", addr, i2cbus.ErrBusBusy)
	}
	// engine status report carries the slave ACK state
	b.resetBuffers()
	b.request[0] = cmdStatusSetParams
	if err := b.send(); err != nil {
		return fmt.Errorf("probe of %#02x: status request failed: %w", addr, err)
	}
	if b.response[20] != 0 {
		_ = b.cancelTransfer()
		return fmt.Errorf("probe of %#02x: %w", addr, i2cbus.ErrNack)
	}
	return nil
}

func (b *mcpBus) RegisterCompletion(fn i2cbus.CompletionFunc) {
	// the bridge has no completion interrupt
}

func (b *mcpBus) AsyncSupported() bool { return false }

// Recover cancels the current transfer, releasing the engine when a slave
// holds SDA low.
func (b *mcpBus) Recover() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.cancelTransfer()
}

func (b *mcpBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.hid.Close()
}

func (b *mcpBus) setSpeed(hz uint32) error {
	if hz > 400_000 {
		return fmt.Errorf("%w: clock speed %d above 400kHz", i2cbus.ErrConfig, hz)
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	b.resetBuffers()
	b.request[0] = cmdStatusSetParams
	b.request[3] = 0x20
	b.request[4] = byte(mcpClockHz/hz - 3)
	if err := b.send(); err != nil {
		return fmt.Errorf("set speed command failed: %w", err)
	}
	if b.response[3] == 0x21 {
		return fmt.Errorf("set speed rejected (transfer in progress): %w", i2cbus.ErrBusBusy)
	}
	return nil
}

func (b *mcpBus) cancelTransfer() error {
	b.resetBuffers()
	b.request[0] = cmdStatusSetParams
	b.request[2] = 0x10
	if err := b.send(); err != nil {
		return fmt.Errorf("cancel transfer failed: %w", err)
	}
	return nil
}

// send pushes the 64-byte request report and reads back the response.
func (b *mcpBus) send() error {
	n, err := b.hid.Write(b.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	time.Sleep(b.responseWait)
	n, err = b.hid.Read(b.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	// the response echoes the command code in its first byte
	if b.response[0] != b.request[0] {
		return fmt.Errorf("%w: response %#02x to command %#02x", ErrCommandFailed, b.response[0], b.request[0])
	}
	return nil
}

func (b *mcpBus) resetBuffers() {
	resetBuffer(b.request)
	resetBuffer(b.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}

type mcpDevice struct {
	bus  *mcpBus
	addr byte
}

func (d *mcpDevice) Transmit(w []byte, timeout time.Duration) error {
	d.bus.mx.Lock()
	defer d.bus.mx.Unlock()
	return d.write(cmdWriteData, w)
}

// write frames one write command; the caller holds the bus lock.
func (d *mcpDevice) write(cmd byte, w []byte) error {
	if len(w) > 60 {
		return fmt.Errorf("%w: write of %d bytes exceeds report capacity", i2cbus.ErrInvalidArgument, len(w))
	}
	b := d.bus
	b.resetBuffers()
	b.request[0] = cmd
	binary.LittleEndian.PutUint16(b.request[1:3], uint16(len(w)))
	b.request[3] = d.addr << 1
	copy(b.request[4:], w)
	if err := b.send(); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", d.addr, err)
	}
	if b.response[1] == 0x01 {
		slog.Debug("adapter busy", "addr", d.addr)
		return i2cbus.ErrBusBusy
	}
	return nil
}

func (d *mcpDevice) Receive(r []byte, timeout time.Duration) error {
	d.bus.mx.Lock()
	defer d.bus.mx.Unlock()
	return d.read(cmdRequestReadData, r, timeout)
}

// read requests len(r) bytes and fetches them from the engine buffer; the
// caller holds the bus lock.
func (d *mcpDevice) read(cmd byte, r []byte, timeout time.Duration) error {
	if len(r) > 60 {
		return fmt.Errorf("%w: read of %d bytes exceeds report capacity", i2cbus.ErrInvalidArgument, len(r))
	}
	b := d.bus
	b.resetBuffers()
	b.request[0] = cmd
	binary.LittleEndian.PutUint16(b.request[1:3], uint16(len(r)))
	b.request[3] = d.addr<<1 + 1
	if err := b.send(); err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", d.addr, err)
	}
	deadline := time.Now().Add(timeout)
	for {
		b.request[0] = cmdReadData
		resetBuffer(b.response)
		if err := b.send(); err != nil {
			return fmt.Errorf("error getting read data from adapter: %w", err)
		}
		if b.response[1] == 0x41 {
			return fmt.Errorf("error reading the I2C slave data from the I2C engine: %w", i2cbus.ErrNack)
		}
		// 127 flags data not ready yet
		if b.response[3] == 127 {
			if timeout > 0 && time.Now().After(deadline) {
				return fmt.Errorf("read from %#02x: %w", d.addr, i2cbus.ErrTimeout)
			}
			continue
		}
		if int(b.response[3]) != len(r) {
			return fmt.Errorf("invalid data size byte; expected %d, got %d", len(r), b.response[3])
		}
		copy(r, b.response[4:])
		return nil
	}
}

// TransmitReceive keeps bus ownership across the phases: the write goes out
// without a stop condition and the read starts with a repeated start.
func (d *mcpDevice) TransmitReceive(w, r []byte, timeout time.Duration) error {
	d.bus.mx.Lock()
	defer d.bus.mx.Unlock()
	if err := d.write(cmdWriteDataNoStop, w); err != nil {
		return err
	}
	return d.read(cmdReadDataRepStart, r, timeout)
}

// Transfer supports the phase shapes the engine can chain: any run of
// writes followed by at most one trailing read.
func (d *mcpDevice) Transfer(phases []i2cbus.Phase, timeout time.Duration) error {
	d.bus.mx.Lock()
	defer d.bus.mx.Unlock()
	for i, ph := range phases {
		last := i == len(phases)-1
		switch ph.Dir {
		case i2cbus.PhaseWrite:
			cmd := byte(cmdWriteDataNoStop)
			if last {
				cmd = cmdWriteData
			}
			if i > 0 {
				cmd = cmdWriteDataRepStart
				if !last {
					cmd = cmdWriteDataNoStop
				}
			}
			if err := d.write(cmd, ph.Buf); err != nil {
				return err
			}
		case i2cbus.PhaseRead:
			if !last {
				return fmt.Errorf("%w: MCP2221 can only chain a trailing read", i2cbus.ErrUnsupported)
			}
			cmd := byte(cmdRequestReadData)
			if i > 0 {
				cmd = cmdReadDataRepStart
			}
			if err := d.read(cmd, ph.Buf, timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *mcpDevice) TransmitAsync(w []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *mcpDevice) ReceiveAsync(r []byte) error {
	return i2cbus.ErrUnsupported
}

func (d *mcpDevice) TransmitReceiveAsync(w, r []byte) error {
	return i2cbus.ErrUnsupported
}
