package i2cbus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Bus owns one hardware bus handle, the registry of devices attached to it
// and the single async operation slot the hardware permits.
//
// One mutex guards the handle, the registry and slot arbitration; device
// counts are small and operations short-lived. The completion bridge never
// takes the mutex: it only reads the armed pointer and writes atomics.
type Bus struct {
	drv Driver
	cfg BusConfig

	mu      sync.Mutex
	hw      BusHandle
	devices []*Device

	// armed is the context of the in-flight async operation, nil when the
	// slot is free. Written under mu, read lock-free by the bridge.
	armed atomic.Pointer[asyncOp]
	// spare is the recycled operation context, guarded by mu.
	spare *asyncOp
}

// New creates a bus controller for the given driver and configuration.
// The hardware is not touched until Initialize.
func New(drv Driver, cfg BusConfig) *Bus {
	return &Bus{drv: drv, cfg: cfg}
}

// Config returns the bus configuration.
func (b *Bus) Config() BusConfig {
	return b.cfg
}

// Initialize opens the hardware bus and registers the completion bridge.
// Calling it on an already initialized bus is a no-op returning nil.
func (b *Bus) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw != nil {
		return nil
	}
	if err := b.cfg.validate(); err != nil {
		return err
	}
	hw, err := b.drv.Open(b.cfg)
	if err != nil {
		return wrapHardware(fmt.Sprintf("could not open i2c bus %d", b.cfg.Port), err)
	}
	hw.RegisterCompletion(b.completion)
	b.hw = hw
	return nil
}

// Deinitialize releases every device and then the hardware handle. It fails
// with ErrBusBusy while an async operation is in flight. Calling it on an
// uninitialized bus is a no-op returning nil.
func (b *Bus) Deinitialize() error {
	fire, err := b.deinitialize()
	if fire != nil {
		fire()
	}
	return err
}

func (b *Bus) deinitialize() (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return nil, nil
	}
	var fire func()
	if op := b.armed.Load(); op != nil {
		if !op.done.Load() {
			return nil, fmt.Errorf("deinitialize: %w", ErrBusBusy)
		}
		// completed but not yet reaped; resolve it before tearing down
		fire = b.reapLocked()
	}
	for i, dev := range b.devices {
		if dev == nil {
			continue
		}
		_ = b.hw.RemoveDevice(dev.hw)
		dev.removed.Store(true)
		b.devices[i] = nil
	}
	b.devices = nil
	err := b.hw.Close()
	b.hw = nil
	if err != nil {
		return fire, wrapHardware("could not close i2c bus", err)
	}
	return fire, nil
}

// IsInitialized reports whether the hardware bus is open.
func (b *Bus) IsInitialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hw != nil
}

// CreateDevice registers a peripheral and returns its index. Indices are
// stable for the lifetime of the device; a vacated slot may be reused by a
// later call. Returns -1 together with a non-nil error on failure.
func (b *Bus) CreateDevice(cfg DeviceConfig) (int, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return -1, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return -1, ErrNotInitialized
	}
	if b.findIndexLocked(cfg.Address) >= 0 {
		return -1, fmt.Errorf("%w: %#02x", ErrDuplicateAddress, cfg.Address)
	}
	hw, err := b.hw.AddDevice(cfg)
	if err != nil {
		return -1, wrapHardware(fmt.Sprintf("could not add device %#02x", cfg.Address), err)
	}
	dev := &Device{bus: b, cfg: cfg, hw: hw}
	dev.index = b.insertLocked(dev)
	return dev.index, nil
}

// insertLocked places dev into the lowest vacant slot, growing the arena if
// every slot is occupied, and returns the slot index.
func (b *Bus) insertLocked(dev *Device) int {
	for i, d := range b.devices {
		if d == nil {
			b.devices[i] = dev
			return i
		}
	}
	b.devices = append(b.devices, dev)
	return len(b.devices) - 1
}

// RemoveDevice releases the device at index and vacates its slot. It fails
// with ErrBusBusy while the device's async operation is in flight.
func (b *Bus) RemoveDevice(index int) error {
	fire, err := b.remove(func() *Device { return b.deviceLocked(index) })
	if fire != nil {
		fire()
	}
	return err
}

// RemoveDeviceByAddress releases the device registered at addr.
func (b *Bus) RemoveDeviceByAddress(addr uint16) error {
	fire, err := b.remove(func() *Device {
		if i := b.findIndexLocked(addr); i >= 0 {
			return b.devices[i]
		}
		return nil
	})
	if fire != nil {
		fire()
	}
	return err
}

func (b *Bus) remove(lookup func() *Device) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return nil, ErrNotInitialized
	}
	dev := lookup()
	if dev == nil {
		return nil, ErrDeviceNotFound
	}
	var fire func()
	if op := b.armed.Load(); op != nil && op.dev == dev {
		if !op.done.Load() {
			return nil, fmt.Errorf("remove device %#02x: %w", dev.Address(), ErrBusBusy)
		}
		fire = b.reapLocked()
	}
	if err := b.hw.RemoveDevice(dev.hw); err != nil {
		return fire, wrapHardware(fmt.Sprintf("could not remove device %#02x", dev.Address()), err)
	}
	dev.removed.Store(true)
	b.devices[dev.index] = nil
	return fire, nil
}

// Device returns the device at index, or nil if the index is out of range or
// the slot has been vacated.
func (b *Bus) Device(index int) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceLocked(index)
}

func (b *Bus) deviceLocked(index int) *Device {
	if index < 0 || index >= len(b.devices) {
		return nil
	}
	return b.devices[index]
}

// DeviceByAddress returns the device registered at addr, or nil.
func (b *Bus) DeviceByAddress(addr uint16) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.findIndexLocked(addr); i >= 0 {
		return b.devices[i]
	}
	return nil
}

// FirstDevice returns the live device with the lowest index, or nil.
func (b *Bus) FirstDevice() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d != nil {
			return d
		}
	}
	return nil
}

// LastDevice returns the live device with the highest index, or nil.
func (b *Bus) LastDevice() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.devices) - 1; i >= 0; i-- {
		if b.devices[i] != nil {
			return b.devices[i]
		}
	}
	return nil
}

// IsValidIndex reports whether index denotes a live device.
func (b *Bus) IsValidIndex(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceLocked(index) != nil
}

// DeviceCount returns the number of live devices.
func (b *Bus) DeviceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, d := range b.devices {
		if d != nil {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no devices are registered.
func (b *Bus) IsEmpty() bool {
	return b.DeviceCount() == 0
}

// HasDevices reports whether at least one device is registered.
func (b *Bus) HasDevices() bool {
	return b.DeviceCount() > 0
}

// Devices returns all live devices in index order.
func (b *Bus) Devices() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Addresses returns the addresses of all live devices in index order.
func (b *Bus) Addresses() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint16, 0, len(b.devices))
	for _, d := range b.devices {
		if d != nil {
			out = append(out, d.cfg.Address)
		}
	}
	return out
}

// FindDeviceIndex returns the index of the device registered at addr,
// or -1 if no such device exists.
func (b *Bus) FindDeviceIndex(addr uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findIndexLocked(addr)
}

func (b *Bus) findIndexLocked(addr uint16) int {
	for i, d := range b.devices {
		if d != nil && d.cfg.Address == addr {
			return i
		}
	}
	return -1
}

// ProbeDevice issues a zero-length transaction at addr to test for a
// responder. It works independently of the registry: the address does not
// have to belong to a registered device. A silent address reports ErrNack.
func (b *Bus) ProbeDevice(addr uint16, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return ErrNotInitialized
	}
	if err := b.hw.Probe(addr, timeout); err != nil {
		if classified(err) {
			return err
		}
		return fmt.Errorf("probe %#02x: %w", addr, err)
	}
	return nil
}

// Scan probes the full non-reserved 7-bit range (0x08-0x77) and returns the
// responding addresses in ascending order.
func (b *Bus) Scan(timeout time.Duration) ([]uint16, error) {
	return b.ScanDevices(ScanStart, ScanEnd, timeout)
}

// ScanDevices probes the inclusive range [start, end] with the given per-probe
// timeout and returns the responding addresses in ascending order. Reserved
// ranges are probed only when the caller includes them explicitly via start
// or end. Probe failures other than ErrNack and ErrTimeout abort the scan.
func (b *Bus) ScanDevices(start, end uint16, timeout time.Duration) ([]uint16, error) {
	if start > end || end > 0x3FF {
		return nil, fmt.Errorf("%w: scan range %#02x-%#02x", ErrInvalidArgument, start, end)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return nil, ErrNotInitialized
	}
	var found []uint16
	for addr := start; addr <= end; addr++ {
		err := b.hw.Probe(addr, timeout)
		switch {
		case err == nil:
			found = append(found, addr)
		case errors.Is(err, ErrNack), errors.Is(err, ErrTimeout):
			// silent address
		default:
			return found, wrapHardware(fmt.Sprintf("scan aborted at %#02x", addr), err)
		}
	}
	return found, nil
}

// ResetBus runs the bus-recovery clock-toggle sequence to release a stuck
// SDA line and reinitializes the peripheral. A stale in-flight async
// operation is resolved with ErrTimeout before recovery. Last-resort path.
func (b *Bus) ResetBus() error {
	fire, err := b.resetBus()
	if fire != nil {
		fire()
	}
	return err
}

func (b *Bus) resetBus() (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hw == nil {
		return nil, ErrNotInitialized
	}
	var fire func()
	if op := b.armed.Load(); op != nil {
		forced := !op.done.Load()
		if forced {
			op.result.Store(int32(EventTimeout))
			op.done.Store(true)
		}
		fire = b.reapLocked()
		if forced {
			// the bridge may still hold a reference to this context and
			// deliver a late event into it; never rearm it
			b.spare = nil
		}
	}
	if err := b.hw.Recover(); err != nil {
		return fire, wrapHardware("bus recovery failed", err)
	}
	return fire, nil
}

// lockForTransaction takes the bus mutex for a blocking transaction. Any
// completed-but-unreaped async operation is resolved first; a still-running
// one makes the call fail with ErrBusBusy since the hardware cannot overlap
// transactions. On nil error the mutex is held by the caller.
func (b *Bus) lockForTransaction() error {
	for {
		b.mu.Lock()
		if b.hw == nil {
			b.mu.Unlock()
			return ErrNotInitialized
		}
		op := b.armed.Load()
		if op == nil {
			return nil
		}
		if !op.done.Load() {
			b.mu.Unlock()
			return ErrBusBusy
		}
		fire := b.reapLocked()
		b.mu.Unlock()
		fire()
	}
}

// classified reports whether err already carries one of the package's
// sentinel errors.
func classified(err error) bool {
	for _, sentinel := range []error{
		ErrConfig, ErrNotInitialized, ErrDuplicateAddress, ErrDeviceNotFound,
		ErrBusBusy, ErrNack, ErrTimeout, ErrHardware, ErrInvalidArgument,
		ErrUnsupported,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// wrapHardware adds context to a driver error. Errors already carrying a
// sentinel keep it; anything else is classified as ErrHardware.
func wrapHardware(msg string, err error) error {
	if classified(err) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrHardware, err)
}
