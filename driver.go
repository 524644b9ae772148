package i2cbus

import "time"

// PhaseDir is the direction of a single transfer phase.
type PhaseDir int

const (
	PhaseWrite PhaseDir = iota
	PhaseRead
)

func (d PhaseDir) String() string {
	switch d {
	case PhaseWrite:
		return "write"
	case PhaseRead:
		return "read"
	default:
		return "unknown"
	}
}

// Phase is one leg of a multi-phase exchange. The whole phase slice executes
// as a single bus transaction with no release of bus ownership in between.
type Phase struct {
	Dir PhaseDir
	Buf []byte
}

// Event is the coarse completion event delivered by the hardware driver.
// It carries no device identity, operation kind or byte count.
type Event int

const (
	// EventDone reports successful completion of the armed transaction.
	EventDone Event = iota
	// EventNack reports that the device did not acknowledge.
	EventNack
	// EventTimeout reports that the hardware gave up on the transaction.
	EventTimeout
	// EventBusAlive reports bus activity without completion; informational.
	EventBusAlive
)

func (e Event) String() string {
	switch e {
	case EventDone:
		return "done"
	case EventNack:
		return "nack"
	case EventTimeout:
		return "timeout"
	case EventBusAlive:
		return "bus-alive"
	default:
		return "unknown"
	}
}

// CompletionFunc is the single per-bus completion callback. The driver may
// invoke it from interrupt context: implementations must not block, allocate
// or log, and may only touch atomic state.
type CompletionFunc func(Event)

// Driver opens hardware buses. Implementations wrap a vendor or platform
// I2C layer (see the adapter and periph packages).
type Driver interface {
	Open(cfg BusConfig) (BusHandle, error)
}

// BusHandle is an open hardware bus.
type BusHandle interface {
	// AddDevice registers a peripheral and returns its hardware handle.
	AddDevice(cfg DeviceConfig) (DeviceHandle, error)
	// RemoveDevice releases a hardware device handle.
	RemoveDevice(dev DeviceHandle) error
	// Probe issues a zero-length transaction to test for a responder at addr.
	// A missing responder reports ErrNack.
	Probe(addr uint16, timeout time.Duration) error
	// RegisterCompletion installs the single completion callback. The hardware
	// offers exactly one registration point per bus; a later call replaces the
	// earlier one.
	RegisterCompletion(fn CompletionFunc)
	// AsyncSupported reports whether the non-blocking device operations work.
	AsyncSupported() bool
	// Recover runs the bus-recovery clock-toggle sequence to release a stuck
	// SDA line and reinitializes the peripheral.
	Recover() error
	// Close releases the hardware bus.
	Close() error
}

// DeviceHandle is an open hardware device on a bus.
//
// The non-blocking calls return an immediate status only; actual completion
// is reported later through the bus's single registered completion callback.
// The hardware permits one outstanding non-blocking transaction per bus.
type DeviceHandle interface {
	Transmit(w []byte, timeout time.Duration) error
	Receive(r []byte, timeout time.Duration) error
	// TransmitReceive performs the write phase and the read phase as one
	// transaction, with a repeated start and no release of the bus in between.
	TransmitReceive(w, r []byte, timeout time.Duration) error
	// Transfer executes an ordered phase sequence as one transaction.
	Transfer(phases []Phase, timeout time.Duration) error

	TransmitAsync(w []byte) error
	ReceiveAsync(r []byte) error
	TransmitReceiveAsync(w, r []byte) error
}
