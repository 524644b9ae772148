package i2cbus

import (
	"fmt"
	"sync"
	"time"
)

// MockDriver is an in-memory Driver implementation used by the package tests
// and by tooling that needs a bus without hardware. Responders registered at
// an address emulate register-style peripherals; every executed phase is
// recorded with its transaction id so tests can verify phase boundaries and
// atomicity.
type MockDriver struct {
	// OpenErr, when set, makes Open fail.
	OpenErr error
	// Async enables the non-blocking operations.
	Async bool
	// AutoCompleteDelay, when positive, resolves armed async operations
	// automatically after the delay. When zero, tests drive completion
	// explicitly through CompleteAsync.
	AutoCompleteDelay time.Duration

	mu         sync.Mutex
	responders map[uint16]*MockResponder
	errs       map[uint16]error
	completion CompletionFunc
	pending    *pendingAsync
	records    []Record
	txn        int

	OpenCount    int
	CloseCount   int
	RecoverCount int
}

// Record is one executed bus phase. Phases belonging to the same transaction
// share Txn and are recorded back to back: a foreign Txn appearing between
// two phases of a write-read would betray interleaving.
type Record struct {
	Txn  int
	Addr uint16
	Dir  PhaseDir
	Data []byte
}

type pendingAsync struct {
	addr   uint16
	phases []Phase
}

// WriteBehaviorFunc handles bytes written to a mock responder.
type WriteBehaviorFunc func(p []byte) error

// ReadBehaviorFunc fills bytes read from a mock responder.
type ReadBehaviorFunc func(p []byte) error

// MockResponder emulates one peripheral. The default behavior is a 256-byte
// register file: the first written byte selects the register pointer and the
// remainder is stored sequentially; reads return bytes from the pointer on,
// auto-incrementing. Behavior functions override the default when set.
type MockResponder struct {
	WriteBehavior WriteBehaviorFunc
	ReadBehavior  ReadBehaviorFunc

	mem [256]byte
	ptr uint8
}

func (r *MockResponder) write(p []byte) error {
	if r.WriteBehavior != nil {
		return r.WriteBehavior(p)
	}
	if len(p) == 0 {
		return nil
	}
	r.ptr = p[0]
	for _, b := range p[1:] {
		r.mem[r.ptr] = b
		r.ptr++
	}
	return nil
}

func (r *MockResponder) read(p []byte) error {
	if r.ReadBehavior != nil {
		return r.ReadBehavior(p)
	}
	for i := range p {
		p[i] = r.mem[r.ptr]
		r.ptr++
	}
	return nil
}

// NewLoopbackResponder returns a responder whose reads replay previously
// written bytes in order.
func NewLoopbackResponder() *MockResponder {
	var buf []byte
	return &MockResponder{
		WriteBehavior: func(p []byte) error {
			buf = append(buf, p...)
			return nil
		},
		ReadBehavior: func(p []byte) error {
			n := copy(p, buf)
			buf = buf[n:]
			for i := n; i < len(p); i++ {
				p[i] = 0xFF
			}
			return nil
		},
	}
}

// NewMockDriver returns an empty mock driver; add responders before use.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		responders: make(map[uint16]*MockResponder),
		errs:       make(map[uint16]error),
	}
}

// AddResponder registers (or replaces) the responder at addr.
func (m *MockDriver) AddResponder(addr uint16, r *MockResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responders[addr] = r
}

// SetError forces every transaction addressed to addr to fail with err.
// A nil err clears the injection.
func (m *MockDriver) SetError(addr uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, addr)
		return
	}
	m.errs[addr] = err
}

// Records returns a copy of every executed phase in execution order.
func (m *MockDriver) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// ResetRecords discards the recorded phases.
func (m *MockDriver) ResetRecords() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

// PendingAsync reports whether an armed non-blocking operation awaits
// completion.
func (m *MockDriver) PendingAsync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// CompleteAsync resolves the armed non-blocking operation with ev, executing
// the data phases first when ev is EventDone, and fires the registered
// completion callback. It reports whether an operation was pending.
func (m *MockDriver) CompleteAsync(ev Event) bool {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	if p == nil {
		m.mu.Unlock()
		return false
	}
	if ev == EventDone {
		m.executeLocked(p.addr, p.phases)
	}
	fn := m.completion
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
	return true
}

// Open implements Driver.
func (m *MockDriver) Open(cfg BusConfig) (BusHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.OpenCount++
	return &mockBus{drv: m}, nil
}

// executeLocked runs all phases of one transaction against the responder.
func (m *MockDriver) executeLocked(addr uint16, phases []Phase) error {
	if err := m.errs[addr]; err != nil {
		return err
	}
	r := m.responders[addr]
	if r == nil {
		return ErrNack
	}
	m.txn++
	for _, ph := range phases {
		rec := Record{Txn: m.txn, Addr: addr, Dir: ph.Dir}
		var err error
		switch ph.Dir {
		case PhaseWrite:
			err = r.write(ph.Buf)
		case PhaseRead:
			err = r.read(ph.Buf)
		}
		rec.Data = append([]byte(nil), ph.Buf...)
		m.records = append(m.records, rec)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDriver) transfer(addr uint16, phases []Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeLocked(addr, phases)
}

func (m *MockDriver) startAsync(addr uint16, phases []Phase) error {
	m.mu.Lock()
	if !m.Async {
		m.mu.Unlock()
		return ErrUnsupported
	}
	if m.pending != nil {
		m.mu.Unlock()
		return ErrBusBusy
	}
	m.pending = &pendingAsync{addr: addr, phases: phases}
	ev := EventDone
	switch {
	case m.errs[addr] != nil:
		ev = EventNack
	case m.responders[addr] == nil:
		ev = EventNack
	}
	delay := m.AutoCompleteDelay
	m.mu.Unlock()
	if delay > 0 {
		time.AfterFunc(delay, func() { m.CompleteAsync(ev) })
	}
	return nil
}

type mockBus struct {
	drv    *MockDriver
	closed bool
}

func (b *mockBus) AddDevice(cfg DeviceConfig) (DeviceHandle, error) {
	return &mockDevice{drv: b.drv, addr: cfg.Address}, nil
}

func (b *mockBus) RemoveDevice(dev DeviceHandle) error {
	if _, ok := dev.(*mockDevice); !ok {
		return fmt.Errorf("%w: foreign device handle", ErrInvalidArgument)
	}
	return nil
}

func (b *mockBus) Probe(addr uint16, timeout time.Duration) error {
	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()
	if err := b.drv.errs[addr]; err != nil {
		return err
	}
	if b.drv.responders[addr] == nil {
		return ErrNack
	}
	return nil
}

func (b *mockBus) RegisterCompletion(fn CompletionFunc) {
	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()
	b.drv.completion = fn
}

func (b *mockBus) AsyncSupported() bool {
	return b.drv.Async
}

// Recover cancels any armed non-blocking transfer, as the hardware recovery
// sequence would.
func (b *mockBus) Recover() error {
	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()
	b.drv.RecoverCount++
	b.drv.pending = nil
	return nil
}

func (b *mockBus) Close() error {
	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.drv.CloseCount++
	return nil
}

type mockDevice struct {
	drv  *MockDriver
	addr uint16
}

func (d *mockDevice) Transmit(w []byte, timeout time.Duration) error {
	return d.drv.transfer(d.addr, []Phase{{Dir: PhaseWrite, Buf: w}})
}

func (d *mockDevice) Receive(r []byte, timeout time.Duration) error {
	return d.drv.transfer(d.addr, []Phase{{Dir: PhaseRead, Buf: r}})
}

func (d *mockDevice) TransmitReceive(w, r []byte, timeout time.Duration) error {
	return d.drv.transfer(d.addr, []Phase{{Dir: PhaseWrite, Buf: w}, {Dir: PhaseRead, Buf: r}})
}

func (d *mockDevice) Transfer(phases []Phase, timeout time.Duration) error {
	return d.drv.transfer(d.addr, phases)
}

func (d *mockDevice) TransmitAsync(w []byte) error {
	return d.drv.startAsync(d.addr, []Phase{{Dir: PhaseWrite, Buf: w}})
}

func (d *mockDevice) ReceiveAsync(r []byte) error {
	return d.drv.startAsync(d.addr, []Phase{{Dir: PhaseRead, Buf: r}})
}

func (d *mockDevice) TransmitReceiveAsync(w, r []byte) error {
	return d.drv.startAsync(d.addr, []Phase{{Dir: PhaseWrite, Buf: w}, {Dir: PhaseRead, Buf: r}})
}
