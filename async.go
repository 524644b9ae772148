package i2cbus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// AsyncKind identifies the operation an async context was armed for.
type AsyncKind int

const (
	AsyncWrite AsyncKind = iota
	AsyncRead
	AsyncWriteRead
)

func (k AsyncKind) String() string {
	switch k {
	case AsyncWrite:
		return "write"
	case AsyncRead:
		return "read"
	case AsyncWriteRead:
		return "write-read"
	default:
		return "unknown"
	}
}

// AsyncResult is handed to the user callback when an async operation
// resolves. BytesTransferred is the originally requested length on success
// and 0 otherwise: the hardware never reports an actual byte count, so the
// requested length is the best available figure. This is a documented
// platform limitation, not an approximation to refine.
type AsyncResult struct {
	Device           *Device
	Kind             AsyncKind
	Err              error
	BytesTransferred int
	UserData         any
}

// AsyncCallback is invoked from task context (never from the completion
// bridge) once an armed operation resolves.
type AsyncCallback func(AsyncResult)

// asyncOp is the per-in-flight-operation context. At most one instance is
// armed per bus at any time; it is owned by the device that armed it and
// recycled, not freed, on completion.
//
// The completion bridge touches only result and done, and performs a
// non-blocking send on signal. Everything else is written under the bus
// mutex before arming and read after reaping.
type asyncOp struct {
	dev       *Device
	kind      AsyncKind
	requested int
	cb        AsyncCallback
	userData  any

	// result holds the Event written by the bridge; valid once done is set.
	result atomic.Int32
	// done is the completion flag, the only synchronization written from
	// bridge context.
	done atomic.Bool
	// signal wakes task-context waiters; capacity 1, non-blocking sends.
	signal chan struct{}
	// released is closed by the reaper when the slot is vacated, waking every
	// waiter even when the bridge never fired (forced resolution, arm failure).
	// Replaced on every arm; guarded by the bus mutex.
	released chan struct{}
}

// completion is the bus's single hardware completion callback. It may run in
// interrupt context: no mutex, no allocation, no logging. It demultiplexes
// the coarse event to whichever context is currently armed (unique by
// construction) and leaves all RTOS-interacting work to a task-context
// reaper.
func (b *Bus) completion(ev Event) {
	if ev == EventBusAlive {
		return
	}
	op := b.armed.Load()
	if op == nil || op.done.Load() {
		return
	}
	op.result.Store(int32(ev))
	op.done.Store(true)
	select {
	case op.signal <- struct{}{}:
	default:
	}
}

// reapLocked resolves the armed operation: translates the stored event into
// a result, vacates the slot and recycles the context. The caller must hold
// the bus mutex and must invoke the returned func after releasing it; the
// user callback may call back into the bus.
func (b *Bus) reapLocked() func() {
	op := b.armed.Load()
	if op == nil || !op.done.Load() {
		return func() {}
	}
	res := AsyncResult{
		Device:   op.dev,
		Kind:     op.kind,
		UserData: op.userData,
	}
	switch Event(op.result.Load()) {
	case EventDone:
		res.BytesTransferred = op.requested
	case EventNack:
		res.Err = ErrNack
	case EventTimeout:
		res.Err = ErrTimeout
	default:
		res.Err = ErrHardware
	}
	cb := op.cb
	b.armed.Store(nil)
	close(op.released)
	op.dev = nil
	op.cb = nil
	op.userData = nil
	b.spare = op
	if cb == nil {
		return func() {}
	}
	return func() { cb(res) }
}

// takeOpLocked returns a context ready for arming, reusing the recycled one
// when available.
func (b *Bus) takeOpLocked() *asyncOp {
	op := b.spare
	if op == nil {
		op = &asyncOp{signal: make(chan struct{}, 1)}
	} else {
		b.spare = nil
		op.done.Store(false)
		select {
		case <-op.signal:
		default:
		}
	}
	op.released = make(chan struct{})
	return op
}

// startAsync acquires the bus's single async slot, waiting up to timeout if
// another device holds it, then arms a context and issues the non-blocking
// hardware call. A completed-but-unreaped operation found along the way is
// resolved before the slot is reused so a late completion event can never be
// misattributed to the new transaction.
func (b *Bus) startAsync(d *Device, kind AsyncKind, w, r []byte, cb AsyncCallback, userData any, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	b.mu.Lock()
	for {
		if b.hw == nil {
			b.mu.Unlock()
			return ErrNotInitialized
		}
		if !b.hw.AsyncSupported() {
			b.mu.Unlock()
			return fmt.Errorf("async %s to %#02x: %w", kind, d.cfg.Address, ErrUnsupported)
		}
		if d.removed.Load() {
			b.mu.Unlock()
			return fmt.Errorf("device %#02x: %w", d.cfg.Address, ErrDeviceNotFound)
		}
		cur := b.armed.Load()
		if cur == nil {
			break
		}
		if cur.done.Load() {
			fire := b.reapLocked()
			b.mu.Unlock()
			fire()
			b.mu.Lock()
			continue
		}
		holder := cur.addr()
		released := cur.released
		b.mu.Unlock()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("async slot held by %#02x: %w", holder, ErrBusBusy)
		}
		select {
		case <-cur.signal:
			// pass the wakeup on to any other waiter
			select {
			case cur.signal <- struct{}{}:
			default:
			}
		case <-released:
			// slot vacated by a reaper; re-check under the lock
		case <-time.After(remaining):
			return fmt.Errorf("async slot held by %#02x: %w", holder, ErrBusBusy)
		}
		b.mu.Lock()
	}

	op := b.takeOpLocked()
	op.dev = d
	op.kind = kind
	op.requested = len(w) + len(r)
	op.cb = cb
	op.userData = userData
	b.armed.Store(op)

	var err error
	switch kind {
	case AsyncWrite:
		err = d.hw.TransmitAsync(w)
	case AsyncRead:
		err = d.hw.ReceiveAsync(r)
	case AsyncWriteRead:
		err = d.hw.TransmitReceiveAsync(w, r)
	}
	if err != nil {
		// arming failed; vacate the slot immediately
		b.armed.Store(nil)
		close(op.released)
		op.dev = nil
		op.cb = nil
		op.userData = nil
		b.spare = op
		b.mu.Unlock()
		return wrapHardware(fmt.Sprintf("async %s to %#02x failed to start", kind, d.cfg.Address), err)
	}
	b.mu.Unlock()
	return nil
}

// addr is safe to call on a possibly recycled op; it is only used for error
// messages.
func (op *asyncOp) addr() uint16 {
	if d := op.dev; d != nil {
		return d.cfg.Address
	}
	return 0
}

// AsyncOperationInFlight reports whether any device's async operation is
// currently armed on the bus.
func (b *Bus) AsyncOperationInFlight() bool {
	return b.armed.Load() != nil
}

// WaitAsyncOperationComplete blocks the calling goroutine until the armed
// operation (whichever device owns it) resolves or timeout elapses. On
// completion the user callback is invoked and the slot released before
// returning true. On timeout it returns false and the operation stays armed;
// the wait has no side effects beyond the caller's own blocking. Returns
// true immediately when nothing is armed.
func (b *Bus) WaitAsyncOperationComplete(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		op := b.armed.Load()
		if op == nil {
			b.mu.Unlock()
			return true
		}
		if op.done.Load() {
			fire := b.reapLocked()
			b.mu.Unlock()
			fire()
			return true
		}
		released := op.released
		b.mu.Unlock()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-op.signal:
			select {
			case op.signal <- struct{}{}:
			default:
			}
		case <-released:
			// resolved by another goroutine's reap
		case <-time.After(remaining):
			return false
		}
	}
}

// WriteAsync arms a non-blocking write and returns immediately. The callback
// fires later from task context with the result. If another device's
// operation does not vacate the slot within timeout, ErrBusBusy is returned
// and nothing is armed.
func (d *Device) WriteAsync(w []byte, cb AsyncCallback, userData any, timeout time.Duration) error {
	if len(w) == 0 || cb == nil {
		return fmt.Errorf("async write to %#02x: %w", d.cfg.Address, ErrInvalidArgument)
	}
	return d.bus.startAsync(d, AsyncWrite, w, nil, cb, userData, timeout)
}

// ReadAsync arms a non-blocking read into r. See WriteAsync for the slot
// contract. r must stay valid until the callback fires.
func (d *Device) ReadAsync(r []byte, cb AsyncCallback, userData any, timeout time.Duration) error {
	if len(r) == 0 || cb == nil {
		return fmt.Errorf("async read from %#02x: %w", d.cfg.Address, ErrInvalidArgument)
	}
	return d.bus.startAsync(d, AsyncRead, nil, r, cb, userData, timeout)
}

// WriteReadAsync arms a non-blocking write-then-read transaction. Both
// buffers must stay valid until the callback fires.
func (d *Device) WriteReadAsync(w, r []byte, cb AsyncCallback, userData any, timeout time.Duration) error {
	if len(w) == 0 || len(r) == 0 || cb == nil {
		return fmt.Errorf("async write-read %#02x: %w", d.cfg.Address, ErrInvalidArgument)
	}
	return d.bus.startAsync(d, AsyncWriteRead, w, r, cb, userData, timeout)
}

// IsAsyncOperationInProgress reports whether this device owns the bus's
// armed async operation. Across a bus at most one device reports true at any
// instant.
func (d *Device) IsAsyncOperationInProgress() bool {
	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	op := b.armed.Load()
	return op != nil && op.dev == d
}

// IsAsyncModeSupported reports whether the underlying driver implements the
// non-blocking operations.
func (d *Device) IsAsyncModeSupported() bool {
	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hw != nil && b.hw.AsyncSupported()
}

// WaitAsyncOperationComplete blocks until this device's armed operation
// resolves or timeout elapses. It returns true immediately when the armed
// operation, if any, belongs to another device.
func (d *Device) WaitAsyncOperationComplete(timeout time.Duration) bool {
	b := d.bus
	b.mu.Lock()
	op := b.armed.Load()
	mine := op != nil && op.dev == d
	b.mu.Unlock()
	if !mine {
		return true
	}
	return b.WaitAsyncOperationComplete(timeout)
}
