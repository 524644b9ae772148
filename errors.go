package i2cbus

import "errors"

var (
	// ErrConfig signals an invalid bus or device configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrNotInitialized signals use of a bus before Initialize or after Deinitialize.
	ErrNotInitialized = errors.New("bus not initialized")
	// ErrDuplicateAddress signals that a device is already registered at the address.
	ErrDuplicateAddress = errors.New("address already registered")
	// ErrDeviceNotFound signals a lookup or removal of an absent device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrBusBusy signals that the bus or its async slot is held by another operation.
	ErrBusBusy = errors.New("I2C engine is busy (command not completed)")
	// ErrNack signals that the addressed device did not acknowledge. The device
	// is absent or busy; this is a routine runtime condition, not a fault.
	ErrNack = errors.New("no acknowledgment from device")
	// ErrTimeout signals that a transaction did not complete in time.
	ErrTimeout = errors.New("transaction timed out")
	// ErrHardware signals a bus-level fault. Recovery requires ResetBus.
	ErrHardware = errors.New("hardware failure")
	// ErrInvalidArgument signals a nil buffer, zero length or nil callback.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupported signals an operation the underlying driver cannot perform.
	ErrUnsupported = errors.New("operation not supported by driver")
)
