package i2cbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 100 * time.Millisecond

func newTestBus(t *testing.T, drv *MockDriver) *Bus {
	t.Helper()
	bus := New(drv, BusConfig{Port: 0, SDA: 21, SCL: 22})
	require.NoError(t, bus.Initialize())
	return bus
}

func TestBus_InitializeIdempotent(t *testing.T) {
	drv := NewMockDriver()
	bus := New(drv, BusConfig{SDA: 21, SCL: 22})

	require.NoError(t, bus.Initialize())
	require.NoError(t, bus.Initialize())
	assert.Equal(t, 1, drv.OpenCount, "second Initialize must not reopen hardware")
	assert.True(t, bus.IsInitialized())

	require.NoError(t, bus.Deinitialize())
	require.NoError(t, bus.Deinitialize())
	assert.Equal(t, 1, drv.CloseCount)
	assert.False(t, bus.IsInitialized())
}

func TestBus_InitializeInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  BusConfig
	}{
		{"shared pin", BusConfig{SDA: 4, SCL: 4}},
		{"negative pin", BusConfig{SDA: -1, SCL: 5}},
		{"negative port", BusConfig{Port: -2, SDA: 4, SCL: 5}},
		{"bad clock source", BusConfig{SDA: 4, SCL: 5, ClockSource: "pll"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := New(NewMockDriver(), test.cfg)
			assert.ErrorIs(t, bus.Initialize(), ErrConfig)
		})
	}
}

func TestBus_InitializeOpenFailure(t *testing.T) {
	drv := NewMockDriver()
	drv.OpenErr = assert.AnError
	bus := New(drv, BusConfig{SDA: 21, SCL: 22})
	assert.ErrorIs(t, bus.Initialize(), ErrHardware)
}

func TestBus_NotInitialized(t *testing.T) {
	bus := New(NewMockDriver(), BusConfig{SDA: 21, SCL: 22})

	_, err := bus.CreateDevice(DeviceConfig{Address: 0x48})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, bus.RemoveDevice(0), ErrNotInitialized)
	assert.ErrorIs(t, bus.ProbeDevice(0x48, testTimeout), ErrNotInitialized)
	_, err = bus.Scan(testTimeout)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, bus.ResetBus(), ErrNotInitialized)
}

func TestBus_DeviceLifecycle(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)

	idx, err := bus.CreateDevice(DeviceConfig{Address: 0x48, ClockSpeedHz: 100_000})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0, bus.FindDeviceIndex(0x48))
	assert.Same(t, bus.Device(0), bus.DeviceByAddress(0x48))
	assert.True(t, bus.IsValidIndex(0))
	assert.Equal(t, 1, bus.DeviceCount())

	require.NoError(t, bus.RemoveDeviceByAddress(0x48))
	assert.Nil(t, bus.Device(0))
	assert.Nil(t, bus.DeviceByAddress(0x48))
	assert.False(t, bus.IsValidIndex(0))
	assert.Equal(t, -1, bus.FindDeviceIndex(0x48))
	assert.Equal(t, 0, bus.DeviceCount())
}

func TestBus_CreateDeviceErrors(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())

	idx, err := bus.CreateDevice(DeviceConfig{Address: 0x48})
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	idx, err = bus.CreateDevice(DeviceConfig{Address: 0x48})
	assert.ErrorIs(t, err, ErrDuplicateAddress)
	assert.Equal(t, -1, idx)

	tests := []struct {
		name string
		cfg  DeviceConfig
	}{
		{"7-bit overflow", DeviceConfig{Address: 0x80}},
		{"10-bit overflow", DeviceConfig{Address: 0x400, AddressBits: Addr10Bit}},
		{"bad width", DeviceConfig{Address: 0x10, AddressBits: 5}},
		{"negative queue depth", DeviceConfig{Address: 0x10, QueueDepth: -1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			idx, err := bus.CreateDevice(test.cfg)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Equal(t, -1, idx)
		})
	}
}

func TestBus_RemoveDeviceNotFound(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	assert.ErrorIs(t, bus.RemoveDevice(0), ErrDeviceNotFound)
	assert.ErrorIs(t, bus.RemoveDevice(-1), ErrDeviceNotFound)
	assert.ErrorIs(t, bus.RemoveDeviceByAddress(0x33), ErrDeviceNotFound)
}

func TestBus_IndexStability(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())

	for i, addr := range []uint16{0x10, 0x20, 0x30} {
		idx, err := bus.CreateDevice(DeviceConfig{Address: addr})
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}

	require.NoError(t, bus.RemoveDevice(1))
	assert.Nil(t, bus.Device(1))
	assert.False(t, bus.IsValidIndex(1))
	assert.Equal(t, 2, bus.DeviceCount())

	// surviving devices keep their indices and identities
	assert.Equal(t, uint16(0x10), bus.Device(0).Address())
	assert.Equal(t, uint16(0x30), bus.Device(2).Address())
	assert.Equal(t, uint16(0x10), bus.FirstDevice().Address())
	assert.Equal(t, uint16(0x30), bus.LastDevice().Address())
	assert.Equal(t, []uint16{0x10, 0x30}, bus.Addresses())

	idx, err := bus.CreateDevice(DeviceConfig{Address: 0x40})
	require.NoError(t, err)
	assert.True(t, bus.IsValidIndex(idx))
	assert.Equal(t, uint16(0x10), bus.Device(0).Address())
	assert.Equal(t, uint16(0x30), bus.Device(2).Address())
}

func TestBus_EmptyQueries(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	assert.True(t, bus.IsEmpty())
	assert.False(t, bus.HasDevices())
	assert.Nil(t, bus.FirstDevice())
	assert.Nil(t, bus.LastDevice())
	assert.Empty(t, bus.Devices())
	assert.Empty(t, bus.Addresses())
}

func TestBus_Probe(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)

	assert.NoError(t, bus.ProbeDevice(0x48, testTimeout))
	assert.ErrorIs(t, bus.ProbeDevice(0x49, testTimeout), ErrNack)
}

func TestBus_Scan(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x50, &MockResponder{})
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)

	found, err := bus.Scan(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x48, 0x50}, found)
}

func TestBus_ScanReservedRange(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x03, &MockResponder{})
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)

	// the default range leaves reserved addresses out
	found, err := bus.Scan(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x48}, found)

	// explicit bounds include them
	found, err = bus.ScanDevices(0x00, 0x07, testTimeout)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x03}, found)
}

func TestBus_ScanInvalidRange(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	_, err := bus.ScanDevices(0x50, 0x10, testTimeout)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBus_Reset(t *testing.T) {
	drv := NewMockDriver()
	bus := newTestBus(t, drv)

	require.NoError(t, bus.ResetBus())
	assert.Equal(t, 1, drv.RecoverCount)
	assert.True(t, bus.IsInitialized())
}

func TestBus_DeinitializeReleasesDevices(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	idx, err := bus.CreateDevice(DeviceConfig{Address: 0x48})
	require.NoError(t, err)
	dev := bus.Device(idx)

	require.NoError(t, bus.Deinitialize())
	assert.Nil(t, bus.Device(idx))
	assert.Equal(t, 0, bus.DeviceCount())

	err = dev.Write(context.Background(), []byte{0x00}, testTimeout)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDeviceConfig_Defaults(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	idx, err := bus.CreateDevice(DeviceConfig{Address: 0x48})
	require.NoError(t, err)

	cfg := bus.Device(idx).Config()
	assert.Equal(t, Addr7Bit, cfg.AddressBits)
	assert.Equal(t, uint32(DefaultClockSpeedHz), cfg.ClockSpeedHz)
	assert.Equal(t, DefaultQueueDepth, cfg.QueueDepth)
}

func TestIsReservedAddress(t *testing.T) {
	assert.True(t, IsReservedAddress(0x00))
	assert.True(t, IsReservedAddress(0x07))
	assert.True(t, IsReservedAddress(0x78))
	assert.True(t, IsReservedAddress(0x7F))
	assert.False(t, IsReservedAddress(0x08))
	assert.False(t, IsReservedAddress(0x77))
	assert.False(t, IsReservedAddress(0x100))
}
