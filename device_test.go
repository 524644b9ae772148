package i2cbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDevice(t *testing.T, bus *Bus, addr uint16) *Device {
	t.Helper()
	idx, err := bus.CreateDevice(DeviceConfig{Address: addr})
	require.NoError(t, err)
	return bus.Device(idx)
}

func TestDevice_LoopbackRoundTrip(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, NewLoopbackResponder())
	bus := newTestBus(t, drv)
	dev := createTestDevice(t, bus, 0x48)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x42}
	require.NoError(t, dev.Write(context.Background(), payload, testTimeout))

	got := make([]byte, len(payload))
	require.NoError(t, dev.Read(context.Background(), got, testTimeout))
	assert.Equal(t, payload, got)
}

func TestDevice_RegisterAccess(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)
	dev := createTestDevice(t, bus, 0x48)

	// write 0xAB, 0xCD starting at register 0x10
	require.NoError(t, dev.Write(context.Background(), []byte{0x10, 0xAB, 0xCD}, testTimeout))

	got := make([]byte, 2)
	require.NoError(t, dev.WriteRead(context.Background(), []byte{0x10}, got, testTimeout))
	assert.Equal(t, []byte{0xAB, 0xCD}, got)
}

func TestDevice_SyncErrors(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)
	dev := createTestDevice(t, bus, 0x48)

	t.Run("nil buffer", func(t *testing.T) {
		assert.ErrorIs(t, dev.Write(context.Background(), nil, testTimeout), ErrInvalidArgument)
		assert.ErrorIs(t, dev.Read(context.Background(), nil, testTimeout), ErrInvalidArgument)
		assert.ErrorIs(t, dev.WriteRead(context.Background(), nil, []byte{0}, testTimeout), ErrInvalidArgument)
	})

	t.Run("nack", func(t *testing.T) {
		drv.SetError(0x48, ErrNack)
		defer drv.SetError(0x48, nil)
		assert.ErrorIs(t, dev.Write(context.Background(), []byte{0x00}, testTimeout), ErrNack)
	})

	t.Run("timeout", func(t *testing.T) {
		drv.SetError(0x48, ErrTimeout)
		defer drv.SetError(0x48, nil)
		assert.ErrorIs(t, dev.Read(context.Background(), make([]byte, 1), testTimeout), ErrTimeout)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, dev.Write(ctx, []byte{0x00}, testTimeout), context.Canceled)
	})

	t.Run("removed device", func(t *testing.T) {
		gone := createTestDevice(t, bus, 0x33)
		require.NoError(t, bus.RemoveDevice(gone.Index()))
		assert.ErrorIs(t, gone.Write(context.Background(), []byte{0x00}, testTimeout), ErrDeviceNotFound)
	})
}

func TestDevice_Transfer(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	bus := newTestBus(t, drv)
	dev := createTestDevice(t, bus, 0x48)

	got := make([]byte, 3)
	phases := []Phase{
		{Dir: PhaseWrite, Buf: []byte{0x20, 0x01, 0x02, 0x03}},
		{Dir: PhaseWrite, Buf: []byte{0x20}},
		{Dir: PhaseRead, Buf: got},
	}
	require.NoError(t, dev.Transfer(context.Background(), phases, testTimeout))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)

	recs := drv.Records()
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, recs[0].Txn, rec.Txn, "all phases share one transaction")
	}
}

func TestDevice_TransferValidation(t *testing.T) {
	bus := newTestBus(t, NewMockDriver())
	dev := createTestDevice(t, bus, 0x48)

	assert.ErrorIs(t, dev.Transfer(context.Background(), nil, testTimeout), ErrInvalidArgument)
	assert.ErrorIs(t, dev.Transfer(context.Background(), []Phase{{Dir: PhaseWrite}}, testTimeout), ErrInvalidArgument)
	assert.ErrorIs(t, dev.Transfer(context.Background(), []Phase{{Dir: PhaseDir(7), Buf: []byte{1}}}, testTimeout), ErrInvalidArgument)
}

func TestDevice_TransferFailFast(t *testing.T) {
	drv := NewMockDriver()
	boom := &MockResponder{}
	writes := 0
	boom.WriteBehavior = func(p []byte) error {
		writes++
		if writes > 1 {
			return ErrNack
		}
		return nil
	}
	drv.AddResponder(0x48, boom)
	bus := newTestBus(t, drv)
	dev := createTestDevice(t, bus, 0x48)

	phases := []Phase{
		{Dir: PhaseWrite, Buf: []byte{0x01}},
		{Dir: PhaseWrite, Buf: []byte{0x02}},
		{Dir: PhaseRead, Buf: make([]byte, 1)},
	}
	assert.ErrorIs(t, dev.Transfer(context.Background(), phases, testTimeout), ErrNack)
	// the read phase after the failing write never executed
	recs := drv.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, PhaseWrite, recs[1].Dir)
}

// TestDevice_WriteReadAtomicity hammers one device with write-read
// transactions while another goroutine writes to a second device, then
// verifies from the recorded phase boundaries that no foreign transaction
// ever interleaved between a write phase and its read phase.
func TestDevice_WriteReadAtomicity(t *testing.T) {
	drv := NewMockDriver()
	drv.AddResponder(0x48, &MockResponder{})
	drv.AddResponder(0x50, &MockResponder{})
	bus := newTestBus(t, drv)
	devA := createTestDevice(t, bus, 0x48)
	devB := createTestDevice(t, bus, 0x50)

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 2)
		for i := 0; i < rounds; i++ {
			_ = devA.WriteRead(context.Background(), []byte{0x00}, buf, testTimeout)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = devB.Write(context.Background(), []byte{0x01, byte(i)}, testTimeout)
		}
	}()
	wg.Wait()

	recs := drv.Records()
	for i, rec := range recs {
		if rec.Addr != 0x48 || rec.Dir != PhaseWrite {
			continue
		}
		require.Less(t, i+1, len(recs), "write-read must not be truncated")
		next := recs[i+1]
		assert.Equal(t, rec.Txn, next.Txn, "record %d: read phase split from its write phase", i)
		assert.Equal(t, uint16(0x48), next.Addr)
		assert.Equal(t, PhaseRead, next.Dir)
	}
}
