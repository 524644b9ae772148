package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/i2cbus"
)

// fakeHID scripts the 64-byte report exchange of an attached bridge. The
// respond function builds the response for the latest request; by default the
// command code is echoed with a success status.
type fakeHID struct {
	requests [][]byte
	respond  func(req []byte) []byte
	closed   bool
}

func (f *fakeHID) Write(p []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeHID) Read(p []byte) (int, error) {
	req := f.requests[len(f.requests)-1]
	resetBuffer(p)
	if f.respond != nil {
		copy(p, f.respond(req))
	} else {
		p[0] = req[0]
	}
	return len(p), nil
}

func (f *fakeHID) Close() error {
	f.closed = true
	return nil
}

func newFakeBus(f *fakeHID) *mcpBus {
	return &mcpBus{
		hid:      f,
		request:  make([]byte, 64),
		response: make([]byte, 64),
	}
}

func TestMCP2221_WriteFraming(t *testing.T) {
	f := &fakeHID{}
	b := newFakeBus(f)
	dev, err := b.AddDevice(i2cbus.DeviceConfig{Address: 0x48})
	require.NoError(t, err)

	require.NoError(t, dev.Transmit([]byte{0xAB, 0xCD}, 0))
	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, byte(cmdWriteData), req[0])
	assert.Equal(t, byte(2), req[1], "transfer length low byte")
	assert.Equal(t, byte(0), req[2], "transfer length high byte")
	assert.Equal(t, byte(0x48<<1), req[3], "write address")
	assert.Equal(t, []byte{0xAB, 0xCD}, req[4:6])
}

func TestMCP2221_ReadData(t *testing.T) {
	f := &fakeHID{}
	f.respond = func(req []byte) []byte {
		resp := make([]byte, 64)
		resp[0] = req[0]
		if req[0] == cmdReadData {
			resp[3] = 2
			resp[4] = 0xAA
			resp[5] = 0xBB
		}
		return resp
	}
	b := newFakeBus(f)
	dev, err := b.AddDevice(i2cbus.DeviceConfig{Address: 0x48})
	require.NoError(t, err)

	buf := make([]byte, 2)
	require.NoError(t, dev.Receive(buf, 0))
	assert.Equal(t, []byte{0xAA, 0xBB}, buf)

	require.Len(t, f.requests, 2)
	assert.Equal(t, byte(cmdRequestReadData), f.requests[0][0])
	assert.Equal(t, byte(0x48<<1+1), f.requests[0][3], "read address")
	assert.Equal(t, byte(cmdReadData), f.requests[1][0])
}

func TestMCP2221_ProbeNack(t *testing.T) {
	f := &fakeHID{}
	f.respond = func(req []byte) []byte {
		resp := make([]byte, 64)
		resp[0] = req[0]
		if req[0] == cmdStatusSetParams && req[2] == 0 {
			resp[20] = 0x40 // slave did not acknowledge
		}
		return resp
	}
	b := newFakeBus(f)

	err := b.Probe(0x2A, 0)
	assert.ErrorIs(t, err, i2cbus.ErrNack)

	// a missing acknowledgment cancels the transfer
	last := f.requests[len(f.requests)-1]
	assert.Equal(t, byte(cmdStatusSetParams), last[0])
	assert.Equal(t, byte(0x10), last[2], "cancel transfer bit")
}

func TestMCP2221_CommandEchoMismatch(t *testing.T) {
	f := &fakeHID{}
	f.respond = func(req []byte) []byte {
		return make([]byte, 64) // echoes nothing
	}
	b := newFakeBus(f)
	dev, err := b.AddDevice(i2cbus.DeviceConfig{Address: 0x48})
	require.NoError(t, err)

	err = dev.Transmit([]byte{0x01}, 0)
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestMCP2221_SetSpeed(t *testing.T) {
	f := &fakeHID{}
	b := newFakeBus(f)
	_, err := b.AddDevice(i2cbus.DeviceConfig{Address: 0x48, ClockSpeedHz: 400_000})
	require.NoError(t, err)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, byte(cmdStatusSetParams), req[0])
	assert.Equal(t, byte(0x20), req[3], "set speed flag")
	assert.Equal(t, byte(mcpClockHz/400_000-3), req[4], "speed divider")
}

func TestMCP2221_TenBitUnsupported(t *testing.T) {
	b := newFakeBus(&fakeHID{})
	_, err := b.AddDevice(i2cbus.DeviceConfig{Address: 0x148, AddressBits: i2cbus.Addr10Bit})
	assert.ErrorIs(t, err, i2cbus.ErrUnsupported)
}

func TestMCP2221_Close(t *testing.T) {
	f := &fakeHID{}
	b := newFakeBus(f)
	require.NoError(t, b.Close())
	assert.True(t, f.closed)
}
