// Package i2cbus manages a shared I2C master bus and the peripherals attached
// to it. A Bus owns exactly one hardware bus handle obtained from a Driver,
// a registry of addressable devices with stable integer indices, and the
// single non-blocking operation slot the hardware permits.
//
// The hardware layer exposes one completion callback per bus and allows one
// outstanding non-blocking transaction at a time. The package bridges that
// model into per-device asynchronous operations with independent callbacks
// and timeouts, safe to call from multiple goroutines.
//
// Typical usage:
//
//	bus := i2cbus.New(drv, i2cbus.BusConfig{Port: 0, SDA: 21, SCL: 22})
//	if err := bus.Initialize(); err != nil { ... }
//	idx, err := bus.CreateDevice(i2cbus.DeviceConfig{Address: 0x48, ClockSpeedHz: 100_000})
//	dev := bus.Device(idx)
//	err = dev.WriteRead(ctx, []byte{regTemp}, buf, 100*time.Millisecond)
package i2cbus
