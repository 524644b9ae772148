package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cbus"
	"github.com/mklimuk/i2cbus/adapter"
	"github.com/mklimuk/i2cbus/cmd/i2cbus/console"
	"github.com/mklimuk/i2cbus/periph"
	"github.com/urfave/cli/v2"
)

const ioTimeout = 500 * time.Millisecond

// Config describes the bus and the devices to register on startup.
type Config struct {
	Bus     i2cbus.BusConfig      `yaml:"bus"`
	Devices []i2cbus.DeviceConfig `yaml:"devices"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config file: %w", err)
	}
	defer f.Close()
	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}
	return &cfg, nil
}

// openBus builds the selected driver, initializes the bus and registers any
// devices from the config file. The caller deinitializes the bus.
func openBus(c *cli.Context) (*i2cbus.Bus, error) {
	cfg := &Config{Bus: i2cbus.BusConfig{Port: c.Int("port")}}
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = loadConfig(path); err != nil {
			return nil, err
		}
	}
	console.Debugf("opening port %d with %s driver", cfg.Bus.Port, c.String("driver"))
	var drv i2cbus.Driver
	switch c.String("driver") {
	case "mcp2221":
		drv = adapter.NewMCP2221()
	case "periph":
		drv = &periph.Driver{}
	case "mock":
		drv = demoDriver()
	default:
		return nil, fmt.Errorf("unknown driver %q", c.String("driver"))
	}
	bus := i2cbus.New(drv, cfg.Bus)
	if err := bus.Initialize(); err != nil {
		return nil, fmt.Errorf("bus initialization error: %w", err)
	}
	for _, dc := range cfg.Devices {
		if _, err := bus.CreateDevice(dc); err != nil {
			_ = bus.Deinitialize()
			return nil, fmt.Errorf("could not register device %#02x: %w", dc.Address, err)
		}
	}
	return bus, nil
}

// demoDriver lets the cli run without hardware attached.
func demoDriver() *i2cbus.MockDriver {
	drv := i2cbus.NewMockDriver()
	drv.Async = true
	drv.AutoCompleteDelay = 5 * time.Millisecond
	drv.AddResponder(0x48, &i2cbus.MockResponder{})
	drv.AddResponder(0x50, i2cbus.NewLoopbackResponder())
	return drv
}

// device returns the registered device for addr, creating one on the fly
// when the bus does not know it yet.
func device(bus *i2cbus.Bus, addr uint16) (*i2cbus.Device, error) {
	if dev := bus.DeviceByAddress(addr); dev != nil {
		return dev, nil
	}
	idx, err := bus.CreateDevice(i2cbus.DeviceConfig{Address: addr})
	if err != nil {
		return nil, err
	}
	return bus.Device(idx), nil
}

func parseAddr(arg string) (uint16, error) {
	addr, err := strconv.ParseUint(arg, 0, 16)
	if err != nil || addr > 0x3FF {
		return 0, fmt.Errorf("invalid device address %q", arg)
	}
	if i2cbus.IsReservedAddress(uint16(addr)) {
		console.Warnf("address %#02x is in a reserved range", addr)
	}
	return uint16(addr), nil
}

func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, arg := range args {
		b, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid data byte %q", arg)
		}
		out = append(out, byte(b))
	}
	return out, nil
}
