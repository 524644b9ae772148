package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cbus"
	"github.com/mklimuk/i2cbus/cmd/i2cbus/console"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe an address range and list responding devices",
	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:  "start",
			Value: i2cbus.ScanStart,
		},
		&cli.UintFlag{
			Name:  "end",
			Value: i2cbus.ScanEnd,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 100 * time.Millisecond,
		},
	},
	Action: func(c *cli.Context) error {
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		console.PInfof(console.PictoMag, "scanning %#02x-%#02x", c.Uint("start"), c.Uint("end"))
		found, err := bus.ScanDevices(uint16(c.Uint("start")), uint16(c.Uint("end")), c.Duration("timeout"))
		if err != nil {
			return console.Exit(1, "scan error: %s", console.Red(err))
		}
		for _, addr := range found {
			console.PInfof(console.PictoPin, "device at %s", console.Green(addrString(addr)))
		}
		if len(found) == 0 {
			console.PInfof(console.PictoGhost, "no devices found")
		}
		return nil
	},
}

var probeCmd = cli.Command{
	Name:      "probe",
	Usage:     "check whether a device acknowledges its address",
	ArgsUsage: "<address>",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 100 * time.Millisecond,
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(2, "usage: probe <address>")
		}
		addr, err := parseAddr(c.Args().First())
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		if err = bus.ProbeDevice(addr, c.Duration("timeout")); err != nil {
			console.PInfof(console.PictoStop, "%s does not respond: %s", addrString(addr), console.Red(err))
			return console.Exit(1, "probe failed")
		}
		console.PInfof(console.PictoPin, "device at %s responds", console.Green(addrString(addr)))
		return nil
	},
}
