package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cbus"
	"github.com/mklimuk/i2cbus/cmd/i2cbus/console"
	"github.com/mklimuk/i2cbus/devices"
)

var tempReadCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "read a temperature sensor attached to the bus",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "sensor",
			Value: "shtc3",
			Usage: "sensor type (shtc3, tc74)",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "override the sensor default address",
		},
	},
	Action: func(c *cli.Context) error {
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		switch c.String("sensor") {
		case "shtc3":
			dev, err := sensorDevice(bus, c, devices.SHTC3Address)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			s := devices.NewSHTC3(dev)
			temp, hum, err := s.GetTempAndHum(ctx)
			if err != nil {
				return console.Exit(1, "error getting temperature read: %s", console.Red(err))
			}
			console.Printf("%s  %s\n%s %s\n", console.PictoThermometer, console.White(temp), console.PictoHumidity, console.White(hum))
		case "tc74":
			dev, err := sensorDevice(bus, c, 0x4D)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			s := devices.NewTC74(dev)
			temp, err := s.GetTemperature(ctx)
			if err != nil {
				return console.Exit(1, "error getting temperature read: %s", console.Red(err))
			}
			console.Printf("%s %s\n", console.PictoThermometer, console.White(temp))
		default:
			return console.Exit(2, "unknown sensor type %q", c.String("sensor"))
		}
		return nil
	},
}

func sensorDevice(bus *i2cbus.Bus, c *cli.Context, def uint16) (*i2cbus.Device, error) {
	addr := def
	if arg := c.String("address"); arg != "" {
		var err error
		if addr, err = parseAddr(arg); err != nil {
			return nil, err
		}
	}
	return device(bus, addr)
}
