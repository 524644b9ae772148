package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cbus/cmd/i2cbus/console"
)

func addrString(addr uint16) string {
	return fmt.Sprintf("%#02x", addr)
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from a device",
	ArgsUsage: "<address> <count>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "reg",
			Usage: "register to select before reading (write-read with repeated start)",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(2, "usage: read <address> <count>")
		}
		addr, err := parseAddr(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		count, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || count <= 0 {
			return console.Exit(2, "invalid byte count %q", c.Args().Get(1))
		}
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		dev, err := device(bus, addr)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		buf := make([]byte, count)
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		if regArg := c.String("reg"); regArg != "" {
			reg, err := parseBytes([]string{regArg})
			if err != nil {
				return console.Exit(2, "%s", console.Red(err))
			}
			err = dev.WriteRead(ctx, reg, buf, ioTimeout)
			if err != nil {
				return console.Exit(1, "read error: %s", console.Red(err))
			}
		} else if err = dev.Read(ctx, buf, ioTimeout); err != nil {
			return console.Exit(1, "read error: %s", console.Red(err))
		}
		if console.IsVerbose(ctx) {
			console.Printf("data read from %s:\n%s", addrString(addr), hex.Dump(buf))
		}
		console.Printf("%s % X\n", console.White(addrString(addr)), buf)
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write bytes to a device",
	ArgsUsage: "<address> <byte> [byte...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Exit(2, "usage: write <address> <byte> [byte...]")
		}
		addr, err := parseAddr(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		data, err := parseBytes(c.Args().Slice()[1:])
		if err != nil {
			return console.Exit(2, "%s", console.Red(err))
		}
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		dev, err := device(bus, addr)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		if console.IsVerbose(ctx) {
			console.Printf("data to write to %s:\n%s", addrString(addr), hex.Dump(data))
		}
		if err = dev.Write(ctx, data, ioTimeout); err != nil {
			return console.Exit(1, "write error: %s", console.Red(err))
		}
		console.Infof("wrote %d bytes to %s", len(data), console.Green(addrString(addr)))
		return nil
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "attempt bus recovery after a stuck transfer",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "yes",
			Usage: "skip the confirmation prompt",
		},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			answer, err := console.YesOrNo("reset the bus?")
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if answer != console.Yes {
				return nil
			}
		}
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		if err = bus.ResetBus(); err != nil {
			return console.Exit(1, "reset error: %s", console.Red(err))
		}
		console.PInfof(console.PictoRecycle, "bus recovered")
		return nil
	},
}
