package main

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cbus"
	"github.com/mklimuk/i2cbus/cmd/i2cbus/console"
)

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive bus session",
	Action: func(c *cli.Context) error {
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = bus.Deinitialize() }()
		rl, err := readline.New(console.Bold("i2c> "))
		if err != nil {
			return console.Exit(1, "could not start shell: %s", console.Red(err))
		}
		defer func() { _ = rl.Close() }()
		console.PInfof(console.PictoPlug, "bus %d connected via %s driver", c.Int("port"), c.String("driver"))
		console.Info("type help for the command list")
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		console.Debug("interactive session started")
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return console.Exit(1, "shell error: %s", console.Red(err))
			}
			args := strings.Fields(line)
			if len(args) == 0 {
				continue
			}
			if args[0] == "exit" || args[0] == "quit" {
				return nil
			}
			if err = shellExec(ctx, bus, args); err != nil {
				console.Printf("%s", console.Format(err))
			}
		}
	},
}

func shellExec(ctx context.Context, bus *i2cbus.Bus, args []string) error {
	switch args[0] {
	case "help":
		console.Print("commands: scan | probe <addr> | read <addr> <count> | write <addr> <byte...> | devices | reset | exit")
		return nil
	case "scan":
		found, err := bus.Scan(100 * time.Millisecond)
		if err != nil {
			return err
		}
		for _, addr := range found {
			console.PInfof(console.PictoPin, "device at %s", console.Green(addrString(addr)))
		}
		if len(found) == 0 {
			console.PInfof(console.PictoGhost, "no devices found")
		}
		return nil
	case "probe":
		if len(args) != 2 {
			return errors.New("usage: probe <addr>")
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		if err = bus.ProbeDevice(addr, 100*time.Millisecond); err != nil {
			return err
		}
		console.PInfof(console.PictoPin, "device at %s responds", console.Green(addrString(addr)))
		return nil
	case "read":
		if len(args) != 3 {
			return errors.New("usage: read <addr> <count>")
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		count, err := strconv.Atoi(args[2])
		if err != nil || count <= 0 {
			return errors.New("invalid byte count")
		}
		dev, err := device(bus, addr)
		if err != nil {
			return err
		}
		buf := make([]byte, count)
		if err = dev.Read(ctx, buf, ioTimeout); err != nil {
			return err
		}
		if console.IsVerbose(ctx) {
			console.Printf("data read from %s:\n%s", addrString(addr), hex.Dump(buf))
		}
		console.Printf("%s % X\n", console.White(addrString(addr)), buf)
		return nil
	case "write":
		if len(args) < 3 {
			return errors.New("usage: write <addr> <byte...>")
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		data, err := parseBytes(args[2:])
		if err != nil {
			return err
		}
		dev, err := device(bus, addr)
		if err != nil {
			return err
		}
		if err = dev.Write(ctx, data, ioTimeout); err != nil {
			return err
		}
		console.Infof("wrote %d bytes to %s", len(data), console.Green(addrString(addr)))
		return nil
	case "devices":
		for _, dev := range bus.Devices() {
			console.PInfof(console.PictoPin, "#%d %s", dev.Index(), console.White(addrString(dev.Address())))
		}
		if bus.IsEmpty() {
			console.Print("no registered devices")
		}
		return nil
	case "reset":
		answer, err := console.YesOrNo("reset the bus?")
		if err != nil {
			return err
		}
		if answer != console.Yes {
			return nil
		}
		if err = bus.ResetBus(); err != nil {
			return err
		}
		console.PInfof(console.PictoRecycle, "bus recovered")
		return nil
	}
	return errors.New("unknown command, try help")
}
