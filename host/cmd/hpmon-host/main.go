package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hpmon/host/emulator"
	"hpmon/host/mcu"
	"hpmon/host/serial"
	"hpmon/protocol"
)

// Build metadata injected via ldflags.
var (
	version = ""
	commit  = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// connOptions selects the firmware to talk to. They are persistent flags
// shared by every subcommand.
type connOptions struct {
	Device  string
	Baud    int
	Timeout time.Duration
	Verbose bool

	Emulate          bool
	EmulateCounters  int
	EmulateXLEN      int
	EmulateTrap      bool
	EmulateNoAtomics bool
	EmulatePerf      bool
}

func (o *connOptions) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Device, "device", "d", "/dev/ttyUSB0", "serial device of the firmware")
	fs.IntVarP(&o.Baud, "baud", "b", 250000, "baud rate (ignored for USB CDC)")
	fs.DurationVar(&o.Timeout, "timeout", time.Second, "how long to wait for each response")
	fs.BoolVarP(&o.Verbose, "verbose", "v", false, "trace protocol traffic on stderr")

	fs.BoolVar(&o.Emulate, "emulate", false, "run the firmware in-process on a simulated hart")
	fs.IntVar(&o.EmulateCounters, "emulate-counters", 8, "counters the simulated hart implements (0..32)")
	fs.IntVar(&o.EmulateXLEN, "emulate-xlen", 32, "register width of the simulated hart (32 or 64)")
	fs.BoolVar(&o.EmulateTrap, "emulate-trap", false, "simulated counter-enable register traps")
	fs.BoolVar(&o.EmulateNoAtomics, "emulate-no-atomics", false, "simulated hart lacks the A extension")
	fs.BoolVar(&o.EmulatePerf, "emulate-perf", false, "drive simulated mcycle/minstret from this process's hardware counters")
}

// dial connects to the firmware and downloads its dictionary. The returned
// function releases everything dial opened.
func (o *connOptions) dial(ctx context.Context) (*mcu.MCU, func(), error) {
	var trace *log.Logger
	if o.Verbose {
		trace = log.New(os.Stderr, "hpmon: ", log.Lmicroseconds)
	}
	m := mcu.NewMCU(mcu.WithTrace(trace), mcu.WithResponseTimeout(o.Timeout))

	var release func()
	if o.Emulate {
		cfg := emulator.Config{
			Counters:  o.EmulateCounters,
			XLEN:      o.EmulateXLEN,
			Trap:      o.EmulateTrap,
			NoAtomics: o.EmulateNoAtomics,
			Perf:      o.EmulatePerf,
		}
		if o.Verbose {
			cfg.Log = log.New(os.Stderr, "firmware: ", log.Lmicroseconds)
		}
		e, err := emulator.Start(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := m.ConnectPort(e.Port()); err != nil {
			e.Close()
			return nil, nil, err
		}
		release = func() {
			m.Close()
			e.Close()
		}
	} else {
		cfg := serial.DefaultConfig(o.Device)
		cfg.Baud = o.Baud
		if err := m.ConnectWithConfig(cfg); err != nil {
			return nil, nil, err
		}
		release = func() { m.Close() }
	}

	if err := m.RetrieveDictionary(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("retrieve dictionary: %w", err)
	}
	return m, release, nil
}

// app carries state shared by the subcommands.
type app struct {
	conn connOptions
}

// withMCU runs fn against a connected client.
func (a *app) withMCU(c *cobra.Command, fn func(ctx context.Context, m *mcu.MCU, out io.Writer) error) error {
	ctx := c.Context()
	m, release, err := a.conn.dial(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, m, c.OutOrStdout())
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "hpmon-host",
		Short: "Drive RISC-V hardware performance counters over the Klipper protocol",
		Long: `hpmon-host talks to counter firmware on a RISC-V board (or to an in-process
emulator with --emulate). It probes which counters the hart implements, programs
event selectors, grants user-mode access, and reads or periodically samples
counter values.`,
		SilenceUsage: true,
	}
	a.conn.register(root.PersistentFlags())

	root.AddCommand(a.probeCmd())
	root.AddCommand(a.readCmd())
	root.AddCommand(a.eventCmd())
	root.AddCommand(a.accessCmd())
	root.AddCommand(a.clearCmd())
	root.AddCommand(a.watchCmd())
	root.AddCommand(a.profileCmd())
	root.AddCommand(a.timesCmd())
	root.AddCommand(a.shellCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tool and protocol version",
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()
			if version != "" {
				fmt.Fprintf(out, "hpmon-host %s", version)
				if commit != "" {
					fmt.Fprintf(out, " (%s)", commit)
				}
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, "hpmon-host (dev)")
			}
			fmt.Fprintf(out, "Protocol: %s\n", protocol.Version)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
