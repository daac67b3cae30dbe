package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"hpmon/hpm"
	"hpmon/host/mcu"
)

var errQuit = errors.New("quit")

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with the firmware",
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				return runShell(ctx, m, c.InOrStdin(), out)
			})
		},
	}
}

func runShell(ctx context.Context, m *mcu.MCU, in io.Reader, out io.Writer) error {
	m.GetDictionary().Print(out)
	fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")

	sh := &shell{m: m, out: out}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		err := sh.execLine(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

type shell struct {
	m   *mcu.MCU
	out io.Writer
}

// execLine runs one shell line. Words are split shell-style so quoted
// arguments survive.
func (s *shell) execLine(ctx context.Context, line string) error {
	words, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	cmd, args := words[0], words[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		s.help()
		return nil

	case "dict":
		s.m.GetDictionary().Print(s.out)
		return nil

	case "raw":
		raw := s.m.GetDictionaryRaw()
		fmt.Fprintf(s.out, "Raw dictionary data (%d bytes)\n", len(raw))
		return nil

	case "enable", "disable", "state":
		var st mcu.State
		switch cmd {
		case "enable":
			st, err = s.m.Enable(ctx)
		case "disable":
			st, err = s.m.Disable(ctx)
		default:
			st, err = s.m.State(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "enabled=%t counters=%d\n", st.Enabled, st.Counters)
		return nil

	case "read", "clear":
		counters, err := s.counters(ctx, args)
		if err != nil {
			return err
		}
		for _, c := range counters {
			if cmd == "clear" {
				err = s.m.Clear(ctx, c)
				if err == nil {
					fmt.Fprintf(s.out, "%s cleared\n", c)
				}
			} else {
				var v uint64
				if v, err = s.m.Read(ctx, c); err == nil {
					fmt.Fprintf(s.out, "%s %d\n", c, v)
				}
			}
			if err != nil {
				return err
			}
		}
		return nil

	case "event":
		// event COUNTER [set|clear MASK]
		if len(args) != 1 && len(args) != 3 {
			return errors.New("usage: event COUNTER [set|clear MASK]")
		}
		c, err := parseCounter(args[0])
		if err != nil {
			return err
		}
		var sel uint32
		if len(args) == 1 {
			sel, err = s.m.Event(ctx, c)
		} else {
			mask, perr := parseMask(args[2])
			if perr != nil {
				return perr
			}
			switch args[1] {
			case "set":
				sel, err = s.m.SetEvent(ctx, c, mask)
			case "clear":
				sel, err = s.m.ClearEvent(ctx, c, mask)
			default:
				return fmt.Errorf("event: unknown action %q", args[1])
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s 0x%08x\n", c, sel)
		return nil

	case "access":
		// access COUNTER on|off
		if len(args) != 2 {
			return errors.New("usage: access COUNTER on|off")
		}
		c, err := parseCounter(args[0])
		if err != nil {
			return err
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return s.m.SetAccess(ctx, c, on)

	case "watch":
		// watch COUNTERS [INTERVAL [SAMPLES]]
		if len(args) < 1 || len(args) > 3 {
			return errors.New("usage: watch COUNTERS [INTERVAL [SAMPLES]]")
		}
		counters, err := parseCounterList(args[0])
		if err != nil {
			return err
		}
		interval, n := 100*time.Millisecond, 10
		if len(args) > 1 {
			if interval, err = time.ParseDuration(args[1]); err != nil {
				return err
			}
		}
		if len(args) > 2 {
			if n, err = strconv.Atoi(args[2]); err != nil || n <= 0 {
				return fmt.Errorf("invalid sample count %q", args[2])
			}
		}
		return watch(ctx, s.m, s.out, counters, interval, n)

	case "times":
		d, err := s.m.Times(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "user time %v\n", d)
		return nil

	case "clock", "get_clock":
		v, err := s.m.Clock(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "clock %d\n", v)
		return nil

	case "uptime", "get_uptime":
		v, err := s.m.Uptime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "uptime %d\n", v)
		return nil

	case "config", "get_config":
		cfg, err := s.m.GetConfig(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "is_config=%t crc=%#x is_shutdown=%t\n", cfg.IsConfig, cfg.CRC, cfg.IsShutdown)
		return nil

	case "send":
		// send NAME [ARG...]
		if len(args) < 1 {
			return errors.New("usage: send NAME [ARG...]")
		}
		vals := make([]uint32, 0, len(args)-1)
		for _, arg := range args[1:] {
			v, err := strconv.ParseInt(arg, 0, 64)
			if err != nil || v < -1<<31 || v > 1<<32-1 {
				return fmt.Errorf("invalid argument %q", arg)
			}
			vals = append(vals, uint32(v))
		}
		return s.m.Send(ctx, args[0], vals...)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// counters parses the counter list argument of read and clear, defaulting
// to every counter the hart implements.
func (s *shell) counters(ctx context.Context, args []string) (counterList, error) {
	if len(args) > 1 {
		return nil, errors.New("expected one comma-separated counter list")
	}
	if len(args) == 1 {
		return parseCounterList(args[0])
	}
	st, err := s.m.State(ctx)
	if err != nil {
		return nil, err
	}
	all := make(counterList, 0, st.Counters)
	for i := 0; i < st.Counters; i++ {
		all = append(all, hpm.Counter(i))
	}
	return all, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "grant":
		return true, nil
	case "off", "0", "false", "revoke":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func (s *shell) help() {
	fmt.Fprint(s.out, `
Available commands:
  enable | disable | state          - Open, close or show the counters
  read [COUNTERS]                   - Read counters (default: all implemented)
  clear [COUNTERS]                  - Reset counters to zero
  event COUNTER [set|clear MASK]    - Show or change an event selector
  access COUNTER on|off             - Grant or revoke user-mode access
  watch COUNTERS [INTERVAL [N]]     - Sample counters periodically
  times                             - Processor time used by the firmware
  clock | uptime | config           - Firmware clock and state
  send NAME [ARG...]                - Send a raw command by name
  dict | raw                        - Print the data dictionary
  help                              - Show this help message
  quit/exit/q                       - Exit the shell

`)
}
