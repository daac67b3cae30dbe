package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/leodido/structcli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hpmon/hpm"
	"hpmon/host/config"
	"hpmon/host/mcu"
)

// ensureEnabled enables the monitor unless it already is.
func ensureEnabled(ctx context.Context, m *mcu.MCU) (mcu.State, error) {
	st, err := m.State(ctx)
	if err != nil {
		return st, err
	}
	if st.Enabled {
		return st, nil
	}
	return m.Enable(ctx)
}

func xlen(m *mcu.MCU) string {
	if v, ok := m.GetDictionary().Constant("HPM_XLEN"); ok {
		return v
	}
	return "?"
}

// ProbeOptions defines flags for the probe subcommand.
type ProbeOptions struct {
	Keep bool `flag:"keep" flagshort:"k" flagdescr:"Leave the counters enabled"`
	JSON bool `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *ProbeOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (a *app) probeCmd() *cobra.Command {
	opts := &ProbeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Enable the counters and report how many the hart implements",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				before, err := m.State(ctx)
				if err != nil {
					return err
				}
				st := before
				if !st.Enabled {
					if st, err = m.Enable(ctx); err != nil {
						return err
					}
				}

				if opts.JSON {
					if err := printJSON(out, map[string]any{
						"counters": st.Counters,
						"xlen":     xlen(m),
					}); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "Counters: %d\n", st.Counters)
					fmt.Fprintf(out, "XLEN:     %s\n", xlen(m))
					for i := 0; i < st.Counters; i++ {
						fmt.Fprintf(out, "  %2d %s\n", i, hpm.Counter(i))
					}
				}

				if !opts.Keep && !before.Enabled {
					_, err = m.Disable(ctx)
				}
				return err
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// ReadOptions defines flags for the read subcommand.
type ReadOptions struct {
	Counters counterList `flag:"counter" flagshort:"c" flagdescr:"Counters to read (comma separated)" flagcustom:"true"`
	JSON     bool        `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *ReadOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *ReadOptions) DefineCounters(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	return defineCounterList(descr, fieldValue)
}

func (o *ReadOptions) DecodeCounters(input any) (any, error) {
	return decodeCounterList(input)
}

func (a *app) readCmd() *cobra.Command {
	opts := &ReadOptions{}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read counter values",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				st, err := ensureEnabled(ctx, m)
				if err != nil {
					return err
				}
				counters := opts.Counters
				if len(counters) == 0 {
					for i := 0; i < st.Counters; i++ {
						counters = append(counters, hpm.Counter(i))
					}
				}

				values := make(map[string]any, len(counters))
				for _, ctr := range counters {
					v, err := m.Read(ctx, ctr)
					if errors.Is(err, mcu.ErrNotOK) {
						values[ctr.String()] = nil
						if !opts.JSON {
							fmt.Fprintf(out, "%-8s unavailable\n", ctr)
						}
						continue
					}
					if err != nil {
						return err
					}
					values[ctr.String()] = v
					if !opts.JSON {
						fmt.Fprintf(out, "%-8s %d\n", ctr, v)
					}
				}
				if opts.JSON {
					return printJSON(out, values)
				}
				return nil
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// EventOptions defines flags for the event subcommand.
type EventOptions struct {
	Counters counterList `flag:"counter" flagshort:"c" flagdescr:"Counters to program (comma separated)" flagrequired:"true" flagcustom:"true"`
	Set      string      `flag:"set" flagshort:"s" flagdescr:"Selector bits to set (decimal, 0x or 0b)"`
	Clear    string      `flag:"clear" flagdescr:"Selector bits to clear (decimal, 0x or 0b)"`
}

func (o *EventOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *EventOptions) DefineCounters(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	return defineCounterList(descr, fieldValue)
}

func (o *EventOptions) DecodeCounters(input any) (any, error) {
	return decodeCounterList(input)
}

func (a *app) eventCmd() *cobra.Command {
	opts := &EventOptions{}

	cmd := &cobra.Command{
		Use:   "event",
		Short: "Show or change counter event selectors",
		Long: `Show or change the event selector of programmable counters (hpm3..hpm31).
Bits 7:0 select the event class, bits XLEN-1:8 the events within it. --clear
is applied before --set. With neither, the current selector is printed.`,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			var set, clear uint32
			var err error
			if opts.Set != "" {
				if set, err = parseMask(opts.Set); err != nil {
					return err
				}
			}
			if opts.Clear != "" {
				if clear, err = parseMask(opts.Clear); err != nil {
					return err
				}
			}

			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				if _, err := ensureEnabled(ctx, m); err != nil {
					return err
				}
				for _, ctr := range opts.Counters {
					sel, err := m.Event(ctx, ctr)
					if clear != 0 && err == nil {
						sel, err = m.ClearEvent(ctx, ctr, clear)
					}
					if set != 0 && err == nil {
						sel, err = m.SetEvent(ctx, ctr, set)
					}
					if err != nil {
						return err
					}
					class, events := hpm.SplitEventMask(sel)
					fmt.Fprintf(out, "%-8s 0x%08x class=%d events=%#x\n", ctr, sel, class, events>>hpm.EventShift)
				}
				return nil
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// AccessOptions defines flags for the access subcommand.
type AccessOptions struct {
	Counters counterList `flag:"counter" flagshort:"c" flagdescr:"Counters to change (comma separated)" flagrequired:"true" flagcustom:"true"`
	Revoke   bool        `flag:"revoke" flagshort:"r" flagdescr:"Revoke instead of grant lower-privilege access"`
}

func (o *AccessOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *AccessOptions) DefineCounters(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	return defineCounterList(descr, fieldValue)
}

func (o *AccessOptions) DecodeCounters(input any) (any, error) {
	return decodeCounterList(input)
}

func (a *app) accessCmd() *cobra.Command {
	opts := &AccessOptions{}

	cmd := &cobra.Command{
		Use:   "access",
		Short: "Grant or revoke lower-privilege read access to counters",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				if _, err := ensureEnabled(ctx, m); err != nil {
					return err
				}
				verb := "granted"
				if opts.Revoke {
					verb = "revoked"
				}
				for _, ctr := range opts.Counters {
					if err := m.SetAccess(ctx, ctr, !opts.Revoke); err != nil {
						return err
					}
					fmt.Fprintf(out, "%-8s access %s\n", ctr, verb)
				}
				return nil
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// ClearOptions defines flags for the clear subcommand.
type ClearOptions struct {
	Counters counterList `flag:"counter" flagshort:"c" flagdescr:"Counters to reset (comma separated)" flagrequired:"true" flagcustom:"true"`
}

func (o *ClearOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *ClearOptions) DefineCounters(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	return defineCounterList(descr, fieldValue)
}

func (o *ClearOptions) DecodeCounters(input any) (any, error) {
	return decodeCounterList(input)
}

func (a *app) clearCmd() *cobra.Command {
	opts := &ClearOptions{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset counters to zero",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				if _, err := ensureEnabled(ctx, m); err != nil {
					return err
				}
				for _, ctr := range opts.Counters {
					if err := m.Clear(ctx, ctr); err != nil {
						return err
					}
					fmt.Fprintf(out, "%-8s cleared\n", ctr)
				}
				return nil
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// WatchOptions defines flags for the watch subcommand.
type WatchOptions struct {
	Counters counterList   `flag:"counter" flagshort:"c" flagdescr:"Counters to sample (comma separated)" flagrequired:"true" flagcustom:"true"`
	Interval time.Duration `flag:"interval" flagshort:"i" flagdescr:"Sampling period"`
	Samples  int           `flag:"samples" flagshort:"n" flagdescr:"Samples per counter; 0 runs until interrupted"`
}

func (o *WatchOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *WatchOptions) DefineCounters(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	return defineCounterList(descr, fieldValue)
}

func (o *WatchOptions) DecodeCounters(input any) (any, error) {
	return decodeCounterList(input)
}

func (a *app) watchCmd() *cobra.Command {
	opts := &WatchOptions{Interval: 100 * time.Millisecond, Samples: 10}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sample counters periodically on the firmware clock",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				if _, err := ensureEnabled(ctx, m); err != nil {
					return err
				}
				return watch(ctx, m, out, opts.Counters, opts.Interval, opts.Samples)
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// watch samples counters until each produced n samples (forever when n is
// zero) or ctx ends, printing the value and its change since the previous
// sample.
func watch(ctx context.Context, m *mcu.MCU, out io.Writer, counters counterList, interval time.Duration, n int) error {
	if len(counters) == 0 {
		return errors.New("no counters to watch")
	}

	started := make([]hpm.Counter, 0, len(counters))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for _, ctr := range started {
			m.StopWatch(stopCtx, ctr)
		}
	}()

	last := make(map[hpm.Counter]uint64, len(counters))
	seen := make(map[hpm.Counter]int, len(counters))
	for _, ctr := range counters {
		v, err := m.Watch(ctx, ctr, interval)
		if err != nil {
			return err
		}
		started = append(started, ctr)
		last[ctr] = v
		seen[ctr] = 0
	}

	done := 0
	for n == 0 || done < len(seen) {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case s := <-m.Samples():
			count, ok := seen[s.Counter]
			if !ok || (n > 0 && count >= n) {
				continue
			}
			fmt.Fprintf(out, "%10d %-8s %20d %+d\n", s.Clock, s.Counter, s.Value, int64(s.Value-last[s.Counter]))
			last[s.Counter] = s.Value
			seen[s.Counter] = count + 1
			if n > 0 && count+1 == n {
				done++
			}
		}
	}
	if d := m.DroppedSamples(); d > 0 {
		fmt.Fprintf(out, "(%d samples dropped)\n", d)
	}
	return nil
}

// ProfileOptions defines flags for the profile subcommand.
type ProfileOptions struct {
	File string `flag:"file" flagshort:"f" flagdescr:"JSON counter profile; the built-in default when empty"`
}

func (o *ProfileOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (a *app) profileCmd() *cobra.Command {
	opts := &ProfileOptions{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Program counters from a profile and sample them",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			p := config.DefaultProfile()
			if opts.File != "" {
				var err error
				if p, err = config.LoadProfileFile(opts.File); err != nil {
					return err
				}
			}

			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				counters, err := applyProfile(ctx, m, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Profile %s: %d counters every %v\n", p.Name, len(counters), p.Interval())
				return watch(ctx, m, out, counters, p.Interval(), p.Samples)
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// applyProfile enables the monitor and programs, clears and opens every
// counter of p.
func applyProfile(ctx context.Context, m *mcu.MCU, p *config.Profile) (counterList, error) {
	if _, err := ensureEnabled(ctx, m); err != nil {
		return nil, err
	}

	counters := make(counterList, 0, len(p.Counters))
	for _, cc := range p.Counters {
		ctr := cc.ID()
		if !ctr.Fixed() {
			cur, err := m.Event(ctx, ctr)
			if err != nil {
				return nil, err
			}
			if cur != 0 {
				if _, err := m.ClearEvent(ctx, ctr, cur); err != nil {
					return nil, err
				}
			}
			if sel := cc.Selector(); sel != 0 {
				if _, err := m.SetEvent(ctx, ctr, sel); err != nil {
					return nil, err
				}
			}
		}
		if ctr != hpm.Time {
			if err := m.Clear(ctx, ctr); err != nil {
				return nil, err
			}
		}
		if cc.UserAccess {
			if err := m.SetAccess(ctx, ctr, true); err != nil {
				return nil, err
			}
		}
		counters = append(counters, ctr)
	}
	return counters, nil
}

func (a *app) timesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "times",
		Short: "Show the processor time the firmware has used since reset",
		RunE: func(c *cobra.Command, args []string) error {
			return a.withMCU(c, func(ctx context.Context, m *mcu.MCU, out io.Writer) error {
				d, err := m.Times(ctx)
				if err != nil {
					return err
				}
				up, err := m.Uptime(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "User time: %v\n", d)
				fmt.Fprintf(out, "Uptime:    %d ticks\n", up)
				return nil
			})
		},
	}
}
