package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"memhunt/codec"
	"memhunt/config"
	"memhunt/editor"
	"memhunt/freeze"
	"memhunt/hexdump"
	"memhunt/process"
	"memhunt/process/memory_map"
	"memhunt/process_blob"
	"memhunt/terminal"

	"github.com/urfave/cli"
)

var typeFlag = cli.StringFlag{
	Name:  "type, t",
	Usage: "value type: int, long, float or double (default from config)",
}

func checkArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("%s needs %d arguments: %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return nil
}

// valueType is --type, or the configured scan type
func (e *env) valueType(c *cli.Context) (codec.ValueType, error) {
	if tag := c.String("type"); tag != "" {
		return codec.ParseValueType(tag)
	}
	return e.cfg.ValueType()
}

var psCommand = cli.Command{
	Name:      "ps",
	Usage:     "list running processes",
	ArgsUsage: "[name]",
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}

		var list []process.ProcessInfo
		if name := c.Args().First(); name != "" {
			list, err = process.FindByName(e.dir, name)
		} else {
			list, err = e.dir.Processes()
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(e.out, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tRSS KB\tNAME")
		for _, p := range list {
			fmt.Fprintf(w, "%d\t%d\t%s\n", p.PID, p.MemoryKB, p.Name)
		}
		return w.Flush()
	},
}

var mapsCommand = cli.Command{
	Name:      "maps",
	Usage:     "show the memory regions of a process",
	ArgsUsage: "<pid|name>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all, a", Usage: "every region, not only the configured categories"},
	},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 1); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		sess, err := e.session(ctx, c.Args().First())
		if err != nil {
			return err
		}
		defer sess.Close()

		var regions []memory_map.MemoryRegion
		if c.Bool("all") {
			regions, err = e.gw.Regions(ctx, sess.PID())
		} else {
			regions, err = sess.Regions(ctx)
		}
		if err != nil {
			return err
		}

		var total uint64
		for _, r := range regions {
			fmt.Fprintln(e.out, r.String())
			total += r.Size()
		}
		fmt.Fprintf(e.out, "%d regions, %d KB\n", len(regions), total/1024)
		return nil
	},
}

// parseOffsets reads a comma separated list of pointer chain offsets
func parseOffsets(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("chain offset %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

var readCommand = cli.Command{
	Name:      "read",
	Usage:     "hex dump memory, optionally following a pointer chain",
	ArgsUsage: "<pid|name> <addr>",
	Flags: []cli.Flag{
		cli.UintFlag{Name: "len, n", Value: 128, Usage: "bytes to read"},
		cli.StringFlag{Name: "chain", Usage: "comma separated offsets; every one but the last is dereferenced"},
		typeFlag,
	},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 2); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		pid, err := e.resolvePID(c.Args().Get(0))
		if err != nil {
			return err
		}
		addr, err := process.ParseAddress(c.Args().Get(1))
		if err != nil {
			return err
		}
		offsets, err := parseOffsets(c.String("chain"))
		if err != nil {
			return err
		}
		if len(offsets) > 0 {
			if addr, err = e.gw.ResolvePointerChain(ctx, pid, addr, offsets...); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "chain resolves to %s\n", addr.ToString())
		}

		data, readErr := e.gw.Read(ctx, pid, addr, uint64(c.Uint("len")))
		if len(data) == 0 {
			return readErr
		}

		if c.String("type") != "" {
			t, err := e.valueType(c)
			if err != nil {
				return err
			}
			if len(data) >= t.Size() {
				fmt.Fprintf(e.out, "%s %s = %s\n", t, addr.ToString(), codec.Decode(data[:t.Size()], t))
			}
		}

		opts := hexdump.DefaultOptions(uint64(addr))
		opts.Color = e.color
		opts.Regions, _ = e.gw.Regions(ctx, pid)
		hexdump.Dump(e.out, data, opts)
		return readErr
	},
}

var writeCommand = cli.Command{
	Name:      "write",
	Usage:     "write one typed value",
	ArgsUsage: "<pid|name> <addr> <value>",
	Flags:     []cli.Flag{typeFlag},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 3); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		pid, err := e.resolvePID(c.Args().Get(0))
		if err != nil {
			return err
		}
		addr, err := process.ParseAddress(c.Args().Get(1))
		if err != nil {
			return err
		}
		t, err := e.valueType(c)
		if err != nil {
			return err
		}
		return e.gw.Write(ctx, pid, addr, t, c.Args().Get(2))
	},
}

var scanCommand = cli.Command{
	Name:      "scan",
	Usage:     "scan once and print the matches",
	ArgsUsage: "<pid|name> <value|low..high|v1;v2:stride>",
	Flags: []cli.Flag{
		typeFlag,
		cli.StringFlag{Name: "op, o", Value: "=", Usage: "comparison: = != > < >= <="},
		cli.IntFlag{Name: "limit, l", Usage: "matches to print (default from config)"},
		cli.StringFlag{Name: "filter, f", Usage: "only regions whose path contains this"},
	},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 2); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		op, err := codec.ParseOperator(c.String("op"))
		if err != nil {
			return err
		}
		t, err := e.valueType(c)
		if err != nil {
			return err
		}

		sess, err := e.session(ctx, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.SetValueType(t); err != nil {
			return err
		}
		if f := c.String("filter"); f != "" {
			categories, err := e.cfg.Categories()
			if err != nil {
				return err
			}
			sess.SetRegions(categories, f)
		}

		start := time.Now()
		res, err := sess.Scan(ctx, c.Args().Get(1), op)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s scan found %d matches in %s\n", res.Kind, res.Count, time.Since(start).Round(time.Millisecond))

		limit := c.Int("limit")
		if limit == 0 {
			limit = e.cfg.Scan.ResultLimit
		}
		w := tabwriter.NewWriter(e.out, 0, 8, 2, ' ', 0)
		for _, m := range sess.Results(limit) {
			path := ""
			if m.Region != nil {
				path = m.Region.Path
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Address.ToString(), m.Value, path)
		}
		return w.Flush()
	},
}

var freezeCommand = cli.Command{
	Name:      "freeze",
	Usage:     "keep writing a value until interrupted",
	ArgsUsage: "<pid|name> <addr> <value>",
	Flags: []cli.Flag{
		typeFlag,
		cli.DurationFlag{Name: "for", Usage: "stop after this long instead of waiting for Ctrl-C"},
	},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 3); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()
		if d := c.Duration("for"); d > 0 {
			var stop context.CancelFunc
			ctx, stop = context.WithTimeout(ctx, d)
			defer stop()
		}

		pid, err := e.resolvePID(c.Args().Get(0))
		if err != nil {
			return err
		}
		addr, err := process.ParseAddress(c.Args().Get(1))
		if err != nil {
			return err
		}
		t, err := e.valueType(c)
		if err != nil {
			return err
		}

		fz := freeze.New(e.gw,
			freeze.WithMaxFailures(e.cfg.Freeze.MaxFailures),
			freeze.WithDefaultInterval(e.cfg.FreezeInterval()))
		defer fz.Close()

		id, err := fz.Start(pid, addr, c.Args().Get(2), t, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "freezing %s at %s\n", addr.ToString(), c.Args().Get(2))

		ticker := time.NewTicker(e.cfg.FreezeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if !fz.IsActive(id) {
					return fmt.Errorf("freeze of %s stopped after repeated write failures", addr.ToString())
				}
			}
		}
	},
}

var dumpCommand = cli.Command{
	Name:      "dump",
	Usage:     "save process memory to a directory for offline scanning with --dump",
	ArgsUsage: "<pid|name> <dir>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all, a", Usage: "every readable region, not only the configured categories"},
		cli.Uint64Flag{Name: "max-region", Usage: "skip regions larger than this many bytes (default from config)"},
	},
	Action: func(c *cli.Context) error {
		if err := checkArgs(c, 2); err != nil {
			return err
		}
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		sess, err := e.session(ctx, c.Args().Get(0))
		if err != nil {
			return err
		}
		defer sess.Close()
		pid := sess.PID()

		var regions []memory_map.MemoryRegion
		if c.Bool("all") {
			regions, err = e.gw.Regions(ctx, pid)
		} else {
			regions, err = sess.Regions(ctx)
		}
		if err != nil {
			return err
		}

		name := strconv.Itoa(int(pid))
		if list, err := e.dir.Processes(); err == nil {
			for _, p := range list {
				if p.PID == pid {
					name = p.Name
				}
			}
		}

		maxRegion := c.Uint64("max-region")
		if maxRegion == 0 {
			maxRegion = e.cfg.Dump.MaxRegionSize
		}

		stats, err := process_blob.Save(e.mem, pid, name, regions, c.Args().Get(1), maxRegion)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "saved %d regions (%d not readable, %d too large, %d read errors)\n",
			stats.Saved, stats.SkippedPerm, stats.SkippedSize, stats.ReadErrors)
		return nil
	},
}

var tableCommand = cli.Command{
	Name:      "table",
	Usage:     "show a saved address table with live values",
	ArgsUsage: "[path]",
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := interruptible()
		defer cancel()

		path := c.Args().First()
		if path == "" {
			path = e.cfg.Table.Path
		}

		fz := freeze.New(e.gw)
		defer fz.Close()
		ed := editor.New(e.gw, fz, 0)
		if _, err := ed.Load(path); err != nil {
			return err
		}

		w := tabwriter.NewWriter(e.out, 0, 8, 2, ' ', 0)
		for _, entry := range ed.Entries() {
			m := entry.Match
			current := "?"
			if e.dir.IsRunning(m.PID) {
				current = e.gw.ReadValue(ctx, m.PID, m.Address, m.Type).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", m.PID, m.Address.ToString(), m.Type, m.Value, current)
		}
		return w.Flush()
	},
}

var shellCommand = cli.Command{
	Name:      "shell",
	Usage:     "interactive session",
	ArgsUsage: "[pid|name]",
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess, err := e.session(ctx, c.Args().First())
		if err != nil {
			return err
		}
		defer sess.Close()

		term := terminal.New(sess, e.cfg, e.out, e.color)
		if w, err := config.Watch(c.GlobalString("config")); err == nil {
			defer w.Close()
			term.Watch(ctx, w)
		} else if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(e.out, "config changes will not be picked up:", err)
		}

		return term.Run(ctx)
	},
}
