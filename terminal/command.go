package terminal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"memhunt/codec"
	"memhunt/hexdump"
	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/google/shlex"
)

var errNoCmd = errors.New("command not available")

type cmdFn func(ctx context.Context, t *Term, args []string) error

type command struct {
	aliases []string
	usage   string
	fn      cmdFn
	help    string
}

func (c command) match(name string) bool {
	for _, v := range c.aliases {
		if v == name {
			return true
		}
	}
	return false
}

type Commands struct {
	cmds []command
}

func NewCommands() *Commands {
	c := &Commands{}
	c.cmds = []command{
		{aliases: []string{"help", "h"}, fn: c.helpCmd, help: "list the commands"},
		{aliases: []string{"ps"}, usage: "[name]", fn: psCmd, help: "list running processes"},
		{aliases: []string{"attach", "a"}, usage: "<pid|name>", fn: attachCmd, help: "select the target process"},
		{aliases: []string{"detach"}, fn: detachCmd, help: "forget the target and its matches"},
		{aliases: []string{"type", "t"}, usage: "[int|long|float|double]", fn: typeCmd, help: "show or set the scan type"},
		{aliases: []string{"regions", "r"}, usage: "[category...]", fn: regionsCmd, help: "show or set the scanned region categories"},
		{aliases: []string{"filter"}, usage: "[path substring]", fn: filterCmd, help: "scan only regions whose path contains the text, empty to clear"},
		{aliases: []string{"scan", "s"}, usage: "[op] <value|low..high|v1;v2:stride>", fn: scanCmd, help: "first scan, or narrow the current matches"},
		{aliases: []string{"reset"}, fn: resetCmd, help: "clear matches so the next scan starts over"},
		{aliases: []string{"results", "res"}, usage: "[n]", fn: resultsCmd, help: "list the first n matches"},
		{aliases: []string{"goto", "g"}, usage: "<addr[+off]>", fn: gotoCmd, help: "make one address the only match"},
		{aliases: []string{"read", "x"}, usage: "<addr> [len]", fn: readCmd, help: "hex dump memory"},
		{aliases: []string{"write", "w"}, usage: "<addr> <value>", fn: writeCmd, help: "write one value of the scan type"},
		{aliases: []string{"add"}, usage: "[index...]", fn: addCmd, help: "copy matches into the address editor"},
		{aliases: []string{"list", "l"}, fn: listCmd, help: "list the address editor"},
		{aliases: []string{"set"}, usage: "<value> [index...]", fn: setCmd, help: "write a value to editor entries"},
		{aliases: []string{"freeze", "f"}, usage: "<value> [index...]", fn: freezeCmd, help: "keep rewriting a value to editor entries"},
		{aliases: []string{"unfreeze", "uf"}, usage: "[index...]", fn: unfreezeCmd, help: "stop freezing editor entries"},
		{aliases: []string{"remove", "rm"}, usage: "[index...]", fn: removeCmd, help: "drop editor entries"},
		{aliases: []string{"frozen"}, fn: frozenCmd, help: "list running freezes"},
		{aliases: []string{"save"}, usage: "[path]", fn: saveCmd, help: "export the address editor"},
		{aliases: []string{"load"}, usage: "[path]", fn: loadCmd, help: "import an address table"},
		{aliases: []string{"exit", "quit", "q"}, fn: exitCmd, help: "leave memhunt"},
	}
	return c
}

func (c *Commands) Find(name string) command {
	for _, v := range c.cmds {
		if v.match(name) {
			return v
		}
	}
	return command{aliases: []string{"nocmd"}, fn: noCmdAvailable}
}

// Call splits line shell-style and runs the named command
func (c *Commands) Call(ctx context.Context, line string, t *Term) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	return c.Find(args[0]).fn(ctx, t, args[1:])
}

func (c *Commands) helpCmd(ctx context.Context, t *Term, args []string) error {
	fmt.Fprintln(t.out, "The following commands are available:")
	w := tabwriter.NewWriter(t.out, 0, 8, 1, ' ', 0)
	for _, cmd := range c.cmds {
		name := strings.Join(cmd.aliases, ", ")
		fmt.Fprintf(w, "    %s\t%s\t%s\n", name, cmd.usage, cmd.help)
	}
	return w.Flush()
}

type ExitRequestError struct{}

func (ExitRequestError) Error() string { return "" }

func exitCmd(ctx context.Context, t *Term, args []string) error {
	return ExitRequestError{}
}

func noCmdAvailable(ctx context.Context, t *Term, args []string) error {
	return errNoCmd
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected at least %d arguments, got %d", n, len(args))
	}
	return nil
}

func psCmd(ctx context.Context, t *Term, args []string) error {
	dir := t.sess.Directory()

	var (
		list []process.ProcessInfo
		err  error
	)
	if len(args) > 0 {
		list, err = process.FindByName(dir, args[0])
	} else {
		list, err = dir.Processes()
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(t.out, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PID\tRSS KB\t NAME")
	for _, p := range list {
		fmt.Fprintf(w, "%d\t%d\t %s\n", p.PID, p.MemoryKB, p.Name)
	}
	return w.Flush()
}

func attachCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		found, err := process.FindByName(t.sess.Directory(), args[0])
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no process named %q", args[0])
		}
		pid = int(found[0].PID)
	}

	if err := t.sess.Attach(ctx, process.ProcessID(pid)); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "attached to %d\n", pid)
	return nil
}

func detachCmd(ctx context.Context, t *Term, args []string) error {
	t.sess.Detach()
	return nil
}

func typeCmd(ctx context.Context, t *Term, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(t.out, t.sess.ValueType())
		return nil
	}
	vt, err := codec.ParseValueType(args[0])
	if err != nil {
		return err
	}
	return t.sess.SetValueType(vt)
}

func regionsCmd(ctx context.Context, t *Term, args []string) error {
	if len(args) > 0 {
		categories := make([]memory_map.Category, 0, len(args))
		for _, name := range args {
			c, err := memory_map.ParseCategory(name)
			if err != nil {
				return err
			}
			categories = append(categories, c)
		}
		t.sess.SetRegions(categories, "")
	}

	regions, err := t.sess.Regions(ctx)
	if err != nil {
		return err
	}

	var total uint64
	for _, r := range regions {
		fmt.Fprintln(t.out, r.String())
		total += r.Size()
	}
	fmt.Fprintf(t.out, "%d regions, %d KB\n", len(regions), total/1024)
	return nil
}

func filterCmd(ctx context.Context, t *Term, args []string) error {
	categories, err := t.config().Categories()
	if err != nil {
		return err
	}
	t.sess.SetRegions(categories, strings.Join(args, " "))
	return nil
}

func scanCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}

	op := codec.OpEqual
	criteria := args[0]
	if len(args) > 1 {
		parsed, err := codec.ParseOperator(args[0])
		if err != nil {
			return err
		}
		op, criteria = parsed, args[1]
	}

	res, err := t.sess.Scan(ctx, criteria, op)
	if err != nil {
		return err
	}

	pass := "next"
	if res.FirstPass {
		pass = "first"
	}
	fmt.Fprintf(t.out, "%s %s scan: %d matches\n", pass, res.Kind, res.Count)
	if res.Count > 0 && res.Count <= t.config().Scan.ResultLimit {
		return resultsCmd(ctx, t, nil)
	}
	return nil
}

func resetCmd(ctx context.Context, t *Term, args []string) error {
	t.sess.Reset()
	return nil
}

func resultsCmd(ctx context.Context, t *Term, args []string) error {
	limit := t.config().Scan.ResultLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		limit = n
	}

	w := tabwriter.NewWriter(t.out, 0, 8, 2, ' ', 0)
	for i, m := range t.sess.Results(limit) {
		region := ""
		if m.Region != nil {
			region = m.Region.Category.String() + " " + m.Region.Path
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, m.Address.ToString(), m.Value, region)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if n := t.sess.Matches().Len(); n > limit && limit > 0 {
		fmt.Fprintf(t.out, "... %d more\n", n-limit)
	}
	return nil
}

func gotoCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	m, err := t.sess.Goto(ctx, strings.Join(args, ""))
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s = %s\n", m.Address.ToString(), m.Value)
	return nil
}

func readCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	addr, err := process.ParseAddress(args[0])
	if err != nil {
		return err
	}
	length := uint64(64)
	if len(args) > 1 {
		if length, err = strconv.ParseUint(args[1], 0, 32); err != nil {
			return err
		}
	}

	pid := t.sess.PID()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}
	data, err := t.sess.Gateway().Read(ctx, pid, addr, length)
	if len(data) == 0 && err != nil {
		return err
	}

	opts := hexdump.DefaultOptions(uint64(addr))
	opts.Color = t.color
	opts.Regions, _ = t.sess.Gateway().Regions(ctx, pid)
	hexdump.Dump(t.out, data, opts)
	return err
}

func writeCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	addr, err := process.ParseAddress(args[0])
	if err != nil {
		return err
	}
	return t.sess.Write(ctx, addr, args[1])
}

// resolve turns position arguments into ids from list. No arguments selects
// everything, which the callers express as an empty id list.
func resolve(args []string, ids []string) ([]string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "all") {
		return nil, nil
	}

	out := make([]string, 0, len(args))
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 || i >= len(ids) {
			return nil, fmt.Errorf("no entry %q", a)
		}
		out = append(out, ids[i])
	}
	return out, nil
}

func (t *Term) matchIDs() []string {
	matches := t.sess.Results(0)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}

func (t *Term) entryIDs() []string {
	entries := t.sess.Editor().Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Match.ID
	}
	return ids
}

func addCmd(ctx context.Context, t *Term, args []string) error {
	ids, err := resolve(args, t.matchIDs())
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "added %d\n", t.sess.AddToEditor(ids...))
	return nil
}

func listCmd(ctx context.Context, t *Term, args []string) error {
	w := tabwriter.NewWriter(t.out, 0, 8, 2, ' ', 0)
	for i, e := range t.sess.Editor().Entries() {
		current := t.sess.Gateway().ReadValue(ctx, e.Match.PID, e.Match.Address, e.Match.Type)
		state := ""
		if e.IsFrozen {
			state = "frozen at " + e.FrozenValue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, e.Match.Address.ToString(), e.Match.Type, current, state)
	}
	return w.Flush()
}

func setCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	ids, err := resolve(args[1:], t.entryIDs())
	if err != nil {
		return err
	}
	res, err := t.sess.Editor().WriteAll(ctx, args[0], ids...)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "wrote %d\n", res.Succeeded)
	return res.Err()
}

func freezeCmd(ctx context.Context, t *Term, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	ids, err := resolve(args[1:], t.entryIDs())
	if err != nil {
		return err
	}
	res, err := t.sess.Editor().FreezeAll(args[0], ids...)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "froze %d\n", res.Succeeded)
	return res.Err()
}

func unfreezeCmd(ctx context.Context, t *Term, args []string) error {
	ids, err := resolve(args, t.entryIDs())
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "unfroze %d\n", t.sess.Editor().UnfreezeAll(ids...))
	return nil
}

func removeCmd(ctx context.Context, t *Term, args []string) error {
	ids, err := resolve(args, t.entryIDs())
	if err != nil {
		return err
	}
	ed := t.sess.Editor()
	if ids == nil {
		fmt.Fprintf(t.out, "removed %d\n", ed.Clear())
		return nil
	}
	fmt.Fprintf(t.out, "removed %d\n", ed.Remove(ids...))
	return nil
}

func frozenCmd(ctx context.Context, t *Term, args []string) error {
	w := tabwriter.NewWriter(t.out, 0, 8, 2, ' ', 0)
	for _, e := range t.sess.Freezer().ListActive() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", e.ID, e.PID, e.Address.ToString(), e.Type, e.Value, e.Interval)
	}
	return w.Flush()
}

func tablePath(t *Term, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return t.config().Table.Path
}

func saveCmd(ctx context.Context, t *Term, args []string) error {
	path := tablePath(t, args)
	if err := t.sess.Editor().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "saved %s\n", path)
	return nil
}

func loadCmd(ctx context.Context, t *Term, args []string) error {
	n, err := t.sess.Editor().Load(tablePath(t, args))
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "loaded %d\n", n)
	return nil
}
