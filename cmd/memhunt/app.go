package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"memhunt/config"
	"memhunt/gateway"
	"memhunt/process"
	"memhunt/process_blob"
	"memhunt/process_shell"
	"memhunt/session"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli"
)

// stdout is where command output goes
var stdout io.Writer = colorable.NewColorableStdout()

const usage = `find, narrow, edit and freeze values in the memory of a running process`

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "memhunt"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: config.Path(),
			Usage: "config file (toml, yaml or json)",
		},
		cli.StringFlag{
			Name:  "backend, b",
			Usage: "memory access: vm (process_vm_readv) or shell (dd through su); overrides the config",
		},
		cli.StringFlag{
			Name:  "dump, d",
			Usage: "work on a saved dump directory instead of a live process",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "plain output",
		},
	}
	app.Commands = []cli.Command{
		psCommand,
		mapsCommand,
		readCommand,
		writeCommand,
		scanCommand,
		freezeCommand,
		dumpCommand,
		tableCommand,
		shellCommand,
	}
	return app
}

// env is everything a command needs, built from the global flags
type env struct {
	cfg   *config.Config
	mem   process.Memory
	dir   process.Directory
	gw    *gateway.Gateway
	out   io.Writer
	color bool
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if b := c.GlobalString("backend"); b != "" {
		cfg.Access.Backend = b
	}

	e := &env{cfg: cfg, out: stdout}
	fd := os.Stdout.Fd()
	e.color = !c.GlobalBool("no-color") && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))

	switch {
	case c.GlobalString("dump") != "":
		blob, err := process_blob.Load(c.GlobalString("dump"))
		if err != nil {
			return nil, err
		}
		e.mem, e.dir = blob, blob
	case cfg.Access.Backend == "shell":
		ch := process_shell.NewSuChannel(cfg.Access.Su)
		e.mem = process_shell.NewMemory(ch, cfg.AccessTimeout())
		e.dir = process_shell.NewDirectory(ch, cfg.AccessTimeout())
	default:
		e.mem, e.dir, err = liveBackend(cfg)
		if err != nil {
			return nil, err
		}
	}

	e.gw = gateway.New(e.mem)
	return e, nil
}

// interruptible returns a context cancelled by Ctrl-C
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// session builds a session from the config and, when target is not empty,
// attaches it to the pid or process name in target
func (e *env) session(ctx context.Context, target string) (*session.Session, error) {
	options, err := session.OptionsFromConfig(e.cfg)
	if err != nil {
		return nil, err
	}
	sess := session.New(e.gw, e.dir, options...)
	if target == "" {
		return sess, nil
	}

	pid, err := e.resolvePID(target)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Attach(ctx, pid); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// resolvePID accepts a pid or the name of a running process
func (e *env) resolvePID(target string) (process.ProcessID, error) {
	if pid, err := strconv.Atoi(target); err == nil {
		return process.ProcessID(pid), nil
	}

	found, err := process.FindByName(e.dir, target)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("no process named %q", target)
	}
	return found[0].PID, nil
}
