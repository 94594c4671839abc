// Package terminal is the interactive memhunt shell: line editing and
// history through liner, command completion from a trie, and a background
// refresher that reports when the target goes away.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"memhunt/config"
	"memhunt/session"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
)

const (
	prompt      = "(memhunt) "
	historyFile = "history"
)

type Term struct {
	sess  *session.Session
	cfg   *config.Config
	cmds  *Commands
	out   io.Writer
	color bool
	log   *logger.Logger

	line *liner.State

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a terminal over sess writing to out. color turns on ANSI output
// for hex dumps and listings.
func New(sess *session.Session, cfg *config.Config, out io.Writer, color bool) *Term {
	return &Term{
		sess:  sess,
		cfg:   cfg,
		cmds:  NewCommands(),
		out:   out,
		color: color,
		log:   logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "terminal")),
	}
}

// Exec runs one command line. A running command is cancelled by Interrupt.
func (t *Term) Exec(ctx context.Context, line string) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
		cancel()
	}()

	return t.cmds.Call(ctx, line, t)
}

// Interrupt cancels the running command, if any
func (t *Term) Interrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		if t.Interrupt() {
			fmt.Fprintln(t.out, "interrupted")
		}
	}
}

// Watch applies config reloads from w to the session until ctx is done
func (t *Term) Watch(ctx context.Context, w *config.Watcher) {
	w.OnChange(func(cfg *config.Config) {
		if err := t.sess.ApplyConfig(cfg); err != nil {
			t.log.Warn("Ignoring config reload: ", err)
			return
		}
		t.mu.Lock()
		t.cfg = cfg
		t.mu.Unlock()
		t.log.Infoln("Config reloaded")
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.Errors():
				t.log.Warn("Config watch: ", err)
			}
		}
	}()
}

func (t *Term) config() *config.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Run reads commands until exit or EOF
func (t *Term) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	t.line = liner.NewLiner()
	defer t.line.Close()
	t.line.SetCtrlCAborts(false)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	go t.sess.RunRefresher(ctx, func() time.Duration { return t.config().RefreshInterval() }, func(err error) {
		fmt.Fprintln(t.out, "refresh:", err)
	})

	completions := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			completions.Add(alias, nil)
		}
	}
	t.line.SetCompleter(func(line string) []string {
		if strings.Contains(line, " ") {
			return nil
		}
		return completions.PrefixSearch(line)
	})

	history := filepath.Join(config.DataDir(), historyFile)
	if f, err := os.Open(history); err == nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	defer t.saveHistory(history)

	fmt.Fprintln(t.out, "Type 'help' for list of commands.")

	for {
		l, err := t.line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(t.out, "exit")
				return nil
			}
			return fmt.Errorf("prompt: %w", err)
		}

		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		t.line.AppendHistory(l)

		if err := t.Exec(ctx, l); err != nil {
			var exitErr ExitRequestError
			if errors.As(err, &exitErr) {
				return nil
			}
			fmt.Fprintf(t.out, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) saveHistory(path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.log.Warn("History not saved: ", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		t.log.Warn("History not saved: ", err)
		return
	}
	defer f.Close()

	if _, err := t.line.WriteHistory(f); err != nil {
		t.log.Warn("History not saved: ", err)
	}
}
