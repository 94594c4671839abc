package process_shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"memhunt/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Directory lists processes with `ps` through a Channel
type Directory struct {
	ch      Channel
	timeout time.Duration
	log     *logger.Logger
}

var _ process.Directory = (*Directory)(nil)

func NewDirectory(ch Channel, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Directory{
		ch:      ch,
		timeout: timeout,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-shell-ps")),
	}
}

func (d *Directory) Processes() ([]process.ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	out, err := d.ch.Run(ctx, "ps -e -o pid,rss,cmdline", nil)
	if err != nil {
		return nil, err
	}
	return ParsePS(out), nil
}

// IsRunning is false only when the shell reports /proc/<pid> missing. A
// channel that fails or times out says nothing about the process, so it
// counts as running.
func (d *Directory) IsRunning(pid process.ProcessID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	_, err := d.ch.Run(ctx, guard(pid)+"exit 0", nil)
	if err == nil {
		return true
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == exitProcessGone {
		return false
	}
	d.log.Warn("Cannot tell whether process is running: ", err)
	return true
}

// ParsePS reads `ps -e -o pid,rss,cmdline` output. The header and rows that
// are not listable are dropped.
func ParsePS(out []byte) []process.ProcessInfo {
	var results []process.ProcessInfo

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue // header
		}
		rss, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		name := strings.Join(fields[2:], " ")
		if !process.IsListable(name) {
			continue
		}

		results = append(results, process.ProcessInfo{PID: process.ProcessID(pid), Name: name, MemoryKB: rss})
	}

	return results
}
