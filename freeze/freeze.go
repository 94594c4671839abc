// Package freeze keeps values pinned in another process by rewriting them on
// a timer, one independent task per address.
package freeze

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"memhunt/codec"
	"memhunt/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultMaxFailures = 5
)

var ErrSupervisorClosed = errors.New("freeze supervisor is closed")

// Writer performs one typed write. *gateway.Gateway satisfies it.
type Writer interface {
	Write(ctx context.Context, pid process.ProcessID, addr process.ProcessMemoryAddress, t codec.ValueType, literal string) error
}

// Entry describes one running freeze
type Entry struct {
	ID        string                       `yaml:"id"`
	PID       process.ProcessID            `yaml:"pid"`
	Address   process.ProcessMemoryAddress `yaml:"address"`
	Value     string                       `yaml:"value"`
	Type      codec.ValueType              `yaml:"type"`
	Interval  time.Duration                `yaml:"interval"`
	CreatedAt time.Time                    `yaml:"created_at"`
}

type task struct {
	seq    uint64
	entry  Entry
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the active freeze tasks
type Supervisor struct {
	w               Writer
	maxFailures     int
	defaultInterval time.Duration
	log             *logger.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	seq    uint64
	closed bool
}

type Option func(*Supervisor)

// WithMaxFailures sets how many consecutive failed writes end a task
func WithMaxFailures(n int) Option {
	return func(s *Supervisor) {
		s.maxFailures = n
	}
}

// WithDefaultInterval sets the interval used when Start is given zero
func WithDefaultInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		s.defaultInterval = d
	}
}

func New(w Writer, options ...Option) *Supervisor {
	s := &Supervisor{
		w:               w,
		maxFailures:     DefaultMaxFailures,
		defaultInterval: DefaultInterval,
		tasks:           make(map[string]*task),
		log:             logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "freeze")),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.maxFailures < 1 {
		s.maxFailures = DefaultMaxFailures
	}
	if s.defaultInterval <= 0 {
		s.defaultInterval = DefaultInterval
	}
	return s
}

// Start begins rewriting literal at addr every interval and returns the
// entry id. The first write happens immediately.
func (s *Supervisor) Start(pid process.ProcessID, addr process.ProcessMemoryAddress, literal string, t codec.ValueType, interval time.Duration) (string, error) {
	if _, err := codec.EncodeLiteral(literal, t); err != nil {
		return "", err
	}
	if interval <= 0 {
		interval = s.defaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{
		entry: Entry{
			ID:        uuid.NewString(),
			PID:       pid,
			Address:   addr,
			Value:     literal,
			Type:      t,
			Interval:  interval,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", ErrSupervisorClosed
	}
	s.seq++
	tk.seq = s.seq
	s.tasks[tk.entry.ID] = tk
	s.mu.Unlock()

	go s.run(ctx, tk)

	s.log.Infoln("Freeze started:", tk.entry.ID, "for address", addr.ToString())
	return tk.entry.ID, nil
}

func (s *Supervisor) run(ctx context.Context, tk *task) {
	defer func() {
		s.mu.Lock()
		delete(s.tasks, tk.entry.ID)
		s.mu.Unlock()
		close(tk.done)
	}()

	e := tk.entry
	timer := time.NewTimer(e.Interval)
	defer timer.Stop()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		// a write already under way finishes even if the task is stopped
		err := s.w.Write(context.WithoutCancel(ctx), e.PID, e.Address, e.Type, e.Value)
		if err != nil {
			failures++
			s.log.Warn("Failed to write for freeze ", e.ID, " (attempt ", failures, "): ", err)
			if failures >= s.maxFailures {
				s.log.Warn("Freeze ", e.ID, " stopped after ", failures, " consecutive errors")
				return
			}
		} else {
			failures = 0
		}

		timer.Reset(e.Interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Stop cancels the entry and waits for its task to exit. It returns false
// if id is not active.
func (s *Supervisor) Stop(id string) bool {
	s.mu.Lock()
	tk, ok := s.tasks[id]
	s.mu.Unlock()

	if !ok {
		s.log.Debugln("Freeze not found:", id)
		return false
	}

	tk.cancel()
	<-tk.done
	s.log.Infoln("Freeze stopped:", id)
	return true
}

// StopAll stops every active entry and returns how many there were
func (s *Supervisor) StopAll() int {
	return s.stopWhere(func(Entry) bool { return true })
}

// StopPID stops the entries that target pid
func (s *Supervisor) StopPID(pid process.ProcessID) int {
	return s.stopWhere(func(e Entry) bool { return e.PID == pid })
}

func (s *Supervisor) stopWhere(pred func(Entry) bool) int {
	s.mu.Lock()
	var victims []*task
	for _, tk := range s.tasks {
		if pred(tk.entry) {
			victims = append(victims, tk)
		}
	}
	s.mu.Unlock()

	for _, tk := range victims {
		tk.cancel()
	}
	for _, tk := range victims {
		<-tk.done
	}

	if len(victims) > 0 {
		s.log.Infoln("Stopped", len(victims), "freezes")
	}
	return len(victims)
}

// ListActive is a point-in-time copy of the active entries, oldest first
func (s *Supervisor) ListActive() []Entry {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, tk := range s.tasks {
		tasks = append(tasks, tk)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })

	out := make([]Entry, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.entry
	}
	return out
}

func (s *Supervisor) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close stops every entry and refuses new ones
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
}
