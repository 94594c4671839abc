package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memhunt/process"
)

// Refresh is one tick of the periodic refresher. A dead target yields a
// *process.ProcessAccessError and clears dependent state; matches from
// another process yield process.ErrStaleAddress and are cleared. Otherwise,
// when there are fewer than the refresh limit, match values are re-read.
// Editor freeze flags are resynchronized on every tick. A scan that starts
// cancels the tick, and a tick that finds a scan running does nothing. Values
// are dropped if the match set was cleared or replaced while they were read.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.work.TryLock() {
		return nil
	}
	defer s.work.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	pid := s.pid
	maxRefresh := s.maxRefresh
	s.cancelRefresh = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelRefresh = nil
		s.mu.Unlock()
	}()

	if s.scanning.Load() {
		return nil
	}

	defer s.ed.SyncFreezeState()

	if pid == 0 {
		return nil
	}

	if !s.dir.IsRunning(pid) {
		s.processGone(pid)
		return &process.ProcessAccessError{PID: pid, Err: process.ErrProcessGone}
	}

	setPID, consistent := s.matches.PID()
	if setPID != 0 && (setPID != pid || !consistent) {
		s.matches.Clear()
		s.log.Warn("Cleared matches belonging to process ", setPID)
		return fmt.Errorf("matches from process %d: %w", setPID, process.ErrStaleAddress)
	}

	current, gen := s.matches.Load()
	if len(current) == 0 || len(current) >= maxRefresh {
		return nil
	}

	refreshed, err := s.engine.Refresh(ctx, current)
	if err != nil {
		if process.IsProcessGone(err) {
			s.processGone(pid)
			return &process.ProcessAccessError{PID: pid, Err: process.ErrProcessGone}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	if !s.matches.ReplaceIf(gen, refreshed) {
		s.log.Debugln("Match set changed during refresh, dropping", len(refreshed), "values")
	}
	return nil
}

// processGone drops everything that pointed into pid
func (s *Session) processGone(pid process.ProcessID) {
	s.log.Warn("Process is not running: ", pid)

	s.mu.Lock()
	if s.pid == pid {
		s.pid = 0
	}
	s.typeLocked = false
	s.mu.Unlock()

	s.matches.Clear()
	s.fz.StopPID(pid)
}

// RunRefresher calls Refresh until ctx is done, waiting interval() between
// ticks. interval is consulted before every wait so a reloaded setting takes
// effect on the next tick. Errors go to notify, which may be nil.
func (s *Session) RunRefresher(ctx context.Context, interval func() time.Duration, notify func(error)) {
	timer := time.NewTimer(interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.Refresh(ctx); err != nil && notify != nil {
			notify(err)
		}
		timer.Reset(interval())
	}
}
