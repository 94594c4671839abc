// Package session ties the scan engine, match set, freeze supervisor and
// address editor to one attached process. It is the boundary that decides
// between first and next scans.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"memhunt/codec"
	"memhunt/editor"
	"memhunt/freeze"
	"memhunt/gateway"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"
	"memhunt/scan"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrScanInProgress is returned when another scan is already running
	ErrScanInProgress = errors.New("a scan is already in progress")

	// ErrMatchesChanged is returned when the match set was reset or replaced
	// while a scan was reading it
	ErrMatchesChanged = errors.New("match set changed during the scan")

	// ErrTypeLocked is returned when changing the value type between scans
	ErrTypeLocked = errors.New("value type is fixed until the scan is reset")
)

// DefaultMaxRefresh is the match count at which periodic refresh stops
// re-reading values
const DefaultMaxRefresh = 100

type settings struct {
	engineOptions []scan.Option
	freezeOptions []freeze.Option
	freezeEvery   time.Duration
	matches       *matchset.Set
	categories    []memory_map.Category
	customFilter  string
	valueType     codec.ValueType
	maxRefresh    int
}

type Option func(*settings)

func WithEngineOptions(options ...scan.Option) Option {
	return func(s *settings) {
		s.engineOptions = append(s.engineOptions, options...)
	}
}

func WithFreezeOptions(options ...freeze.Option) Option {
	return func(s *settings) {
		s.freezeOptions = append(s.freezeOptions, options...)
	}
}

// WithFreezeInterval sets the interval editor freezes run at
func WithFreezeInterval(d time.Duration) Option {
	return func(s *settings) {
		s.freezeEvery = d
	}
}

// WithMatchSet shares an existing store instead of creating one
func WithMatchSet(set *matchset.Set) Option {
	return func(s *settings) {
		s.matches = set
	}
}

func WithRegions(categories []memory_map.Category, customFilter string) Option {
	return func(s *settings) {
		s.categories = categories
		s.customFilter = customFilter
	}
}

func WithValueType(t codec.ValueType) Option {
	return func(s *settings) {
		s.valueType = t
	}
}

func WithMaxRefresh(n int) Option {
	return func(s *settings) {
		s.maxRefresh = n
	}
}

// Session is safe for concurrent use. A second scan fails fast. A scan
// cancels an in-flight refresh tick and waits for it to return; a refresh tick
// that finds a scan running is skipped.
type Session struct {
	gw      *gateway.Gateway
	dir     process.Directory
	engine  *scan.Engine
	matches *matchset.Set
	fz      *freeze.Supervisor
	ed      *editor.Editor
	log     *logger.Logger

	scanning atomic.Bool
	work     sync.Mutex

	mu            sync.Mutex
	cancelRefresh context.CancelFunc
	pid           process.ProcessID
	valueType    codec.ValueType
	typeLocked   bool
	categories   []memory_map.Category
	customFilter string
	maxRefresh   int
}

func New(gw *gateway.Gateway, dir process.Directory, options ...Option) *Session {
	st := settings{
		categories: memory_map.DefaultCategories,
		valueType:  codec.Int32,
		maxRefresh: DefaultMaxRefresh,
	}
	for _, opt := range options {
		opt(&st)
	}
	if st.matches == nil {
		st.matches = matchset.New()
	}

	fz := freeze.New(gw, st.freezeOptions...)
	return &Session{
		gw:           gw,
		dir:          dir,
		engine:       scan.New(gw, st.engineOptions...),
		matches:      st.matches,
		fz:           fz,
		ed:           editor.New(gw, fz, st.freezeEvery),
		log:          logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "session")),
		valueType:    st.valueType,
		categories:   st.categories,
		customFilter: st.customFilter,
		maxRefresh:   st.maxRefresh,
	}
}

func (s *Session) Gateway() *gateway.Gateway { return s.gw }
func (s *Session) Matches() *matchset.Set { return s.matches }
func (s *Session) Freezer() *freeze.Supervisor { return s.fz }
func (s *Session) Editor() *editor.Editor { return s.ed }
func (s *Session) Directory() process.Directory { return s.dir }

// PID is the attached process, 0 when detached
func (s *Session) PID() process.ProcessID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Attach makes pid the target. Switching to a different pid first detaches
// from the old one.
func (s *Session) Attach(ctx context.Context, pid process.ProcessID) error {
	if !s.dir.IsRunning(pid) {
		return &process.ProcessAccessError{PID: pid, Err: process.ErrProcessGone}
	}
	if _, err := s.gw.Regions(ctx, pid); err != nil {
		return err
	}

	if old := s.PID(); old != 0 && old != pid {
		s.Detach()
	}

	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()

	s.log.Infoln("Attached to process", pid)
	return nil
}

// Detach forgets the target: the match set is cleared, its freezes are
// stopped and editor flags are brought back in line.
func (s *Session) Detach() {
	s.mu.Lock()
	old := s.pid
	s.pid = 0
	s.typeLocked = false
	s.mu.Unlock()

	s.matches.Clear()
	if old != 0 {
		s.fz.StopPID(old)
	}
	s.ed.SyncFreezeState()

	if old != 0 {
		s.log.Infoln("Detached from process", old)
	}
}

// ValueType is the type scans and reads use
func (s *Session) ValueType() codec.ValueType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueType
}

// SetValueType changes the scan type. Once a scan has run, only Reset
// unlocks it.
func (s *Session) SetValueType(t codec.ValueType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.typeLocked && t != s.valueType {
		return ErrTypeLocked
	}
	s.valueType = t
	return nil
}

// SetRegions picks which categories first scans cover; a non-empty
// customFilter replaces them with a path substring match.
func (s *Session) SetRegions(categories []memory_map.Category, customFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append([]memory_map.Category(nil), categories...)
	s.customFilter = customFilter
}

func (s *Session) SetMaxRefresh(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRefresh = n
}

// Regions enumerates the attached process and applies the region selection
func (s *Session) Regions(ctx context.Context) ([]memory_map.MemoryRegion, error) {
	s.mu.Lock()
	pid := s.pid
	categories := s.categories
	filter := s.customFilter
	s.mu.Unlock()

	if pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	all, err := s.gw.Regions(ctx, pid)
	if err != nil {
		return nil, err
	}
	return memory_map.SelectRegions(all, categories, filter), nil
}

// Reset clears the results so the next scan is a first pass, and unlocks
// the value type.
func (s *Session) Reset() {
	s.matches.Clear()
	s.mu.Lock()
	s.typeLocked = false
	s.mu.Unlock()
}

// Results is the first limit matches
func (s *Session) Results(limit int) []matchset.Match {
	return s.matches.Snapshot(limit)
}

// ScanResult summarizes one Scan call
type ScanResult struct {
	Kind      scan.Kind
	FirstPass bool
	Count     int
}

// Scan runs criteria against the attached process. An empty match set means
// a first pass over the selected regions; otherwise the current matches are
// narrowed. On error the match set is left as it was.
func (s *Session) Scan(ctx context.Context, criteria string, op codec.Operator) (ScanResult, error) {
	c, err := scan.ParseCriteria(criteria)
	if err != nil {
		return ScanResult{}, err
	}

	if !s.scanning.CompareAndSwap(false, true) {
		return ScanResult{}, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	s.mu.Lock()
	if s.cancelRefresh != nil {
		s.cancelRefresh()
	}
	s.mu.Unlock()

	s.work.Lock()
	defer s.work.Unlock()

	s.mu.Lock()
	pid := s.pid
	t := s.valueType
	s.mu.Unlock()

	if pid == 0 {
		return ScanResult{}, process.ErrProcessNotOpen
	}

	existing, gen := s.matches.Load()
	if len(existing) > 0 && existing[0].PID != pid {
		s.log.Warn("Discarding matches from process ", existing[0].PID)
		s.matches.Clear()
		existing, gen = s.matches.Load()
	}

	result := ScanResult{Kind: c.Kind, FirstPass: len(existing) == 0}

	var found []matchset.Match
	if result.FirstPass {
		regions, err := s.Regions(ctx)
		if err != nil {
			return ScanResult{}, err
		}

		switch c.Kind {
		case scan.KindGroup:
			found, err = s.engine.ScanGroup(ctx, pid, c.Literal, t, op, regions)
		case scan.KindRange:
			found, err = s.engine.ScanRange(ctx, pid, c.Low, c.High, t, regions)
		default:
			found, err = s.engine.Scan(ctx, pid, c.Literal, t, op, regions)
		}
		if err != nil {
			return ScanResult{}, err
		}
	} else {
		switch c.Kind {
		case scan.KindGroup:
			found, err = s.engine.FilterGroup(ctx, existing, c.Literal, op)
		case scan.KindRange:
			found, err = s.engine.FilterRange(ctx, existing, c.Low, c.High)
		default:
			found, err = s.engine.Filter(ctx, existing, c.Literal, op)
		}
		if err != nil {
			return ScanResult{}, err
		}
	}

	if !s.matches.ReplaceIf(gen, found) {
		return ScanResult{}, ErrMatchesChanged
	}
	s.mu.Lock()
	s.typeLocked = true
	s.mu.Unlock()

	result.Count = len(found)
	s.log.Infoln(fmt.Sprintf("%s scan (first=%v) found %d matches", c.Kind, result.FirstPass, result.Count))
	return result, nil
}

// AddToEditor copies the matches named by ids (all matches when none are
// given) into the address editor.
func (s *Session) AddToEditor(ids ...string) int {
	all := s.matches.All()
	if len(ids) == 0 {
		return s.ed.Add(all...)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var picked []matchset.Match
	for _, m := range all {
		if want[m.ID] {
			picked = append(picked, m)
		}
	}
	return s.ed.Add(picked...)
}

// Close stops every freeze
func (s *Session) Close() {
	s.fz.Close()
}
