// Package scan finds typed values in another process's memory and narrows
// earlier results with targeted re-reads.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"memhunt/codec"
	"memhunt/gateway"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultChunkSize bounds how much of a region is resident per worker
const DefaultChunkSize = 1 << 20

// Engine runs first passes over regions and narrowing passes over matches.
// It keeps no result state; callers own the match set.
type Engine struct {
	gw        *gateway.Gateway
	chunkSize uint64
	workers   int
	log       *logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithChunkSize sets the read size per region chunk
func WithChunkSize(size uint64) Option {
	return func(e *Engine) {
		e.chunkSize = size
	}
}

// WithWorkers sets how many regions or point reads run at once
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

func New(gw *gateway.Gateway, options ...Option) *Engine {
	e := &Engine{
		gw:        gw,
		chunkSize: DefaultChunkSize,
		workers:   runtime.NumCPU(),
		log:       logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scan")),
	}

	for _, opt := range options {
		opt(e)
	}

	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// window tests the bytes at one aligned offset. It returns the value to
// record on a hit.
type window func(data []byte) (codec.Number, bool)

// isFatal reports whether a read error ends the whole scan rather than
// one chunk or one address
func isFatal(ctx context.Context, err error) bool {
	return process.IsProcessGone(err) || ctx.Err() != nil || errors.Is(err, process.ErrChannelUnavailable)
}

// scanRegions walks every region in parallel, one goroutine per region bounded
// by a semaphore of e.workers slots. width is the alignment stride, span the
// number of bytes a window needs from its base offset.
func (e *Engine) scanRegions(ctx context.Context, pid process.ProcessID, regions []memory_map.MemoryRegion, width, span uint64, match window) ([]matchset.Match, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.log.Infoln("Starting scan of", len(regions), "regions with workers=", e.workers)

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	var resultsMutex sync.Mutex
	var results []matchset.Match
	var fatal error

	for i := range regions {
		if ctx.Err() != nil {
			break
		}

		region := regions[i]
		if !region.IsReadable() {
			e.log.Debugln("Skipping unreadable region", region.String())
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			found, err := e.walkRegion(ctx, pid, &region, width, span, match)
			resultsMutex.Lock()
			defer resultsMutex.Unlock()

			if err != nil {
				if fatal == nil {
					fatal = err
				}
				cancel()
				return
			}
			results = append(results, found...)
		}()
	}

	wg.Wait()

	if fatal == nil && ctx.Err() != nil {
		fatal = ctx.Err()
	}
	if fatal != nil {
		e.log.Warn("Scan aborted:", fatal)
		return nil, &process.ScanAbortedError{PID: pid, Err: fatal}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Address < results[j].Address
	})

	e.log.Infoln("Scan complete, found", len(results), "matches")
	return results, nil
}

// walkRegion reads region in chunks of e.chunkSize plus span-width bytes of
// overlap, so windows that start near a chunk's end still see all their bytes.
// Windows that would cross the region end are not tested.
func (e *Engine) walkRegion(ctx context.Context, pid process.ProcessID, region *memory_map.MemoryRegion, width, span uint64, match window) ([]matchset.Match, error) {
	step := e.chunkSize - e.chunkSize%width
	if step == 0 {
		step = width
	}
	overlap := span - width

	var found []matchset.Match
	for offset := uint64(0); offset+span <= region.Size(); offset += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		readLen := step + overlap
		if offset+readLen > region.Size() {
			readLen = region.Size() - offset
		}

		base := region.Start + offset
		data, err := e.gw.Read(ctx, pid, process.ProcessMemoryAddress(base), readLen)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			e.log.Debugln("Failed to read memory region chunk at", fmt.Sprintf("%x", base), err)
			if len(data) == 0 {
				continue
			}
		}

		for i := uint64(0); i < step && i+span <= uint64(len(data)); i += width {
			if v, ok := match(data[i : i+span]); ok {
				found = append(found, matchset.NewMatch(pid, process.ProcessMemoryAddress(base+i), v, region))
			}
		}
	}

	return found, nil
}

// pointRead re-reads span bytes at every match address in parallel and keeps
// the matches for which match hits, in their original order.
func (e *Engine) pointRead(ctx context.Context, matches []matchset.Match, span func(m matchset.Match) uint64, match func(m matchset.Match, data []byte) (codec.Number, bool)) ([]matchset.Match, error) {
	if len(matches) == 0 {
		return []matchset.Match{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pid := matches[0].PID
	kept := make([]*matchset.Match, len(matches))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var fatal error

	for i := range matches {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()

			m := matches[i]
			data, err := e.gw.Read(ctx, m.PID, m.Address, span(m))
			if err != nil {
				if isFatal(ctx, err) {
					fatalOnce.Do(func() {
						fatal = err
						cancel()
					})
					return
				}
				e.log.Debugln("Dropping unreadable match at", m.Address.ToString(), err)
				return
			}

			if v, ok := match(m, data); ok {
				next := m.WithValue(v)
				kept[i] = &next
			}
		}(i)
	}

	wg.Wait()

	if fatal == nil && ctx.Err() != nil {
		fatal = ctx.Err()
	}
	if fatal != nil {
		return nil, &process.ScanAbortedError{PID: pid, Err: fatal}
	}

	results := make([]matchset.Match, 0, len(matches))
	for _, m := range kept {
		if m != nil {
			results = append(results, *m)
		}
	}

	e.log.Infoln("Narrowed", len(matches), "matches to", len(results))
	return results, nil
}

func typeWidth(m matchset.Match) uint64 {
	return uint64(m.Type.Size())
}
