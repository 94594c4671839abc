// Package editor manages the user-curated address list: bulk and single
// writes, freezes, and keeping frozen flags honest against the supervisor.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"memhunt/codec"
	"memhunt/freeze"
	"memhunt/matchset"
	"memhunt/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var ErrEntryNotFound = errors.New("address editor entry not found")

// Entry is one curated address. FreezeID names the supervisor entry that
// holds it while IsFrozen is set.
type Entry struct {
	Match       matchset.Match
	IsFrozen    bool
	FreezeID    string
	FrozenValue string
}

// BatchResult reports a best-effort batch operation
type BatchResult struct {
	Succeeded int
	Failed    []*process.WriteFailure
}

// Err joins the per-address failures, or returns nil when there were none
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Editor is safe for concurrent use. Writes and freeze stops happen outside
// its lock.
type Editor struct {
	w        freeze.Writer
	fz       *freeze.Supervisor
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	entries []Entry
}

// New builds an editor writing through w and freezing through fz. interval
// is the freeze interval; zero leaves it to the supervisor.
func New(w freeze.Writer, fz *freeze.Supervisor, interval time.Duration) *Editor {
	return &Editor{
		w:        w,
		fz:       fz,
		interval: interval,
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "editor")),
	}
}

// Add appends matches not already listed (same pid and address) and returns
// how many were added.
func (ed *Editor) Add(matches ...matchset.Match) int {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	added := 0
	for _, m := range matches {
		if ed.indexOfAddress(m.PID, m.Address) >= 0 {
			continue
		}
		ed.entries = append(ed.entries, Entry{Match: m})
		added++
	}
	return added
}

func (ed *Editor) indexOfAddress(pid process.ProcessID, addr process.ProcessMemoryAddress) int {
	for i, e := range ed.entries {
		if e.Match.PID == pid && e.Match.Address == addr {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the list in insertion order
func (ed *Editor) Entries() []Entry {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	out := make([]Entry, len(ed.entries))
	copy(out, ed.entries)
	return out
}

func (ed *Editor) Len() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return len(ed.entries)
}

// Get returns the entry whose match has id
func (ed *Editor) Get(id string) (Entry, bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for _, e := range ed.entries {
		if e.Match.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// selected copies the entries named by ids; no ids selects all of them
func (ed *Editor) selected(ids []string) []Entry {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if len(ids) == 0 {
		out := make([]Entry, len(ed.entries))
		copy(out, ed.entries)
		return out
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Entry
	for _, e := range ed.entries {
		if want[e.Match.ID] {
			out = append(out, e)
		}
	}
	return out
}

// update applies fn to the live entry with match id, if it is still listed
func (ed *Editor) update(id string, fn func(e *Entry)) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for i := range ed.entries {
		if ed.entries[i].Match.ID == id {
			fn(&ed.entries[i])
			return
		}
	}
}

// validate parses literal for every value type among entries so a bad
// literal fails before anything is written
func validate(entries []Entry, literal string) error {
	seen := make(map[codec.ValueType]bool)
	for _, e := range entries {
		if seen[e.Match.Type] {
			continue
		}
		seen[e.Match.Type] = true
		if _, err := codec.ParseLiteral(literal, e.Match.Type); err != nil {
			return err
		}
	}
	return nil
}

// WriteAll writes literal to every selected entry. A failed address does not
// stop the batch. Only an unparsable literal fails the whole call.
func (ed *Editor) WriteAll(ctx context.Context, literal string, ids ...string) (BatchResult, error) {
	entries := ed.selected(ids)
	if err := validate(entries, literal); err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, e := range entries {
		m := e.Match
		err := ed.w.Write(ctx, m.PID, m.Address, m.Type, literal)
		if err != nil {
			result.Failed = append(result.Failed, asWriteFailure(m, err))
			continue
		}
		result.Succeeded++

		if v, err := codec.ParseLiteral(literal, m.Type); err == nil {
			ed.update(m.ID, func(live *Entry) { live.Match = live.Match.WithValue(v) })
		}
	}

	ed.log.Infoln("Wrote", literal, "to", result.Succeeded, "addresses,", len(result.Failed), "failed")
	return result, nil
}

func asWriteFailure(m matchset.Match, err error) *process.WriteFailure {
	var wf *process.WriteFailure
	if errors.As(err, &wf) {
		return wf
	}
	return &process.WriteFailure{PID: m.PID, Address: m.Address, Err: err}
}

// FreezeAll starts a freeze of literal for every selected entry. An entry
// that is already frozen is re-frozen with the new literal.
func (ed *Editor) FreezeAll(literal string, ids ...string) (BatchResult, error) {
	entries := ed.selected(ids)
	if err := validate(entries, literal); err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, e := range entries {
		m := e.Match
		if e.IsFrozen {
			ed.fz.Stop(e.FreezeID)
		}

		freezeID, err := ed.fz.Start(m.PID, m.Address, literal, m.Type, ed.interval)
		if err != nil {
			ed.update(m.ID, func(live *Entry) { live.IsFrozen, live.FreezeID, live.FrozenValue = false, "", "" })
			result.Failed = append(result.Failed, asWriteFailure(m, err))
			continue
		}

		ed.update(m.ID, func(live *Entry) {
			live.IsFrozen = true
			live.FreezeID = freezeID
			live.FrozenValue = literal
		})
		result.Succeeded++
	}

	ed.log.Infoln("Froze", result.Succeeded, "addresses at", literal)
	return result, nil
}

// UnfreezeAll stops the freeze of every selected entry and clears its flag
func (ed *Editor) UnfreezeAll(ids ...string) int {
	n := 0
	for _, e := range ed.selected(ids) {
		if !e.IsFrozen && e.FreezeID == "" {
			continue
		}
		ed.fz.Stop(e.FreezeID)
		ed.update(e.Match.ID, func(live *Entry) { live.IsFrozen, live.FreezeID, live.FrozenValue = false, "", "" })
		n++
	}
	return n
}

// Write writes literal to the single entry id
func (ed *Editor) Write(ctx context.Context, id, literal string) error {
	if _, ok := ed.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	result, err := ed.WriteAll(ctx, literal, id)
	if err != nil {
		return err
	}
	return result.Err()
}

// Freeze freezes the single entry id at literal
func (ed *Editor) Freeze(id, literal string) error {
	if _, ok := ed.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	result, err := ed.FreezeAll(literal, id)
	if err != nil {
		return err
	}
	return result.Err()
}

// Unfreeze stops the freeze of the single entry id
func (ed *Editor) Unfreeze(id string) error {
	if _, ok := ed.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	ed.UnfreezeAll(id)
	return nil
}

// Remove unfreezes and drops the entries named by ids
func (ed *Editor) Remove(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	ed.UnfreezeAll(ids...)

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return ed.removeWhere(func(e Entry) bool { return want[e.Match.ID] })
}

// Clear unfreezes and drops every entry
func (ed *Editor) Clear() int {
	ed.UnfreezeAll()
	return ed.removeWhere(func(Entry) bool { return true })
}

// DropForeign removes the entries that belong to a process other than pid
func (ed *Editor) DropForeign(pid process.ProcessID) int {
	var ids []string
	for _, e := range ed.Entries() {
		if e.Match.PID != pid {
			ids = append(ids, e.Match.ID)
		}
	}
	if len(ids) > 0 {
		ed.log.Infoln("Dropping", len(ids), "entries from a previous process")
	}
	return ed.Remove(ids...)
}

func (ed *Editor) removeWhere(pred func(Entry) bool) int {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	kept := ed.entries[:0]
	removed := 0
	for _, e := range ed.entries {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// release the tail for the collector
	for i := len(kept); i < len(ed.entries); i++ {
		ed.entries[i] = Entry{}
	}
	ed.entries = kept
	return removed
}

// SyncFreezeState reconciles IsFrozen with the supervisor. Entries whose
// task is gone (stopped, or ended after repeated failures) are unflagged;
// unflagged entries whose address is being frozen are flagged. It returns
// the number of entries corrected.
func (ed *Editor) SyncFreezeState() int {
	active := ed.fz.ListActive()

	type key struct {
		pid  process.ProcessID
		addr process.ProcessMemoryAddress
	}
	byID := make(map[string]freeze.Entry, len(active))
	byAddr := make(map[key]freeze.Entry, len(active))
	for _, fe := range active {
		byID[fe.ID] = fe
		byAddr[key{fe.PID, fe.Address}] = fe
	}

	ed.mu.Lock()
	defer ed.mu.Unlock()

	fixed := 0
	for i := range ed.entries {
		e := &ed.entries[i]
		if e.IsFrozen {
			if _, ok := byID[e.FreezeID]; !ok {
				e.IsFrozen, e.FreezeID, e.FrozenValue = false, "", ""
				fixed++
			}
			continue
		}
		if fe, ok := byAddr[key{e.Match.PID, e.Match.Address}]; ok {
			e.IsFrozen, e.FreezeID, e.FrozenValue = true, fe.ID, fe.Value
			fixed++
		}
	}

	if fixed > 0 {
		ed.log.Debugln("Corrected freeze state of", fixed, "entries")
	}
	return fixed
}
