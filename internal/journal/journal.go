package journal

import (
	"fmt"
	"sync"

	"fenrir/internal/common"
)

// Entry is one record of the journal: the command as applied, plus the
// inverse operation derived at apply time (spec.md §4.5).
type Entry struct {
	Seq     uint64
	Command common.Command
	Inverse InverseOp
}

// Sink is where journal entries are durably written. The engine writes
// through a Sink and never reads from one; rewind replays the in-memory
// log directly (see spec.md §4.5's note that in-memory inverses, not the
// persisted format, drive rewind).
type Sink interface {
	Append(entry Entry) error
}

// Journal is the in-memory, append-only, gap-free log of applied
// commands. It is the engine's sole source of truth for rewind.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	sink    Sink
}

// New builds a Journal that mirrors every appended entry to sink. A nil
// sink keeps the journal purely in-memory.
func New(sink Sink) *Journal {
	return &Journal{sink: sink}
}

// Append records entry, enforcing the gap-free, monotone sequence
// invariant spec.md §5 requires, then mirrors it to the configured sink.
func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	expected := uint64(len(j.entries))
	if entry.Seq != expected {
		return fmt.Errorf("journal: out-of-order append: got seq %d, expected %d", entry.Seq, expected)
	}
	j.entries = append(j.entries, entry)

	if j.sink != nil {
		if err := j.sink.Append(entry); err != nil {
			return fmt.Errorf("%w: %v", common.ErrJournalWrite, err)
		}
	}
	return nil
}

// Len returns the number of entries appended so far; also the next seq.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// At returns the entry at seq.
func (j *Journal) At(seq uint64) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq >= uint64(len(j.entries)) {
		return Entry{}, false
	}
	return j.entries[seq], true
}

// Truncate drops every entry with Seq > target, used once a rewind has
// finished unwinding the book past them.
func (j *Journal) Truncate(target uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if target+1 >= uint64(len(j.entries)) {
		return
	}
	j.entries = j.entries[:target+1]
}

// InversesSince returns the entries with Seq > target, in reverse
// (latest-first) application order — exactly what Rewind needs to unwind
// the books back to the state after command `target`. Entry.Command.
// Instrument tells the caller which book each inverse applies to.
func (j *Journal) InversesSince(target uint64) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	if target+1 >= uint64(len(j.entries)) {
		return nil
	}
	out := make([]Entry, 0, len(j.entries)-int(target)-1)
	for i := len(j.entries) - 1; i > int(target); i-- {
		out = append(out, j.entries[i])
	}
	return out
}
