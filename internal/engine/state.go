package engine

import (
	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/journal"
)

// setState transitions the engine to s and emits EngineStateChanged,
// per the state machine spec.md §4.6 defines.
func (e *Engine) setState(s common.EngineState) {
	if e.state == s {
		return
	}
	e.state = s
	log.Info().Str("state", s.String()).Msg("engine state changed")
	e.emit(common.Event{Kind: common.EvEngineStateChanged, State: s})
}

// dispatch routes cmd to its handler, honoring the state machine: control
// commands are accepted in every state but Stopped; business commands only
// while Running.
func (e *Engine) dispatch(cmd common.Command) {
	if cmd.Kind.IsControl() {
		e.dispatchControl(cmd)
		return
	}

	if e.state != common.Running {
		e.journalAppend(cmd, journal.Noop{})
		e.emit(common.Event{
			Seq:    cmd.Seq,
			Kind:   common.EvOrderRejected,
			Reason: common.ErrEngineSuspended,
		})
		return
	}

	e.applyGuarded(cmd)
}

func (e *Engine) dispatchControl(cmd common.Command) {
	// Control commands still occupy a seq slot from the shared allocator,
	// so they still need a journal entry to keep seq and journal index in
	// lockstep for whatever business command comes next (spec.md §5).
	e.journalAppend(cmd, journal.Noop{})

	switch cmd.Kind {
	case common.CmdSuspend:
		e.setState(common.Suspended)
	case common.CmdResume:
		if e.state == common.Suspended {
			e.setState(common.Running)
		}
	case common.CmdRewind:
		e.rewind(cmd.RewindToSeq)
	case common.CmdShutdown:
		e.setState(common.Stopped)
	}
}

// applyGuarded wraps the mutating apply step in the panic boundary spec.md
// §4.6 requires: an unexpected fault during matching is never allowed to
// crash the owner thread. It is converted into a PoisonError and handed to
// the recovery protocol instead of retried.
func (e *Engine) applyGuarded(cmd common.Command) {
	defer func() {
		if r := recover(); r != nil {
			e.recoverFromPoison(cmd, common.NewPoisonError(cmd.Seq, r))
		}
	}()
	e.apply(cmd)
}

// recoverFromPoison implements spec.md §4.6's "Panic / poison handling":
// transition to Recovering, rewind the book past the faulted command,
// announce it, then settle in Suspended awaiting an operator decision.
// The offending command is never re-applied automatically.
func (e *Engine) recoverFromPoison(cmd common.Command, poison *common.PoisonError) {
	seq := cmd.Seq
	log.Error().Uint64("seq", seq).Interface("cause", poison.Cause).Msg("poison detected, recovering")
	e.setState(common.Recovering)

	// The panic unwound apply before it could journal anything for this
	// seq. Record a Noop here so the journal's length stays in lockstep
	// with the shared seq allocator — otherwise the next command in
	// (control or business) fails journal.Append's gap-free check. The
	// Noop carries no book effect, so rewinding to (and keeping) this
	// entry is equivalent to rewinding to seq-1 for book state, but
	// leaves Truncate with an entry to keep instead of discarding the
	// one we just appended.
	e.journalAppend(common.Command{Seq: seq, Instrument: cmd.Instrument}, journal.Noop{})
	e.rewindTo(seq)

	e.emit(common.Event{Seq: seq, Kind: common.EvPoisonDetected, Reason: poison})
	e.setState(common.Suspended)
}

// rewind implements the Rewind control command: unwind to_seq and confirm
// with RewindComplete.
func (e *Engine) rewind(toSeq uint64) {
	e.rewindTo(toSeq)
	e.emit(common.Event{Kind: common.EvRewindComplete, ToSeq: toSeq})
}

// rewindTo applies every inverse op recorded after target, latest first,
// then truncates the journal so replaying forward from target reproduces
// an identical book (spec.md §4.5's "Rewind protocol").
func (e *Engine) rewindTo(target uint64) {
	for _, entry := range e.journal.InversesSince(target) {
		b, ok := e.books[entry.Command.Instrument]
		if !ok {
			continue
		}
		if err := entry.Inverse.Apply(b); err != nil {
			log.Error().Err(err).Uint64("seq", entry.Seq).Msg("inverse op failed to apply during rewind")
		}
	}
	e.journal.Truncate(target)
}
