// Package engine implements spec.md §4.6: the single-writer actor loop
// that owns every instrument's OrderBook, serializes commands through a
// bounded input queue, and drives the Matcher and Journal on their behalf.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/journal"
	"fenrir/internal/matcher"
)

// defaultQueueSize mirrors the teacher's own worker pool task channel
// sizing (internal/worker.go's TASK_CHAN_SIZE), reused here for the
// engine's own bounded input queue (spec.md §4.6's "Backpressure").
const defaultQueueSize = 100

// EventSink receives every Event the engine emits. Producers subscribe to
// it to update users and persist ledger entries (spec.md §4.6's "External
// collaborator boundary"); the engine never blocks matching on it failing
// — a sink error is a Fatal error (spec.md §7) and stops the engine.
type EventSink interface {
	Emit(common.Event) error
}

// Engine is the actor described by spec.md §4.6. Exactly one goroutine —
// the one running inside Run — ever touches books, matcher, or journal;
// every other interaction happens through Submit and the EventSink.
type Engine struct {
	books   map[common.InstrumentId]*book.OrderBook
	matcher *matcher.Matcher
	journal *journal.Journal
	events  EventSink

	input chan common.Command
	state common.EngineState

	t *tomb.Tomb
}

// New builds an Engine over instruments, whose book cardinality is fixed
// for the engine's lifetime per spec.md §4.2 ("thereafter immutable in
// cardinality"). journalSink may be nil for a purely in-memory journal.
func New(instruments []common.InstrumentId, policy common.SelfTradePolicy, journalSink journal.Sink, events EventSink) *Engine {
	books := make(map[common.InstrumentId]*book.OrderBook, len(instruments))
	for _, id := range instruments {
		books[id] = book.NewOrderBook(id)
	}
	return &Engine{
		books:   books,
		matcher: matcher.New(policy),
		journal: journal.New(journalSink),
		events:  events,
		input:   make(chan common.Command, defaultQueueSize),
		state:   common.Running,
		t:       new(tomb.Tomb),
	}
}

// Submit enqueues cmd for processing, blocking if the input queue is full
// (spec.md §4.6's sole backpressure mechanism). It returns ErrShutdown
// immediately if the engine has already stopped accepting work.
func (e *Engine) Submit(cmd common.Command) error {
	select {
	case <-e.t.Dying():
		return common.ErrShutdown
	case e.input <- cmd:
		return nil
	}
}

// Run drives the engine's command loop until ctx is canceled or a
// Shutdown command is processed. It blocks until the loop has fully
// stopped, mirroring the teacher's tomb.WithContext supervision idiom
// from internal/net/server.go's Run.
func (e *Engine) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)
	e.t = t

	e.t.Go(func() error {
		return e.loop(ctx)
	})

	log.Info().Msg("engine running")
	return e.t.Wait()
}

// loop is the single owner thread of spec.md §4.6: a blocking receive on
// the input queue, one command processed to completion before the next
// is even dequeued.
func (e *Engine) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil
		case cmd := <-e.input:
			if e.state == common.Stopped {
				e.reject(cmd, common.ErrShutdown)
				continue
			}
			e.dispatch(cmd)
			if e.state == common.Stopped {
				e.drain()
				return nil
			}
		}
	}
}

// drain rejects every command still sitting in the input queue once the
// engine has stopped, per spec.md §7's "pending commands in the queue are
// returned to producers as Rejected(Shutdown)".
func (e *Engine) drain() {
	for {
		select {
		case cmd := <-e.input:
			e.reject(cmd, common.ErrShutdown)
		default:
			return
		}
	}
}

func (e *Engine) reject(cmd common.Command, err error) {
	if cmd.Reply != nil {
		cmd.Reply <- err
	}
}

func (e *Engine) bookFor(instrument common.InstrumentId) (*book.OrderBook, error) {
	b, ok := e.books[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownInstrument, instrument)
	}
	return b, nil
}

// emit pushes an event onto the configured sink, logging and escalating a
// write failure to a Fatal condition (spec.md §7).
func (e *Engine) emit(ev common.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Emit(ev); err != nil {
		log.Error().Err(err).Uint64("seq", ev.Seq).Msg("event sink write failed")
		e.fatal(err)
	}
}

// fatal transitions the engine straight to Stopped; spec.md §7 gives
// journal/event sink failures no recovery path short of operator restart.
func (e *Engine) fatal(err error) {
	log.Error().Err(err).Msg("engine entering Stopped after fatal error")
	e.setState(common.Stopped)
}

// journalAppend records cmd and its derived inverse at cmd.Seq, escalating
// a write failure to Fatal (spec.md §7: journal sink failure is Fatal).
func (e *Engine) journalAppend(cmd common.Command, inverse journal.InverseOp) {
	entry := journal.Entry{Seq: cmd.Seq, Command: cmd, Inverse: inverse}
	if err := e.journal.Append(entry); err != nil {
		log.Error().Err(err).Uint64("seq", cmd.Seq).Msg("journal write failed")
		e.fatal(err)
	}
}
