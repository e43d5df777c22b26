package engine

import (
	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/journal"
	"fenrir/internal/matcher"
)

// apply is the single entry point for the three business command kinds;
// it always runs under applyGuarded's panic boundary.
func (e *Engine) apply(cmd common.Command) {
	switch cmd.Kind {
	case common.CmdPlaceOrder:
		e.applyPlace(cmd)
	case common.CmdCancelOrder:
		e.applyCancel(cmd)
	case common.CmdAmendOrder:
		e.applyAmend(cmd)
	}
}

// rejectValidation records a Noop journal entry (the book was never
// touched) and emits OrderRejected, per spec.md §7's validation/logic
// error taxonomy.
func (e *Engine) rejectValidation(cmd common.Command, orderID common.OrderId, err error) {
	e.journalAppend(cmd, journal.Noop{})
	log.Info().Uint64("seq", cmd.Seq).Err(err).Msg("order rejected")
	e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderRejected, OrderID: orderID, Reason: err})
}

func (e *Engine) applyPlace(cmd common.Command) {
	p := cmd.Place
	b, err := e.bookFor(cmd.Instrument)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}
	if p.Quantity == 0 {
		e.rejectValidation(cmd, p.OrderID, common.ErrZeroQuantity)
		return
	}
	if _, exists := b.Lookup(p.OrderID); exists {
		e.rejectValidation(cmd, p.OrderID, common.ErrDuplicateOrderID)
		return
	}

	order := &common.Order{
		ID:           p.OrderID,
		Instrument:   cmd.Instrument,
		Side:         p.Side,
		OrderType:    p.OrderType,
		Price:        p.Price,
		OrigQuantity: p.Quantity,
		Quantity:     p.Quantity,
		TIF:          p.TIF,
		AccountRef:   p.AccountRef,
		Seq:          cmd.Seq,
		TsIngress:    cmd.TsIngress,
	}

	report, err := e.matcher.Place(b, order)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}
	if report.Outcome.Kind == matcher.Rejected {
		e.rejectValidation(cmd, p.OrderID, report.Outcome.Err)
		return
	}

	e.journalAppend(cmd, derivePlaceInverse(report))
	e.emitPlaceEvents(cmd, order, report)
}

func (e *Engine) applyCancel(cmd common.Command) {
	p := cmd.Cancel
	b, err := e.bookFor(cmd.Instrument)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}

	order, pos, err := e.matcher.Cancel(b, p.OrderID)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}

	inverse := journal.ReplaceOrder{Snapshot: *order, Memo: order.Memo, Position: pos}
	e.journalAppend(cmd, inverse)
	e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderCanceled, OrderID: order.ID})
}

func (e *Engine) applyAmend(cmd common.Command) {
	p := cmd.Amend
	if p.NewPrice == nil && p.NewQuantity == nil {
		e.rejectValidation(cmd, p.OrderID, common.ErrAmendNoFields)
		return
	}

	b, err := e.bookFor(cmd.Instrument)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}

	report, result, err := e.matcher.Amend(b, p.OrderID, p.NewPrice, p.NewQuantity)
	if err != nil {
		e.rejectValidation(cmd, p.OrderID, err)
		return
	}

	if !result.Requeued {
		// In-place quantity decrease: no requeue, so the inverse removes the
		// amended order from its unchanged slot and restores the pre-amend
		// snapshot there.
		inverse := journal.ReplaceOrder{
			Snapshot:    result.Before,
			Memo:        result.BeforeIndex.Memo,
			Position:    result.BeforePos,
			RemoveFirst: true,
			Current:     result.BeforeIndex,
		}
		e.journalAppend(cmd, inverse)
		e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderAmended, OrderID: result.Before.ID})
		return
	}

	// Requeued: the amend ran as cancel-then-place. Its inverse undoes the
	// synthetic place (derivePlaceInverse already removes any new resting
	// remainder and reinstates anything it matched), then restores the
	// pre-amend order at its original slot.
	placeInverse := derivePlaceInverse(report)
	var ops []journal.InverseOp
	if placeInverse.Tag() != journal.TagNoop {
		ops = append(ops, placeInverse)
	}
	ops = append(ops, journal.ReplaceOrder{
		Snapshot: result.Before,
		Memo:     result.BeforeIndex.Memo,
		Position: result.BeforePos,
	})

	var inverse journal.InverseOp = journal.Composite{Ops: ops}
	if len(ops) == 1 {
		inverse = ops[0]
	}
	e.journalAppend(cmd, inverse)
	e.emitAmendEvents(cmd, result, report)
}

// derivePlaceInverse builds the InverseOp for a PlaceOrder (or the
// synthetic place inside an Amend), per spec.md §4.5's inverse table:
// fills are undone by reinstating makers, self-trade-canceled makers are
// restored individually, and a resting remainder is removed outright.
func derivePlaceInverse(report *matcher.TradeReport) journal.InverseOp {
	var ops []journal.InverseOp

	if report.Outcome.Kind == matcher.PartiallyRested {
		ops = append(ops, journal.RemoveOrder{Index: report.Outcome.Index})
	}

	if len(report.Fills) > 0 {
		fills := make([]journal.ReinstateFill, len(report.Fills))
		for i, f := range report.Fills {
			fills[i] = journal.ReinstateFill{
				Maker:      f.Maker,
				Quantity:   f.Quantity,
				WasRemoved: f.MakerFullyFilled,
				Memo:       f.MakerIndexBefore.Memo,
				Position:   0,
			}
		}
		ops = append(ops, journal.ReinstateFills{Fills: fills})
	}

	for i := len(report.CanceledMakers) - 1; i >= 0; i-- {
		cm := report.CanceledMakers[i]
		ops = append(ops, journal.ReplaceOrder{
			Snapshot: *cm.Maker,
			Memo:     cm.Index.Memo,
			Position: 0,
		})
	}

	switch len(ops) {
	case 0:
		return journal.Noop{}
	case 1:
		return ops[0]
	default:
		return journal.Composite{Ops: ops}
	}
}

func (e *Engine) emitPlaceEvents(cmd common.Command, order *common.Order, report *matcher.TradeReport) {
	rested := report.Outcome.Kind == matcher.PartiallyRested
	var idx *common.OrderIndex
	if rested {
		i := report.Outcome.Index
		idx = &i
	}
	e.emit(common.Event{
		Seq:     cmd.Seq,
		Kind:    common.EvOrderAccepted,
		OrderID: order.ID,
		Rested:  rested,
		Index:   idx,
	})

	for _, cm := range report.CanceledMakers {
		e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderCanceled, OrderID: cm.Maker.ID})
	}
	for _, f := range report.Fills {
		e.emit(common.Event{
			Seq:      cmd.Seq,
			Kind:     common.EvTrade,
			MakerID:  f.MakerOrderID,
			TakerID:  f.TakerOrderID,
			Price:    f.Price,
			Quantity: f.Quantity,
		})
	}

	if report.Outcome.Kind == matcher.Discarded {
		// The taker never rested: either IOC/FOK disposed of its remainder,
		// or the self-trade policy canceled it outright.
		e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderCanceled, OrderID: order.ID})
	}
}

func (e *Engine) emitAmendEvents(cmd common.Command, result matcher.AmendResult, report *matcher.TradeReport) {
	e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderAmended, OrderID: result.Before.ID})
	for _, cm := range report.CanceledMakers {
		e.emit(common.Event{Seq: cmd.Seq, Kind: common.EvOrderCanceled, OrderID: cm.Maker.ID})
	}
	for _, f := range report.Fills {
		e.emit(common.Event{
			Seq:      cmd.Seq,
			Kind:     common.EvTrade,
			MakerID:  f.MakerOrderID,
			TakerID:  f.TakerOrderID,
			Price:    f.Price,
			Quantity: f.Quantity,
		})
	}
}
