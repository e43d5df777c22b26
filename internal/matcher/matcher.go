// Package matcher implements spec.md §4.4: price-time-priority matching
// of a taker order against a book's resting liquidity. No method in this
// package performs I/O or mutates anything but the *book.OrderBook passed
// to it — spec.md's Non-goals bar matching from being a source of side
// effects; all outputs flow back through the returned TradeReport.
package matcher

import (
	"fmt"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

// Fill records one maker/taker cross.
type Fill struct {
	MakerOrderID     common.OrderId
	TakerOrderID     common.OrderId
	Maker            *common.Order     // the live maker object, for inverse-op derivation
	MakerIndexBefore common.OrderIndex // maker's locator prior to this fill
	Price            common.Price
	Quantity         common.Quantity
	MakerFullyFilled bool
}

// CanceledMaker records a maker removed by the self-trade policy without
// any fill being recorded against it (spec.md §4.4: "applies the named
// cancellation deterministically before any fill is recorded").
type CanceledMaker struct {
	Maker *common.Order
	Index common.OrderIndex
}

// TakerOutcomeKind tags how the taker's sweep concluded.
type TakerOutcomeKind uint8

const (
	Filled TakerOutcomeKind = iota
	PartiallyRested
	Rejected
	Discarded
)

// TakerOutcome is the disposition of the taker order once the sweep ends.
type TakerOutcome struct {
	Kind  TakerOutcomeKind
	Index common.OrderIndex // valid only when Kind == PartiallyRested
	Err   error             // valid only when Kind == Rejected
}

// TradeReport is the pure result of matching one taker order: every fill
// produced, in the order they occurred (best price first, time priority
// within a level), plus the taker's final disposition.
type TradeReport struct {
	Fills          []Fill
	CanceledMakers []CanceledMaker
	Outcome        TakerOutcome
}

// Matcher applies spec.md §4.4's rules to a single book. It holds no book
// state of its own; SelfTradePolicy is its only configuration.
type Matcher struct {
	SelfTradePolicy common.SelfTradePolicy
}

// New builds a Matcher with the given self-trade policy.
func New(policy common.SelfTradePolicy) *Matcher {
	return &Matcher{SelfTradePolicy: policy}
}

// eligible reports whether a taker can cross a resting level at price p.
func eligible(taker *common.Order, p common.Price) bool {
	if taker.Price.IsMarket() {
		return true
	}
	if taker.Side == common.Bid {
		return taker.Price >= p
	}
	return taker.Price <= p
}

// Place applies a PlaceOrder command to book under m's policy, returning
// the resulting TradeReport. A market order that is not IOC is rejected
// with ErrMarketGTC; other validation (zero quantity, duplicate id) is the
// caller's responsibility per spec.md §7 — Place assumes a well-formed,
// unique order.
func (m *Matcher) Place(b *book.OrderBook, order *common.Order) (*TradeReport, error) {
	if order.OrderType == common.MarketOrder && order.TIF != common.IOC {
		return nil, common.ErrMarketGTC
	}
	if order.TIF == common.FOK {
		return m.placeFOK(b, order)
	}
	return m.sweep(b, order), nil
}

// placeFOK implements the two-phase fill-or-kill check of spec.md §4.4:
// first compute fillable quantity without mutating the book; reject
// outright if it falls short, otherwise execute the sweep normally.
func (m *Matcher) placeFOK(b *book.OrderBook, order *common.Order) (*TradeReport, error) {
	if m.fillable(b, order) < order.Quantity {
		return &TradeReport{
			Outcome: TakerOutcome{Kind: Rejected, Err: common.ErrFokUnfillable},
		}, nil
	}
	return m.sweep(b, order), nil
}

// fillable computes the quantity order could fill against the book's
// current resting liquidity, honoring price eligibility and the
// self-trade policy, without mutating the book.
func (m *Matcher) fillable(b *book.OrderBook, order *common.Order) common.Quantity {
	opposite := b.SideFor(order.Side.Opposite())
	var total common.Quantity
	for _, lvl := range opposite.Items() {
		if !eligible(order, lvl.Price) {
			break
		}
		for _, maker := range lvl.Orders {
			if m.selfTradeBlocksFill(order, maker) {
				if m.SelfTradePolicy == common.CancelTaker || m.SelfTradePolicy == common.CancelBoth {
					// The sweep cancels the taker at this maker.
					return total
				}
				continue
			}
			remaining := order.Quantity - total
			total += min(remaining, maker.Quantity)
			if total >= order.Quantity {
				return total
			}
		}
	}
	return total
}

// selfTradeBlocksFill reports whether the policy forbids any fill at all
// between this taker/maker pair (used only by the read-only FOK probe;
// the mutating sweep applies the full cancellation semantics instead).
func (m *Matcher) selfTradeBlocksFill(taker, maker *common.Order) bool {
	if m.SelfTradePolicy == common.Allow {
		return false
	}
	return taker.AccountRef == maker.AccountRef
}

// sweep performs the mutating price-time-priority sweep of spec.md §4.4
// and applies TIF disposition to any remainder.
func (m *Matcher) sweep(b *book.OrderBook, taker *common.Order) *TradeReport {
	report := &TradeReport{}
	opposite := b.SideFor(taker.Side.Opposite())
	takerCanceled := false

	for taker.Quantity > 0 {
		lvl, ok := opposite.Best()
		if !ok || !eligible(taker, lvl.Price) {
			break
		}

		maker := lvl.Head()
		if maker == nil {
			opposite.Delete(lvl)
			continue
		}

		if m.SelfTradePolicy != common.Allow && taker.AccountRef == maker.AccountRef {
			makerCanceled, takerDone := m.applySelfTradePolicy(b, taker, maker, lvl)
			if makerCanceled {
				report.CanceledMakers = append(report.CanceledMakers, CanceledMaker{
					Maker: maker,
					Index: common.OrderIndex{Side: maker.Side, Price: maker.Price, Memo: maker.Memo},
				})
			}
			if takerDone {
				// Taker itself was canceled; stop the sweep entirely.
				takerCanceled = true
				break
			}
			continue
		}

		qty := min(taker.Quantity, maker.Quantity)
		makerIdx := common.OrderIndex{Side: maker.Side, Price: maker.Price, Memo: maker.Memo}
		taker.Quantity -= qty
		maker.Quantity -= qty

		fullyFilled := maker.Quantity == 0
		report.Fills = append(report.Fills, Fill{
			MakerOrderID:     maker.ID,
			TakerOrderID:     taker.ID,
			Maker:            maker,
			MakerIndexBefore: makerIdx,
			Price:            maker.Price,
			Quantity:         qty,
			MakerFullyFilled: fullyFilled,
		})

		if fullyFilled {
			lvl.PopHead()
			b.Untrack(maker.ID)
			if lvl.IsEmpty() {
				opposite.Delete(lvl)
			}
		}
	}

	if takerCanceled {
		report.Outcome = TakerOutcome{Kind: Discarded}
		return report
	}
	report.Outcome = m.disposeRemainder(b, taker)
	return report
}

// applySelfTradePolicy enforces the configured policy against one
// maker/taker pair before any fill is recorded, per spec.md §4.4. It
// returns whether the maker was canceled and whether the taker itself
// was canceled (the latter means the sweep must stop).
func (m *Matcher) applySelfTradePolicy(b *book.OrderBook, taker, maker *common.Order, lvl *book.PriceLevel) (makerCanceled, takerCanceled bool) {
	switch m.SelfTradePolicy {
	case common.CancelMaker, common.CancelBoth:
		lvl.PopHead()
		b.Untrack(maker.ID)
		if lvl.IsEmpty() {
			b.SideFor(maker.Side).Delete(lvl)
		}
		makerCanceled = true
	}
	switch m.SelfTradePolicy {
	case common.CancelTaker, common.CancelBoth:
		taker.Quantity = 0
		takerCanceled = true
	}
	return makerCanceled, takerCanceled
}

// disposeRemainder applies TIF semantics to whatever quantity is left on
// taker once the sweep has terminated.
func (m *Matcher) disposeRemainder(b *book.OrderBook, taker *common.Order) TakerOutcome {
	if taker.Quantity == 0 {
		return TakerOutcome{Kind: Filled}
	}
	if taker.TIF != common.GTC {
		// IOC (and market, which is always IOC) discards the remainder.
		return TakerOutcome{Kind: Discarded}
	}
	if taker.Price.IsMarket() {
		// Unreachable given Place's validation, kept as a defensive
		// disposition rather than a panic.
		return TakerOutcome{Kind: Discarded}
	}
	idx := b.PlaceResting(taker)
	return TakerOutcome{Kind: PartiallyRested, Index: idx}
}

// Cancel removes the resting order at id from book. The returned position
// is the order's index within its price level immediately before removal,
// needed to reinstate it at the same spot if this cancel is later rewound.
func (m *Matcher) Cancel(b *book.OrderBook, id common.OrderId) (*common.Order, int, error) {
	idx, ok := b.Lookup(id)
	if !ok {
		return nil, -1, fmt.Errorf("%w: %s", common.ErrOrderNotFound, id)
	}
	return b.RemoveResting(idx)
}

// AmendResult carries everything the engine needs to derive Amend's
// inverse, beyond the TradeReport a fresh Place already produces.
type AmendResult struct {
	Before       common.Order      // full pre-amend snapshot
	BeforeIndex  common.OrderIndex // Before's locator prior to the amend
	BeforePos    int               // Before's position within its level prior to the amend
	Requeued     bool              // true if this amend went through cancel-then-place
}

// Amend applies newPrice/newQuantity to the resting order at id as a
// cancel-then-place, per spec.md §9's resolved Open Question: any price
// change, or any quantity increase, forfeits time priority; a pure
// quantity decrease keeps the order in place since it cannot newly cross
// the book and does not need to requeue behind later arrivals.
func (m *Matcher) Amend(b *book.OrderBook, id common.OrderId, newPrice *common.Price, newQuantity *common.Quantity) (*TradeReport, AmendResult, error) {
	idx, ok := b.Lookup(id)
	if !ok {
		return nil, AmendResult{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, id)
	}
	original, err := b.Resolve(idx)
	if err != nil {
		return nil, AmendResult{}, err
	}
	before := *original
	beforePos := b.PositionOf(idx)

	priceChanged := newPrice != nil && *newPrice != original.Price
	quantityIncreased := newQuantity != nil && *newQuantity > original.Quantity

	result := AmendResult{Before: before, BeforeIndex: idx, BeforePos: beforePos}

	if !priceChanged && !quantityIncreased {
		if newQuantity != nil {
			original.Quantity = *newQuantity
			original.OrigQuantity = *newQuantity
		}
		return &TradeReport{Outcome: TakerOutcome{Kind: PartiallyRested, Index: idx}}, result, nil
	}

	if _, _, err := b.RemoveResting(idx); err != nil {
		return nil, AmendResult{}, err
	}
	result.Requeued = true

	amended := before
	if newPrice != nil {
		amended.Price = *newPrice
	}
	if newQuantity != nil {
		amended.Quantity = *newQuantity
		amended.OrigQuantity = *newQuantity
	}
	amended.Memo = 0

	report, placeErr := m.Place(b, &amended)
	if placeErr != nil {
		return nil, AmendResult{}, placeErr
	}
	return report, result, nil
}
