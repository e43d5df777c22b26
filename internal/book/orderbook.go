package book

import (
	"fmt"

	"fenrir/internal/common"
)

// OrderBook is a pair of half-books plus the secondary id->locator map
// that makes cancels and amends O(log L + k) (spec.md §3's OrderIndex).
// It owns no matching logic itself (see internal/matcher). Its sides and
// their levels are exported, and internal/matcher mutates them directly
// during a sweep (popping heads, deleting emptied levels, untracking ids),
// so invariants I1-I5 are kept by this package and the matcher together.
type OrderBook struct {
	Instrument common.InstrumentId
	Bids       *Side
	Asks       *Side

	// index maps an external OrderId to its internal locator. It owns no
	// orders; orders are owned solely by the PriceLevel that holds them.
	index map[common.OrderId]common.OrderIndex
}

// NewOrderBook builds an empty book for instrument.
func NewOrderBook(instrument common.InstrumentId) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		Bids:       NewSide(common.Bid),
		Asks:       NewSide(common.Ask),
		index:      make(map[common.OrderId]common.OrderIndex),
	}
}

// SideFor returns the half-book for side.
func (b *OrderBook) SideFor(side common.Side) *Side {
	if side == common.Bid {
		return b.Bids
	}
	return b.Asks
}

// BestBid returns the best resting bid price, if any.
func (b *OrderBook) BestBid() (common.Price, bool) {
	lvl, ok := b.Bids.Best()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// BestAsk returns the best resting ask price, if any.
func (b *OrderBook) BestAsk() (common.Price, bool) {
	lvl, ok := b.Asks.Best()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// IsCrossed reports whether the book is at rest crossed (best_bid >=
// best_ask), which spec.md's I2 says must never happen.
func (b *OrderBook) IsCrossed() bool {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	return bidOk && askOk && bid >= ask
}

// Track records id's locator. Called once an order is placed onto a
// level, and again by rewind when an order is reinstated.
func (b *OrderBook) Track(id common.OrderId, idx common.OrderIndex) {
	b.index[id] = idx
}

// Untrack removes id's locator. Called once an order is fully filled,
// canceled, or removed by rewind.
func (b *OrderBook) Untrack(id common.OrderId) {
	delete(b.index, id)
}

// Lookup resolves id to its current locator.
func (b *OrderBook) Lookup(id common.OrderId) (common.OrderIndex, bool) {
	idx, ok := b.index[id]
	return idx, ok
}

// Resolve follows idx to the resting order it names, or an error if the
// level or memo no longer exists (state error, per spec.md §7).
func (b *OrderBook) Resolve(idx common.OrderIndex) (*common.Order, error) {
	lvl, ok := b.SideFor(idx.Side).Locate(idx.Price)
	if !ok {
		return nil, fmt.Errorf("%w: no level at price %d", common.ErrOrderNotFound, idx.Price)
	}
	for _, o := range lvl.Orders {
		if o.Memo == idx.Memo {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: memo %d at price %d", common.ErrOrderNotFound, idx.Memo, idx.Price)
}

// PositionOf returns idx's position within its level without removing it,
// or -1 if the level or memo no longer exists.
func (b *OrderBook) PositionOf(idx common.OrderIndex) int {
	lvl, ok := b.SideFor(idx.Side).Locate(idx.Price)
	if !ok {
		return -1
	}
	return lvl.PositionOf(idx.Memo)
}

// RemoveResting removes the order at idx from its level, destroying the
// level if it becomes empty (spec.md's I1). Returns the removed order and
// its position within the level, for inverse-op reinstatement.
func (b *OrderBook) RemoveResting(idx common.OrderIndex) (*common.Order, int, error) {
	side := b.SideFor(idx.Side)
	lvl, ok := side.Locate(idx.Price)
	if !ok {
		return nil, -1, fmt.Errorf("%w: no level at price %d", common.ErrOrderNotFound, idx.Price)
	}
	order, pos, err := lvl.RemoveByMemo(idx.Memo)
	if err != nil {
		return nil, -1, err
	}
	if lvl.IsEmpty() {
		side.Delete(lvl)
	}
	b.Untrack(order.ID)
	return order, pos, nil
}

// PlaceResting inserts order onto its own side at its own price, tracks
// its locator, and returns the assigned OrderIndex. It performs no
// matching; callers that need matching go through internal/matcher.
func (b *OrderBook) PlaceResting(order *common.Order) common.OrderIndex {
	side := b.SideFor(order.Side)
	memo := side.PlaceResting(order)
	idx := common.OrderIndex{Side: order.Side, Price: order.Price, Memo: memo}
	b.Track(order.ID, idx)
	return idx
}

// ReinstateAt reinserts order at exactly memo/position on its side,
// restoring the time priority rewind requires (spec.md's ReinstateFills
// and ReplaceOrder inverse ops).
func (b *OrderBook) ReinstateAt(order *common.Order, memo common.Memo, position int) common.OrderIndex {
	side := b.SideFor(order.Side)
	lvl, ok := side.Locate(order.Price)
	if !ok {
		lvl = NewPriceLevel(order.Price)
		side.InsertAt(lvl)
	}
	lvl.PushAt(order, memo, position)
	idx := common.OrderIndex{Side: order.Side, Price: order.Price, Memo: memo}
	b.Track(order.ID, idx)
	return idx
}
