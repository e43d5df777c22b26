package book

import (
	"fmt"

	"fenrir/internal/common"
)

// PriceLevel is the FIFO queue of orders resting at one price. The first
// element of Orders is the time-priority head (earliest arrival). memoSeq
// never decreases for the lifetime of the level, per spec.md's I4.
type PriceLevel struct {
	Price   common.Price
	Orders  []*common.Order
	memoSeq common.Memo
}

// NewPriceLevel creates an empty level at price.
func NewPriceLevel(price common.Price) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Push appends order to the time-priority tail, assigns its memo, and
// returns the assigned memo.
func (lvl *PriceLevel) Push(order *common.Order) common.Memo {
	lvl.memoSeq++
	order.Memo = lvl.memoSeq
	lvl.Orders = append(lvl.Orders, order)
	return order.Memo
}

// PushAt reinstates order at a previously-assigned memo, used by rewind to
// restore exact time priority. memoSeq is bumped forward if necessary so
// it never decreases.
func (lvl *PriceLevel) PushAt(order *common.Order, memo common.Memo, position int) {
	order.Memo = memo
	if memo > lvl.memoSeq {
		lvl.memoSeq = memo
	}
	if position < 0 || position > len(lvl.Orders) {
		position = len(lvl.Orders)
	}
	lvl.Orders = append(lvl.Orders, nil)
	copy(lvl.Orders[position+1:], lvl.Orders[position:])
	lvl.Orders[position] = order
}

// Head returns the earliest order at this level, for matching.
func (lvl *PriceLevel) Head() *common.Order {
	if len(lvl.Orders) == 0 {
		return nil
	}
	return lvl.Orders[0]
}

// PopHead removes the head order, used once it has been fully filled.
func (lvl *PriceLevel) PopHead() {
	if len(lvl.Orders) == 0 {
		return
	}
	lvl.Orders = lvl.Orders[1:]
}

// RemoveByMemo does a linear scan for memo and removes it, returning its
// position (for ReplaceOrder inverse ops) and the removed order.
func (lvl *PriceLevel) RemoveByMemo(memo common.Memo) (*common.Order, int, error) {
	for i, o := range lvl.Orders {
		if o.Memo == memo {
			lvl.Orders = append(lvl.Orders[:i:i], lvl.Orders[i+1:]...)
			return o, i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: memo %d at price %d", common.ErrOrderNotFound, memo, lvl.Price)
}

// IsEmpty reports whether the level has no resting orders; an empty level
// must be destroyed (spec.md's I1).
func (lvl *PriceLevel) IsEmpty() bool {
	return len(lvl.Orders) == 0
}

// PositionOf returns memo's index within the level without removing it, or
// -1 if absent. Used to snapshot an order's slot for a ReplaceOrder inverse
// when the forward command mutates the order in place rather than moving it.
func (lvl *PriceLevel) PositionOf(memo common.Memo) int {
	for i, o := range lvl.Orders {
		if o.Memo == memo {
			return i
		}
	}
	return -1
}
