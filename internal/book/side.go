package book

import (
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// priceLevels is the teacher's own type alias for a btree of price levels,
// generalized from a single-book field into the reusable half-book below.
type priceLevels = btree.BTreeG[*PriceLevel]

// Side is a half-book: all the price levels resting on one side of an
// instrument, sorted by price. For bids the best price is the highest;
// for asks the best price is the lowest. Both are stored as a btree whose
// comparator already orders "best first", so Best() is always Min().
type Side struct {
	side common.Side
	tree *priceLevels
}

// NewSide builds an empty half-book for side.
func NewSide(side common.Side) *Side {
	var less func(a, b *PriceLevel) bool
	if side == common.Bid {
		// Sorted greatest first: the highest bid is the book's best bid.
		less = func(a, b *PriceLevel) bool { return a.Price > b.Price }
	} else {
		// Sorted least first: the lowest ask is the book's best ask.
		less = func(a, b *PriceLevel) bool { return a.Price < b.Price }
	}
	return &Side{side: side, tree: btree.NewBTreeG(less)}
}

// Locate returns the level at price, if one exists.
func (s *Side) Locate(price common.Price) (*PriceLevel, bool) {
	return s.tree.GetMut(&PriceLevel{Price: price})
}

// InsertAt installs lvl into the side. Used for both fresh levels and
// rewind's ReplaceOrder inverse op.
func (s *Side) InsertAt(lvl *PriceLevel) {
	s.tree.Set(lvl)
}

// Delete removes lvl from the side. Called once a level's Orders goes
// empty (spec.md's I1: no empty levels exist).
func (s *Side) Delete(lvl *PriceLevel) {
	s.tree.Delete(lvl)
}

// Best returns the side's best price level, the first in matching order,
// per spec.md §3 ("bid side's best is the last
// element; the ask side's best is the first" of the conceptual ascending
// list — realized here as Min() of a side-aware comparator).
func (s *Side) Best() (*PriceLevel, bool) {
	return s.tree.MinMut()
}

// IsEmpty reports whether the side has no resting levels at all.
func (s *Side) IsEmpty() bool {
	return s.tree.Len() == 0
}

// Len returns the number of distinct price levels on this side.
func (s *Side) Len() int {
	return s.tree.Len()
}

// Items returns the side's levels in matching order (best first). Used by
// tests and by the matcher's read-only fill-or-kill probe.
func (s *Side) Items() []*PriceLevel {
	items := make([]*PriceLevel, 0, s.tree.Len())
	s.tree.Scan(func(lvl *PriceLevel) bool {
		items = append(items, lvl)
		return true
	})
	return items
}

// PlaceResting appends order to the level at order.Price, creating the
// level if necessary, and returns the assigned memo.
func (s *Side) PlaceResting(order *common.Order) common.Memo {
	lvl, ok := s.Locate(order.Price)
	if !ok {
		lvl = NewPriceLevel(order.Price)
		s.InsertAt(lvl)
	}
	return lvl.Push(order)
}
