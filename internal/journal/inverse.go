// Package journal implements spec.md §4.5: an append-only log of applied
// commands paired with the inverse operation that undoes each one, plus
// the rewind protocol that replays inverses back to a target sequence.
package journal

import (
	"fenrir/internal/book"
	"fenrir/internal/common"
)

// InverseTag identifies an InverseOp's concrete type on the wire (spec.md
// §6's journal layout: "inverse_tag: u8").
type InverseTag uint8

const (
	TagNoop InverseTag = iota
	TagRemoveOrder
	TagReinstateFills
	TagReplaceOrder
	TagComposite
)

// InverseOp undoes the effect its paired forward command had on a book.
// Applying InverseOp to the post-state of its command must yield the
// command's pre-state exactly (spec.md's "left-inverse" requirement).
type InverseOp interface {
	Tag() InverseTag
	Apply(b *book.OrderBook) error
}

// Noop is the inverse of a rejected command: it never touched the book.
type Noop struct{}

func (Noop) Tag() InverseTag            { return TagNoop }
func (Noop) Apply(*book.OrderBook) error { return nil }

// RemoveOrder is the inverse of a PlaceOrder that rested (fully or
// partially). Applying it deletes the order the forward command created.
type RemoveOrder struct {
	Index common.OrderIndex
}

func (RemoveOrder) Tag() InverseTag { return TagRemoveOrder }

func (op RemoveOrder) Apply(b *book.OrderBook) error {
	_, _, err := b.RemoveResting(op.Index)
	return err
}

// ReinstateFill undoes a single fill recorded against a maker: it adds
// the filled quantity back onto the maker, and — if the maker had been
// fully consumed and removed from its level — reinserts it at exactly its
// original memo and position, preserving time priority (spec.md's I4).
type ReinstateFill struct {
	Maker     *common.Order // the live order object the fill consumed from
	Quantity  common.Quantity
	WasRemoved bool
	Memo      common.Memo
	Position  int
}

// ReinstateFills is the inverse of a PlaceOrder that matched one or more
// makers, whether or not the taker itself ended up resting.
type ReinstateFills struct {
	Fills []ReinstateFill
}

func (ReinstateFills) Tag() InverseTag { return TagReinstateFills }

func (op ReinstateFills) Apply(b *book.OrderBook) error {
	// Undo in reverse fill order so a maker consumed across two separate
	// sweep steps (not possible today, but kept for composability) would
	// unwind innermost-first.
	for i := len(op.Fills) - 1; i >= 0; i-- {
		f := op.Fills[i]
		f.Maker.Quantity += f.Quantity
		if f.WasRemoved {
			b.ReinstateAt(f.Maker, f.Memo, f.Position)
		}
	}
	return nil
}

// ReplaceOrder is the inverse of CancelOrder and AmendOrder: it restores
// the order's exact pre-command snapshot at its original memo/position.
//
// When the forward command left an order resting under the same id (an
// in-place AmendOrder quantity decrease), that order must be removed from
// its *current* locator before the pre-amend snapshot can be reinstated at
// its *original* one. RemoveFirst/Current carry that removal step.
// CancelOrder's inverse never sets RemoveFirst, since there is no order
// left to remove; a requeued AmendOrder's inverse removes the new resting
// remainder with a RemoveOrder placed ahead of this op in a Composite.
type ReplaceOrder struct {
	Snapshot    common.Order
	Memo        common.Memo
	Position    int
	RemoveFirst bool
	Current     common.OrderIndex
}

func (ReplaceOrder) Tag() InverseTag { return TagReplaceOrder }

func (op ReplaceOrder) Apply(b *book.OrderBook) error {
	if op.RemoveFirst {
		if _, _, err := b.RemoveResting(op.Current); err != nil {
			return err
		}
	}
	order := op.Snapshot
	b.ReinstateAt(&order, op.Memo, op.Position)
	return nil
}

// Composite chains several inverse ops, applied in slice order. Used for
// "PlaceOrder that partially filled and rested", whose inverse is
// ReinstateFills + RemoveOrder per spec.md §4.5's table.
type Composite struct {
	Ops []InverseOp
}

func (Composite) Tag() InverseTag { return TagComposite }

func (op Composite) Apply(b *book.OrderBook) error {
	for _, inner := range op.Ops {
		if err := inner.Apply(b); err != nil {
			return err
		}
	}
	return nil
}
