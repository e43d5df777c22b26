package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func newTestOrder(side common.Side, price common.Price, qty common.Quantity) *common.Order {
	return &common.Order{
		ID:           common.OrderId(uuid.New()),
		Instrument:   "BTC-USD",
		Side:         side,
		OrderType:    common.LimitOrder,
		Price:        price,
		OrigQuantity: qty,
		Quantity:     qty,
		TIF:          common.GTC,
	}
}

func TestOrderBook_PlaceResting_OrdersLevelsByPrice(t *testing.T) {
	b := NewOrderBook("BTC-USD")

	b.PlaceResting(newTestOrder(common.Bid, 99, 10))
	b.PlaceResting(newTestOrder(common.Bid, 101, 10))
	b.PlaceResting(newTestOrder(common.Bid, 100, 10))

	items := b.Bids.Items()
	require.Len(t, items, 3)
	assert.Equal(t, common.Price(101), items[0].Price, "bids iterate best (highest) price first")
	assert.Equal(t, common.Price(100), items[1].Price)
	assert.Equal(t, common.Price(99), items[2].Price)
}

func TestOrderBook_PlaceResting_FIFOWithinLevel(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	first := newTestOrder(common.Ask, 100, 5)
	second := newTestOrder(common.Ask, 100, 7)

	b.PlaceResting(first)
	b.PlaceResting(second)

	lvl, ok := b.Asks.Locate(100)
	require.True(t, ok)
	require.Len(t, lvl.Orders, 2)
	assert.Equal(t, first.ID, lvl.Orders[0].ID, "earliest arrival keeps time priority at the head")
	assert.Equal(t, second.ID, lvl.Orders[1].ID)
}

func TestOrderBook_RemoveResting_DeletesEmptyLevel(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	o := newTestOrder(common.Bid, 100, 5)
	idx := b.PlaceResting(o)

	removed, pos, err := b.RemoveResting(idx)
	require.NoError(t, err)
	assert.Equal(t, o.ID, removed.ID)
	assert.Equal(t, 0, pos)
	assert.True(t, b.Bids.IsEmpty(), "a level that goes empty must be destroyed")

	_, ok := b.Lookup(o.ID)
	assert.False(t, ok)
}

func TestOrderBook_RemoveResting_UnknownIndex(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	_, _, err := b.RemoveResting(common.OrderIndex{Side: common.Bid, Price: 100, Memo: 1})
	assert.ErrorIs(t, err, common.ErrOrderNotFound)
}

func TestOrderBook_ReinstateAt_RestoresTimePriority(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	first := newTestOrder(common.Bid, 100, 5)
	second := newTestOrder(common.Bid, 100, 7)
	b.PlaceResting(first)
	idxSecond := b.PlaceResting(second)

	removed, pos, err := b.RemoveResting(idxSecond)
	require.NoError(t, err)

	b.ReinstateAt(removed, idxSecond.Memo, pos)

	lvl, ok := b.Bids.Locate(100)
	require.True(t, ok)
	require.Len(t, lvl.Orders, 2)
	assert.Equal(t, first.ID, lvl.Orders[0].ID)
	assert.Equal(t, second.ID, lvl.Orders[1].ID)
}

func TestOrderBook_IsCrossed(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	b.PlaceResting(newTestOrder(common.Bid, 100, 5))
	b.PlaceResting(newTestOrder(common.Ask, 101, 5))
	assert.False(t, b.IsCrossed())

	b.PlaceResting(newTestOrder(common.Bid, 102, 5))
	assert.True(t, b.IsCrossed(), "best bid >= best ask must be detectable")
}

func TestOrderBook_PositionOf(t *testing.T) {
	b := NewOrderBook("BTC-USD")
	first := newTestOrder(common.Ask, 100, 5)
	second := newTestOrder(common.Ask, 100, 7)
	b.PlaceResting(first)
	idxSecond := b.PlaceResting(second)

	assert.Equal(t, 1, b.PositionOf(idxSecond))
	assert.Equal(t, -1, b.PositionOf(common.OrderIndex{Side: common.Ask, Price: 999, Memo: 1}))
}
