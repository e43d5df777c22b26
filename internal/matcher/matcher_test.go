package matcher

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

func order(side common.Side, otype common.OrderType, price common.Price, qty common.Quantity, tif common.TimeInForce, account common.AccountRef) *common.Order {
	return &common.Order{
		ID:           common.OrderId(uuid.New()),
		Instrument:   "BTC-USD",
		Side:         side,
		OrderType:    otype,
		Price:        price,
		OrigQuantity: qty,
		Quantity:     qty,
		TIF:          tif,
		AccountRef:   account,
	}
}

func limit(side common.Side, price common.Price, qty common.Quantity) *common.Order {
	return order(side, common.LimitOrder, price, qty, common.GTC, "")
}

func TestPlace_RestsWhenNoCross(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	report, err := m.Place(b, limit(common.Bid, 100, 10))
	require.NoError(t, err)
	assert.Equal(t, PartiallyRested, report.Outcome.Kind)
	assert.Empty(t, report.Fills)
}

func TestPlace_FullFillAgainstSingleMaker(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	maker := limit(common.Ask, 100, 10)
	b.PlaceResting(maker)

	taker := limit(common.Bid, 100, 10)
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	assert.Equal(t, common.Quantity(10), report.Fills[0].Quantity)
	assert.True(t, report.Fills[0].MakerFullyFilled)
	assert.Equal(t, Filled, report.Outcome.Kind)
	assert.True(t, b.Asks.IsEmpty())
}

func TestPlace_PartialFillThenRestsRemainder(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 4))

	taker := limit(common.Bid, 100, 10)
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	require.Len(t, report.Fills, 1)
	assert.Equal(t, common.Quantity(4), report.Fills[0].Quantity)
	assert.Equal(t, PartiallyRested, report.Outcome.Kind)
	assert.Equal(t, common.Quantity(6), taker.Quantity)
}

func TestPlace_SweepsMultipleLevels(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 5))
	b.PlaceResting(limit(common.Ask, 101, 5))

	taker := limit(common.Bid, 101, 8)
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	require.Len(t, report.Fills, 2)
	assert.Equal(t, common.Price(100), report.Fills[0].Price)
	assert.Equal(t, common.Quantity(5), report.Fills[0].Quantity)
	assert.Equal(t, common.Price(101), report.Fills[1].Price)
	assert.Equal(t, common.Quantity(3), report.Fills[1].Quantity)
	assert.Equal(t, Filled, report.Outcome.Kind)
}

func TestPlace_MarketOrderMustBeIOC(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	o := order(common.Bid, common.MarketOrder, 0, 10, common.GTC, "")
	_, err := m.Place(b, o)
	assert.ErrorIs(t, err, common.ErrMarketGTC)
}

func TestPlace_IOCDiscardsRemainder(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 3))

	taker := order(common.Bid, common.LimitOrder, 100, 10, common.IOC, "")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	assert.Equal(t, Discarded, report.Outcome.Kind)
	assert.True(t, b.Bids.IsEmpty(), "IOC remainder never rests")
}

func TestPlace_FOKRejectsWhenUnfillable(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 3))

	taker := order(common.Bid, common.LimitOrder, 100, 10, common.FOK, "")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	assert.Equal(t, Rejected, report.Outcome.Kind)
	assert.ErrorIs(t, report.Outcome.Err, common.ErrFokUnfillable)
	assert.Empty(t, report.Fills, "a rejected FOK must never have mutated the book")
	lvl, ok := b.Asks.Locate(100)
	require.True(t, ok)
	assert.Equal(t, common.Quantity(3), lvl.Orders[0].Quantity)
}

func TestPlace_FOKFillsWhenFullyCoverable(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 6))
	b.PlaceResting(limit(common.Ask, 101, 6))

	taker := order(common.Bid, common.LimitOrder, 101, 10, common.FOK, "")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	assert.Equal(t, Filled, report.Outcome.Kind)
	require.Len(t, report.Fills, 2)
}

func TestSelfTrade_CancelMakerLetsSweepContinue(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.CancelMaker)

	selfMaker := limit(common.Ask, 100, 5)
	selfMaker.AccountRef = "alice"
	otherMaker := limit(common.Ask, 100, 5)
	otherMaker.AccountRef = "bob"
	b.PlaceResting(selfMaker)
	b.PlaceResting(otherMaker)

	taker := order(common.Bid, common.LimitOrder, 100, 5, common.GTC, "alice")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	require.Len(t, report.CanceledMakers, 1)
	assert.Equal(t, selfMaker.ID, report.CanceledMakers[0].Maker.ID)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, otherMaker.ID, report.Fills[0].MakerOrderID)
	assert.Equal(t, Filled, report.Outcome.Kind)
}

func TestSelfTrade_CancelTakerStopsSweepEntirely(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.CancelTaker)

	selfMaker := limit(common.Ask, 100, 5)
	selfMaker.AccountRef = "alice"
	b.PlaceResting(selfMaker)

	taker := order(common.Bid, common.LimitOrder, 100, 5, common.GTC, "alice")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	assert.Empty(t, report.Fills)
	assert.Equal(t, Discarded, report.Outcome.Kind)
	assert.Equal(t, common.Quantity(0), taker.Quantity)
	// The maker was never touched by CancelTaker.
	lvl, ok := b.Asks.Locate(100)
	require.True(t, ok)
	assert.Equal(t, common.Quantity(5), lvl.Orders[0].Quantity)
}

func TestSelfTrade_CancelBothCancelsMakerAndTaker(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.CancelBoth)

	selfMaker := limit(common.Ask, 100, 5)
	selfMaker.AccountRef = "alice"
	b.PlaceResting(selfMaker)

	taker := order(common.Bid, common.LimitOrder, 100, 5, common.GTC, "alice")
	report, err := m.Place(b, taker)
	require.NoError(t, err)

	require.Len(t, report.CanceledMakers, 1)
	assert.Empty(t, report.Fills)
	assert.Equal(t, Discarded, report.Outcome.Kind)
	assert.True(t, b.Asks.IsEmpty())
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	resting := limit(common.Bid, 100, 5)
	b.PlaceResting(resting)

	removed, pos, err := m.Cancel(b, resting.ID)
	require.NoError(t, err)
	assert.Equal(t, resting.ID, removed.ID)
	assert.Equal(t, 0, pos)
	assert.True(t, b.Bids.IsEmpty())
}

func TestCancel_UnknownOrder(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	_, _, err := m.Cancel(b, common.OrderId(uuid.New()))
	assert.ErrorIs(t, err, common.ErrOrderNotFound)
}

func TestAmend_QuantityDecreaseKeepsPriority(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	resting := limit(common.Bid, 100, 10)
	idx := b.PlaceResting(resting)

	newQty := common.Quantity(4)
	_, result, err := m.Amend(b, resting.ID, nil, &newQty)
	require.NoError(t, err)
	assert.False(t, result.Requeued)

	current, err := b.Resolve(idx)
	require.NoError(t, err)
	assert.Equal(t, newQty, current.Quantity)
}

func TestAmend_PriceChangeRequeuesAndCanCross(t *testing.T) {
	b := book.NewOrderBook("BTC-USD")
	m := New(common.Allow)

	b.PlaceResting(limit(common.Ask, 100, 5))
	resting := limit(common.Bid, 98, 5)
	b.PlaceResting(resting)

	newPrice := common.Price(100)
	report, result, err := m.Amend(b, resting.ID, &newPrice, nil)
	require.NoError(t, err)
	assert.True(t, result.Requeued)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, Filled, report.Outcome.Kind)
}
