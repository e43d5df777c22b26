package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

type recordingSink struct {
	events []common.Event
}

func (s *recordingSink) Emit(ev common.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []common.EventKind {
	out := make([]common.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestEngine(sink *recordingSink) *Engine {
	return New([]common.InstrumentId{"BTC-USD"}, common.Allow, nil, sink)
}

func placeCmd(seq uint64, side common.Side, price common.Price, qty common.Quantity, tif common.TimeInForce) (common.Command, common.OrderId) {
	id := common.OrderId(uuid.New())
	return common.Command{
		Seq:        seq,
		Instrument: "BTC-USD",
		Kind:       common.CmdPlaceOrder,
		Place: &common.PlaceOrderPayload{
			OrderID:   id,
			Side:      side,
			OrderType: common.LimitOrder,
			Price:     price,
			Quantity:  qty,
			TIF:       tif,
		},
	}, id
}

func TestEngine_PlaceOrder_AcceptedAndRested(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	cmd, id := placeCmd(0, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd)

	require.Len(t, sink.events, 1)
	assert.Equal(t, common.EvOrderAccepted, sink.events[0].Kind)
	assert.Equal(t, id, sink.events[0].OrderID)
	assert.True(t, sink.events[0].Rested)
	assert.Equal(t, 1, e.journal.Len())
}

func TestEngine_PlaceOrder_RejectsDuplicateID(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	cmd, id := placeCmd(0, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd)

	dup := cmd
	dup.Seq = 1
	dup.Place = &common.PlaceOrderPayload{
		OrderID:   id,
		Side:      common.Bid,
		OrderType: common.LimitOrder,
		Price:     100,
		Quantity:  5,
		TIF:       common.GTC,
	}
	e.dispatch(dup)

	require.Len(t, sink.events, 2)
	assert.Equal(t, common.EvOrderRejected, sink.events[1].Kind)
	assert.ErrorIs(t, sink.events[1].Reason, common.ErrDuplicateOrderID)
}

func TestEngine_PlaceOrder_MatchEmitsTrade(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	makerCmd, makerID := placeCmd(0, common.Ask, 100, 10, common.GTC)
	e.dispatch(makerCmd)

	takerCmd, takerID := placeCmd(1, common.Bid, 100, 10, common.GTC)
	e.dispatch(takerCmd)

	kinds := sink.kinds()
	assert.Contains(t, kinds, common.EvTrade)

	var trade common.Event
	for _, ev := range sink.events {
		if ev.Kind == common.EvTrade {
			trade = ev
		}
	}
	assert.Equal(t, makerID, trade.MakerID)
	assert.Equal(t, takerID, trade.TakerID)
}

func TestEngine_CancelOrder(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	cmd, id := placeCmd(0, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd)

	cancelCmd := common.Command{
		Seq:        1,
		Instrument: "BTC-USD",
		Kind:       common.CmdCancelOrder,
		Cancel:     &common.CancelOrderPayload{OrderID: id},
	}
	e.dispatch(cancelCmd)

	require.Len(t, sink.events, 2)
	assert.Equal(t, common.EvOrderCanceled, sink.events[1].Kind)
	_, ok := e.books["BTC-USD"].Lookup(id)
	assert.False(t, ok)
}

func TestEngine_SuspendRejectsBusinessCommands(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	e.dispatch(common.Command{Seq: 0, Kind: common.CmdSuspend})
	assert.Equal(t, common.Suspended, e.state)

	cmd, _ := placeCmd(1, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd)

	require.Len(t, sink.events, 2)
	assert.Equal(t, common.EvEngineStateChanged, sink.events[0].Kind)
	assert.Equal(t, common.EvOrderRejected, sink.events[1].Kind)
	assert.ErrorIs(t, sink.events[1].Reason, common.ErrEngineSuspended)
}

func TestEngine_Rewind_RestoresPriorBookState(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	cmd1, id1 := placeCmd(0, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd1)
	cmd2, _ := placeCmd(1, common.Ask, 100, 10, common.GTC)
	e.dispatch(cmd2)

	// cmd2 fully matched cmd1's resting order; the book should now be empty.
	_, ok := e.books["BTC-USD"].Lookup(id1)
	assert.False(t, ok)

	e.dispatch(common.Command{Seq: 2, Kind: common.CmdRewind, RewindToSeq: 0})

	_, ok = e.books["BTC-USD"].Lookup(id1)
	assert.True(t, ok, "rewinding past the matching command restores the maker")
	assert.Equal(t, 1, e.journal.Len())
}

func TestEngine_PoisonRecovery_SuspendsAfterRewind(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)

	cmd, _ := placeCmd(0, common.Bid, 100, 10, common.GTC)
	e.dispatch(cmd)

	badCmd := common.Command{
		Seq:        1,
		Instrument: "BTC-USD",
		Kind:       common.CmdPlaceOrder,
		Place:      nil, // triggers a nil-pointer panic inside applyPlace
	}
	e.applyGuarded(badCmd)

	assert.Equal(t, common.Suspended, e.state)
	kinds := sink.kinds()
	assert.Contains(t, kinds, common.EvPoisonDetected)
}
