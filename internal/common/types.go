// Package common holds the value types shared by the book, matcher,
// journal, engine, and net packages: the vocabulary of the matching core.
package common

import "github.com/google/uuid"

// InstrumentId selects which book a command addresses, e.g. "BTC-USD".
type InstrumentId string

// OrderId is the external handle for an order, supplied by the caller at
// ingress. The engine never mints one itself.
type OrderId uuid.UUID

func (id OrderId) String() string {
	return uuid.UUID(id).String()
}

// ParseOrderId parses a UUID string into an OrderId.
func ParseOrderId(s string) (OrderId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return OrderId{}, err
	}
	return OrderId(u), nil
}

// Price is a strictly positive integer in the instrument's quote-precision
// units. Zero means "no price" and is reserved for market orders.
type Price uint64

// IsMarket reports whether this price marks a market (unbounded) order.
func (p Price) IsMarket() bool { return p == 0 }

// Quantity is a strictly positive integer in base-asset precision units.
type Quantity uint64

// Side is one of Bid or Ask.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "Bid"
	}
	return "Ask"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// TimeInForce controls what happens to a taker's remainder once the
// matcher's sweep terminates.
type TimeInForce uint8

const (
	GTC TimeInForce = iota
	IOC
	FOK
)

func (tif TimeInForce) String() string {
	switch tif {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "unknown"
	}
}

// OrderType distinguishes a limit order (rests at its Price) from a
// market order (unbounded price, must be IOC).
type OrderType uint8

const (
	LimitOrder OrderType = iota
	MarketOrder
)

func (t OrderType) String() string {
	if t == LimitOrder {
		return "Limit"
	}
	return "Market"
}

// AccountRef is opaque to the engine; it is only ever compared for
// equality by the self-trade policy.
type AccountRef string

// SelfTradePolicy controls what happens when a resting maker and the
// incoming taker share the same AccountRef.
type SelfTradePolicy uint8

const (
	// Allow lets the trade proceed as normal.
	Allow SelfTradePolicy = iota
	// CancelTaker discards the taker's remaining quantity without filling
	// against this maker.
	CancelTaker
	// CancelMaker removes the maker from the book without filling against
	// this taker, then the taker continues its sweep.
	CancelMaker
	// CancelBoth cancels the maker and discards the taker's remainder.
	CancelBoth
)

// Order is owned exclusively by the PriceLevel that contains it.
type Order struct {
	ID           OrderId
	Instrument   InstrumentId
	Side         Side
	OrderType    OrderType
	Price        Price // zero for market orders
	OrigQuantity Quantity
	Quantity     Quantity // remaining quantity
	TIF          TimeInForce
	AccountRef   AccountRef
	Seq          uint64 // submit sequence number assigned at ingress
	TsIngress    uint64 // opaque ordering token from the command envelope

	// Memo is assigned by the PriceLevel on insertion; zero until then.
	Memo Memo
}

// Memo is the per-price-level monotonically increasing counter assigned
// to an order when it is inserted into a PriceLevel.
type Memo uint64

// OrderIndex is the internal locator for a resting order: the level it
// sits on plus its memo slot within that level.
type OrderIndex struct {
	Side  Side
	Price Price
	Memo  Memo
}
