package net

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"fenrir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

// MessageType tags the wire-level command frame (spec.md §6's command
// taxonomy), extending the teacher's original Heartbeat/NewOrder/
// CancelOrder set with Amend and the engine's control commands.
type MessageType uint8

const (
	MsgPlaceOrder MessageType = iota
	MsgCancelOrder
	MsgAmendOrder
	MsgSuspend
	MsgResume
	MsgRewind
	MsgShutdown
)

// ReportType tags the wire-level event frame, mirroring common.EventKind.
type ReportType uint8

const (
	ReportOrderAccepted ReportType = iota
	ReportOrderRejected
	ReportTrade
	ReportOrderCanceled
	ReportOrderAmended
	ReportPoisonDetected
	ReportRewindComplete
	ReportEngineStateChanged
)

const (
	baseHeaderLen       = 1
	instrumentLen       = 8
	orderIDLen          = 16
	placeOrderFixedLen  = instrumentLen + orderIDLen + 1 + 1 + 8 + 8 + 1 + 1
	cancelOrderFixedLen = instrumentLen + orderIDLen
	rewindFixedLen      = 8
)

// parseCommand decodes one wire frame into a Command. seq is assigned by
// the caller's own sequence allocator; it is not carried on the frame.
func parseCommand(seq uint64, msg []byte) (common.Command, error) {
	if len(msg) < baseHeaderLen {
		return common.Command{}, ErrMessageTooShort
	}
	msgType := MessageType(msg[0])
	body := msg[1:]

	cmd := common.Command{Seq: seq}
	switch msgType {
	case MsgPlaceOrder:
		return parsePlaceOrder(cmd, body)
	case MsgCancelOrder:
		return parseCancelOrder(cmd, body)
	case MsgAmendOrder:
		return parseAmendOrder(cmd, body)
	case MsgSuspend:
		cmd.Kind = common.CmdSuspend
		return cmd, nil
	case MsgResume:
		cmd.Kind = common.CmdResume
		return cmd, nil
	case MsgRewind:
		if len(body) < rewindFixedLen {
			return common.Command{}, ErrMessageTooShort
		}
		cmd.Kind = common.CmdRewind
		cmd.RewindToSeq = binary.BigEndian.Uint64(body[0:8])
		return cmd, nil
	case MsgShutdown:
		cmd.Kind = common.CmdShutdown
		return cmd, nil
	default:
		return common.Command{}, ErrInvalidMessageType
	}
}

// parseInstrument trims the fixed-width, NUL-padded instrument field.
func parseInstrument(b []byte) common.InstrumentId {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return common.InstrumentId(b[:end])
}

func parsePlaceOrder(cmd common.Command, body []byte) (common.Command, error) {
	if len(body) < placeOrderFixedLen {
		return common.Command{}, ErrMessageTooShort
	}
	cmd.Kind = common.CmdPlaceOrder
	cmd.Instrument = parseInstrument(body[0:instrumentLen])
	off := instrumentLen

	id, err := uuid.FromBytes(body[off : off+orderIDLen])
	if err != nil {
		return common.Command{}, common.ErrMalformedOrderID
	}
	off += orderIDLen

	side := common.Side(body[off])
	off++
	orderType := common.OrderType(body[off])
	off++
	price := common.Price(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	qty := common.Quantity(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	tif := common.TimeInForce(body[off])
	off++
	accountLen := int(body[off])
	off++
	if len(body) < off+accountLen {
		return common.Command{}, ErrMessageTooShort
	}
	account := common.AccountRef(body[off : off+accountLen])

	cmd.Place = &common.PlaceOrderPayload{
		OrderID:    common.OrderId(id),
		Side:       side,
		OrderType:  orderType,
		Price:      price,
		Quantity:   qty,
		TIF:        tif,
		AccountRef: account,
	}
	return cmd, nil
}

func parseCancelOrder(cmd common.Command, body []byte) (common.Command, error) {
	if len(body) < cancelOrderFixedLen {
		return common.Command{}, ErrMessageTooShort
	}
	cmd.Kind = common.CmdCancelOrder
	cmd.Instrument = parseInstrument(body[0:instrumentLen])
	id, err := uuid.FromBytes(body[instrumentLen : instrumentLen+orderIDLen])
	if err != nil {
		return common.Command{}, common.ErrMalformedOrderID
	}
	cmd.Cancel = &common.CancelOrderPayload{OrderID: common.OrderId(id)}
	return cmd, nil
}

// parseAmendOrder decodes instrument, order id, then two optional fields
// each guarded by a one-byte presence flag.
func parseAmendOrder(cmd common.Command, body []byte) (common.Command, error) {
	if len(body) < cancelOrderFixedLen+2 {
		return common.Command{}, ErrMessageTooShort
	}
	cmd.Kind = common.CmdAmendOrder
	cmd.Instrument = parseInstrument(body[0:instrumentLen])
	off := instrumentLen

	id, err := uuid.FromBytes(body[off : off+orderIDLen])
	if err != nil {
		return common.Command{}, common.ErrMalformedOrderID
	}
	off += orderIDLen

	payload := &common.AmendOrderPayload{OrderID: common.OrderId(id)}

	hasPrice := body[off] != 0
	off++
	if hasPrice {
		if len(body) < off+8 {
			return common.Command{}, ErrMessageTooShort
		}
		p := common.Price(binary.BigEndian.Uint64(body[off : off+8]))
		payload.NewPrice = &p
		off += 8
	}

	if len(body) < off+1 {
		return common.Command{}, ErrMessageTooShort
	}
	hasQty := body[off] != 0
	off++
	if hasQty {
		if len(body) < off+8 {
			return common.Command{}, ErrMessageTooShort
		}
		q := common.Quantity(binary.BigEndian.Uint64(body[off : off+8]))
		payload.NewQuantity = &q
	}

	cmd.Amend = payload
	return cmd, nil
}

// serializeEvent encodes ev for delivery to its originating session,
// following the teacher's Report.Serialize fixed-header idiom.
func serializeEvent(ev common.Event) []byte {
	switch ev.Kind {
	case common.EvTrade:
		return serializeTrade(ev)
	case common.EvOrderRejected, common.EvPoisonDetected:
		return serializeErrorLike(ev)
	case common.EvRewindComplete:
		buf := make([]byte, 1+8)
		buf[0] = byte(ReportRewindComplete)
		binary.BigEndian.PutUint64(buf[1:9], ev.ToSeq)
		return buf
	case common.EvEngineStateChanged:
		buf := make([]byte, 1+1)
		buf[0] = byte(ReportEngineStateChanged)
		buf[1] = byte(ev.State)
		return buf
	default:
		return serializeOrderEvent(ev)
	}
}

func reportTypeFor(kind common.EventKind) ReportType {
	switch kind {
	case common.EvOrderAccepted:
		return ReportOrderAccepted
	case common.EvOrderCanceled:
		return ReportOrderCanceled
	case common.EvOrderAmended:
		return ReportOrderAmended
	default:
		return ReportOrderAccepted
	}
}

func serializeOrderEvent(ev common.Event) []byte {
	idBytes, _ := uuid.UUID(ev.OrderID).MarshalBinary()
	buf := make([]byte, 1+orderIDLen+1)
	buf[0] = byte(reportTypeFor(ev.Kind))
	copy(buf[1:1+orderIDLen], idBytes)
	rested := byte(0)
	if ev.Rested {
		rested = 1
	}
	buf[1+orderIDLen] = rested
	return buf
}

func serializeTrade(ev common.Event) []byte {
	makerBytes, _ := uuid.UUID(ev.MakerID).MarshalBinary()
	takerBytes, _ := uuid.UUID(ev.TakerID).MarshalBinary()
	buf := make([]byte, 1+orderIDLen+orderIDLen+8+8)
	buf[0] = byte(ReportTrade)
	off := 1
	copy(buf[off:off+orderIDLen], makerBytes)
	off += orderIDLen
	copy(buf[off:off+orderIDLen], takerBytes)
	off += orderIDLen
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(ev.Price))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(ev.Quantity))
	return buf
}

// serializeErrorLike packs OrderRejected/PoisonDetected, whose payload is
// just a seq plus a length-prefixed reason string.
func serializeErrorLike(ev common.Event) []byte {
	reason := ""
	if ev.Reason != nil {
		reason = ev.Reason.Error()
	}
	reportType := ReportOrderRejected
	if ev.Kind == common.EvPoisonDetected {
		reportType = ReportPoisonDetected
	}
	buf := make([]byte, 1+8+4+len(reason))
	buf[0] = byte(reportType)
	binary.BigEndian.PutUint64(buf[1:9], ev.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(reason)))
	copy(buf[13:], reason)
	return buf
}
