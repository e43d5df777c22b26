package journal

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"

	"fenrir/internal/common"
)

// FileSink durably appends journal entries to a file, each as a 4-byte
// big-endian length prefix followed by the command encoded in the same
// big-endian, fixed-width style internal/net uses on the wire. Only the
// command is persisted — spec.md §4.5 notes rewind is
// driven from the in-memory journal's derived inverses, never from the
// persisted log, so FileSink exists purely for audit/replay tooling.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewFileSink opens (creating if necessary) path for append and wraps it
// in a buffered writer flushed after every entry.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes entry.Command as one length-prefixed frame.
func (s *FileSink) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := encodeCommand(entry.Command)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(frame)))

	if _, err := s.w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

const instrumentFieldLen = 8

func putInstrumentField(buf []byte, instrument common.InstrumentId) {
	copy(buf, []byte(instrument))
}

// encodeCommand flattens a Command into seq, instrument, kind, and the
// kind-specific payload, mirroring internal/net's wire layout so the same
// eyes reading one can read the other.
func encodeCommand(cmd common.Command) []byte {
	header := make([]byte, 8+instrumentFieldLen+1+8)
	binary.BigEndian.PutUint64(header[0:8], cmd.Seq)
	putInstrumentField(header[8:8+instrumentFieldLen], cmd.Instrument)
	header[8+instrumentFieldLen] = byte(cmd.Kind)
	binary.BigEndian.PutUint64(header[9+instrumentFieldLen:17+instrumentFieldLen], cmd.TsIngress)

	var payload []byte
	switch cmd.Kind {
	case common.CmdPlaceOrder:
		payload = encodePlacePayload(cmd.Place)
	case common.CmdCancelOrder:
		payload = encodeCancelPayload(cmd.Cancel)
	case common.CmdAmendOrder:
		payload = encodeAmendPayload(cmd.Amend)
	case common.CmdRewind:
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, cmd.RewindToSeq)
	}
	return append(header, payload...)
}

func encodePlacePayload(p *common.PlaceOrderPayload) []byte {
	if p == nil {
		return nil
	}
	id := [16]byte(p.OrderID)
	buf := make([]byte, 16+1+1+8+8+1+1+len(p.AccountRef))
	copy(buf[0:16], id[:])
	buf[16] = byte(p.Side)
	buf[17] = byte(p.OrderType)
	binary.BigEndian.PutUint64(buf[18:26], uint64(p.Price))
	binary.BigEndian.PutUint64(buf[26:34], uint64(p.Quantity))
	buf[34] = byte(p.TIF)
	buf[35] = byte(len(p.AccountRef))
	copy(buf[36:], p.AccountRef)
	return buf
}

func encodeCancelPayload(p *common.CancelOrderPayload) []byte {
	if p == nil {
		return nil
	}
	id := [16]byte(p.OrderID)
	return id[:]
}

func encodeAmendPayload(p *common.AmendOrderPayload) []byte {
	if p == nil {
		return nil
	}
	id := [16]byte(p.OrderID)
	buf := append([]byte{}, id[:]...)

	if p.NewPrice != nil {
		priceBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(priceBuf, uint64(*p.NewPrice))
		buf = append(buf, 1)
		buf = append(buf, priceBuf...)
	} else {
		buf = append(buf, 0)
	}

	if p.NewQuantity != nil {
		qtyBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(qtyBuf, uint64(*p.NewQuantity))
		buf = append(buf, 1)
		buf = append(buf, qtyBuf...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
