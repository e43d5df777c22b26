// Command client is a reference CLI for the TCP wire protocol defined in
// internal/net: enough to place, cancel, and amend orders and watch the
// resulting event stream print to stdout.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	instrument := flag.String("instrument", "BTC-USD", "instrument id (max 8 chars)")
	account := flag.String("account", "", "account reference attached to placed orders")
	action := flag.String("action", "place", "action to perform: place|cancel|amend|suspend|resume|rewind|shutdown")

	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit' or 'market'")
	tifStr := flag.String("tif", "gtc", "time in force: gtc|ioc|fok")
	price := flag.Uint64("price", 100, "limit price (ignored for market orders)")
	qty := flag.Uint64("qty", 10, "order quantity")

	orderID := flag.String("order-id", "", "order id to cancel/amend")
	newPrice := flag.Int64("new-price", -1, "amend: new price, or -1 to leave unchanged")
	newQty := flag.Int64("new-qty", -1, "amend: new quantity, or -1 to leave unchanged")
	rewindTo := flag.Uint64("rewind-to-seq", 0, "rewind: the sequence number to rewind to")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *serverAddr)

	go readEvents(conn)

	switch strings.ToLower(*action) {
	case "place":
		side := common.Bid
		if strings.ToLower(*sideStr) == "sell" {
			side = common.Ask
		}
		orderType := common.LimitOrder
		p := common.Price(*price)
		if strings.ToLower(*typeStr) == "market" {
			orderType = common.MarketOrder
			p = 0
		}
		tif := parseTIF(*tifStr)

		id := uuid.New()
		if err := sendPlaceOrder(conn, *instrument, id, side, orderType, p, common.Quantity(*qty), tif, *account); err != nil {
			log.Printf("failed to place order: %v", err)
		} else {
			fmt.Printf("-> sent place order %s %s %d @ %d (id=%s)\n", *sideStr, *instrument, *qty, *price, id)
		}

	case "cancel":
		id := mustParseOrderID(*orderID)
		if err := sendCancelOrder(conn, *instrument, id); err != nil {
			log.Printf("failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> sent cancel request for %s\n", id)
		}

	case "amend":
		id := mustParseOrderID(*orderID)
		var pricePtr *common.Price
		if *newPrice >= 0 {
			p := common.Price(*newPrice)
			pricePtr = &p
		}
		var qtyPtr *common.Quantity
		if *newQty >= 0 {
			q := common.Quantity(*newQty)
			qtyPtr = &q
		}
		if err := sendAmendOrder(conn, *instrument, id, pricePtr, qtyPtr); err != nil {
			log.Printf("failed to send amend request: %v", err)
		} else {
			fmt.Printf("-> sent amend request for %s\n", id)
		}

	case "suspend":
		sendControl(conn, fenrirNet.MsgSuspend)
	case "resume":
		sendControl(conn, fenrirNet.MsgResume)
	case "shutdown":
		sendControl(conn, fenrirNet.MsgShutdown)
	case "rewind":
		sendRewind(conn, *rewindTo)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for events... (press ctrl+c to exit)")
	select {}
}

func parseTIF(s string) common.TimeInForce {
	switch strings.ToLower(s) {
	case "ioc":
		return common.IOC
	case "fok":
		return common.FOK
	default:
		return common.GTC
	}
}

func mustParseOrderID(s string) uuid.UUID {
	if s == "" {
		log.Fatal("error: -order-id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		log.Fatalf("invalid -order-id: %v", err)
	}
	return id
}

func putInstrument(buf []byte, instrument string) {
	copy(buf, instrument)
}

func sendPlaceOrder(conn net.Conn, instrument string, id uuid.UUID, side common.Side, orderType common.OrderType, price common.Price, qty common.Quantity, tif common.TimeInForce, account string) error {
	instrumentBuf := make([]byte, 8)
	putInstrument(instrumentBuf, instrument)

	body := append([]byte{}, instrumentBuf...)
	body = append(body, id[:]...)
	body = append(body, byte(side), byte(orderType))
	priceBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(priceBuf, uint64(price))
	body = append(body, priceBuf...)
	qtyBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(qtyBuf, uint64(qty))
	body = append(body, qtyBuf...)
	body = append(body, byte(tif), byte(len(account)))
	body = append(body, account...)

	msg := append([]byte{byte(fenrirNet.MsgPlaceOrder)}, body...)
	_, err := conn.Write(msg)
	return err
}

func sendCancelOrder(conn net.Conn, instrument string, id uuid.UUID) error {
	instrumentBuf := make([]byte, 8)
	putInstrument(instrumentBuf, instrument)

	body := append([]byte{}, instrumentBuf...)
	body = append(body, id[:]...)

	msg := append([]byte{byte(fenrirNet.MsgCancelOrder)}, body...)
	_, err := conn.Write(msg)
	return err
}

func sendAmendOrder(conn net.Conn, instrument string, id uuid.UUID, newPrice *common.Price, newQty *common.Quantity) error {
	instrumentBuf := make([]byte, 8)
	putInstrument(instrumentBuf, instrument)

	body := append([]byte{}, instrumentBuf...)
	body = append(body, id[:]...)

	if newPrice != nil {
		priceBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(priceBuf, uint64(*newPrice))
		body = append(body, 1)
		body = append(body, priceBuf...)
	} else {
		body = append(body, 0)
	}

	if newQty != nil {
		qtyBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(qtyBuf, uint64(*newQty))
		body = append(body, 1)
		body = append(body, qtyBuf...)
	} else {
		body = append(body, 0)
	}

	msg := append([]byte{byte(fenrirNet.MsgAmendOrder)}, body...)
	_, err := conn.Write(msg)
	return err
}

func sendControl(conn net.Conn, msgType fenrirNet.MessageType) {
	if _, err := conn.Write([]byte{byte(msgType)}); err != nil {
		log.Printf("failed to send control command: %v", err)
		return
	}
	fmt.Printf("-> sent %d\n", msgType)
}

func sendRewind(conn net.Conn, toSeq uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, toSeq)
	msg := append([]byte{byte(fenrirNet.MsgRewind)}, buf...)
	if _, err := conn.Write(msg); err != nil {
		log.Printf("failed to send rewind request: %v", err)
		return
	}
	fmt.Printf("-> sent rewind to seq %d\n", toSeq)
}

// readEvents continuously reads from the server and prints a
// human-readable line for the event frame at the start of each read.
// Frames that arrive together in a single read are not split apart; only
// the first of them is printed.
func readEvents(conn net.Conn) {
	buffer := make([]byte, 4*1024)
	for {
		n, err := conn.Read(buffer)
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}
		printEvent(buffer[:n])
	}
}

func printEvent(frame []byte) {
	if len(frame) == 0 {
		return
	}
	reportType := fenrirNet.ReportType(frame[0])
	switch reportType {
	case fenrirNet.ReportTrade:
		if len(frame) < 1+16+16+8+8 {
			return
		}
		makerID, _ := uuid.FromBytes(frame[1:17])
		takerID, _ := uuid.FromBytes(frame[17:33])
		price := binary.BigEndian.Uint64(frame[33:41])
		qty := binary.BigEndian.Uint64(frame[41:49])
		fmt.Printf("\n[TRADE] maker=%s taker=%s price=%d qty=%d\n", makerID, takerID, price, qty)

	case fenrirNet.ReportOrderRejected, fenrirNet.ReportPoisonDetected:
		if len(frame) < 1+8+4 {
			return
		}
		seq := binary.BigEndian.Uint64(frame[1:9])
		reasonLen := binary.BigEndian.Uint32(frame[9:13])
		reason := ""
		if int(reasonLen) <= len(frame)-13 {
			reason = string(frame[13 : 13+reasonLen])
		}
		label := "REJECTED"
		if reportType == fenrirNet.ReportPoisonDetected {
			label = "POISON"
		}
		fmt.Printf("\n[%s] seq=%d reason=%s\n", label, seq, reason)

	case fenrirNet.ReportRewindComplete:
		if len(frame) < 1+8 {
			return
		}
		toSeq := binary.BigEndian.Uint64(frame[1:9])
		fmt.Printf("\n[REWIND COMPLETE] to_seq=%d\n", toSeq)

	case fenrirNet.ReportEngineStateChanged:
		if len(frame) < 2 {
			return
		}
		fmt.Printf("\n[ENGINE STATE] %d\n", frame[1])

	default:
		if len(frame) < 1+16+1 {
			return
		}
		id, _ := uuid.FromBytes(frame[1:17])
		rested := frame[17] != 0
		label := "ORDER ACCEPTED"
		switch reportType {
		case fenrirNet.ReportOrderCanceled:
			label = "ORDER CANCELED"
		case fenrirNet.ReportOrderAmended:
			label = "ORDER AMENDED"
		}
		fmt.Printf("\n[%s] id=%s rested=%v\n", label, id, rested)
	}
}

