// Command server runs the matching engine behind the TCP transport
// defined in internal/net, journaling to a file when -journal is given
// (in memory only otherwise) and logging through zerolog the way the rest
// of this module does.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/journal"
	fenrirNet "fenrir/internal/net"
)

func main() {
	address := flag.String("address", "0.0.0.0", "address to bind the TCP listener to")
	port := flag.Int("port", 9001, "port to bind the TCP listener to")
	instrumentsFlag := flag.String("instruments", "BTC-USD", "comma-separated list of instruments to open books for")
	selfTradePolicy := flag.String("self-trade-policy", "cancel-maker", "allow|cancel-taker|cancel-maker|cancel-both")
	journalPath := flag.String("journal", "", "path to the journal log file; empty disables file persistence")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	instruments := parseInstruments(*instrumentsFlag)
	policy := parseSelfTradePolicy(*selfTradePolicy)

	var sink journal.Sink
	if *journalPath != "" {
		fileSink, err := journal.NewFileSink(*journalPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *journalPath).Msg("unable to open journal file")
		}
		defer fileSink.Close()
		sink = fileSink
	}

	srv := fenrirNet.New(*address, *port, nil)
	eng := engine.New(instruments, policy, sink, srv)
	srv.SetEngine(eng)

	go srv.Run(ctx)

	log.Info().
		Str("address", *address).
		Int("port", *port).
		Strs("instruments", instrumentIDStrings(instruments)).
		Msg("fenrir server started")

	if err := eng.Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine stopped")
	}
	<-ctx.Done()
	os.Exit(0)
}

func parseInstruments(raw string) []common.InstrumentId {
	parts := strings.Split(raw, ",")
	instruments := make([]common.InstrumentId, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		instruments = append(instruments, common.InstrumentId(p))
	}
	return instruments
}

func instrumentIDStrings(instruments []common.InstrumentId) []string {
	out := make([]string, len(instruments))
	for i, id := range instruments {
		out[i] = string(id)
	}
	return out
}

func parseSelfTradePolicy(raw string) common.SelfTradePolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "allow":
		return common.Allow
	case "cancel-taker":
		return common.CancelTaker
	case "cancel-both":
		return common.CancelBoth
	case "cancel-maker":
		return common.CancelMaker
	default:
		log.Warn().Str("value", raw).Msg("unknown self-trade policy, defaulting to cancel-maker")
		return common.CancelMaker
	}
}
