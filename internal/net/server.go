package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
	"fenrir/internal/utils"
)

const (
	maxRecvSize      = 4 * 1024
	defaultNWorkers  = 10
	defaultConnTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession is one connected TCP session; sessions are addressed by
// the order ids their commands carry, mirroring the teacher's original
// owner-addressed session map but keyed to this protocol's own identity.
type ClientSession struct {
	conn net.Conn
}

// clientMessage links a raw inbound frame to the session address it
// arrived on. Frames stay unparsed (and unsequenced) until sessionHandler
// — the single goroutine that also submits to the engine — assigns a
// seq, so concurrent connection workers can never hand the engine
// commands out of arrival order and break its gapless journal invariant.
type clientMessage struct {
	clientAddress string
	raw           []byte
}

// Engine is the subset of engine.Engine the transport layer depends on.
type Engine interface {
	Submit(cmd common.Command) error
}

// Server bridges TCP connections to an Engine: every inbound frame is
// parsed into a common.Command (assigned the next value off seqCounter)
// and submitted; every Event the engine emits is serialized back out to
// the client session recorded against its originating command, following
// the teacher's worker-pool-plus-session-map architecture.
type Server struct {
	address string
	port    int
	engine  Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex

	// pendingByOrder remembers which client address originated the
	// command carrying a given order id, so an asynchronous Event can be
	// routed back once the engine processes it.
	pendingByOrder     map[common.OrderId]string
	pendingByOrderLock sync.Mutex

	clientMessages chan clientMessage
	seqCounter     atomic.Uint64
}

// New builds a Server fronting engine over address:port. engine may be
// nil at construction time and supplied later via SetEngine, since the
// engine itself takes the Server as its EventSink — callers wire the two
// together after both exist.
func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         engine,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		pendingByOrder: make(map[common.OrderId]string),
		clientMessages: make(chan clientMessage, 1),
	}
}

// SetEngine completes the circular wiring between Server and Engine.
func (s *Server) SetEngine(engine Engine) {
	s.engine = engine
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

// Run starts the listener, the worker pool, and the session handler, then
// blocks accepting connections until ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			log.Info().Msg("listening for new client connections")
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// Emit implements engine.EventSink, serializing ev and writing it back to
// whichever client session originated the order it concerns.
func (s *Server) Emit(ev common.Event) error {
	address, ok := s.addressFor(ev)
	if !ok {
		log.Warn().Str("event", ev.Kind.String()).Msg("no client session for event, dropping")
		return nil
	}

	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[address]
	s.clientSessionsLock.Unlock()
	if !ok {
		return nil
	}

	buf := serializeEvent(ev)
	if _, err := session.conn.Write(buf); err != nil {
		s.deleteClientSession(address)
		return fmt.Errorf("unable to send event: %w", err)
	}
	return nil
}

// addressFor recovers the session address pending commands registered
// for this event's order id; a Trade event is routed by its taker id only.
func (s *Server) addressFor(ev common.Event) (string, bool) {
	s.pendingByOrderLock.Lock()
	defer s.pendingByOrderLock.Unlock()

	id := ev.OrderID
	if ev.Kind == common.EvTrade {
		id = ev.TakerID
	}
	address, ok := s.pendingByOrder[id]
	return address, ok
}

func (s *Server) rememberPending(address string, cmd common.Command) {
	var id common.OrderId
	switch cmd.Kind {
	case common.CmdPlaceOrder:
		id = cmd.Place.OrderID
	case common.CmdCancelOrder:
		id = cmd.Cancel.OrderID
	case common.CmdAmendOrder:
		id = cmd.Amend.OrderID
	default:
		return
	}
	s.pendingByOrderLock.Lock()
	s.pendingByOrder[id] = address
	s.pendingByOrderLock.Unlock()
}

// sessionHandler is the sole assigner of command sequence numbers: it
// parses each frame and submits it to the engine in the order frames
// arrived on this channel, keeping seq gapless regardless of how many
// connection workers raced to enqueue them.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			cmd, err := parseCommand(s.seqCounter.Add(1)-1, msg.raw)
			if err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", msg.clientAddress).
					Msg("error parsing message")
				continue
			}
			s.rememberPending(msg.clientAddress, cmd)
			if err := s.engine.Submit(cmd); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", msg.clientAddress).
					Msg("error submitting command")
			}
		}
	}
}

// handleConnection reads the next frame off conn and forwards it, still
// unparsed, to sessionHandler, then requeues conn for its next message.
// conn is closed only when it is not requeued. Any error returned from
// here is fatal to the worker.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	closeConn := func() {
		if err := conn.Close(); err != nil {
			log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("closing connection")
		}
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		closeConn()
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		closeConn()
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("error reading from connection")
			s.deleteClientSession(conn.RemoteAddr().String())
			closeConn()
			return nil
		}

		raw := make([]byte, n)
		copy(raw, buffer[:n])

		s.clientMessages <- clientMessage{
			clientAddress: conn.RemoteAddr().String(),
			raw:           raw,
		}

		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, address)
}
