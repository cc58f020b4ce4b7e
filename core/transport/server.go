package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// MessageSink receives every message the server decodes, in arrival order
// per connection.
type MessageSink interface {
	Append(msg wire.Message) error
}

type (
	ServerOptions struct {
		// Addr is "host:port"; port 0 picks a free port.
		Addr string
		Name string
		// Context is handed to messages. Defaults to a context exposing the
		// server's name, logger and Shutdowner.
		Context Context
		// WrapContext decorates the context with extra capabilities, such as
		// access to node-local state.
		WrapContext func(Context) Context
		// MinWorkers and MaxWorkers bound concurrent connections.
		MinWorkers int
		MaxWorkers int
		// HandlerWorkers bounds deferred Handle calls.
		HandlerWorkers int
		// ReadTimeout bounds one exchange on a connection. Zero means 30s.
		ReadTimeout time.Duration
		Registry    *wire.Registry
		Log         *slog.Logger
		Metrics     TransportMetrics
		PoolMetrics pool.PoolMetrics
		Journal     MessageSink
	}

	ServerStats struct {
		Name      string        `json:"name"`
		Addr      string        `json:"addr"`
		Up        bool          `json:"up"`
		Uptime    time.Duration `json:"uptime"`
		Received  int64         `json:"received"`
		Responded int64         `json:"responded"`
		Handled   int64         `json:"handled"`
		Failed    int64         `json:"failed"`
		Queued    int           `json:"queued"`
		Active    int           `json:"active"`
		Handling  bool          `json:"handling"`
		Accepting bool          `json:"accepting"`
	}

	Server struct {
		name        string
		addr        string
		log         *slog.Logger
		nctx        Context
		reg         *wire.Registry
		metrics     TransportMetrics
		journal     MessageSink
		readTimeout time.Duration

		conns    *pool.Pool
		handlers *pool.Pool

		ctx    context.Context
		cancel context.CancelFunc
		ln     net.Listener
		bound  NodeAddress

		started  atomic.Bool
		up       atomic.Bool
		closed   atomic.Bool
		startAt  time.Time
		done     chan struct{}
		acceptWG sync.WaitGroup

		liveMu sync.Mutex
		live   map[net.Conn]struct{}

		pauseMu   sync.Mutex
		paused    bool
		queued    []Handler
		accepting atomic.Bool

		received  atomic.Int64
		responded atomic.Int64
		handled   atomic.Int64
		failed    atomic.Int64
	}
)

func NewServer(opts ServerOptions) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("server-%s", gonanoid.Must(6))
	}
	reg := opts.Registry
	if reg == nil {
		reg = wire.DefaultRegistry
	}
	m := opts.Metrics
	if m == nil {
		m = NopTransportMetrics()
	}
	if opts.MinWorkers <= 0 {
		opts.MinWorkers = 1
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 64
	}
	if opts.HandlerWorkers <= 0 {
		opts.HandlerWorkers = 8
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	s := &Server{
		name:        name,
		addr:        opts.Addr,
		log:         log.With(slog.String("server", name)),
		reg:         reg,
		metrics:     m,
		journal:     opts.Journal,
		readTimeout: opts.ReadTimeout,
		done:        make(chan struct{}),
		live:        make(map[net.Conn]struct{}),
	}
	s.nctx = opts.Context
	if s.nctx == nil {
		s.nctx = serverContext{s: s}
	}
	if opts.WrapContext != nil {
		s.nctx = opts.WrapContext(s.nctx)
	}
	s.accepting.Store(true)
	s.conns = pool.New(pool.Options{
		Name:    name + "-conns",
		Min:     opts.MinWorkers,
		Max:     opts.MaxWorkers,
		Log:     s.log,
		Metrics: opts.PoolMetrics,
	})
	s.handlers = pool.New(pool.Options{
		Name:    name + "-handlers",
		Max:     opts.HandlerWorkers,
		Log:     s.log,
		Metrics: opts.PoolMetrics,
	})
	return s
}

// Start binds the listener and serves in the background until Shutdown or
// until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.bound = addressOf(ln.Addr())
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startAt = time.Now()
	s.up.Store(true)

	s.log.Info("server listening", slog.String("addr", s.bound.String()))

	s.acceptWG.Add(1)
	go s.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.done:
		}
	}()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", slog.Any("error", err))
			continue
		}
		for !s.accepting.Load() && !s.closed.Load() {
			time.Sleep(50 * time.Millisecond)
		}
		if err := s.conns.Submit(s.ctx, func() { s.serve(conn) }); err != nil {
			_ = conn.Close()
			if s.closed.Load() {
				return
			}
			s.log.Warn("dropped connection", slog.Any("error", err))
		}
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if add {
		s.live[conn] = struct{}{}
	} else {
		delete(s.live, conn)
	}
	s.metrics.ConnectionsActive(s.name, len(s.live))
}

// serve handles one exchange: decode, respond, then queue the handler.
func (s *Server) serve(conn net.Conn) {
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		_ = conn.Close()
	}()
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))

	dec := wire.NewDecoder(conn, s.reg)
	msg := dec.ReadMessage()
	if err := dec.Err(); err != nil {
		s.failed.Add(1)
		if wire.IsProtocolError(err) {
			s.metrics.TransportError("protocol")
		}
		s.log.Warn("decode failed", slog.String("remote", conn.RemoteAddr().String()), slog.Any("error", err))
		s.reply(conn, &wire.RemoteError{Node: s.name, Type: "protocol", Message: err.Error()})
		drain(conn)
		return
	}
	s.received.Add(1)

	msgType := "<nil>"
	if msg != nil {
		msgType, _ = wire.TypeName(msg)
		if s.journal != nil {
			if err := s.journal.Append(msg); err != nil {
				s.log.Error("journal append failed", slog.String("type", msgType), slog.Any("error", err))
			}
		}
	}

	var reply wire.Message
	if r, ok := msg.(Responder); ok {
		reply = s.respond(r, msgType)
	}
	if s.reply(conn, reply) {
		s.responded.Add(1)
	}

	if h, ok := msg.(Handler); ok {
		s.enqueue(h, msgType)
	}
}

// drain consumes what the peer already sent so that closing the connection
// does not reset it before the peer has read our reply.
func drain(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, 1<<20))
}

func (s *Server) respond(r Responder, msgType string) (reply wire.Message) {
	defer s.metrics.RespondDuration(msgType).ObserveDuration()
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("respond panicked", slog.String("type", msgType), slog.Any("recovered", p))
			reply = &wire.RemoteError{Node: s.name, Type: "panic", Message: fmt.Sprint(p)}
		}
	}()

	reply, err := r.Respond(s.ctx, s.nctx)
	if err != nil {
		s.log.Error(
			"respond failed",
			slog.String("type", msgType),
			slog.Any("error", err),
		)
		return &wire.RemoteError{Node: s.name, Type: "process", Message: err.Error()}
	}
	return reply
}

func (s *Server) reply(conn net.Conn, reply wire.Message) bool {
	if err := s.reg.Write(conn, reply); err != nil {
		s.log.Warn("write reply failed", slog.String("remote", conn.RemoteAddr().String()), slog.Any("error", err))
		return false
	}
	return true
}

func (s *Server) enqueue(h Handler, msgType string) {
	s.pauseMu.Lock()
	if s.paused {
		s.queued = append(s.queued, h)
		s.metrics.HandlerQueueDepth(s.name, len(s.queued))
		s.pauseMu.Unlock()
		return
	}
	s.pauseMu.Unlock()
	s.dispatch(h, msgType)
}

func (s *Server) dispatch(h Handler, msgType string) {
	err := s.handlers.Submit(s.ctx, func() {
		err := h.Handle(s.ctx, s.nctx)
		s.handled.Add(1)
		s.metrics.MessageHandled(msgType, err == nil)
		if err != nil {
			s.log.Error("handle failed", slog.String("type", msgType), slog.Any("error", err))
		}
	})
	if err != nil && !s.closed.Load() {
		s.log.Warn("handler dropped", slog.String("type", msgType), slog.Any("error", err))
	}
}

// PauseHandling holds deferred handlers in a queue. Replies are still sent.
func (s *Server) PauseHandling() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.paused = true
}

// ResumeHandling dispatches everything queued while paused, oldest first.
func (s *Server) ResumeHandling() {
	s.pauseMu.Lock()
	queued := s.queued
	s.queued = nil
	s.paused = false
	s.metrics.HandlerQueueDepth(s.name, 0)
	s.pauseMu.Unlock()

	for _, h := range queued {
		name, _ := wire.TypeName(h)
		s.dispatch(h, name)
	}
}

func (s *Server) IsHandling() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return !s.paused
}

// PauseAccepting leaves new connections waiting in the listen backlog.
func (s *Server) PauseAccepting()   { s.accepting.Store(false) }
func (s *Server) ResumeAccepting()  { s.accepting.Store(true) }
func (s *Server) IsAccepting() bool { return s.accepting.Load() }

// Addr is the bound address once started, else the zero address.
func (s *Server) Addr() NodeAddress { return s.bound }

func (s *Server) Name() string { return s.name }

func (s *Server) IsUp() bool { return s.up.Load() }

// Done is closed once Shutdown has begun.
func (s *Server) Done() <-chan struct{} { return s.done }

// RequestShutdown shuts the server down after delay without blocking the
// caller. Handlers use it to stop their own node.
func (s *Server) RequestShutdown(delay time.Duration) {
	s.log.Info("shutdown requested", slog.Duration("delay", delay))
	time.AfterFunc(delay, s.Shutdown)
}

// Shutdown closes the listener and every live connection, then waits for the
// pools to drain. Calling it again is a no-op.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.up.Store(false)
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.liveMu.Lock()
	for c := range s.live {
		_ = c.Close()
	}
	s.liveMu.Unlock()

	s.acceptWG.Wait()
	s.conns.Close()
	s.handlers.Close()
	s.log.Info("server stopped")
}

func (s *Server) Stats() ServerStats {
	st := ServerStats{
		Name:      s.name,
		Addr:      s.bound.String(),
		Up:        s.IsUp(),
		Received:  s.received.Load(),
		Responded: s.responded.Load(),
		Handled:   s.handled.Load(),
		Failed:    s.failed.Load(),
		Active:    s.conns.Inflight(),
		Accepting: s.IsAccepting(),
	}
	if st.Up {
		st.Uptime = time.Since(s.startAt)
	}
	s.pauseMu.Lock()
	st.Queued = len(s.queued)
	st.Handling = !s.paused
	s.pauseMu.Unlock()
	return st
}

var _ Shutdowner = (*Server)(nil)
