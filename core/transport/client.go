package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

type (
	ClientOptions struct {
		Name string
		// Workers bounds concurrent sends. Defaults to 16.
		Workers int
		// Defaults for sends that leave the corresponding SendOptions unset.
		Retries         int
		ConnectTimeout  time.Duration
		ResponseTimeout time.Duration
		// Backoff between connection attempts.
		RetryInitialInterval time.Duration
		RetryMaxInterval     time.Duration
		Registry             *wire.Registry
		Log                  *slog.Logger
		Metrics              TransportMetrics
		PoolMetrics          pool.PoolMetrics
	}

	// SendOptions override the client defaults for one send. Zero values keep
	// the default; Retries < 0 disables retrying.
	SendOptions struct {
		Retries int
		// ConnectTimeout bounds the whole connect phase, retries included.
		ConnectTimeout time.Duration
		// ResponseTimeout bounds writing the request and reading the reply.
		ResponseTimeout time.Duration
	}

	// Response is one target's outcome in a fan-out.
	Response struct {
		Addr    NodeAddress
		Message wire.Message
		Err     error
	}

	// PendingRequest is an async send awaiting collection.
	PendingRequest struct {
		Addr   NodeAddress
		Msg    wire.Message
		SentAt time.Time

		done  chan struct{}
		reply wire.Message
		err   error
	}

	Client struct {
		name     string
		log      *slog.Logger
		reg      *wire.Registry
		metrics  TransportMetrics
		defaults SendOptions
		initial  time.Duration
		maxIntvl time.Duration

		workers *pool.Pool
		ctx     context.Context
		cancel  context.CancelFunc
		closed  atomic.Bool

		pendingMu sync.Mutex
		pending   []*PendingRequest
	}
)

func NewClient(opts ClientOptions) *Client {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("client-%s", gonanoid.Must(6))
	}
	reg := opts.Registry
	if reg == nil {
		reg = wire.DefaultRegistry
	}
	m := opts.Metrics
	if m == nil {
		m = NopTransportMetrics()
	}
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 30 * time.Second
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 50 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = time.Second
	}

	c := &Client{
		name:    name,
		log:     log.With(slog.String("client", name)),
		reg:     reg,
		metrics: m,
		defaults: SendOptions{
			Retries:         opts.Retries,
			ConnectTimeout:  opts.ConnectTimeout,
			ResponseTimeout: opts.ResponseTimeout,
		},
		initial:  opts.RetryInitialInterval,
		maxIntvl: opts.RetryMaxInterval,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.workers = pool.New(pool.Options{
		Name:    name + "-senders",
		Max:     opts.Workers,
		Log:     c.log,
		Metrics: opts.PoolMetrics,
	})
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) IsUp() bool { return !c.closed.Load() }

func (c *Client) resolve(o SendOptions) SendOptions {
	if o.Retries == 0 {
		o.Retries = c.defaults.Retries
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = c.defaults.ConnectTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = c.defaults.ResponseTimeout
	}
	return o
}

// SendMessage sends msg to addr and waits for the reply. Connection failures
// are retried with exponential backoff up to opts.Retries times within
// opts.ConnectTimeout. A *wire.RemoteError reply is returned as the error.
func (c *Client) SendMessage(ctx context.Context, addr NodeAddress, msg wire.Message, opts SendOptions) (wire.Message, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	opts = c.resolve(opts)

	msgType := "<nil>"
	if msg != nil {
		msgType, _ = wire.TypeName(msg)
	}
	defer c.metrics.SendDuration(msgType).ObserveDuration()

	ctx, cancel := mergeCancel(ctx, c.ctx)
	defer cancel()

	reply, err := c.exchange(ctx, addr, msg, opts)
	c.metrics.SendCompleted(msgType, err == nil)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	return reply, nil
}

func (c *Client) exchange(ctx context.Context, addr NodeAddress, msg wire.Message, opts SendOptions) (wire.Message, error) {
	conn, err := c.connect(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(opts.ResponseTimeout))

	if err := c.reg.Write(conn, msg); err != nil {
		return nil, c.classify(ctx, addr, err)
	}
	reply, err := c.reg.Read(conn)
	if err != nil {
		return nil, c.classify(ctx, addr, err)
	}
	if remote, ok := reply.(*wire.RemoteError); ok {
		return nil, remote
	}
	return reply, nil
}

func (c *Client) classify(ctx context.Context, addr NodeAddress, err error) error {
	switch {
	case c.closed.Load():
		return ErrClientClosed
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%s: %w", addr, ErrResponseTimeout)
	case wire.IsProtocolError(err) && !errors.Is(err, wire.ErrTruncated):
		return err
	}
	// the peer went away mid exchange
	return fmt.Errorf("%s: %w: %w", addr, ErrConnect, err)
}

func (c *Client) connect(ctx context.Context, addr NodeAddress, opts SendOptions) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.maxIntvl
	b.MaxElapsedTime = opts.ConnectTimeout

	deadline := time.Now().Add(opts.ConnectTimeout)
	target := dialAddress(addr)
	attempt := 0

	dial := func() (net.Conn, error) {
		attempt++
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, backoff.Permanent(fmt.Errorf("%s: %w: connect timeout", addr, ErrConnect))
		}
		d := net.Dialer{Timeout: remaining}
		conn, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("%s: %w: %w", addr, ErrConnect, err)
		}
		return conn, nil
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.ConnectRetry()
		c.log.Debug("connect retry",
			slog.String("addr", addr.String()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.Retries)), ctx)
	conn, err := backoff.RetryNotifyWithData(dial, policy, notify)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClientClosed
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) recordError(err error) {
	var remote *wire.RemoteError
	switch {
	case errors.Is(err, ErrConnect):
		c.metrics.TransportError("connect")
	case errors.Is(err, ErrResponseTimeout), errors.Is(err, context.DeadlineExceeded):
		c.metrics.TransportError("timeout")
	case errors.Is(err, ErrClientClosed):
		c.metrics.TransportError("closed")
	case errors.As(err, &remote):
		c.metrics.TransportError("remote")
	case wire.IsProtocolError(err):
		c.metrics.TransportError("protocol")
	}
}

// SendMessages sends msg to every address concurrently and returns one
// Response per address in the same order. One target failing never affects
// the others.
func (c *Client) SendMessages(ctx context.Context, addrs []NodeAddress, msg wire.Message, opts SendOptions) []Response {
	out := make([]Response, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		out[i].Addr = addr
		wg.Add(1)
		err := c.workers.Submit(ctx, func() {
			defer wg.Done()
			out[i].Message, out[i].Err = c.SendMessage(ctx, addr, msg, opts)
		})
		if err != nil {
			wg.Done()
			out[i].Err = c.submitErr(err)
		}
	}
	wg.Wait()
	return out
}

func (c *Client) submitErr(err error) error {
	if errors.Is(err, pool.ErrPoolClosed) {
		return ErrClientClosed
	}
	return err
}

// SendMessageAsync starts a send in the background with the client's default
// timeouts and queues it for ResponseAsync.
func (c *Client) SendMessageAsync(addr NodeAddress, msg wire.Message, retries int) *PendingRequest {
	pr := &PendingRequest{Addr: addr, Msg: msg, SentAt: time.Now(), done: make(chan struct{})}

	c.pendingMu.Lock()
	c.pending = append(c.pending, pr)
	c.pendingMu.Unlock()

	if c.closed.Load() {
		pr.finish(nil, ErrClientClosed)
		return pr
	}
	opts := SendOptions{Retries: retries}
	if retries == 0 {
		opts.Retries = -1
	}
	go func() {
		err := c.workers.Submit(c.ctx, func() {
			pr.finish(c.SendMessage(c.ctx, addr, msg, opts))
		})
		if err != nil {
			pr.finish(nil, c.submitErr(err))
		}
	}()
	return pr
}

func (c *Client) SendMessagesAsync(addrs []NodeAddress, msg wire.Message, retries int) []*PendingRequest {
	out := make([]*PendingRequest, len(addrs))
	for i, addr := range addrs {
		out[i] = c.SendMessageAsync(addr, msg, retries)
	}
	return out
}

// Pending is the number of async sends not yet collected.
func (c *Client) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Client) popPending() *PendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	pr := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return pr
}

// ResponseAsync collects the oldest async send, waiting at most
// connectTimeout+responseTimeout for it. A request that times out here is
// dropped from the queue.
func (c *Client) ResponseAsync(ctx context.Context, connectTimeout, responseTimeout time.Duration) (wire.Message, error) {
	pr := c.popPending()
	if pr == nil {
		return nil, ErrNoPendingRequest
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout+responseTimeout)
	defer cancel()
	r := pr.wait(ctx)
	return r.Message, r.Err
}

// ResponsesAsync collects the count oldest async sends in send order under a
// single connectTimeout+responseTimeout budget.
func (c *Client) ResponsesAsync(ctx context.Context, count int, connectTimeout, responseTimeout time.Duration) []Response {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout+responseTimeout)
	defer cancel()

	out := make([]Response, count)
	for i := range out {
		pr := c.popPending()
		if pr == nil {
			out[i].Err = ErrNoPendingRequest
			continue
		}
		out[i] = pr.wait(ctx)
	}
	return out
}

func (pr *PendingRequest) finish(reply wire.Message, err error) {
	pr.reply, pr.err = reply, err
	close(pr.done)
}

// Done is closed when the reply or failure is known.
func (pr *PendingRequest) Done() <-chan struct{} { return pr.done }

func (pr *PendingRequest) wait(ctx context.Context) Response {
	select {
	case <-pr.done:
		return Response{Addr: pr.Addr, Message: pr.reply, Err: pr.err}
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w", pr.Addr, ErrResponseTimeout)
		}
		return Response{Addr: pr.Addr, Err: err}
	}
}

// Shutdown aborts in-flight sends and fails queued ones. It is idempotent.
func (c *Client) Shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.workers.Close()
	c.log.Debug("client stopped")
}

// mergeCancel returns a context that ends when either parent does.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
