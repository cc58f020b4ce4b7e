package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/topology"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

const minPollWait = 10 * time.Millisecond

type AgentOptions struct {
	Name   string
	Client *transport.Client
	// Nodes is used when Resolver is nil.
	Nodes    []transport.NodeAddress
	Resolver topology.Resolver
	Groups   []string
	Task     Task
	// GroupSize bounds how many nodes are polled at once. Defaults to all.
	GroupSize int
	// Retries for connecting to a node within one exchange.
	Retries int
	// ResponseTimeout bounds each exchange. Defaults to 5s.
	ResponseTimeout time.Duration
	// WithdrawalTimeout bounds a whole collection. Defaults to 30s.
	WithdrawalTimeout time.Duration
	// PollInterval is the wait between polls of a node that cannot estimate
	// its remaining time. Defaults to 100ms.
	PollInterval  time.Duration
	CloseBox      bool
	ForceRehandle bool
	FillTime      time.Duration
	Log           *slog.Logger
	Metrics       DepositMetrics
}

// TransactionResult is the state of a transaction when a collection ended.
// Maps are keyed by node address.
type TransactionResult struct {
	Group       string
	Task        Task
	Nodes       []transport.NodeAddress
	Withdrawals map[string]*Withdrawal
	Receipts    map[string]*Receipt
	// Errors holds the last error per node, including failed tasks.
	Errors        map[string]error
	ResponseCount int
	Missing       []transport.NodeAddress
	Elapsed       time.Duration
	// TimedOut reports that nodes were still working when time ran out.
	TimedOut bool
}

// Complete reports whether every node responded.
func (r TransactionResult) Complete() bool {
	return len(r.Nodes) > 0 && r.ResponseCount == len(r.Nodes)
}

// Contents lists the successful withdrawal contents in node order.
func (r TransactionResult) Contents() []wire.Message {
	var out []wire.Message
	for _, n := range r.Nodes {
		if w, ok := r.Withdrawals[n.String()]; ok && !w.Failed() && w.Contents != nil {
			out = append(out, w.Contents)
		}
	}
	return out
}

// Agent runs one safe deposit transaction against one node group. Calling
// CollectWithdrawals again continues the same transaction: nodes that already
// answered are not asked again and outstanding claims are presented. Reset
// with a different task starts a new transaction.
type Agent struct {
	name      string
	client    *transport.Client
	nodes     []transport.NodeAddress
	resolver  topology.Resolver
	groups    []string
	group     string
	groupSize int
	retries   int
	respond   time.Duration
	withdraw  time.Duration
	poll      time.Duration
	closeBox  bool
	rehandle  bool
	fill      time.Duration
	log       *slog.Logger
	metrics   DepositMetrics

	mu          sync.Mutex
	task        Task
	round       uint64
	closed      bool
	timedOut    bool
	resolved    []transport.NodeAddress
	claims      map[string]int64
	receipts    map[string]*Receipt
	withdrawals map[string]*Withdrawal
	errs        map[string]error
	responded   map[string]bool
}

func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.Client == nil {
		return nil, errors.New("deposit agent: client is required")
	}
	if opts.Resolver == nil && len(opts.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("agent-%s", gonanoid.Must(6))
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 5 * time.Second
	}
	if opts.WithdrawalTimeout <= 0 {
		opts.WithdrawalTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopDepositMetrics()
	}
	group := strings.Join(opts.Groups, ",")
	if group == "" {
		group = opts.Name
	}

	a := &Agent{
		name:      opts.Name,
		client:    opts.Client,
		nodes:     append([]transport.NodeAddress(nil), opts.Nodes...),
		resolver:  opts.Resolver,
		groups:    append([]string(nil), opts.Groups...),
		group:     group,
		groupSize: opts.GroupSize,
		retries:   opts.Retries,
		respond:   opts.ResponseTimeout,
		withdraw:  opts.WithdrawalTimeout,
		poll:      opts.PollInterval,
		closeBox:  opts.CloseBox,
		rehandle:  opts.ForceRehandle,
		fill:      opts.FillTime,
		log:       opts.Log.With(slog.String("agent", opts.Name), slog.String("group", group)),
		metrics:   opts.Metrics,
	}
	a.clear()
	a.task = opts.Task
	return a, nil
}

func (a *Agent) Name() string  { return a.name }
func (a *Agent) Group() string { return a.group }

// clear must be called with mu held or before the agent is shared.
func (a *Agent) clear() {
	a.round++
	a.timedOut = false
	a.claims = make(map[string]int64)
	a.receipts = make(map[string]*Receipt)
	a.withdrawals = make(map[string]*Withdrawal)
	a.errs = make(map[string]error)
	a.responded = make(map[string]bool)
}

// Reset sets the task. A task that differs from the current one by type or
// deposit key starts a new transaction; Reset reports whether it did.
func (a *Agent) Reset(task Task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sameTask(a.task, task) {
		return false
	}
	a.task = task
	a.clear()
	return true
}

func sameTask(a, b Task) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, _ := wire.TypeName(a)
	nb, _ := wire.TypeName(b)
	return na == nb && a.DepositKey() == b.DepositKey()
}

func (a *Agent) resolve(ctx context.Context) ([]transport.NodeAddress, error) {
	if a.resolver == nil {
		return a.nodes, nil
	}
	groups := a.groups
	if len(groups) == 0 {
		groups = []string{topology.All}
	}
	nodes, err := a.resolver.Resolve(ctx, groups...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", a.group, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNodes, a.group)
	}
	return nodes, nil
}

// CollectWithdrawals polls every node until each has handed over its
// withdrawal or the withdrawal timeout passes, whichever is first. A node
// whose estimated remaining time does not fit before the timeout is given up
// early. Results that arrive after the collection ended are discarded.
func (a *Agent) CollectWithdrawals(ctx context.Context) (TransactionResult, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return TransactionResult{}, ErrAgentClosed
	}
	task, round := a.task, a.round
	a.mu.Unlock()
	if task == nil {
		return TransactionResult{}, ErrNoTask
	}

	nodes, err := a.resolve(ctx)
	if err != nil {
		return TransactionResult{}, err
	}
	a.mu.Lock()
	a.resolved = nodes
	a.mu.Unlock()

	timer := a.metrics.TransactionDuration(a.group)
	start := time.Now()
	deadline := start.Add(a.withdraw)
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	limit := a.groupSize
	if limit <= 0 || limit > len(nodes) {
		limit = len(nodes)
	}
	var (
		g         errgroup.Group
		outOfTime atomic.Bool
	)
	g.SetLimit(limit)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, n := range nodes {
			if cctx.Err() != nil {
				outOfTime.Store(true)
				break
			}
			g.Go(func() error {
				if a.pollNode(cctx, round, n, task, deadline) {
					outOfTime.Store(true)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-cctx.Done():
		outOfTime.Store(true)
	}
	timer.ObserveDuration()

	res := a.snapshot(round, nodes, time.Since(start))
	timedOut := outOfTime.Load() && res.ResponseCount < len(nodes)
	res.TimedOut = timedOut

	a.mu.Lock()
	if a.round == round {
		a.timedOut = timedOut
	}
	a.mu.Unlock()

	a.metrics.TransactionCompleted(a.group, res.ResponseCount, len(nodes), timedOut)
	a.log.Debug("withdrawals collected",
		slog.Int("responded", res.ResponseCount),
		slog.Int("nodes", len(nodes)),
		slog.Bool("timed_out", timedOut),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// pollNode polls one node until it hands over its withdrawal or cannot. It
// reports whether it stopped for lack of time rather than for an answer or a
// permanent failure.
func (a *Agent) pollNode(ctx context.Context, round uint64, addr transport.NodeAddress, task Task, deadline time.Time) (outOfTime bool) {
	key := addr.String()
	for {
		if a.hasResponded(round, key) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return true
		}

		msg := &Deposit{
			Claims:        a.claimsSnapshot(),
			CloseBox:      a.closeBox,
			ForceRehandle: a.rehandle,
			FillTime:      a.fill,
			Task:          task,
		}
		timeout := min(a.respond, remaining)
		a.metrics.NodePolled(a.group)
		reply, err := a.client.SendMessage(ctx, addr, msg, transport.SendOptions{
			Retries:         a.retries,
			ConnectTimeout:  timeout,
			ResponseTimeout: timeout,
		})
		if err != nil {
			if !a.recordError(round, key, err, deadline) {
				return true
			}
			var remote *wire.RemoteError
			if errors.As(err, &remote) || wire.IsProtocolError(err) {
				return false
			}
			if !sleepUntil(ctx, a.poll, deadline) {
				return true
			}
			continue
		}

		receipt, ok := reply.(*Receipt)
		if !ok {
			a.recordError(round, key, fmt.Errorf("%w: %T", ErrUnexpectedReply, reply), deadline)
			return false
		}
		if !a.recordReceipt(round, key, receipt, deadline) {
			return true
		}
		if !receipt.RainCheck() {
			return false
		}

		wait := a.poll
		if etr, ok := receipt.EstimatedRemaining(); ok {
			wait = max(etr, minPollWait)
		}
		if !sleepUntil(ctx, wait, deadline) {
			return true
		}
	}
}

// sleepUntil waits d unless that would pass deadline or ctx ends first.
func sleepUntil(ctx context.Context, d time.Duration, deadline time.Time) bool {
	if time.Now().Add(d).After(deadline) {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *Agent) hasResponded(round uint64, key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.round != round || a.responded[key]
}

func (a *Agent) claimsSnapshot() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.claims) == 0 {
		return nil
	}
	out := make(map[string]int64, len(a.claims))
	for k, v := range a.claims {
		out[k] = v
	}
	return out
}

// live reports whether a result for round may still be recorded. Must be
// called with mu held.
func (a *Agent) live(round uint64, deadline time.Time) bool {
	return a.round == round && !a.closed && time.Now().Before(deadline)
}

func (a *Agent) recordError(round uint64, key string, err error, deadline time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live(round, deadline) {
		return false
	}
	if !a.responded[key] {
		a.errs[key] = err
	}
	return true
}

func (a *Agent) recordReceipt(round uint64, key string, r *Receipt, deadline time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live(round, deadline) {
		return false
	}
	a.receipts[key] = r
	a.claims[r.Node] = r.ClaimTicket
	delete(a.errs, key)

	w := r.Withdrawal
	switch {
	case r.Retrieved() && !a.responded[key]:
		a.responded[key] = true
		a.withdrawals[key] = w
		if w.Failed() {
			a.errs[key] = &wire.RemoteError{Node: r.Node, Type: "task", Message: w.Err}
		}
	case w != nil && w.Code == CodeExpired:
		a.errs[key] = fmt.Errorf("%w: %s claim %d", ErrDrawerExpired, r.Node, r.ClaimTicket)
	}
	return true
}

func (a *Agent) snapshot(round uint64, nodes []transport.NodeAddress, elapsed time.Duration) TransactionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := TransactionResult{
		Group:       a.group,
		Task:        a.task,
		Nodes:       nodes,
		Withdrawals: make(map[string]*Withdrawal, len(a.withdrawals)),
		Receipts:    make(map[string]*Receipt, len(a.receipts)),
		Errors:      make(map[string]error, len(a.errs)),
		Elapsed:     elapsed,
	}
	if a.round != round {
		res.Missing = nodes
		return res
	}
	for k, v := range a.withdrawals {
		res.Withdrawals[k] = v
	}
	for k, v := range a.receipts {
		res.Receipts[k] = v
	}
	for k, v := range a.errs {
		res.Errors[k] = v
	}
	for _, n := range nodes {
		if a.responded[n.String()] {
			res.ResponseCount++
		} else {
			res.Missing = append(res.Missing, n)
		}
	}
	return res
}

// Progress is the transaction's current state, usable while a collection
// is running.
func (a *Agent) Progress() TransactionResult {
	a.mu.Lock()
	round, nodes := a.round, a.resolved
	a.mu.Unlock()
	return a.snapshot(round, nodes, 0)
}

// NumResponded counts nodes that handed over their withdrawal. It never
// decreases within a transaction.
func (a *Agent) NumResponded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.responded)
}

// NumNodes is the size of the group at the last collection.
func (a *Agent) NumNodes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.resolved)
}

func (a *Agent) ResponseRatio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.resolved) == 0 {
		return 0
	}
	return float64(len(a.responded)) / float64(len(a.resolved))
}

// TimedOut reports whether the last collection hit the withdrawal timeout.
func (a *Agent) TimedOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timedOut
}

// Close discards in-flight results and refuses further collections.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.round++
}
