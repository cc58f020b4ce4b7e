// Package process exposes a submitted safe deposit task to callers as a
// pollable, cancellable unit.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
)

var (
	ErrRunning = errors.New("process already running")
	ErrKilled  = errors.New("process killed")
	ErrClosed  = errors.New("process closed")
)

type State int

const (
	StatePending State = iota
	StateRunning
	StateFinished
	StateKilled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Processor runs a task across the cluster. deposit.Controller is the
// production implementation.
type Processor interface {
	Process(ctx context.Context, task deposit.Task) ([]deposit.TransactionResult, error)
	// Progress reports the transactions' state while Process runs.
	Progress() []deposit.TransactionResult
	Close()
}

type HandleOptions struct {
	ID        string
	Processor Processor
	Task      deposit.Task
	Log       *slog.Logger
}

// Handle tracks one task through Run. A finished handle may be run again
// after ResetFinished; its processor continues the same transactions, so
// nodes that already answered are not asked again.
type Handle struct {
	id        string
	processor Processor
	task      deposit.Task
	log       *slog.Logger

	running  atomic.Bool
	finished atomic.Bool
	die      atomic.Bool
	closed   atomic.Bool

	mu       sync.Mutex
	state    State
	results  []deposit.TransactionResult
	err      error
	started  time.Time
	resultAt time.Time
	cancel   context.CancelFunc
}

func NewHandle(opts HandleOptions) *Handle {
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("process-%s", gonanoid.Must(8))
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Handle{
		id:        opts.ID,
		processor: opts.Processor,
		task:      opts.Task,
		log:       opts.Log.With(slog.String("process", opts.ID)),
	}
}

func (h *Handle) ID() string         { return h.id }
func (h *Handle) Task() deposit.Task { return h.task }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Run processes the task and blocks until it is done or killed. Per-node
// failures end up in the results; the returned error is set only when the
// processing as a whole failed.
func (h *Handle) Run(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.running.CompareAndSwap(false, true) {
		return ErrRunning
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	if h.die.Load() {
		h.mu.Unlock()
		h.finish(nil, ErrKilled)
		return ErrKilled
	}
	h.state = StateRunning
	h.started = time.Now()
	h.cancel = cancel
	h.mu.Unlock()
	h.log.Debug("process started")

	results, err := h.processor.Process(rctx, h.task)
	if h.die.Load() && err == nil {
		err = ErrKilled
	}
	h.finish(results, err)
	return err
}

// Start runs the handle in the background.
func (h *Handle) Start(ctx context.Context) {
	go func() {
		if err := h.Run(ctx); err != nil && !errors.Is(err, ErrRunning) {
			h.log.Warn("process failed", slog.Any("error", err))
		}
	}()
}

func (h *Handle) finish(results []deposit.TransactionResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if results != nil {
		h.results = results
	}
	h.err = err
	h.resultAt = time.Now()
	h.cancel = nil
	if h.die.Load() {
		h.state = StateKilled
	} else {
		h.state = StateFinished
	}
	// running must drop before finished is visible, or a rerun after
	// ResetFinished can lose the CAS in Run.
	h.running.Store(false)
	h.finished.Store(true)
	h.log.Debug("process finished", slog.String("state", h.state.String()), slog.Any("error", err))
}

// Kill asks a running handle to stop early. A pending handle will not run.
func (h *Handle) Kill() {
	if !h.die.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	if h.state == StatePending {
		h.state = StateKilled
		h.finished.Store(true)
	}
}

func (h *Handle) Killed() bool   { return h.die.Load() }
func (h *Handle) Finished() bool { return h.finished.Load() }
func (h *Handle) Running() bool  { return h.running.Load() }

// HasResults reports whether the handle finished with at least one
// transaction result.
func (h *Handle) HasResults() bool {
	if !h.Finished() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results) > 0
}

// Results returns the results of the last finished run.
func (h *Handle) Results() ([]deposit.TransactionResult, bool) {
	if !h.Finished() {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results, true
}

// Snapshot returns the finished results, or the processor's progress while
// the handle runs.
func (h *Handle) Snapshot() []deposit.TransactionResult {
	if res, ok := h.Results(); ok && res != nil {
		return res
	}
	if h.processor == nil {
		return nil
	}
	return h.processor.Progress()
}

// ResetFinished readies a finished handle for another run and reports
// whether it was finished.
func (h *Handle) ResetFinished() bool {
	if !h.finished.CompareAndSwap(true, false) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.die.Load() {
		h.state = StatePending
	}
	return true
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ProcessingTime is the duration of the current or last run.
func (h *Handle) ProcessingTime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.started.IsZero():
		return 0
	case h.resultAt.Before(h.started):
		return time.Since(h.started)
	default:
		return h.resultAt.Sub(h.started)
	}
}

// RunUntilDone waits until the handle finishes or die is set, checking every
// checkInterval, and returns the results available at that point.
func (h *Handle) RunUntilDone(checkInterval time.Duration, die *atomic.Bool) []deposit.TransactionResult {
	if checkInterval <= 0 {
		checkInterval = 100 * time.Millisecond
	}
	t := time.NewTicker(checkInterval)
	defer t.Stop()
	for !h.Finished() && (die == nil || !die.Load()) {
		<-t.C
	}
	return h.Snapshot()
}

// CompletionRatio estimates the units done and to be done across all
// transactions, -1 for either when no node has reported it. Nodes and
// transactions without a total count as the mean of those that have one, and
// at least one unit each.
func (h *Handle) CompletionRatio() (doneSoFar, toBeDone int64) {
	return CompletionRatio(h.Snapshot())
}

func CompletionRatio(txns []deposit.TransactionResult) (doneSoFar, toBeDone int64) {
	if len(txns) == 0 {
		return -1, -1
	}

	var (
		known        bool
		unknownTxns  int
		unknownNodes int
		nodeSum      int64
		nodeCount    int
		txnSum       int64
		txnCount     int
	)
	for _, txn := range txns {
		if len(txn.Receipts) == 0 {
			unknownTxns++
			continue
		}
		var txnToBe int64
		for _, r := range txn.Receipts {
			if !r.KnowsProgress() {
				unknownNodes++
				continue
			}
			known = true
			if r.DoneSoFar > 0 {
				doneSoFar += r.DoneSoFar
			}
			if r.ToBeDone > 0 {
				nodeSum += r.ToBeDone
				nodeCount++
				txnToBe += r.ToBeDone
			} else {
				unknownNodes++
			}
		}
		if n := len(txn.Nodes) - len(txn.Receipts); n > 0 {
			unknownNodes += n
		}
		txnSum += txnToBe
		txnCount++
	}
	if !known {
		doneSoFar = -1
	}
	if nodeCount == 0 {
		return doneSoFar, -1
	}

	toBeDone = nodeSum +
		estimate(unknownTxns, txnSum, txnCount) +
		estimate(unknownNodes, nodeSum, nodeCount)
	return doneSoFar, toBeDone
}

func estimate(unknown int, sum int64, count int) int64 {
	if unknown == 0 {
		return 0
	}
	mean := 0.0
	if count > 0 {
		mean = float64(sum) / float64(count)
	}
	return int64(math.Ceil(float64(unknown) * math.Max(1, mean)))
}

// Close kills the handle and releases its processor.
func (h *Handle) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.Kill()
	if h.processor != nil {
		h.processor.Close()
	}
}
