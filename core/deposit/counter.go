package deposit

import (
	"sync/atomic"
	"time"
)

type CounterStatus int

const (
	CounterIdle CounterStatus = iota
	CounterRunning
	CounterDone
	CounterKilled
)

func (s CounterStatus) String() string {
	switch s {
	case CounterIdle:
		return "idle"
	case CounterRunning:
		return "running"
	case CounterDone:
		return "done"
	case CounterKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// UnitCounter tracks the progress of one task on one node. Tasks call Start,
// then Inc per unit of work, then End. The box reports the counter's figures
// in every receipt so that agents can estimate when to poll again.
//
// Counts are -1 while unknown. A zero UnitCounter is not ready for use; call
// NewUnitCounter.
type UnitCounter struct {
	toBe    atomic.Int64
	done    atomic.Int64
	start   atomic.Int64
	end     atomic.Int64
	last    atomic.Int64
	perUnit atomic.Int64 // sum of unit durations in ns
	killed  atomic.Bool
}

func NewUnitCounter() *UnitCounter {
	c := &UnitCounter{}
	c.toBe.Store(-1)
	return c
}

func (c *UnitCounter) Start() {
	now := time.Now().UnixNano()
	if c.start.CompareAndSwap(0, now) {
		c.last.Store(now)
	}
}

func (c *UnitCounter) End() {
	c.end.CompareAndSwap(0, time.Now().UnixNano())
}

// Kill ends the counter and tells the task to stop at its next Inc.
func (c *UnitCounter) Kill() {
	c.killed.Store(true)
	c.End()
}

// Inc records one finished unit and reports whether the task should go on.
func (c *UnitCounter) Inc() bool {
	c.Start()
	now := time.Now().UnixNano()
	prev := c.last.Swap(now)
	c.perUnit.Add(now - prev)
	c.done.Add(1)
	return c.Status() == CounterRunning
}

func (c *UnitCounter) SetToBeDone(n int64) { c.toBe.Store(n) }

// ToBeDone is the expected total of units, -1 when unknown.
func (c *UnitCounter) ToBeDone() int64 { return c.toBe.Load() }

// DoneSoFar is -1 until the counter starts.
func (c *UnitCounter) DoneSoFar() int64 {
	if c.start.Load() == 0 {
		return -1
	}
	return c.done.Load()
}

func (c *UnitCounter) Status() CounterStatus {
	switch {
	case c.end.Load() != 0 && c.killed.Load():
		return CounterKilled
	case c.end.Load() != 0:
		return CounterDone
	case c.start.Load() != 0:
		return CounterRunning
	default:
		return CounterIdle
	}
}

// AverageTimePerUnit is zero until the first unit is done.
func (c *UnitCounter) AverageTimePerUnit() time.Duration {
	n := c.done.Load()
	if n <= 0 {
		return 0
	}
	return time.Duration(c.perUnit.Load() / n)
}

// Elapsed is the running time, or the total once ended.
func (c *UnitCounter) Elapsed() time.Duration {
	start := c.start.Load()
	if start == 0 {
		return 0
	}
	end := c.end.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	return time.Duration(end - start)
}
