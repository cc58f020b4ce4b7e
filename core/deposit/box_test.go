package deposit

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

var discard = slog.New(slog.DiscardHandler)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBox(t *testing.T, opts BoxOptions) (*Box, *clock) {
	t.Helper()
	opts.Log = discard
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = -1
	}
	b := NewBox(opts)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b.now = c.now
	t.Cleanup(b.Close)
	return b, c
}

func TestBox_DrawerLifecycle(t *testing.T) {
	b, _ := newTestBox(t, BoxOptions{Name: "n1"})

	claim := b.Reserve(0, "q", nil)
	require.Equal(t, int64(1), claim)
	require.True(t, b.WasReserved(claim))
	require.False(t, b.WasReserved(claim+1))

	got, ok := b.Lookup("q")
	require.True(t, ok)
	require.Equal(t, claim, got)

	w := b.Withdraw(claim, false)
	require.Equal(t, CodeNoDeposit, w.Code)
	require.Equal(t, "n1", w.Node)

	require.True(t, b.Deposit(claim, &wire.Text{Body: "done"}, ""))
	require.False(t, b.Deposit(claim, &wire.Text{Body: "again"}, ""))

	w = b.Withdraw(claim, false)
	require.Equal(t, CodeRetrieved, w.Code)
	require.Equal(t, &wire.Text{Body: "done"}, w.Contents)
	require.False(t, w.Deposited.IsZero())

	// Withdrawing without closing keeps the drawer.
	w = b.Withdraw(claim, true)
	require.Equal(t, CodeRetrieved, w.Code)

	w = b.Withdraw(claim, false)
	require.Equal(t, CodeExpired, w.Code)
	_, ok = b.Lookup("q")
	require.False(t, ok)

	require.Equal(t, CodeUnreserved, b.Withdraw(99, false).Code)
	require.Equal(t, CodeUnreserved, b.Withdraw(0, false).Code)
}

func TestBox_FailedDeposit(t *testing.T) {
	b, _ := newTestBox(t, BoxOptions{})
	claim := b.Reserve(0, "q", nil)
	require.True(t, b.Deposit(claim, nil, "boom"))

	w := b.Withdraw(claim, false)
	require.Equal(t, CodeRetrieved, w.Code)
	require.True(t, w.Failed())
	require.Equal(t, "boom", w.Err)
}

func TestBox_FillTime(t *testing.T) {
	t.Run("positive expires after reservation", func(t *testing.T) {
		b, c := newTestBox(t, BoxOptions{})
		claim := b.Reserve(time.Minute, "q", nil)

		c.advance(59 * time.Second)
		require.Equal(t, 0, b.CleanHouse(c.now()))

		c.advance(time.Second)
		require.Equal(t, 1, b.CleanHouse(c.now()))
		require.Equal(t, CodeExpired, b.Withdraw(claim, false).Code)
	})

	t.Run("zero keeps", func(t *testing.T) {
		b, c := newTestBox(t, BoxOptions{})
		claim := b.Reserve(0, "q", nil)
		c.advance(24 * time.Hour)
		require.Equal(t, 0, b.CleanHouse(c.now()))
		require.Equal(t, CodeNoDeposit, b.Withdraw(claim, false).Code)
	})

	t.Run("negative ages after withdrawal", func(t *testing.T) {
		b, c := newTestBox(t, BoxOptions{})
		claim := b.Reserve(-time.Minute, "q", nil)
		require.True(t, b.Deposit(claim, &wire.Ack{}, ""))

		c.advance(time.Hour)
		require.Equal(t, 0, b.CleanHouse(c.now()))

		require.Equal(t, CodeRetrieved, b.Withdraw(claim, false).Code)
		c.advance(30 * time.Second)
		require.Equal(t, 0, b.CleanHouse(c.now()))

		// Every withdrawal pushes the expiry out again.
		require.Equal(t, CodeRetrieved, b.Withdraw(claim, false).Code)
		c.advance(59 * time.Second)
		require.Equal(t, 0, b.CleanHouse(c.now()))
		c.advance(time.Second)
		require.Equal(t, 1, b.CleanHouse(c.now()))
	})
}

func TestBox_KeyEviction(t *testing.T) {
	b, _ := newTestBox(t, BoxOptions{MaxKeys: 2})

	counter := NewUnitCounter()
	first := b.Reserve(0, "a", counter)
	b.Reserve(0, "b", nil)
	b.Reserve(0, "c", nil)

	_, ok := b.Lookup("a")
	require.False(t, ok)
	require.Equal(t, CodeExpired, b.Withdraw(first, false).Code)
	require.Equal(t, CounterKilled, counter.Status())
	require.Equal(t, 2, b.Stats().Active)
}

func TestBox_Incinerate(t *testing.T) {
	b, c := newTestBox(t, BoxOptions{})

	one := b.Reserve(0, "a", nil)
	b.Reserve(0, "a", nil)
	c.advance(time.Minute)
	three := b.Reserve(0, "b", nil)

	require.True(t, b.Incinerate(one))
	require.False(t, b.Incinerate(one))

	require.Equal(t, 1, b.IncinerateKey("a"))
	require.Equal(t, 1, b.Stats().Active)

	b.Reserve(0, "c", nil)
	c.advance(time.Minute)
	require.Equal(t, 2, b.IncinerateOlder(30*time.Second))
	require.Equal(t, CodeExpired, b.Withdraw(three, false).Code)
}

func TestBox_Stats(t *testing.T) {
	b, _ := newTestBox(t, BoxOptions{})

	one := b.Reserve(0, "a", nil)
	b.Reserve(0, "b", nil)
	b.Reserve(0, "", nil)
	require.True(t, b.Deposit(one, &wire.Ack{}, ""))

	assert.Equal(t, BoxStats{Total: 3, Active: 3, Filled: 1, Filling: 2}, b.Stats())
	assert.Equal(t, []string{"a"}, b.FilledKeys())
}

func TestBox_Monitor(t *testing.T) {
	b := NewBox(BoxOptions{MonitorInterval: 10 * time.Millisecond, Log: discard})
	t.Cleanup(b.Close)

	b.Reserve(20*time.Millisecond, "q", nil)
	require.Eventually(t, func() bool {
		return b.Stats().Active == 0
	}, time.Second, 10*time.Millisecond)
}

func TestUnitCounter(t *testing.T) {
	c := NewUnitCounter()
	require.Equal(t, CounterIdle, c.Status())
	require.Equal(t, int64(-1), c.DoneSoFar())
	require.Equal(t, int64(-1), c.ToBeDone())
	require.Zero(t, c.AverageTimePerUnit())

	c.SetToBeDone(3)
	c.Start()
	require.Equal(t, int64(0), c.DoneSoFar())
	require.True(t, c.Inc())
	time.Sleep(5 * time.Millisecond)
	require.True(t, c.Inc())
	require.Equal(t, int64(2), c.DoneSoFar())
	require.Positive(t, c.AverageTimePerUnit())

	c.End()
	require.Equal(t, CounterDone, c.Status())
	require.False(t, c.Inc())

	k := NewUnitCounter()
	k.Start()
	k.Kill()
	require.Equal(t, CounterKilled, k.Status())
}
