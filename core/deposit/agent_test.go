package deposit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/topology"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// lookup answers with the node's name after Units steps of Step each; on
// SlowNode every step takes SlowStep instead. FailNode returns an error.
type lookup struct {
	Query    string
	Units    int
	Step     time.Duration
	SlowNode string
	SlowStep time.Duration
	FailNode string
}

func (*lookup) MessageType() string  { return "deposit.test.lookup" }
func (m *lookup) DepositKey() string { return m.Query }

func (m *lookup) MarshalWire(e *wire.Encoder) error {
	e.WriteString(m.Query)
	e.WriteInt(m.Units)
	e.WriteDuration(m.Step)
	e.WriteString(m.SlowNode)
	e.WriteDuration(m.SlowStep)
	e.WriteString(m.FailNode)
	return nil
}

func (m *lookup) UnmarshalWire(d *wire.Decoder) error {
	m.Query = d.ReadString()
	m.Units = d.ReadInt()
	m.Step = d.ReadDuration()
	m.SlowNode = d.ReadString()
	m.SlowStep = d.ReadDuration()
	m.FailNode = d.ReadString()
	return nil
}

func (m *lookup) Generate(ctx context.Context, nc transport.Context, counter *UnitCounter) (wire.Message, error) {
	generated.add(nc.Name() + "/" + m.Query)
	step := m.Step
	if nc.Name() == m.SlowNode {
		step = m.SlowStep
	}
	counter.SetToBeDone(int64(m.Units))
	for range m.Units {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
		}
		if !counter.Inc() {
			return nil, errors.New("killed")
		}
	}
	if nc.Name() == m.FailNode {
		return nil, errors.New("index unavailable")
	}
	return &wire.Text{Body: nc.Name() + ":" + m.Query}, nil
}

type tally struct {
	mu sync.Mutex
	n  map[string]int
}

func (t *tally) add(k string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == nil {
		t.n = make(map[string]int)
	}
	t.n[k]++
}

func (t *tally) get(k string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n[k]
}

var generated tally

func testRegistry() *wire.Registry {
	r := wire.NewRegistry()
	transport.RegisterMessages(r)
	RegisterMessages(r)
	wire.MustRegisterType[lookup](r)
	return r
}

type node struct {
	srv *transport.Server
	box *Box
}

func startNodes(t *testing.T, reg *wire.Registry, names ...string) []node {
	t.Helper()
	nodes := make([]node, 0, len(names))
	for _, name := range names {
		box := NewBox(BoxOptions{Name: name, Log: discard})
		srv := transport.NewServer(transport.ServerOptions{
			Addr:        "127.0.0.1:0",
			Name:        name,
			WrapContext: WithBox(box),
			Registry:    reg,
			Log:         discard,
		})
		require.NoError(t, srv.Start(t.Context()))
		t.Cleanup(func() {
			srv.Shutdown()
			box.Close()
		})
		nodes = append(nodes, node{srv: srv, box: box})
	}
	return nodes
}

func addrs(nodes []node) []transport.NodeAddress {
	out := make([]transport.NodeAddress, len(nodes))
	for i, n := range nodes {
		out[i] = n.srv.Addr()
	}
	return out
}

func newTestClient(t *testing.T, reg *wire.Registry) *transport.Client {
	t.Helper()
	c := transport.NewClient(transport.ClientOptions{
		Registry:       reg,
		Log:            discard,
		ConnectTimeout: 500 * time.Millisecond,
	})
	t.Cleanup(c.Shutdown)
	return c
}

func TestAgent_CollectsAllWithdrawals(t *testing.T) {
	reg := testRegistry()
	nodes := startNodes(t, reg, "a1", "a2", "a3")

	a, err := NewAgent(AgentOptions{
		Client:            newTestClient(t, reg),
		Nodes:             addrs(nodes),
		Task:              &lookup{Query: "all", Units: 3, Step: 10 * time.Millisecond},
		ResponseTimeout:   time.Second,
		WithdrawalTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		CloseBox:          true,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.CollectWithdrawals(t.Context())
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.False(t, res.TimedOut)
	require.Empty(t, res.Missing)
	require.Empty(t, res.Errors)
	require.Equal(t, 3, res.ResponseCount)
	require.Equal(t, []wire.Message{
		&wire.Text{Body: "a1:all"},
		&wire.Text{Body: "a2:all"},
		&wire.Text{Body: "a3:all"},
	}, res.Contents())

	require.Equal(t, 3, a.NumResponded())
	require.Equal(t, 3, a.NumNodes())
	require.InDelta(t, 1.0, a.ResponseRatio(), 1e-9)
	require.False(t, a.TimedOut())

	for _, n := range nodes {
		require.Equal(t, 1, generated.get(n.srv.Name()+"/all"))
		// CloseBox incinerated the drawer on withdrawal.
		require.Zero(t, n.box.Stats().Active)
	}
}

func TestAgent_PartialWithdrawal(t *testing.T) {
	reg := testRegistry()
	nodes := startNodes(t, reg, "p1", "p2", "p3", "p4")

	const withdrawal = 600 * time.Millisecond
	a, err := NewAgent(AgentOptions{
		Client: newTestClient(t, reg),
		Nodes:  addrs(nodes),
		Task: &lookup{
			Query:    "partial",
			Units:    2,
			Step:     10 * time.Millisecond,
			SlowNode: "p3",
			SlowStep: 5 * time.Second,
		},
		ResponseTimeout:   200 * time.Millisecond,
		WithdrawalTimeout: withdrawal,
		PollInterval:      20 * time.Millisecond,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	start := time.Now()
	res, err := a.CollectWithdrawals(t.Context())
	elapsed := time.Since(start)
	require.NoError(t, err)

	require.Less(t, elapsed, withdrawal+300*time.Millisecond)
	require.True(t, res.TimedOut)
	require.Equal(t, 3, res.ResponseCount)
	require.Equal(t, []transport.NodeAddress{nodes[2].srv.Addr()}, res.Missing)
	require.Len(t, res.Withdrawals, 3)

	slow := res.Receipts[nodes[2].srv.Addr().String()]
	require.NotNil(t, slow)
	require.True(t, slow.RainCheck())
	require.Equal(t, int64(2), slow.ToBeDone)

	// Nothing recorded after the collection ended.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, a.NumResponded())
	require.True(t, a.TimedOut())
}

func TestAgent_ResumesWithClaims(t *testing.T) {
	reg := testRegistry()
	nodes := startNodes(t, reg, "r1", "r2")

	a, err := NewAgent(AgentOptions{
		Client: newTestClient(t, reg),
		Nodes:  addrs(nodes),
		Task: &lookup{
			Query:    "resume",
			Units:    4,
			Step:     10 * time.Millisecond,
			SlowNode: "r2",
			SlowStep: 150 * time.Millisecond,
		},
		ResponseTimeout:   100 * time.Millisecond,
		WithdrawalTimeout: 200 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.CollectWithdrawals(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, res.ResponseCount)

	// The second collection presents the claim and does not restart r2's task.
	require.Eventually(t, func() bool {
		res, err = a.CollectWithdrawals(t.Context())
		return err == nil && res.Complete()
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, generated.get("r1/resume"))
	require.Equal(t, 1, generated.get("r2/resume"))
	require.Equal(t, 2, a.NumResponded())
}

func TestAgent_TaskFailureCountsAsResponse(t *testing.T) {
	reg := testRegistry()
	nodes := startNodes(t, reg, "f1", "f2")

	a, err := NewAgent(AgentOptions{
		Client:            newTestClient(t, reg),
		Nodes:             addrs(nodes),
		Task:              &lookup{Query: "fail", Units: 1, Step: time.Millisecond, FailNode: "f2"},
		WithdrawalTimeout: 3 * time.Second,
		PollInterval:      10 * time.Millisecond,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	res, err := a.CollectWithdrawals(t.Context())
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.Len(t, res.Contents(), 1)

	var remote *wire.RemoteError
	require.ErrorAs(t, res.Errors[nodes[1].srv.Addr().String()], &remote)
	require.Equal(t, "task", remote.Type)
	require.Equal(t, "index unavailable", remote.Message)
}

func TestAgent_NodeWithoutBox(t *testing.T) {
	reg := testRegistry()
	srv := transport.NewServer(transport.ServerOptions{Addr: "127.0.0.1:0", Registry: reg, Log: discard})
	require.NoError(t, srv.Start(t.Context()))
	t.Cleanup(srv.Shutdown)

	a, err := NewAgent(AgentOptions{
		Client:            newTestClient(t, reg),
		Nodes:             []transport.NodeAddress{srv.Addr()},
		Task:              &lookup{Query: "nobox"},
		WithdrawalTimeout: 2 * time.Second,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	start := time.Now()
	res, err := a.CollectWithdrawals(t.Context())
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, res.ResponseCount)

	var remote *wire.RemoteError
	require.ErrorAs(t, res.Errors[srv.Addr().String()], &remote)
	require.Contains(t, remote.Message, ErrNoBox.Error())
}

func TestAgent_Reset(t *testing.T) {
	reg := testRegistry()
	nodes := startNodes(t, reg, "s1")

	a, err := NewAgent(AgentOptions{
		Client:            newTestClient(t, reg),
		Nodes:             addrs(nodes),
		WithdrawalTimeout: 2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		Log:               discard,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.CollectWithdrawals(t.Context())
	require.ErrorIs(t, err, ErrNoTask)

	require.True(t, a.Reset(&lookup{Query: "one", Units: 1}))
	res, err := a.CollectWithdrawals(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, res.ResponseCount)

	require.False(t, a.Reset(&lookup{Query: "one", Units: 5}))
	require.Equal(t, 1, a.NumResponded())

	require.True(t, a.Reset(&lookup{Query: "two", Units: 1}))
	require.Zero(t, a.NumResponded())

	a.Close()
	_, err = a.CollectWithdrawals(t.Context())
	require.ErrorIs(t, err, ErrAgentClosed)
}

func TestController_Process(t *testing.T) {
	reg := testRegistry()
	search := startNodes(t, reg, "c1", "c2")
	index := startNodes(t, reg, "c3")

	resolver := topology.NewStatic(map[string][]transport.NodeAddress{
		"search": addrs(search),
		"index":  addrs(index),
	})
	p := pool.New(pool.Options{Name: "callers", Max: 2})
	t.Cleanup(p.Close)

	c, err := NewController(ControllerOptions{
		Agent: AgentOptions{
			Client:            newTestClient(t, reg),
			Resolver:          resolver,
			WithdrawalTimeout: 3 * time.Second,
			PollInterval:      10 * time.Millisecond,
		},
		Groups: []string{"search", "index"},
		Pool:   p,
		Log:    discard,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	results, err := c.Process(t.Context(), &lookup{Query: "ctl", Units: 2, Step: 5 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "search", results[0].Group)
	assert.Equal(t, 2, results[0].ResponseCount)
	assert.Equal(t, "index", results[1].Group)
	assert.Equal(t, 1, results[1].ResponseCount)

	require.Equal(t, 3, c.NumResponses())
	require.Equal(t, 3, c.NumResponders())

	c.Close()
	_, err = c.Process(t.Context(), &lookup{Query: "late"})
	require.ErrorIs(t, err, ErrControllerClosed)
}

func TestController_UnknownGroup(t *testing.T) {
	reg := testRegistry()
	c, err := NewController(ControllerOptions{
		Agent: AgentOptions{
			Client:   newTestClient(t, reg),
			Resolver: topology.NewStatic(nil),
		},
		Groups: []string{"missing"},
		Log:    discard,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.Process(t.Context(), &lookup{Query: "x"})
	require.ErrorIs(t, err, topology.ErrUnknownGroup)
}

func TestMessages_RoundTrip(t *testing.T) {
	reg := testRegistry()
	in := &Receipt{
		Node:        "n1",
		ClaimTicket: 7,
		Withdrawal: &Withdrawal{
			ClaimNumber: 7,
			Code:        CodeRetrieved,
			Contents:    &wire.Text{Body: "x"},
			Node:        "n1",
			Opened:      time.Unix(10, 0),
		},
		DoneSoFar:      3,
		ToBeDone:       3,
		AvgTimePerUnit: time.Millisecond,
	}
	b, err := reg.Encode(in)
	require.NoError(t, err)
	out, err := reg.Decode(b)
	require.NoError(t, err)
	require.Equal(t, in.Withdrawal.Contents, out.(*Receipt).Withdrawal.Contents)
	require.True(t, out.(*Receipt).Retrieved())
	require.False(t, out.(*Receipt).RainCheck())

	dep := &Deposit{Claims: map[string]int64{"n1": 7}, CloseBox: true, Task: &lookup{Query: "q", Units: 2}}
	b, err = reg.Encode(dep)
	require.NoError(t, err)
	got, err := reg.Decode(b)
	require.NoError(t, err)
	require.Equal(t, dep.Claims, got.(*Deposit).Claims)
	require.Equal(t, dep.Task, got.(*Deposit).Task)
}

func TestReceipt_EstimatedRemaining(t *testing.T) {
	r := &Receipt{DoneSoFar: 2, ToBeDone: 5, AvgTimePerUnit: 10 * time.Millisecond}
	etr, ok := r.EstimatedRemaining()
	require.True(t, ok)
	require.Equal(t, 30*time.Millisecond, etr)

	_, ok = (&Receipt{DoneSoFar: -1, ToBeDone: 5}).EstimatedRemaining()
	require.False(t, ok)
}
