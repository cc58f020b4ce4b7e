package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
)

type ControllerOptions struct {
	Name string
	// Agent is the template for every agent. Its Groups and Name are
	// replaced per subgroup.
	Agent AgentOptions
	// Groups names one subgroup per agent. Empty runs a single agent with
	// the template as is.
	Groups []string
	// Pool runs the agents' collections. When nil the controller owns a pool
	// sized to its agents.
	Pool *pool.Pool
	Log  *slog.Logger
}

// Controller runs one transaction per subgroup concurrently and gathers
// their results.
type Controller struct {
	name    string
	agents  []*Agent
	pool    *pool.Pool
	ownPool bool
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("controller-%s", gonanoid.Must(6))
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Agent.Log == nil {
		opts.Agent.Log = opts.Log
	}

	c := &Controller{
		name: opts.Name,
		log:  opts.Log.With(slog.String("controller", opts.Name)),
	}

	templates := []AgentOptions{opts.Agent}
	if len(opts.Groups) > 0 {
		templates = templates[:0]
		for _, g := range opts.Groups {
			o := opts.Agent
			o.Name = opts.Name + "-" + g
			o.Groups = []string{g}
			templates = append(templates, o)
		}
	}
	for _, o := range templates {
		a, err := NewAgent(o)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", opts.Name, err)
		}
		c.agents = append(c.agents, a)
	}

	c.pool = opts.Pool
	if c.pool == nil {
		c.ownPool = true
		c.pool = pool.New(pool.Options{
			Name: opts.Name,
			Max:  len(c.agents),
			Log:  slog.New(slog.DiscardHandler),
		})
	}
	return c, nil
}

func (c *Controller) Name() string { return c.name }

func (c *Controller) Agents() []*Agent { return c.agents }

// Process resets every agent to task and collects from all of them at once.
// Results are in agent order. The error joins the agents' failures; results
// of the agents that succeeded are still returned.
func (c *Controller) Process(ctx context.Context, task Task) ([]TransactionResult, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrControllerClosed
	}

	results := make([]TransactionResult, len(c.agents))
	errs := make([]error, len(c.agents))
	var wg sync.WaitGroup
	for i, a := range c.agents {
		a.Reset(task)
		wg.Add(1)
		err := c.pool.Submit(ctx, func() {
			defer wg.Done()
			results[i], errs[i] = a.CollectWithdrawals(ctx)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("agent %s: %w", a.Name(), err)
		}
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

// Progress is every agent's current transaction state.
func (c *Controller) Progress() []TransactionResult {
	out := make([]TransactionResult, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.Progress()
	}
	return out
}

// NumResponses counts nodes that have answered across all agents.
func (c *Controller) NumResponses() int {
	n := 0
	for _, a := range c.agents {
		n += a.NumResponded()
	}
	return n
}

// NumResponders counts nodes asked across all agents.
func (c *Controller) NumResponders() int {
	n := 0
	for _, a := range c.agents {
		n += a.NumNodes()
	}
	return n
}

func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, a := range c.agents {
		a.Close()
	}
	if c.ownPool {
		c.pool.Close()
	}
}
