package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/cache"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/sf"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// Factory builds the processor for a newly submitted task.
type Factory func(ctx context.Context, task deposit.Task) (Processor, error)

type ServiceOptions struct {
	Name    string
	Factory Factory
	// Retain bounds the handles kept for Lookup. Evicted handles are closed.
	// Defaults to 128.
	Retain int
	Log    *slog.Logger
}

// Service starts a handle per distinct task and hands the same handle to
// everyone who submits that task while it is kept.
type Service struct {
	name    string
	factory Factory
	log     *slog.Logger

	handles *cache.LRU[*Handle]
	group   *sf.Group[*Handle]

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Factory == nil {
		return nil, errors.New("process service: factory is required")
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("service-%s", gonanoid.Must(6))
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	s := &Service{
		name:    opts.Name,
		factory: opts.Factory,
		log:     opts.Log.With(slog.String("service", opts.Name)),
		group:   sf.New[*Handle](),
	}
	s.handles = cache.NewLRU(cache.LRUOpts[*Handle]{
		Size: opts.Retain,
		OnEvict: func(key string, h *Handle) {
			s.log.Debug("handle evicted", slog.String("key", key), slog.String("process", h.ID()))
			go h.Close()
		},
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Key identifies a task by discriminator and deposit key.
func Key(task deposit.Task) string {
	name, _ := wire.TypeName(task)
	return name + "/" + task.DepositKey()
}

// Submit starts task, or returns the handle already kept for it. A kept
// handle that finished is run again, continuing its transactions.
func (s *Service) Submit(ctx context.Context, task deposit.Task) (*Handle, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	key := Key(task)
	h, _, err := s.group.Do(key, func() (*Handle, error) {
		if h, ok := s.handles.Get(key); ok {
			if !h.Killed() {
				if h.ResetFinished() {
					h.Start(s.ctx)
				}
				return h, nil
			}
			s.handles.Delete(key)
			h.Close()
		}

		p, err := s.factory(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("build processor for %s: %w", key, err)
		}
		h := NewHandle(HandleOptions{
			ID:        fmt.Sprintf("%s-%s", s.name, gonanoid.Must(8)),
			Processor: p,
			Task:      task,
			Log:       s.log,
		})
		s.handles.Put(key, h)
		h.Start(s.ctx)
		s.log.Debug("process submitted", slog.String("key", key), slog.String("process", h.ID()))
		return h, nil
	})
	return h, err
}

func (s *Service) Lookup(key string) (*Handle, bool) {
	return s.handles.Get(key)
}

// Release closes and forgets the handle kept under key.
func (s *Service) Release(key string) bool {
	h, ok := s.handles.Get(key)
	if !ok {
		return false
	}
	s.handles.Delete(key)
	h.Close()
	return true
}

// Len counts kept handles.
func (s *Service) Len() int { return s.handles.Len() }

// Close kills and closes every kept handle.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	var kept []*Handle
	s.handles.DeleteFunc(func(_ string, h *Handle) bool {
		kept = append(kept, h)
		return true
	})
	for _, h := range kept {
		h.Close()
	}
}
