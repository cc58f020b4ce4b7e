package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
)

type stubFactory struct {
	mu    sync.Mutex
	built []*stub
	calls atomic.Int32
	fail  bool
}

func (f *stubFactory) build(context.Context, deposit.Task) (Processor, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("no nodes")
	}
	time.Sleep(10 * time.Millisecond)
	s := newStub()
	f.mu.Lock()
	f.built = append(f.built, s)
	f.mu.Unlock()
	return s, nil
}

func (f *stubFactory) stub(i int) *stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

func newTestService(t *testing.T, f *stubFactory, retain int) *Service {
	t.Helper()
	s, err := NewService(ServiceOptions{Name: "svc", Factory: f.build, Retain: retain, Log: discard})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestService_DeduplicatesSubmissions(t *testing.T) {
	f := &stubFactory{}
	s := newTestService(t, f, 0)

	handles := make([]*Handle, 8)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := s.Submit(t.Context(), &query{Text: "same"})
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), f.calls.Load())
	for _, h := range handles[1:] {
		require.Same(t, handles[0], h)
	}

	other, err := s.Submit(t.Context(), &query{Text: "other"})
	require.NoError(t, err)
	require.NotSame(t, handles[0], other)
	require.Equal(t, 2, s.Len())

	got, ok := s.Lookup(Key(&query{Text: "same"}))
	require.True(t, ok)
	require.Same(t, handles[0], got)
}

func TestService_RerunsFinishedHandle(t *testing.T) {
	f := &stubFactory{}
	s := newTestService(t, f, 0)

	h, err := s.Submit(t.Context(), &query{Text: "q"})
	require.NoError(t, err)
	p := f.stub(0)
	close(p.release)
	require.Eventually(t, h.Finished, time.Second, time.Millisecond)

	again, err := s.Submit(t.Context(), &query{Text: "q"})
	require.NoError(t, err)
	require.Same(t, h, again)
	require.Eventually(t, func() bool { return p.calls.Load() == 2 && h.Finished() }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), f.calls.Load())
}

func TestService_ReplacesKilledHandle(t *testing.T) {
	f := &stubFactory{}
	s := newTestService(t, f, 0)

	h, err := s.Submit(t.Context(), &query{Text: "q"})
	require.NoError(t, err)
	h.Kill()

	next, err := s.Submit(t.Context(), &query{Text: "q"})
	require.NoError(t, err)
	require.NotSame(t, h, next)
	require.True(t, f.stub(0).closed.Load())
}

func TestService_ReleaseAndEvict(t *testing.T) {
	f := &stubFactory{}
	s := newTestService(t, f, 1)

	_, err := s.Submit(t.Context(), &query{Text: "a"})
	require.NoError(t, err)
	_, err = s.Submit(t.Context(), &query{Text: "b"})
	require.NoError(t, err)

	// Keeping only one handle closed the first.
	require.Eventually(t, f.stub(0).closed.Load, time.Second, time.Millisecond)
	_, ok := s.Lookup(Key(&query{Text: "a"}))
	require.False(t, ok)

	require.True(t, s.Release(Key(&query{Text: "b"})))
	require.False(t, s.Release(Key(&query{Text: "b"})))
	require.True(t, f.stub(1).closed.Load())
}

func TestService_FactoryError(t *testing.T) {
	f := &stubFactory{fail: true}
	s := newTestService(t, f, 0)

	_, err := s.Submit(t.Context(), &query{Text: "q"})
	require.ErrorContains(t, err, "no nodes")
	require.Zero(t, s.Len())
}

func TestService_Close(t *testing.T) {
	f := &stubFactory{}
	s := newTestService(t, f, 0)

	h, err := s.Submit(t.Context(), &query{Text: "q"})
	require.NoError(t, err)

	s.Close()
	s.Close()
	require.True(t, h.Killed())
	require.True(t, f.stub(0).closed.Load())

	_, err = s.Submit(t.Context(), &query{Text: "q"})
	require.ErrorIs(t, err, ErrClosed)
}
