package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_Do(t *testing.T) {
	g := New[int]()

	var calls atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := g.Do("k", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, 42, v)
	}
}

func TestGroup_Error(t *testing.T) {
	g := New[string]()
	boom := errors.New("boom")
	v, _, err := g.Do("k", func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, v)

	v, _, err = g.Do("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}
