package primitives

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerKeyLock_SerializesSameKey(t *testing.T) {
	l := NewPerKeyLock[string]()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.RunExclusive("chat-1", func() error {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, l.Len())
}

func TestPerKeyLock_DistinctKeysRunConcurrently(t *testing.T) {
	l := NewPerKeyLock[string]()
	start := make(chan struct{})
	var wg sync.WaitGroup
	var concurrent int32
	var sawConcurrency atomic.Bool

	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			<-start
			_ = l.RunExclusive(k, func() error {
				n := atomic.AddInt32(&concurrent, 1)
				if n == 2 {
					sawConcurrency.Store(true)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}(key)
	}
	close(start)
	wg.Wait()

	assert.True(t, sawConcurrency.Load())
}

func TestPerKeyLock_ReentrancyDetected(t *testing.T) {
	l := NewPerKeyLock[string]()
	var innerErr error

	outerErr := l.RunExclusive("chat-1", func() error {
		innerErr = l.RunExclusive("chat-1", func() error { return nil })
		return nil
	})

	require.NoError(t, outerErr)
	assert.ErrorIs(t, innerErr, ErrDeadlockDetected)
}

func TestPerKeyLock_PropagatesFnError(t *testing.T) {
	l := NewPerKeyLock[string]()
	sentinel := assert.AnError
	err := l.RunExclusive("chat-1", func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, l.Len())
}
