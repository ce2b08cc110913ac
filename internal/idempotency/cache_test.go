// ABOUTME: Tests for the idempotency cache used to replay keyed creates.
// ABOUTME: Validates claim states, TTL expiration, size limits, release and concurrency safety.

package idempotency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BeginNewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	ref, state := cache.Begin("k", "body")
	assert.Equal(t, StateNew, state)
	assert.Equal(t, Ref{}, ref)

	// A claimed but unfinished key is not a lookup hit
	_, ok := cache.lookup("k")
	assert.False(t, ok)
}

func TestCache_BeginPending(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k", "body")
	_, state := cache.Begin("k", "body")
	assert.Equal(t, StatePending, state)
}

func TestCache_CompleteThenReplay(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k", "body")
	cache.Complete("k", Ref{TypeID: 3, EntityID: 17})

	ref, state := cache.Begin("k", "body")
	assert.Equal(t, StateDone, state)
	assert.Equal(t, Ref{TypeID: 3, EntityID: 17}, ref)

	ref, ok := cache.lookup("k")
	require.True(t, ok)
	assert.Equal(t, int64(17), ref.EntityID)
}

func TestCache_Release(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k", "body")
	cache.Release("k")
	assert.Equal(t, 0, cache.Len())

	_, state := cache.Begin("k", "body")
	assert.Equal(t, StateNew, state, "released keys can be claimed again")
}

func TestCache_ReleaseKeepsCompleted(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k", "body")
	cache.Complete("k", Ref{TypeID: 1, EntityID: 1})
	cache.Release("k")

	_, ok := cache.lookup("k")
	assert.True(t, ok)
}

func TestCache_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Begin("k", "body")
	cache.Complete("k", Ref{TypeID: 1, EntityID: 5})

	time.Sleep(20 * time.Millisecond)

	_, ok := cache.lookup("k")
	assert.False(t, ok)
	_, state := cache.Begin("k", "body")
	assert.Equal(t, StateNew, state, "expired keys are claimable")
}

func TestCache_MaxSizeEvictsOldest(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 1; i <= 4; i++ {
		key := fmt.Sprintf("k%d", i)
		cache.Begin(key, "body")
		cache.Complete(key, Ref{TypeID: 1, EntityID: int64(i)})
	}

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.lookup("k1")
	assert.False(t, ok, "oldest key is evicted")
	for _, key := range []string{"k2", "k3", "k4"} {
		_, ok := cache.lookup(key)
		assert.True(t, ok, key)
	}
}

func TestCache_RunCleanup(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Begin("a", "body")
	cache.Begin("b", "body")
	time.Sleep(20 * time.Millisecond)
	cache.Begin("c", "body")

	cache.runCleanup()
	assert.Equal(t, 1, cache.Len())
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestCache_ConcurrentBeginSingleWinner(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, state := cache.Begin("shared", "body"); state == StateNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_BeginMismatchedFingerprint(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k", "body-a")
	_, state := cache.Begin("k", "body-b")
	assert.Equal(t, StateMismatch, state, "pending key reused with another body")

	cache.Complete("k", Ref{TypeID: 3, EntityID: 9})
	_, state = cache.Begin("k", "body-b")
	assert.Equal(t, StateMismatch, state, "completed key reused with another body")

	ref, state := cache.Begin("k", "body-a")
	assert.Equal(t, StateDone, state)
	assert.Equal(t, int64(9), ref.EntityID)
}
