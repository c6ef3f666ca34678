package base

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeLockReadersOverlap(t *testing.T) {
	l := NewNodeLock()
	require.True(t, l.TryLock(LockRead))
	require.True(t, l.TryLock(LockRead), "read must overlap read")
	l.Unlock(LockRead)
	l.Unlock(LockRead)
}

func TestNodeLockIntentExcludesIntent(t *testing.T) {
	l := NewNodeLock()
	require.True(t, l.TryLock(LockIntent))
	assert.False(t, l.TryLock(LockIntent), "intent must exclude a second intent")
	l.Unlock(LockIntent)
	assert.True(t, l.TryLock(LockIntent), "intent becomes available once released")
}

func TestNodeLockIntentAllowsRead(t *testing.T) {
	l := NewNodeLock()
	require.True(t, l.TryLock(LockIntent))
	assert.True(t, l.TryLock(LockRead), "intent must allow concurrent reads")
}

func TestNodeLockIntentExcludesWrite(t *testing.T) {
	l := NewNodeLock()
	require.True(t, l.TryLock(LockIntent))
	assert.False(t, l.TryLock(LockWrite), "intent must exclude write")
}

func TestNodeLockWriteExcludesAll(t *testing.T) {
	l := NewNodeLock()
	require.True(t, l.TryLock(LockWrite))
	assert.False(t, l.TryLock(LockRead))
	assert.False(t, l.TryLock(LockIntent))
	assert.False(t, l.TryLock(LockWrite))
}

func TestNodeLockWriteWaitsForReaders(t *testing.T) {
	l := NewNodeLock()
	l.Lock(LockRead)

	acquired := make(chan struct{})
	go func() {
		l.Lock(LockWrite)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("write lock acquired while a reader is still held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Unlock(LockRead)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("write lock never acquired after reader released")
	}
	l.Unlock(LockWrite)
}

func TestNodeLockConcurrentReaders(t *testing.T) {
	l := NewNodeLock()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock(LockRead)
			time.Sleep(time.Millisecond)
			l.Unlock(LockRead)
		}()
	}
	wg.Wait()
}
