package update

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClosureFiresAtZero(t *testing.T) {
	c := NewClosure()
	c.Get()
	c.Get()

	select {
	case <-c.Done():
		t.Fatal("closure fired before every Get had a matching Put")
	default:
	}

	c.Put()
	select {
	case <-c.Done():
		t.Fatal("closure fired with one outstanding reference remaining")
	default:
	}

	c.Put()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("closure never fired after the last Put")
	}
}

func TestClosureGetAfterPendingWait(t *testing.T) {
	// A new node may be added to an update (Get) while some other
	// goroutine already holds a reference — the closure must not fire
	// until every reference, including ones added late, is Put.
	c := NewClosure()
	c.Get()
	c.Get()
	c.Put()
	c.Get()
	c.Put()
	c.Put()

	select {
	case <-c.Done():
	default:
		t.Fatal("closure should be done once all three Gets are matched")
	}
}

func TestClosureZeroGetsNeverFires(t *testing.T) {
	c := NewClosure()
	assert.NotPanics(t, func() {
		select {
		case <-c.Done():
			t.Fatal("closure with no Get should not be done")
		default:
		}
	})
}
