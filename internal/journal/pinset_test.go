package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPinSetMinEmptyIsZero(t *testing.T) {
	ps := NewPinSet()
	assert.Equal(t, uint64(0), ps.Min())
}

func TestPinSetMinTracksLowest(t *testing.T) {
	ps := NewPinSet()
	ps.Add(10)
	ps.Add(5)
	ps.Add(20)
	assert.Equal(t, uint64(5), ps.Min())
}

func TestPinSetRefcounting(t *testing.T) {
	ps := NewPinSet()
	ps.Add(7)
	ps.Add(7)
	ps.Remove(7)
	assert.Equal(t, uint64(7), ps.Min(), "pin held by two refs must survive a single Remove")
	ps.Remove(7)
	assert.Equal(t, uint64(0), ps.Min(), "pin must clear once its refcount reaches zero")
}

func TestPinSetRescansAfterRemovingMin(t *testing.T) {
	ps := NewPinSet()
	ps.Add(5)
	ps.Add(8)
	ps.Add(12)
	ps.Remove(5)
	assert.Equal(t, uint64(8), ps.Min(), "removing the cached min must rescan for the new minimum")
	ps.Remove(8)
	assert.Equal(t, uint64(12), ps.Min())
	ps.Remove(12)
	assert.Equal(t, uint64(0), ps.Min())
}
