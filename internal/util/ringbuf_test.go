package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, []int{1, 2}, rb.Snapshot())
	assert.Equal(t, 2, rb.Len())

	rb.Push(3)
	rb.Push(4) // overwrites 1
	assert.Equal(t, []int{2, 3, 4}, rb.Snapshot())
	assert.Equal(t, 3, rb.Len())
}

func TestRingBufferDrain(t *testing.T) {
	rb := NewRingBuffer[string](2)
	rb.Push("a")
	rb.Push("b")
	rb.Push("c")

	assert.Equal(t, []string{"b", "c"}, rb.Drain())
	assert.Equal(t, 0, rb.Len())
	assert.Empty(t, rb.Drain())

	// Usable again after a drain.
	rb.Push("d")
	assert.Equal(t, []string{"d"}, rb.Snapshot())
}
