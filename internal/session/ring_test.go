package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_NeverExceedsCapacity(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 10; i++ {
		r.Push(i)
		assert.LessOrEqual(t, r.Len(), r.Cap())
	}
	assert.Equal(t, []int{8, 9, 10}, r.Items())
}

func TestRing_EvictsOldestOnOverflow(t *testing.T) {
	r := NewRing[string](5)
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		assert.False(t, r.Push(v))
	}

	assert.True(t, r.Push("f"), "capacity+1 insert must evict")
	items := r.Items()
	assert.NotContains(t, items, "a")
	assert.Contains(t, items, "f")
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, items)
}

func TestRing_Reads(t *testing.T) {
	r := NewRing[int](4)
	assert.Empty(t, r.Items())
	assert.Empty(t, r.Newest(2))

	for i := 1; i <= 6; i++ {
		r.Push(i)
	}

	assert.Equal(t, []int{5, 6}, r.Last(2))
	assert.Equal(t, []int{6, 5}, r.Newest(2))
	assert.Equal(t, []int{6, 5, 4, 3}, r.Newest(0))
	assert.Equal(t, []int{3, 4, 5, 6}, r.Last(99))
}

func TestRing_ClearAndClone(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)

	c := r.Clone()
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 2, r.Cap())
	assert.Equal(t, []int{1, 2}, c.Items())

	r.Push(7)
	assert.Equal(t, []int{7}, r.Items())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Items())
}
