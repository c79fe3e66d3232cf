package lazyqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByGainThenNode(t *testing.T) {
	q := New([]Entry{
		{Node: 4, Gain: 1},
		{Node: 2, Gain: 3},
		{Node: 9, Gain: 3},
		{Node: 1, Gain: 0.5},
	})
	q.Push(Entry{Node: 0, Gain: 2, Round: 1})

	top, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, top.Node)

	var order []int
	for q.Len() > 0 {
		order = append(order, q.Pop().Node)
	}
	assert.Equal(t, []int{2, 9, 0, 4, 1}, order)

	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueueReinsertKeepsRound(t *testing.T) {
	q := New(nil)
	q.Push(Entry{Node: 1, Gain: 5, Round: 0})
	e := q.Pop()
	e.Gain, e.Round = 2, 3
	q.Push(e)

	got := q.Pop()
	assert.Equal(t, Entry{Node: 1, Gain: 2, Round: 3}, got)
}
