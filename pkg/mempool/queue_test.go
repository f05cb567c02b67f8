package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueInitializationWithCapacity(t *testing.T) {
	queue := NewQueue[int](10)
	assert.Equal(t, 0, len(queue.ToSlice()), "initial length of queue should be 0")
}

func TestQueueFindIndexByKey(t *testing.T) {
	queue := NewQueue[int](10)
	queue.EnqueueTail("first", 1)
	queue.EnqueueTail("second", 2)

	index, found := queue.FindIndexByKey("second")
	assert.True(t, found, "item with key 'second' should be found")
	assert.Equal(t, 1, index, "index of item with key 'second' should be 1")

	_, found = queue.FindIndexByKey("third")
	assert.False(t, found, "item with key 'third' should not be found")
}

func TestQueueDequeueEmpty(t *testing.T) {
	queue := NewQueue[int](0)

	item, ok := queue.Dequeue()
	assert.False(t, ok, "expected false from Dequeue on empty queue")
	assert.Equal(t, 0, item, "expected zero value from Dequeue on empty queue")
}

func TestQueueFIFOOrderAndKeyShift(t *testing.T) {
	queue := NewQueue[string](0)
	queue.EnqueueTail("a", "first")
	queue.EnqueueTail("b", "second")
	queue.EnqueueTail("c", "third")

	item, ok := queue.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "first", item)

	// "b" and "c" should have shifted down by one index.
	index, found := queue.FindIndexByKey("b")
	assert.True(t, found)
	assert.Equal(t, 0, index)

	index, found = queue.FindIndexByKey("c")
	assert.True(t, found)
	assert.Equal(t, 1, index)

	// "a"'s key entry is gone now that it has been dequeued.
	_, found = queue.FindIndexByKey("a")
	assert.False(t, found)
}

func TestQueuePeekOutOfRange(t *testing.T) {
	queue := NewQueue[int](0)
	queue.EnqueueTail("only", 42)

	_, err := queue.Peek(5)
	assert.Error(t, err)

	val, err := queue.Peek(0)
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestQueueSize(t *testing.T) {
	queue := NewQueue[int](0)
	assert.Equal(t, 0, queue.Size())
	queue.EnqueueTail("a", 1)
	queue.EnqueueTail("b", 2)
	assert.Equal(t, 2, queue.Size())
}
