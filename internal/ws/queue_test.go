package ws

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domainFrame(i int) frame {
	return frame{data: []byte(fmt.Sprintf("d%d", i))}
}

func TestSendQueueFIFO(t *testing.T) {
	q := newSendQueue(4)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.push(domainFrame(i)))
	}

	for i := 0; i < 3; i++ {
		fr, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("d%d", i), string(fr.data))
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestSendQueueDropOldestWhenFull(t *testing.T) {
	q := newSendQueue(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.push(domainFrame(i)))
		assert.LessOrEqual(t, q.len(), 3)
	}

	// d0 and d1 were evicted, the newest three survive in order.
	var got []string
	for {
		fr, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, string(fr.data))
	}
	assert.Equal(t, []string{"d2", "d3", "d4"}, got)
	assert.Equal(t, uint64(2), q.droppedCount())
}

func TestSendQueueControlJumpsAheadWhenFull(t *testing.T) {
	q := newSendQueue(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.push(domainFrame(i)))
	}
	require.NoError(t, q.push(frame{data: []byte("ctrl"), control: true}))

	assert.Equal(t, 3, q.len())
	fr, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "ctrl", string(fr.data))
	assert.True(t, fr.control)
}

func TestSendQueueControlNeverEvicted(t *testing.T) {
	q := newSendQueue(2)

	require.NoError(t, q.push(frame{data: []byte("c1"), control: true}))
	require.NoError(t, q.push(frame{data: []byte("c2"), control: true}))

	// Domain frames arriving at an all-control queue are dropped.
	require.NoError(t, q.push(domainFrame(0)))
	assert.Equal(t, 2, q.len())

	// A third control frame displaces the oldest control frame and joins
	// behind the surviving one.
	require.NoError(t, q.push(frame{data: []byte("c3"), control: true}))
	assert.Equal(t, 2, q.len())

	fr, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "c2", string(fr.data))
	fr, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "c3", string(fr.data))
}

func TestSendQueueControlFramesKeepEnqueueOrder(t *testing.T) {
	q := newSendQueue(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.push(domainFrame(i)))
	}
	require.NoError(t, q.push(frame{data: []byte("ctrlA"), control: true}))
	require.NoError(t, q.push(frame{data: []byte("ctrlB"), control: true}))

	// Control frames jump the queued domain frames but never each other.
	var got []string
	for {
		fr, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, string(fr.data))
	}
	assert.Equal(t, []string{"ctrlA", "ctrlB", "d2"}, got)
}

func TestSendQueueCapacityNeverExceeded(t *testing.T) {
	q := newSendQueue(8)

	for i := 0; i < 100; i++ {
		fr := domainFrame(i)
		if i%5 == 0 {
			fr.control = true
		}
		require.NoError(t, q.push(fr))
		require.LessOrEqual(t, q.len(), 8)
	}
}

func TestSendQueueClose(t *testing.T) {
	q := newSendQueue(4)

	require.NoError(t, q.push(domainFrame(0)))
	q.close()

	assert.True(t, q.isClosed())
	assert.ErrorIs(t, q.push(domainFrame(1)), ErrQueueClosed)
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestSendQueueWakeSignal(t *testing.T) {
	q := newSendQueue(4)

	require.NoError(t, q.push(domainFrame(0)))
	select {
	case <-q.wake:
	default:
		t.Fatal("push did not signal the writer")
	}
}
