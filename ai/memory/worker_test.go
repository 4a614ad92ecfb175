package memory

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRunsSubmittedTasks(t *testing.T) {
	w := NewWorker("u1", 8)
	defer w.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, w.Submit(func(context.Context) { ran.Add(1) }))
	}
	w.Flush()
	assert.Equal(t, int32(5), ran.Load())
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	w := NewWorker("u1", 1)
	defer w.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, w.Submit(func(context.Context) {
		close(started)
		<-block
	}))
	<-started

	// The worker is busy; one task fits in the queue, the next is dropped.
	require.True(t, w.Submit(func(context.Context) {}))
	assert.False(t, w.Submit(func(context.Context) {}))

	close(block)
	w.Flush()
}

func TestWorkerFlushAfterClose(t *testing.T) {
	w := NewWorker("u1", 4)
	w.Close()
	// Must not block or panic.
	w.Flush()
}
