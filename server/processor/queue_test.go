package processor

import (
	"context"
	"testing"
	"time"

	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(ctx context.Context) *QueueItem {
	return &QueueItem{
		Ctx:        ctx,
		Request:    &models.FrameRequest{},
		ResultChan: make(chan *ProcessingResult, 1),
		StartTime:  time.Now(),
	}
}

func TestQueueRecoversWorkerPanic(t *testing.T) {
	queue := NewProcessingQueue(4, 1, func(*QueueItem) *ProcessingResult {
		panic("bad frame")
	})
	defer queue.Shutdown(time.Second)

	item := newItem(context.Background())
	require.True(t, queue.Enqueue(item))

	result := <-item.ResultChan
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "worker panic")
}

func TestQueueSkipsCancelledItems(t *testing.T) {
	called := make(chan struct{}, 1)
	queue := NewProcessingQueue(4, 1, func(*QueueItem) *ProcessingResult {
		called <- struct{}{}
		return &ProcessingResult{Result: models.NoFace()}
	})
	defer queue.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := newItem(ctx)
	require.True(t, queue.Enqueue(item))

	result := <-item.ResultChan
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.Empty(t, called)
}

func TestQueueShutdownDrainsPending(t *testing.T) {
	release := make(chan struct{})
	queue := NewProcessingQueue(4, 1, func(*QueueItem) *ProcessingResult {
		<-release
		return &ProcessingResult{Result: models.NoFace()}
	})

	busy := newItem(context.Background())
	require.True(t, queue.Enqueue(busy))
	require.Eventually(t, func() bool { return queue.Size() == 0 }, time.Second, time.Millisecond)

	waiting := newItem(context.Background())
	require.True(t, queue.Enqueue(waiting))

	done := make(chan error, 1)
	go func() { done <- queue.Shutdown(time.Second) }()

	require.Eventually(t, func() bool {
		select {
		case <-queue.shutdown:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.NoError(t, (<-busy.ResultChan).Error)
	assert.ErrorIs(t, (<-waiting.ResultChan).Error, ErrQueueClosed)
	assert.False(t, queue.Enqueue(newItem(context.Background())))
}
