package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/drowsiness-cv/server/models"
)

var ErrQueueClosed = errors.New("processing queue shutting down")

type ProcessingQueue struct {
	items      chan *QueueItem
	workers    int
	workerFunc func(*QueueItem) *ProcessingResult
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
}

type QueueItem struct {
	Ctx        context.Context
	Request    *models.FrameRequest
	ResultChan chan *ProcessingResult
	StartTime  time.Time
}

type ProcessingResult struct {
	Result *models.ClassificationResult
	Error  error
}

func NewProcessingQueue(queueSize, workers int, workerFunc func(*QueueItem) *ProcessingResult) *ProcessingQueue {
	queue := &ProcessingQueue{
		items:      make(chan *QueueItem, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		queue.wg.Add(1)
		go queue.worker()
	}

	return queue
}

func (pq *ProcessingQueue) worker() {
	defer pq.wg.Done()

	for {
		// shutdown wins over pending items; drain fails those
		select {
		case <-pq.shutdown:
			return
		default:
		}

		select {
		case item := <-pq.items:
			pq.run(item)
		case <-pq.shutdown:
			return
		}
	}
}

// run delivers exactly one result per item; ResultChan is buffered so the
// send never blocks even if the caller has given up waiting.
func (pq *ProcessingQueue) run(item *QueueItem) {
	var result *ProcessingResult
	defer func() {
		if r := recover(); r != nil {
			result = &ProcessingResult{Error: fmt.Errorf("worker panic: %v", r)}
		}
		item.ResultChan <- result
	}()

	if err := item.Ctx.Err(); err != nil {
		result = &ProcessingResult{Error: err}
		return
	}
	result = pq.workerFunc(item)
}

func (pq *ProcessingQueue) Enqueue(item *QueueItem) bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()

	if !pq.isRunning {
		return false
	}

	select {
	case pq.items <- item:
		return true
	default:
		return false
	}
}

func (pq *ProcessingQueue) Size() int {
	return len(pq.items)
}

func (pq *ProcessingQueue) Capacity() int {
	return cap(pq.items)
}

func (pq *ProcessingQueue) IsRunning() bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	return pq.isRunning
}

func (pq *ProcessingQueue) Shutdown(timeout time.Duration) error {
	pq.mutex.Lock()
	if !pq.isRunning {
		pq.mutex.Unlock()
		return nil
	}
	pq.isRunning = false
	pq.mutex.Unlock()

	close(pq.shutdown)

	done := make(chan struct{})
	go func() {
		pq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pq.drain()
		return nil
	case <-time.After(timeout):
		pq.drain()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// drain fails every item still waiting in the buffer.
func (pq *ProcessingQueue) drain() int {
	drained := 0
	for {
		select {
		case item := <-pq.items:
			item.ResultChan <- &ProcessingResult{Error: ErrQueueClosed}
			drained++
		default:
			return drained
		}
	}
}

func (pq *ProcessingQueue) GetQueueStats() QueueStats {
	return QueueStats{
		CurrentSize:        pq.Size(),
		MaxCapacity:        pq.Capacity(),
		ActiveWorkers:      pq.workers,
		IsRunning:          pq.IsRunning(),
		UtilizationPercent: float64(pq.Size()) / float64(pq.Capacity()) * 100,
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	ActiveWorkers      int     `json:"active_workers"`
	IsRunning          bool    `json:"is_running"`
	UtilizationPercent float64 `json:"utilization_percent"`
}
