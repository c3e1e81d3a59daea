package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one store waiting to be scraped.
type Task struct {
	ID        string
	StoreID   string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

type InMemoryQueue struct {
	tasks  []*Task
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	q := &InMemoryQueue{
		tasks: make([]*Task, 0),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	// insert keeping the slice ordered, FIFO within equal priority
	i := sort.Search(len(q.tasks), func(i int) bool {
		return q.tasks[i].Priority < task.Priority
	})
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = task

	q.cond.Signal()
	return nil
}

func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed {
		// wake the Wait below if the context dies first
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-stop:
			}
		}()

		q.cond.Wait()
		close(stop)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if q.closed && len(q.tasks) == 0 {
		return nil, ErrQueueClosed
	}

	if len(q.tasks) == 0 {
		return nil, ErrQueueEmpty
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]

	return task, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()

	return nil
}
