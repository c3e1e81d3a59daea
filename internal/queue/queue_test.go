package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("fifo within one priority", func(t *testing.T) {
		q := NewInMemoryQueue()

		require.NoError(t, q.Push(&Task{ID: "1", StoreID: "100"}))
		require.NoError(t, q.Push(&Task{ID: "2", StoreID: "200"}))
		assert.Equal(t, 2, q.Size())

		first, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "100", first.StoreID)

		second, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "200", second.StoreID)
		assert.Equal(t, 0, q.Size())
	})

	t.Run("higher priority pops first", func(t *testing.T) {
		q := NewInMemoryQueue()

		require.NoError(t, q.Push(&Task{StoreID: "low", Priority: 1}))
		require.NoError(t, q.Push(&Task{StoreID: "high", Priority: 10}))
		require.NoError(t, q.Push(&Task{StoreID: "mid", Priority: 5}))

		var order []string
		for i := 0; i < 3; i++ {
			task, err := q.Pop(ctx)
			require.NoError(t, err)
			order = append(order, task.StoreID)
		}
		assert.Equal(t, []string{"high", "mid", "low"}, order)
	})

	t.Run("pop blocks until push", func(t *testing.T) {
		q := NewInMemoryQueue()

		got := make(chan *Task, 1)
		go func() {
			task, err := q.Pop(ctx)
			if err == nil {
				got <- task
			}
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, q.Push(&Task{StoreID: "100"}))

		select {
		case task := <-got:
			assert.Equal(t, "100", task.StoreID)
		case <-time.After(time.Second):
			t.Fatal("pop never woke up")
		}
	})

	t.Run("pop honours context cancellation", func(t *testing.T) {
		q := NewInMemoryQueue()

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := q.Pop(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close drains then reports closed", func(t *testing.T) {
		q := NewInMemoryQueue()

		require.NoError(t, q.Push(&Task{StoreID: "100"}))
		require.NoError(t, q.Close())

		task, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "100", task.StoreID)

		_, err = q.Pop(ctx)
		assert.ErrorIs(t, err, ErrQueueClosed)
	})

	t.Run("push after close rejected", func(t *testing.T) {
		q := NewInMemoryQueue()
		require.NoError(t, q.Close())
		assert.ErrorIs(t, q.Push(&Task{StoreID: "100"}), ErrQueueClosed)
	})

	t.Run("close unblocks waiting pop", func(t *testing.T) {
		q := NewInMemoryQueue()

		errCh := make(chan error, 1)
		go func() {
			_, err := q.Pop(ctx)
			errCh <- err
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, q.Close())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("pop never returned after close")
		}
	})
}
