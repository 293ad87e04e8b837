package engine_test

import (
	"sync"
	"testing"

	"github.com/lmxdawn/paywallet/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ProcessesInOrder(t *testing.T) {
	q := engine.NewQueue[int]()
	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(func(i int) { got = append(got, i) })
	}()

	for i := 0; i < 100; i++ {
		require.True(t, q.Submit(i))
	}
	q.Close()
	<-done

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := engine.NewQueue[string]()
	q.Close()
	q.Close()
	assert.False(t, q.Submit("late"))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainsItemsSubmittedBeforeRun(t *testing.T) {
	q := engine.NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Submit(i)
	}
	assert.Equal(t, 5, q.Len())
	q.Close()

	count := 0
	q.Run(func(int) { count++ })
	assert.Equal(t, 5, count)
}

func TestQueue_ConcurrentSubmitters(t *testing.T) {
	q := engine.NewQueue[int]()
	var mu sync.Mutex
	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(func(i int) {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		})
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Submit(w*50 + i)
			}
		}(w)
	}
	wg.Wait()
	q.Close()
	<-done

	assert.Len(t, seen, 400)
}
