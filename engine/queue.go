package engine

import (
	"sync"
)

// Queue 无界的单消费者队列
// Submit 不会阻塞 Run 只能有一个消费者
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	ready  chan struct{}
	done   chan struct{}
	closed bool
	once   sync.Once
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Submit 提交一个任务 队列关闭后返回 false
func (q *Queue[T]) Submit(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Len 等待处理的个数
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Run 按顺序处理任务 直到队列关闭 关闭前已提交的任务会被处理完
func (q *Queue[T]) Run(handle func(T)) {
	for {
		for {
			item, ok := q.pop()
			if !ok {
				break
			}
			handle(item)
		}
		select {
		case <-q.ready:
		case <-q.done:
			// 关闭和提交之间可能还有剩余
			for {
				item, ok := q.pop()
				if !ok {
					return
				}
				handle(item)
			}
		}
	}
}

// Close 关闭队列 可以重复调用
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}
