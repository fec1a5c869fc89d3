package service

import "sync"

// Queue is the FIFO command queue between producers (socket listener,
// MQTT bridge) and the single dispatcher. Unbounded; backpressure comes
// from clients waiting on their terminal results.
type Queue struct {
	mu    sync.Mutex
	items []*Command
}

// NewQueue creates an empty command queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a command and returns the resulting depth.
func (q *Queue) Enqueue(cmd *Command) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, cmd)
	return len(q.items)
}

// Dequeue removes and returns the oldest command, or nil when empty.
func (q *Queue) Dequeue() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return cmd
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all pending commands. Used at shutdown to
// fail outstanding work instead of leaving clients waiting.
func (q *Queue) Drain() []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
