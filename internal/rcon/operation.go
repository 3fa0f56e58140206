package rcon

import (
	"context"
	"strings"
	"sync"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// Operation is one request awaiting its final response.
type Operation struct {
	Request     protocol.Packet
	MultiPacket bool

	parts []string

	once   sync.Once
	done   chan struct{}
	result string
	err    error
}

func newOperation(req protocol.Packet, multiPacket bool) *Operation {
	return &Operation{
		Request:     req,
		MultiPacket: multiPacket,
		done:        make(chan struct{}),
	}
}

func (op *Operation) addPart(body string) {
	op.parts = append(op.parts, body)
}

func (op *Operation) succeed() {
	op.resolve(strings.Join(op.parts, ""), nil)
}

func (op *Operation) fail(err error) {
	op.resolve("", err)
}

// resolve settles the operation; only the first call has an effect.
func (op *Operation) resolve(result string, err error) {
	op.once.Do(func() {
		op.result = result
		op.err = err
		close(op.done)
	})
}

// Done is closed once the operation is resolved.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait blocks until the operation resolves or ctx ends. Abandoning the wait
// does not remove the operation from the queue.
func (op *Operation) Wait(ctx context.Context) (string, error) {
	select {
	case <-op.done:
		return op.result, op.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// operationQueue holds in-flight operations in wire order. It only supports
// tail push, head peek and head pop, plus closing for the cancellation sweep.
type operationQueue struct {
	mu     sync.Mutex
	items  []*Operation
	closed bool
}

func newOperationQueue() *operationQueue {
	return &operationQueue{}
}

func (q *operationQueue) push(op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrNotConnected
	}
	q.items = append(q.items, op)
	return nil
}

func (q *operationQueue) peek() (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *operationQueue) pop() (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	op := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return op, true
}

func (q *operationQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// closeAndDrain rejects further pushes and returns what was queued, in order.
func (q *operationQueue) closeAndDrain() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}
