package rcon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/protocol"
)

func newTestCorrelator() (*correlator, *operationQueue) {
	q := newOperationQueue()
	return newCorrelator(q, zerolog.Nop()), q
}

func enqueue(t *testing.T, q *operationQueue, req protocol.Packet, multi bool) *Operation {
	t.Helper()
	op := newOperation(req, multi)
	if err := q.push(op); err != nil {
		t.Fatalf("push: %v", err)
	}
	return op
}

func mustResolve(t *testing.T, op *Operation) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("operation was not resolved")
	}
	return res, err
}

func assertPending(t *testing.T, op *Operation) {
	t.Helper()
	select {
	case <-op.Done():
		t.Fatal("operation resolved too early")
	default:
	}
}

func TestCorrelatorSingleResponse(t *testing.T) {
	c, q := newTestCorrelator()
	op := enqueue(t, q, protocol.Packet{ID: 5, Type: protocol.TypeExecCommand, Body: "status"}, false)

	if err := c.handle(protocol.Packet{ID: 5, Type: protocol.TypeResponse, Body: "ok"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	res, err := mustResolve(t, op)
	if err != nil || res != "ok" {
		t.Fatalf("unexpected result %q %v", res, err)
	}
	if q.size() != 0 {
		t.Fatalf("operation should be dequeued, queue has %d", q.size())
	}
}

func TestCorrelatorAuthAcknowledgementIsSkipped(t *testing.T) {
	c, q := newTestCorrelator()
	op := enqueue(t, q, protocol.Packet{ID: 1, Type: protocol.TypeAuth, Body: "pw"}, false)

	c.handle(protocol.Packet{ID: 1, Type: protocol.TypeResponse})
	assertPending(t, op)
	if len(op.parts) != 1 {
		t.Fatalf("acknowledgement body should still be accumulated, have %d parts", len(op.parts))
	}

	c.handle(protocol.Packet{ID: 1, Type: protocol.TypeAuthResponse})
	if _, err := mustResolve(t, op); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestCorrelatorAuthFailure(t *testing.T) {
	c, q := newTestCorrelator()
	op := enqueue(t, q, protocol.Packet{ID: 1, Type: protocol.TypeAuth, Body: "wrong"}, false)

	c.handle(protocol.Packet{ID: 1, Type: protocol.TypeResponse})
	c.handle(protocol.Packet{ID: -1, Type: protocol.TypeAuthResponse})

	if _, err := mustResolve(t, op); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestCorrelatorMultiPacketReassembly(t *testing.T) {
	c, q := newTestCorrelator()
	op := enqueue(t, q, protocol.Packet{ID: 9, Type: protocol.TypeExecCommand, Body: "cvarlist"}, true)

	for _, body := range []string{"part one,", "part two,", "part three"} {
		c.handle(protocol.Packet{ID: 9, Type: protocol.TypeResponse, Body: body})
		assertPending(t, op)
	}
	c.handle(protocol.NewDummy())
	assertPending(t, op)
	c.handle(protocol.Packet{ID: 0, Type: protocol.TypeResponse})

	res, err := mustResolve(t, op)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if res != "part one,part two,part three" {
		t.Fatalf("unexpected reassembly %q", res)
	}
}

func TestCorrelatorDummyNeverTouchesQueue(t *testing.T) {
	c, q := newTestCorrelator()
	if err := c.handle(protocol.NewDummy()); err != nil {
		t.Fatalf("sentinel on empty queue must be discarded silently: %v", err)
	}

	op := enqueue(t, q, protocol.Packet{ID: 2, Type: protocol.TypeExecCommand, Body: "x"}, false)
	c.handle(protocol.NewDummy())
	assertPending(t, op)
	if len(op.parts) != 0 {
		t.Fatalf("sentinel must not be accumulated, have %v", op.parts)
	}
}

func TestCorrelatorUnexpectedPacket(t *testing.T) {
	c, _ := newTestCorrelator()
	err := c.handle(protocol.Packet{ID: 3, Type: protocol.TypeResponse, Body: "stray"})
	if !errors.Is(err, ErrUnexpectedPacket) {
		t.Fatalf("expected ErrUnexpectedPacket, got %v", err)
	}
}

func TestCorrelatorFIFOWithEmptyBodies(t *testing.T) {
	c, q := newTestCorrelator()
	var ops []*Operation
	for i := int32(1); i <= 4; i++ {
		ops = append(ops, enqueue(t, q, protocol.Packet{ID: i, Type: protocol.TypeExecCommand}, false))
	}

	bodies := []string{"", "b", "", "d"}
	for i, body := range bodies {
		// ids are deliberately wrong: matching is by order only
		c.handle(protocol.Packet{ID: 100 + int32(i), Type: protocol.TypeResponse, Body: body})
	}

	for i, op := range ops {
		res, err := mustResolve(t, op)
		if err != nil || res != bodies[i] {
			t.Fatalf("op %d: got %q %v want %q", i, res, err, bodies[i])
		}
	}
}

func TestOperationResolvesOnce(t *testing.T) {
	op := newOperation(protocol.Packet{ID: 1}, false)
	op.addPart("first")
	op.succeed()
	op.fail(ErrConnectionClosed)

	res, err := mustResolve(t, op)
	if err != nil || res != "first" {
		t.Fatalf("first resolution must win, got %q %v", res, err)
	}
}

func TestOperationQueueClosedRejectsPush(t *testing.T) {
	q := newOperationQueue()
	a := enqueue(t, q, protocol.Packet{ID: 1}, false)
	b := enqueue(t, q, protocol.Packet{ID: 2}, false)

	drained := q.closeAndDrain()
	if len(drained) != 2 || drained[0] != a || drained[1] != b {
		t.Fatalf("drain must preserve FIFO order")
	}
	if err := q.push(newOperation(protocol.Packet{ID: 3}, false)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
