package rcon

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// correlator matches incoming packets to the head of the operation queue.
// Matching is purely by arrival order; the server echoes ids but the client
// never looks them up.
type correlator struct {
	queue  *operationQueue
	logger zerolog.Logger
}

func newCorrelator(queue *operationQueue, logger zerolog.Logger) *correlator {
	return &correlator{queue: queue, logger: logger}
}

// handle applies one packet. It returns ErrUnexpectedPacket when nothing is
// in flight; the caller decides whether that is fatal.
func (c *correlator) handle(p protocol.Packet) error {
	if p.IsDummy() {
		c.logger.Trace().Msg("sentinel packet discarded")
		return nil
	}

	op, ok := c.queue.peek()
	if !ok {
		return fmt.Errorf("%w: id=%d type=%s body_len=%d", ErrUnexpectedPacket, p.ID, p.Type, len(p.Body))
	}

	op.addPart(p.Body)

	switch {
	case op.Request.Type == protocol.TypeAuth && p.Type == protocol.TypeResponse:
		// Servers send an empty RESPONSE_VALUE ahead of the AUTH_RESPONSE.
		c.logger.Trace().Int32("id", p.ID).Msg("auth acknowledgement, awaiting auth response")
		return nil
	case op.MultiPacket && p.Body != "":
		c.logger.Trace().Int32("id", p.ID).Int("fragments", len(op.parts)).Msg("multi-packet fragment")
		return nil
	}

	c.queue.pop()
	if p.ID == protocol.AuthFailedID {
		op.fail(ErrAuthenticationFailed)
		return nil
	}
	op.succeed()
	return nil
}
