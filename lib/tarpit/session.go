package tarpit

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/sivizius/tarssh/lib/metrics"
)

// session is the per-connection state machine: wait the configured
// delay, write one payload, flush, forever. Nothing bounds the loop;
// it ends only when a write or flush fails (peer gone) or the server
// context is cancelled. Either way the token is disconnected exactly
// once and the socket is released.
func (s *Server) session(ctx context.Context, conn net.Conn, peer string, token metrics.Token) {
	defer conn.Close()

	// A tarpitted peer typically stops reading, so writes can park in the
	// kernel send path with no deadline. Closing the socket on cancellation
	// is what actually unblocks them; the select below only covers the
	// waiting-on-timer half of the loop.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	writer := bufio.NewWriterSize(conn, sendBufferSize)
	var cursor payloadCursor

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.terminate(token, peer, start, ctx.Err())
			return
		case <-timer.C:
		}

		payload, banner, egg := cursor.next()
		if _, err := writer.Write(payload); err != nil {
			s.terminate(token, peer, start, err)
			return
		}
		if err := writer.Flush(); err != nil {
			s.terminate(token, peer, start, err)
			return
		}
		s.recordSend(token, peer, banner, egg)

		timer.Reset(s.delay)
	}
}

// recordSend bumps the counters for one successful write. A registry
// error here means the token went stale mid-session, which is a logic
// fault worth a log line but never a crash.
func (s *Server) recordSend(token metrics.Token, peer string, banner, egg bool) {
	var err error
	if egg {
		err = s.registry.SentEasterEgg(token)
	} else {
		err = s.registry.SentChunk(token)
	}
	if err == nil && banner {
		err = s.registry.SentBanner(token)
	}
	if err != nil {
		s.log.Error("record send failed", "peer", peer, "error", err)
	}
}

// terminate retires the session's token and logs its fate. Registry
// consistency errors (double disconnect, bad token) are logged and
// dropped.
func (s *Server) terminate(token metrics.Token, peer string, start time.Time, cause error) {
	connected, _, err := s.registry.Disconnect(token, time.Now())
	if err != nil {
		s.log.Error("disconnect failed", "peer", peer, "error", err)
		return
	}
	s.log.Info("disconnect",
		"peer", peer,
		"duration", time.Since(start).Round(10*time.Millisecond).String(),
		"error", cause,
		"clients", connected,
	)
}
