// Package tarpit implements the tarssh server: a listener that accepts
// TCP (or I2P) connections, admits them against a best-effort concurrency
// cap, and holds each one open indefinitely by dribbling a tiny banner at
// a fixed interval. No protocol is ever spoken; the entire value of the
// server is the time and connection slots it costs the peer.
package tarpit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/i2pkeys"
	"github.com/go-i2p/onramp"

	"github.com/sivizius/tarssh/lib/config"
	"github.com/sivizius/tarssh/lib/metrics"
)

const (
	// recvBufferSize shrinks the kernel receive window to almost nothing,
	// forcing the peer's TCP stack into small-window trickle behaviour.
	recvBufferSize = 1
	// sendBufferSize keeps our own send side equally starved.
	sendBufferSize = 64
)

// Server accepts connections and tarpits each one in its own goroutine.
// It admits connections through the metrics registry, which is the single
// authority on the live connection count.
type Server struct {
	cfg        *config.Config
	registry   *metrics.Registry
	log        *slog.Logger
	delay      time.Duration
	maxClients int

	listener net.Listener
	garlic   *onramp.Garlic
	wg       sync.WaitGroup
}

// NewServer creates a tarpit server around the given registry.
// A nil logger falls back to slog.Default().
func NewServer(cfg *config.Config, registry *metrics.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		registry:   registry,
		log:        logger,
		delay:      cfg.DelayDuration(),
		maxClients: int(cfg.Server.MaxClients),
	}
}

// Listen binds the tarpit's listener. A bind failure here is the only
// fatal error the server produces; the caller maps it to the OS-resource
// exit status.
func (s *Server) Listen() error {
	if s.cfg.I2P.Enabled {
		return s.listenI2P()
	}

	listener, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.listener = listener
	s.log.Info("listen", "addr", listener.Addr().String())
	return nil
}

// listenI2P binds a garlic service through the SAM bridge instead of a
// local TCP socket. The tarpit itself is transport-agnostic; only the
// socket-buffer shrinking is skipped for non-TCP connections.
func (s *Server) listenI2P() error {
	garlic, err := onramp.NewGarlic(s.cfg.I2P.SessionName, s.cfg.I2P.SAMAddress, onramp.OPT_DEFAULTS)
	if err != nil {
		return fmt.Errorf("garlic session: %w", err)
	}

	listener, err := garlic.Listen()
	if err != nil {
		garlic.Close()
		return fmt.Errorf("listen i2p: %w", err)
	}

	s.garlic = garlic
	s.listener = listener
	if addr, ok := listener.Addr().(i2pkeys.I2PAddr); ok {
		s.log.Info("listen", "addr", addr.Base32())
	} else {
		s.log.Info("listen", "addr", listener.Addr().String())
	}
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Per-accept failures are logged and the loop continues; only
// ever one accept is in flight. Serve returns after every session
// goroutine has finished.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("tarpit: Serve called before Listen")
	}
	defer s.wg.Wait()

	// Cancellation unblocks Accept; each session closes its own socket.
	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
		if s.garlic != nil {
			s.garlic.Close()
		}
	})
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.dispatch(ctx, conn)
	}
}

// dispatch resolves the peer, applies admission control and spawns a
// session for an admitted connection. Rejection is a policy outcome,
// not an error; the attempt is logged and the socket dropped.
func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr()
	if addr == nil {
		// Does not count against admission.
		s.log.Error("peer address unavailable")
		conn.Close()
		return
	}
	peer := addr.String()

	token, connected, err := s.registry.Connect(s.maxClients, time.Now())
	if err != nil {
		var rejected *metrics.RejectedError
		if errors.As(err, &rejected) {
			s.log.Info("reject", "peer", peer, "clients", rejected.Count)
		} else {
			s.log.Error("admission failed", "peer", peer, "error", err)
		}
		conn.Close()
		return
	}
	s.log.Info("connect", "peer", peer, "clients", connected)

	s.shrinkBuffers(conn, peer)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.session(ctx, conn, peer, token)
	}()
}

// shrinkBuffers is what makes the server a tarpit at the transport
// level. Best effort: failures are warnings and non-TCP transports are
// left alone.
func (s *Server) shrinkBuffers(conn net.Conn, peer string) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetReadBuffer(recvBufferSize); err != nil {
		s.log.Warn("set read buffer failed", "peer", peer, "error", err)
	}
	if err := tcp.SetWriteBuffer(sendBufferSize); err != nil {
		s.log.Warn("set write buffer failed", "peer", peer, "error", err)
	}
}
