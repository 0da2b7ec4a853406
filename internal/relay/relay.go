// Package relay implements the relay server's public-port accept loop: the
// Minecraft-handshake-vs-control-frame discriminator (§4.1) that decides
// whether a new TCP connection becomes a player session (C5) or a tunnel
// session (C6), both routed through a single shared distributor (C4).
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"craftip/internal/distributor"
	"craftip/internal/forwarding"
	"craftip/internal/transport"
	"craftip/internal/wire"
)

// Options configures a relay Server.
type Options struct {
	Transport     transport.Transport
	BindAddr      string
	ListenOptions transport.ListenOptions
	Distributor   *distributor.Distributor
	Logger        *slog.Logger
}

// Server accepts connections on the relay's public port and dispatches each
// to a player or tunnel session.
type Server struct {
	tr     transport.Transport
	addr   string
	lopts  transport.ListenOptions
	dist   *distributor.Distributor
	logger *slog.Logger
	pool   forwarding.BufferPool

	ln transport.Listener
}

// New returns a Server ready to ListenAndServe. A nil Distributor gets a
// fresh one; a nil Logger gets slog.Default().
func New(opts Options) *Server {
	dist := opts.Distributor
	if dist == nil {
		dist = distributor.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tr := opts.Transport
	if tr == nil {
		tr, _ = transport.ByName("tcp")
	}
	return &Server{
		tr:     tr,
		addr:   opts.BindAddr,
		lopts:  opts.ListenOptions,
		dist:   dist,
		logger: logger,
		pool:   forwarding.NewSyncPoolBufferPool(wire.MaxClientChunkSize),
	}
}

// Distributor returns the server's routing registry.
func (s *Server) Distributor() *distributor.Distributor { return s.dist }

// Addr returns the listener's bound address once ListenAndServe has started.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe binds the public port and accepts connections until ctx is
// cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.tr.Listen(s.addr, s.lopts)
	if err != nil {
		return err
	}
	s.ln = ln
	defer ln.Close()

	s.logger.Info("relay: listening", "addr", ln.Addr().String(), "transport", s.tr.Name())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("relay: accept failed", "err", err)
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	fp, raw, trailing, err := wire.SniffFirstPacketFromReader(conn, wire.MaxHandshakeSniffSize, wire.MaxRelayFrameSize)
	if err != nil {
		s.logger.Debug("relay: first packet", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}

	if fp.Handshake != nil {
		sess := newPlayerSession(s.dist, conn, s.pool, s.logger)
		sess.run(fp.Handshake, raw, trailing)
		return
	}

	hello, ok := fp.Message.(wire.ProxyHello)
	if !ok {
		conn.Close()
		return
	}
	sess := newTunnelSession(s.dist, conn, s.logger)
	sess.run(hello, trailing)
}
