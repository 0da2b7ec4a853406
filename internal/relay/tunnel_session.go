package relay

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"craftip/internal/distributor"
	"craftip/internal/identity"
	"craftip/internal/wire"
)

const (
	authReadTimeout = 5 * time.Second
	idleReadTimeout = 60 * time.Second
)

// tunnelSession implements C6: authenticate a tunnel client and then pump
// frames between the distributor and the tunnel's control connection.
type tunnelSession struct {
	dist   *distributor.Distributor
	conn   net.Conn
	logger *slog.Logger
}

func newTunnelSession(dist *distributor.Distributor, conn net.Conn, logger *slog.Logger) *tunnelSession {
	return &tunnelSession{dist: dist, conn: conn, logger: logger}
}

func (s *tunnelSession) run(hello wire.ProxyHello, trailing []byte) {
	defer s.conn.Close()

	fr := wire.NewFrameReaderWithBuffer(s.conn, wire.MaxRelayFrameSize, trailing)

	challenge, err := identity.NewChallenge()
	if err != nil {
		s.logger.Error("tunnel session: generate challenge", "err", err)
		return
	}
	if err := s.send(wire.ProxyAuthRequest{Challenge: challenge}); err != nil {
		return
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(authReadTimeout))
	msg, err := fr.ReadMessage()
	if err != nil {
		s.logger.Warn("tunnel session: auth read", "remote", s.conn.RemoteAddr(), "err", err)
		return
	}
	resp, ok := msg.(wire.ProxyAuthResponse)
	if !ok {
		s.sendBestEffort(wire.ProxyError{Message: "expected auth response"})
		return
	}
	if !identity.Verify(hello.Auth, challenge, resp.Signature) {
		s.sendBestEffort(wire.ProxyError{Message: "auth"})
		return
	}

	hostname := identity.Hostname(hello.Auth)
	if hostname != hello.Hostname {
		s.sendBestEffort(wire.ProxyError{Message: "hostname"})
		return
	}

	outbound := make(chan any, 256)
	if err := s.dist.RegisterTunnel(hostname, outbound); err != nil {
		s.sendBestEffort(wire.ProxyError{Message: "already connected"})
		return
	}
	defer func() {
		_ = s.dist.DeregisterTunnel(hostname)
		s.logger.Info("tunnel session: deregistered", "hostname", hostname)
	}()

	if err := s.send(wire.ProxyHelloResponse{Version: hello.Version, Status: wire.StatusConnectionSuccessful}); err != nil {
		return
	}
	s.logger.Info("tunnel session: registered", "hostname", hostname, "remote", s.conn.RemoteAddr())

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(outbound, stop)
	}()

	s.readLoop(fr, hostname)

	close(stop)
	<-writeDone
}

func (s *tunnelSession) writeLoop(outbound chan any, stop <-chan struct{}) {
	for {
		select {
		case frame := <-outbound:
			msg, ok := frame.(wire.Message)
			if !ok {
				continue
			}
			if err := s.send(msg); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *tunnelSession) readLoop(fr *wire.FrameReader, hostname string) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(idleReadTimeout))
		msg, err := fr.ReadMessage()
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case wire.ProxyData:
			_ = s.dist.SendToPlayer(hostname, m.Slot, m)
		case wire.ProxyDisconnect:
			if err := s.dist.SendToPlayer(hostname, m.Slot, distributor.Closed{}); err != nil && !errors.Is(err, distributor.ErrClientNotFound) {
				s.logger.Debug("tunnel session: disconnect", "hostname", hostname, "slot", m.Slot, "err", err)
			}
		case wire.ProxyPing:
			_ = s.send(wire.ProxyPong{EpochMillisLow: m.EpochMillisLow})
		default:
			s.logger.Debug("tunnel session: ignoring frame", "hostname", hostname)
		}
	}
}

func (s *tunnelSession) send(msg wire.Message) error {
	frame, err := wire.EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(frame)
	return err
}

func (s *tunnelSession) sendBestEffort(msg wire.Message) {
	_ = s.send(msg)
}
