package relay

import (
	"log/slog"
	"net"

	"craftip/internal/distributor"
	"craftip/internal/forwarding"
	"craftip/internal/wire"
)

// playerSession implements C5: one public TCP connection, attached to a
// slot on a registered tunnel and pumped bidirectionally until either side
// closes.
type playerSession struct {
	dist   *distributor.Distributor
	conn   net.Conn
	pool   forwarding.BufferPool
	logger *slog.Logger
}

func newPlayerSession(dist *distributor.Distributor, conn net.Conn, pool forwarding.BufferPool, logger *slog.Logger) *playerSession {
	return &playerSession{dist: dist, conn: conn, pool: pool, logger: logger}
}

// run drives the session from Handshake through Attached to Cleanup.
// rawFirstPacket is replayed verbatim to the tunnel client so it can feed
// the original handshake bytes to the local Minecraft server; trailing is
// any bytes the player sent immediately after the handshake in the same
// read.
func (s *playerSession) run(hs *wire.Handshake, rawFirstPacket, trailing []byte) {
	defer s.conn.Close()

	addr := s.conn.RemoteAddr().String()
	hostname := hs.Hostname

	inbound := make(chan any, 256)
	slot, err := s.dist.AttachPlayer(addr, hostname, inbound)
	if err != nil {
		// Unregistered hostname or a full slot table: drop silently, no
		// Minecraft status-response spoofing (§4.5 tie-break).
		return
	}
	defer func() {
		_ = s.dist.SendToTunnel(hostname, wire.ProxyDisconnect{Slot: slot})
		_ = s.dist.DetachPlayer(addr)
	}()

	if err := s.dist.SendToTunnel(hostname, wire.ProxyJoin{Slot: slot}); err != nil {
		return
	}
	firstChunk := append(append([]byte(nil), rawFirstPacket...), trailing...)
	if err := s.dist.SendToTunnel(hostname, wire.ProxyData{Slot: slot, Data: firstChunk}); err != nil {
		return
	}

	s.logger.Debug("player session: attached", "hostname", hostname, "slot", slot, "remote", addr)

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeFromInbound(inbound, stop)
	}()

	fwd := forwarding.NewSlotForwarder(s.pool)
	_ = fwd.PumpFromLocal(s.conn, func(chunk []byte) error {
		data := append([]byte(nil), chunk...)
		return s.dist.SendToTunnel(hostname, wire.ProxyData{Slot: slot, Data: data})
	})

	close(stop)
	<-writeDone
}

func (s *playerSession) writeFromInbound(inbound chan any, stop <-chan struct{}) {
	for {
		select {
		case v := <-inbound:
			switch m := v.(type) {
			case distributor.Closed:
				// Unblock the pump's blocking socket read so Cleanup runs.
				_ = s.conn.Close()
				return
			case wire.ProxyData:
				if _, err := s.conn.Write(m.Data); err != nil {
					return
				}
			}
		case <-stop:
			return
		}
	}
}
