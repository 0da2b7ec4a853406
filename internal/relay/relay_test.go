package relay

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"craftip/internal/identity"
	"craftip/internal/transport"
	"craftip/internal/wire"
)

func startRelay(t *testing.T) (*Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(nullWriter{}, nil))
	srv := New(Options{
		Transport: mustTCP(t),
		BindAddr:  "127.0.0.1:0",
		Logger:    logger,
	})

	listening := make(chan struct{})
	go func() {
		ln, err := srv.tr.Listen(srv.addr, srv.lopts)
		if err != nil {
			t.Errorf("Listen: %v", err)
			close(listening)
			return
		}
		srv.ln = ln
		close(listening)
		for {
			conn, err := ln.Accept(context.Background())
			if err != nil {
				return
			}
			go srv.handleConn(conn)
		}
	}()
	<-listening
	return srv, srv.Addr().String()
}

func mustTCP(t *testing.T) transport.Transport {
	t.Helper()
	tr, err := transport.ByName("tcp")
	if err != nil {
		t.Fatalf("transport.ByName: %v", err)
	}
	return tr
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func readFrameWithDeadline(t *testing.T, conn net.Conn) wire.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fr := wire.NewFrameReader(conn, wire.MaxClientFrameSize)
	msg, err := fr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// dialTunnel performs the full client-side handshake of §4.6/E1 and leaves
// the connection open, registered under priv's hostname.
func dialTunnel(t *testing.T, addr string, priv identity.PrivateKey) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	hostname := identity.Hostname(priv.Public())
	hello := wire.ProxyHello{Version: 123, Hostname: hostname, Auth: priv.Public()}
	writeFrame(t, conn, hello)

	msg := readFrameWithDeadline(t, conn)
	authReq, ok := msg.(wire.ProxyAuthRequest)
	if !ok {
		t.Fatalf("got %T, want ProxyAuthRequest", msg)
	}
	sig := priv.Sign(authReq.Challenge)
	writeFrame(t, conn, wire.ProxyAuthResponse{Signature: sig})

	msg = readFrameWithDeadline(t, conn)
	resp, ok := msg.(wire.ProxyHelloResponse)
	if !ok {
		t.Fatalf("got %T, want ProxyHelloResponse", msg)
	}
	if resp.Status != wire.StatusConnectionSuccessful {
		t.Fatalf("status = %v, want ConnectionSuccessful (err=%q)", resp.Status, resp.Err)
	}
	return conn
}

func writeFrame(t *testing.T, conn net.Conn, msg wire.Message) {
	t.Helper()
	frame, err := wire.EncodeFrame(msg)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func buildModernHandshake(host string, port uint16, protoVer int32) []byte {
	// Mirrors the literal E2 test vector's shape: a VarInt packet length
	// covering the whole frame, packet ID 0, protocol version, hostname,
	// port.
	var payload bytes.Buffer
	payload.WriteByte(0) // packet id 0, fits in one VarInt byte
	writeVarIntRaw(&payload, protoVer)
	writeStringRaw(&payload, host)
	payload.WriteByte(byte(port >> 8))
	payload.WriteByte(byte(port))

	// Packet length counts the whole frame including the length VarInt
	// itself; try lengths until the VarInt's own size stabilizes.
	for n := 1; ; n++ {
		total := n + payload.Len()
		var lenBuf bytes.Buffer
		writeVarIntRaw(&lenBuf, int32(total))
		if lenBuf.Len() == n {
			out := append(lenBuf.Bytes(), payload.Bytes()...)
			return out
		}
	}
}

func writeVarIntRaw(buf *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

func writeStringRaw(buf *bytes.Buffer, s string) {
	writeVarIntRaw(buf, int32(len(s)))
	buf.WriteString(s)
}

func TestE1TunnelHandshake(t *testing.T) {
	_, addr := startRelay(t)
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	conn := dialTunnel(t, addr, priv)
	defer conn.Close()
}

func TestE6SecondRegistrationRejected(t *testing.T) {
	_, addr := startRelay(t)
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	first := dialTunnel(t, addr, priv)
	defer first.Close()

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()

	hostname := identity.Hostname(priv.Public())
	writeFrame(t, second, wire.ProxyHello{Version: 1, Hostname: hostname, Auth: priv.Public()})

	msg := readFrameWithDeadline(t, second)
	if _, ok := msg.(wire.ProxyAuthRequest); !ok {
		t.Fatalf("got %T, want ProxyAuthRequest", msg)
	}
	authReq := msg.(wire.ProxyAuthRequest)
	sig := priv.Sign(authReq.Challenge)
	writeFrame(t, second, wire.ProxyAuthResponse{Signature: sig})

	msg = readFrameWithDeadline(t, second)
	errMsg, ok := msg.(wire.ProxyError)
	if !ok {
		t.Fatalf("got %T, want ProxyError", msg)
	}
	if errMsg.Message != "already connected" {
		t.Fatalf("message = %q, want %q", errMsg.Message, "already connected")
	}
}

func TestE2PlayerJoinReplaysHandshake(t *testing.T) {
	_, addr := startRelay(t)
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tunnelConn := dialTunnel(t, addr, priv)
	defer tunnelConn.Close()

	hostname := identity.Hostname(priv.Public())
	handshake := buildModernHandshake(hostname, 25565, 761)

	player, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer player.Close()
	if _, err := player.Write(handshake); err != nil {
		t.Fatalf("Write handshake: %v", err)
	}

	msg := readFrameWithDeadline(t, tunnelConn)
	join, ok := msg.(wire.ProxyJoin)
	if !ok {
		t.Fatalf("got %T, want ProxyJoin", msg)
	}
	if join.Slot != 0 {
		t.Fatalf("slot = %d, want 0", join.Slot)
	}

	msg = readFrameWithDeadline(t, tunnelConn)
	data, ok := msg.(wire.ProxyData)
	if !ok {
		t.Fatalf("got %T, want ProxyData", msg)
	}
	if data.Slot != 0 {
		t.Fatalf("slot = %d, want 0", data.Slot)
	}
	if !bytes.Equal(data.Data, handshake) {
		t.Fatalf("replayed handshake = %x, want %x", data.Data, handshake)
	}
}

func TestE4LocalDisconnectClosesPlayerSocket(t *testing.T) {
	_, addr := startRelay(t)
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tunnelConn := dialTunnel(t, addr, priv)
	defer tunnelConn.Close()

	hostname := identity.Hostname(priv.Public())
	handshake := buildModernHandshake(hostname, 25565, 761)

	player, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer player.Close()
	if _, err := player.Write(handshake); err != nil {
		t.Fatalf("Write handshake: %v", err)
	}

	// Drain ProxyJoin and the replayed handshake ProxyData.
	if _, ok := readFrameWithDeadline(t, tunnelConn).(wire.ProxyJoin); !ok {
		t.Fatalf("expected ProxyJoin first")
	}
	if _, ok := readFrameWithDeadline(t, tunnelConn).(wire.ProxyData); !ok {
		t.Fatalf("expected ProxyData second")
	}

	// Tunnel client's local Minecraft connection closed: it tells the
	// relay to tear down slot 0.
	writeFrame(t, tunnelConn, wire.ProxyDisconnect{Slot: 0})

	_ = player.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := player.Read(buf); err == nil {
		t.Fatalf("expected player socket to be closed after ProxyDisconnect")
	}
}
