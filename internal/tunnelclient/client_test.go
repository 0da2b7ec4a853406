package tunnelclient

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"craftip/internal/forwarding"
	"craftip/internal/identity"
	"craftip/internal/wire"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, nil))
}

func writeRelayFrame(t *testing.T, conn net.Conn, msg wire.Message) {
	t.Helper()
	frame, err := wire.EncodeFrame(msg)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// TestAuthChallengeRoundTrip plays both halves of the challenge/response
// handshake (spec.md §4.7 step 2, §8 property 4) over an in-memory pipe: a
// scripted relay on one end, and on the other the same hello, sign and
// reply steps runOnce performs, written inline with writeMessage. runOnce
// itself is not called, since it dials through a Transport.
func TestAuthChallengeRoundTrip(t *testing.T) {
	relaySide, clientSide := net.Pipe()
	defer relaySide.Close()
	defer clientSide.Close()

	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		fr := wire.NewFrameReader(relaySide, wire.MaxRelayFrameSize)

		msg, err := fr.ReadMessage()
		if err != nil {
			t.Errorf("read hello: %v", err)
			return
		}
		hello, ok := msg.(wire.ProxyHello)
		if !ok {
			t.Errorf("got %T, want ProxyHello", msg)
			return
		}
		if hello.Hostname != identity.Hostname(priv.Public()) {
			t.Errorf("hostname mismatch")
		}

		challenge, err := identity.NewChallenge()
		if err != nil {
			t.Errorf("NewChallenge: %v", err)
			return
		}
		writeRelayFrame(t, relaySide, wire.ProxyAuthRequest{Challenge: challenge})

		msg, err = fr.ReadMessage()
		if err != nil {
			t.Errorf("read auth response: %v", err)
			return
		}
		resp, ok := msg.(wire.ProxyAuthResponse)
		if !ok {
			t.Errorf("got %T, want ProxyAuthResponse", msg)
			return
		}
		if !identity.Verify(priv.Public(), challenge, resp.Signature) {
			t.Errorf("signature did not verify")
		}

		writeRelayFrame(t, relaySide, wire.ProxyHelloResponse{Version: 1, Status: wire.StatusConnectionSuccessful})
	}()

	hostname := identity.Hostname(priv.Public())
	if err := writeMessage(clientSide, wire.ProxyHello{Version: 1, Hostname: hostname, Auth: priv.Public()}); err != nil {
		t.Fatalf("writeMessage hello: %v", err)
	}

	fr := wire.NewFrameReader(clientSide, wire.MaxClientFrameSize)
	msg, err := fr.ReadMessage()
	if err != nil {
		t.Fatalf("read auth request: %v", err)
	}
	authReq, ok := msg.(wire.ProxyAuthRequest)
	if !ok {
		t.Fatalf("got %T, want ProxyAuthRequest", msg)
	}
	sig := priv.Sign(authReq.Challenge)
	if err := writeMessage(clientSide, wire.ProxyAuthResponse{Signature: sig}); err != nil {
		t.Fatalf("writeMessage auth response: %v", err)
	}

	msg, err = fr.ReadMessage()
	if err != nil {
		t.Fatalf("read hello response: %v", err)
	}
	helloResp, ok := msg.(wire.ProxyHelloResponse)
	if !ok {
		t.Fatalf("got %T, want ProxyHelloResponse", msg)
	}
	if helloResp.Status != wire.StatusConnectionSuccessful {
		t.Fatalf("status = %v, want ConnectionSuccessful", helloResp.Status)
	}

	<-done
}

// TestSessionJoinDataDisconnect drives a session directly (bypassing the
// dial/handshake in Client.Run) against a real local TCP listener acting
// as the Minecraft server, exercising ProxyJoin, ordered ProxyData
// forwarding, and clean shutdown (spec.md §8 properties 6 and 7).
func TestSessionJoinDataDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	var received bytes.Buffer
	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		close(accepted)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				received.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	relaySide, clientSide := net.Pipe()
	defer relaySide.Close()

	opts := Options{
		LocalAddr:   ln.Addr().String(),
		DialTimeout: 2 * time.Second,
		Dialer:      forwarding.NewNetDialer(&forwarding.NetDialerOptions{Timeout: 2 * time.Second}),
		BufferPool:  forwarding.NewSyncPoolBufferPool(4096),
		Logger:      testLogger(),
	}
	fr := wire.NewFrameReader(clientSide, wire.MaxClientFrameSize)
	sess := newSession(clientSide, fr, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- sess.run(ctx) }()

	// Relay tells the client a player joined on slot 0.
	writeRelayFrame(t, relaySide, wire.ProxyJoin{Slot: 0})
	<-accepted

	writeRelayFrame(t, relaySide, wire.ProxyData{Slot: 0, Data: []byte("hello ")})
	writeRelayFrame(t, relaySide, wire.ProxyData{Slot: 0, Data: []byte("world")})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if received.String() == "hello world" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := received.String(); got != "hello world" {
		t.Fatalf("local server received %q, want %q", got, "hello world")
	}

	cancel()
	<-runDone
}
