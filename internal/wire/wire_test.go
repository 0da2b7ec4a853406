package wire

import (
	"bytes"
	"testing"

	"craftip/internal/identity"
)

// TestModernHandshakeE2 is the literal vector from spec.md's E2 scenario:
// a modern handshake advertising protocol version 761, hostname
// "localhost", port 25565, consuming exactly 16 bytes.
func TestModernHandshakeE2(t *testing.T) {
	buf := []byte{16, 0, 249, 5, 9, 108, 111, 99, 97, 108, 104, 111, 115, 116, 99, 221}
	trailing := []byte{0xAA, 0xBB}

	hs, n, err := SniffHandshake(append(append([]byte{}, buf...), trailing...), MaxHandshakeSniffSize)
	if err != nil {
		t.Fatalf("SniffHandshake: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if hs.Kind != ModernHandshake {
		t.Fatalf("kind = %v, want ModernHandshake", hs.Kind)
	}
	if hs.ProtocolVersion != 761 {
		t.Fatalf("protocol version = %d, want 761", hs.ProtocolVersion)
	}
	if hs.Hostname != "localhost" {
		t.Fatalf("hostname = %q, want %q", hs.Hostname, "localhost")
	}
	if hs.Port != 25565 {
		t.Fatalf("port = %d, want 25565", hs.Port)
	}
}

func TestModernHandshakeNeedsMoreData(t *testing.T) {
	full := []byte{16, 0, 249, 5, 9, 108, 111, 99, 97, 108, 104, 111, 115, 116, 99, 221}
	for i := 0; i < len(full); i++ {
		if _, _, err := SniffHandshake(full[:i], MaxHandshakeSniffSize); err != ErrNeedMoreData {
			t.Fatalf("prefix length %d: err = %v, want ErrNeedMoreData", i, err)
		}
	}
}

func TestLegacyPingRoundTrip(t *testing.T) {
	hostname := "play.example.com"
	var buf bytes.Buffer
	buf.Write(legacyPingEnvelope)
	remaining := uint16(7 + 2*len(hostname))
	writeU16(&buf, remaining)
	buf.WriteByte(74) // protocol version
	writeU16(&buf, uint16(len(hostname)))
	buf.Write(utf16beEncode(hostname))
	writeU32(&buf, 25565)

	hs, n, err := SniffHandshake(buf.Bytes(), MaxHandshakeSniffSize)
	if err != nil {
		t.Fatalf("SniffHandshake: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("consumed = %d, want %d", n, buf.Len())
	}
	if hs.Kind != LegacyPing || hs.Hostname != hostname || hs.Port != 25565 {
		t.Fatalf("got %+v", hs)
	}
}

func TestLegacyPingRejectsBadRemainingLength(t *testing.T) {
	hostname := "a"
	var buf bytes.Buffer
	buf.Write(legacyPingEnvelope)
	writeU16(&buf, 0) // wrong remaining length
	buf.WriteByte(74)
	writeU16(&buf, uint16(len(hostname)))
	buf.Write(utf16beEncode(hostname))
	writeU32(&buf, 25565)

	if _, _, err := SniffHandshake(buf.Bytes(), MaxHandshakeSniffSize); err != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestLegacyConnectRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x02)
	buf.WriteByte(39) // protocol version
	writeU16(&buf, uint16(len("Player")))
	buf.Write(utf16beEncode("Player"))
	writeU16(&buf, uint16(len("host.example")))
	buf.Write(utf16beEncode("host.example"))
	writeU32(&buf, 25565)

	hs, n, err := SniffHandshake(buf.Bytes(), MaxHandshakeSniffSize)
	if err != nil {
		t.Fatalf("SniffHandshake: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("consumed = %d, want %d", n, buf.Len())
	}
	if hs.Kind != LegacyConnect || hs.Hostname != "host.example" || hs.Port != 25565 {
		t.Fatalf("got %+v", hs)
	}
}

func TestSniffFirstPacketFallsBackToControlFrame(t *testing.T) {
	hello := ProxyHello{Version: 1, Hostname: "abc", Auth: identity.PublicKey{1, 2, 3}}
	frame, err := EncodeFrame(hello)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	fp, n, err := SniffFirstPacket(frame, MaxHandshakeSniffSize, MaxRelayFrameSize)
	if err != nil {
		t.Fatalf("SniffFirstPacket: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("consumed = %d, want %d", n, len(frame))
	}
	if fp.Handshake != nil {
		t.Fatal("expected a control frame, got a handshake")
	}
	got, ok := fp.Message.(ProxyHello)
	if !ok {
		t.Fatalf("message type = %T, want ProxyHello", fp.Message)
	}
	if got != hello {
		t.Fatalf("got %+v, want %+v", got, hello)
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	challenge, err := identity.NewChallenge()
	if err != nil {
		t.Fatalf("identity.NewChallenge: %v", err)
	}
	sig := priv.Sign(challenge)

	cases := []Message{
		ProxyHello{Version: 123, Hostname: "abcdefghijklmnopqrst", Auth: priv.Public()},
		ProxyAuthRequest{Challenge: challenge},
		ProxyAuthResponse{Signature: sig},
		ProxyHelloResponse{Version: 123, Status: StatusConnectionSuccessful},
		ProxyHelloResponse{Version: 123, Status: StatusError, Err: "already connected"},
		ProxyJoin{Slot: 7},
		ProxyData{Slot: 7, Data: []byte("hello, minecraft")},
		ProxyData{Slot: 99, Data: nil},
		ProxyDisconnect{Slot: 7},
		ProxyPing{EpochMillisLow: 4242},
		ProxyPong{EpochMillisLow: 4242},
		ProxyError{Message: "hostname"},
	}

	for _, want := range cases {
		encoded, err := EncodeFrame(want)
		if err != nil {
			t.Fatalf("EncodeFrame(%+v): %v", want, err)
		}
		trailing := append(append([]byte{}, encoded...), 0xDE, 0xAD)
		got, n, err := DecodeFrame(trailing, MaxRelayFrameSize)
		if err != nil {
			t.Fatalf("DecodeFrame(%+v): %v", want, err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed = %d, want %d", n, len(encoded))
		}
		if data, ok := want.(ProxyData); ok {
			gotData := got.(ProxyData)
			if gotData.Slot != data.Slot || !bytes.Equal(gotData.Data, data.Data) {
				t.Fatalf("got %+v, want %+v", gotData, data)
			}
			continue
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeFrameNeedsMoreData(t *testing.T) {
	encoded, err := EncodeFrame(ProxyJoin{Slot: 3})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	for i := 0; i < len(encoded); i++ {
		if _, _, err := DecodeFrame(encoded[:i], MaxRelayFrameSize); err != ErrNeedMoreData {
			t.Fatalf("prefix %d: err = %v, want ErrNeedMoreData", i, err)
		}
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	big := make([]byte, 10)
	writeU16ToSlice(big, 9000)
	if _, _, err := DecodeFrame(big, MaxClientFrameSize); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeFrameUnexpectedTag(t *testing.T) {
	payload := []byte{0xFF} // unknown tag
	buf := make([]byte, 2+len(payload))
	writeU16ToSlice(buf, uint16(len(payload)))
	copy(buf[2:], payload)

	_, _, err := DecodeFrame(buf, MaxRelayFrameSize)
	if err == nil {
		t.Fatal("expected an error for an unrecognised tag")
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeU16ToSlice(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
