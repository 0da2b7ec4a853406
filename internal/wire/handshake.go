package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"craftip/pkg/mcproto"
)

// HandshakeKind distinguishes the three Minecraft client-hello variants the
// relay's public port must recognise.
type HandshakeKind int

const (
	LegacyPing HandshakeKind = iota
	LegacyConnect
	ModernHandshake
)

// Handshake is the information C5 needs out of a player's first packet:
// which variant it was, and the hostname it asked for.
type Handshake struct {
	Kind            HandshakeKind
	ProtocolVersion int32
	Hostname        string
	Port            uint16
}

// legacyPingEnvelope is the fixed 27-byte "MC|PingHost" plugin-message
// prefix every legacy server-list ping begins with: 0xFE 0x01 (server list
// ping), 0xFA (plugin message), a u16 BE length of 11, then "MC|PingHost"
// itself in UTF-16BE.
var legacyPingEnvelope = append([]byte{0xFE, 0x01, 0xFA, 0x00, 0x0B}, utf16beEncode("MC|PingHost")...)

// ensureAvailable reports whether upto bytes are obtainable from buf without
// exceeding maxSize: nil once len(buf) >= upto, ErrNeedMoreData if upto is
// still within budget but not yet buffered, ErrFrameTooLarge if upto itself
// blows the budget (so the caller never grows buf past maxSize chasing a
// frame that can't fit).
func ensureAvailable(buf []byte, upto, maxSize int) error {
	if upto > maxSize {
		return ErrFrameTooLarge
	}
	if len(buf) < upto {
		return ErrNeedMoreData
	}
	return nil
}

// parseLegacyPing implements spec variant 1: 0xFE 0x01 + the fixed envelope,
// a u16 BE remaining length, a u8 version, a UTF-16BE hostname, a u32 BE
// port. Malformed if 7+2*len(hostname) != remaining length.
func parseLegacyPing(buf []byte, maxSize int) (*Handshake, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != 0xFE || buf[1] != 0x01 {
		return nil, 0, ErrNoMatch
	}
	if err := ensureAvailable(buf, len(legacyPingEnvelope), maxSize); err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(buf[:len(legacyPingEnvelope)], legacyPingEnvelope) {
		return nil, 0, ErrMalformed
	}

	pos := len(legacyPingEnvelope)
	if err := ensureAvailable(buf, pos+2, maxSize); err != nil {
		return nil, 0, err
	}
	remaining := binary.BigEndian.Uint16(buf[pos : pos+2])
	pos += 2

	if err := ensureAvailable(buf, pos+1, maxSize); err != nil {
		return nil, 0, err
	}
	version := buf[pos]
	pos++

	if err := ensureAvailable(buf, pos+2, maxSize); err != nil {
		return nil, 0, err
	}
	hostLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2

	hostBytes := hostLen * 2
	if err := ensureAvailable(buf, pos+hostBytes, maxSize); err != nil {
		return nil, 0, err
	}
	hostname, err := utf16beDecode(buf[pos : pos+hostBytes])
	if err != nil {
		return nil, 0, ErrMalformed
	}
	pos += hostBytes

	if err := ensureAvailable(buf, pos+4, maxSize); err != nil {
		return nil, 0, err
	}
	port := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4

	if uint16(7+2*hostLen) != remaining {
		return nil, 0, ErrMalformed
	}

	return &Handshake{Kind: LegacyPing, ProtocolVersion: int32(version), Hostname: hostname, Port: uint16(port)}, pos, nil
}

// parseLegacyConnect implements spec variant 2: 0x02, a u8 version, a
// UTF-16BE username, a UTF-16BE hostname, a u32 BE port.
func parseLegacyConnect(buf []byte, maxSize int) (*Handshake, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != 0x02 {
		return nil, 0, ErrNoMatch
	}
	pos := 1

	if err := ensureAvailable(buf, pos+1, maxSize); err != nil {
		return nil, 0, err
	}
	version := buf[pos]
	pos++

	_, n, err := readUTF16BEString(buf[pos:], maxSize-pos) // username, discarded
	if err != nil {
		return nil, 0, err
	}
	pos += n

	hostname, n, err := readUTF16BEString(buf[pos:], maxSize-pos)
	if err != nil {
		return nil, 0, err
	}
	pos += n

	if err := ensureAvailable(buf, pos+4, maxSize); err != nil {
		return nil, 0, err
	}
	port := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4

	return &Handshake{Kind: LegacyConnect, ProtocolVersion: int32(version), Hostname: hostname, Port: uint16(port)}, pos, nil
}

// parseModernHandshake implements spec variant 3: a VarInt packet length, a
// VarInt packet ID (must be 0), a VarInt protocol version, a length-prefixed
// UTF-8 hostname, a u16 BE port. The total bytes consumed (including the
// length VarInt itself) must equal the declared packet length exactly.
//
// A control frame's u16 BE length prefix leads with a zero byte for any
// payload under 256 bytes (every real ProxyHello is well under that), which
// decodes as a complete one-byte VarInt of value 0. That, a non-zero packet
// ID, and a length VarInt that is over-long or smaller than its own encoding
// are the ways this function declines a buffer rather than committing to it:
// each means "not a modern handshake," not "a broken one," so they return
// ErrNoMatch and let the caller try a control frame instead. Everything past
// the packet-ID check is a genuine malformed handshake.
func parseModernHandshake(buf []byte, maxSize int) (*Handshake, int, error) {
	r := bytes.NewReader(buf)
	length, nLen, err := mcproto.ReadVarInt(r)
	if err != nil {
		if err == mcproto.ErrVarIntEOF {
			return nil, 0, ErrNeedMoreData
		}
		return nil, 0, ErrNoMatch
	}
	if length <= 0 {
		return nil, 0, ErrNoMatch
	}
	total := int(length)
	if total > maxSize {
		return nil, 0, ErrFrameTooLarge
	}
	if total < nLen {
		return nil, 0, ErrNoMatch
	}
	if total > len(buf) {
		return nil, 0, ErrNeedMoreData
	}

	br := bytes.NewReader(buf[nLen:total])
	packetID, _, err := mcproto.ReadVarInt(br)
	if err != nil || packetID != 0 {
		return nil, 0, ErrNoMatch
	}
	protoVer, _, err := mcproto.ReadVarInt(br)
	if err != nil {
		return nil, 0, ErrMalformed
	}
	hostname, _, err := mcproto.ReadString(br)
	if err != nil {
		return nil, 0, ErrMalformed
	}
	port, _, err := mcproto.ReadUShort(br)
	if err != nil {
		return nil, 0, ErrMalformed
	}
	if br.Len() != 0 {
		return nil, 0, ErrMalformed
	}

	return &Handshake{Kind: ModernHandshake, ProtocolVersion: protoVer, Hostname: hostname, Port: port}, total, nil
}

// SniffHandshake tries the three Minecraft first-packet variants in the
// order spec.md §4.1 lists them, returning the first that matches. It
// returns ErrNoMatch if none of the three variants' leading bytes apply
// (the caller should then try decoding a tunnel control frame instead), and
// ErrFrameTooLarge once a variant has committed to its framing but the
// packet it describes would exceed maxSize, so a caller accumulating buf
// from a stream (SniffFirstPacketFromReader) never grows it without bound
// waiting on a handshake that will never fit.
func SniffHandshake(buf []byte, maxSize int) (*Handshake, int, error) {
	if hs, n, err := parseLegacyPing(buf, maxSize); err != ErrNoMatch {
		return hs, n, err
	}
	if hs, n, err := parseLegacyConnect(buf, maxSize); err != ErrNoMatch {
		return hs, n, err
	}
	if hs, n, err := parseModernHandshake(buf, maxSize); err != ErrNoMatch {
		return hs, n, err
	}
	return nil, 0, ErrNoMatch
}

func readUTF16BEString(buf []byte, maxRemaining int) (string, int, error) {
	if maxRemaining < 2 {
		return "", 0, ErrFrameTooLarge
	}
	if len(buf) < 2 {
		return "", 0, ErrNeedMoreData
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	if n < 0 {
		return "", 0, ErrMalformed
	}
	byteLen := n * 2
	if 2+byteLen > maxRemaining {
		return "", 0, ErrFrameTooLarge
	}
	if len(buf) < 2+byteLen {
		return "", 0, ErrNeedMoreData
	}
	s, err := utf16beDecode(buf[2 : 2+byteLen])
	if err != nil {
		return "", 0, ErrMalformed
	}
	return s, 2 + byteLen, nil
}

func utf16beEncode(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.BigEndian.PutUint16(out[i*2:], u)
	}
	return out
}

func utf16beDecode(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("wire: odd utf16 byte length %d", len(b))
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}
