package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"craftip/internal/identity"
	"craftip/pkg/mcproto"
)

// Message is the tagged union carried by every tunnel control frame (C3).
// The unexported method seals the interface to the types in this file.
type Message interface {
	messageTag() byte
}

type messageTag byte

const (
	tagProxyHello messageTag = iota
	tagProxyAuthRequest
	tagProxyAuthResponse
	tagProxyHelloResponse
	tagProxyJoin
	tagProxyData
	tagProxyDisconnect
	tagProxyPing
	tagProxyPong
	tagProxyError
)

// ProxyHello registers a tunnel under a hostname, client to relay.
type ProxyHello struct {
	Version  int32
	Hostname string
	Auth     identity.PublicKey
}

func (ProxyHello) messageTag() byte { return byte(tagProxyHello) }

// ProxyAuthRequest carries a fresh challenge the client must sign, relay to
// client.
type ProxyAuthRequest struct {
	Challenge identity.Challenge
}

func (ProxyAuthRequest) messageTag() byte { return byte(tagProxyAuthRequest) }

// ProxyAuthResponse carries the signature over the prefixed challenge,
// client to relay.
type ProxyAuthResponse struct {
	Signature identity.Signature
}

func (ProxyAuthResponse) messageTag() byte { return byte(tagProxyAuthResponse) }

// HelloStatus is the outcome carried by ProxyHelloResponse.
type HelloStatus byte

const (
	StatusConnectionSuccessful HelloStatus = iota
	StatusError
)

// ProxyHelloResponse tells the client whether its tunnel is live, relay to
// client. Err is populated only when Status is StatusError.
type ProxyHelloResponse struct {
	Version int32
	Status  HelloStatus
	Err     string
}

func (ProxyHelloResponse) messageTag() byte { return byte(tagProxyHelloResponse) }

// ProxyJoin tells the client a new player has been assigned Slot, relay to
// client.
type ProxyJoin struct {
	Slot uint16
}

func (ProxyJoin) messageTag() byte { return byte(tagProxyJoin) }

// ProxyData carries opaque Minecraft bytes for one slot, either direction.
type ProxyData struct {
	Slot uint16
	Data []byte
}

func (ProxyData) messageTag() byte { return byte(tagProxyData) }

// ProxyDisconnect tears down the local Minecraft connection for one slot,
// either direction.
type ProxyDisconnect struct {
	Slot uint16
}

func (ProxyDisconnect) messageTag() byte { return byte(tagProxyDisconnect) }

// ProxyPing is a liveness probe, client to relay.
type ProxyPing struct {
	EpochMillisLow uint16
}

func (ProxyPing) messageTag() byte { return byte(tagProxyPing) }

// ProxyPong echoes a ProxyPing, relay to client.
type ProxyPong struct {
	EpochMillisLow uint16
}

func (ProxyPong) messageTag() byte { return byte(tagProxyPong) }

// ProxyError is a fatal protocol error; the receiving side must close the
// tunnel, relay to client.
type ProxyError struct {
	Message string
}

func (ProxyError) messageTag() byte { return byte(tagProxyError) }

// MaxPayloadSize is the largest payload the u16 BE length prefix can carry.
const MaxPayloadSize = 1<<16 - 1

// EncodeFrame renders msg as a complete wire frame: a big-endian u16 total
// payload length, followed by the tag byte and the tagged union's fields in
// the order given in spec.md §4.3. Variable-length fields (strings, byte
// blobs) are VarInt length-prefixed, reusing the same encoding package's
// Minecraft-style varints since both domains need the same "short,
// self-describing length prefix" shape. Fixed-size arrays (challenge,
// signature, public key) carry no additional length prefix.
func EncodeFrame(msg Message) ([]byte, error) {
	var payload bytes.Buffer
	payload.WriteByte(msg.messageTag())

	switch m := msg.(type) {
	case ProxyHello:
		writeInt32(&payload, m.Version)
		if _, err := mcproto.WriteString(&payload, m.Hostname); err != nil {
			return nil, err
		}
		payload.Write(m.Auth[:])
	case ProxyAuthRequest:
		payload.Write(m.Challenge[:])
	case ProxyAuthResponse:
		payload.Write(m.Signature[:])
	case ProxyHelloResponse:
		writeInt32(&payload, m.Version)
		payload.WriteByte(byte(m.Status))
		if m.Status == StatusError {
			if _, err := mcproto.WriteString(&payload, m.Err); err != nil {
				return nil, err
			}
		}
	case ProxyJoin:
		if _, err := mcproto.WriteUShort(&payload, m.Slot); err != nil {
			return nil, err
		}
	case ProxyData:
		if _, err := mcproto.WriteUShort(&payload, m.Slot); err != nil {
			return nil, err
		}
		if _, err := mcproto.WriteVarInt(&payload, int32(len(m.Data))); err != nil {
			return nil, err
		}
		payload.Write(m.Data)
	case ProxyDisconnect:
		if _, err := mcproto.WriteUShort(&payload, m.Slot); err != nil {
			return nil, err
		}
	case ProxyPing:
		if _, err := mcproto.WriteUShort(&payload, m.EpochMillisLow); err != nil {
			return nil, err
		}
	case ProxyPong:
		if _, err := mcproto.WriteUShort(&payload, m.EpochMillisLow); err != nil {
			return nil, err
		}
	case ProxyError:
		if _, err := mcproto.WriteString(&payload, m.Message); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}

	if payload.Len() > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, 2+payload.Len())
	binary.BigEndian.PutUint16(out, uint16(payload.Len()))
	copy(out[2:], payload.Bytes())
	return out, nil
}

// DecodeFrame reads one complete tunnel control frame from the front of
// buf: a u16 BE payload length, then the tagged payload. It returns
// ErrNeedMoreData if buf does not yet hold a complete frame, ErrFrameTooLarge
// if the declared length exceeds maxFrame before the frame is even
// complete, and ErrUnexpectedFrame if the tag byte is unrecognised.
func DecodeFrame(buf []byte, maxFrame int) (Message, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrNeedMoreData
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[:2]))
	if payloadLen > maxFrame {
		return nil, 0, ErrFrameTooLarge
	}
	total := 2 + payloadLen
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	payload := buf[2:total]
	if len(payload) == 0 {
		return nil, 0, ErrMalformed
	}

	tag := messageTag(payload[0])
	r := bytes.NewReader(payload[1:])

	msg, err := decodeByTag(tag, r)
	if err != nil {
		return nil, 0, err
	}
	return msg, total, nil
}

func decodeByTag(tag messageTag, r *bytes.Reader) (Message, error) {
	switch tag {
	case tagProxyHello:
		version, err := readInt32(r)
		if err != nil {
			return nil, ErrMalformed
		}
		hostname, _, err := mcproto.ReadString(r)
		if err != nil {
			return nil, ErrMalformed
		}
		var auth identity.PublicKey
		if _, err := io.ReadFull(r, auth[:]); err != nil {
			return nil, ErrMalformed
		}
		return ProxyHello{Version: version, Hostname: hostname, Auth: auth}, nil

	case tagProxyAuthRequest:
		var c identity.Challenge
		if _, err := io.ReadFull(r, c[:]); err != nil {
			return nil, ErrMalformed
		}
		return ProxyAuthRequest{Challenge: c}, nil

	case tagProxyAuthResponse:
		var s identity.Signature
		if _, err := io.ReadFull(r, s[:]); err != nil {
			return nil, ErrMalformed
		}
		return ProxyAuthResponse{Signature: s}, nil

	case tagProxyHelloResponse:
		version, err := readInt32(r)
		if err != nil {
			return nil, ErrMalformed
		}
		statusByte, err := r.ReadByte()
		if err != nil {
			return nil, ErrMalformed
		}
		status := HelloStatus(statusByte)
		var errMsg string
		if status == StatusError {
			errMsg, _, err = mcproto.ReadString(r)
			if err != nil {
				return nil, ErrMalformed
			}
		}
		return ProxyHelloResponse{Version: version, Status: status, Err: errMsg}, nil

	case tagProxyJoin:
		slot, _, err := mcproto.ReadUShort(r)
		if err != nil {
			return nil, ErrMalformed
		}
		return ProxyJoin{Slot: slot}, nil

	case tagProxyData:
		slot, _, err := mcproto.ReadUShort(r)
		if err != nil {
			return nil, ErrMalformed
		}
		n, _, err := mcproto.ReadVarInt(r)
		if err != nil || n < 0 {
			return nil, ErrMalformed
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, ErrMalformed
		}
		return ProxyData{Slot: slot, Data: data}, nil

	case tagProxyDisconnect:
		slot, _, err := mcproto.ReadUShort(r)
		if err != nil {
			return nil, ErrMalformed
		}
		return ProxyDisconnect{Slot: slot}, nil

	case tagProxyPing:
		v, _, err := mcproto.ReadUShort(r)
		if err != nil {
			return nil, ErrMalformed
		}
		return ProxyPing{EpochMillisLow: v}, nil

	case tagProxyPong:
		v, _, err := mcproto.ReadUShort(r)
		if err != nil {
			return nil, ErrMalformed
		}
		return ProxyPong{EpochMillisLow: v}, nil

	case tagProxyError:
		msg, _, err := mcproto.ReadString(r)
		if err != nil {
			return nil, ErrMalformed
		}
		return ProxyError{Message: msg}, nil

	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnexpectedFrame, tag)
	}
}

func writeInt32(w io.Writer, v int32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	w.Write(buf[:])
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}
