package wire

// Suggested maximum frame sizes from spec.md §4.1. Callers are free to
// choose their own; these are the defaults cmd/relayd and cmd/tunnelclient
// wire in.
const (
	MaxHandshakeSniffSize = 8 * 1024
	MaxClientFrameSize    = 4 * 1024
	MaxRelayFrameSize     = 8 * 1024
)

// proxyDataOverhead is the worst-case bytes a ProxyData frame's payload adds
// on top of the raw data it carries: one tag byte, a u16 slot, and a VarInt
// length prefix (up to 3 bytes for anything this package ever chunks to).
const proxyDataOverhead = 1 + 2 + 3

// MaxClientChunkSize and MaxRelayChunkSize are the largest single local-
// socket read that still fits, once wrapped as one ProxyData frame, under
// the receiving side's decode cap. A read loop chunking local traffic into
// ProxyData must size its buffer to the cap of whichever side will decode
// the frame it produces, not the side that produced it.
const (
	MaxClientChunkSize = MaxClientFrameSize - proxyDataOverhead
	MaxRelayChunkSize  = MaxRelayFrameSize - proxyDataOverhead
)

// FirstPacket is the result of sniffing the first bytes a connection on the
// relay's public port sends: either one of the three Minecraft handshake
// variants, or a tunnel control frame (always a ProxyHello, in practice,
// since that's the only message a tunnel ever sends unprompted).
type FirstPacket struct {
	Handshake *Handshake
	Message   Message
}

// SniffFirstPacket implements the first-packet mode of C1: it tries, in
// order, legacy ping, legacy connect, modern handshake, and finally a
// tunnel control frame. It returns ErrNeedMoreData if no variant can yet
// conclusively match or reject, and ErrMalformed once a variant's own
// structure rules it out.
func SniffFirstPacket(buf []byte, maxHandshake, maxFrame int) (*FirstPacket, int, error) {
	hs, n, err := SniffHandshake(buf, maxHandshake)
	switch err {
	case nil:
		return &FirstPacket{Handshake: hs}, n, nil
	case ErrNoMatch:
		// Falls through to the control-frame attempt below.
	default:
		return nil, 0, err
	}

	msg, n, err := DecodeFrame(buf, maxFrame)
	if err != nil {
		return nil, 0, err
	}
	return &FirstPacket{Message: msg}, n, nil
}
