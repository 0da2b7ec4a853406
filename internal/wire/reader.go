package wire

import "io"

// FrameReader incrementally decodes tunnel control frames from a byte
// stream, buffering partial reads across calls so callers never have to
// manage a read loop themselves.
type FrameReader struct {
	r        io.Reader
	buf      []byte
	maxFrame int
}

// NewFrameReader wraps r for steady-state tagged-union framing (§4.1), used
// on both ends of a tunnel's control connection.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	return &FrameReader{r: r, maxFrame: maxFrame}
}

// NewFrameReaderWithBuffer is NewFrameReader, pre-seeded with bytes already
// read from r (e.g. trailing bytes left over from first-packet sniffing).
func NewFrameReaderWithBuffer(r io.Reader, maxFrame int, initial []byte) *FrameReader {
	return &FrameReader{r: r, maxFrame: maxFrame, buf: append([]byte(nil), initial...)}
}

// ReadMessage blocks until one complete frame is decoded, or returns the
// underlying stream error (including io.EOF) if the stream ends first.
func (f *FrameReader) ReadMessage() (Message, error) {
	for {
		msg, n, err := DecodeFrame(f.buf, f.maxFrame)
		if err == nil {
			f.buf = append([]byte(nil), f.buf[n:]...)
			return msg, nil
		}
		if err != ErrNeedMoreData {
			return nil, err
		}
		if err := f.fill(); err != nil {
			return nil, err
		}
	}
}

func (f *FrameReader) fill() error {
	chunk := make([]byte, 4096)
	n, err := f.r.Read(chunk)
	if n > 0 {
		f.buf = append(f.buf, chunk[:n]...)
	}
	if n == 0 && err == nil {
		return io.ErrNoProgress
	}
	return err
}

// SniffFirstPacketFromReader reads from r until SniffFirstPacket (§4.1)
// conclusively parses or rejects the connection's first packet. It returns
// the raw bytes the first packet itself consumed (a player session replays
// these to the tunnel client verbatim) and any bytes read past that
// boundary, for replay into steady-state handling.
func SniffFirstPacketFromReader(r io.Reader, maxHandshake, maxFrame int) (fp *FirstPacket, raw, trailing []byte, err error) {
	var buf []byte
	for {
		parsed, n, perr := SniffFirstPacket(buf, maxHandshake, maxFrame)
		if perr == nil {
			return parsed, buf[:n], buf[n:], nil
		}
		if perr != ErrNeedMoreData {
			return nil, nil, nil, perr
		}
		chunk := make([]byte, 4096)
		rn, rerr := r.Read(chunk)
		if rn > 0 {
			buf = append(buf, chunk[:rn]...)
		}
		if rerr != nil {
			return nil, nil, nil, rerr
		}
		if rn == 0 {
			return nil, nil, nil, io.ErrNoProgress
		}
	}
}
