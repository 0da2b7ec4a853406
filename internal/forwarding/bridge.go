package forwarding

import (
	"errors"
	"io"
	"net"
)

// SlotForwarder pumps bytes between a local net.Conn (one player's side of
// a tunnel slot — the Minecraft socket on the relay, or the local game
// server socket on the tunnel client) and the channel-based frames the
// rest of the slot's data path runs over. This is the teacher's
// ProxyBridge io.CopyBuffer-plus-buffer-pool shape, adapted from bridging
// two net.Conns to bridging one net.Conn against a frame sender/receiver,
// since a slot's other end is always the distributor's channels, never a
// second socket.
type SlotForwarder struct {
	pool BufferPool
}

func NewSlotForwarder(pool BufferPool) *SlotForwarder {
	return &SlotForwarder{pool: pool}
}

func (f *SlotForwarder) buffer() []byte {
	if f.pool != nil {
		return f.pool.Get()
	}
	return make([]byte, 32*1024)
}

func (f *SlotForwarder) putBuffer(buf []byte) {
	if f.pool != nil {
		f.pool.Put(buf)
	}
}

// PumpFromLocal reads from local until EOF or error, calling send with
// each chunk read. It returns nil on a clean EOF, or the error (other than
// net.ErrClosed, which callers hit routinely on shutdown) that ended the
// read.
func (f *SlotForwarder) PumpFromLocal(local net.Conn, send func([]byte) error) error {
	buf := f.buffer()
	defer f.putBuffer(buf)

	for {
		n, err := local.Read(buf)
		if n > 0 {
			if sendErr := send(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
