package tunnelclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"craftip/internal/forwarding"
	"craftip/internal/wire"
)

// pingInterval is how often the session sends a liveness ProxyPing. Pings go
// out on this fixed interval whether or not other frames are being sent;
// there is no idleness check.
const pingInterval = time.Second

// session implements the authenticated half of C7: demultiplex frames from
// the relay by slot, maintaining one local Minecraft TCP connection per
// slot, and pump bytes in both directions until the tunnel or the process
// shuts down.
type session struct {
	conn net.Conn
	fr   *wire.FrameReader
	opts Options

	// outbound is drained by a single writer goroutine so frames from many
	// concurrent forwarders and the ping ticker never interleave their
	// writes to conn.
	outbound chan wire.Message

	mu    sync.Mutex
	slots map[uint16]chan []byte
}

func newSession(conn net.Conn, fr *wire.FrameReader, opts Options) *session {
	return &session{
		conn:     conn,
		fr:       fr,
		opts:     opts,
		outbound: make(chan wire.Message, 256),
		slots:    make(map[uint16]chan []byte),
	}
}

// run drives the session until the relay connection ends or ctx is
// cancelled (which doubles as the external Disconnect control of spec.md
// §4.7 step 7 — there is no GUI in this codebase, only its context).
func (s *session) run(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the blocking frame read below on cancellation; it has no
	// read deadline of its own (spec.md §5: "no read timeout on player
	// TCP" applies symmetrically here to the tunnel's own socket reads).
	go func() {
		<-sctx.Done()
		_ = s.conn.Close()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(sctx)
	}()
	go s.pingLoop(sctx)

	err := s.readLoop(sctx)

	cancel()
	s.closeAllSlots()
	<-writeDone
	return err
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-s.outbound:
			frame, err := wire.EncodeFrame(msg)
			if err != nil {
				s.opts.Logger.Error("tunnel client: encode frame", "err", err)
				continue
			}
			if _, err := s.conn.Write(frame); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) pingLoop(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sendOutbound(ctx, wire.ProxyPing{EpochMillisLow: uint16(time.Now().UnixMilli())})
		case <-ctx.Done():
			return
		}
	}
}

// sendOutbound queues msg for the write loop, blocking only until ctx is
// cancelled — never stalling a forwarder or the ping ticker indefinitely.
func (s *session) sendOutbound(ctx context.Context, msg wire.Message) {
	select {
	case s.outbound <- msg:
	case <-ctx.Done():
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.fr.ReadMessage()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case wire.ProxyJoin:
			s.handleJoin(ctx, m.Slot)
		case wire.ProxyData:
			s.handleData(m.Slot, m.Data)
		case wire.ProxyDisconnect:
			s.handleDisconnect(m.Slot)
		case wire.ProxyPong:
			s.handlePong(m.EpochMillisLow)
		case wire.ProxyError:
			return fmt.Errorf("tunnelclient: relay error: %s", m.Message)
		default:
			s.opts.Logger.Debug("tunnel client: ignoring frame", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// handleJoin dials the local Minecraft server for a freshly assigned slot.
// A dial failure is reported back to the relay immediately rather than
// left to time out on the player's side.
func (s *session) handleJoin(ctx context.Context, slot uint16) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()

	local, err := s.opts.Dialer.DialContext(dialCtx, "tcp", s.opts.LocalAddr)
	if err != nil {
		s.opts.Logger.Warn("tunnel client: local dial failed", "slot", slot, "local", s.opts.LocalAddr, "err", err)
		s.sendOutbound(ctx, wire.ProxyDisconnect{Slot: slot})
		return
	}

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.slots[slot] = ch
	count := len(s.slots)
	s.mu.Unlock()
	s.emitClientCount(uint16(count))

	go s.forward(ctx, slot, local, ch)
}

// handleData forwards relayed bytes to the per-slot channel. An unknown
// slot is logged and ignored, per spec.md §4.7 step 4.
func (s *session) handleData(slot uint16, data []byte) {
	s.mu.Lock()
	ch := s.slots[slot]
	s.mu.Unlock()
	if ch == nil {
		s.opts.Logger.Debug("tunnel client: data for unknown slot", "slot", slot)
		return
	}
	select {
	case ch <- data:
	default:
		s.opts.Logger.Warn("tunnel client: slot queue full; dropping data", "slot", slot)
	}
}

// handleDisconnect closes the per-slot channel, which signals the
// forwarder to shut the local socket. Disconnecting an already-empty slot
// is a no-op, never an error (spec.md §8 property 7).
func (s *session) handleDisconnect(slot uint16) {
	s.mu.Lock()
	ch, ok := s.slots[slot]
	if ok {
		delete(s.slots, slot)
	}
	count := len(s.slots)
	s.mu.Unlock()
	if !ok {
		return
	}
	close(ch)
	s.emitClientCount(uint16(count))
}

// handlePong records the round-trip latency implied by a pong carrying the
// low 16 bits of the epoch-millisecond timestamp this session last sent.
// Subtraction of two uint16 values wraps correctly mod 2^16 on its own.
func (s *session) handlePong(sent uint16) {
	now := uint16(time.Now().UnixMilli())
	s.emit(StatusEvent{Kind: StatusPing, PingMillis: now - sent})
}

// forward is the per-slot forwarder task (spec.md §4.7 step 5): pump bytes
// from the local Minecraft connection to the relay as ProxyData frames,
// and drain the per-slot channel to the local connection. Either side
// closing tears down the other and reports ProxyDisconnect to the relay.
func (s *session) forward(ctx context.Context, slot uint16, local net.Conn, ch chan []byte) {
	defer local.Close()
	defer s.removeSlot(slot)

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case data, ok := <-ch:
				if !ok {
					_ = local.Close()
					return
				}
				if _, err := local.Write(data); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	fwd := forwarding.NewSlotForwarder(s.opts.BufferPool)
	_ = fwd.PumpFromLocal(local, func(chunk []byte) error {
		data := append([]byte(nil), chunk...)
		s.sendOutbound(ctx, wire.ProxyData{Slot: slot, Data: data})
		return nil
	})

	close(stop)
	<-writeDone

	s.sendOutbound(ctx, wire.ProxyDisconnect{Slot: slot})
}

func (s *session) removeSlot(slot uint16) {
	s.mu.Lock()
	_, ok := s.slots[slot]
	delete(s.slots, slot)
	count := len(s.slots)
	s.mu.Unlock()
	if ok {
		s.emitClientCount(uint16(count))
	}
}

func (s *session) closeAllSlots() {
	s.mu.Lock()
	chans := make([]chan []byte, 0, len(s.slots))
	for slot, ch := range s.slots {
		chans = append(chans, ch)
		delete(s.slots, slot)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

func (s *session) emitClientCount(n uint16) {
	s.emit(StatusEvent{Kind: StatusClientsConnected, Clients: n})
}

func (s *session) emit(ev StatusEvent) {
	if s.opts.Status == nil {
		return
	}
	select {
	case s.opts.Status <- ev:
	default:
	}
}
