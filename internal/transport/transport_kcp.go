package transport

import (
	"context"
	"net"

	"github.com/xtaci/kcp-go/v5"
)

// kcpTransport carries the tunnel's single control connection over reliable
// UDP (KCP). kcp.UDPSession already satisfies net.Conn, so unlike the
// teacher's transport_kcp.go there is no yamux session wrapped around it.
type kcpTransport struct{}

// NewKCPTransport returns the reliable-UDP transport, useful for tunnel
// clients behind lossy NAT links to the relay.
func NewKCPTransport() Transport { return kcpTransport{} }

func (kcpTransport) Name() string { return "kcp" }

func (kcpTransport) Listen(addr string, _ ListenOptions) (Listener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, err
	}
	return &kcpListener{ln: ln}, nil
}

func (kcpTransport) Dial(ctx context.Context, addr string, _ DialOptions) (net.Conn, error) {
	type res struct {
		sess *kcp.UDPSession
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := kcp.DialWithOptions(addr, nil, 10, 3)
		if err == nil {
			c.SetNoDelay(1, 20, 2, 1)
			c.SetWindowSize(1024, 1024)
		}
		ch <- res{sess: c, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.sess, r.err
	}
}

type kcpListener struct {
	ln *kcp.Listener
}

func (l *kcpListener) Accept(ctx context.Context) (net.Conn, error) {
	type res struct {
		c   *kcp.UDPSession
		err error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := l.ln.AcceptKCP()
		ch <- res{c: c, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		r.c.SetNoDelay(1, 20, 2, 1)
		r.c.SetWindowSize(1024, 1024)
		return r.c, nil
	}
}

func (l *kcpListener) Close() error   { return l.ln.Close() }
func (l *kcpListener) Addr() net.Addr { return l.ln.Addr() }
