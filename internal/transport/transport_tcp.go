package transport

import (
	"context"
	"net"
)

type tcpTransport struct{}

// NewTCPTransport returns the normative transport: plain TCP, no wrapping.
func NewTCPTransport() Transport { return tcpTransport{} }

func (tcpTransport) Name() string { return "tcp" }

func (tcpTransport) Listen(addr string, _ ListenOptions) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (tcpTransport) Dial(ctx context.Context, addr string, _ DialOptions) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (net.Conn, error) {
	type res struct {
		c   net.Conn
		err error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- res{c: c, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.c, r.err
	}
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
