// Package tunnelclient implements C7: dial the relay, authenticate as the
// owner of an Ed25519 identity, and fan multiplexed player slots out to a
// local Minecraft server, one TCP connection per slot.
package tunnelclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"craftip/internal/forwarding"
	"craftip/internal/identity"
	"craftip/internal/transport"
	"craftip/internal/wire"
)

// protocolVersion is this codebase's ProxyHello/ProxyHelloResponse version
// number. It has no meaning beyond round-tripping in the handshake.
const protocolVersion = 1

// Options configures a Client.
type Options struct {
	ServerAddr string
	LocalAddr  string
	Identity   identity.PrivateKey

	Transport   transport.Transport
	DialOptions transport.DialOptions
	DialTimeout time.Duration

	Dialer     forwarding.Dialer
	BufferPool forwarding.BufferPool

	Logger *slog.Logger
	Status chan<- StatusEvent
}

// Client maintains exactly one tunnel to one relay.
type Client struct {
	opts Options
}

// New returns a Client ready to Run. Defaults: tcp transport, a 5s dial
// timeout, a plain net.Dialer, a sync.Pool buffer pool sized to fit one
// chunk under the relay's ProxyData decode cap, and slog.Default().
func New(opts Options) *Client {
	if opts.Transport == nil {
		opts.Transport, _ = transport.ByName("tcp")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = forwarding.NewNetDialer(&forwarding.NetDialerOptions{Timeout: opts.DialTimeout})
	}
	if opts.BufferPool == nil {
		opts.BufferPool = forwarding.NewSyncPoolBufferPool(wire.MaxRelayChunkSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts}
}

// Run dials, authenticates, and serves the tunnel until ctx is cancelled,
// reconnecting with exponential backoff (capped at 10s) on any other
// failure.
func (c *Client) Run(ctx context.Context) error {
	if c.opts.ServerAddr == "" {
		return errors.New("tunnelclient: ServerAddr is required")
	}
	if c.opts.LocalAddr == "" {
		return errors.New("tunnelclient: LocalAddr is required")
	}

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.emitStatus(StatusEvent{Kind: StatusConnecting})
		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			c.emitStatus(StatusEvent{Kind: StatusDisconnected})
			return ctx.Err()
		}
		c.emitStatus(StatusEvent{Kind: StatusDisconnected, Reason: err.Error()})
		c.opts.Logger.Warn("tunnel client: disconnected; retrying", "server", c.opts.ServerAddr, "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, err := c.opts.Transport.Dial(dialCtx, c.opts.ServerAddr, c.opts.DialOptions)
	if err != nil {
		return err
	}
	defer conn.Close()

	hostname := identity.Hostname(c.opts.Identity.Public())
	hello := wire.ProxyHello{Version: protocolVersion, Hostname: hostname, Auth: c.opts.Identity.Public()}
	if err := writeMessage(conn, hello); err != nil {
		return err
	}

	fr := wire.NewFrameReader(conn, wire.MaxClientFrameSize)

	msg, err := fr.ReadMessage()
	if err != nil {
		return err
	}
	authReq, ok := msg.(wire.ProxyAuthRequest)
	if !ok {
		return fmt.Errorf("tunnelclient: handshake: expected ProxyAuthRequest, got %T", msg)
	}
	sig := c.opts.Identity.Sign(authReq.Challenge)
	if err := writeMessage(conn, wire.ProxyAuthResponse{Signature: sig}); err != nil {
		return err
	}

	msg, err = fr.ReadMessage()
	if err != nil {
		return err
	}
	helloResp, ok := msg.(wire.ProxyHelloResponse)
	if !ok {
		return fmt.Errorf("tunnelclient: handshake: expected ProxyHelloResponse, got %T", msg)
	}
	if helloResp.Status != wire.StatusConnectionSuccessful {
		return fmt.Errorf("tunnelclient: relay rejected hello: %s", helloResp.Err)
	}

	c.opts.Logger.Info("tunnel client: connected", "server", c.opts.ServerAddr, "hostname", hostname)
	c.emitStatus(StatusEvent{Kind: StatusConnected})

	sess := newSession(conn, fr, c.opts)
	return sess.run(ctx)
}

func writeMessage(w interface{ Write([]byte) (int, error) }, msg wire.Message) error {
	frame, err := wire.EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
