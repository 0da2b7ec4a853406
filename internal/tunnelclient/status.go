package tunnelclient

// StatusKind discriminates the events a tunnel client reports to its
// status sink (the GUI front-end in the original system; here just a
// channel), per spec.md §7.
type StatusKind int

const (
	StatusConnecting StatusKind = iota
	StatusConnected
	StatusDisconnected
	StatusClientsConnected
	StatusPing
)

// StatusEvent is one user-visible status update. Only the field matching
// Kind is meaningful.
type StatusEvent struct {
	Kind StatusKind

	// Reason is set on StatusDisconnected; empty means a clean shutdown.
	Reason string
	// Clients is set on StatusClientsConnected.
	Clients uint16
	// PingMillis is set on StatusPing.
	PingMillis uint16
}

// emitStatus delivers ev to the configured sink, best-effort: a status sink
// that isn't being drained must never stall the tunnel session.
func (c *Client) emitStatus(ev StatusEvent) {
	if c.opts.Status == nil {
		return
	}
	select {
	case c.opts.Status <- ev:
	default:
	}
}
