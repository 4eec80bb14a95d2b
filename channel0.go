package amqpengine

import (
	"log/slog"
	"sync"

	"github.com/dihedron/amqpengine/wire"
)

// protocolHeader is the literal byte sequence spec.md §6 requires as the
// very first bytes on the socket.
var protocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

const clientProduct = "amqpengine"
const clientVersion = "0.1.0"

// channel0 owns the connection-level handshake, heartbeats and
// blocked/unblocked notifications (spec.md §4.3). It always talks on AMQP
// channel id 0.
type channel0 struct {
	conn *Connection

	mu               sync.Mutex
	isBlocked        bool
	serverProperties wire.Table

	logger *slog.Logger
}

func newChannel0(conn *Connection) *channel0 {
	return &channel0{conn: conn, logger: conn.logger}
}

// IsBlocked reports whether the broker has asked the client to pause
// publishing (spec.md §4.3 Connection.Blocked/Unblocked).
func (c *channel0) IsBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isBlocked
}

// ServerProperties returns the properties the broker advertised in
// Connection.Start (SPEC_FULL.md §6, amqpstorm connection.py
// server_properties).
func (c *channel0) ServerProperties() wire.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverProperties
}

// sendProtocolHeader writes the literal handshake header that kicks off
// the Init -> WaitStart transition (spec.md §4.3).
func (c *channel0) sendProtocolHeader() error {
	return c.conn.io.WriteToSocket(protocolHeader)
}

func (c *channel0) writeFrame(f wire.Frame) error {
	return c.conn.writeFrame(0, f)
}

// onFrame drives the handshake state machine and the steady-state
// Open-state events spec.md §4.3 tabulates.
func (c *channel0) onFrame(f wire.Frame) {
	c.logger.Debug("channel0: frame received", "name", f.Name())

	switch frame := f.(type) {
	case wire.HeartbeatFrame:
		if err := c.writeFrame(wire.HeartbeatFrame{}); err != nil {
			c.logger.Warn("channel0: failed to echo heartbeat", "error", err)
		}

	case wire.ConnectionStart:
		c.mu.Lock()
		c.serverProperties = frame.ServerProperties
		c.mu.Unlock()
		c.sendStartOk()

	case wire.ConnectionTune:
		c.sendTuneOk(frame)
		c.sendOpen()

	case wire.ConnectionOpenOk:
		c.conn.setState(StateOpen)

	case wire.ConnectionClose:
		c.conn.setState(StateClosed)
		if frame.ReplyCode != 200 {
			c.conn.latchError(newConnectionError(
				"connection closed by broker: %s (code %d)",
				frame.ReplyText, frame.ReplyCode))
		}

	case wire.ConnectionBlocked:
		c.mu.Lock()
		c.isBlocked = true
		c.mu.Unlock()
		c.logger.Warn("channel0: connection blocked by broker", "reason", frame.Reason)

	case wire.ConnectionUnblocked:
		c.mu.Lock()
		c.isBlocked = false
		c.mu.Unlock()
		c.logger.Info("channel0: connection no longer blocked")

	default:
		c.logger.Error("channel0: unhandled frame", "name", f.Name())
	}
}

func (c *channel0) sendStartOk() {
	frame := wire.ConnectionStartOk{
		ClientProperties: c.clientProperties(),
		Mechanism:        "PLAIN",
		Response:         c.credentials(),
		Locale:           DefaultLocale,
	}
	if err := c.writeFrame(frame); err != nil {
		c.conn.latchError(err)
	}
}

func (c *channel0) sendTuneOk(tune wire.ConnectionTune) {
	frame := wire.ConnectionTuneOk{
		ChannelMax: 0,
		FrameMax:   FrameMax,
		Heartbeat:  uint16(c.conn.config.Heartbeat),
	}
	_ = tune // server's proposed values are not negotiated down; spec.md §4.3
	if err := c.writeFrame(frame); err != nil {
		c.conn.latchError(err)
	}
}

func (c *channel0) sendOpen() {
	frame := wire.ConnectionOpen{VirtualHost: c.conn.config.VirtualHost}
	if err := c.writeFrame(frame); err != nil {
		c.conn.latchError(err)
	}
}

// sendCloseConnectionFrame begins a client-initiated orderly shutdown
// (spec.md §4.5 Connection.close).
func (c *channel0) sendCloseConnectionFrame() error {
	return c.writeFrame(wire.ConnectionClose{ReplyCode: 200})
}

func (c *channel0) credentials() string {
	return "\x00" + c.conn.config.Username + "\x00" + c.conn.config.Password
}

// clientProperties is the StartOk payload spec.md §4.3 specifies
// verbatim, including the capabilities table.
func (c *channel0) clientProperties() wire.Table {
	return wire.Table{
		"product":      clientProduct,
		"platform":     "Go",
		"version":      clientVersion,
		"information":  "https://github.com/dihedron/amqpengine",
		"capabilities": wire.Table{
			"basic.nack":                    true,
			"connection.blocked":            true,
			"publisher_confirms":            true,
			"consumer_cancel_notify":        true,
			"authentication_failure_close": true,
		},
	}
}
