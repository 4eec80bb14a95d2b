package amqpengine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dihedron/amqpengine/wire"
)

// Connection is the top-level orchestrator (spec.md §4.5): it owns IO,
// channel0, the channel table, and dispatch of inbound frames.
type Connection struct {
	config Config
	logger *slog.Logger

	io       *IO
	channel0 *channel0

	// connMu guards state transitions and the channel table together,
	// playing the role spec.md §5 calls "the IO lock" for channel
	// allocation.
	connMu   sync.Mutex
	state    State
	channels map[uint16]*Channel

	errMu     sync.Mutex
	firstErr  error
}

// Dial validates cfg, opens the TCP/TLS socket, performs the AMQP
// handshake synchronously, and returns a ready-to-use Connection (spec.md
// §4.5 "open()"). logger may be nil, in which case slog.Default() is
// used (SPEC_FULL.md §2: a sink is injected, never global).
func Dial(cfg Config, logger *slog.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn := &Connection{
		config:   cfg,
		logger:   logger,
		state:    StateOpening,
		channels: make(map[uint16]*Channel),
	}
	conn.channel0 = newChannel0(conn)
	conn.io = NewIO(conn.readBuffer, conn.handleSocketError, cfg.Timeout, cfg.TLS, logger)

	logger.Debug("connection: opening", "host", cfg.Hostname, "port", cfg.Port)

	if err := conn.io.Open(cfg.Hostname, cfg.Port); err != nil {
		conn.setState(StateClosed)
		return nil, err
	}
	if err := conn.channel0.sendProtocolHeader(); err != nil {
		conn.setState(StateClosed)
		return nil, err
	}

	deadline := time.Now().Add(conn.handshakeTimeout())
	for conn.State() != StateOpen {
		if err := conn.CheckForErrors(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			err := newConnectionError("handshake did not complete before timeout")
			conn.latchError(err)
			conn.setState(StateClosed)
			return nil, err
		}
		time.Sleep(idleWait)
	}

	logger.Debug("connection: opened")
	return conn, nil
}

func (c *Connection) handshakeTimeout() time.Duration {
	if c.config.Timeout > 0 {
		return c.config.Timeout
	}
	return 30 * time.Second
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

// IsOpen reports whether the connection has completed its handshake and
// is not yet closing/closed.
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// IsClosed reports whether the connection has finished shutting down.
func (c *Connection) IsClosed() bool {
	return c.State() == StateClosed
}

// IsBlocked reports whether the broker has asked the client to pause
// publishing.
func (c *Connection) IsBlocked() bool {
	return c.channel0.IsBlocked()
}

// ServerProperties returns the properties the broker advertised during
// the handshake.
func (c *Connection) ServerProperties() wire.Table {
	return c.channel0.ServerProperties()
}

// Channel allocates the smallest unused channel id (spec.md §9's
// recommended fix for the teacher's leak-prone "len(table)+1" rule),
// opens it synchronously, and registers it in the channel table.
func (c *Connection) Channel(rpcTimeout time.Duration) (*Channel, error) {
	if rpcTimeout <= 0 {
		rpcTimeout = DefaultRPCTimeout
	}

	c.connMu.Lock()
	id := c.nextChannelIDLocked()
	ch := newChannel(id, c, rpcTimeout)
	c.channels[id] = ch
	c.connMu.Unlock()

	if err := ch.open(); err != nil {
		c.connMu.Lock()
		delete(c.channels, id)
		c.connMu.Unlock()
		return nil, err
	}

	c.logger.Debug("connection: channel opened", "channel", id)
	return ch, nil
}

// nextChannelIDLocked must be called with connMu held.
func (c *Connection) nextChannelIDLocked() uint16 {
	for id := uint16(1); id < 65535; id++ {
		if _, taken := c.channels[id]; !taken {
			return id
		}
	}
	return 0
}

// Close closes all open channels (best effort), sends Connection.Close on
// channel 0, closes IO, and sets state Closed. Idempotent (spec.md §8
// invariant 5).
func (c *Connection) Close() error {
	if c.IsClosed() {
		return nil
	}

	c.logger.Debug("connection: closing")

	c.closeChannels()
	c.setState(StateClosing)

	if err := c.channel0.sendCloseConnectionFrame(); err != nil {
		c.logger.Warn("connection: failed to send Connection.Close", "error", err)
	}

	err := c.io.Close()
	c.setState(StateClosed)

	c.logger.Debug("connection: closed")
	return err
}

func (c *Connection) closeChannels() {
	c.connMu.Lock()
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.connMu.Unlock()

	for _, ch := range channels {
		if ch.State() != StateOpen {
			continue
		}
		if err := ch.Close(0, ""); err != nil {
			c.logger.Warn("connection: error closing channel", "channel", ch.id, "error", err)
		}
	}
}

// writeFrame marshals and writes a single frame on the given channel id.
func (c *Connection) writeFrame(channelID uint16, f wire.Frame) error {
	data, err := wire.Marshal(f, channelID)
	if err != nil {
		return err
	}
	return c.io.WriteToSocket(data)
}

// writeFrames marshals and writes multiple frames as one atomic socket
// write, so a multi-frame publish is never interleaved with another
// writer (spec.md §4.4, §5 "Publish sequences … written atomically").
func (c *Connection) writeFrames(channelID uint16, frames []wire.Frame) error {
	var data []byte
	for _, f := range frames {
		b, err := wire.Marshal(f, channelID)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	return c.io.WriteToSocket(data)
}

// CheckForErrors raises the first latched error, if any, clearing the
// latch (spec.md §7 propagation policy).
func (c *Connection) CheckForErrors() error {
	if c.io.isClosed() && c.State() != StateClosed {
		c.latchError(newConnectionError("socket/connection closed"))
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	err := c.firstErr
	c.firstErr = nil
	return err
}

func (c *Connection) latchError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.firstErr == nil {
		c.firstErr = err
	}
}

// readBuffer is IO's onRead callback: it repeatedly unmarshals frames
// from buffer and routes each to channel0 or the owning Channel (spec.md
// §4.5 "_read_buffer"). It returns whatever tail remains unconsumed.
func (c *Connection) readBuffer(buffer []byte) []byte {
	for len(buffer) > 0 {
		n, channelID, frame, err := wire.Unmarshal(buffer)
		if err != nil {
			if err == wire.ErrUnmarshalIncomplete {
				return buffer
			}
			c.logger.Error("connection: discarding unparsable frame prefix", "error", err)
			return buffer[1:]
		}

		if channelID == 0 {
			c.channel0.onFrame(frame)
		} else {
			c.connMu.Lock()
			ch := c.channels[channelID]
			c.connMu.Unlock()
			if ch == nil {
				c.logger.Warn("connection: frame for unknown channel", "channel", channelID, "name", frame.Name())
			} else {
				ch.onFrame(frame)
			}
		}

		buffer = buffer[n:]
	}
	return buffer
}

// handleSocketError is IO's onError callback: it latches a connection
// error and drives every owned channel to Closed without requiring a user
// call (spec.md §8 invariant 4).
func (c *Connection) handleSocketError(err error) {
	previousState := c.State()
	c.setState(StateClosed)
	if previousState != StateClosed {
		c.logger.Error("connection: socket error", "error", err)
	}
	c.io.Close()
	c.latchError(wrapConnectionError(err, "socket error"))

	c.connMu.Lock()
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.connMu.Unlock()

	for _, ch := range channels {
		ch.forceClose(newConnectionError("connection was closed"))
	}
}

// WithConnection opens a Connection, passes it to fn, and guarantees
// Close() on every exit path including a panic (SPEC_FULL.md §6,
// spec.md §5 "Resource release").
func WithConnection(cfg Config, logger *slog.Logger, fn func(*Connection) error) error {
	conn, err := Dial(cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}
