package amqpengine

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// readChunkSize is how much the reader thread asks the socket for per
// Read() call; it is independent of FrameMax since a read may straddle
// several frames or land mid-frame.
const readChunkSize = 65536

// IO owns the TCP/TLS socket and the background reader thread (spec.md
// §4.1). It is the lowest-level component: Connection and Channel never
// touch net.Conn directly.
type IO struct {
	onRead  func([]byte) []byte
	onError func(error)
	logger  *slog.Logger
	timeout time.Duration
	tls     *tls.Config

	writeMu sync.Mutex // write-serialization lock, spec.md §5
	conn    net.Conn

	closeMu sync.Mutex
	closed  bool
}

// NewIO constructs an IO bound to the given read/error callbacks. Nothing
// is dialed until Open is called.
func NewIO(onRead func([]byte) []byte, onError func(error), timeout time.Duration, tlsConfig *tls.Config, logger *slog.Logger) *IO {
	if logger == nil {
		logger = slog.Default()
	}
	return &IO{
		onRead:  onRead,
		onError: onError,
		logger:  logger,
		timeout: timeout,
		tls:     tlsConfig,
	}
}

// Open blocks until the TCP (optionally TLS) socket is connected, then
// starts the background reader thread. It fails with a connection error
// if the dial does not succeed.
func (io *IO) Open(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := &net.Dialer{Timeout: io.dialTimeout()}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return wrapConnectionError(err, "dial "+addr)
	}

	if io.tls != nil {
		tlsConn := tls.Client(conn, io.tls)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return wrapConnectionError(err, "tls handshake with "+addr)
		}
		conn = tlsConn
	}

	io.conn = conn
	io.logger.Debug("io: socket opened", "addr", addr)

	go io.readLoop()

	return nil
}

func (io *IO) dialTimeout() time.Duration {
	if io.timeout > 0 {
		return io.timeout
	}
	return 30 * time.Second
}

// WriteToSocket writes b atomically with respect to any other concurrent
// writer (spec.md §4.1 "a single frame is never interleaved with
// another").
func (io *IO) WriteToSocket(b []byte) error {
	io.writeMu.Lock()
	defer io.writeMu.Unlock()

	if io.conn == nil {
		return newConnectionError("io: socket not open")
	}
	if _, err := io.conn.Write(b); err != nil {
		return wrapConnectionError(err, "write to socket")
	}
	return nil
}

// Socket exposes the underlying net.Conn, e.g. for diagnostics.
func (io *IO) Socket() net.Conn {
	return io.conn
}

// Close idempotently tears down the socket, interrupting any in-flight
// read (spec.md §4.1 "close is idempotent and must interrupt any
// in-flight read").
func (io *IO) Close() error {
	io.closeMu.Lock()
	defer io.closeMu.Unlock()

	if io.closed {
		return nil
	}
	io.closed = true

	if io.conn != nil {
		return io.conn.Close()
	}
	return nil
}

func (io *IO) isClosed() bool {
	io.closeMu.Lock()
	defer io.closeMu.Unlock()
	return io.closed
}

// readLoop is the reader thread: it accumulates bytes and repeatedly
// hands the buffer to onRead, which returns whatever tail remains
// unconsumed (a partial frame, spec.md §4.1 edge case). A read timeout is
// not fatal; any other socket error latches via onError and the loop
// exits.
func (io *IO) readLoop() {
	var buffer []byte
	chunk := make([]byte, readChunkSize)

	for {
		if io.timeout > 0 {
			io.conn.SetReadDeadline(time.Now().Add(io.timeout))
		}

		n, err := io.conn.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			buffer = io.onRead(buffer)
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if io.isClosed() || strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			io.onError(errors.Wrap(err, "io: socket read failed"))
			return
		}
	}
}
