package amqpengine

import "github.com/pkg/errors"

// Error kinds per spec.md §7. ConnectionError, ChannelError and
// MessageError each wrap an inner cause and implement Unwrap so callers
// can still errors.Is/errors.As through to it; InvalidArgumentError
// carries only a message.

// InvalidArgumentError is raised synchronously on bad user input. It
// bypasses the first-error latch entirely (spec.md §7 "Propagation
// policy").
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return e.Message }

func newInvalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Message: errors.Errorf(format, args...).Error()}
}

// ConnectionError is latched on the connection: a socket failure, a
// framing error, a broker-initiated Connection.Close with a non-200 reply
// code, or a handshake failure.
type ConnectionError struct {
	cause error
}

func (e *ConnectionError) Error() string { return "connection error: " + e.cause.Error() }
func (e *ConnectionError) Unwrap() error { return e.cause }

func newConnectionError(format string, args ...interface{}) error {
	return &ConnectionError{cause: errors.Errorf(format, args...)}
}

func wrapConnectionError(err error, msg string) error {
	return &ConnectionError{cause: errors.Wrap(err, msg)}
}

// ChannelError is latched on a single channel: a broker-initiated
// Channel.Close with a non-200 reply code, an RPC timeout, or use of a
// closed channel. The connection remains usable.
type ChannelError struct {
	cause error
}

func (e *ChannelError) Error() string { return "channel error: " + e.cause.Error() }
func (e *ChannelError) Unwrap() error { return e.cause }

func newChannelError(format string, args ...interface{}) error {
	return &ChannelError{cause: errors.Errorf(format, args...)}
}

// MessageError is latched on a channel without closing it: a Basic.Return,
// a negative publisher confirm, or ack/nack/reject called on a
// user-constructed (non-inbound) message.
type MessageError struct {
	cause error
}

func (e *MessageError) Error() string { return "message error: " + e.cause.Error() }
func (e *MessageError) Unwrap() error { return e.cause }

func newMessageError(format string, args ...interface{}) error {
	return &MessageError{cause: errors.Errorf(format, args...)}
}
