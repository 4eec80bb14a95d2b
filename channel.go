package amqpengine

import (
	"log/slog"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/dihedron/amqpengine/rpc"
	"github.com/dihedron/amqpengine/wire"
)

// Channel is the per-channel protocol engine (spec.md §4.4): it serializes
// synchronous methods via the RPC Registry, reassembles content messages,
// and dispatches to a user consumer callback.
type Channel struct {
	id         uint16
	conn       *Connection
	rpcTimeout time.Duration
	rpc        *rpc.Registry
	logger     *slog.Logger

	// reqMu is the per-channel request lock held across
	// register+write+get (spec.md §5).
	reqMu sync.Mutex

	stateMu sync.Mutex
	state   State

	// bufMu is the content-buffer lock (spec.md §5).
	bufMu   sync.Mutex
	inbound []wire.Frame

	consumerMu       sync.Mutex
	consumerTags     map[string]struct{}
	consumerCallback func(*Message)

	confirmMu  sync.Mutex
	confirming bool

	errMu    sync.Mutex
	firstErr error
}

func newChannel(id uint16, conn *Connection, rpcTimeout time.Duration) *Channel {
	return &Channel{
		id:           id,
		conn:         conn,
		rpcTimeout:   rpcTimeout,
		rpc:          rpc.New(),
		logger:       conn.logger,
		consumerTags: make(map[string]struct{}),
	}
}

// ID returns the channel's stable identifier (spec.md §3 invariant).
func (ch *Channel) ID() uint16 { return ch.id }

// State returns the channel's current lifecycle state.
func (ch *Channel) State() State {
	ch.stateMu.Lock()
	defer ch.stateMu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s State) {
	ch.stateMu.Lock()
	ch.state = s
	ch.stateMu.Unlock()
}

// open performs the Channel.Open/Channel.OpenOk exchange (spec.md §4.4).
func (ch *Channel) open() error {
	ch.setState(StateOpening)
	if _, err := ch.rpcRequest(wire.ChannelOpen{}); err != nil {
		ch.setState(StateClosed)
		return err
	}
	ch.setState(StateOpen)
	return nil
}

// Close cancels active consumers, performs the Channel.Close handshake,
// and clears the inbound buffer. If the channel or connection is already
// not open, it only clears the consumer tags and marks the channel
// Closed. Idempotent (spec.md §8 invariant 5).
func (ch *Channel) Close(replyCode uint16, replyText string) error {
	if ch.conn.State() != StateOpen || ch.State() != StateOpen {
		ch.clearConsumerTags()
		ch.setState(StateClosed)
		return nil
	}

	ch.setState(StateClosing)
	ch.StopConsuming()

	_, err := ch.rpcRequest(wire.ChannelClose{ReplyCode: replyCode, ReplyText: replyText})

	ch.clearInbound()
	ch.setState(StateClosed)
	return err
}

// ConfirmDeliveries switches the channel into publisher-confirms mode
// (spec.md §4.4).
func (ch *Channel) ConfirmDeliveries() error {
	if _, err := ch.rpcRequest(wire.ConfirmSelect{}); err != nil {
		return err
	}
	ch.confirmMu.Lock()
	ch.confirming = true
	ch.confirmMu.Unlock()
	return nil
}

func (ch *Channel) isConfirming() bool {
	ch.confirmMu.Lock()
	defer ch.confirmMu.Unlock()
	return ch.confirming
}

// rpcRequest performs a synchronous method call: it acquires the
// per-channel request lock, registers the expected response set, writes
// the outbound frame(s), and awaits the response (spec.md §4.4
// "rpc_request"). At most one such call is in flight per channel at a
// time.
func (ch *Channel) rpcRequest(frames ...wire.Frame) (wire.Frame, error) {
	ch.reqMu.Lock()
	defer ch.reqMu.Unlock()

	name := frames[0].Name()
	token := ch.rpc.RegisterRequest(wire.ValidResponses(name))

	if err := ch.writeFrames(frames); err != nil {
		return nil, err
	}

	frame, err := ch.rpc.GetRequest(token, ch.rpcTimeout)
	if err != nil {
		chErr := newChannelError("rpc request %s timed out waiting for response", name)
		ch.latchError(chErr)
		ch.forceClose(chErr)
		return nil, chErr
	}
	return frame, nil
}

// writeFrame checks for latched errors, then marshals and forwards a
// single frame to the connection's IO under this channel's id.
func (ch *Channel) writeFrame(f wire.Frame) error {
	return ch.writeFrames([]wire.Frame{f})
}

// writeFrames is writeFrame's multi-frame counterpart: all frames are
// written as one atomic socket write (spec.md §4.4 "Multi-frame writes …
// must be emitted consecutively on the wire").
func (ch *Channel) writeFrames(frames []wire.Frame) error {
	if err := ch.CheckForErrors(); err != nil {
		return err
	}
	return ch.conn.writeFrames(ch.id, frames)
}

// CheckForErrors implements spec.md §4.4 "Error checks": it consults the
// connection for errors, transitions this channel to Closed if the
// connection is closed, and finally raises any latched channel error.
func (ch *Channel) CheckForErrors() error {
	if err := ch.conn.CheckForErrors(); err != nil {
		ch.latchError(err)
	}

	if ch.conn.IsClosed() {
		ch.setState(StateClosed)
		ch.latchErrorIfEmpty(newConnectionError("connection was closed"))
	}
	if ch.State() == StateClosed {
		ch.latchErrorIfEmpty(newChannelError("channel was closed"))
	}

	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	err := ch.firstErr
	ch.firstErr = nil
	return err
}

func (ch *Channel) latchError(err error) {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	ch.firstErr = err
}

func (ch *Channel) latchErrorIfEmpty(err error) {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	if ch.firstErr == nil {
		ch.firstErr = err
	}
}

// forceClose is used both when an RPC times out and when the owning
// Connection fails: it latches err, clears consumer/inbound state, and
// transitions to Closed without involving the broker.
func (ch *Channel) forceClose(err error) {
	ch.latchErrorIfEmpty(err)
	ch.clearConsumerTags()
	ch.clearInbound()
	ch.setState(StateClosed)
}

// onFrame handles a frame routed to this channel by Connection (spec.md
// §4.4 "Inbound frame handling").
func (ch *Channel) onFrame(f wire.Frame) {
	if ch.rpc.OnFrame(f) {
		return
	}

	switch frame := f.(type) {
	case wire.BasicDeliver, wire.HeaderFrame, wire.BodyFrame:
		ch.bufMu.Lock()
		ch.inbound = append(ch.inbound, f)
		ch.bufMu.Unlock()

	case wire.BasicConsumeOk:
		ch.addConsumerTag(frame.ConsumerTag)

	case wire.BasicCancel:
		ch.logger.Warn("channel: received Basic.Cancel", "consumer_tag", frame.ConsumerTag)
		ch.removeConsumerTag(frame.ConsumerTag)

	case wire.BasicCancelOk:
		ch.removeConsumerTag(frame.ConsumerTag)

	case wire.BasicReturn:
		ch.latchErrorIfEmpty(newMessageError(
			"message not delivered: %s (%d) to queue from exchange %q with routing key %q",
			frame.ReplyText, frame.ReplyCode, frame.Exchange, frame.RoutingKey))

	case wire.ChannelClose:
		ch.closeFromBroker(frame)

	default:
		ch.logger.Error("channel: unhandled frame", "name", f.Name())
	}
}

func (ch *Channel) closeFromBroker(frame wire.ChannelClose) {
	ch.clearConsumerTags()
	if frame.ReplyCode != 200 {
		ch.latchErrorIfEmpty(newChannelError(
			"channel %d closed by broker: %s (code %d)", ch.id, frame.ReplyText, frame.ReplyCode))
	}
	ch.clearInbound()
	ch.setState(StateClosed)
}

func (ch *Channel) addConsumerTag(tag string) {
	ch.consumerMu.Lock()
	ch.consumerTags[tag] = struct{}{}
	ch.consumerMu.Unlock()
}

func (ch *Channel) removeConsumerTag(tags ...string) {
	ch.consumerMu.Lock()
	defer ch.consumerMu.Unlock()
	if len(tags) == 0 {
		ch.consumerTags = make(map[string]struct{})
		return
	}
	for _, t := range tags {
		delete(ch.consumerTags, t)
	}
}

func (ch *Channel) clearConsumerTags() {
	ch.removeConsumerTag()
}

func (ch *Channel) hasConsumerTags() bool {
	ch.consumerMu.Lock()
	defer ch.consumerMu.Unlock()
	return len(ch.consumerTags) > 0
}

func (ch *Channel) consumerTagList() []string {
	ch.consumerMu.Lock()
	defer ch.consumerMu.Unlock()
	tags := make([]string, 0, len(ch.consumerTags))
	for t := range ch.consumerTags {
		tags = append(tags, t)
	}
	return tags
}

func (ch *Channel) clearInbound() {
	ch.bufMu.Lock()
	ch.inbound = nil
	ch.bufMu.Unlock()
}

// SetConsumerCallback registers the function invoked for each assembled
// inbound message during StartConsuming/ProcessDataEvents.
func (ch *Channel) SetConsumerCallback(fn func(*Message)) {
	ch.consumerMu.Lock()
	ch.consumerCallback = fn
	ch.consumerMu.Unlock()
}

// Consume registers a new consumer subscription and returns the
// broker-assigned consumer tag.
func (ch *Channel) Consume(queue, consumerTag string, noAck, exclusive bool, args wire.Table) (string, error) {
	if consumerTag == "" {
		consumerTag = "ctag-" + uuid.NewV4().String()
	}
	resp, err := ch.rpcRequest(wire.BasicConsume{
		Queue:       queue,
		ConsumerTag: consumerTag,
		NoAck:       noAck,
		Exclusive:   exclusive,
		Arguments:   args,
	})
	if err != nil {
		return "", err
	}
	ok, ok2 := resp.(wire.BasicConsumeOk)
	if !ok2 {
		return "", newChannelError("unexpected response to Basic.Consume: %s", resp.Name())
	}
	ch.addConsumerTag(ok.ConsumerTag)
	return ok.ConsumerTag, nil
}

// StartConsuming blocks, repeatedly draining assembled messages to the
// consumer callback, while at least one consumer tag is active and the
// channel remains open (spec.md §4.4).
func (ch *Channel) StartConsuming() error {
	for ch.hasConsumerTags() && ch.State() != StateClosed {
		if err := ch.ProcessDataEvents(); err != nil {
			return err
		}
	}
	return nil
}

// StopConsuming cancels every active consumer tag and clears the set.
func (ch *Channel) StopConsuming() {
	for _, tag := range ch.consumerTagList() {
		if _, err := ch.rpcRequest(wire.BasicCancel{ConsumerTag: tag}); err != nil {
			ch.logger.Warn("channel: error cancelling consumer", "consumer_tag", tag, "error", err)
		}
	}
	ch.clearConsumerTags()
}

// ProcessDataEvents drains all currently assembled inbound messages to
// the consumer callback, then idle-sleeps briefly (spec.md §4.4).
func (ch *Channel) ProcessDataEvents() error {
	ch.consumerMu.Lock()
	cb := ch.consumerCallback
	ch.consumerMu.Unlock()
	if cb == nil {
		return newChannelError("no consumer callback defined")
	}

	out, errc := ch.BuildInboundMessages(true)
	for msg := range out {
		cb(msg)
	}
	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	default:
	}

	time.Sleep(idleWait)
	return nil
}

// BuildInboundMessages produces a lazy sequence of assembled Message
// values on the returned channel (spec.md §4.4). If breakOnEmpty is set
// the sequence ends as soon as no message can currently be assembled;
// otherwise it idle-sleeps and keeps polling indefinitely. A fatal error
// is delivered on the error channel and the message channel is closed.
func (ch *Channel) BuildInboundMessages(breakOnEmpty bool) (<-chan *Message, <-chan error) {
	out := make(chan *Message)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		if err := ch.CheckForErrors(); err != nil {
			errc <- err
			return
		}

		for ch.State() != StateClosed {
			msg, err := ch.buildMessage()
			if err != nil {
				errc <- err
				return
			}
			if msg == nil {
				if breakOnEmpty {
					return
				}
				if err := ch.CheckForErrors(); err != nil {
					errc <- err
					return
				}
				time.Sleep(idleWait)
				continue
			}
			out <- msg
		}
	}()

	return out, errc
}

// buildMessage attempts to assemble one complete Message from the inbound
// buffer (spec.md §4.4 "Content reassembly"). It returns (nil, nil) when
// no message can currently be produced.
func (ch *Channel) buildMessage() (*Message, error) {
	ch.bufMu.Lock()
	if len(ch.inbound) < 2 {
		ch.bufMu.Unlock()
		return nil, nil
	}

	deliver, ok := ch.inbound[0].(wire.BasicDeliver)
	if !ok {
		ch.logger.Warn("channel: out-of-order frame, expected Basic.Deliver", "got", ch.inbound[0].Name())
		ch.inbound = ch.inbound[1:]
		ch.bufMu.Unlock()
		return nil, nil
	}

	header, ok := ch.inbound[1].(wire.HeaderFrame)
	if !ok {
		ch.logger.Warn("channel: out-of-order frame, expected ContentHeader", "got", ch.inbound[1].Name())
		ch.inbound = ch.inbound[1:]
		ch.bufMu.Unlock()
		return nil, nil
	}

	ch.inbound = ch.inbound[2:]
	ch.bufMu.Unlock()

	body, err := ch.buildMessageBody(header.BodySize)
	if err != nil {
		return nil, err
	}

	return &Message{
		Channel: ch,
		Body:    body,
		Method: &DeliveryInfo{
			ConsumerTag: deliver.ConsumerTag,
			DeliveryTag: deliver.DeliveryTag,
			Redelivered: deliver.Redelivered,
			Exchange:    deliver.Exchange,
			RoutingKey:  deliver.RoutingKey,
		},
		Properties: fromWireProperties(header.Properties),
		AutoDecode: true,
	}, nil
}

// buildMessageBody reads successive ContentBody frames until the
// accumulated length meets bodySize, idle-sleeping and retrying whenever
// the buffer is momentarily empty (spec.md §4.4, §9: never short-circuit
// on an empty body piece).
func (ch *Channel) buildMessageBody(bodySize uint64) ([]byte, error) {
	body := make([]byte, 0, bodySize)
	for uint64(len(body)) < bodySize {
		ch.bufMu.Lock()
		if len(ch.inbound) == 0 {
			ch.bufMu.Unlock()
			if err := ch.CheckForErrors(); err != nil {
				return nil, err
			}
			time.Sleep(idleWait)
			continue
		}
		piece, ok := ch.inbound[0].(wire.BodyFrame)
		if !ok {
			ch.bufMu.Unlock()
			break
		}
		ch.inbound = ch.inbound[1:]
		ch.bufMu.Unlock()
		body = append(body, piece.Payload...)
	}
	return body, nil
}

// Get polls queue for a single message outside of a consumer subscription
// (SPEC_FULL.md §6). It returns (nil, nil) when the queue is empty.
func (ch *Channel) Get(queue string, noAck bool) (*Message, error) {
	resp, err := ch.rpcRequest(wire.BasicGet{Queue: queue, NoAck: noAck})
	if err != nil {
		return nil, err
	}

	switch r := resp.(type) {
	case wire.BasicGetEmpty:
		return nil, nil
	case wire.BasicGetOk:
		header, body, err := ch.collectContent()
		if err != nil {
			return nil, err
		}
		return &Message{
			Channel: ch,
			Body:    body,
			Method: &DeliveryInfo{
				DeliveryTag: r.DeliveryTag,
				Redelivered: r.Redelivered,
				Exchange:    r.Exchange,
				RoutingKey:  r.RoutingKey,
			},
			Properties: fromWireProperties(header.Properties),
			AutoDecode: true,
		}, nil
	default:
		return nil, newChannelError("unexpected response to Basic.Get: %s", resp.Name())
	}
}

// collectContent waits for the ContentHeader that follows a Basic.GetOk
// and then reads its body, reusing the same body-assembly rule as normal
// delivery reassembly.
func (ch *Channel) collectContent() (wire.HeaderFrame, []byte, error) {
	for {
		ch.bufMu.Lock()
		if len(ch.inbound) > 0 {
			if h, ok := ch.inbound[0].(wire.HeaderFrame); ok {
				ch.inbound = ch.inbound[1:]
				ch.bufMu.Unlock()
				body, err := ch.buildMessageBody(h.BodySize)
				return h, body, err
			}
		}
		ch.bufMu.Unlock()
		if err := ch.CheckForErrors(); err != nil {
			return wire.HeaderFrame{}, nil, err
		}
		time.Sleep(idleWait)
	}
}

// Publish emits Basic.Publish followed by its content-header and
// content-body frames (spec.md §8 invariant 1 for the body-splitting
// rule). When publisher confirms are enabled it blocks for the matching
// Basic.Ack/Basic.Nack/Basic.Return (SPEC_FULL.md §7, making explicit
// what spec.md §9 notes the source left implicit).
func (ch *Channel) Publish(exchange, routingKey string, body []byte, props Properties, mandatory, immediate bool) error {
	frames := buildPublishFrames(exchange, routingKey, body, props, mandatory, immediate)

	if !ch.isConfirming() {
		return ch.writeFrames(frames)
	}

	ch.reqMu.Lock()
	defer ch.reqMu.Unlock()

	token := ch.rpc.RegisterRequest(wire.ValidResponses("Basic.Publish"))
	if err := ch.writeFrames(frames); err != nil {
		return err
	}
	resp, err := ch.rpc.GetRequest(token, ch.rpcTimeout)
	if err != nil {
		chErr := newChannelError("publisher confirm timed out")
		ch.latchError(chErr)
		ch.forceClose(chErr)
		return chErr
	}

	switch r := resp.(type) {
	case wire.BasicAck:
		return nil
	case wire.BasicNack:
		err := newMessageError("publish negatively acknowledged (delivery tag %d)", r.DeliveryTag)
		ch.latchErrorIfEmpty(err)
		return err
	case wire.BasicReturn:
		err := newMessageError(
			"message not delivered: %s (%d) to queue from exchange %q with routing key %q",
			r.ReplyText, r.ReplyCode, r.Exchange, r.RoutingKey)
		ch.latchErrorIfEmpty(err)
		return err
	default:
		return newChannelError("unexpected response to Basic.Publish: %s", resp.Name())
	}
}

// buildPublishFrames builds the method + content-header + content-body*
// frame sequence for one publish (spec.md §8 invariant 1: exactly
// ceil(L/(FRAME_MAX-overhead)) body frames).
func buildPublishFrames(exchange, routingKey string, body []byte, props Properties, mandatory, immediate bool) []wire.Frame {
	frames := []wire.Frame{
		wire.BasicPublish{Exchange: exchange, RoutingKey: routingKey, Mandatory: mandatory, Immediate: immediate},
		wire.HeaderFrame{ClassID: 60, BodySize: uint64(len(body)), Properties: toWireProperties(props)},
	}

	const overhead = 8 // frame header (7 bytes) + frame-end marker (1 byte)
	chunkSize := FrameMax - overhead

	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		frames = append(frames, wire.BodyFrame{Payload: body[offset:end]})
	}

	return frames
}

func (ch *Channel) basicAck(deliveryTag uint64, multiple bool) error {
	return ch.writeFrame(wire.BasicAck{DeliveryTag: deliveryTag, Multiple: multiple})
}

func (ch *Channel) basicNack(deliveryTag uint64, multiple, requeue bool) error {
	return ch.writeFrame(wire.BasicNack{DeliveryTag: deliveryTag, Multiple: multiple, Requeue: requeue})
}

func (ch *Channel) basicReject(deliveryTag uint64, requeue bool) error {
	return ch.writeFrame(wire.BasicReject{DeliveryTag: deliveryTag, Requeue: requeue})
}

// WithChannel opens a Channel on conn, passes it to fn, and guarantees
// Close() on every exit path including a panic (SPEC_FULL.md §6).
func WithChannel(conn *Connection, rpcTimeout time.Duration, fn func(*Channel) error) error {
	ch, err := conn.Channel(rpcTimeout)
	if err != nil {
		return err
	}
	defer ch.Close(0, "")
	return fn(ch)
}
