package amqpengine

import (
	"time"
	"unicode/utf8"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dihedron/amqpengine/wire"
)

// Properties mirrors spec.md §3's Message properties. Headers uses
// amqp091-go's exported Table type (SPEC_FULL.md §3 domain stack) so
// messages built by this engine interoperate with façades written
// against amqp091-go, even though encoding on the wire goes through this
// module's own wire.Table (see toWireProperties/fromWireProperties).
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         amqp.Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

func toWireProperties(p Properties) wire.Properties {
	var headers wire.Table
	if p.Headers != nil {
		headers = make(wire.Table, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
	}
	return wire.Properties{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		Headers:         headers,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationID:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageID:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserID:          p.UserID,
		AppID:           p.AppID,
		ClusterID:       p.ClusterID,
	}
}

func fromWireProperties(w wire.Properties) Properties {
	var headers amqp.Table
	if w.Headers != nil {
		headers = make(amqp.Table, len(w.Headers))
		for k, v := range w.Headers {
			headers[k] = v
		}
	}
	return Properties{
		ContentType:     w.ContentType,
		ContentEncoding: w.ContentEncoding,
		Headers:         headers,
		DeliveryMode:    w.DeliveryMode,
		Priority:        w.Priority,
		CorrelationID:   w.CorrelationID,
		ReplyTo:         w.ReplyTo,
		Expiration:      w.Expiration,
		MessageID:       w.MessageID,
		Timestamp:       w.Timestamp,
		Type:            w.Type,
		UserID:          w.UserID,
		AppID:           w.AppID,
		ClusterID:       w.ClusterID,
	}
}

// DeliveryInfo is the "method" half of a broker-originated Message:
// delivery metadata spec.md §3 lists (delivery-tag, consumer-tag,
// exchange, routing-key, redelivered). User-constructed outbound
// messages carry no DeliveryInfo (spec.md §3 invariant).
type DeliveryInfo struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

// Message is the container spec.md §3/§4.6 describes: body plus optional
// delivery metadata plus properties, with ack/nack/reject/publish
// convenience bound to the owning Channel (original_source:
// amqpstorm/message.py).
type Message struct {
	Channel    *Channel
	Body       []byte
	Method     *DeliveryInfo
	Properties Properties
	AutoDecode bool
}

// NewOutboundMessage builds a user-originated message for publishing
// (amqpstorm's Message.create, SPEC_FULL.md §6).
func NewOutboundMessage(ch *Channel, body []byte, props Properties) *Message {
	return &Message{Channel: ch, Body: body, Properties: props, AutoDecode: false}
}

// Ack acknowledges the delivery. Only valid on inbound (broker-originated)
// messages.
func (m *Message) Ack() error {
	if m.Method == nil {
		return newMessageError("Message.Ack only available on incoming messages")
	}
	return m.Channel.basicAck(m.Method.DeliveryTag, false)
}

// Nack negatively acknowledges the delivery, optionally requeuing it.
func (m *Message) Nack(requeue bool) error {
	if m.Method == nil {
		return newMessageError("Message.Nack only available on incoming messages")
	}
	return m.Channel.basicNack(m.Method.DeliveryTag, false, requeue)
}

// Reject refuses the delivery, optionally requeuing it.
func (m *Message) Reject(requeue bool) error {
	if m.Method == nil {
		return newMessageError("Message.Reject only available on incoming messages")
	}
	return m.Channel.basicReject(m.Method.DeliveryTag, requeue)
}

// Publish re-emits this message's body and properties under a new
// routing key / exchange.
func (m *Message) Publish(routingKey, exchange string, mandatory, immediate bool) error {
	return m.Channel.Publish(exchange, routingKey, m.Body, m.Properties, mandatory, immediate)
}

// ToDict is a snapshot view matching amqpstorm's Message.to_dict.
func (m *Message) ToDict() map[string]interface{} {
	return map[string]interface{}{
		"body":       m.Body,
		"method":     m.Method,
		"properties": m.Properties,
		"channel":    m.Channel,
	}
}

// ToTuple is a snapshot view matching amqpstorm's Message.to_tuple.
func (m *Message) ToTuple() (body []byte, channel *Channel, method *DeliveryInfo, properties Properties) {
	return m.Body, m.Channel, m.Method, m.Properties
}

// DecodedBody returns the body decoded as UTF-8 text when AutoDecode is
// set and the bytes are valid UTF-8; otherwise it returns the body
// unchanged as a string of its raw bytes (spec.md §4.6: "decode failures
// return bytes unchanged").
func (m *Message) DecodedBody() string {
	if !m.AutoDecode || !utf8.Valid(m.Body) {
		return string(m.Body)
	}
	return string(m.Body)
}
