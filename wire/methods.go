package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// AMQP 0-9-1 class ids this engine speaks.
const (
	classConnection uint16 = 10
	classChannel    uint16 = 20
	classBasic      uint16 = 60
	classConfirm    uint16 = 85
)

// method ids, grouped by class.
const (
	methodConnectionStart     uint16 = 10
	methodConnectionStartOk   uint16 = 11
	methodConnectionTune      uint16 = 30
	methodConnectionTuneOk    uint16 = 31
	methodConnectionOpen      uint16 = 40
	methodConnectionOpenOk    uint16 = 41
	methodConnectionClose     uint16 = 50
	methodConnectionCloseOk   uint16 = 51
	methodConnectionBlocked   uint16 = 60
	methodConnectionUnblocked uint16 = 61

	methodChannelOpen    uint16 = 10
	methodChannelOpenOk  uint16 = 11
	methodChannelClose   uint16 = 40
	methodChannelCloseOk uint16 = 41

	methodConfirmSelect   uint16 = 10
	methodConfirmSelectOk uint16 = 11

	methodBasicConsume   uint16 = 20
	methodBasicConsumeOk uint16 = 21
	methodBasicCancel    uint16 = 30
	methodBasicCancelOk  uint16 = 31
	methodBasicPublish   uint16 = 40
	methodBasicReturn    uint16 = 50
	methodBasicDeliver   uint16 = 60
	methodBasicGet       uint16 = 70
	methodBasicGetOk     uint16 = 71
	methodBasicGetEmpty  uint16 = 72
	methodBasicAck       uint16 = 80
	methodBasicReject    uint16 = 90
	methodBasicNack      uint16 = 120
)

// ValidResponses returns the set of method names that satisfy an
// outstanding RPC request for the named outbound method, mirroring
// pamqp's per-method valid_responses used by amqpstorm's
// Channel.rpc_request (see original_source/amqpstorm/channel.py).
func ValidResponses(name string) []string {
	switch name {
	case "Connection.Close":
		return []string{"Connection.CloseOk"}
	case "Channel.Open":
		return []string{"Channel.OpenOk"}
	case "Channel.Close":
		return []string{"Channel.CloseOk"}
	case "Confirm.Select":
		return []string{"Confirm.SelectOk"}
	case "Basic.Get":
		return []string{"Basic.GetOk", "Basic.GetEmpty"}
	case "Basic.Consume":
		return []string{"Basic.ConsumeOk"}
	case "Basic.Cancel":
		return []string{"Basic.CancelOk"}
	case "Basic.Publish":
		return []string{"Basic.Ack", "Basic.Nack", "Basic.Return"}
	default:
		return nil
	}
}

func methodHeader(buf *bytes.Buffer, class, method uint16) {
	binary.Write(buf, binary.BigEndian, class)
	binary.Write(buf, binary.BigEndian, method)
}

// --- Connection class ---------------------------------------------------

// ConnectionStart is sent by the broker as the first handshake frame.
type ConnectionStart struct {
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties Table
	Mechanisms       string
	Locales          string
}

func (ConnectionStart) Name() string    { return "Connection.Start" }
func (ConnectionStart) frameType() byte { return FrameMethod }
func (f ConnectionStart) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionStart)
	buf.WriteByte(f.VersionMajor)
	buf.WriteByte(f.VersionMinor)
	writeTable(&buf, f.ServerProperties)
	writeLongString(&buf, f.Mechanisms)
	writeLongString(&buf, f.Locales)
	return buf.Bytes(), nil
}

// ConnectionStartOk answers Connection.Start with client identity and PLAIN
// credentials (spec.md §4.3, §6 "Authentication").
type ConnectionStartOk struct {
	ClientProperties Table
	Mechanism        string
	Response         string
	Locale           string
}

func (ConnectionStartOk) Name() string    { return "Connection.StartOk" }
func (ConnectionStartOk) frameType() byte { return FrameMethod }
func (f ConnectionStartOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionStartOk)
	if err := writeTable(&buf, f.ClientProperties); err != nil {
		return nil, err
	}
	writeShortString(&buf, f.Mechanism)
	writeLongString(&buf, f.Response)
	writeShortString(&buf, f.Locale)
	return buf.Bytes(), nil
}

// ConnectionTune negotiates frame-max/channel-max/heartbeat.
type ConnectionTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (ConnectionTune) Name() string    { return "Connection.Tune" }
func (ConnectionTune) frameType() byte { return FrameMethod }
func (f ConnectionTune) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionTune)
	binary.Write(&buf, binary.BigEndian, f.ChannelMax)
	binary.Write(&buf, binary.BigEndian, f.FrameMax)
	binary.Write(&buf, binary.BigEndian, f.Heartbeat)
	return buf.Bytes(), nil
}

// ConnectionTuneOk is the client's accepted tuning parameters.
type ConnectionTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (ConnectionTuneOk) Name() string    { return "Connection.TuneOk" }
func (ConnectionTuneOk) frameType() byte { return FrameMethod }
func (f ConnectionTuneOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionTuneOk)
	binary.Write(&buf, binary.BigEndian, f.ChannelMax)
	binary.Write(&buf, binary.BigEndian, f.FrameMax)
	binary.Write(&buf, binary.BigEndian, f.Heartbeat)
	return buf.Bytes(), nil
}

// ConnectionOpen selects the virtual host.
type ConnectionOpen struct {
	VirtualHost string
}

func (ConnectionOpen) Name() string    { return "Connection.Open" }
func (ConnectionOpen) frameType() byte { return FrameMethod }
func (f ConnectionOpen) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionOpen)
	writeShortString(&buf, f.VirtualHost)
	writeShortString(&buf, "") // reserved capabilities
	buf.WriteByte(0)           // reserved insist bit
	return buf.Bytes(), nil
}

// ConnectionOpenOk confirms the virtual host selection.
type ConnectionOpenOk struct{}

func (ConnectionOpenOk) Name() string                      { return "Connection.OpenOk" }
func (ConnectionOpenOk) frameType() byte                   { return FrameMethod }
func (ConnectionOpenOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionOpenOk)
	writeShortString(&buf, "")
	return buf.Bytes(), nil
}

// ConnectionClose is sent by either peer to start an orderly shutdown, or
// by the broker to report a fatal protocol error (spec.md §7 "Connection
// error").
type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (ConnectionClose) Name() string    { return "Connection.Close" }
func (ConnectionClose) frameType() byte { return FrameMethod }
func (f ConnectionClose) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionClose)
	binary.Write(&buf, binary.BigEndian, f.ReplyCode)
	writeShortString(&buf, f.ReplyText)
	binary.Write(&buf, binary.BigEndian, f.ClassID)
	binary.Write(&buf, binary.BigEndian, f.MethodID)
	return buf.Bytes(), nil
}

// ConnectionCloseOk acknowledges Connection.Close.
type ConnectionCloseOk struct{}

func (ConnectionCloseOk) Name() string    { return "Connection.CloseOk" }
func (ConnectionCloseOk) frameType() byte { return FrameMethod }
func (ConnectionCloseOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionCloseOk)
	return buf.Bytes(), nil
}

// ConnectionBlocked notifies the client that publishing is paused, e.g.
// under a broker resource alarm.
type ConnectionBlocked struct {
	Reason string
}

func (ConnectionBlocked) Name() string    { return "Connection.Blocked" }
func (ConnectionBlocked) frameType() byte { return FrameMethod }
func (f ConnectionBlocked) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionBlocked)
	writeShortString(&buf, f.Reason)
	return buf.Bytes(), nil
}

// ConnectionUnblocked lifts a prior ConnectionBlocked.
type ConnectionUnblocked struct{}

func (ConnectionUnblocked) Name() string    { return "Connection.Unblocked" }
func (ConnectionUnblocked) frameType() byte { return FrameMethod }
func (ConnectionUnblocked) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConnection, methodConnectionUnblocked)
	return buf.Bytes(), nil
}

// --- Channel class -------------------------------------------------------

// ChannelOpen begins a logical channel.
type ChannelOpen struct{}

func (ChannelOpen) Name() string    { return "Channel.Open" }
func (ChannelOpen) frameType() byte { return FrameMethod }
func (ChannelOpen) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classChannel, methodChannelOpen)
	writeShortString(&buf, "")
	return buf.Bytes(), nil
}

// ChannelOpenOk confirms a channel is ready for use.
type ChannelOpenOk struct{}

func (ChannelOpenOk) Name() string    { return "Channel.OpenOk" }
func (ChannelOpenOk) frameType() byte { return FrameMethod }
func (ChannelOpenOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classChannel, methodChannelOpenOk)
	writeLongString(&buf, "")
	return buf.Bytes(), nil
}

// ChannelClose mirrors Connection.Close at channel scope (spec.md §7
// "Channel error").
type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (ChannelClose) Name() string    { return "Channel.Close" }
func (ChannelClose) frameType() byte { return FrameMethod }
func (f ChannelClose) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classChannel, methodChannelClose)
	binary.Write(&buf, binary.BigEndian, f.ReplyCode)
	writeShortString(&buf, f.ReplyText)
	binary.Write(&buf, binary.BigEndian, f.ClassID)
	binary.Write(&buf, binary.BigEndian, f.MethodID)
	return buf.Bytes(), nil
}

// ChannelCloseOk acknowledges Channel.Close.
type ChannelCloseOk struct{}

func (ChannelCloseOk) Name() string    { return "Channel.CloseOk" }
func (ChannelCloseOk) frameType() byte { return FrameMethod }
func (ChannelCloseOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classChannel, methodChannelCloseOk)
	return buf.Bytes(), nil
}

// --- Confirm class ---------------------------------------------------------

// ConfirmSelect switches a channel into publisher-confirms mode (spec.md
// §4.4 "Publisher confirms").
type ConfirmSelect struct {
	NoWait bool
}

func (ConfirmSelect) Name() string    { return "Confirm.Select" }
func (ConfirmSelect) frameType() byte { return FrameMethod }
func (f ConfirmSelect) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConfirm, methodConfirmSelect)
	buf.WriteByte(boolBit(f.NoWait))
	return buf.Bytes(), nil
}

// ConfirmSelectOk acknowledges Confirm.Select.
type ConfirmSelectOk struct{}

func (ConfirmSelectOk) Name() string    { return "Confirm.SelectOk" }
func (ConfirmSelectOk) frameType() byte { return FrameMethod }
func (ConfirmSelectOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classConfirm, methodConfirmSelectOk)
	return buf.Bytes(), nil
}

// --- Basic class -----------------------------------------------------------

// BasicConsume registers a consumer subscription on a queue.
type BasicConsume struct {
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

func (BasicConsume) Name() string    { return "Basic.Consume" }
func (BasicConsume) frameType() byte { return FrameMethod }
func (f BasicConsume) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicConsume)
	binary.Write(&buf, binary.BigEndian, uint16(0)) // reserved ticket
	writeShortString(&buf, f.Queue)
	writeShortString(&buf, f.ConsumerTag)
	buf.WriteByte(packBits(f.NoLocal, f.NoAck, f.Exclusive, f.NoWait))
	if err := writeTable(&buf, f.Arguments); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BasicConsumeOk returns the broker-assigned (or echoed) consumer tag.
type BasicConsumeOk struct {
	ConsumerTag string
}

func (BasicConsumeOk) Name() string    { return "Basic.ConsumeOk" }
func (BasicConsumeOk) frameType() byte { return FrameMethod }
func (f BasicConsumeOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicConsumeOk)
	writeShortString(&buf, f.ConsumerTag)
	return buf.Bytes(), nil
}

// BasicCancel ends a consumer subscription.
type BasicCancel struct {
	ConsumerTag string
	NoWait      bool
}

func (BasicCancel) Name() string    { return "Basic.Cancel" }
func (BasicCancel) frameType() byte { return FrameMethod }
func (f BasicCancel) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicCancel)
	writeShortString(&buf, f.ConsumerTag)
	buf.WriteByte(packBits(f.NoWait))
	return buf.Bytes(), nil
}

// BasicCancelOk acknowledges Basic.Cancel, or is sent unsolicited by the
// broker alongside Basic.Cancel when a consumer is cancelled server-side.
type BasicCancelOk struct {
	ConsumerTag string
}

func (BasicCancelOk) Name() string    { return "Basic.CancelOk" }
func (BasicCancelOk) frameType() byte { return FrameMethod }
func (f BasicCancelOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicCancelOk)
	writeShortString(&buf, f.ConsumerTag)
	return buf.Bytes(), nil
}

// BasicPublish is the method half of a publish; it is always followed by
// one HeaderFrame and zero-or-more BodyFrame (spec.md §8 invariant 1).
type BasicPublish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func (BasicPublish) Name() string    { return "Basic.Publish" }
func (BasicPublish) frameType() byte { return FrameMethod }
func (f BasicPublish) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicPublish)
	binary.Write(&buf, binary.BigEndian, uint16(0)) // reserved ticket
	writeShortString(&buf, f.Exchange)
	writeShortString(&buf, f.RoutingKey)
	buf.WriteByte(packBits(f.Mandatory, f.Immediate))
	return buf.Bytes(), nil
}

// BasicReturn reports an undeliverable mandatory/immediate publish
// (spec.md §4.4 step 5, §7 "Message error").
type BasicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func (BasicReturn) Name() string    { return "Basic.Return" }
func (BasicReturn) frameType() byte { return FrameMethod }
func (f BasicReturn) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicReturn)
	binary.Write(&buf, binary.BigEndian, f.ReplyCode)
	writeShortString(&buf, f.ReplyText)
	writeShortString(&buf, f.Exchange)
	writeShortString(&buf, f.RoutingKey)
	return buf.Bytes(), nil
}

// BasicDeliver is the leading frame of a content triple delivered to a
// consumer (spec.md's "Content frame triple").
type BasicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

func (BasicDeliver) Name() string    { return "Basic.Deliver" }
func (BasicDeliver) frameType() byte { return FrameMethod }
func (f BasicDeliver) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicDeliver)
	writeShortString(&buf, f.ConsumerTag)
	binary.Write(&buf, binary.BigEndian, f.DeliveryTag)
	buf.WriteByte(packBits(f.Redelivered))
	writeShortString(&buf, f.Exchange)
	writeShortString(&buf, f.RoutingKey)
	return buf.Bytes(), nil
}

// BasicGet polls a queue for a single message outside of a consumer
// subscription (SPEC_FULL.md §6 supplemented feature).
type BasicGet struct {
	Queue string
	NoAck bool
}

func (BasicGet) Name() string    { return "Basic.Get" }
func (BasicGet) frameType() byte { return FrameMethod }
func (f BasicGet) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicGet)
	binary.Write(&buf, binary.BigEndian, uint16(0)) // reserved ticket
	writeShortString(&buf, f.Queue)
	buf.WriteByte(packBits(f.NoAck))
	return buf.Bytes(), nil
}

// BasicGetOk carries the leading frame of a Basic.Get content triple.
type BasicGetOk struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

func (BasicGetOk) Name() string    { return "Basic.GetOk" }
func (BasicGetOk) frameType() byte { return FrameMethod }
func (f BasicGetOk) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicGetOk)
	binary.Write(&buf, binary.BigEndian, f.DeliveryTag)
	buf.WriteByte(packBits(f.Redelivered))
	writeShortString(&buf, f.Exchange)
	writeShortString(&buf, f.RoutingKey)
	binary.Write(&buf, binary.BigEndian, f.MessageCount)
	return buf.Bytes(), nil
}

// BasicGetEmpty answers Basic.Get when the queue has no ready messages.
type BasicGetEmpty struct{}

func (BasicGetEmpty) Name() string    { return "Basic.GetEmpty" }
func (BasicGetEmpty) frameType() byte { return FrameMethod }
func (BasicGetEmpty) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicGetEmpty)
	writeShortString(&buf, "")
	return buf.Bytes(), nil
}

// BasicAck acknowledges one or more deliveries, or — under publisher
// confirms — one or more publishes (spec.md §4.6, §4.4).
type BasicAck struct {
	DeliveryTag uint64
	Multiple    bool
}

func (BasicAck) Name() string    { return "Basic.Ack" }
func (BasicAck) frameType() byte { return FrameMethod }
func (f BasicAck) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicAck)
	binary.Write(&buf, binary.BigEndian, f.DeliveryTag)
	buf.WriteByte(packBits(f.Multiple))
	return buf.Bytes(), nil
}

// BasicReject refuses a single delivery, optionally requeuing it.
type BasicReject struct {
	DeliveryTag uint64
	Requeue     bool
}

func (BasicReject) Name() string    { return "Basic.Reject" }
func (BasicReject) frameType() byte { return FrameMethod }
func (f BasicReject) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicReject)
	binary.Write(&buf, binary.BigEndian, f.DeliveryTag)
	buf.WriteByte(packBits(f.Requeue))
	return buf.Bytes(), nil
}

// BasicNack is the RabbitMQ extension allowing bulk, requeueable
// rejection; also used as a negative publisher-confirm.
type BasicNack struct {
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

func (BasicNack) Name() string    { return "Basic.Nack" }
func (BasicNack) frameType() byte { return FrameMethod }
func (f BasicNack) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	methodHeader(&buf, classBasic, methodBasicNack)
	binary.Write(&buf, binary.BigEndian, f.DeliveryTag)
	buf.WriteByte(packBits(f.Multiple, f.Requeue))
	return buf.Bytes(), nil
}

func packBits(bits ...bool) byte {
	var b byte
	for i, v := range bits {
		if v {
			b |= 1 << uint(i)
		}
	}
	return b
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func bitSet(b byte, i int) bool {
	return b&(1<<uint(i)) != 0
}

func unmarshalMethod(payload []byte) (Frame, error) {
	if len(payload) < 4 {
		return nil, ErrUnmarshalIncomplete
	}
	r := bytes.NewReader(payload)
	var class, method uint16
	binary.Read(r, binary.BigEndian, &class)
	binary.Read(r, binary.BigEndian, &method)

	switch {
	case class == classConnection && method == methodConnectionStart:
		var f ConnectionStart
		var err error
		if f.VersionMajor, err = r.ReadByte(); err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		if f.VersionMinor, err = r.ReadByte(); err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		if f.ServerProperties, err = readTable(r); err != nil {
			return nil, err
		}
		if f.Mechanisms, err = readLongString(r); err != nil {
			return nil, err
		}
		if f.Locales, err = readLongString(r); err != nil {
			return nil, err
		}
		return f, nil

	case class == classConnection && method == methodConnectionTune:
		var f ConnectionTune
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ChannelMax)
		binary.Read(r, binary.BigEndian, &f.FrameMax)
		binary.Read(r, binary.BigEndian, &f.Heartbeat)
		return f, nil

	case class == classConnection && method == methodConnectionOpenOk:
		if _, err := readShortString(r); err != nil {
			return nil, err
		}
		return ConnectionOpenOk{}, nil

	case class == classConnection && method == methodConnectionClose:
		var f ConnectionClose
		var err error
		if r.Len() < 2 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ReplyCode)
		if f.ReplyText, err = readShortString(r); err != nil {
			return nil, err
		}
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ClassID)
		binary.Read(r, binary.BigEndian, &f.MethodID)
		return f, nil

	case class == classConnection && method == methodConnectionCloseOk:
		return ConnectionCloseOk{}, nil

	case class == classConnection && method == methodConnectionBlocked:
		reason, err := readShortString(r)
		if err != nil {
			return nil, err
		}
		return ConnectionBlocked{Reason: reason}, nil

	case class == classConnection && method == methodConnectionUnblocked:
		return ConnectionUnblocked{}, nil

	case class == classChannel && method == methodChannelOpenOk:
		if _, err := readLongString(r); err != nil {
			return nil, err
		}
		return ChannelOpenOk{}, nil

	case class == classChannel && method == methodChannelClose:
		var f ChannelClose
		var err error
		if r.Len() < 2 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ReplyCode)
		if f.ReplyText, err = readShortString(r); err != nil {
			return nil, err
		}
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ClassID)
		binary.Read(r, binary.BigEndian, &f.MethodID)
		return f, nil

	case class == classChannel && method == methodChannelCloseOk:
		return ChannelCloseOk{}, nil

	case class == classConfirm && method == methodConfirmSelectOk:
		return ConfirmSelectOk{}, nil

	case class == classBasic && method == methodBasicConsumeOk:
		tag, err := readShortString(r)
		if err != nil {
			return nil, err
		}
		return BasicConsumeOk{ConsumerTag: tag}, nil

	case class == classBasic && method == methodBasicCancel:
		tag, err := readShortString(r)
		if err != nil {
			return nil, err
		}
		nowait, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		return BasicCancel{ConsumerTag: tag, NoWait: bitSet(nowait, 0)}, nil

	case class == classBasic && method == methodBasicCancelOk:
		tag, err := readShortString(r)
		if err != nil {
			return nil, err
		}
		return BasicCancelOk{ConsumerTag: tag}, nil

	case class == classBasic && method == methodBasicReturn:
		var f BasicReturn
		var err error
		if r.Len() < 2 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.ReplyCode)
		if f.ReplyText, err = readShortString(r); err != nil {
			return nil, err
		}
		if f.Exchange, err = readShortString(r); err != nil {
			return nil, err
		}
		if f.RoutingKey, err = readShortString(r); err != nil {
			return nil, err
		}
		return f, nil

	case class == classBasic && method == methodBasicDeliver:
		var f BasicDeliver
		var err error
		if f.ConsumerTag, err = readShortString(r); err != nil {
			return nil, err
		}
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.DeliveryTag)
		redelivered, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		f.Redelivered = bitSet(redelivered, 0)
		if f.Exchange, err = readShortString(r); err != nil {
			return nil, err
		}
		if f.RoutingKey, err = readShortString(r); err != nil {
			return nil, err
		}
		return f, nil

	case class == classBasic && method == methodBasicGetOk:
		var f BasicGetOk
		var err error
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.DeliveryTag)
		redelivered, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		f.Redelivered = bitSet(redelivered, 0)
		if f.Exchange, err = readShortString(r); err != nil {
			return nil, err
		}
		if f.RoutingKey, err = readShortString(r); err != nil {
			return nil, err
		}
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.MessageCount)
		return f, nil

	case class == classBasic && method == methodBasicGetEmpty:
		if _, err := readShortString(r); err != nil {
			return nil, err
		}
		return BasicGetEmpty{}, nil

	case class == classBasic && method == methodBasicAck:
		var f BasicAck
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.DeliveryTag)
		multiple, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		f.Multiple = bitSet(multiple, 0)
		return f, nil

	case class == classBasic && method == methodBasicNack:
		var f BasicNack
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &f.DeliveryTag)
		bits, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		f.Multiple = bitSet(bits, 0)
		f.Requeue = bitSet(bits, 1)
		return f, nil

	default:
		return nil, errors.Wrapf(ErrFrameCorrupt, "unknown method %s", formatClassMethod(class, method))
	}
}
