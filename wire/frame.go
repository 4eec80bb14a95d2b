package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Frame is any of the four AMQP frame kinds this codec understands.
// Implementations carry enough information for Connection/Channel to
// route and, for method frames, correlate them with pending RPC requests.
type Frame interface {
	// Name is the protocol name used throughout spec.md, e.g.
	// "Connection.Start", "ContentHeader", "Heartbeat".
	Name() string
	frameType() byte
	marshalPayload() ([]byte, error)
}

// HeartbeatFrame is the empty frame exchanged on channel 0 to detect dead
// peers.
type HeartbeatFrame struct{}

func (HeartbeatFrame) Name() string              { return "Heartbeat" }
func (HeartbeatFrame) frameType() byte           { return FrameHeartbeat }
func (HeartbeatFrame) marshalPayload() ([]byte, error) { return nil, nil }

// HeaderFrame is the AMQP content-header frame: class id, body size and a
// sparse set of Basic properties (spec.md §3's "properties").
type HeaderFrame struct {
	ClassID    uint16
	BodySize   uint64
	Properties Properties
}

func (HeaderFrame) Name() string    { return "ContentHeader" }
func (HeaderFrame) frameType() byte { return FrameHeader }

// BodyFrame carries one slice of a content message's body.
type BodyFrame struct {
	Payload []byte
}

func (BodyFrame) Name() string    { return "ContentBody" }
func (BodyFrame) frameType() byte { return FrameBody }

func (f BodyFrame) marshalPayload() ([]byte, error) { return f.Payload, nil }

// Marshal renders a single Frame onto the wire: type octet, channel id,
// payload length, payload, and the 0xCE end marker (AMQP 0-9-1 §2.3.5).
// This is the contract spec.md §2 calls "marshal(frame, channel_id) ->
// bytes".
func Marshal(f Frame, channelID uint16) ([]byte, error) {
	payload, err := f.marshalPayload()
	if err != nil {
		return nil, errors.Wrapf(err, "wire: marshal %s", f.Name())
	}
	var buf bytes.Buffer
	buf.WriteByte(f.frameType())
	binary.Write(&buf, binary.BigEndian, channelID)
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	buf.WriteByte(FrameEnd)
	return buf.Bytes(), nil
}

// Unmarshal decodes the next complete frame from data. It returns the
// number of bytes consumed, the channel id, and the decoded Frame. When
// data does not yet contain a complete frame it returns
// ErrUnmarshalIncomplete and the caller must preserve the whole buffer
// for the next read (spec.md §4.1 edge case).
func Unmarshal(data []byte) (n int, channelID uint16, frame Frame, err error) {
	if len(data) < 7 {
		return 0, 0, nil, ErrUnmarshalIncomplete
	}
	frameType := data[0]
	channelID = binary.BigEndian.Uint16(data[1:3])
	size := binary.BigEndian.Uint32(data[3:7])
	total := 7 + int(size) + 1
	if len(data) < total {
		return 0, 0, nil, ErrUnmarshalIncomplete
	}
	if data[total-1] != FrameEnd {
		return 0, 0, nil, errors.Wrap(ErrFrameCorrupt, "missing frame end marker")
	}
	payload := data[7 : 7+size]

	switch frameType {
	case FrameMethod:
		m, err := unmarshalMethod(payload)
		if errors.Cause(err) == ErrUnmarshalIncomplete {
			err = errors.Wrap(ErrFrameCorrupt, "truncated method payload")
		}
		if err != nil {
			return 0, 0, nil, err
		}
		frame = m
	case FrameHeader:
		h, err := unmarshalHeader(payload)
		if errors.Cause(err) == ErrUnmarshalIncomplete {
			err = errors.Wrap(ErrFrameCorrupt, "truncated content-header payload")
		}
		if err != nil {
			return 0, 0, nil, err
		}
		frame = h
	case FrameBody:
		frame = BodyFrame{Payload: append([]byte(nil), payload...)}
	case FrameHeartbeat:
		frame = HeartbeatFrame{}
	default:
		return 0, 0, nil, errors.Wrapf(ErrFrameCorrupt, "unknown frame type %d", frameType)
	}
	return total, channelID, frame, nil
}
