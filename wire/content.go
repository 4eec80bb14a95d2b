package wire

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// Properties mirrors the Basic class property list spec.md §3 names for
// Message: content-type, content-encoding, headers, delivery-mode,
// priority, correlation-id, reply-to, expiration, message-id, timestamp,
// type, user-id, app-id, cluster-id. Each field is a pointer-free zero
// value when absent; the property-flag bits are derived at marshal time
// from zero-ness so callers only set what they mean to send.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
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

// property flag bits, high to low (AMQP 0-9-1 Basic class property flags).
const (
	flagContentType = 1 << 15
	flagContentEnc  = 1 << 14
	flagHeaders     = 1 << 13
	flagDeliveryMod = 1 << 12
	flagPriority    = 1 << 11
	flagCorrelation = 1 << 10
	flagReplyTo     = 1 << 9
	flagExpiration  = 1 << 8
	flagMessageID   = 1 << 7
	flagTimestamp   = 1 << 6
	flagType        = 1 << 5
	flagUserID      = 1 << 4
	flagAppID       = 1 << 3
	flagClusterID   = 1 << 2
)

func (p Properties) marshal() ([]byte, error) {
	var flags uint16
	var body bytes.Buffer

	if p.ContentType != "" {
		flags |= flagContentType
	}
	if p.ContentEncoding != "" {
		flags |= flagContentEnc
	}
	if p.Headers != nil {
		flags |= flagHeaders
	}
	if p.DeliveryMode != 0 {
		flags |= flagDeliveryMod
	}
	if p.Priority != 0 {
		flags |= flagPriority
	}
	if p.CorrelationID != "" {
		flags |= flagCorrelation
	}
	if p.ReplyTo != "" {
		flags |= flagReplyTo
	}
	if p.Expiration != "" {
		flags |= flagExpiration
	}
	if p.MessageID != "" {
		flags |= flagMessageID
	}
	if !p.Timestamp.IsZero() {
		flags |= flagTimestamp
	}
	if p.Type != "" {
		flags |= flagType
	}
	if p.UserID != "" {
		flags |= flagUserID
	}
	if p.AppID != "" {
		flags |= flagAppID
	}
	if p.ClusterID != "" {
		flags |= flagClusterID
	}

	if flags&flagContentType != 0 {
		writeShortString(&body, p.ContentType)
	}
	if flags&flagContentEnc != 0 {
		writeShortString(&body, p.ContentEncoding)
	}
	if flags&flagHeaders != 0 {
		if err := writeTable(&body, p.Headers); err != nil {
			return nil, err
		}
	}
	if flags&flagDeliveryMod != 0 {
		body.WriteByte(p.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		body.WriteByte(p.Priority)
	}
	if flags&flagCorrelation != 0 {
		writeShortString(&body, p.CorrelationID)
	}
	if flags&flagReplyTo != 0 {
		writeShortString(&body, p.ReplyTo)
	}
	if flags&flagExpiration != 0 {
		writeShortString(&body, p.Expiration)
	}
	if flags&flagMessageID != 0 {
		writeShortString(&body, p.MessageID)
	}
	if flags&flagTimestamp != 0 {
		binary.Write(&body, binary.BigEndian, uint64(p.Timestamp.Unix()))
	}
	if flags&flagType != 0 {
		writeShortString(&body, p.Type)
	}
	if flags&flagUserID != 0 {
		writeShortString(&body, p.UserID)
	}
	if flags&flagAppID != 0 {
		writeShortString(&body, p.AppID)
	}
	if flags&flagClusterID != 0 {
		writeShortString(&body, p.ClusterID)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, flags)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func unmarshalProperties(r *bytes.Reader) (Properties, error) {
	var p Properties
	if r.Len() < 2 {
		return p, ErrUnmarshalIncomplete
	}
	var flags uint16
	binary.Read(r, binary.BigEndian, &flags)

	var err error
	if flags&flagContentType != 0 {
		if p.ContentType, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagContentEnc != 0 {
		if p.ContentEncoding, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagHeaders != 0 {
		if p.Headers, err = readTable(r); err != nil {
			return p, err
		}
	}
	if flags&flagDeliveryMod != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return p, ErrUnmarshalIncomplete
		}
		p.DeliveryMode = b
	}
	if flags&flagPriority != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return p, ErrUnmarshalIncomplete
		}
		p.Priority = b
	}
	if flags&flagCorrelation != 0 {
		if p.CorrelationID, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagReplyTo != 0 {
		if p.ReplyTo, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagExpiration != 0 {
		if p.Expiration, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagMessageID != 0 {
		if p.MessageID, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagTimestamp != 0 {
		if r.Len() < 8 {
			return p, ErrUnmarshalIncomplete
		}
		var ts uint64
		binary.Read(r, binary.BigEndian, &ts)
		p.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	if flags&flagType != 0 {
		if p.Type, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagUserID != 0 {
		if p.UserID, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagAppID != 0 {
		if p.AppID, err = readShortString(r); err != nil {
			return p, err
		}
	}
	if flags&flagClusterID != 0 {
		if p.ClusterID, err = readShortString(r); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (f HeaderFrame) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, f.ClassID)
	binary.Write(&buf, binary.BigEndian, uint16(0)) // weight, always 0
	binary.Write(&buf, binary.BigEndian, f.BodySize)
	props, err := f.Properties.marshal()
	if err != nil {
		return nil, err
	}
	buf.Write(props)
	return buf.Bytes(), nil
}

func unmarshalHeader(payload []byte) (HeaderFrame, error) {
	r := bytes.NewReader(payload)
	if r.Len() < 12 {
		return HeaderFrame{}, ErrUnmarshalIncomplete
	}
	var h HeaderFrame
	binary.Read(r, binary.BigEndian, &h.ClassID)
	var weight uint16
	binary.Read(r, binary.BigEndian, &weight)
	binary.Read(r, binary.BigEndian, &h.BodySize)
	props, err := unmarshalProperties(r)
	if err != nil {
		return HeaderFrame{}, errors.Wrap(err, "wire: unmarshal content-header properties")
	}
	h.Properties = props
	return h, nil
}
