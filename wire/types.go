// Package wire implements the AMQP 0-9-1 frame codec: marshaling and
// unmarshaling of the method, content-header, content-body and heartbeat
// frames the engine exchanges with a broker.
//
// This package plays the role spec.md describes as an "external codec
// library" (see SPEC_FULL.md §1) but is vendored in-repo: no package in
// the retrieved example corpus exposes a public
// Marshal(frame, channel)/Unmarshal(bytes) contract at this level.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// FrameEnd is the fixed terminator octet every AMQP frame carries.
const FrameEnd = 0xCE

// Frame type octets (AMQP 0-9-1 §2.3.5).
const (
	FrameMethod    byte = 1
	FrameHeader    byte = 2
	FrameBody      byte = 3
	FrameHeartbeat byte = 8
)

// Table models an AMQP field-table: a string-keyed map of scalar, list,
// nested-table or binary values. It is the wire-level counterpart of
// amqp091-go's exported amqp.Table, kept distinct here because this
// codec must encode/decode the exact wire representation itself.
type Table map[string]interface{}

// Decimal is a scaled decimal value as carried by AMQP field tables.
type Decimal struct {
	Scale uint8
	Value int32
}

// ErrUnmarshalIncomplete signals the buffer does not yet contain a full
// frame; the caller should preserve the buffer and wait for more bytes.
var ErrUnmarshalIncomplete = errors.New("wire: incomplete frame")

// ErrFrameCorrupt signals a structurally invalid frame (bad end-marker,
// truncated field table, …).
var ErrFrameCorrupt = errors.New("wire: corrupt frame")

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint8 {
		return errors.Errorf("wire: short string too long (%d bytes)", len(s))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", ErrUnmarshalIncomplete
	}
	if r.Len() < int(n) {
		return "", ErrUnmarshalIncomplete
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", ErrUnmarshalIncomplete
	}
	return string(b), nil
}

func writeLongString(buf *bytes.Buffer, s string) error {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
	return nil
}

func readLongString(r *bytes.Reader) (string, error) {
	if r.Len() < 4 {
		return "", ErrUnmarshalIncomplete
	}
	var n uint32
	binary.Read(r, binary.BigEndian, &n)
	if r.Len() < int(n) {
		return "", ErrUnmarshalIncomplete
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", ErrUnmarshalIncomplete
	}
	return string(b), nil
}

func writeLongBytes(buf *bytes.Buffer, b []byte) error {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
	return nil
}

func readLongBytes(r *bytes.Reader) ([]byte, error) {
	if r.Len() < 4 {
		return nil, ErrUnmarshalIncomplete
	}
	var n uint32
	binary.Read(r, binary.BigEndian, &n)
	if r.Len() < int(n) {
		return nil, ErrUnmarshalIncomplete
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, ErrUnmarshalIncomplete
	}
	return b, nil
}

func writeField(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte('V')
	case bool:
		buf.WriteByte('t')
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int8:
		buf.WriteByte('b')
		buf.WriteByte(byte(val))
	case int16:
		buf.WriteByte('s')
		binary.Write(buf, binary.BigEndian, val)
	case int32:
		buf.WriteByte('I')
		binary.Write(buf, binary.BigEndian, val)
	case int:
		buf.WriteByte('I')
		binary.Write(buf, binary.BigEndian, int32(val))
	case int64:
		buf.WriteByte('L')
		binary.Write(buf, binary.BigEndian, val)
	case float32:
		buf.WriteByte('f')
		binary.Write(buf, binary.BigEndian, val)
	case float64:
		buf.WriteByte('d')
		binary.Write(buf, binary.BigEndian, val)
	case Decimal:
		buf.WriteByte('D')
		buf.WriteByte(val.Scale)
		binary.Write(buf, binary.BigEndian, val.Value)
	case string:
		buf.WriteByte('S')
		return writeLongString(buf, val)
	case []byte:
		buf.WriteByte('x')
		return writeLongBytes(buf, val)
	case time.Time:
		buf.WriteByte('T')
		binary.Write(buf, binary.BigEndian, uint64(val.Unix()))
	case Table:
		buf.WriteByte('F')
		return writeTable(buf, val)
	case []interface{}:
		buf.WriteByte('A')
		return writeArray(buf, val)
	default:
		return errors.Errorf("wire: unsupported field-table value type %T", v)
	}
	return nil
}

func readField(r *bytes.Reader) (interface{}, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, ErrUnmarshalIncomplete
	}
	switch kind {
	case 'V':
		return nil, nil
	case 't':
		b, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		return b != 0, nil
	case 'b':
		b, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		return int8(b), nil
	case 's':
		var v int16
		if r.Len() < 2 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &v)
		return v, nil
	case 'I':
		var v int32
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &v)
		return v, nil
	case 'L':
		var v int64
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &v)
		return v, nil
	case 'f':
		var v float32
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &v)
		return v, nil
	case 'd':
		var v float64
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &v)
		return v, nil
	case 'D':
		scale, err := r.ReadByte()
		if err != nil {
			return nil, ErrUnmarshalIncomplete
		}
		var value int32
		if r.Len() < 4 {
			return nil, ErrUnmarshalIncomplete
		}
		binary.Read(r, binary.BigEndian, &value)
		return Decimal{Scale: scale, Value: value}, nil
	case 'S':
		return readLongString(r)
	case 'x':
		return readLongBytes(r)
	case 'T':
		if r.Len() < 8 {
			return nil, ErrUnmarshalIncomplete
		}
		var v uint64
		binary.Read(r, binary.BigEndian, &v)
		return time.Unix(int64(v), 0).UTC(), nil
	case 'F':
		return readTable(r)
	case 'A':
		return readArray(r)
	default:
		return nil, errors.Wrapf(ErrFrameCorrupt, "unknown field type %q", kind)
	}
}

func writeTable(buf *bytes.Buffer, t Table) error {
	var body bytes.Buffer
	for k, v := range t {
		if err := writeShortString(&body, k); err != nil {
			return err
		}
		if err := writeField(&body, v); err != nil {
			return err
		}
	}
	binary.Write(buf, binary.BigEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	return nil
}

func readTable(r *bytes.Reader) (Table, error) {
	if r.Len() < 4 {
		return nil, ErrUnmarshalIncomplete
	}
	var n uint32
	binary.Read(r, binary.BigEndian, &n)
	if r.Len() < int(n) {
		return nil, ErrUnmarshalIncomplete
	}
	body := make([]byte, n)
	if _, err := r.Read(body); err != nil {
		return nil, ErrUnmarshalIncomplete
	}
	sub := bytes.NewReader(body)
	t := make(Table)
	for sub.Len() > 0 {
		key, err := readShortString(sub)
		if err != nil {
			return nil, err
		}
		val, err := readField(sub)
		if err != nil {
			return nil, err
		}
		t[key] = val
	}
	return t, nil
}

func writeArray(buf *bytes.Buffer, a []interface{}) error {
	var body bytes.Buffer
	for _, v := range a {
		if err := writeField(&body, v); err != nil {
			return err
		}
	}
	binary.Write(buf, binary.BigEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	return nil
}

func readArray(r *bytes.Reader) ([]interface{}, error) {
	if r.Len() < 4 {
		return nil, ErrUnmarshalIncomplete
	}
	var n uint32
	binary.Read(r, binary.BigEndian, &n)
	if r.Len() < int(n) {
		return nil, ErrUnmarshalIncomplete
	}
	body := make([]byte, n)
	if _, err := r.Read(body); err != nil {
		return nil, ErrUnmarshalIncomplete
	}
	sub := bytes.NewReader(body)
	var out []interface{}
	for sub.Len() > 0 {
		v, err := readField(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// formatClassMethod renders a class/method id pair as "class.method",
// e.g. class 60, method 40 -> "60.40".
func formatClassMethod(class, method uint16) string {
	return fmt.Sprintf("%d.%d", class, method)
}
