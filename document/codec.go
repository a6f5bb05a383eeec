package document

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Encode serializes a document to binary, adapted from the teacher's
// storage/document.go Encode/Decode pair (same little-endian,
// length-prefixed field framing), generalized to the eight Kind variants.
//
// Format: [fieldCount:uint16] then per field
// [nameLen:uint16][name][kind:byte][value bytes...]
func (d Document) Encode() ([]byte, error) {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 8)

	binary.LittleEndian.PutUint16(tmp, uint16(len(d)))
	buf = append(buf, tmp[:2]...)

	for name, v := range d {
		if len(name) > math.MaxUint16 {
			return nil, errors.Errorf("document: field name too long: %s", name)
		}
		binary.LittleEndian.PutUint16(tmp, uint16(len(name)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, name...)
		buf = append(buf, byte(v.Kind))

		vb, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	return buf, nil
}

// Decode deserializes a document previously produced by Encode.
func Decode(data []byte) (Document, error) {
	if len(data) < 2 {
		return nil, errors.New("document: data too short")
	}
	doc := New()
	off := 0

	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	for i := 0; i < count; i++ {
		if off+2 > len(data) {
			return nil, errors.New("document: truncated field name length")
		}
		nameLen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+nameLen > len(data) {
			return nil, errors.New("document: truncated field name")
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		if off >= len(data) {
			return nil, errors.New("document: truncated field kind")
		}
		kind := Kind(data[off])
		off++

		v, n, err := decodeValue(kind, data[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "document: field %q", name)
		}
		off += n
		doc[name] = v
	}
	return doc, nil
}

func encodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindInt:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.Int))
		return buf, nil
	case KindFloat:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float))
		return buf, nil
	case KindTimestamp:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.Time.UTC().UnixNano()))
		return buf, nil
	case KindID:
		b, _ := v.ID.MarshalBinary()
		return b, nil
	case KindText:
		return lengthPrefixed([]byte(v.Text)), nil
	case KindSeq:
		inner := make([]byte, 0, 64)
		tmp := make([]byte, 2)
		binary.LittleEndian.PutUint16(tmp, uint16(len(v.Seq)))
		inner = append(inner, tmp...)
		for _, e := range v.Seq {
			inner = append(inner, byte(e.Kind))
			eb, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			inner = append(inner, eb...)
		}
		return lengthPrefixed(inner), nil
	case KindMap:
		mb, err := v.Map.Encode()
		if err != nil {
			return nil, err
		}
		return lengthPrefixed(mb), nil
	default:
		return nil, fmt.Errorf("document: unknown kind %d", v.Kind)
	}
}

func decodeValue(kind Kind, data []byte) (Value, int, error) {
	switch kind {
	case KindBool:
		if len(data) < 1 {
			return Value{}, 0, errors.New("not enough data for bool")
		}
		return Bool(data[0] != 0), 1, nil
	case KindInt:
		if len(data) < 8 {
			return Value{}, 0, errors.New("not enough data for int")
		}
		return Int(int64(binary.LittleEndian.Uint64(data))), 8, nil
	case KindFloat:
		if len(data) < 8 {
			return Value{}, 0, errors.New("not enough data for float")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(data))), 8, nil
	case KindTimestamp:
		if len(data) < 8 {
			return Value{}, 0, errors.New("not enough data for timestamp")
		}
		ns := int64(binary.LittleEndian.Uint64(data))
		return Timestamp(time.Unix(0, ns).UTC()), 8, nil
	case KindID:
		if len(data) < 16 {
			return Value{}, 0, errors.New("not enough data for id")
		}
		var u uuid.UUID
		copy(u[:], data[:16])
		return ID(u), 16, nil
	case KindText:
		s, n, err := readLengthPrefixed(data)
		if err != nil {
			return Value{}, 0, err
		}
		return Text(string(s)), n, nil
	case KindSeq:
		inner, n, err := readLengthPrefixed(data)
		if err != nil {
			return Value{}, 0, err
		}
		if len(inner) < 2 {
			return Seq(), n, nil
		}
		count := int(binary.LittleEndian.Uint16(inner))
		off := 2
		elems := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			if off >= len(inner) {
				return Value{}, 0, errors.New("truncated seq element kind")
			}
			ek := Kind(inner[off])
			off++
			ev, en, err := decodeValue(ek, inner[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += en
			elems = append(elems, ev)
		}
		return Seq(elems...), n, nil
	case KindMap:
		inner, n, err := readLengthPrefixed(data)
		if err != nil {
			return Value{}, 0, err
		}
		sub, err := Decode(inner)
		if err != nil {
			return Value{}, 0, err
		}
		return Map(sub), n, nil
	default:
		return Value{}, 0, fmt.Errorf("document: unknown kind %d", kind)
	}
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

func readLengthPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, errors.New("not enough data for length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+n {
		return nil, 0, errors.New("not enough data for length-prefixed payload")
	}
	return data[4 : 4+n], 4 + n, nil
}
