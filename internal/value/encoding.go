package value

import (
	"encoding/binary"
	"errors"
	"math"
)

// Tag values shared by the WAL record payload and the persisted table file
// format: null=empty; int=i64 LE; float=f64 LE; bool=u8; text={u64 len,
// bytes}; embedding={u64 len, len x f32 LE}.
const (
	TagNull      byte = 0
	TagInt       byte = 1
	TagFloat     byte = 2
	TagBool      byte = 3
	TagText      byte = 4
	TagEmbedding byte = 5
)

var (
	ErrUnknownTag    = errors.New("value: unknown tag byte")
	ErrTruncated     = errors.New("value: truncated encoding")
	ErrLengthTooLarge = errors.New("value: encoded length exceeds limit")
)

var byteOrder = binary.LittleEndian

func tagOf(v Value) byte {
	switch v.Kind {
	case KindNull:
		return TagNull
	case KindInt:
		return TagInt
	case KindFloat:
		return TagFloat
	case KindBool:
		return TagBool
	case KindText:
		return TagText
	case KindEmbedding:
		return TagEmbedding
	default:
		return TagNull
	}
}

// EncodedSize returns the number of bytes Append will write for v,
// including the leading tag byte.
func EncodedSize(v Value) int {
	switch v.Kind {
	case KindNull:
		return 1
	case KindInt:
		return 1 + 8
	case KindFloat:
		return 1 + 8
	case KindBool:
		return 1 + 1
	case KindText:
		return 1 + 8 + len(v.Text)
	case KindEmbedding:
		return 1 + 8 + 4*len(v.Embedding)
	default:
		return 1
	}
}

// Append encodes v's tag and data onto buf, returning the extended slice.
func Append(buf []byte, v Value) []byte {
	buf = append(buf, tagOf(v))
	switch v.Kind {
	case KindNull:
		// no data
	case KindInt:
		var tmp [8]byte
		byteOrder.PutUint64(tmp[:], uint64(v.Int))
		buf = append(buf, tmp[:]...)
	case KindFloat:
		var tmp [8]byte
		byteOrder.PutUint64(tmp[:], math.Float64bits(v.Float))
		buf = append(buf, tmp[:]...)
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindText:
		var tmp [8]byte
		byteOrder.PutUint64(tmp[:], uint64(len(v.Text)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, v.Text...)
	case KindEmbedding:
		var tmp [8]byte
		byteOrder.PutUint64(tmp[:], uint64(len(v.Embedding)))
		buf = append(buf, tmp[:]...)
		for _, f := range v.Embedding {
			var ftmp [4]byte
			byteOrder.PutUint32(ftmp[:], math.Float32bits(f))
			buf = append(buf, ftmp[:]...)
		}
	}
	return buf
}

// Decode reads a tagged value from the front of data, returning the value
// and the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, ErrTruncated
	}
	tag := data[0]
	off := 1
	switch tag {
	case TagNull:
		return Null(), off, nil
	case TagInt:
		if len(data) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		v := int64(byteOrder.Uint64(data[off:]))
		return Int(v), off + 8, nil
	case TagFloat:
		if len(data) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		bits := byteOrder.Uint64(data[off:])
		return Float(math.Float64frombits(bits)), off + 8, nil
	case TagBool:
		if len(data) < off+1 {
			return Value{}, 0, ErrTruncated
		}
		return Bool(data[off] != 0), off + 1, nil
	case TagText:
		if len(data) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		n := byteOrder.Uint64(data[off:])
		off += 8
		if n > MaxEncodedTextLen || uint64(len(data)-off) < n {
			return Value{}, 0, ErrTruncated
		}
		text := make([]byte, n)
		copy(text, data[off:off+int(n)])
		return Value{Kind: KindText, Text: text}, off + int(n), nil
	case TagEmbedding:
		if len(data) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		n := byteOrder.Uint64(data[off:])
		off += 8
		if n > MaxEncodedEmbeddingLen || uint64(len(data)-off) < n*4 {
			return Value{}, 0, ErrTruncated
		}
		vec := make([]float32, n)
		for i := range vec {
			bits := byteOrder.Uint32(data[off:])
			vec[i] = math.Float32frombits(bits)
			off += 4
		}
		return Value{Kind: KindEmbedding, Embedding: vec}, off, nil
	default:
		return Value{}, 0, ErrUnknownTag
	}
}

const (
	MaxEncodedTextLen      = 64 * 1024 * 1024
	MaxEncodedEmbeddingLen = 1 << 20
)

// EncodeRow serializes a full Row's attributes: count u64, then per
// attribute {u16-length-prefixed name, tagged value}. The WAL uses it to
// carry a whole row in a single insert_row record. The persisted table
// format writes the same count and tagged values but prefixes each name
// with a u32 length, so the two blocks are not byte-identical.
func EncodeRow(row *Row) []byte {
	buf := make([]byte, 0, 64)
	var tmp8 [8]byte
	byteOrder.PutUint64(tmp8[:], uint64(row.Len()))
	buf = append(buf, tmp8[:]...)
	for i := 0; i < row.Len(); i++ {
		name, v := row.At(i)
		nameBytes := []byte(name)
		var tmp2 [2]byte
		byteOrder.PutUint16(tmp2[:], uint16(len(nameBytes)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, nameBytes...)
		buf = Append(buf, v)
	}
	return buf
}

// DecodeRow parses a Row previously produced by EncodeRow.
func DecodeRow(data []byte) (*Row, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	count := byteOrder.Uint64(data)
	off := 8
	names := make([]string, 0, count)
	values := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+2 > len(data) {
			return nil, ErrTruncated
		}
		nameLen := int(byteOrder.Uint16(data[off:]))
		off += 2
		if off+nameLen > len(data) {
			return nil, ErrTruncated
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		v, n, err := Decode(data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		names = append(names, name)
		values = append(values, v)
	}
	return NewRow(names, values), nil
}
