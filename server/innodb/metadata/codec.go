package metadata

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/latticedb/lattice/server/innodb/basic"
)

// EncodeRecord builds a record buffer of schema.RecordLen from a positional
// value list. A basic.NullValue() (or a short values slice) for a NOT NULL
// field without a default fails with ErrNotNullViolation (§4.7
// insert_record, step 1-3).
func EncodeRecord(schema *TableSchema, values []basic.Value) ([]byte, error) {
	buf := make([]byte, schema.RecordLen)
	var bitmap uint16

	for i, f := range schema.Fields {
		v := basic.NullValue()
		if i < len(values) {
			v = values[i]
		}
		if v.IsNull() && f.HasDefault {
			v = f.Default
		}
		if v.IsNull() {
			if f.NotNull {
				return nil, basic.ErrNotNullViolation
			}
			continue
		}
		if err := encodeField(buf, f, v); err != nil {
			return nil, err
		}
		bitmap = bitmapSet(bitmap, i, true)
	}

	binary.LittleEndian.PutUint16(buf[0:2], bitmap)
	return buf, nil
}

func encodeField(buf []byte, f Field, v basic.Value) error {
	off := f.PersOffset
	switch f.Type {
	case TypeInt:
		if v.Kind != basic.KindInt {
			return basic.ErrTypeMismatch
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v.I))
	case TypeFloat:
		if v.Kind != basic.KindFloat {
			return basic.ErrTypeMismatch
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v.F))
	case TypeVarchar:
		if v.Kind != basic.KindStr {
			return basic.ErrTypeMismatch
		}
		if len(v.S) > f.MaxLen {
			return basic.ErrVarcharTooLong
		}
		copy(buf[off:off+f.Size()], v.S) // remainder stays zero (NUL pad)
	}
	return nil
}

// DecodeRecord reconstructs the positional value list from a stored record
// buffer, honoring the null bitmap.
func DecodeRecord(schema *TableSchema, buf []byte) []basic.Value {
	bitmap := binary.LittleEndian.Uint16(buf[0:2])
	out := make([]basic.Value, len(schema.Fields))
	for i, f := range schema.Fields {
		if !bitmapGet(bitmap, i) {
			out[i] = basic.NullValue()
			continue
		}
		out[i] = decodeField(buf, f)
	}
	return out
}

func decodeField(buf []byte, f Field) basic.Value {
	off := f.PersOffset
	switch f.Type {
	case TypeInt:
		return basic.IntValue(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
	case TypeFloat:
		return basic.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8])))
	case TypeVarchar:
		raw := buf[off : off+f.Size()]
		if n := bytes.IndexByte(raw, 0); n >= 0 {
			raw = raw[:n]
		}
		return basic.StrValue(string(raw))
	}
	return basic.NullValue()
}

// FieldIsPresent reports whether field i's null bitmap bit is set.
func FieldIsPresent(buf []byte, i int) bool {
	bitmap := binary.LittleEndian.Uint16(buf[0:2])
	return bitmapGet(bitmap, i)
}
