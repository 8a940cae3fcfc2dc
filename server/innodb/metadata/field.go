// Package metadata defines table schemas: ordered Field lists narrowed to
// this engine's three data types (§3), materialized into per-record byte
// offsets the record manager and accessors use directly.
package metadata

import "github.com/latticedb/lattice/server/innodb/basic"

// DataType enumerates the engine's on-disk column types (§3).
type DataType byte

const (
	TypeInt     DataType = 1
	TypeFloat   DataType = 2
	TypeVarchar DataType = 3
)

// Field describes one column. PersIndex/PersOffset are filled in by
// NewTableSchema and are meaningless before that call.
type Field struct {
	Name       string
	Type       DataType
	NotNull    bool
	MaxLen     int // VARCHAR(n); unused for INT/FLOAT
	HasDefault bool
	Default    basic.Value

	PersIndex  int
	PersOffset int
}

// Size returns the on-disk width of this field's slot (§3: VARCHAR(n)
// contributes n+1 for a trailing NUL pad byte bounding the stored length).
func (f Field) Size() int {
	switch f.Type {
	case TypeInt:
		return 4
	case TypeFloat:
		return 8
	case TypeVarchar:
		return f.MaxLen + 1
	default:
		return 0
	}
}

// TableSchema is an ordered, immutable-after-materialization field list.
type TableSchema struct {
	Fields    []Field
	RecordLen int
}

// NewTableSchema materializes pers_index/pers_offset for each field and
// computes the table's fixed record length: 2 (null bitmap) + sum of field
// sizes (§4.7 Record length).
func NewTableSchema(fields []Field) *TableSchema {
	s := &TableSchema{Fields: make([]Field, len(fields))}
	copy(s.Fields, fields)

	offset := 2 // null bitmap
	for i := range s.Fields {
		s.Fields[i].PersIndex = i
		s.Fields[i].PersOffset = offset
		offset += s.Fields[i].Size()
	}
	s.RecordLen = offset
	return s
}

// FieldByName looks up a field by name, returning its schema position.
func (s *TableSchema) FieldByName(name string) (Field, int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

// NullBitmapBytes is fixed at 2 bytes (§3), supporting up to 16 columns.
const NullBitmapBytes = 2

func bitmapGet(bitmap uint16, i int) bool { return bitmap&(1<<uint(i)) != 0 }
func bitmapSet(bitmap uint16, i int, v bool) uint16 {
	if v {
		return bitmap | (1 << uint(i))
	}
	return bitmap &^ (1 << uint(i))
}
