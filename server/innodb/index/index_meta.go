// Package index implements IndexMeta (§4.6): binding a table's field-set to
// a B+ tree, with the key-extraction and approximate-equality rules needed
// because VARCHAR/FLOAT keys are coerced into int32 for comparison.
package index

import (
	"math"
	"sort"
	"strings"

	"github.com/OneOfOne/xxhash"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/metadata"
)

// Meta binds one field-set of a table to an owning B+ tree. Several logical
// constraints (a primary key, a unique key, an explicit index) may share
// one Meta/tree when they cover the same field-set; Refcount tracks how
// many.
type Meta struct {
	Fields        []metadata.Field
	StoreFullData bool
	Refcount      int
	Tree          *btree.Tree
}

// CanonicalHash hashes a field-set by its sorted field names, so the same
// set of columns always maps to the same index regardless of declaration
// order (§4.6, §4.7 "looked up by the canonical hash of the field-set").
func CanonicalHash(fieldNames []string) uint64 {
	sorted := append([]string(nil), fieldNames...)
	sort.Strings(sorted)
	h := xxhash.New64()
	_, _ = h.WriteString(strings.Join(sorted, "\x00"))
	return h.Sum64()
}

func (m *Meta) fieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// Hash returns this index's canonical field-set hash.
func (m *Meta) Hash() uint64 { return CanonicalHash(m.fieldNames()) }

// ExtractKey derives the composite int32 key for this index from a full
// positional record value list (§4.6 Key extraction).
func ExtractKey(fields []metadata.Field, values []basic.Value) []int32 {
	key := make([]int32, len(fields))
	for i, f := range fields {
		key[i] = extractComponent(f, values[f.PersIndex])
	}
	return key
}

// ExtractComponent derives a single field's int32 key component, for
// building probe keys from a WHERE-clause literal rather than a full row.
func ExtractComponent(f metadata.Field, v basic.Value) int32 {
	return extractComponent(f, v)
}

func extractComponent(f metadata.Field, v basic.Value) int32 {
	switch f.Type {
	case metadata.TypeInt:
		return v.I
	case metadata.TypeFloat:
		return int32(math.Trunc(v.F))
	case metadata.TypeVarchar:
		return varcharHash(v.S)
	default:
		return 0
	}
}

// varcharHash packs the first 4 bytes of s (zero-padded) into an int32, the
// "deterministic 4-byte hash" of §4.6 — lossy by design; ApproxEq is always
// required after a key match.
func varcharHash(s string) int32 {
	var b [4]byte
	copy(b[:], s)
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

// ApproxEq reports whether the full record (decoded via the table's schema)
// truly matches probe on every field this index covers — required because
// VARCHAR/FLOAT key components can collide (§4.6).
func ApproxEq(fields []metadata.Field, record []basic.Value, probe []basic.Value) bool {
	for _, f := range fields {
		a, b := record[f.PersIndex], probe[f.PersIndex]
		if a.Kind != b.Kind {
			return false
		}
		switch f.Type {
		case metadata.TypeInt:
			if a.I != b.I {
				return false
			}
		case metadata.TypeFloat:
			if a.F != b.F {
				return false
			}
		case metadata.TypeVarchar:
			if a.S != b.S {
				return false
			}
		}
	}
	return true
}
