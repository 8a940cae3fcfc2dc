package catalog

import (
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
)

// fieldNamesOf is index.CanonicalHash's required input shape, pulled out of
// a field list the same way table.fieldNames does internally.
func fieldNamesOf(fields []metadata.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// MetaSignature is the 32-bit little-endian magic every metadata file opens
// with (§6); a mismatch means the file is treated as empty and reinitialized
// rather than rejected outright, since a freshly `Create`d file is all
// zeroes and must still be usable.
const MetaSignature uint32 = 0x007a6a78

// readNames decodes a signature-prefixed, length-prefixed list of names —
// the shared shape of both Global meta ("u32 database count; for each db, a
// name") and Database meta ("u32 table count; for each table, a name").
// ok is false when the file is empty/uninitialized (wrong or absent
// signature), which callers treat as "nothing persisted yet" rather than an
// error.
func readNames(acc *filemap.Accessor) (names []string, ok bool, err error) {
	sig, err := acc.ReadUint32()
	if err != nil {
		return nil, false, err
	}
	if sig != MetaSignature {
		return nil, false, nil
	}
	count, err := acc.ReadUint32()
	if err != nil {
		return nil, false, err
	}
	names = make([]string, count)
	for i := range names {
		if names[i], err = acc.ReadString(); err != nil {
			return nil, false, err
		}
	}
	return names, true, nil
}

func writeNames(acc *filemap.Accessor, names []string) error {
	acc.Reset(0)
	if err := acc.WriteUint32(MetaSignature); err != nil {
		return err
	}
	if err := acc.WriteUint32(uint32(len(names))); err != nil {
		return err
	}
	for _, n := range names {
		if err := acc.WriteString(n); err != nil {
			return err
		}
	}
	return nil
}
