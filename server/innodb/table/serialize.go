package table

import (
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/index"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
)

// MetaSignature is the 32-bit little-endian magic every metadata file opens
// with (§6 "Every metadata file begins with the 32-bit little-endian
// signature 0x007a6a78").
const MetaSignature uint32 = 0x007a6a78

const (
	keyTypeNormal  byte = 1
	keyTypePrimary byte = 2
	keyTypeForeign byte = 3
)

// IndexRecord is an index catalog entry as stored in a table's .meta file:
// enough to reopen the tree (by tree id, via the forest) and rebuild an
// index.Meta without yet resolving any foreign-key cross-table pointers.
type IndexRecord struct {
	Hash          uint64
	TreeID        uint32
	FieldOrdinals []int
	StoreFullData bool
}

// FKRecord is an on-disk foreign key definition; RefTableName is resolved to
// a live *Table by the catalog layer while the referring table is loaded,
// loading the referenced table first if it is not open yet.
type FKRecord struct {
	Name             string
	LocalOrdinals    []int
	RefTableName     string
	RefFieldOrdinals []int
}

// MetaRecord is the fully-decoded contents of a table's .meta file.
type MetaRecord struct {
	OwningDB     string
	Fields       []metadata.Field
	NPages       uint32
	PtrAvailable int32
	Indexes      []IndexRecord
	HasPK        bool
	PKOrdinals   []int
	FKs          []FKRecord
	Explicit     []IndexRecord
	Uniques      []IndexRecord
}

func isFieldOrdinal(ordinals []int, i int) bool {
	for _, o := range ordinals {
		if o == i {
			return true
		}
	}
	return false
}

// WriteMeta serializes a table's full definition per §6 "Table meta".
func (t *Table) WriteMeta(acc *filemap.Accessor, dbName string) error {
	pkOrdinals := ordinalsOfMeta(t.pk)
	fkLocalOrdinals := make([][]int, len(t.fks))
	for i, fk := range t.fks {
		ords := make([]int, len(fk.LocalFields))
		for j, f := range fk.LocalFields {
			ords[j] = f.PersIndex
		}
		fkLocalOrdinals[i] = ords
	}

	if err := acc.WriteUint32(MetaSignature); err != nil {
		return err
	}
	if err := acc.WriteString(dbName); err != nil {
		return err
	}

	if err := acc.WriteUint32(uint32(len(t.Schema.Fields))); err != nil {
		return err
	}
	for i, f := range t.Schema.Fields {
		if err := writeFieldDef(acc, f); err != nil {
			return err
		}
		kt := keyTypeNormal
		if isFieldOrdinal(pkOrdinals, i) {
			kt = keyTypePrimary
		} else {
			for _, ords := range fkLocalOrdinals {
				if isFieldOrdinal(ords, i) {
					kt = keyTypeForeign
					break
				}
			}
		}
		if err := acc.WriteByte(kt); err != nil {
			return err
		}
	}

	if err := acc.WriteUint32(t.recMgr.NPages()); err != nil {
		return err
	}
	if err := acc.WriteInt32(t.recMgr.PtrAvailable()); err != nil {
		return err
	}
	nRecords := uint32(0)
	_ = t.ForEachLiveRecord(func(uint32, int, []byte) error { nRecords++; return nil })
	if err := acc.WriteUint32(nRecords); err != nil {
		return err
	}

	if err := acc.WriteUint32(uint32(len(t.indexes))); err != nil {
		return err
	}
	for hash, meta := range t.indexes {
		if err := writeIndexRecord(acc, hash, meta.Tree.ID(), meta.Fields, meta.StoreFullData); err != nil {
			return err
		}
	}

	if t.pk != nil {
		if err := acc.WriteByte(1); err != nil {
			return err
		}
		if err := writeOrdinals(acc, pkOrdinals); err != nil {
			return err
		}
	} else if err := acc.WriteByte(0); err != nil {
		return err
	}

	if err := acc.WriteUint32(uint32(len(t.fks))); err != nil {
		return err
	}
	for i, fk := range t.fks {
		if err := acc.WriteString(fk.Name); err != nil {
			return err
		}
		if err := writeOrdinals(acc, fkLocalOrdinals[i]); err != nil {
			return err
		}
		if err := acc.WriteString(fk.RefTable.Name); err != nil {
			return err
		}
		refOrds := make([]int, len(fk.RefFields))
		for j, f := range fk.RefFields {
			refOrds[j] = f.PersIndex
		}
		if err := writeOrdinals(acc, refOrds); err != nil {
			return err
		}
	}

	if err := acc.WriteUint32(uint32(len(t.explicit))); err != nil {
		return err
	}
	for _, meta := range t.explicit {
		if err := writeIndexRecord(acc, meta.Hash(), meta.Tree.ID(), meta.Fields, meta.StoreFullData); err != nil {
			return err
		}
	}

	if err := acc.WriteUint32(uint32(len(t.uniques))); err != nil {
		return err
	}
	for _, meta := range t.uniques {
		if err := writeIndexRecord(acc, meta.Hash(), meta.Tree.ID(), meta.Fields, meta.StoreFullData); err != nil {
			return err
		}
	}

	return nil
}

func ordinalsOfMeta(m *index.Meta) []int {
	if m == nil {
		return nil
	}
	ordinals := make([]int, len(m.Fields))
	for i, f := range m.Fields {
		ordinals[i] = f.PersIndex
	}
	return ordinals
}

func writeFieldDef(acc *filemap.Accessor, f metadata.Field) error {
	if err := acc.WriteString(f.Name); err != nil {
		return err
	}
	nn := byte(0)
	if f.NotNull {
		nn = 1
	}
	if err := acc.WriteByte(nn); err != nil {
		return err
	}
	if err := acc.WriteByte(byte(f.Type)); err != nil {
		return err
	}
	if f.Type == metadata.TypeVarchar {
		if err := acc.WriteUint32(uint32(f.MaxLen)); err != nil {
			return err
		}
	}
	hd := byte(0)
	if f.HasDefault {
		hd = 1
	}
	if err := acc.WriteByte(hd); err != nil {
		return err
	}
	if f.HasDefault {
		if err := writeValue(acc, f.Type, f.Default); err != nil {
			return err
		}
	}
	return nil
}

func writeValue(acc *filemap.Accessor, t metadata.DataType, v basic.Value) error {
	switch t {
	case metadata.TypeInt:
		return acc.WriteInt32(v.I)
	case metadata.TypeFloat:
		return acc.WriteFloat64(v.F)
	case metadata.TypeVarchar:
		return acc.WriteString(v.S)
	}
	return nil
}

func writeOrdinals(acc *filemap.Accessor, ordinals []int) error {
	if err := acc.WriteUint32(uint32(len(ordinals))); err != nil {
		return err
	}
	for _, o := range ordinals {
		if err := acc.WriteUint32(uint32(o)); err != nil {
			return err
		}
	}
	return nil
}

func writeIndexRecord(acc *filemap.Accessor, hash uint64, treeID uint32, fields []metadata.Field, storeFullData bool) error {
	if err := acc.WriteUint64(hash); err != nil {
		return err
	}
	if err := acc.WriteUint32(treeID); err != nil {
		return err
	}
	ordinals := make([]int, len(fields))
	for i, f := range fields {
		ordinals[i] = f.PersIndex
	}
	if err := writeOrdinals(acc, ordinals); err != nil {
		return err
	}
	sfd := byte(0)
	if storeFullData {
		sfd = 1
	}
	return acc.WriteByte(sfd)
}

// ReadMeta decodes a table's .meta file into a MetaRecord. The catalog layer
// uses this to rebuild the field schema, reopen every index tree (by tree
// id, via the table's forest) and resolve each FKRecord.RefTableName into a
// live *Table (loading that table if needed), wiring the key back through
// RestoreForeignKey.
func ReadMeta(acc *filemap.Accessor) (*MetaRecord, error) {
	sig, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	if sig != MetaSignature {
		return nil, basic.ErrCorruptedMeta
	}

	rec := &MetaRecord{}
	if rec.OwningDB, err = acc.ReadString(); err != nil {
		return nil, err
	}

	nFields, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	rec.Fields = make([]metadata.Field, nFields)
	for i := range rec.Fields {
		f, err := readFieldDef(acc)
		if err != nil {
			return nil, err
		}
		if _, err := acc.ReadByte(); err != nil { // key-type byte, redundant with PK/FK sections below
			return nil, err
		}
		rec.Fields[i] = f
	}
	schema := metadata.NewTableSchema(rec.Fields)
	rec.Fields = schema.Fields

	if rec.NPages, err = acc.ReadUint32(); err != nil {
		return nil, err
	}
	if rec.PtrAvailable, err = acc.ReadInt32(); err != nil {
		return nil, err
	}
	if _, err = acc.ReadUint32(); err != nil { // n_records, informational only
		return nil, err
	}

	nIdx, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	rec.Indexes = make([]IndexRecord, nIdx)
	for i := range rec.Indexes {
		if rec.Indexes[i], err = readIndexRecord(acc); err != nil {
			return nil, err
		}
	}

	hasPK, err := acc.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasPK == 1 {
		rec.HasPK = true
		if rec.PKOrdinals, err = readOrdinals(acc); err != nil {
			return nil, err
		}
	}

	nFK, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	rec.FKs = make([]FKRecord, nFK)
	for i := range rec.FKs {
		var fk FKRecord
		if fk.Name, err = acc.ReadString(); err != nil {
			return nil, err
		}
		if fk.LocalOrdinals, err = readOrdinals(acc); err != nil {
			return nil, err
		}
		if fk.RefTableName, err = acc.ReadString(); err != nil {
			return nil, err
		}
		if fk.RefFieldOrdinals, err = readOrdinals(acc); err != nil {
			return nil, err
		}
		rec.FKs[i] = fk
	}

	nExplicit, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	rec.Explicit = make([]IndexRecord, nExplicit)
	for i := range rec.Explicit {
		if rec.Explicit[i], err = readIndexRecord(acc); err != nil {
			return nil, err
		}
	}

	nUnique, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	rec.Uniques = make([]IndexRecord, nUnique)
	for i := range rec.Uniques {
		if rec.Uniques[i], err = readIndexRecord(acc); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func readFieldDef(acc *filemap.Accessor) (metadata.Field, error) {
	var f metadata.Field
	name, err := acc.ReadString()
	if err != nil {
		return f, err
	}
	notNull, err := acc.ReadByte()
	if err != nil {
		return f, err
	}
	typByte, err := acc.ReadByte()
	if err != nil {
		return f, err
	}
	f.Name = name
	f.NotNull = notNull == 1
	f.Type = metadata.DataType(typByte)

	if f.Type == metadata.TypeVarchar {
		maxLen, err := acc.ReadUint32()
		if err != nil {
			return f, err
		}
		f.MaxLen = int(maxLen)
	}

	hasDefault, err := acc.ReadByte()
	if err != nil {
		return f, err
	}
	if hasDefault == 1 {
		v, err := readValue(acc, f.Type)
		if err != nil {
			return f, err
		}
		f.HasDefault = true
		f.Default = v
	}
	return f, nil
}

func readValue(acc *filemap.Accessor, t metadata.DataType) (basic.Value, error) {
	switch t {
	case metadata.TypeInt:
		v, err := acc.ReadInt32()
		return basic.Value{Kind: basic.KindInt, I: v}, err
	case metadata.TypeFloat:
		v, err := acc.ReadFloat64()
		return basic.Value{Kind: basic.KindFloat, F: v}, err
	case metadata.TypeVarchar:
		v, err := acc.ReadString()
		return basic.Value{Kind: basic.KindStr, S: v}, err
	}
	return basic.Value{}, nil
}

func readOrdinals(acc *filemap.Accessor) ([]int, error) {
	n, err := acc.ReadUint32()
	if err != nil {
		return nil, err
	}
	ordinals := make([]int, n)
	for i := range ordinals {
		v, err := acc.ReadUint32()
		if err != nil {
			return nil, err
		}
		ordinals[i] = int(v)
	}
	return ordinals, nil
}

func readIndexRecord(acc *filemap.Accessor) (IndexRecord, error) {
	var r IndexRecord
	hash, err := acc.ReadUint64()
	if err != nil {
		return r, err
	}
	treeID, err := acc.ReadUint32()
	if err != nil {
		return r, err
	}
	ordinals, err := readOrdinals(acc)
	if err != nil {
		return r, err
	}
	sfd, err := acc.ReadByte()
	if err != nil {
		return r, err
	}
	r.Hash = hash
	r.TreeID = treeID
	r.FieldOrdinals = ordinals
	r.StoreFullData = sfd == 1
	return r, nil
}

// FieldsFromOrdinals projects a subset of schema fields (an index's or PK's
// field-set) in ordinal order, using the field-set's own stored order rather
// than schema order, since composite keys are order-sensitive.
func FieldsFromOrdinals(schema *metadata.TableSchema, ordinals []int) []metadata.Field {
	fields := make([]metadata.Field, len(ordinals))
	for i, ord := range ordinals {
		fields[i] = schema.Fields[ord]
	}
	return fields
}
