package filemap

import (
	"encoding/binary"
	"math"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
)

// Accessor is a cursor over a file (§4.2), offering typed reads/writes of
// fixed-width integers, floats (by 64-bit bit cast, per the Open Question
// resolution in DESIGN.md) and length-prefixed strings. Crossing a page
// boundary pulls the next page through the paged buffer.
type Accessor struct {
	fileID basic.FileID
	pool   *buffer_pool.BufferPool
	pageNo uint32
	inPage int
	page   []byte
}

// NewAccessor opens a cursor over fileID at offset 0.
func NewAccessor(fileID basic.FileID, pool *buffer_pool.BufferPool) *Accessor {
	a := &Accessor{fileID: fileID, pool: pool}
	a.Reset(0)
	return a
}

// Reset rewinds the cursor to offset (default 0 when called with 0).
func (a *Accessor) Reset(offset int64) {
	a.pageNo = uint32(offset / basic.PageSize)
	a.inPage = int(offset % basic.PageSize)
	a.page = nil
}

func (a *Accessor) loc() basic.PageLocator {
	return basic.PageLocator{FileID: a.fileID, PageNo: a.pageNo}
}

// ensure returns the current page, loading it through the pool if it is not
// already held. It does not check how many bytes remain from the cursor to
// the end of the page.
func (a *Accessor) ensure() ([]byte, error) {
	if a.page != nil {
		return a.page, nil
	}
	p, err := a.pool.Read(a.loc())
	if err != nil {
		return nil, err
	}
	a.page = p
	return p, nil
}

func (a *Accessor) advance(n int) error {
	a.inPage += n
	for a.inPage >= basic.PageSize {
		a.inPage -= basic.PageSize
		a.pageNo++
		a.page = nil
	}
	return nil
}

func (a *Accessor) readBytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	remaining := n
	for remaining > 0 {
		page, err := a.ensure()
		if err != nil {
			return nil, err
		}
		chunk := basic.PageSize - a.inPage
		if chunk > remaining {
			chunk = remaining
		}
		out = append(out, page[a.inPage:a.inPage+chunk]...)
		if err := a.advance(chunk); err != nil {
			return nil, err
		}
		remaining -= chunk
	}
	return out, nil
}

func (a *Accessor) writeBytes(b []byte) error {
	remaining := b
	for len(remaining) > 0 {
		page, err := a.ensure()
		if err != nil {
			return err
		}
		chunk := basic.PageSize - a.inPage
		if chunk > len(remaining) {
			chunk = len(remaining)
		}
		copy(page[a.inPage:a.inPage+chunk], remaining[:chunk])
		a.pool.MarkDirty(a.loc())
		if err := a.advance(chunk); err != nil {
			return err
		}
		remaining = remaining[chunk:]
	}
	return nil
}

func (a *Accessor) ReadUint16() (uint16, error) {
	b, err := a.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (a *Accessor) WriteUint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return a.writeBytes(b[:])
}

func (a *Accessor) ReadUint32() (uint32, error) {
	b, err := a.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (a *Accessor) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return a.writeBytes(b[:])
}

func (a *Accessor) ReadInt32() (int32, error) {
	v, err := a.ReadUint32()
	return int32(v), err
}

func (a *Accessor) WriteInt32(v int32) error { return a.WriteUint32(uint32(v)) }

func (a *Accessor) ReadUint64() (uint64, error) {
	b, err := a.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (a *Accessor) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return a.writeBytes(b[:])
}

// ReadFloat64 reads a float serialized by raw bit cast to a 64-bit unsigned
// integer (§3 FLOAT; the Open Question in §9 resolves the read path to match
// the 64-bit write path).
func (a *Accessor) ReadFloat64() (float64, error) {
	bits, err := a.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (a *Accessor) WriteFloat64(v float64) error {
	return a.WriteUint64(math.Float64bits(v))
}

// maxStringLen bounds a length prefix read by ReadString. Nothing this
// engine ever writes approaches it; a prefix past it can only be a
// corrupted or desynchronized read (§4.2 "out-of-range reads fail with
// ErrCorruptedMeta"), since pages past a file's real extent read back as
// zero rather than erroring.
const maxStringLen = 1 << 24

// ReadString reads a u32 length prefix followed by that many raw bytes (§6).
func (a *Accessor) ReadString() (string, error) {
	n, err := a.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", basic.ErrCorruptedMeta
	}
	b, err := a.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *Accessor) WriteString(s string) error {
	if err := a.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	return a.writeBytes([]byte(s))
}

func (a *Accessor) ReadByte() (byte, error) {
	b, err := a.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Accessor) WriteByte(v byte) error {
	return a.writeBytes([]byte{v})
}
