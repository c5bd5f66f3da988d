package file

import "encoding/binary"

// IntSize is the on-disk size of one encoded integer.
const IntSize int32 = 4

// Page is an in-memory image of one disk block. Integers are 4-byte
// big-endian; byte slices and strings are length-prefixed with one
// integer. Offsets are byte positions within the block.
type Page struct {
	buf []byte
}

func NewPage(blockSize int32) *Page {
	return &Page{buf: make([]byte, blockSize)}
}

func NewPageFromBytes(b []byte) *Page {
	return &Page{buf: b}
}

func (p *Page) Size() int32 {
	return int32(len(p.buf))
}

func (p *Page) GetInt(offset int32) int32 {
	return int32(binary.BigEndian.Uint32(p.buf[offset : offset+IntSize]))
}

func (p *Page) SetInt(offset int32, v int32) {
	binary.BigEndian.PutUint32(p.buf[offset:offset+IntSize], uint32(v))
}

func (p *Page) GetBytes(offset int32) []byte {
	n := p.GetInt(offset)
	out := make([]byte, n)
	copy(out, p.buf[offset+IntSize:])
	return out
}

func (p *Page) SetBytes(offset int32, b []byte) {
	p.SetInt(offset, int32(len(b)))
	copy(p.buf[offset+IntSize:], b)
}

func (p *Page) GetString(offset int32) string {
	return string(p.GetBytes(offset))
}

func (p *Page) SetString(offset int32, s string) {
	p.SetBytes(offset, []byte(s))
}

// MaxLength is the number of bytes a string of the given byte length
// occupies on a page.
func MaxLength(strlen int) int32 {
	return IntSize + int32(strlen)
}

// Contents exposes the raw block image. Callers must not hold the slice
// across a rebind of the owning buffer.
func (p *Page) Contents() []byte {
	return p.buf
}

// Clear zeroes the whole page.
func (p *Page) Clear() {
	clear(p.buf)
}
