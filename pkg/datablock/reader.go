package datablock

import "encoding/binary"

// Reader walks the blocks of a fixed buffer. It never fails: when fewer
// than HeaderSize bytes remain, or the declared length runs past the end of
// the buffer, Next reports no block and Truncated tells whether trailing
// bytes were left behind.
//
// Returned Data slices alias the input buffer.
type Reader struct {
	buf       []byte
	pos       int
	truncated bool
}

// NewReader returns a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Next returns the next complete block.
func (r *Reader) Next() (Block, bool) {
	remaining := len(r.buf) - r.pos
	if remaining == 0 {
		return Block{}, false
	}
	if remaining < HeaderSize {
		r.truncated = true
		return Block{}, false
	}
	hdr := r.buf[r.pos : r.pos+HeaderSize]
	n := uint64(binary.LittleEndian.Uint32(hdr[1:]))
	if n > uint64(remaining-HeaderSize) {
		r.truncated = true
		return Block{}, false
	}
	start := r.pos + HeaderSize
	end := start + int(n)
	b := Block{Type: BlockType(hdr[0]), Data: r.buf[start:end:end]}
	r.pos = end
	return b, true
}

// Truncated reports whether reading stopped on a partial trailing block.
func (r *Reader) Truncated() bool { return r.truncated }

// Offset is the number of bytes consumed by complete blocks so far.
func (r *Reader) Offset() int { return r.pos }

// Reset rewinds the reader to the first block.
func (r *Reader) Reset() {
	r.pos = 0
	r.truncated = false
}

// Decode reads every complete block in data.
func Decode(data []byte) (blocks []Block, truncated bool) {
	r := NewReader(data)
	for {
		b, ok := r.Next()
		if !ok {
			return blocks, r.Truncated()
		}
		blocks = append(blocks, b)
	}
}
