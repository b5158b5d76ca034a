package classfile

import (
	"encoding/binary"
	"fmt"
)

// classReader decodes big-endian class file data. The first read past the
// end records an error and every later read returns zero values, so callers
// check err once per structure.
type classReader struct {
	data []byte
	off  int
	err  error
}

func (r *classReader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("truncated at offset %d reading %s", r.off, what)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *classReader) u1(what string) uint8 {
	if b := r.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (r *classReader) u2(what string) uint16 {
	if b := r.take(2, what); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *classReader) u4(what string) uint32 {
	if b := r.take(4, what); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *classReader) u8(what string) uint64 {
	if b := r.take(8, what); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// bytes returns a copy, so the result does not pin the whole class file.
func (r *classReader) bytes(n int, what string) []byte {
	b := r.take(n, what)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// u2s reads a u2 count followed by that many u2 values.
func (r *classReader) u2s(what string) []uint16 {
	n := int(r.u2(what + " count"))
	out := make([]uint16, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.u2(what))
	}
	return out
}
