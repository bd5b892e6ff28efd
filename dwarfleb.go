package chocogen

import "bytes"

// dwarfleb.go holds the LEB128 encoders the DWARF writer needs; CodeView
// doesn't use LEB128 itself. Keeping them separate from
// debugwriter_dwarf.go keeps that file focused on one section layout
// at a time, matching the teacher's habit of splitting small codecs
// (mov_x86_64.go vs mov_aarch64.go) into their own files.

func appendULEB128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func appendSLEB128(buf *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}
