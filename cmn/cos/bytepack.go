// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"encoding/binary"
	"errors"
	"time"
	"unsafe"

	"github.com/NVIDIA/radstore/cmn/debug"
)

// Compact binary serialization for on-disk records, class-method
// payloads, and stream framing. All fixed-width integers are
// little-endian; strings and byte slices carry a u32 length prefix.
// Unpacking never panics - check every read for ErrBufferUnderrun.
//
// A struct participates by implementing both interfaces:
// Pack writes the fields in order, PackedSize returns the exact byte
// count Pack will produce, Unpack reads the fields back in the same
// order. Versioned layouts write a leading u8 version byte and branch
// on it when decoding.

const (
	SizeofI8  = 1
	SizeofI16 = 2
	SizeofI32 = 4
	SizeofI64 = 8
)

// length-prefix width for strings and byte slices
const SizeofLen = SizeofI32

type (
	BytePack struct {
		b   []byte
		off int
	}

	ByteUnpack struct {
		b   []byte
		off int
	}

	Packer interface {
		Pack(packer *BytePack)
		PackedSize() int
	}

	Unpacker interface {
		Unpack(unpacker *ByteUnpack) error
	}
)

var ErrBufferUnderrun = errors.New("buffer underrun")

// PackedStrLen returns the size a given string occupies in the output.
func PackedStrLen(s string) int { return SizeofLen + len(s) }

func PackedBytesLen(b []byte) int { return SizeofLen + len(b) }

func NewPacker(buf []byte, bufLen int) *BytePack {
	if buf == nil {
		return &BytePack{b: make([]byte, bufLen)}
	}
	return &BytePack{b: buf}
}

func NewUnpacker(buf []byte) *ByteUnpack { return &ByteUnpack{b: buf} }

////////////////
// ByteUnpack //
////////////////

func (br *ByteUnpack) Bytes() []byte { return br.b }
func (br *ByteUnpack) Len() int      { return len(br.b) - br.off }

func (br *ByteUnpack) ReadByte() (byte, error) {
	if br.off >= len(br.b) {
		return 0, ErrBufferUnderrun
	}
	b := br.b[br.off]
	br.off++
	return b, nil
}

func (br *ByteUnpack) ReadUint8() (uint8, error) { return br.ReadByte() }

func (br *ByteUnpack) ReadBool() (bool, error) {
	bt, err := br.ReadByte()
	return bt != 0, err
}

func (br *ByteUnpack) ReadUint16() (uint16, error) {
	if len(br.b)-br.off < SizeofI16 {
		return 0, ErrBufferUnderrun
	}
	n := binary.LittleEndian.Uint16(br.b[br.off:])
	br.off += SizeofI16
	return n, nil
}

func (br *ByteUnpack) ReadInt16() (int16, error) {
	n, err := br.ReadUint16()
	return int16(n), err
}

func (br *ByteUnpack) ReadUint32() (uint32, error) {
	if len(br.b)-br.off < SizeofI32 {
		return 0, ErrBufferUnderrun
	}
	n := binary.LittleEndian.Uint32(br.b[br.off:])
	br.off += SizeofI32
	return n, nil
}

func (br *ByteUnpack) ReadInt32() (int32, error) {
	n, err := br.ReadUint32()
	return int32(n), err
}

func (br *ByteUnpack) ReadUint64() (uint64, error) {
	if len(br.b)-br.off < SizeofI64 {
		return 0, ErrBufferUnderrun
	}
	n := binary.LittleEndian.Uint64(br.b[br.off:])
	br.off += SizeofI64
	return n, nil
}

func (br *ByteUnpack) ReadInt64() (int64, error) {
	n, err := br.ReadUint64()
	return int64(n), err
}

// ReadTime reads an int64 nanosecond timestamp (zero => zero time).
func (br *ByteUnpack) ReadTime() (time.Time, error) {
	nanos, err := br.ReadInt64()
	if err != nil || nanos == 0 {
		return time.Time{}, err
	}
	return time.Unix(0, nanos), nil
}

func (br *ByteUnpack) ReadBytes() ([]byte, error) {
	if len(br.b)-br.off < SizeofLen {
		return nil, ErrBufferUnderrun
	}
	l, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	if len(br.b)-br.off < int(l) {
		return nil, ErrBufferUnderrun
	}
	start := br.off
	br.off += int(l)
	return br.b[start : start+int(l)], nil
}

func (br *ByteUnpack) ReadString() (string, error) {
	b, err := br.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (br *ByteUnpack) ReadAny(st Unpacker) error { return st.Unpack(br) }

//////////////
// BytePack //
//////////////

func (bw *BytePack) WriteByte(b byte) {
	bw.b[bw.off] = b
	bw.off++
}

func (bw *BytePack) WriteUint8(b uint8) { bw.WriteByte(b) }

func (bw *BytePack) WriteBool(b bool) {
	if b {
		bw.b[bw.off] = 1
	} else {
		bw.b[bw.off] = 0
	}
	bw.off++
}

func (bw *BytePack) WriteUint16(i uint16) {
	binary.LittleEndian.PutUint16(bw.b[bw.off:], i)
	bw.off += SizeofI16
}

func (bw *BytePack) WriteInt16(i int16) { bw.WriteUint16(uint16(i)) }

func (bw *BytePack) WriteUint32(i uint32) {
	binary.LittleEndian.PutUint32(bw.b[bw.off:], i)
	bw.off += SizeofI32
}

func (bw *BytePack) WriteInt32(i int32) { bw.WriteUint32(uint32(i)) }

func (bw *BytePack) WriteUint64(i uint64) {
	binary.LittleEndian.PutUint64(bw.b[bw.off:], i)
	bw.off += SizeofI64
}

func (bw *BytePack) WriteInt64(i int64) { bw.WriteUint64(uint64(i)) }

func (bw *BytePack) WriteTime(t time.Time) {
	if t.IsZero() {
		bw.WriteInt64(0)
	} else {
		bw.WriteInt64(t.UnixNano())
	}
}

func (bw *BytePack) WriteString(s string) {
	l := len(s)
	bw.WriteUint32(uint32(l))
	if l == 0 {
		return
	}
	written := copy(bw.b[bw.off:], s)
	Assert(written == l)
	bw.off += l
}

func (bw *BytePack) WriteBytes(b []byte) {
	bw.WriteString(*(*string)(unsafe.Pointer(&b)))
}

func (bw *BytePack) WriteAny(st Packer) {
	prev := bw.off
	st.Pack(bw)
	debug.Assertf(bw.off-prev == st.PackedSize(),
		"%T declared %d, saved %d: %+v", st, st.PackedSize(), bw.off-prev, st)
}

func (bw *BytePack) Bytes() []byte { return bw.b[:bw.off] }

// PackBytes is a convenience one-shot for a single Packer.
func PackBytes(st Packer) []byte {
	bw := NewPacker(nil, st.PackedSize())
	st.Pack(bw)
	return bw.Bytes()
}

// UnpackBytes is the mirror one-shot for a single Unpacker.
func UnpackBytes(b []byte, st Unpacker) error {
	return st.Unpack(NewUnpacker(b))
}
