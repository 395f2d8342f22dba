// Package cls is the class-method framework: named object methods
// registered per cluster and executed atomically against a single
// object under its lock.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cls

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/radstore/cmn/cos"
)

// Every method payload - request and reply alike - is a bytepack
// layout with a leading u8 version. Unmarshal is the decode entry
// point: any failure, including an unknown version, comes back as
// -EBADMSG so a caller can tell payload rot from method errors.

func Unmarshal(b []byte, st cos.Unpacker) error {
	if err := cos.UnpackBytes(b, st); err != nil {
		return fmt.Errorf("%T: %v: %w", st, err, cos.ErrBadMsg)
	}
	return nil
}

// Ver consumes the leading version byte.
func Ver(br *cos.ByteUnpack, want uint8) error {
	v, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if v != want {
		return fmt.Errorf("layout version %d (expected %d)", v, want)
	}
	return nil
}

// SortedKeys orders an omap page; paged scans rely on it to advance
// last-read deterministically.
func SortedKeys(vals map[string][]byte) []string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scalar payloads, for the many methods whose in or out is a single
// value. Anything with more than one field gets a named type in its
// backend package.
type (
	Str   struct{ S string }
	Bytes struct{ B []byte }
	U64   struct{ V uint64 }
	U8    struct{ V uint8 }
)

// interface guards
var (
	_ cos.Packer   = (*Str)(nil)
	_ cos.Unpacker = (*Str)(nil)
	_ cos.Packer   = (*Bytes)(nil)
	_ cos.Unpacker = (*Bytes)(nil)
	_ cos.Packer   = (*U64)(nil)
	_ cos.Unpacker = (*U64)(nil)
	_ cos.Packer   = (*U8)(nil)
	_ cos.Unpacker = (*U8)(nil)
)

func (p *Str) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(p.S)
}

func (p *Str) PackedSize() int { return cos.SizeofI8 + cos.PackedStrLen(p.S) }

func (p *Str) Unpack(br *cos.ByteUnpack) (err error) {
	if err = Ver(br, 1); err != nil {
		return err
	}
	p.S, err = br.ReadString()
	return err
}

func (p *Bytes) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteBytes(p.B)
}

func (p *Bytes) PackedSize() int { return cos.SizeofI8 + cos.PackedBytesLen(p.B) }

func (p *Bytes) Unpack(br *cos.ByteUnpack) (err error) {
	if err = Ver(br, 1); err != nil {
		return err
	}
	p.B, err = br.ReadBytes()
	return err
}

func (p *U64) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(p.V)
}

func (p *U64) PackedSize() int { return cos.SizeofI8 + cos.SizeofI64 }

func (p *U64) Unpack(br *cos.ByteUnpack) (err error) {
	if err = Ver(br, 1); err != nil {
		return err
	}
	p.V, err = br.ReadUint64()
	return err
}

func (p *U8) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint8(p.V)
}

func (p *U8) PackedSize() int { return 2 * cos.SizeofI8 }

func (p *U8) Unpack(br *cos.ByteUnpack) (err error) {
	if err = Ver(br, 1); err != nil {
		return err
	}
	p.V, err = br.ReadUint8()
	return err
}
