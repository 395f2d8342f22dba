// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/OneOfOne/xxhash"
)

// checksums
const (
	ChecksumNone   = "none"
	ChecksumXXHash = "xxhash"
	ChecksumMD5    = "md5"
	ChecksumCRC32C = "crc32c"
	ChecksumSHA256 = "sha256"
)

type (
	noopHash struct{}

	Cksum struct {
		ty    string
		value string
	}
	CksumHash struct {
		Cksum
		H   hash.Hash
		sum []byte
	}

	ErrBadCksum struct {
		a, b    any
		prefix  string
		context string
	}
)

const (
	badDataCksumPrefix = "BAD DATA CHECKSUM:"
	badMetaCksumPrefix = "BAD META CHECKSUM:"
)

var checksums = NewStrSet(ChecksumNone, ChecksumXXHash, ChecksumMD5, ChecksumCRC32C, ChecksumSHA256)

var NoneCksum = NewCksum(ChecksumNone, "")

func SupportedChecksum(ty string) bool { return checksums.Contains(ty) }

///////////////
// CksumHash //
///////////////

func NewCksumHash(ty string) (ck *CksumHash) {
	ck = &CksumHash{}
	ck.Init(ty)
	return
}

func (ck *CksumHash) Init(ty string) {
	Assert(ck.H == nil)
	ck.ty = ty
	switch ty {
	case ChecksumNone, "":
		ck.ty, ck.H = ChecksumNone, newNoopHash()
	case ChecksumXXHash:
		ck.H = xxhash.New64()
	case ChecksumMD5:
		ck.H = md5.New()
	case ChecksumCRC32C:
		ck.H = NewCRC32C()
	case ChecksumSHA256:
		ck.H = sha256.New()
	default:
		AssertMsg(false, "unknown checksum type: "+ty)
	}
}

func (ck *CksumHash) Sum() []byte { return ck.sum }

func (ck *CksumHash) Finalize() {
	ck.sum = ck.H.Sum(nil)
	ck.value = hex.EncodeToString(ck.sum)
}

func (ck *CksumHash) Equal(to *Cksum) bool { return ck.Cksum.Equal(to) }

///////////
// Cksum //
///////////

func NewCksum(ty, value string) *Cksum { return &Cksum{ty, value} }

func (ck *Cksum) Type() string           { return ck.ty }
func (ck *Cksum) Value() string          { return ck.value }
func (ck *Cksum) Get() (string, string)  { return ck.ty, ck.value }
func (ck *Cksum) Clone() *Cksum          { return &Cksum{ty: ck.ty, value: ck.value} }
func (ck *Cksum) IsEmpty() bool          { return ck == nil || ck.ty == "" || ck.ty == ChecksumNone }

func (ck *Cksum) Equal(to *Cksum) bool {
	if ck.IsEmpty() || to.IsEmpty() {
		return false
	}
	return ck.ty == to.ty && ck.value == to.value
}

func (ck *Cksum) String() string {
	if ck == nil {
		return "checksum <nil>"
	}
	return ck.ty + "[" + ck.value + "]"
}

func NewCRC32C() hash.Hash {
	return crc32.New(crc32.MakeTable(crc32.Castagnoli))
}

/////////////////
// ErrBadCksum //
/////////////////

func NewErrDataCksum(a, b *Cksum, context ...string) error {
	ctx := ""
	if len(context) > 0 {
		ctx = context[0]
	}
	return &ErrBadCksum{prefix: badDataCksumPrefix, a: a, b: b, context: ctx}
}

func NewErrMetaCksum(a, b uint64, context ...string) error {
	ctx := ""
	if len(context) > 0 {
		ctx = context[0]
	}
	return &ErrBadCksum{prefix: badMetaCksumPrefix, a: a, b: b, context: ctx}
}

func (e *ErrBadCksum) Error() string {
	var context string
	if e.context != "" {
		context = " (context: " + e.context + ")"
	}
	cka, ok1 := e.a.(*Cksum)
	ckb, ok2 := e.b.(*Cksum)
	if ok1 && ok2 {
		if cka != nil && ckb == nil {
			return fmt.Sprintf("%s (%s != %v)%s", e.prefix, cka, ckb, context)
		} else if cka == nil && ckb != nil {
			return fmt.Sprintf("%s (%v != %s)%s", e.prefix, cka, ckb, context)
		} else if cka == nil && ckb == nil {
			return fmt.Sprintf("%s (nil != nil)%s", e.prefix, context)
		}
		t1, v1 := cka.Get()
		t2, v2 := ckb.Get()
		if t1 == t2 {
			return fmt.Sprintf("%s %s(%s != %s)%s", e.prefix, t1, v1, v2, context)
		}
	}
	return fmt.Sprintf("%s (%v != %v)%s", e.prefix, e.a, e.b, context)
}

func IsErrBadCksum(err error) bool {
	_, ok := err.(*ErrBadCksum)
	return ok
}

//////////////
// noopHash //
//////////////

func newNoopHash() hash.Hash                     { return &noopHash{} }
func (*noopHash) Write(b []byte) (int, error)    { return len(b), nil }
func (*noopHash) Sum([]byte) []byte              { return nil }
func (*noopHash) Reset()                         {}
func (*noopHash) Size() int                      { return 0 }
func (*noopHash) BlockSize() int                 { return KiB }
func (*noopHash) MarshalBinary() ([]byte, error) { return nil, nil }
func (*noopHash) UnmarshalBinary([]byte) error   { return nil }
