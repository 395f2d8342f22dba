// Package mds carries the metadata-journal slice: the on-disk
// journaler state (pointer, head, log objects) plus recovery and the
// post-damage reset. The journal window is [trimmed, write) within an
// unbounded byte stream striped over "<ino>.<seq>" objects; the head
// object (seq 0) never holds data, so the window always starts at or
// past one layout period.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mds

import (
	"context"
	"errors"
	"fmt"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

const JournalMagic = "radstore journal"

const (
	logOffset     = 0x200 // rank r journals at ino 0x200+r
	pointerOffset = 0x400 // rank r pointer at ino 0x400+r
)

// journal event types; Reset appends an EResetJournal so replay knows
// the gap is deliberate.
const (
	EResetJournal = uint32(9)
)

type (
	// JournalPointer names the inos of a rank's journal; front is the
	// live one, back survives mid-swap crashes.
	JournalPointer struct {
		Front uint64
		Back  uint64
	}

	// Layout is the striping of the journal stream.
	Layout struct {
		ObjectSize  uint32
		StripeUnit  uint32
		StripeCount uint32
	}

	// Header is the head object's payload: the window bounds and the
	// layout they are measured in.
	Header struct {
		Magic        string
		TrimmedPos   uint64
		ExpirePos    uint64
		ReadPos      uint64
		WritePos     uint64
		StreamFormat uint8
		Layout       Layout
	}

	// Event is one journal entry record.
	Event struct {
		Stamp int64
		Type  uint32
	}

	// Journal is a recovered journal: its ino, head, and the probed
	// actual end (flushed data may extend past the head's write_pos).
	Journal struct {
		Header *Header
		Ino    uint64
		End    uint64
	}
)

// interface guards
var (
	_ cos.Packer   = (*JournalPointer)(nil)
	_ cos.Unpacker = (*JournalPointer)(nil)
	_ cos.Packer   = (*Header)(nil)
	_ cos.Unpacker = (*Header)(nil)
	_ cos.Packer   = (*Event)(nil)
	_ cos.Unpacker = (*Event)(nil)
)

func pointerOid(rank int) string    { return fmt.Sprintf("%x.%08x", uint64(pointerOffset+rank), 0) }
func headerOid(ino uint64) string   { return fmt.Sprintf("%x.%08x", ino, 0) }
func logOid(ino, idx uint64) string { return fmt.Sprintf("%x.%08x", ino, idx) }

// RankIno is the journal ino of an MDS rank.
func RankIno(rank int) uint64 { return uint64(logOffset + rank) }

func (p *JournalPointer) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(p.Front)
	bw.WriteUint64(p.Back)
}

func (p *JournalPointer) PackedSize() int { return cos.SizeofI8 + 2*cos.SizeofI64 }

func (p *JournalPointer) Unpack(br *cos.ByteUnpack) (err error) {
	var ver uint8
	if ver, err = br.ReadUint8(); err != nil {
		return err
	}
	if ver != 1 {
		return cos.ErrBadMsg
	}
	if p.Front, err = br.ReadUint64(); err != nil {
		return err
	}
	p.Back, err = br.ReadUint64()
	return err
}

func (h *Header) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(h.Magic)
	bw.WriteUint64(h.TrimmedPos)
	bw.WriteUint64(h.ExpirePos)
	bw.WriteUint64(h.ReadPos)
	bw.WriteUint64(h.WritePos)
	bw.WriteUint8(h.StreamFormat)
	bw.WriteUint32(h.Layout.ObjectSize)
	bw.WriteUint32(h.Layout.StripeUnit)
	bw.WriteUint32(h.Layout.StripeCount)
}

func (h *Header) PackedSize() int {
	return 2*cos.SizeofI8 + cos.PackedStrLen(h.Magic) + 4*cos.SizeofI64 + 3*cos.SizeofI32
}

func (h *Header) Unpack(br *cos.ByteUnpack) (err error) {
	var ver uint8
	if ver, err = br.ReadUint8(); err != nil {
		return err
	}
	if ver != 1 {
		return cos.ErrBadMsg
	}
	if h.Magic, err = br.ReadString(); err != nil {
		return err
	}
	if h.TrimmedPos, err = br.ReadUint64(); err != nil {
		return err
	}
	if h.ExpirePos, err = br.ReadUint64(); err != nil {
		return err
	}
	if h.ReadPos, err = br.ReadUint64(); err != nil {
		return err
	}
	if h.WritePos, err = br.ReadUint64(); err != nil {
		return err
	}
	if h.StreamFormat, err = br.ReadUint8(); err != nil {
		return err
	}
	if h.Layout.ObjectSize, err = br.ReadUint32(); err != nil {
		return err
	}
	if h.Layout.StripeUnit, err = br.ReadUint32(); err != nil {
		return err
	}
	h.Layout.StripeCount, err = br.ReadUint32()
	return err
}

// Period is the byte span after which the object walk repeats.
func (l Layout) Period() uint64 { return uint64(l.ObjectSize) * uint64(l.StripeCount) }

func (e *Event) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(e.Type)
	bw.WriteInt64(e.Stamp)
}

func (e *Event) PackedSize() int { return cos.SizeofI8 + cos.SizeofI32 + cos.SizeofI64 }

func (e *Event) Unpack(br *cos.ByteUnpack) (err error) {
	var ver uint8
	if ver, err = br.ReadUint8(); err != nil {
		return err
	}
	if ver != 1 {
		return cos.ErrBadMsg
	}
	if e.Type, err = br.ReadUint32(); err != nil {
		return err
	}
	e.Stamp, err = br.ReadInt64()
	return err
}

// Recover reads a rank's journal pointer and head, then probes forward
// from write_pos for flushed-but-unrecorded data.
func Recover(ctx context.Context, c *rados.Cluster, rank int, pool string) (*Journal, error) {
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return nil, err
	}
	b, err := ix.Read(pointerOid(rank), 0, -1)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, errors.New("journal does not exist on-disk. Did you set a bad rank?")
		}
		return nil, err
	}
	ptr := &JournalPointer{}
	if err := cos.UnpackBytes(b, ptr); err != nil {
		return nil, fmt.Errorf("journal pointer %s: %w", pointerOid(rank), cos.ErrBadMsg)
	}
	j := &Journal{Ino: ptr.Front}
	if j.Header, err = readHeader(ix, j.Ino); err != nil {
		return nil, err
	}
	if j.End, err = probeEnd(ctx, ix, j.Ino, j.Header); err != nil {
		return nil, err
	}
	return j, nil
}

func readHeader(ix *rados.IOCtx, ino uint64) (*Header, error) {
	b, err := ix.Read(headerOid(ino), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("journal head %s: %w", headerOid(ino), err)
	}
	h := &Header{}
	if err := cos.UnpackBytes(b, h); err != nil {
		return nil, fmt.Errorf("journal head %s: %w", headerOid(ino), cos.ErrBadMsg)
	}
	if h.Magic != JournalMagic {
		return nil, fmt.Errorf("journal head %s: bad magic %q: %w", headerOid(ino), h.Magic, cos.ErrBadMsg)
	}
	if h.Layout.Period() == 0 {
		return nil, fmt.Errorf("journal head %s: zero layout: %w", headerOid(ino), cos.ErrBadMsg)
	}
	return h, nil
}

func writeHeader(ix *rados.IOCtx, ino uint64, h *Header) error {
	return ix.WriteFull(headerOid(ino), cos.PackBytes(h))
}

// probeEnd walks objects from the write_pos one until a gap; the end
// is the furthest flushed byte.
func probeEnd(ctx context.Context, ix *rados.IOCtx, ino uint64, h *Header) (uint64, error) {
	var (
		objSize = uint64(h.Layout.ObjectSize)
		end     = h.WritePos
	)
	for idx := h.WritePos / objSize; ; idx++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		size, _, err := ix.Stat(logOid(ino, idx))
		if err != nil {
			if cos.IsErrNotFound(err) {
				return end, nil
			}
			return 0, err
		}
		end = max(end, idx*objSize+size)
	}
}
