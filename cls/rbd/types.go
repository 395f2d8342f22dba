// Package rbd implements the image-header class: format-2 image state
// kept in omap of the header object, plus the image directory and the
// clone children directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
)

// Image feature bits. Incompatible features make an image unreadable
// to code that does not know them; RW-incompatible only block writers.
const (
	FeatureLayering      = uint64(1) << 0
	FeatureStripingV2    = uint64(1) << 1
	FeatureExclusiveLock = uint64(1) << 2
	FeatureObjectMap     = uint64(1) << 3

	FeaturesAll            = FeatureLayering | FeatureStripingV2 | FeatureExclusiveLock | FeatureObjectMap
	FeaturesIncompatible   = FeatureLayering | FeatureStripingV2
	FeaturesRWIncompatible = FeaturesAll
)

// Snapshot protection: unprotect transitions through Unprotecting so
// a crashed unprotect can be detected and restarted.
const (
	ProtectionUnprotected  = uint8(0)
	ProtectionUnprotecting = uint8(1)
	ProtectionProtected    = uint8(2)

	protectionLast = uint8(3)
)

// MaxSnap bounds real snapshot ids; cos.NoSnap addresses the head.
const MaxSnap = cos.NoSnap - 100

type (
	CreateOp struct {
		ObjectPrefix string
		Size         uint64
		Features     uint64
		Order        uint8
	}

	GetFeaturesOp struct {
		SnapID   uint64
		ReadOnly bool
	}

	FeaturesReply struct {
		Features     uint64
		Incompatible uint64
	}

	SizeReply struct {
		Size  uint64
		Order uint8
	}

	SnapContextReply struct {
		Seq   uint64
		Snaps []uint64 // descending
	}

	SnapshotAddOp struct {
		Name string
		ID   uint64
	}

	// Parent is both the stored parent pointer and the get/set_parent
	// payload. On set_parent the Overlap field carries the parent
	// image size; the stored overlap is clamped to the child size.
	Parent struct {
		ID      string
		Pool    int64
		Snap    uint64
		Overlap uint64
	}

	// ParentSnap keys the children directory: one parent snapshot,
	// many child image ids.
	ParentSnap struct {
		ID   string
		Pool int64
		Snap uint64
	}

	ChildOp struct {
		Parent ParentSnap
		Child  string
	}

	ChildrenReply struct {
		Children []string // sorted
	}

	ProtectionOp struct {
		SnapID uint64
		Status uint8
	}

	StripeSpec struct {
		Unit  uint64
		Count uint64
	}

	FlagsOp struct {
		Flags uint64
		Mask  uint64
	}

	DirImage struct {
		Name string
		ID   string
	}

	DirImageOp struct {
		Name string
		ID   string
	}

	DirRenameOp struct {
		Src  string
		Dest string
		ID   string
	}

	DirListOp struct {
		StartAfter string
		Max        uint64
	}

	DirListReply struct {
		Images []DirImage // sorted by name
	}

	// snapMeta is the stored "snapshot_%016x" record.
	snapMeta struct {
		Name       string
		ID         uint64
		Size       uint64
		Features   uint64
		Flags      uint64
		Parent     Parent
		Protection uint8
	}
)

// interface guards
var (
	_ cos.Packer   = (*CreateOp)(nil)
	_ cos.Unpacker = (*CreateOp)(nil)
	_ cos.Packer   = (*Parent)(nil)
	_ cos.Unpacker = (*Parent)(nil)
	_ cos.Packer   = (*snapMeta)(nil)
	_ cos.Unpacker = (*snapMeta)(nil)
)

func noParent() Parent { return Parent{Pool: -1, Snap: cos.NoSnap} }

func (p *Parent) Exists() bool {
	return p.Pool >= 0 && p.ID != "" && p.Snap != cos.NoSnap && p.Overlap > 0
}

func (op *CreateOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(op.Size)
	bw.WriteUint8(op.Order)
	bw.WriteUint64(op.Features)
	bw.WriteString(op.ObjectPrefix)
}

func (op *CreateOp) PackedSize() int {
	return 2*cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(op.ObjectPrefix)
}

func (op *CreateOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Size, err = br.ReadUint64(); err != nil {
		return err
	}
	if op.Order, err = br.ReadUint8(); err != nil {
		return err
	}
	if op.Features, err = br.ReadUint64(); err != nil {
		return err
	}
	op.ObjectPrefix, err = br.ReadString()
	return err
}

func (op *GetFeaturesOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(op.SnapID)
	bw.WriteBool(op.ReadOnly)
}

func (op *GetFeaturesOp) PackedSize() int { return 2*cos.SizeofI8 + cos.SizeofI64 }

func (op *GetFeaturesOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.SnapID, err = br.ReadUint64(); err != nil {
		return err
	}
	op.ReadOnly, err = br.ReadBool()
	return err
}

func (r *FeaturesReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(r.Features)
	bw.WriteUint64(r.Incompatible)
}

func (r *FeaturesReply) PackedSize() int { return cos.SizeofI8 + 2*cos.SizeofI64 }

func (r *FeaturesReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Features, err = br.ReadUint64(); err != nil {
		return err
	}
	r.Incompatible, err = br.ReadUint64()
	return err
}

func (r *SizeReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint8(r.Order)
	bw.WriteUint64(r.Size)
}

func (r *SizeReply) PackedSize() int { return 2*cos.SizeofI8 + cos.SizeofI64 }

func (r *SizeReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Order, err = br.ReadUint8(); err != nil {
		return err
	}
	r.Size, err = br.ReadUint64()
	return err
}

func (r *SnapContextReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(r.Seq)
	bw.WriteUint32(uint32(len(r.Snaps)))
	for _, id := range r.Snaps {
		bw.WriteUint64(id)
	}
}

func (r *SnapContextReply) PackedSize() int {
	return cos.SizeofI8 + cos.SizeofI64 + cos.SizeofLen + len(r.Snaps)*cos.SizeofI64
}

func (r *SnapContextReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Seq, err = br.ReadUint64(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Snaps = make([]uint64, n)
	for i := range r.Snaps {
		if r.Snaps[i], err = br.ReadUint64(); err != nil {
			return err
		}
	}
	return nil
}

func (op *SnapshotAddOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteUint64(op.ID)
}

func (op *SnapshotAddOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.SizeofI64
}

func (op *SnapshotAddOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	op.ID, err = br.ReadUint64()
	return err
}

func (p *Parent) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteInt64(p.Pool)
	bw.WriteString(p.ID)
	bw.WriteUint64(p.Snap)
	bw.WriteUint64(p.Overlap)
}

func (p *Parent) PackedSize() int {
	return cos.SizeofI8 + 3*cos.SizeofI64 + cos.PackedStrLen(p.ID)
}

func (p *Parent) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if p.Pool, err = br.ReadInt64(); err != nil {
		return err
	}
	if p.ID, err = br.ReadString(); err != nil {
		return err
	}
	if p.Snap, err = br.ReadUint64(); err != nil {
		return err
	}
	p.Overlap, err = br.ReadUint64()
	return err
}

func (p *ParentSnap) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteInt64(p.Pool)
	bw.WriteString(p.ID)
	bw.WriteUint64(p.Snap)
}

func (p *ParentSnap) PackedSize() int {
	return cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(p.ID)
}

func (p *ParentSnap) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if p.Pool, err = br.ReadInt64(); err != nil {
		return err
	}
	if p.ID, err = br.ReadString(); err != nil {
		return err
	}
	p.Snap, err = br.ReadUint64()
	return err
}

func (op *ChildOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteAny(&op.Parent)
	bw.WriteString(op.Child)
}

func (op *ChildOp) PackedSize() int {
	return cos.SizeofI8 + op.Parent.PackedSize() + cos.PackedStrLen(op.Child)
}

func (op *ChildOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if err = br.ReadAny(&op.Parent); err != nil {
		return err
	}
	op.Child, err = br.ReadString()
	return err
}

func (r *ChildrenReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(r.Children)))
	for _, c := range r.Children {
		bw.WriteString(c)
	}
}

func (r *ChildrenReply) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for _, c := range r.Children {
		n += cos.PackedStrLen(c)
	}
	return n
}

func (r *ChildrenReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Children = make([]string, n)
	for i := range r.Children {
		if r.Children[i], err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

func (op *ProtectionOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(op.SnapID)
	bw.WriteUint8(op.Status)
}

func (op *ProtectionOp) PackedSize() int { return 2*cos.SizeofI8 + cos.SizeofI64 }

func (op *ProtectionOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.SnapID, err = br.ReadUint64(); err != nil {
		return err
	}
	op.Status, err = br.ReadUint8()
	return err
}

func (s *StripeSpec) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(s.Unit)
	bw.WriteUint64(s.Count)
}

func (s *StripeSpec) PackedSize() int { return cos.SizeofI8 + 2*cos.SizeofI64 }

func (s *StripeSpec) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if s.Unit, err = br.ReadUint64(); err != nil {
		return err
	}
	s.Count, err = br.ReadUint64()
	return err
}

func (op *FlagsOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(op.Flags)
	bw.WriteUint64(op.Mask)
}

func (op *FlagsOp) PackedSize() int { return cos.SizeofI8 + 2*cos.SizeofI64 }

func (op *FlagsOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Flags, err = br.ReadUint64(); err != nil {
		return err
	}
	op.Mask, err = br.ReadUint64()
	return err
}

func (op *DirImageOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.ID)
}

func (op *DirImageOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.ID)
}

func (op *DirImageOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	op.ID, err = br.ReadString()
	return err
}

func (op *DirRenameOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Src)
	bw.WriteString(op.Dest)
	bw.WriteString(op.ID)
}

func (op *DirRenameOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Src) + cos.PackedStrLen(op.Dest) + cos.PackedStrLen(op.ID)
}

func (op *DirRenameOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Src, err = br.ReadString(); err != nil {
		return err
	}
	if op.Dest, err = br.ReadString(); err != nil {
		return err
	}
	op.ID, err = br.ReadString()
	return err
}

func (op *DirListOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.StartAfter)
	bw.WriteUint64(op.Max)
}

func (op *DirListOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.StartAfter) + cos.SizeofI64
}

func (op *DirListOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.StartAfter, err = br.ReadString(); err != nil {
		return err
	}
	op.Max, err = br.ReadUint64()
	return err
}

func (r *DirListReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(r.Images)))
	for i := range r.Images {
		bw.WriteString(r.Images[i].Name)
		bw.WriteString(r.Images[i].ID)
	}
}

func (r *DirListReply) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for i := range r.Images {
		n += cos.PackedStrLen(r.Images[i].Name) + cos.PackedStrLen(r.Images[i].ID)
	}
	return n
}

func (r *DirListReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Images = make([]DirImage, n)
	for i := range r.Images {
		if r.Images[i].Name, err = br.ReadString(); err != nil {
			return err
		}
		if r.Images[i].ID, err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

func (s *snapMeta) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(s.ID)
	bw.WriteString(s.Name)
	bw.WriteUint64(s.Size)
	bw.WriteUint64(s.Features)
	bw.WriteUint64(s.Flags)
	bw.WriteAny(&s.Parent)
	bw.WriteUint8(s.Protection)
}

func (s *snapMeta) PackedSize() int {
	return 2*cos.SizeofI8 + 4*cos.SizeofI64 + cos.PackedStrLen(s.Name) + s.Parent.PackedSize()
}

func (s *snapMeta) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if s.ID, err = br.ReadUint64(); err != nil {
		return err
	}
	if s.Name, err = br.ReadString(); err != nil {
		return err
	}
	if s.Size, err = br.ReadUint64(); err != nil {
		return err
	}
	if s.Features, err = br.ReadUint64(); err != nil {
		return err
	}
	if s.Flags, err = br.ReadUint64(); err != nil {
		return err
	}
	if err = br.ReadAny(&s.Parent); err != nil {
		return err
	}
	s.Protection, err = br.ReadUint8()
	return err
}
