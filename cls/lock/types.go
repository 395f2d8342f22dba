// Package lock implements named advisory locks on an object: one
// exclusive holder or many shared holders per lock name, each keyed
// by (entity, cookie) and optionally expiring.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package lock

import (
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
)

const (
	None      = uint8(0)
	Exclusive = uint8(1)
	Shared    = uint8(2)
)

// FlagRenew re-acquires a lock this caller already holds instead of
// failing with -EEXIST.
const FlagRenew = uint8(1)

// lock state is an xattr per lock name
const attrPrefix = "lock."

type (
	LockOp struct {
		Name        string
		Cookie      string
		Tag         string
		Description string
		Duration    time.Duration // zero = never expires
		Type        uint8
		Flags       uint8
	}

	UnlockOp struct {
		Name   string
		Cookie string
	}

	// BreakOp releases another entity's hold; cookie and locker name
	// both from the payload, not the request origin.
	BreakOp struct {
		Name   string
		Locker string
		Cookie string
	}

	GetInfoOp struct {
		Name string
	}

	AssertOp struct {
		Name   string
		Cookie string
		Tag    string
		Type   uint8
	}

	Locker struct {
		Entity      string
		Cookie      string
		Addr        string
		Description string
		Expiration  time.Time // zero = never expires
	}

	// Info is both the stored per-name record and the get_info reply.
	Info struct {
		Lockers []Locker
		Tag     string
		Type    uint8
	}

	ListReply struct {
		Names []string // sorted
	}
)

// interface guards
var (
	_ cos.Packer   = (*LockOp)(nil)
	_ cos.Unpacker = (*LockOp)(nil)
	_ cos.Packer   = (*Info)(nil)
	_ cos.Unpacker = (*Info)(nil)
)

func (op *LockOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteUint8(op.Type)
	bw.WriteString(op.Cookie)
	bw.WriteString(op.Tag)
	bw.WriteString(op.Description)
	bw.WriteInt64(int64(op.Duration))
	bw.WriteUint8(op.Flags)
}

func (op *LockOp) PackedSize() int {
	return 3*cos.SizeofI8 + cos.SizeofI64 + cos.PackedStrLen(op.Name) +
		cos.PackedStrLen(op.Cookie) + cos.PackedStrLen(op.Tag) + cos.PackedStrLen(op.Description)
}

func (op *LockOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Type, err = br.ReadUint8(); err != nil {
		return err
	}
	if op.Cookie, err = br.ReadString(); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	if op.Description, err = br.ReadString(); err != nil {
		return err
	}
	var d int64
	if d, err = br.ReadInt64(); err != nil {
		return err
	}
	op.Duration = time.Duration(d)
	op.Flags, err = br.ReadUint8()
	return err
}

func (op *UnlockOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.Cookie)
}

func (op *UnlockOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Cookie)
}

func (op *UnlockOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	op.Cookie, err = br.ReadString()
	return err
}

func (op *BreakOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.Locker)
	bw.WriteString(op.Cookie)
}

func (op *BreakOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Locker) + cos.PackedStrLen(op.Cookie)
}

func (op *BreakOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Locker, err = br.ReadString(); err != nil {
		return err
	}
	op.Cookie, err = br.ReadString()
	return err
}

func (op *GetInfoOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
}

func (op *GetInfoOp) PackedSize() int { return cos.SizeofI8 + cos.PackedStrLen(op.Name) }

func (op *GetInfoOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	op.Name, err = br.ReadString()
	return err
}

func (op *AssertOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteUint8(op.Type)
	bw.WriteString(op.Cookie)
	bw.WriteString(op.Tag)
}

func (op *AssertOp) PackedSize() int {
	return 2*cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Cookie) + cos.PackedStrLen(op.Tag)
}

func (op *AssertOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Type, err = br.ReadUint8(); err != nil {
		return err
	}
	if op.Cookie, err = br.ReadString(); err != nil {
		return err
	}
	op.Tag, err = br.ReadString()
	return err
}

func (l *Locker) Pack(bw *cos.BytePack) {
	bw.WriteString(l.Entity)
	bw.WriteString(l.Cookie)
	bw.WriteString(l.Addr)
	bw.WriteString(l.Description)
	bw.WriteTime(l.Expiration)
}

func (l *Locker) packedSize() int {
	return cos.SizeofI64 + cos.PackedStrLen(l.Entity) + cos.PackedStrLen(l.Cookie) +
		cos.PackedStrLen(l.Addr) + cos.PackedStrLen(l.Description)
}

func (l *Locker) unpack(br *cos.ByteUnpack) (err error) {
	if l.Entity, err = br.ReadString(); err != nil {
		return err
	}
	if l.Cookie, err = br.ReadString(); err != nil {
		return err
	}
	if l.Addr, err = br.ReadString(); err != nil {
		return err
	}
	if l.Description, err = br.ReadString(); err != nil {
		return err
	}
	l.Expiration, err = br.ReadTime()
	return err
}

func (li *Info) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint8(li.Type)
	bw.WriteString(li.Tag)
	bw.WriteUint32(uint32(len(li.Lockers)))
	for i := range li.Lockers {
		li.Lockers[i].Pack(bw)
	}
}

func (li *Info) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.PackedStrLen(li.Tag) + cos.SizeofLen
	for i := range li.Lockers {
		n += li.Lockers[i].packedSize()
	}
	return n
}

func (li *Info) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if li.Type, err = br.ReadUint8(); err != nil {
		return err
	}
	if li.Tag, err = br.ReadString(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	li.Lockers = make([]Locker, n)
	for i := range li.Lockers {
		if err = li.Lockers[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (r *ListReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(r.Names)))
	for _, name := range r.Names {
		bw.WriteString(name)
	}
}

func (r *ListReply) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for _, name := range r.Names {
		n += cos.PackedStrLen(name)
	}
	return n
}

func (r *ListReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Names = make([]string, n)
	for i := range r.Names {
		if r.Names[i], err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}
