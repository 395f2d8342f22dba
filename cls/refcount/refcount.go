// Package refcount tracks tagged references to a shared object: the
// object removes itself when the last reference is put. An object
// written before refcounting carries an implicit wildcard reference.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package refcount

import (
	"sort"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

const (
	refcountAttr = "refcount"

	// the implicit reference of a pre-refcount object
	wildcardTag = ""
)

type (
	Op struct {
		Tag         string
		ImplicitRef bool
	}

	SetOp struct {
		Refs []string
	}

	ReadReply struct {
		Refs []string // sorted
	}

	// stored record: live references and tags already put (the latter
	// make put idempotent under retried deletes)
	refs struct {
		Live    []string
		Retired []string
	}
)

// interface guards
var (
	_ cos.Packer   = (*Op)(nil)
	_ cos.Unpacker = (*Op)(nil)
	_ cos.Packer   = (*refs)(nil)
	_ cos.Unpacker = (*refs)(nil)
)

func Register(reg *cls.Registry) {
	reg.Register("refcount", "get", cls.RD|cls.WR, get)
	reg.Register("refcount", "put", cls.RD|cls.WR, put)
	reg.Register("refcount", "set", cls.RD|cls.WR, set)
	reg.Register("refcount", "read", cls.RD, read)
}

func readRefs(hctx *cls.Context, implicit bool) (*refs, error) {
	b, err := hctx.GetXattr(refcountAttr)
	if err != nil {
		if err != cos.ErrNoData {
			return nil, err
		}
		r := &refs{}
		if implicit {
			r.Live = []string{wildcardTag}
		}
		return r, nil
	}
	r := &refs{}
	if cos.UnpackBytes(b, r) != nil {
		return nil, cos.ErrIO
	}
	return r, nil
}

func writeRefs(hctx *cls.Context, r *refs) error {
	return hctx.SetXattr(refcountAttr, cos.PackBytes(r))
}

func index(tags []string, tag string) int {
	for i, t := range tags {
		if t == tag {
			return i
		}
	}
	return -1
}

func get(hctx *cls.Context, in []byte) ([]byte, error) {
	var op Op
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	r, err := readRefs(hctx, op.ImplicitRef)
	if err != nil {
		return nil, err
	}
	if index(r.Live, op.Tag) < 0 {
		r.Live = append(r.Live, op.Tag)
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("refcount get %s: tag=%q refs=%d", hctx.Oid(), op.Tag, len(r.Live))
	}
	return nil, writeRefs(hctx, r)
}

func put(hctx *cls.Context, in []byte) ([]byte, error) {
	var op Op
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	r, err := readRefs(hctx, op.ImplicitRef)
	if err != nil {
		return nil, err
	}
	if len(r.Live) == 0 {
		return nil, cos.ErrInvalid // put without any reference
	}
	at := index(r.Live, op.Tag)
	if at < 0 && op.ImplicitRef {
		at = index(r.Live, wildcardTag)
	}
	if at < 0 || index(r.Retired, op.Tag) >= 0 {
		return nil, nil // retried put: noop
	}
	r.Retired = append(r.Retired, op.Tag)
	r.Live = append(r.Live[:at], r.Live[at+1:]...)
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("refcount put %s: tag=%q refs=%d", hctx.Oid(), op.Tag, len(r.Live))
	}
	if len(r.Live) == 0 {
		return nil, hctx.Remove()
	}
	return nil, writeRefs(hctx, r)
}

func set(hctx *cls.Context, in []byte) ([]byte, error) {
	var op SetOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if len(op.Refs) == 0 {
		return nil, hctx.Remove()
	}
	return nil, writeRefs(hctx, &refs{Live: op.Refs})
}

func read(hctx *cls.Context, in []byte) ([]byte, error) {
	var op Op
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	r, err := readRefs(hctx, op.ImplicitRef)
	if err != nil {
		return nil, err
	}
	reply := ReadReply{Refs: append([]string(nil), r.Live...)}
	sort.Strings(reply.Refs)
	return cos.PackBytes(&reply), nil
}

//
// payloads
//

func (op *Op) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Tag)
	bw.WriteBool(op.ImplicitRef)
}

func (op *Op) PackedSize() int { return 2*cos.SizeofI8 + cos.PackedStrLen(op.Tag) }

func (op *Op) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	op.ImplicitRef, err = br.ReadBool()
	return err
}

func packStrs(bw *cos.BytePack, tags []string) {
	bw.WriteUint32(uint32(len(tags)))
	for _, t := range tags {
		bw.WriteString(t)
	}
}

func packedStrsLen(tags []string) int {
	n := cos.SizeofLen
	for _, t := range tags {
		n += cos.PackedStrLen(t)
	}
	return n
}

func unpackStrs(br *cos.ByteUnpack) ([]string, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	tags := make([]string, n)
	for i := range tags {
		if tags[i], err = br.ReadString(); err != nil {
			return nil, err
		}
	}
	return tags, nil
}

func (op *SetOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	packStrs(bw, op.Refs)
}

func (op *SetOp) PackedSize() int { return cos.SizeofI8 + packedStrsLen(op.Refs) }

func (op *SetOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	op.Refs, err = unpackStrs(br)
	return err
}

func (r *ReadReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	packStrs(bw, r.Refs)
}

func (r *ReadReply) PackedSize() int { return cos.SizeofI8 + packedStrsLen(r.Refs) }

func (r *ReadReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	r.Refs, err = unpackStrs(br)
	return err
}

func (r *refs) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	packStrs(bw, r.Live)
	packStrs(bw, r.Retired)
}

func (r *refs) PackedSize() int {
	return cos.SizeofI8 + packedStrsLen(r.Live) + packedStrsLen(r.Retired)
}

func (r *refs) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Live, err = unpackStrs(br); err != nil {
		return err
	}
	r.Retired, err = unpackStrs(br)
	return err
}
