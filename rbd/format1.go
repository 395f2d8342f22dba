/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// Legacy format-1 state is a single packed record, the whole payload
// of the "<name>.rbd" object. No layering, no striping, no class
// methods; kept so old images remain usable.

type (
	oldSnap struct {
		ID   uint64
		Name string
		Size uint64
	}

	oldHeader struct {
		Size    uint64
		Order   uint8
		Prefix  string
		SnapSeq uint64
		Snaps   []oldSnap // ascending id
	}
)

// interface guards
var (
	_ cos.Packer   = (*oldHeader)(nil)
	_ cos.Unpacker = (*oldHeader)(nil)
)

func (h *oldHeader) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint64(h.Size)
	bw.WriteUint8(h.Order)
	bw.WriteString(h.Prefix)
	bw.WriteUint64(h.SnapSeq)
	bw.WriteUint32(uint32(len(h.Snaps)))
	for i := range h.Snaps {
		bw.WriteUint64(h.Snaps[i].ID)
		bw.WriteString(h.Snaps[i].Name)
		bw.WriteUint64(h.Snaps[i].Size)
	}
}

func (h *oldHeader) PackedSize() int {
	n := 2*cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(h.Prefix) + cos.SizeofLen
	for i := range h.Snaps {
		n += 2*cos.SizeofI64 + cos.PackedStrLen(h.Snaps[i].Name)
	}
	return n
}

func (h *oldHeader) Unpack(br *cos.ByteUnpack) (err error) {
	var ver uint8
	if ver, err = br.ReadUint8(); err != nil {
		return err
	}
	if ver != 1 {
		return cos.ErrBadMsg
	}
	if h.Size, err = br.ReadUint64(); err != nil {
		return err
	}
	if h.Order, err = br.ReadUint8(); err != nil {
		return err
	}
	if h.Prefix, err = br.ReadString(); err != nil {
		return err
	}
	if h.SnapSeq, err = br.ReadUint64(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	h.Snaps = make([]oldSnap, n)
	for i := range h.Snaps {
		if h.Snaps[i].ID, err = br.ReadUint64(); err != nil {
			return err
		}
		if h.Snaps[i].Name, err = br.ReadString(); err != nil {
			return err
		}
		if h.Snaps[i].Size, err = br.ReadUint64(); err != nil {
			return err
		}
	}
	return nil
}

func readOldHeader(ix *rados.IOCtx, name string) (*oldHeader, error) {
	b, err := ix.Read(oldHeaderOid(name), 0, -1)
	if err != nil {
		return nil, err
	}
	h := &oldHeader{}
	if err := cos.UnpackBytes(b, h); err != nil {
		return nil, cos.ErrBadMsg
	}
	return h, nil
}

func writeOldHeader(ix *rados.IOCtx, name string, h *oldHeader) error {
	return ix.WriteFull(oldHeaderOid(name), cos.PackBytes(h))
}
