// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
)

// clsBackend adapts the op execution context to the class-method
// framework: handlers run as op steps, under the object lock. Reads go
// against the head (class methods never see snap state).
type clsBackend struct {
	oc *opCtx
}

// interface guard
var _ cls.Backend = (*clsBackend)(nil)

// wr blocks write-flagged methods invoked through the read path: the
// object lock is shared there.
func (b *clsBackend) wr() error {
	if !b.oc.write {
		return cos.ErrPermission
	}
	return nil
}

func (b *clsBackend) Read(ofs, length int64) ([]byte, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return nil, err
	}
	return o.readAt(ofs, length), nil
}

func (b *clsBackend) Stat() (uint64, time.Time, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return 0, time.Time{}, err
	}
	return uint64(len(o.data)), o.mtime, nil
}

func (b *clsBackend) GetXattr(name string) ([]byte, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return nil, err
	}
	v, ok := o.xattrs[name]
	if !ok {
		return nil, cos.ErrNoData
	}
	return append([]byte(nil), v...), nil
}

func (b *clsBackend) GetXattrs() (map[string][]byte, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return nil, err
	}
	m := make(map[string][]byte, len(o.xattrs))
	for k, v := range o.xattrs {
		m[k] = append([]byte(nil), v...)
	}
	return m, nil
}

func (b *clsBackend) OmapGetVals(startAfter, prefix string, maxReturn int) (map[string][]byte, bool, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return nil, false, err
	}
	vals, more := omapPage(o.omap, startAfter, prefix, maxReturn)
	return vals, more, nil
}

func (b *clsBackend) OmapGetValsByKeys(keys []string) (map[string][]byte, error) {
	o, err := b.oc.obj(false)
	if err != nil {
		return nil, err
	}
	m := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := o.omap[k]; ok {
			m[k] = append([]byte(nil), v...)
		}
	}
	return m, nil
}

func (b *clsBackend) Version() uint64 {
	o, err := b.oc.obj(false)
	if err != nil {
		return 0
	}
	return o.version
}

func (b *clsBackend) SnapContext() (uint64, []uint64) {
	return b.oc.snapc.Seq, b.oc.snapc.Snaps
}

func (b *clsBackend) Create(exclusive bool) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	if exclusive && !b.oc.created {
		return cos.ErrExists
	}
	b.oc.mutate(o)
	return nil
}

func (b *clsBackend) Write(ofs int64, data []byte) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	o.writeAt(ofs, data)
	return nil
}

func (b *clsBackend) WriteFull(data []byte) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	o.writeFull(data)
	return nil
}

func (b *clsBackend) Truncate(size uint64) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	o.truncate(size)
	return nil
}

func (b *clsBackend) Remove() error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(false)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	b.oc.removed = true
	return nil
}

func (b *clsBackend) SetXattr(name string, value []byte) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	o.xattrs[name] = append([]byte(nil), value...)
	return nil
}

func (b *clsBackend) RmXattr(name string) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(false)
	if err != nil {
		return err
	}
	if _, ok := o.xattrs[name]; !ok {
		return cos.ErrNoData
	}
	b.oc.mutate(o)
	delete(o.xattrs, name)
	return nil
}

func (b *clsBackend) OmapSet(kvs map[string][]byte) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(true)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	for k, v := range kvs {
		o.omap[k] = append([]byte(nil), v...)
	}
	return nil
}

func (b *clsBackend) OmapRmKeys(keys []string) error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(false)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	for _, k := range keys {
		delete(o.omap, k)
	}
	return nil
}

func (b *clsBackend) OmapClear() error {
	if err := b.wr(); err != nil {
		return err
	}
	o, err := b.oc.obj(false)
	if err != nil {
		return err
	}
	b.oc.mutate(o)
	clear(o.omap)
	return nil
}

//////////
// exec //
//////////

// Exec runs a registered class method as one step of the op.
func (w *WriteOp) Exec(class, mth string, in []byte) *WriteOp {
	return w.ExecOut(class, mth, in, nil)
}

// ExecOut additionally captures the method's reply payload.
func (w *WriteOp) ExecOut(class, mth string, in []byte, out *[]byte) *WriteOp {
	return w.add("call "+class+"."+mth, func(oc *opCtx) error {
		hctx := cls.NewContext(&clsBackend{oc}, oc.p.name, oc.key.oid, oc.origin())
		b, err := oc.c.reg.Call(hctx, class, mth, in)
		if err != nil {
			return err
		}
		if out != nil {
			*out = b
		}
		return nil
	})
}

func (r *ReadOp) Exec(class, mth string, in []byte, out *[]byte) *ReadOp {
	return r.add("call "+class+"."+mth, func(oc *opCtx) error {
		hctx := cls.NewContext(&clsBackend{oc}, oc.p.name, oc.key.oid, oc.origin())
		b, err := oc.c.reg.Call(hctx, class, mth, in)
		if err != nil {
			return err
		}
		if out != nil {
			*out = b
		}
		return nil
	})
}

// Exec is the single-method convenience; it always runs on the write
// path, the method's own RD/WR registration still gates mutation.
func (ix *IOCtx) Exec(oid, class, mth string, in []byte) (out []byte, _ error) {
	err := ix.Operate(oid, NewWriteOp().ExecOut(class, mth, in, &out))
	return out, err
}
