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

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
)

// IOCtx is a handle into one pool. Namespace, snap context, and
// last-version state are per-handle; the data they address is shared
// across all handles of the cluster. lastVer is atomic: async ops
// complete on finisher goroutines.
type IOCtx struct {
	c          *Cluster
	p          *pool
	ns         string
	snapc      SnapContext
	instanceID uint64
	snapRead   uint64
	lastVer    atomic.Uint64
}

func (ix *IOCtx) Pool() string         { return ix.p.name }
func (ix *IOCtx) PoolID() int64        { return ix.p.id }
func (ix *IOCtx) Namespace() string    { return ix.ns }
func (ix *IOCtx) InstanceID() uint64   { return ix.instanceID }
func (ix *IOCtx) Cluster() *Cluster    { return ix.c }
func (ix *IOCtx) PoolStats() PoolStats { return ix.p.stats() }

func (ix *IOCtx) key(oid string) objKey { return objKey{ns: ix.ns, oid: oid} }

func (ix *IOCtx) SetNamespace(ns string) { ix.ns = ns }

// GetLastVersion reports the entry version assigned to this handle's
// most recently completed op.
func (ix *IOCtx) GetLastVersion() uint64 { return ix.lastVer.Load() }

// SetSnapRead pins subsequent reads of this handle to the given
// self-managed snap id; cos.NoSnap restores head reads.
func (ix *IOCtx) SetSnapRead(snapID uint64) { ix.snapRead = snapID }

func (ix *IOCtx) SnapRead() uint64 { return ix.snapRead }

// SetSnapContext installs the write snap context: Snaps in descending
// order, none newer than Seq.
func (ix *IOCtx) SetSnapContext(snapc SnapContext) error {
	for i, id := range snapc.Snaps {
		if id > snapc.Seq || (i > 0 && snapc.Snaps[i-1] <= id) {
			return cos.ErrInvalid
		}
	}
	ix.snapc = snapc
	return nil
}

func (ix *IOCtx) Operate(oid string, op *WriteOp) error { return ix.operateOn(oid, op.steps, true) }

func (ix *IOCtx) OperateRead(oid string, op *ReadOp) error {
	return ix.operateOn(oid, op.steps, false)
}

//
// single-step convenience wrappers
//

func (ix *IOCtx) Create(oid string, exclusive bool) error {
	return ix.Operate(oid, NewWriteOp().Create(exclusive))
}

func (ix *IOCtx) Write(oid string, ofs int64, b []byte) error {
	return ix.Operate(oid, NewWriteOp().Write(ofs, b))
}

func (ix *IOCtx) WriteFull(oid string, b []byte) error {
	return ix.Operate(oid, NewWriteOp().WriteFull(b))
}

func (ix *IOCtx) Append(oid string, b []byte) error {
	return ix.Operate(oid, NewWriteOp().Append(b))
}

func (ix *IOCtx) Remove(oid string) error { return ix.Operate(oid, NewWriteOp().Remove()) }

func (ix *IOCtx) Truncate(oid string, size uint64) error {
	return ix.Operate(oid, NewWriteOp().Truncate(size))
}

func (ix *IOCtx) Zero(oid string, ofs, length uint64) error {
	return ix.Operate(oid, NewWriteOp().Zero(ofs, length))
}

func (ix *IOCtx) Read(oid string, ofs, length int64) (b []byte, err error) {
	err = ix.OperateRead(oid, NewReadOp().Read(ofs, length, &b))
	return
}

func (ix *IOCtx) Stat(oid string) (size uint64, mtime time.Time, err error) {
	err = ix.OperateRead(oid, NewReadOp().Stat(&size, &mtime))
	return
}

func (ix *IOCtx) GetXattr(oid, name string) (b []byte, err error) {
	err = ix.OperateRead(oid, NewReadOp().GetXattr(name, &b))
	return
}

func (ix *IOCtx) GetXattrs(oid string) (m map[string][]byte, err error) {
	err = ix.OperateRead(oid, NewReadOp().GetXattrs(&m))
	return
}

func (ix *IOCtx) SetXattr(oid, name string, value []byte) error {
	return ix.Operate(oid, NewWriteOp().SetXattr(name, value))
}

func (ix *IOCtx) RmXattr(oid, name string) error {
	return ix.Operate(oid, NewWriteOp().RmXattr(name))
}

func (ix *IOCtx) OmapSet(oid string, vals map[string][]byte) error {
	return ix.Operate(oid, NewWriteOp().OmapSet(vals))
}

func (ix *IOCtx) OmapSetVal(oid, key string, value []byte) error {
	return ix.OmapSet(oid, map[string][]byte{key: value})
}

func (ix *IOCtx) OmapRmKeys(oid string, keys ...string) error {
	return ix.Operate(oid, NewWriteOp().OmapRmKeys(keys...))
}

func (ix *IOCtx) OmapClear(oid string) error { return ix.Operate(oid, NewWriteOp().OmapClear()) }

func (ix *IOCtx) OmapGetVals(oid, startAfter, prefix string, maxReturn int) (m map[string][]byte, more bool, err error) {
	err = ix.OperateRead(oid, NewReadOp().OmapGetVals(startAfter, prefix, maxReturn, &m, &more))
	return
}

func (ix *IOCtx) OmapGetValsByKeys(oid string, keys []string) (m map[string][]byte, err error) {
	err = ix.OperateRead(oid, NewReadOp().OmapGetValsByKeys(keys, &m))
	return
}

// OmapGetVal reads a single key; missing => -ENOENT.
func (ix *IOCtx) OmapGetVal(oid, key string) ([]byte, error) {
	m, err := ix.OmapGetValsByKeys(oid, []string{key})
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, cos.ErrNotFound
	}
	return v, nil
}

// ListObjects returns the oids of this handle's namespace, sorted.
func (ix *IOCtx) ListObjects() []string { return ix.p.listKeys(ix.ns) }

///////////////
// snapshots //
///////////////

func (ix *IOCtx) SelfmanagedSnapCreate() uint64 {
	return ix.c.selfmanagedSnapCreate(ix.p)
}

func (ix *IOCtx) SelfmanagedSnapRemove(snapID uint64) error {
	return ix.c.selfmanagedSnapRemove(ix.p, snapID)
}

// SelfmanagedSnapRollback restores the object to its state at the given
// snap; an object absent at that snap gets removed.
func (ix *IOCtx) SelfmanagedSnapRollback(oid string, snapID uint64) error {
	st := step{name: "snap-rollback", fn: func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		data, exts, err := o.resolveRead(snapID)
		if err != nil {
			if cos.IsErrNotFound(err) {
				oc.mutate(o)
				oc.removed = true
				return nil
			}
			return err
		}
		oc.mutate(o)
		cp := make([]byte, len(data))
		copy(cp, data)
		o.data = cp
		o.exts = append(o.exts[:0:0], exts...)
		return nil
	}}
	return ix.operateOn(oid, []step{st}, true)
}

// ListSnaps reports the object's preserved clones together with the
// live snap ids each covers. Clones covering no live snap are elided.
func (ix *IOCtx) ListSnaps(oid string) (sns []SnapClone, err error) {
	live := ix.p.liveSnaps()
	st := step{name: "list-snaps", fn: func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		sns = o.snapClones(live)
		return nil
	}}
	err = ix.operateOn(oid, []step{st}, false)
	return
}
