// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"bytes"

	"github.com/NVIDIA/radstore/cmn/cos"
)

// WriteOp is an ordered list of mutating steps applied under the
// object's exclusive lock.
type WriteOp struct {
	steps []step
}

func NewWriteOp() *WriteOp { return &WriteOp{steps: make([]step, 0, 4)} }

func (w *WriteOp) add(name string, fn func(oc *opCtx) error) *WriteOp {
	w.steps = append(w.steps, step{name: name, fn: fn})
	return w
}

// Create brings the object into existence; with exclusive set an
// already-existing object fails the op with -EEXIST.
func (w *WriteOp) Create(exclusive bool) *WriteOp {
	return w.add("create", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		if exclusive && !oc.created {
			return cos.ErrExists
		}
		oc.mutate(o)
		return nil
	})
}

func (w *WriteOp) AssertExists() *WriteOp {
	return w.add("assert-exists", func(oc *opCtx) error {
		_, err := oc.obj(false)
		return err
	})
}

func (w *WriteOp) Write(ofs int64, b []byte) *WriteOp {
	return w.add("write", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		o.writeAt(ofs, b)
		return nil
	})
}

func (w *WriteOp) WriteFull(b []byte) *WriteOp {
	return w.add("write-full", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		o.writeFull(b)
		return nil
	})
}

func (w *WriteOp) Append(b []byte) *WriteOp {
	return w.add("append", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		o.appendData(b)
		return nil
	})
}

func (w *WriteOp) Zero(ofs, length uint64) *WriteOp {
	return w.add("zero", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		o.zeroRange(ofs, length)
		return nil
	})
}

func (w *WriteOp) Truncate(size uint64) *WriteOp {
	return w.add("truncate", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		o.truncate(size)
		return nil
	})
}

func (w *WriteOp) Remove() *WriteOp {
	return w.add("remove", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		oc.mutate(o)
		oc.removed = true
		return nil
	})
}

func (w *WriteOp) SetXattr(name string, value []byte) *WriteOp {
	return w.add("setxattr", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		v := make([]byte, len(value))
		copy(v, value)
		o.xattrs[name] = v
		return nil
	})
}

func (w *WriteOp) RmXattr(name string) *WriteOp {
	return w.add("rmxattr", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		if _, ok := o.xattrs[name]; !ok {
			return cos.ErrNoData
		}
		oc.mutate(o)
		delete(o.xattrs, name)
		return nil
	})
}

// CmpXattr guards the op: a missing or different value fails with
// -ECANCELED (the raced-update signal optimistic writers retry on).
func (w *WriteOp) CmpXattr(name string, value []byte) *WriteOp {
	return w.add("cmpxattr", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		if !bytes.Equal(o.xattrs[name], value) {
			return cos.ErrRaced
		}
		return nil
	})
}

func (w *WriteOp) OmapSet(kvs map[string][]byte) *WriteOp {
	return w.add("omap-set", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		oc.mutate(o)
		for k, v := range kvs {
			vcopy := make([]byte, len(v))
			copy(vcopy, v)
			o.omap[k] = vcopy
		}
		return nil
	})
}

func (w *WriteOp) OmapRmKeys(keys ...string) *WriteOp {
	return w.add("omap-rm-keys", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		oc.mutate(o)
		for _, k := range keys {
			delete(o.omap, k)
		}
		return nil
	})
}

func (w *WriteOp) OmapClear() *WriteOp {
	return w.add("omap-clear", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		oc.mutate(o)
		clear(o.omap)
		return nil
	})
}

// SetAllocHint only brings the object into existence; the hints
// themselves have no bearing on the in-memory layout.
func (w *WriteOp) SetAllocHint(expectedSize, expectedWriteSize uint64) *WriteOp {
	_, _ = expectedSize, expectedWriteSize
	return w.add("set-alloc-hint", func(oc *opCtx) error {
		o, err := oc.obj(true)
		if err != nil {
			return err
		}
		if oc.created {
			oc.mutate(o)
		}
		return nil
	})
}
