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

	"github.com/NVIDIA/radstore/cmn/cos"
)

// ReadOp is an ordered list of read steps executed under the object's
// shared lock; out-parameters are captured by the step closures and
// valid once the op returns.
type ReadOp struct {
	steps []step
}

func NewReadOp() *ReadOp { return &ReadOp{steps: make([]step, 0, 4)} }

func (r *ReadOp) add(name string, fn func(oc *opCtx) error) *ReadOp {
	r.steps = append(r.steps, step{name: name, fn: fn})
	return r
}

func (r *ReadOp) AssertExists() *ReadOp {
	return r.add("assert-exists", func(oc *opCtx) error {
		_, err := oc.obj(false)
		return err
	})
}

// Read copies [ofs, ofs+length) into out; length < 0 reads to EOF,
// reads past EOF truncate.
func (r *ReadOp) Read(ofs, length int64, out *[]byte) *ReadOp {
	return r.add("read", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		data, _, err := o.resolveRead(oc.ix.snapRead)
		if err != nil {
			return err
		}
		*out = readRange(data, ofs, length)
		return nil
	})
}

func (r *ReadOp) Stat(size *uint64, mtime *time.Time) *ReadOp {
	return r.add("stat", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		data, _, err := o.resolveRead(oc.ix.snapRead)
		if err != nil {
			return err
		}
		if size != nil {
			*size = uint64(len(data))
		}
		if mtime != nil {
			*mtime = o.mtime
		}
		return nil
	})
}

// GetXattr: missing attribute => -ENODATA.
func (r *ReadOp) GetXattr(name string, out *[]byte) *ReadOp {
	return r.add("getxattr", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		v, ok := o.xattrs[name]
		if !ok {
			return cos.ErrNoData
		}
		*out = make([]byte, len(v))
		copy(*out, v)
		return nil
	})
}

func (r *ReadOp) GetXattrs(out *map[string][]byte) *ReadOp {
	return r.add("getxattrs", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		m := make(map[string][]byte, len(o.xattrs))
		for k, v := range o.xattrs {
			vcopy := make([]byte, len(v))
			copy(vcopy, v)
			m[k] = vcopy
		}
		*out = m
		return nil
	})
}

func (r *ReadOp) OmapGetVals(startAfter, prefix string, maxReturn int, out *map[string][]byte, more *bool) *ReadOp {
	return r.add("omap-get-vals", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		vals, truncated := omapPage(o.omap, startAfter, prefix, maxReturn)
		*out = vals
		if more != nil {
			*more = truncated
		}
		return nil
	})
}

func (r *ReadOp) OmapGetValsByKeys(keys []string, out *map[string][]byte) *ReadOp {
	return r.add("omap-get-by-keys", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		m := make(map[string][]byte, len(keys))
		for _, k := range keys {
			if v, ok := o.omap[k]; ok {
				vcopy := make([]byte, len(v))
				copy(vcopy, v)
				m[k] = vcopy
			}
		}
		*out = m
		return nil
	})
}

// SparseRead reports the allocated extents intersecting [ofs, ofs+length)
// along with the data of the whole requested range.
func (r *ReadOp) SparseRead(ofs, length int64, exts *[]Extent, out *[]byte) *ReadOp {
	return r.add("sparse-read", func(oc *opCtx) error {
		o, err := oc.obj(false)
		if err != nil {
			return err
		}
		data, allocated, err := o.resolveRead(oc.ix.snapRead)
		if err != nil {
			return err
		}
		if out != nil {
			*out = readRange(data, ofs, length)
		}
		lo := uint64(ofs)
		hi := uint64(len(data))
		if length >= 0 && lo+uint64(length) < hi {
			hi = lo + uint64(length)
		}
		var clipped []Extent
		for _, e := range allocated {
			elo, ehi := e.Off, e.Off+e.Len
			if ehi <= lo || elo >= hi {
				continue
			}
			elo = max(elo, lo)
			ehi = min(ehi, hi)
			clipped = append(clipped, Extent{Off: elo, Len: ehi - elo})
		}
		*exts = clipped
		return nil
	})
}
