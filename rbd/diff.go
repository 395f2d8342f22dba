/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// DiffFn receives one changed extent; exists=false means the range
// turned into a hole (discarded, or gone with the object).
type DiffFn func(ofs, length uint64, exists bool) error

type diffExt struct {
	ofs    uint64
	length uint64
	exists bool
}

// DiffIterate reports the extents that changed between fromSnap and
// the opened snap (or head), in offset order. An empty fromSnap
// diffs against the beginning of time: everything written shows up,
// holes do not. A clone's parent data never enters the diff; it is a
// property of the parent, not of this image.
func (im *Image) DiffIterate(fromSnap string, cb DiffFn) error {
	var fromID uint64
	if fromSnap != "" {
		sn, ok := im.snap(fromSnap)
		if !ok {
			return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, fromSnap, cos.ErrNotFound)
		}
		fromID = sn.ID
		if im.snapID != cos.NoSnap && fromID > im.snapID {
			return fmt.Errorf("snapshot %s newer than %s: %w", fromSnap, im.spec, cos.ErrInvalid)
		}
	}
	im.mu.RLock()
	var (
		size = im.size
		st   = striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
	)
	im.mu.RUnlock()

	toIX, err := im.readIX()
	if err != nil {
		return err
	}
	var fromIX *rados.IOCtx
	if fromID != 0 {
		if fromIX, err = im.c.NewIOCtx(im.spec.Pool); err != nil {
			return err
		}
		fromIX.SetSnapRead(fromID)
	}

	var (
		exts []diffExt
		cnt  = st.objectCount(size)
	)
	for objNo := uint64(0); objNo < cnt; objNo++ {
		oid := dataOid(im.prefix, objNo)
		to, err := toIX.Read(oid, 0, -1)
		if err != nil && !cos.IsErrNotFound(err) {
			return err
		}
		var from []byte
		if fromIX != nil {
			if from, err = fromIX.Read(oid, 0, -1); err != nil && !cos.IsErrNotFound(err) {
				return err
			}
		}
		if len(to) == 0 && len(from) == 0 {
			continue
		}
		exts = st.diffObject(exts, objNo, to, from)
	}

	sort.Slice(exts, func(i, j int) bool { return exts[i].ofs < exts[j].ofs })
	var merged []diffExt
	for _, e := range exts {
		if e.ofs >= size {
			continue
		}
		if e.ofs+e.length > size {
			e.length = size - e.ofs
		}
		if n := len(merged); n > 0 && merged[n-1].exists == e.exists &&
			merged[n-1].ofs+merged[n-1].length == e.ofs {
			merged[n-1].length += e.length
			continue
		}
		merged = append(merged, e)
	}
	for _, e := range merged {
		if err := cb(e.ofs, e.length, e.exists); err != nil {
			return err
		}
	}
	return nil
}

// diffObject compares the two states of one object, stripe unit by
// stripe unit; changed units map back to logical extents. A unit that
// went all-zero is a hole, anything else is data.
func (st striper) diffObject(exts []diffExt, objNo uint64, to, from []byte) []diffExt {
	spo := st.objSize / st.unit
	for k := uint64(0); k < spo; k++ {
		var (
			lo = k * st.unit
			hi = lo + st.unit
			a  = sliceUnit(to, lo, hi)
			b  = sliceUnit(from, lo, hi)
		)
		if lo >= uint64(len(to)) && lo >= uint64(len(from)) {
			break
		}
		if unitEqual(a, b) {
			continue
		}
		exts = append(exts, diffExt{
			ofs:    st.logicalOfs(objNo, lo),
			length: st.unit,
			exists: !isZeros(a),
		})
	}
	return exts
}

func sliceUnit(b []byte, lo, hi uint64) []byte {
	if lo >= uint64(len(b)) {
		return nil
	}
	return b[lo:min(hi, uint64(len(b)))]
}

// unitEqual treats bytes past either length as zeros.
func unitEqual(a, b []byte) bool {
	n := min(len(a), len(b))
	if !bytes.Equal(a[:n], b[:n]) {
		return false
	}
	return isZeros(a[n:]) && isZeros(b[n:])
}
