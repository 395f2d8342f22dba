/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"io"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// striper maps logical image offsets onto data objects. With the
// default (unit = object size, count 1) layout every object holds one
// contiguous run; with striping v2 the units round-robin across
// `count` objects per stripe set.
type striper struct {
	unit    uint64
	count   uint64
	objSize uint64
}

type objExtent struct {
	objNo  uint64
	off    uint64 // within the object
	length uint64
	bufOff uint64 // within the mapped range
}

func (im *Image) striper() striper {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
}

// mapExtents maps [ofs, ofs+length) onto object extents in range
// order, merging contiguous runs within an object.
func (st striper) mapExtents(ofs, length uint64) []objExtent {
	var (
		exts  []objExtent
		spo   = st.objSize / st.unit // stripe units per object
		start = ofs
		end   = ofs + length
	)
	for ofs < end {
		var (
			b      = ofs / st.unit
			s      = b / (spo * st.count)
			r      = b % (spo * st.count)
			objNo  = s*st.count + r%st.count
			objOff = (r/st.count)*st.unit + ofs%st.unit
			n      = min(st.unit-ofs%st.unit, end-ofs)
		)
		if l := len(exts); l > 0 && exts[l-1].objNo == objNo && exts[l-1].off+exts[l-1].length == objOff {
			exts[l-1].length += n
		} else {
			exts = append(exts, objExtent{objNo: objNo, off: objOff, length: n, bufOff: ofs - start})
		}
		ofs += n
	}
	return exts
}

// logicalOfs is the inverse mapping: the image offset of a byte
// within a data object.
func (st striper) logicalOfs(objNo, objOff uint64) uint64 {
	var (
		spo = st.objSize / st.unit
		s   = objNo / st.count
		idx = objNo % st.count
		row = objOff / st.unit
	)
	return (s*spo*st.count+row*st.count+idx)*st.unit + objOff%st.unit
}

// objectCount returns how many data objects an image of `size` bytes
// spans.
func (st striper) objectCount(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	var (
		spo   = st.objSize / st.unit
		units = (size + st.unit - 1) / st.unit
		sets  = units / (spo * st.count)
		rem   = units % (spo * st.count)
	)
	return sets*st.count + min(rem, st.count)
}

// objectTrim returns how many bytes of the object fall below the
// logical size. Per-unit offsets within one object are monotone, so
// the kept bytes are always a prefix.
func (st striper) objectTrim(objNo, size uint64) uint64 {
	var keep uint64
	for k := uint64(0); k < st.objSize/st.unit; k++ {
		l := st.logicalOfs(objNo, k*st.unit)
		if l >= size {
			break
		}
		keep = k*st.unit + min(st.unit, size-l)
	}
	return keep
}

// readIX returns an io context pinned at the opened snap.
func (im *Image) readIX() (*rados.IOCtx, error) {
	ix, err := im.c.NewIOCtx(im.spec.Pool)
	if err != nil {
		return nil, err
	}
	if im.snapID != cos.NoSnap {
		ix.SetSnapRead(im.snapID)
	}
	return ix, nil
}

// writeIX returns an io context carrying the current snap context, so
// data writes preserve existing snapshots.
func (im *Image) writeIX() (*rados.IOCtx, error) {
	ix, err := im.c.NewIOCtx(im.spec.Pool)
	if err != nil {
		return nil, err
	}
	if err := ix.SetSnapContext(im.snapc()); err != nil {
		return nil, err
	}
	return ix, nil
}

// ReadAt reads at the opened snap. Unwritten ranges come back
// zero-filled; clone misses fall through to the parent within the
// overlap. Returns io.EOF when the range extends past the image end.
func (im *Image) ReadAt(p []byte, ofs uint64) (int, error) {
	im.mu.RLock()
	var (
		size    = im.size
		clone   = im.parent.Exists()
		overlap = im.parent.Overlap
		st      = striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
	)
	im.mu.RUnlock()
	if ofs >= size {
		return 0, io.EOF
	}
	n := min(uint64(len(p)), size-ofs)
	ix, err := im.readIX()
	if err != nil {
		return 0, err
	}
	for _, ext := range st.mapExtents(ofs, n) {
		var (
			seg = p[ext.bufOff : ext.bufOff+ext.length]
			oid = dataOid(im.prefix, ext.objNo)
		)
		b, err := ix.Read(oid, int64(ext.off), int64(ext.length))
		switch {
		case err == nil:
			copy(seg, b)
			clear(seg[len(b):])
		case cos.IsErrNotFound(err):
			if logical := ofs + ext.bufOff; clone && logical < overlap {
				if err := im.readParent(seg, logical, overlap); err != nil {
					return int(ext.bufOff), err
				}
			} else {
				clear(seg)
			}
		default:
			return int(ext.bufOff), err
		}
	}
	if n < uint64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// readParent fills seg from the parent at the clone's logical offset,
// zeroing whatever lies past the overlap.
func (im *Image) readParent(seg []byte, logical, overlap uint64) error {
	clear(seg)
	parent, err := im.openParent()
	if err != nil {
		return err
	}
	n := min(uint64(len(seg)), overlap-logical)
	if _, err := parent.ReadAt(seg[:n], logical); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// parentBacking reads the parent bytes backing a clone object, up to
// the overlap. Nil when nothing backs it.
func (im *Image) parentBacking(objNo uint64) ([]byte, error) {
	im.mu.RLock()
	overlap := im.parent.Overlap
	im.mu.RUnlock()
	st := im.striper()
	keep := st.objectTrim(objNo, overlap)
	if keep == 0 {
		return nil, nil
	}
	parent, err := im.openParent()
	if err != nil {
		return nil, err
	}
	b := make([]byte, keep)
	for k := uint64(0); k*st.unit < keep; k++ {
		var (
			l = st.logicalOfs(objNo, k*st.unit)
			n = min(st.unit, keep-k*st.unit)
		)
		if l >= overlap {
			break
		}
		n = min(n, overlap-l)
		if _, err := parent.ReadAt(b[k*st.unit:k*st.unit+n], l); err != nil && err != io.EOF {
			return nil, err
		}
	}
	return b, nil
}

// WriteAt writes at the image head. A write into a clone object still
// backed by the parent copies the backing up first, in the same
// atomic op, so the parent data around the write survives.
func (im *Image) WriteAt(p []byte, ofs uint64) (int, error) {
	if im.readOnly {
		return 0, cos.ErrReadOnly
	}
	im.mu.RLock()
	var (
		size  = im.size
		clone = im.parent.Exists()
		st    = striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
	)
	im.mu.RUnlock()
	if end := ofs + uint64(len(p)); end > size {
		return 0, fmt.Errorf("write [%d, %d) past image size %d: %w", ofs, end, size, cos.ErrInvalid)
	}
	if len(p) == 0 {
		return 0, nil
	}
	ix, err := im.writeIX()
	if err != nil {
		return 0, err
	}
	var written int
	for _, ext := range st.mapExtents(ofs, uint64(len(p))) {
		var (
			seg = p[ext.bufOff : ext.bufOff+ext.length]
			oid = dataOid(im.prefix, ext.objNo)
			op  = rados.NewWriteOp()
		)
		if clone {
			if _, _, err := ix.Stat(oid); cos.IsErrNotFound(err) {
				backing, err := im.parentBacking(ext.objNo)
				if err != nil {
					return written, err
				}
				if backing != nil {
					op.Exec("rbd", "copyup", cos.PackBytes(&cls.Bytes{B: backing}))
				}
			}
		}
		op.Write(int64(ext.off), seg)
		if err := ix.Operate(oid, op); err != nil {
			return written, err
		}
		written += len(seg)
	}
	return written, nil
}

// Discard zeroes [ofs, ofs+length), clipped to the image size, and
// returns the clipped length. Whole objects are removed where that
// cannot change what reads see: a clone keeps (empty) objects in
// place of removed ones, or the parent would show through again.
func (im *Image) Discard(ofs, length uint64) (uint64, error) {
	if im.readOnly {
		return 0, cos.ErrReadOnly
	}
	im.mu.RLock()
	var (
		size     = im.size
		clone    = im.parent.Exists()
		overlap  = im.parent.Overlap
		hasSnaps = len(im.snaps) > 0
		st       = striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
	)
	im.mu.RUnlock()
	if ofs >= size {
		return 0, nil
	}
	length = min(length, size-ofs)
	if length == 0 {
		return 0, nil
	}
	ix, err := im.writeIX()
	if err != nil {
		return 0, err
	}
	for _, ext := range st.mapExtents(ofs, length) {
		var (
			oid   = dataOid(im.prefix, ext.objNo)
			used  = st.objectTrim(ext.objNo, size)
			whole = ext.off == 0 && ext.off+ext.length >= used
		)
		_, _, err := ix.Stat(oid)
		switch {
		case err != nil && !cos.IsErrNotFound(err):
			return 0, err
		case cos.IsErrNotFound(err):
			if !clone || st.objectTrim(ext.objNo, overlap) == 0 {
				continue // nothing there and nothing shows through
			}
			op := rados.NewWriteOp()
			if whole {
				op.Exec("rbd", "copyup", cos.PackBytes(&cls.Bytes{})).Truncate(0)
			} else {
				backing, err := im.parentBacking(ext.objNo)
				if err != nil {
					return 0, err
				}
				op.Exec("rbd", "copyup", cos.PackBytes(&cls.Bytes{B: backing})).
					Zero(ext.off, ext.length)
			}
			if err := ix.Operate(oid, op); err != nil {
				return 0, err
			}
		case whole && !clone && !hasSnaps:
			// removal here is total; with snapshots around, truncate
			// instead so their clones survive
			if err := ix.Operate(oid, rados.NewWriteOp().Remove()); err != nil && !cos.IsErrNotFound(err) {
				return 0, err
			}
		case whole:
			if err := ix.Operate(oid, rados.NewWriteOp().Truncate(0)); err != nil {
				return 0, err
			}
		case ext.off+ext.length >= used && !clone:
			if err := ix.Operate(oid, rados.NewWriteOp().Truncate(ext.off)); err != nil {
				return 0, err
			}
		default:
			if err := ix.Operate(oid, rados.NewWriteOp().Zero(ext.off, ext.length)); err != nil {
				return 0, err
			}
		}
	}
	return length, nil
}

// Resize sets the image size. Shrinking trims the data objects first,
// so a crash leaves stray (invisible) bytes rather than a header that
// promises more than is there.
func (im *Image) Resize(size uint64) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	old := im.Size()
	if size < old {
		if err := im.trim(size, old); err != nil {
			return err
		}
	}
	if im.format == FormatOne {
		hdr, err := readOldHeader(im.ix, im.spec.Image)
		if err != nil {
			return err
		}
		hdr.Size = size
		if err := writeOldHeader(im.ix, im.spec.Image, hdr); err != nil {
			return err
		}
	} else {
		in := cos.PackBytes(&cls.U64{V: size})
		if _, err := im.ix.Exec(im.header, "rbd", "set_size", in); err != nil {
			return err
		}
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

// trim removes the data beyond newSize: whole objects go away, the
// partial objects of the last stripe set truncate to their kept
// prefix. Absent objects stay absent; for a clone the shrunk parent
// overlap already caps what shows through. With snapshots around the
// whole objects truncate instead: removal would take the snapshot
// clones with it.
func (im *Image) trim(newSize, oldSize uint64) error {
	im.mu.RLock()
	hasSnaps := len(im.snaps) > 0
	im.mu.RUnlock()
	st := im.striper()
	ix, err := im.writeIX()
	if err != nil {
		return err
	}
	cntNew, cntOld := st.objectCount(newSize), st.objectCount(oldSize)
	if cntNew > 0 {
		for objNo := (cntNew - 1) / st.count * st.count; objNo < cntNew; objNo++ {
			var (
				keep = st.objectTrim(objNo, newSize)
				oid  = dataOid(im.prefix, objNo)
			)
			phys, _, err := ix.Stat(oid)
			if cos.IsErrNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if phys > keep {
				if err := ix.Operate(oid, rados.NewWriteOp().Truncate(keep)); err != nil {
					return err
				}
			}
		}
	}
	for objNo := cntNew; objNo < cntOld; objNo++ {
		oid := dataOid(im.prefix, objNo)
		if hasSnaps {
			if _, _, err := ix.Stat(oid); err != nil {
				if cos.IsErrNotFound(err) {
					continue
				}
				return err
			}
			if err := ix.Operate(oid, rados.NewWriteOp().Truncate(0)); err != nil {
				return err
			}
			continue
		}
		if err := ix.Operate(oid, rados.NewWriteOp().Remove()); err != nil && !cos.IsErrNotFound(err) {
			return err
		}
	}
	return nil
}

func isZeros(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
