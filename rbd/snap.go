/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"

	"github.com/NVIDIA/radstore/cls"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// SnapCreate takes a snapshot: a cluster snap id first, then the
// header record. Data objects preserve themselves lazily, on the
// first write that carries the new snap context.
func (im *Image) SnapCreate(name string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	if name == "" {
		return cos.ErrInvalid
	}
	if _, ok := im.snap(name); ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrExists)
	}
	id := im.ix.SelfmanagedSnapCreate()
	if im.format == FormatOne {
		if err := im.oldSnapAdd(name, id); err != nil {
			_ = im.ix.SelfmanagedSnapRemove(id)
			return err
		}
	} else {
		in := cos.PackBytes(&clsrbd.SnapshotAddOp{ID: id, Name: name})
		if _, err := im.ix.Exec(im.header, "rbd", "snapshot_add", in); err != nil {
			_ = im.ix.SelfmanagedSnapRemove(id)
			return err
		}
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

func (im *Image) oldSnapAdd(name string, id uint64) error {
	hdr, err := readOldHeader(im.ix, im.spec.Image)
	if err != nil {
		return err
	}
	for _, sn := range hdr.Snaps {
		if sn.Name == name {
			return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrExists)
		}
	}
	hdr.Snaps = append(hdr.Snaps, oldSnap{ID: id, Name: name, Size: hdr.Size})
	hdr.SnapSeq = id
	return writeOldHeader(im.ix, im.spec.Image, hdr)
}

// SnapRemove drops a snapshot; protected ones refuse with -EBUSY. The
// header forgets the snap first, then the cluster reaps the preserved
// clones.
func (im *Image) SnapRemove(name string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	sn, ok := im.snap(name)
	if !ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrNotFound)
	}
	if im.format == FormatOne {
		if err := im.oldSnapRemove(name); err != nil {
			return err
		}
	} else {
		in := cos.PackBytes(&cls.U64{V: sn.ID})
		if _, err := im.ix.Exec(im.header, "rbd", "snapshot_remove", in); err != nil {
			return err
		}
	}
	if err := im.ix.SelfmanagedSnapRemove(sn.ID); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

func (im *Image) oldSnapRemove(name string) error {
	hdr, err := readOldHeader(im.ix, im.spec.Image)
	if err != nil {
		return err
	}
	kept := hdr.Snaps[:0]
	for _, sn := range hdr.Snaps {
		if sn.Name != name {
			kept = append(kept, sn)
		}
	}
	hdr.Snaps = kept
	return writeOldHeader(im.ix, im.spec.Image, hdr)
}

// SnapRename gives a snapshot a new name; the id stays.
func (im *Image) SnapRename(from, to string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	if to == "" {
		return cos.ErrInvalid
	}
	sn, ok := im.snap(from)
	if !ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, from, cos.ErrNotFound)
	}
	if im.format == FormatOne {
		if err := im.oldSnapRename(from, to); err != nil {
			return err
		}
	} else {
		in := cos.PackBytes(&clsrbd.SnapshotAddOp{ID: sn.ID, Name: to})
		if _, err := im.ix.Exec(im.header, "rbd", "snapshot_rename", in); err != nil {
			return err
		}
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

func (im *Image) oldSnapRename(from, to string) error {
	hdr, err := readOldHeader(im.ix, im.spec.Image)
	if err != nil {
		return err
	}
	for _, sn := range hdr.Snaps {
		if sn.Name == to {
			return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, to, cos.ErrExists)
		}
	}
	for i := range hdr.Snaps {
		if hdr.Snaps[i].Name == from {
			hdr.Snaps[i].Name = to
			return writeOldHeader(im.ix, im.spec.Image, hdr)
		}
	}
	return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, from, cos.ErrNotFound)
}

// SnapRollback restores the head to the snapshot, object by object;
// the snap context on the rollback preserves the pre-rollback head in
// any newer snapshots.
func (im *Image) SnapRollback(name string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	sn, ok := im.snap(name)
	if !ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrNotFound)
	}
	im.mu.RLock()
	var (
		cur      = im.size
		hasOther = len(im.snaps) > 1
		st       = striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}
	)
	im.mu.RUnlock()
	ix, err := im.writeIX()
	if err != nil {
		return err
	}
	probe, err := im.c.NewIOCtx(im.spec.Pool)
	if err != nil {
		return err
	}
	probe.SetSnapRead(sn.ID)
	cnt := max(st.objectCount(cur), st.objectCount(sn.Size))
	for objNo := uint64(0); objNo < cnt; objNo++ {
		oid := dataOid(im.prefix, objNo)
		if _, err := probe.Read(oid, 0, 0); cos.IsErrNotFound(err) {
			// absent at the snap: the head copy goes, but removal is
			// total, so truncate when other snapshots need the object
			op := rados.NewWriteOp().Remove()
			if hasOther {
				if _, _, err := ix.Stat(oid); cos.IsErrNotFound(err) {
					continue
				}
				op = rados.NewWriteOp().Truncate(0)
			}
			if err := ix.Operate(oid, op); err != nil && !cos.IsErrNotFound(err) {
				return err
			}
			continue
		} else if err != nil {
			return err
		}
		if err := ix.SelfmanagedSnapRollback(oid, sn.ID); err != nil && !cos.IsErrNotFound(err) {
			return err
		}
	}
	if im.format == FormatOne {
		hdr, err := readOldHeader(im.ix, im.spec.Image)
		if err != nil {
			return err
		}
		hdr.Size = sn.Size
		if err := writeOldHeader(im.ix, im.spec.Image, hdr); err != nil {
			return err
		}
	} else {
		in := cos.PackBytes(&cls.U64{V: sn.Size})
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

// SnapPurge removes every snapshot; a protected one fails the whole
// purge up front.
func (im *Image) SnapPurge() error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	snaps := im.Snaps()
	for _, sn := range snaps {
		if sn.Protection != clsrbd.ProtectionUnprotected {
			return fmt.Errorf("snapshot %s@%s is protected: %w", im.spec.Image, sn.Name, cos.ErrBusy)
		}
	}
	for _, sn := range snaps {
		if err := im.SnapRemove(sn.Name); err != nil {
			return err
		}
	}
	return nil
}

// SnapProtect guards a snapshot against removal, a precondition for
// cloning from it.
func (im *Image) SnapProtect(name string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	if im.format == FormatOne {
		return fmt.Errorf("snapshot protection: %w", cos.ErrNotSupported)
	}
	if im.Features()&clsrbd.FeatureLayering == 0 {
		return fmt.Errorf("snapshot protection requires layering: %w", cos.ErrNotSupported)
	}
	sn, ok := im.snap(name)
	if !ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrNotFound)
	}
	if sn.Protection == clsrbd.ProtectionProtected {
		return fmt.Errorf("snapshot %s@%s is already protected: %w", im.spec.Image, name, cos.ErrBusy)
	}
	if err := im.setProtection(sn.ID, clsrbd.ProtectionProtected); err != nil {
		return err
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

// SnapUnprotect transitions through Unprotecting while scanning for
// children; any child reverts the snapshot to Protected.
func (im *Image) SnapUnprotect(name string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	if im.format == FormatOne {
		return fmt.Errorf("snapshot protection: %w", cos.ErrNotSupported)
	}
	sn, ok := im.snap(name)
	if !ok {
		return fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, name, cos.ErrNotFound)
	}
	if sn.Protection == clsrbd.ProtectionUnprotected {
		return fmt.Errorf("snapshot %s@%s is not protected: %w", im.spec.Image, name, cos.ErrInvalid)
	}
	if err := im.setProtection(sn.ID, clsrbd.ProtectionUnprotecting); err != nil {
		return err
	}
	children, err := im.childrenOf(sn.ID)
	if err != nil {
		_ = im.setProtection(sn.ID, clsrbd.ProtectionProtected)
		return err
	}
	if len(children) > 0 {
		if err := im.setProtection(sn.ID, clsrbd.ProtectionProtected); err != nil {
			return err
		}
		_ = im.refresh()
		return fmt.Errorf("snapshot %s@%s has %d child(ren): %w",
			im.spec.Image, name, len(children), cos.ErrBusy)
	}
	if err := im.setProtection(sn.ID, clsrbd.ProtectionUnprotected); err != nil {
		return err
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}

func (im *Image) setProtection(snapID uint64, status uint8) error {
	in := cos.PackBytes(&clsrbd.ProtectionOp{SnapID: snapID, Status: status})
	_, err := im.ix.Exec(im.header, "rbd", "set_protection_status", in)
	return err
}

func (im *Image) snapProtection(snapID uint64) uint8 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	for _, sn := range im.snaps {
		if sn.ID == snapID {
			return sn.Protection
		}
	}
	return clsrbd.ProtectionUnprotected
}

// Children lists the clones of a snapshot, across all pools.
func (im *Image) Children(snapName string) ([]Spec, error) {
	sn, ok := im.snap(snapName)
	if !ok {
		return nil, fmt.Errorf("snapshot %s@%s: %w", im.spec.Image, snapName, cos.ErrNotFound)
	}
	return im.childrenOf(sn.ID)
}

// childrenOf walks every pool's children object: clones register in
// the pool they are created in, not the parent's.
func (im *Image) childrenOf(snapID uint64) ([]Spec, error) {
	pools := im.c.ListPools()
	var (
		out []Spec
		in  = cos.PackBytes(&clsrbd.ParentSnap{Pool: im.ix.PoolID(), ID: im.id, Snap: snapID})
	)
	for _, pool := range pools {
		pix, err := im.c.NewIOCtx(pool.Name)
		if err != nil {
			return nil, err
		}
		b, err := pix.Exec(childrenOid, "rbd", "get_children", in)
		if cos.IsErrNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var reply clsrbd.ChildrenReply
		if err := cos.UnpackBytes(b, &reply); err != nil {
			return nil, err
		}
		for _, id := range reply.Children {
			nb, err := pix.Exec(dirOid, "rbd", "dir_get_name", cos.PackBytes(&cls.Str{S: id}))
			if err != nil {
				return nil, err
			}
			var name cls.Str
			if err := cos.UnpackBytes(nb, &name); err != nil {
				return nil, err
			}
			out = append(out, Spec{Pool: pool.Name, Image: name.S})
		}
	}
	return out, nil
}

// Flatten copies every still-backed object up from the parent, then
// severs the link. The parent pointer goes before the child entry:
// worst case a crash leaves a stale children record, never a clone
// without its backing.
func (im *Image) Flatten(progress ProgressFn) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	im.mu.RLock()
	parent := im.parent
	im.mu.RUnlock()
	if !parent.Exists() {
		return fmt.Errorf("image %s has no parent: %w", im.spec, cos.ErrInvalid)
	}
	st := im.striper()
	ix, err := im.writeIX()
	if err != nil {
		return err
	}
	cnt := st.objectCount(parent.Overlap)
	for objNo := uint64(0); objNo < cnt; objNo++ {
		oid := dataOid(im.prefix, objNo)
		_, _, err := ix.Stat(oid)
		if err == nil {
			if progress != nil {
				progress(objNo+1, cnt)
			}
			continue // written over already
		}
		if !cos.IsErrNotFound(err) {
			return err
		}
		backing, err := im.parentBacking(objNo)
		if err != nil {
			return err
		}
		op := rados.NewWriteOp().Exec("rbd", "copyup", cos.PackBytes(&cls.Bytes{B: backing}))
		if err := ix.Operate(oid, op); err != nil {
			return err
		}
		if progress != nil {
			progress(objNo+1, cnt)
		}
	}
	if _, err := im.ix.Exec(im.header, "rbd", "remove_parent", nil); err != nil {
		return err
	}
	in := cos.PackBytes(&clsrbd.ChildOp{
		Parent: clsrbd.ParentSnap{Pool: parent.Pool, ID: parent.ID, Snap: parent.Snap},
		Child:  im.id,
	})
	if _, err := im.ix.Exec(childrenOid, "rbd", "remove_child", in); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if err := im.refresh(); err != nil {
		return err
	}
	im.notifyChanged()
	return nil
}
