/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"

	"github.com/NVIDIA/radstore/cls"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

// CreateOpts tune a new image; the zero value gives a format-2 image
// with 1<<22 byte objects, layering, and default (unit = object size,
// count 1) striping.
type CreateOpts struct {
	Order       uint8  // object size 1<<Order; 0 = DefaultOrder
	Features    uint64 // 0 = FeatureLayering (format 2)
	StripeUnit  uint64 // bytes; 0 = object size
	StripeCount uint64 // objects per stripe; 0 = 1
	Format      int    // FormatOne or FormatTwo; 0 = FormatTwo
}

func (o *CreateOpts) normalize() error {
	if o.Format == 0 {
		o.Format = FormatTwo
	}
	if o.Format != FormatOne && o.Format != FormatTwo {
		return fmt.Errorf("image format %d: %w", o.Format, cos.ErrInvalid)
	}
	if o.Order == 0 {
		o.Order = DefaultOrder
	}
	if o.Order < MinOrder || o.Order > MaxOrder {
		return fmt.Errorf("order %d out of [%d, %d]: %w", o.Order, MinOrder, MaxOrder, cos.ErrInvalid)
	}
	objSize := uint64(1) << o.Order
	if o.Format == FormatOne {
		if o.Features != 0 || o.StripeUnit != 0 || o.StripeCount > 1 {
			return fmt.Errorf("features and striping require format 2: %w", cos.ErrInvalid)
		}
		return nil
	}
	if o.Features == 0 {
		o.Features = clsrbd.FeatureLayering
	}
	if o.Features&^clsrbd.FeaturesAll != 0 {
		return fmt.Errorf("unknown feature bits %#x: %w", o.Features&^clsrbd.FeaturesAll, cos.ErrInvalid)
	}
	if (o.StripeUnit == 0) != (o.StripeCount == 0) {
		return fmt.Errorf("stripe unit and count go together: %w", cos.ErrInvalid)
	}
	if o.StripeUnit == 0 {
		o.StripeUnit, o.StripeCount = objSize, 1
	}
	if o.StripeUnit > objSize || objSize%o.StripeUnit != 0 {
		return fmt.Errorf("stripe unit %d must factor the %d object size: %w",
			o.StripeUnit, objSize, cos.ErrInvalid)
	}
	if o.StripeUnit != objSize || o.StripeCount != 1 {
		o.Features |= clsrbd.FeatureStripingV2
	}
	return nil
}

// Create makes a new empty image of the given byte size.
func Create(c *rados.Cluster, pool, name string, size uint64, opts *CreateOpts) error {
	if name == "" {
		return cos.ErrInvalid
	}
	o := CreateOpts{}
	if opts != nil {
		o = *opts
	}
	if err := o.normalize(); err != nil {
		return err
	}
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return err
	}
	if taken, err := nameTaken(ix, name); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("image %s/%s: %w", pool, name, cos.ErrExists)
	}
	if o.Format == FormatOne {
		return createOld(ix, name, size, o.Order)
	}
	return createNew(ix, name, size, &o)
}

func createOld(ix *rados.IOCtx, name string, size uint64, order uint8) error {
	hdr := &oldHeader{Size: size, Order: order, Prefix: oldDataPrefix + newImageID()}
	wop := rados.NewWriteOp().Create(true).WriteFull(cos.PackBytes(hdr))
	return ix.Operate(oldHeaderOid(name), wop)
}

func createNew(ix *rados.IOCtx, name string, size uint64, o *CreateOpts) error {
	id := newImageID()

	// the id object claims the name; everything after unwinds on error
	wop := rados.NewWriteOp().Create(true).
		Exec("rbd", "set_id", cos.PackBytes(&cls.Str{S: id}))
	if err := ix.Operate(idOid(name), wop); err != nil {
		return err
	}
	in := cos.PackBytes(&clsrbd.DirImageOp{Name: name, ID: id})
	if _, err := ix.Exec(dirOid, "rbd", "dir_add_image", in); err != nil {
		_ = ix.Remove(idOid(name))
		return err
	}
	create := &clsrbd.CreateOp{
		ObjectPrefix: dataOidPrefix + id,
		Size:         size,
		Order:        o.Order,
		Features:     o.Features,
	}
	hop := rados.NewWriteOp().Exec("rbd", "create", cos.PackBytes(create))
	if o.Features&clsrbd.FeatureStripingV2 != 0 {
		hop.Exec("rbd", "set_stripe_unit_count",
			cos.PackBytes(&clsrbd.StripeSpec{Unit: o.StripeUnit, Count: o.StripeCount}))
	}
	if err := ix.Operate(headerOid(id), hop); err != nil {
		_, _ = ix.Exec(dirOid, "rbd", "dir_remove_image", in)
		_ = ix.Remove(idOid(name))
		return err
	}
	if cos.FastV(4, cos.SmoduleRBD) {
		nlog.Infof("created %s/%s: id=%s size=%d order=%d", ix.Pool(), name, id, size, o.Order)
	}
	return nil
}

// Clone makes a copy-on-write child of a protected parent snapshot.
// The child starts at the parent snapshot's size; reads below the
// overlap fall through to the parent until the range is written or
// the child is flattened.
func Clone(c *rados.Cluster, parent Spec, pool, name string, opts *CreateOpts) error {
	if parent.Snap == "" {
		return fmt.Errorf("clone source must name a snapshot: %w", cos.ErrInvalid)
	}
	p, err := OpenReadOnly(c, parent)
	if err != nil {
		return err
	}
	defer p.Close()
	if p.format != FormatTwo {
		return fmt.Errorf("parent %s is format %d: %w", parent, p.format, cos.ErrInvalid)
	}
	if p.Features()&clsrbd.FeatureLayering == 0 {
		return fmt.Errorf("parent %s lacks layering: %w", parent, cos.ErrInvalid)
	}
	if p.snapProtection(p.snapID) != clsrbd.ProtectionProtected {
		return fmt.Errorf("parent snapshot %s is not protected: %w", parent, cos.ErrInvalid)
	}

	o := CreateOpts{}
	if opts != nil {
		o = *opts
	}
	if o.Format == FormatOne {
		return fmt.Errorf("clones require format 2: %w", cos.ErrInvalid)
	}
	if o.Order == 0 {
		o.Order = p.Order()
	}
	if o.Features == 0 {
		o.Features = p.Features()
	}
	o.Features |= clsrbd.FeatureLayering
	size := p.Size()

	if err := Create(c, pool, name, size, &o); err != nil {
		return err
	}
	child, err := open(c, Spec{Pool: pool, Image: name}, false)
	if err != nil {
		_ = Remove(c, pool, name)
		return err
	}
	defer child.Close()

	link := &clsrbd.Parent{Pool: p.ix.PoolID(), ID: p.id, Snap: p.snapID, Overlap: size}
	if _, err := child.ix.Exec(child.header, "rbd", "set_parent", cos.PackBytes(link)); err != nil {
		_ = Remove(c, pool, name)
		return err
	}
	childOp := &clsrbd.ChildOp{
		Parent: clsrbd.ParentSnap{Pool: p.ix.PoolID(), ID: p.id, Snap: p.snapID},
		Child:  child.id,
	}
	if _, err := child.ix.Exec(childrenOid, "rbd", "add_child", cos.PackBytes(childOp)); err != nil {
		_ = Remove(c, pool, name)
		return err
	}
	if err := child.refresh(); err != nil {
		return err
	}
	if cos.FastV(4, cos.SmoduleRBD) {
		nlog.Infof("cloned %s -> %s/%s (overlap %d)", parent, pool, name, size)
	}
	return nil
}
