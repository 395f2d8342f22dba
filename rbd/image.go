/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cls"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

const headerNotifyTimeout = 5 * time.Second

type (
	// SnapInfo describes one snapshot of an open image.
	SnapInfo struct {
		Name       string
		ID         uint64
		Size       uint64
		Protection uint8
	}

	// ImageInfo is the `rbd info` view.
	ImageInfo struct {
		Name         string `json:"name"`
		ID           string `json:"id,omitempty"`
		Format       int    `json:"format"`
		Size         uint64 `json:"size"`
		Objects      uint64 `json:"objects"`
		Order        uint8  `json:"order"`
		ObjectPrefix string `json:"block_name_prefix"`
		Features     uint64 `json:"features"`
		StripeUnit   uint64 `json:"stripe_unit,omitempty"`
		StripeCount  uint64 `json:"stripe_count,omitempty"`
		Parent       string `json:"parent,omitempty"`
		SnapCount    int    `json:"snapshot_count"`
	}

	// Image is an open image handle. A read-write open watches the
	// header and refreshes itself on notifications; opening at a
	// snapshot is implicitly read-only.
	Image struct {
		c      *rados.Cluster
		ix     *rados.IOCtx // metadata io; stable identity for locks
		spec   Spec
		format int
		id     string // format 2
		header string
		prefix string

		readOnly bool
		snapID   uint64 // cos.NoSnap when opened at head

		mu       sync.RWMutex // guards the refreshable state below
		size     uint64       // at the opened snap
		order    uint8
		features uint64
		flags    uint64
		su, sc   uint64 // stripe unit, count
		snapSeq  uint64
		snaps    []SnapInfo    // ascending id
		parent   clsrbd.Parent // at the opened snap

		watch     *rados.WatchCtx
		watchDone chan struct{}
		parentImg *Image // lazy read-only handle for fall-through reads
		closed    bool
	}
)

// Open opens an image read-write; a spec with a snapshot part opens
// read-only at that snapshot.
func Open(c *rados.Cluster, spec Spec) (*Image, error) {
	return open(c, spec, false)
}

// OpenReadOnly opens without registering a header watch.
func OpenReadOnly(c *rados.Cluster, spec Spec) (*Image, error) {
	return open(c, spec, true)
}

func open(c *rados.Cluster, spec Spec, readOnly bool) (*Image, error) {
	if spec.Image == "" {
		return nil, cos.ErrInvalid
	}
	if spec.Pool == "" {
		spec.Pool = DefaultPool
	}
	ix, err := c.NewIOCtx(spec.Pool)
	if err != nil {
		return nil, err
	}
	im := &Image{c: c, ix: ix, spec: spec, snapID: cos.NoSnap, readOnly: readOnly || spec.Snap != ""}

	id, err := imageID(ix, spec.Image)
	switch {
	case err == nil:
		im.format = FormatTwo
		im.id = id
		im.header = headerOid(id)
		out, err := ix.Exec(im.header, "rbd", "get_object_prefix", nil)
		if err != nil {
			return nil, err
		}
		var prefix cls.Str
		if err := cos.UnpackBytes(out, &prefix); err != nil {
			return nil, err
		}
		im.prefix = prefix.S
	case cos.IsErrNotFound(err):
		hdr, err := readOldHeader(ix, spec.Image)
		if err != nil {
			if cos.IsErrNotFound(err) {
				return nil, fmt.Errorf("image %s: %w", spec, cos.ErrNotFound)
			}
			return nil, err
		}
		im.format = FormatOne
		im.header = oldHeaderOid(spec.Image)
		im.prefix = hdr.Prefix
	default:
		return nil, err
	}

	if err := im.refresh(); err != nil {
		return nil, err
	}
	if spec.Snap != "" {
		sn, ok := im.snap(spec.Snap)
		if !ok {
			return nil, fmt.Errorf("snapshot %s: %w", spec, cos.ErrNotFound)
		}
		im.snapID = sn.ID
		if err := im.refresh(); err != nil { // size and parent move to the snap's
			return nil, err
		}
	}
	if !im.readOnly {
		w, err := ix.Watch(im.header)
		if err != nil {
			return nil, err
		}
		im.watch = w
		im.watchDone = make(chan struct{})
		go im.watchHeader(w)
	}
	return im, nil
}

// watchHeader keeps the handle coherent: refresh on every header
// notification, then ack so the mutator is not left waiting.
func (im *Image) watchHeader(w *rados.WatchCtx) {
	defer close(im.watchDone)
	for ev := range w.Events {
		if err := im.refresh(); err != nil {
			nlog.Errorf("%s: refresh on notify: %v", im.spec, err)
		}
		_ = im.ix.NotifyAck(im.header, ev.NotifyID, ev.Handle, nil)
	}
}

func (im *Image) Close() error {
	im.mu.Lock()
	if im.closed {
		im.mu.Unlock()
		return nil
	}
	im.closed = true
	parent := im.parentImg
	im.parentImg = nil
	im.mu.Unlock()

	if im.watch != nil {
		_ = im.ix.Unwatch(im.watch.Handle)
		<-im.watchDone
	}
	if parent != nil {
		_ = parent.Close()
	}
	return nil
}

func (im *Image) Spec() Spec              { return im.spec }
func (im *Image) Name() string            { return im.spec.Image }
func (im *Image) ID() string              { return im.id }
func (im *Image) Format() int             { return im.format }
func (im *Image) ReadOnly() bool          { return im.readOnly }
func (im *Image) Prefix() string          { return im.prefix }
func (im *Image) Cluster() *rados.Cluster { return im.c }

func (im *Image) Size() uint64 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.size
}

func (im *Image) Order() uint8 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.order
}

func (im *Image) Features() uint64 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.features
}

func (im *Image) Stripe() (unit, count uint64) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.su, im.sc
}

// Snaps returns the snapshot list, ascending by id.
func (im *Image) Snaps() []SnapInfo {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]SnapInfo, len(im.snaps))
	copy(out, im.snaps)
	return out
}

func (im *Image) snap(name string) (SnapInfo, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	for _, sn := range im.snaps {
		if sn.Name == name {
			return sn, true
		}
	}
	return SnapInfo{}, false
}

// snapc is the write-path snap context: seq plus live ids descending.
func (im *Image) snapc() rados.SnapContext {
	im.mu.RLock()
	defer im.mu.RUnlock()
	snapc := rados.SnapContext{Seq: im.snapSeq, Snaps: make([]uint64, 0, len(im.snaps))}
	for i := len(im.snaps) - 1; i >= 0; i-- {
		snapc.Snaps = append(snapc.Snaps, im.snaps[i].ID)
	}
	return snapc
}

// refresh re-reads the mutable header state. The io paths snapshot it
// under the read lock, so a concurrent refresh never tears a read.
func (im *Image) refresh() error {
	if im.format == FormatOne {
		return im.refreshOld()
	}
	var (
		sizeOut, featOut, snapcOut, parentOut, flagsOut []byte

		rop = rados.NewReadOp().
			Exec("rbd", "get_size", cos.PackBytes(&cls.U64{V: im.snapID}), &sizeOut).
			Exec("rbd", "get_features",
				cos.PackBytes(&clsrbd.GetFeaturesOp{SnapID: im.snapID, ReadOnly: im.readOnly}), &featOut).
			Exec("rbd", "get_snapcontext", nil, &snapcOut).
			Exec("rbd", "get_parent", cos.PackBytes(&cls.U64{V: im.snapID}), &parentOut).
			Exec("rbd", "get_flags", cos.PackBytes(&cls.U64{V: im.snapID}), &flagsOut)
	)
	if err := im.ix.OperateRead(im.header, rop); err != nil {
		return err
	}
	var (
		size   clsrbd.SizeReply
		feats  clsrbd.FeaturesReply
		snapc  clsrbd.SnapContextReply
		parent clsrbd.Parent
		flags  cls.U64
	)
	for _, pair := range []struct {
		b  []byte
		st cos.Unpacker
	}{
		{sizeOut, &size}, {featOut, &feats}, {snapcOut, &snapc}, {parentOut, &parent}, {flagsOut, &flags},
	} {
		if err := cos.UnpackBytes(pair.b, pair.st); err != nil {
			return err
		}
	}

	var stripe clsrbd.StripeSpec
	if feats.Features&clsrbd.FeatureStripingV2 != 0 {
		out, err := im.ix.Exec(im.header, "rbd", "get_stripe_unit_count", nil)
		if err != nil {
			return err
		}
		if err := cos.UnpackBytes(out, &stripe); err != nil {
			return err
		}
	} else {
		stripe = clsrbd.StripeSpec{Unit: 1 << size.Order, Count: 1}
	}

	snaps, err := im.readSnaps(snapc.Snaps)
	if err != nil {
		return err
	}

	im.mu.Lock()
	im.size = size.Size
	im.order = size.Order
	im.features = feats.Features
	im.flags = flags.V
	im.su, im.sc = stripe.Unit, stripe.Count
	im.snapSeq = snapc.Seq
	im.snaps = snaps
	im.parent = parent
	if !parent.Exists() && im.parentImg != nil {
		// flattened under us; drop the stale fall-through handle
		p := im.parentImg
		im.parentImg = nil
		defer p.Close()
	}
	im.mu.Unlock()
	return nil
}

// readSnaps batches the per-snapshot lookups; ids arrive descending
// from the snap context and come back ascending.
func (im *Image) readSnaps(ids []uint64) ([]SnapInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var (
		names = make([][]byte, len(ids))
		sizes = make([][]byte, len(ids))
		prots = make([][]byte, len(ids))
		rop   = rados.NewReadOp()
	)
	for i, id := range ids {
		in := cos.PackBytes(&cls.U64{V: id})
		rop.Exec("rbd", "get_snapshot_name", in, &names[i]).
			Exec("rbd", "get_size", in, &sizes[i]).
			Exec("rbd", "get_protection_status", in, &prots[i])
	}
	if err := im.ix.OperateRead(im.header, rop); err != nil {
		return nil, err
	}
	out := make([]SnapInfo, len(ids))
	for i, id := range ids {
		var (
			name cls.Str
			size clsrbd.SizeReply
			prot cls.U8
		)
		if err := cos.UnpackBytes(names[i], &name); err != nil {
			return nil, err
		}
		if err := cos.UnpackBytes(sizes[i], &size); err != nil {
			return nil, err
		}
		if err := cos.UnpackBytes(prots[i], &prot); err != nil {
			return nil, err
		}
		at := len(ids) - 1 - i
		out[at] = SnapInfo{Name: name.S, ID: id, Size: size.Size, Protection: prot.V}
	}
	return out, nil
}

func (im *Image) refreshOld() error {
	hdr, err := readOldHeader(im.ix, im.spec.Image)
	if err != nil {
		return err
	}
	size := hdr.Size
	var snaps []SnapInfo
	for _, sn := range hdr.Snaps {
		snaps = append(snaps, SnapInfo{Name: sn.Name, ID: sn.ID, Size: sn.Size})
		if im.snapID != cos.NoSnap && sn.ID == im.snapID {
			size = sn.Size
		}
	}
	im.mu.Lock()
	im.size = size
	im.order = hdr.Order
	im.su, im.sc = 1<<hdr.Order, 1
	im.snapSeq = hdr.SnapSeq
	im.snaps = snaps
	im.parent = clsrbd.Parent{Pool: -1, Snap: cos.NoSnap}
	im.mu.Unlock()
	return nil
}

// notifyChanged wakes the other watchers of the header. Never called
// with im.mu held: our own watch goroutine needs it to ack.
func (im *Image) notifyChanged() {
	if _, err := im.ix.Notify(im.header, nil, headerNotifyTimeout); err != nil {
		nlog.Warningf("%s: header notify: %v", im.spec, err)
	}
}

// Info assembles the `rbd info` view, resolving the parent link back
// to a pool/image@snap spec.
func (im *Image) Info() (*ImageInfo, error) {
	im.mu.RLock()
	info := &ImageInfo{
		Name:         im.spec.Image,
		ID:           im.id,
		Format:       im.format,
		Size:         im.size,
		Objects:      striper{unit: im.su, count: im.sc, objSize: uint64(1) << im.order}.objectCount(im.size),
		Order:        im.order,
		ObjectPrefix: im.prefix,
		Features:     im.features,
		SnapCount:    len(im.snaps),
	}
	if im.features&clsrbd.FeatureStripingV2 != 0 {
		info.StripeUnit, info.StripeCount = im.su, im.sc
	}
	parent := im.parent
	im.mu.RUnlock()

	if parent.Exists() {
		spec, err := im.parentSpec(&parent)
		if err != nil {
			return nil, err
		}
		info.Parent = spec.String()
	}
	return info, nil
}

// parentSpec resolves a parent link (pool id, image id, snap id) to
// names.
func (im *Image) parentSpec(p *clsrbd.Parent) (Spec, error) {
	pool, err := im.c.LookupPoolByID(p.Pool)
	if err != nil {
		return Spec{}, err
	}
	pix, err := im.c.NewIOCtx(pool)
	if err != nil {
		return Spec{}, err
	}
	out, err := pix.Exec(dirOid, "rbd", "dir_get_name", cos.PackBytes(&cls.Str{S: p.ID}))
	if err != nil {
		return Spec{}, err
	}
	var name cls.Str
	if err := cos.UnpackBytes(out, &name); err != nil {
		return Spec{}, err
	}
	out, err = pix.Exec(headerOid(p.ID), "rbd", "get_snapshot_name", cos.PackBytes(&cls.U64{V: p.Snap}))
	if err != nil {
		return Spec{}, err
	}
	var snap cls.Str
	if err := cos.UnpackBytes(out, &snap); err != nil {
		return Spec{}, err
	}
	return Spec{Pool: pool, Image: name.S, Snap: snap.S}, nil
}

// Parent returns the parent spec of a clone, ok=false for a plain
// image.
func (im *Image) Parent() (Spec, bool, error) {
	im.mu.RLock()
	parent := im.parent
	im.mu.RUnlock()
	if !parent.Exists() {
		return Spec{}, false, nil
	}
	spec, err := im.parentSpec(&parent)
	return spec, err == nil, err
}

// openParent lazily opens the fall-through read handle of a clone.
func (im *Image) openParent() (*Image, error) {
	im.mu.RLock()
	p, parent := im.parentImg, im.parent
	im.mu.RUnlock()
	if p != nil {
		return p, nil
	}
	if !parent.Exists() {
		return nil, cos.ErrNotFound
	}
	spec, err := im.parentSpec(&parent)
	if err != nil {
		return nil, err
	}
	opened, err := openAt(im.c, spec, parent.Snap)
	if err != nil {
		return nil, err
	}
	im.mu.Lock()
	if im.parentImg == nil {
		im.parentImg = opened
	} else {
		// lost the race to another reader
		defer opened.Close()
	}
	p = im.parentImg
	im.mu.Unlock()
	return p, nil
}

// openAt opens read-only pinned at a snap id, bypassing name lookup
// of the snapshot.
func openAt(c *rados.Cluster, spec Spec, snapID uint64) (*Image, error) {
	im, err := open(c, Spec{Pool: spec.Pool, Image: spec.Image}, true)
	if err != nil {
		return nil, err
	}
	if snapID != cos.NoSnap {
		im.snapID = snapID
		if err := im.refresh(); err != nil {
			im.Close()
			return nil, err
		}
	}
	return im, nil
}

// Status lists the header watchers.
func (im *Image) Status() ([]rados.Watcher, error) {
	return im.ix.ListWatchers(im.header)
}

// Watch registers an explicit header watch; the caller drains Events
// and acks via NotifyAck.
func (im *Image) Watch() (*rados.WatchCtx, error) { return im.ix.Watch(im.header) }

func (im *Image) Unwatch(handle uint64) error { return im.ix.Unwatch(handle) }

func (im *Image) NotifyAck(ev rados.NotifyEvent) error {
	return im.ix.NotifyAck(im.header, ev.NotifyID, ev.Handle, nil)
}

// Remove deletes an image: data objects, header, id object, and the
// directory entry. Images with snapshots fail with -ENOTEMPTY, images
// somebody still watches with -EBUSY.
func Remove(c *rados.Cluster, pool, name string) error {
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return err
	}
	id, err := imageID(ix, name)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return removeOld(ix, name)
		}
		return err
	}
	header := headerOid(id)
	watchers, err := ix.ListWatchers(header)
	if err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if len(watchers) > 0 {
		return fmt.Errorf("image %s/%s has %d watcher(s): %v: %w",
			pool, name, len(watchers), watchers, cos.ErrBusy)
	}

	im, err := OpenReadOnly(c, Spec{Pool: pool, Image: name})
	if err != nil {
		return err
	}
	snaps := im.Snaps()
	parent := im.parentLink()
	prefix := im.prefix
	im.Close()
	if len(snaps) > 0 {
		return fmt.Errorf("image %s/%s has %d snapshot(s): %w", pool, name, len(snaps), cos.ErrNotEmpty)
	}

	removeDataObjects(ix, prefix)
	if parent.Exists() {
		childOp := &clsrbd.ChildOp{
			Parent: clsrbd.ParentSnap{Pool: parent.Pool, ID: parent.ID, Snap: parent.Snap},
			Child:  id,
		}
		if _, err := ix.Exec(childrenOid, "rbd", "remove_child", cos.PackBytes(childOp)); err != nil &&
			!cos.IsErrNotFound(err) {
			return err
		}
	}
	if err := ix.Remove(header); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if err := ix.Remove(idOid(name)); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	in := cos.PackBytes(&clsrbd.DirImageOp{Name: name, ID: id})
	if _, err := ix.Exec(dirOid, "rbd", "dir_remove_image", in); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if cos.FastV(4, cos.SmoduleRBD) {
		nlog.Infof("removed %s/%s (id=%s)", pool, name, id)
	}
	return nil
}

func (im *Image) parentLink() clsrbd.Parent {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.parent
}

func removeOld(ix *rados.IOCtx, name string) error {
	hdr, err := readOldHeader(ix, name)
	if err != nil {
		return err
	}
	watchers, err := ix.ListWatchers(oldHeaderOid(name))
	if err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if len(watchers) > 0 {
		return fmt.Errorf("image %s/%s has %d watcher(s): %v: %w",
			ix.Pool(), name, len(watchers), watchers, cos.ErrBusy)
	}
	if len(hdr.Snaps) > 0 {
		return fmt.Errorf("image %s/%s has %d snapshot(s): %w",
			ix.Pool(), name, len(hdr.Snaps), cos.ErrNotEmpty)
	}
	removeDataObjects(ix, hdr.Prefix)
	return ix.Remove(oldHeaderOid(name))
}

// removeDataObjects reaps every data object of the image by prefix
// scan; stray objects beyond the nominal size go with it.
func removeDataObjects(ix *rados.IOCtx, prefix string) {
	for _, oid := range ix.ListObjects() {
		if strings.HasPrefix(oid, prefix+".") {
			if err := ix.Remove(oid); err != nil && !cos.IsErrNotFound(err) {
				nlog.Errorf("remove %s: %v", oid, err)
			}
		}
	}
}

// Copy deep-copies the image (at its opened snap) into a new one,
// skipping all-zero chunks.
func (im *Image) Copy(pool, name string, opts *CreateOpts, progress ProgressFn) error {
	im.mu.RLock()
	o := CreateOpts{
		Order:    im.order,
		Features: im.features,
	}
	if im.features&clsrbd.FeatureStripingV2 != 0 {
		o.StripeUnit, o.StripeCount = im.su, im.sc
	}
	size := im.size
	im.mu.RUnlock()
	if opts != nil {
		if opts.Order != 0 {
			o.Order = opts.Order
		}
		if opts.Features != 0 {
			o.Features = opts.Features
		}
		if opts.StripeUnit != 0 {
			o.StripeUnit, o.StripeCount = opts.StripeUnit, opts.StripeCount
		}
	}
	if err := Create(im.c, pool, name, size, &o); err != nil {
		return err
	}
	dst, err := Open(im.c, Spec{Pool: pool, Image: name})
	if err != nil {
		_ = Remove(im.c, pool, name)
		return err
	}
	defer dst.Close()

	buf := make([]byte, uint64(1)<<o.Order)
	for ofs := uint64(0); ofs < size; ofs += uint64(len(buf)) {
		n := min(uint64(len(buf)), size-ofs)
		if _, err := im.ReadAt(buf[:n], ofs); err != nil {
			_ = Remove(im.c, pool, name)
			return err
		}
		if !isZeros(buf[:n]) {
			if _, err := dst.WriteAt(buf[:n], ofs); err != nil {
				_ = Remove(im.c, pool, name)
				return err
			}
		}
		if progress != nil {
			progress(ofs+n, size)
		}
	}
	return nil
}
