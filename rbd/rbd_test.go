// Package rbd_test: image lifecycle and I/O tests over an in-memory cluster
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd_test

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	clslock "github.com/NVIDIA/radstore/cls/lock"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/NVIDIA/radstore/tools/tassert"
)

// small objects keep the in-memory pools cheap
const (
	testOrder = uint8(12)
	objSize   = uint64(1) << testOrder
	testSize  = 4 * objSize
)

func newCluster(t *testing.T) *rados.Cluster {
	t.Helper()
	c, err := rados.New(rados.Config{})
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.CreatePool(rbd.DefaultPool)
	tassert.CheckFatal(t, err)
	return c
}

func mkImage(t *testing.T, c *rados.Cluster, name string, size uint64, opts *rbd.CreateOpts) *rbd.Image {
	t.Helper()
	if opts == nil {
		opts = &rbd.CreateOpts{Order: testOrder}
	}
	err := rbd.Create(c, rbd.DefaultPool, name, size, opts)
	tassert.CheckFatal(t, err)
	return openImage(t, c, rbd.Spec{Image: name})
}

func openImage(t *testing.T, c *rados.Cluster, spec rbd.Spec) *rbd.Image {
	t.Helper()
	im, err := rbd.Open(c, spec)
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { im.Close() })
	return im
}

func fill(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func readFull(t *testing.T, im *rbd.Image, ofs, n uint64) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := im.ReadAt(b, ofs)
	if err != nil && err != io.EOF {
		tassert.CheckFatal(t, err)
	}
	return b
}

func writeAt(t *testing.T, im *rbd.Image, ofs uint64, b []byte) {
	t.Helper()
	n, err := im.WriteAt(b, ofs)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, n == len(b), "short write: %d != %d", n, len(b))
}

func snapNames(im *rbd.Image) (names []string) {
	for _, sn := range im.Snaps() {
		names = append(names, sn.Name)
	}
	return
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in   string
		spec rbd.Spec
		ok   bool
	}{
		{"img", rbd.Spec{Pool: "rbd", Image: "img"}, true},
		{"vms/disk0", rbd.Spec{Pool: "vms", Image: "disk0"}, true},
		{"vms/disk0@base", rbd.Spec{Pool: "vms", Image: "disk0", Snap: "base"}, true},
		{"disk0@base", rbd.Spec{Pool: "rbd", Image: "disk0", Snap: "base"}, true},
		{"", rbd.Spec{}, false},
		{"/img", rbd.Spec{}, false},
		{"pool/", rbd.Spec{}, false},
		{"img@", rbd.Spec{}, false},
	}
	for _, tc := range tests {
		spec, err := rbd.ParseSpec(tc.in)
		if !tc.ok {
			tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "%q: expected EINVAL, got %v", tc.in, err)
			continue
		}
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, spec == tc.spec, "%q: got %+v, want %+v", tc.in, spec, tc.spec)
	}
}

func TestSpecString(t *testing.T) {
	tests := []struct {
		spec rbd.Spec
		s    string
	}{
		{rbd.Spec{Pool: "rbd", Image: "img"}, "rbd/img"},
		{rbd.Spec{Pool: "vms", Image: "disk0", Snap: "base"}, "vms/disk0@base"},
		{rbd.Spec{Image: "img"}, "img"},
	}
	for _, tc := range tests {
		tassert.Errorf(t, tc.spec.String() == tc.s, "got %q, want %q", tc.spec.String(), tc.s)
	}
}

func TestCreateAndInfo(t *testing.T) {
	c := newCluster(t)

	err := rbd.Create(c, rbd.DefaultPool, "disk0", 1<<24, nil)
	tassert.CheckFatal(t, err)

	names, err := rbd.List(c, rbd.DefaultPool)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(names) == 1 && names[0] == "disk0", "list: %v", names)

	im := openImage(t, c, rbd.Spec{Image: "disk0"})
	info, err := im.Info()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, info.Name == "disk0", "name %q", info.Name)
	tassert.Errorf(t, info.Format == rbd.FormatTwo, "format %d", info.Format)
	tassert.Errorf(t, info.Size == 1<<24, "size %d", info.Size)
	tassert.Errorf(t, info.Order == rbd.DefaultOrder, "order %d", info.Order)
	tassert.Errorf(t, info.Objects == 4, "objects %d", info.Objects)
	tassert.Errorf(t, info.Features == clsrbd.FeatureLayering, "features %#x", info.Features)
	tassert.Errorf(t, info.ObjectPrefix == "rbd_data."+im.ID(), "prefix %q", info.ObjectPrefix)
	tassert.Errorf(t, info.StripeUnit == 1<<rbd.DefaultOrder, "stripe unit %d", info.StripeUnit)
	tassert.Errorf(t, info.StripeCount == 1, "stripe count %d", info.StripeCount)
	tassert.Errorf(t, info.SnapCount == 0, "snap count %d", info.SnapCount)
	tassert.Errorf(t, info.Parent == "", "parent %q", info.Parent)

	err = rbd.Create(c, rbd.DefaultPool, "disk0", 1<<24, nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "duplicate create: %v", err)
}

func TestCreateErrors(t *testing.T) {
	c := newCluster(t)
	tests := []struct {
		name string
		opts rbd.CreateOpts
	}{
		{"", rbd.CreateOpts{}},
		{"bad-order-low", rbd.CreateOpts{Order: rbd.MinOrder - 1}},
		{"bad-order-high", rbd.CreateOpts{Order: rbd.MaxOrder + 1}},
		{"bad-format", rbd.CreateOpts{Format: 3}},
		{"lone-stripe-unit", rbd.CreateOpts{StripeUnit: 4096}},
		{"huge-stripe-unit", rbd.CreateOpts{Order: 12, StripeUnit: 8192, StripeCount: 2}},
		{"odd-stripe-unit", rbd.CreateOpts{Order: 12, StripeUnit: 1000, StripeCount: 2}},
		{"fmt1-features", rbd.CreateOpts{Format: rbd.FormatOne, Features: clsrbd.FeatureLayering}},
		{"unknown-feature", rbd.CreateOpts{Features: 1 << 40}},
	}
	for _, tc := range tests {
		err := rbd.Create(c, rbd.DefaultPool, tc.name, testSize, &tc.opts)
		tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "%s: expected EINVAL, got %v", tc.name, err)
	}

	_, err := rbd.Open(c, rbd.Spec{Image: "no-such-image"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "open missing: %v", err)
}

func TestReadWrite(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", testSize, nil)

	// crosses the object boundary at 4096
	data := fill(6000, 0xaa)
	writeAt(t, im, 1000, data)
	got := readFull(t, im, 1000, 6000)
	tassert.Fatalf(t, bytes.Equal(got, data), "boundary round-trip mismatch")

	// unwritten ranges read as zeros
	got = readFull(t, im, 2*objSize, objSize)
	tassert.Fatalf(t, bytes.Equal(got, make([]byte, objSize)), "expected zeros")

	// the byte before the write is still zero
	got = readFull(t, im, 0, 1000)
	tassert.Fatalf(t, bytes.Equal(got, make([]byte, 1000)), "expected zeros before write")

	// reads clip at the image size
	b := make([]byte, 100)
	n, err := im.ReadAt(b, testSize-50)
	tassert.Fatalf(t, n == 50 && err == io.EOF, "clip: n=%d err=%v", n, err)
	n, err = im.ReadAt(b, testSize)
	tassert.Fatalf(t, n == 0 && err == io.EOF, "at end: n=%d err=%v", n, err)

	// writes do not
	_, err = im.WriteAt(b, testSize-50)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "write past end: %v", err)

	ro, err := rbd.OpenReadOnly(c, rbd.Spec{Image: "disk0"})
	tassert.CheckFatal(t, err)
	defer ro.Close()
	_, err = ro.WriteAt(data, 0)
	tassert.Errorf(t, errors.Is(err, cos.ErrReadOnly), "read-only write: %v", err)
	_, err = ro.Discard(0, objSize)
	tassert.Errorf(t, errors.Is(err, cos.ErrReadOnly), "read-only discard: %v", err)
}

func TestStriping(t *testing.T) {
	c := newCluster(t)
	opts := &rbd.CreateOpts{
		Order:       testOrder,
		Features:    clsrbd.FeatureLayering | clsrbd.FeatureStripingV2,
		StripeUnit:  1024,
		StripeCount: 2,
	}
	im := mkImage(t, c, "striped", testSize, opts)

	unit, count := im.Stripe()
	tassert.Fatalf(t, unit == 1024 && count == 2, "stripe %d/%d", unit, count)
	tassert.Errorf(t, im.Features()&clsrbd.FeatureStripingV2 != 0, "features %#x", im.Features())

	// spans several stripe units and both objects of the first set
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	writeAt(t, im, 300, data)
	got := readFull(t, im, 300, 5000)
	tassert.Fatalf(t, bytes.Equal(got, data), "striped round-trip mismatch")

	// neighboring bytes stay zero
	tassert.Fatalf(t, readFull(t, im, 299, 1)[0] == 0, "stray byte before")
	tassert.Fatalf(t, readFull(t, im, 5300, 1)[0] == 0, "stray byte after")
}

func TestResize(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", testSize, nil)

	data := fill(int(objSize), 0xcc)
	writeAt(t, im, 3*objSize, data)

	// shrink drops the tail objects
	err := im.Resize(2 * objSize)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, im.Size() == 2*objSize, "size %d", im.Size())
	_, err = im.ReadAt(make([]byte, 1), 2*objSize)
	tassert.Fatalf(t, err == io.EOF, "read past shrunk size: %v", err)

	// growing back exposes zeros, not the old bytes
	err = im.Resize(testSize)
	tassert.CheckFatal(t, err)
	got := readFull(t, im, 3*objSize, objSize)
	tassert.Fatalf(t, bytes.Equal(got, make([]byte, objSize)), "expected zeros after regrow")

	// shrink to a mid-object size clips the partial object
	writeAt(t, im, 0, fill(int(objSize), 0xdd))
	err = im.Resize(100)
	tassert.CheckFatal(t, err)
	err = im.Resize(objSize)
	tassert.CheckFatal(t, err)
	got = readFull(t, im, 0, objSize)
	tassert.Fatalf(t, bytes.Equal(got[:100], fill(100, 0xdd)), "head survives the shrink")
	tassert.Fatalf(t, bytes.Equal(got[100:], make([]byte, objSize-100)), "tail reads zeros")
}

func TestResizeKeepsSnapshots(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", 2*objSize, nil)

	a, b := fill(int(objSize), 0x11), fill(int(objSize), 0x22)
	writeAt(t, im, 0, a)
	writeAt(t, im, objSize, b)
	tassert.CheckFatal(t, im.SnapCreate("keep"))

	tassert.CheckFatal(t, im.Resize(0))
	tassert.Fatalf(t, im.Size() == 0, "size %d", im.Size())

	at := openImage(t, c, rbd.Spec{Image: "disk0", Snap: "keep"})
	tassert.Fatalf(t, at.Size() == 2*objSize, "snap size %d", at.Size())
	tassert.Fatalf(t, bytes.Equal(readFull(t, at, 0, objSize), a), "snap data lost in shrink")
	tassert.Fatalf(t, bytes.Equal(readFull(t, at, objSize, objSize), b), "snap data lost in shrink")

	tassert.CheckFatal(t, im.SnapRollback("keep"))
	tassert.Fatalf(t, im.Size() == 2*objSize, "size after rollback %d", im.Size())
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), a), "rollback data")
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, objSize, objSize), b), "rollback data")
}

func TestSnapshots(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", testSize, nil)

	a := fill(int(objSize), 0xaa)
	writeAt(t, im, 0, a)
	tassert.CheckFatal(t, im.SnapCreate("s1"))

	err := im.SnapCreate("s1")
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "duplicate snap: %v", err)

	// head moves on, the snapshot does not
	b := fill(int(objSize), 0xbb)
	writeAt(t, im, 0, b)
	writeAt(t, im, 2*objSize, b)
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), b), "head after write")

	at := openImage(t, c, rbd.Spec{Image: "disk0", Snap: "s1"})
	tassert.Fatalf(t, at.ReadOnly(), "snap handle must be read-only")
	tassert.Fatalf(t, bytes.Equal(readFull(t, at, 0, objSize), a), "snap data")
	tassert.Fatalf(t, bytes.Equal(readFull(t, at, 2*objSize, objSize), make([]byte, objSize)),
		"object written after the snap must read zeros at it")

	_, err = rbd.Open(c, rbd.Spec{Image: "disk0", Snap: "nope"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "open missing snap: %v", err)

	tassert.CheckFatal(t, im.SnapRename("s1", "first"))
	names := snapNames(im)
	tassert.Fatalf(t, len(names) == 1 && names[0] == "first", "snaps after rename: %v", names)
	err = im.SnapRename("nope", "x")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "rename missing: %v", err)

	tassert.CheckFatal(t, im.SnapRollback("first"))
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), a), "head after rollback")
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 2*objSize, objSize), make([]byte, objSize)),
		"post-snap object survives rollback")

	tassert.CheckFatal(t, im.SnapRemove("first"))
	tassert.Fatalf(t, len(im.Snaps()) == 0, "snaps after remove: %v", snapNames(im))
	err = im.SnapRemove("first")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "remove missing: %v", err)

	// with the snapshot gone the rolled-back head still reads A
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), a), "head after snap remove")
}

func TestCloneCopyup(t *testing.T) {
	c := newCluster(t)
	parent := mkImage(t, c, "parent", testSize, nil)

	pa, pb := fill(int(objSize), 0x11), fill(int(objSize), 0x22)
	writeAt(t, parent, 0, pa)
	writeAt(t, parent, objSize, pb)
	tassert.CheckFatal(t, parent.SnapCreate("base"))

	// clone requires protection
	src := rbd.Spec{Pool: rbd.DefaultPool, Image: "parent", Snap: "base"}
	err := rbd.Clone(c, src, rbd.DefaultPool, "child", nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "clone of unprotected snap: %v", err)

	tassert.CheckFatal(t, parent.SnapProtect("base"))
	err = parent.SnapProtect("base")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "double protect: %v", err)

	tassert.CheckFatal(t, rbd.Clone(c, src, rbd.DefaultPool, "child", nil))
	child := openImage(t, c, rbd.Spec{Image: "child"})
	tassert.Fatalf(t, child.Size() == testSize, "child size %d", child.Size())

	pspec, ok, err := child.Parent()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, ok && pspec == src, "parent spec %+v", pspec)

	// unwritten child ranges fall through to the parent
	tassert.Fatalf(t, bytes.Equal(readFull(t, child, 0, objSize), pa), "fall-through obj0")
	tassert.Fatalf(t, bytes.Equal(readFull(t, child, objSize, objSize), pb), "fall-through obj1")

	// a partial write copies the parent object up around it
	cw := fill(100, 0x33)
	writeAt(t, child, 50, cw)
	got := readFull(t, child, 0, objSize)
	tassert.Fatalf(t, bytes.Equal(got[:50], pa[:50]), "copyup head")
	tassert.Fatalf(t, bytes.Equal(got[50:150], cw), "written range")
	tassert.Fatalf(t, bytes.Equal(got[150:], pa[150:]), "copyup tail")
	tassert.Fatalf(t, bytes.Equal(readFull(t, parent, 0, objSize), pa), "parent must not change")

	children, err := parent.Children("base")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(children) == 1 && children[0].Image == "child", "children: %v", children)

	err = parent.SnapUnprotect("base")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "unprotect with children: %v", err)
	err = parent.SnapRemove("base")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "remove protected snap: %v", err)

	tassert.CheckFatal(t, child.Flatten(nil))
	_, ok, err = child.Parent()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, !ok, "flattened image still has a parent")

	children, err = parent.Children("base")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(children) == 0, "children after flatten: %v", children)

	tassert.CheckFatal(t, parent.SnapUnprotect("base"))
	tassert.CheckFatal(t, parent.SnapRemove("base"))

	// the flattened child owns its data now
	tassert.Fatalf(t, bytes.Equal(readFull(t, child, 0, objSize)[150:], pa[150:]), "obj0 after flatten")
	tassert.Fatalf(t, bytes.Equal(readFull(t, child, objSize, objSize), pb), "obj1 after flatten")
}

func TestCloneDiscardMasksParent(t *testing.T) {
	c := newCluster(t)
	parent := mkImage(t, c, "parent", testSize, nil)

	pa := fill(int(objSize), 0x11)
	writeAt(t, parent, 0, pa)
	tassert.CheckFatal(t, parent.SnapCreate("base"))
	tassert.CheckFatal(t, parent.SnapProtect("base"))

	src := rbd.Spec{Pool: rbd.DefaultPool, Image: "parent", Snap: "base"}
	tassert.CheckFatal(t, rbd.Clone(c, src, rbd.DefaultPool, "child", nil))
	child := openImage(t, c, rbd.Spec{Image: "child"})

	// whole-object discard hides the parent data instead of re-exposing it
	_, err := child.Discard(0, objSize)
	tassert.CheckFatal(t, err)
	got := readFull(t, child, 0, objSize)
	tassert.Fatalf(t, bytes.Equal(got, make([]byte, objSize)), "discarded clone range must read zeros")
	tassert.Fatalf(t, bytes.Equal(readFull(t, parent, 0, objSize), pa), "parent must not change")

	// partial discard keeps the copied-up remainder
	writeAt(t, child, 0, pa)
	_, err = child.Discard(100, 200)
	tassert.CheckFatal(t, err)
	got = readFull(t, child, 0, objSize)
	tassert.Fatalf(t, bytes.Equal(got[:100], pa[:100]), "head survives partial discard")
	tassert.Fatalf(t, bytes.Equal(got[100:300], make([]byte, 200)), "discarded range reads zeros")
	tassert.Fatalf(t, bytes.Equal(got[300:], pa[300:]), "tail survives partial discard")
}

func TestRemove(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", testSize, nil)
	writeAt(t, im, 0, fill(100, 0x55))

	// an open writer holds a watch on the header
	err := rbd.Remove(c, rbd.DefaultPool, "disk0")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "remove watched image: %v", err)

	tassert.CheckFatal(t, im.SnapCreate("s1"))
	tassert.CheckFatal(t, im.Close())

	err = rbd.Remove(c, rbd.DefaultPool, "disk0")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotEmpty), "remove with snapshots: %v", err)

	im2 := openImage(t, c, rbd.Spec{Image: "disk0"})
	tassert.CheckFatal(t, im2.SnapRemove("s1"))
	tassert.CheckFatal(t, im2.Close())

	tassert.CheckFatal(t, rbd.Remove(c, rbd.DefaultPool, "disk0"))
	names, err := rbd.List(c, rbd.DefaultPool)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(names) == 0, "list after remove: %v", names)
	_, err = rbd.Open(c, rbd.Spec{Image: "disk0"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "open removed: %v", err)

	err = rbd.Remove(c, rbd.DefaultPool, "disk0")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "remove missing: %v", err)
}

func TestRename(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "old", testSize, nil)
	data := fill(1000, 0x77)
	writeAt(t, im, 0, data)
	tassert.CheckFatal(t, im.Close())

	tassert.CheckFatal(t, rbd.Rename(c, rbd.DefaultPool, "old", "new"))

	_, err := rbd.Open(c, rbd.Spec{Image: "old"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "open old name: %v", err)

	im2 := openImage(t, c, rbd.Spec{Image: "new"})
	tassert.Fatalf(t, bytes.Equal(readFull(t, im2, 0, 1000), data), "data after rename")

	err = rbd.Create(c, rbd.DefaultPool, "other", testSize, nil)
	tassert.CheckFatal(t, err)
	err = rbd.Rename(c, rbd.DefaultPool, "new", "other")
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "rename onto existing: %v", err)
	err = rbd.Rename(c, rbd.DefaultPool, "ghost", "x")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "rename missing: %v", err)
}

func TestLocks(t *testing.T) {
	c := newCluster(t)
	im1 := mkImage(t, c, "disk0", testSize, nil)
	im2 := openImage(t, c, rbd.Spec{Image: "disk0"})

	tassert.CheckFatal(t, im1.LockExclusive("ck1"))
	err := im1.LockExclusive("ck1")
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "re-lock same cookie: %v", err)
	err = im2.LockExclusive("ck2")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "second exclusive: %v", err)
	err = im2.LockShared("ck2", "")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "shared vs exclusive: %v", err)

	info, err := im1.LockList()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, info.Type == clslock.Exclusive, "lock type %d", info.Type)
	tassert.Fatalf(t, len(info.Lockers) == 1, "lockers: %+v", info.Lockers)
	tassert.Fatalf(t, info.Lockers[0].Cookie == "ck1", "cookie %q", info.Lockers[0].Cookie)

	// the owner is identified by entity+cookie, anyone may break it
	tassert.CheckFatal(t, im2.BreakLock(info.Lockers[0].Entity, "ck1"))
	info, err = im1.LockList()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(info.Lockers) == 0, "lockers after break: %+v", info.Lockers)

	// shared locks coexist under one tag
	tassert.CheckFatal(t, im1.LockShared("ck1", "grp"))
	tassert.CheckFatal(t, im2.LockShared("ck2", "grp"))
	im3 := openImage(t, c, rbd.Spec{Image: "disk0"})
	err = im3.LockShared("ck3", "other")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "tag mismatch: %v", err)
	err = im3.LockExclusive("ck3")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "exclusive vs shared: %v", err)

	tassert.CheckFatal(t, im1.Unlock("ck1"))
	tassert.CheckFatal(t, im2.Unlock("ck2"))
	err = im2.Unlock("ck2")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "unlock unheld: %v", err)
}

func TestFormat1(t *testing.T) {
	c := newCluster(t)
	opts := &rbd.CreateOpts{Format: rbd.FormatOne, Order: testOrder}
	err := rbd.Create(c, rbd.DefaultPool, "legacy", 2*objSize, opts)
	tassert.CheckFatal(t, err)

	names, err := rbd.List(c, rbd.DefaultPool)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(names) == 1 && names[0] == "legacy", "list: %v", names)

	im := openImage(t, c, rbd.Spec{Image: "legacy"})
	tassert.Fatalf(t, im.Format() == rbd.FormatOne, "format %d", im.Format())
	tassert.Fatalf(t, im.Size() == 2*objSize, "size %d", im.Size())
	tassert.Fatalf(t, im.Order() == testOrder, "order %d", im.Order())

	a := fill(int(objSize), 0x11)
	writeAt(t, im, 0, a)
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), a), "round-trip")

	tassert.CheckFatal(t, im.SnapCreate("s1"))
	b := fill(int(objSize), 0x22)
	writeAt(t, im, 0, b)

	at := openImage(t, c, rbd.Spec{Image: "legacy", Snap: "s1"})
	tassert.Fatalf(t, bytes.Equal(readFull(t, at, 0, objSize), a), "snap data")

	err = im.SnapProtect("s1")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotSupported), "protect on format 1: %v", err)

	tassert.CheckFatal(t, im.SnapRollback("s1"))
	tassert.Fatalf(t, bytes.Equal(readFull(t, im, 0, objSize), a), "head after rollback")

	tassert.CheckFatal(t, im.Resize(objSize))
	tassert.Fatalf(t, im.Size() == objSize, "size after shrink %d", im.Size())

	err = rbd.Remove(c, rbd.DefaultPool, "legacy")
	tassert.Errorf(t, errors.Is(err, cos.ErrBusy), "remove watched image: %v", err)
	tassert.CheckFatal(t, im.Close())

	err = rbd.Remove(c, rbd.DefaultPool, "legacy")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotEmpty), "remove with snapshot: %v", err)

	im2 := openImage(t, c, rbd.Spec{Image: "legacy"})
	tassert.CheckFatal(t, im2.SnapRemove("s1"))
	tassert.CheckFatal(t, im2.Close())
	tassert.CheckFatal(t, rbd.Remove(c, rbd.DefaultPool, "legacy"))
	_, err = rbd.Open(c, rbd.Spec{Image: "legacy"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "open removed: %v", err)
}

func TestCopy(t *testing.T) {
	c := newCluster(t)
	src := mkImage(t, c, "src", testSize, nil)
	data := fill(int(objSize), 0x88)
	writeAt(t, src, objSize, data)

	tassert.CheckFatal(t, src.Copy(rbd.DefaultPool, "dst", nil, nil))
	dst := openImage(t, c, rbd.Spec{Image: "dst"})
	tassert.Fatalf(t, dst.Size() == testSize, "dst size %d", dst.Size())
	tassert.Fatalf(t, bytes.Equal(readFull(t, dst, objSize, objSize), data), "dst data")
	tassert.Fatalf(t, bytes.Equal(readFull(t, dst, 0, objSize), make([]byte, objSize)), "dst holes")

	// the copy is independent
	writeAt(t, dst, 0, fill(10, 0x99))
	tassert.Fatalf(t, bytes.Equal(readFull(t, src, 0, 10), make([]byte, 10)), "src unchanged")
}

func TestExportImport(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "src", testSize, nil)
	data := fill(int(objSize), 0x44)
	writeAt(t, im, objSize, data)

	var buf bytes.Buffer
	tassert.CheckFatal(t, im.Export(&buf, nil))
	tassert.Fatalf(t, uint64(buf.Len()) == testSize, "export size %d", buf.Len())

	want := make([]byte, testSize)
	copy(want[objSize:], data)
	tassert.Fatalf(t, bytes.Equal(buf.Bytes(), want), "export bytes")

	opts := &rbd.CreateOpts{Order: testOrder}
	err := rbd.Import(c, rbd.DefaultPool, "dst", bytes.NewReader(buf.Bytes()), testSize, opts, nil)
	tassert.CheckFatal(t, err)
	dst := openImage(t, c, rbd.Spec{Image: "dst"})
	tassert.Fatalf(t, bytes.Equal(readFull(t, dst, 0, testSize), want), "import bytes")
}

func TestExportDiffImportDiff(t *testing.T) {
	c := newCluster(t)
	im1 := mkImage(t, c, "img1", testSize, nil)

	base := fill(int(objSize), 0x11)
	writeAt(t, im1, 0, base)
	tassert.CheckFatal(t, im1.SnapCreate("base"))

	// the delta: one new object, one punched hole
	delta := fill(int(objSize), 0x22)
	writeAt(t, im1, objSize, delta)
	_, err := im1.Discard(0, objSize)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, im1.SnapCreate("top"))

	// img2 replicates img1@base the long way
	var full bytes.Buffer
	at := openImage(t, c, rbd.Spec{Image: "img1", Snap: "base"})
	tassert.CheckFatal(t, at.Export(&full, nil))
	opts := &rbd.CreateOpts{Order: testOrder}
	tassert.CheckFatal(t, rbd.Import(c, rbd.DefaultPool, "img2", bytes.NewReader(full.Bytes()), testSize, opts, nil))
	im2 := openImage(t, c, rbd.Spec{Image: "img2"})
	tassert.CheckFatal(t, im2.SnapCreate("base"))

	var diff bytes.Buffer
	top := openImage(t, c, rbd.Spec{Image: "img1", Snap: "top"})
	tassert.CheckFatal(t, top.ExportDiff(&diff, "base", nil))

	// a recipient without the base snapshot rejects the stream
	im3 := mkImage(t, c, "img3", testSize, nil)
	err = im3.ImportDiff(bytes.NewReader(diff.Bytes()))
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "import-diff without base: %v", err)

	tassert.CheckFatal(t, im2.ImportDiff(bytes.NewReader(diff.Bytes())))

	// head now equals img1@top, and the end snapshot came along
	tassert.Fatalf(t, bytes.Equal(readFull(t, im2, 0, objSize), make([]byte, objSize)), "hole applied")
	tassert.Fatalf(t, bytes.Equal(readFull(t, im2, objSize, objSize), delta), "delta applied")
	names := snapNames(im2)
	tassert.Fatalf(t, len(names) == 2 && names[0] == "base" && names[1] == "top", "snaps: %v", names)

	// applying the same diff twice trips on the existing end snapshot
	err = im2.ImportDiff(bytes.NewReader(diff.Bytes()))
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "re-apply diff: %v", err)
}

func TestDiffIterate(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "disk0", testSize, nil)

	writeAt(t, im, 0, fill(int(objSize), 0x11))
	tassert.CheckFatal(t, im.SnapCreate("s1"))
	writeAt(t, im, 2*objSize, fill(int(objSize), 0x22))
	_, err := im.Discard(0, objSize)
	tassert.CheckFatal(t, err)

	type ext struct {
		ofs, length uint64
		exists      bool
	}
	var got []ext
	err = im.DiffIterate("s1", func(ofs, length uint64, exists bool) error {
		got = append(got, ext{ofs, length, exists})
		return nil
	})
	tassert.CheckFatal(t, err)
	want := []ext{{0, objSize, false}, {2 * objSize, objSize, true}}
	tassert.Fatalf(t, len(got) == len(want), "extents: %+v", got)
	for i := range want {
		tassert.Errorf(t, got[i] == want[i], "extent %d: %+v != %+v", i, got[i], want[i])
	}

	err = im.DiffIterate("ghost", func(_, _ uint64, _ bool) error { return nil })
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "diff from missing snap: %v", err)

	// no from-snap: everything allocated since creation
	got = got[:0]
	err = im.DiffIterate("", func(ofs, length uint64, exists bool) error {
		got = append(got, ext{ofs, length, exists})
		return nil
	})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(got) == 1 && got[0] == (ext{2 * objSize, objSize, true}), "full diff: %+v", got)
}

func TestBenchWrite(t *testing.T) {
	c := newCluster(t)
	im := mkImage(t, c, "bench", 64*objSize, nil)

	var calls atomic.Int64 // progress runs on worker goroutines
	opts := rbd.BenchOpts{Pattern: rbd.PatternSeq, IOSize: 4096, IOThreads: 4, IOTotal: 16 * 4096}
	res, err := im.BenchWrite(opts, func(_, _ uint64) { calls.Add(1) })
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, res.Ops == 16, "ops %d", res.Ops)
	tassert.Fatalf(t, res.Bytes == 16*4096, "bytes %d", res.Bytes)
	tassert.Fatalf(t, res.Elapsed > 0, "elapsed %v", res.Elapsed)
	tassert.Fatalf(t, calls.Load() == 16, "progress calls %d", calls.Load())
	tassert.Fatalf(t, !bytes.Equal(readFull(t, im, 0, 4096), make([]byte, 4096)), "bench wrote nothing")

	opts.Pattern = "zigzag"
	_, err = im.BenchWrite(opts, nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "bad pattern: %v", err)

	opts.Pattern = rbd.PatternRand
	res, err = im.BenchWrite(opts, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, res.Ops == 16, "rand ops %d", res.Ops)

	ro, err := rbd.OpenReadOnly(c, rbd.Spec{Image: "bench"})
	tassert.CheckFatal(t, err)
	defer ro.Close()
	_, err = ro.BenchWrite(opts, nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrReadOnly), "bench on read-only: %v", err)
}

func TestWatchNotify(t *testing.T) {
	c := newCluster(t)
	im1 := mkImage(t, c, "disk0", testSize, nil)
	im2 := openImage(t, c, rbd.Spec{Image: "disk0"})

	watchers, err := im1.Status()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(watchers) == 2, "watchers: %+v", watchers)

	// header notifications refresh every open handle before returning
	tassert.CheckFatal(t, im2.SnapCreate("s1"))
	names := snapNames(im1)
	tassert.Fatalf(t, len(names) == 1 && names[0] == "s1", "im1 snaps: %v", names)

	tassert.CheckFatal(t, im2.Resize(2 * objSize))
	tassert.Fatalf(t, im1.Size() == 2*objSize, "im1 size %d", im1.Size())

	tassert.CheckFatal(t, im2.Close())
	watchers, err = im1.Status()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(watchers) == 1, "watchers after close: %+v", watchers)
}
