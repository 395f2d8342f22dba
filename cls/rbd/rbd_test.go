// Package rbd_test: unit tests
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd_test

import (
	"errors"
	"testing"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/tools/tassert"
)

const (
	testOrder = uint8(22)
	testSize  = uint64(1) << 24
)

func newIOCtx(t *testing.T) *rados.IOCtx {
	t.Helper()
	c, err := rados.New(rados.Config{})
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.CreatePool("rbd")
	tassert.CheckFatal(t, err)
	ix, err := c.NewIOCtx("rbd")
	tassert.CheckFatal(t, err)
	return ix
}

func call(t *testing.T, ix *rados.IOCtx, oid, mth string, in cos.Packer) []byte {
	t.Helper()
	out, err := callE(ix, oid, mth, in)
	tassert.CheckFatal(t, err)
	return out
}

func callE(ix *rados.IOCtx, oid, mth string, in cos.Packer) ([]byte, error) {
	var b []byte
	if in != nil {
		b = cos.PackBytes(in)
	}
	return ix.Exec(oid, "rbd", mth, b)
}

func unpack(t *testing.T, b []byte, st cos.Unpacker) {
	t.Helper()
	tassert.CheckFatal(t, cos.UnpackBytes(b, st))
}

func mkImage(t *testing.T, ix *rados.IOCtx, oid string, features uint64) {
	t.Helper()
	call(t, ix, oid, "create", &rbd.CreateOp{
		ObjectPrefix: "rbd_data." + oid,
		Size:         testSize,
		Features:     features,
		Order:        testOrder,
	})
}

func addSnap(t *testing.T, ix *rados.IOCtx, oid, name string, id uint64) {
	t.Helper()
	call(t, ix, oid, "snapshot_add", &rbd.SnapshotAddOp{Name: name, ID: id})
}

func TestImageCreate(t *testing.T) {
	ix := newIOCtx(t)
	mkImage(t, ix, "header", rbd.FeatureLayering)

	_, err := callE(ix, "header", "create", &rbd.CreateOp{ObjectPrefix: "p", Size: 1, Order: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "re-create: %v", err)

	_, err = callE(ix, "h2", "create", &rbd.CreateOp{ObjectPrefix: "p", Features: uint64(1) << 60})
	tassert.Fatalf(t, errors.Is(err, cos.ErrNoSys), "unknown feature bit: %v", err)
	_, err = callE(ix, "h2", "create", &rbd.CreateOp{Size: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "empty object prefix: %v", err)

	var size rbd.SizeReply
	unpack(t, call(t, ix, "header", "get_size", &cls.U64{V: cos.NoSnap}), &size)
	tassert.Fatalf(t, size.Size == testSize && size.Order == testOrder, "size reply %+v", size)

	var prefix cls.Str
	unpack(t, call(t, ix, "header", "get_object_prefix", nil), &prefix)
	tassert.Errorf(t, prefix.S == "rbd_data.header", "object prefix %q", prefix.S)

	var feats rbd.FeaturesReply
	unpack(t, call(t, ix, "header", "get_features", &rbd.GetFeaturesOp{SnapID: cos.NoSnap}), &feats)
	tassert.Fatalf(t, feats.Features == rbd.FeatureLayering, "features %x", feats.Features)
	tassert.Errorf(t, feats.Incompatible == rbd.FeatureLayering, "incompatible %x", feats.Incompatible)

	var all cls.U64
	unpack(t, call(t, ix, "header", "get_all_features", nil), &all)
	tassert.Errorf(t, all.V == rbd.FeaturesAll, "all features %x", all.V)

	call(t, ix, "header", "set_size", &cls.U64{V: testSize / 2})
	unpack(t, call(t, ix, "header", "get_size", &cls.U64{V: cos.NoSnap}), &size)
	tassert.Errorf(t, size.Size == testSize/2, "size after shrink %d", size.Size)

	_, err = callE(ix, "header", "no_such_method", nil)
	tassert.Fatalf(t, errors.Is(err, cos.ErrNotSupported), "unregistered method: %v", err)
}

func TestImageSnapshots(t *testing.T) {
	ix := newIOCtx(t)
	mkImage(t, ix, "header", 0)

	addSnap(t, ix, "header", "s1", 4)

	var snapc rbd.SnapContextReply
	unpack(t, call(t, ix, "header", "get_snapcontext", nil), &snapc)
	tassert.Fatalf(t, snapc.Seq == 4 && len(snapc.Snaps) == 1 && snapc.Snaps[0] == 4,
		"snap context %+v", snapc)

	_, err := callE(ix, "header", "snapshot_add", &rbd.SnapshotAddOp{Name: "s1", ID: 5})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "duplicate snap name: %v", err)
	_, err = callE(ix, "header", "snapshot_add", &rbd.SnapshotAddOp{Name: "s2", ID: 3})
	tassert.Fatalf(t, errors.Is(err, cos.ErrStale), "snap id below snap_seq: %v", err)
	_, err = callE(ix, "header", "snapshot_add", &rbd.SnapshotAddOp{Name: "s2", ID: rbd.MaxSnap + 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "snap id out of range: %v", err)

	// the snapshot pins the size at its creation
	call(t, ix, "header", "set_size", &cls.U64{V: testSize / 4})
	addSnap(t, ix, "header", "s2", 6)

	unpack(t, call(t, ix, "header", "get_snapcontext", nil), &snapc)
	tassert.Fatalf(t, snapc.Seq == 6 && len(snapc.Snaps) == 2 &&
		snapc.Snaps[0] == 6 && snapc.Snaps[1] == 4, "snap context %+v", snapc)

	var name cls.Str
	unpack(t, call(t, ix, "header", "get_snapshot_name", &cls.U64{V: 4}), &name)
	tassert.Errorf(t, name.S == "s1", "snap name %q", name.S)
	_, err = callE(ix, "header", "get_snapshot_name", &cls.U64{V: cos.NoSnap})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "snap name of the head: %v", err)

	var size rbd.SizeReply
	unpack(t, call(t, ix, "header", "get_size", &cls.U64{V: 4}), &size)
	tassert.Errorf(t, size.Size == testSize, "size at snap 4: %d", size.Size)
	unpack(t, call(t, ix, "header", "get_size", &cls.U64{V: 6}), &size)
	tassert.Errorf(t, size.Size == testSize/4, "size at snap 6: %d", size.Size)

	call(t, ix, "header", "snapshot_rename", &rbd.SnapshotAddOp{Name: "start", ID: 4})
	unpack(t, call(t, ix, "header", "get_snapshot_name", &cls.U64{V: 4}), &name)
	tassert.Errorf(t, name.S == "start", "renamed snap %q", name.S)
	_, err = callE(ix, "header", "snapshot_rename", &rbd.SnapshotAddOp{Name: "s2", ID: 4})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "rename onto a taken name: %v", err)
	_, err = callE(ix, "header", "snapshot_rename", &rbd.SnapshotAddOp{Name: "x", ID: 99})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "rename of a missing snap: %v", err)
	_, err = callE(ix, "header", "snapshot_rename", &rbd.SnapshotAddOp{ID: 4})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "rename to an empty name: %v", err)

	call(t, ix, "header", "snapshot_remove", &cls.U64{V: 4})
	unpack(t, call(t, ix, "header", "get_snapcontext", nil), &snapc)
	tassert.Fatalf(t, snapc.Seq == 6 && len(snapc.Snaps) == 1, "snap context after remove %+v", snapc)

	_, err = callE(ix, "header", "snapshot_remove", &cls.U64{V: 99})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "remove of a missing snap: %v", err)
}

func TestSnapshotProtection(t *testing.T) {
	ix := newIOCtx(t)
	mkImage(t, ix, "header", rbd.FeatureLayering)
	addSnap(t, ix, "header", "s1", 2)

	var st cls.U8
	unpack(t, call(t, ix, "header", "get_protection_status", &cls.U64{V: 2}), &st)
	tassert.Errorf(t, st.V == rbd.ProtectionUnprotected, "initial status %d", st.V)

	call(t, ix, "header", "set_protection_status",
		&rbd.ProtectionOp{SnapID: 2, Status: rbd.ProtectionProtected})
	_, err := callE(ix, "header", "snapshot_remove", &cls.U64{V: 2})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "remove of a protected snap: %v", err)

	_, err = callE(ix, "header", "set_protection_status",
		&rbd.ProtectionOp{SnapID: 2, Status: 7})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "bogus status: %v", err)
	_, err = callE(ix, "header", "set_protection_status",
		&rbd.ProtectionOp{SnapID: 99, Status: rbd.ProtectionProtected})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "protect of a missing snap: %v", err)

	call(t, ix, "header", "set_protection_status",
		&rbd.ProtectionOp{SnapID: 2, Status: rbd.ProtectionUnprotected})
	call(t, ix, "header", "snapshot_remove", &cls.U64{V: 2})
}

func TestImageParent(t *testing.T) {
	ix := newIOCtx(t)

	mkImage(t, ix, "flat", 0)
	_, err := callE(ix, "flat", "set_parent", &rbd.Parent{Pool: 1, ID: "par", Snap: 3, Overlap: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrNoExec), "set_parent without layering: %v", err)

	mkImage(t, ix, "child", rbd.FeatureLayering)
	_, err = callE(ix, "child", "set_parent", &rbd.Parent{Pool: -1, ID: "par", Snap: 3, Overlap: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "bad parent spec: %v", err)

	// overlap is the parent size on input; stored clamped to the child
	call(t, ix, "child", "set_parent", &rbd.Parent{Pool: 1, ID: "par", Snap: 3, Overlap: testSize * 2})
	var parent rbd.Parent
	unpack(t, call(t, ix, "child", "get_parent", &cls.U64{V: cos.NoSnap}), &parent)
	tassert.Fatalf(t, parent.ID == "par" && parent.Pool == 1 && parent.Snap == 3,
		"parent %+v", parent)
	tassert.Errorf(t, parent.Overlap == testSize, "overlap %d, want clamp to %d", parent.Overlap, testSize)

	_, err = callE(ix, "child", "set_parent", &rbd.Parent{Pool: 1, ID: "par2", Snap: 3, Overlap: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "second set_parent: %v", err)

	// a snapshot carries the parent link of its moment
	addSnap(t, ix, "child", "s1", 2)

	// shrinking the child shrinks the overlap
	call(t, ix, "child", "set_size", &cls.U64{V: testSize / 8})
	unpack(t, call(t, ix, "child", "get_parent", &cls.U64{V: cos.NoSnap}), &parent)
	tassert.Errorf(t, parent.Overlap == testSize/8, "overlap after shrink %d", parent.Overlap)
	unpack(t, call(t, ix, "child", "get_parent", &cls.U64{V: 2}), &parent)
	tassert.Errorf(t, parent.Overlap == testSize, "overlap at snap %d", parent.Overlap)

	call(t, ix, "child", "remove_parent", nil)
	unpack(t, call(t, ix, "child", "get_parent", &cls.U64{V: cos.NoSnap}), &parent)
	tassert.Fatalf(t, !parent.Exists(), "parent after remove %+v", parent)
	_, err = callE(ix, "child", "remove_parent", nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "double remove_parent: %v", err)
}

func TestCloneChildren(t *testing.T) {
	ix := newIOCtx(t)
	tassert.CheckFatal(t, ix.Create("rbd_children", false))

	ps := rbd.ParentSnap{Pool: 1, ID: "par", Snap: 3}
	call(t, ix, "rbd_children", "add_child", &rbd.ChildOp{Parent: ps, Child: "c2"})
	call(t, ix, "rbd_children", "add_child", &rbd.ChildOp{Parent: ps, Child: "c1"})
	_, err := callE(ix, "rbd_children", "add_child", &rbd.ChildOp{Parent: ps, Child: "c1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "duplicate child: %v", err)

	var reply rbd.ChildrenReply
	unpack(t, call(t, ix, "rbd_children", "get_children", &ps), &reply)
	tassert.Fatalf(t, len(reply.Children) == 2 && reply.Children[0] == "c1" && reply.Children[1] == "c2",
		"children %v", reply.Children)

	call(t, ix, "rbd_children", "remove_child", &rbd.ChildOp{Parent: ps, Child: "c1"})
	_, err = callE(ix, "rbd_children", "remove_child", &rbd.ChildOp{Parent: ps, Child: "c1"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "double remove_child: %v", err)

	// dropping the last child drops the record
	call(t, ix, "rbd_children", "remove_child", &rbd.ChildOp{Parent: ps, Child: "c2"})
	_, err = callE(ix, "rbd_children", "get_children", &ps)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "children of an unreferenced parent: %v", err)
}

func TestStriping(t *testing.T) {
	ix := newIOCtx(t)

	mkImage(t, ix, "plain", 0)
	_, err := callE(ix, "plain", "get_stripe_unit_count", nil)
	tassert.Fatalf(t, errors.Is(err, cos.ErrNoExec), "striping without the feature: %v", err)

	mkImage(t, ix, "striped", rbd.FeatureStripingV2)
	var spec rbd.StripeSpec
	unpack(t, call(t, ix, "striped", "get_stripe_unit_count", nil), &spec)
	tassert.Fatalf(t, spec.Unit == uint64(1)<<testOrder && spec.Count == 1,
		"default stripe spec %+v", spec)

	call(t, ix, "striped", "set_stripe_unit_count", &rbd.StripeSpec{Unit: 1 << 20, Count: 4})
	unpack(t, call(t, ix, "striped", "get_stripe_unit_count", nil), &spec)
	tassert.Fatalf(t, spec.Unit == 1<<20 && spec.Count == 4, "stripe spec %+v", spec)

	_, err = callE(ix, "striped", "set_stripe_unit_count", &rbd.StripeSpec{Unit: 3000, Count: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "unit not a factor of the object size: %v", err)
	_, err = callE(ix, "striped", "set_stripe_unit_count", &rbd.StripeSpec{Unit: 0, Count: 1})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "zero stripe unit: %v", err)
}

func TestFlags(t *testing.T) {
	ix := newIOCtx(t)
	mkImage(t, ix, "header", 0)

	var flags cls.U64
	unpack(t, call(t, ix, "header", "get_flags", &cls.U64{V: cos.NoSnap}), &flags)
	tassert.Errorf(t, flags.V == 0, "initial flags %x", flags.V)

	// only bits under the mask change
	call(t, ix, "header", "set_flags", &rbd.FlagsOp{Flags: 0b11, Mask: 0b01})
	unpack(t, call(t, ix, "header", "get_flags", &cls.U64{V: cos.NoSnap}), &flags)
	tassert.Fatalf(t, flags.V == 0b01, "masked set: %x", flags.V)

	call(t, ix, "header", "set_flags", &rbd.FlagsOp{Flags: 0b10, Mask: 0b11})
	unpack(t, call(t, ix, "header", "get_flags", &cls.U64{V: cos.NoSnap}), &flags)
	tassert.Fatalf(t, flags.V == 0b10, "second set: %x", flags.V)

	// snapshots freeze the flags with the rest of the header
	addSnap(t, ix, "header", "s1", 2)
	call(t, ix, "header", "set_flags", &rbd.FlagsOp{Flags: 0, Mask: 0b11})
	unpack(t, call(t, ix, "header", "get_flags", &cls.U64{V: 2}), &flags)
	tassert.Errorf(t, flags.V == 0b10, "flags at snap %x", flags.V)
}

func TestIDObject(t *testing.T) {
	ix := newIOCtx(t)

	_, err := callE(ix, "rbd_id.img", "set_id", &cls.Str{S: "abc123"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "set_id without the object: %v", err)

	tassert.CheckFatal(t, ix.Create("rbd_id.img", false))
	_, err = callE(ix, "rbd_id.img", "get_id", nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get_id before set: %v", err)

	_, err = callE(ix, "rbd_id.img", "set_id", &cls.Str{S: "not-valid!"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "bad id characters: %v", err)

	call(t, ix, "rbd_id.img", "set_id", &cls.Str{S: "abc123"})
	var id cls.Str
	unpack(t, call(t, ix, "rbd_id.img", "get_id", nil), &id)
	tassert.Fatalf(t, id.S == "abc123", "id %q", id.S)

	_, err = callE(ix, "rbd_id.img", "set_id", &cls.Str{S: "other0"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "second set_id: %v", err)
}

func TestImageDirectory(t *testing.T) {
	ix := newIOCtx(t)
	const dir = "rbd_directory"

	call(t, ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "img1", ID: "id1"})
	call(t, ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "img2", ID: "id2"})
	call(t, ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "img3", ID: "id3"})

	_, err := callE(ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "img1", ID: "id9"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "duplicate name: %v", err)
	_, err = callE(ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "img9", ID: "id1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBadFD), "duplicate id: %v", err)
	_, err = callE(ix, dir, "dir_add_image", &rbd.DirImageOp{Name: "", ID: "id9"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "empty name: %v", err)

	var id, name cls.Str
	unpack(t, call(t, ix, dir, "dir_get_id", &cls.Str{S: "img1"}), &id)
	tassert.Errorf(t, id.S == "id1", "dir_get_id %q", id.S)
	unpack(t, call(t, ix, dir, "dir_get_name", &cls.Str{S: "id2"}), &name)
	tassert.Errorf(t, name.S == "img2", "dir_get_name %q", name.S)
	_, err = callE(ix, dir, "dir_get_id", &cls.Str{S: "ghost"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "lookup of a missing image: %v", err)

	var list rbd.DirListReply
	unpack(t, call(t, ix, dir, "dir_list", &rbd.DirListOp{Max: 100}), &list)
	tassert.Fatalf(t, len(list.Images) == 3 && list.Images[0].Name == "img1" &&
		list.Images[2].Name == "img3", "listing %+v", list.Images)

	unpack(t, call(t, ix, dir, "dir_list", &rbd.DirListOp{Max: 2}), &list)
	tassert.Fatalf(t, len(list.Images) == 2 && list.Images[1].Name == "img2", "bounded listing %+v", list.Images)
	unpack(t, call(t, ix, dir, "dir_list", &rbd.DirListOp{StartAfter: "img1", Max: 100}), &list)
	tassert.Fatalf(t, len(list.Images) == 2 && list.Images[0].Name == "img2", "resumed listing %+v", list.Images)

	_, err = callE(ix, dir, "dir_rename_image", &rbd.DirRenameOp{Src: "img1", Dest: "img0", ID: "id9"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrStale), "rename with a stale id: %v", err)
	call(t, ix, dir, "dir_rename_image", &rbd.DirRenameOp{Src: "img1", Dest: "img0", ID: "id1"})
	unpack(t, call(t, ix, dir, "dir_get_id", &cls.Str{S: "img0"}), &id)
	tassert.Errorf(t, id.S == "id1", "renamed id %q", id.S)
	_, err = callE(ix, dir, "dir_get_id", &cls.Str{S: "img1"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "old name after rename: %v", err)

	call(t, ix, dir, "dir_remove_image", &rbd.DirImageOp{Name: "img0", ID: "id1"})
	_, err = callE(ix, dir, "dir_get_name", &cls.Str{S: "id1"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "removed image still indexed: %v", err)
}

func TestCopyup(t *testing.T) {
	ix := newIOCtx(t)

	call(t, ix, "data.0", "copyup", &cls.Bytes{B: []byte("parent data")})
	b, err := ix.Read("data.0", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "parent data", "copied-up data %q", b)

	// a second copyup must not clobber what a writer put there
	call(t, ix, "data.0", "copyup", &cls.Bytes{B: []byte("late parent")})
	b, _ = ix.Read("data.0", 0, -1)
	tassert.Fatalf(t, string(b) == "parent data", "copyup overwrote: %q", b)
}
