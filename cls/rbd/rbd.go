// Package rbd implements the image-header class: format-2 image state
// kept in omap of the header object, plus the image directory and the
// clone children directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Header omap keys: "size" u64, "order" u8, "features" u64,
// "object_prefix" str, "snap_seq" u64, "flags" u64, "parent",
// "stripe_unit"/"stripe_count" u64, "snapshot_%016x" records.

const (
	maxKeysRead = 64

	snapKeyPrefix    = "snapshot_"
	dirNameKeyPrefix = "name_"
	dirIDKeyPrefix   = "id_"
	childKeyPrefix   = "child_"
)

func Register(reg *cls.Registry) {
	reg.Register("rbd", "create", cls.RD|cls.WR, create)
	reg.Register("rbd", "get_features", cls.RD, getFeatures)
	reg.Register("rbd", "get_size", cls.RD, getSize)
	reg.Register("rbd", "set_size", cls.RD|cls.WR, setSize)
	reg.Register("rbd", "get_snapcontext", cls.RD, getSnapcontext)
	reg.Register("rbd", "get_object_prefix", cls.RD, getObjectPrefix)
	reg.Register("rbd", "get_snapshot_name", cls.RD, getSnapshotName)
	reg.Register("rbd", "snapshot_add", cls.RD|cls.WR, snapshotAdd)
	reg.Register("rbd", "snapshot_remove", cls.RD|cls.WR, snapshotRemove)
	reg.Register("rbd", "snapshot_rename", cls.RD|cls.WR, snapshotRename)
	reg.Register("rbd", "get_all_features", cls.RD, getAllFeatures)
	reg.Register("rbd", "copyup", cls.RD|cls.WR, copyup)
	reg.Register("rbd", "get_parent", cls.RD, getParent)
	reg.Register("rbd", "set_parent", cls.RD|cls.WR, setParent)
	reg.Register("rbd", "remove_parent", cls.RD|cls.WR, removeParent)
	reg.Register("rbd", "get_protection_status", cls.RD, getProtectionStatus)
	reg.Register("rbd", "set_protection_status", cls.RD|cls.WR, setProtectionStatus)
	reg.Register("rbd", "get_stripe_unit_count", cls.RD, getStripeUnitCount)
	reg.Register("rbd", "set_stripe_unit_count", cls.RD|cls.WR, setStripeUnitCount)
	reg.Register("rbd", "get_flags", cls.RD, getFlags)
	reg.Register("rbd", "set_flags", cls.RD|cls.WR, setFlags)

	reg.Register("rbd", "add_child", cls.RD|cls.WR, addChild)
	reg.Register("rbd", "remove_child", cls.RD|cls.WR, removeChild)
	reg.Register("rbd", "get_children", cls.RD, getChildren)

	reg.Register("rbd", "get_id", cls.RD, getID)
	reg.Register("rbd", "set_id", cls.RD|cls.WR, setID)

	reg.Register("rbd", "dir_get_id", cls.RD, dirGetID)
	reg.Register("rbd", "dir_get_name", cls.RD, dirGetName)
	reg.Register("rbd", "dir_list", cls.RD, dirList)
	reg.Register("rbd", "dir_add_image", cls.RD|cls.WR, dirAddImage)
	reg.Register("rbd", "dir_remove_image", cls.RD|cls.WR, dirRemoveImage)
	reg.Register("rbd", "dir_rename_image", cls.RD|cls.WR, dirRenameImage)
}

//
// stored-record accessors: missing key => -ENOENT, rotten record => -EIO
//

func errCorrupt(key string) error {
	return fmt.Errorf("corrupt %q record: %w", key, cos.ErrIO)
}

func readU64(hctx *cls.Context, key string) (uint64, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return 0, err
	}
	var v cls.U64
	if cos.UnpackBytes(b, &v) != nil {
		return 0, errCorrupt(key)
	}
	return v.V, nil
}

func readU8(hctx *cls.Context, key string) (uint8, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return 0, err
	}
	var v cls.U8
	if cos.UnpackBytes(b, &v) != nil {
		return 0, errCorrupt(key)
	}
	return v.V, nil
}

func readStr(hctx *cls.Context, key string) (string, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return "", err
	}
	var v cls.Str
	if cos.UnpackBytes(b, &v) != nil {
		return "", errCorrupt(key)
	}
	return v.S, nil
}

func snapKey(id uint64) string { return fmt.Sprintf("%s%016x", snapKeyPrefix, id) }

func snapIDFromKey(key string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(key, snapKeyPrefix), 16, 64)
	if err != nil {
		return 0, errCorrupt(key)
	}
	return id, nil
}

func readSnap(hctx *cls.Context, id uint64) (*snapMeta, error) {
	key := snapKey(id)
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return nil, err
	}
	snap := &snapMeta{}
	if cos.UnpackBytes(b, snap) != nil {
		return nil, errCorrupt(key)
	}
	return snap, nil
}

func readParent(hctx *cls.Context) (Parent, error) {
	b, err := hctx.OmapGetVal("parent")
	if err != nil {
		return noParent(), err
	}
	var p Parent
	if cos.UnpackBytes(b, &p) != nil {
		return noParent(), errCorrupt("parent")
	}
	return p, nil
}

func writeParent(hctx *cls.Context, p *Parent) error {
	return hctx.OmapSetVal("parent", cos.PackBytes(p))
}

func checkExists(hctx *cls.Context) error {
	_, _, err := hctx.Stat()
	return err
}

// requireFeature: absent "features" reads as zero, so any needed bit
// comes back -ENOEXEC on pre-feature images.
func requireFeature(hctx *cls.Context, need uint64) error {
	features, err := readU64(hctx, "features")
	if err != nil {
		if !cos.IsErrNotFound(err) {
			return err
		}
		features = 0
	}
	if features&need != need {
		return cos.ErrNoExec
	}
	return nil
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	for i := range len(id) {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

//
// header-object methods
//

func create(hctx *cls.Context, in []byte) ([]byte, error) {
	var op CreateOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Features&^FeaturesAll != 0 {
		return nil, cos.ErrNoSys
	}
	if op.ObjectPrefix == "" {
		return nil, cos.ErrInvalid
	}
	if _, err := hctx.OmapGetVal("object_prefix"); err == nil || !cos.IsErrNotFound(err) {
		return nil, cos.ErrExists
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("create %s: prefix=%s size=%d order=%d features=%x",
			hctx.Oid(), op.ObjectPrefix, op.Size, op.Order, op.Features)
	}
	return nil, hctx.OmapSet(map[string][]byte{
		"size":          cos.PackBytes(&cls.U64{V: op.Size}),
		"order":         cos.PackBytes(&cls.U8{V: op.Order}),
		"features":      cos.PackBytes(&cls.U64{V: op.Features}),
		"object_prefix": cos.PackBytes(&cls.Str{S: op.ObjectPrefix}),
		"snap_seq":      cos.PackBytes(&cls.U64{V: 0}),
	})
}

func getFeatures(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GetFeaturesOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	var features uint64
	if op.SnapID == cos.NoSnap {
		v, err := readU64(hctx, "features")
		if err != nil {
			return nil, err
		}
		features = v
	} else {
		snap, err := readSnap(hctx, op.SnapID)
		if err != nil {
			return nil, err
		}
		features = snap.Features
	}
	mask := uint64(FeaturesRWIncompatible)
	if op.ReadOnly {
		mask = FeaturesIncompatible
	}
	return cos.PackBytes(&FeaturesReply{Features: features, Incompatible: features & mask}), nil
}

func getSize(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	order, err := readU8(hctx, "order")
	if err != nil {
		return nil, err
	}
	var size uint64
	if op.V == cos.NoSnap {
		if size, err = readU64(hctx, "size"); err != nil {
			return nil, err
		}
	} else {
		snap, err := readSnap(hctx, op.V)
		if err != nil {
			return nil, err
		}
		size = snap.Size
	}
	return cos.PackBytes(&SizeReply{Order: order, Size: size}), nil
}

func setSize(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	// reading back the size doubles as the valid-header check
	origSize, err := readU64(hctx, "size")
	if err != nil {
		return nil, err
	}
	if err := hctx.OmapSetVal("size", cos.PackBytes(&cls.U64{V: op.V})); err != nil {
		return nil, err
	}
	// shrinking a clone shrinks the parent overlap with it
	if op.V < origSize {
		parent, err := readParent(hctx)
		if err != nil && !cos.IsErrNotFound(err) {
			return nil, err
		}
		if parent.Exists() && parent.Overlap > op.V {
			parent.Overlap = op.V
			if err := writeParent(hctx, &parent); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func getSnapcontext(hctx *cls.Context, _ []byte) ([]byte, error) {
	var (
		ids      = make([]uint64, 0, 8)
		lastRead = snapKeyPrefix
	)
	for {
		vals, more, err := hctx.OmapGetVals(lastRead, snapKeyPrefix, maxKeysRead)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			id, err := snapIDFromKey(k)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			lastRead = k
		}
		if !more {
			break
		}
	}
	seq, err := readU64(hctx, "snap_seq")
	if err != nil {
		return nil, err
	}
	// a snap context carries ids newest first
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return cos.PackBytes(&SnapContextReply{Seq: seq, Snaps: ids}), nil
}

func getObjectPrefix(hctx *cls.Context, _ []byte) ([]byte, error) {
	prefix, err := readStr(hctx, "object_prefix")
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(&cls.Str{S: prefix}), nil
}

func getSnapshotName(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.V == cos.NoSnap {
		return nil, cos.ErrInvalid
	}
	snap, err := readSnap(hctx, op.V)
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(&cls.Str{S: snap.Name}), nil
}

func snapshotAdd(hctx *cls.Context, in []byte) ([]byte, error) {
	var op SnapshotAddOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.ID > MaxSnap {
		return nil, cos.ErrInvalid
	}
	curSeq, err := readU64(hctx, "snap_seq")
	if err != nil {
		return nil, err
	}
	// ids assigned by the cluster are monotone; a lower one means the
	// caller lost a race with another snapshot create
	if op.ID < curSeq {
		return nil, cos.ErrStale
	}
	meta := snapMeta{ID: op.ID, Name: op.Name, Parent: noParent()}
	if meta.Size, err = readU64(hctx, "size"); err != nil {
		return nil, err
	}
	if meta.Features, err = readU64(hctx, "features"); err != nil {
		return nil, err
	}
	if meta.Flags, err = readU64(hctx, "flags"); err != nil && !cos.IsErrNotFound(err) {
		return nil, err
	}

	lastRead := snapKeyPrefix
	for {
		vals, more, err := hctx.OmapGetVals(lastRead, snapKeyPrefix, maxKeysRead)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			var old snapMeta
			if cos.UnpackBytes(vals[k], &old) != nil {
				return nil, errCorrupt(k)
			}
			if old.Name == op.Name || old.ID == op.ID {
				return nil, cos.ErrExists
			}
			lastRead = k
		}
		if !more {
			break
		}
	}

	parent, err := readParent(hctx)
	if err != nil && !cos.IsErrNotFound(err) {
		return nil, err
	}
	if err == nil {
		meta.Parent = parent
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("snapshot_add %s: name=%s id=%d", hctx.Oid(), op.Name, op.ID)
	}
	return nil, hctx.OmapSet(map[string][]byte{
		"snap_seq":      cos.PackBytes(&cls.U64{V: op.ID}),
		snapKey(op.ID): cos.PackBytes(&meta),
	})
}

func snapshotRemove(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	snap, err := readSnap(hctx, op.V)
	if err != nil {
		return nil, err
	}
	if snap.Protection != ProtectionUnprotected {
		return nil, cos.ErrBusy
	}
	return nil, hctx.OmapRmKeys(snapKey(op.V))
}

// snapshotRename reuses the add payload: ID selects the snapshot, Name
// is the new name.
func snapshotRename(hctx *cls.Context, in []byte) ([]byte, error) {
	var op SnapshotAddOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, cos.ErrInvalid
	}
	snap, err := readSnap(hctx, op.ID)
	if err != nil {
		return nil, err
	}
	lastRead := snapKeyPrefix
	for {
		vals, more, err := hctx.OmapGetVals(lastRead, snapKeyPrefix, maxKeysRead)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			var old snapMeta
			if cos.UnpackBytes(vals[k], &old) != nil {
				return nil, errCorrupt(k)
			}
			if old.Name == op.Name && old.ID != op.ID {
				return nil, cos.ErrExists
			}
			lastRead = k
		}
		if !more {
			break
		}
	}
	snap.Name = op.Name
	return nil, hctx.OmapSetVal(snapKey(op.ID), cos.PackBytes(snap))
}

func getAllFeatures(_ *cls.Context, _ []byte) ([]byte, error) {
	return cos.PackBytes(&cls.U64{V: FeaturesAll}), nil
}

// copyup writes parent data into a clone's object, unless a racing
// writer beat it to existence.
func copyup(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.Bytes
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := checkExists(hctx); err == nil {
		return nil, nil
	}
	return nil, hctx.WriteFull(op.B)
}

func getParent(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	parent := noParent()
	if requireFeature(hctx, FeatureLayering) == nil {
		if op.V == cos.NoSnap {
			p, err := readParent(hctx)
			if err != nil && !cos.IsErrNotFound(err) {
				return nil, err
			}
			if err == nil {
				parent = p
			}
		} else if snap, err := readSnap(hctx, op.V); err == nil {
			parent = snap.Parent
		} else if !cos.IsErrNotFound(err) {
			return nil, err
		}
	}
	return cos.PackBytes(&parent), nil
}

func setParent(hctx *cls.Context, in []byte) ([]byte, error) {
	var op Parent
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if err := requireFeature(hctx, FeatureLayering); err != nil {
		return nil, err
	}
	if op.Pool < 0 || op.ID == "" || op.Snap == cos.NoSnap || op.Overlap == 0 {
		return nil, cos.ErrInvalid
	}
	if _, err := readParent(hctx); err == nil {
		return nil, cos.ErrExists
	} else if !cos.IsErrNotFound(err) {
		return nil, err
	}
	ourSize, err := readU64(hctx, "size")
	if err != nil {
		return nil, err
	}
	parent := Parent{Pool: op.Pool, ID: op.ID, Snap: op.Snap, Overlap: min(ourSize, op.Overlap)}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("set_parent %s: pool=%d id=%s snap=%d overlap=%d",
			hctx.Oid(), parent.Pool, parent.ID, parent.Snap, parent.Overlap)
	}
	return nil, writeParent(hctx, &parent)
}

func removeParent(hctx *cls.Context, _ []byte) ([]byte, error) {
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if err := requireFeature(hctx, FeatureLayering); err != nil {
		return nil, err
	}
	if _, err := readParent(hctx); err != nil {
		return nil, err
	}
	return nil, hctx.OmapRmKeys("parent")
}

func getProtectionStatus(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if op.V == cos.NoSnap {
		return nil, cos.ErrInvalid
	}
	snap, err := readSnap(hctx, op.V)
	if err != nil {
		return nil, err
	}
	if snap.Protection >= protectionLast {
		return nil, errCorrupt(snapKey(op.V))
	}
	return cos.PackBytes(&cls.U8{V: snap.Protection}), nil
}

func setProtectionStatus(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ProtectionOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if err := requireFeature(hctx, FeatureLayering); err != nil {
		return nil, err
	}
	if op.SnapID == cos.NoSnap || op.Status >= protectionLast {
		return nil, cos.ErrInvalid
	}
	snap, err := readSnap(hctx, op.SnapID)
	if err != nil {
		return nil, err
	}
	snap.Protection = op.Status
	return nil, hctx.OmapSetVal(snapKey(op.SnapID), cos.PackBytes(snap))
}

func getStripeUnitCount(hctx *cls.Context, _ []byte) ([]byte, error) {
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if err := requireFeature(hctx, FeatureStripingV2); err != nil {
		return nil, err
	}
	spec := StripeSpec{Count: 1}
	unit, err := readU64(hctx, "stripe_unit")
	switch {
	case cos.IsErrNotFound(err):
		// default to the object size
		order, err := readU8(hctx, "order")
		if err != nil {
			return nil, errCorrupt("order")
		}
		spec.Unit = 1 << order
	case err != nil:
		return nil, err
	default:
		spec.Unit = unit
	}
	count, err := readU64(hctx, "stripe_count")
	switch {
	case cos.IsErrNotFound(err): // default 1
	case err != nil:
		return nil, err
	default:
		spec.Count = count
	}
	return cos.PackBytes(&spec), nil
}

func setStripeUnitCount(hctx *cls.Context, in []byte) ([]byte, error) {
	var op StripeSpec
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Unit == 0 || op.Count == 0 {
		return nil, cos.ErrInvalid
	}
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	if err := requireFeature(hctx, FeatureStripingV2); err != nil {
		return nil, err
	}
	order, err := readU8(hctx, "order")
	if err != nil {
		return nil, err
	}
	objSize := uint64(1) << order
	if objSize%op.Unit != 0 || op.Unit > objSize {
		return nil, cos.ErrInvalid // stripe unit must factor the object size
	}
	return nil, hctx.OmapSet(map[string][]byte{
		"stripe_unit":  cos.PackBytes(&cls.U64{V: op.Unit}),
		"stripe_count": cos.PackBytes(&cls.U64{V: op.Count}),
	})
}

func getFlags(hctx *cls.Context, in []byte) ([]byte, error) {
	var op cls.U64
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	var flags uint64
	if op.V == cos.NoSnap {
		v, err := readU64(hctx, "flags")
		if err != nil && !cos.IsErrNotFound(err) {
			return nil, err
		}
		flags = v
	} else {
		snap, err := readSnap(hctx, op.V)
		if err != nil {
			return nil, err
		}
		flags = snap.Flags
	}
	return cos.PackBytes(&cls.U64{V: flags}), nil
}

func setFlags(hctx *cls.Context, in []byte) ([]byte, error) {
	var op FlagsOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	orig, err := readU64(hctx, "flags")
	if err != nil && !cos.IsErrNotFound(err) {
		return nil, err
	}
	flags := (orig &^ op.Mask) | (op.Flags & op.Mask)
	return nil, hctx.OmapSetVal("flags", cos.PackBytes(&cls.U64{V: flags}))
}
