/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// The children directory object maps a parent snapshot to the set of
// clone image ids. The image directory object maps names to ids and
// back; both mappings are kept so that either lookup is a single read
// and a rename can detect races.

func childKey(p *ParentSnap) string {
	return fmt.Sprintf("%s%d_%s_%016x", childKeyPrefix, p.Pool, p.ID, p.Snap)
}

func readChildren(hctx *cls.Context, key string) ([]string, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return nil, err
	}
	var reply ChildrenReply
	if cos.UnpackBytes(b, &reply) != nil {
		return nil, errCorrupt(key)
	}
	return reply.Children, nil
}

func addChild(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ChildOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	key := childKey(&op.Parent)
	children, err := readChildren(hctx, key)
	if err != nil && !cos.IsErrNotFound(err) {
		return nil, err
	}
	for _, c := range children {
		if c == op.Child {
			return nil, cos.ErrExists
		}
	}
	children = append(children, op.Child)
	sort.Strings(children)
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("add_child %s to (%d, %s, %d)", op.Child, op.Parent.Pool, op.Parent.ID, op.Parent.Snap)
	}
	return nil, hctx.OmapSetVal(key, cos.PackBytes(&ChildrenReply{Children: children}))
}

func removeChild(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ChildOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	key := childKey(&op.Parent)
	children, err := readChildren(hctx, key)
	if err != nil {
		return nil, err
	}
	at := -1
	for i, c := range children {
		if c == op.Child {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, cos.ErrNotFound
	}
	children = append(children[:at], children[at+1:]...)
	if len(children) == 0 {
		return nil, hctx.OmapRmKeys(key)
	}
	return nil, hctx.OmapSetVal(key, cos.PackBytes(&ChildrenReply{Children: children}))
}

func getChildren(hctx *cls.Context, in []byte) ([]byte, error) {
	var parent ParentSnap
	if err := cls.Unmarshal(in, &parent); err != nil {
		return nil, err
	}
	children, err := readChildren(hctx, childKey(&parent))
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(&ChildrenReply{Children: children}), nil
}

//
// id object: the packed image id is the object's data payload
//

func getID(hctx *cls.Context, _ []byte) ([]byte, error) {
	size, _, err := hctx.Stat()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, cos.ErrNotFound
	}
	b, err := hctx.Read(0, int64(size))
	if err != nil {
		return nil, err
	}
	var id cls.Str
	if cos.UnpackBytes(b, &id) != nil {
		return nil, errCorrupt("id")
	}
	return cos.PackBytes(&id), nil
}

func setID(hctx *cls.Context, in []byte) ([]byte, error) {
	if err := checkExists(hctx); err != nil {
		return nil, err
	}
	var id cls.Str
	if err := cls.Unmarshal(in, &id); err != nil {
		return nil, err
	}
	if !isValidID(id.S) {
		return nil, cos.ErrInvalid
	}
	size, _, err := hctx.Stat()
	if err != nil {
		return nil, err
	}
	if size != 0 {
		return nil, cos.ErrExists
	}
	return nil, hctx.WriteFull(cos.PackBytes(&id))
}

//
// image directory object
//

func dirNameKey(name string) string { return dirNameKeyPrefix + name }
func dirIDKey(id string) string     { return dirIDKeyPrefix + id }

func dirAddHelper(hctx *cls.Context, name, id string, uniqueID bool) error {
	if name == "" || !isValidID(id) {
		return cos.ErrInvalid
	}
	if _, err := readStr(hctx, dirNameKey(name)); err == nil {
		return cos.ErrExists
	} else if !cos.IsErrNotFound(err) {
		return err
	}
	// an id hit while renaming is our own record, not a conflict
	if _, err := readStr(hctx, dirIDKey(id)); err == nil {
		if uniqueID {
			return cos.ErrBadFD
		}
	} else if !cos.IsErrNotFound(err) {
		return err
	}
	return hctx.OmapSet(map[string][]byte{
		dirNameKey(name): cos.PackBytes(&cls.Str{S: id}),
		dirIDKey(id):     cos.PackBytes(&cls.Str{S: name}),
	})
}

func dirRemoveHelper(hctx *cls.Context, name, id string) error {
	storedID, err := readStr(hctx, dirNameKey(name))
	if err != nil {
		return err
	}
	storedName, err := readStr(hctx, dirIDKey(id))
	if err != nil {
		return err
	}
	// a mismatch means this op raced with a rename
	if storedName != name || storedID != id {
		return cos.ErrStale
	}
	return hctx.OmapRmKeys(dirNameKey(name), dirIDKey(id))
}

func dirGetID(hctx *cls.Context, in []byte) ([]byte, error) {
	var name cls.Str
	if err := cls.Unmarshal(in, &name); err != nil {
		return nil, err
	}
	id, err := readStr(hctx, dirNameKey(name.S))
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(&cls.Str{S: id}), nil
}

func dirGetName(hctx *cls.Context, in []byte) ([]byte, error) {
	var id cls.Str
	if err := cls.Unmarshal(in, &id); err != nil {
		return nil, err
	}
	name, err := readStr(hctx, dirIDKey(id.S))
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(&cls.Str{S: name}), nil
}

func dirList(hctx *cls.Context, in []byte) ([]byte, error) {
	var op DirListOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	var (
		reply    DirListReply
		lastRead = dirNameKey(op.StartAfter)
	)
	for uint64(len(reply.Images)) < op.Max {
		vals, more, err := hctx.OmapGetVals(lastRead, dirNameKeyPrefix, maxKeysRead)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			var id cls.Str
			if cos.UnpackBytes(vals[k], &id) != nil {
				return nil, errCorrupt(k)
			}
			reply.Images = append(reply.Images, DirImage{
				Name: strings.TrimPrefix(k, dirNameKeyPrefix),
				ID:   id.S,
			})
			lastRead = k
			if uint64(len(reply.Images)) >= op.Max {
				break
			}
		}
		if !more {
			break
		}
	}
	return cos.PackBytes(&reply), nil
}

func dirAddImage(hctx *cls.Context, in []byte) ([]byte, error) {
	if err := hctx.Create(false); err != nil {
		return nil, err
	}
	var op DirImageOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("dir_add_image %s: name=%s id=%s", hctx.Oid(), op.Name, op.ID)
	}
	return nil, dirAddHelper(hctx, op.Name, op.ID, true)
}

func dirRemoveImage(hctx *cls.Context, in []byte) ([]byte, error) {
	var op DirImageOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	return nil, dirRemoveHelper(hctx, op.Name, op.ID)
}

// dirRenameImage updates both indexes atomically; a client cannot do
// a remove+add pair because the intermediate state would be visible.
func dirRenameImage(hctx *cls.Context, in []byte) ([]byte, error) {
	var op DirRenameOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if err := dirRemoveHelper(hctx, op.Src, op.ID); err != nil {
		return nil, err
	}
	return nil, dirAddHelper(hctx, op.Dest, op.ID, false)
}
