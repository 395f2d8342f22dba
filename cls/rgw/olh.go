/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"sort"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Versioned buckets track one logical head (olh) per object name. Every
// instance mutation appends to the olh log under a fresh epoch; readers
// apply the log in epoch order and trim behind themselves. The olh tag
// fences concurrent writers: a mismatch means another writer recreated
// the head, and the caller must restart (-ECANCELED).

func readOlh(hctx *cls.Context, name string) (*olhRecord, bool, error) {
	b, err := hctx.OmapGetVal(olhKey(name))
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec := &olhRecord{}
	if cos.UnpackBytes(b, rec) != nil {
		return nil, false, errCorrupt(olhKey(name))
	}
	return rec, true, nil
}

func writeOlh(hctx *cls.Context, name string, rec *olhRecord) error {
	return hctx.OmapSet(map[string][]byte{olhKey(name): cos.PackBytes(rec)})
}

func (rec *olhRecord) guard(tag string) error {
	if rec.Tag != tag {
		return cos.ErrRaced
	}
	return nil
}

// setHead rewrites the plain listing entry for name to track the olh
// target, adjusting header stats. A delete-marker head stays in the
// index with exists=false so a reshard can reconstruct it.
func setHead(hctx *cls.Context, name, instance string, meta *Meta, deleteMarker bool) error {
	h, err := readHeader(hctx)
	if err != nil {
		return err
	}
	key := plainKey(name)
	cur, ok, err := readEntry(hctx, key)
	if err != nil {
		return err
	}
	e := &Entry{Name: name, Instance: instance, DeleteMarker: deleteMarker}
	if ok {
		if cur.Exists {
			h.account(&cur.Meta, -1)
		}
		e.Pending = cur.Pending
	}
	if !deleteMarker {
		e.Exists = true
		e.Meta = *meta
		h.account(&e.Meta, 1)
	}
	if err := writeEntry(hctx, key, e); err != nil {
		return err
	}
	h.Ver++
	return writeHeader(hctx, h)
}

func dropHead(hctx *cls.Context, name string) error {
	h, err := readHeader(hctx)
	if err != nil {
		return err
	}
	key := plainKey(name)
	cur, ok, err := readEntry(hctx, key)
	if err != nil || !ok {
		return err
	}
	if cur.Exists {
		h.account(&cur.Meta, -1)
	}
	if err := hctx.OmapRmKeys(key); err != nil {
		return err
	}
	h.Ver++
	return writeHeader(hctx, h)
}

func linkOLH(hctx *cls.Context, in []byte) ([]byte, error) {
	var op LinkOLHOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Name == "" || op.OlhTag == "" {
		return nil, cos.ErrInvalid
	}
	rec, ok, err := readOlh(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec = &olhRecord{Tag: op.OlhTag}
	} else if err := rec.guard(op.OlhTag); err != nil {
		return nil, err
	}
	eff := op.OlhEpoch
	if eff == 0 {
		eff = rec.Epoch + 1
	}
	rec.Log = append(rec.Log, OLHLogEntry{
		Epoch: eff, Op: OLHLink, OpTag: op.OpTag,
		Instance: op.Instance, DeleteMarker: op.DeleteMarker,
	})
	// last writer wins by epoch; a lower epoch records the instance
	// without repointing the head
	if eff > rec.Epoch {
		rec.Epoch = eff
		rec.Target = op.Instance
		rec.TargetDM = op.DeleteMarker
		if err := setHead(hctx, op.Name, op.Instance, &op.Meta, op.DeleteMarker); err != nil {
			return nil, err
		}
	}
	ie := &Entry{
		Name: op.Name, Instance: op.Instance,
		Meta: op.Meta, Exists: true, DeleteMarker: op.DeleteMarker,
	}
	if err := writeEntry(hctx, instanceKey(op.Name, op.Instance), ie); err != nil {
		return nil, err
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("link_olh %q instance %q epoch %d dm %t", op.Name, op.Instance, eff, op.DeleteMarker)
	}
	return nil, writeOlh(hctx, op.Name, rec)
}

// nextInstance picks the most recent remaining instance of name, by
// mtime then instance id.
func nextInstance(hctx *cls.Context, name, skip string) (*Entry, error) {
	var (
		prefix = instanceKeyPrefix + name + "\x00"
		after  = ""
		best   *Entry
	)
	for {
		vals, more, err := hctx.OmapGetVals(after, prefix, maxListPage)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			after = k
			e := &Entry{}
			if cos.UnpackBytes(vals[k], e) != nil {
				return nil, errCorrupt(k)
			}
			if e.Instance == skip || !e.Exists {
				continue
			}
			if best == nil || e.Meta.Mtime.After(best.Meta.Mtime) ||
				(e.Meta.Mtime.Equal(best.Meta.Mtime) && e.Instance > best.Instance) {
				best = e
			}
		}
		if !more {
			return best, nil
		}
	}
}

func unlinkInstance(hctx *cls.Context, in []byte) ([]byte, error) {
	var op UnlinkInstanceOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Name == "" || op.OlhTag == "" {
		return nil, cos.ErrInvalid
	}
	rec, ok, err := readOlh(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cos.ErrNotFound
	}
	if err := rec.guard(op.OlhTag); err != nil {
		return nil, err
	}
	eff := op.OlhEpoch
	if eff == 0 || eff <= rec.Epoch {
		eff = rec.Epoch + 1
	}
	rec.Epoch = eff
	rec.Log = append(rec.Log, OLHLogEntry{
		Epoch: eff, Op: OLHRemoveInstance, OpTag: op.OpTag, Instance: op.Instance,
	})
	if err := hctx.OmapRmKeys(instanceKey(op.Name, op.Instance)); err != nil {
		return nil, err
	}
	if rec.Target == op.Instance {
		next, err := nextInstance(hctx, op.Name, op.Instance)
		if err != nil {
			return nil, err
		}
		rec.Epoch++
		if next != nil {
			rec.Target = next.Instance
			rec.TargetDM = next.DeleteMarker
			rec.Log = append(rec.Log, OLHLogEntry{
				Epoch: rec.Epoch, Op: OLHLink, OpTag: op.OpTag,
				Instance: next.Instance, DeleteMarker: next.DeleteMarker,
			})
			if err := setHead(hctx, op.Name, next.Instance, &next.Meta, next.DeleteMarker); err != nil {
				return nil, err
			}
		} else {
			rec.Target = ""
			rec.TargetDM = false
			rec.Log = append(rec.Log, OLHLogEntry{Epoch: rec.Epoch, Op: OLHUnlink, OpTag: op.OpTag})
			if err := dropHead(hctx, op.Name); err != nil {
				return nil, err
			}
		}
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("unlink_instance %q instance %q epoch %d", op.Name, op.Instance, eff)
	}
	return nil, writeOlh(hctx, op.Name, rec)
}

func readOLHLog(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ReadOLHOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	rec, ok, err := readOlh(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cos.ErrNotFound
	}
	if err := rec.guard(op.OlhTag); err != nil {
		return nil, err
	}
	reply := &ReadOLHReply{}
	for i := range rec.Log {
		if rec.Log[i].Epoch > op.VerMarker {
			reply.Entries = append(reply.Entries, rec.Log[i])
		}
	}
	sort.Slice(reply.Entries, func(i, j int) bool {
		return reply.Entries[i].Epoch < reply.Entries[j].Epoch
	})
	if len(reply.Entries) > maxListPage {
		reply.Entries = reply.Entries[:maxListPage]
		reply.Truncated = true
	}
	return cos.PackBytes(reply), nil
}

func trimOLHLog(hctx *cls.Context, in []byte) ([]byte, error) {
	var op TrimOLHOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	rec, ok, err := readOlh(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cos.ErrNotFound
	}
	if err := rec.guard(op.OlhTag); err != nil {
		return nil, err
	}
	kept := rec.Log[:0]
	for i := range rec.Log {
		if rec.Log[i].Epoch > op.Ver {
			kept = append(kept, rec.Log[i])
		}
	}
	rec.Log = kept
	return nil, writeOlh(hctx, op.Name, rec)
}

func clearOLH(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ClearOLHOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	rec, ok, err := readOlh(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := rec.guard(op.OlhTag); err != nil {
		return nil, err
	}
	if err := dropHead(hctx, op.Name); err != nil {
		return nil, err
	}
	return nil, hctx.OmapRmKeys(olhKey(op.Name))
}
