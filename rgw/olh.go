/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

// The olh (object logical head) makes a versioned name behave like a
// symlink: the head object records the current target instance, the
// bucket index keeps the per-instance entries, and a per-name log
// (cls) serializes concurrent writers. Writers stamp a pending xattr
// before linking and erase it when the log entry has been applied to
// the head; readers that see young pending entries replay the log
// before trusting the head, then stat the target instance itself. The
// null version (suspended-versioning writes) has no instance object:
// its data and manifest live on the head directly.

type (
	olhInfo struct {
		Target       string
		Removed      bool
		DeleteMarker bool
	}

	pendingMeta struct {
		Time time.Time
	}
)

// interface guards
var (
	_ cos.Packer   = (*olhInfo)(nil)
	_ cos.Unpacker = (*olhInfo)(nil)
	_ cos.Packer   = (*pendingMeta)(nil)
	_ cos.Unpacker = (*pendingMeta)(nil)
)

// SetOLH links instance as the name's current version (deleteMarker
// places a marker instead), retrying lost races up to MaxRacedRetries.
func (s *Store) SetOLH(bi *BucketInfo, name, instance string, meta *clsrgw.Meta, deleteMarker bool) error {
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return err
	}
	for range cos.MaxRacedRetries {
		olhTag, opTag, err := s.olhInitModification(ix, bi, name)
		if err != nil {
			if isRaced(err) {
				continue
			}
			return err
		}
		if err := s.bucketIndexLinkOLH(bi, name, instance, olhTag, opTag, meta, deleteMarker); err != nil {
			if isRaced(err) {
				continue
			}
			return err
		}
		if err := s.updateOLH(ix, bi, name, olhTag); err != nil {
			if isRaced(err) {
				continue
			}
			return err
		}
		s.logIndexChange(bi, bi.indexShard(name))
		return nil
	}
	return fmt.Errorf("set olh %s/%s: retries exhausted: %w", bi.Bucket.Name, name, cos.ErrIO)
}

// UnlinkObjInstance removes one version. When it was the current
// target the olh repoints to the next-most-recent instance, or the
// head drops out of the listing entirely.
func (s *Store) UnlinkObjInstance(bi *BucketInfo, name, instance string) error {
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return err
	}
	for range cos.MaxRacedRetries {
		olhTag, opTag, err := s.olhInitModification(ix, bi, name)
		if err != nil {
			if isRaced(err) {
				continue
			}
			return err
		}
		if err := s.bucketIndexUnlinkInstance(bi, name, instance, olhTag, opTag); err != nil {
			if isRaced(err) {
				continue
			}
			if cos.IsErrNotFound(err) {
				return errNoSuchKey(bi.Bucket.Name, name)
			}
			return err
		}
		if err := s.updateOLH(ix, bi, name, olhTag); err != nil {
			if isRaced(err) {
				continue
			}
			return err
		}
		s.logIndexChange(bi, bi.indexShard(name))
		return nil
	}
	return fmt.Errorf("unlink %s/%s@%s: retries exhausted: %w", bi.Bucket.Name, name, instance, cos.ErrIO)
}

func isRaced(err error) bool {
	return errors.Is(err, cos.ErrRaced) || errors.Is(err, cos.ErrTryAgain) || errors.Is(err, cos.ErrExists)
}

// olhInitModification seeds the olh tag on first touch (exclusive
// create fences the race) and stamps this writer's pending xattr. The
// returned op tag names the log entry the writer is about to add.
func (s *Store) olhInitModification(ix *rados.IOCtx, bi *BucketInfo, name string) (olhTag, opTag string, _ error) {
	headOid := bi.headOid(name)
	s.invalidateState(ix, headOid)
	st, err := s.getObjState(ix, headOid)
	if err != nil {
		return "", "", err
	}
	opTag = cos.GenUUID()
	wop := rados.NewWriteOp()
	if b, ok := st.Attrs[attrOlhIDTag]; ok {
		olhTag = string(b)
		st.guardOp(wop)
	} else {
		olhTag = cos.GenUUID()
		if st.Exists {
			st.guardOp(wop)
		} else {
			wop.Create(true)
		}
		if st.ObjTag == "" {
			wop.SetXattr(attrIDTag, []byte(cos.GenUUID()))
		}
		wop.SetXattr(attrOlhIDTag, []byte(olhTag))
	}
	wop.SetXattr(attrOlhPending+opTag, cos.PackBytes(&pendingMeta{Time: time.Now()}))
	if err := ix.Operate(headOid, wop); err != nil {
		s.invalidateState(ix, headOid)
		return "", "", err
	}
	s.invalidateState(ix, headOid)
	return olhTag, opTag, nil
}

func (s *Store) bucketIndexLinkOLH(bi *BucketInfo, name, instance, olhTag, opTag string, meta *clsrgw.Meta, deleteMarker bool) error {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.LinkOLHOp{
		Name: name, Instance: instance, OlhTag: olhTag, OpTag: opTag,
		Meta: *meta, DeleteMarker: deleteMarker,
	})
	_, err = ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "link_olh", in)
	return err
}

func (s *Store) bucketIndexUnlinkInstance(bi *BucketInfo, name, instance, olhTag, opTag string) error {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.UnlinkInstanceOp{
		Name: name, Instance: instance, OlhTag: olhTag, OpTag: opTag,
	})
	_, err = ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "unlink_instance", in)
	return err
}

func (s *Store) readOLHLog(bi *BucketInfo, name, olhTag string, verMarker uint64) (*clsrgw.ReadOLHReply, error) {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	in := cos.PackBytes(&clsrgw.ReadOLHOp{Name: name, OlhTag: olhTag, VerMarker: verMarker})
	out, err := ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "read_olh_log", in)
	if err != nil {
		return nil, err
	}
	reply := &clsrgw.ReadOLHReply{}
	if err := cos.UnpackBytes(out, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Store) trimOLHLog(bi *BucketInfo, name, olhTag string, ver uint64) error {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.TrimOLHOp{Name: name, OlhTag: olhTag, Ver: ver})
	_, err = ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "trim_olh_log", in)
	return err
}

// updateOLH replays the olh log onto the head object until drained.
func (s *Store) updateOLH(ix *rados.IOCtx, bi *BucketInfo, name, olhTag string) error {
	for {
		st, err := s.getObjState(ix, bi.headOid(name))
		if err != nil {
			return err
		}
		ver := olhVerFromAttrs(st.Attrs)
		reply, err := s.readOLHLog(bi, name, olhTag, ver)
		if err != nil {
			return err
		}
		if len(reply.Entries) == 0 {
			return nil
		}
		if err := s.applyOLHLog(ix, bi, name, olhTag, st, reply.Entries); err != nil {
			return err
		}
		if !reply.Truncated {
			return nil
		}
	}
}

// applyOLHLog folds a batch of log entries into the head object in one
// guarded op: retarget (or mark removed), erase the applied writers'
// pending attrs, then reap doomed instances and trim the log. Losing
// the head update race is success; the winner applied a superset.
func (s *Store) applyOLHLog(ix *rados.IOCtx, bi *BucketInfo, name, olhTag string, st *ObjState, entries []clsrgw.OLHLogEntry) error {
	var (
		last     *clsrgw.OLHLogEntry // entries arrive in epoch order
		doomed   []string
		maxEpoch uint64
	)
	for i := range entries {
		e := &entries[i]
		maxEpoch = max(maxEpoch, e.Epoch)
		switch e.Op {
		case clsrgw.OLHLink, clsrgw.OLHUnlink:
			last = e
		case clsrgw.OLHRemoveInstance:
			doomed = append(doomed, e.Instance)
		}
	}
	headOid := bi.headOid(name)
	wop := rados.NewWriteOp()
	st.guardOp(wop)
	if last != nil {
		info := olhInfo{}
		if last.Op == clsrgw.OLHLink {
			info.Target = last.Instance
			info.DeleteMarker = last.DeleteMarker
		} else {
			info.Removed = true
		}
		wop.SetXattr(attrOlhInfo, cos.PackBytes(&info))
	}
	wop.SetXattr(attrOlhVer, []byte(strconv.FormatUint(maxEpoch, 10)))
	// entries from one index op share an op tag; removing a missing (or
	// already-removed) xattr fails the whole op
	cleared := cos.NewStrSet()
	for i := range entries {
		pname := attrOlhPending + entries[i].OpTag
		if hasAttr(st.Attrs, pname) && !cleared.Contains(pname) {
			wop.RmXattr(pname)
			cleared.Add(pname)
		}
	}
	err := ix.Operate(headOid, wop)
	s.invalidateState(ix, headOid)
	if err != nil && !isRaced(err) && !cos.IsErrNotFound(err) {
		return err
	}
	raced := err != nil

	for _, instance := range doomed {
		if bi.instanceOid(name, instance) == headOid {
			// the null version lives on the head object, which must
			// survive as the olh anchor
			s.reapNullVersion(ix, bi, name, st)
			continue
		}
		if err := s.reapObjInstance(ix, bi, name, instance); err != nil {
			nlog.Errorf("olh %s/%s: reap instance %s: %v", bi.Bucket.Name, name, instance, err)
		}
	}
	if err := s.trimOLHLog(bi, name, olhTag, maxEpoch); err != nil && !isRaced(err) && !cos.IsErrNotFound(err) {
		nlog.Errorf("olh %s/%s: trim log to %d: %v", bi.Bucket.Name, name, maxEpoch, err)
	}

	// last unlink applied and nobody else mid-flight: the tombstone head
	// and the olh record can go
	if !raced && last != nil && last.Op == clsrgw.OLHUnlink {
		if hst, err := s.getObjState(ix, headOid); err == nil && hst.Exists && len(pendingAttrs(hst.Attrs)) == 0 {
			s.removeOlhObj(ix, bi, name, hst, olhTag)
		}
	}
	return nil
}

// reapNullVersion reclaims the null version off the head object: its
// tail chain goes to GC from the pre-apply state, the data and
// manifest are stripped, and the head stays behind as the olh anchor.
// A concurrent rewrite of the head fails the guard and wins.
func (s *Store) reapNullVersion(ix *rados.IOCtx, bi *BucketInfo, name string, st *ObjState) {
	if !st.Exists || !st.HasManifest {
		return
	}
	headOid := bi.headOid(name)
	if err := s.completeAtomicModification(ix, st, headOid); err != nil {
		nlog.Errorf("olh %s/%s: reap null version: %v", bi.Bucket.Name, name, err)
		return
	}
	wop := rados.NewWriteOp()
	st.guardOp(wop)
	wop.Truncate(0)
	wop.RmXattr(attrManifest)
	err := ix.Operate(headOid, wop)
	s.invalidateState(ix, headOid)
	if err != nil && !isRaced(err) && !cos.IsErrNotFound(err) {
		nlog.Errorf("olh %s/%s: strip null version: %v", bi.Bucket.Name, name, err)
	}
}

// reapObjInstance queues the instance's tail chain to GC and removes
// its head object.
func (s *Store) reapObjInstance(ix *rados.IOCtx, bi *BucketInfo, name, instance string) error {
	oid := bi.instanceOid(name, instance)
	s.invalidateState(ix, oid)
	ist, err := s.getObjState(ix, oid)
	if err != nil {
		return err
	}
	if !ist.Exists {
		return nil
	}
	if err := s.completeAtomicModification(ix, ist, oid); err != nil {
		return err
	}
	err = ix.Remove(oid)
	s.invalidateState(ix, oid)
	if err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) removeOlhObj(ix *rados.IOCtx, bi *BucketInfo, name string, st *ObjState, olhTag string) {
	headOid := bi.headOid(name)
	wop := rados.NewWriteOp()
	st.guardOp(wop)
	wop.Remove()
	err := ix.Operate(headOid, wop)
	s.invalidateState(ix, headOid)
	if err != nil {
		return // revived or already gone; either way the head stands
	}
	idx, err := s.indexCtx(bi)
	if err != nil {
		return
	}
	in := cos.PackBytes(&clsrgw.ClearOLHOp{Name: name, OlhTag: olhTag})
	if _, err := idx.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "clear_olh", in); err != nil && !isRaced(err) {
		nlog.Errorf("olh %s/%s: clear: %v", bi.Bucket.Name, name, err)
	}
}

// followOLH resolves a read through the olh: the head names the
// current target instance and the target's own object serves the
// read. Null targets read the head itself. Removed heads and delete
// markers surface ErrNotFound.
func (s *Store) followOLH(ix *rados.IOCtx, bi *BucketInfo, name string) (*ObjState, string, bool, error) {
	for range cos.MaxRacedRetries {
		st, target, dm, err := s.statOLH(ix, bi, name)
		if err != nil || target == "" || target == nullInstance {
			return st, target, dm, err
		}
		oid := bi.instanceOid(name, target)
		s.invalidateState(ix, oid)
		tst, err := s.getObjState(ix, oid)
		if err != nil {
			return nil, "", false, err
		}
		if tst.Exists {
			return tst, target, false, nil
		}
		// target unlinked mid-read; its writer's pending entry makes
		// the retry replay the log and see the repointed head
	}
	return nil, "", false, errNoSuchKey(bi.Bucket.Name, name)
}

// statOLH reads the head object: expired pending entries are swept,
// young ones force a log replay first, then the head's olh info is
// trusted.
func (s *Store) statOLH(ix *rados.IOCtx, bi *BucketInfo, name string) (_ *ObjState, target string, deleteMarker bool, _ error) {
	headOid := bi.headOid(name)
	s.invalidateState(ix, headOid)
	st, err := s.getObjState(ix, headOid)
	if err != nil {
		return nil, "", false, err
	}
	if !st.Exists {
		return nil, "", false, errNoSuchKey(bi.Bucket.Name, name)
	}
	if pending := pendingAttrs(st.Attrs); len(pending) > 0 {
		live := s.sweepPendingAttrs(ix, st, headOid, pending)
		if live > 0 {
			if b, ok := st.Attrs[attrOlhIDTag]; ok {
				if err := s.updateOLH(ix, bi, name, string(b)); err != nil && !cos.IsErrNotFound(err) {
					return nil, "", false, err
				}
			}
		}
		s.invalidateState(ix, headOid)
		if st, err = s.getObjState(ix, headOid); err != nil {
			return nil, "", false, err
		}
		if !st.Exists {
			return nil, "", false, errNoSuchKey(bi.Bucket.Name, name)
		}
	}
	b, ok := st.Attrs[attrOlhInfo]
	if !ok {
		// plain head predating versioning
		return st, "", false, nil
	}
	info := &olhInfo{}
	if err := cos.UnpackBytes(b, info); err != nil {
		return nil, "", false, err
	}
	if info.Removed {
		return nil, "", false, errNoSuchKey(bi.Bucket.Name, name)
	}
	if info.DeleteMarker {
		return nil, info.Target, true, errNoSuchKey(bi.Bucket.Name, name)
	}
	return st, info.Target, false, nil
}

// sweepPendingAttrs erases pending entries older than the configured
// timeout (their writers are presumed dead) and reports how many young
// ones remain.
func (s *Store) sweepPendingAttrs(ix *rados.IOCtx, st *ObjState, oid string, pending map[string][]byte) (live int) {
	var (
		wop     *rados.WriteOp
		now     = time.Now()
		timeout = s.cfg.OLHPendingTimeout.D()
	)
	for name, val := range pending {
		pm := &pendingMeta{}
		if err := cos.UnpackBytes(val, pm); err != nil || now.Sub(pm.Time) > timeout {
			if wop == nil {
				wop = rados.NewWriteOp()
				st.guardOp(wop)
			}
			wop.RmXattr(name)
			continue
		}
		live++
	}
	if wop != nil {
		if err := ix.Operate(oid, wop); err != nil && !isRaced(err) && !cos.IsErrNotFound(err) {
			nlog.Errorf("olh %s: sweep pending: %v", oid, err)
		}
		s.invalidateState(ix, oid)
	}
	return live
}

func olhVerFromAttrs(attrs map[string][]byte) uint64 {
	b, ok := attrs[attrOlhVer]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func hasAttr(attrs map[string][]byte, name string) bool {
	_, ok := attrs[name]
	return ok
}

//
// codecs
//

func (oi *olhInfo) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(oi.Target)
	bw.WriteBool(oi.Removed)
	bw.WriteBool(oi.DeleteMarker)
}

func (oi *olhInfo) PackedSize() int {
	return 3*cos.SizeofI8 + cos.PackedStrLen(oi.Target)
}

func (oi *olhInfo) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("olh info: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	if oi.Target, err = br.ReadString(); err != nil {
		return err
	}
	if oi.Removed, err = br.ReadBool(); err != nil {
		return err
	}
	oi.DeleteMarker, err = br.ReadBool()
	return err
}

func (pm *pendingMeta) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteTime(pm.Time)
}

func (pm *pendingMeta) PackedSize() int { return cos.SizeofI8 + cos.SizeofI64 }

func (pm *pendingMeta) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("olh pending: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	pm.Time, err = br.ReadTime()
	return err
}
