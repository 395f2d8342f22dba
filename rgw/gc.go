/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"time"

	clsref "github.com/NVIDIA/radstore/cls/refcount"
	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Overwritten and deleted objects leave their tail stripes behind on a
// sharded gc queue. Entries ripen after MinWait (in-flight readers get
// to finish), then the reaper drops one reference per stripe; shared
// stripes survive until their last owner lets go.

const gcListBatch = 512

func gcShardOid(shard uint32) string { return fmt.Sprintf("gc.%d", shard) }

func (s *Store) gcNumShards() uint32 {
	if s.cfg.GC.Shards == 0 {
		return 1
	}
	return s.cfg.GC.Shards
}

// chainFromManifest collects the manifest's tail objects; the head goes
// down with the head op itself.
func chainFromManifest(m *Manifest, headOid string) (chain clsrgw.GCChain) {
	seen := make(map[string]struct{}, 8)
	for it := m.ObjBegin(); !it.End(); it.Next() {
		pool, oid := it.Loc()
		if oid == headOid || oid == m.HeadObj {
			continue
		}
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		chain.Objs = append(chain.Objs, clsrgw.GCObj{Pool: pool, Oid: oid})
	}
	return chain
}

func (s *Store) gcSendChain(chain clsrgw.GCChain, tag string) error {
	if len(chain.Objs) == 0 || tag == "" {
		return nil
	}
	ix, err := s.ioctxCreate(s.cfg.GCPool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.GCSetOp{
		Tag:            tag,
		Chain:          chain,
		ExpirationSecs: uint32(s.cfg.GC.MinWait.D().Seconds()),
	})
	shard := cos.StrHashLinux(tag) % s.gcNumShards()
	_, err = ix.Exec(gcShardOid(shard), "rgw", "gc_set_entry", in)
	return err
}

// DeferGC pushes the object's pending chain expiration out, keeping the
// tail readable for a long-running download.
func (s *Store) DeferGC(bi *BucketInfo, name, instance string) error {
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return err
	}
	st, err := s.getObjState(ix, bi.instanceOid(name, instance))
	if err != nil {
		return err
	}
	if !st.Exists || st.ObjTag == "" {
		return cos.ErrInvalid
	}
	gcx, err := s.ioctx(s.cfg.GCPool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.GCDeferOp{
		Tag:            st.ObjTag,
		ExpirationSecs: uint32(s.cfg.GC.MinWait.D().Seconds()),
	})
	shard := cos.StrHashLinux(st.ObjTag) % s.gcNumShards()
	_, err = gcx.Exec(gcShardOid(shard), "rgw", "gc_defer_entry", in)
	if cos.IsErrNotFound(err) {
		return nil // no chain queued for this tag yet
	}
	return err
}

// GCIter resumes a cross-shard gc listing.
type GCIter struct {
	Marker string
	Shard  uint32
}

// ListGCObjs pages through the gc queue shard by shard; the iterator
// carries the resume point when truncated.
func (s *Store) ListGCObjs(iter *GCIter, max int, expiredOnly bool) (entries []clsrgw.GCEntry, truncated bool, _ error) {
	if max <= 0 || max > listMaxDefault {
		max = listMaxDefault
	}
	ix, err := s.ioctx(s.cfg.GCPool)
	if err != nil {
		return nil, false, err
	}
	num := s.gcNumShards()
	for iter.Shard < num {
		in := cos.PackBytes(&clsrgw.GCListOp{
			Marker: iter.Marker, Max: uint32(max - len(entries)), ExpiredOnly: expiredOnly,
		})
		out, err := ix.Exec(gcShardOid(iter.Shard), "rgw", "gc_list", in)
		if err != nil {
			if cos.IsErrNotFound(err) {
				iter.Shard, iter.Marker = iter.Shard+1, ""
				continue
			}
			return nil, false, err
		}
		reply := &clsrgw.GCListReply{}
		if err := cos.UnpackBytes(out, reply); err != nil {
			return nil, false, err
		}
		entries = append(entries, reply.Entries...)
		if reply.Truncated {
			iter.Marker = reply.NextMarker
			return entries, true, nil
		}
		iter.Shard, iter.Marker = iter.Shard+1, ""
		if len(entries) >= max {
			return entries, iter.Shard < num, nil
		}
	}
	return entries, false, nil
}

// ProcessGC reaps every ripe chain once and reports how many entries it
// retired. A chain whose objects cannot all be dropped stays queued for
// the next cycle.
func (s *Store) ProcessGC() (removed int, _ error) {
	ix, err := s.ioctxCreate(s.cfg.GCPool)
	if err != nil {
		return 0, err
	}
	num := s.gcNumShards()
	for shard := uint32(0); shard < num; shard++ {
		marker := ""
		for {
			in := cos.PackBytes(&clsrgw.GCListOp{Marker: marker, Max: gcListBatch, ExpiredOnly: true})
			out, err := ix.Exec(gcShardOid(shard), "rgw", "gc_list", in)
			if err != nil {
				if cos.IsErrNotFound(err) {
					break
				}
				return removed, err
			}
			reply := &clsrgw.GCListReply{}
			if err := cos.UnpackBytes(out, reply); err != nil {
				return removed, err
			}
			var done []string
			for i := range reply.Entries {
				e := &reply.Entries[i]
				if err := s.reapChain(e); err != nil {
					nlog.Errorf("gc: chain %q: %v", e.Tag, err)
					continue
				}
				done = append(done, e.Tag)
			}
			if len(done) > 0 {
				in := cos.PackBytes(&clsrgw.GCRemoveOp{Tags: done})
				if _, err := ix.Exec(gcShardOid(shard), "rgw", "gc_remove", in); err != nil {
					return removed, err
				}
				removed += len(done)
			}
			if !reply.Truncated {
				break
			}
			marker = reply.NextMarker
		}
	}
	return removed, nil
}

// reapChain drops this chain's reference from every object; an object
// at its last reference removes itself.
func (s *Store) reapChain(e *clsrgw.GCEntry) error {
	in := cos.PackBytes(&clsref.Op{Tag: e.Tag, ImplicitRef: true})
	for i := range e.Chain.Objs {
		obj := &e.Chain.Objs[i]
		pool := obj.Pool
		if pool == "" {
			pool = s.cfg.DataPool
		}
		ix, err := s.ioctx(pool)
		if err != nil {
			return err
		}
		if _, err := ix.Exec(obj.Oid, "refcount", "put", in); err != nil && !cos.IsErrNotFound(err) {
			return err
		}
	}
	return nil
}

func (s *Store) gcHousekeep(int64) time.Duration {
	n, err := s.ProcessGC()
	switch {
	case err != nil:
		nlog.Errorln("gc:", err)
	case n > 0 && cos.FastV(4, cos.SmoduleRGW):
		nlog.Infof("gc: reaped %d chain(s)", n)
	}
	return s.cfg.GC.ProcessPeriod.D()
}
