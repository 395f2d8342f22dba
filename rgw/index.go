/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"strconv"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

// Shard selection: dcache hash of the key with the low byte folded
// high, then through a fixed prime before the shard count. Both mods
// are load-bearing; changing either reshuffles every existing bucket.
const bucketIndexPrime = 7877

func bucketIndexShard(key string, numShards uint32) uint32 {
	sid := cos.StrHashLinux(key)
	sid ^= (sid & 0xFF) << 24
	return sid % bucketIndexPrime % numShards
}

func (bi *BucketInfo) indexShard(name string) int {
	if bi.NumShards == 0 {
		return 0
	}
	return int(bucketIndexShard(name, bi.NumShards))
}

func (bi *BucketInfo) numIndexShards() int {
	if bi.NumShards == 0 {
		return 1
	}
	return int(bi.NumShards)
}

// indexOid is the shard's object id; an unsharded bucket keeps a
// single ".dir.<bucket_id>" object.
func (bi *BucketInfo) indexOid(shard int) string {
	if bi.NumShards == 0 {
		return dirOidPrefix + bi.Bucket.BucketID
	}
	return dirOidPrefix + bi.Bucket.BucketID + "." + strconv.Itoa(shard)
}

func (s *Store) indexCtx(bi *BucketInfo) (*rados.IOCtx, error) {
	pool := bi.Bucket.IndexPool
	if pool == "" {
		pool = s.cfg.IndexPool
	}
	return s.ioctx(pool)
}

func (s *Store) initBucketIndex(bi *BucketInfo) error {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	for i := range bi.numIndexShards() {
		if _, err := ix.Exec(bi.indexOid(i), "rgw", "bucket_init_index", nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) indexPrepare(ix *rados.IOCtx, bi *BucketInfo, name, tag string, op uint8) error {
	in := cos.PackBytes(&clsrgw.PrepareOp{
		Name: name, Tag: tag, Timestamp: time.Now(), Op: op,
	})
	_, err := ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "bucket_prepare_op", in)
	return err
}

func (s *Store) indexComplete(ix *rados.IOCtx, bi *BucketInfo, op *clsrgw.CompleteOp) error {
	shard := bi.indexShard(op.Name)
	if _, err := ix.Exec(bi.indexOid(shard), "rgw", "bucket_complete_op", cos.PackBytes(op)); err != nil {
		return err
	}
	s.logIndexChange(bi, shard)
	return nil
}

// logIndexChange registers a committed index mutation with the change
// log; a dropped entry only delays sync, it does not lose data.
func (s *Store) logIndexChange(bi *BucketInfo, shard int) {
	if err := s.dlog.addEntry(bi, shard); err != nil {
		nlog.Errorf("data log entry for %s shard %d: %v", bi.Bucket.Name, shard, err)
	}
}

func (s *Store) indexCancel(ix *rados.IOCtx, bi *BucketInfo, name, tag string) error {
	op := &clsrgw.CompleteOp{
		Name: name, Tag: tag, Op: clsrgw.OpCancel, Ver: clsrgw.ObjVer{Pool: -1},
	}
	_, err := ix.Exec(bi.indexOid(bi.indexShard(name)), "rgw", "bucket_complete_op", cos.PackBytes(op))
	return err
}

// indexSuggest fires a blind reconciliation batch at one shard. Callers
// do not wait and do not care: the next lister retries anything missed.
func (s *Store) indexSuggest(ix *rados.IOCtx, bi *BucketInfo, shard int, changes []clsrgw.SuggestChange) {
	if len(changes) == 0 {
		return
	}
	in := cos.PackBytes(&clsrgw.SuggestOp{Changes: changes})
	op := rados.NewWriteOp().Exec("rgw", "suggest_changes", in)
	ix.AioOperate(bi.indexOid(shard), op)
}

// GetBucketStats sums per-category stats across the bucket's index
// shards.
func (s *Store) GetBucketStats(bi *BucketInfo) (map[uint8]clsrgw.CategoryStats, error) {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	stats := make(map[uint8]clsrgw.CategoryStats, 2)
	for i := range bi.numIndexShards() {
		out, err := ix.Exec(bi.indexOid(i), "rgw", "get_dir_header", nil)
		if err != nil {
			return nil, err
		}
		var h clsrgw.Header
		if err := cos.UnpackBytes(out, &h); err != nil {
			return nil, err
		}
		for cat, cs := range h.Stats {
			sum := stats[cat]
			sum.TotalSize += cs.TotalSize
			sum.TotalSizeRounded += cs.TotalSizeRounded
			sum.NumEntries += cs.NumEntries
			stats[cat] = sum
		}
	}
	return stats, nil
}

func sumCategories(stats map[uint8]clsrgw.CategoryStats) (sum clsrgw.CategoryStats) {
	for _, cs := range stats {
		sum.TotalSize += cs.TotalSize
		sum.TotalSizeRounded += cs.TotalSizeRounded
		sum.NumEntries += cs.NumEntries
	}
	return sum
}

// CheckBucketIndex compares each shard's stored header against a
// recount; no repair.
func (s *Store) CheckBucketIndex(bi *BucketInfo) ([]clsrgw.CheckReply, error) {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	replies := make([]clsrgw.CheckReply, 0, bi.numIndexShards())
	for i := range bi.numIndexShards() {
		out, err := ix.Exec(bi.indexOid(i), "rgw", "bucket_check_index", nil)
		if err != nil {
			return nil, err
		}
		var r clsrgw.CheckReply
		if err := cos.UnpackBytes(out, &r); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, nil
}

// RebuildBucketIndex recounts and rewrites each shard's header.
func (s *Store) RebuildBucketIndex(bi *BucketInfo) error {
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	for i := range bi.numIndexShards() {
		if _, err := ix.Exec(bi.indexOid(i), "rgw", "bucket_rebuild_index", nil); err != nil {
			return err
		}
	}
	return nil
}
