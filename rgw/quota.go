/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	clsuser "github.com/NVIDIA/radstore/cls/user"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Quota admission runs against cached usage: bucket totals summed from
// the index shard headers, user totals from the cls/user header. The
// caches age out on a TTL and refresh in the background at half-life;
// a reading near the limit bypasses the cache so a stale total cannot
// overshoot. Committed mutations adjust the cached numbers in place
// and queue the bucket for write-back into its owner's header.

const quotaCacheShards = 16

// user quota rides as an xattr on the user object
const attrUserQuota = attrPrefix + "quota"

type (
	// QuotaInfo bounds a bucket or a user. Zero limits do not bound;
	// nothing is enforced unless Enabled.
	QuotaInfo struct {
		MaxSizeKB  int64 `json:"max_size_kb"`
		MaxObjects int64 `json:"max_objects"`
		Enabled    bool  `json:"enabled"`
	}

	// StorageStats is a usage reading: KBs, KBs with each object
	// rounded up to 4K, and the object count.
	StorageStats struct {
		NumKB        uint64 `json:"num_kb"`
		NumKBRounded uint64 `json:"num_kb_rounded"`
		NumObjects   uint64 `json:"num_objects"`
	}

	quotaEntry struct {
		fetched time.Time
		key     string
		stats   StorageStats
	}

	quotaShard struct {
		mu  sync.Mutex
		m   map[string]*list.Element
		lru *list.List // front: most recently used
	}

	quotaCache struct {
		shards [quotaCacheShards]quotaShard
		limit  int // per shard
		ttl    time.Duration
	}

	quotaHandler struct {
		s       *Store
		buckets *quotaCache
		users   *quotaCache
		fetch   singleflight.Group

		mu       sync.Mutex
		modified map[string]cos.StrSet // owner -> buckets pending write-back
	}
)

func newQuotaHandler(s *Store) *quotaHandler {
	cfg := &s.cfg.Quota
	return &quotaHandler{
		s:        s,
		buckets:  newQuotaCache(cfg.CacheSize, cfg.BucketTTL.D()),
		users:    newQuotaCache(cfg.CacheSize, cfg.UserTTL.D()),
		modified: make(map[string]cos.StrSet, 8),
	}
}

//
// admission
//

// CheckQuota admits addObjs more objects of addBytes total. Bucket
// quota rides in the bucket instance, user quota on the user object;
// the bucket is checked first.
func (s *Store) CheckQuota(owner string, bi *BucketInfo, addObjs, addBytes int64) error {
	if bi.Quota.Enabled {
		st, err := s.quota.bucketStats(bi, &bi.Quota, addObjs, addBytes)
		if err != nil {
			return err
		}
		if err := bi.Quota.check(&st, addObjs, addBytes); err != nil {
			return fmt.Errorf("bucket %s: %w", bi.Bucket.Name, err)
		}
	}
	uq, err := s.GetUserQuota(owner)
	if err != nil {
		return err
	}
	if uq.Enabled {
		st, err := s.quota.userStats(owner, uq, addObjs, addBytes)
		if err != nil {
			return err
		}
		if err := uq.check(&st, addObjs, addBytes); err != nil {
			return fmt.Errorf("user %s: %w", owner, err)
		}
	}
	return nil
}

func (q *QuotaInfo) check(st *StorageStats, addObjs, addBytes int64) error {
	if q.MaxObjects > 0 && int64(st.NumObjects)+addObjs > q.MaxObjects {
		return ErrQuotaExceeded
	}
	if q.MaxSizeKB > 0 && int64(st.NumKBRounded)+cos.DivCeil(addBytes, cos.KiB) > q.MaxSizeKB {
		return ErrQuotaExceeded
	}
	return nil
}

// nearLimit: the incoming write would land within the soft threshold
// of a limit, where a stale cached total risks overshooting.
func (q *quotaHandler) nearLimit(st *StorageStats, quota *QuotaInfo, addObjs, addBytes int64) bool {
	thr := q.s.cfg.Quota.SoftThreshold
	if quota.MaxObjects > 0 &&
		float64(int64(st.NumObjects)+addObjs) >= thr*float64(quota.MaxObjects) {
		return true
	}
	if quota.MaxSizeKB > 0 &&
		float64(int64(st.NumKBRounded)+cos.DivCeil(addBytes, cos.KiB)) >= thr*float64(quota.MaxSizeKB) {
		return true
	}
	return false
}

//
// stats lookup
//

func (q *quotaHandler) bucketStats(bi *BucketInfo, quota *QuotaInfo, addObjs, addBytes int64) (StorageStats, error) {
	if st, age, ok := q.buckets.get(bi.Bucket.BucketID); ok {
		if !q.nearLimit(&st, quota, addObjs, addBytes) {
			if age > q.buckets.ttl/2 {
				go func() {
					if _, err := q.fetchBucket(bi); err != nil {
						nlog.Errorf("quota: refresh bucket %s: %v", bi.Bucket.Name, err)
					}
				}()
			}
			return st, nil
		}
	}
	return q.fetchBucket(bi)
}

func (q *quotaHandler) userStats(owner string, quota *QuotaInfo, addObjs, addBytes int64) (StorageStats, error) {
	if st, age, ok := q.users.get(owner); ok {
		if !q.nearLimit(&st, quota, addObjs, addBytes) {
			if age > q.users.ttl/2 {
				go func() {
					if _, err := q.fetchUser(owner); err != nil {
						nlog.Errorf("quota: refresh user %s: %v", owner, err)
					}
				}()
			}
			return st, nil
		}
	}
	return q.fetchUser(owner)
}

// fetchBucket reloads one bucket's totals; concurrent misses collapse
// into a single index sweep.
func (q *quotaHandler) fetchBucket(bi *BucketInfo) (StorageStats, error) {
	key := bi.Bucket.BucketID
	v, err, _ := q.fetch.Do("b:"+key, func() (any, error) {
		stats, err := q.s.GetBucketStats(bi)
		if err != nil {
			return nil, err
		}
		sum := sumCategories(stats)
		st := statsFromTotals(sum.TotalSize, sum.TotalSizeRounded, sum.NumEntries)
		q.buckets.put(key, st)
		return st, nil
	})
	if err != nil {
		return StorageStats{}, err
	}
	return v.(StorageStats), nil
}

func (q *quotaHandler) fetchUser(owner string) (StorageStats, error) {
	v, err, _ := q.fetch.Do("u:"+owner, func() (any, error) {
		st, err := q.s.loadUserStats(owner)
		if err != nil {
			return nil, err
		}
		q.users.put(owner, st)
		return st, nil
	})
	if err != nil {
		return StorageStats{}, err
	}
	return v.(StorageStats), nil
}

// loadUserStats reads the rolled-up header; a user that never synced
// reads as zero.
func (s *Store) loadUserStats(owner string) (StorageStats, error) {
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return StorageStats{}, err
	}
	out, err := ix.Exec(owner, "user", "get_header", nil)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return StorageStats{}, nil
		}
		return StorageStats{}, err
	}
	h := &clsuser.Header{}
	if err := cos.UnpackBytes(out, h); err != nil {
		return StorageStats{}, err
	}
	return statsFromTotals(h.Stats.TotalBytes, h.Stats.TotalBytesRounded, h.Stats.TotalEntries), nil
}

// GetUserStats returns the owner's aggregate usage as last rolled up
// into the user header; freshness is bounded by the sync intervals.
func (s *Store) GetUserStats(owner string) (StorageStats, error) { return s.loadUserStats(owner) }

func statsFromTotals(bytes, bytesRounded, objs uint64) StorageStats {
	return StorageStats{
		NumKB:        uint64(cos.DivCeil(int64(bytes), cos.KiB)),
		NumKBRounded: uint64(cos.DivCeil(int64(bytesRounded), cos.KiB)),
		NumObjects:   objs,
	}
}

//
// adjustment and write-back
//

// adjustStats folds a committed mutation into the cached totals and
// queues the bucket for write-back into its owner's header.
func (q *quotaHandler) adjustStats(owner string, bi *BucketInfo, objs, bytes int64) {
	kb, kbRounded := quotaKBDeltas(bytes)
	q.buckets.adjust(bi.Bucket.BucketID, objs, kb, kbRounded)
	q.users.adjust(owner, objs, kb, kbRounded)

	q.mu.Lock()
	set := q.modified[owner]
	if set == nil {
		set = make(cos.StrSet, 4)
		q.modified[owner] = set
	}
	set.Add(bi.Bucket.Name)
	q.mu.Unlock()
}

// quotaKBDeltas converts a byte delta to (KB, KB-after-4K-rounding)
// preserving the sign, so a delete backs out what its put charged.
func quotaKBDeltas(bytes int64) (kb, kbRounded int64) {
	neg := bytes < 0
	if neg {
		bytes = -bytes
	}
	kb = cos.DivCeil(bytes, cos.KiB)
	kbRounded = cos.DivCeil(bytes, 4*cos.KiB) * 4
	if neg {
		return -kb, -kbRounded
	}
	return kb, kbRounded
}

// bucketsSyncHousekeep writes recently modified buckets' live totals
// into their owners' user headers.
func (q *quotaHandler) bucketsSyncHousekeep(int64) time.Duration {
	q.mu.Lock()
	modified := q.modified
	q.modified = make(map[string]cos.StrSet, 8)
	q.mu.Unlock()
	for owner, buckets := range modified {
		names := make([]string, 0, len(buckets))
		for name := range buckets {
			names = append(names, name)
		}
		if err := q.syncUserBuckets(owner, names, false); err != nil {
			nlog.Errorf("quota: sync buckets of %s: %v", owner, err)
		}
	}
	return q.s.cfg.Quota.BucketSyncIval.D()
}

// userSyncHousekeep resyncs every user from live bucket stats, skipping
// users with no updates since their last completed sync.
func (q *quotaHandler) userSyncHousekeep(int64) time.Duration {
	ival := q.s.cfg.Quota.UserSyncIval.D()
	ix, err := q.s.ioctx(q.s.cfg.UserPool)
	if err != nil {
		nlog.Errorln("quota: user sync:", err)
		return ival
	}
	for _, owner := range ix.ListObjects() {
		if err := q.syncUser(ix, owner); err != nil {
			nlog.Errorf("quota: sync user %s: %v", owner, err)
		}
	}
	return ival
}

func (q *quotaHandler) syncUser(ix *rados.IOCtx, owner string) error {
	out, err := ix.Exec(owner, "user", "get_header", nil)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil
		}
		return err
	}
	h := &clsuser.Header{}
	if err := cos.UnpackBytes(out, h); err != nil {
		return err
	}
	if !q.s.cfg.Quota.SyncIdleUsers && !h.LastStatsUpdate.After(h.LastStatsSync) {
		return nil // idle since the last sync
	}
	var (
		names  []string
		marker string
	)
	for {
		entries, m, truncated, err := q.s.ListUserBuckets(owner, marker, 0)
		if err != nil {
			return err
		}
		for i := range entries {
			names = append(names, entries[i].Bucket)
		}
		if !truncated {
			break
		}
		marker = m
	}
	return q.syncUserBuckets(owner, names, true)
}

// syncUserBuckets re-reads each bucket's index totals and folds them
// into the owner's header; complete additionally stamps the sync time.
func (q *quotaHandler) syncUserBuckets(owner string, names []string, complete bool) error {
	var (
		now     = time.Now()
		entries = make([]clsuser.Entry, 0, len(names))
	)
	for _, name := range names {
		bi, err := q.s.GetBucketInfo(name)
		if err != nil {
			if errors.Is(err, ErrNoSuchBucket) {
				continue // removed since it was queued
			}
			return err
		}
		stats, err := q.s.GetBucketStats(bi)
		if err != nil {
			return err
		}
		sum := sumCategories(stats)
		entries = append(entries, clsuser.Entry{
			Bucket: name, Size: sum.TotalSize, SizeRounded: sum.TotalSizeRounded,
			Count: sum.NumEntries, CreationTime: bi.CreationTime,
		})
	}
	ix, err := q.s.ioctx(q.s.cfg.UserPool)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		op := &clsuser.SetBucketsOp{Entries: entries, Time: now, Add: true}
		if _, err := ix.Exec(owner, "user", "set_buckets_info", cos.PackBytes(op)); err != nil {
			return err
		}
	}
	if complete {
		in := cos.PackBytes(&clsuser.TimeOp{Time: now})
		if _, err := ix.Exec(owner, "user", "complete_stats_sync", in); err != nil {
			return err
		}
	}
	q.users.invalidate(owner)
	return nil
}

//
// quota records
//

// SetBucketQuota rewrites the bucket instance with the new quota.
func (s *Store) SetBucketQuota(name string, q *QuotaInfo) (*BucketInfo, error) {
	bi, err := s.GetBucketInfo(name)
	if err != nil {
		return nil, err
	}
	bi.Quota = *q
	if err := s.putBucketInstance(bi); err != nil {
		return nil, err
	}
	return bi, nil
}

// GetUserQuota reads the owner's quota; a user without one reads as
// disabled.
func (s *Store) GetUserQuota(owner string) (*QuotaInfo, error) {
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return nil, err
	}
	b, err := ix.GetXattr(owner, attrUserQuota)
	if err != nil {
		if cos.IsErrNotFound(err) || errors.Is(err, cos.ErrNoData) {
			return &QuotaInfo{}, nil
		}
		return nil, err
	}
	q := &QuotaInfo{}
	if err := cos.UnpackBytes(b, q); err != nil {
		return nil, err
	}
	return q, nil
}

// SetUserQuota stores the owner's quota on the user object, creating
// it if need be.
func (s *Store) SetUserQuota(owner string, q *QuotaInfo) error {
	if owner == "" {
		return cos.ErrInvalid
	}
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return err
	}
	return ix.SetXattr(owner, attrUserQuota, cos.PackBytes(q))
}

//
// lru cache
//

func newQuotaCache(size int, ttl time.Duration) *quotaCache {
	c := &quotaCache{limit: max(size/quotaCacheShards, 1), ttl: ttl}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*list.Element, 8)
		c.shards[i].lru = list.New()
	}
	return c
}

func (c *quotaCache) shard(key string) *quotaShard {
	return &c.shards[xxhash.Sum64String(key)%quotaCacheShards]
}

// get returns the cached reading and its age; expired entries read as
// misses.
func (c *quotaCache) get(key string) (StorageStats, time.Duration, bool) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	el, ok := sh.m[key]
	if !ok {
		return StorageStats{}, 0, false
	}
	e := el.Value.(*quotaEntry)
	age := time.Since(e.fetched)
	if age > c.ttl {
		sh.lru.Remove(el)
		delete(sh.m, key)
		return StorageStats{}, 0, false
	}
	sh.lru.MoveToFront(el)
	return e.stats, age, true
}

func (c *quotaCache) put(key string, stats StorageStats) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if el, ok := sh.m[key]; ok {
		e := el.Value.(*quotaEntry)
		e.stats, e.fetched = stats, time.Now()
		sh.lru.MoveToFront(el)
		return
	}
	for sh.lru.Len() >= c.limit {
		last := sh.lru.Back()
		sh.lru.Remove(last)
		delete(sh.m, last.Value.(*quotaEntry).key)
	}
	sh.m[key] = sh.lru.PushFront(&quotaEntry{key: key, stats: stats, fetched: time.Now()})
}

// adjust applies a committed delta to a live entry; a miss is fine, the
// next fetch reloads full totals.
func (c *quotaCache) adjust(key string, objs, kb, kbRounded int64) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	el, ok := sh.m[key]
	if !ok {
		return
	}
	e := el.Value.(*quotaEntry)
	e.stats.NumObjects = addU64(e.stats.NumObjects, objs)
	e.stats.NumKB = addU64(e.stats.NumKB, kb)
	e.stats.NumKBRounded = addU64(e.stats.NumKBRounded, kbRounded)
}

func (c *quotaCache) invalidate(key string) {
	sh := c.shard(key)
	sh.mu.Lock()
	if el, ok := sh.m[key]; ok {
		sh.lru.Remove(el)
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

func addU64(u uint64, d int64) uint64 {
	if d >= 0 {
		return u + uint64(d)
	}
	if n := uint64(-d); n < u {
		return u - n
	}
	return 0
}

//
// codec
//

// interface guards
var (
	_ cos.Packer   = (*QuotaInfo)(nil)
	_ cos.Unpacker = (*QuotaInfo)(nil)
)

func (q *QuotaInfo) pack(bw *cos.BytePack) {
	bw.WriteInt64(q.MaxSizeKB)
	bw.WriteInt64(q.MaxObjects)
	bw.WriteBool(q.Enabled)
}

func (q *QuotaInfo) packedSize() int { return 2*cos.SizeofI64 + cos.SizeofI8 }

func (q *QuotaInfo) unpack(br *cos.ByteUnpack) (err error) {
	if q.MaxSizeKB, err = br.ReadInt64(); err != nil {
		return err
	}
	if q.MaxObjects, err = br.ReadInt64(); err != nil {
		return err
	}
	q.Enabled, err = br.ReadBool()
	return err
}

func (q *QuotaInfo) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	q.pack(bw)
}

func (q *QuotaInfo) PackedSize() int { return cos.SizeofI8 + q.packedSize() }

func (q *QuotaInfo) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("quota info: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	return q.unpack(br)
}
