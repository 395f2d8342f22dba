/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Usage accounting accumulates in memory, one slot per {owner, bucket,
// hour}, and drains to the sharded usage log on a timer or when the
// pending map grows past the flush threshold.

const anonOwner = "anonymous"

type usageLogger struct {
	s       *Store
	pending map[string]*clsrgw.UsageEntry
	mu      sync.Mutex
	busy    atomic.Bool
}

func newUsageLogger(s *Store) *usageLogger {
	return &usageLogger{s: s, pending: make(map[string]*clsrgw.UsageEntry, 64)}
}

// usageEpoch buckets records by the hour.
func usageEpoch(t time.Time) uint64 { return uint64(t.Truncate(time.Hour).Unix()) }

func usageSlotKey(owner, bucket string, epoch uint64) string {
	return owner + "\x00" + bucket + "\x00" + strconv.FormatUint(epoch, 10)
}

func addTotals(dst, src *clsrgw.UsageInfo) {
	dst.BytesSent += src.BytesSent
	dst.BytesReceived += src.BytesReceived
	dst.Ops += src.Ops
	dst.SuccessfulOps += src.SuccessfulOps
}

func (ul *usageLogger) add(owner, bucket string, u clsrgw.UsageInfo) {
	if owner == "" {
		owner = anonOwner
	}
	epoch := usageEpoch(time.Now())
	key := usageSlotKey(owner, bucket, epoch)
	ul.mu.Lock()
	e, ok := ul.pending[key]
	if !ok {
		e = &clsrgw.UsageEntry{Owner: owner, Bucket: bucket, Epoch: epoch}
		ul.pending[key] = e
	}
	addTotals(&e.Total, &u)
	n := len(ul.pending)
	ul.mu.Unlock()

	if n >= ul.s.cfg.Usage.FlushThreshold && ul.busy.CAS(false, true) {
		go func() {
			defer ul.busy.Store(false)
			if err := ul.flush(); err != nil {
				nlog.Errorln("usage flush:", err)
			}
		}()
	}
}

// flush swaps the pending map out and appends each slot to its usage
// shard; slots that fail to land are merged back for the next cycle.
func (ul *usageLogger) flush() error {
	ul.mu.Lock()
	pending := ul.pending
	ul.pending = make(map[string]*clsrgw.UsageEntry, 64)
	ul.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	batches := make(map[string][]clsrgw.UsageEntry, 8)
	for _, e := range pending {
		oid := ul.s.usageShardOid(e.Owner, e.Bucket)
		batches[oid] = append(batches[oid], *e)
	}
	ix, err := ul.s.ioctxCreate(ul.s.cfg.UsagePool)
	if err != nil {
		for _, entries := range batches {
			ul.requeue(entries)
		}
		return err
	}
	var firstErr error
	for oid, entries := range batches {
		in := cos.PackBytes(&clsrgw.UsageAddOp{Entries: entries})
		if _, err := ix.Exec(oid, "rgw", "user_usage_log_add", in); err != nil {
			ul.requeue(entries)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (ul *usageLogger) requeue(entries []clsrgw.UsageEntry) {
	ul.mu.Lock()
	for i := range entries {
		e := &entries[i]
		key := usageSlotKey(e.Owner, e.Bucket, e.Epoch)
		if cur, ok := ul.pending[key]; ok {
			addTotals(&cur.Total, &e.Total)
		} else {
			cp := *e
			ul.pending[key] = &cp
		}
	}
	ul.mu.Unlock()
}

func (ul *usageLogger) housekeep(int64) time.Duration {
	if err := ul.flush(); err != nil {
		nlog.Errorln("usage flush:", err)
	}
	return ul.s.cfg.Usage.TickIval.D()
}

//
// shard naming
//

func usageShardName(shard uint32) string { return fmt.Sprintf("usage.%d", shard) }

func (s *Store) usageNumShards() uint32 {
	if s.cfg.Usage.Shards == 0 {
		return 1
	}
	return s.cfg.Usage.Shards
}

// usageShardOid spreads one owner's records over UserShards of the
// Shards total, keyed by bucket.
func (s *Store) usageShardOid(owner, bucket string) string {
	val := cos.StrHashLinux(bucket)
	if owner != "" {
		if us := s.cfg.Usage.UserShards; us > 1 {
			val %= us
		} else {
			val = 0
		}
		val += cos.StrHashLinux(owner)
	}
	return usageShardName(val % s.usageNumShards())
}

//
// read/trim API
//

// UsageIter resumes a cross-shard usage read.
type UsageIter struct {
	Resume string
	Shard  uint32
}

// ReadUsage returns usage records for owner (all owners when empty)
// within the epoch range [start, end); end 0 means no upper bound.
func (s *Store) ReadUsage(owner string, start, end uint64, max int, iter *UsageIter) (entries []clsrgw.UsageEntry, truncated bool, _ error) {
	if max <= 0 || max > listMaxDefault {
		max = listMaxDefault
	}
	ix, err := s.ioctx(s.cfg.UsagePool)
	if err != nil {
		return nil, false, err
	}
	num := s.usageNumShards()
	for iter.Shard < num {
		in := cos.PackBytes(&clsrgw.UsageReadOp{
			Owner: owner, Start: start, End: end,
			Iter: iter.Resume, Max: uint32(max - len(entries)),
		})
		out, err := ix.Exec(usageShardName(iter.Shard), "rgw", "user_usage_log_read", in)
		if err != nil {
			if cos.IsErrNotFound(err) {
				iter.Shard, iter.Resume = iter.Shard+1, ""
				continue
			}
			return nil, false, err
		}
		reply := &clsrgw.UsageReadReply{}
		if err := cos.UnpackBytes(out, reply); err != nil {
			return nil, false, err
		}
		entries = append(entries, reply.Entries...)
		if reply.Truncated {
			iter.Resume = reply.NextIter
			return entries, true, nil
		}
		iter.Shard, iter.Resume = iter.Shard+1, ""
		if len(entries) >= max {
			return entries, iter.Shard < num, nil
		}
	}
	return entries, false, nil
}

// TrimUsage removes usage records for owner (all owners when empty)
// within [start, end), batch by batch across every shard.
func (s *Store) TrimUsage(owner string, start, end uint64) error {
	ix, err := s.ioctx(s.cfg.UsagePool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clsrgw.UsageTrimOp{Owner: owner, Start: start, End: end})
	num := s.usageNumShards()
	for shard := uint32(0); shard < num; shard++ {
		for {
			out, err := ix.Exec(usageShardName(shard), "rgw", "user_usage_log_trim", in)
			if err != nil {
				if cos.IsErrNotFound(err) || errors.Is(err, cos.ErrNoData) {
					break
				}
				return err
			}
			reply := &clsrgw.UsageTrimReply{}
			if err := cos.UnpackBytes(out, reply); err != nil {
				return err
			}
			if reply.Done {
				break
			}
		}
	}
	return nil
}
