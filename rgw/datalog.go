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

	clslog "github.com/NVIDIA/radstore/cls/log"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// The data-change log marks bucket index shards dirty for a sync peer.
// One log record per shard per window: the first write sends, repeats
// within the window just re-register the shard, and the renew timer
// refreshes registered shards before their window lapses.

type (
	dataChange struct {
		Timestamp time.Time
		Key       string
	}

	// changeStatus serializes log sends per bucket shard: one writer
	// sends, the rest wait on its outcome.
	changeStatus struct {
		curExpiration time.Time
		curSent       time.Time
		cond          *changeCond
		pending       bool
	}

	changeCond struct {
		ch  chan struct{}
		err error
	}

	dataLog struct {
		s      *Store
		status map[string]*changeStatus
		cycle  map[string]string // shard key -> log oid, awaiting renewal
		mu     sync.Mutex
	}

	// DataChange is one replayed log record.
	DataChange struct {
		Timestamp time.Time
		Key       string
		LogID     string
	}

	// DataLogMarker resumes a cross-shard data-log listing.
	DataLogMarker struct {
		Marker string
		Shard  uint32
	}
)

// interface guards
var (
	_ cos.Packer   = (*dataChange)(nil)
	_ cos.Unpacker = (*dataChange)(nil)
)

func newDataLog(s *Store) *dataLog {
	return &dataLog{
		s:      s,
		status: make(map[string]*changeStatus, 64),
		cycle:  make(map[string]string, 64),
	}
}

func dataLogOid(shard uint32) string { return fmt.Sprintf("data_log.%d", shard) }

func (dl *dataLog) numShards() uint32 {
	if dl.s.cfg.DataLog.Shards == 0 {
		return 1
	}
	return dl.s.cfg.DataLog.Shards
}

func (dl *dataLog) window() time.Duration { return dl.s.cfg.DataLog.Window.D() }

func (dl *dataLog) chooseOid(bi *BucketInfo, shard int) string {
	if shard < 0 {
		shard = 0
	}
	return dataLogOid((cos.StrHashLinux(bi.Bucket.Name) + uint32(shard)) % dl.numShards())
}

// bucketShardKey names the dirtied index shard: "name:id" for an
// unsharded bucket, "name:id:shard" otherwise.
func bucketShardKey(bi *BucketInfo, shard int) string {
	key := bi.Bucket.Name + ":" + bi.Bucket.BucketID
	if bi.NumShards > 0 {
		key += ":" + strconv.Itoa(shard)
	}
	return key
}

func (dl *dataLog) addEntry(bi *BucketInfo, shard int) error {
	var (
		key = bucketShardKey(bi, shard)
		oid = dl.chooseOid(bi, shard)
		now = time.Now()
	)
	dl.mu.Lock()
	st, ok := dl.status[key]
	if !ok {
		st = &changeStatus{}
		dl.status[key] = st
	}
	if now.Before(st.curExpiration) {
		// logged recently; the renew timer keeps the record fresh
		dl.cycle[key] = oid
		dl.mu.Unlock()
		return nil
	}
	if st.pending {
		cond := st.cond
		dl.mu.Unlock()
		<-cond.ch
		return cond.err
	}
	cond := &changeCond{ch: make(chan struct{})}
	st.pending, st.cond, st.curSent = true, cond, now
	dl.mu.Unlock()

	err := dl.logChange(oid, key, now)

	dl.mu.Lock()
	st.pending, st.cond = false, nil
	// window counts from when the send started, not when it finished
	st.curExpiration = st.curSent.Add(dl.window())
	dl.mu.Unlock()
	cond.err = err
	close(cond.ch)
	return err
}

func (dl *dataLog) logChange(oid, key string, now time.Time) error {
	ix, err := dl.s.ioctxCreate(dl.s.cfg.LogPool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clslog.AddOp{
		Entries: []clslog.Entry{{
			Timestamp: now,
			Name:      key,
			Data:      cos.PackBytes(&dataChange{Key: key, Timestamp: now}),
		}},
		MonotonicInc: true,
	})
	_, err = ix.Exec(oid, "log", "add", in)
	return err
}

// renewEntries re-sends one record per registered shard so a consumer
// never sees the window close on a still-dirty shard.
func (dl *dataLog) renewEntries() error {
	dl.mu.Lock()
	cycle := dl.cycle
	dl.cycle = make(map[string]string, 64)
	dl.mu.Unlock()
	if len(cycle) == 0 {
		return nil
	}
	now := time.Now()
	batches := make(map[string][]clslog.Entry, 8)
	for key, oid := range cycle {
		batches[oid] = append(batches[oid], clslog.Entry{
			Timestamp: now,
			Name:      key,
			Data:      cos.PackBytes(&dataChange{Key: key, Timestamp: now}),
		})
	}
	ix, err := dl.s.ioctxCreate(dl.s.cfg.LogPool)
	if err != nil {
		return err
	}
	var firstErr error
	for oid, entries := range batches {
		in := cos.PackBytes(&clslog.AddOp{Entries: entries, MonotonicInc: true})
		if _, err := ix.Exec(oid, "log", "add", in); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	dl.mu.Lock()
	for key := range cycle {
		if st, ok := dl.status[key]; ok {
			st.curExpiration = now.Add(dl.window())
		}
	}
	dl.mu.Unlock()
	return firstErr
}

func (dl *dataLog) housekeep(int64) time.Duration {
	if err := dl.renewEntries(); err != nil {
		nlog.Errorln("data log renew:", err)
	}
	return dl.window() * 3 / 4
}

//
// read/trim API
//

// ListDataLog replays change records within [from, to) across the log
// shards; a zero `to` means no upper bound.
func (s *Store) ListDataLog(from, to time.Time, iter *DataLogMarker, max int) (changes []DataChange, truncated bool, _ error) {
	if max <= 0 || max > listMaxDefault {
		max = listMaxDefault
	}
	ix, err := s.ioctx(s.cfg.LogPool)
	if err != nil {
		return nil, false, err
	}
	num := s.dlog.numShards()
	for iter.Shard < num {
		in := cos.PackBytes(&clslog.ListOp{From: from, To: to, Marker: iter.Marker, Max: uint32(max - len(changes))})
		out, err := ix.Exec(dataLogOid(iter.Shard), "log", "list", in)
		if err != nil {
			if cos.IsErrNotFound(err) {
				iter.Shard, iter.Marker = iter.Shard+1, ""
				continue
			}
			return nil, false, err
		}
		reply := &clslog.ListReply{}
		if err := cos.UnpackBytes(out, reply); err != nil {
			return nil, false, err
		}
		for i := range reply.Entries {
			e := &reply.Entries[i]
			var c dataChange
			if cos.UnpackBytes(e.Data, &c) != nil {
				return nil, false, fmt.Errorf("data log %s entry %s: %w", dataLogOid(iter.Shard), e.ID, cos.ErrBadMsg)
			}
			changes = append(changes, DataChange{Key: c.Key, Timestamp: c.Timestamp, LogID: e.ID})
		}
		if reply.Truncated {
			iter.Marker = reply.Marker
			return changes, true, nil
		}
		iter.Shard, iter.Marker = iter.Shard+1, ""
		if len(changes) >= max {
			return changes, iter.Shard < num, nil
		}
	}
	return changes, false, nil
}

// DataLogShards returns the effective shard count (the configured one,
// or 1 when unset).
func (s *Store) DataLogShards() uint32 { return s.dlog.numShards() }

// DataLogInfo returns one shard's header; a never-written shard reads
// as zero.
func (s *Store) DataLogInfo(shard uint32) (*clslog.Header, error) {
	if shard >= s.dlog.numShards() {
		return nil, cos.ErrInvalid
	}
	ix, err := s.ioctx(s.cfg.LogPool)
	if err != nil {
		return nil, err
	}
	out, err := ix.Exec(dataLogOid(shard), "log", "info", nil)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return &clslog.Header{}, nil
		}
		return nil, err
	}
	h := &clslog.Header{}
	if err := cos.UnpackBytes(out, h); err != nil {
		return nil, err
	}
	return h, nil
}

// TrimDataLog removes one shard's records within [from, to), looping
// until the range drains.
func (s *Store) TrimDataLog(shard uint32, from, to time.Time) error {
	if shard >= s.dlog.numShards() {
		return cos.ErrInvalid
	}
	ix, err := s.ioctx(s.cfg.LogPool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clslog.TrimOp{From: from, To: to})
	for {
		if _, err := ix.Exec(dataLogOid(shard), "log", "trim", in); err != nil {
			if errors.Is(err, cos.ErrNoData) || cos.IsErrNotFound(err) {
				return nil
			}
			return err
		}
	}
}

//
// codec
//

func (c *dataChange) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(c.Key)
	bw.WriteTime(c.Timestamp)
}

func (c *dataChange) PackedSize() int {
	return cos.SizeofI8 + cos.SizeofI64 + cos.PackedStrLen(c.Key)
}

func (c *dataChange) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("data change: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	if c.Key, err = br.ReadString(); err != nil {
		return err
	}
	c.Timestamp, err = br.ReadTime()
	return err
}
