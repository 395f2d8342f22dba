/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Usage records live on dedicated shard objects, one omap row per
// {owner, epoch, bucket}. Adds aggregate in place, so replaying a
// flush after a partial failure double-counts at worst one batch.

const (
	usageKeyPrefix = "u_"
	usageTrimBatch = 1000
)

func usageKey(owner string, epoch uint64, bucket string) string {
	return fmt.Sprintf("%s%s_%011d_%s", usageKeyPrefix, owner, epoch, bucket)
}

func usageAdd(hctx *cls.Context, in []byte) ([]byte, error) {
	var op UsageAddOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	kvs := make(map[string][]byte, len(op.Entries))
	for i := range op.Entries {
		ent := &op.Entries[i]
		if ent.Owner == "" {
			return nil, cos.ErrInvalid
		}
		key := usageKey(ent.Owner, ent.Epoch, ent.Bucket)
		merged := *ent
		if b, ok := kvs[key]; ok {
			// same slot twice in one batch
			var prev UsageEntry
			if cos.UnpackBytes(b, &prev) != nil {
				return nil, errCorrupt(key)
			}
			merged.Total.aggregate(&prev.Total)
		} else if b, err := hctx.OmapGetVal(key); err == nil {
			var prev UsageEntry
			if cos.UnpackBytes(b, &prev) != nil {
				return nil, errCorrupt(key)
			}
			merged.Total.aggregate(&prev.Total)
		} else if !cos.IsErrNotFound(err) {
			return nil, err
		}
		kvs[key] = cos.PackBytes(&merged)
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("usage_log_add: %d entries", len(op.Entries))
	}
	return nil, hctx.OmapSet(kvs)
}

func (op *UsageReadOp) match(e *UsageEntry) bool {
	if op.Owner != "" && e.Owner != op.Owner {
		return false
	}
	if e.Epoch < op.Start {
		return false
	}
	if op.End != 0 && e.Epoch >= op.End {
		return false
	}
	return true
}

func usageRead(hctx *cls.Context, in []byte) ([]byte, error) {
	var op UsageReadOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	max := int(op.Max)
	if max <= 0 || max > maxListPage {
		max = maxListPage
	}
	var (
		reply     = &UsageReadReply{}
		after     = op.Iter
		lastAdded string
	)
	for {
		vals, more, err := hctx.OmapGetVals(after, usageKeyPrefix, maxListPage)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			after = k
			var e UsageEntry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, errCorrupt(k)
			}
			if !op.match(&e) {
				continue
			}
			if len(reply.Entries) >= max {
				// the iter is a startAfter, so hand back the last row
				// actually consumed
				reply.Truncated = true
				reply.NextIter = lastAdded
				return cos.PackBytes(reply), nil
			}
			reply.Entries = append(reply.Entries, e)
			lastAdded = k
		}
		if !more {
			return cos.PackBytes(reply), nil
		}
	}
}

func usageTrim(hctx *cls.Context, in []byte) ([]byte, error) {
	var op UsageTrimOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	filter := UsageReadOp{Owner: op.Owner, Start: op.Start, End: op.End}
	var (
		doomed []string
		after  = ""
		done   = true
	)
scan:
	for {
		vals, more, err := hctx.OmapGetVals(after, usageKeyPrefix, maxListPage)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			after = k
			var e UsageEntry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, errCorrupt(k)
			}
			if !filter.match(&e) {
				continue
			}
			if len(doomed) >= usageTrimBatch {
				done = false
				break scan
			}
			doomed = append(doomed, k)
		}
		if !more {
			break
		}
	}
	if len(doomed) == 0 {
		if done {
			return nil, cos.ErrNoData
		}
		return cos.PackBytes(&UsageTrimReply{Done: false}), nil
	}
	if err := hctx.OmapRmKeys(doomed...); err != nil {
		return nil, err
	}
	return cos.PackBytes(&UsageTrimReply{Done: done}), nil
}
