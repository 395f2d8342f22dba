/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// The gc queue is double-indexed: the expiration index holds the full
// entry ordered by deadline, and the tag index points at the current
// expiration row so set/defer can relocate it.

const (
	gcTimePrefix = "gct_"
	gcTagPrefix  = "gcn_"
)

func gcTimeKey(t time.Time, tag string) string {
	return fmt.Sprintf("%s%011d.%09d_%s", gcTimePrefix, t.Unix(), t.Nanosecond(), tag)
}

func gcTagKey(tag string) string { return gcTagPrefix + tag }

// gcLookup resolves tag -> current time-index row.
func gcLookup(hctx *cls.Context, tag string) (string, bool, error) {
	b, err := hctx.OmapGetVal(gcTagKey(tag))
	if err != nil {
		if cos.IsErrNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var s cls.Str
	if cos.UnpackBytes(b, &s) != nil {
		return "", false, errCorrupt(gcTagKey(tag))
	}
	return s.S, true, nil
}

func gcWrite(hctx *cls.Context, e *GCEntry) error {
	tk := gcTimeKey(e.Time, e.Tag)
	return hctx.OmapSet(map[string][]byte{
		tk:              cos.PackBytes(e),
		gcTagKey(e.Tag): cos.PackBytes(&cls.Str{S: tk}),
	})
}

func gcSetEntry(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GCSetOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Tag == "" {
		return nil, cos.ErrInvalid
	}
	old, ok, err := gcLookup(hctx, op.Tag)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := hctx.OmapRmKeys(old); err != nil {
			return nil, err
		}
	}
	e := &GCEntry{
		Tag:   op.Tag,
		Time:  time.Now().Add(time.Duration(op.ExpirationSecs) * time.Second),
		Chain: op.Chain,
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("gc_set_entry tag %q objs %d exp %ds", op.Tag, len(op.Chain.Objs), op.ExpirationSecs)
	}
	return nil, gcWrite(hctx, e)
}

func gcDeferEntry(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GCDeferOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	old, ok, err := gcLookup(hctx, op.Tag)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cos.ErrNotFound
	}
	b, err := hctx.OmapGetVal(old)
	if err != nil {
		return nil, err
	}
	e := &GCEntry{}
	if cos.UnpackBytes(b, e) != nil {
		return nil, errCorrupt(old)
	}
	if err := hctx.OmapRmKeys(old); err != nil {
		return nil, err
	}
	e.Time = time.Now().Add(time.Duration(op.ExpirationSecs) * time.Second)
	return nil, gcWrite(hctx, e)
}

func gcList(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GCListOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	max := int(op.Max)
	if max <= 0 || max > maxListPage {
		max = maxListPage
	}
	var (
		reply    = &GCListReply{}
		after    = op.Marker
		boundary string
	)
	if op.ExpiredOnly {
		// keys sort by deadline, so everything past the now-row is live
		boundary = gcTimeKey(time.Now(), "")
	}
	for {
		vals, more, err := hctx.OmapGetVals(after, gcTimePrefix, maxListPage)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			if boundary != "" && k >= boundary {
				return cos.PackBytes(reply), nil
			}
			var e GCEntry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, errCorrupt(k)
			}
			if len(reply.Entries) >= max {
				reply.Truncated = true
				return cos.PackBytes(reply), nil
			}
			reply.Entries = append(reply.Entries, e)
			reply.NextMarker = k
			after = k
		}
		if !more {
			return cos.PackBytes(reply), nil
		}
	}
}

func gcRemove(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GCRemoveOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	var doomed []string
	for _, tag := range op.Tags {
		old, ok, err := gcLookup(hctx, tag)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // raced with another reaper
		}
		doomed = append(doomed, old, gcTagKey(tag))
	}
	if len(doomed) == 0 {
		return nil, nil
	}
	return nil, hctx.OmapRmKeys(doomed...)
}
