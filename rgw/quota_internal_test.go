/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestQuotaCacheBasics(t *testing.T) {
	c := newQuotaCache(1000, time.Minute)

	if _, _, ok := c.get("missing"); ok {
		t.Fatal("hit on an empty cache")
	}

	c.put("b1", StorageStats{NumKB: 10, NumKBRounded: 12, NumObjects: 3})
	st, age, ok := c.get("b1")
	tassert.Fatalf(t, ok, "lost the entry")
	tassert.Errorf(t, st.NumObjects == 3 && st.NumKB == 10 && st.NumKBRounded == 12, "stats %+v", st)
	tassert.Errorf(t, age < time.Second, "fresh entry aged %v", age)

	// adjust folds deltas in place
	c.adjust("b1", 2, 5, 8)
	st, _, _ = c.get("b1")
	tassert.Errorf(t, st.NumObjects == 5 && st.NumKB == 15 && st.NumKBRounded == 20, "after adjust %+v", st)

	// negative deltas clamp at zero instead of wrapping
	c.adjust("b1", -100, -100, -100)
	st, _, _ = c.get("b1")
	tassert.Errorf(t, st.NumObjects == 0 && st.NumKB == 0 && st.NumKBRounded == 0, "after clamp %+v", st)

	// a miss is a no-op, not an implicit insert
	c.adjust("b2", 1, 1, 1)
	if _, _, ok := c.get("b2"); ok {
		t.Fatal("adjust created an entry")
	}

	c.invalidate("b1")
	if _, _, ok := c.get("b1"); ok {
		t.Fatal("entry survived invalidate")
	}
}

func TestQuotaCacheExpiry(t *testing.T) {
	c := newQuotaCache(1000, 20*time.Millisecond)
	c.put("b", StorageStats{NumObjects: 1})
	if _, _, ok := c.get("b"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(60 * time.Millisecond)
	if _, _, ok := c.get("b"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestQuotaCacheEviction(t *testing.T) {
	// size 16 leaves one slot per shard, so at most quotaCacheShards
	// entries can survive any insertion sequence
	c := newQuotaCache(16, time.Minute)
	const n = 64
	for i := range n {
		c.put(fmt.Sprintf("bucket-%d", i), StorageStats{NumObjects: uint64(i)})
	}
	var live int
	for i := range n {
		if _, _, ok := c.get(fmt.Sprintf("bucket-%d", i)); ok {
			live++
		}
	}
	tassert.Errorf(t, live > 0 && live <= quotaCacheShards, "%d live entries, cap %d", live, quotaCacheShards)
}

func TestQuotaKBDeltas(t *testing.T) {
	tests := []struct {
		bytes         int64
		kb, kbRounded int64
	}{
		{0, 0, 0},
		{1, 1, 4},
		{1024, 1, 4},
		{4096, 4, 4},
		{5000, 5, 8},
		{-5000, -5, -8},
		{-1, -1, -4},
	}
	for _, tc := range tests {
		kb, kbr := quotaKBDeltas(tc.bytes)
		tassert.Errorf(t, kb == tc.kb && kbr == tc.kbRounded,
			"%d bytes: got (%d, %d), want (%d, %d)", tc.bytes, kb, kbr, tc.kb, tc.kbRounded)
	}
}

func TestQuotaCheck(t *testing.T) {
	tests := []struct {
		name     string
		quota    QuotaInfo
		st       StorageStats
		addObjs  int64
		addBytes int64
		exceeded bool
	}{
		{"unbounded", QuotaInfo{}, StorageStats{NumObjects: 1 << 20, NumKBRounded: 1 << 30}, 1, 1 << 20, false},
		{"objects at limit", QuotaInfo{MaxObjects: 2}, StorageStats{NumObjects: 1}, 1, 0, false},
		{"objects past limit", QuotaInfo{MaxObjects: 2}, StorageStats{NumObjects: 2}, 1, 0, true},
		{"size at limit", QuotaInfo{MaxSizeKB: 8}, StorageStats{NumKBRounded: 4}, 0, 4 * 1024, false},
		{"size rounds up", QuotaInfo{MaxSizeKB: 8}, StorageStats{NumKBRounded: 8}, 0, 1, true},
		{"both bounded, size trips", QuotaInfo{MaxObjects: 100, MaxSizeKB: 1}, StorageStats{NumKBRounded: 1}, 1, 1, true},
	}
	for _, tc := range tests {
		err := tc.quota.check(&tc.st, tc.addObjs, tc.addBytes)
		tassert.Errorf(t, (err != nil) == tc.exceeded, "%s: err %v, exceeded %v", tc.name, err, tc.exceeded)
	}
}
