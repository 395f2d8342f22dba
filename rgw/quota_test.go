/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestBucketQuotaObjects(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "capped")
	bi, err := s.SetBucketQuota("capped", &rgw.QuotaInfo{MaxObjects: 2, Enabled: true})
	tassert.CheckFatal(t, err)

	putBytes(t, s, bi, "one", []byte("x"))
	putBytes(t, s, bi, "two", []byte("y"))

	_, err = s.PutObj(bi, "three", bytes.NewReader([]byte("z")), nil)
	tassert.Fatalf(t, errors.Is(err, rgw.ErrQuotaExceeded), "third put past MaxObjects=2: %v", err)
	tassert.Errorf(t, errors.Is(err, cos.ErrQuota), "quota error chain broken: %v", err)

	// deleting frees a slot
	_, err = s.DeleteObj(bi, "two", nil)
	tassert.CheckFatal(t, err)
	putBytes(t, s, bi, "three", []byte("z"))
}

func TestBucketQuotaSize(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "cappedkb")
	bi, err := s.SetBucketQuota("cappedkb", &rgw.QuotaInfo{MaxSizeKB: 8, Enabled: true})
	tassert.CheckFatal(t, err)

	// two 4KiB objects fill the 8KB budget exactly
	putBytes(t, s, bi, "a", payload(4*cos.KiB, 1))
	putBytes(t, s, bi, "b", payload(4*cos.KiB, 2))

	// even one byte rounds up to a full KB past the limit
	_, err = s.PutObj(bi, "c", bytes.NewReader([]byte("!")), nil)
	tassert.Fatalf(t, errors.Is(err, rgw.ErrQuotaExceeded), "put past MaxSizeKB=8: %v", err)

	// an unrelated bucket of the same owner is not affected
	other := mkBucket(t, s, "alice", "open")
	putBytes(t, s, other, "c", payload(16*cos.KiB, 3))
}

// User quota admits against the rolled-up user header, so enforcement
// lags mutation by one bucket-sync interval.
func TestUserQuota(t *testing.T) {
	cfg := testConfig()
	cfg.Quota.BucketSyncIval = cos.Duration(50 * time.Millisecond)
	s := openStore(t, startCluster(t), cfg)

	bi1 := mkBucket(t, s, "carol", "uc1")
	bi2 := mkBucket(t, s, "carol", "uc2")

	err := s.SetUserQuota("carol", &rgw.QuotaInfo{MaxObjects: 2, Enabled: true})
	tassert.CheckFatal(t, err)

	putBytes(t, s, bi1, "o1", []byte("11"))
	putBytes(t, s, bi2, "o2", []byte("22"))

	pollUntil(t, 10*time.Second, func() bool {
		st, err := s.GetUserStats("carol")
		return err == nil && st.NumObjects == 2
	}, "user header never caught up with 2 objects")

	_, err = s.PutObj(bi1, "o3", bytes.NewReader([]byte("33")), nil)
	tassert.Fatalf(t, errors.Is(err, rgw.ErrQuotaExceeded), "third put past user MaxObjects=2: %v", err)

	// other owners are unaffected
	bid := mkBucket(t, s, "dave", "free")
	putBytes(t, s, bid, "o", []byte("ok"))
}

func TestUserQuotaRoundTrip(t *testing.T) {
	s := newStore(t)

	// a user that never had a quota reads as disabled
	q, err := s.GetUserQuota("ghost")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, !q.Enabled && q.MaxSizeKB == 0 && q.MaxObjects == 0, "ghost quota %+v", q)

	want := rgw.QuotaInfo{MaxSizeKB: 1024, MaxObjects: 5, Enabled: true}
	tassert.CheckFatal(t, s.SetUserQuota("bob", &want))
	q, err = s.GetUserQuota("bob")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, *q == want, "got %+v, want %+v", q, want)

	// disable in place
	want.Enabled = false
	tassert.CheckFatal(t, s.SetUserQuota("bob", &want))
	q, err = s.GetUserQuota("bob")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, !q.Enabled, "quota still enabled after disable")

	err = s.SetUserQuota("", &want)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "empty owner accepted: %v", err)
}

// The per-user bucket directory carries the synced totals that admin
// listings (and user sync) read back.
func TestUserBucketStatsSync(t *testing.T) {
	cfg := testConfig()
	cfg.Quota.BucketSyncIval = cos.Duration(50 * time.Millisecond)
	s := openStore(t, startCluster(t), cfg)

	bi := mkBucket(t, s, "erin", "synced")
	putBytes(t, s, bi, "a", payload(1000, 1))
	putBytes(t, s, bi, "b", payload(2000, 2))

	pollUntil(t, 10*time.Second, func() bool {
		entries, _, _, err := s.ListUserBuckets("erin", "", 0)
		if err != nil || len(entries) != 1 {
			return false
		}
		return entries[0].Bucket == "synced" && entries[0].Count == 2 && entries[0].Size == 3000
	}, "bucket directory entry never picked up the synced totals")

	st, err := s.GetUserStats("erin")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, st.NumObjects == 2 && st.NumKB == 3, "user stats %+v", st)
}
