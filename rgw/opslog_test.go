/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestOpsLogRoundTrip(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "ops")

	// one fixed hour keeps all three on one rotating log object
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	ops := []rgw.OpsLogEntry{
		{Time: t0, Owner: "alice", Op: "PUT", Status: "200", BytesReceived: 512, TotalTime: 12},
		{Time: t0.Add(time.Minute), Owner: "alice", Op: "GET", Status: "200", Object: "pic.jpg", BytesSent: 512},
		{Time: t0.Add(2 * time.Minute), Owner: "mallory", Op: "GET", Status: "403"},
	}
	for i := range ops {
		tassert.CheckFatal(t, s.LogOp(bi, &ops[i]))
	}

	obj := s.LogObjectName(bi, t0)
	entries, _, truncated, err := s.ListOpsLog(obj, time.Time{}, time.Time{}, "", 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 3 && !truncated, "listed %d entries, truncated %v", len(entries), truncated)
	for i := range entries {
		e, want := &entries[i], &ops[i]
		tassert.Errorf(t, e.Time.Equal(want.Time), "entry %d time %v != %v", i, e.Time, want.Time)
		tassert.Errorf(t, e.Owner == want.Owner && e.Op == want.Op && e.Status == want.Status,
			"entry %d: %+v", i, e)
		tassert.Errorf(t, e.Bucket == "ops", "entry %d bucket %q", i, e.Bucket)
		tassert.Errorf(t, e.BytesSent == want.BytesSent && e.BytesReceived == want.BytesReceived &&
			e.TotalTime == want.TotalTime && e.Object == want.Object, "entry %d payload: %+v", i, e)
	}

	// [from, to) selects the middle entry only
	entries, _, _, err = s.ListOpsLog(obj, t0.Add(30*time.Second), t0.Add(90*time.Second), "", 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 1 && entries[0].Op == "GET" && entries[0].Object == "pic.jpg",
		"bounded list: %+v", entries)

	// paging
	entries, marker, truncated, err := s.ListOpsLog(obj, time.Time{}, time.Time{}, "", 2)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 2 && truncated, "page 1: %d entries, truncated %v", len(entries), truncated)
	entries, _, truncated, err = s.ListOpsLog(obj, time.Time{}, time.Time{}, marker, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 1 && !truncated, "page 2: %d entries", len(entries))
	tassert.Errorf(t, entries[0].Owner == "mallory", "page 2 entry: %+v", entries[0])

	// an ops-log object that never saw a write lists empty
	entries, _, _, err = s.ListOpsLog("no-such-log", time.Time{}, time.Time{}, "", 0)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(entries) == 0, "phantom log had %d entries", len(entries))
}

func TestLogObjectName(t *testing.T) {
	cfg := testConfig()
	cfg.OpsLog.ObjectName = "ops.%y.%m.%%.%k.%l.%I.%M.%n"
	s := openStore(t, startCluster(t), cfg)
	bi := mkBucket(t, s, "alice", "named")

	at := time.Date(2026, 12, 31, 13, 5, 0, 0, time.Local)
	got := s.LogObjectName(bi, at)
	tassert.Fatalf(t, got == "ops.26.12.%.13.1.01.05.named", "rendered %q", got)
}

func TestLogObjectNameDefault(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "defaults")

	at := time.Date(2026, 1, 5, 7, 42, 0, 0, time.Local)
	want := fmt.Sprintf("2026-01-05-07-%s-defaults", bi.Bucket.BucketID)
	tassert.Fatalf(t, s.LogObjectName(bi, at) == want, "rendered %q, want %q", s.LogObjectName(bi, at), want)
}
