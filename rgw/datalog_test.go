/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"errors"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func listAllChanges(t *testing.T, s *rgw.Store) []rgw.DataChange {
	t.Helper()
	var iter rgw.DataLogMarker
	changes, truncated, err := s.ListDataLog(time.Time{}, time.Time{}, &iter, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, !truncated, "unexpected truncation at %d changes", len(changes))
	return changes
}

func changeKey(bi *rgw.BucketInfo) string {
	return bi.Bucket.Name + ":" + bi.Bucket.BucketID
}

func TestDataLogDedupe(t *testing.T) {
	s := newStore(t)
	ba := mkBucket(t, s, "alice", "feed-a")

	// repeat writes inside the window re-register the shard without
	// adding a second record
	putBytes(t, s, ba, "one", payload(100, 1))
	putBytes(t, s, ba, "two", payload(100, 2))

	changes := listAllChanges(t, s)
	tassert.Fatalf(t, len(changes) == 1, "expected 1 change, got %d: %+v", len(changes), changes)
	tassert.Errorf(t, changes[0].Key == changeKey(ba), "change key %q, want %q", changes[0].Key, changeKey(ba))
	tassert.Errorf(t, !changes[0].Timestamp.IsZero(), "zero change timestamp")
	tassert.Errorf(t, changes[0].LogID != "", "empty change log id")

	bb := mkBucket(t, s, "alice", "feed-b")
	putBytes(t, s, bb, "one", payload(100, 3))

	changes = listAllChanges(t, s)
	tassert.Fatalf(t, len(changes) == 2, "expected 2 changes, got %d: %+v", len(changes), changes)
	keys := cos.NewStrSet(changes[0].Key, changes[1].Key)
	tassert.Errorf(t, keys.Contains(changeKey(ba)), "missing change for %s: %v", ba.Bucket.Name, changes)
	tassert.Errorf(t, keys.Contains(changeKey(bb)), "missing change for %s: %v", bb.Bucket.Name, changes)
}

func TestDataLogVersionedWrites(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "vfeed")
	bi := enableVersioning(t, s, "vfeed")

	res := putBytes(t, s, bi, "doc", payload(64, 9))
	tassert.Fatalf(t, res.Instance != "", "versioned put minted no instance")

	changes := listAllChanges(t, s)
	tassert.Fatalf(t, len(changes) == 1, "expected 1 change after versioned put, got %d", len(changes))
	tassert.Errorf(t, changes[0].Key == changeKey(bi), "change key %q, want %q", changes[0].Key, changeKey(bi))

	// marker and unlink dirty the same shard inside the window
	_, err := s.DeleteObj(bi, "doc", nil)
	tassert.CheckFatal(t, err)
	_, err = s.DeleteObj(bi, "doc", &rgw.DeleteObjParams{Instance: res.Instance})
	tassert.CheckFatal(t, err)

	changes = listAllChanges(t, s)
	tassert.Errorf(t, len(changes) == 1, "expected 1 change after deletes, got %d: %+v", len(changes), changes)
}

func TestDataLogTrim(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "trimmed")
	putBytes(t, s, bi, "obj", payload(100, 4))

	hdr, err := s.DataLogInfo(0)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, hdr.Counter == 1, "shard 0 counter %d, want 1", hdr.Counter)
	tassert.Errorf(t, hdr.MaxMarker != "", "empty max marker")

	_, err = s.DataLogInfo(7)
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "out-of-range shard info: %v", err)
	err = s.TrimDataLog(7, time.Time{}, time.Now())
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "out-of-range shard trim: %v", err)

	err = s.TrimDataLog(0, time.Time{}, time.Now().Add(time.Hour))
	tassert.CheckFatal(t, err)
	changes := listAllChanges(t, s)
	tassert.Fatalf(t, len(changes) == 0, "changes survived trim: %+v", changes)
}
