// Package rgw_test: gateway integration tests against the embedded cluster
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func startCluster(t *testing.T) *rados.Cluster {
	t.Helper()
	c, err := rados.New(rados.Config{})
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// testConfig shrinks the striping knobs so a few KiB exercise the
// manifest paths, and arms gc with a zero ripening delay.
func testConfig() *rgw.Config {
	return &rgw.Config{
		MaxChunkSize:  4 * cos.KiB,
		ObjStripeSize: 4 * cos.KiB,
		PutMinWindow:  8 * cos.KiB,
		DataLog:       rgw.DataLogConf{Shards: 1, Window: cos.Duration(time.Hour)},
		GC:            rgw.GCConf{Shards: 2, MinWait: cos.Duration(time.Nanosecond)},
	}
}

func openStore(t *testing.T, c *rados.Cluster, cfg *rgw.Config) *rgw.Store {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := rgw.Open(c, cfg)
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newStore(t *testing.T) *rgw.Store {
	t.Helper()
	return openStore(t, startCluster(t), nil)
}

func mkBucket(t *testing.T, s *rgw.Store, owner, name string) *rgw.BucketInfo {
	t.Helper()
	bi, err := s.CreateBucket(owner, name, nil)
	tassert.CheckFatal(t, err)
	return bi
}

func putBytes(t *testing.T, s *rgw.Store, bi *rgw.BucketInfo, name string, b []byte) *rgw.PutResult {
	t.Helper()
	res, err := s.PutObj(bi, name, bytes.NewReader(b), nil)
	tassert.CheckFatal(t, err)
	return res
}

func getBytes(t *testing.T, s *rgw.Store, bi *rgw.BucketInfo, name, instance string) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := s.GetObj(bi, name, &buf, &rgw.GetObjParams{Instance: instance})
	tassert.CheckFatal(t, err)
	return buf.Bytes()
}

// payload is deterministic so reads can be compared byte for byte.
func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*31)
	}
	return b
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	tassert.Fatalf(t, false, format, args...)
}

func TestBucketLifecycle(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "photos")
	tassert.Errorf(t, bi.Bucket.Marker != "" && bi.Bucket.BucketID == bi.Bucket.Marker,
		"fresh bucket: marker %q, id %q", bi.Bucket.Marker, bi.Bucket.BucketID)
	tassert.Errorf(t, bi.Owner == "alice", "owner %q", bi.Owner)

	_, err := s.CreateBucket("bob", "photos", nil)
	tassert.Fatalf(t, errors.Is(err, rgw.ErrBucketExists), "duplicate create: %v", err)

	got, err := s.GetBucketInfo("photos")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, got.Bucket.BucketID == bi.Bucket.BucketID, "lookup id %q, want %q",
		got.Bucket.BucketID, bi.Bucket.BucketID)

	ents, _, _, err := s.ListUserBuckets("alice", "", 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(ents) == 1 && ents[0].Bucket == "photos", "user dir %+v", ents)

	tassert.CheckFatal(t, s.DeleteBucket("photos"))
	_, err = s.GetBucketInfo("photos")
	tassert.Fatalf(t, errors.Is(err, rgw.ErrNoSuchBucket), "lookup after delete: %v", err)
	ents, _, _, err = s.ListUserBuckets("alice", "", 0)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(ents) == 0, "user dir after delete %+v", ents)
}

func TestBucketDeleteNonEmpty(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "b1")
	putBytes(t, s, bi, "keep", []byte("x"))

	err := s.DeleteBucket("b1")
	tassert.Fatalf(t, errors.Is(err, cos.ErrNotEmpty), "delete of a non-empty bucket: %v", err)

	_, err = s.DeleteObj(bi, "keep", nil)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, s.DeleteBucket("b1"))
}

func TestBucketLinkUnlink(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "b1")

	tassert.CheckFatal(t, s.UnlinkBucket("alice", "b1"))
	ents, _, _, err := s.ListUserBuckets("alice", "", 0)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(ents) == 0, "after unlink %+v", ents)

	tassert.CheckFatal(t, s.LinkBucket("bob", bi))
	ents, _, _, err = s.ListUserBuckets("bob", "", 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(ents) == 1 && ents[0].Bucket == "b1", "new owner dir %+v", ents)
	got, err := s.GetBucketInfo("b1")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, got.Owner == "bob", "owner after link %q", got.Owner)
}

func TestObjRoundTrip(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "b1")
	body := []byte("hello rgw")

	res, err := s.PutObj(bi, "greeting", bytes.NewReader(body), &rgw.PutObjParams{
		ContentType: "text/plain",
		Attrs:       map[string][]byte{"user.rgw.x-amz-meta-color": []byte("blue")},
	})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res.Etag == md5hex(body), "etag %q", res.Etag)
	tassert.Errorf(t, res.Size == int64(len(body)), "size %d", res.Size)
	tassert.Errorf(t, !res.Raced, "put reported a race")

	var buf bytes.Buffer
	info, err := s.GetObj(bi, "greeting", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bytes.Equal(buf.Bytes(), body), "read back %q", buf.Bytes())
	tassert.Errorf(t, info.Etag == res.Etag, "info etag %q", info.Etag)
	tassert.Errorf(t, info.ContentType == "text/plain", "content type %q", info.ContentType)
	tassert.Errorf(t, string(info.Attrs["user.rgw.x-amz-meta-color"]) == "blue",
		"user attrs %+v", info.Attrs)

	stat, err := s.StatObj(bi, "greeting", nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, stat.Size == int64(len(body)), "stat size %d", stat.Size)

	_, err = s.GetObj(bi, "nope", nil, nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get of a missing object: %v", err)
	_, err = s.DeleteObj(bi, "nope", nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "delete of a missing object: %v", err)

	_, err = s.DeleteObj(bi, "greeting", nil)
	tassert.CheckFatal(t, err)
	_, err = s.GetObj(bi, "greeting", nil, nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get after delete: %v", err)
}

func TestStripedObject(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "b1")

	// 18 KiB over a 4 KiB head and 4 KiB stripes: head + 4 tails
	body := payload(18*cos.KiB, 1)
	res := putBytes(t, s, bi, "big", body)
	tassert.Errorf(t, res.Etag == md5hex(body), "etag %q", res.Etag)

	got := getBytes(t, s, bi, "big", "")
	tassert.Fatalf(t, bytes.Equal(got, body), "striped read: %d bytes, want %d", len(got), len(body))

	info, err := s.StatObj(bi, "big", nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, info.Size == int64(len(body)), "manifest size %d", info.Size)
	_, ok := info.Attrs["user.rgw.manifest"]
	tassert.Errorf(t, !ok, "manifest attr leaked into user attrs")

	// overwrite with a shorter body; the old tail chain goes to gc
	body2 := payload(5*cos.KiB, 2)
	putBytes(t, s, bi, "big", body2)
	got = getBytes(t, s, bi, "big", "")
	tassert.Fatalf(t, bytes.Equal(got, body2), "read after overwrite: %d bytes", len(got))

	_, err = s.DeleteObj(bi, "big", nil)
	tassert.CheckFatal(t, err)
	_, err = s.StatObj(bi, "big", nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "stat after delete: %v", err)
}

func TestBucketStatsAndIndexCheck(t *testing.T) {
	s := newStore(t)
	bi, err := s.CreateBucket("alice", "b1", &rgw.BucketOptions{NumShards: 4})
	tassert.CheckFatal(t, err)

	var total int64
	for i, n := range []int{100, 3 * cos.KiB, 10 * cos.KiB} {
		b := payload(n, byte(i))
		putBytes(t, s, bi, "obj-"+string(rune('a'+i)), b)
		total += int64(n)
	}

	stats, err := s.GetBucketStats(bi)
	tassert.CheckFatal(t, err)
	main := stats[clsrgw.CatMain]
	tassert.Errorf(t, main.NumEntries == 3, "index entries %d", main.NumEntries)
	tassert.Errorf(t, main.TotalSize == uint64(total), "index bytes %d, want %d", main.TotalSize, total)

	replies, err := s.CheckBucketIndex(bi)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(replies) == 4, "check replies %d", len(replies))
	for i := range replies {
		r := &replies[i]
		for cat, ex := range r.Existing.Stats {
			calc := r.Calculated.Stats[cat]
			tassert.Errorf(t, ex == calc, "shard %d category %d: existing %+v calculated %+v",
				i, cat, ex, calc)
		}
	}
	tassert.CheckFatal(t, s.RebuildBucketIndex(bi))
	stats, err = s.GetBucketStats(bi)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, stats[clsrgw.CatMain] == main, "stats changed across rebuild: %+v vs %+v",
		stats[clsrgw.CatMain], main)
}

func TestSystemObj(t *testing.T) {
	s := newStore(t)
	attrs := map[string][]byte{"user.rgw.acl": []byte("private")}
	tassert.CheckFatal(t, s.PutSystemObj(".rgw.root", "zone_info", []byte(`{"name":"default"}`), attrs, true))

	err := s.PutSystemObj(".rgw.root", "zone_info", []byte("other"), nil, true)
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "exclusive re-create: %v", err)

	b, err := s.GetSystemObj(".rgw.root", "zone_info")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == `{"name":"default"}`, "read back %q", b)

	// non-exclusive overwrite
	tassert.CheckFatal(t, s.PutSystemObj(".rgw.root", "zone_info", []byte("v2"), nil, false))
	b, err = s.GetSystemObj(".rgw.root", "zone_info")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == "v2", "after overwrite %q", b)
}
