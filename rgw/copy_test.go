/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"bytes"
	"testing"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestCopyObjAcrossBuckets(t *testing.T) {
	s := newStore(t)
	src := mkBucket(t, s, "alice", "copy-src")
	dst := mkBucket(t, s, "alice", "copy-dst")

	body := payload(300, 7)
	_, err := s.PutObj(src, "doc", bytes.NewReader(body), &rgw.PutObjParams{
		ContentType: "text/plain",
		Attrs:       map[string][]byte{"user.rgw.x-amz-meta-color": []byte("blue")},
	})
	tassert.CheckFatal(t, err)

	res, err := s.CopyObj(src, "doc", dst, "doc-copy", nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res.Etag == md5hex(body), "copy etag %q, want %q", res.Etag, md5hex(body))
	tassert.Errorf(t, res.Size == int64(len(body)), "copy size %d, want %d", res.Size, len(body))

	var buf bytes.Buffer
	info, err := s.GetObj(dst, "doc-copy", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bytes.Equal(buf.Bytes(), body), "copied body differs")
	tassert.Errorf(t, info.ContentType == "text/plain", "content type %q not inherited", info.ContentType)
	tassert.Errorf(t, string(info.Attrs["user.rgw.x-amz-meta-color"]) == "blue",
		"user attr not inherited: %q", info.Attrs["user.rgw.x-amz-meta-color"])

	_, err = s.CopyObj(src, "missing", dst, "x", nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "copy of a missing source: %v", err)
}

// Copying an object onto itself replaces the caller-owned attrs and
// leaves the data, etag, and index entry size untouched.
func TestCopyRewriteMeta(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "rewrite")

	body := payload(200, 9)
	_, err := s.PutObj(bi, "doc", bytes.NewReader(body), &rgw.PutObjParams{
		ContentType: "text/plain",
		Attrs:       map[string][]byte{"user.rgw.x-amz-meta-color": []byte("blue")},
	})
	tassert.CheckFatal(t, err)

	res, err := s.CopyObj(bi, "doc", bi, "doc", &rgw.CopyObjParams{
		ContentType: "application/json",
		Attrs:       map[string][]byte{"user.rgw.x-amz-meta-mood": []byte("sunny")},
	})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res.Etag == md5hex(body), "rewrite changed the etag: %q", res.Etag)
	tassert.Errorf(t, res.Size == int64(len(body)), "rewrite size %d, want %d", res.Size, len(body))

	var buf bytes.Buffer
	info, err := s.GetObj(bi, "doc", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bytes.Equal(buf.Bytes(), body), "rewrite touched the body")
	tassert.Errorf(t, info.Etag == md5hex(body), "head etag lost in rewrite: %q", info.Etag)
	tassert.Errorf(t, info.ContentType == "application/json", "content type %q, want application/json", info.ContentType)
	tassert.Errorf(t, string(info.Attrs["user.rgw.x-amz-meta-mood"]) == "sunny", "new attr missing")
	_, old := info.Attrs["user.rgw.x-amz-meta-color"]
	tassert.Errorf(t, !old, "replaced attr survived the rewrite")
}

// A striped source is cloned by reference: the clone gets its own head,
// the tail stripes stay shared until the last owner is deleted.
func TestCopyStripedSharesTail(t *testing.T) {
	c := startCluster(t)
	cfg := testConfig()
	s := openStore(t, c, cfg)
	bi := mkBucket(t, s, "alice", "shared")

	body := payload(12*cos.KiB, 11)
	putBytes(t, s, bi, "big", body)
	tassert.Fatalf(t, countDataObjs(t, c, cfg.DataPool) == 3,
		"expected head + 2 tail stripes, got %d objects", countDataObjs(t, c, cfg.DataPool))

	res, err := s.CopyObj(bi, "big", bi, "big-copy", nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res.Etag == md5hex(body), "clone etag %q, want %q", res.Etag, md5hex(body))
	tassert.Errorf(t, countDataObjs(t, c, cfg.DataPool) == 4,
		"expected a single new head after clone, got %d objects", countDataObjs(t, c, cfg.DataPool))

	// dropping the source leaves the clone fully readable
	_, err = s.DeleteObj(bi, "big", nil)
	tassert.CheckFatal(t, err)
	removed, err := s.ProcessGC()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, removed == 1, "reaped %d chains, want 1", removed)
	tassert.Errorf(t, countDataObjs(t, c, cfg.DataPool) == 3,
		"shared stripes reclaimed under the clone: %d objects", countDataObjs(t, c, cfg.DataPool))
	got := getBytes(t, s, bi, "big-copy", "")
	tassert.Fatalf(t, bytes.Equal(got, body), "clone unreadable after source delete")

	// the clone's delete drops the last reference
	_, err = s.DeleteObj(bi, "big-copy", nil)
	tassert.CheckFatal(t, err)
	removed, err = s.ProcessGC()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, removed == 1, "reaped %d chains, want 1", removed)
	tassert.Errorf(t, countDataObjs(t, c, cfg.DataPool) == 0,
		"stripes leaked: %d objects", countDataObjs(t, c, cfg.DataPool))
}

func TestCopyVersioned(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "vsrc")
	src := enableVersioning(t, s, "vsrc")
	mkBucket(t, s, "alice", "vdst")
	dst := enableVersioning(t, s, "vdst")

	r1, err := s.PutObj(src, "doc", bytes.NewReader([]byte("first")), nil)
	tassert.CheckFatal(t, err)
	_, err = s.PutObj(src, "doc", bytes.NewReader([]byte("second")), nil)
	tassert.CheckFatal(t, err)

	// no SrcInstance: the copy follows the olh to the latest version
	res, err := s.CopyObj(src, "doc", dst, "doc", nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, res.Instance != "", "versioned copy minted no instance")
	tassert.Fatalf(t, string(getBytes(t, s, dst, "doc", "")) == "second", "latest version not copied")

	// an explicit source version pins the older body
	res2, err := s.CopyObj(src, "doc", dst, "doc", &rgw.CopyObjParams{SrcInstance: r1.Instance})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, res2.Instance != "" && res2.Instance != res.Instance, "instance not reminted: %q", res2.Instance)
	tassert.Fatalf(t, string(getBytes(t, s, dst, "doc", "")) == "first", "pinned version not current")

	// same-name copy in a versioned bucket stacks a new version instead
	// of rewriting in place
	res3, err := s.CopyObj(dst, "doc", dst, "doc", nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res3.Instance != "" && res3.Instance != res2.Instance, "in-place rewrite in a versioned bucket")
	tassert.Fatalf(t, string(getBytes(t, s, dst, "doc", "")) == "first", "stacked copy changed the body")
}
