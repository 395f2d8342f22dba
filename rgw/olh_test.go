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

func enableVersioning(t *testing.T, s *rgw.Store, name string) *rgw.BucketInfo {
	t.Helper()
	bi, err := s.SetBucketVersioning(name, true)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bi.VersioningEnabled(), "versioning not enabled: flags %x", bi.Flags)
	return bi
}

func TestVersionedPutGet(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "b1")
	bi := enableVersioning(t, s, "b1")

	bodies := [][]byte{[]byte("v one"), []byte("v two"), []byte("v three")}
	instances := make([]string, len(bodies))
	for i, b := range bodies {
		res, err := s.PutObj(bi, "doc", bytes.NewReader(b), nil)
		tassert.CheckFatal(t, err)
		tassert.Fatalf(t, res.Instance != "", "versioned put %d minted no instance", i)
		instances[i] = res.Instance
	}
	tassert.Errorf(t, instances[0] != instances[1] && instances[1] != instances[2],
		"instances not distinct: %v", instances)

	// the empty instance resolves to the latest
	var buf bytes.Buffer
	info, err := s.GetObj(bi, "doc", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bytes.Equal(buf.Bytes(), bodies[2]), "current read %q", buf.Bytes())
	tassert.Errorf(t, info.Instance == instances[2], "current instance %q, want %q",
		info.Instance, instances[2])

	// each named instance stays addressable
	for i, b := range bodies {
		got := getBytes(t, s, bi, "doc", instances[i])
		tassert.Fatalf(t, bytes.Equal(got, b), "instance %d read %q", i, got)
	}

	// one listing entry per name, pointing at the current version
	res, err := s.ListObjects(bi, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(res.Objects) == 1, "versioned listing %+v", res.Objects)
	tassert.Errorf(t, res.Objects[0].Instance == instances[2], "listed instance %q",
		res.Objects[0].Instance)
}

func TestDeleteMarker(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "b1")
	bi := enableVersioning(t, s, "b1")

	res, err := s.PutObj(bi, "doc", bytes.NewReader([]byte("payload")), nil)
	tassert.CheckFatal(t, err)
	v1 := res.Instance

	del, err := s.DeleteObj(bi, "doc", nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, del.DeleteMarker && del.VersionID != "", "marker result %+v", del)

	// the head reads as gone, the old version stays addressable
	info, err := s.GetObj(bi, "doc", nil, nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get under a delete marker: %v", err)
	tassert.Errorf(t, info != nil && info.DeleteMarker, "marker not surfaced: %+v", info)
	got := getBytes(t, s, bi, "doc", v1)
	tassert.Fatalf(t, string(got) == "payload", "old instance read %q", got)

	lres, err := s.ListObjects(bi, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(lres.Objects) == 0, "marker leaked into the listing: %+v", lres.Objects)

	// removing the marker instance un-deletes
	_, err = s.DeleteObj(bi, "doc", &rgw.DeleteObjParams{Instance: del.VersionID})
	tassert.CheckFatal(t, err)
	var buf bytes.Buffer
	info, err = s.GetObj(bi, "doc", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(buf.Bytes()) == "payload", "read after undelete %q", buf.Bytes())
	tassert.Errorf(t, info.Instance == v1, "head instance %q, want %q", info.Instance, v1)
}

func TestUnlinkCurrentInstance(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "b1")
	bi := enableVersioning(t, s, "b1")

	r1, err := s.PutObj(bi, "doc", bytes.NewReader([]byte("first")), nil)
	tassert.CheckFatal(t, err)
	r2, err := s.PutObj(bi, "doc", bytes.NewReader([]byte("second")), nil)
	tassert.CheckFatal(t, err)

	// deleting the current version repoints the head at its predecessor
	_, err = s.DeleteObj(bi, "doc", &rgw.DeleteObjParams{Instance: r2.Instance})
	tassert.CheckFatal(t, err)
	var buf bytes.Buffer
	info, err := s.GetObj(bi, "doc", &buf, nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(buf.Bytes()) == "first", "head after unlink %q", buf.Bytes())
	tassert.Errorf(t, info.Instance == r1.Instance, "head instance %q, want %q",
		info.Instance, r1.Instance)

	_, err = s.GetObj(bi, "doc", nil, &rgw.GetObjParams{Instance: r2.Instance})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "unlinked instance still readable: %v", err)

	// deleting the last version empties the name
	_, err = s.DeleteObj(bi, "doc", &rgw.DeleteObjParams{Instance: r1.Instance})
	tassert.CheckFatal(t, err)
	_, err = s.GetObj(bi, "doc", nil, nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get after the last unlink: %v", err)
	res, err := s.ListObjects(bi, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(res.Objects) == 0, "listing after the last unlink %+v", res.Objects)
}

func TestSuspendedVersioning(t *testing.T) {
	s := newStore(t)
	mkBucket(t, s, "alice", "b1")
	bi := enableVersioning(t, s, "b1")

	r1, err := s.PutObj(bi, "doc", bytes.NewReader([]byte("kept version")), nil)
	tassert.CheckFatal(t, err)

	bi, err = s.SetBucketVersioning("b1", false)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, bi.Versioned() && !bi.VersioningEnabled(),
		"suspend must keep the versioned flag: %x", bi.Flags)

	// suspended writes land on the null instance and do not stack up
	res, err := s.PutObj(bi, "doc", bytes.NewReader([]byte("null one")), nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, res.Instance == "", "suspended put minted instance %q", res.Instance)
	got := getBytes(t, s, bi, "doc", "")
	tassert.Fatalf(t, string(got) == "null one", "head read %q", got)
	got = getBytes(t, s, bi, "doc", r1.Instance)
	tassert.Fatalf(t, string(got) == "kept version", "pre-suspend instance read %q", got)

	// a suspended delete places the null marker
	del, err := s.DeleteObj(bi, "doc", nil)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, del.DeleteMarker && del.VersionID == "null", "suspended marker %+v", del)
	_, err = s.GetObj(bi, "doc", nil, nil)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "get under the null marker: %v", err)
	got = getBytes(t, s, bi, "doc", r1.Instance)
	tassert.Fatalf(t, string(got) == "kept version", "old instance after marker %q", got)
}
