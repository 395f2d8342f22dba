/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw_test

import (
	"testing"

	"github.com/NVIDIA/radstore/rgw"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func listNames(res *rgw.ListObjectsResult) (names []string) {
	for i := range res.Objects {
		names = append(names, res.Objects[i].Name)
	}
	return
}

func strsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListObjects(t *testing.T) {
	s := newStore(t)
	bi, err := s.CreateBucket("alice", "b1", &rgw.BucketOptions{NumShards: 4})
	tassert.CheckFatal(t, err)

	names := []string{
		"docs/readme", "docs/spec",
		"photos/2025/a.jpg", "photos/2025/b.jpg", "photos/c.jpg",
		"top", "zebra",
	}
	for _, name := range names {
		putBytes(t, s, bi, name, []byte(name))
	}

	res, err := s.ListObjects(bi, &rgw.ListObjectsParams{})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, strsEqual(listNames(res), names), "full listing %v", listNames(res))
	tassert.Errorf(t, !res.Truncated && res.NextMarker == "", "spurious truncation: %+v", res)
	for i := range res.Objects {
		o := &res.Objects[i]
		tassert.Errorf(t, o.Owner == "alice" && o.Size == uint64(len(o.Name)),
			"entry %s: owner %q size %d", o.Name, o.Owner, o.Size)
	}
}

func TestListPagination(t *testing.T) {
	s := newStore(t)
	bi, err := s.CreateBucket("alice", "b1", &rgw.BucketOptions{NumShards: 3})
	tassert.CheckFatal(t, err)

	want := make([]string, 0, 10)
	for c := byte('a'); c < 'a'+10; c++ {
		name := "k-" + string(c)
		putBytes(t, s, bi, name, []byte{c})
		want = append(want, name)
	}

	var (
		got    []string
		marker string
	)
	for page := 0; ; page++ {
		tassert.Fatalf(t, page < 10, "pagination did not terminate")
		res, err := s.ListObjects(bi, &rgw.ListObjectsParams{Marker: marker, Max: 3})
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, len(res.Objects) <= 3, "page over max: %d", len(res.Objects))
		got = append(got, listNames(res)...)
		if !res.Truncated {
			break
		}
		marker = res.NextMarker
	}
	tassert.Fatalf(t, strsEqual(got, want), "paged listing %v", got)
}

func TestListPrefixDelimiter(t *testing.T) {
	s := newStore(t)
	bi := mkBucket(t, s, "alice", "b1")
	for _, name := range []string{
		"docs/readme", "docs/spec",
		"photos/2025/a.jpg", "photos/2025/b.jpg", "photos/c.jpg",
		"top",
	} {
		putBytes(t, s, bi, name, []byte("x"))
	}

	res, err := s.ListObjects(bi, &rgw.ListObjectsParams{Prefix: "docs/"})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, strsEqual(listNames(res), []string{"docs/readme", "docs/spec"}),
		"prefix listing %v", listNames(res))

	res, err = s.ListObjects(bi, &rgw.ListObjectsParams{Delimiter: "/"})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, strsEqual(res.CommonPrefixes, []string{"docs/", "photos/"}),
		"common prefixes %v", res.CommonPrefixes)
	tassert.Fatalf(t, strsEqual(listNames(res), []string{"top"}), "rolled-up listing %v", listNames(res))

	res, err = s.ListObjects(bi, &rgw.ListObjectsParams{Prefix: "photos/", Delimiter: "/"})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, strsEqual(res.CommonPrefixes, []string{"photos/2025/"}),
		"nested prefixes %v", res.CommonPrefixes)
	tassert.Fatalf(t, strsEqual(listNames(res), []string{"photos/c.jpg"}),
		"nested listing %v", listNames(res))
}
