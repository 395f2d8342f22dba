/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"testing"

	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestStriperMapExtents(t *testing.T) {
	// default layout: one contiguous run per object
	st := striper{unit: 4096, count: 1, objSize: 4096}
	exts := st.mapExtents(1000, 6000)
	want := []objExtent{
		{objNo: 0, off: 1000, length: 3096, bufOff: 0},
		{objNo: 1, off: 0, length: 2904, bufOff: 3096},
	}
	tassert.Fatalf(t, len(exts) == len(want), "extents: %+v", exts)
	for i := range want {
		tassert.Errorf(t, exts[i] == want[i], "extent %d: %+v != %+v", i, exts[i], want[i])
	}

	// units merge when they are contiguous within the object
	st = striper{unit: 1024, count: 1, objSize: 4096}
	exts = st.mapExtents(0, 4096)
	tassert.Fatalf(t, len(exts) == 1, "merged extents: %+v", exts)
	tassert.Fatalf(t, exts[0] == (objExtent{objNo: 0, off: 0, length: 4096}), "merged: %+v", exts[0])

	// striping v2 round-robins units across the set
	st = striper{unit: 1024, count: 2, objSize: 4096}
	exts = st.mapExtents(0, 3*1024)
	want = []objExtent{
		{objNo: 0, off: 0, length: 1024, bufOff: 0},
		{objNo: 1, off: 0, length: 1024, bufOff: 1024},
		{objNo: 0, off: 1024, length: 1024, bufOff: 2048},
	}
	tassert.Fatalf(t, len(exts) == len(want), "striped extents: %+v", exts)
	for i := range want {
		tassert.Errorf(t, exts[i] == want[i], "striped extent %d: %+v != %+v", i, exts[i], want[i])
	}
}

func TestStriperLogicalOfs(t *testing.T) {
	// logicalOfs inverts mapExtents for every byte of a small range
	st := striper{unit: 1024, count: 3, objSize: 4096}
	for ofs := uint64(0); ofs < 3*4096; ofs += 511 {
		exts := st.mapExtents(ofs, 1)
		tassert.Fatalf(t, len(exts) == 1, "ofs %d: %+v", ofs, exts)
		back := st.logicalOfs(exts[0].objNo, exts[0].off)
		tassert.Errorf(t, back == ofs, "ofs %d maps to obj %d+%d, back to %d",
			ofs, exts[0].objNo, exts[0].off, back)
	}
}

func TestStriperObjectCount(t *testing.T) {
	tests := []struct {
		st   striper
		size uint64
		want uint64
	}{
		{striper{4096, 1, 4096}, 0, 0},
		{striper{4096, 1, 4096}, 1, 1},
		{striper{4096, 1, 4096}, 4096, 1},
		{striper{4096, 1, 4096}, 4097, 2},
		{striper{1024, 2, 4096}, 5 * 1024, 2},
		{striper{1024, 2, 4096}, 8 * 1024, 2},
		{striper{1024, 2, 4096}, 9 * 1024, 3},
		{striper{1024, 2, 4096}, 16 * 1024, 4},
	}
	for _, tc := range tests {
		got := tc.st.objectCount(tc.size)
		tassert.Errorf(t, got == tc.want, "%+v size %d: got %d, want %d", tc.st, tc.size, got, tc.want)
	}
}

func TestStriperObjectTrim(t *testing.T) {
	st := striper{unit: 1024, count: 2, objSize: 4096}
	tests := []struct {
		objNo uint64
		size  uint64
		want  uint64
	}{
		{0, 0, 0},
		{0, 5 * 1024, 3 * 1024}, // units 0, 2, 4 land in object 0
		{1, 5 * 1024, 2 * 1024}, // units 1, 3
		{1, 3500, 1024 + 428},   // unit 3 starts at logical 3072
		{0, 16 * 1024, 4096},
	}
	for _, tc := range tests {
		got := st.objectTrim(tc.objNo, tc.size)
		tassert.Errorf(t, got == tc.want, "obj %d size %d: got %d, want %d", tc.objNo, tc.size, got, tc.want)
	}
}
