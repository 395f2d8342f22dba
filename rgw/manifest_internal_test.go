/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"strings"
	"testing"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/tools/tassert"
)

type stripeLoc struct {
	oid  string
	ofs  int64
	size int64
}

func collectStripes(m *Manifest) (locs []stripeLoc) {
	for it := m.ObjBegin(); !it.End(); it.Next() {
		_, oid := it.Loc()
		locs = append(locs, stripeLoc{oid: oid, ofs: it.StripeOfs(), size: it.StripeSize()})
	}
	return locs
}

// genManifest replays the putter's frontier walk for a finished object.
func genManifest(t *testing.T, marker, head string, size, maxHead, stripe int64) *Manifest {
	t.Helper()
	m := &Manifest{}
	m.SetTrivialRule(maxHead, stripe)
	var g ManifestGen
	g.CreateBegin(m, marker, head, "data")
	for ofs := maxHead; ofs < size; ofs += stripe {
		tassert.CheckFatal(t, g.CreateNext(ofs))
	}
	tassert.CheckFatal(t, g.CreateNext(size))
	return m
}

func TestManifestGenLayout(t *testing.T) {
	m := genManifest(t, "0xmark", "head.oid", 10000, 4096, 4096)
	tassert.Fatalf(t, m.ObjSize == 10000 && m.HeadSize == 4096, "size %d head %d", m.ObjSize, m.HeadSize)
	tassert.Fatalf(t, strings.HasPrefix(m.Prefix, "0xmark"+shadowNs+"."), "tail prefix %q off the shadow namespace", m.Prefix)
	tassert.Fatalf(t, strings.HasSuffix(m.Prefix, "_"), "tail prefix %q missing separator", m.Prefix)

	locs := collectStripes(m)
	want := []stripeLoc{
		{oid: "head.oid", ofs: 0, size: 4096},
		{oid: m.Prefix + "1", ofs: 4096, size: 4096},
		{oid: m.Prefix + "2", ofs: 8192, size: 1808},
	}
	tassert.Fatalf(t, len(locs) == len(want), "got %d stripes, want %d: %+v", len(locs), len(want), locs)
	for i := range want {
		tassert.Errorf(t, locs[i] == want[i], "stripe %d: got %+v want %+v", i, locs[i], want[i])
	}
	pool, _ := m.ObjBegin().Loc()
	tassert.Errorf(t, pool == "data", "stripe pool %q", pool)
}

func TestManifestHeadOnly(t *testing.T) {
	m := genManifest(t, "0xmark", "head.oid", 300, 4096, 4096)
	tassert.Fatalf(t, m.ObjSize == 300 && m.HeadSize == 300, "size %d head %d", m.ObjSize, m.HeadSize)
	locs := collectStripes(m)
	tassert.Fatalf(t, len(locs) == 1, "got %d stripes, want the head only", len(locs))
	tassert.Errorf(t, locs[0] == (stripeLoc{oid: "head.oid", size: 300}), "head stripe %+v", locs[0])
}

func TestManifestObjFind(t *testing.T) {
	m := genManifest(t, "0xmark", "head.oid", 10000, 4096, 4096)

	it := m.ObjFind(9000)
	_, oid := it.Loc()
	tassert.Errorf(t, oid == m.Prefix+"2", "ofs 9000 in %q", oid)
	tassert.Errorf(t, it.LocOfs() == 808, "loc ofs %d, want 808", it.LocOfs())
	tassert.Errorf(t, it.StripeLeft() == 1000, "stripe left %d, want 1000", it.StripeLeft())

	// the head region reads at the logical offset
	it = m.ObjFind(100)
	_, oid = it.Loc()
	tassert.Errorf(t, oid == "head.oid" && it.LocOfs() == 100, "ofs 100: %q at %d", oid, it.LocOfs())
	tassert.Errorf(t, it.StripeLeft() == 3996, "stripe left %d, want 3996", it.StripeLeft())

	it = m.ObjFind(4096)
	_, oid = it.Loc()
	tassert.Errorf(t, oid == m.Prefix+"1" && it.LocOfs() == 0, "first tail byte: %q at %d", oid, it.LocOfs())

	tassert.Errorf(t, m.ObjFind(10000).End(), "iterator live past the object size")

	var g ManifestGen
	g.CreateBegin(m, "0xmark", "head.oid", "data")
	tassert.CheckFatal(t, g.CreateNext(10000))
	tassert.Errorf(t, g.CreateNext(9999) != nil, "frontier moved backwards")
}

// Two part streams with matching geometry and consecutive numbering
// merge into the existing rule; the trailing arithmetic covers them.
func TestManifestAppendParts(t *testing.T) {
	part := func(num uint32) *Manifest {
		return &Manifest{
			Rules:   map[int64]ManifestRule{0: {PartSize: 8192, StripeMaxSize: 4096, StartPartNum: num}},
			ObjSize: 8192, HeadObj: "mp.head", TailPool: "data", Prefix: "p_",
		}
	}
	m := part(1)
	tassert.CheckFatal(t, m.Append(part(2)))
	tassert.Fatalf(t, m.ObjSize == 16384, "merged size %d", m.ObjSize)
	tassert.Fatalf(t, len(m.Rules) == 1, "compatible append grew the rule set: %+v", m.Rules)

	locs := collectStripes(m)
	wantOids := []string{"p_.1", "p_.1_1", "p_.2", "p_.2_1"}
	tassert.Fatalf(t, len(locs) == len(wantOids), "got %d stripes: %+v", len(locs), locs)
	for i, w := range wantOids {
		tassert.Errorf(t, locs[i].oid == w && locs[i].size == 4096, "stripe %d: %+v, want %q", i, locs[i], w)
	}

	// mismatched geometry appends a fresh rule under an override prefix
	other := &Manifest{
		Rules:   map[int64]ManifestRule{0: {PartSize: 4096, StripeMaxSize: 2048, StartPartNum: 1}},
		ObjSize: 4096, HeadObj: "mp.head", TailPool: "data", Prefix: "q_",
	}
	tassert.CheckFatal(t, m.Append(other))
	tassert.Fatalf(t, m.ObjSize == 20480, "merged size %d", m.ObjSize)
	tassert.Fatalf(t, len(m.Rules) == 2, "incompatible append did not add a rule: %+v", m.Rules)
	locs = collectStripes(m)
	tassert.Fatalf(t, len(locs) == 6, "got %d stripes: %+v", len(locs), locs)
	tassert.Errorf(t, locs[4].oid == "q_.1" && locs[5].oid == "q_.1_1",
		"override stripes %+v", locs[4:])
}

// An explicit-objs operand degrades the whole manifest to the literal
// offset map.
func TestManifestAppendExplicit(t *testing.T) {
	m := genManifest(t, "0xmark", "head.oid", 10000, 4096, 4096)
	other := &Manifest{
		Objs:    map[int64]ManifestObj{0: {Pool: "cold", Oid: "x0", Size: 500}},
		ObjSize: 500,
	}
	tassert.CheckFatal(t, m.Append(other))
	tassert.Fatalf(t, m.HasExplicitObjs(), "append kept the rule form")
	tassert.Fatalf(t, m.ObjSize == 10500, "merged size %d", m.ObjSize)

	locs := collectStripes(m)
	tassert.Fatalf(t, len(locs) == 4, "got %d stripes: %+v", len(locs), locs)
	tassert.Errorf(t, locs[3] == (stripeLoc{oid: "x0", ofs: 10000, size: 500}), "appended stripe %+v", locs[3])
	it := m.ObjFind(10000)
	pool, _ := it.Loc()
	tassert.Errorf(t, pool == "cold", "explicit stripe pool %q", pool)
}

func TestManifestCodec(t *testing.T) {
	m := genManifest(t, "0xmark", "head.oid", 10000, 4096, 4096)
	b := cos.PackBytes(m)
	tassert.Fatalf(t, len(b) == m.PackedSize(), "packed %d bytes, sized %d", len(b), m.PackedSize())

	var back Manifest
	tassert.CheckFatal(t, cos.UnpackBytes(b, &back))
	tassert.Errorf(t, back.ObjSize == m.ObjSize && back.HeadSize == m.HeadSize &&
		back.MaxHeadSize == m.MaxHeadSize && back.HeadObj == m.HeadObj &&
		back.TailPool == m.TailPool && back.Prefix == m.Prefix,
		"decoded header differs: %+v vs %+v", back, m)
	a, bb := collectStripes(m), collectStripes(&back)
	tassert.Fatalf(t, len(a) == len(bb), "stripe count changed in decode: %d vs %d", len(a), len(bb))
	for i := range a {
		tassert.Errorf(t, a[i] == bb[i], "stripe %d changed in decode: %+v vs %+v", i, a[i], bb[i])
	}

	// legacy explicit form round-trips through its own version
	tassert.CheckFatal(t, m.Append(&Manifest{
		Objs: map[int64]ManifestObj{0: {Oid: "x0", Size: 500}}, ObjSize: 500,
	}))
	b = cos.PackBytes(m)
	tassert.Fatalf(t, len(b) == m.PackedSize(), "explicit packed %d bytes, sized %d", len(b), m.PackedSize())
	back = Manifest{}
	tassert.CheckFatal(t, cos.UnpackBytes(b, &back))
	tassert.Fatalf(t, back.HasExplicitObjs(), "explicit form decoded as rules")
	a, bb = collectStripes(m), collectStripes(&back)
	tassert.Fatalf(t, len(a) == len(bb) && len(a) == 4, "explicit stripes: %d vs %d", len(a), len(bb))
	for i := range a {
		tassert.Errorf(t, a[i] == bb[i], "explicit stripe %d: %+v vs %+v", i, a[i], bb[i])
	}

	var bad Manifest
	b[0] = 99
	err := cos.UnpackBytes(b, &bad)
	tassert.Fatalf(t, err != nil, "unknown manifest version decoded")
}
