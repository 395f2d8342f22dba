// Package pglog: internal unit tests for log reconciliation
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"slices"
	"sort"
	"testing"

	"github.com/NVIDIA/radstore/tools/tassert"
)

// reconcileCase drives one divergence scenario through both sides of
// peering: the stale replica merging the authoritative log, and the
// primary processing the stale replica's log. base is shared history;
// auth continues it on the authoritative side, div on the diverged one.
type reconcileCase struct {
	name string

	base []*Entry
	auth []*Entry
	div  []*Entry

	init  map[Soid]MissingItem // missing set before reconciliation
	final map[Soid]MissingItem // missing set after

	toremove   []Soid     // set semantics
	torollback []Eversion // exact order
}

func (c *reconcileCase) fullauth() []*Entry {
	return append(append(make([]*Entry, 0, len(c.base)+len(c.auth)), c.base...), c.auth...)
}

func (c *reconcileCase) fulldiv() []*Entry {
	return append(append(make([]*Entry, 0, len(c.base)+len(c.div)), c.base...), c.div...)
}

func (c *reconcileCase) seedMissing(m *Missing) {
	for soid, it := range c.init {
		m.Add(soid, it.Need, it.Have)
	}
}

// caseInfo derives the info record of a log that holds every listed
// entry: complete through the head, tail just below the oldest entry.
func caseInfo(entries []*Entry) *Info {
	info := NewInfo()
	info.LastUpdate = entries[len(entries)-1].Version
	info.LastComplete = info.LastUpdate
	tail := entries[0].Version
	tail.Version--
	info.LogTail = tail
	return info
}

// divinfo additionally caps last_complete below the first outstanding
// need.
func (c *reconcileCase) divinfo(fulldiv []*Entry) *Info {
	info := caseInfo(fulldiv)
	if len(c.init) > 0 {
		first := MaxEversion
		for _, it := range c.init {
			if it.Need.Less(first) {
				first = it.Need
			}
		}
		info.LastComplete = Eversion{}
		for _, e := range fulldiv {
			if !e.Version.Less(first) {
				break
			}
			info.LastComplete = e.Version
		}
	}
	return info
}

func (c *reconcileCase) runMerge(t *testing.T) {
	t.Helper()
	var (
		rec    recorder
		fa, fd = c.fullauth(), c.fulldiv()
		info   = c.divinfo(fd)
		oinfo  = caseInfo(fa)
		p      = mkPGLog(fd, info.LogTail, info.LastUpdate)
		olog   = mkOlog(fa, oinfo.LogTail, oinfo.LastUpdate)
	)
	c.seedMissing(&p.missing)

	err := p.MergeLog(oinfo, olog, "osd1", info, &rec)
	tassert.CheckFatal(t, err)

	tassert.Fatalf(t, info.LastUpdate == oinfo.LastUpdate,
		"merged last_update %s diverges from authoritative %s", info.LastUpdate, oinfo.LastUpdate)
	checkMissing(t, &p.missing, c.final)

	removed, want := dedupSorted(rec.removed), dedupSorted(c.toremove)
	tassert.Errorf(t, sameSoids(removed, want), "removed %v, want %v", removed, want)
	tassert.Errorf(t, sameVersions(rec.rolledback, c.torollback),
		"rolled back %v, want %v", rec.rolledback, c.torollback)
}

func (c *reconcileCase) runReplica(t *testing.T) {
	t.Helper()
	var (
		fa, fd   = c.fullauth(), c.fulldiv()
		ainfo    = caseInfo(fa)
		oinfo    = c.divinfo(fd)
		p        = mkPGLog(fa, ainfo.LogTail, ainfo.LastUpdate)
		olog     = mkOlog(fd, oinfo.LogTail, oinfo.LastUpdate)
		omissing Missing
	)
	c.seedMissing(&omissing)

	p.ProcReplicaLog(oinfo, olog, &omissing, "osd1")

	if len(c.base) > 0 {
		shared := c.base[len(c.base)-1].Version
		tassert.Fatalf(t, oinfo.LastUpdate == shared,
			"replica last_update %s, want shared head %s", oinfo.LastUpdate, shared)
	}
	// activation winds the replica over the authoritative continuation
	for _, e := range c.auth {
		omissing.AddNextEvent(e)
	}
	checkMissing(t, &omissing, c.final)
}

func dedupSorted(soids []Soid) []Soid {
	out := append(make([]Soid, 0, len(soids)), soids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return slices.Compact(out)
}

func TestReconcileDivergence(t *testing.T) {
	o := obj(1)
	cases := []reconcileCase{
		{
			name:     "divergent modify recovers at shared",
			base:     []*Entry{mod(o, ev(10, 100), ev(8, 80))},
			div:      []*Entry{mod(o, ev(10, 101), ev(10, 100))},
			final:    map[Soid]MissingItem{o: {Need: ev(10, 100)}},
			toremove: []Soid{o},
		},
		{
			name: "rollbackable chain unwinds",
			base: []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			div: []*Entry{
				modRB(o, ev(10, 101), ev(10, 100)),
				modRB(o, ev(10, 102), ev(10, 101)),
			},
			torollback: []Eversion{ev(10, 102), ev(10, 101)},
		},
		{
			name: "unrollbackable entry forces recovery",
			base: []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			div: []*Entry{
				mod(o, ev(10, 101), ev(10, 100)),
				modRB(o, ev(10, 102), ev(10, 101)),
			},
			final:    map[Soid]MissingItem{o: {Need: ev(10, 100)}},
			toremove: []Soid{o},
		},
		{
			name: "already missing reaims at chain prior",
			base: []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			div: []*Entry{
				modRB(o, ev(10, 101), ev(10, 100)),
				modRB(o, ev(10, 102), ev(10, 101)),
			},
			init:  map[Soid]MissingItem{o: {Need: ev(10, 102)}},
			final: map[Soid]MissingItem{o: {Need: ev(10, 100)}},
		},
		{
			name: "authoritative continuation wins",
			base: []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			div: []*Entry{
				mod(o, ev(10, 101), ev(10, 100)),
				modRB(o, ev(10, 102), ev(10, 101)),
			},
			auth:     []*Entry{mod(o, ev(11, 101), ev(10, 100))},
			final:    map[Soid]MissingItem{o: {Need: ev(11, 101)}},
			toremove: []Soid{o},
		},
		{
			name:  "head extension fills missing",
			base:  []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			auth:  []*Entry{mod(o, ev(11, 101), ev(10, 100))},
			final: map[Soid]MissingItem{o: {Need: ev(11, 101), Have: ev(10, 100)}},
		},
		{
			name:  "head extension keeps usable have",
			base:  []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			auth:  []*Entry{mod(o, ev(11, 101), ev(10, 100))},
			init:  map[Soid]MissingItem{o: {Need: ev(10, 100), Have: ev(8, 80)}},
			final: map[Soid]MissingItem{o: {Need: ev(11, 101), Have: ev(8, 80)}},
		},
		{
			name:     "authoritative delete drops object",
			base:     []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			auth:     []*Entry{del(o, ev(11, 101), ev(10, 100))},
			init:     map[Soid]MissingItem{o: {Need: ev(10, 100), Have: ev(8, 80)}},
			toremove: []Soid{o},
		},
		{
			name: "local copy matches chain prior",
			base: []*Entry{modRB(o, ev(10, 100), ev(8, 80))},
			div:  []*Entry{mod(o, ev(10, 101), ev(10, 100))},
			init: map[Soid]MissingItem{o: {Need: ev(10, 101), Have: ev(10, 100)}},
		},
	}
	for i := range cases {
		c := &cases[i]
		t.Run(c.name, func(t *testing.T) {
			c.runMerge(t)
			c.runReplica(t)
		})
	}
}
