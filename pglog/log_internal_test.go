// Package pglog: internal unit tests for log reconciliation
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"testing"

	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestIndexNewestWins(t *testing.T) {
	var (
		il IndexedLog
		x  = obj(1)
	)
	first := mod(x, ev(1, 1), Eversion{})
	first.ReqID = "client1:1"
	second := mod(x, ev(1, 3), ev(1, 1))
	second.ReqID = "client1:2"
	il.Add(first)
	il.Add(second)

	tassert.Fatalf(t, il.EntryFor(x) == second, "object index must point at the newest entry")
	ver, _, ok := il.DupRequest("client1:1")
	tassert.Errorf(t, ok && ver == ev(1, 1), "dup lookup: %s %v", ver, ok)

	popped := il.popNewest()
	tassert.Fatalf(t, popped == second, "popped %s, want the head entry", popped)
	tassert.Errorf(t, il.Head == ev(1, 3), "pop must not move the head marker")
	_, _, ok = il.DupRequest("client1:2")
	tassert.Errorf(t, !ok, "popped entry still answers dup lookups")
	_, _, ok = il.DupRequest("client1:1")
	tassert.Errorf(t, ok, "older request lost from the index")
}

func TestLogTrimTo(t *testing.T) {
	var (
		il IndexedLog
		x  = obj(1)
	)
	il.Add(mod(x, ev(1, 1), Eversion{}))
	il.Add(mod(obj(2), ev(1, 2), Eversion{}))
	il.Add(mod(x, ev(1, 3), ev(1, 1)))
	il.CanRollbackTo = ev(1, 3)

	n := il.trimTo(ev(1, 2))
	tassert.Fatalf(t, n == 2, "trimmed %d entries, want 2", n)
	tassert.Errorf(t, il.Tail == ev(1, 2), "tail %s, want %s", il.Tail, ev(1, 2))
	tassert.Errorf(t, il.RollbackInfoTrimmedTo == ev(1, 2),
		"rollback info trimmed to %s, want %s", il.RollbackInfoTrimmedTo, ev(1, 2))
	tassert.Fatalf(t, len(il.Entries) == 1 && il.EntryFor(x).Version == ev(1, 3),
		"trim dropped the wrong entries: %+v", il.Entries)

	// trimming below the tail is a no-op
	tassert.Errorf(t, il.trimTo(ev(1, 1)) == 0, "re-trim below the tail removed entries")
}

func TestClaimLog(t *testing.T) {
	var (
		il IndexedLog
		x  = obj(1)
	)
	il.Add(mod(obj(2), ev(1, 1), Eversion{}))

	o := mkOlog([]*Entry{
		mod(x, ev(2, 2), Eversion{}),
		mod(x, ev(2, 3), ev(2, 2)),
	}, ev(2, 1), ev(2, 3))
	il.ClaimLog(o)

	tassert.Fatalf(t, len(il.Entries) == 2, "claimed %d entries, want 2", len(il.Entries))
	tassert.Errorf(t, il.Head == ev(2, 3) && il.Tail == ev(2, 1), "claimed bounds (%s,%s]", il.Tail, il.Head)
	tassert.Errorf(t, il.CanRollbackTo == ev(2, 3), "claimed log carries no rollback info")
	tassert.Fatalf(t, il.EntryFor(x).Version == ev(2, 3), "claimed log not indexed")

	// the entry slice must be independent of the source
	o.Entries = o.Entries[:1]
	tassert.Errorf(t, len(il.Entries) == 2, "claimed entries alias the source slice")
}

func TestMissingWinds(t *testing.T) {
	var (
		m Missing
		x = obj(1)
	)
	m.AddNextEvent(mod(x, ev(1, 1), Eversion{}))
	checkMissing(t, &m, map[Soid]MissingItem{x: {Need: ev(1, 1)}})

	// still missing: need advances, have stays
	m.AddNextEvent(mod(x, ev(1, 2), ev(1, 1)))
	checkMissing(t, &m, map[Soid]MissingItem{x: {Need: ev(1, 2)}})

	m.Got(x, ev(1, 2))
	tassert.Fatalf(t, !m.HaveMissing(), "recovered object still missing")

	// lost an object we do have a copy of
	m.AddNextEvent(mod(x, ev(1, 3), ev(1, 2)))
	checkMissing(t, &m, map[Soid]MissingItem{x: {Need: ev(1, 3), Have: ev(1, 2)}})

	// a delete settles the score
	m.AddNextEvent(del(x, ev(1, 4), ev(1, 3)))
	tassert.Fatalf(t, !m.HaveMissing(), "deleted object still missing")
}

func TestMissingRmGuard(t *testing.T) {
	var (
		m Missing
		x = obj(1)
	)
	m.Add(x, ev(1, 5), Eversion{})
	m.Rm(x, ev(1, 4))
	tassert.Fatalf(t, m.IsMissingVer(x, ev(1, 5)), "remove below the need dropped the item")
	m.Rm(x, ev(1, 5))
	tassert.Fatalf(t, !m.IsMissing(x), "remove at the need kept the item")
}

func TestMissingFirstNeed(t *testing.T) {
	var m Missing
	_, ok := m.FirstNeed()
	tassert.Fatalf(t, !ok, "empty set reports a first need")

	m.Add(obj(1), ev(2, 5), Eversion{})
	m.Add(obj(2), ev(3, 4), Eversion{})
	m.Add(obj(3), ev(1, 9), Eversion{})
	first, ok := m.FirstNeed()
	tassert.Fatalf(t, ok && first == ev(3, 4), "first need %s, want %s", first, ev(3, 4))

	// counter ties break on the full version
	m.Add(obj(4), ev(2, 4), Eversion{})
	first, _ = m.FirstNeed()
	tassert.Fatalf(t, first == ev(2, 4), "first need %s, want %s", first, ev(2, 4))
}
