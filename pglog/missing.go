/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"github.com/NVIDIA/radstore/cmn/debug"
)

type (
	// MissingItem: the object must be recovered to Need; the local copy,
	// if any, is at Have (zero = nothing usable on disk).
	MissingItem struct {
		Need Eversion `json:"need"`
		Have Eversion `json:"have"`
	}

	// Missing is the per-replica set of objects behind the log head.
	Missing struct {
		Items map[Soid]MissingItem `json:"items,omitempty"`
	}
)

func (m *Missing) ensure() {
	if m.Items == nil {
		m.Items = make(map[Soid]MissingItem)
	}
}

func (m *Missing) NumMissing() int   { return len(m.Items) }
func (m *Missing) HaveMissing() bool { return len(m.Items) > 0 }

func (m *Missing) IsMissing(soid Soid) bool {
	_, ok := m.Items[soid]
	return ok
}

// IsMissingVer: missing specifically at version v.
func (m *Missing) IsMissingVer(soid Soid, v Eversion) bool {
	it, ok := m.Items[soid]
	return ok && it.Need == v
}

func (m *Missing) Get(soid Soid) (MissingItem, bool) {
	it, ok := m.Items[soid]
	return it, ok
}

// AddNextEvent winds the missing set forward over a just-learned log
// entry.
func (m *Missing) AddNextEvent(e *Entry) {
	switch {
	case e.IsUpdate():
		m.ensure()
		if e.ObjectIsNew() {
			// created by this entry, nothing older is usable
			m.Items[e.Soid] = MissingItem{Need: e.Version}
		} else if it, ok := m.Items[e.Soid]; ok {
			it.Need = e.Version // already missing, keep have
			m.Items[e.Soid] = it
		} else {
			m.Items[e.Soid] = MissingItem{Need: e.Version, Have: e.PriorVersion}
		}
	case e.IsDelete():
		m.Rm(e.Soid, e.Version)
	}
}

func (m *Missing) Add(soid Soid, need, have Eversion) {
	m.ensure()
	m.Items[soid] = MissingItem{Need: need, Have: have}
}

// Rm drops the item if its need does not postdate v.
func (m *Missing) Rm(soid Soid, v Eversion) {
	if it, ok := m.Items[soid]; ok && it.Need.LessEqual(v) {
		delete(m.Items, soid)
	}
}

// Forget drops the item unconditionally.
func (m *Missing) Forget(soid Soid) { delete(m.Items, soid) }

// Got marks a completed recovery.
func (m *Missing) Got(soid Soid, v Eversion) {
	it, ok := m.Items[soid]
	debug.Assert(ok, "got non-missing ", soid.String())
	debug.Assert(it.Need.LessEqual(v))
	delete(m.Items, soid)
}

// ReviseNeed resets the target version, keeping have when the item
// exists.
func (m *Missing) ReviseNeed(soid Soid, need Eversion) {
	m.ensure()
	if it, ok := m.Items[soid]; ok {
		it.Need = need
		m.Items[soid] = it
	} else {
		m.Items[soid] = MissingItem{Need: need}
	}
}

// ReviseHave updates the local-copy version of an existing item; no-op
// otherwise.
func (m *Missing) ReviseHave(soid Soid, have Eversion) {
	if it, ok := m.Items[soid]; ok {
		it.Have = have
		m.Items[soid] = it
	}
}

// FirstNeed is the oldest outstanding need, by version counter the way
// the completeness scan walks the log.
func (m *Missing) FirstNeed() (Eversion, bool) {
	if len(m.Items) == 0 {
		return Eversion{}, false
	}
	var (
		first Eversion
		seen  bool
	)
	for _, it := range m.Items {
		if !seen || it.Need.Version < first.Version ||
			(it.Need.Version == first.Version && it.Need.Less(first)) {
			first = it.Need
			seen = true
		}
	}
	return first, true
}

// Claim adopts the other set's contents, leaving it empty.
func (m *Missing) Claim(o *Missing) {
	m.Items = o.Items
	o.Items = nil
}

func (m *Missing) Clear() { m.Items = nil }
