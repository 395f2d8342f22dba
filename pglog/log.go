/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"github.com/NVIDIA/radstore/cmn/debug"
)

type (
	// Log is the bounded mutation history of one PG: entries cover
	// (Tail, Head], oldest first. CanRollbackTo bounds how far local
	// rollback info reaches; RollbackInfoTrimmedTo is how far it has
	// been discarded.
	Log struct {
		Head                  Eversion
		Tail                  Eversion
		CanRollbackTo         Eversion
		RollbackInfoTrimmedTo Eversion
		Entries               []*Entry
	}

	// IndexedLog adds by-object and by-request lookups. The by-object
	// index points at the newest entry touching the object; the
	// by-request index serves client retry (dup op) detection.
	IndexedLog struct {
		Log
		objects map[Soid]*Entry
		callers map[string]*Entry
	}
)

func (l *Log) Empty() bool { return len(l.Entries) == 0 }

func (l *Log) Newest() *Entry {
	if l.Empty() {
		return nil
	}
	return l.Entries[len(l.Entries)-1]
}

func (l *Log) Oldest() *Entry {
	if l.Empty() {
		return nil
	}
	return l.Entries[0]
}

// Clone deep-copies the entry slice (entries themselves are shared).
func (l *Log) Clone() Log {
	c := *l
	c.Entries = make([]*Entry, len(l.Entries))
	copy(c.Entries, l.Entries)
	return c
}

func (il *IndexedLog) Clear() {
	il.Log = Log{}
	il.objects, il.callers = nil, nil
}

// Index rebuilds both lookup maps from the entry list.
func (il *IndexedLog) Index() {
	il.objects = make(map[Soid]*Entry, len(il.Entries))
	il.callers = make(map[string]*Entry, len(il.Entries))
	for _, e := range il.Entries {
		il.indexEntry(e)
	}
}

func (il *IndexedLog) indexEntry(e *Entry) {
	if il.objects == nil {
		il.Index()
		return
	}
	il.objects[e.Soid] = e
	if e.ReqID != "" {
		il.callers[e.ReqID] = e
	}
}

// unindex drops e from the maps, but only while they still point at e:
// a newer entry for the same object (or request) stays indexed.
func (il *IndexedLog) unindex(e *Entry) {
	if il.objects[e.Soid] == e {
		delete(il.objects, e.Soid)
	}
	if e.ReqID != "" && il.callers[e.ReqID] == e {
		delete(il.callers, e.ReqID)
	}
}

// EntryFor returns the newest log entry touching soid, nil if none.
func (il *IndexedLog) EntryFor(soid Soid) *Entry {
	if il.objects == nil {
		il.Index()
	}
	return il.objects[soid]
}

// DupRequest reports a logged client request: the committed version and
// return code. Serves replayed-op detection on reconnect.
func (il *IndexedLog) DupRequest(reqid string) (ver Eversion, rc int, ok bool) {
	if il.callers == nil {
		il.Index()
	}
	e, ok := il.callers[reqid]
	if !ok {
		return Eversion{}, 0, false
	}
	return e.Version, e.ReturnCode, true
}

// Add appends a freshly committed entry and advances the head.
func (il *IndexedLog) Add(e *Entry) {
	debug.Assert(il.Head.Less(e.Version), "log add out of order: ", e.Version.String())
	il.Entries = append(il.Entries, e)
	il.Head = e.Version
	il.indexEntry(e)
}

// trimTo drops entries at or before the cut, raising the tail. Rollback
// info at or before the cut is gone with them.
func (il *IndexedLog) trimTo(to Eversion) (ntrimmed int) {
	for len(il.Entries) > 0 && il.Entries[0].Version.LessEqual(to) {
		il.unindex(il.Entries[0])
		il.Entries[0] = nil
		il.Entries = il.Entries[1:]
		ntrimmed++
	}
	if il.Tail.Less(to) {
		il.Tail = to
	}
	if il.RollbackInfoTrimmedTo.Less(to) && !il.CanRollbackTo.Less(to) {
		il.RollbackInfoTrimmedTo = to
	}
	return ntrimmed
}

// popNewest removes and returns the newest entry (divergent move-aside).
func (il *IndexedLog) popNewest() *Entry {
	e := il.Newest()
	debug.Assert(e != nil)
	il.unindex(e)
	il.Entries = il.Entries[:len(il.Entries)-1]
	return e
}

// ClaimLog adopts a peer's log wholesale, dropping whatever rollback
// info the local one carried.
func (il *IndexedLog) ClaimLog(o *Log) {
	il.Log = o.Clone()
	il.CanRollbackTo = o.Head
	il.RollbackInfoTrimmedTo = o.Head
	il.Index()
}
