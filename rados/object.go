// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	"github.com/NVIDIA/radstore/pglog"
)

// bounded in-memory tail per placement group
const pgLogTailCap = 1024

type (
	objKey struct {
		ns  string
		oid string
	}

	// Extent is an allocated byte range of an object.
	Extent struct {
		Off uint64 `json:"off"`
		Len uint64 `json:"len"`
	}

	// SnapContext gates copy-on-write cloning: Seq is the most recent
	// snapshot id the writer knows, Snaps the live ids in descending order.
	SnapContext struct {
		Seq   uint64
		Snaps []uint64
	}

	// SnapClone describes one preserved clone of an object.
	SnapClone struct {
		CloneID uint64   `json:"clone_id"`
		Snaps   []uint64 `json:"snaps"` // live snap ids resolving to this clone
		Size    uint64   `json:"size"`
	}

	clone struct {
		seq  uint64 // snapc seq at clone time; covers snap ids in (prev seq, seq]
		data []byte
		exts []Extent
	}

	object struct {
		mu         sync.RWMutex
		data       []byte
		exts       []Extent
		xattrs     map[string][]byte
		omap       map[string][]byte
		clones     []clone // ascending seq
		snapSeq    uint64  // snapc seq of the most recent write
		createdSeq uint64  // snapc seq at creation; earlier snaps predate the object
		version    uint64
		lastEv     pglog.Eversion
		mtime      time.Time
		removed    bool
	}

	pgShard struct {
		mu      sync.Mutex
		version uint64
		entries []pglog.Entry
	}

	pool struct {
		id      int64
		name    string
		mu      sync.RWMutex
		objects map[objKey]*object
		snaps   map[uint64]struct{} // live self-managed snap ids
		pgs     []*pgShard
	}
)

func newPool(id int64, name string, pgNum int) *pool {
	p := &pool{
		id:      id,
		name:    name,
		objects: make(map[objKey]*object, 64),
		snaps:   make(map[uint64]struct{}, 4),
		pgs:     make([]*pgShard, pgNum),
	}
	for i := range p.pgs {
		p.pgs[i] = &pgShard{}
	}
	return p
}

func (p *pool) pgid(oid string) int { return int(cos.StrHashLinux(oid)) % len(p.pgs) }

// stats snapshots the object set first: o.mu is never taken under p.mu
// (removals lock in the opposite order).
func (p *pool) stats() PoolStats {
	ps := PoolStats{Name: p.name, ID: p.id}
	p.mu.RLock()
	objs := make([]*object, 0, len(p.objects))
	for _, o := range p.objects {
		objs = append(objs, o)
	}
	p.mu.RUnlock()
	for _, o := range objs {
		o.mu.RLock()
		if !o.removed {
			ps.Objects++
			ps.Bytes += int64(len(o.data))
		}
		o.mu.RUnlock()
	}
	return ps
}

func (p *pool) snapExists(id uint64) bool {
	p.mu.RLock()
	_, ok := p.snaps[id]
	p.mu.RUnlock()
	return ok
}

func (p *pool) liveSnaps() map[uint64]struct{} {
	p.mu.RLock()
	m := make(map[uint64]struct{}, len(p.snaps))
	for id := range p.snaps {
		m[id] = struct{}{}
	}
	p.mu.RUnlock()
	return m
}

// lockObj resolves and locks the object; with create set a missing
// object comes into existence empty. Spins when racing a removal.
func (p *pool) lockObj(key objKey, write, create bool, snapcSeq uint64) (o *object, created bool, _ error) {
	for {
		p.mu.RLock()
		o = p.objects[key]
		p.mu.RUnlock()
		if o == nil {
			if !create {
				return nil, false, cos.ErrNotFound
			}
			p.mu.Lock()
			o = p.objects[key]
			if o == nil {
				o = &object{
					xattrs:     make(map[string][]byte, 4),
					omap:       make(map[string][]byte, 8),
					createdSeq: snapcSeq,
					snapSeq:    snapcSeq,
					mtime:      time.Now(),
				}
				p.objects[key] = o
				created = true
			}
			p.mu.Unlock()
		}
		if write {
			o.mu.Lock()
		} else {
			o.mu.RLock()
		}
		if !o.removed {
			return o, created, nil
		}
		created = false
		if write {
			o.mu.Unlock()
		} else {
			o.mu.RUnlock()
		}
	}
}

// caller holds o.mu exclusively
func (p *pool) removeObj(key objKey, o *object) {
	debug.Assert(!o.removed)
	o.removed = true
	p.mu.Lock()
	if p.objects[key] == o {
		delete(p.objects, key)
	}
	p.mu.Unlock()
}

func (p *pool) listKeys(ns string) []string {
	p.mu.RLock()
	oids := make([]string, 0, len(p.objects))
	for key := range p.objects {
		if key.ns == ns {
			oids = append(oids, key.oid)
		}
	}
	p.mu.RUnlock()
	sort.Strings(oids)
	return oids
}

////////////
// object //
////////////

// snapshotIfNeeded preserves the pre-write state when the writer's
// snap context is ahead of the object's last-write seq. Caller holds
// the write lock. Returns the clone seq, zero when no clone was taken.
func (o *object) snapshotIfNeeded(snapc SnapContext) uint64 {
	if snapc.Seq <= o.snapSeq {
		return 0
	}
	cl := clone{
		seq:  snapc.Seq,
		data: make([]byte, len(o.data)),
		exts: make([]Extent, len(o.exts)),
	}
	copy(cl.data, o.data)
	copy(cl.exts, o.exts)
	o.clones = append(o.clones, cl)
	o.snapSeq = snapc.Seq
	return snapc.Seq
}

// resolveRead maps a snap id to the object state visible at that snap.
// Rule: the oldest clone with seq >= snapID; none => head. A snap id
// predating the object's creation => -ENOENT.
func (o *object) resolveRead(snapID uint64) (data []byte, exts []Extent, err error) {
	if snapID == cos.NoSnap {
		return o.data, o.exts, nil
	}
	if snapID <= o.createdSeq {
		return nil, nil, cos.ErrNotFound
	}
	for i := range o.clones {
		if o.clones[i].seq >= snapID {
			return o.clones[i].data, o.clones[i].exts, nil
		}
	}
	return o.data, o.exts, nil
}

// snapClones lists preserved clones with the live snap ids each covers.
// Caller holds at least the read lock; liveSnaps is the pool's live set.
func (o *object) snapClones(liveSnaps map[uint64]struct{}) []SnapClone {
	out := make([]SnapClone, 0, len(o.clones))
	prev := o.createdSeq
	for i := range o.clones {
		cl := &o.clones[i]
		sc := SnapClone{CloneID: cl.seq, Size: uint64(len(cl.data))}
		for id := range liveSnaps {
			if id > prev && id <= cl.seq {
				sc.Snaps = append(sc.Snaps, id)
			}
		}
		sort.Slice(sc.Snaps, func(i, j int) bool { return sc.Snaps[i] < sc.Snaps[j] })
		if len(sc.Snaps) > 0 {
			out = append(out, sc)
		}
		prev = cl.seq
	}
	return out
}

func (o *object) readAt(ofs, length int64) []byte {
	return readRange(o.data, ofs, length)
}

func readRange(data []byte, ofs, length int64) []byte {
	size := int64(len(data))
	if ofs >= size {
		return nil
	}
	end := size
	if length >= 0 && ofs+length < size {
		end = ofs + length
	}
	out := make([]byte, end-ofs)
	copy(out, data[ofs:end])
	return out
}

func (o *object) writeAt(ofs int64, b []byte) {
	end := uint64(ofs) + uint64(len(b))
	o.ensureSize(end)
	copy(o.data[ofs:], b)
	o.exts = addExtent(o.exts, uint64(ofs), uint64(len(b)))
}

func (o *object) writeFull(b []byte) {
	o.data = make([]byte, len(b))
	copy(o.data, b)
	o.exts = nil
	if len(b) > 0 {
		o.exts = addExtent(o.exts, 0, uint64(len(b)))
	}
}

func (o *object) appendData(b []byte) {
	ofs := int64(len(o.data))
	o.writeAt(ofs, b)
}

// zero punches the range; beyond-EOF zero extends the size
func (o *object) zeroRange(ofs, length uint64) {
	if ofs+length > uint64(len(o.data)) {
		o.ensureSize(ofs + length)
	}
	clear(o.data[ofs : ofs+length])
	o.exts = punchExtent(o.exts, ofs, length)
}

func (o *object) truncate(size uint64) {
	cur := uint64(len(o.data))
	switch {
	case size < cur:
		o.data = o.data[:size]
	case size > cur:
		o.ensureSize(size)
	}
	o.exts = clipExtents(o.exts, size)
}

func (o *object) ensureSize(n uint64) {
	if n <= uint64(len(o.data)) {
		return
	}
	if n <= uint64(cap(o.data)) {
		o.data = o.data[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, o.data)
	o.data = grown
}

/////////////
// extents //
/////////////

// addExtent inserts [off, off+length) keeping the list sorted and coalesced
func addExtent(exts []Extent, off, length uint64) []Extent {
	if length == 0 {
		return exts
	}
	out := make([]Extent, 0, len(exts)+1)
	ne := Extent{Off: off, Len: length}
	placed := false
	for _, e := range exts {
		switch {
		case e.Off+e.Len < ne.Off: // strictly before
			out = append(out, e)
		case ne.Off+ne.Len < e.Off: // strictly after
			if !placed {
				out = append(out, ne)
				placed = true
			}
			out = append(out, e)
		default: // overlap or adjacency: merge into ne
			lo := min(e.Off, ne.Off)
			hi := max(e.Off+e.Len, ne.Off+ne.Len)
			ne = Extent{Off: lo, Len: hi - lo}
		}
	}
	if !placed {
		out = append(out, ne)
	}
	return out
}

// punchExtent removes [off, off+length) from the allocated set
func punchExtent(exts []Extent, off, length uint64) []Extent {
	if length == 0 {
		return exts
	}
	lo, hi := off, off+length
	out := make([]Extent, 0, len(exts)+1)
	for _, e := range exts {
		elo, ehi := e.Off, e.Off+e.Len
		if ehi <= lo || elo >= hi {
			out = append(out, e)
			continue
		}
		if elo < lo {
			out = append(out, Extent{Off: elo, Len: lo - elo})
		}
		if ehi > hi {
			out = append(out, Extent{Off: hi, Len: ehi - hi})
		}
	}
	return out
}

func clipExtents(exts []Extent, size uint64) []Extent {
	out := exts[:0]
	for _, e := range exts {
		if e.Off >= size {
			continue
		}
		if e.Off+e.Len > size {
			e.Len = size - e.Off
		}
		out = append(out, e)
	}
	return out
}
