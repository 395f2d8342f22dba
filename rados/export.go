// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"fmt"
	"io"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/tinylib/msgp/msgp"
)

// One msgp stream holds a pool's complete object set: snap state,
// xattrs, omap, preserved clones. The same blob backs `pool export`/
// `pool import` and the durable catalog.
const (
	exportMagic   = "radstore.pool"
	exportVersion = 1
)

type expClone struct {
	seq  uint64
	data []byte
	exts []Extent
}

type expObject struct {
	ns, oid    string
	data       []byte
	xattrs     map[string][]byte
	omap       map[string][]byte
	exts       []Extent
	clones     []expClone
	version    uint64
	snapSeq    uint64
	createdSeq uint64
	evEpoch    uint64
	evVersion  uint64
	mtime      time.Time
}

// snapshotObjects copies pool state without ever nesting the pool and
// object locks.
func (p *pool) snapshotObjects() ([]expObject, []uint64) {
	type entry struct {
		key objKey
		o   *object
	}
	p.mu.RLock()
	ents := make([]entry, 0, len(p.objects))
	for key, o := range p.objects {
		ents = append(ents, entry{key, o})
	}
	snaps := make([]uint64, 0, len(p.snaps))
	for id := range p.snaps {
		snaps = append(snaps, id)
	}
	p.mu.RUnlock()

	out := make([]expObject, 0, len(ents))
	for _, ent := range ents {
		o := ent.o
		o.mu.RLock()
		if o.removed {
			o.mu.RUnlock()
			continue
		}
		eo := expObject{
			ns:         ent.key.ns,
			oid:        ent.key.oid,
			data:       append([]byte(nil), o.data...),
			xattrs:     copyBmap(o.xattrs),
			omap:       copyBmap(o.omap),
			exts:       append([]Extent(nil), o.exts...),
			version:    o.version,
			snapSeq:    o.snapSeq,
			createdSeq: o.createdSeq,
			evEpoch:    uint64(o.lastEv.Epoch),
			evVersion:  o.lastEv.Version,
			mtime:      o.mtime,
		}
		for i := range o.clones {
			cl := &o.clones[i]
			eo.clones = append(eo.clones, expClone{
				seq:  cl.seq,
				data: append([]byte(nil), cl.data...),
				exts: append([]Extent(nil), cl.exts...),
			})
		}
		o.mu.RUnlock()
		out = append(out, eo)
	}
	return out, snaps
}

func copyBmap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// sticky-error codec wrappers: one check at the end of a linear stream

type mwr struct {
	w   *msgp.Writer
	err error
}

func (m *mwr) str(s string) {
	if m.err == nil {
		m.err = m.w.WriteString(s)
	}
}

func (m *mwr) bts(b []byte) {
	if m.err == nil {
		m.err = m.w.WriteBytes(b)
	}
}

func (m *mwr) u8(v uint8) {
	if m.err == nil {
		m.err = m.w.WriteUint8(v)
	}
}

func (m *mwr) u64(v uint64) {
	if m.err == nil {
		m.err = m.w.WriteUint64(v)
	}
}

func (m *mwr) arr(n int) {
	if m.err == nil {
		m.err = m.w.WriteArrayHeader(uint32(n))
	}
}

func (m *mwr) mp(n int) {
	if m.err == nil {
		m.err = m.w.WriteMapHeader(uint32(n))
	}
}

func (m *mwr) tm(t time.Time) {
	if m.err == nil {
		m.err = m.w.WriteTime(t)
	}
}

func (m *mwr) flush() error {
	if m.err != nil {
		return m.err
	}
	return m.w.Flush()
}

type mrd struct {
	r   *msgp.Reader
	err error
}

func (m *mrd) str() (s string) {
	if m.err == nil {
		s, m.err = m.r.ReadString()
	}
	return
}

func (m *mrd) bts() (b []byte) {
	if m.err == nil {
		b, m.err = m.r.ReadBytes(nil)
	}
	return
}

func (m *mrd) u8() (v uint8) {
	if m.err == nil {
		v, m.err = m.r.ReadUint8()
	}
	return
}

func (m *mrd) u64() (v uint64) {
	if m.err == nil {
		v, m.err = m.r.ReadUint64()
	}
	return
}

func (m *mrd) arr() (n uint32) {
	if m.err == nil {
		n, m.err = m.r.ReadArrayHeader()
	}
	return
}

func (m *mrd) mp() (n uint32) {
	if m.err == nil {
		n, m.err = m.r.ReadMapHeader()
	}
	return
}

func (m *mrd) tm() (t time.Time) {
	if m.err == nil {
		t, m.err = m.r.ReadTime()
	}
	return
}

////////////
// export //
////////////

// ExportPool streams the pool's full object set.
func (c *Cluster) ExportPool(name string, w io.Writer) error {
	c.assertOpen()
	p, err := c.pool(name)
	if err != nil {
		return err
	}
	return exportPool(p, w)
}

func exportPool(p *pool, w io.Writer) error {
	objs, snaps := p.snapshotObjects()

	m := &mwr{w: msgp.NewWriter(w)}
	m.str(exportMagic)
	m.u8(exportVersion)
	m.str(p.name)
	m.arr(len(snaps))
	for _, id := range snaps {
		m.u64(id)
	}
	m.arr(len(objs))
	for i := range objs {
		writeExpObject(m, &objs[i])
	}
	return m.flush()
}

func writeExpObject(m *mwr, eo *expObject) {
	m.str(eo.ns)
	m.str(eo.oid)
	m.bts(eo.data)
	writeBmap(m, eo.xattrs)
	writeBmap(m, eo.omap)
	writeExtents(m, eo.exts)
	m.arr(len(eo.clones))
	for i := range eo.clones {
		cl := &eo.clones[i]
		m.u64(cl.seq)
		m.bts(cl.data)
		writeExtents(m, cl.exts)
	}
	m.u64(eo.version)
	m.u64(eo.snapSeq)
	m.u64(eo.createdSeq)
	m.u64(eo.evEpoch)
	m.u64(eo.evVersion)
	m.tm(eo.mtime)
}

func writeBmap(m *mwr, bm map[string][]byte) {
	m.mp(len(bm))
	for k, v := range bm {
		m.str(k)
		m.bts(v)
	}
}

func writeExtents(m *mwr, exts []Extent) {
	m.arr(len(exts))
	for _, e := range exts {
		m.u64(e.Off)
		m.u64(e.Len)
	}
}

////////////
// import //
////////////

// ImportPool creates the pool and loads the stream into it; an
// existing pool with the same name => -EEXIST.
func (c *Cluster) ImportPool(name string, r io.Reader) error {
	c.assertOpen()
	if _, err := c.CreatePool(name); err != nil {
		return err
	}
	p, err := c.pool(name)
	if err != nil {
		return err
	}
	if err := c.loadPool(p, r); err != nil {
		_ = c.DeletePool(name)
		return err
	}
	return nil
}

// loadPool decodes an export stream into an (empty) pool and advances
// the cluster snap-id counter past every imported snap.
func (c *Cluster) loadPool(p *pool, r io.Reader) error {
	m := &mrd{r: msgp.NewReader(r)}
	magic := m.str()
	if m.err != nil {
		return m.err
	}
	if magic != exportMagic {
		return fmt.Errorf("bad pool stream magic %q: %w", magic, cos.ErrBadMsg)
	}
	if ver := m.u8(); m.err == nil && ver != exportVersion {
		return fmt.Errorf("pool stream v%d: %w", ver, cos.ErrNotSupported)
	}
	m.str() // source pool name, informational

	var maxSnap uint64
	nsnaps := m.arr()
	for range nsnaps {
		id := m.u64()
		if m.err != nil {
			return m.err
		}
		maxSnap = max(maxSnap, id)
		p.mu.Lock()
		p.snaps[id] = struct{}{}
		p.mu.Unlock()
	}

	var maxVer uint64
	nobjs := m.arr()
	for range nobjs {
		key, o := readExpObject(m)
		if m.err != nil {
			return m.err
		}
		maxVer = max(maxVer, o.lastEv.Version)
		p.mu.Lock()
		p.objects[key] = o
		p.mu.Unlock()
	}
	if m.err != nil {
		return m.err
	}

	// resume monotone counters
	for {
		cur := c.snapID.Load()
		if cur >= int64(maxSnap) || c.snapID.CAS(cur, int64(maxSnap)) {
			break
		}
	}
	for _, sh := range p.pgs {
		sh.mu.Lock()
		sh.version = max(sh.version, maxVer)
		sh.mu.Unlock()
	}
	return nil
}

func readExpObject(m *mrd) (key objKey, o *object) {
	key.ns = m.str()
	key.oid = m.str()
	o = &object{}
	o.data = m.bts()
	o.xattrs = readBmap(m)
	o.omap = readBmap(m)
	o.exts = readExtents(m)
	nclones := m.arr()
	for range nclones {
		var cl clone
		cl.seq = m.u64()
		cl.data = m.bts()
		cl.exts = readExtents(m)
		if m.err != nil {
			return key, o
		}
		o.clones = append(o.clones, cl)
	}
	o.version = m.u64()
	o.snapSeq = m.u64()
	o.createdSeq = m.u64()
	o.lastEv.Epoch = uint32(m.u64())
	o.lastEv.Version = m.u64()
	o.mtime = m.tm()
	return key, o
}

func readBmap(m *mrd) map[string][]byte {
	n := m.mp()
	bm := make(map[string][]byte, n)
	for range n {
		k := m.str()
		v := m.bts()
		if m.err != nil {
			return bm
		}
		bm[k] = v
	}
	return bm
}

func readExtents(m *mrd) []Extent {
	n := m.arr()
	exts := make([]Extent, 0, n)
	for range n {
		var e Extent
		e.Off = m.u64()
		e.Len = m.u64()
		if m.err != nil {
			return exts
		}
		exts = append(exts, e)
	}
	return exts
}
