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
	"sort"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/pglog"
)

// step is one element of an op's ordered closure list. Steps resolve
// the object themselves: the first one to run locks it for the whole op.
type step struct {
	fn   func(oc *opCtx) error
	name string
}

type opCtx struct {
	c     *Cluster
	ix    *IOCtx
	p     *pool
	o     *object
	key   objKey
	snapc SnapContext

	write     bool
	created   bool   // object came into existence during this op
	mutated   bool   // version bump + pg-log entry due
	removed   bool   // a Remove step fired
	clonedSeq uint64 // non-zero when this op took a COW clone
}

// obj resolves and locks the op's object (first resolving step wins).
func (oc *opCtx) obj(create bool) (*object, error) {
	if oc.o != nil {
		return oc.o, nil
	}
	o, created, err := oc.p.lockObj(oc.key, oc.write, create, oc.snapc.Seq)
	if err != nil {
		return nil, err
	}
	oc.o, oc.created = o, created
	return o, nil
}

func (oc *opCtx) origin() cls.Origin {
	return cls.Origin{Name: fmt.Sprintf("client.%d", oc.ix.instanceID), Addr: oc.c.addr}
}

// mutate precedes every state change: takes the copy-on-write clone
// when the snap context demands one, arms the commit.
func (oc *opCtx) mutate(o *object) {
	if oc.clonedSeq == 0 {
		oc.clonedSeq = o.snapshotIfNeeded(oc.snapc)
	}
	oc.mutated = true
}

// run executes the steps in order; the first error aborts the rest.
// Mutations already applied stay applied and are committed (version,
// mtime, pg log) - per-step isolation is the object lock, not undo.
func (oc *opCtx) run(steps []step) error {
	var err error
	for i := range steps {
		if err = steps[i].fn(oc); err != nil {
			if cos.FastV(5, cos.SmoduleRados) {
				nlog.Warningf("%s %s: step %s: %v", oc.p.name, oc.key.oid, steps[i].name, err)
			}
			break
		}
	}
	oc.finish()
	return err
}

func (oc *opCtx) finish() {
	o := oc.o
	if o == nil {
		return
	}
	oc.o = nil
	if !oc.write {
		oc.ix.lastVer.Store(o.lastEv.Version)
		o.mu.RUnlock()
		return
	}
	if oc.mutated {
		ev := oc.commit(o)
		oc.ix.lastVer.Store(ev.Version)
	} else {
		oc.ix.lastVer.Store(o.lastEv.Version)
	}
	if oc.removed {
		oc.p.removeObj(oc.key, o)
	}
	o.mu.Unlock()
}

// commit assigns the eversion, appends the pg-log entries and, when
// durable, streams them through the store. Object lock still held.
func (oc *opCtx) commit(o *object) pglog.Eversion {
	var (
		c     = oc.c
		sh    = oc.p.pgs[oc.p.pgid(oc.key.oid)]
		epoch = c.Epoch()
		prior = o.lastEv
		mtime = time.Now()
		batch []pglog.Entry
	)
	sh.mu.Lock()
	if oc.clonedSeq != 0 {
		sh.version++
		batch = append(batch, pglog.Entry{
			Op:           pglog.OpClone,
			Soid:         pglog.Soid{Oid: oc.key.oid, Snap: oc.clonedSeq},
			Version:      pglog.Eversion{Epoch: epoch, Version: sh.version},
			PriorVersion: prior,
			ReqID:        c.reqid(),
			Mtime:        mtime,
			Rollbackable: true,
		})
	}
	sh.version++
	ev := pglog.Eversion{Epoch: epoch, Version: sh.version}
	op := pglog.OpModify
	if oc.removed {
		op = pglog.OpDelete
	}
	batch = append(batch, pglog.Entry{
		Op:           op,
		Soid:         pglog.Soid{Oid: oc.key.oid, Snap: cos.NoSnap},
		Version:      ev,
		PriorVersion: prior,
		ReqID:        c.reqid(),
		Mtime:        mtime,
	})
	sh.entries = append(sh.entries, batch...)
	if over := len(sh.entries) - pgLogTailCap; over > 0 {
		sh.entries = sh.entries[over:]
	}
	if c.plstore != nil {
		stored := make([]*pglog.Entry, len(batch))
		for i := range batch {
			stored[i] = &batch[i]
		}
		if err := c.plstore.Append(pgKey(oc.p.id, oc.p.pgid(oc.key.oid)), stored); err != nil {
			nlog.Errorln("pg-log append:", err)
		}
	}
	sh.mu.Unlock()

	o.version++
	o.lastEv = ev
	o.mtime = mtime
	return ev
}

func (ix *IOCtx) operateOn(oid string, steps []step, write bool) error {
	c := ix.c
	c.assertOpen()
	if write && c.isBlocked(c.addr) {
		return cos.ErrPermission
	}
	if !write && ix.snapRead != cos.NoSnap && !ix.p.snapExists(ix.snapRead) {
		return cos.ErrNotFound
	}
	oc := &opCtx{c: c, ix: ix, p: ix.p, key: ix.key(oid), write: write, snapc: ix.snapc}
	return oc.run(steps)
}

//////////////////
// omap helpers //
//////////////////

// omapPage returns up to maxReturn sorted keys after startAfter with
// the given prefix; maxReturn <= 0 means all.
func omapPage(m map[string][]byte, startAfter, prefix string, maxReturn int) (map[string][]byte, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k > startAfter && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if maxReturn <= 0 || maxReturn > len(keys) {
		maxReturn = len(keys)
	}
	out := make(map[string][]byte, maxReturn)
	for _, k := range keys[:maxReturn] {
		v := m[k]
		vcopy := make([]byte, len(v))
		copy(vcopy, v)
		out[k] = vcopy
	}
	return out, maxReturn < len(keys)
}
