/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

type (
	// ObjState is the per-operation snapshot of a raw object: stat,
	// atomicity tag, and the decoded manifest when one is present.
	ObjState struct {
		Mtime       time.Time
		Attrs       map[string][]byte
		ObjTag      string // current atomicity tag, empty for untagged objects
		WriteTag    string // tag this operation will stamp
		Manifest    Manifest
		Size        int64
		Epoch       uint64 // object version at resolution time
		Exists      bool
		HasManifest bool
	}

	stateKey struct {
		pool string
		oid  string
	}

	// stateCache memoizes resolved states per (pool, oid). Entries are
	// dropped whenever a guarded write races (-ECANCELED/-EAGAIN) so the
	// retry re-resolves.
	stateCache struct {
		mu sync.Mutex
		m  map[stateKey]*ObjState
	}
)

func newStateCache() *stateCache {
	return &stateCache{m: make(map[stateKey]*ObjState, 64)}
}

func (sc *stateCache) get(k stateKey) *ObjState {
	sc.mu.Lock()
	st := sc.m[k]
	sc.mu.Unlock()
	return st
}

func (sc *stateCache) put(k stateKey, st *ObjState) {
	sc.mu.Lock()
	sc.m[k] = st
	sc.mu.Unlock()
}

func (sc *stateCache) invalidate(k stateKey) {
	sc.mu.Lock()
	delete(sc.m, k)
	sc.mu.Unlock()
}

func (s *Store) invalidateState(ix *rados.IOCtx, oid string) {
	s.states.invalidate(stateKey{pool: ix.Pool(), oid: oid})
}

// getObjState resolves (and caches) the state of a raw object. A
// missing object yields Exists=false, not an error.
func (s *Store) getObjState(ix *rados.IOCtx, oid string) (*ObjState, error) {
	k := stateKey{pool: ix.Pool(), oid: oid}
	if st := s.states.get(k); st != nil {
		return st, nil
	}
	st := &ObjState{}
	var (
		size  uint64
		attrs map[string][]byte
	)
	op := rados.NewReadOp().Stat(&size, &st.Mtime).GetXattrs(&attrs)
	err := ix.OperateRead(oid, op)
	switch {
	case cos.IsErrNotFound(err):
		// cache the negative result as well
	case err != nil:
		return nil, err
	default:
		st.Exists = true
		st.Size = int64(size)
		st.Epoch = ix.GetLastVersion()
		st.Attrs = attrs
		st.ObjTag = string(attrs[attrIDTag])
		if b, ok := attrs[attrManifest]; ok {
			if err := cos.UnpackBytes(b, &st.Manifest); err != nil {
				nlog.Errorf("%s/%s: corrupt manifest attr: %v", ix.Pool(), oid, err)
				return nil, cos.ErrIO
			}
			st.HasManifest = true
		}
	}
	s.states.put(k, st)
	return st, nil
}

// guardOp staples the atomicity guard onto op: the apply fails with
// -ECANCELED when another writer replaced the tag in the meantime.
func (st *ObjState) guardOp(op *rados.WriteOp) {
	if st.Exists && st.ObjTag != "" {
		op.CmpXattr(attrIDTag, []byte(st.ObjTag))
	}
}

// prepareAtomicModification seeds the write tag and arranges for the
// head write to be create-if-absent, tag-guarded, and tag-stamping.
func (s *Store) prepareAtomicModification(op *rados.WriteOp, st *ObjState, ptag string) {
	if !st.Exists {
		op.Create(false)
	}
	st.guardOp(op)
	if ptag == "" {
		ptag = cos.GenUUID()
	}
	st.WriteTag = ptag
	op.SetXattr(attrIDTag, []byte(ptag))
}

// completeAtomicModification queues the replaced state's tail chain for
// garbage collection. Called after the head write commits, with the
// state that was current before it.
func (s *Store) completeAtomicModification(ix *rados.IOCtx, st *ObjState, headOid string) error {
	if !st.Exists || !st.HasManifest {
		return nil
	}
	chain := chainFromManifest(&st.Manifest, headOid)
	if len(chain.Objs) == 0 {
		return nil
	}
	tag := st.ObjTag
	if tag == "" {
		tag = st.WriteTag
	}
	if err := s.gcSendChain(chain, tag); err != nil {
		nlog.Errorf("gc chain for %s/%s (tag %s): %v", ix.Pool(), headOid, tag, err)
		return err
	}
	return nil
}

// pendingAttrs filters the olh pending entries out of a resolved attr
// map, keyed by op tag.
func pendingAttrs(attrs map[string][]byte) map[string][]byte {
	var m map[string][]byte
	for k, v := range attrs {
		if strings.HasPrefix(k, attrOlhPending) {
			if m == nil {
				m = make(map[string][]byte, 4)
			}
			m[k] = v
		}
	}
	return m
}
