/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"io"
	"time"

	clsref "github.com/NVIDIA/radstore/cls/refcount"
	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

type CopyObjParams struct {
	SrcInstance  string
	Owner        string
	OwnerDisplay string
	ContentType  string
	// Attrs replaces the user attrs wholesale; nil inherits the source's
	Attrs map[string][]byte
}

// CopyObj copies src onto dst. Copying an object onto itself rewrites
// metadata in place; a striped source is cloned by reference (the tail
// stripes are shared and refcounted, only head bytes travel); anything
// else streams through a regular put.
func (s *Store) CopyObj(sbi *BucketInfo, srcName string, dbi *BucketInfo, dstName string, params *CopyObjParams) (*PutResult, error) {
	if params == nil {
		params = &CopyObjParams{}
	}
	srcIx, err := s.ioctx(sbi.Bucket.Pool)
	if err != nil {
		return nil, err
	}
	var (
		sst    *ObjState
		srcOid string
	)
	if sbi.Versioned() && params.SrcInstance == "" {
		var srcInstance string
		if sst, srcInstance, _, err = s.followOLH(srcIx, sbi, srcName); err != nil {
			return nil, err
		}
		srcOid = sbi.instanceOid(srcName, srcInstance)
	} else {
		srcOid = sbi.instanceOid(srcName, params.SrcInstance)
		s.invalidateState(srcIx, srcOid)
		if sst, err = s.getObjState(srcIx, srcOid); err != nil {
			return nil, err
		}
		if !sst.Exists {
			return nil, errNoSuchKey(sbi.Bucket.Name, srcName)
		}
	}

	if sbi.Bucket.BucketID == dbi.Bucket.BucketID && srcName == dstName &&
		params.SrcInstance == "" && !dbi.Versioned() {
		return s.rewriteObjMeta(srcIx, dbi, dstName, sst, params)
	}

	if sst.HasManifest {
		if chain := chainFromManifest(&sst.Manifest, sst.Manifest.HeadObj); len(chain.Objs) > 0 {
			return s.shallowCopy(srcIx, sst, chain, dbi, dstName, params)
		}
	}
	return s.deepCopy(srcIx, sst, srcOid, dbi, dstName, params)
}

// rewriteObjMeta is the copy-onto-itself path: same data, fresh attrs,
// fresh mtime, one index round-trip.
func (s *Store) rewriteObjMeta(ix *rados.IOCtx, bi *BucketInfo, name string, st *ObjState, params *CopyObjParams) (res *PutResult, err error) {
	owner := s.owner(params.Owner, bi)
	defer func() { s.logUsage(owner, bi.Bucket.Name, 0, 0, err) }()

	idx, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	var (
		oid = bi.headOid(name)
		tag = cos.GenUUID()
		now = time.Now()
	)
	if err = s.indexPrepare(idx, bi, name, tag, clsrgw.OpAdd); err != nil {
		return nil, err
	}
	wop := rados.NewWriteOp()
	st.guardOp(wop)
	if params.Attrs != nil {
		for k := range filterUserAttrs(st.Attrs) {
			// etag and content type ride along; replacement covers the
			// caller-owned attrs only
			if k == AttrETag || k == AttrContentType {
				continue
			}
			if _, keep := params.Attrs[k]; !keep {
				wop.RmXattr(k)
			}
		}
		for k, v := range params.Attrs {
			wop.SetXattr(k, v)
		}
	}
	if params.ContentType != "" {
		wop.SetXattr(AttrContentType, []byte(params.ContentType))
	}
	err = ix.Operate(oid, wop)
	s.invalidateState(ix, oid)
	if err != nil {
		if cancelErr := s.indexCancel(idx, bi, name, tag); cancelErr != nil {
			nlog.Errorf("copy %s/%s: cancel: %v", bi.Bucket.Name, name, cancelErr)
		}
		if errors.Is(err, cos.ErrRaced) || errors.Is(err, cos.ErrTryAgain) {
			return &PutResult{Raced: true}, nil
		}
		return nil, err
	}
	size := uint64(st.Size)
	if st.HasManifest {
		size = uint64(st.Manifest.ObjSize)
	}
	ct := params.ContentType
	if ct == "" {
		ct = string(st.Attrs[AttrContentType])
	}
	res = &PutResult{
		Etag:  string(st.Attrs[AttrETag]),
		Mtime: now,
		Size:  int64(size),
		Epoch: ix.GetLastVersion(),
	}
	err = s.indexComplete(idx, bi, &clsrgw.CompleteOp{
		Name: name, Tag: tag, Op: clsrgw.OpAdd,
		Ver: clsrgw.ObjVer{Pool: ix.PoolID(), Epoch: res.Epoch},
		Meta: clsrgw.Meta{
			Mtime: now, Size: size, AccountedSize: size,
			Etag: res.Etag, Owner: owner, OwnerDisplay: params.OwnerDisplay,
			ContentType: ct, Category: clsrgw.CatMain,
		},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// shallowCopy shares the source's tail: one refcount get per stripe,
// head bytes rewritten under the destination oid, manifest repointed.
func (s *Store) shallowCopy(srcIx *rados.IOCtx, sst *ObjState, chain clsrgw.GCChain, dbi *BucketInfo, dstName string, params *CopyObjParams) (res *PutResult, err error) {
	owner := s.owner(params.Owner, dbi)
	size := sst.Manifest.ObjSize
	if err = s.CheckQuota(owner, dbi, 1, size); err != nil {
		s.logUsage(owner, dbi.Bucket.Name, 0, 0, err)
		return nil, err
	}
	defer func() { s.logUsage(owner, dbi.Bucket.Name, 0, 0, err) }()

	var (
		versioned = dbi.Versioned()
		destTag   = cos.GenUUID()
		instance  string
	)
	if dbi.VersioningEnabled() {
		instance = genObjInstance()
	}
	destOid := dbi.instanceOid(dstName, instance)

	refed, err := s.refTailChain(chain, destTag)
	if err != nil {
		s.unrefTailChain(refed, destTag)
		return nil, err
	}

	var headData []byte
	if sst.Manifest.HeadSize > 0 {
		if headData, err = srcIx.Read(sst.Manifest.HeadObj, 0, sst.Manifest.HeadSize); err != nil {
			s.unrefTailChain(refed, destTag)
			return nil, err
		}
	}
	man := sst.Manifest
	man.HeadObj = destOid

	dstIx, err := s.ioctx(dbi.Bucket.Pool)
	if err != nil {
		s.unrefTailChain(refed, destTag)
		return nil, err
	}
	s.invalidateState(dstIx, destOid)
	dst, err := s.getObjState(dstIx, destOid)
	if err != nil {
		s.unrefTailChain(refed, destTag)
		return nil, err
	}

	now := time.Now()
	wop := rados.NewWriteOp()
	s.prepareAtomicModification(wop, dst, destTag)
	wop.WriteFull(headData)
	attrs := params.Attrs
	if attrs == nil {
		attrs = filterUserAttrs(sst.Attrs)
	}
	for k, v := range attrs {
		wop.SetXattr(k, v)
	}
	etag := string(sst.Attrs[AttrETag])
	if etag != "" {
		wop.SetXattr(AttrETag, []byte(etag))
	}
	ct := params.ContentType
	if ct == "" {
		ct = string(sst.Attrs[AttrContentType])
	}
	if ct != "" {
		wop.SetXattr(AttrContentType, []byte(ct))
	}
	wop.SetXattr(attrManifest, cos.PackBytes(&man))

	res = &PutResult{Etag: etag, Mtime: now, Size: size, Instance: instance}
	meta := clsrgw.Meta{
		Mtime: now, Size: uint64(size), AccountedSize: uint64(size),
		Etag: etag, Owner: owner, OwnerDisplay: params.OwnerDisplay,
		ContentType: ct, Category: clsrgw.CatMain,
	}

	if versioned {
		if err = dstIx.Operate(destOid, wop); err != nil {
			s.invalidateState(dstIx, destOid)
			s.unrefTailChain(refed, destTag)
			return nil, err
		}
		res.Epoch = dstIx.GetLastVersion()
		if cerr := s.completeAtomicModification(dstIx, dst, destOid); cerr != nil {
			nlog.Errorf("copy %s/%s: gc chain: %v", dbi.Bucket.Name, dstName, cerr)
		}
		s.invalidateState(dstIx, destOid)
		target := instance
		if target == "" {
			target = nullInstance
		}
		if err = s.SetOLH(dbi, dstName, target, &meta, false); err != nil {
			return nil, err
		}
	} else {
		idx, ierr := s.indexCtx(dbi)
		if ierr != nil {
			s.unrefTailChain(refed, destTag)
			return nil, ierr
		}
		if err = s.indexPrepare(idx, dbi, dstName, destTag, clsrgw.OpAdd); err != nil {
			s.unrefTailChain(refed, destTag)
			return nil, err
		}
		err = dstIx.Operate(destOid, wop)
		s.invalidateState(dstIx, destOid)
		if err != nil {
			if cancelErr := s.indexCancel(idx, dbi, dstName, destTag); cancelErr != nil {
				nlog.Errorf("copy %s/%s: cancel: %v", dbi.Bucket.Name, dstName, cancelErr)
			}
			s.unrefTailChain(refed, destTag)
			if errors.Is(err, cos.ErrRaced) || errors.Is(err, cos.ErrTryAgain) {
				res.Raced = true
				return res, nil
			}
			return nil, err
		}
		res.Epoch = dstIx.GetLastVersion()
		if cerr := s.completeAtomicModification(dstIx, dst, destOid); cerr != nil {
			nlog.Errorf("copy %s/%s: gc chain: %v", dbi.Bucket.Name, dstName, cerr)
		}
		err = s.indexComplete(idx, dbi, &clsrgw.CompleteOp{
			Name: dstName, Tag: destTag, Op: clsrgw.OpAdd,
			Ver:  clsrgw.ObjVer{Pool: dstIx.PoolID(), Epoch: res.Epoch},
			Meta: meta,
		})
		if err != nil {
			return nil, err
		}
	}
	s.quota.adjustStats(owner, dbi, 1, size)
	return res, nil
}

func (s *Store) refTailChain(chain clsrgw.GCChain, tag string) (refed []clsrgw.GCObj, _ error) {
	in := cos.PackBytes(&clsref.Op{Tag: tag, ImplicitRef: true})
	for _, obj := range chain.Objs {
		pool := obj.Pool
		if pool == "" {
			pool = s.cfg.DataPool
		}
		ix, err := s.ioctx(pool)
		if err != nil {
			return refed, err
		}
		if _, err := ix.Exec(obj.Oid, "refcount", "get", in); err != nil {
			return refed, err
		}
		refed = append(refed, obj)
	}
	return refed, nil
}

func (s *Store) unrefTailChain(refed []clsrgw.GCObj, tag string) {
	in := cos.PackBytes(&clsref.Op{Tag: tag})
	for _, obj := range refed {
		pool := obj.Pool
		if pool == "" {
			pool = s.cfg.DataPool
		}
		ix, err := s.ioctx(pool)
		if err != nil {
			nlog.Errorf("copy rollback %s: %v", obj.Oid, err)
			continue
		}
		if _, err := ix.Exec(obj.Oid, "refcount", "put", in); err != nil && !cos.IsErrNotFound(err) {
			nlog.Errorf("copy rollback %s: %v", obj.Oid, err)
		}
	}
}

// deepCopy streams the source through a regular put; quota, index, and
// usage accounting ride along.
func (s *Store) deepCopy(srcIx *rados.IOCtx, sst *ObjState, srcOid string, dbi *BucketInfo, dstName string, params *CopyObjParams) (*PutResult, error) {
	attrs := params.Attrs
	if attrs == nil {
		attrs = filterUserAttrs(sst.Attrs)
	}
	ct := params.ContentType
	if ct == "" {
		ct = string(sst.Attrs[AttrContentType])
	}
	size := sst.Size
	if sst.HasManifest {
		size = sst.Manifest.ObjSize
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.readObjData(srcIx, sst, srcOid, pw))
	}()
	defer pr.Close()
	return s.PutObj(dbi, dstName, pr, &PutObjParams{
		Owner:        params.Owner,
		OwnerDisplay: params.OwnerDisplay,
		ContentType:  ct,
		Attrs:        attrs,
		Size:         size,
	})
}
