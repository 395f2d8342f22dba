/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
)

type (
	PutObjParams struct {
		Owner        string // defaults to the bucket owner
		OwnerDisplay string
		ContentType  string
		Attrs        map[string][]byte
		Mtime        time.Time
		PTag         string // write-tag override
		Instance     string // explicit version id
		Size         int64  // expected size, for the quota admission check
	}

	GetObjParams struct {
		Instance string // "" reads the current version
	}

	DeleteObjParams struct {
		Owner    string
		Instance string // "" deletes the head (marker in a versioned bucket)
	}

	DeleteResult struct {
		// DeleteMarker: a marker was placed instead of removing data
		DeleteMarker bool
		VersionID    string
	}

	ObjInfo struct {
		Name         string
		Instance     string
		Etag         string
		ContentType  string
		Mtime        time.Time
		Attrs        map[string][]byte
		Size         int64
		Epoch        uint64
		DeleteMarker bool
	}
)

func errNoSuchKey(bucket, name string) error {
	return fmt.Errorf("%s/%s: %w", bucket, name, cos.ErrNotFound)
}

func (s *Store) owner(set string, bi *BucketInfo) string {
	if set != "" {
		return set
	}
	return bi.Owner
}

// PutObj streams r into the bucket. Versioning-enabled buckets mint an
// instance and link it through the olh; everything else lands on the
// plain head under the atomic-modification protocol.
func (s *Store) PutObj(bi *BucketInfo, name string, r io.Reader, params *PutObjParams) (*PutResult, error) {
	if params == nil {
		params = &PutObjParams{}
	}
	owner := s.owner(params.Owner, bi)
	if err := s.CheckQuota(owner, bi, 1, params.Size); err != nil {
		s.logUsage(owner, bi.Bucket.Name, 0, 0, err)
		return nil, err
	}
	var (
		versioned = bi.Versioned()
		instance  = params.Instance
	)
	// suspended versioning writes the null version: the head object
	// itself, linked through the olh under the "null" key
	if bi.VersioningEnabled() && instance == "" {
		instance = genObjInstance()
	}
	p, err := s.newAtomicPutter(bi, name, bi.instanceOid(name, instance), versioned, params)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(p, r); err != nil {
		p.Abort()
		s.logUsage(owner, bi.Bucket.Name, 0, 0, err)
		return nil, err
	}
	res, err := p.Complete()
	if err != nil {
		p.Abort()
		s.logUsage(owner, bi.Bucket.Name, 0, 0, err)
		return nil, err
	}
	if versioned {
		res.Instance = instance
		target := instance
		if target == "" {
			target = nullInstance
		}
		meta := clsrgw.Meta{
			Mtime: res.Mtime, Size: uint64(res.Size), AccountedSize: uint64(res.Size),
			Etag: res.Etag, Owner: owner, OwnerDisplay: params.OwnerDisplay,
			ContentType: params.ContentType, Category: clsrgw.CatMain,
		}
		if err := s.SetOLH(bi, name, target, &meta, false); err != nil {
			s.logUsage(owner, bi.Bucket.Name, 0, uint64(res.Size), err)
			return nil, err
		}
	}
	s.logUsage(owner, bi.Bucket.Name, 0, uint64(res.Size), nil)
	if !res.Raced {
		s.quota.adjustStats(owner, bi, 1, res.Size)
	}
	return res, nil
}

// GetObj writes the object's bytes to w (nil w: stat only) and returns
// its info. An empty Instance resolves through the olh in versioned
// buckets; a delete-marker head surfaces ErrNotFound with DeleteMarker
// set in the returned info.
func (s *Store) GetObj(bi *BucketInfo, name string, w io.Writer, params *GetObjParams) (*ObjInfo, error) {
	if params == nil {
		params = &GetObjParams{}
	}
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return nil, err
	}
	var (
		st       *ObjState
		instance = params.Instance
	)
	if bi.Versioned() && instance == "" {
		var dm bool
		st, instance, dm, err = s.followOLH(ix, bi, name)
		if err != nil {
			if cos.IsErrNotFound(err) {
				s.logUsage(bi.Owner, bi.Bucket.Name, 0, 0, err)
				return &ObjInfo{Name: name, Instance: instance, DeleteMarker: dm}, errNoSuchKey(bi.Bucket.Name, name)
			}
			return nil, err
		}
	} else {
		oid := bi.instanceOid(name, instance)
		s.invalidateState(ix, oid)
		if st, err = s.getObjState(ix, oid); err != nil {
			return nil, err
		}
		// a null read aliases the head object, which exists as a bare
		// olh anchor even when no null version was ever written
		if !st.Exists || (instance != "" && !st.HasManifest) {
			s.logUsage(bi.Owner, bi.Bucket.Name, 0, 0, cos.ErrNotFound)
			return nil, errNoSuchKey(bi.Bucket.Name, name)
		}
	}
	info := objInfoFromState(name, instance, st)
	if w == nil {
		return info, nil
	}
	if err := s.readObjData(ix, st, bi.instanceOid(name, instance), w); err != nil {
		s.logUsage(bi.Owner, bi.Bucket.Name, 0, 0, err)
		return nil, err
	}
	s.logUsage(bi.Owner, bi.Bucket.Name, uint64(info.Size), 0, nil)
	return info, nil
}

// StatObj is GetObj without the body.
func (s *Store) StatObj(bi *BucketInfo, name string, params *GetObjParams) (*ObjInfo, error) {
	return s.GetObj(bi, name, nil, params)
}

// readObjData streams the head region and then each manifest stripe in
// order; an object without a manifest reads in one piece.
func (s *Store) readObjData(ix *rados.IOCtx, st *ObjState, oid string, w io.Writer) error {
	if !st.HasManifest {
		b, err := ix.Read(oid, 0, -1)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	var written int64
	for it := st.Manifest.ObjBegin(); !it.End(); it.Next() {
		pool, soid := it.Loc()
		six := ix
		if pool != "" && pool != ix.Pool() {
			var err error
			if six, err = s.ioctx(pool); err != nil {
				return err
			}
		}
		b, err := six.Read(soid, it.LocOfs(), it.StripeSize())
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		written += int64(len(b))
	}
	if written != st.Manifest.ObjSize {
		return fmt.Errorf("%s: read %d of %d manifest bytes: %w", oid, written, st.Manifest.ObjSize, cos.ErrIO)
	}
	return nil
}

func objInfoFromState(name, instance string, st *ObjState) *ObjInfo {
	info := &ObjInfo{
		Name:     name,
		Instance: instance,
		Etag:     string(st.Attrs[AttrETag]),
		Mtime:    st.Mtime,
		Size:     st.Size,
		Epoch:    st.Epoch,
	}
	if st.HasManifest {
		info.Size = st.Manifest.ObjSize
	}
	if ct, ok := st.Attrs[AttrContentType]; ok {
		info.ContentType = string(ct)
	}
	info.Attrs = filterUserAttrs(st.Attrs)
	return info
}

// filterUserAttrs drops the gateway-internal attrs (atomicity tag,
// manifest, olh bookkeeping) from a resolved attr map.
func filterUserAttrs(attrs map[string][]byte) map[string][]byte {
	m := make(map[string][]byte, len(attrs))
	for k, v := range attrs {
		switch {
		case k == attrIDTag || k == attrManifest:
		case strings.HasPrefix(k, attrOlhIDTag) || strings.HasPrefix(k, attrOlhInfo) ||
			strings.HasPrefix(k, attrOlhVer) || strings.HasPrefix(k, attrOlhPending):
		default:
			m[k] = v
		}
	}
	return m
}

// DeleteObj removes an object. In a versioned bucket an empty Instance
// places a delete marker (the null instance when versioning is
// suspended); a named instance is unlinked and its data reclaimed.
// Unversioned deletes run the atomic protocol: the tail chain goes to
// GC before the guarded head remove.
func (s *Store) DeleteObj(bi *BucketInfo, name string, params *DeleteObjParams) (*DeleteResult, error) {
	if params == nil {
		params = &DeleteObjParams{}
	}
	owner := s.owner(params.Owner, bi)
	if bi.Versioned() {
		res, err := s.deleteVersioned(bi, name, owner, params.Instance)
		s.logUsage(owner, bi.Bucket.Name, 0, 0, err)
		return res, err
	}
	err := s.deletePlain(bi, name, owner)
	s.logUsage(owner, bi.Bucket.Name, 0, 0, err)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{}, nil
}

func (s *Store) deleteVersioned(bi *BucketInfo, name, owner, instance string) (*DeleteResult, error) {
	if instance == "" {
		marker := nullInstance
		if bi.VersioningEnabled() {
			marker = genObjInstance()
		}
		meta := clsrgw.Meta{Mtime: time.Now(), Owner: owner}
		if err := s.SetOLH(bi, name, marker, &meta, true); err != nil {
			return nil, err
		}
		return &DeleteResult{DeleteMarker: true, VersionID: marker}, nil
	}
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return nil, err
	}
	oid := bi.instanceOid(name, instance)
	s.invalidateState(ix, oid)
	st, err := s.getObjState(ix, oid)
	if err != nil {
		return nil, err
	}
	if err := s.UnlinkObjInstance(bi, name, instance); err != nil {
		return nil, err
	}
	// a delete-marker instance has no backing object and no stats; the
	// null instance aliases the head, which may be a bare olh anchor
	if st.Exists && st.HasManifest {
		s.quota.adjustStats(owner, bi, -1, -st.Manifest.ObjSize)
	}
	return &DeleteResult{VersionID: instance}, nil
}

func (s *Store) deletePlain(bi *BucketInfo, name, owner string) error {
	ix, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return err
	}
	indexIx, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	oid := bi.headOid(name)
	s.invalidateState(ix, oid)
	st, err := s.getObjState(ix, oid)
	if err != nil {
		return err
	}
	if !st.Exists {
		return errNoSuchKey(bi.Bucket.Name, name)
	}
	tag := cos.GenUUID()
	if err := s.indexPrepare(indexIx, bi, name, tag, clsrgw.OpDel); err != nil {
		return err
	}
	// queue the tail chain first: gc min-wait keeps the stripes readable
	// until in-flight readers finish
	if err := s.completeAtomicModification(ix, st, oid); err != nil {
		nlog.Errorf("delete %s/%s: gc chain: %v", bi.Bucket.Name, name, err)
	}
	wop := rados.NewWriteOp()
	st.guardOp(wop)
	wop.Remove()
	err = ix.Operate(oid, wop)
	s.invalidateState(ix, oid)
	switch {
	case err == nil:
	case errors.Is(err, cos.ErrRaced) || errors.Is(err, cos.ErrTryAgain):
		// the object was replaced mid-delete; the new write stands
		if cerr := s.indexCancel(indexIx, bi, name, tag); cerr != nil {
			nlog.Errorf("delete %s/%s: cancel index op: %v", bi.Bucket.Name, name, cerr)
		}
		return nil
	case cos.IsErrNotFound(err):
		// already gone; settle the index entry regardless
		if cerr := s.indexComplete(indexIx, bi, &clsrgw.CompleteOp{
			Name: name, Tag: tag, Op: clsrgw.OpDel, Ver: clsrgw.ObjVer{Pool: -1},
		}); cerr != nil {
			nlog.Errorf("delete %s/%s: complete index op: %v", bi.Bucket.Name, name, cerr)
		}
		return errNoSuchKey(bi.Bucket.Name, name)
	default:
		if cerr := s.indexCancel(indexIx, bi, name, tag); cerr != nil {
			nlog.Errorf("delete %s/%s: cancel index op: %v", bi.Bucket.Name, name, cerr)
		}
		return err
	}
	epoch := ix.GetLastVersion()
	if err := s.indexComplete(indexIx, bi, &clsrgw.CompleteOp{
		Name: name, Tag: tag, Op: clsrgw.OpDel,
		Ver: clsrgw.ObjVer{Pool: ix.PoolID(), Epoch: epoch},
	}); err != nil {
		return err
	}
	size := st.Size
	if st.HasManifest {
		size = st.Manifest.ObjSize
	}
	s.quota.adjustStats(owner, bi, -1, -size)
	if cos.FastV(5, cos.SmoduleRGW) {
		nlog.Infof("deleted %s/%s: %d B, epoch %d", bi.Bucket.Name, name, size, epoch)
	}
	return nil
}

func (s *Store) logUsage(owner, bucket string, sent, received uint64, err error) {
	u := clsrgw.UsageInfo{BytesSent: sent, BytesReceived: received, Ops: 1}
	if err == nil {
		u.SuccessfulOps = 1
	}
	s.usage.add(owner, bucket, u)
}
