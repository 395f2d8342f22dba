/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
	"golang.org/x/sync/errgroup"
)

// PutSystemObj writes a metadata object in one shot; exclusive create
// surfaces ErrExists.
func (s *Store) PutSystemObj(pool, oid string, b []byte, attrs map[string][]byte, exclusive bool) error {
	ix, err := s.ioctxCreate(pool)
	if err != nil {
		return err
	}
	op := rados.NewWriteOp()
	if exclusive {
		op.Create(true)
	}
	op.WriteFull(b)
	for name, val := range attrs {
		op.SetXattr(name, val)
	}
	return ix.Operate(oid, op)
}

func (s *Store) GetSystemObj(pool, oid string) ([]byte, error) {
	ix, err := s.ioctx(pool)
	if err != nil {
		return nil, err
	}
	return ix.Read(oid, 0, -1)
}

type (
	PutResult struct {
		Etag     string
		Mtime    time.Time
		Size     int64
		Epoch    uint64
		Instance string // versioned puts only
		// Raced: another writer replaced the object mid-put; its data
		// and index entry stand, ours was canceled
		Raced bool
	}

	pendingWrite struct {
		cp   *rados.Completion
		size int64
	}

	// atomicPutter streams one object: the head region is held back and
	// written last (with attrs, manifest, and the index transaction
	// around it), tail stripes go out async under a byte window.
	atomicPutter struct {
		s       *Store
		bi      *BucketInfo
		name    string // index entry name
		params  *PutObjParams
		dataIx  *rados.IOCtx
		indexIx *rados.IOCtx

		headOid  string
		manifest Manifest
		gen      ManifestGen
		md5      hash.Hash

		headData    []byte
		stripeOid   string
		stripeStart int64
		stripeMax   int64
		ofs         int64

		pending      []pendingWrite
		pendingBytes int64
		writtenObjs  []string
		versioned    bool
		err          error
	}
)

// interface guard
var _ io.Writer = (*atomicPutter)(nil)

func (s *Store) newAtomicPutter(bi *BucketInfo, name, headOid string, versioned bool, params *PutObjParams) (*atomicPutter, error) {
	dataIx, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return nil, err
	}
	indexIx, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	p := &atomicPutter{
		s: s, bi: bi, name: name, params: params,
		dataIx: dataIx, indexIx: indexIx,
		headOid:   headOid,
		stripeMax: s.cfg.ObjStripeSize,
		md5:       md5.New(),
		versioned: versioned,
	}
	p.manifest.SetTrivialRule(s.cfg.MaxChunkSize, s.cfg.ObjStripeSize)
	p.gen.CreateBegin(&p.manifest, bi.Bucket.Marker, headOid, bi.Bucket.Pool)
	return p, nil
}

// Write accepts the next slice of the object. Bytes under MaxHeadSize
// accumulate for the deferred head write; the rest cut into chunks that
// never cross a stripe boundary and ship async.
func (p *atomicPutter) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n := len(b)
	m := &p.manifest
	for len(b) > 0 {
		if p.ofs < m.MaxHeadSize {
			take := min(int64(len(b)), m.MaxHeadSize-p.ofs)
			p.headData = append(p.headData, b[:take]...)
			p.md5.Write(b[:take])
			p.ofs += take
			b = b[take:]
			continue
		}
		if p.stripeOid == "" || p.ofs == p.stripeStart+p.stripeMax {
			if err := p.gen.CreateNext(p.ofs); err != nil {
				p.err = err
				return 0, err
			}
			p.stripeOid = p.gen.CurOid()
			p.stripeStart = p.ofs
			p.writtenObjs = append(p.writtenObjs, p.stripeOid)
		}
		take := min(int64(len(b)), p.s.cfg.MaxChunkSize, p.stripeStart+p.stripeMax-p.ofs)
		buf := make([]byte, take)
		copy(buf, b[:take])
		p.md5.Write(buf)
		op := rados.NewWriteOp().Write(p.ofs-p.stripeStart, buf)
		p.pending = append(p.pending, pendingWrite{cp: p.dataIx.AioOperate(p.stripeOid, op), size: take})
		p.pendingBytes += take
		p.ofs += take
		b = b[take:]
		if err := p.throttle(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// throttle blocks on the oldest in-flight write while over the window.
func (p *atomicPutter) throttle() error {
	for p.pendingBytes > p.s.cfg.PutMinWindow && len(p.pending) > 0 {
		pw := p.pending[0]
		p.pending = p.pending[1:]
		p.pendingBytes -= pw.size
		if err := pw.cp.WaitForComplete(); err != nil {
			p.err = err
			return err
		}
	}
	return nil
}

func (p *atomicPutter) drain() error {
	group, _ := errgroup.WithContext(context.Background())
	for _, pw := range p.pending {
		group.Go(pw.cp.WaitForComplete)
	}
	p.pending = p.pending[:0]
	p.pendingBytes = 0
	if err := group.Wait(); err != nil {
		p.err = err
		return err
	}
	return nil
}

// Complete drains the pipeline, writes the head (data, attrs, manifest)
// under the atomicity guard, and runs the index transaction around it.
// A lost race on an unversioned put is success: the winner's object and
// index entry stand.
func (p *atomicPutter) Complete() (*PutResult, error) {
	if err := p.drain(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := p.gen.CreateNext(p.ofs); err != nil {
		return nil, err
	}

	s := p.s
	s.invalidateState(p.dataIx, p.headOid)
	st, err := s.getObjState(p.dataIx, p.headOid)
	if err != nil {
		return nil, err
	}

	res := &PutResult{
		Etag:  hex.EncodeToString(p.md5.Sum(nil)),
		Mtime: p.params.Mtime,
		Size:  p.ofs,
	}
	if res.Mtime.IsZero() {
		res.Mtime = time.Now()
	}

	wop := rados.NewWriteOp()
	s.prepareAtomicModification(wop, st, p.params.PTag)
	wop.WriteFull(p.headData)
	wop.SetXattr(AttrETag, []byte(res.Etag))
	if p.params.ContentType != "" {
		wop.SetXattr(AttrContentType, []byte(p.params.ContentType))
	}
	for name, val := range p.params.Attrs {
		wop.SetXattr(name, val)
	}
	wop.SetXattr(attrManifest, cos.PackBytes(&p.manifest))

	if p.versioned {
		// no plain-entry transaction: link_olh writes the instance entry
		// and repoints the head
		if err := p.dataIx.Operate(p.headOid, wop); err != nil {
			s.invalidateState(p.dataIx, p.headOid)
			return nil, err
		}
		res.Epoch = p.dataIx.GetLastVersion()
		if err := s.completeAtomicModification(p.dataIx, st, p.headOid); err != nil {
			nlog.Errorf("put %s/%s: gc old tail: %v", p.bi.Bucket.Name, p.name, err)
		}
		s.invalidateState(p.dataIx, p.headOid)
		return res, nil
	}

	tag := st.WriteTag
	if err := s.indexPrepare(p.indexIx, p.bi, p.name, tag, clsrgw.OpAdd); err != nil {
		return nil, err
	}
	if err := p.dataIx.Operate(p.headOid, wop); err != nil {
		s.invalidateState(p.dataIx, p.headOid)
		if errors.Is(err, cos.ErrRaced) || errors.Is(err, cos.ErrTryAgain) {
			if cerr := s.indexCancel(p.indexIx, p.bi, p.name, tag); cerr != nil {
				nlog.Errorf("put %s/%s: cancel index op: %v", p.bi.Bucket.Name, p.name, cerr)
			}
			res.Raced = true
			return res, nil
		}
		if cerr := s.indexCancel(p.indexIx, p.bi, p.name, tag); cerr != nil {
			nlog.Errorf("put %s/%s: cancel index op: %v", p.bi.Bucket.Name, p.name, cerr)
		}
		return nil, err
	}
	res.Epoch = p.dataIx.GetLastVersion()
	if err := s.completeAtomicModification(p.dataIx, st, p.headOid); err != nil {
		nlog.Errorf("put %s/%s: gc old tail: %v", p.bi.Bucket.Name, p.name, err)
	}
	meta := clsrgw.Meta{
		Mtime: res.Mtime, Size: uint64(res.Size), AccountedSize: uint64(res.Size),
		Etag: res.Etag, Owner: s.owner(p.params.Owner, p.bi), OwnerDisplay: p.params.OwnerDisplay,
		ContentType: p.params.ContentType, Category: clsrgw.CatMain,
	}
	err = s.indexComplete(p.indexIx, p.bi, &clsrgw.CompleteOp{
		Name: p.name, Tag: tag, Op: clsrgw.OpAdd,
		Ver:  clsrgw.ObjVer{Pool: p.dataIx.PoolID(), Epoch: res.Epoch},
		Meta: meta,
	})
	s.invalidateState(p.dataIx, p.headOid)
	if err != nil {
		return nil, err
	}
	if cos.FastV(5, cos.SmoduleRGW) {
		nlog.Infof("put %s/%s: %d B, etag %s, epoch %d", p.bi.Bucket.Name, p.name, res.Size, res.Etag, res.Epoch)
	}
	return res, nil
}

// Abort drops the tail stripes written so far; best effort.
func (p *atomicPutter) Abort() {
	_ = p.drain()
	for _, oid := range p.writtenObjs {
		if err := p.dataIx.Remove(oid); err != nil && !cos.IsErrNotFound(err) {
			nlog.Errorf("abort put %s/%s: remove %s: %v", p.bi.Bucket.Name, p.name, oid, err)
		}
	}
	p.writtenObjs = nil
}
