/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"context"
	"strings"
	"time"

	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/rados"
	"golang.org/x/sync/errgroup"
)

const listMaxDefault = 1000

type (
	ListObjectsParams struct {
		Prefix    string
		Delimiter string
		Marker    string
		Max       int
	}

	ListedObject struct {
		Mtime       time.Time
		Name        string
		Instance    string
		Etag        string
		Owner       string
		ContentType string
		Size        uint64
	}

	ListObjectsResult struct {
		Objects        []ListedObject
		CommonPrefixes []string
		NextMarker     string
		Truncated      bool
	}

	// shardLister pages through one index shard; the merge pulls entries
	// off its head in key order.
	shardLister struct {
		ix     *rados.IOCtx
		bi     *BucketInfo
		prefix string
		marker string
		buf    []clsrgw.Entry
		shard  int
		pos    int
		more   bool
	}
)

func (sl *shardLister) fetch(want int) error {
	in := cos.PackBytes(&clsrgw.ListOp{Start: sl.marker, Prefix: sl.prefix, Max: uint32(want)})
	out, err := sl.ix.Exec(sl.bi.indexOid(sl.shard), "rgw", "bucket_list", in)
	if err != nil {
		return err
	}
	reply := &clsrgw.ListReply{}
	if err := cos.UnpackBytes(out, reply); err != nil {
		return err
	}
	sl.buf, sl.pos, sl.more = reply.Entries, 0, reply.Truncated
	if len(sl.buf) > 0 {
		sl.marker = sl.buf[len(sl.buf)-1].Name
	}
	return nil
}

// head returns the next unconsumed entry, refilling from the shard when
// the local page drains; nil means the shard is exhausted.
func (sl *shardLister) head(want int) (*clsrgw.Entry, error) {
	for sl.pos >= len(sl.buf) {
		if !sl.more {
			return nil, nil
		}
		if err := sl.fetch(want); err != nil {
			return nil, err
		}
	}
	return &sl.buf[sl.pos], nil
}

func (sl *shardLister) pop() { sl.pos++ }

// pending reports whether the shard may still hold entries without
// touching the wire.
func (sl *shardLister) pending() bool { return sl.pos < len(sl.buf) || sl.more }

// ListObjects merges the bucket's index shards into one key-ordered
// page. Entries carrying unfinished write ops are verified against the
// head object and repaired (or dropped) via asynchronous suggestions to
// the owning shard.
func (s *Store) ListObjects(bi *BucketInfo, params *ListObjectsParams) (*ListObjectsResult, error) {
	if params == nil {
		params = &ListObjectsParams{}
	}
	max := params.Max
	if max <= 0 || max > listMaxDefault {
		max = listMaxDefault
	}
	ix, err := s.indexCtx(bi)
	if err != nil {
		return nil, err
	}
	dataIx, err := s.ioctx(bi.Bucket.Pool)
	if err != nil {
		return nil, err
	}

	numShards := bi.numIndexShards()
	listers := make([]*shardLister, numShards)
	group, _ := errgroup.WithContext(context.Background())
	for i := range numShards {
		sl := &shardLister{ix: ix, bi: bi, shard: i, prefix: params.Prefix, marker: params.Marker}
		listers[i] = sl
		group.Go(func() error { return sl.fetch(max) })
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var (
		res         = &ListObjectsResult{}
		suggestions map[int][]clsrgw.SuggestChange
		seenPrefix  map[string]struct{}
		count       int
	)
	for count < max {
		var (
			best   *clsrgw.Entry
			bestSl *shardLister
		)
		for _, sl := range listers {
			e, err := sl.head(max - count)
			if err != nil {
				return nil, err
			}
			if e == nil {
				continue
			}
			if best == nil || e.Name < best.Name {
				best, bestSl = e, sl
			}
		}
		if best == nil {
			break
		}
		e := *best
		bestSl.pop()

		// repair plain entries with unfinished ops against the head object
		if e.Instance == "" && (!e.Exists || len(e.Pending) > 0) {
			keep, change := s.checkDiskState(dataIx, bi, &e)
			if change != nil {
				if suggestions == nil {
					suggestions = make(map[int][]clsrgw.SuggestChange, numShards)
				}
				suggestions[bestSl.shard] = append(suggestions[bestSl.shard], *change)
			}
			if !keep {
				continue
			}
			if change != nil {
				e = change.Entry
			}
		}
		if !e.Exists {
			continue
		}

		if params.Delimiter != "" {
			rest := e.Name[len(params.Prefix):]
			if i := strings.Index(rest, params.Delimiter); i >= 0 {
				cp := e.Name[:len(params.Prefix)+i+len(params.Delimiter)]
				if _, ok := seenPrefix[cp]; ok || cp <= params.Marker {
					continue
				}
				if seenPrefix == nil {
					seenPrefix = make(map[string]struct{}, 8)
				}
				seenPrefix[cp] = struct{}{}
				res.CommonPrefixes = append(res.CommonPrefixes, cp)
				res.NextMarker = cp
				count++
				continue
			}
		}
		res.Objects = append(res.Objects, listedObject(&e))
		res.NextMarker = e.Name
		count++
	}

	for _, sl := range listers {
		if sl.pending() {
			res.Truncated = true
			break
		}
	}
	if !res.Truncated {
		res.NextMarker = ""
	}
	for shard, changes := range suggestions {
		s.indexSuggest(ix, bi, shard, changes)
	}
	return res, nil
}

func listedObject(e *clsrgw.Entry) ListedObject {
	return ListedObject{
		Name:        e.Name,
		Instance:    e.Instance,
		Etag:        e.Meta.Etag,
		Owner:       e.Meta.Owner,
		ContentType: e.Meta.ContentType,
		Mtime:       e.Meta.Mtime,
		Size:        e.Meta.Size,
	}
}

// checkDiskState compares an index entry against its head object and
// produces the suggestion that brings the index in line: remove when
// the object is gone, update with the authoritative meta otherwise.
// Resolution errors fail open and keep the entry as listed.
func (s *Store) checkDiskState(ix *rados.IOCtx, bi *BucketInfo, e *clsrgw.Entry) (keep bool, change *clsrgw.SuggestChange) {
	oid := bi.headOid(e.Name)
	s.invalidateState(ix, oid)
	st, err := s.getObjState(ix, oid)
	if err != nil {
		nlog.Errorf("list %s: check %q: %v", bi.Bucket.Name, e.Name, err)
		return true, nil
	}
	if !st.Exists {
		return false, &clsrgw.SuggestChange{Entry: *e, Op: clsrgw.SuggestRemove}
	}
	fixed := *e
	fixed.Exists = true
	fixed.Pending = nil
	fixed.Meta.Mtime = st.Mtime
	fixed.Meta.Size = uint64(st.Size)
	if st.HasManifest {
		fixed.Meta.Size = uint64(st.Manifest.ObjSize)
	}
	fixed.Meta.AccountedSize = fixed.Meta.Size
	if b, ok := st.Attrs[AttrETag]; ok {
		fixed.Meta.Etag = string(b)
	}
	if b, ok := st.Attrs[AttrContentType]; ok {
		fixed.Meta.ContentType = string(b)
	}
	if fixed.Meta.Category == clsrgw.CatNone {
		fixed.Meta.Category = clsrgw.CatMain
	}
	return true, &clsrgw.SuggestChange{Entry: fixed, Op: clsrgw.SuggestUpdate}
}
