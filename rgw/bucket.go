/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"fmt"
	"time"

	clsuser "github.com/NVIDIA/radstore/cls/user"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// bucket flags
const (
	BucketSuspended         uint32 = 0x1
	BucketVersioned         uint32 = 0x2
	BucketVersionsSuspended uint32 = 0x4
)

type (
	Bucket struct {
		Name      string
		Pool      string // data pool
		IndexPool string
		// Marker prefixes every raw oid the bucket owns
		Marker   string
		BucketID string
	}

	BucketInfo struct {
		Bucket       Bucket
		Owner        string
		CreationTime time.Time
		Placement    string
		Flags        uint32
		NumShards    uint32
		Quota        QuotaInfo
	}

	// bucketEntryPoint maps the bucket name to its current instance;
	// kept at oid == name so bucket lookup is a single read.
	bucketEntryPoint struct {
		Bucket       Bucket
		Owner        string
		CreationTime time.Time
		Linked       bool
	}

	BucketOptions struct {
		Pool      string // data pool override
		IndexPool string
		Placement string
		NumShards uint32 // 0 = config default
		Quota     QuotaInfo
	}
)

func (bi *BucketInfo) Versioned() bool { return bi.Flags&BucketVersioned != 0 }

// VersioningEnabled: full versioning, new writes mint instances.
func (bi *BucketInfo) VersioningEnabled() bool {
	return bi.Flags&(BucketVersioned|BucketVersionsSuspended) == BucketVersioned
}

func (bi *BucketInfo) Suspended() bool { return bi.Flags&BucketSuspended != 0 }

func bucketInstanceOid(name, bucketID string) string {
	return bucketMetaOidPrefix + name + ":" + bucketID
}

// CreateBucket writes the bucket instance, initializes the index
// shards, links the entry point (exclusively: losing a name race
// returns ErrBucketExists), and records the bucket in the owner's
// directory.
func (s *Store) CreateBucket(owner, name string, opts *BucketOptions) (*BucketInfo, error) {
	if owner == "" || name == "" {
		return nil, cos.ErrInvalid
	}
	if opts == nil {
		opts = &BucketOptions{}
	}
	id := cos.GenUUID()
	bi := &BucketInfo{
		Bucket: Bucket{
			Name: name, Pool: s.cfg.DataPool, IndexPool: s.cfg.IndexPool,
			Marker: id, BucketID: id,
		},
		Owner:        owner,
		CreationTime: time.Now(),
		Placement:    opts.Placement,
		NumShards:    opts.NumShards,
		Quota:        opts.Quota,
	}
	if opts.Pool != "" {
		bi.Bucket.Pool = opts.Pool
	}
	if opts.IndexPool != "" {
		bi.Bucket.IndexPool = opts.IndexPool
	}
	if bi.NumShards == 0 {
		bi.NumShards = s.cfg.BucketIndexShards
	}
	for _, pool := range []string{bi.Bucket.Pool, bi.Bucket.IndexPool} {
		if _, err := s.c.CreatePool(pool); err != nil && !errors.Is(err, cos.ErrExists) {
			return nil, err
		}
	}
	if err := s.putBucketInstance(bi); err != nil {
		return nil, err
	}
	if err := s.initBucketIndex(bi); err != nil {
		return nil, err
	}
	ep := &bucketEntryPoint{Bucket: bi.Bucket, Owner: owner, CreationTime: bi.CreationTime, Linked: true}
	err := s.PutSystemObj(s.cfg.DomainRootPool, name, cos.PackBytes(ep), nil, true)
	if err != nil {
		if errors.Is(err, cos.ErrExists) {
			s.dropBucketObjects(bi)
			return nil, ErrBucketExists
		}
		return nil, err
	}
	if err := s.userAddBucket(owner, bi); err != nil {
		return nil, err
	}
	if cos.FastV(4, cos.SmoduleRGW) {
		nlog.Infof("created bucket %s id %s owner %s shards %d", name, id, owner, bi.NumShards)
	}
	return bi, nil
}

// dropBucketObjects removes the instance object and index shards of a
// bucket that lost the entry-point race; best effort.
func (s *Store) dropBucketObjects(bi *BucketInfo) {
	if ix, err := s.ioctx(s.cfg.DomainRootPool); err == nil {
		_ = ix.Remove(bucketInstanceOid(bi.Bucket.Name, bi.Bucket.BucketID))
	}
	ix, err := s.indexCtx(bi)
	if err != nil {
		return
	}
	for i := range bi.numIndexShards() {
		_ = ix.Remove(bi.indexOid(i))
	}
}

func (s *Store) getEntryPoint(name string) (*bucketEntryPoint, error) {
	b, err := s.GetSystemObj(s.cfg.DomainRootPool, name)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, ErrNoSuchBucket
		}
		return nil, err
	}
	ep := &bucketEntryPoint{}
	if err := cos.UnpackBytes(b, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Store) GetBucketInfo(name string) (*BucketInfo, error) {
	ep, err := s.getEntryPoint(name)
	if err != nil {
		return nil, err
	}
	b, err := s.GetSystemObj(s.cfg.DomainRootPool, bucketInstanceOid(ep.Bucket.Name, ep.Bucket.BucketID))
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, ErrNoSuchBucket
		}
		return nil, err
	}
	bi := &BucketInfo{}
	if err := cos.UnpackBytes(b, bi); err != nil {
		return nil, err
	}
	return bi, nil
}

func (s *Store) putBucketInstance(bi *BucketInfo) error {
	oid := bucketInstanceOid(bi.Bucket.Name, bi.Bucket.BucketID)
	return s.PutSystemObj(s.cfg.DomainRootPool, oid, cos.PackBytes(bi), nil, false)
}

// DeleteBucket refuses a non-empty bucket (live entries in any index
// shard) with ErrNotEmpty.
func (s *Store) DeleteBucket(name string) error {
	bi, err := s.GetBucketInfo(name)
	if err != nil {
		return err
	}
	stats, err := s.GetBucketStats(bi)
	if err != nil {
		return err
	}
	if sum := sumCategories(stats); sum.NumEntries > 0 {
		return fmt.Errorf("bucket %s has %d object(s): %w", name, sum.NumEntries, cos.ErrNotEmpty)
	}
	ix, err := s.indexCtx(bi)
	if err != nil {
		return err
	}
	for i := range bi.numIndexShards() {
		if err := ix.Remove(bi.indexOid(i)); err != nil && !cos.IsErrNotFound(err) {
			return err
		}
	}
	root, err := s.ioctx(s.cfg.DomainRootPool)
	if err != nil {
		return err
	}
	if err := root.Remove(bucketInstanceOid(bi.Bucket.Name, bi.Bucket.BucketID)); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if err := root.Remove(name); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if err := s.userRemoveBucket(bi.Owner, name); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	if cos.FastV(4, cos.SmoduleRGW) {
		nlog.Infof("deleted bucket %s id %s", name, bi.Bucket.BucketID)
	}
	return nil
}

// LinkBucket points the bucket at a (possibly new) owner: entry point
// rewritten, owner's directory updated, instance owner recorded.
func (s *Store) LinkBucket(owner string, bi *BucketInfo) error {
	ep := &bucketEntryPoint{Bucket: bi.Bucket, Owner: owner, CreationTime: bi.CreationTime, Linked: true}
	if err := s.PutSystemObj(s.cfg.DomainRootPool, bi.Bucket.Name, cos.PackBytes(ep), nil, false); err != nil {
		return err
	}
	if err := s.userAddBucket(owner, bi); err != nil {
		return err
	}
	if bi.Owner != owner {
		prev := bi.Owner
		bi.Owner = owner
		if err := s.putBucketInstance(bi); err != nil {
			return err
		}
		if prev != "" {
			if err := s.userRemoveBucket(prev, bi.Bucket.Name); err != nil && !cos.IsErrNotFound(err) {
				return err
			}
		}
	}
	return nil
}

// UnlinkBucket drops the bucket from the owner's directory and marks
// the entry point unlinked; the bucket and its objects stay.
func (s *Store) UnlinkBucket(owner, name string) error {
	ep, err := s.getEntryPoint(name)
	if err != nil {
		return err
	}
	if err := s.userRemoveBucket(owner, name); err != nil && !cos.IsErrNotFound(err) {
		return err
	}
	ep.Linked = false
	return s.PutSystemObj(s.cfg.DomainRootPool, name, cos.PackBytes(ep), nil, false)
}

// ListUserBuckets pages through the owner's bucket directory. A user
// with no directory object lists empty.
func (s *Store) ListUserBuckets(owner, marker string, max int) ([]clsuser.Entry, string, bool, error) {
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return nil, "", false, err
	}
	in := cos.PackBytes(&clsuser.ListOp{Marker: marker, Max: uint32(max)})
	out, err := ix.Exec(owner, "user", "list_buckets", in)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	var reply clsuser.ListReply
	if err := cos.UnpackBytes(out, &reply); err != nil {
		return nil, "", false, err
	}
	return reply.Entries, reply.Marker, reply.Truncated, nil
}

// SetBucketsEnabled flips the suspended flag on each named bucket;
// failures are logged and the sweep continues.
func (s *Store) SetBucketsEnabled(names []string, enabled bool) (err error) {
	for _, name := range names {
		bi, gerr := s.GetBucketInfo(name)
		if gerr != nil {
			nlog.Errorf("enable=%t bucket %s: %v", enabled, name, gerr)
			err = gerr
			continue
		}
		if enabled {
			bi.Flags &^= BucketSuspended
		} else {
			bi.Flags |= BucketSuspended
		}
		if perr := s.putBucketInstance(bi); perr != nil {
			nlog.Errorf("enable=%t bucket %s: %v", enabled, name, perr)
			err = perr
		}
	}
	return err
}

// SetBucketVersioning enables or suspends versioning. Suspension keeps
// the versioned flag: existing instances stay addressable while new
// writes land on the null instance.
func (s *Store) SetBucketVersioning(name string, enabled bool) (*BucketInfo, error) {
	bi, err := s.GetBucketInfo(name)
	if err != nil {
		return nil, err
	}
	if enabled {
		bi.Flags |= BucketVersioned
		bi.Flags &^= BucketVersionsSuspended
	} else if bi.Versioned() {
		bi.Flags |= BucketVersionsSuspended
	}
	if err := s.putBucketInstance(bi); err != nil {
		return nil, err
	}
	return bi, nil
}

//
// per-user bucket directory (cls/user)
//

func (s *Store) userAddBucket(owner string, bi *BucketInfo) error {
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return err
	}
	op := &clsuser.SetBucketsOp{
		Entries: []clsuser.Entry{{Bucket: bi.Bucket.Name, CreationTime: bi.CreationTime}},
		Time:    time.Now(),
		Add:     true,
	}
	_, err = ix.Exec(owner, "user", "set_buckets_info", cos.PackBytes(op))
	return err
}

func (s *Store) userRemoveBucket(owner, name string) error {
	if owner == "" {
		return nil
	}
	ix, err := s.ioctx(s.cfg.UserPool)
	if err != nil {
		return err
	}
	_, err = ix.Exec(owner, "user", "remove_bucket", cos.PackBytes(&clsuser.RemoveOp{Bucket: name}))
	return err
}

//
// codecs
//

// interface guards
var (
	_ cos.Packer   = (*BucketInfo)(nil)
	_ cos.Unpacker = (*BucketInfo)(nil)
	_ cos.Packer   = (*bucketEntryPoint)(nil)
	_ cos.Unpacker = (*bucketEntryPoint)(nil)
)

func (b *Bucket) pack(bw *cos.BytePack) {
	bw.WriteString(b.Name)
	bw.WriteString(b.Pool)
	bw.WriteString(b.IndexPool)
	bw.WriteString(b.Marker)
	bw.WriteString(b.BucketID)
}

func (b *Bucket) packedSize() int {
	return cos.PackedStrLen(b.Name) + cos.PackedStrLen(b.Pool) + cos.PackedStrLen(b.IndexPool) +
		cos.PackedStrLen(b.Marker) + cos.PackedStrLen(b.BucketID)
}

func (b *Bucket) unpack(br *cos.ByteUnpack) (err error) {
	if b.Name, err = br.ReadString(); err != nil {
		return err
	}
	if b.Pool, err = br.ReadString(); err != nil {
		return err
	}
	if b.IndexPool, err = br.ReadString(); err != nil {
		return err
	}
	if b.Marker, err = br.ReadString(); err != nil {
		return err
	}
	b.BucketID, err = br.ReadString()
	return err
}

func (bi *BucketInfo) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bi.Bucket.pack(bw)
	bw.WriteString(bi.Owner)
	bw.WriteTime(bi.CreationTime)
	bw.WriteString(bi.Placement)
	bw.WriteUint32(bi.Flags)
	bw.WriteUint32(bi.NumShards)
	bi.Quota.pack(bw)
}

func (bi *BucketInfo) PackedSize() int {
	return cos.SizeofI8 + bi.Bucket.packedSize() + cos.PackedStrLen(bi.Owner) + cos.SizeofI64 +
		cos.PackedStrLen(bi.Placement) + 2*cos.SizeofI32 + bi.Quota.packedSize()
}

func (bi *BucketInfo) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("bucket info: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	if err := bi.Bucket.unpack(br); err != nil {
		return err
	}
	if bi.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if bi.CreationTime, err = br.ReadTime(); err != nil {
		return err
	}
	if bi.Placement, err = br.ReadString(); err != nil {
		return err
	}
	if bi.Flags, err = br.ReadUint32(); err != nil {
		return err
	}
	if bi.NumShards, err = br.ReadUint32(); err != nil {
		return err
	}
	return bi.Quota.unpack(br)
}

func (ep *bucketEntryPoint) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	ep.Bucket.pack(bw)
	bw.WriteString(ep.Owner)
	bw.WriteTime(ep.CreationTime)
	bw.WriteBool(ep.Linked)
}

func (ep *bucketEntryPoint) PackedSize() int {
	return 2*cos.SizeofI8 + ep.Bucket.packedSize() + cos.PackedStrLen(ep.Owner) + cos.SizeofI64
}

func (ep *bucketEntryPoint) Unpack(br *cos.ByteUnpack) error {
	ver, err := br.ReadUint8()
	if err != nil {
		return err
	}
	if ver != 1 {
		return fmt.Errorf("bucket entry point: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	if err := ep.Bucket.unpack(br); err != nil {
		return err
	}
	if ep.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if ep.CreationTime, err = br.ReadTime(); err != nil {
		return err
	}
	ep.Linked, err = br.ReadBool()
	return err
}
