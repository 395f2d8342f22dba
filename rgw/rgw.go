// Package rgw is the gateway layer over the rados cluster: buckets with
// sharded indexes, manifest-striped objects, olh versioning, quotas, and
// the usage/ops/data-change logs. It speaks no HTTP; callers are the
// radstore CLI and tests.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/hk"
	"github.com/NVIDIA/radstore/rados"
)

// object xattrs
const (
	attrPrefix = "user.rgw."

	AttrETag        = attrPrefix + "etag"
	AttrACL         = attrPrefix + "acl"
	AttrContentType = attrPrefix + "content_type"

	attrIDTag      = attrPrefix + "idtag"
	attrManifest   = attrPrefix + "manifest"
	attrOlhIDTag   = attrPrefix + "olh.idtag"
	attrOlhInfo    = attrPrefix + "olh.info"
	attrOlhVer     = attrPrefix + "olh.ver"
	attrOlhPending = attrPrefix + "olh.pending." // + op tag
)

// oid construction
const (
	bucketMetaOidPrefix = ".bucket.meta."
	dirOidPrefix        = ".dir."
	shadowNs            = "__shadow_"
	instanceSep         = "__"

	// nullInstance addresses the plain (unversioned) head of a name in
	// a versioned bucket
	nullInstance = "null"
)

var (
	ErrNoSuchBucket  = fmt.Errorf("no such bucket: %w", cos.ErrNotFound)
	ErrBucketExists  = fmt.Errorf("bucket already exists: %w", cos.ErrExists)
	ErrQuotaExceeded = fmt.Errorf("quota exceeded: %w", cos.ErrQuota)
)

// Store is one gateway instance bound to a cluster. All methods are
// safe for concurrent use.
type Store struct {
	c      *rados.Cluster
	cfg    *Config
	states *stateCache
	quota  *quotaHandler
	usage  *usageLogger
	dlog   *dataLog
	bgt    *hk.HK
	closed atomic.Bool
}

// Open validates the config, makes sure the gateway pools exist, and
// starts the background timers (usage flush, data-log renewal, quota
// write-back, gc).
func Open(c *rados.Cluster, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{c: c, cfg: cfg, states: newStateCache()}
	for _, pool := range []string{
		cfg.DomainRootPool, cfg.DataPool, cfg.IndexPool,
		cfg.GCPool, cfg.LogPool, cfg.UsagePool, cfg.UserPool,
	} {
		if _, err := c.CreatePool(pool); err != nil && !errors.Is(err, cos.ErrExists) {
			return nil, err
		}
	}
	s.quota = newQuotaHandler(s)
	s.usage = newUsageLogger(s)
	s.dlog = newDataLog(s)

	s.bgt = hk.New("rgw-hk")
	s.bgt.Reg("usage-flush"+hk.NameSuffix, s.usage.housekeep, cfg.Usage.TickIval.D())
	s.bgt.Reg("data-log-renew"+hk.NameSuffix, s.dlog.housekeep, cfg.DataLog.Window.D()*3/4)
	s.bgt.Reg("quota-buckets-sync"+hk.NameSuffix, s.quota.bucketsSyncHousekeep, cfg.Quota.BucketSyncIval.D())
	s.bgt.Reg("quota-user-sync"+hk.NameSuffix, s.quota.userSyncHousekeep, cfg.Quota.UserSyncIval.D())
	if cfg.GC.Enabled {
		s.bgt.Reg("gc"+hk.NameSuffix, s.gcHousekeep, cfg.GC.ProcessPeriod.D())
	}
	go s.bgt.Run()

	if cos.FastV(4, cos.SmoduleRGW) {
		nlog.Infof("gateway up: cluster %s, data pool %q, index pool %q", c.FSID(), cfg.DataPool, cfg.IndexPool)
	}
	return s, nil
}

func (s *Store) Cluster() *rados.Cluster { return s.c }
func (s *Store) Config() *Config         { return s.cfg }

// Close flushes the usage log and stops the timers. The cluster stays
// up; it belongs to the caller.
func (s *Store) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	s.bgt.Stop(nil)
	err := s.usage.flush()
	if cos.FastV(4, cos.SmoduleRGW) {
		nlog.Infof("gateway down: cluster %s", s.c.FSID())
	}
	return err
}

// ioctx mints a fresh handle: GetLastVersion and snapshot state are
// per-handle, and index epochs must not interleave across operations.
func (s *Store) ioctx(pool string) (*rados.IOCtx, error) { return s.c.NewIOCtx(pool) }

// ioctxCreate additionally creates a missing pool (the ops-log path:
// the pool may be removed out from under a long-lived store).
func (s *Store) ioctxCreate(pool string) (*rados.IOCtx, error) {
	ix, err := s.c.NewIOCtx(pool)
	if !cos.IsErrNotFound(err) {
		return ix, err
	}
	if _, err := s.c.CreatePool(pool); err != nil && !errors.Is(err, cos.ErrExists) {
		return nil, err
	}
	return s.c.NewIOCtx(pool)
}

//
// object naming
//

// headOid is the raw oid of a name's head object in the bucket's data
// pool.
func (bi *BucketInfo) headOid(name string) string {
	return bi.Bucket.Marker + "_" + name
}

// instanceOid addresses one version; the null instance aliases the
// plain head.
func (bi *BucketInfo) instanceOid(name, instance string) string {
	if instance == "" || instance == nullInstance {
		return bi.headOid(name)
	}
	return bi.headOid(name) + instanceSep + instance
}

func genObjInstance() string { return cos.GenUUID() }
