// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/kvdb"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/pglog"
)

// The catalog keeps cluster identity, pool metadata, and per-pool
// object blobs (export streams) in the same kvdb that backs the
// durable PG logs. Object blobs land on clean shutdown; PG-log entries
// stream continuously through pglog.Store.
const (
	catalogFname = "catalog.db"

	collCluster = "cluster"
	collPools   = "pools"
	collObjects = "objects"

	keyMeta = "meta"
)

type (
	clusterMeta struct {
		FSID   string `json:"fsid"`
		Epoch  uint64 `json:"epoch"`
		PoolID int64  `json:"pool_id"`
		SnapID int64  `json:"snap_id"`
		// client blocklist; expired entries are dropped on both ends
		Blocked map[string]time.Time `json:"blocked,omitempty"`
	}
	poolMeta struct {
		Name  string   `json:"name"`
		ID    int64    `json:"id"`
		PGNum int      `json:"pg_num"`
		Snaps []uint64 `json:"snaps,omitempty"`
	}
)

func (c *Cluster) openCatalog() error {
	db, err := kvdb.NewBuntDB(filepath.Join(c.cfg.Dir, catalogFname))
	if err != nil {
		return err
	}
	c.db = db
	c.plstore = pglog.NewStore(db)

	var meta clusterMeta
	err = db.Get(collCluster, keyMeta, &meta)
	if kvdb.IsErrNotFound(err) {
		return c.writeClusterMeta() // fresh directory: persist identity right away
	}
	if err != nil {
		return err
	}
	c.fsid = meta.FSID
	c.epoch.Store(max(meta.Epoch, 1))
	c.poolID.Store(meta.PoolID)
	c.snapID.Store(meta.SnapID)
	now := time.Now()
	for addr, until := range meta.Blocked {
		if until.After(now) {
			c.blocked[addr] = until
		}
	}

	pmetas, err := db.GetAll(collPools, "")
	if err != nil && !kvdb.IsErrNotFound(err) {
		return err
	}
	for name, raw := range pmetas {
		var pm poolMeta
		if err := cos.JSON.Unmarshal([]byte(raw), &pm); err != nil {
			return fmt.Errorf("catalog: pool %q meta: %w", name, err)
		}
		pgnum := pm.PGNum
		if pgnum <= 0 {
			pgnum = c.cfg.PGNum
		}
		p := newPool(pm.ID, name, pgnum)
		for _, id := range pm.Snaps {
			p.snaps[id] = struct{}{}
		}
		c.pools[name] = p
		c.byID[p.id] = p

		blob, err := db.GetString(collObjects, name)
		switch {
		case err == nil:
			if err := c.loadPool(p, strings.NewReader(blob)); err != nil {
				return fmt.Errorf("catalog: pool %q objects: %w", name, err)
			}
		case !kvdb.IsErrNotFound(err):
			return err
		}
		for i := range p.pgs {
			info, err := c.plstore.ReadInfo(pgKey(p.id, i))
			if err != nil {
				continue
			}
			sh := p.pgs[i]
			sh.version = max(sh.version, info.LastUpdate.Version)
		}
	}
	if len(c.pools) > 0 {
		nlog.Infoln("catalog: restored", len(c.pools), "pool(s) from", c.cfg.Dir)
	}
	return nil
}

// saveCatalog runs at Close: cluster meta, then every pool's meta and
// full object blob.
func (c *Cluster) saveCatalog() error {
	c.mu.RLock()
	pools := make([]*pool, 0, len(c.pools))
	for _, p := range c.pools {
		pools = append(pools, p)
	}
	c.mu.RUnlock()

	if err := c.writeClusterMeta(); err != nil {
		return err
	}
	for _, p := range pools {
		if err := c.persistPool(p); err != nil {
			return fmt.Errorf("catalog: pool %q: %w", p.name, err)
		}
	}
	return nil
}

func (c *Cluster) writeClusterMeta() error {
	now := time.Now()
	c.mu.RLock()
	blocked := make(map[string]time.Time, len(c.blocked))
	for addr, until := range c.blocked {
		if until.After(now) {
			blocked[addr] = until
		}
	}
	c.mu.RUnlock()
	meta := clusterMeta{
		FSID:    c.fsid,
		Epoch:   c.epoch.Load(),
		PoolID:  c.poolID.Load(),
		SnapID:  c.snapID.Load(),
		Blocked: blocked,
	}
	return c.db.Set(collCluster, keyMeta, &meta)
}

func (c *Cluster) persistPool(p *pool) error {
	p.mu.RLock()
	snaps := make([]uint64, 0, len(p.snaps))
	for id := range p.snaps {
		snaps = append(snaps, id)
	}
	pgnum := len(p.pgs)
	p.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i] < snaps[j] })

	pm := poolMeta{Name: p.name, ID: p.id, PGNum: pgnum, Snaps: snaps}
	if err := c.db.Set(collPools, p.name, &pm); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := exportPool(p, &buf); err != nil {
		return err
	}
	return c.db.SetString(collObjects, p.name, buf.String())
}

// persistPoolMeta runs at CreatePool; the object blob follows at Close.
func (c *Cluster) persistPoolMeta(p *pool) {
	pm := poolMeta{Name: p.name, ID: p.id, PGNum: len(p.pgs)}
	if err := c.db.Set(collPools, p.name, &pm); err != nil {
		nlog.Errorln("catalog: pool meta", p.name, err)
	}
}

func (c *Cluster) dropPoolMeta(p *pool) {
	if err := c.db.Delete(collPools, p.name); err != nil && !kvdb.IsErrNotFound(err) {
		nlog.Errorln("catalog: drop pool meta", p.name, err)
	}
	if err := c.db.Delete(collObjects, p.name); err != nil && !kvdb.IsErrNotFound(err) {
		nlog.Errorln("catalog: drop pool objects", p.name, err)
	}
	for i := range p.pgs {
		if err := c.plstore.Drop(pgKey(p.id, i)); err != nil {
			nlog.Errorln("catalog: drop pg log", pgKey(p.id, i), err)
		}
	}
}
