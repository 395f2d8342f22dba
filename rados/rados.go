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
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cls"
	clslock "github.com/NVIDIA/radstore/cls/lock"
	clslog "github.com/NVIDIA/radstore/cls/log"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	clsref "github.com/NVIDIA/radstore/cls/refcount"
	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	clsuser "github.com/NVIDIA/radstore/cls/user"
	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	"github.com/NVIDIA/radstore/cmn/kvdb"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/hk"
	"github.com/NVIDIA/radstore/pglog"
)

const (
	defaultPGNum        = 8
	defaultWatchTimeout = 30 * time.Second
	defaultBlockExpire  = time.Hour
)

type (
	Config struct {
		ID           string // client entity name
		Dir          string // data directory; empty = memory only
		PGNum        int    // placement groups per pool
		WatchTimeout time.Duration
	}

	PoolStats struct {
		Name    string `json:"name"`
		ID      int64  `json:"id"`
		Objects int64  `json:"objects"`
		Bytes   int64  `json:"bytes"`
	}

	BlockedAddr struct {
		Addr  string    `json:"addr"`
		Until time.Time `json:"until"`
	}

	Cluster struct {
		cfg     Config
		fsid    string
		addr    string
		nonce   uint32 // per-boot; keeps reqids unique across durable restarts
		started time.Time

		mu    sync.RWMutex // pools, blocklist
		pools map[string]*pool
		byID  map[int64]*pool

		blocked map[string]time.Time // client addr -> expiration

		reg *cls.Registry
		wn  *watchNotify
		fin *finishers
		bgt *hk.HK

		db      kvdb.Driver  // nil in memory-only mode
		plstore *pglog.Store // ditto

		poolID atomic.Int64
		snapID atomic.Int64
		instID atomic.Int64
		tid    atomic.Int64
		epoch  atomic.Uint64
		closed atomic.Bool
	}
)

func New(cfg Config) (*Cluster, error) {
	if cfg.ID == "" {
		cfg.ID = "admin"
	}
	if cfg.PGNum <= 0 {
		cfg.PGNum = defaultPGNum
	}
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = defaultWatchTimeout
	}
	nonce := rand.Uint32()
	c := &Cluster{
		cfg:     cfg,
		fsid:    cos.GenUUID(),
		addr:    fmt.Sprintf("127.0.0.1:0/%d", nonce),
		nonce:   nonce,
		started: time.Now(),
		pools:   make(map[string]*pool, 8),
		byID:    make(map[int64]*pool, 8),
		blocked: make(map[string]time.Time, 4),
		reg:     cls.NewRegistry(),
	}
	c.epoch.Store(1)
	c.wn = newWatchNotify(c)
	c.fin = newFinishers()

	clsrbd.Register(c.reg)
	clslock.Register(c.reg)
	clsrgw.Register(c.reg)
	clsref.Register(c.reg)
	clsuser.Register(c.reg)
	clslog.Register(c.reg)

	if cfg.Dir != "" {
		if err := c.openCatalog(); err != nil {
			return nil, err
		}
	}

	c.bgt = hk.New("rados-hk")
	c.bgt.Reg("watch"+hk.NameSuffix, c.wn.housekeep, hk.WatchSweepIval)
	go c.bgt.Run()

	if cos.FastV(4, cos.SmoduleRados) {
		nlog.Infof("cluster %s up: addr %s, pg_num %d, dir %q", c.fsid, c.addr, cfg.PGNum, cfg.Dir)
	}
	return c, nil
}

func (c *Cluster) FSID() string       { return c.fsid }
func (c *Cluster) ClientID() string   { return c.cfg.ID }
func (c *Cluster) ClientAddr() string { return c.addr }
func (c *Cluster) Started() time.Time { return c.started }
func (c *Cluster) Epoch() uint32      { return uint32(c.epoch.Load()) }

func (c *Cluster) Registry() *cls.Registry { return c.reg }

func (c *Cluster) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	c.bgt.Stop(nil)
	c.fin.stop()
	if c.db == nil {
		return nil
	}
	err := c.saveCatalog()
	if nested := c.db.Close(); nested != nil && err == nil {
		err = nested
	}
	return err
}

///////////
// pools //
///////////

func (c *Cluster) CreatePool(name string) (int64, error) {
	if name == "" {
		return 0, cos.ErrInvalid
	}
	c.mu.Lock()
	if _, ok := c.pools[name]; ok {
		c.mu.Unlock()
		return 0, cos.ErrExists
	}
	p := newPool(c.poolID.Inc(), name, c.cfg.PGNum)
	c.pools[name] = p
	c.byID[p.id] = p
	c.mu.Unlock()

	c.epoch.Inc()
	if c.db != nil {
		c.persistPoolMeta(p)
	}
	return p.id, nil
}

func (c *Cluster) DeletePool(name string) error {
	c.mu.Lock()
	p, ok := c.pools[name]
	if !ok {
		c.mu.Unlock()
		return cos.ErrNotFound
	}
	delete(c.pools, name)
	delete(c.byID, p.id)
	c.mu.Unlock()

	c.epoch.Inc()
	if c.db != nil {
		c.dropPoolMeta(p)
	}
	return nil
}

func (c *Cluster) LookupPool(name string) (int64, error) {
	c.mu.RLock()
	p, ok := c.pools[name]
	c.mu.RUnlock()
	if !ok {
		return 0, cos.ErrNotFound
	}
	return p.id, nil
}

func (c *Cluster) LookupPoolByID(id int64) (string, error) {
	c.mu.RLock()
	p, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return "", cos.ErrNotFound
	}
	return p.name, nil
}

func (c *Cluster) ListPools() []PoolStats {
	c.mu.RLock()
	all := make([]PoolStats, 0, len(c.pools))
	for _, p := range c.pools {
		all = append(all, p.stats())
	}
	c.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (c *Cluster) pool(name string) (*pool, error) {
	c.mu.RLock()
	p, ok := c.pools[name]
	c.mu.RUnlock()
	if !ok {
		return nil, cos.ErrNotFound
	}
	return p, nil
}

// NewIOCtx opens a per-pool I/O handle.
func (c *Cluster) NewIOCtx(pool string) (*IOCtx, error) {
	p, err := c.pool(pool)
	if err != nil {
		return nil, err
	}
	return &IOCtx{c: c, p: p, instanceID: uint64(c.instID.Inc()), snapRead: cos.NoSnap}, nil
}

func (c *Cluster) NewIOCtxByID(id int64) (*IOCtx, error) {
	c.mu.RLock()
	p, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return nil, cos.ErrNotFound
	}
	return &IOCtx{c: c, p: p, instanceID: uint64(c.instID.Inc()), snapRead: cos.NoSnap}, nil
}

///////////////////////////
// self-managed snap ids //
///////////////////////////

// snap ids are cluster-monotone; the live set is per pool
func (c *Cluster) selfmanagedSnapCreate(p *pool) uint64 {
	id := uint64(c.snapID.Inc())
	p.mu.Lock()
	p.snaps[id] = struct{}{}
	p.mu.Unlock()
	c.epoch.Inc()
	return id
}

func (c *Cluster) selfmanagedSnapRemove(p *pool, id uint64) error {
	p.mu.Lock()
	_, ok := p.snaps[id]
	if ok {
		delete(p.snaps, id)
	}
	p.mu.Unlock()
	if !ok {
		return cos.ErrNotFound
	}
	c.epoch.Inc()
	return nil
}

///////////////
// blocklist //
///////////////

func (c *Cluster) BlocklistAdd(addr string, expire time.Duration) {
	if expire <= 0 {
		expire = defaultBlockExpire
	}
	c.mu.Lock()
	c.blocked[addr] = time.Now().Add(expire)
	c.mu.Unlock()
	c.epoch.Inc()
	nlog.Warningln("blocklisted", addr, "for", expire.String())
	if addr == c.addr {
		c.wn.evictAll()
	}
}

func (c *Cluster) BlocklistRm(addr string) error {
	c.mu.Lock()
	_, ok := c.blocked[addr]
	if ok {
		delete(c.blocked, addr)
	}
	c.mu.Unlock()
	if !ok {
		return cos.ErrNotFound
	}
	c.epoch.Inc()
	return nil
}

func (c *Cluster) Blocklist() []BlockedAddr {
	now := time.Now()
	c.mu.Lock()
	all := make([]BlockedAddr, 0, len(c.blocked))
	for addr, until := range c.blocked {
		if until.Before(now) {
			delete(c.blocked, addr)
			continue
		}
		all = append(all, BlockedAddr{Addr: addr, Until: until})
	}
	c.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Addr < all[j].Addr })
	return all
}

func (c *Cluster) isBlocked(addr string) bool {
	c.mu.RLock()
	until, ok := c.blocked[addr]
	c.mu.RUnlock()
	return ok && until.After(time.Now())
}

/////////////
// pg logs //
/////////////

// PGLog returns the in-memory tail (or, when durable, the stored log)
// of the given placement group.
func (c *Cluster) PGLog(pool string, pgid int) ([]pglog.Entry, error) {
	p, err := c.pool(pool)
	if err != nil {
		return nil, err
	}
	if pgid < 0 || pgid >= len(p.pgs) {
		return nil, cos.ErrInvalid
	}
	if c.plstore != nil {
		stored, err := c.plstore.ReadEntries(pgKey(p.id, pgid))
		if err != nil {
			return nil, err
		}
		out := make([]pglog.Entry, len(stored))
		for i, e := range stored {
			out[i] = *e
		}
		return out, nil
	}
	sh := p.pgs[pgid]
	sh.mu.Lock()
	out := make([]pglog.Entry, len(sh.entries))
	copy(out, sh.entries)
	sh.mu.Unlock()
	return out, nil
}

// PGNum is the per-pool placement-group count (fixed at cluster creation).
func (c *Cluster) PGNum() int { return c.cfg.PGNum }

// PGInfo returns the per-PG summary record. Without a durable store (or
// before the first durable append) the summary is synthesized from the
// in-memory tail.
func (c *Cluster) PGInfo(pool string, pgid int) (*pglog.Info, error) {
	p, err := c.pool(pool)
	if err != nil {
		return nil, err
	}
	if pgid < 0 || pgid >= len(p.pgs) {
		return nil, cos.ErrInvalid
	}
	if c.plstore != nil {
		info, err := c.plstore.ReadInfo(pgKey(p.id, pgid))
		if err == nil {
			return info, nil
		}
		if !cos.IsErrNotFound(err) {
			return nil, err
		}
	}
	sh := p.pgs[pgid]
	info := pglog.NewInfo()
	sh.mu.Lock()
	if n := len(sh.entries); n > 0 {
		info.LastUpdate = sh.entries[n-1].Version
		info.LastComplete = info.LastUpdate
		info.LogTail = sh.entries[0].PriorVersion
	}
	sh.mu.Unlock()
	return info, nil
}

func (c *Cluster) reqid() string {
	return fmt.Sprintf("client.%s.%d:%d", c.fsid, c.nonce, c.tid.Inc())
}

func pgKey(poolID int64, pgid int) string { return fmt.Sprintf("%d.%x", poolID, pgid) }

// debug-only sanity hook
func (c *Cluster) assertOpen() {
	debug.Assert(!c.closed.Load(), "cluster is closed")
}
