// Package rados_test: integration tests against the embedded cluster
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/pglog"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func startCluster(t *testing.T, cfg rados.Config) *rados.Cluster {
	t.Helper()
	c, err := rados.New(cfg)
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func openPool(t *testing.T, c *rados.Cluster, name string) *rados.IOCtx {
	t.Helper()
	_, err := c.CreatePool(name)
	tassert.CheckFatal(t, err)
	ix, err := c.NewIOCtx(name)
	tassert.CheckFatal(t, err)
	return ix
}

func TestPools(t *testing.T) {
	c := startCluster(t, rados.Config{})
	id, err := c.CreatePool("rbd")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, id > 0, "pool id %d", id)

	_, err = c.CreatePool("rbd")
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "duplicate pool create: %v", err)

	got, err := c.LookupPool("rbd")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, got == id, "lookup returned id %d, want %d", got, id)
	name, err := c.LookupPoolByID(id)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, name == "rbd", "reverse lookup returned %q", name)

	_, err = c.NewIOCtx("nope")
	tassert.Fatalf(t, cos.IsErrNotFound(err), "ioctx on a missing pool: %v", err)

	epoch := c.Epoch()
	tassert.CheckFatal(t, c.DeletePool("rbd"))
	tassert.Errorf(t, c.Epoch() > epoch, "pool delete must bump the epoch")
	tassert.Fatalf(t, cos.IsErrNotFound(c.DeletePool("rbd")), "double delete succeeded")
}

func TestObjectRW(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "data")

	_, err := ix.Read("alpha", 0, -1)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "read of a missing object: %v", err)

	tassert.CheckFatal(t, ix.WriteFull("alpha", []byte("hello")))
	tassert.CheckFatal(t, ix.Append("alpha", []byte(" world")))
	b, err := ix.Read("alpha", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "hello world", "read back %q", b)

	b, err = ix.Read("alpha", 6, 5)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == "world", "ranged read %q", b)

	// sub-range overwrite
	tassert.CheckFatal(t, ix.Write("alpha", 0, []byte("HELLO")))
	b, _ = ix.Read("alpha", 0, 5)
	tassert.Errorf(t, string(b) == "HELLO", "after overwrite %q", b)

	size, _, err := ix.Stat("alpha")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, size == 11, "stat size %d", size)

	tassert.CheckFatal(t, ix.Truncate("alpha", 5))
	size, _, _ = ix.Stat("alpha")
	tassert.Errorf(t, size == 5, "size after truncate %d", size)

	ver := ix.GetLastVersion()
	tassert.Errorf(t, ver > 0, "no version assigned")
	tassert.CheckFatal(t, ix.Remove("alpha"))
	tassert.Errorf(t, ix.GetLastVersion() > ver, "remove must advance the version")
	_, err = ix.Read("alpha", 0, -1)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "read after remove: %v", err)

	tassert.Fatalf(t, cos.IsErrNotFound(ix.Remove("alpha")), "double remove succeeded")
}

func TestNamespaces(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "data")
	tassert.CheckFatal(t, ix.WriteFull("shared", []byte("default")))

	ix.SetNamespace("tenant1")
	tassert.CheckFatal(t, ix.WriteFull("shared", []byte("tenant1")))
	tassert.CheckFatal(t, ix.WriteFull("own", []byte("x")))

	oids := ix.ListObjects()
	tassert.Fatalf(t, len(oids) == 2 && oids[0] == "own" && oids[1] == "shared",
		"tenant1 listing %v", oids)

	b, err := ix.Read("shared", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == "tenant1", "namespaced read %q", b)

	ix.SetNamespace("")
	b, _ = ix.Read("shared", 0, -1)
	tassert.Errorf(t, string(b) == "default", "default-namespace read %q", b)
}

func TestXattrsOmap(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "meta")

	tassert.CheckFatal(t, ix.Create("obj", false))
	_, err := ix.GetXattr("obj", "user.a")
	tassert.Fatalf(t, errors.Is(err, cos.ErrNoData), "missing xattr: %v", err)

	tassert.CheckFatal(t, ix.SetXattr("obj", "user.a", []byte("1")))
	v, err := ix.GetXattr("obj", "user.a")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(v) == "1", "xattr %q", v)
	tassert.CheckFatal(t, ix.RmXattr("obj", "user.a"))
	tassert.Fatalf(t, errors.Is(ix.RmXattr("obj", "user.a"), cos.ErrNoData), "rm of a removed xattr")

	tassert.CheckFatal(t, ix.OmapSet("obj", map[string][]byte{
		"k1": []byte("v1"), "k2": []byte("v2"), "k3": []byte("v3"), "other": []byte("x"),
	}))
	vals, more, err := ix.OmapGetVals("obj", "k1", "k", 1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(vals) == 1 && string(vals["k2"]) == "v2" && more,
		"paged scan %v more=%v", vals, more)

	m, err := ix.OmapGetValsByKeys("obj", []string{"k1", "nope"})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(m) == 1 && string(m["k1"]) == "v1", "by-keys %v", m)

	tassert.CheckFatal(t, ix.OmapRmKeys("obj", "k1", "k2"))
	tassert.CheckFatal(t, ix.OmapClear("obj"))
	vals, _, _ = ix.OmapGetVals("obj", "", "", 0)
	tassert.Errorf(t, len(vals) == 0, "omap after clear %v", vals)
}

func TestOpGuards(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "meta")

	tassert.CheckFatal(t, ix.Create("obj", true))
	err := ix.Create("obj", true)
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "exclusive re-create: %v", err)

	tassert.CheckFatal(t, ix.SetXattr("obj", "tag", []byte("t1")))
	op := rados.NewWriteOp().CmpXattr("tag", []byte("t0")).WriteFull([]byte("clobbered"))
	err = ix.Operate("obj", op)
	tassert.Fatalf(t, errors.Is(err, cos.ErrRaced), "stale guard: %v", err)
	b, _ := ix.Read("obj", 0, -1)
	tassert.Fatalf(t, len(b) == 0, "guarded write went through: %q", b)

	op = rados.NewWriteOp().CmpXattr("tag", []byte("t1")).WriteFull([]byte("ok"))
	tassert.CheckFatal(t, ix.Operate("obj", op))
	b, _ = ix.Read("obj", 0, -1)
	tassert.Errorf(t, string(b) == "ok", "guarded write %q", b)

	err = ix.OperateRead("missing", rados.NewReadOp().AssertExists())
	tassert.Fatalf(t, cos.IsErrNotFound(err), "assert-exists on a missing object: %v", err)
}

func TestSnapshots(t *testing.T) {
	c := startCluster(t, rados.Config{PGNum: 1})
	ix := openPool(t, c, "imgs")

	tassert.CheckFatal(t, ix.WriteFull("obj", []byte("v1")))

	snap := ix.SelfmanagedSnapCreate()
	tassert.CheckFatal(t, ix.SetSnapContext(rados.SnapContext{Seq: snap, Snaps: []uint64{snap}}))
	tassert.CheckFatal(t, ix.WriteFull("obj", []byte("v2+")))

	b, err := ix.Read("obj", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "v2+", "head read %q", b)

	ix.SetSnapRead(snap)
	b, err = ix.Read("obj", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "v1", "snap read %q", b)

	// an object born after the snapshot does not exist at it
	ix.SetSnapRead(cos.NoSnap)
	tassert.CheckFatal(t, ix.WriteFull("young", []byte("x")))
	ix.SetSnapRead(snap)
	_, err = ix.Read("young", 0, -1)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "read of a younger object at snap: %v", err)
	ix.SetSnapRead(cos.NoSnap)

	sns, err := ix.ListSnaps("obj")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(sns) == 1 && sns[0].CloneID == snap && sns[0].Size == 2,
		"clone listing %+v", sns)
	tassert.Errorf(t, len(sns[0].Snaps) == 1 && sns[0].Snaps[0] == snap, "clone snap set %v", sns[0].Snaps)

	// the copy-on-write leaves a rollbackable clone entry in the pg log
	entries, err := c.PGLog("imgs", 0)
	tassert.CheckFatal(t, err)
	var clones int
	for i := range entries {
		if entries[i].Op == pglog.OpClone {
			clones++
			tassert.Errorf(t, entries[i].Rollbackable, "clone entry not rollbackable")
			tassert.Errorf(t, entries[i].Soid.Snap == snap, "clone soid %s", entries[i].Soid)
		}
	}
	tassert.Fatalf(t, clones == 1, "%d clone entries in the pg log, want 1", clones)

	tassert.CheckFatal(t, ix.SelfmanagedSnapRollback("obj", snap))
	b, _ = ix.Read("obj", 0, -1)
	tassert.Fatalf(t, string(b) == "v1", "head after rollback %q", b)

	tassert.CheckFatal(t, ix.SelfmanagedSnapRollback("young", snap))
	_, err = ix.Read("young", 0, -1)
	tassert.Fatalf(t, cos.IsErrNotFound(err), "younger object must vanish on rollback: %v", err)

	tassert.CheckFatal(t, ix.SelfmanagedSnapRemove(snap))
	sns, err = ix.ListSnaps("obj")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(sns) == 0, "clones covering no live snap listed: %+v", sns)
}

func TestPGLogTrail(t *testing.T) {
	c := startCluster(t, rados.Config{PGNum: 1})
	ix := openPool(t, c, "data")

	tassert.CheckFatal(t, ix.WriteFull("a", []byte("1")))
	tassert.CheckFatal(t, ix.WriteFull("a", []byte("2")))
	tassert.CheckFatal(t, ix.WriteFull("b", []byte("1")))
	tassert.CheckFatal(t, ix.Remove("a"))

	entries, err := c.PGLog("data", 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 4, "%d log entries, want 4", len(entries))

	for i := range entries {
		e := &entries[i]
		tassert.Errorf(t, e.Version.Version == uint64(i+1), "entry %d version %s", i, e.Version)
		tassert.Errorf(t, e.ReqID != "", "entry %d lacks a reqid", i)
	}
	tassert.Errorf(t, entries[0].Op == pglog.OpModify && entries[3].Op == pglog.OpDelete,
		"ops %v %v", entries[0].Op, entries[3].Op)
	// second write of "a" chains to the first
	tassert.Errorf(t, entries[1].PriorVersion == entries[0].Version,
		"prior %s, want %s", entries[1].PriorVersion, entries[0].Version)
	// remove of "a" chains to its second write
	tassert.Errorf(t, entries[3].PriorVersion == entries[1].Version,
		"delete prior %s, want %s", entries[3].PriorVersion, entries[1].Version)

	_, err = c.PGLog("data", 99)
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "out-of-range pgid: %v", err)
}

func TestWatchNotify(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "hdr")
	tassert.CheckFatal(t, ix.Create("header", false))

	wc, err := ix.Watch("header")
	tassert.CheckFatal(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range wc.Events {
			if string(ev.Data) == "ping" {
				_ = ix.NotifyAck("header", ev.NotifyID, ev.Handle, []byte("pong"))
			}
		}
	}()

	nx, err := c.NewIOCtx("hdr")
	tassert.CheckFatal(t, err)
	resp, err := nx.Notify("header", []byte("ping"), 5*time.Second)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(resp.Timeouts) == 0, "notify timeouts %v", resp.Timeouts)
	tassert.Fatalf(t, string(resp.Acks[wc.Handle]) == "pong", "acks %v", resp.Acks)

	watchers, err := ix.ListWatchers("header")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(watchers) == 1 && watchers[0].Cookie == wc.Handle,
		"watcher listing %+v", watchers)

	tassert.CheckFatal(t, ix.Unwatch(wc.Handle))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed on unwatch")
	}
	watchers, _ = ix.ListWatchers("header")
	tassert.Errorf(t, len(watchers) == 0, "watchers after unwatch %+v", watchers)
}

func TestExportImport(t *testing.T) {
	c := startCluster(t, rados.Config{})
	ix := openPool(t, c, "src")

	tassert.CheckFatal(t, ix.WriteFull("plain", []byte("payload")))
	tassert.CheckFatal(t, ix.SetXattr("plain", "user.k", []byte("v")))
	tassert.CheckFatal(t, ix.OmapSetVal("plain", "mk", []byte("mv")))

	snap := ix.SelfmanagedSnapCreate()
	tassert.CheckFatal(t, ix.SetSnapContext(rados.SnapContext{Seq: snap, Snaps: []uint64{snap}}))
	tassert.CheckFatal(t, ix.WriteFull("plain", []byte("payload2")))

	var buf bytes.Buffer
	tassert.CheckFatal(t, c.ExportPool("src", &buf))
	tassert.CheckFatal(t, c.ImportPool("dst", &buf))

	dx, err := c.NewIOCtx("dst")
	tassert.CheckFatal(t, err)
	b, err := dx.Read("plain", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "payload2", "imported head %q", b)
	v, err := dx.GetXattr("plain", "user.k")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(v) == "v", "imported xattr %q", v)
	mv, err := dx.OmapGetVal("plain", "mk")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(mv) == "mv", "imported omap %q", mv)

	sns, err := dx.ListSnaps("plain")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(sns) == 1 && sns[0].CloneID == snap, "imported clones %+v", sns)
	dx.SetSnapRead(snap)
	b, err = dx.Read("plain", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == "payload", "imported snap read %q", b)
}

func TestDurableRestart(t *testing.T) {
	dir := t.TempDir()

	c, err := rados.New(rados.Config{Dir: dir, PGNum: 2})
	tassert.CheckFatal(t, err)
	fsid := c.FSID()
	ix := openPool(t, c, "rbd")
	poolID := ix.PoolID()
	tassert.CheckFatal(t, ix.WriteFull("alpha", []byte("survives")))
	tassert.CheckFatal(t, ix.OmapSetVal("alpha", "k", []byte("v")))
	tassert.CheckFatal(t, c.Close())

	c2 := startCluster(t, rados.Config{Dir: dir, PGNum: 2})
	tassert.Fatalf(t, c2.FSID() == fsid, "fsid changed across restart: %s != %s", c2.FSID(), fsid)

	id, err := c2.LookupPool("rbd")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, id == poolID, "pool id %d, want %d", id, poolID)

	ix2, err := c2.NewIOCtx("rbd")
	tassert.CheckFatal(t, err)
	b, err := ix2.Read("alpha", 0, -1)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "survives", "restored data %q", b)
	v, err := ix2.OmapGetVal("alpha", "k")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(v) == "v", "restored omap %q", v)

	// the durable pg log survived too
	var total int
	for pgid := range 2 {
		entries, err := c2.PGLog("rbd", pgid)
		tassert.CheckFatal(t, err)
		total += len(entries)
	}
	tassert.Fatalf(t, total == 2, "restored %d pg-log entries, want 2", total)

	// new writes continue the version sequence rather than restarting it
	tassert.CheckFatal(t, ix2.WriteFull("alpha", []byte("more")))
	tassert.Errorf(t, ix2.GetLastVersion() > 1, "version sequence restarted")
}

func TestBlocklistDurable(t *testing.T) {
	dir := t.TempDir()
	const (
		kept    = "10.0.0.1:0/11"
		expired = "10.0.0.2:0/22"
	)

	c, err := rados.New(rados.Config{Dir: dir, PGNum: 2})
	tassert.CheckFatal(t, err)
	c.BlocklistAdd(kept, time.Hour)
	c.BlocklistAdd(expired, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	tassert.CheckFatal(t, c.Close())

	c2 := startCluster(t, rados.Config{Dir: dir, PGNum: 2})
	bl := c2.Blocklist()
	tassert.Fatalf(t, len(bl) == 1, "restored %d blocklist entries, want 1", len(bl))
	tassert.Errorf(t, bl[0].Addr == kept, "restored addr %q", bl[0].Addr)
	tassert.Errorf(t, bl[0].Until.After(time.Now()), "restored entry already expired: %v", bl[0].Until)

	tassert.CheckFatal(t, c2.BlocklistRm(kept))
	err = c2.BlocklistRm(expired)
	tassert.Errorf(t, cos.IsErrNotFound(err), "expected not-found for the expired entry, got %v", err)
}
