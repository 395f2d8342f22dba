/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/mon"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/tools/tassert"
	"github.com/NVIDIA/radstore/tools/tlog"
)

const (
	adminEntity = "client.admin"
	adminSecret = "mon-test-admin-key"
	roEntity    = "client.ro"
	roSecret    = "mon-test-ro-key"
	clusterKey  = "mon-test-cluster-key"
)

type monEnv struct {
	c   *rados.Cluster
	bus *mon.Bus
	srv *mon.Server
}

func testKeyring() *mon.Keyring {
	kr := &mon.Keyring{}
	kr.Add(adminEntity, []byte(adminSecret), "allow *")
	kr.Add(roEntity, []byte(roSecret), "allow r")
	return kr
}

func startMon(t *testing.T, scfg mon.ServerConfig) *monEnv {
	c, err := rados.New(rados.Config{})
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	bus := mon.NewBus()
	if scfg.Name == "" {
		scfg.Name = "a"
	}
	if scfg.Secret == "" {
		scfg.Secret = clusterKey
	}
	if scfg.Keyring == nil {
		scfg.Keyring = testKeyring()
	}
	if scfg.TickIval == 0 {
		scfg.TickIval = 5 * time.Millisecond
	}
	srv, err := mon.NewServer(c, bus, scfg)
	tassert.CheckFatal(t, err)
	t.Cleanup(srv.Close)
	return &monEnv{c: c, bus: bus, srv: srv}
}

func newClient(t *testing.T, env *monEnv, ccfg mon.ClientConfig) *mon.MonClient {
	if ccfg.Entity == "" {
		ccfg.Entity = adminEntity
	}
	if len(ccfg.Secret) == 0 && ccfg.KeyringPath == "" {
		switch ccfg.Entity {
		case roEntity:
			ccfg.Secret = []byte(roSecret)
		default:
			ccfg.Secret = []byte(adminSecret)
		}
	}
	if ccfg.MonMap == nil && ccfg.CacheDir == "" {
		ccfg.MonMap = env.srv.MonMap()
	}
	if ccfg.KeepaliveIval == 0 {
		ccfg.KeepaliveIval = 20 * time.Millisecond
	}
	if ccfg.BackoffBase == 0 {
		ccfg.BackoffBase = 5 * time.Millisecond
		ccfg.BackoffMax = 100 * time.Millisecond
	}
	mc, err := mon.NewMonClient(env.bus, ccfg)
	tassert.CheckFatal(t, err)
	t.Cleanup(mc.Close)
	return mc
}

func connect(t *testing.T, env *monEnv, ccfg mon.ClientConfig) *mon.MonClient {
	mc := newClient(t, env, ccfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tassert.CheckFatal(t, mc.Authenticate(ctx))
	return mc
}

func command(t *testing.T, mc *mon.MonClient, args map[string]any) ([]byte, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return mc.MonCommand(ctx, cos.MustMarshal(args), nil)
}

func TestMonConnect(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{})

	tassert.Errorf(t, mc.CurrentMon() == "a", "connected to %q", mc.CurrentMon())
	tassert.Errorf(t, mc.GlobalID() != 0, "no global id")
	tassert.Errorf(t, mc.CurMonMap().Contains("a"), "client monmap is missing mon.a")

	outbl, outs, err := command(t, mc, map[string]any{"prefix": "status"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, strings.Contains(outs, env.c.FSID()), "outs %q has no fsid", outs)
	var st struct {
		FSID   string `json:"fsid"`
		Mon    string `json:"mon"`
		Health string `json:"health"`
		Pools  int    `json:"num_pools"`
	}
	tassert.CheckFatal(t, cos.JSON.Unmarshal(outbl, &st))
	tassert.Errorf(t, st.Mon == "a" && st.Health == "HEALTH_OK", "status %+v", st)

	// wrong key never authenticates
	bad := newClient(t, env, mon.ClientConfig{Secret: []byte("not-the-key"), AuthTimeout: 300 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = bad.Authenticate(ctx)
	tassert.Errorf(t, errors.Is(err, cos.ErrTimedOut), "bad secret: expected ETIMEDOUT, got %v", err)
}

func TestMonCommands(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{})

	_, outs, err := command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "data"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, strings.Contains(outs, "created"), "outs %q", outs)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "data"})
	tassert.Errorf(t, errors.Is(err, cos.ErrExists), "duplicate pool: expected EEXIST, got %v", err)

	outbl, _, err := command(t, mc, map[string]any{"prefix": "df"})
	tassert.CheckFatal(t, err)
	var df struct {
		Pools []rados.PoolStats `json:"pools"`
	}
	tassert.CheckFatal(t, cos.JSON.Unmarshal(outbl, &df))
	tassert.Fatalf(t, len(df.Pools) == 1 && df.Pools[0].Name == "data", "df %+v", df)

	// blocklist round-trip through the cluster
	_, _, err = command(t, mc, map[string]any{
		"prefix": "osd blacklist", "blacklistop": "add", "addr": "10.1.1.1:0/123", "expire": 60,
	})
	tassert.CheckFatal(t, err)
	bl := env.c.Blocklist()
	tassert.Fatalf(t, len(bl) == 1 && bl[0].Addr == "10.1.1.1:0/123", "blocklist %+v", bl)

	outbl, outs, err = command(t, mc, map[string]any{"prefix": "osd blacklist", "blacklistop": "ls"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, strings.Contains(outs, "1 entries"), "ls outs %q", outs)

	_, _, err = command(t, mc, map[string]any{"prefix": "osd blacklist", "blacklistop": "rm", "addr": "10.1.1.1:0/123"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(env.c.Blocklist()) == 0, "blocklist not drained")
	_, _, err = command(t, mc, map[string]any{"prefix": "osd blacklist", "blacklistop": "rm", "addr": "10.1.1.1:0/123"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "expected ENOENT, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd blacklist", "blacklistop": "smudge", "addr": "x"})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "bad blacklistop: expected EINVAL, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd blacklist", "blacklistop": "add"})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "no addr: expected EINVAL, got %v", err)

	// config kv
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "osd_max_backfills", "value": "3"})
	tassert.CheckFatal(t, err)
	outbl, _, err = command(t, mc, map[string]any{"prefix": "config get", "key": "osd_max_backfills"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(outbl) == "3", "config get %q", outbl)
	_, _, err = command(t, mc, map[string]any{"prefix": "config get", "key": "nope"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "expected ENOENT, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "config set"})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "expected EINVAL, got %v", err)

	// cluster log
	_, outs, err = command(t, mc, map[string]any{"prefix": "log last"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, strings.Contains(outs, "pool 'data' created"), "log last is missing the pool creation:\n%s", outs)

	outbl, _, err = command(t, mc, map[string]any{"prefix": "quorum_status"})
	tassert.CheckFatal(t, err)
	var q struct {
		QuorumNames []string `json:"quorum_names"`
		Quorum      []int    `json:"quorum"`
	}
	tassert.CheckFatal(t, cos.JSON.Unmarshal(outbl, &q))
	tassert.Errorf(t, len(q.QuorumNames) == 1 && q.QuorumNames[0] == "a", "quorum %+v", q)

	_, outs, err = command(t, mc, map[string]any{"prefix": "version"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, strings.HasPrefix(outs, "version "), "version outs %q", outs)

	// pool teardown
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool rm", "pool": "data"})
	tassert.CheckFatal(t, err)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool rm", "pool": "data"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "expected ENOENT, got %v", err)

	// garbage in
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = mc.MonCommand(ctx, []byte("not json at all"), nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "bad json: expected EINVAL, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "warp drive"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotSupported), "unknown prefix: expected ENOTSUP, got %v", err)
}

func TestReadOnlyCaps(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{Entity: roEntity})

	_, _, err := command(t, mc, map[string]any{"prefix": "status"})
	tassert.CheckFatal(t, err)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "data"})
	tassert.Errorf(t, errors.Is(err, cos.ErrPermission), "ro pool create: expected EPERM, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "k", "value": "v"})
	tassert.Errorf(t, errors.Is(err, cos.ErrPermission), "ro config set: expected EPERM, got %v", err)
	_, _, err = command(t, mc, map[string]any{"prefix": "config get", "key": "k"})
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "ro config get: expected ENOENT, got %v", err)
}

type delivery struct {
	what    string
	data    []byte
	version uint64
}

func collectDeliveries(mc *mon.MonClient) chan delivery {
	ch := make(chan delivery, 128)
	mc.OnDelivery(func(what string, version uint64, data []byte) {
		ch <- delivery{what, append([]byte(nil), data...), version}
	})
	return ch
}

func waitDelivery(t *testing.T, ch chan delivery, what string) delivery {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case d := <-ch:
			if d.what == what {
				return d
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q delivery", what)
		}
	}
}

func countDeliveries(ch chan delivery, what string, window time.Duration) (n int) {
	deadline := time.After(window)
	for {
		select {
		case d := <-ch:
			if d.what == what {
				n++
			}
		case <-deadline:
			return n
		}
	}
}

func TestSubscriptions(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{})
	ch := collectDeliveries(mc)

	mc.SubWant("osdmap", 0, 0)
	d := waitDelivery(t, ch, "osdmap")
	var om struct {
		FSID  string            `json:"fsid"`
		Pools []rados.PoolStats `json:"pools"`
		Epoch uint32            `json:"epoch"`
	}
	tassert.CheckFatal(t, cos.JSON.Unmarshal(d.data, &om))
	tassert.Errorf(t, om.FSID == env.c.FSID(), "osdmap fsid %q", om.FSID)
	tassert.Errorf(t, d.version == uint64(om.Epoch), "version %d vs epoch %d", d.version, om.Epoch)
	tassert.Errorf(t, len(om.Pools) == 0, "unexpected pools %+v", om.Pools)

	// a mutating command pushes the next epoch
	_, _, err := command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "data"})
	tassert.CheckFatal(t, err)
	d2 := waitDelivery(t, ch, "osdmap")
	tassert.Errorf(t, d2.version > d.version, "no epoch advance: %d then %d", d.version, d2.version)
	tassert.CheckFatal(t, cos.JSON.Unmarshal(d2.data, &om))
	tassert.Fatalf(t, len(om.Pools) == 1 && om.Pools[0].Name == "data", "osdmap pools %+v", om.Pools)

	last, ok := mc.LastDelivery("osdmap")
	tassert.Errorf(t, ok && last.Version == d2.version, "LastDelivery %v %+v", ok, last)

	// monmap rides the same machinery
	mc.SubWant("monmap", 0, 0)
	d = waitDelivery(t, ch, "monmap")
	mm := &mon.MonMap{}
	tassert.CheckFatal(t, cos.JSON.Unmarshal(d.data, mm))
	tassert.Errorf(t, mm.Contains("a") && d.version == uint64(mm.Epoch), "monmap delivery v%d: %s", d.version, mm)

	// ONETIME retires after the first delivery
	mc.SubWant("config", 0, mon.FlagOnetime)
	waitDelivery(t, ch, "config")
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "a", "value": "1"})
	tassert.CheckFatal(t, err)
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "b", "value": "2"})
	tassert.CheckFatal(t, err)
	n := countDeliveries(ch, "config", 150*time.Millisecond)
	tassert.Errorf(t, n == 0, "onetime subscription delivered %d more times", n)

	// re-armed persistent subscription picks up the current version
	mc.SubWant("config", 0, 0)
	d = waitDelivery(t, ch, "config")
	var kv map[string]string
	tassert.CheckFatal(t, cos.JSON.Unmarshal(d.data, &kv))
	tassert.Errorf(t, kv["a"] == "1" && kv["b"] == "2", "config payload %+v", kv)
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "c", "value": "3"})
	tassert.CheckFatal(t, err)
	d2 = waitDelivery(t, ch, "config")
	tassert.Errorf(t, d2.version == d.version+1, "config versions %d then %d", d.version, d2.version)

	// unsubscribe stops the stream
	mc.Unsubscribe("config")
	time.Sleep(20 * time.Millisecond)
	countDeliveries(ch, "config", 10*time.Millisecond) // drain stragglers
	_, _, err = command(t, mc, map[string]any{"prefix": "config set", "key": "d", "value": "4"})
	tassert.CheckFatal(t, err)
	n = countDeliveries(ch, "config", 150*time.Millisecond)
	tassert.Errorf(t, n == 0, "unsubscribed but delivered %d times", n)
}

func TestGetVersion(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "p1"})
	tassert.CheckFatal(t, err)
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "p2"})
	tassert.CheckFatal(t, err)

	newest, oldest, err := mc.GetVersion(ctx, "osdmap")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, newest == uint64(env.c.Epoch()) && oldest == 1, "osdmap versions %d/%d", newest, oldest)

	newest, _, err = mc.GetVersion(ctx, "monmap")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, newest == uint64(mc.CurMonMap().Epoch), "monmap newest %d", newest)

	_, _, err = mc.GetVersion(ctx, "flatmap")
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "expected EINVAL, got %v", err)
}

func TestMonTargets(t *testing.T) {
	kr := testKeyring()
	env := startMon(t, mon.ServerConfig{Keyring: kr})
	srvB, err := mon.NewServer(env.c, env.bus, mon.ServerConfig{
		Name: "b", Secret: clusterKey, Keyring: kr,
		MonMap: env.srv.MonMap(), TickIval: 5 * time.Millisecond,
	})
	tassert.CheckFatal(t, err)
	t.Cleanup(srvB.Close)

	mc := connect(t, env, mon.ClientConfig{MonMap: srvB.MonMap()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status := cos.MustMarshal(map[string]any{"prefix": "status"})
	for _, name := range []string{"a", "b"} {
		outbl, _, err := mc.MonCommandToName(ctx, name, status, nil)
		tassert.CheckFatal(t, err)
		var st struct {
			Mon string `json:"mon"`
		}
		tassert.CheckFatal(t, cos.JSON.Unmarshal(outbl, &st))
		tassert.Errorf(t, st.Mon == name, "asked mon.%s, answered mon.%s", name, st.Mon)
	}
	_, _, err = mc.MonCommandToName(ctx, "ghost", status, nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "expected ENOENT, got %v", err)

	for rank, want := range []string{"a", "b"} {
		outbl, _, err := mc.MonCommandToRank(ctx, rank, status, nil)
		tassert.CheckFatal(t, err)
		var st struct {
			Mon string `json:"mon"`
		}
		tassert.CheckFatal(t, cos.JSON.Unmarshal(outbl, &st))
		tassert.Errorf(t, st.Mon == want, "rank %d: answered mon.%s", rank, st.Mon)
	}
	_, _, err = mc.MonCommandToRank(ctx, 7, status, nil)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "bad rank: expected EINVAL, got %v", err)
}

func TestMonLog(t *testing.T) {
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{})
	lines := make(chan string, 128)
	cb := func(line string) { lines <- line }

	err := mc.StartLogging("whisper", cb)
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "bad level: expected EINVAL, got %v", err)

	tassert.CheckFatal(t, mc.StartLogging("info", cb))
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "logs"})
	tassert.CheckFatal(t, err)

	var seen []string
	deadline := time.After(2 * time.Second)
	for found := false; !found; {
		select {
		case l := <-lines:
			seen = append(seen, l)
			found = strings.Contains(l, "pool 'logs' created")
			tassert.Errorf(t, strings.Contains(l, "mon.a"), "line %q has no origin", l)
		case <-deadline:
			t.Fatalf("pool creation never hit the log; saw %d lines", len(seen))
		}
	}
	uniq := make(map[string]bool, len(seen))
	for _, l := range seen {
		tassert.Errorf(t, !uniq[l], "duplicate log line %q", l)
		uniq[l] = true
	}

	// raise the bar to err: info lines stop, security events still land
	tassert.CheckFatal(t, mc.StartLogging("error", cb))
	for len(lines) > 0 {
		<-lines
	}
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "quiet"})
	tassert.CheckFatal(t, err)
	select {
	case l := <-lines:
		t.Fatalf("info line %q leaked through the err filter", l)
	case <-time.After(150 * time.Millisecond):
	}

	ghost := newClient(t, env, mon.ClientConfig{Entity: "client.ghost", Secret: []byte("junk")})
	_ = ghost // hunts in the background, tripping auth failures
	deadline = time.After(2 * time.Second)
	for found := false; !found; {
		select {
		case l := <-lines:
			found = strings.Contains(l, "unknown entity")
		case <-deadline:
			t.Fatal("auth failure never reached the err subscriber")
		}
	}

	// nil callback unsubscribes
	tassert.CheckFatal(t, mc.StartLogging("info", nil))
	for len(lines) > 0 {
		<-lines
	}
	_, _, err = command(t, mc, map[string]any{"prefix": "osd pool create", "pool": "afterparty"})
	tassert.CheckFatal(t, err)
	select {
	case l := <-lines:
		t.Fatalf("unsubscribed but received %q", l)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSessionRecovery(t *testing.T) {
	env := startMon(t, mon.ServerConfig{SessionTimeout: 60 * time.Millisecond})
	// no keepalives: the server must evict, the client must re-hunt
	mc := connect(t, env, mon.ClientConfig{KeepaliveIval: time.Hour})
	gid := mc.GlobalID()
	tassert.Fatal(t, gid != 0, "no global id")

	time.Sleep(150 * time.Millisecond)
	_, _, err := command(t, mc, map[string]any{"prefix": "status"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, mc.GlobalID() == gid, "global id not carried across re-auth: %d vs %d", mc.GlobalID(), gid)
	tlog.Logf("re-hunted and kept global id %d\n", gid)

	// with keepalives on, the session must ride out the timeout
	env2 := startMon(t, mon.ServerConfig{SessionTimeout: 60 * time.Millisecond})
	mc2 := connect(t, env2, mon.ClientConfig{KeepaliveIval: 15 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)
	_, outs, err := command(t, mc2, map[string]any{"prefix": "log last"})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, !strings.Contains(outs, "timed out"), "keepalived session was evicted:\n%s", outs)
}

func TestTicketRenewal(t *testing.T) {
	env := startMon(t, mon.ServerConfig{TicketTTL: 150 * time.Millisecond})
	mc := connect(t, env, mon.ClientConfig{KeepaliveIval: 25 * time.Millisecond})
	exp := mc.TicketExpiry()
	tassert.Fatal(t, !exp.IsZero(), "no ticket expiry")

	time.Sleep(250 * time.Millisecond)
	tassert.Errorf(t, mc.TicketExpiry().After(exp), "ticket was never renewed: still expires %s", exp.Format(time.RFC3339))
	_, _, err := command(t, mc, map[string]any{"prefix": "status"})
	tassert.CheckFatal(t, err)
}

func TestMonMapCache(t *testing.T) {
	dir := t.TempDir()
	env := startMon(t, mon.ServerConfig{Dir: dir})

	mm, err := mon.LoadMonMap(dir)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, mm.Contains("a") && mm.FSID == env.c.FSID(), "cached %s", mm)
	tassert.Errorf(t, mm.Rank("a") == 0, "rank %d", mm.Rank("a"))

	// bootstrap a client purely off the cache
	mc := connect(t, env, mon.ClientConfig{CacheDir: dir})
	tassert.Errorf(t, mc.CurrentMon() == "a", "connected to %q", mc.CurrentMon())
}

func TestKeyringFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring")
	kr := testKeyring()
	tassert.CheckFatal(t, kr.Save(path))

	loaded, err := mon.LoadKeyring(path)
	tassert.CheckFatal(t, err)
	secret, err := loaded.Secret(adminEntity)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(secret) == adminSecret, "secret mangled: %q", secret)
	tassert.Errorf(t, loaded.Caps(roEntity) == "allow r", "caps %q", loaded.Caps(roEntity))
	_, err = loaded.Secret("client.nobody")
	tassert.Errorf(t, errors.Is(err, cos.ErrNotFound), "expected ENOENT, got %v", err)

	_, err = mon.LoadKeyring(filepath.Join(t.TempDir(), "absent"))
	tassert.Errorf(t, err != nil, "loaded a keyring that does not exist")

	// a client can pull its identity straight from the file
	env := startMon(t, mon.ServerConfig{})
	mc := connect(t, env, mon.ClientConfig{KeyringPath: path})
	tassert.Errorf(t, mc.GlobalID() != 0, "keyring-sourced client failed to authenticate")
}

func TestClientConfigValidation(t *testing.T) {
	bus := mon.NewBus()
	_, err := mon.NewMonClient(bus, mon.ClientConfig{MonMap: mon.NewMonMap("x")})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "no secret: expected EINVAL, got %v", err)
	_, err = mon.NewMonClient(bus, mon.ClientConfig{Secret: []byte("k")})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "no monmap: expected EINVAL, got %v", err)
	mm := mon.NewMonMap("x") // empty map, nobody to hunt
	_, err = mon.NewMonClient(bus, mon.ClientConfig{Secret: []byte("k"), MonMap: mm})
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "empty monmap: expected EINVAL, got %v", err)
}
