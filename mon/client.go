/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/mono"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// opSub frame flag: drop the subscription instead of (re)arming it.
const flagSubCancel = uint8(1 << 7)

const (
	defaultHuntParallel  = 2
	defaultAuthTimeout   = 30 * time.Second
	defaultCmdTimeout    = 30 * time.Second
	defaultKeepaliveIval = 10 * time.Second
	defaultBackoffBase   = 100 * time.Millisecond
	defaultBackoffMax    = 5 * time.Second
)

type (
	ClientConfig struct {
		Entity      string   // keyring identity; default "client.admin"
		Secret      []byte   // shared secret; or
		KeyringPath string   // keyring file to pull the secret from
		MonMap      *MonMap  // bootstrap map; or
		CacheDir    string   // dir with a cached monmap, refreshed on delivery

		HuntParallel  int
		AuthTimeout   time.Duration
		CmdTimeout    time.Duration
		KeepaliveIval time.Duration
		StaleAfter    time.Duration // no-traffic horizon; default 3x keepalive
		BackoffBase   time.Duration
		BackoffMax    time.Duration
	}

	// Delivery is the latest pushed version of one subscribed map.
	Delivery struct {
		Data    []byte
		Version uint64
	}

	MonClient struct {
		d   Dialer
		cfg ClientConfig

		mu      sync.Mutex
		mm      *MonMap
		ses     *monSession // nil while hunting
		ready   chan struct{}
		subs    map[string]*subWant
		pending map[uint64]chan *Frame
		maps    map[string]Delivery
		onDeliv func(what string, version uint64, data []byte)
		logCb   func(line string)
		logWhat string
		logSeen uint64

		ticket    string
		ticketExp time.Time
		globalID  uint64

		tid      atomic.Uint64
		lastRecv atomic.Int64
		backoff  atomic.Int64
		stop     cos.StopCh
		closed   atomic.Bool
	}

	monSession struct {
		t    Transport
		name string
		down chan struct{}
	}

	subWant struct {
		start uint64
		flags uint8
	}
)

func NewMonClient(d Dialer, cfg ClientConfig) (*MonClient, error) {
	if cfg.Entity == "" {
		cfg.Entity = "client.admin"
	}
	if len(cfg.Secret) == 0 {
		if cfg.KeyringPath == "" {
			return nil, cos.ErrInvalid
		}
		kr, err := LoadKeyring(cfg.KeyringPath)
		if err != nil {
			return nil, err
		}
		secret, err := kr.Secret(cfg.Entity)
		if err != nil {
			return nil, err
		}
		cfg.Secret = secret
	}
	if cfg.HuntParallel <= 0 {
		cfg.HuntParallel = defaultHuntParallel
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.CmdTimeout <= 0 {
		cfg.CmdTimeout = defaultCmdTimeout
	}
	if cfg.KeepaliveIval <= 0 {
		cfg.KeepaliveIval = defaultKeepaliveIval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.KeepaliveIval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}

	mm := cfg.MonMap
	if mm == nil {
		if cfg.CacheDir == "" {
			return nil, cos.ErrInvalid
		}
		var err error
		if mm, err = LoadMonMap(cfg.CacheDir); err != nil {
			return nil, err
		}
	} else {
		mm = mm.Clone()
	}
	if mm.Size() == 0 {
		return nil, cos.ErrInvalid
	}

	m := &MonClient{
		d:       d,
		cfg:     cfg,
		mm:      mm,
		ready:   make(chan struct{}),
		subs:    make(map[string]*subWant, 4),
		pending: make(map[uint64]chan *Frame, 8),
		maps:    make(map[string]Delivery, 4),
	}
	m.backoff.Store(int64(cfg.BackoffBase))
	m.stop.Init()
	go m.run()
	go m.keepaliveLoop()
	return m, nil
}

func (m *MonClient) Close() {
	if !m.closed.CAS(false, true) {
		return
	}
	m.stop.Close()
	m.mu.Lock()
	if m.ses != nil {
		m.ses.t.Close()
	}
	m.mu.Unlock()
}

// Authenticate blocks until a monitor session is established, bounded
// by ctx and the configured auth timeout.
func (m *MonClient) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()
	_, err := m.session(ctx)
	return err
}

func (m *MonClient) GlobalID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalID
}

// TicketExpiry reports when the current session ticket runs out; the
// keepalive loop renews it in-band before that.
func (m *MonClient) TicketExpiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticketExp
}

func (m *MonClient) CurrentMon() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ses == nil {
		return ""
	}
	return m.ses.name
}

func (m *MonClient) CurMonMap() *MonMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mm.Clone()
}

// LastDelivery returns the newest pushed version of a subscribed map.
func (m *MonClient) LastDelivery(what string) (Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.maps[what]
	return d, ok
}

// OnDelivery installs the push callback; it runs on the receive
// goroutine, so it must not block.
func (m *MonClient) OnDelivery(cb func(what string, version uint64, data []byte)) {
	m.mu.Lock()
	m.onDeliv = cb
	m.mu.Unlock()
}

//
// hunting
//

func (m *MonClient) run() {
	for !m.closed.Load() {
		ses, err := m.hunt()
		if err != nil {
			if m.closed.Load() {
				return
			}
			d := time.Duration(m.backoff.Load())
			m.backoff.Store(int64(min(d*2, m.cfg.BackoffMax)))
			select {
			case <-time.After(d):
			case <-m.stop.Listen():
				return
			}
			continue
		}
		m.setSession(ses)
		m.recvLoop(ses)
		m.clearSession(ses)
	}
}

// hunt probes a few monitors in parallel; the first session to
// complete the auth handshake wins and the rest close.
func (m *MonClient) hunt() (*monSession, error) {
	names := m.pickRanks()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AuthTimeout)
	defer cancel()
	go func() {
		select {
		case <-m.stop.Listen():
			cancel()
		case <-ctx.Done():
		}
	}()

	type result struct {
		ses *monSession
		err error
	}
	results := make(chan result, len(names))
	for _, name := range names {
		go func(name string) {
			ses, err := m.probe(ctx, name)
			results <- result{ses, err}
		}(name)
	}
	var firstErr error
	for i := range names {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		cancel()
		if rest := len(names) - i - 1; rest > 0 {
			// close the losers in the background
			go func() {
				for range rest {
					if l := <-results; l.ses != nil {
						l.ses.t.Close()
					}
				}
			}()
		}
		return r.ses, nil
	}
	if firstErr == nil {
		firstErr = cos.ErrNotConnected
	}
	return nil, firstErr
}

// pickRanks shuffles the monitor names and takes the first
// min(parallel, size).
func (m *MonClient) pickRanks() []string {
	m.mu.Lock()
	names := m.mm.Names()
	m.mu.Unlock()
	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	if len(names) > m.cfg.HuntParallel {
		names = names[:m.cfg.HuntParallel]
	}
	return names
}

func (m *MonClient) probe(ctx context.Context, name string) (*monSession, error) {
	t, err := m.d.Dial(ctx, name)
	if err != nil {
		return nil, err
	}
	// the transport has no deadlines; closing it unblocks Recv
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-watchdogDone:
		}
	}()

	tk, gid, exp, err := m.handshake(t)
	if err != nil {
		t.Close()
		return nil, err
	}
	m.mu.Lock()
	m.ticket, m.ticketExp, m.globalID = tk, exp, gid
	m.mu.Unlock()
	return &monSession{t: t, name: name, down: make(chan struct{})}, nil
}

// handshake authenticates on a fresh transport. An unexpired ticket
// rides the fast path; otherwise challenge/response.
func (m *MonClient) handshake(t Transport) (tk string, gid uint64, exp time.Time, err error) {
	clientCh, err := newChallenge()
	if err != nil {
		return "", 0, time.Time{}, err
	}
	req := &Frame{Op: opAuth, Name: m.cfg.Entity, Str: clientCh}
	m.mu.Lock()
	if m.ticket != "" && time.Until(m.ticketExp) > time.Second {
		req.Data, req.Flags = []byte(m.ticket), flagAuthTicket
	}
	m.mu.Unlock()
	if err := t.Send(req); err != nil {
		return "", 0, time.Time{}, err
	}
	for {
		f, err := t.Recv()
		if err != nil {
			return "", 0, time.Time{}, err
		}
		if f.Op != opAuthReply {
			continue
		}
		switch {
		case f.Code == 0:
			return string(f.Data), f.Version, time.Unix(int64(f.Aux), 0), nil
		case errors.Is(f.Err(), cos.ErrTryAgain):
			proof := proofOf(m.cfg.Secret, f.Str, clientCh)
			err = t.Send(&Frame{Op: opAuth, Name: m.cfg.Entity, Str: clientCh, Data: proof})
			if err != nil {
				return "", 0, time.Time{}, err
			}
		default:
			return "", 0, time.Time{}, f.Err()
		}
	}
}

func (m *MonClient) setSession(ses *monSession) {
	m.lastRecv.Store(mono.NanoTime())
	m.backoff.Store(int64(m.cfg.BackoffBase))
	m.mu.Lock()
	m.ses = ses
	close(m.ready)
	m.mu.Unlock()
	m.RenewSubs()
	if cos.FastV(4, cos.SmoduleMon) {
		nlog.Infof("monc: session with mon.%s established", ses.name)
	}
}

func (m *MonClient) clearSession(ses *monSession) {
	ses.t.Close()
	m.mu.Lock()
	if m.ses == ses {
		m.ses = nil
		m.ready = make(chan struct{})
	}
	m.mu.Unlock()
	close(ses.down)
}

// session returns the live session, waiting out a hunt if one is in
// progress.
func (m *MonClient) session(ctx context.Context) (*monSession, error) {
	for {
		m.mu.Lock()
		ses, ready := m.ses, m.ready
		m.mu.Unlock()
		if ses != nil {
			return ses, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctxErr(ctx)
		case <-m.stop.Listen():
			return nil, cos.ErrNotConnected
		}
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return cos.ErrTimedOut
	}
	return ctx.Err()
}

//
// receive path
//

func (m *MonClient) recvLoop(ses *monSession) {
	for {
		f, err := ses.t.Recv()
		if err != nil {
			return
		}
		m.lastRecv.Store(mono.NanoTime())
		switch f.Op {
		case opDeliver:
			m.handleDeliver(f)
		case opLog:
			m.handleLog(f)
		case opKeepalive:
			// traffic is the point
		case opAuthReply, opCmdReply, opVerReply:
			m.mu.Lock()
			ch := m.pending[f.Tid]
			delete(m.pending, f.Tid)
			m.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		}
	}
}

func (m *MonClient) handleDeliver(f *Frame) {
	m.mu.Lock()
	m.maps[f.Name] = Delivery{Data: f.Data, Version: f.Version}
	m.subGotLocked(f.Name, f.Version)
	cb := m.onDeliv
	m.mu.Unlock()
	if f.Name == "monmap" {
		m.updateMonMap(f.Data)
	}
	if cb != nil {
		cb(f.Name, f.Version, f.Data)
	}
}

func (m *MonClient) updateMonMap(data []byte) {
	mm := &MonMap{}
	if err := cos.JSON.Unmarshal(data, mm); err != nil {
		nlog.Warningln("monc: bad monmap delivery:", err)
		return
	}
	m.mu.Lock()
	newer := mm.Epoch > m.mm.Epoch
	if newer {
		m.mm = mm
	}
	m.mu.Unlock()
	if newer && m.cfg.CacheDir != "" {
		if err := mm.Save(m.cfg.CacheDir); err != nil {
			nlog.Warningln("monc: failed to cache monmap:", err)
		}
	}
}

func (m *MonClient) handleLog(f *Frame) {
	m.mu.Lock()
	if m.logCb == nil || f.Version <= m.logSeen {
		m.mu.Unlock()
		return
	}
	m.logSeen = f.Version
	cb := m.logCb
	m.mu.Unlock()
	cb(f.Str)
}

//
// subscriptions
//

// SubWant arms a subscription starting at the given version.
func (m *MonClient) SubWant(what string, start uint64, flags uint8) {
	m.mu.Lock()
	m.subs[what] = &subWant{start: start, flags: flags}
	ses := m.ses
	m.mu.Unlock()
	if ses != nil {
		ses.t.Send(&Frame{Op: opSub, Name: what, Version: start, Flags: flags})
	}
}

// SubWantIncrement is SubWant that only ever raises the start version.
func (m *MonClient) SubWantIncrement(what string, start uint64, flags uint8) {
	m.mu.Lock()
	if sub, ok := m.subs[what]; ok && sub.start >= start {
		m.mu.Unlock()
		return
	}
	m.subs[what] = &subWant{start: start, flags: flags}
	ses := m.ses
	m.mu.Unlock()
	if ses != nil {
		ses.t.Send(&Frame{Op: opSub, Name: what, Version: start, Flags: flags})
	}
}

// SubGot acknowledges a delivery: ONETIME subscriptions retire, the
// rest advance to version+1.
func (m *MonClient) SubGot(what string, version uint64) {
	m.mu.Lock()
	m.subGotLocked(what, version)
	m.mu.Unlock()
}

func (m *MonClient) subGotLocked(what string, version uint64) {
	sub, ok := m.subs[what]
	if !ok {
		return
	}
	if sub.flags&FlagOnetime != 0 {
		delete(m.subs, what)
		return
	}
	if version >= sub.start {
		sub.start = version + 1
	}
}

// Unsubscribe retires a subscription on both ends.
func (m *MonClient) Unsubscribe(what string) {
	m.mu.Lock()
	delete(m.subs, what)
	ses := m.ses
	m.mu.Unlock()
	if ses != nil {
		ses.t.Send(&Frame{Op: opSub, Name: what, Flags: flagSubCancel})
	}
}

// RenewSubs resends every want; called on (re)connect.
func (m *MonClient) RenewSubs() {
	m.mu.Lock()
	ses := m.ses
	type want struct {
		what string
		sub  subWant
	}
	wants := make([]want, 0, len(m.subs))
	for what, sub := range m.subs {
		wants = append(wants, want{what, *sub})
	}
	m.mu.Unlock()
	if ses == nil {
		return
	}
	for _, w := range wants {
		ses.t.Send(&Frame{Op: opSub, Name: w.what, Version: w.sub.start, Flags: w.sub.flags})
	}
}

//
// commands and versions
//

// MonCommand runs a command on the connected monitor. The command is
// resent if the session re-establishes mid-flight; ctx bounds the
// whole attempt.
func (m *MonClient) MonCommand(ctx context.Context, cmd, inbl []byte) (outbl []byte, outs string, err error) {
	return m.command(ctx, "", cmd, inbl)
}

// MonCommandToName runs a command on the named monitor over a
// dedicated one-shot session.
func (m *MonClient) MonCommandToName(ctx context.Context, name string, cmd, inbl []byte) ([]byte, string, error) {
	m.mu.Lock()
	ok := m.mm.Contains(name)
	m.mu.Unlock()
	if !ok {
		return nil, "", cos.ErrNotFound
	}
	return m.oneShot(ctx, name, cmd, inbl)
}

// MonCommandToRank is MonCommandToName by quorum rank.
func (m *MonClient) MonCommandToRank(ctx context.Context, rank int, cmd, inbl []byte) ([]byte, string, error) {
	m.mu.Lock()
	name, err := m.mm.NameByRank(rank)
	m.mu.Unlock()
	if err != nil {
		return nil, "", err
	}
	return m.oneShot(ctx, name, cmd, inbl)
}

// GetVersion asks the monitor for the newest and oldest available
// version of a map.
func (m *MonClient) GetVersion(ctx context.Context, what string) (newest, oldest uint64, err error) {
	ctx, cancel := m.cmdCtx(ctx)
	defer cancel()
	f, err := m.request(ctx, &Frame{Op: opGetVer, Name: what})
	if err != nil {
		return 0, 0, err
	}
	if f.Code != 0 {
		return 0, 0, f.Err()
	}
	return f.Version, f.Aux, nil
}

func (m *MonClient) cmdCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.CmdTimeout)
}

func (m *MonClient) command(ctx context.Context, target string, cmd, inbl []byte) ([]byte, string, error) {
	ctx, cancel := m.cmdCtx(ctx)
	defer cancel()
	f, err := m.request(ctx, &Frame{Op: opCmd, Name: target, Str: string(cmd), Data: inbl})
	if err != nil {
		return nil, "", err
	}
	if f.Code != 0 {
		return f.Data, f.Str, f.Err()
	}
	return f.Data, f.Str, nil
}

// request is the tid-tracked round trip; it retries on a fresh
// session whenever the current one drops before replying.
func (m *MonClient) request(ctx context.Context, req *Frame) (*Frame, error) {
	for {
		ses, err := m.session(ctx)
		if err != nil {
			return nil, err
		}
		tid := m.tid.Add(1)
		ch := make(chan *Frame, 1)
		m.mu.Lock()
		m.pending[tid] = ch
		m.mu.Unlock()

		req.Tid = tid
		if err := ses.t.Send(req); err != nil {
			m.unregister(tid)
			continue // session died under us
		}
		select {
		case f := <-ch:
			return f, nil
		case <-ses.down:
			m.unregister(tid)
			// resend on the re-established session
		case <-ctx.Done():
			m.unregister(tid)
			return nil, ctxErr(ctx)
		case <-m.stop.Listen():
			m.unregister(tid)
			return nil, cos.ErrNotConnected
		}
	}
}

func (m *MonClient) unregister(tid uint64) {
	m.mu.Lock()
	delete(m.pending, tid)
	m.mu.Unlock()
}

// oneShot dials the target directly: auth, one command, close.
func (m *MonClient) oneShot(ctx context.Context, name string, cmd, inbl []byte) ([]byte, string, error) {
	ctx, cancel := m.cmdCtx(ctx)
	defer cancel()
	t, err := m.d.Dial(ctx, name)
	if err != nil {
		return nil, "", err
	}
	defer t.Close()
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-watchdogDone:
		}
	}()

	if _, _, _, err := m.handshake(t); err != nil {
		return nil, "", err
	}
	req := &Frame{Op: opCmd, Tid: 1, Name: "name:" + name, Str: string(cmd), Data: inbl}
	if err := t.Send(req); err != nil {
		return nil, "", err
	}
	for {
		f, err := t.Recv()
		if err != nil {
			if errors.Is(err, cos.ErrNotConnected) && ctx.Err() != nil {
				return nil, "", ctxErr(ctx)
			}
			return nil, "", err
		}
		if f.Op != opCmdReply || f.Tid != 1 {
			continue
		}
		if f.Code != 0 {
			return f.Data, f.Str, f.Err()
		}
		return f.Data, f.Str, nil
	}
}

//
// monitor log subscriptions
//

// StartLogging subscribes to the cluster log at the given level and
// above; a nil callback unsubscribes.
func (m *MonClient) StartLogging(level string, cb func(line string)) error {
	if cb == nil {
		m.mu.Lock()
		what := m.logWhat
		m.logCb, m.logWhat = nil, ""
		delete(m.subs, what)
		ses := m.ses
		m.mu.Unlock()
		if what != "" && ses != nil {
			ses.t.Send(&Frame{Op: opSub, Name: what, Flags: flagSubCancel})
		}
		return nil
	}
	switch level {
	case "warning":
		level = "warn"
	case "error":
		level = "err"
	}
	if logRank(level) < 0 {
		return cos.ErrInvalid
	}
	what := "log-" + level
	m.mu.Lock()
	prev := m.logWhat
	if prev != "" && prev != what {
		delete(m.subs, prev)
	}
	m.logCb, m.logWhat = cb, what
	startV := m.logSeen + 1
	m.subs[what] = &subWant{start: startV}
	ses := m.ses
	m.mu.Unlock()
	if ses != nil {
		if prev != "" && prev != what {
			ses.t.Send(&Frame{Op: opSub, Name: prev, Flags: flagSubCancel})
		}
		ses.t.Send(&Frame{Op: opSub, Name: what, Version: startV})
	}
	return nil
}

//
// keepalive, staleness, ticket renewal
//

func (m *MonClient) keepaliveLoop() {
	ticker := time.NewTicker(m.cfg.KeepaliveIval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop.Listen():
			return
		case <-ticker.C:
			m.mu.Lock()
			ses := m.ses
			exp := m.ticketExp
			m.mu.Unlock()
			if ses == nil {
				continue
			}
			if mono.Since(m.lastRecv.Load()) > m.cfg.StaleAfter {
				nlog.Warningf("monc: mon.%s session stale, re-hunting", ses.name)
				ses.t.Close() // recvLoop unblocks and re-hunts
				continue
			}
			ses.t.Send(&Frame{Op: opKeepalive})
			// healthy interval: decay the reopen backoff
			b := time.Duration(m.backoff.Load())
			m.backoff.Store(int64(max(m.cfg.BackoffBase, b*3/4)))
			if time.Until(exp) < m.cfg.KeepaliveIval*3 {
				go m.renewTicket(ses)
			}
		}
	}
}

// renewTicket refreshes the session ticket in-band before expiry.
func (m *MonClient) renewTicket(ses *monSession) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.KeepaliveIval)
	defer cancel()
	clientCh, err := newChallenge()
	if err != nil {
		return
	}
	m.mu.Lock()
	cur := m.ticket
	m.mu.Unlock()
	f, err := m.request(ctx, &Frame{
		Op: opAuth, Name: m.cfg.Entity, Str: clientCh,
		Data: []byte(cur), Flags: flagAuthTicket,
	})
	if err != nil {
		return
	}
	if errors.Is(f.Err(), cos.ErrTryAgain) {
		proof := proofOf(m.cfg.Secret, f.Str, clientCh)
		f, err = m.request(ctx, &Frame{Op: opAuth, Name: m.cfg.Entity, Str: clientCh, Data: proof})
		if err != nil {
			return
		}
	}
	if f.Code != 0 {
		return
	}
	m.mu.Lock()
	m.ticket, m.ticketExp, m.globalID = string(f.Data), time.Unix(int64(f.Aux), 0), f.Version
	m.mu.Unlock()
	if cos.FastV(5, cos.SmoduleMon) {
		nlog.Infof("monc: ticket renewed, expires %s", time.Unix(int64(f.Aux), 0).Format(time.RFC3339))
	}
}
