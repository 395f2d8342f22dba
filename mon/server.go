/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/mono"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/hk"
	"github.com/NVIDIA/radstore/rados"
)

const Version = "2.4.1"

// Subscription flags.
const (
	FlagOnetime = uint8(1) // drop the subscription after the first delivery
)

// opAuth frame flag: Data carries a previously issued ticket instead
// of a challenge proof.
const flagAuthTicket = uint8(1)

const (
	defaultSessionTimeout = 30 * time.Second
	defaultTickIval       = 100 * time.Millisecond

	logRingCap = 128
)

// log priorities, lowest first; a "log-<level>" subscription receives
// lines at that level and above
var logLevels = []string{"debug", "info", "warn", "err", "sec"}

func logRank(level string) int {
	for i, l := range logLevels {
		if l == level {
			return i
		}
	}
	return -1
}

type (
	ServerConfig struct {
		Name           string   // monitor name; default "a"
		Secret         string   // cluster auth secret; default generated
		Keyring        *Keyring // entities allowed to connect
		Dir            string   // when set, the monmap is cached here
		MonMap         *MonMap  // preexisting map (multi-mon); default fresh
		TicketTTL      time.Duration
		RotationPeriod time.Duration
		SessionTimeout time.Duration
		TickIval       time.Duration
	}

	Server struct {
		c   *rados.Cluster
		cfg ServerConfig
		bs  *Bus
		mm  *MonMap

		mu       sync.Mutex
		sessions map[uint64]*session
		cfgKV    map[string]string
		loglines []logLine

		accept chan *chanConn
		bgt    *hk.HK

		cfgVer atomic.Uint64
		logVer atomic.Uint64
		sid    atomic.Uint64
		closed atomic.Bool
	}

	session struct {
		srv       *Server
		conn      *chanConn
		id        uint64
		entity    string
		caps      string
		challenge string // outstanding server challenge

		mu   sync.Mutex
		subs map[string]*subState

		lastSeen atomic.Int64 // mono ns
		authed   atomic.Bool
	}

	subState struct {
		start uint64
		flags uint8
	}

	logLine struct {
		stamp   time.Time
		who     string
		prio    string
		msg     string
		version uint64
	}
)

func NewServer(c *rados.Cluster, bs *Bus, cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "a"
	}
	if cfg.Secret == "" {
		cfg.Secret = cos.GenUUID()
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = defaultTicketTTL
	}
	if cfg.RotationPeriod <= 0 {
		cfg.RotationPeriod = defaultRotationPeriod
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}
	if cfg.TickIval <= 0 {
		cfg.TickIval = defaultTickIval
	}
	if cfg.Keyring == nil {
		cfg.Keyring = &Keyring{}
	}

	mm := cfg.MonMap
	if mm == nil {
		mm = NewMonMap(c.FSID())
	} else {
		mm = mm.Clone()
	}
	if !mm.Contains(cfg.Name) {
		if err := mm.Add(cfg.Name, "inproc://"+cfg.Name); err != nil {
			return nil, err
		}
	}

	s := &Server{
		c:        c,
		cfg:      cfg,
		bs:       bs,
		mm:       mm,
		sessions: make(map[uint64]*session, 8),
		cfgKV:    make(map[string]string, 8),
	}
	accept, err := bs.listen(cfg.Name)
	if err != nil {
		return nil, err
	}
	s.accept = accept

	if cfg.Dir != "" {
		if err := mm.Save(cfg.Dir); err != nil {
			bs.unlisten(cfg.Name)
			return nil, err
		}
	}

	s.bgt = hk.New("mon." + cfg.Name)
	s.bgt.Reg("tick"+hk.NameSuffix, s.tick, cfg.TickIval)
	go s.bgt.Run()
	go s.acceptLoop()

	s.logf("info", "mon.%s at %s is up, fsid %s", cfg.Name, mm.Addrs[cfg.Name], c.FSID())
	return s, nil
}

func (s *Server) Name() string    { return s.cfg.Name }
func (s *Server) MonMap() *MonMap { return s.mm.Clone() }

func (s *Server) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	s.bs.unlisten(s.cfg.Name)
	s.bgt.Stop(nil)
	s.mu.Lock()
	for _, ses := range s.sessions {
		ses.conn.Close()
	}
	s.sessions = make(map[uint64]*session)
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	for conn := range s.accept {
		if s.closed.Load() {
			conn.Close()
			return
		}
		ses := &session{
			srv:  s,
			conn: conn,
			id:   s.sid.Add(1),
			subs: make(map[string]*subState, 4),
		}
		ses.lastSeen.Store(mono.NanoTime())
		s.mu.Lock()
		s.sessions[ses.id] = ses
		s.mu.Unlock()
		go ses.serve()
	}
}

func (s *Server) dropSession(ses *session) {
	ses.conn.Close()
	s.mu.Lock()
	delete(s.sessions, ses.id)
	s.mu.Unlock()
}

// logf appends to the bounded cluster log; subscribers drain it on the
// next tick.
func (s *Server) logf(prio, format string, args ...any) {
	line := logLine{
		stamp:   time.Now(),
		who:     "mon." + s.cfg.Name,
		prio:    prio,
		msg:     strings.TrimSpace(fmt.Sprintf(format, args...)),
		version: s.logVer.Add(1),
	}
	s.mu.Lock()
	s.loglines = append(s.loglines, line)
	if len(s.loglines) > logRingCap {
		s.loglines = s.loglines[len(s.loglines)-logRingCap:]
	}
	s.mu.Unlock()
}

func (l *logLine) render() string {
	return l.stamp.Format(time.RFC3339) + " " + l.who + " " + l.prio + " " + l.msg
}

//
// periodic: deliveries, log fan-out, stale-session eviction
//

func (s *Server) tick(int64) time.Duration {
	s.pushDeliveries()
	s.evictStale()
	return s.cfg.TickIval
}

func (s *Server) evictStale() {
	var stale []*session
	now := mono.NanoTime()
	horizon := s.cfg.SessionTimeout.Nanoseconds()
	s.mu.Lock()
	for _, ses := range s.sessions {
		if now-ses.lastSeen.Load() > horizon {
			stale = append(stale, ses)
		}
	}
	s.mu.Unlock()
	for _, ses := range stale {
		s.logf("warn", "session %d (%s) timed out", ses.id, ses.entity)
		s.dropSession(ses)
	}
}

func (s *Server) mapVersion(what string) (uint64, bool) {
	switch what {
	case "monmap":
		return uint64(s.mm.Epoch), true
	case "osdmap":
		return uint64(s.c.Epoch()), true
	case "config":
		return s.cfgVer.Load() + 1, true // config v1 is the empty map
	}
	return 0, false
}

func (s *Server) mapPayload(what string) []byte {
	switch what {
	case "monmap":
		return cos.MustMarshal(s.mm)
	case "osdmap":
		return cos.MustMarshal(osdMap{
			FSID:      s.c.FSID(),
			Epoch:     s.c.Epoch(),
			Pools:     s.c.ListPools(),
			Blocklist: s.c.Blocklist(),
		})
	case "config":
		s.mu.Lock()
		b := cos.MustMarshal(s.cfgKV)
		s.mu.Unlock()
		return b
	}
	return nil
}

type osdMap struct {
	FSID      string              `json:"fsid"`
	Pools     []rados.PoolStats   `json:"pools"`
	Blocklist []rados.BlockedAddr `json:"blocklist"`
	Epoch     uint32              `json:"epoch"`
}

// pushDeliveries walks every (session, subscription) pair and sends
// what is due. A full send channel leaves the subscription untouched,
// so the next tick retries; start only ever advances on delivery.
func (s *Server) pushDeliveries() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, ses := range s.sessions {
		sessions = append(sessions, ses)
	}
	lines := append([]logLine(nil), s.loglines...)
	s.mu.Unlock()

	for _, ses := range sessions {
		if !ses.authed.Load() {
			continue
		}
		ses.push(lines)
	}
}

func (ses *session) push(lines []logLine) {
	ses.mu.Lock()
	defer ses.mu.Unlock()
	for what, sub := range ses.subs {
		if level, ok := strings.CutPrefix(what, "log-"); ok {
			ses.pushLog(what, sub, level, lines)
			continue
		}
		cur, ok := ses.srv.mapVersion(what)
		if !ok || cur < sub.start {
			continue
		}
		delivered := ses.conn.trySend(&Frame{
			Op:      opDeliver,
			Name:    what,
			Version: cur,
			Data:    ses.srv.mapPayload(what),
		})
		if !delivered {
			continue
		}
		if sub.flags&FlagOnetime != 0 {
			delete(ses.subs, what)
		} else {
			sub.start = cur + 1
		}
	}
}

func (ses *session) pushLog(what string, sub *subState, level string, lines []logLine) {
	rank := logRank(level)
	if rank < 0 {
		return
	}
	for i := range lines {
		l := &lines[i]
		if l.version < sub.start || logRank(l.prio) < rank {
			continue
		}
		ok := ses.conn.trySend(&Frame{
			Op:      opLog,
			Name:    what,
			Version: l.version,
			Str:     l.render(),
		})
		if !ok {
			return // retry from here next tick
		}
		sub.start = l.version + 1
	}
	if sub.flags&FlagOnetime != 0 && sub.start > 1 {
		delete(ses.subs, what)
	}
}

//
// session loop
//

func (ses *session) serve() {
	defer ses.srv.dropSession(ses)
	for {
		f, err := ses.conn.Recv()
		if err != nil {
			return
		}
		ses.lastSeen.Store(mono.NanoTime())
		switch f.Op {
		case opAuth:
			ses.handleAuth(f)
		case opKeepalive:
			ses.conn.trySend(&Frame{Op: opKeepalive})
		case opSub:
			if ses.requireAuth(f) {
				ses.handleSub(f)
			}
		case opCmd:
			if ses.requireAuth(f) {
				ses.handleCommand(f)
			}
		case opGetVer:
			if ses.requireAuth(f) {
				ses.handleGetVersion(f)
			}
		default:
			ses.reply(&Frame{Op: f.Op, Tid: f.Tid, Code: errCode(cos.ErrNotSupported)})
		}
	}
}

func (ses *session) reply(f *Frame) {
	if err := ses.conn.Send(f); err != nil && cos.FastV(5, cos.SmoduleMon) {
		nlog.Warningln("mon reply dropped:", f.String(), err)
	}
}

func (ses *session) requireAuth(f *Frame) bool {
	if ses.authed.Load() {
		return true
	}
	ses.reply(&Frame{Op: f.Op, Tid: f.Tid, Code: errCode(cos.ErrPermission)})
	return false
}

func (ses *session) handleAuth(f *Frame) {
	srv := ses.srv
	secret, err := srv.cfg.Keyring.Secret(f.Name)
	if err != nil {
		srv.logf("sec", "auth: unknown entity %q", f.Name)
		ses.reply(&Frame{Op: opAuthReply, Tid: f.Tid, Code: errCode(cos.ErrNotFound)})
		return
	}

	// ticket refresh: accept the current and the previous service key,
	// so a refresh never loses to a rotation
	if f.Flags&flagAuthTicket != 0 {
		epoch := keyEpochAt(time.Now(), srv.cfg.RotationPeriod)
		tk, err := parseTicket(string(f.Data), srv.serviceKey(epoch))
		if err != nil {
			tk, err = parseTicket(string(f.Data), srv.serviceKey(epoch-1))
		}
		if err == nil && tk.Entity == f.Name {
			ses.finishAuth(f, tk.GlobalID, tk.Caps)
		} else {
			// expired or foreign ticket: restart the handshake
			ses.sendChallenge(f)
		}
		return
	}

	if len(f.Data) == 0 {
		ses.sendChallenge(f)
		return
	}

	if ses.challenge == "" || !verifyProof(secret, ses.challenge, f.Str, f.Data) {
		srv.logf("sec", "auth: bad proof from entity %q", f.Name)
		ses.reply(&Frame{Op: opAuthReply, Tid: f.Tid, Code: errCode(cos.ErrPermission)})
		return
	}
	ses.challenge = ""
	ses.finishAuth(f, ses.id, srv.cfg.Keyring.Caps(f.Name))
}

func (ses *session) sendChallenge(f *Frame) {
	ch, err := newChallenge()
	if err != nil {
		ses.reply(&Frame{Op: opAuthReply, Tid: f.Tid, Code: errCode(cos.ErrIO)})
		return
	}
	ses.challenge = ch
	ses.reply(&Frame{Op: opAuthReply, Tid: f.Tid, Code: errCode(cos.ErrTryAgain), Str: ch})
}

func (ses *session) finishAuth(f *Frame, globalID uint64, caps string) {
	srv := ses.srv
	expires := time.Now().Add(srv.cfg.TicketTTL)
	tok, err := issueTicket(srv.serviceKey(keyEpochAt(time.Now(), srv.cfg.RotationPeriod)), &ticket{
		Entity:   f.Name,
		GlobalID: globalID,
		Caps:     caps,
		Expires:  expires,
	})
	if err != nil {
		ses.reply(&Frame{Op: opAuthReply, Tid: f.Tid, Code: errCode(cos.ErrIO)})
		return
	}
	ses.entity = f.Name
	ses.caps = caps
	ses.authed.Store(true)
	ses.reply(&Frame{
		Op:      opAuthReply,
		Tid:     f.Tid,
		Data:    []byte(tok),
		Version: globalID,
		Aux:     uint64(expires.Unix()),
	})
	if cos.FastV(5, cos.SmoduleMon) {
		nlog.Infof("mon.%s: session %d authenticated as %s", srv.cfg.Name, ses.id, f.Name)
	}
}

func (s *Server) serviceKey(epoch uint64) []byte {
	return serviceKey([]byte(s.cfg.Secret), s.c.FSID(), epoch)
}

func (ses *session) handleSub(f *Frame) {
	ses.mu.Lock()
	if f.Flags&flagSubCancel != 0 {
		delete(ses.subs, f.Name)
		ses.mu.Unlock()
		return
	}
	sub := ses.subs[f.Name]
	if sub == nil {
		sub = &subState{}
		ses.subs[f.Name] = sub
	}
	sub.start = f.Version
	sub.flags = f.Flags
	ses.mu.Unlock()
	// no ack; the deliveries themselves acknowledge
	ses.srv.pushDeliveries()
}

func (ses *session) handleGetVersion(f *Frame) {
	newest, ok := ses.srv.mapVersion(f.Name)
	if !ok {
		ses.reply(&Frame{Op: opVerReply, Tid: f.Tid, Code: errCode(cos.ErrInvalid)})
		return
	}
	ses.reply(&Frame{Op: opVerReply, Tid: f.Tid, Version: newest, Aux: 1})
}

//
// command dispatch
//

type cmdArgs struct {
	Prefix      string  `json:"prefix"`
	Pool        string  `json:"pool,omitempty"`
	BlacklistOp string  `json:"blacklistop,omitempty"`
	Addr        string  `json:"addr,omitempty"`
	Expire      float64 `json:"expire,omitempty"` // seconds
	Key         string  `json:"key,omitempty"`
	Value       string  `json:"value,omitempty"`
	Num         int     `json:"num,omitempty"`
}

func capsAllowWrite(caps string) bool {
	return strings.Contains(caps, "*") || strings.Contains(caps, "w")
}

func (ses *session) handleCommand(f *Frame) {
	srv := ses.srv
	if f.Name != "" && !srv.isSelf(f.Name) {
		ses.reply(&Frame{Op: opCmdReply, Tid: f.Tid, Code: errCode(cos.ErrInvalid),
			Str: "command target " + f.Name + " is not mon." + srv.cfg.Name})
		return
	}
	var args cmdArgs
	if err := cos.JSON.Unmarshal([]byte(f.Str), &args); err != nil || args.Prefix == "" {
		ses.reply(&Frame{Op: opCmdReply, Tid: f.Tid, Code: errCode(cos.ErrInvalid), Str: "bad command json"})
		return
	}
	outbl, outs, err := srv.runCommand(ses, &args, f.Data)
	ses.reply(&Frame{Op: opCmdReply, Tid: f.Tid, Code: errCode(err), Data: outbl, Str: outs})
}

// isSelf accepts "name:<mon>" and "rank:<n>" targets.
func (s *Server) isSelf(target string) bool {
	if name, ok := strings.CutPrefix(target, "name:"); ok {
		return name == s.cfg.Name
	}
	if r, ok := strings.CutPrefix(target, "rank:"); ok {
		rank, err := strconv.Atoi(r)
		return err == nil && rank == s.mm.Rank(s.cfg.Name)
	}
	return target == s.cfg.Name
}

func (s *Server) runCommand(ses *session, args *cmdArgs, _ []byte) (outbl []byte, outs string, err error) {
	mutating := false
	switch args.Prefix {
	case "osd blacklist", "osd pool create", "osd pool rm", "config set":
		mutating = true
	}
	if mutating && !capsAllowWrite(ses.caps) {
		return nil, "", cos.ErrPermission
	}

	switch args.Prefix {
	case "status":
		st := statusReply{
			FSID:        s.c.FSID(),
			Mon:         s.cfg.Name,
			MonmapEpoch: s.mm.Epoch,
			OsdmapEpoch: s.c.Epoch(),
			Pools:       len(s.c.ListPools()),
			UptimeSec:   int64(time.Since(s.c.Started()).Seconds()),
			Health:      "HEALTH_OK",
		}
		return cos.MustMarshal(st), "cluster " + st.FSID + " " + st.Health, nil

	case "df":
		pools := s.c.ListPools()
		return cos.MustMarshal(dfReply{Pools: pools}), fmt.Sprintf("%d pools", len(pools)), nil

	case "osd blacklist":
		return s.cmdBlacklist(args)

	case "osd pool create":
		if args.Pool == "" {
			return nil, "", cos.ErrInvalid
		}
		id, err := s.c.CreatePool(args.Pool)
		if err != nil {
			return nil, "", err
		}
		s.logf("info", "pool '%s' created (id %d)", args.Pool, id)
		s.pushDeliveries()
		return nil, fmt.Sprintf("pool '%s' created", args.Pool), nil

	case "osd pool rm":
		if args.Pool == "" {
			return nil, "", cos.ErrInvalid
		}
		if err := s.c.DeletePool(args.Pool); err != nil {
			return nil, "", err
		}
		s.logf("info", "pool '%s' removed", args.Pool)
		s.pushDeliveries()
		return nil, fmt.Sprintf("pool '%s' removed", args.Pool), nil

	case "config set":
		if args.Key == "" {
			return nil, "", cos.ErrInvalid
		}
		s.mu.Lock()
		s.cfgKV[args.Key] = args.Value
		s.mu.Unlock()
		s.cfgVer.Add(1)
		s.logf("info", "config set %s = %s", args.Key, args.Value)
		s.pushDeliveries()
		return nil, fmt.Sprintf("%s = %s", args.Key, args.Value), nil

	case "config get":
		if args.Key == "" {
			return nil, "", cos.ErrInvalid
		}
		s.mu.Lock()
		v, ok := s.cfgKV[args.Key]
		s.mu.Unlock()
		if !ok {
			return nil, "", cos.ErrNotFound
		}
		return []byte(v), v, nil

	case "log last":
		num := args.Num
		if num <= 0 {
			num = 20
		}
		s.mu.Lock()
		lines := s.loglines
		if len(lines) > num {
			lines = lines[len(lines)-num:]
		}
		rendered := make([]string, len(lines))
		for i := range lines {
			rendered[i] = lines[i].render()
		}
		s.mu.Unlock()
		return cos.MustMarshal(rendered), strings.Join(rendered, "\n"), nil

	case "quorum_status":
		q := quorumReply{Monmap: s.mm, QuorumNames: s.mm.Quorum}
		for i := range s.mm.Quorum {
			q.Quorum = append(q.Quorum, i)
		}
		return cos.MustMarshal(q), "", nil

	case "version":
		return cos.MustMarshal(map[string]string{"version": Version}), "version " + Version, nil
	}
	return nil, "", cos.ErrNotSupported
}

type (
	statusReply struct {
		FSID        string `json:"fsid"`
		Mon         string `json:"mon"`
		Health      string `json:"health"`
		MonmapEpoch uint32 `json:"monmap_epoch"`
		OsdmapEpoch uint32 `json:"osdmap_epoch"`
		Pools       int    `json:"num_pools"`
		UptimeSec   int64  `json:"uptime_sec"`
	}
	dfReply struct {
		Pools []rados.PoolStats `json:"pools"`
	}
	quorumReply struct {
		Monmap      *MonMap  `json:"monmap"`
		QuorumNames []string `json:"quorum_names"`
		Quorum      []int    `json:"quorum"`
	}
)

func (s *Server) cmdBlacklist(args *cmdArgs) ([]byte, string, error) {
	switch args.BlacklistOp {
	case "add":
		if args.Addr == "" || args.Expire < 0 {
			return nil, "", cos.ErrInvalid
		}
		expire := time.Duration(args.Expire * float64(time.Second))
		s.c.BlocklistAdd(args.Addr, expire)
		s.logf("info", "blacklisting %s", args.Addr)
		s.pushDeliveries()
		return nil, fmt.Sprintf("blacklisting %s", args.Addr), nil
	case "rm":
		if args.Addr == "" {
			return nil, "", cos.ErrInvalid
		}
		if err := s.c.BlocklistRm(args.Addr); err != nil {
			return nil, "", err
		}
		s.logf("info", "un-blacklisting %s", args.Addr)
		s.pushDeliveries()
		return nil, fmt.Sprintf("un-blacklisting %s", args.Addr), nil
	case "ls":
		bl := s.c.Blocklist()
		return cos.MustMarshal(bl), fmt.Sprintf("listed %d entries", len(bl)), nil
	}
	return nil, "", cos.ErrInvalid
}
