// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/cmn/mono"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/NVIDIA/radstore/hk"
)

const (
	notifyAckTimeout = 15 * time.Second // default wait for all watchers to ack

	watchEventCap = 16
)

type (
	// NotifyEvent is delivered to every watcher of the notified object;
	// the watcher responds via NotifyAck, quoting NotifyID and Handle.
	NotifyEvent struct {
		Data     []byte
		NotifyID uint64
		Handle   uint64
	}

	// NotifyResponse: ack payloads by watch handle, plus the handles
	// that failed to respond within the timeout.
	NotifyResponse struct {
		Acks     map[uint64][]byte
		Timeouts []uint64
	}

	// Watcher is one registered watch, as reported by ListWatchers.
	Watcher struct {
		Addr           string `json:"addr"`
		WatcherID      int64  `json:"watcher_id"`
		Cookie         uint64 `json:"cookie"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
	}

	// WatchCtx is the receiving end of a watch; Events closes when the
	// watch is dropped (Unwatch, eviction, or cluster blocklisting).
	WatchCtx struct {
		Events <-chan NotifyEvent
		Handle uint64
	}
)

type (
	watchHandle struct {
		events chan NotifyEvent
		key    objKey
		handle uint64
		seen   atomic.Int64 // mono ns of the last delivery or ack
		missed atomic.Int64 // deliveries dropped on a full channel
	}
	notifyHandle struct {
		mu      sync.Mutex
		pending map[uint64]struct{}
		acks    map[uint64][]byte
		done    chan struct{}
	}
	objWatch struct {
		watchers map[uint64]*watchHandle
		notifies map[uint64]*notifyHandle
	}
	watchNotify struct {
		c        *Cluster
		objs     map[objKey]*objWatch
		byHandle map[uint64]*watchHandle
		mu       sync.Mutex
		handle   atomic.Uint64
		notifyID atomic.Uint64
	}
)

func newWatchNotify(c *Cluster) *watchNotify {
	return &watchNotify{
		c:        c,
		objs:     make(map[objKey]*objWatch, 8),
		byHandle: make(map[uint64]*watchHandle, 8),
	}
}

// caller holds wn.mu
func (wn *watchNotify) get(key objKey) *objWatch {
	ow := wn.objs[key]
	if ow == nil {
		ow = &objWatch{
			watchers: make(map[uint64]*watchHandle, 2),
			notifies: make(map[uint64]*notifyHandle, 2),
		}
		wn.objs[key] = ow
	}
	return ow
}

// caller holds wn.mu; closing Events is the drop signal to the consumer
func (wn *watchNotify) drop(w *watchHandle) {
	delete(wn.byHandle, w.handle)
	if ow := wn.objs[w.key]; ow != nil {
		delete(ow.watchers, w.handle)
		if len(ow.watchers) == 0 && len(ow.notifies) == 0 {
			delete(wn.objs, w.key)
		}
	}
	close(w.events)
}

func (wn *watchNotify) watch(key objKey) *WatchCtx {
	w := &watchHandle{
		events: make(chan NotifyEvent, watchEventCap),
		key:    key,
		handle: wn.handle.Inc(),
	}
	w.seen.Store(mono.NanoTime())
	wn.mu.Lock()
	wn.get(key).watchers[w.handle] = w
	wn.byHandle[w.handle] = w
	wn.mu.Unlock()
	return &WatchCtx{Events: w.events, Handle: w.handle}
}

func (wn *watchNotify) unwatch(handle uint64) {
	wn.mu.Lock()
	if w := wn.byHandle[handle]; w != nil {
		wn.drop(w)
	}
	wn.mu.Unlock()
}

// notify fans the payload out to all current watchers of the object and
// blocks until every one of them acks, or the timeout lapses. Watchers
// that stopped draining their channel simply end up in Timeouts.
func (wn *watchNotify) notify(key objKey, data []byte, timeout time.Duration) (*NotifyResponse, error) {
	if timeout <= 0 {
		timeout = notifyAckTimeout
	}
	id := wn.notifyID.Inc()
	nh := &notifyHandle{
		pending: make(map[uint64]struct{}, 2),
		acks:    make(map[uint64][]byte, 2),
		done:    make(chan struct{}),
	}
	wn.mu.Lock()
	ow := wn.get(key)
	ow.notifies[id] = nh
	now := mono.NanoTime()
	for h, w := range ow.watchers {
		nh.pending[h] = struct{}{}
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case w.events <- NotifyEvent{Data: payload, NotifyID: id, Handle: h}:
			w.seen.Store(now)
		default:
			w.missed.Inc()
		}
	}
	if len(nh.pending) == 0 {
		close(nh.done)
	}
	wn.mu.Unlock()

	select {
	case <-nh.done:
	case <-time.After(timeout):
	}

	resp := &NotifyResponse{}
	wn.mu.Lock()
	nh.mu.Lock()
	resp.Acks = nh.acks
	for h := range nh.pending {
		resp.Timeouts = append(resp.Timeouts, h)
	}
	nh.pending = nil // late acks turn into no-ops
	nh.mu.Unlock()
	delete(ow.notifies, id)
	if len(ow.watchers) == 0 && len(ow.notifies) == 0 {
		delete(wn.objs, key)
	}
	wn.mu.Unlock()

	sort.Slice(resp.Timeouts, func(i, j int) bool { return resp.Timeouts[i] < resp.Timeouts[j] })
	return resp, nil
}

func (wn *watchNotify) notifyAck(key objKey, notifyID, handle uint64, reply []byte) {
	wn.mu.Lock()
	var nh *notifyHandle
	if ow := wn.objs[key]; ow != nil {
		nh = ow.notifies[notifyID]
		if w := ow.watchers[handle]; w != nil {
			w.seen.Store(mono.NanoTime())
		}
	}
	wn.mu.Unlock()
	if nh == nil {
		return
	}
	nh.mu.Lock()
	if _, ok := nh.pending[handle]; ok {
		delete(nh.pending, handle)
		nh.acks[handle] = append([]byte(nil), reply...)
		if len(nh.pending) == 0 {
			close(nh.done)
		}
	}
	nh.mu.Unlock()
}

func (wn *watchNotify) listWatchers(key objKey, timeoutSec uint32) []Watcher {
	wn.mu.Lock()
	ow := wn.objs[key]
	out := make([]Watcher, 0, 4)
	if ow != nil {
		for h := range ow.watchers {
			out = append(out, Watcher{Addr: ":/0", WatcherID: int64(h), Cookie: h, TimeoutSeconds: timeoutSec})
		}
	}
	wn.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cookie < out[j].Cookie })
	return out
}

// evictAll drops every watch; runs when the cluster's own address gets
// blocklisted.
func (wn *watchNotify) evictAll() {
	wn.mu.Lock()
	ws := make([]*watchHandle, 0, len(wn.byHandle))
	for _, w := range wn.byHandle {
		ws = append(ws, w)
	}
	for _, w := range ws {
		wn.drop(w)
	}
	wn.mu.Unlock()
}

// housekeep evicts watchers that stopped draining their event channel.
func (wn *watchNotify) housekeep(now int64) time.Duration {
	var stale []uint64
	wn.mu.Lock()
	for _, ow := range wn.objs {
		for _, w := range ow.watchers {
			if w.missed.Load() > 0 && time.Duration(now-w.seen.Load()) > hk.OldAgeWatcher {
				stale = append(stale, w.handle)
			}
		}
	}
	for _, h := range stale {
		if w := wn.byHandle[h]; w != nil {
			wn.drop(w)
		}
	}
	wn.mu.Unlock()
	if len(stale) > 0 {
		nlog.Warningln("evicted", len(stale), "unresponsive watcher(s)")
	}
	return hk.WatchSweepIval
}

///////////
// IOCtx //
///////////

func (ix *IOCtx) Watch(oid string) (*WatchCtx, error) {
	ix.c.assertOpen()
	return ix.c.wn.watch(ix.key(oid)), nil
}

func (ix *IOCtx) Unwatch(handle uint64) error {
	ix.c.wn.unwatch(handle)
	return nil
}

func (ix *IOCtx) Notify(oid string, data []byte, timeout time.Duration) (*NotifyResponse, error) {
	ix.c.assertOpen()
	return ix.c.wn.notify(ix.key(oid), data, timeout)
}

func (ix *IOCtx) NotifyAck(oid string, notifyID, handle uint64, reply []byte) error {
	ix.c.wn.notifyAck(ix.key(oid), notifyID, handle, reply)
	return nil
}

func (ix *IOCtx) ListWatchers(oid string) ([]Watcher, error) {
	sec := uint32(ix.c.cfg.WatchTimeout / time.Second)
	return ix.c.wn.listWatchers(ix.key(oid), sec), nil
}
