// Package rados is the embedded object cluster: an in-memory, fully
// concurrent implementation of the storage data path (pools, object
// ops, class methods, watch/notify, self-managed snapshots, PG logs),
// optionally durable under a data directory.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rados

import (
	"context"
	"sync"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/cespare/xxhash/v2"
)

const (
	numFinishers     = 8
	finisherQueueCap = 256
)

// finishers run async ops; the oid hash picks the queue, so ops on the
// same object complete in submission order.
type finishers struct {
	queues []chan func()
	wg     sync.WaitGroup
}

func newFinishers() *finishers {
	f := &finishers{queues: make([]chan func(), numFinishers)}
	for i := range f.queues {
		q := make(chan func(), finisherQueueCap)
		f.queues[i] = q
		f.wg.Add(1)
		go func(q chan func()) {
			defer f.wg.Done()
			for fn := range q {
				fn()
			}
		}(q)
	}
	return f
}

func (f *finishers) queue(oid string, fn func()) {
	i := xxhash.Sum64String(oid) % uint64(len(f.queues))
	f.queues[i] <- fn
}

// flush returns once everything queued before it has run.
func (f *finishers) flush() {
	var wg sync.WaitGroup
	wg.Add(len(f.queues))
	for _, q := range f.queues {
		q <- wg.Done
	}
	wg.Wait()
}

// stop drains the queues and joins the workers.
func (f *finishers) stop() {
	for _, q := range f.queues {
		close(q)
	}
	f.wg.Wait()
}

////////////////
// Completion //
////////////////

// Completion tracks one async op.
type Completion struct {
	err   error
	ready chan struct{}
}

func newCompletion() *Completion { return &Completion{ready: make(chan struct{})} }

func (cp *Completion) complete(err error) {
	cp.err = err
	close(cp.ready)
}

func (cp *Completion) Ready() bool {
	select {
	case <-cp.ready:
		return true
	default:
		return false
	}
}

func (cp *Completion) WaitForComplete() error {
	<-cp.ready
	return cp.err
}

func (cp *Completion) WaitForCompleteCtx(ctx context.Context) error {
	select {
	case <-cp.ready:
		return cp.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err reports the op's outcome; -EINPROGRESS until ready.
func (cp *Completion) Err() error {
	if !cp.Ready() {
		return cos.ErrInProgress
	}
	return cp.err
}

///////////
// IOCtx //
///////////

func (ix *IOCtx) AioOperate(oid string, op *WriteOp) *Completion {
	ix.c.assertOpen()
	cp := newCompletion()
	ix.c.fin.queue(oid, func() { cp.complete(ix.operateOn(oid, op.steps, true)) })
	return cp
}

func (ix *IOCtx) AioOperateRead(oid string, op *ReadOp) *Completion {
	ix.c.assertOpen()
	cp := newCompletion()
	ix.c.fin.queue(oid, func() { cp.complete(ix.operateOn(oid, op.steps, false)) })
	return cp
}

// AioFlush blocks until all previously submitted async ops complete.
func (ix *IOCtx) AioFlush() { ix.c.fin.flush() }
