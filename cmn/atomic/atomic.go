// Package atomic provides simple wrappers around numerics to enforce atomic
// access.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import (
	"sync/atomic"
	"time"
)

// Structure which will detect copies of atomic
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Int32 is an atomic wrapper around int32.
type Int32 struct {
	_ noCopy
	v int32
}

// NewInt32 creates an Int32.
func NewInt32(i int32) *Int32 { return &Int32{v: i} }

func (i *Int32) Load() int32            { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(n int32)          { atomic.StoreInt32(&i.v, n) }
func (i *Int32) Add(n int32) int32      { return atomic.AddInt32(&i.v, n) }
func (i *Int32) Inc() int32             { return atomic.AddInt32(&i.v, 1) }
func (i *Int32) Dec() int32             { return atomic.AddInt32(&i.v, -1) }
func (i *Int32) Swap(n int32) int32     { return atomic.SwapInt32(&i.v, n) }
func (i *Int32) CAS(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, new)
}

// Int64 is an atomic wrapper around int64.
type Int64 struct {
	_ noCopy
	v int64
}

// NewInt64 creates an Int64.
func NewInt64(i int64) *Int64 { return &Int64{v: i} }

func (i *Int64) Load() int64            { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(n int64)          { atomic.StoreInt64(&i.v, n) }
func (i *Int64) Add(n int64) int64      { return atomic.AddInt64(&i.v, n) }
func (i *Int64) Inc() int64             { return atomic.AddInt64(&i.v, 1) }
func (i *Int64) Dec() int64             { return atomic.AddInt64(&i.v, -1) }
func (i *Int64) Swap(n int64) int64     { return atomic.SwapInt64(&i.v, n) }
func (i *Int64) CAS(old, new int64) bool {
	return atomic.CompareAndSwapInt64(&i.v, old, new)
}

// Uint64 is an atomic wrapper around uint64.
type Uint64 struct {
	_ noCopy
	v uint64
}

// NewUint64 creates a Uint64.
func NewUint64(i uint64) *Uint64 { return &Uint64{v: i} }

func (i *Uint64) Load() uint64        { return atomic.LoadUint64(&i.v) }
func (i *Uint64) Store(n uint64)      { atomic.StoreUint64(&i.v, n) }
func (i *Uint64) Add(n uint64) uint64 { return atomic.AddUint64(&i.v, n) }
func (i *Uint64) Inc() uint64         { return atomic.AddUint64(&i.v, 1) }
func (i *Uint64) CAS(old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&i.v, old, new)
}

// Bool is an atomic Boolean.
type Bool struct {
	_ noCopy
	v uint32
}

// NewBool creates a Bool.
func NewBool(initial bool) *Bool {
	b := &Bool{}
	if initial {
		b.v = 1
	}
	return b
}

func (b *Bool) Load() bool   { return atomic.LoadUint32(&b.v) == 1 }
func (b *Bool) Store(v bool) { atomic.StoreUint32(&b.v, boolToInt(v)) }

// Toggle atomically negates the Boolean and returns the previous value.
func (b *Bool) Toggle() bool { return atomic.AddUint32(&b.v, 1)&1 == 0 }

// CAS is an atomic compare-and-swap.
func (b *Bool) CAS(old, new bool) bool {
	return atomic.CompareAndSwapUint32(&b.v, boolToInt(old), boolToInt(new))
}

func boolToInt(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Time is an atomic wrapper around time.Time (stored as UnixNano).
type Time struct {
	v Int64
}

func (t *Time) Load() time.Time   { return time.Unix(0, t.v.Load()) }
func (t *Time) Store(n time.Time) { t.v.Store(n.UnixNano()) }
