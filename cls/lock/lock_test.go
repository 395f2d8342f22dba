// Package lock_test: unit tests
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package lock_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/NVIDIA/radstore/cls/lock"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/tools/tassert"
)

const hdr = "rbd_header.img1"

func newHandles(t *testing.T, n int) []*rados.IOCtx {
	t.Helper()
	c, err := rados.New(rados.Config{})
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.CreatePool("rbd")
	tassert.CheckFatal(t, err)
	handles := make([]*rados.IOCtx, n)
	for i := range handles {
		handles[i], err = c.NewIOCtx("rbd")
		tassert.CheckFatal(t, err)
	}
	return handles
}

func entity(ix *rados.IOCtx) string { return fmt.Sprintf("client.%d", ix.InstanceID()) }

func lockE(ix *rados.IOCtx, op *lock.LockOp) error {
	_, err := ix.Exec(hdr, "lock", "lock", cos.PackBytes(op))
	return err
}

func unlockE(ix *rados.IOCtx, name, cookie string) error {
	_, err := ix.Exec(hdr, "lock", "unlock", cos.PackBytes(&lock.UnlockOp{Name: name, Cookie: cookie}))
	return err
}

func getInfo(t *testing.T, ix *rados.IOCtx, name string) *lock.Info {
	t.Helper()
	out, err := ix.Exec(hdr, "lock", "get_info", cos.PackBytes(&lock.GetInfoOp{Name: name}))
	tassert.CheckFatal(t, err)
	li := &lock.Info{}
	tassert.CheckFatal(t, cos.UnpackBytes(out, li))
	return li
}

func TestExclusive(t *testing.T) {
	h := newHandles(t, 2)
	a, b := h[0], h[1]

	tassert.CheckFatal(t, lockE(a, &lock.LockOp{Name: "rbd_lock", Type: lock.Exclusive, Cookie: "c1"}))

	err := lockE(b, &lock.LockOp{Name: "rbd_lock", Type: lock.Exclusive, Cookie: "c2"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "second exclusive holder: %v", err)
	err = lockE(b, &lock.LockOp{Name: "rbd_lock", Type: lock.Shared, Cookie: "c2"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "shared against exclusive: %v", err)

	// even the holder cannot re-acquire without the renew flag
	err = lockE(a, &lock.LockOp{Name: "rbd_lock", Type: lock.Exclusive, Cookie: "c1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrExists), "re-acquire: %v", err)
	tassert.CheckFatal(t, lockE(a, &lock.LockOp{
		Name: "rbd_lock", Type: lock.Exclusive, Cookie: "c1", Flags: lock.FlagRenew,
	}))

	li := getInfo(t, a, "rbd_lock")
	tassert.Fatalf(t, li.Type == lock.Exclusive && len(li.Lockers) == 1, "info %+v", li)
	tassert.Errorf(t, li.Lockers[0].Entity == entity(a) && li.Lockers[0].Cookie == "c1",
		"holder %+v", li.Lockers[0])

	// unlock needs the exact (entity, cookie)
	err = unlockE(a, "rbd_lock", "nope")
	tassert.Fatalf(t, cos.IsErrNotFound(err), "unlock with a wrong cookie: %v", err)
	err = unlockE(b, "rbd_lock", "c1")
	tassert.Fatalf(t, cos.IsErrNotFound(err), "unlock by a non-holder: %v", err)
	tassert.CheckFatal(t, unlockE(a, "rbd_lock", "c1"))

	tassert.CheckFatal(t, lockE(b, &lock.LockOp{Name: "rbd_lock", Type: lock.Exclusive, Cookie: "c2"}))
}

func TestShared(t *testing.T) {
	h := newHandles(t, 3)
	a, b, c := h[0], h[1], h[2]

	tassert.CheckFatal(t, lockE(a, &lock.LockOp{Name: "cooperative", Type: lock.Shared, Tag: "tag1", Cookie: "c1"}))
	tassert.CheckFatal(t, lockE(b, &lock.LockOp{Name: "cooperative", Type: lock.Shared, Tag: "tag1", Cookie: "c2"}))

	err := lockE(c, &lock.LockOp{Name: "cooperative", Type: lock.Shared, Tag: "other", Cookie: "c3"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "mismatched tag: %v", err)
	err = lockE(c, &lock.LockOp{Name: "cooperative", Type: lock.Exclusive, Tag: "tag1", Cookie: "c3"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "exclusive against shared: %v", err)

	li := getInfo(t, a, "cooperative")
	tassert.Fatalf(t, li.Type == lock.Shared && li.Tag == "tag1" && len(li.Lockers) == 2,
		"info %+v", li)

	tassert.CheckFatal(t, unlockE(a, "cooperative", "c1"))
	li = getInfo(t, a, "cooperative")
	tassert.Fatalf(t, len(li.Lockers) == 1 && li.Lockers[0].Entity == entity(b),
		"info after one release %+v", li)

	// the last release drops the record entirely
	tassert.CheckFatal(t, unlockE(b, "cooperative", "c2"))
	li = getInfo(t, a, "cooperative")
	tassert.Fatalf(t, li.Type == lock.None && len(li.Lockers) == 0, "info after full release %+v", li)
}

func TestExpiry(t *testing.T) {
	h := newHandles(t, 2)
	a, b := h[0], h[1]

	tassert.CheckFatal(t, lockE(a, &lock.LockOp{
		Name: "fleeting", Type: lock.Exclusive, Tag: "x", Cookie: "c1", Duration: time.Millisecond,
	}))
	time.Sleep(50 * time.Millisecond)

	// a tag conflict outranks expiry
	err := lockE(b, &lock.LockOp{Name: "fleeting", Type: lock.Exclusive, Tag: "y", Cookie: "c2"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "tag conflict on an expired lock: %v", err)

	tassert.CheckFatal(t, lockE(b, &lock.LockOp{
		Name: "fleeting", Type: lock.Exclusive, Tag: "x", Cookie: "c2", Duration: time.Minute,
	}))
	li := getInfo(t, a, "fleeting")
	tassert.Fatalf(t, len(li.Lockers) == 1 && li.Lockers[0].Entity == entity(b),
		"expired holder still listed: %+v", li)
	tassert.Errorf(t, !li.Lockers[0].Expiration.IsZero(), "no expiration recorded")
}

func TestBreakLock(t *testing.T) {
	h := newHandles(t, 2)
	a, b := h[0], h[1]

	tassert.CheckFatal(t, lockE(a, &lock.LockOp{Name: "owned", Type: lock.Exclusive, Cookie: "c1"}))

	_, err := b.Exec(hdr, "lock", "break_lock", cos.PackBytes(&lock.BreakOp{
		Name: "owned", Locker: entity(a), Cookie: "bogus",
	}))
	tassert.Fatalf(t, cos.IsErrNotFound(err), "break with a wrong cookie: %v", err)

	_, err = b.Exec(hdr, "lock", "break_lock", cos.PackBytes(&lock.BreakOp{
		Name: "owned", Locker: entity(a), Cookie: "c1",
	}))
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, lockE(b, &lock.LockOp{Name: "owned", Type: lock.Exclusive, Cookie: "c2"}))
}

func TestListAndAssert(t *testing.T) {
	h := newHandles(t, 1)
	a := h[0]

	tassert.CheckFatal(t, lockE(a, &lock.LockOp{Name: "zeta", Type: lock.Exclusive, Cookie: "c1"}))
	tassert.CheckFatal(t, lockE(a, &lock.LockOp{Name: "alpha", Type: lock.Shared, Tag: "t", Cookie: "c1"}))

	out, err := a.Exec(hdr, "lock", "list_locks", nil)
	tassert.CheckFatal(t, err)
	var reply lock.ListReply
	tassert.CheckFatal(t, cos.UnpackBytes(out, &reply))
	tassert.Fatalf(t, len(reply.Names) == 2 && reply.Names[0] == "alpha" && reply.Names[1] == "zeta",
		"lock names %v", reply.Names)

	assert := func(op *lock.AssertOp) error {
		_, err := a.Exec(hdr, "lock", "assert_locked", cos.PackBytes(op))
		return err
	}
	tassert.CheckFatal(t, assert(&lock.AssertOp{Name: "zeta", Type: lock.Exclusive, Cookie: "c1"}))
	err = assert(&lock.AssertOp{Name: "zeta", Type: lock.Shared, Cookie: "c1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "assert with a wrong type: %v", err)
	err = assert(&lock.AssertOp{Name: "zeta", Type: lock.Exclusive, Cookie: "other"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "assert with a wrong cookie: %v", err)
	err = assert(&lock.AssertOp{Name: "alpha", Type: lock.Shared, Tag: "wrong", Cookie: "c1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrBusy), "assert with a wrong tag: %v", err)
	err = assert(&lock.AssertOp{Name: "ghost", Type: lock.Exclusive, Cookie: "c1"})
	tassert.Fatalf(t, cos.IsErrNotFound(err), "assert on a missing lock: %v", err)
	err = assert(&lock.AssertOp{Name: "zeta", Type: 9, Cookie: "c1"})
	tassert.Fatalf(t, errors.Is(err, cos.ErrInvalid), "assert with a bogus type: %v", err)
}
