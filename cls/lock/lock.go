/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package lock

import (
	"sort"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

func Register(reg *cls.Registry) {
	reg.Register("lock", "lock", cls.RD|cls.WR, lockObj)
	reg.Register("lock", "unlock", cls.RD|cls.WR, unlockObj)
	reg.Register("lock", "break_lock", cls.RD|cls.WR, breakLock)
	reg.Register("lock", "get_info", cls.RD, getInfo)
	reg.Register("lock", "list_locks", cls.RD, listLocks)
	reg.Register("lock", "assert_locked", cls.RD, assertLocked)
}

func readInfo(hctx *cls.Context, name string) (*Info, error) {
	b, err := hctx.GetXattr(attrPrefix + name)
	if err != nil {
		if err == cos.ErrNoData {
			return nil, cos.ErrNotFound
		}
		return nil, err
	}
	li := &Info{}
	if cos.UnpackBytes(b, li) != nil {
		return nil, cos.ErrIO
	}
	return li, nil
}

func writeInfo(hctx *cls.Context, name string, li *Info) error {
	return hctx.SetXattr(attrPrefix+name, cos.PackBytes(li))
}

// expire drops stale holders; an empty holder list resets the type.
func (li *Info) expire(now time.Time) {
	kept := li.Lockers[:0]
	for _, l := range li.Lockers {
		if l.Expiration.IsZero() || now.Before(l.Expiration) {
			kept = append(kept, l)
		}
	}
	li.Lockers = kept
	if len(li.Lockers) == 0 {
		li.Type = None
	}
}

func (li *Info) find(entity, cookie string) int {
	for i, l := range li.Lockers {
		if l.Entity == entity && l.Cookie == cookie {
			return i
		}
	}
	return -1
}

func lockObj(hctx *cls.Context, in []byte) ([]byte, error) {
	var op LockOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Type != Exclusive && op.Type != Shared {
		return nil, cos.ErrInvalid
	}
	if op.Name == "" {
		return nil, cos.ErrInvalid
	}
	li, err := readInfo(hctx, op.Name)
	if err != nil {
		if !cos.IsErrNotFound(err) {
			return nil, err
		}
		li = &Info{}
	}

	// check before anything else: a tag mismatch is a conflict even
	// against holders about to expire
	if li.Type != None && op.Tag != li.Tag {
		return nil, cos.ErrBusy
	}

	li.expire(time.Now())

	origin := hctx.Origin()
	if i := li.find(origin.Name, op.Cookie); i >= 0 {
		if op.Flags&FlagRenew == 0 {
			return nil, cos.ErrExists
		}
		li.Lockers = append(li.Lockers[:i], li.Lockers[i+1:]...)
		if len(li.Lockers) == 0 {
			li.Type = None
		}
	}

	if li.Type != None {
		if op.Type == Exclusive || li.Type != op.Type {
			return nil, cos.ErrBusy
		}
	}

	li.Type = op.Type
	li.Tag = op.Tag
	locker := Locker{
		Entity:      origin.Name,
		Cookie:      op.Cookie,
		Addr:        origin.Addr,
		Description: op.Description,
	}
	if op.Duration != 0 {
		locker.Expiration = time.Now().Add(op.Duration)
	}
	li.Lockers = append(li.Lockers, locker)
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("lock %s %q: type=%d holder=%s cookie=%q", hctx.Oid(), op.Name, op.Type, origin.Name, op.Cookie)
	}
	return nil, writeInfo(hctx, op.Name, li)
}

func release(hctx *cls.Context, name, entity, cookie string) error {
	li, err := readInfo(hctx, name)
	if err != nil {
		return err
	}
	i := li.find(entity, cookie)
	if i < 0 {
		return cos.ErrNotFound
	}
	li.Lockers = append(li.Lockers[:i], li.Lockers[i+1:]...)
	if len(li.Lockers) == 0 {
		return hctx.RmXattr(attrPrefix + name)
	}
	return writeInfo(hctx, name, li)
}

func unlockObj(hctx *cls.Context, in []byte) ([]byte, error) {
	var op UnlockOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	return nil, release(hctx, op.Name, hctx.Origin().Name, op.Cookie)
}

func breakLock(hctx *cls.Context, in []byte) ([]byte, error) {
	var op BreakOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	return nil, release(hctx, op.Name, op.Locker, op.Cookie)
}

// getInfo tolerates an absent lock: empty reply, not -ENOENT.
func getInfo(hctx *cls.Context, in []byte) ([]byte, error) {
	var op GetInfoOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	li, err := readInfo(hctx, op.Name)
	if err != nil {
		if !cos.IsErrNotFound(err) {
			return nil, err
		}
		li = &Info{}
	}
	return cos.PackBytes(li), nil
}

func listLocks(hctx *cls.Context, _ []byte) ([]byte, error) {
	attrs, err := hctx.GetXattrs()
	if err != nil {
		return nil, err
	}
	var reply ListReply
	for attr := range attrs {
		if strings.HasPrefix(attr, attrPrefix) {
			reply.Names = append(reply.Names, strings.TrimPrefix(attr, attrPrefix))
		}
	}
	sort.Strings(reply.Names)
	return cos.PackBytes(&reply), nil
}

func assertLocked(hctx *cls.Context, in []byte) ([]byte, error) {
	var op AssertOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Type != Exclusive && op.Type != Shared {
		return nil, cos.ErrInvalid
	}
	if op.Name == "" {
		return nil, cos.ErrInvalid
	}
	li, err := readInfo(hctx, op.Name)
	if err != nil {
		return nil, err
	}
	if li.Type != op.Type || li.Tag != op.Tag {
		return nil, cos.ErrBusy
	}
	if li.find(hctx.Origin().Name, op.Cookie) < 0 {
		return nil, cos.ErrBusy
	}
	return nil, nil
}
