/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	clslock "github.com/NVIDIA/radstore/cls/lock"
	"github.com/NVIDIA/radstore/cmn/cos"
)

// Advisory image locking rides the generic lock class on the header
// object. One well-known lock name; exclusive, or shared with a tag
// that all shared holders must present.
const rbdLockName = "rbd_lock"

// LockList returns the holders of the image lock.
func (im *Image) LockList() (*clslock.Info, error) {
	in := cos.PackBytes(&clslock.GetInfoOp{Name: rbdLockName})
	out, err := im.ix.Exec(im.header, "lock", "get_info", in)
	if err != nil {
		return nil, err
	}
	var info clslock.Info
	if err := cos.UnpackBytes(out, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LockExclusive acquires the image lock exclusively. A holder of any
// kind fails it with -EBUSY, re-acquiring under the same cookie with
// -EEXIST.
func (im *Image) LockExclusive(cookie string) error {
	return im.lock(clslock.Exclusive, cookie, "")
}

// LockShared acquires the image lock shared under a tag; holders with
// a different tag fail it with -EBUSY.
func (im *Image) LockShared(cookie, tag string) error {
	return im.lock(clslock.Shared, cookie, tag)
}

func (im *Image) lock(typ uint8, cookie, tag string) error {
	if im.readOnly {
		return cos.ErrReadOnly
	}
	in := cos.PackBytes(&clslock.LockOp{
		Name:   rbdLockName,
		Type:   typ,
		Cookie: cookie,
		Tag:    tag,
	})
	_, err := im.ix.Exec(im.header, "lock", "lock", in)
	return err
}

// Unlock releases this client's hold.
func (im *Image) Unlock(cookie string) error {
	in := cos.PackBytes(&clslock.UnlockOp{Name: rbdLockName, Cookie: cookie})
	_, err := im.ix.Exec(im.header, "lock", "unlock", in)
	return err
}

// BreakLock releases another client's hold; locker as reported by
// LockList ("client.<id>").
func (im *Image) BreakLock(locker, cookie string) error {
	in := cos.PackBytes(&clslock.BreakOp{Name: rbdLockName, Locker: locker, Cookie: cookie})
	_, err := im.ix.Exec(im.header, "lock", "break_lock", in)
	return err
}
