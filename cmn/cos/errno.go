// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Storage-layer calls fail with negative errno codes. Errno carries the
// code through regular Go error chains: construct with NewErrno (or one
// of the predefined values below), test with errors.Is, and recover the
// raw code with ErrnoOf.
type Errno int

func NewErrno(code unix.Errno) Errno {
	Assert(code != 0)
	return Errno(-int(code))
}

func (e Errno) Error() string {
	return fmt.Sprintf("errno %d (%s)", int(e), unix.Errno(-int(e)).Error())
}

// Code returns the negative errno value.
func (e Errno) Code() int { return int(e) }

// ErrnoOf unwraps err down to an Errno and returns its (negative) code,
// zero when the chain carries none.
func ErrnoOf(err error) int {
	var e Errno
	if errors.As(err, &e) {
		return int(e)
	}
	return 0
}

func IsErrNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

var (
	ErrNotFound     = NewErrno(unix.ENOENT)
	ErrInvalid      = NewErrno(unix.EINVAL)
	ErrExists       = NewErrno(unix.EEXIST)
	ErrBusy         = NewErrno(unix.EBUSY)
	ErrNotEmpty     = NewErrno(unix.ENOTEMPTY)
	ErrTimedOut     = NewErrno(unix.ETIMEDOUT)
	ErrRaced        = NewErrno(unix.ECANCELED)
	ErrIO           = NewErrno(unix.EIO)
	ErrTryAgain     = NewErrno(unix.EAGAIN)
	ErrPermission   = NewErrno(unix.EPERM)
	ErrNoData       = NewErrno(unix.ENODATA)
	ErrRange        = NewErrno(unix.ERANGE)
	ErrIsDir        = NewErrno(unix.EISDIR)
	ErrNotSupported = NewErrno(unix.ENOTSUP)
	ErrStale        = NewErrno(unix.ESTALE)
	ErrBadFD        = NewErrno(unix.EBADF)
	ErrNoSys        = NewErrno(unix.ENOSYS)
	ErrNoExec       = NewErrno(unix.ENOEXEC)
	ErrBadMsg       = NewErrno(unix.EBADMSG)
	ErrNotConnected = NewErrno(unix.ENOTCONN)
	ErrIsConnected  = NewErrno(unix.EISCONN)
	ErrInProgress   = NewErrno(unix.EINPROGRESS)
	ErrQuota        = NewErrno(unix.EDQUOT)
	ErrReadOnly     = NewErrno(unix.EROFS)
)

// MaxRacedRetries bounds optimistic-update loops: a raced update
// (ErrRaced) is retried up to this many times before escalating to
// ErrIO.
const MaxRacedRetries = 100
