// Package cos_test: unit tests
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/tools/tassert"
	"golang.org/x/sys/unix"
)

func TestErrnoCodes(t *testing.T) {
	tests := []struct {
		err  cos.Errno
		code int
	}{
		{cos.ErrNotFound, -2},
		{cos.ErrIO, -5},
		{cos.ErrTryAgain, -11},
		{cos.ErrInvalid, -22},
		{cos.ErrExists, -17},
		{cos.ErrRaced, -125},
	}
	for _, tc := range tests {
		tassert.Errorf(t, tc.err.Code() == tc.code, "%v: code %d, want %d", tc.err, tc.err.Code(), tc.code)
	}
}

func TestErrnoThroughChain(t *testing.T) {
	base := cos.NewErrno(unix.ENOENT)
	wrapped := fmt.Errorf("head [pool=%s]: %w", "rbd", base)

	tassert.Errorf(t, errors.Is(wrapped, cos.ErrNotFound), "wrapped errno lost identity: %v", wrapped)
	tassert.Errorf(t, cos.ErrnoOf(wrapped) == -2, "ErrnoOf(%v) = %d, want -2", wrapped, cos.ErrnoOf(wrapped))
	tassert.Errorf(t, cos.IsErrNotFound(wrapped), "IsErrNotFound(%v) = false", wrapped)

	tassert.Errorf(t, cos.ErrnoOf(errors.New("plain")) == 0, "plain error must carry no code")
	tassert.Errorf(t, !cos.IsErrNotFound(cos.ErrExists), "EEXIST is not ENOENT")
}

func TestErrnoMessage(t *testing.T) {
	s := cos.ErrNotFound.Error()
	tassert.Errorf(t, s == "errno -2 (no such file or directory)", "unexpected rendering: %q", s)
}
