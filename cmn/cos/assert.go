// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "fmt"

const assertMsg = "assertion failed"

// NOTE: unconditional; for debug-build-only variants see cmn/debug.

func Assert(cond bool) {
	if !cond {
		panic(assertMsg)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		AssertMsg(cond, fmt.Sprintf(f, a...))
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(assertMsg + ": " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
