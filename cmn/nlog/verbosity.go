// Package nlog - radstore logger, provides buffering, timestamping, writing, and
// flushing/syncing/rotating
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import "sync/atomic"

// encoded as level + modules<<3 (see cos.LogLevel)
var vlevel atomic.Int64

func init() { vlevel.Store(3) }

func SetLogLevel(level, modules int) { vlevel.Store(int64(level + modules<<3)) }

func FastV(verbosity, smodule int) bool {
	v := vlevel.Load()
	return v&int64(smodule<<3) != 0 || verbosity <= int(v&0x7)
}
