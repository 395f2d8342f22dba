// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

func Since(started int64) time.Duration  { return time.Duration(NanoTime() - started) }
func SinceNano(started int64) int64      { return NanoTime() - started }
func Nano(d time.Duration) int64         { return int64(d) }
