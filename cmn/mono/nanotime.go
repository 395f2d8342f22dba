//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var started = time.Now()

// NanoTime returns the monotonic reading in nanoseconds (build with -tags=mono
// for the runtime-internal variant).
func NanoTime() int64 { return int64(time.Since(started)) }
