// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

// StrHashLinux is the Linux dcache string hash. Placement-group mapping
// and shard selection depend on its exact arithmetic - do not modify.
func StrHashLinux(s string) uint32 {
	var hash uint32
	for i := range len(s) {
		c := uint32(s[i])
		hash = (hash + (c << 4) + (c >> 4)) * 11
	}
	return hash
}
