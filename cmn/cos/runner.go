// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

type (
	Runner interface {
		Name() string
		Run() error
		Stop(error)
	}
)
