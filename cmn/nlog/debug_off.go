//go:build !debug

// Package nlog
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

func assert(bool, ...any) {}
