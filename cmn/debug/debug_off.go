//go:build !debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func Enabled() bool { return false }

func Errorln(a ...any)          {}
func Errorf(f string, a ...any) {}
func Infof(f string, a ...any)  {}

func Func(f func()) {}

func Assert(cond bool, a ...any)            {}
func AssertFunc(f func() bool, a ...any)    {}
func AssertMsg(cond bool, msg string)       {}
func AssertNoErr(err error)                 {}
func Assertf(cond bool, f string, a ...any) {}

func FailTypeCast(v any) {}
