//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cmn/nlog"
)

func init() {
	loadLogLevel()
}

func fatalMsg(f string, v ...any) {
	s := fmt.Sprintf(f, v...)
	if s == "" || s[len(s)-1] != '\n' {
		fmt.Fprintln(os.Stderr, s)
	} else {
		fmt.Fprint(os.Stderr, s)
	}
	os.Exit(1)
}

// loadLogLevel sets debug verbosity for different modules based on the
// environment. Input is in the format of RADSTORE_DEBUG=rgw=4,pglog=5
// (same as GODEBUG); the highest level wins.
func loadLogLevel() {
	var (
		opts []string
		// NOTE: keep in-sync with cos.Smodules
		modules = map[string]int{
			"rados": 1 << 0,
			"cls":   1 << 1,
			"pglog": 1 << 2,
			"mon":   1 << 3,
			"rgw":   1 << 4,
			"rbd":   1 << 5,
			"mds":   1 << 6,
			"hk":    1 << 7,
			"kvdb":  1 << 8,
		}
	)

	if val := os.Getenv("RADSTORE_DEBUG"); val != "" {
		opts = strings.Split(val, ",")
	}

	var level, mask int
	for _, ele := range opts {
		pair := strings.Split(ele, "=")
		if len(pair) != 2 {
			fatalMsg("failed to get module=level element: %q", ele)
		}
		module, lvl := pair[0], pair[1]
		logModule, exists := modules[module]
		if !exists {
			fatalMsg("unknown module: %s", module)
		}
		logLvl, err := strconv.Atoi(lvl)
		if err != nil || logLvl <= 0 {
			fatalMsg("invalid verbosity level=%s, err: %s", lvl, err)
		}
		mask |= logModule
		level = max(level, logLvl)
	}
	if mask != 0 {
		nlog.SetLogLevel(level, mask)
	}
}

func Enabled() bool { return true }

func Errorln(a ...any) {
	if len(a) == 1 {
		nlog.ErrorDepth(1, "[DEBUG] ", a[0])
		return
	}
	Errorf("%v", a)
}

func Errorf(f string, a ...any) {
	nlog.ErrorDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Infof(f string, a ...any) {
	nlog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		nlog.Flush()
		if len(a) > 0 {
			panic("DEBUG PANIC: " + fmt.Sprint(a...))
		} else {
			panic("DEBUG PANIC")
		}
	}
}

func AssertFunc(f func() bool, a ...any) { Assert(f(), a...) }

func AssertMsg(cond bool, msg string) {
	if !cond {
		nlog.Flush()
		panic("DEBUG PANIC: " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		nlog.Flush()
		panic(err)
	}
}

func Assertf(cond bool, f string, a ...any) { AssertMsg(cond, fmt.Sprintf(f, a...)) }

func FailTypeCast(v any) { AssertMsg(false, fmt.Sprintf("unexpected type %T", v)) }
