// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// file create and directory modes
const (
	PermRWR   = os.FileMode(0o640)
	PermRWRR  = os.FileMode(0o644)
	PermRWXRX = os.FileMode(0o750)

	configDirMode = PermRWXRX | os.ModeDir
)

const (
	LetterRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	LenRunes    = len(LetterRunes)
)

// NoSnap marks a head (non-snapshot) object reference.
const NoSnap = ^uint64(1)

type (
	StrSet map[string]struct{}
	StrKVs map[string]string
)

func NewStrSet(keys ...string) (ss StrSet) {
	ss = make(StrSet, len(keys))
	ss.Add(keys...)
	return
}

func (ss StrSet) Add(keys ...string) {
	for _, key := range keys {
		ss[key] = struct{}{}
	}
}

func (ss StrSet) Contains(key string) (ok bool) {
	_, ok = ss[key]
	return
}

func (ss StrSet) Delete(key string) { delete(ss, key) }

// CreateDir creates directory if does not exist; does not return an error when it does.
func CreateDir(dir string) error {
	return os.MkdirAll(dir, configDirMode)
}

// Exitf prints the message and terminates with a non-zero code.
func Exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}

func ExitLogf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, "FATAL ERROR: "+f+"\n", a...)
	os.Exit(1)
}

func Plural(num int) (s string) {
	if num != 1 {
		s = "s"
	}
	return
}

// DivCeil rounds up the quotient.
func DivCeil(a, b int64) int64 { return (a + b - 1) / b }

// RoundUp rounds a up to the nearest multiple of unit.
func RoundUp(a, unit int64) int64 { return DivCeil(a, unit) * unit }

func IsParseBool(s string) (yes bool) { yes, _ = ParseBool(s); return }

// ParseBool converts string to bool (case-insensitive):
//   y, yes, on -> true
//   n, no, off, <empty value> -> false
// strconv handles the following:
//   1, true, t -> true
//   0, false, f -> false
func ParseBool(s string) (value bool, err error) {
	if s == "" {
		return
	}
	s = strings.ToLower(s)
	switch s {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}
