// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"io"
	"os"
	"path/filepath"

	"github.com/NVIDIA/radstore/cmn/debug"
)

// CreateFile creates a new write-only (O_WRONLY) file with default cos.PermRWR permissions.
// NOTE: if the file pathname doesn't exist it'll be created.
// NOTE: if the file already exists it'll be also silently truncated.
func CreateFile(fqn string) (*os.File, error) {
	if err := CreateDir(filepath.Dir(fqn)); err != nil {
		return nil, err
	}
	return os.OpenFile(fqn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, PermRWR)
}

// (creates destination directory if doesn't exist)
func Rename(src, dst string) (err error) {
	err = os.Rename(src, dst)
	if err == nil || !os.IsNotExist(err) {
		return
	}
	// create and retry (slow path)
	err = CreateDir(filepath.Dir(dst))
	if err == nil {
		err = os.Rename(src, dst)
	}
	return
}

// RemoveFile is a no-op when the file does not exist.
func RemoveFile(fqn string) (err error) {
	err = os.Remove(fqn)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return
}

func Close(closer io.Closer) {
	err := closer.Close()
	debug.AssertNoErr(err)
}

// Stat the file and return its size; negative when missing.
func FileSize(fqn string) int64 {
	finfo, err := os.Stat(fqn)
	if err != nil {
		return -1
	}
	return finfo.Size()
}
