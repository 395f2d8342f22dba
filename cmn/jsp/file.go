// Package jsp (JSON persistence) provides utilities to store and load arbitrary
// JSON-encoded structures with optional checksumming and compression.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"flag"
	"os"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

//////////////////
// main methods //
//////////////////

func SaveMeta(filepath string, meta Opts) error {
	return Save(filepath, meta, meta.JspOpts())
}

func Save(filepath string, v any, opts Options) (err error) {
	var (
		file *os.File
		tmp  = filepath + ".tmp." + cos.GenTie()
	)
	if file, err = cos.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err != nil {
			errRm := os.Remove(tmp)
			debug.AssertNoErr(errRm)
		}
	}()
	if err = Encode(file, v, opts); err != nil {
		cos.Close(file)
		return
	}
	if err = file.Close(); err != nil {
		return
	}
	err = os.Rename(tmp, filepath)
	return
}

func LoadMeta(filepath string, meta Opts) error {
	return Load(filepath, meta, meta.JspOpts())
}

func Load(filepath string, v any, opts Options) (err error) {
	var file *os.File
	file, err = os.Open(filepath)
	if err != nil {
		return
	}
	err = Decode(file, v, opts, filepath)
	if err != nil && cos.IsErrBadCksum(err) {
		if errRm := os.Remove(filepath); errRm == nil {
			if flag.Parsed() {
				nlog.Errorf("bad checksum: removing %s", filepath)
			}
		} else if flag.Parsed() {
			nlog.Errorf("bad checksum: failed to remove %s: %v", filepath, errRm)
		}
	}
	return
}
