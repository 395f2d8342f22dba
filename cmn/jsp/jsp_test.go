// Package jsp_test: unit tests
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package jsp_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/jsp"
	"github.com/NVIDIA/radstore/tools/tassert"
	"github.com/NVIDIA/radstore/tools/trand"
)

type testStruct struct {
	Name  string            `json:"name"`
	Size  int64             `json:"size"`
	Attrs map[string]string `json:"attrs"`
}

func makeStruct() testStruct {
	ts := testStruct{Name: trand.String(12), Size: 0x1020304, Attrs: make(map[string]string, 8)}
	for range 8 {
		ts.Attrs[trand.String(8)] = trand.String(16)
	}
	return ts
}

func TestEncodeDecodeOptions(t *testing.T) {
	tests := []struct {
		name string
		opts jsp.Options
	}{
		{"plain", jsp.Plain()},
		{"cksum-and-sign", jsp.CksumSign(1)},
		{"compress-cksum-sign", jsp.CCSign(1)},
		{"indented", jsp.Options{Indent: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var (
				orig = makeStruct()
				fqn  = filepath.Join(t.TempDir(), "meta.bin")
				read testStruct
			)
			err := jsp.Save(fqn, &orig, tc.opts)
			tassert.CheckFatal(t, err)
			err = jsp.Load(fqn, &read, tc.opts)
			tassert.CheckFatal(t, err)
			if !reflect.DeepEqual(orig, read) {
				t.Errorf("loaded %+v mismatches saved %+v", read, orig)
			}
		})
	}
}

func TestDecodeCorrupted(t *testing.T) {
	var (
		orig = makeStruct()
		fqn  = filepath.Join(t.TempDir(), "meta.bin")
		read testStruct
		opts = jsp.CksumSign(1)
	)
	err := jsp.Save(fqn, &orig, opts)
	tassert.CheckFatal(t, err)

	b, err := os.ReadFile(fqn)
	tassert.CheckFatal(t, err)
	// flip one payload byte past the 128bit prefix and the 8-byte checksum
	b[len(b)-2] ^= 0xff
	err = os.WriteFile(fqn, b, cos.PermRWR)
	tassert.CheckFatal(t, err)

	err = jsp.Load(fqn, &read, opts)
	tassert.Fatalf(t, cos.IsErrBadCksum(err), "expected checksum failure, got %v", err)

	// the corrupted file must be gone
	_, err = os.Stat(fqn)
	tassert.Errorf(t, os.IsNotExist(err), "corrupted file must be removed, stat says %v", err)
}

func TestDecodeMetaVersions(t *testing.T) {
	var (
		orig = makeStruct()
		fqn  = filepath.Join(t.TempDir(), "meta.bin")
	)
	err := jsp.Save(fqn, &orig, jsp.CksumSign(1))
	tassert.CheckFatal(t, err)

	// newer reader that accepts v1
	var read testStruct
	opts := jsp.CksumSign(2)
	opts.OldMetaverOk = 1
	err = jsp.Load(fqn, &read, opts)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, read.Name == orig.Name, "loaded %+v mismatches saved %+v", read, orig)

	// newer reader with no compatibility fallback
	err = jsp.Load(fqn, &read, jsp.CksumSign(2))
	tassert.Fatalf(t, err != nil, "expected meta-version error")
	verr, ok := err.(*jsp.ErrUnsupportedMetaVersion)
	tassert.Fatalf(t, ok, "expected unsupported meta-version, got %T: %v", err, err)
	tassert.Errorf(t, verr.Version() == 1, "stored meta-version is 1, got %d", verr.Version())
}

func TestDecodeBadSignature(t *testing.T) {
	var (
		fqn  = filepath.Join(t.TempDir(), "meta.bin")
		read testStruct
	)
	err := os.WriteFile(fqn, []byte("garbage-not-a-signature"), cos.PermRWR)
	tassert.CheckFatal(t, err)
	err = jsp.Load(fqn, &read, jsp.CksumSign(1))
	_, ok := err.(*jsp.ErrBadSignature)
	tassert.Fatalf(t, ok, "expected bad signature, got %T: %v", err, err)
}
