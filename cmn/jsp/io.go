// Package jsp (JSON persistence) provides utilities to store and load arbitrary
// JSON-encoded structures with optional checksumming and compression.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"bytes"
	"encoding/binary"
	"hash"
	"io"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	"github.com/NVIDIA/radstore/cmn/nlog"
	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v4"
)

const (
	signature = "rdstore" // file signature
	version   = 1         // jsp encoding version
	//                              0 ---------------- 63  64 ------ 95 | 96 ------ 127
	prefLen = 2 * cos.SizeofI64 // [ signature | jsp ver | meta version |   bit flags  ]
)

func EncodeBuf(v any, opts Options) []byte {
	buf := &bytes.Buffer{}
	err := Encode(buf, v, opts)
	cos.AssertNoErr(err)
	return buf.Bytes()
}

func Encode(writer io.Writer, v any, opts Options) (err error) {
	var (
		zw      *lz4.Writer
		encoder *jsoniter.Encoder
		h       hash.Hash
		mw      io.Writer
		prefix  [prefLen]byte
		buf     = &bytes.Buffer{}
	)
	if opts.Checksum {
		h = xxhash.New64()
	}

	if opts.Compress {
		if opts.Checksum {
			mw = io.MultiWriter(h, buf)
			zw = lz4.NewWriter(mw)
		} else {
			zw = lz4.NewWriter(buf)
		}
		encoder = jsoniter.NewEncoder(zw)
	} else {
		if opts.Checksum {
			mw = io.MultiWriter(h, buf)
			encoder = jsoniter.NewEncoder(mw)
		} else {
			encoder = jsoniter.NewEncoder(buf)
		}
	}
	if opts.Indent {
		encoder.SetIndent("", "    ")
	}
	if err = encoder.Encode(v); err != nil {
		return
	}
	if opts.Compress {
		_ = zw.Close()
	}
	if opts.Signature {
		// 1st 64-bit word
		copy(prefix[:], signature)
		l := len(signature)
		debug.Assert(l < prefLen/2)
		prefix[l] = version

		// 2nd 64-bit word as of version == 1
		var packingInfo uint32
		if opts.Compress {
			packingInfo |= 1 << 0
		}
		if opts.Checksum {
			packingInfo |= 1 << 1
		}
		binary.BigEndian.PutUint32(prefix[cos.SizeofI64:], opts.Metaver)
		binary.BigEndian.PutUint32(prefix[cos.SizeofI64+cos.SizeofI32:], packingInfo)

		// write prefix
		if _, err = writer.Write(prefix[:]); err != nil {
			return
		}
	}
	if opts.Checksum {
		if _, err = writer.Write(h.Sum(nil)); err != nil {
			return
		}
	}
	_, err = writer.Write(buf.Bytes())
	return
}

func Decode(reader io.ReadCloser, v any, opts Options, tag string) error {
	var (
		decoder *jsoniter.Decoder
		h       hash.Hash
		hsum    [8]byte
		prefix  [prefLen]byte
		err     error
	)
	defer reader.Close()
	if opts.Signature {
		if _, err = io.ReadFull(reader, prefix[:]); err != nil {
			return err
		}
		l := len(signature)
		if signature != string(prefix[:l]) {
			return &ErrBadSignature{tag, string(prefix[:l]), signature}
		}
		if version != prefix[l] {
			return newErrVersion(tag, uint32(prefix[l]), version)
		}
		metaver := binary.BigEndian.Uint32(prefix[cos.SizeofI64:])
		if opts.Metaver != metaver {
			verr := newErrVersion(tag, metaver, opts.Metaver, opts.OldMetaverOk)
			if e, ok := verr.(*ErrJspCompatibleVersion); ok {
				nlog.Warningln(e.Error())
			} else {
				return verr
			}
		}
		packingInfo := binary.BigEndian.Uint32(prefix[cos.SizeofI64+cos.SizeofI32:])
		opts.Compress = packingInfo&(1<<0) != 0
		opts.Checksum = packingInfo&(1<<1) != 0
	}
	var b io.Reader
	if opts.Checksum {
		buf := &bytes.Buffer{}
		h = xxhash.New64()
		debug.Assert(h.Size() <= len(hsum))
		if _, err = io.ReadFull(reader, hsum[:h.Size()]); err != nil {
			return err
		}
		if _, err = io.Copy(io.MultiWriter(buf, h), reader); err != nil {
			return err
		}
		expected, actual := binary.BigEndian.Uint64(hsum[:]), binary.BigEndian.Uint64(h.Sum(nil))
		if expected != actual {
			return cos.NewErrMetaCksum(expected, actual, tag)
		}
		b = bytes.NewReader(buf.Bytes())
	} else {
		b = reader
	}
	if opts.Compress {
		decoder = jsoniter.NewDecoder(lz4.NewReader(b))
	} else {
		decoder = jsoniter.NewDecoder(b)
	}
	return decoder.Decode(v)
}
