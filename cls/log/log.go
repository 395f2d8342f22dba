// Package log implements a time-indexed log object: entries keyed by
// timestamp plus a unique suffix, listed and trimmed by time range or
// marker. Gateway changelogs shard over many such objects.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
)

const (
	indexPrefix = "1_"
	headerKey   = "header"

	maxEntries     = 1000
	maxTrimEntries = 1000
)

type (
	Entry struct {
		Timestamp time.Time
		ID        string // assigned on add when empty
		Section   string
		Name      string
		Data      []byte
	}

	AddOp struct {
		Entries []Entry
		// MonotonicInc clamps stored timestamps to the max seen so far,
		// keeping the index ordered under clock skew
		MonotonicInc bool
	}

	ListOp struct {
		From   time.Time
		To     time.Time
		Marker string
		Max    uint32
	}

	ListReply struct {
		Entries   []Entry
		Marker    string
		Truncated bool
	}

	TrimOp struct {
		From       time.Time
		To         time.Time
		FromMarker string
		ToMarker   string
	}

	// Header tracks the high-water mark; Counter feeds assigned ids.
	Header struct {
		MaxTime   time.Time
		MaxMarker string
		Counter   uint64
	}
)

// interface guards
var (
	_ cos.Packer   = (*AddOp)(nil)
	_ cos.Unpacker = (*AddOp)(nil)
	_ cos.Packer   = (*Header)(nil)
	_ cos.Unpacker = (*Header)(nil)
)

func Register(reg *cls.Registry) {
	reg.Register("log", "add", cls.RD|cls.WR, add)
	reg.Register("log", "list", cls.RD, list)
	reg.Register("log", "trim", cls.RD|cls.WR, trim)
	reg.Register("log", "info", cls.RD, info)
}

func timePrefix(ts time.Time) string {
	return fmt.Sprintf("%s%010d.%06d_", indexPrefix, ts.Unix(), ts.Nanosecond()/1000)
}

func readHeader(hctx *cls.Context) (*Header, error) {
	b, err := hctx.OmapGetVal(headerKey)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return &Header{}, nil
		}
		return nil, err
	}
	h := &Header{}
	if cos.UnpackBytes(b, h) != nil {
		return nil, cos.ErrIO
	}
	return h, nil
}

func writeHeader(hctx *cls.Context, h *Header) error {
	return hctx.OmapSetVal(headerKey, cos.PackBytes(h))
}

func add(hctx *cls.Context, in []byte) ([]byte, error) {
	var op AddOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	header, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	kvs := make(map[string][]byte, len(op.Entries))
	for i := range op.Entries {
		entry := &op.Entries[i]
		ts := entry.Timestamp
		if op.MonotonicInc && ts.Before(header.MaxTime) {
			ts = header.MaxTime
		} else if ts.After(header.MaxTime) {
			header.MaxTime = ts
		}
		index := entry.ID
		if index == "" {
			header.Counter++
			index = fmt.Sprintf("%s%012x", timePrefix(ts), header.Counter)
			entry.ID = index
		}
		if index > header.MaxMarker {
			header.MaxMarker = index
		}
		kvs[index] = cos.PackBytes(entry)
	}
	if err := hctx.OmapSet(kvs); err != nil {
		return nil, err
	}
	return nil, writeHeader(hctx, header)
}

func list(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ListOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	fromIndex := op.Marker
	if fromIndex == "" {
		// one usec under the boundary so the boundary itself is included
		fromIndex = strings.TrimSuffix(timePrefix(op.From), "_")
	}
	var toIndex string
	useBoundary := !op.From.IsZero() && !op.To.Before(op.From)
	if useBoundary {
		toIndex = timePrefix(op.To)
	}
	max := int(op.Max)
	if max == 0 || max > maxEntries {
		max = maxEntries
	}

	var (
		reply    ListReply
		lastRead = fromIndex
		done     bool
	)
scan:
	for !done {
		vals, more, err := hctx.OmapGetVals(lastRead, indexPrefix, max+1)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			lastRead = k
			if useBoundary && k >= toIndex {
				done = true
				break scan
			}
			if len(reply.Entries) >= max {
				reply.Truncated = true
				break scan
			}
			var e Entry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, cos.ErrIO
			}
			reply.Entries = append(reply.Entries, e)
			reply.Marker = k
		}
		done = done || !more
	}
	return cos.PackBytes(&reply), nil
}

// trim removes entries in [from, to); nothing removed => -ENODATA so
// a caller looping to empty knows when to stop.
func trim(hctx *cls.Context, in []byte) ([]byte, error) {
	var op TrimOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	fromIndex := op.FromMarker
	if fromIndex == "" {
		fromIndex = strings.TrimSuffix(timePrefix(op.From), "_")
	}
	toIndex := op.ToMarker
	if toIndex == "" {
		toIndex = timePrefix(op.To)
	}

	var (
		removed  []string
		lastRead = fromIndex
	)
	for len(removed) < maxTrimEntries {
		vals, more, err := hctx.OmapGetVals(lastRead, indexPrefix, maxTrimEntries)
		if err != nil {
			return nil, err
		}
		stop := len(vals) == 0
		for _, k := range cls.SortedKeys(vals) {
			if k >= toIndex {
				stop = true
				break
			}
			removed = append(removed, k)
			lastRead = k
		}
		if stop || !more {
			break
		}
	}
	if len(removed) == 0 {
		return nil, cos.ErrNoData
	}
	return nil, hctx.OmapRmKeys(removed...)
}

func info(hctx *cls.Context, _ []byte) ([]byte, error) {
	header, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(header), nil
}

//
// payloads
//

func (e *Entry) pack(bw *cos.BytePack) {
	bw.WriteTime(e.Timestamp)
	bw.WriteString(e.ID)
	bw.WriteString(e.Section)
	bw.WriteString(e.Name)
	bw.WriteBytes(e.Data)
}

func (e *Entry) packedSize() int {
	return cos.SizeofI64 + cos.PackedStrLen(e.ID) + cos.PackedStrLen(e.Section) +
		cos.PackedStrLen(e.Name) + cos.PackedBytesLen(e.Data)
}

func (e *Entry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Timestamp, err = br.ReadTime(); err != nil {
		return err
	}
	if e.ID, err = br.ReadString(); err != nil {
		return err
	}
	if e.Section, err = br.ReadString(); err != nil {
		return err
	}
	if e.Name, err = br.ReadString(); err != nil {
		return err
	}
	e.Data, err = br.ReadBytes()
	return err
}

func (e *Entry) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	e.pack(bw)
}

func (e *Entry) PackedSize() int { return cos.SizeofI8 + e.packedSize() }

func (e *Entry) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	return e.unpack(br)
}

func (op *AddOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteBool(op.MonotonicInc)
	bw.WriteUint32(uint32(len(op.Entries)))
	for i := range op.Entries {
		op.Entries[i].pack(bw)
	}
}

func (op *AddOp) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.SizeofLen
	for i := range op.Entries {
		n += op.Entries[i].packedSize()
	}
	return n
}

func (op *AddOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.MonotonicInc, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	op.Entries = make([]Entry, n)
	for i := range op.Entries {
		if err = op.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *ListOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteTime(op.From)
	bw.WriteTime(op.To)
	bw.WriteString(op.Marker)
	bw.WriteUint32(op.Max)
}

func (op *ListOp) PackedSize() int {
	return cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(op.Marker) + cos.SizeofLen
}

func (op *ListOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.From, err = br.ReadTime(); err != nil {
		return err
	}
	if op.To, err = br.ReadTime(); err != nil {
		return err
	}
	if op.Marker, err = br.ReadString(); err != nil {
		return err
	}
	op.Max, err = br.ReadUint32()
	return err
}

func (r *ListReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(r.Marker)
	bw.WriteBool(r.Truncated)
	bw.WriteUint32(uint32(len(r.Entries)))
	for i := range r.Entries {
		r.Entries[i].pack(bw)
	}
}

func (r *ListReply) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.PackedStrLen(r.Marker) + cos.SizeofLen
	for i := range r.Entries {
		n += r.Entries[i].packedSize()
	}
	return n
}

func (r *ListReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Marker, err = br.ReadString(); err != nil {
		return err
	}
	if r.Truncated, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Entries = make([]Entry, n)
	for i := range r.Entries {
		if err = r.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *TrimOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteTime(op.From)
	bw.WriteTime(op.To)
	bw.WriteString(op.FromMarker)
	bw.WriteString(op.ToMarker)
}

func (op *TrimOp) PackedSize() int {
	return cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(op.FromMarker) + cos.PackedStrLen(op.ToMarker)
}

func (op *TrimOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.From, err = br.ReadTime(); err != nil {
		return err
	}
	if op.To, err = br.ReadTime(); err != nil {
		return err
	}
	if op.FromMarker, err = br.ReadString(); err != nil {
		return err
	}
	op.ToMarker, err = br.ReadString()
	return err
}

func (h *Header) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteTime(h.MaxTime)
	bw.WriteString(h.MaxMarker)
	bw.WriteUint64(h.Counter)
}

func (h *Header) PackedSize() int {
	return cos.SizeofI8 + 2*cos.SizeofI64 + cos.PackedStrLen(h.MaxMarker)
}

func (h *Header) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if h.MaxTime, err = br.ReadTime(); err != nil {
		return err
	}
	if h.MaxMarker, err = br.ReadString(); err != nil {
		return err
	}
	h.Counter, err = br.ReadUint64()
	return err
}
