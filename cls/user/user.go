// Package user maintains a gateway user's bucket directory and the
// aggregate usage rolled up from per-bucket stats. The user object
// keeps one omap entry per bucket plus a header with the totals, so
// quota checks are a single header read.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package user

import (
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

const (
	bucketKeyPrefix = "b_"
	headerKey       = "header"

	maxList = 1000
)

type (
	Stats struct {
		TotalEntries      uint64
		TotalBytes        uint64
		TotalBytesRounded uint64
	}

	Entry struct {
		Bucket       string
		Size         uint64
		SizeRounded  uint64
		Count        uint64
		CreationTime time.Time
		// StatsSync: this entry's stats are included in the header totals
		StatsSync bool
	}

	Header struct {
		Stats           Stats
		LastStatsSync   time.Time
		LastStatsUpdate time.Time
	}

	SetBucketsOp struct {
		Entries []Entry
		Time    time.Time
		// Add: create absent entries and fold their stats into the
		// header; false updates creation metadata only
		Add bool
	}

	RemoveOp struct {
		Bucket string
	}

	TimeOp struct {
		Time time.Time
	}

	ListOp struct {
		Marker string
		Max    uint32
	}

	ListReply struct {
		Entries   []Entry
		Marker    string
		Truncated bool
	}
)

// interface guards
var (
	_ cos.Packer   = (*SetBucketsOp)(nil)
	_ cos.Unpacker = (*SetBucketsOp)(nil)
	_ cos.Packer   = (*Header)(nil)
	_ cos.Unpacker = (*Header)(nil)
)

func Register(reg *cls.Registry) {
	reg.Register("user", "set_buckets_info", cls.RD|cls.WR, setBucketsInfo)
	reg.Register("user", "complete_stats_sync", cls.RD|cls.WR, completeStatsSync)
	reg.Register("user", "remove_bucket", cls.RD|cls.WR, removeBucket)
	reg.Register("user", "get_header", cls.RD, getHeader)
	reg.Register("user", "list_buckets", cls.RD, listBuckets)
	reg.Register("user", "reset_stats", cls.RD|cls.WR, resetStats)
}

func bucketKey(name string) string { return bucketKeyPrefix + name }

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

func readEntry(hctx *cls.Context, key string) (*Entry, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		return nil, err
	}
	e := &Entry{}
	if cos.UnpackBytes(b, e) != nil {
		return nil, cos.ErrIO
	}
	return e, nil
}

func (s *Stats) add(e *Entry) {
	s.TotalEntries += e.Count
	s.TotalBytes += e.Size
	s.TotalBytesRounded += e.SizeRounded
}

func (s *Stats) dec(e *Entry) {
	s.TotalEntries -= e.Count
	s.TotalBytes -= e.Size
	s.TotalBytesRounded -= e.SizeRounded
}

func setBucketsInfo(hctx *cls.Context, in []byte) ([]byte, error) {
	var op SetBucketsOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	header, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	for i := range op.Entries {
		update := &op.Entries[i]
		key := bucketKey(update.Bucket)
		entry, err := readEntry(hctx, key)
		switch {
		case cos.IsErrNotFound(err):
			if !op.Add {
				continue // racing bucket removal
			}
			entry = update
		case err != nil:
			return nil, err
		default:
			if entry.StatsSync {
				header.Stats.dec(entry)
			}
			if op.Add {
				entry.Size = update.Size
				entry.SizeRounded = update.SizeRounded
				entry.Count = update.Count
			}
		}
		if op.Time.After(entry.CreationTime) {
			entry.CreationTime = op.Time
		}
		entry.StatsSync = true
		if err := hctx.OmapSetVal(key, cos.PackBytes(entry)); err != nil {
			return nil, err
		}
		header.Stats.add(entry)
		if cos.FastV(5, cos.SmoduleCls) {
			nlog.Infof("user %s: bucket=%s size=%d count=%d", hctx.Oid(), entry.Bucket, entry.Size, entry.Count)
		}
	}
	if op.Time.After(header.LastStatsUpdate) {
		header.LastStatsUpdate = op.Time
	}
	return nil, writeHeader(hctx, header)
}

func completeStatsSync(hctx *cls.Context, in []byte) ([]byte, error) {
	var op TimeOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	header, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	if op.Time.After(header.LastStatsSync) {
		header.LastStatsSync = op.Time
	}
	return nil, writeHeader(hctx, header)
}

func removeBucket(hctx *cls.Context, in []byte) ([]byte, error) {
	var op RemoveOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	key := bucketKey(op.Bucket)
	entry, err := readEntry(hctx, key)
	if err != nil {
		return nil, err
	}
	if entry.StatsSync {
		header, err := readHeader(hctx)
		if err != nil {
			return nil, err
		}
		header.Stats.dec(entry)
		if err := writeHeader(hctx, header); err != nil {
			return nil, err
		}
	}
	return nil, hctx.OmapRmKeys(key)
}

func getHeader(hctx *cls.Context, _ []byte) ([]byte, error) {
	header, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(header), nil
}

func listBuckets(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ListOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	max := int(op.Max)
	if max == 0 || max > maxList {
		max = maxList
	}
	var (
		reply    ListReply
		lastRead = bucketKey(op.Marker)
	)
	for {
		vals, more, err := hctx.OmapGetVals(lastRead, bucketKeyPrefix, max+1)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			if len(reply.Entries) >= max {
				reply.Truncated = true
				return cos.PackBytes(&reply), nil
			}
			var e Entry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, cos.ErrIO
			}
			reply.Entries = append(reply.Entries, e)
			reply.Marker = strings.TrimPrefix(k, bucketKeyPrefix)
			lastRead = k
		}
		if !more {
			return cos.PackBytes(&reply), nil
		}
	}
}

// resetStats recomputes the header totals from the entries, repairing
// drift after interrupted syncs.
func resetStats(hctx *cls.Context, in []byte) ([]byte, error) {
	var op TimeOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	var (
		header   = Header{LastStatsUpdate: op.Time, LastStatsSync: op.Time}
		lastRead = bucketKeyPrefix
	)
	for {
		vals, more, err := hctx.OmapGetVals(lastRead, bucketKeyPrefix, maxList)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			var e Entry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, cos.ErrIO
			}
			header.Stats.add(&e)
			lastRead = k
		}
		if !more {
			break
		}
	}
	return nil, writeHeader(hctx, &header)
}

//
// payloads
//

func (s *Stats) pack(bw *cos.BytePack) {
	bw.WriteUint64(s.TotalEntries)
	bw.WriteUint64(s.TotalBytes)
	bw.WriteUint64(s.TotalBytesRounded)
}

func (s *Stats) unpack(br *cos.ByteUnpack) (err error) {
	if s.TotalEntries, err = br.ReadUint64(); err != nil {
		return err
	}
	if s.TotalBytes, err = br.ReadUint64(); err != nil {
		return err
	}
	s.TotalBytesRounded, err = br.ReadUint64()
	return err
}

func (e *Entry) pack(bw *cos.BytePack) {
	bw.WriteString(e.Bucket)
	bw.WriteUint64(e.Size)
	bw.WriteUint64(e.SizeRounded)
	bw.WriteUint64(e.Count)
	bw.WriteTime(e.CreationTime)
	bw.WriteBool(e.StatsSync)
}

func (e *Entry) packedSize() int {
	return cos.PackedStrLen(e.Bucket) + 4*cos.SizeofI64 + cos.SizeofI8
}

func (e *Entry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Bucket, err = br.ReadString(); err != nil {
		return err
	}
	if e.Size, err = br.ReadUint64(); err != nil {
		return err
	}
	if e.SizeRounded, err = br.ReadUint64(); err != nil {
		return err
	}
	if e.Count, err = br.ReadUint64(); err != nil {
		return err
	}
	if e.CreationTime, err = br.ReadTime(); err != nil {
		return err
	}
	e.StatsSync, err = br.ReadBool()
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

func (h *Header) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	h.Stats.pack(bw)
	bw.WriteTime(h.LastStatsSync)
	bw.WriteTime(h.LastStatsUpdate)
}

func (h *Header) PackedSize() int { return cos.SizeofI8 + 5*cos.SizeofI64 }

func (h *Header) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if err = h.Stats.unpack(br); err != nil {
		return err
	}
	if h.LastStatsSync, err = br.ReadTime(); err != nil {
		return err
	}
	h.LastStatsUpdate, err = br.ReadTime()
	return err
}

func (op *SetBucketsOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteBool(op.Add)
	bw.WriteTime(op.Time)
	bw.WriteUint32(uint32(len(op.Entries)))
	for i := range op.Entries {
		op.Entries[i].pack(bw)
	}
}

func (op *SetBucketsOp) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.SizeofI64 + cos.SizeofLen
	for i := range op.Entries {
		n += op.Entries[i].packedSize()
	}
	return n
}

func (op *SetBucketsOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Add, err = br.ReadBool(); err != nil {
		return err
	}
	if op.Time, err = br.ReadTime(); err != nil {
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

func (op *RemoveOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Bucket)
}

func (op *RemoveOp) PackedSize() int { return cos.SizeofI8 + cos.PackedStrLen(op.Bucket) }

func (op *RemoveOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	op.Bucket, err = br.ReadString()
	return err
}

func (op *TimeOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteTime(op.Time)
}

func (op *TimeOp) PackedSize() int { return cos.SizeofI8 + cos.SizeofI64 }

func (op *TimeOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	op.Time, err = br.ReadTime()
	return err
}

func (op *ListOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Marker)
	bw.WriteUint32(op.Max)
}

func (op *ListOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Marker) + cos.SizeofLen
}

func (op *ListOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
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
