// Package rgw implements the bucket-index companion class plus the
// usage-log and garbage-collection queues the gateway shards across
// companion objects.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
)

// index transaction ops
const (
	OpAdd    = uint8(1)
	OpDel    = uint8(2)
	OpCancel = uint8(3)
)

// suggested-change hints, applied blindly at list time
const (
	SuggestUpdate = uint8('u')
	SuggestRemove = uint8('r')
)

// accounting categories
const (
	CatNone      = uint8(0)
	CatMain      = uint8(1)
	CatShadow    = uint8(2)
	CatMultiMeta = uint8(3)
)

// olh log ops
const (
	OLHLink           = uint8(1)
	OLHUnlink         = uint8(2)
	OLHRemoveInstance = uint8(3)
)

type (
	// ObjVer is the entry's placement version: the data pool id and
	// the object's commit epoch. A cancel carries {-1, 0}.
	ObjVer struct {
		Pool  int64
		Epoch uint64
	}

	Meta struct {
		Mtime         time.Time
		Size          uint64
		AccountedSize uint64
		Etag          string
		Owner         string
		OwnerDisplay  string
		ContentType   string
		Category      uint8
	}

	PendingInfo struct {
		Tag       string
		Timestamp time.Time
		Op        uint8
	}

	Entry struct {
		Name     string
		Instance string // versioned-bucket instance, empty for plain
		Ver      ObjVer
		Meta     Meta
		Pending  []PendingInfo
		Exists   bool
		// DeleteMarker only on instance entries
		DeleteMarker bool
	}

	CategoryStats struct {
		TotalSize        uint64
		TotalSizeRounded uint64
		NumEntries       uint64
	}

	Header struct {
		Stats map[uint8]CategoryStats
		Ver   uint64 // bumped on every completed op
	}

	PrepareOp struct {
		Name      string
		Tag       string
		Timestamp time.Time
		Op        uint8
	}

	CompleteOp struct {
		Name string
		Tag  string
		Ver  ObjVer
		Meta Meta
		// RemoveObjs: stale entries dropped in the same transaction
		RemoveObjs []string
		Op         uint8
	}

	ListOp struct {
		Start  string // marker: scan resumes after this name
		Prefix string
		Max    uint32
	}

	ListReply struct {
		Header    Header
		Entries   []Entry
		Truncated bool
	}

	CheckReply struct {
		Existing   Header
		Calculated Header
	}

	SuggestChange struct {
		Entry Entry
		Op    uint8
	}

	SuggestOp struct {
		Changes []SuggestChange
	}

	//
	// usage log
	//

	UsageInfo struct {
		BytesSent      uint64
		BytesReceived  uint64
		Ops            uint64
		SuccessfulOps  uint64
	}

	UsageEntry struct {
		Owner  string
		Bucket string
		Epoch  uint64 // hour-rounded unix seconds
		Total  UsageInfo
	}

	UsageAddOp struct {
		Entries []UsageEntry
	}

	UsageReadOp struct {
		Owner string // empty = all
		Start uint64
		End   uint64 // exclusive; 0 = unbounded
		Iter  string // resume key from the previous reply
		Max   uint32
	}

	UsageReadReply struct {
		Entries   []UsageEntry
		NextIter  string
		Truncated bool
	}

	UsageTrimOp struct {
		Owner string
		Start uint64
		End   uint64
	}

	UsageTrimReply struct {
		Done bool
	}

	//
	// gc queue
	//

	GCObj struct {
		Pool string
		Oid  string
	}

	GCChain struct {
		Objs []GCObj
	}

	GCEntry struct {
		Tag   string
		Time  time.Time // expiration
		Chain GCChain
	}

	GCSetOp struct {
		Tag            string
		Chain          GCChain
		ExpirationSecs uint32
	}

	GCDeferOp struct {
		Tag            string
		ExpirationSecs uint32
	}

	GCListOp struct {
		Marker      string
		Max         uint32
		ExpiredOnly bool
	}

	GCListReply struct {
		Entries    []GCEntry
		NextMarker string
		Truncated  bool
	}

	GCRemoveOp struct {
		Tags []string
	}

	//
	// olh (versioned-bucket object logical head)
	//

	OLHLogEntry struct {
		Epoch        uint64
		OpTag        string
		Instance     string
		Op           uint8
		DeleteMarker bool
	}

	LinkOLHOp struct {
		Name         string
		Instance     string
		OlhTag       string
		OpTag        string
		OlhEpoch     uint64 // 0 = next
		Meta         Meta
		DeleteMarker bool
	}

	UnlinkInstanceOp struct {
		Name     string
		Instance string
		OlhTag   string
		OpTag    string
		OlhEpoch uint64
	}

	ReadOLHOp struct {
		Name      string
		OlhTag    string
		VerMarker uint64 // entries with epoch > marker
	}

	ReadOLHReply struct {
		Entries   []OLHLogEntry
		Truncated bool
	}

	TrimOLHOp struct {
		Name   string
		OlhTag string
		Ver    uint64 // drop epochs <= Ver
	}

	ClearOLHOp struct {
		Name   string
		OlhTag string
	}

	// stored per-name olh record
	olhRecord struct {
		Tag      string
		Epoch    uint64
		Target   string // current instance, empty when unlinked
		TargetDM bool
		Log      []OLHLogEntry
	}
)

// interface guards
var (
	_ cos.Packer   = (*Entry)(nil)
	_ cos.Unpacker = (*Entry)(nil)
	_ cos.Packer   = (*Header)(nil)
	_ cos.Unpacker = (*Header)(nil)
	_ cos.Packer   = (*olhRecord)(nil)
	_ cos.Unpacker = (*olhRecord)(nil)
)

func (v *ObjVer) pack(bw *cos.BytePack) {
	bw.WriteInt64(v.Pool)
	bw.WriteUint64(v.Epoch)
}

func (v *ObjVer) unpack(br *cos.ByteUnpack) (err error) {
	if v.Pool, err = br.ReadInt64(); err != nil {
		return err
	}
	v.Epoch, err = br.ReadUint64()
	return err
}

func (m *Meta) pack(bw *cos.BytePack) {
	bw.WriteTime(m.Mtime)
	bw.WriteUint64(m.Size)
	bw.WriteUint64(m.AccountedSize)
	bw.WriteString(m.Etag)
	bw.WriteString(m.Owner)
	bw.WriteString(m.OwnerDisplay)
	bw.WriteString(m.ContentType)
	bw.WriteUint8(m.Category)
}

func (m *Meta) packedSize() int {
	return 3*cos.SizeofI64 + cos.SizeofI8 + cos.PackedStrLen(m.Etag) + cos.PackedStrLen(m.Owner) +
		cos.PackedStrLen(m.OwnerDisplay) + cos.PackedStrLen(m.ContentType)
}

func (m *Meta) unpack(br *cos.ByteUnpack) (err error) {
	if m.Mtime, err = br.ReadTime(); err != nil {
		return err
	}
	if m.Size, err = br.ReadUint64(); err != nil {
		return err
	}
	if m.AccountedSize, err = br.ReadUint64(); err != nil {
		return err
	}
	if m.Etag, err = br.ReadString(); err != nil {
		return err
	}
	if m.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if m.OwnerDisplay, err = br.ReadString(); err != nil {
		return err
	}
	if m.ContentType, err = br.ReadString(); err != nil {
		return err
	}
	m.Category, err = br.ReadUint8()
	return err
}

func (e *Entry) pack(bw *cos.BytePack) {
	bw.WriteString(e.Name)
	bw.WriteString(e.Instance)
	e.Ver.pack(bw)
	e.Meta.pack(bw)
	bw.WriteBool(e.Exists)
	bw.WriteBool(e.DeleteMarker)
	bw.WriteUint32(uint32(len(e.Pending)))
	for i := range e.Pending {
		p := &e.Pending[i]
		bw.WriteString(p.Tag)
		bw.WriteTime(p.Timestamp)
		bw.WriteUint8(p.Op)
	}
}

func (e *Entry) packedSize() int {
	n := cos.PackedStrLen(e.Name) + cos.PackedStrLen(e.Instance) + 2*cos.SizeofI64 +
		e.Meta.packedSize() + 2*cos.SizeofI8 + cos.SizeofLen
	for i := range e.Pending {
		n += cos.PackedStrLen(e.Pending[i].Tag) + cos.SizeofI64 + cos.SizeofI8
	}
	return n
}

func (e *Entry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Name, err = br.ReadString(); err != nil {
		return err
	}
	if e.Instance, err = br.ReadString(); err != nil {
		return err
	}
	if err = e.Ver.unpack(br); err != nil {
		return err
	}
	if err = e.Meta.unpack(br); err != nil {
		return err
	}
	if e.Exists, err = br.ReadBool(); err != nil {
		return err
	}
	if e.DeleteMarker, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	e.Pending = make([]PendingInfo, n)
	for i := range e.Pending {
		p := &e.Pending[i]
		if p.Tag, err = br.ReadString(); err != nil {
			return err
		}
		if p.Timestamp, err = br.ReadTime(); err != nil {
			return err
		}
		if p.Op, err = br.ReadUint8(); err != nil {
			return err
		}
	}
	return nil
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

func (h *Header) pack(bw *cos.BytePack) {
	bw.WriteUint64(h.Ver)
	bw.WriteUint32(uint32(len(h.Stats)))
	for _, cat := range sortedCats(h.Stats) {
		s := h.Stats[cat]
		bw.WriteUint8(cat)
		bw.WriteUint64(s.TotalSize)
		bw.WriteUint64(s.TotalSizeRounded)
		bw.WriteUint64(s.NumEntries)
	}
}

func (h *Header) packedSize() int {
	return cos.SizeofI64 + cos.SizeofLen + len(h.Stats)*(cos.SizeofI8+3*cos.SizeofI64)
}

func (h *Header) unpack(br *cos.ByteUnpack) (err error) {
	if h.Ver, err = br.ReadUint64(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	h.Stats = make(map[uint8]CategoryStats, n)
	for range n {
		var (
			cat uint8
			s   CategoryStats
		)
		if cat, err = br.ReadUint8(); err != nil {
			return err
		}
		if s.TotalSize, err = br.ReadUint64(); err != nil {
			return err
		}
		if s.TotalSizeRounded, err = br.ReadUint64(); err != nil {
			return err
		}
		if s.NumEntries, err = br.ReadUint64(); err != nil {
			return err
		}
		h.Stats[cat] = s
	}
	return nil
}

func (h *Header) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	h.pack(bw)
}

func (h *Header) PackedSize() int { return cos.SizeofI8 + h.packedSize() }

func (h *Header) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	return h.unpack(br)
}

func sortedCats(stats map[uint8]CategoryStats) []uint8 {
	cats := make([]uint8, 0, len(stats))
	for cat := range stats {
		cats = append(cats, cat)
	}
	for i := 1; i < len(cats); i++ { // tiny, insertion sort
		for j := i; j > 0 && cats[j] < cats[j-1]; j-- {
			cats[j], cats[j-1] = cats[j-1], cats[j]
		}
	}
	return cats
}

func (op *PrepareOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint8(op.Op)
	bw.WriteString(op.Name)
	bw.WriteString(op.Tag)
	bw.WriteTime(op.Timestamp)
}

func (op *PrepareOp) PackedSize() int {
	return 2*cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Tag) + cos.SizeofI64
}

func (op *PrepareOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Op, err = br.ReadUint8(); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	op.Timestamp, err = br.ReadTime()
	return err
}

func (op *CompleteOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint8(op.Op)
	bw.WriteString(op.Name)
	bw.WriteString(op.Tag)
	op.Ver.pack(bw)
	op.Meta.pack(bw)
	bw.WriteUint32(uint32(len(op.RemoveObjs)))
	for _, o := range op.RemoveObjs {
		bw.WriteString(o)
	}
}

func (op *CompleteOp) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Tag) +
		2*cos.SizeofI64 + op.Meta.packedSize() + cos.SizeofLen
	for _, o := range op.RemoveObjs {
		n += cos.PackedStrLen(o)
	}
	return n
}

func (op *CompleteOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Op, err = br.ReadUint8(); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	if err = op.Ver.unpack(br); err != nil {
		return err
	}
	if err = op.Meta.unpack(br); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	op.RemoveObjs = make([]string, n)
	for i := range op.RemoveObjs {
		if op.RemoveObjs[i], err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

func (op *ListOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Start)
	bw.WriteString(op.Prefix)
	bw.WriteUint32(op.Max)
}

func (op *ListOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Start) + cos.PackedStrLen(op.Prefix) + cos.SizeofLen
}

func (op *ListOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Start, err = br.ReadString(); err != nil {
		return err
	}
	if op.Prefix, err = br.ReadString(); err != nil {
		return err
	}
	op.Max, err = br.ReadUint32()
	return err
}

func (r *ListReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	r.Header.pack(bw)
	bw.WriteBool(r.Truncated)
	bw.WriteUint32(uint32(len(r.Entries)))
	for i := range r.Entries {
		r.Entries[i].pack(bw)
	}
}

func (r *ListReply) PackedSize() int {
	n := 2*cos.SizeofI8 + r.Header.packedSize() + cos.SizeofLen
	for i := range r.Entries {
		n += r.Entries[i].packedSize()
	}
	return n
}

func (r *ListReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if err = r.Header.unpack(br); err != nil {
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

func (r *CheckReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	r.Existing.pack(bw)
	r.Calculated.pack(bw)
}

func (r *CheckReply) PackedSize() int {
	return cos.SizeofI8 + r.Existing.packedSize() + r.Calculated.packedSize()
}

func (r *CheckReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if err = r.Existing.unpack(br); err != nil {
		return err
	}
	return r.Calculated.unpack(br)
}

func (op *SuggestOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(op.Changes)))
	for i := range op.Changes {
		bw.WriteUint8(op.Changes[i].Op)
		op.Changes[i].Entry.pack(bw)
	}
}

func (op *SuggestOp) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for i := range op.Changes {
		n += cos.SizeofI8 + op.Changes[i].Entry.packedSize()
	}
	return n
}

func (op *SuggestOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	op.Changes = make([]SuggestChange, n)
	for i := range op.Changes {
		if op.Changes[i].Op, err = br.ReadUint8(); err != nil {
			return err
		}
		if err = op.Changes[i].Entry.unpack(br); err != nil {
			return err
		}
	}
	return nil
}

//
// usage payloads
//

func (u *UsageInfo) aggregate(other *UsageInfo) {
	u.BytesSent += other.BytesSent
	u.BytesReceived += other.BytesReceived
	u.Ops += other.Ops
	u.SuccessfulOps += other.SuccessfulOps
}

func (u *UsageInfo) pack(bw *cos.BytePack) {
	bw.WriteUint64(u.BytesSent)
	bw.WriteUint64(u.BytesReceived)
	bw.WriteUint64(u.Ops)
	bw.WriteUint64(u.SuccessfulOps)
}

func (u *UsageInfo) unpack(br *cos.ByteUnpack) (err error) {
	if u.BytesSent, err = br.ReadUint64(); err != nil {
		return err
	}
	if u.BytesReceived, err = br.ReadUint64(); err != nil {
		return err
	}
	if u.Ops, err = br.ReadUint64(); err != nil {
		return err
	}
	u.SuccessfulOps, err = br.ReadUint64()
	return err
}

func (e *UsageEntry) pack(bw *cos.BytePack) {
	bw.WriteString(e.Owner)
	bw.WriteString(e.Bucket)
	bw.WriteUint64(e.Epoch)
	e.Total.pack(bw)
}

func (e *UsageEntry) packedSize() int {
	return cos.PackedStrLen(e.Owner) + cos.PackedStrLen(e.Bucket) + 5*cos.SizeofI64
}

func (e *UsageEntry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if e.Bucket, err = br.ReadString(); err != nil {
		return err
	}
	if e.Epoch, err = br.ReadUint64(); err != nil {
		return err
	}
	return e.Total.unpack(br)
}

func (e *UsageEntry) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	e.pack(bw)
}

func (e *UsageEntry) PackedSize() int { return cos.SizeofI8 + e.packedSize() }

func (e *UsageEntry) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	return e.unpack(br)
}

func (op *UsageAddOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(op.Entries)))
	for i := range op.Entries {
		op.Entries[i].pack(bw)
	}
}

func (op *UsageAddOp) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for i := range op.Entries {
		n += op.Entries[i].packedSize()
	}
	return n
}

func (op *UsageAddOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	op.Entries = make([]UsageEntry, n)
	for i := range op.Entries {
		if err = op.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *UsageReadOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Owner)
	bw.WriteUint64(op.Start)
	bw.WriteUint64(op.End)
	bw.WriteString(op.Iter)
	bw.WriteUint32(op.Max)
}

func (op *UsageReadOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Owner) + 2*cos.SizeofI64 +
		cos.PackedStrLen(op.Iter) + cos.SizeofLen
}

func (op *UsageReadOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if op.Start, err = br.ReadUint64(); err != nil {
		return err
	}
	if op.End, err = br.ReadUint64(); err != nil {
		return err
	}
	if op.Iter, err = br.ReadString(); err != nil {
		return err
	}
	op.Max, err = br.ReadUint32()
	return err
}

func (r *UsageReadReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(r.NextIter)
	bw.WriteBool(r.Truncated)
	bw.WriteUint32(uint32(len(r.Entries)))
	for i := range r.Entries {
		r.Entries[i].pack(bw)
	}
}

func (r *UsageReadReply) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.PackedStrLen(r.NextIter) + cos.SizeofLen
	for i := range r.Entries {
		n += r.Entries[i].packedSize()
	}
	return n
}

func (r *UsageReadReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.NextIter, err = br.ReadString(); err != nil {
		return err
	}
	if r.Truncated, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Entries = make([]UsageEntry, n)
	for i := range r.Entries {
		if err = r.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *UsageTrimOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Owner)
	bw.WriteUint64(op.Start)
	bw.WriteUint64(op.End)
}

func (op *UsageTrimOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Owner) + 2*cos.SizeofI64
}

func (op *UsageTrimOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Owner, err = br.ReadString(); err != nil {
		return err
	}
	if op.Start, err = br.ReadUint64(); err != nil {
		return err
	}
	op.End, err = br.ReadUint64()
	return err
}

func (r *UsageTrimReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteBool(r.Done)
}

func (r *UsageTrimReply) PackedSize() int { return 2 * cos.SizeofI8 }

func (r *UsageTrimReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	r.Done, err = br.ReadBool()
	return err
}

//
// gc payloads
//

func (c *GCChain) pack(bw *cos.BytePack) {
	bw.WriteUint32(uint32(len(c.Objs)))
	for i := range c.Objs {
		bw.WriteString(c.Objs[i].Pool)
		bw.WriteString(c.Objs[i].Oid)
	}
}

func (c *GCChain) packedSize() int {
	n := cos.SizeofLen
	for i := range c.Objs {
		n += cos.PackedStrLen(c.Objs[i].Pool) + cos.PackedStrLen(c.Objs[i].Oid)
	}
	return n
}

func (c *GCChain) unpack(br *cos.ByteUnpack) (err error) {
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	c.Objs = make([]GCObj, n)
	for i := range c.Objs {
		if c.Objs[i].Pool, err = br.ReadString(); err != nil {
			return err
		}
		if c.Objs[i].Oid, err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

func (e *GCEntry) pack(bw *cos.BytePack) {
	bw.WriteString(e.Tag)
	bw.WriteTime(e.Time)
	e.Chain.pack(bw)
}

func (e *GCEntry) packedSize() int {
	return cos.PackedStrLen(e.Tag) + cos.SizeofI64 + e.Chain.packedSize()
}

func (e *GCEntry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Tag, err = br.ReadString(); err != nil {
		return err
	}
	if e.Time, err = br.ReadTime(); err != nil {
		return err
	}
	return e.Chain.unpack(br)
}

func (e *GCEntry) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	e.pack(bw)
}

func (e *GCEntry) PackedSize() int { return cos.SizeofI8 + e.packedSize() }

func (e *GCEntry) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	return e.unpack(br)
}

func (op *GCSetOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Tag)
	bw.WriteUint32(op.ExpirationSecs)
	op.Chain.pack(bw)
}

func (op *GCSetOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Tag) + cos.SizeofLen + op.Chain.packedSize()
}

func (op *GCSetOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	if op.ExpirationSecs, err = br.ReadUint32(); err != nil {
		return err
	}
	return op.Chain.unpack(br)
}

func (op *GCDeferOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Tag)
	bw.WriteUint32(op.ExpirationSecs)
}

func (op *GCDeferOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Tag) + cos.SizeofLen
}

func (op *GCDeferOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Tag, err = br.ReadString(); err != nil {
		return err
	}
	op.ExpirationSecs, err = br.ReadUint32()
	return err
}

func (op *GCListOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Marker)
	bw.WriteUint32(op.Max)
	bw.WriteBool(op.ExpiredOnly)
}

func (op *GCListOp) PackedSize() int {
	return 2*cos.SizeofI8 + cos.PackedStrLen(op.Marker) + cos.SizeofLen
}

func (op *GCListOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Marker, err = br.ReadString(); err != nil {
		return err
	}
	if op.Max, err = br.ReadUint32(); err != nil {
		return err
	}
	op.ExpiredOnly, err = br.ReadBool()
	return err
}

func (r *GCListReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(r.NextMarker)
	bw.WriteBool(r.Truncated)
	bw.WriteUint32(uint32(len(r.Entries)))
	for i := range r.Entries {
		r.Entries[i].pack(bw)
	}
}

func (r *GCListReply) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.PackedStrLen(r.NextMarker) + cos.SizeofLen
	for i := range r.Entries {
		n += r.Entries[i].packedSize()
	}
	return n
}

func (r *GCListReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.NextMarker, err = br.ReadString(); err != nil {
		return err
	}
	if r.Truncated, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Entries = make([]GCEntry, n)
	for i := range r.Entries {
		if err = r.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *GCRemoveOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteUint32(uint32(len(op.Tags)))
	for _, t := range op.Tags {
		bw.WriteString(t)
	}
}

func (op *GCRemoveOp) PackedSize() int {
	n := cos.SizeofI8 + cos.SizeofLen
	for _, t := range op.Tags {
		n += cos.PackedStrLen(t)
	}
	return n
}

func (op *GCRemoveOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	op.Tags = make([]string, n)
	for i := range op.Tags {
		if op.Tags[i], err = br.ReadString(); err != nil {
			return err
		}
	}
	return nil
}

//
// olh payloads
//

func (e *OLHLogEntry) pack(bw *cos.BytePack) {
	bw.WriteUint64(e.Epoch)
	bw.WriteString(e.OpTag)
	bw.WriteString(e.Instance)
	bw.WriteUint8(e.Op)
	bw.WriteBool(e.DeleteMarker)
}

func (e *OLHLogEntry) packedSize() int {
	return cos.SizeofI64 + cos.PackedStrLen(e.OpTag) + cos.PackedStrLen(e.Instance) + 2*cos.SizeofI8
}

func (e *OLHLogEntry) unpack(br *cos.ByteUnpack) (err error) {
	if e.Epoch, err = br.ReadUint64(); err != nil {
		return err
	}
	if e.OpTag, err = br.ReadString(); err != nil {
		return err
	}
	if e.Instance, err = br.ReadString(); err != nil {
		return err
	}
	if e.Op, err = br.ReadUint8(); err != nil {
		return err
	}
	e.DeleteMarker, err = br.ReadBool()
	return err
}

func (op *LinkOLHOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.Instance)
	bw.WriteString(op.OlhTag)
	bw.WriteString(op.OpTag)
	bw.WriteUint64(op.OlhEpoch)
	bw.WriteBool(op.DeleteMarker)
	op.Meta.pack(bw)
}

func (op *LinkOLHOp) PackedSize() int {
	return 2*cos.SizeofI8 + cos.SizeofI64 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Instance) +
		cos.PackedStrLen(op.OlhTag) + cos.PackedStrLen(op.OpTag) + op.Meta.packedSize()
}

func (op *LinkOLHOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Instance, err = br.ReadString(); err != nil {
		return err
	}
	if op.OlhTag, err = br.ReadString(); err != nil {
		return err
	}
	if op.OpTag, err = br.ReadString(); err != nil {
		return err
	}
	if op.OlhEpoch, err = br.ReadUint64(); err != nil {
		return err
	}
	if op.DeleteMarker, err = br.ReadBool(); err != nil {
		return err
	}
	return op.Meta.unpack(br)
}

func (op *UnlinkInstanceOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.Instance)
	bw.WriteString(op.OlhTag)
	bw.WriteString(op.OpTag)
	bw.WriteUint64(op.OlhEpoch)
}

func (op *UnlinkInstanceOp) PackedSize() int {
	return cos.SizeofI8 + cos.SizeofI64 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.Instance) +
		cos.PackedStrLen(op.OlhTag) + cos.PackedStrLen(op.OpTag)
}

func (op *UnlinkInstanceOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.Instance, err = br.ReadString(); err != nil {
		return err
	}
	if op.OlhTag, err = br.ReadString(); err != nil {
		return err
	}
	if op.OpTag, err = br.ReadString(); err != nil {
		return err
	}
	op.OlhEpoch, err = br.ReadUint64()
	return err
}

func (op *ReadOLHOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.OlhTag)
	bw.WriteUint64(op.VerMarker)
}

func (op *ReadOLHOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.OlhTag) + cos.SizeofI64
}

func (op *ReadOLHOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.OlhTag, err = br.ReadString(); err != nil {
		return err
	}
	op.VerMarker, err = br.ReadUint64()
	return err
}

func (r *ReadOLHReply) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteBool(r.Truncated)
	bw.WriteUint32(uint32(len(r.Entries)))
	for i := range r.Entries {
		r.Entries[i].pack(bw)
	}
}

func (r *ReadOLHReply) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.SizeofLen
	for i := range r.Entries {
		n += r.Entries[i].packedSize()
	}
	return n
}

func (r *ReadOLHReply) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if r.Truncated, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	r.Entries = make([]OLHLogEntry, n)
	for i := range r.Entries {
		if err = r.Entries[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}

func (op *TrimOLHOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.OlhTag)
	bw.WriteUint64(op.Ver)
}

func (op *TrimOLHOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.OlhTag) + cos.SizeofI64
}

func (op *TrimOLHOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	if op.OlhTag, err = br.ReadString(); err != nil {
		return err
	}
	op.Ver, err = br.ReadUint64()
	return err
}

func (op *ClearOLHOp) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(op.Name)
	bw.WriteString(op.OlhTag)
}

func (op *ClearOLHOp) PackedSize() int {
	return cos.SizeofI8 + cos.PackedStrLen(op.Name) + cos.PackedStrLen(op.OlhTag)
}

func (op *ClearOLHOp) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if op.Name, err = br.ReadString(); err != nil {
		return err
	}
	op.OlhTag, err = br.ReadString()
	return err
}

func (rec *olhRecord) Pack(bw *cos.BytePack) {
	bw.WriteUint8(1)
	bw.WriteString(rec.Tag)
	bw.WriteUint64(rec.Epoch)
	bw.WriteString(rec.Target)
	bw.WriteBool(rec.TargetDM)
	bw.WriteUint32(uint32(len(rec.Log)))
	for i := range rec.Log {
		rec.Log[i].pack(bw)
	}
}

func (rec *olhRecord) PackedSize() int {
	n := 2*cos.SizeofI8 + cos.SizeofI64 + cos.PackedStrLen(rec.Tag) +
		cos.PackedStrLen(rec.Target) + cos.SizeofLen
	for i := range rec.Log {
		n += rec.Log[i].packedSize()
	}
	return n
}

func (rec *olhRecord) Unpack(br *cos.ByteUnpack) (err error) {
	if err = cls.Ver(br, 1); err != nil {
		return err
	}
	if rec.Tag, err = br.ReadString(); err != nil {
		return err
	}
	if rec.Epoch, err = br.ReadUint64(); err != nil {
		return err
	}
	if rec.Target, err = br.ReadString(); err != nil {
		return err
	}
	if rec.TargetDM, err = br.ReadBool(); err != nil {
		return err
	}
	var n uint32
	if n, err = br.ReadUint32(); err != nil {
		return err
	}
	rec.Log = make([]OLHLogEntry, n)
	for i := range rec.Log {
		if err = rec.Log[i].unpack(br); err != nil {
			return err
		}
	}
	return nil
}
