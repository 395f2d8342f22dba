/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cls"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// omap key namespaces within a bucket index shard
const (
	headerKey         = "header"
	plainKeyPrefix    = "d_"
	instanceKeyPrefix = "i_"
	olhKeyPrefix      = "o_"
)

const maxListPage = 1001

// tagTimeout ages out pending index ops whose writer never completed
// nor canceled; until then the pending entry shields its record from
// list-time repair.
const tagTimeout = 24 * time.Hour

func Register(reg *cls.Registry) {
	reg.Register("rgw", "bucket_init_index", cls.RD|cls.WR, initIndex)
	reg.Register("rgw", "bucket_prepare_op", cls.RD|cls.WR, prepareOp)
	reg.Register("rgw", "bucket_complete_op", cls.RD|cls.WR, completeOp)
	reg.Register("rgw", "bucket_list", cls.RD, bucketList)
	reg.Register("rgw", "bucket_check_index", cls.RD, checkIndex)
	reg.Register("rgw", "bucket_rebuild_index", cls.RD|cls.WR, rebuildIndex)
	reg.Register("rgw", "get_dir_header", cls.RD, getDirHeader)
	reg.Register("rgw", "suggest_changes", cls.RD|cls.WR, suggestChanges)
	reg.Register("rgw", "link_olh", cls.RD|cls.WR, linkOLH)
	reg.Register("rgw", "unlink_instance", cls.RD|cls.WR, unlinkInstance)
	reg.Register("rgw", "read_olh_log", cls.RD, readOLHLog)
	reg.Register("rgw", "trim_olh_log", cls.RD|cls.WR, trimOLHLog)
	reg.Register("rgw", "clear_olh", cls.RD|cls.WR, clearOLH)
	reg.Register("rgw", "user_usage_log_add", cls.RD|cls.WR, usageAdd)
	reg.Register("rgw", "user_usage_log_read", cls.RD, usageRead)
	reg.Register("rgw", "user_usage_log_trim", cls.RD|cls.WR, usageTrim)
	reg.Register("rgw", "gc_set_entry", cls.RD|cls.WR, gcSetEntry)
	reg.Register("rgw", "gc_defer_entry", cls.RD|cls.WR, gcDeferEntry)
	reg.Register("rgw", "gc_list", cls.RD, gcList)
	reg.Register("rgw", "gc_remove", cls.RD|cls.WR, gcRemove)
}

func errCorrupt(key string) error {
	return fmt.Errorf("corrupt %q record: %w", key, cos.ErrIO)
}

func plainKey(name string) string { return plainKeyPrefix + name }

// instance keys group all instances of a name; NUL cannot occur in an
// instance id
func instanceKey(name, instance string) string {
	return instanceKeyPrefix + name + "\x00" + instance
}

func olhKey(name string) string { return olhKeyPrefix + name }

// readHeader tolerates an uninitialized shard and hands back a zero
// header, same as an index that has seen no completed ops.
func readHeader(hctx *cls.Context) (*Header, error) {
	b, err := hctx.OmapGetVal(headerKey)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return &Header{Stats: make(map[uint8]CategoryStats)}, nil
		}
		return nil, err
	}
	h := &Header{}
	if cos.UnpackBytes(b, h) != nil {
		return nil, errCorrupt(headerKey)
	}
	if h.Stats == nil {
		h.Stats = make(map[uint8]CategoryStats)
	}
	return h, nil
}

func writeHeader(hctx *cls.Context, h *Header) error {
	return hctx.OmapSet(map[string][]byte{headerKey: cos.PackBytes(h)})
}

// accounted sizes round up to the 4K allocation unit
func round4K(n uint64) uint64 {
	return uint64(cos.DivCeil(int64(n), 4*cos.KiB)) * 4 * cos.KiB
}

func (h *Header) account(m *Meta, sign int64) {
	s := h.Stats[m.Category]
	if sign > 0 {
		s.TotalSize += m.Size
		s.TotalSizeRounded += round4K(m.AccountedSize)
		s.NumEntries++
	} else {
		s.TotalSize -= m.Size
		s.TotalSizeRounded -= round4K(m.AccountedSize)
		s.NumEntries--
	}
	h.Stats[m.Category] = s
}

func readEntry(hctx *cls.Context, key string) (*Entry, bool, error) {
	b, err := hctx.OmapGetVal(key)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	e := &Entry{}
	if cos.UnpackBytes(b, e) != nil {
		return nil, false, errCorrupt(key)
	}
	return e, true, nil
}

func writeEntry(hctx *cls.Context, key string, e *Entry) error {
	return hctx.OmapSet(map[string][]byte{key: cos.PackBytes(e)})
}

func (e *Entry) erasePending(tag string) bool {
	for i := range e.Pending {
		if e.Pending[i].Tag == tag {
			e.Pending = append(e.Pending[:i], e.Pending[i+1:]...)
			return true
		}
	}
	return false
}

func initIndex(hctx *cls.Context, _ []byte) ([]byte, error) {
	if _, err := hctx.OmapGetVal(headerKey); err == nil {
		return nil, nil // already initialized
	} else if !cos.IsErrNotFound(err) {
		return nil, err
	}
	return nil, writeHeader(hctx, &Header{Stats: make(map[uint8]CategoryStats)})
}

func prepareOp(hctx *cls.Context, in []byte) ([]byte, error) {
	var op PrepareOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Tag == "" || (op.Op != OpAdd && op.Op != OpDel) {
		return nil, cos.ErrInvalid
	}
	key := plainKey(op.Name)
	e, ok, err := readEntry(hctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		e = &Entry{Name: op.Name}
	}
	ts := op.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e.erasePending(op.Tag)
	e.Pending = append(e.Pending, PendingInfo{Tag: op.Tag, Timestamp: ts, Op: op.Op})
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("prepare_op %d obj %q tag %q", op.Op, op.Name, op.Tag)
	}
	return nil, writeEntry(hctx, key, e)
}

func completeOp(hctx *cls.Context, in []byte) ([]byte, error) {
	var op CompleteOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	if op.Tag == "" {
		return nil, cos.ErrInvalid
	}
	h, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	key := plainKey(op.Name)
	e, ok, err := readEntry(hctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		// the prepare record may have been blind-removed by a list-time
		// suggestion; tolerate only that case
		if !e.erasePending(op.Tag) {
			return nil, cos.ErrInvalid
		}
	} else {
		if op.Op == OpCancel {
			return nil, nil
		}
		e = &Entry{Name: op.Name}
	}
	if cos.FastV(5, cos.SmoduleCls) {
		nlog.Infof("complete_op %d obj %q tag %q epoch %d", op.Op, op.Name, op.Tag, op.Ver.Epoch)
	}
	switch op.Op {
	case OpCancel:
		if err := writeEntry(hctx, key, e); err != nil {
			return nil, err
		}
	case OpAdd:
		if e.Exists {
			h.account(&e.Meta, -1)
		}
		e.Exists = true
		e.Meta = op.Meta
		e.Ver = op.Ver
		h.account(&e.Meta, 1)
		if err := writeEntry(hctx, key, e); err != nil {
			return nil, err
		}
	case OpDel:
		if e.Exists {
			h.account(&e.Meta, -1)
		}
		e.Exists = false
		e.Ver = op.Ver
		if len(e.Pending) == 0 {
			if err := hctx.OmapRmKeys(key); err != nil {
				return nil, err
			}
		} else if err := writeEntry(hctx, key, e); err != nil {
			return nil, err
		}
	default:
		return nil, cos.ErrInvalid
	}
	for _, name := range op.RemoveObjs {
		rkey := plainKey(name)
		re, ok, err := readEntry(hctx, rkey)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if re.Exists {
			h.account(&re.Meta, -1)
		}
		if err := hctx.OmapRmKeys(rkey); err != nil {
			return nil, err
		}
	}
	h.Ver++
	return nil, writeHeader(hctx, h)
}

func bucketList(hctx *cls.Context, in []byte) ([]byte, error) {
	var op ListOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	h, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	max := int(op.Max)
	if max <= 0 || max > maxListPage {
		max = maxListPage
	}
	reply := &ListReply{Header: *h}
	after := plainKeyPrefix // scan whole namespace, prefix filter below
	if op.Start != "" {
		after = plainKey(op.Start)
	}
scan:
	for {
		vals, more, err := hctx.OmapGetVals(after, plainKeyPrefix, maxListPage)
		if err != nil {
			return nil, err
		}
		keys := cls.SortedKeys(vals)
		for _, k := range keys {
			name := k[len(plainKeyPrefix):]
			if op.Prefix != "" && !strings.HasPrefix(name, op.Prefix) {
				after = k
				continue
			}
			var e Entry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, errCorrupt(k)
			}
			if len(reply.Entries) >= max {
				reply.Truncated = true
				break scan
			}
			reply.Entries = append(reply.Entries, e)
			after = k
		}
		if !more {
			break
		}
	}
	return cos.PackBytes(reply), nil
}

func calcHeader(hctx *cls.Context) (*Header, error) {
	h := &Header{Stats: make(map[uint8]CategoryStats)}
	after := ""
	for {
		vals, more, err := hctx.OmapGetVals(after, plainKeyPrefix, maxListPage)
		if err != nil {
			return nil, err
		}
		for _, k := range cls.SortedKeys(vals) {
			var e Entry
			if cos.UnpackBytes(vals[k], &e) != nil {
				return nil, errCorrupt(k)
			}
			if e.Exists {
				h.account(&e.Meta, 1)
			}
			after = k
		}
		if !more {
			break
		}
	}
	return h, nil
}

func checkIndex(hctx *cls.Context, _ []byte) ([]byte, error) {
	existing, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	calc, err := calcHeader(hctx)
	if err != nil {
		return nil, err
	}
	calc.Ver = existing.Ver
	return cos.PackBytes(&CheckReply{Existing: *existing, Calculated: *calc}), nil
}

func rebuildIndex(hctx *cls.Context, _ []byte) ([]byte, error) {
	existing, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	calc, err := calcHeader(hctx)
	if err != nil {
		return nil, err
	}
	calc.Ver = existing.Ver + 1
	return nil, writeHeader(hctx, calc)
}

func getDirHeader(hctx *cls.Context, _ []byte) ([]byte, error) {
	h, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	return cos.PackBytes(h), nil
}

// suggestChanges applies list-time reconciliation hints. Hints are
// advisory and come from a lister that stat-ed the data objects, so
// they are applied blindly, stats adjusted as the entries flip.
func suggestChanges(hctx *cls.Context, in []byte) ([]byte, error) {
	var op SuggestOp
	if err := cls.Unmarshal(in, &op); err != nil {
		return nil, err
	}
	h, err := readHeader(hctx)
	if err != nil {
		return nil, err
	}
	var (
		dirty bool
		now   = time.Now()
	)
	for i := range op.Changes {
		change := &op.Changes[i]
		key := plainKey(change.Entry.Name)
		cur, ok, err := readEntry(hctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			live := cur.Pending[:0]
			for _, p := range cur.Pending {
				if now.Sub(p.Timestamp) <= tagTimeout {
					live = append(live, p)
				}
			}
			cur.Pending = live
			if len(cur.Pending) > 0 {
				// a live write op owns this entry; the suggestion is stale
				continue
			}
		}
		switch change.Op {
		case SuggestRemove:
			if !ok {
				continue
			}
			if cur.Exists {
				h.account(&cur.Meta, -1)
			}
			if err := hctx.OmapRmKeys(key); err != nil {
				return nil, err
			}
			dirty = true
		case SuggestUpdate:
			if ok && cur.Exists {
				h.account(&cur.Meta, -1)
			}
			if change.Entry.Exists {
				h.account(&change.Entry.Meta, 1)
			}
			if err := writeEntry(hctx, key, &change.Entry); err != nil {
				return nil, err
			}
			dirty = true
		default:
			return nil, cos.ErrInvalid
		}
	}
	if !dirty {
		return nil, nil
	}
	h.Ver++
	return nil, writeHeader(hctx, h)
}
