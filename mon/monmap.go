// Package mon is the cluster monitor: the authoritative membership map,
// an in-process server bound to the embedded cluster, and the client
// with session hunting, subscriptions, and command dispatch.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/jsp"
)

const fnameMonMap = "monmap"

const (
	monmapMetaver    = 2
	monmapOldMetaver = 1
)

// MonMap names the monitors and fixes the quorum order. Rank is the
// position in Quorum; clients weight their probes by it.
type MonMap struct {
	FSID   string            `json:"fsid"`
	Addrs  map[string]string `json:"addrs"`
	Quorum []string          `json:"quorum"`
	Epoch  uint32            `json:"epoch"`
}

// interface guard
var _ jsp.Opts = (*MonMap)(nil)

func (*MonMap) JspOpts() jsp.Options {
	opts := jsp.CksumSign(monmapMetaver)
	opts.OldMetaverOk = monmapOldMetaver
	return opts
}

func NewMonMap(fsid string) *MonMap {
	return &MonMap{FSID: fsid, Addrs: make(map[string]string, 3), Epoch: 1}
}

func (mm *MonMap) Add(name, addr string) error {
	if name == "" || addr == "" {
		return cos.ErrInvalid
	}
	if _, ok := mm.Addrs[name]; ok {
		return cos.ErrExists
	}
	mm.Addrs[name] = addr
	mm.Quorum = append(mm.Quorum, name)
	mm.Epoch++
	return nil
}

func (mm *MonMap) Remove(name string) error {
	if _, ok := mm.Addrs[name]; !ok {
		return cos.ErrNotFound
	}
	delete(mm.Addrs, name)
	for i, n := range mm.Quorum {
		if n == name {
			mm.Quorum = append(mm.Quorum[:i], mm.Quorum[i+1:]...)
			break
		}
	}
	mm.Epoch++
	return nil
}

func (mm *MonMap) Size() int { return len(mm.Addrs) }

func (mm *MonMap) Contains(name string) bool {
	_, ok := mm.Addrs[name]
	return ok
}

func (mm *MonMap) Addr(name string) (string, error) {
	addr, ok := mm.Addrs[name]
	if !ok {
		return "", cos.ErrNotFound
	}
	return addr, nil
}

// Rank is the quorum position; -1 when not a member.
func (mm *MonMap) Rank(name string) int {
	for i, n := range mm.Quorum {
		if n == name {
			return i
		}
	}
	return -1
}

func (mm *MonMap) NameByRank(rank int) (string, error) {
	if rank < 0 || rank >= len(mm.Quorum) {
		return "", cos.ErrInvalid
	}
	return mm.Quorum[rank], nil
}

func (mm *MonMap) Names() []string {
	names := make([]string, 0, len(mm.Addrs))
	for name := range mm.Addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (mm *MonMap) Clone() *MonMap {
	cp := &MonMap{
		FSID:   mm.FSID,
		Addrs:  make(map[string]string, len(mm.Addrs)),
		Quorum: append([]string(nil), mm.Quorum...),
		Epoch:  mm.Epoch,
	}
	for k, v := range mm.Addrs {
		cp.Addrs[k] = v
	}
	return cp
}

func (mm *MonMap) String() string {
	return fmt.Sprintf("monmap[%s, v%d, %d mons]", mm.FSID, mm.Epoch, len(mm.Addrs))
}

// cache on disk, under the cluster data directory

func monmapPath(dir string) string { return filepath.Join(dir, fnameMonMap) }

func LoadMonMap(dir string) (*MonMap, error) {
	mm := &MonMap{}
	if err := jsp.LoadMeta(monmapPath(dir), mm); err != nil {
		return nil, err
	}
	return mm, nil
}

func (mm *MonMap) Save(dir string) error { return jsp.SaveMeta(monmapPath(dir), mm) }
