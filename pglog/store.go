// Package pglog implements the placement-group mutation log and its
// reconciliation machinery: authoritative merges, divergent-entry
// resolution, and replica-log processing.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/kvdb"
)

const infoKey = "info"

// NewInfo starts a PG that holds the full keyspace.
func NewInfo() *Info { return &Info{LastBackfill: MaxSoid} }

type (
	// DivergentPrior records an object whose divergent chain got
	// rewound past the log tail; recovery resolves it later.
	DivergentPrior struct {
		Soid    Soid     `json:"soid"`
		Version Eversion `json:"version"`
	}

	// Stats is the peer-reported accounting blob carried on Info. The
	// reported pair is a freshness watermark and must never regress.
	Stats struct {
		ReportedEpoch uint32   `json:"reported_epoch"`
		ReportedSeq   uint64   `json:"reported_seq"`
		Version       Eversion `json:"version"`
		ObjectCount   int64    `json:"num_objects"`
		ByteCount     int64    `json:"num_bytes"`
	}

	// Info is the per-PG summary record.
	Info struct {
		LastUpdate      Eversion         `json:"last_update"`
		LastComplete    Eversion         `json:"last_complete"`
		LogTail         Eversion         `json:"log_tail"`
		LastBackfill    Soid             `json:"last_backfill"`
		LastUserVersion uint64           `json:"last_user_version,omitempty"`
		Stats           Stats            `json:"stats"`
		PurgedSnaps     []uint64         `json:"purged_snaps,omitempty"`
		DivergentPriors []DivergentPrior `json:"divergent_priors,omitempty"`
	}

	// Store persists PG logs in kvdb: one collection per PG, one record
	// per entry keyed so that lexical order is log order, plus the info
	// record. Concurrent use across PGs is fine; per-PG callers
	// serialize (the data path appends under the shard lock).
	Store struct {
		db kvdb.Driver
	}
)

func NewStore(db kvdb.Driver) *Store { return &Store{db: db} }

func (*Store) col(pg string) string { return "pg/" + pg }

// zero-padded "epoch.version": kvdb list order == log order
func entryKey(ev Eversion) string { return fmt.Sprintf("%010d.%020d", ev.Epoch, ev.Version) }

// Append streams freshly committed entries; the info head advances
// with them.
func (s *Store) Append(pg string, batch []*Entry) error {
	if len(batch) == 0 {
		return nil
	}
	col := s.col(pg)
	for _, e := range batch {
		if err := s.db.Set(col, entryKey(e.Version), e); err != nil {
			return err
		}
	}
	info := *NewInfo()
	if err := s.db.Get(col, infoKey, &info); err != nil && !kvdb.IsErrNotFound(err) {
		return err
	}
	if head := batch[len(batch)-1].Version; info.LastUpdate.Less(head) {
		info.LastUpdate = head
		info.LastComplete = head // the data path never appends with holes behind
	}
	return s.db.Set(col, infoKey, &info)
}

// WriteLog flushes a reconciled log: stored keys outside (tail, head]
// are dropped, entries inside the two dirty spans are rewritten, the
// info record lands last. Clean spans are (MaxEversion, zero).
func (s *Store) WriteLog(pg string, entries []*Entry, info *Info, dirtyFrom, dirtyTo Eversion) error {
	col := s.col(pg)
	tailKey, headKey := entryKey(info.LogTail), entryKey(info.LastUpdate)
	paths, err := s.db.List(col, "")
	if err != nil && !kvdb.IsErrNotFound(err) {
		return err
	}
	for _, path := range paths {
		_, k := kvdb.ParsePath(path)
		if k == "" || k == infoKey {
			continue
		}
		if k <= tailKey || k > headKey {
			if err := s.db.Delete(col, k); err != nil && !kvdb.IsErrNotFound(err) {
				return err
			}
		}
	}
	for _, e := range entries {
		if e.Version.LessEqual(dirtyTo) || !e.Version.Less(dirtyFrom) {
			if err := s.db.Set(col, entryKey(e.Version), e); err != nil {
				return err
			}
		}
	}
	return s.db.Set(col, infoKey, info)
}

// ReadEntries returns the stored log in log order.
func (s *Store) ReadEntries(pg string) ([]*Entry, error) {
	vals, err := s.db.GetAll(s.col(pg), "")
	if err != nil {
		if kvdb.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		if k != infoKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		e := &Entry{}
		if err := cos.JSON.Unmarshal([]byte(vals[k]), e); err != nil {
			return nil, fmt.Errorf("pg %s: entry %s: %w", pg, k, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) ReadInfo(pg string) (*Info, error) {
	var info Info
	err := s.db.Get(s.col(pg), infoKey, &info)
	if err != nil {
		if kvdb.IsErrNotFound(err) {
			return nil, cos.ErrNotFound
		}
		return nil, err
	}
	return &info, nil
}

func (s *Store) WriteInfo(pg string, info *Info) error {
	return s.db.Set(s.col(pg), infoKey, info)
}

// Trim drops stored entries at or before the given eversion and raises
// the stored tail.
func (s *Store) Trim(pg string, upto Eversion) error {
	col := s.col(pg)
	uptoKey := entryKey(upto)
	paths, err := s.db.List(col, "")
	if err != nil {
		if kvdb.IsErrNotFound(err) {
			return nil
		}
		return err
	}
	for _, path := range paths {
		_, k := kvdb.ParsePath(path)
		if k == "" || k == infoKey || k > uptoKey {
			continue
		}
		if err := s.db.Delete(col, k); err != nil && !kvdb.IsErrNotFound(err) {
			return err
		}
	}
	var info Info
	if err := s.db.Get(col, infoKey, &info); err != nil {
		if kvdb.IsErrNotFound(err) {
			return nil
		}
		return err
	}
	if info.LogTail.Less(upto) {
		info.LogTail = upto
		return s.db.Set(col, infoKey, &info)
	}
	return nil
}

// Drop removes the PG's collection entirely.
func (s *Store) Drop(pg string) error { return s.db.DeleteCollection(s.col(pg)) }
