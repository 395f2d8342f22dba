/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
	"github.com/NVIDIA/radstore/cmn/nlog"
)

// Rollbacker applies the storage side effects of divergent-entry
// resolution. Remove expects the object present; TryRemove tolerates
// absence (chain-created objects may never have hit disk); RollForward
// retires an entry's rollback info once it can no longer diverge.
type Rollbacker interface {
	Rollback(e *Entry)
	RollForward(e *Entry)
	Remove(soid Soid)
	TryRemove(soid Soid)
}

type nopRollbacker struct{}

func (nopRollbacker) Rollback(*Entry)    {}
func (nopRollbacker) RollForward(*Entry) {}
func (nopRollbacker) Remove(Soid)        {}
func (nopRollbacker) TryRemove(Soid)     {}

// PGLog couples one PG's indexed log with its missing set and tracks
// what must be rewritten durably (dirty spans for entries, info flags
// for the summary record).
type PGLog struct {
	log     IndexedLog
	missing Missing

	// dirty span: entries outside [dirtyTo, dirtyFrom] are unchanged
	dirtyFrom    Eversion
	dirtyTo      Eversion
	dirtyInfo    bool
	dirtyBigInfo bool
}

func New() *PGLog { return &PGLog{dirtyFrom: MaxEversion} }

func (p *PGLog) Clear() {
	p.log.Clear()
	p.missing.Clear()
	p.resetDirty()
}

func (p *PGLog) Log() *IndexedLog  { return &p.log }
func (p *PGLog) Missing() *Missing { return &p.missing }

func (p *PGLog) markDirtyFrom(v Eversion) {
	if v.Less(p.dirtyFrom) {
		p.dirtyFrom = v
	}
}

func (p *PGLog) markDirtyTo(v Eversion) {
	if p.dirtyTo.Less(v) {
		p.dirtyTo = v
	}
}

func (p *PGLog) resetDirty() {
	p.dirtyFrom = MaxEversion
	p.dirtyTo = Eversion{}
	p.dirtyInfo, p.dirtyBigInfo = false, false
}

func (p *PGLog) isDirty() bool {
	return p.dirtyInfo || p.dirtyBigInfo || p.dirtyFrom != MaxEversion || !p.dirtyTo.IsZero()
}

// Append logs a freshly committed mutation and winds missing forward on
// behalf of replicas that will learn it later (on the primary the entry
// is never missing).
func (p *PGLog) Append(e *Entry, info *Info) {
	p.log.Add(e)
	info.LastUpdate = e.Version
	p.markDirtyFrom(e.Version)
	p.dirtyInfo = true
}

// Trim drops entries at or before to. Trimming past last_complete would
// discard history still needed to recover this very replica.
func (p *PGLog) Trim(to Eversion, info *Info) error {
	if to.LessEqual(p.log.Tail) {
		return nil
	}
	if info.LastComplete.Less(to) {
		return fmt.Errorf("pglog: trim %s past last_complete %s: %w",
			to, info.LastComplete, cos.ErrInvalid)
	}
	n := p.log.trimTo(to)
	info.LogTail = p.log.Tail
	if len(info.DivergentPriors) > 0 {
		kept := info.DivergentPriors[:0]
		for _, dp := range info.DivergentPriors {
			if to.Less(dp.Version) {
				kept = append(kept, dp)
			}
		}
		if len(kept) != len(info.DivergentPriors) {
			info.DivergentPriors = kept
			p.dirtyBigInfo = true
		}
	}
	if n > 0 {
		p.dirtyInfo = true
	}
	return nil
}

// RollForwardTo retires rollback info up to and including to: those
// entries are now permanent on every peer that could ask.
func (p *PGLog) RollForwardTo(to Eversion, rb Rollbacker) {
	if to.LessEqual(p.log.CanRollbackTo) {
		return
	}
	debug.Assert(to.LessEqual(p.log.Head) || p.log.Empty())
	if rb == nil {
		rb = nopRollbacker{}
	}
	for _, e := range p.log.Entries {
		if p.log.CanRollbackTo.Less(e.Version) && e.Version.LessEqual(to) && e.CanRollback() {
			rb.RollForward(e)
		}
	}
	p.log.CanRollbackTo = to
}

// MergeLog reconciles the local log against an authoritative peer log:
// extends the tail backward for history, appends newer authoritative
// entries, and rewinds local entries the peer never saw.
func (p *PGLog) MergeLog(oinfo *Info, olog *Log, from string, info *Info, rb Rollbacker) error {
	if rb == nil {
		rb = nopRollbacker{}
	}
	log := &p.log
	nlog.Infof("merge_log %s from %s into log (%s,%s]", olog.Head, from, log.Tail, log.Head)

	// the logs must overlap
	if log.Head.Less(olog.Tail) || olog.Head.Less(log.Tail) {
		return fmt.Errorf("pglog: logs do not overlap: olog (%s,%s] vs (%s,%s]: %w",
			olog.Tail, olog.Head, log.Tail, log.Head, cos.ErrInvalid)
	}

	changed := false

	// extend on tail: pure history, the missing set is not involved
	if olog.Tail.Less(log.Tail) {
		spliced := make([]*Entry, 0, len(olog.Entries))
		for _, e := range olog.Entries {
			if log.Tail.Less(e.Version) {
				break
			}
			spliced = append(spliced, e)
		}
		p.markDirtyTo(log.Tail)
		log.Entries = append(spliced, log.Entries...)
		log.Tail = olog.Tail
		info.LogTail = log.Tail
		log.Index()
		changed = true
	}

	// the reported watermark never regresses, and a fully backfilled
	// replica adopts the authoritative stats wholesale
	if oinfo.Stats.ReportedSeq < info.Stats.ReportedSeq ||
		oinfo.Stats.ReportedEpoch < info.Stats.ReportedEpoch {
		oinfo.Stats.ReportedSeq = info.Stats.ReportedSeq
		oinfo.Stats.ReportedEpoch = info.Stats.ReportedEpoch
	}
	if info.LastBackfill.IsMax() {
		info.Stats = oinfo.Stats
	}

	// divergent local entries to throw out?
	if olog.Head.Less(log.Head) {
		if err := p.RewindDivergentLog(olog.Head, info, rb); err != nil {
			return err
		}
		changed = true
	}

	// extend on head?
	if log.Head.Less(olog.Head) {
		// find the cut point: the newest authoritative entry we share
		lowerBound := olog.Tail
		first := 0
		for i := len(olog.Entries) - 1; i >= 0; i-- {
			if olog.Entries[i].Version.LessEqual(log.Head) {
				lowerBound = olog.Entries[i].Version
				first = i + 1
				break
			}
		}
		p.markDirtyFrom(lowerBound)

		// move aside local divergent items; compare version counters so
		// a replayed request that committed under a newer epoch still
		// counts as divergent here
		var divergent []*Entry
		for !log.Empty() && log.Newest().Version.Version > lowerBound.Version {
			divergent = append([]*Entry{log.popNewest()}, divergent...)
		}

		appended := olog.Entries[first:]
		log.Entries = append(log.Entries, appended...)
		log.Head = olog.Head
		log.Index()

		info.LastUpdate = olog.Head
		info.LastUserVersion = oinfo.LastUserVersion
		info.PurgedSnaps = append([]uint64(nil), oinfo.PurgedSnaps...)

		for _, ne := range appended {
			if info.LastBackfill.Less(ne.Soid) {
				continue
			}
			p.missing.AddNextEvent(ne)
			if ne.IsDelete() {
				rb.Remove(ne.Soid)
			}
		}

		if len(divergent) > 0 {
			var priors []DivergentPrior
			mergeDivergentEntries(log, divergent, info, log.CanRollbackTo, &p.missing, &priors, rb)
			p.addDivergentPriors(info, priors)
		}
		changed = true
	}

	if changed {
		p.dirtyInfo = true
		p.dirtyBigInfo = true
	}
	return nil
}

// RewindDivergentLog truncates everything after newhead and resolves
// the cut-off entries divergent.
func (p *PGLog) RewindDivergentLog(newhead Eversion, info *Info, rb Rollbacker) error {
	log := &p.log
	if newhead.Less(log.Tail) {
		return fmt.Errorf("pglog: rewind %s past tail %s: %w", newhead, log.Tail, cos.ErrInvalid)
	}
	if rb == nil {
		rb = nopRollbacker{}
	}
	nlog.Infof("rewind_divergent_log truncate divergent future %s", newhead)

	var divergent []*Entry
	for !log.Empty() && newhead.Less(log.Newest().Version) {
		e := log.popNewest()
		p.markDirtyFrom(e.Version)
		divergent = append([]*Entry{e}, divergent...)
	}

	log.Head = newhead
	info.LastUpdate = newhead
	if newhead.Less(info.LastComplete) {
		info.LastComplete = newhead
	}
	log.Index()

	var priors []DivergentPrior
	mergeDivergentEntries(log, divergent, info, log.CanRollbackTo, &p.missing, &priors, rb)
	p.addDivergentPriors(info, priors)

	if info.LastUpdate.Less(log.CanRollbackTo) {
		log.CanRollbackTo = info.LastUpdate
	}
	p.dirtyInfo = true
	p.dirtyBigInfo = true
	return nil
}

// ProcReplicaLog rewinds a replica's log view to the newest event both
// sides share, fixing the replica's missing set for every entry it
// logged that authoritative history does not contain. The local log is
// read-only; activate later winds the replica forward again.
func (p *PGLog) ProcReplicaLog(oinfo *Info, olog *Log, omissing *Missing, from string) {
	log := &p.log
	if olog.Head.Less(log.Tail) {
		nlog.Infof("proc_replica_log %s: no overlap with tail %s, ignoring", from, log.Tail)
		return
	}
	if olog.Head == log.Head {
		nlog.Infof("proc_replica_log %s: same head %s", from, log.Head)
		if !omissing.HaveMissing() {
			oinfo.LastComplete = oinfo.LastUpdate
		}
		return
	}

	// walk the replica's log newest-first, resolving divergent entries
	// until an event we also logged
	lu := oinfo.LastUpdate
	stopped := false
	for i := len(olog.Entries) - 1; i >= 0; i-- {
		oe := olog.Entries[i]
		if oe.Version.LessEqual(log.Tail) {
			lu = oe.Version
			stopped = true
			break
		}
		if ne := log.EntryFor(oe.Soid); ne != nil &&
			(ne.Version == oe.Version || ne.PriorVersion == oe.Version) {
			// shared event: everything below it is common history
			lu = oe.Version
			stopped = true
			break
		}
		divergentReplicaEntry(oe, oinfo, olog.CanRollbackTo, omissing)
	}
	if !stopped && len(olog.Entries) > 0 {
		lu = olog.Tail
	}

	if lu.Less(oinfo.LastUpdate) {
		nlog.Infof("proc_replica_log %s: last_update now %s", from, lu)
		oinfo.LastUpdate = lu
	}

	if first, ok := omissing.FirstNeed(); ok {
		oinfo.LastComplete = Eversion{}
		for _, e := range olog.Entries {
			if !e.Version.Less(first) {
				break
			}
			oinfo.LastComplete = e.Version
		}
	} else {
		oinfo.LastComplete = oinfo.LastUpdate
	}
}

// divergentReplicaEntry drops one replica-logged event that
// authoritative history never saw, re-aiming the replica's missing set
// at the event's prior.
func divergentReplicaEntry(oe *Entry, oinfo *Info, canRollbackTo Eversion, omissing *Missing) {
	if oinfo.LastBackfill.Less(oe.Soid) {
		return
	}
	prior := oe.PriorVersion
	if it, ok := omissing.Get(oe.Soid); ok {
		if it.Have == prior {
			// the replica's copy is exactly the rewind target
			omissing.Forget(oe.Soid)
		} else {
			omissing.ReviseNeed(oe.Soid, prior)
		}
		return
	}
	if oe.CanRollback() && canRollbackTo.Less(oe.Version) {
		// the replica undoes this one in place
		return
	}
	if oe.ObjectIsNew() {
		// divergently created, nothing to recover
		return
	}
	if oe.IsDelete() {
		omissing.Add(oe.Soid, prior, Eversion{})
		return
	}
	omissing.ReviseNeed(oe.Soid, prior)
}

func (p *PGLog) addDivergentPriors(info *Info, priors []DivergentPrior) {
	if len(priors) == 0 {
		return
	}
	info.DivergentPriors = append(info.DivergentPriors, priors...)
	p.dirtyBigInfo = true
}

// mergeDivergentEntries groups a flat divergent list per object and
// resolves each group, objects in stable order.
func mergeDivergentEntries(
	log *IndexedLog, divergent []*Entry, info *Info, canRollbackTo Eversion,
	missing *Missing, priors *[]DivergentPrior, rb Rollbacker,
) {
	groups := make(map[Soid][]*Entry)
	order := make([]Soid, 0, 4)
	for _, e := range divergent {
		if _, ok := groups[e.Soid]; !ok {
			order = append(order, e.Soid)
		}
		groups[e.Soid] = append(groups[e.Soid], e)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Less(order[j]) })
	for _, soid := range order {
		mergeObjectDivergentEntries(log, soid, groups[soid], info, canRollbackTo, missing, priors, rb)
	}
}

// mergeObjectDivergentEntries resolves one object's divergent chain
// against the already-rewound log. Cases, in order:
//  1. a newer non-divergent entry exists: that entry's state stands
//  2. the chain created the object: nothing to keep
//  3. object already missing: re-aim at the chain's prior
//  4. whole chain rollbackable: undo it newest-first
//  5. recover the object at the chain's prior
func mergeObjectDivergentEntries(
	log *IndexedLog, soid Soid, entries []*Entry, info *Info, canRollbackTo Eversion,
	missing *Missing, priors *[]DivergentPrior, rb Rollbacker,
) {
	if info.LastBackfill.Less(soid) {
		return
	}
	debug.Assert(len(entries) > 0)
	if cos.FastV(5, cos.SmodulePGLog) {
		nlog.Infof("merging divergent %s: %d entries", soid.String(), len(entries))
	}
	var last Eversion
	for i, e := range entries {
		debug.Assert(e.Soid == soid)
		if i > 0 && !e.PriorVersion.IsZero() {
			debug.Assert(last.Less(e.Version))
			debug.Assert(e.PriorVersion == last)
		}
		last = e.Version
	}
	var (
		first   = entries[0]
		newest  = entries[len(entries)-1]
		prior   = first.PriorVersion
		lastDiv = newest.Version

		// replica's disk can't hold the object: its newest action was
		// the delete, and nothing is pending recovery
		objectNotInStore = !missing.IsMissing(soid) && newest.IsDelete()
	)

	// 1) a newer non-divergent entry: the merge has already wound
	// missing over it, drop the stale local copy; a newer delete means
	// there is nothing left to drop
	if ne := log.EntryFor(soid); ne != nil && lastDiv.Less(ne.Version) {
		debug.Assert(ne.IsDelete() || missing.IsMissingVer(soid, ne.Version))
		missing.ReviseHave(soid, Eversion{})
		if !ne.IsDelete() {
			rb.Remove(soid)
		}
		return
	}

	// 2) the divergent chain created the object
	if prior.IsZero() || first.IsClone() {
		missing.Forget(soid)
		if !objectNotInStore {
			rb.TryRemove(soid)
		}
		return
	}

	// 3) already missing: the rewind target is the chain's prior
	if it, ok := missing.Get(soid); ok {
		if it.Have == prior {
			// the local copy is exactly the rewind target
			missing.Forget(soid)
		} else {
			missing.ReviseNeed(soid, prior)
			if prior.LessEqual(info.LogTail) && priors != nil {
				*priors = append(*priors, DivergentPrior{Soid: soid, Version: prior})
			}
		}
		return
	}

	// 4) the whole chain can be rolled back in place
	canRollback := true
	for _, e := range entries {
		if !e.CanRollback() || !canRollbackTo.Less(e.Version) {
			canRollback = false
			break
		}
	}
	if canRollback {
		for i := len(entries) - 1; i >= 0; i-- {
			rb.Rollback(entries[i])
		}
		return
	}

	// 5) recover at the prior; the local copy, if any, is wrong
	if !objectNotInStore {
		rb.Remove(soid)
	}
	missing.Add(soid, prior, Eversion{})
	if prior.LessEqual(info.LogTail) && priors != nil {
		*priors = append(*priors, DivergentPrior{Soid: soid, Version: prior})
	}
}

// WriteOut flushes the dirty spans and the info record; a clean log is
// a no-op.
func (p *PGLog) WriteOut(s *Store, pg string, info *Info) error {
	if !p.isDirty() {
		return nil
	}
	if err := s.WriteLog(pg, p.log.Entries, info, p.dirtyFrom, p.dirtyTo); err != nil {
		return err
	}
	p.resetDirty()
	return nil
}

// Load replaces the in-memory state with the stored log. Rollback info
// does not survive a restart, so nothing is rollbackable afterwards.
func (p *PGLog) Load(s *Store, pg string) (*Info, error) {
	info, err := s.ReadInfo(pg)
	if err != nil {
		if !cos.IsErrNotFound(err) {
			return nil, err
		}
		info = NewInfo()
	}
	entries, err := s.ReadEntries(pg)
	if err != nil {
		return nil, err
	}
	p.log.Clear()
	p.log.Entries = entries
	p.log.Head = info.LastUpdate
	p.log.Tail = info.LogTail
	p.log.CanRollbackTo = info.LastUpdate
	p.log.RollbackInfoTrimmedTo = info.LastUpdate
	p.log.Index()
	p.missing.Clear()
	p.resetDirty()
	return info, nil
}
