// Package pglog implements the placement-group mutation log and its
// reconciliation machinery: authoritative merges, divergent-entry
// resolution, and replica-log processing.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pglog

import (
	"fmt"
	"math"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
)

// Eversion orders mutations cluster-wide: epoch first, then version.
type Eversion struct {
	Epoch   uint32 `json:"epoch"`
	Version uint64 `json:"v"`
}

func (e Eversion) IsZero() bool { return e.Epoch == 0 && e.Version == 0 }

func (e Eversion) Equal(o Eversion) bool { return e == o }

func (e Eversion) Less(o Eversion) bool {
	if e.Epoch != o.Epoch {
		return e.Epoch < o.Epoch
	}
	return e.Version < o.Version
}

func (e Eversion) LessEqual(o Eversion) bool { return e == o || e.Less(o) }

func (e Eversion) String() string { return fmt.Sprintf("%d'%d", e.Epoch, e.Version) }

// MaxEversion sorts after every real eversion ("nothing dirty" marker
// for the dirty-from span).
var MaxEversion = Eversion{Epoch: math.MaxUint32, Version: math.MaxUint64}

// Soid names an object at a snapshot; Snap == cos.NoSnap refers to the head.
type Soid struct {
	Oid  string `json:"oid"`
	Snap uint64 `json:"snap"`
}

func (s Soid) IsHead() bool { return s.Snap == cos.NoSnap }

func (s Soid) Less(o Soid) bool {
	if s.Oid != o.Oid {
		return s.Oid < o.Oid
	}
	return s.Snap < o.Snap
}

func (s Soid) String() string {
	if s.IsHead() {
		return s.Oid + ":head"
	}
	return fmt.Sprintf("%s:%x", s.Oid, s.Snap)
}

// MaxSoid sorts after every real object; a backfill boundary at MaxSoid
// means the replica holds the full keyspace.
var MaxSoid = Soid{Oid: "\xff\xff@max", Snap: math.MaxUint64}

func (s Soid) IsMax() bool { return s == MaxSoid }

type Op uint8

// numeric values are stable: the durable store encodes them
const (
	OpModify     Op = 1
	OpClone      Op = 2
	OpDelete     Op = 3
	OpLostRevert Op = 5
	OpError      Op = 10
)

func (op Op) String() string {
	switch op {
	case OpModify:
		return "modify"
	case OpClone:
		return "clone"
	case OpDelete:
		return "delete"
	case OpLostRevert:
		return "l_revert"
	case OpError:
		return "error"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Entry is a single logged mutation.
type Entry struct {
	Mtime        time.Time `json:"mtime"`
	Soid         Soid      `json:"soid"`
	ReqID        string    `json:"reqid"`
	Version      Eversion  `json:"version"`
	PriorVersion Eversion  `json:"prior_version"`
	RevertingTo  Eversion  `json:"reverting_to"` // OpLostRevert only
	ReturnCode   int       `json:"return_code,omitempty"`
	Op           Op        `json:"op"`
	Rollbackable bool      `json:"rollbackable,omitempty"`
}

// IsUpdate: the entry leaves the object present.
func (e *Entry) IsUpdate() bool {
	return e.Op == OpModify || e.Op == OpClone || e.Op == OpLostRevert
}

func (e *Entry) IsDelete() bool { return e.Op == OpDelete }
func (e *Entry) IsClone() bool  { return e.Op == OpClone }
func (e *Entry) IsError() bool  { return e.Op == OpError }

// ObjectIsNew: the chain starting at this entry created the object.
func (e *Entry) ObjectIsNew() bool { return e.PriorVersion.IsZero() || e.IsClone() }

func (e *Entry) CanRollback() bool { return e.Rollbackable }

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s %s (prior %s) by %s", e.Version, e.Op, e.Soid, e.PriorVersion, e.ReqID)
}
