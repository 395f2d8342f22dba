/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mds

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// Resetter abandons a damaged journal's contents: the window is moved
// wholesale past the last flushed byte, onto a fresh layout-period
// boundary, and an EResetJournal entry is appended there so a later
// replay sees the gap as deliberate. The old bytes are left in place
// (trimming is the journaler's business, not ours).
type Resetter struct {
	Out io.Writer
}

func (r *Resetter) say(format string, a ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format+"\n", a...)
	}
}

// Reset recovers the journal, then rewrites its head with all four
// positions at the new start.
func (r *Resetter) Reset(ctx context.Context, c *rados.Cluster, rank int, pool string) error {
	j, err := Recover(ctx, c, rank, pool)
	if err != nil {
		return err
	}
	var (
		oldStart = j.Header.ReadPos
		oldEnd   = j.End
		period   = j.Header.Layout.Period()
		newStart = uint64(cos.RoundUp(int64(oldEnd+1), int64(period)))
	)
	r.say("old journal was %d~%d", oldStart, oldEnd-oldStart)
	r.say("new journal start will be %d (%d bytes past old end)", newStart, newStart-oldEnd)

	hdr := *j.Header
	hdr.TrimmedPos = newStart
	hdr.ExpirePos = newStart
	hdr.ReadPos = newStart
	hdr.WritePos = newStart

	r.say("writing journal head")
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return err
	}
	if err := writeHeader(ix, j.Ino, &hdr); err != nil {
		return err
	}
	ev := &Event{Type: EResetJournal, Stamp: time.Now().UnixNano()}
	var (
		objSize = uint64(hdr.Layout.ObjectSize)
		oid     = logOid(j.Ino, newStart/objSize)
		ofs     = int64(newStart % objSize)
	)
	if err := ix.Write(oid, ofs, cos.PackBytes(ev)); err != nil {
		return err
	}
	r.say("done")
	return nil
}

// ResetJournal resets rank's journal in pool, reporting to stdout.
func ResetJournal(ctx context.Context, c *rados.Cluster, rank int, pool string) error {
	return (&Resetter{Out: os.Stdout}).Reset(ctx, c, rank, pool)
}
