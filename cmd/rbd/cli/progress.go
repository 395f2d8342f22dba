// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file renders progress bars for long-running transfers.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"os"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/term"
)

const barWidth = 64

// xferBar adapts a byte-counting progress callback to one mpb bar.
// A nil *xferBar is valid and does nothing: progress stays off when
// stderr is not a terminal or '--no-progress' is set.
type xferBar struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	prev     atomic.Int64
	total    int64
}

func newXferBar(c *cli.Context, text string, total uint64) *xferBar {
	if flagIsSet(c, noProgressFlag) || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	// the bar writes to stderr: stdout may carry exported data
	progress := mpb.New(mpb.WithWidth(barWidth), mpb.WithOutput(os.Stderr))
	options := []mpb.BarOption{
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: len(text) + 1, C: decor.DidentRight}),
			decor.CountersKibiByte("% .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
	}
	return &xferBar{
		progress: progress,
		bar:      progress.AddBar(int64(total), options...),
		total:    int64(total),
	}
}

// fn returns the callback to hand to the library; callbacks may
// arrive concurrently and out of order.
func (xb *xferBar) fn() rbd.ProgressFn {
	if xb == nil {
		return nil
	}
	return func(done, _ uint64) {
		for {
			prev := xb.prev.Load()
			if int64(done) <= prev {
				return
			}
			if xb.prev.CAS(prev, int64(done)) {
				xb.bar.IncrInt64(int64(done) - prev)
				return
			}
		}
	}
}

// finish completes (or aborts) the bar and waits for the render loop.
func (xb *xferBar) finish(err error) {
	if xb == nil {
		return
	}
	if err != nil {
		xb.bar.Abort(true)
	} else if cur := xb.prev.Load(); cur < xb.total {
		xb.bar.IncrInt64(xb.total - cur) // to 100%
	}
	xb.progress.Wait()
}
