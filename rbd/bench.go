/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/tools/trand"

	"golang.org/x/sync/errgroup"
)

const (
	PatternSeq  = "seq"
	PatternRand = "rand"
)

// BenchOpts shapes a write benchmark; zero values take the usual
// defaults (4KiB ios, 16 threads, min(image, 1GiB) total,
// sequential).
type BenchOpts struct {
	Pattern   string
	IOSize    uint64
	IOTotal   uint64
	IOThreads int
}

type BenchResult struct {
	Elapsed time.Duration
	Ops     uint64
	Bytes   uint64
}

func (r *BenchResult) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func (r *BenchResult) BytesPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

// BenchWrite hammers the image with random-payload writes from
// IOThreads workers, offsets striding (seq) or uniform (rand) over
// the io-size-aligned slots.
func (im *Image) BenchWrite(opts BenchOpts, progress ProgressFn) (*BenchResult, error) {
	if im.readOnly {
		return nil, cos.ErrReadOnly
	}
	size := im.Size()
	if opts.IOSize == 0 {
		opts.IOSize = 4 * cos.KiB
	}
	if opts.IOThreads <= 0 {
		opts.IOThreads = 16
	}
	if opts.IOTotal == 0 {
		opts.IOTotal = min(size, cos.GiB)
	}
	switch opts.Pattern {
	case "":
		opts.Pattern = PatternSeq
	case PatternSeq, PatternRand:
	default:
		return nil, fmt.Errorf("io pattern %q: %w", opts.Pattern, cos.ErrInvalid)
	}
	if opts.IOSize > size {
		return nil, fmt.Errorf("io size %d exceeds image size %d: %w", opts.IOSize, size, cos.ErrInvalid)
	}
	var (
		units    = size / opts.IOSize
		totalOps = max(opts.IOTotal/opts.IOSize, 1)
		next     atomic.Uint64
		written  atomic.Uint64
		start    = time.Now()
		group    = &errgroup.Group{}
	)
	for range opts.IOThreads {
		group.Go(func() error {
			buf := []byte(trand.String(int(opts.IOSize)))
			for {
				i := next.Add(1) - 1
				if i >= totalOps {
					return nil
				}
				var ofs uint64
				if opts.Pattern == PatternSeq {
					ofs = i % units * opts.IOSize
				} else {
					ofs = rand.Uint64N(units) * opts.IOSize
				}
				if _, err := im.WriteAt(buf, ofs); err != nil {
					return err
				}
				if done := written.Add(opts.IOSize); progress != nil {
					progress(done, totalOps*opts.IOSize)
				}
			}
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &BenchResult{
		Elapsed: time.Since(start),
		Ops:     totalOps,
		Bytes:   totalOps * opts.IOSize,
	}, nil
}
