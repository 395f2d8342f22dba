// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains handlers for export/import, diffs, and the write benchmark.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/urfave/cli"
)

var (
	exportCmd = cli.Command{
		Name:      commandExport,
		Usage:     "export an image (or a snapshot of it) to a file, '-' for stdout",
		ArgsUsage: exportArguments,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, noProgressFlag},
		Action:    exportHandler,
	}
	importCmd = cli.Command{
		Name:      commandImport,
		Usage:     "create an image from a file, '-' for stdin",
		ArgsUsage: importArguments,
		Flags: []cli.Flag{poolFlag, sizeFlag, orderFlag, imageFormatFlag, imageSharedFlag,
			featuresFlag, stripeUnitFlag, stripeCountFlag, noProgressFlag},
		Action: importHandler,
	}
	exportDiffCmd = cli.Command{
		Name:      commandExportDiff,
		Usage:     "export the changes since a snapshot as a diff stream",
		ArgsUsage: exportArguments,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, fromSnapFlag, noProgressFlag},
		Action:    exportDiffHandler,
	}
	importDiffCmd = cli.Command{
		Name:      commandImportDiff,
		Usage:     "apply a diff stream to an image",
		ArgsUsage: importDiffArgs,
		Flags:     []cli.Flag{poolFlag, imageFlag},
		Action:    importDiffHandler,
	}
	mergeDiffCmd = cli.Command{
		Name:      commandMergeDiff,
		Usage:     "merge two consecutive diff streams into one",
		ArgsUsage: mergeDiffArguments,
		Action:    mergeDiffHandler,
	}
	diffCmd = cli.Command{
		Name:      commandDiff,
		Usage:     "list the extents that changed since a snapshot",
		ArgsUsage: imageOrSnapArg,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, fromSnapFlag, outFmtFlag, prettyFlag},
		Action:    diffHandler,
	}
	benchCmd = cli.Command{
		Name:      commandBench,
		Usage:     "benchmark writes to an image",
		ArgsUsage: imageArgument,
		Flags: []cli.Flag{poolFlag, imageFlag, ioSizeFlag, ioThreadsFlag, ioTotalFlag,
			ioPatternFlag, noProgressFlag},
		Action: benchHandler,
	}
)

// parseByteSize is parseSizeFlag without the MiB scaling: plain
// numbers are bytes (io sizes, stripe units).
func parseByteSize(c *cli.Context, flag cli.StringFlag) (uint64, error) {
	val := parseStrFlag(c, flag)
	size, err := cos.ParseSize(val, "")
	if err != nil || size < 0 {
		return 0, incorrectUsageMsg(c, "invalid %s value %q", qflprn(flag), val)
	}
	return uint64(size), nil
}

func openDst(path string) (io.Writer, func() error, error) {
	if path == stdIO {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func openSrc(path string) (io.Reader, func() error, error) {
	if path == stdIO {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return missingArgumentsError(c, "DST-PATH")
	}
	w, closeW, err := openDst(c.Args().Get(1))
	if err != nil {
		return err
	}
	err = withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		bar := newXferBar(c, "Exporting image:", img.Size())
		err = img.Export(w, bar.fn())
		bar.finish(err)
		return err
	})
	if cerr := closeW(); err == nil {
		err = cerr
	}
	if err == nil && c.Args().Get(1) != stdIO {
		actionDone(c, "Exporting image: 100% complete...done.")
	}
	return err
}

func importHandler(c *cli.Context) error {
	if c.NArg() < 1 {
		return missingArgumentsError(c, importArguments)
	}
	src := c.Args().Get(0)
	dstArg := c.Args().Get(1)
	if dstArg == "" {
		if src == stdIO {
			return missingArgumentsError(c, imageArgument)
		}
		dstArg = filepath.Base(src) // name the image after the file
	}
	dst, err := parseDestSpec(c, dstArg, cfg.RBD.DefaultPool)
	if err != nil {
		return err
	}
	opts, err := createOpts(c)
	if err != nil {
		return err
	}
	r, closeR, err := openSrc(src)
	if err != nil {
		return err
	}
	defer closeR()

	var size uint64
	switch {
	case flagIsSet(c, sizeFlag):
		if size, err = parseSizeFlag(c, sizeFlag); err != nil {
			return err
		}
	case src != stdIO:
		fi, err := os.Stat(src)
		if err != nil {
			return err
		}
		size = uint64(fi.Size())
	default:
		// stdin with no --size: buffer the stream to learn its length
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		size = uint64(len(data))
		r = bytes.NewReader(data)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		bar := newXferBar(c, "Importing image:", size)
		err := rbd.Import(cl, dst.Pool, dst.Image, r, size, opts, bar.fn())
		bar.finish(err)
		if err != nil {
			return err
		}
		actionDone(c, "Importing image: 100% complete...done.")
		return nil
	})
}

func exportDiffHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return missingArgumentsError(c, "DST-PATH")
	}
	w, closeW, err := openDst(c.Args().Get(1))
	if err != nil {
		return err
	}
	fromSnap := parseStrFlag(c, fromSnapFlag)
	err = withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		bar := newXferBar(c, "Exporting diff:", img.Size())
		err = img.ExportDiff(w, fromSnap, bar.fn())
		bar.finish(err)
		return err
	})
	if cerr := closeW(); err == nil {
		err = cerr
	}
	if err == nil && c.Args().Get(1) != stdIO {
		actionDone(c, "Exporting image diff: 100% complete...done.")
	}
	return err
}

func importDiffHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return missingArgumentsError(c, importDiffArgs)
	}
	r, closeR, err := openSrc(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer closeR()
	spec, err := parseImageSpec(c, c.Args().Get(1))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.Open(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		if err := img.ImportDiff(r); err != nil {
			return err
		}
		actionDone(c, "Importing image diff: 100% complete...done.")
		return nil
	})
}

func mergeDiffHandler(c *cli.Context) error {
	if c.NArg() < 3 {
		return missingArgumentsError(c, mergeDiffArguments)
	}
	firstPath, secondPath := c.Args().Get(0), c.Args().Get(1)
	if firstPath == stdIO && secondPath == stdIO {
		return incorrectUsageMsg(c, "at most one input diff can come from stdin")
	}
	first, closeFirst, err := openSrc(firstPath)
	if err != nil {
		return err
	}
	defer closeFirst()
	second, closeSecond, err := openSrc(secondPath)
	if err != nil {
		return err
	}
	defer closeSecond()
	w, closeW, err := openDst(c.Args().Get(2))
	if err != nil {
		return err
	}
	err = rbd.MergeDiff(first, second, w)
	if cerr := closeW(); err == nil {
		err = cerr
	}
	return err
}

func diffHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	fromSnap := parseStrFlag(c, fromSnapFlag)
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		var rows []teb.DiffRow
		err = img.DiffIterate(fromSnap, func(ofs, length uint64, exists bool) error {
			typ := "zero"
			if exists {
				typ = "data"
			}
			rows = append(rows, teb.DiffRow{Offset: ofs, Length: length, Type: typ})
			return nil
		})
		if err != nil {
			return err
		}
		return printTable(c, rows, teb.DiffTmpl)
	})
}

func benchHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	opts := rbd.BenchOpts{Pattern: parseStrFlag(c, ioPatternFlag)}
	if flagIsSet(c, ioSizeFlag) {
		if opts.IOSize, err = parseByteSize(c, ioSizeFlag); err != nil {
			return err
		}
	}
	if flagIsSet(c, ioTotalFlag) {
		if opts.IOTotal, err = parseByteSize(c, ioTotalFlag); err != nil {
			return err
		}
	}
	if flagIsSet(c, ioThreadsFlag) {
		opts.IOThreads = parseIntFlag(c, ioThreadsFlag)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.Open(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		total := opts.IOTotal
		if total == 0 {
			total = min(img.Size(), uint64(cos.GiB))
		}
		bar := newXferBar(c, "bench-write:", total)
		res, err := img.BenchWrite(opts, bar.fn())
		bar.finish(err)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "elapsed: %v  ops: %d  ops/sec: %.2f  bytes/sec: %s/s\n",
			res.Elapsed.Truncate(time.Millisecond), res.Ops, res.OpsPerSec(),
			teb.FmtSize(uint64(res.BytesPerSec())))
		return nil
	})
}
