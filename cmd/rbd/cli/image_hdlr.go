// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains handlers for the image lifecycle commands.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"io"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	clslock "github.com/NVIDIA/radstore/cls/lock"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/urfave/cli"
)

var (
	listCmd = cli.Command{
		Name:      commandList,
		Usage:     "list images in a pool",
		ArgsUsage: poolArgument,
		Flags:     []cli.Flag{poolFlag, longFlag, outFmtFlag, prettyFlag},
		Action:    listHandler,
	}
	infoCmd = cli.Command{
		Name:      commandInfo,
		Usage:     "show image metadata",
		ArgsUsage: imageOrSnapArg,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, outFmtFlag, prettyFlag},
		Action:    infoHandler,
	}
	createCmd = cli.Command{
		Name:      commandCreate,
		Usage:     "create an empty image",
		ArgsUsage: imageArgument,
		Flags: []cli.Flag{poolFlag, imageFlag, sizeFlag, orderFlag, imageFormatFlag,
			imageSharedFlag, featuresFlag, stripeUnitFlag, stripeCountFlag},
		Action: createHandler,
	}
	cloneCmd = cli.Command{
		Name:      commandClone,
		Usage:     "clone a protected snapshot into a child image",
		ArgsUsage: cloneArguments,
		Flags:     []cli.Flag{orderFlag, featuresFlag, stripeUnitFlag, stripeCountFlag},
		Action:    cloneHandler,
	}
	childrenCmd = cli.Command{
		Name:      commandChildren,
		Usage:     "list the clones of a snapshot",
		ArgsUsage: snapArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, outFmtFlag, prettyFlag},
		Action:    childrenHandler,
	}
	flattenCmd = cli.Command{
		Name:      commandFlatten,
		Usage:     "copy parent data into a clone and sever the parent link",
		ArgsUsage: imageArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag, noProgressFlag},
		Action:    flattenHandler,
	}
	resizeCmd = cli.Command{
		Name:      commandResize,
		Usage:     "grow (or, with " + qflprn(allowShrinkFlag) + ", shrink) an image",
		ArgsUsage: imageArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag, sizeFlag, allowShrinkFlag},
		Action:    resizeHandler,
	}
	removeCmd = cli.Command{
		Name:      commandRemove,
		Usage:     "remove an image",
		ArgsUsage: imageArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag, noProgressFlag},
		Action:    removeHandler,
	}
	copyCmd = cli.Command{
		Name:      commandCopy,
		Usage:     "copy an image (or a snapshot of it) to a new image",
		ArgsUsage: srcDstArguments,
		Flags:     []cli.Flag{noProgressFlag},
		Action:    copyHandler,
	}
	renameCmd = cli.Command{
		Name:      commandRename,
		Usage:     "rename an image within its pool",
		ArgsUsage: srcDstArguments,
		Flags:     []cli.Flag{poolFlag},
		Action:    renameHandler,
	}
	watchCmd = cli.Command{
		Name:      commandWatch,
		Usage:     "watch for image update notifications until interrupted",
		ArgsUsage: imageArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag},
		Action:    watchHandler,
	}
	statusCmd = cli.Command{
		Name:      commandStatus,
		Usage:     "show clients currently watching an image",
		ArgsUsage: imageArgument,
		Flags:     []cli.Flag{poolFlag, imageFlag, outFmtFlag, prettyFlag},
		Action:    statusHandler,
	}
)

// resolve the [POOL] positional argument vs --pool
func poolFromArgs(c *cli.Context) (string, error) {
	pool := c.Args().Get(0)
	if flagIsSet(c, poolFlag) {
		p := parseStrFlag(c, poolFlag)
		if pool != "" && pool != p {
			return "", incorrectUsageMsg(c, "pool %q conflicts with %s=%s", pool, flprn(poolFlag), p)
		}
		pool = p
	}
	if pool == "" {
		pool = cfg.RBD.DefaultPool
	}
	return pool, nil
}

func listHandler(c *cli.Context) error {
	pool, err := poolFromArgs(c)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		names, err := rbd.List(cl, pool)
		if err != nil {
			return err
		}
		if !flagIsSet(c, longFlag) {
			return printTable(c, names, teb.NamesTmpl)
		}
		rows := make([]teb.ImageRow, 0, len(names))
		for _, name := range names {
			img, err := rbd.OpenReadOnly(cl, rbd.Spec{Pool: pool, Image: name})
			if err != nil {
				if cos.IsErrNotFound(err) {
					continue // removed while listing
				}
				return err
			}
			rows = append(rows, imageRows(img)...)
			img.Close()
		}
		return printTable(c, rows, teb.ImageListTmpl)
	})
}

// imageRows renders one image as its head row plus one row per snapshot.
func imageRows(img *rbd.Image) []teb.ImageRow {
	head := teb.ImageRow{Name: img.Name(), Size: img.Size(), Format: img.Format()}
	if pspec, ok, err := img.Parent(); err == nil && ok {
		head.Parent = pspec.String()
	}
	if li, err := img.LockList(); err == nil && len(li.Lockers) > 0 {
		head.Lock = lockAbbrev(li.Type)
	}
	rows := []teb.ImageRow{head}
	for _, sn := range img.Snaps() {
		row := teb.ImageRow{
			Name:   img.Name() + "@" + sn.Name,
			Size:   sn.Size,
			Parent: head.Parent,
			Format: img.Format(),
		}
		if sn.Protection == clsrbd.ProtectionProtected {
			row.Protected = "yes"
		}
		rows = append(rows, row)
	}
	return rows
}

func lockAbbrev(typ uint8) string {
	if typ == clslock.Exclusive {
		return "excl"
	}
	return "shr"
}

func infoHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		info, err := img.Info()
		if err != nil {
			return err
		}
		if useJSON, err := outputFormat(c); err != nil {
			return err
		} else if useJSON {
			return printTable(c, info, "")
		}
		printImageInfo(c.App.Writer, info)
		return nil
	})
}

func printImageInfo(w io.Writer, info *rbd.ImageInfo) {
	fmt.Fprintf(w, "rbd image '%s':\n", info.Name)
	fmt.Fprintf(w, "\tsize %s in %d objects\n", teb.FmtSize(info.Size), info.Objects)
	fmt.Fprintf(w, "\torder %d (%s objects)\n", info.Order, teb.FmtSize(uint64(1)<<info.Order))
	fmt.Fprintf(w, "\tsnapshot_count: %d\n", info.SnapCount)
	if info.ID != "" {
		fmt.Fprintf(w, "\tid: %s\n", info.ID)
	}
	fmt.Fprintf(w, "\tblock_name_prefix: %s\n", info.ObjectPrefix)
	fmt.Fprintf(w, "\tformat: %d\n", info.Format)
	fmt.Fprintf(w, "\tfeatures: %s\n", teb.FmtFeatures(info.Features))
	if info.StripeUnit != 0 {
		fmt.Fprintf(w, "\tstripe unit: %s\n", teb.FmtSize(info.StripeUnit))
		fmt.Fprintf(w, "\tstripe count: %d\n", info.StripeCount)
	}
	if info.Parent != "" {
		fmt.Fprintf(w, "\tparent: %s\n", info.Parent)
	}
}

// createOpts assembles rbd.CreateOpts from the create/clone/import flag set.
func createOpts(c *cli.Context) (*rbd.CreateOpts, error) {
	opts := &rbd.CreateOpts{Format: parseIntFlag(c, imageFormatFlag)}
	if opts.Format == rbd.FormatOne {
		actionWarn(c, "image format 1 is deprecated")
	}
	if flagIsSet(c, orderFlag) {
		opts.Order = uint8(parseIntFlag(c, orderFlag))
	}
	if flagIsSet(c, featuresFlag) {
		mask, err := parseFeatures(c, parseStrFlag(c, featuresFlag))
		if err != nil {
			return nil, err
		}
		opts.Features = mask
	}
	if flagIsSet(c, imageSharedFlag) {
		// object-map is useless without the exclusive lock
		opts.Features &^= clsrbd.FeatureExclusiveLock | clsrbd.FeatureObjectMap
	}
	if flagIsSet(c, stripeUnitFlag) {
		unit, err := cos.ParseSize(parseStrFlag(c, stripeUnitFlag), "")
		if err != nil || unit <= 0 {
			return nil, incorrectUsageMsg(c, "invalid %s value %q", qflprn(stripeUnitFlag), parseStrFlag(c, stripeUnitFlag))
		}
		opts.StripeUnit = uint64(unit)
	}
	if flagIsSet(c, stripeCountFlag) {
		opts.StripeCount = parseUint64Flag(c, stripeCountFlag)
	}
	return opts, nil
}

func createHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if spec.Snap != "" {
		return incorrectUsageMsg(c, "unexpected snapshot in %q", spec.String())
	}
	if !flagIsSet(c, sizeFlag) {
		return missingArgumentsError(c, qflprn(sizeFlag))
	}
	size, err := parseSizeFlag(c, sizeFlag)
	if err != nil {
		return err
	}
	opts, err := createOpts(c)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		return rbd.Create(cl, spec.Pool, spec.Image, size, opts)
	})
}

func cloneHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return missingArgumentsError(c, cloneArguments)
	}
	parent, err := rbd.ParseSpec(c.Args().Get(0))
	if err != nil {
		return incorrectUsageMsg(c, "invalid parent spec %q: %v", c.Args().Get(0), err)
	}
	if parent.Snap == "" {
		return incorrectUsageMsg(c, "parent %q must name a snapshot", c.Args().Get(0))
	}
	child, err := parseDestSpec(c, c.Args().Get(1), parent.Pool)
	if err != nil {
		return err
	}
	opts, err := createOpts(c)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		return rbd.Clone(cl, parent, child.Pool, child.Image, opts)
	})
}

func childrenHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if spec.Snap == "" {
		return missingArgumentsError(c, snapArgument)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, rbd.Spec{Pool: spec.Pool, Image: spec.Image})
		if err != nil {
			return err
		}
		defer img.Close()
		children, err := img.Children(spec.Snap)
		if err != nil {
			return err
		}
		names := make([]string, len(children))
		for i, ch := range children {
			names[i] = ch.String()
		}
		return printTable(c, names, teb.NamesTmpl)
	})
}

func flattenHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.Open(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		bar := newXferBar(c, "Image flatten:", img.Size())
		err = img.Flatten(bar.fn())
		bar.finish(err)
		if err != nil {
			return err
		}
		actionDone(c, "Image flatten complete.")
		return nil
	})
}

func resizeHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if !flagIsSet(c, sizeFlag) {
		return missingArgumentsError(c, qflprn(sizeFlag))
	}
	size, err := parseSizeFlag(c, sizeFlag)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.Open(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		if size < img.Size() && !flagIsSet(c, allowShrinkFlag) {
			return fmt.Errorf("new size %s is smaller than the current %s (use %s to shrink)",
				teb.FmtSize(size), teb.FmtSize(img.Size()), qflprn(allowShrinkFlag))
		}
		if err := img.Resize(size); err != nil {
			return err
		}
		actionDone(c, "Resizing image: 100% complete...done.")
		return nil
	})
}

func removeHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if spec.Snap != "" {
		return incorrectUsageMsg(c, "cannot remove a snapshot with %q (use '%s %s')",
			commandRemove, commandSnap, cmdSnapRemove)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		if err := rbd.Remove(cl, spec.Pool, spec.Image); err != nil {
			return err
		}
		actionDone(c, "Removing image: 100% complete...done.")
		return nil
	})
}

func copyHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return missingArgumentsError(c, srcDstArguments)
	}
	src, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	dst, err := parseDestSpec(c, c.Args().Get(1), src.Pool)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, src)
		if err != nil {
			return err
		}
		defer img.Close()
		bar := newXferBar(c, "Image copy:", img.Size())
		err = img.Copy(dst.Pool, dst.Image, nil, bar.fn())
		bar.finish(err)
		if err != nil {
			return err
		}
		actionDone(c, "Image copy: 100% complete...done.")
		return nil
	})
}

func renameHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return missingArgumentsError(c, srcDstArguments)
	}
	src, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	dst, err := parseDestSpec(c, c.Args().Get(1), src.Pool)
	if err != nil {
		return err
	}
	if dst.Pool != src.Pool {
		return fmt.Errorf("cannot move %q across pools (%q != %q): %w",
			src.Image, src.Pool, dst.Pool, cos.ErrNotSupported)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		return rbd.Rename(cl, src.Pool, src.Image, dst.Image)
	})
}

func watchHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		wctx, err := img.Watch()
		if err != nil {
			return err
		}
		defer img.Unwatch(wctx.Handle)
		fmt.Fprintf(c.App.Writer, "watching %s (press ctrl-c to exit)\n", spec.String())
		for ev := range wctx.Events {
			fmt.Fprintf(c.App.Writer, "%s received notification: notify_id=%d, handle=%d, payload=%d bytes\n",
				spec.String(), ev.NotifyID, ev.Handle, len(ev.Data))
			if err := img.NotifyAck(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func statusHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, spec)
		if err != nil {
			return err
		}
		defer img.Close()
		watchers, err := img.Status()
		if err != nil {
			return err
		}
		if useJSON, err := outputFormat(c); err != nil {
			return err
		} else if useJSON {
			return printTable(c, watchers, "")
		}
		if len(watchers) == 0 {
			actionDone(c, "Watchers: none")
			return nil
		}
		fmt.Fprintln(c.App.Writer, "Watchers:")
		return teb.Print(watchers, c.App.Writer, teb.WatcherTmpl, false)
	})
}
