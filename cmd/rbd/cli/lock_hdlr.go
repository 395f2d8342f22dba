// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains the 'rbd lock' command group.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	clslock "github.com/NVIDIA/radstore/cls/lock"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/urfave/cli"
)

var lockCmd = cli.Command{
	Name:  commandLock,
	Usage: "manage advisory image locks",
	Subcommands: []cli.Command{
		{
			Name:      cmdLockList,
			Usage:     "list the lockers of an image",
			ArgsUsage: imageArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, outFmtFlag, prettyFlag},
			Action:    lockListHandler,
		},
		{
			Name:      cmdLockAdd,
			Usage:     "take an advisory lock (exclusive, or shared with " + qflprn(sharedTagFlag) + ")",
			ArgsUsage: lockAddArguments,
			Flags:     []cli.Flag{poolFlag, imageFlag, sharedTagFlag},
			Action:    lockAddHandler,
		},
		{
			Name:      cmdLockRemove,
			Usage:     "release another client's lock",
			ArgsUsage: lockRmArguments,
			Flags:     []cli.Flag{poolFlag, imageFlag},
			Action:    lockRemoveHandler,
		},
	},
}

func lockListHandler(c *cli.Context) error {
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
		li, err := img.LockList()
		if err != nil {
			return err
		}
		if useJSON, err := outputFormat(c); err != nil {
			return err
		} else if useJSON {
			return printTable(c, li, "")
		}
		if len(li.Lockers) == 0 {
			return nil
		}
		var (
			w    = c.App.Writer
			word = "exclusive"
			verb = "are"
		)
		if li.Type == clslock.Shared {
			word = "shared"
		}
		if len(li.Lockers) == 1 {
			verb = "is"
		}
		fmt.Fprintf(w, "There %s %d %s lock%s on this image.\n",
			verb, len(li.Lockers), word, cos.Plural(len(li.Lockers)))
		if li.Tag != "" {
			fmt.Fprintf(w, "Lock tag: %s\n", li.Tag)
		}
		rows := make([]teb.LockRow, 0, len(li.Lockers))
		for _, l := range li.Lockers {
			rows = append(rows, teb.LockRow{Locker: l.Entity, ID: l.Cookie, Address: l.Addr})
		}
		return teb.Print(rows, w, teb.LockListTmpl, false)
	})
}

func lockAddHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return missingArgumentsError(c, "LOCK-ID")
	}
	cookie := c.Args().Get(1)
	return withImage(c, spec, func(img *rbd.Image) error {
		if flagIsSet(c, sharedTagFlag) {
			return img.LockShared(cookie, parseStrFlag(c, sharedTagFlag))
		}
		return img.LockExclusive(cookie)
	})
}

func lockRemoveHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.NArg() < 3 {
		return missingArgumentsError(c, "LOCK-ID", "LOCKER")
	}
	cookie, locker := c.Args().Get(1), c.Args().Get(2)
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.BreakLock(locker, cookie)
	})
}
