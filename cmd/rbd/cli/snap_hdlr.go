// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains the 'rbd snap' command group.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"strings"

	"github.com/NVIDIA/radstore/cmd/teb"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rbd"
	"github.com/urfave/cli"
)

var snapCmd = cli.Command{
	Name:  commandSnap,
	Usage: "manage image snapshots",
	Subcommands: []cli.Command{
		{
			Name:      cmdSnapList,
			Usage:     "list the snapshots of an image",
			ArgsUsage: imageArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, outFmtFlag, prettyFlag},
			Action:    snapListHandler,
		},
		{
			Name:      cmdSnapCreate,
			Usage:     "take a snapshot",
			ArgsUsage: snapArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag},
			Action:    snapCreateHandler,
		},
		{
			Name:      cmdSnapRollback,
			Usage:     "roll the image back to a snapshot",
			ArgsUsage: snapArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, noProgressFlag},
			Action:    snapRollbackHandler,
		},
		{
			Name:      cmdSnapRemove,
			Usage:     "remove a snapshot",
			ArgsUsage: snapArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag},
			Action:    snapRemoveHandler,
		},
		{
			Name:      cmdSnapPurge,
			Usage:     "remove all unprotected snapshots",
			ArgsUsage: imageArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, noProgressFlag},
			Action:    snapPurgeHandler,
		},
		{
			Name:      cmdSnapProtect,
			Usage:     "protect a snapshot from removal (required before cloning)",
			ArgsUsage: snapArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag},
			Action:    snapProtectHandler,
		},
		{
			Name:      cmdSnapUnprotect,
			Usage:     "allow a protected snapshot to be removed again",
			ArgsUsage: snapArgument,
			Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag},
			Action:    snapUnprotectHandler,
		},
		{
			Name:      cmdSnapRename,
			Usage:     "rename a snapshot",
			ArgsUsage: snapRenameArgs,
			Flags:     []cli.Flag{poolFlag, imageFlag},
			Action:    snapRenameHandler,
		},
	},
}

// parseSnapSpec is parseImageSpec with the snapshot part required.
func parseSnapSpec(c *cli.Context, arg string) (rbd.Spec, error) {
	spec, err := parseImageSpec(c, arg)
	if err != nil {
		return spec, err
	}
	if spec.Snap == "" {
		return spec, missingArgumentsError(c, snapArgument)
	}
	return spec, nil
}

// withImage opens the named image writable for the duration of action.
func withImage(c *cli.Context, spec rbd.Spec, action func(img *rbd.Image) error) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.Open(cl, rbd.Spec{Pool: spec.Pool, Image: spec.Image})
		if err != nil {
			return err
		}
		defer img.Close()
		return action(img)
	})
}

func snapListHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		img, err := rbd.OpenReadOnly(cl, rbd.Spec{Pool: spec.Pool, Image: spec.Image})
		if err != nil {
			return err
		}
		defer img.Close()
		snaps := img.Snaps()
		rows := make([]teb.SnapRow, 0, len(snaps))
		for _, sn := range snaps {
			row := teb.SnapRow{ID: sn.ID, Name: sn.Name, Size: sn.Size}
			if sn.Protection == clsrbd.ProtectionProtected {
				row.Protected = "yes"
			}
			rows = append(rows, row)
		}
		return printTable(c, rows, teb.SnapListTmpl)
	})
}

func snapCreateHandler(c *cli.Context) error {
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.SnapCreate(spec.Snap)
	})
}

func snapRollbackHandler(c *cli.Context) error {
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		if err := img.SnapRollback(spec.Snap); err != nil {
			return err
		}
		actionDone(c, "Rolling back to snapshot: 100% complete...done.")
		return nil
	})
}

func snapRemoveHandler(c *cli.Context) error {
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.SnapRemove(spec.Snap)
	})
}

func snapPurgeHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		if err := img.SnapPurge(); err != nil {
			return err
		}
		actionDone(c, "Removing all snapshots: 100% complete...done.")
		return nil
	})
}

func snapProtectHandler(c *cli.Context) error {
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.SnapProtect(spec.Snap)
	})
}

func snapUnprotectHandler(c *cli.Context) error {
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.SnapUnprotect(spec.Snap)
	})
}

func snapRenameHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return missingArgumentsError(c, snapRenameArgs)
	}
	spec, err := parseSnapSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	// the destination is a bare name, or a full spec of the same image
	dest := c.Args().Get(1)
	if strings.Contains(dest, "@") {
		dspec, err := rbd.ParseSpec(dest)
		if err != nil {
			return incorrectUsageMsg(c, "invalid destination %q: %v", dest, err)
		}
		if dspec.Image != spec.Image || (strings.Contains(dest, "/") && dspec.Pool != spec.Pool) {
			return incorrectUsageMsg(c, "cannot rename a snapshot across images (%q vs %q)",
				c.Args().Get(0), dest)
		}
		dest = dspec.Snap
	}
	return withImage(c, spec, func(img *rbd.Image) error {
		return img.SnapRename(spec.Snap, dest)
	})
}
