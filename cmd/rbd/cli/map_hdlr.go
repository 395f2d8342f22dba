// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains the kernel map/unmap commands.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cmd/config"
	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/krbd"
	"github.com/urfave/cli"
)

var (
	mapCmd = cli.Command{
		Name:      commandMap,
		Usage:     "map an image through the kernel rbd driver",
		ArgsUsage: imageOrSnapArg,
		Flags:     []cli.Flag{poolFlag, imageFlag, snapFlag, monFlag, keyfileFlag, optionsFlag},
		Action:    mapHandler,
	}
	unmapCmd = cli.Command{
		Name:      commandUnmap,
		Usage:     "unmap a device (by path, id, or image spec)",
		ArgsUsage: deviceArgument,
		Action:    unmapHandler,
	}
	showmappedCmd = cli.Command{
		Name:   commandShowmapped,
		Usage:  "list devices mapped through the kernel driver",
		Flags:  []cli.Flag{outFmtFlag, prettyFlag},
		Action: showmappedHandler,
	}
)

func mapBus() krbd.DeviceBus {
	if root := os.Getenv(config.EnvSysfsRoot); root != "" {
		return krbd.NewSysfsBusAt(root)
	}
	return krbd.NewSysfsBus()
}

func mapHandler(c *cli.Context) error {
	spec, err := parseImageSpec(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	mspec := krbd.MapSpec{
		Mons:  cfg.Mons,
		User:  cfg.Cluster.ID,
		Pool:  spec.Pool,
		Image: spec.Image,
		Snap:  spec.Snap,
	}
	if flagIsSet(c, monFlag) {
		mspec.Mons = parseStrFlag(c, monFlag)
	}
	if flagIsSet(c, idFlag) {
		mspec.User = parseStrFlag(c, idFlag)
	}
	if flagIsSet(c, keyfileFlag) {
		b, err := os.ReadFile(parseStrFlag(c, keyfileFlag))
		if err != nil {
			return err
		}
		mspec.Secret = strings.TrimSpace(string(b))
	}
	if flagIsSet(c, optionsFlag) {
		mspec.Options = splitCsv(parseStrFlag(c, optionsFlag))
	}
	dev, err := mapBus().Add(mspec)
	if err != nil {
		return err
	}
	actionDone(c, dev.Path())
	return nil
}

func unmapHandler(c *cli.Context) error {
	if c.NArg() < 1 {
		return missingArgumentsError(c, deviceArgument)
	}
	bus := mapBus()
	dev, err := krbd.FindDevice(bus, c.Args().Get(0))
	if err != nil {
		return err
	}
	return bus.Remove(dev.ID)
}

func showmappedHandler(c *cli.Context) error {
	devs, err := mapBus().List()
	if err != nil {
		return err
	}
	rows := make([]teb.MappedRow, 0, len(devs))
	for _, d := range devs {
		rows = append(rows, teb.MappedRow{
			ID:     strconv.Itoa(d.ID),
			Pool:   d.Pool,
			Image:  d.Image,
			Snap:   d.Snap,
			Device: d.Path(),
		})
	}
	return printTable(c, rows, teb.MappedTmpl)
}
