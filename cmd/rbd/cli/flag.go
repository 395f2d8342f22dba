// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains flag parsers and helpers.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/urfave/cli"
)

// flag's printable name
func flprn(f cli.Flag) string { return "--" + fl1n(f.GetName()) }

// in single quotes
func qflprn(f cli.Flag) string { return "'" + flprn(f) + "'" }

// return the first name
func fl1n(flagName string) string {
	if strings.IndexByte(flagName, ',') < 0 {
		return flagName
	}
	l := splitCsv(flagName)
	return l[0]
}

func splitCsv(s string) (lst []string) {
	lst = strings.Split(s, ",")
	for i, val := range lst {
		lst[i] = strings.TrimSpace(val)
	}
	return
}

func flagIsSet(c *cli.Context, flag cli.Flag) (v bool) {
	name := fl1n(flag.GetName()) // take the first of multiple names
	switch flag.(type) {
	case cli.BoolFlag:
		v = c.Bool(name)
	default:
		v = c.GlobalIsSet(name) || c.IsSet(name)
	}
	return
}

// Returns the value of a string flag (either parent or local scope)
func parseStrFlag(c *cli.Context, flag cli.Flag) string {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalString(flagName)
	}
	return c.String(flagName)
}

// Returns the value of an int flag (either parent or local scope)
func parseIntFlag(c *cli.Context, flag cli.IntFlag) int {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalInt(flagName)
	}
	return c.Int(flagName)
}

func parseUint64Flag(c *cli.Context, flag cli.Uint64Flag) uint64 {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalUint64(flagName)
	}
	return c.Uint64(flagName)
}

// Plain numbers count MiBs (the way `rbd create --size` always has);
// otherwise the value takes an IEC suffix, e.g. "10G".
func parseSizeFlag(c *cli.Context, flag cli.StringFlag) (uint64, error) {
	val := parseStrFlag(c, flag)
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s=%s is invalid: negative size", flprn(flag), val)
		}
		return uint64(n) * cos.MiB, nil
	}
	size, err := cos.ParseSize(val, "")
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%s=%s is invalid: %v", flprn(flag), val, err)
	}
	return uint64(size), nil
}
