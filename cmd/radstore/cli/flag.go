// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains flag types, parsers, and helpers.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"flag"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/urfave/cli"
)

type (
	DurationFlag    cli.DurationFlag
	DurationFlagVar cli.DurationFlag
)

// interface guards
var (
	_ flag.Value = &DurationFlagVar{}
	_ cli.Flag   = &DurationFlag{}
)

/////////////////////
// DurationFlagVar //
/////////////////////

// "s" (seconds) is the default time unit
func (f *DurationFlagVar) Set(s string) (err error) {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		s += "s"
	}
	f.Value, err = time.ParseDuration(s)
	return err
}

func (f DurationFlagVar) String() string { return f.Value.String() }

//////////////////
// DurationFlag //
//////////////////

// construction via `FlagSet.Var` to override duration-parsing default
func (f DurationFlag) ApplyWithError(set *flag.FlagSet) error {
	fvar := DurationFlagVar(f)
	for _, name := range splitCsv(f.Name) {
		set.Var(&fvar, name, f.Usage)
	}
	return nil
}

func (f DurationFlag) String() string {
	s := cli.FlagStringer(f)
	// the stringer's "(default: ...)" suffix renders the zero value, not ours
	re := regexp.MustCompile(` \(default: \S+\)$`)
	if loc := re.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	return s
}

func (f DurationFlag) GetName() string         { return f.Name }
func (f DurationFlag) Apply(set *flag.FlagSet) { _ = f.ApplyWithError(set) }

//
// flag parsers & misc. helpers
//

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

func parseInt64Flag(c *cli.Context, flag cli.Int64Flag) int64 {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalInt64(flagName)
	}
	return c.Int64(flagName)
}

// Returns the value of a duration flag (either parent or local scope)
func parseDurationFlag(c *cli.Context, flag cli.Flag) time.Duration {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalDuration(flagName)
	}
	return c.Duration(flagName)
}

// parseTimeFlag accepts RFC3339 ("2026-01-02T15:04:05Z") or plain unix
// seconds; an unset flag yields the zero time.
func parseTimeFlag(c *cli.Context, flag cli.StringFlag) (time.Time, error) {
	if !flagIsSet(c, flag) {
		return time.Time{}, nil
	}
	val := parseStrFlag(c, flag)
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, incorrectUsageMsg(c, "invalid %s value %q (expecting RFC3339 or unix seconds)",
			qflprn(flag), val)
	}
	return t, nil
}

// parseSizeValue: plain numbers are bytes, otherwise an IEC suffix,
// e.g. "10G"; negative means unlimited.
func parseSizeValue(c *cli.Context, flag cli.StringFlag) (int64, error) {
	val := parseStrFlag(c, flag)
	size, err := cos.ParseSize(val, "")
	if err != nil {
		return 0, incorrectUsageMsg(c, "invalid %s value %q", qflprn(flag), val)
	}
	return size, nil
}
