// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains util functions and types.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/urfave/cli"
)

func actionDone(c *cli.Context, msg string) { fmt.Fprintln(c.App.Writer, msg) }
func actionWarn(c *cli.Context, msg string) { fmt.Fprintln(c.App.ErrWriter, fcyan("Warning: ")+msg) }

// printTable renders rows through the template, or as JSON when '--json'.
func printTable(c *cli.Context, object any, tmpl string) error {
	return teb.Print(object, c.App.Writer, tmpl, flagIsSet(c, jsonFlag))
}

// parsePG splits a POOL.PGID argument on its last dot; pool names may
// contain dots (".rgw.buckets"), the placement-group ID is hex.
func parsePG(c *cli.Context, arg string) (pool string, pgid int, err error) {
	i := strings.LastIndexByte(arg, '.')
	if i <= 0 || i == len(arg)-1 {
		return "", 0, incorrectUsageMsg(c, "invalid placement group %q (expecting %s)", arg, pgArgument)
	}
	id, err := strconv.ParseInt(arg[i+1:], 16, 32)
	if err != nil || id < 0 {
		return "", 0, incorrectUsageMsg(c, "invalid placement group ID %q in %q", arg[i+1:], arg)
	}
	return arg[:i], int(id), nil
}

func readValue(c *cli.Context, prompt string) string {
	fmt.Fprint(c.App.Writer, prompt+": ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(line, "\n")
}

func confirm(c *cli.Context, prompt string, warning ...string) (ok bool) {
	var err error
	prompt += " [Y/N]"
	if len(warning) != 0 {
		actionWarn(c, warning[0])
	}
	for {
		response := strings.ToLower(readValue(c, prompt))
		if ok, err = cos.ParseBool(response); err != nil {
			fmt.Println("Invalid input! Choose 'Y' for 'Yes' or 'N' for 'No'")
			continue
		}
		return
	}
}
