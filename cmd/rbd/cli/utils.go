// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains util functions and types.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/rbd"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
)

func actionDone(c *cli.Context, msg string) { fmt.Fprintln(c.App.Writer, msg) }
func actionWarn(c *cli.Context, msg string) { fmt.Fprintln(c.App.ErrWriter, fcyan("Warning: ")+msg) }

// parseImageSpec combines the positional [POOL/]IMAGE[@SNAP] argument
// with --pool/--image/--snap; a flag must agree with the argument when
// both name the same part.
func parseImageSpec(c *cli.Context, arg string) (spec rbd.Spec, err error) {
	if arg != "" {
		if spec, err = rbd.ParseSpec(arg); err != nil {
			return spec, incorrectUsageMsg(c, "invalid image spec %q: %v", arg, err)
		}
		if !strings.Contains(arg, "/") {
			spec.Pool = "" // the pool was not named explicitly
		}
	}
	if flagIsSet(c, poolFlag) {
		pool := parseStrFlag(c, poolFlag)
		if spec.Pool != "" && spec.Pool != pool {
			return spec, incorrectUsageMsg(c, "pool %q conflicts with %s=%s", spec.Pool, flprn(poolFlag), pool)
		}
		spec.Pool = pool
	}
	if flagIsSet(c, imageFlag) {
		image := parseStrFlag(c, imageFlag)
		if spec.Image != "" && spec.Image != image {
			return spec, incorrectUsageMsg(c, "image %q conflicts with %s=%s", spec.Image, flprn(imageFlag), image)
		}
		spec.Image = image
	}
	if flagIsSet(c, snapFlag) {
		snap := parseStrFlag(c, snapFlag)
		if spec.Snap != "" && spec.Snap != snap {
			return spec, incorrectUsageMsg(c, "snapshot %q conflicts with %s=%s", spec.Snap, flprn(snapFlag), snap)
		}
		spec.Snap = snap
	}
	if spec.Pool == "" {
		spec.Pool = cfg.RBD.DefaultPool
	}
	if spec.Image == "" {
		return spec, missingArgumentsError(c, imageArgument)
	}
	return spec, nil
}

// parseDestSpec parses a purely positional destination image; no
// snapshot part, and the pool defaults to dfltPool.
func parseDestSpec(c *cli.Context, arg, dfltPool string) (rbd.Spec, error) {
	spec, err := rbd.ParseSpec(arg)
	if err != nil {
		return spec, incorrectUsageMsg(c, "invalid image spec %q: %v", arg, err)
	}
	if !strings.Contains(arg, "/") {
		spec.Pool = dfltPool
	}
	if spec.Snap != "" {
		return spec, incorrectUsageMsg(c, "unexpected snapshot in destination %q", arg)
	}
	return spec, nil
}

func parseFeatures(c *cli.Context, csv string) (mask uint64, err error) {
	for _, name := range splitCsv(csv) {
		switch name {
		case "layering":
			mask |= clsrbd.FeatureLayering
		case "striping":
			mask |= clsrbd.FeatureStripingV2
		case "exclusive-lock":
			mask |= clsrbd.FeatureExclusiveLock
		case "object-map":
			mask |= clsrbd.FeatureObjectMap
		default:
			return 0, incorrectUsageMsg(c, "unknown image feature %q", name)
		}
	}
	return mask, nil
}

func outputFormat(c *cli.Context) (useJSON bool, err error) {
	if !flagIsSet(c, outFmtFlag) {
		return false, nil
	}
	switch f := parseStrFlag(c, outFmtFlag); f {
	case "plain":
	case "json":
		useJSON = true
	case "xml":
		err = fmt.Errorf("output format %q: %w", f, cos.ErrNotSupported)
	default:
		err = incorrectUsageMsg(c, "invalid %s value %q (expecting plain or json)", qflprn(outFmtFlag), f)
	}
	return useJSON, err
}

// printTable renders rows through the template, or as JSON when
// '--format json' (compact unless '--pretty-format').
func printTable(c *cli.Context, object any, tmpl string) error {
	useJSON, err := outputFormat(c)
	if err != nil {
		return err
	}
	if useJSON && !flagIsSet(c, prettyFlag) {
		out, err := jsoniter.Marshal(object)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(out))
		return err
	}
	return teb.Print(object, c.App.Writer, tmpl, useJSON)
}
