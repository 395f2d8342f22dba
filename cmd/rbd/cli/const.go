// Package cli provides the 'rbd' command-line utility to manage images in a radstore cluster.
// This file contains command names, argument templates, and flags.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"github.com/urfave/cli"
)

const cliName = "rbd"

// top-level commands
const (
	commandList       = "ls"
	commandInfo       = "info"
	commandCreate     = "create"
	commandClone      = "clone"
	commandChildren   = "children"
	commandFlatten    = "flatten"
	commandResize     = "resize"
	commandRemove     = "rm"
	commandExport     = "export"
	commandImport     = "import"
	commandExportDiff = "export-diff"
	commandImportDiff = "import-diff"
	commandMergeDiff  = "merge-diff"
	commandDiff       = "diff"
	commandCopy       = "cp"
	commandRename     = "mv"
	commandSnap       = "snap"
	commandWatch      = "watch"
	commandStatus     = "status"
	commandMap        = "map"
	commandUnmap      = "unmap"
	commandShowmapped = "showmapped"
	commandLock       = "lock"
	commandBench      = "bench-write"
)

// subcommands
const (
	cmdSnapList      = "ls"
	cmdSnapCreate    = "create"
	cmdSnapRollback  = "rollback"
	cmdSnapRemove    = "rm"
	cmdSnapPurge     = "purge"
	cmdSnapProtect   = "protect"
	cmdSnapUnprotect = "unprotect"
	cmdSnapRename    = "rename"

	cmdLockList   = "ls"
	cmdLockAdd    = "add"
	cmdLockRemove = "rm"
)

// argument templates
const (
	poolArgument       = "[POOL]"
	imageArgument      = "[POOL/]IMAGE"
	imageOrSnapArg     = "[POOL/]IMAGE[@SNAP]"
	snapArgument       = "[POOL/]IMAGE@SNAP"
	cloneArguments     = "[POOL/]PARENT@SNAP [POOL/]CHILD"
	srcDstArguments    = "[POOL/]SRC [POOL/]DST"
	exportArguments    = "[POOL/]IMAGE[@SNAP] [DST-PATH]"
	importArguments    = "SRC-PATH [POOL/]IMAGE"
	importDiffArgs     = "SRC-PATH [POOL/]IMAGE"
	mergeDiffArguments = "FIRST-DIFF SECOND-DIFF DST-DIFF"
	snapRenameArgs     = "[POOL/]IMAGE@SRC-SNAP DST-SNAP"
	lockAddArguments   = "[POOL/]IMAGE LOCK-ID"
	lockRmArguments    = "[POOL/]IMAGE LOCK-ID LOCKER"
	deviceArgument     = "DEV-ID|[POOL/]IMAGE"
)

// "-" in place of a path means stdin/stdout
const stdIO = "-"

var (
	noColorFlag = cli.BoolFlag{Name: "no-color", Usage: "disable colored output"}

	confFlag = cli.StringFlag{Name: "conf, c", Usage: "path to the CLI configuration file"}
	idFlag   = cli.StringFlag{Name: "id", Usage: "client id to open the cluster with"}

	poolFlag  = cli.StringFlag{Name: "pool, p", Usage: "pool name"}
	imageFlag = cli.StringFlag{Name: "image", Usage: "image name"}
	snapFlag  = cli.StringFlag{Name: "snap", Usage: "snapshot name"}

	longFlag = cli.BoolFlag{Name: "long, l", Usage: "include size, parent, format, and lock details"}

	sizeFlag        = cli.StringFlag{Name: "size, s", Usage: "image size, e.g. 10G; plain numbers are MiB"}
	orderFlag       = cli.IntFlag{Name: "order", Usage: "object size as a power of two, 12..25 (default 22, i.e. 4 MiB)"}
	imageFormatFlag = cli.IntFlag{Name: "image-format", Value: 2, Usage: "image format (1 or 2)"}
	imageSharedFlag = cli.BoolFlag{Name: "image-shared", Usage: "shared image; leaves the exclusive-lock feature off"}
	featuresFlag    = cli.StringFlag{Name: "image-feature", Usage: "comma-separated features: layering, striping, exclusive-lock, object-map"}
	stripeUnitFlag  = cli.StringFlag{Name: "stripe-unit", Usage: "stripe unit size"}
	stripeCountFlag = cli.Uint64Flag{Name: "stripe-count", Usage: "number of objects to stripe over"}

	outFmtFlag = cli.StringFlag{Name: "format", Usage: "output format: plain or json"}
	prettyFlag = cli.BoolFlag{Name: "pretty-format", Usage: "indent JSON output"}

	noProgressFlag  = cli.BoolFlag{Name: "no-progress", Usage: "disable progress bar"}
	allowShrinkFlag = cli.BoolFlag{Name: "allow-shrink", Usage: "permit shrinking the image"}
	fromSnapFlag    = cli.StringFlag{Name: "from-snap", Usage: "start the diff at this snapshot"}

	monFlag     = cli.StringFlag{Name: "m", Usage: "comma-separated monitor addresses to hand to the kernel"}
	keyfileFlag = cli.StringFlag{Name: "keyfile", Usage: "file with the client secret"}
	optionsFlag = cli.StringFlag{Name: "options, o", Usage: "comma-separated map options, e.g. ro,queue_depth=16"}

	sharedTagFlag = cli.StringFlag{Name: "shared", Usage: "take a shared lock with the given tag"}

	ioSizeFlag    = cli.StringFlag{Name: "io-size", Usage: "write size per I/O (default 4K)"}
	ioThreadsFlag = cli.IntFlag{Name: "io-threads", Usage: "number of concurrent writers (default 16)"}
	ioTotalFlag   = cli.StringFlag{Name: "io-total", Usage: "total bytes to write (default 1G)"}
	ioPatternFlag = cli.StringFlag{Name: "io-pattern", Usage: "write pattern: seq or rand"}
)
