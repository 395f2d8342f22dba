// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains command names, argument templates, and flags.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"time"

	"github.com/urfave/cli"
)

const cliName = "radstore"

// top-level commands
const (
	commandStatus    = "status"
	commandDf        = "df"
	commandPool      = "pool"
	commandBucket    = "bucket"
	commandUsage     = "usage"
	commandDatalog   = "datalog"
	commandGC        = "gc"
	commandQuota     = "quota"
	commandPG        = "pg"
	commandJournal   = "journal"
	commandBlacklist = "blacklist"
	commandLog       = "log"
)

// subcommands
const (
	cmdCreate  = "create"
	cmdRemove  = "rm"
	cmdList    = "ls"
	cmdExport  = "export"
	cmdImport  = "import"
	cmdStats   = "stats"
	cmdBuckets = "list"
	cmdLink    = "link"
	cmdUnlink  = "unlink"
	cmdCheck   = "check"
	cmdShow    = "show"
	cmdTrim    = "trim"
	cmdInfo    = "info"
	cmdProcess = "process"
	cmdGet     = "get"
	cmdSet     = "set"
	cmdEnable  = "enable"
	cmdDisable = "disable"
	cmdLogView = "log"
	cmdReset   = "reset"
	cmdAdd     = "add"
	cmdTail    = "tail"
)

// argument templates
const (
	poolArgument   = "POOL"
	bucketArgument = "BUCKET"
	pgArgument     = "POOL.PGID"
	addrArgument   = "ADDR:PORT"
	exportArgument = "POOL DST-PATH"
	importArgument = "POOL SRC-PATH"
)

// "-" in place of a path means stdin/stdout
const stdIO = "-"

var (
	noColorFlag = cli.BoolFlag{Name: "no-color", Usage: "disable colored output"}

	confFlag = cli.StringFlag{Name: "conf, c", Usage: "path to the CLI configuration file"}
	idFlag   = cli.StringFlag{Name: "id", Usage: "client id to open the cluster with"}

	jsonFlag = cli.BoolFlag{Name: "json, j", Usage: "json output"}

	uidFlag    = cli.StringFlag{Name: "uid", Usage: "user id (the owner of buckets and usage records)"}
	bucketFlag = cli.StringFlag{Name: "bucket", Usage: "bucket name"}

	startTimeFlag = cli.StringFlag{Name: "start", Usage: "start of the range, RFC3339 or unix seconds"}
	endTimeFlag   = cli.StringFlag{Name: "end", Usage: "end of the range, RFC3339 or unix seconds"}
	maxFlag       = cli.IntFlag{Name: "max", Usage: "cap the number of listed entries (0 = no cap)"}

	shardFlag = cli.IntFlag{Name: "shard", Value: -1, Usage: "log shard (default: all shards)"}

	fixFlag = cli.BoolFlag{Name: "fix", Usage: "rebuild the index from the objects found in the data pool"}

	allFlag = cli.BoolFlag{Name: "all", Usage: "include chains still inside their grace period"}

	maxSizeFlag    = cli.StringFlag{Name: "max-size", Usage: "size cap, e.g. 10G (negative = unlimited)"}
	maxObjectsFlag = cli.Int64Flag{Name: "max-objects", Usage: "object-count cap (negative = unlimited)"}

	rankFlag = cli.IntFlag{Name: "rank", Usage: "mds rank whose journal to reset"}
	metaPoolFlag = cli.StringFlag{
		Name:  "pool, p",
		Value: "metadata",
		Usage: "pool holding the journal objects",
	}

	yesFlag = cli.BoolFlag{Name: "yes, y", Usage: "assume 'yes' to all questions"}

	expireFlag = DurationFlag{
		Name:  "expire",
		Value: time.Hour,
		Usage: "blocklist entry lifetime; plain numbers are seconds",
	}

	levelFlag = cli.StringFlag{
		Name:  "level",
		Value: "info",
		Usage: "lowest level to stream: debug, info, warn, err, or sec",
	}
)
