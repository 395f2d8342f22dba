// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains object-gateway commands: buckets, usage accounting,
// the data log, garbage collection, and quotas.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"time"

	"github.com/NVIDIA/radstore/cmd/teb"
	clsrgw "github.com/NVIDIA/radstore/cls/rgw"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/urfave/cli"
)

// one Exec round-trip per page
const listPageSize = 1000

var (
	bucketCmd = cli.Command{
		Name:  commandBucket,
		Usage: "bucket administration",
		Subcommands: []cli.Command{
			{
				Name:   cmdBuckets,
				Usage:  "list a user's buckets",
				Flags:  []cli.Flag{uidFlag, maxFlag, jsonFlag},
				Action: bucketListHandler,
			},
			{
				Name:      cmdStats,
				Usage:     "show a bucket's per-category index stats",
				ArgsUsage: bucketArgument,
				Flags:     []cli.Flag{jsonFlag},
				Action:    bucketStatsHandler,
			},
			{
				Name:      cmdLink,
				Usage:     "link a bucket to a user",
				ArgsUsage: bucketArgument,
				Flags:     []cli.Flag{uidFlag},
				Action:    bucketLinkHandler,
			},
			{
				Name:      cmdUnlink,
				Usage:     "unlink a bucket from its user",
				ArgsUsage: bucketArgument,
				Flags:     []cli.Flag{uidFlag},
				Action:    bucketUnlinkHandler,
			},
			{
				Name:      cmdCheck,
				Usage:     "compare a bucket's index stats against the stored objects",
				ArgsUsage: bucketArgument,
				Flags:     []cli.Flag{fixFlag, jsonFlag},
				Action:    bucketCheckHandler,
			},
		},
	}
	usageCmd = cli.Command{
		Name:  commandUsage,
		Usage: "per-user traffic accounting",
		Subcommands: []cli.Command{
			{
				Name:   cmdShow,
				Usage:  "show hour-bucketed usage records",
				Flags:  []cli.Flag{uidFlag, startTimeFlag, endTimeFlag, maxFlag, jsonFlag},
				Action: usageShowHandler,
			},
			{
				Name:   cmdStats,
				Usage:  "show a user's storage totals",
				Flags:  []cli.Flag{uidFlag, jsonFlag},
				Action: usageStatsHandler,
			},
			{
				Name:   cmdTrim,
				Usage:  "remove usage records within a time range",
				Flags:  []cli.Flag{uidFlag, startTimeFlag, endTimeFlag, yesFlag},
				Action: usageTrimHandler,
			},
		},
	}
	datalogCmd = cli.Command{
		Name:  commandDatalog,
		Usage: "bucket-change data log",
		Subcommands: []cli.Command{
			{
				Name:   cmdList,
				Usage:  "replay change records across the log shards",
				Flags:  []cli.Flag{startTimeFlag, endTimeFlag, maxFlag, jsonFlag},
				Action: datalogListHandler,
			},
			{
				Name:   cmdInfo,
				Usage:  "show one shard's log header",
				Flags:  []cli.Flag{shardFlag, jsonFlag},
				Action: datalogInfoHandler,
			},
			{
				Name:   cmdTrim,
				Usage:  "remove change records up to the end time",
				Flags:  []cli.Flag{shardFlag, startTimeFlag, endTimeFlag, yesFlag},
				Action: datalogTrimHandler,
			},
		},
	}
	gcCmd = cli.Command{
		Name:  commandGC,
		Usage: "deferred removal of orphaned tail objects",
		Subcommands: []cli.Command{
			{
				Name:   cmdList,
				Usage:  "list pending removal chains",
				Flags:  []cli.Flag{allFlag, maxFlag, jsonFlag},
				Action: gcListHandler,
			},
			{
				Name:   cmdProcess,
				Usage:  "remove the objects of all expired chains now",
				Action: gcProcessHandler,
			},
		},
	}
	quotaCmd = cli.Command{
		Name:  commandQuota,
		Usage: "bucket and user quotas",
		Subcommands: []cli.Command{
			{
				Name:   cmdGet,
				Usage:  "show the quota of a user or a bucket",
				Flags:  []cli.Flag{uidFlag, bucketFlag, jsonFlag},
				Action: quotaGetHandler,
			},
			{
				Name:   cmdSet,
				Usage:  "set quota limits (enforced once enabled)",
				Flags:  []cli.Flag{uidFlag, bucketFlag, maxSizeFlag, maxObjectsFlag},
				Action: quotaSetHandler,
			},
			{
				Name:   cmdEnable,
				Usage:  "start enforcing the quota",
				Flags:  []cli.Flag{uidFlag, bucketFlag},
				Action: quotaEnableHandler,
			},
			{
				Name:   cmdDisable,
				Usage:  "stop enforcing the quota",
				Flags:  []cli.Flag{uidFlag, bucketFlag},
				Action: quotaDisableHandler,
			},
		},
	}
)

//
// buckets
//

func bucketListHandler(c *cli.Context) error {
	owner := parseStrFlag(c, uidFlag)
	if owner == "" {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(uidFlag))
	}
	max := parseIntFlag(c, maxFlag)
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		var (
			rows   []teb.BucketRow
			marker string
		)
	loop:
		for {
			entries, next, truncated, err := s.ListUserBuckets(owner, marker, listPageSize)
			if err != nil {
				return err
			}
			for i := range entries {
				e := &entries[i]
				rows = append(rows, teb.BucketRow{
					Name:    e.Bucket,
					Objects: e.Count,
					Size:    e.Size,
					Created: e.CreationTime,
				})
				if max > 0 && len(rows) >= max {
					break loop
				}
			}
			if !truncated {
				break
			}
			marker = next
		}
		return printTable(c, rows, teb.BucketListTmpl)
	})
}

func bucketStatsHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, bucketArgument)
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		bi, err := s.GetBucketInfo(name)
		if err != nil {
			return err
		}
		stats, err := s.GetBucketStats(bi)
		if err != nil {
			return err
		}
		rows := make([]teb.CategoryRow, 0, len(stats))
		for _, cat := range []uint8{clsrgw.CatMain, clsrgw.CatShadow, clsrgw.CatMultiMeta} {
			cs, ok := stats[cat]
			if !ok {
				continue
			}
			rows = append(rows, teb.CategoryRow{
				Category:    catName(cat),
				Entries:     cs.NumEntries,
				Size:        cs.TotalSize,
				SizeRounded: cs.TotalSizeRounded,
			})
		}
		return printTable(c, rows, teb.CategoryTmpl)
	})
}

func catName(cat uint8) string {
	switch cat {
	case clsrgw.CatMain:
		return "rgw.main"
	case clsrgw.CatShadow:
		return "rgw.shadow"
	case clsrgw.CatMultiMeta:
		return "rgw.multimeta"
	}
	return "rgw.none"
}

func bucketLinkHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, bucketArgument)
	}
	owner := parseStrFlag(c, uidFlag)
	if owner == "" {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(uidFlag))
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		bi, err := s.GetBucketInfo(name)
		if err != nil {
			return err
		}
		if err := s.LinkBucket(owner, bi); err != nil {
			return err
		}
		actionDone(c, fmt.Sprintf("bucket %q linked to user %q", name, owner))
		return nil
	})
}

func bucketUnlinkHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, bucketArgument)
	}
	owner := parseStrFlag(c, uidFlag)
	if owner == "" {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(uidFlag))
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		if err := s.UnlinkBucket(owner, name); err != nil {
			return err
		}
		actionDone(c, fmt.Sprintf("bucket %q unlinked from user %q", name, owner))
		return nil
	})
}

func bucketCheckHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, bucketArgument)
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		bi, err := s.GetBucketInfo(name)
		if err != nil {
			return err
		}
		if flagIsSet(c, fixFlag) {
			if err := s.RebuildBucketIndex(bi); err != nil {
				return err
			}
		}
		replies, err := s.CheckBucketIndex(bi)
		if err != nil {
			return err
		}
		rows := make([]teb.CheckRow, 0, len(replies))
		for shard := range replies {
			row := teb.CheckRow{Shard: shard}
			for _, cs := range replies[shard].Existing.Stats {
				row.ExistingObjs += cs.NumEntries
				row.ExistingSize += cs.TotalSize
			}
			for _, cs := range replies[shard].Calculated.Stats {
				row.CalcObjs += cs.NumEntries
				row.CalcSize += cs.TotalSize
			}
			rows = append(rows, row)
		}
		return printTable(c, rows, teb.CheckTmpl)
	})
}

//
// usage accounting
//

// epoch converts a time flag to unix seconds; zero time (flag unset)
// maps to 0, i.e. no bound.
func epoch(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

func usageRange(c *cli.Context) (start, end uint64, _ error) {
	from, err := parseTimeFlag(c, startTimeFlag)
	if err != nil {
		return 0, 0, err
	}
	to, err := parseTimeFlag(c, endTimeFlag)
	if err != nil {
		return 0, 0, err
	}
	return epoch(from), epoch(to), nil
}

func usageShowHandler(c *cli.Context) error {
	start, end, err := usageRange(c)
	if err != nil {
		return err
	}
	var (
		owner = parseStrFlag(c, uidFlag) // empty: all owners
		max   = parseIntFlag(c, maxFlag)
	)
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		var (
			rows []teb.UsageRow
			iter rgw.UsageIter
		)
	loop:
		for {
			entries, truncated, err := s.ReadUsage(owner, start, end, listPageSize, &iter)
			if err != nil {
				return err
			}
			for i := range entries {
				e := &entries[i]
				rows = append(rows, teb.UsageRow{
					Owner:         e.Owner,
					Bucket:        e.Bucket,
					Time:          time.Unix(int64(e.Epoch), 0),
					BytesSent:     e.Total.BytesSent,
					BytesReceived: e.Total.BytesReceived,
					Ops:           e.Total.Ops,
					SuccessfulOps: e.Total.SuccessfulOps,
				})
				if max > 0 && len(rows) >= max {
					break loop
				}
			}
			if !truncated {
				break
			}
		}
		return printTable(c, rows, teb.UsageTmpl)
	})
}

func usageStatsHandler(c *cli.Context) error {
	owner := parseStrFlag(c, uidFlag)
	if owner == "" {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(uidFlag))
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		stats, err := s.GetUserStats(owner)
		if err != nil {
			return err
		}
		return printTable(c, stats, teb.UserStatsTmpl)
	})
}

func usageTrimHandler(c *cli.Context) error {
	start, end, err := usageRange(c)
	if err != nil {
		return err
	}
	owner := parseStrFlag(c, uidFlag)
	if !flagIsSet(c, yesFlag) {
		prompt := fmt.Sprintf("Trim user %q usage records?", owner)
		if owner == "" {
			prompt = "Trim every user's usage records?"
		}
		if !confirm(c, prompt) {
			return nil
		}
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		if err := s.TrimUsage(owner, start, end); err != nil {
			return err
		}
		actionDone(c, "usage records trimmed")
		return nil
	})
}

//
// data log
//

func datalogListHandler(c *cli.Context) error {
	from, err := parseTimeFlag(c, startTimeFlag)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(c, endTimeFlag)
	if err != nil {
		return err
	}
	max := parseIntFlag(c, maxFlag)
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		var (
			rows []teb.ChangeRow
			iter rgw.DataLogMarker
		)
	loop:
		for {
			changes, truncated, err := s.ListDataLog(from, to, &iter, listPageSize)
			if err != nil {
				return err
			}
			for i := range changes {
				ch := &changes[i]
				rows = append(rows, teb.ChangeRow{
					Timestamp: ch.Timestamp,
					Key:       ch.Key,
					LogID:     ch.LogID,
				})
				if max > 0 && len(rows) >= max {
					break loop
				}
			}
			if !truncated {
				break
			}
		}
		return printTable(c, rows, teb.DataLogTmpl)
	})
}

func datalogInfoHandler(c *cli.Context) error {
	shard := parseIntFlag(c, shardFlag)
	if shard < 0 {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(shardFlag))
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		hdr, err := s.DataLogInfo(uint32(shard))
		if err != nil {
			return err
		}
		return printTable(c, hdr, teb.DataLogInfoTmpl)
	})
}

func datalogTrimHandler(c *cli.Context) error {
	// a zero end time would trim nothing
	if !flagIsSet(c, endTimeFlag) {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(endTimeFlag))
	}
	from, err := parseTimeFlag(c, startTimeFlag)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(c, endTimeFlag)
	if err != nil {
		return err
	}
	if !flagIsSet(c, yesFlag) &&
		!confirm(c, fmt.Sprintf("Trim data-log records up to %s?", to.Format(time.RFC3339))) {
		return nil
	}
	shard := parseIntFlag(c, shardFlag)
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		if shard >= 0 {
			if err := s.TrimDataLog(uint32(shard), from, to); err != nil {
				return err
			}
			actionDone(c, fmt.Sprintf("data-log shard %d trimmed", shard))
			return nil
		}
		num := s.DataLogShards()
		for i := uint32(0); i < num; i++ {
			if err := s.TrimDataLog(i, from, to); err != nil {
				return err
			}
		}
		actionDone(c, fmt.Sprintf("%d data-log shard%s trimmed", num, cos.Plural(int(num))))
		return nil
	})
}

//
// garbage collection
//

func gcListHandler(c *cli.Context) error {
	max := parseIntFlag(c, maxFlag)
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		var (
			rows []teb.GCRow
			iter rgw.GCIter
		)
	loop:
		for {
			entries, truncated, err := s.ListGCObjs(&iter, listPageSize, !flagIsSet(c, allFlag))
			if err != nil {
				return err
			}
			for i := range entries {
				e := &entries[i]
				rows = append(rows, teb.GCRow{
					Tag:        e.Tag,
					Expiration: e.Time,
					Objects:    len(e.Chain.Objs),
				})
				if max > 0 && len(rows) >= max {
					break loop
				}
			}
			if !truncated {
				break
			}
		}
		return printTable(c, rows, teb.GCListTmpl)
	})
}

func gcProcessHandler(c *cli.Context) error {
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		removed, err := s.ProcessGC()
		if err != nil {
			return err
		}
		actionDone(c, fmt.Sprintf("removed %d object%s", removed, cos.Plural(removed)))
		return nil
	})
}

//
// quotas
//

// quotaTarget: exactly one of --uid and --bucket picks the quota scope.
func quotaTarget(c *cli.Context) (owner, bucket string, _ error) {
	owner = parseStrFlag(c, uidFlag)
	bucket = parseStrFlag(c, bucketFlag)
	switch {
	case owner != "" && bucket != "":
		return "", "", incorrectUsageMsg(c, errFmtExclusive, qflprn(uidFlag), qflprn(bucketFlag))
	case owner == "" && bucket == "":
		return "", "", incorrectUsageMsg(c, "expecting either %s or %s", qflprn(uidFlag), qflprn(bucketFlag))
	}
	return owner, bucket, nil
}

func getQuota(s *rgw.Store, owner, bucket string) (*rgw.QuotaInfo, error) {
	if owner != "" {
		return s.GetUserQuota(owner)
	}
	bi, err := s.GetBucketInfo(bucket)
	if err != nil {
		return nil, err
	}
	q := bi.Quota
	return &q, nil
}

func putQuota(s *rgw.Store, owner, bucket string, q *rgw.QuotaInfo) error {
	if owner != "" {
		return s.SetUserQuota(owner, q)
	}
	_, err := s.SetBucketQuota(bucket, q)
	return err
}

func quotaGetHandler(c *cli.Context) error {
	owner, bucket, err := quotaTarget(c)
	if err != nil {
		return err
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		q, err := getQuota(s, owner, bucket)
		if err != nil {
			return err
		}
		return printTable(c, q, teb.QuotaTmpl)
	})
}

func quotaSetHandler(c *cli.Context) error {
	owner, bucket, err := quotaTarget(c)
	if err != nil {
		return err
	}
	if !flagIsSet(c, maxSizeFlag) && !flagIsSet(c, maxObjectsFlag) {
		return incorrectUsageMsg(c, "expecting %s and/or %s", qflprn(maxSizeFlag), qflprn(maxObjectsFlag))
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		// read-modify-write: limits change, Enabled stays
		q, err := getQuota(s, owner, bucket)
		if err != nil {
			return err
		}
		if flagIsSet(c, maxSizeFlag) {
			size, err := parseSizeValue(c, maxSizeFlag)
			if err != nil {
				return err
			}
			if size < 0 {
				q.MaxSizeKB = -1
			} else {
				q.MaxSizeKB = cos.DivCeil(size, cos.KiB)
			}
		}
		if flagIsSet(c, maxObjectsFlag) {
			q.MaxObjects = parseInt64Flag(c, maxObjectsFlag)
		}
		if err := putQuota(s, owner, bucket, q); err != nil {
			return err
		}
		actionDone(c, "quota updated")
		return nil
	})
}

func quotaEnableHandler(c *cli.Context) error  { return setQuotaEnabled(c, true) }
func quotaDisableHandler(c *cli.Context) error { return setQuotaEnabled(c, false) }

func setQuotaEnabled(c *cli.Context, enabled bool) error {
	owner, bucket, err := quotaTarget(c)
	if err != nil {
		return err
	}
	return withStore(c, func(_ *rados.Cluster, s *rgw.Store) error {
		q, err := getQuota(s, owner, bucket)
		if err != nil {
			return err
		}
		q.Enabled = enabled
		if err := putQuota(s, owner, bucket, q); err != nil {
			return err
		}
		if enabled {
			actionDone(c, "quota enabled")
		} else {
			actionDone(c, "quota disabled")
		}
		return nil
	})
}
