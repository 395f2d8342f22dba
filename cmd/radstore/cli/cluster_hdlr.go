// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains cluster-scope commands: status, df, pools, placement
// groups, the client blacklist, journal recovery, and the cluster log.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NVIDIA/radstore/cmd/teb"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/mds"
	"github.com/NVIDIA/radstore/mon"
	"github.com/NVIDIA/radstore/rados"
	"github.com/urfave/cli"
)

var (
	statusCmd = cli.Command{
		Name:   commandStatus,
		Usage:  "show cluster identity, epoch, and storage totals",
		Flags:  []cli.Flag{jsonFlag},
		Action: statusHandler,
	}
	dfCmd = cli.Command{
		Name:   commandDf,
		Usage:  "show per-pool object counts and space usage",
		Flags:  []cli.Flag{jsonFlag},
		Action: dfHandler,
	}
	poolCmd = cli.Command{
		Name:  commandPool,
		Usage: "create, list, remove, export, and import pools",
		Subcommands: []cli.Command{
			{
				Name:      cmdCreate,
				Usage:     "create a pool",
				ArgsUsage: poolArgument,
				Action:    poolCreateHandler,
			},
			{
				Name:   cmdList,
				Usage:  "list pool names",
				Flags:  []cli.Flag{jsonFlag},
				Action: poolListHandler,
			},
			{
				Name:      cmdRemove,
				Usage:     "remove a pool and all of its objects",
				ArgsUsage: poolArgument,
				Flags:     []cli.Flag{yesFlag},
				Action:    poolRemoveHandler,
			},
			{
				Name:      cmdExport,
				Usage:     "serialize a pool and its objects to a file ('-' for stdout)",
				ArgsUsage: exportArgument,
				Action:    poolExportHandler,
			},
			{
				Name:      cmdImport,
				Usage:     "load a previously exported pool from a file ('-' for stdin)",
				ArgsUsage: importArgument,
				Action:    poolImportHandler,
			},
		},
	}
	pgCmd = cli.Command{
		Name:  commandPG,
		Usage: "inspect placement groups",
		Subcommands: []cli.Command{
			{
				Name:      cmdLogView,
				Usage:     "show a placement group's log of recent operations",
				ArgsUsage: pgArgument,
				Flags:     []cli.Flag{jsonFlag},
				Action:    pgLogHandler,
			},
			{
				Name:      cmdInfo,
				Usage:     "show a placement group's summary record",
				ArgsUsage: pgArgument,
				Flags:     []cli.Flag{jsonFlag},
				Action:    pgInfoHandler,
			},
		},
	}
	blacklistCmd = cli.Command{
		Name:  commandBlacklist,
		Usage: "manage the client blacklist",
		Subcommands: []cli.Command{
			{
				Name:      cmdAdd,
				Usage:     "blacklist a client address",
				ArgsUsage: addrArgument,
				Flags:     []cli.Flag{expireFlag},
				Action:    blacklistAddHandler,
			},
			{
				Name:      cmdRemove,
				Usage:     "remove an address from the blacklist",
				ArgsUsage: addrArgument,
				Action:    blacklistRemoveHandler,
			},
			{
				Name:   cmdList,
				Usage:  "list blacklisted addresses",
				Flags:  []cli.Flag{jsonFlag},
				Action: blacklistListHandler,
			},
		},
	}
	journalCmd = cli.Command{
		Name:  commandJournal,
		Usage: "filesystem journal recovery",
		Subcommands: []cli.Command{
			{
				Name:   cmdReset,
				Usage:  "reset an mds rank's journal, discarding uncommitted events",
				Flags:  []cli.Flag{rankFlag, metaPoolFlag, yesFlag},
				Action: journalResetHandler,
			},
		},
	}
	logCmd = cli.Command{
		Name:  commandLog,
		Usage: "cluster log",
		Subcommands: []cli.Command{
			{
				Name:   cmdTail,
				Usage:  "stream the cluster log (press ctrl-c to exit)",
				Flags:  []cli.Flag{levelFlag},
				Action: logTailHandler,
			},
		},
	}
)

type clusterStatus struct {
	FSID    string `json:"fsid"`
	Epoch   uint32 `json:"epoch"`
	Client  string `json:"client"`
	Addr    string `json:"addr"`
	Pools   int    `json:"pools"`
	Objects int64  `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

func statusHandler(c *cli.Context) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		pools := cl.ListPools()
		st := clusterStatus{
			FSID:   cl.FSID(),
			Epoch:  cl.Epoch(),
			Client: "client." + cl.ClientID(),
			Addr:   cl.ClientAddr(),
			Pools:  len(pools),
		}
		for i := range pools {
			st.Objects += pools[i].Objects
			st.Bytes += pools[i].Bytes
		}
		if flagIsSet(c, jsonFlag) {
			return printTable(c, st, "")
		}
		w := c.App.Writer
		fmt.Fprintln(w, "  cluster:")
		fmt.Fprintf(w, "    id:     %s\n", st.FSID)
		fmt.Fprintf(w, "    epoch:  %d\n", st.Epoch)
		fmt.Fprintln(w, "\n  services:")
		fmt.Fprintf(w, "    client: %s at %s\n", st.Client, st.Addr)
		fmt.Fprintln(w, "\n  data:")
		fmt.Fprintf(w, "    pools:   %d pool%s, %d object%s\n",
			st.Pools, cos.Plural(st.Pools), st.Objects, cos.Plural(int(st.Objects)))
		fmt.Fprintf(w, "    usage:   %s used\n", cos.ToSizeIEC(st.Bytes, 2))
		return nil
	})
}

func dfHandler(c *cli.Context) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		return printTable(c, cl.ListPools(), teb.DfTmpl)
	})
}

//
// pools
//

func poolCreateHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, poolArgument)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		if _, err := cl.CreatePool(name); err != nil {
			return err
		}
		actionDone(c, fmt.Sprintf("pool %q created", name))
		return nil
	})
}

func poolListHandler(c *cli.Context) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		pools := cl.ListPools()
		names := make([]string, 0, len(pools))
		for i := range pools {
			names = append(names, pools[i].Name)
		}
		return printTable(c, names, teb.NamesTmpl)
	})
}

func poolRemoveHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, poolArgument)
	}
	if !flagIsSet(c, yesFlag) &&
		!confirm(c, fmt.Sprintf("Remove pool %q and all of its objects?", name)) {
		return nil
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		if err := cl.DeletePool(name); err != nil {
			return err
		}
		actionDone(c, fmt.Sprintf("pool %q removed", name))
		return nil
	})
}

func poolExportHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, poolArgument)
	}
	dst := c.Args().Get(1)
	if dst == "" {
		return missingArgumentsError(c, "DST-PATH")
	}
	w, closeW, err := openDst(dst)
	if err != nil {
		return err
	}
	err = withCluster(c, func(cl *rados.Cluster) error {
		return cl.ExportPool(name, w)
	})
	if cerr := closeW(); err == nil {
		err = cerr
	}
	// nothing but the pool image may reach stdout
	if err == nil && dst != stdIO {
		actionDone(c, fmt.Sprintf("pool %q exported to %s", name, dst))
	}
	return err
}

func poolImportHandler(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return missingArgumentsError(c, poolArgument)
	}
	src := c.Args().Get(1)
	if src == "" {
		return missingArgumentsError(c, "SRC-PATH")
	}
	r, closeR, err := openSrc(src)
	if err != nil {
		return err
	}
	err = withCluster(c, func(cl *rados.Cluster) error {
		return cl.ImportPool(name, r)
	})
	if cerr := closeR(); err == nil {
		err = cerr
	}
	if err == nil {
		actionDone(c, fmt.Sprintf("pool %q imported from %s", name, src))
	}
	return err
}

func openDst(path string) (io.Writer, func() error, error) {
	if path == stdIO {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func openSrc(path string) (io.Reader, func() error, error) {
	if path == stdIO {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

//
// placement groups
//

func pgLogHandler(c *cli.Context) error {
	arg := c.Args().First()
	if arg == "" {
		return missingArgumentsError(c, pgArgument)
	}
	pool, pgid, err := parsePG(c, arg)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		entries, err := cl.PGLog(pool, pgid)
		if err != nil {
			return err
		}
		return printTable(c, entries, teb.PGLogTmpl)
	})
}

func pgInfoHandler(c *cli.Context) error {
	arg := c.Args().First()
	if arg == "" {
		return missingArgumentsError(c, pgArgument)
	}
	pool, pgid, err := parsePG(c, arg)
	if err != nil {
		return err
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		info, err := cl.PGInfo(pool, pgid)
		if err != nil {
			return err
		}
		return printTable(c, info, teb.PGInfoTmpl)
	})
}

//
// blacklist
//

func blacklistAddHandler(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return missingArgumentsError(c, addrArgument)
	}
	expire := parseDurationFlag(c, expireFlag)
	return withCluster(c, func(cl *rados.Cluster) error {
		cl.BlocklistAdd(addr, expire)
		until := time.Now().Add(expire)
		actionDone(c, fmt.Sprintf("blacklisting %s until %s (%d sec)",
			addr, until.Format(time.RFC3339), int64(expire.Seconds())))
		return nil
	})
}

func blacklistRemoveHandler(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return missingArgumentsError(c, addrArgument)
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		if err := cl.BlocklistRm(addr); err != nil {
			return err
		}
		actionDone(c, "un-blacklisting "+addr)
		return nil
	})
}

func blacklistListHandler(c *cli.Context) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		return printTable(c, cl.Blocklist(), teb.BlacklistTmpl)
	})
}

//
// journal recovery
//

func journalResetHandler(c *cli.Context) error {
	if !flagIsSet(c, rankFlag) {
		return incorrectUsageMsg(c, "missing required flag %s", qflprn(rankFlag))
	}
	rank := parseIntFlag(c, rankFlag)
	if !flagIsSet(c, yesFlag) &&
		!confirm(c, "Proceed?", "Resetting the journal discards all uncommitted events.") {
		return nil
	}
	return withCluster(c, func(cl *rados.Cluster) error {
		r := mds.Resetter{Out: c.App.Writer}
		return r.Reset(context.Background(), cl, rank, parseStrFlag(c, metaPoolFlag))
	})
}

//
// cluster log
//

// logTailHandler runs a monitor in-process: the cluster log is a monitor
// subscription, and there is no daemon to attach to.
func logTailHandler(c *cli.Context) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		var (
			entity = "client." + cl.ClientID()
			secret = cos.GenUUID()
			kr     = &mon.Keyring{}
		)
		kr.Add(entity, []byte(secret), "allow *")
		bus := mon.NewBus()
		srv, err := mon.NewServer(cl, bus, mon.ServerConfig{Keyring: kr})
		if err != nil {
			return err
		}
		defer srv.Close()
		mc, err := mon.NewMonClient(bus, mon.ClientConfig{
			Entity: entity,
			Secret: []byte(secret),
			MonMap: srv.MonMap(),
		})
		if err != nil {
			return err
		}
		defer mc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = mc.Authenticate(ctx)
		cancel()
		if err != nil {
			return err
		}
		err = mc.StartLogging(parseStrFlag(c, levelFlag), func(line string) {
			fmt.Fprintln(c.App.Writer, line)
		})
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", qflprn(levelFlag), parseStrFlag(c, levelFlag), err)
		}
		select {} // ctrl-c exits via the interrupt handler
	})
}
