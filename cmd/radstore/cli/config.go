// Package cli provides the 'radstore' command-line utility to administer a radstore cluster.
// This file contains the CLI configuration and cluster bootstrap.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"os"
	"strings"

	"github.com/NVIDIA/radstore/cmd/config"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
	"github.com/NVIDIA/radstore/rgw"
	"github.com/urfave/cli"
)

var cfg *config.Config

// Init loads the CLI configuration before the app runs so that
// '--conf' and the environment take effect globally.
func Init(args []string) (err error) {
	path := os.Getenv(config.EnvConf)
	for i, a := range args {
		switch {
		case a == "-c" || a == "--conf":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(a, "--conf="):
			path = strings.TrimPrefix(a, "--conf=")
		}
	}
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	if dir, ok := os.LookupEnv(config.EnvClusterDir); ok {
		cfg.Cluster.Dir = dir
	}
	if cos.IsParseBool(os.Getenv(config.EnvNoColor)) {
		cfg.NoColor = true
	}
	return nil
}

// openCluster opens the cluster the config points to; the caller closes it.
func openCluster(c *cli.Context) (*rados.Cluster, error) {
	id := cfg.Cluster.ID
	if flagIsSet(c, idFlag) {
		id = parseStrFlag(c, idFlag)
	}
	return rados.New(rados.Config{
		ID:    id,
		Dir:   cfg.Cluster.Dir,
		PGNum: cfg.Cluster.PGNum,
	})
}

func withCluster(c *cli.Context, action func(cl *rados.Cluster) error) error {
	cl, err := openCluster(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	return action(cl)
}

// withStore opens the object gateway on top of the cluster; gateway pools
// are created on first use.
func withStore(c *cli.Context, action func(cl *rados.Cluster, s *rgw.Store) error) error {
	return withCluster(c, func(cl *rados.Cluster) error {
		s, err := rgw.Open(cl, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		return action(cl, s)
	})
}
