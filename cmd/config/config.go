// Package config provides types and functions to configure the radstore CLIs.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NVIDIA/radstore/cmn/jsp"
)

// default pathname: $HOME/.config/radstore/cli.json

// environment overrides
const (
	EnvConf       = "RADSTORE_CONF"        // config file to use instead of the default
	EnvClusterDir = "RADSTORE_CLUSTER_DIR" // overrides cluster.dir
	EnvNoColor    = "RADSTORE_NO_COLOR"
	EnvSysfsRoot  = "RADSTORE_SYSFS_ROOT" // rbd bus root for map/unmap (testing)
)

const (
	configDirName = "radstore"
	configFname   = "cli.json"

	defaultClusterDirName = ".radstore"
	defaultMons           = "127.0.0.1:6789"
)

type (
	ClusterConfig struct {
		Dir   string `json:"dir"` // data directory; empty = memory only (nothing survives the run)
		ID    string `json:"id"`  // client entity name
		PGNum int    `json:"pg_num,omitempty"`
	}
	RBDConfig struct {
		DefaultPool string `json:"default_pool"`
	}

	// all of the above
	Config struct {
		Cluster ClusterConfig `json:"cluster"`
		RBD     RBDConfig     `json:"rbd"`
		Mons    string        `json:"mons"` // comma-separated; handed to the kernel on map
		NoColor bool          `json:"no_color"`
		Verbose bool          `json:"verbose"`
	}
)

var (
	ConfigDir     string
	defaultConfig Config
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	ConfigDir = filepath.Join(home, ".config", configDirName)
	defaultConfig = Config{
		Cluster: ClusterConfig{
			Dir: filepath.Join(home, defaultClusterDirName),
			ID:  "admin",
		},
		RBD:  RBDConfig{DefaultPool: "rbd"},
		Mons: defaultMons,
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := &Config{}
	if err := jsp.Load(path, cfg, jsp.Plain()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load CLI config %q: %v", path, err)
		}
		// use (and persist) the default config
		cfg := &defaultConfig
		if path != Path() {
			return nil, fmt.Errorf("failed to load CLI config %q: %v", path, err)
		}
		err = Save(cfg)
		return cfg, err
	}
	if cfg.Cluster.ID == "" {
		cfg.Cluster.ID = defaultConfig.Cluster.ID
	}
	if cfg.RBD.DefaultPool == "" {
		cfg.RBD.DefaultPool = defaultConfig.RBD.DefaultPool
	}
	if cfg.Mons == "" {
		cfg.Mons = defaultMons
	}
	return cfg, nil
}

func Reset() error { return Save(&defaultConfig) }

func Save(cfg *Config) error {
	if err := jsp.Save(Path(), cfg, jsp.Options{Indent: true}); err != nil {
		return fmt.Errorf("failed to save config file: %v", err)
	}
	return nil
}

func Path() string { return filepath.Join(ConfigDir, configFname) }
