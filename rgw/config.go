/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/hk"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RADSTORE_RGW_"

type (
	// Config carries the gateway tunables. Zero values are filled in by
	// Validate; the struct round-trips through the cluster YAML config
	// under a top-level "rgw" key, with RADSTORE_RGW_* environment
	// overrides applied on top.
	Config struct {
		DomainRootPool string `yaml:"domain_root_pool"`
		DataPool       string `yaml:"data_pool"`
		IndexPool      string `yaml:"index_pool"`
		GCPool         string `yaml:"gc_pool"`
		LogPool        string `yaml:"log_pool"`
		UsagePool      string `yaml:"usage_pool"`
		UserPool       string `yaml:"user_pool"`

		// BucketIndexShards: default shard count for new buckets; 0 keeps
		// a single unsharded index object
		BucketIndexShards uint32 `yaml:"bucket_index_shards"`

		MaxChunkSize  int64 `yaml:"max_chunk_size"`
		ObjStripeSize int64 `yaml:"obj_stripe_size"`
		PutMinWindow  int64 `yaml:"put_min_window"`

		OLHPendingTimeout cos.Duration `yaml:"olh_pending_timeout"`

		GC      GCConf      `yaml:"gc"`
		Usage   UsageConf   `yaml:"usage"`
		OpsLog  OpsLogConf  `yaml:"ops_log"`
		DataLog DataLogConf `yaml:"data_log"`
		Quota   QuotaConf   `yaml:"quota"`
	}

	GCConf struct {
		Enabled bool   `yaml:"enabled"`
		Shards  uint32 `yaml:"shards"`
		// MinWait: grace period before a queued chain becomes collectable
		MinWait cos.Duration `yaml:"min_wait"`
		// ProcessPeriod: hk interval between collection passes
		ProcessPeriod cos.Duration `yaml:"process_period"`
	}

	UsageConf struct {
		Shards     uint32 `yaml:"shards"`
		UserShards uint32 `yaml:"user_shards"`
		// FlushThreshold: pending entries that force an early flush
		FlushThreshold int          `yaml:"flush_threshold"`
		TickIval       cos.Duration `yaml:"tick_interval"`
	}

	OpsLogConf struct {
		ObjectName string `yaml:"object_name"`
		UTC        bool   `yaml:"object_name_utc"`
	}

	DataLogConf struct {
		Shards uint32       `yaml:"shards"`
		Window cos.Duration `yaml:"window"`
	}

	QuotaConf struct {
		CacheSize     int          `yaml:"cache_size"`
		BucketTTL     cos.Duration `yaml:"bucket_ttl"`
		UserTTL       cos.Duration `yaml:"user_ttl"`
		SoftThreshold float64      `yaml:"soft_threshold"`
		// BucketSyncIval: write-back of modified buckets into user headers
		BucketSyncIval cos.Duration `yaml:"bucket_sync_interval"`
		// UserSyncIval: full resync of known users
		UserSyncIval  cos.Duration `yaml:"user_sync_interval"`
		SyncIdleUsers bool         `yaml:"sync_idle_users"`
	}
)

// Validate fills defaults and rejects nonsensical combinations.
func (c *Config) Validate() error {
	if c.DomainRootPool == "" {
		c.DomainRootPool = ".rgw"
	}
	if c.DataPool == "" {
		c.DataPool = ".rgw.buckets"
	}
	if c.IndexPool == "" {
		c.IndexPool = ".rgw.buckets.index"
	}
	if c.GCPool == "" {
		c.GCPool = ".rgw.gc"
	}
	if c.LogPool == "" {
		c.LogPool = ".log"
	}
	if c.UsagePool == "" {
		c.UsagePool = ".usage"
	}
	if c.UserPool == "" {
		c.UserPool = ".users.uid"
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 4 * cos.MiB
	}
	if c.ObjStripeSize == 0 {
		c.ObjStripeSize = 4 * cos.MiB
	}
	if c.PutMinWindow == 0 {
		c.PutMinWindow = 16 * cos.MiB
	}
	if c.MaxChunkSize > c.ObjStripeSize {
		c.MaxChunkSize = c.ObjStripeSize
	}
	if c.OLHPendingTimeout == 0 {
		c.OLHPendingTimeout = cos.Duration(time.Hour)
	}
	if c.BucketIndexShards >= bucketIndexPrime {
		return fmt.Errorf("rgw config: bucket_index_shards %d must be under %d: %w",
			c.BucketIndexShards, bucketIndexPrime, cos.ErrInvalid)
	}
	if c.GC.Shards == 0 {
		c.GC.Shards = 32
	}
	if c.GC.MinWait == 0 {
		c.GC.MinWait = cos.Duration(2 * time.Hour)
	}
	if c.GC.ProcessPeriod == 0 {
		c.GC.ProcessPeriod = cos.Duration(hk.GCIval)
	}
	if c.Usage.Shards == 0 {
		c.Usage.Shards = 32
	}
	if c.Usage.UserShards == 0 {
		c.Usage.UserShards = 1
	}
	if c.Usage.FlushThreshold == 0 {
		c.Usage.FlushThreshold = 1024
	}
	if c.Usage.TickIval == 0 {
		c.Usage.TickIval = cos.Duration(hk.UsageFlushIval)
	}
	if c.OpsLog.ObjectName == "" {
		c.OpsLog.ObjectName = "%Y-%m-%d-%H-%i-%n"
	}
	if c.DataLog.Shards == 0 {
		c.DataLog.Shards = 128
	}
	if c.DataLog.Window == 0 {
		c.DataLog.Window = cos.Duration(30 * time.Second)
	}
	if c.Quota.CacheSize == 0 {
		c.Quota.CacheSize = 10000
	}
	if c.Quota.BucketTTL == 0 {
		c.Quota.BucketTTL = cos.Duration(600 * time.Second)
	}
	if c.Quota.UserTTL == 0 {
		c.Quota.UserTTL = cos.Duration(600 * time.Second)
	}
	if c.Quota.SoftThreshold == 0 {
		c.Quota.SoftThreshold = 0.95
	}
	if c.Quota.SoftThreshold < 0 || c.Quota.SoftThreshold > 1 {
		return fmt.Errorf("rgw config: quota soft_threshold %.2f out of [0, 1]: %w",
			c.Quota.SoftThreshold, cos.ErrInvalid)
	}
	if c.Quota.BucketSyncIval == 0 {
		c.Quota.BucketSyncIval = cos.Duration(hk.QuotaSyncIval)
	}
	if c.Quota.UserSyncIval == 0 {
		c.Quota.UserSyncIval = cos.Duration(hk.DayInterval)
	}
	return nil
}

// LoadConfig reads the "rgw" section of the cluster YAML config,
// applies environment overrides, and validates. A missing file yields
// the defaults (still subject to the environment).
func LoadConfig(path string) (*Config, error) {
	var wrap struct {
		RGW Config `yaml:"rgw"`
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &wrap); err != nil {
				return nil, fmt.Errorf("rgw config %s: %v", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, err
		}
	}
	c := &wrap.RGW
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	overrides := []struct {
		name string
		set  func(string) error
	}{
		{"DOMAIN_ROOT_POOL", setStr(&c.DomainRootPool)},
		{"DATA_POOL", setStr(&c.DataPool)},
		{"INDEX_POOL", setStr(&c.IndexPool)},
		{"GC_POOL", setStr(&c.GCPool)},
		{"LOG_POOL", setStr(&c.LogPool)},
		{"USAGE_POOL", setStr(&c.UsagePool)},
		{"USER_POOL", setStr(&c.UserPool)},
		{"BUCKET_INDEX_SHARDS", setU32(&c.BucketIndexShards)},
		{"MAX_CHUNK_SIZE", setI64(&c.MaxChunkSize)},
		{"OBJ_STRIPE_SIZE", setI64(&c.ObjStripeSize)},
		{"PUT_MIN_WINDOW", setI64(&c.PutMinWindow)},
		{"OLH_PENDING_TIMEOUT", setDur(&c.OLHPendingTimeout)},
		{"GC_ENABLED", setBool(&c.GC.Enabled)},
		{"GC_SHARDS", setU32(&c.GC.Shards)},
		{"GC_MIN_WAIT", setDur(&c.GC.MinWait)},
		{"GC_PROCESS_PERIOD", setDur(&c.GC.ProcessPeriod)},
		{"USAGE_SHARDS", setU32(&c.Usage.Shards)},
		{"USAGE_USER_SHARDS", setU32(&c.Usage.UserShards)},
		{"USAGE_FLUSH_THRESHOLD", setInt(&c.Usage.FlushThreshold)},
		{"USAGE_TICK_INTERVAL", setDur(&c.Usage.TickIval)},
		{"LOG_OBJECT_NAME", setStr(&c.OpsLog.ObjectName)},
		{"LOG_OBJECT_NAME_UTC", setBool(&c.OpsLog.UTC)},
		{"DATA_LOG_SHARDS", setU32(&c.DataLog.Shards)},
		{"DATA_LOG_WINDOW", setDur(&c.DataLog.Window)},
		{"QUOTA_CACHE_SIZE", setInt(&c.Quota.CacheSize)},
		{"QUOTA_BUCKET_TTL", setDur(&c.Quota.BucketTTL)},
		{"QUOTA_USER_TTL", setDur(&c.Quota.UserTTL)},
		{"QUOTA_SOFT_THRESHOLD", setF64(&c.Quota.SoftThreshold)},
		{"QUOTA_SYNC_IDLE_USERS", setBool(&c.Quota.SyncIdleUsers)},
	}
	for _, o := range overrides {
		val, ok := os.LookupEnv(envPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.set(val); err != nil {
			return fmt.Errorf("rgw config: %s%s=%q: %v", envPrefix, o.name, val, err)
		}
	}
	return nil
}

func setStr(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func setBool(p *bool) func(string) error {
	return func(v string) (err error) { *p, err = strconv.ParseBool(v); return }
}

func setInt(p *int) func(string) error {
	return func(v string) (err error) { *p, err = strconv.Atoi(v); return }
}

func setI64(p *int64) func(string) error {
	return func(v string) (err error) { *p, err = strconv.ParseInt(v, 10, 64); return }
}

func setU32(p *uint32) func(string) error {
	return func(v string) error {
		u, err := strconv.ParseUint(v, 10, 32)
		*p = uint32(u)
		return err
	}
}

func setF64(p *float64) func(string) error {
	return func(v string) (err error) { *p, err = strconv.ParseFloat(v, 64); return }
}

func setDur(p *cos.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		*p = cos.Duration(d)
		return err
	}
}
