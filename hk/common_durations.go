// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import "time"

// common cleanup-related durations

const (
	// hk timers
	UsageFlushIval = 30 * time.Second // flush pending usage-log entries
	QuotaSyncIval  = 10 * time.Second // write back dirty quota stats
	WatchSweepIval = 30 * time.Second // evict timed-out watchers
	GCIval         = time.Hour        // process expired garbage-collection chains
	MonTickIval    = 10 * time.Second // monitor session keepalive; subscription renewals

	//
	// when things are getting _old_
	//
	OldAgeWatcher = 90 * time.Second // watcher with no ack
	OldAgeSession = 3 * MonTickIval  // mon session with no keepalive
)
