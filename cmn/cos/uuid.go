// Package cos provides common low-level types and utilities for all radstore packages
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"math/rand"
	"sync"
	"time"

	"github.com/NVIDIA/radstore/cmn/atomic"
	"github.com/teris-io/shortid"
)

// NOTE: BEWARE: `shortid` uses hardcoded 01/2016 as a starting timestamp

const (
	// Alphabet for generating UUIDs - similar to the shortid.DEFAULT_ABC
	// NOTE: len(uuidABC) > 0x3f - see GenTie()
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

	LenTag = 9 // RandString length when shortid generation fails
)

var (
	sids     [16]*shortid.Shortid
	sidsOnce sync.Once
	rtie     atomic.Int32
)

func initShortid() {
	seed := uint64(time.Now().UnixNano())
	for i := range sids {
		sids[i] = shortid.MustNew(uint8(i+1) /*worker*/, uuidABC, seed)
	}
}

// GenUUID generates unique and user-friendly IDs; used for write tags,
// OLH tags, notify cookies, and multipart upload IDs.
func GenUUID() (uuid string) {
	sidsOnce.Do(initShortid)
	var err error
	for _, sid := range sids {
		uuid, err = sid.Generate()
		if err == nil &&
			uuid[0] != '-' && uuid[0] != '_' && uuid[len(uuid)-1] != '-' && uuid[len(uuid)-1] != '_' {
			return
		}
	}
	return RandString(LenTag)
}

// GenTie generates a 3-character tie breaker (see jsp.Save).
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = uuidABC[rand.Intn(0x3f)]
	}
	return string(b)
}

// RandStringWithSrc draws from the given source (tests and benchmarks).
func RandStringWithSrc(src *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = uuidABC[src.Intn(0x3f)]
	}
	return string(b)
}
