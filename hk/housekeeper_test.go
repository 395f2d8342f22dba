// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"time"

	"github.com/NVIDIA/radstore/cmn/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	var hk *HK

	BeforeEach(func() {
		hk = New("test" + NameSuffix)
		go hk.Run()
		hk.WaitStarted()
	})

	AfterEach(func() {
		hk.Stop(nil)
	})

	It("should register the callback and fire it right away", func() {
		fired := atomic.NewBool(false)
		hk.Reg("fire-now", func(int64) time.Duration {
			fired.Store(true)
			return time.Second
		}, 0)

		time.Sleep(20 * time.Millisecond)
		Expect(fired.Load()).To(BeTrue()) // callback should be fired at the start
		fired.Store(false)

		time.Sleep(500 * time.Millisecond)
		Expect(fired.Load()).To(BeFalse())

		time.Sleep(600 * time.Millisecond)
		Expect(fired.Load()).To(BeTrue())
	})

	It("should register the callback and fire it after initial interval", func() {
		fired := atomic.NewBool(false)
		hk.Reg("fire-later", func(int64) time.Duration {
			fired.Store(true)
			return time.Second
		}, time.Second)

		time.Sleep(500 * time.Millisecond)
		Expect(fired.Load()).To(BeFalse())

		time.Sleep(600 * time.Millisecond)
		Expect(fired.Load()).To(BeTrue())
	})

	It("should register multiple callbacks and fire them in correct order", func() {
		var (
			firedSlow = atomic.NewBool(false)
			firedFast = atomic.NewBool(false)
		)
		hk.Reg("slow", func(int64) time.Duration {
			firedSlow.Store(true)
			return 2 * time.Second
		}, 0)
		hk.Reg("fast", func(int64) time.Duration {
			firedFast.Store(true)
			return time.Second
		}, 0)

		time.Sleep(20 * time.Millisecond)
		Expect(firedSlow.Load() && firedFast.Load()).To(BeTrue()) // both fired at the start
		firedSlow.Store(false)
		firedFast.Store(false)

		time.Sleep(500 * time.Millisecond)
		Expect(firedSlow.Load() || firedFast.Load()).To(BeFalse()) // no callback should be fired

		time.Sleep(600 * time.Millisecond)
		Expect(firedFast.Load()).To(BeTrue()) // the shorter interval goes off first
		Expect(firedSlow.Load()).To(BeFalse())

		time.Sleep(time.Second)
		Expect(firedSlow.Load() && firedFast.Load()).To(BeTrue())
	})

	It("should unregister callback", func() {
		var (
			firedFirst  = atomic.NewBool(false)
			firedSecond = atomic.NewBool(false)
		)
		hk.Reg("second", func(int64) time.Duration {
			firedSecond.Store(true)
			return 400 * time.Millisecond
		}, 0)
		hk.Reg("first", func(int64) time.Duration {
			firedFirst.Store(true)
			return 200 * time.Millisecond
		}, 0)

		time.Sleep(time.Second)
		Expect(firedFirst.Load() && firedSecond.Load()).To(BeTrue())

		firedFirst.Store(false)
		firedSecond.Store(false)
		hk.Unreg("first")

		time.Sleep(time.Second)
		Expect(firedFirst.Load()).To(BeFalse())
		Expect(firedSecond.Load()).To(BeTrue())

		hk.Unreg("second")
	})

	It("should unregister the callback that returns UnregInterval", func() {
		cnt := atomic.NewInt32(0)
		hk.Reg("one-shot", func(int64) time.Duration {
			cnt.Inc()
			return UnregInterval
		}, 50*time.Millisecond)

		time.Sleep(200 * time.Millisecond)
		Expect(cnt.Load()).To(BeEquivalentTo(1))

		time.Sleep(300 * time.Millisecond)
		Expect(cnt.Load()).To(BeEquivalentTo(1)) // never again
	})

	It("should keep instances isolated", func() {
		other := New("other" + NameSuffix)
		go other.Run()
		other.WaitStarted()
		defer other.Stop(nil)

		var (
			firedHere  = atomic.NewBool(false)
			firedThere = atomic.NewBool(false)
		)
		// same name on both - no cross-instance collision
		hk.Reg("shared", func(int64) time.Duration {
			firedHere.Store(true)
			return time.Second
		}, 0)
		other.Reg("shared", func(int64) time.Duration {
			firedThere.Store(true)
			return time.Second
		}, 0)

		time.Sleep(50 * time.Millisecond)
		Expect(firedHere.Load()).To(BeTrue())
		Expect(firedThere.Load()).To(BeTrue())
	})
})
