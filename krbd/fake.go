/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package krbd

import (
	"sort"
	"sync"

	"github.com/NVIDIA/radstore/cmn/cos"
)

// FakeBus is an in-memory device table with kernel-like id assignment.
type FakeBus struct {
	devs map[int]Device
	next int
	mu   sync.Mutex
}

// interface guard
var _ DeviceBus = (*FakeBus)(nil)

func NewFakeBus() *FakeBus { return &FakeBus{devs: make(map[int]Device, 4)} }

func (b *FakeBus) Add(spec MapSpec) (Device, error) {
	if _, err := spec.line(); err != nil {
		return Device{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := Device{ID: b.next, Pool: spec.Pool, Image: spec.Image, Snap: spec.Snap}
	b.devs[d.ID] = d
	b.next++
	return d, nil
}

func (b *FakeBus) Remove(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.devs[id]; !ok {
		return cos.ErrNotFound
	}
	delete(b.devs, id)
	return nil
}

func (b *FakeBus) List() ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	devs := make([]Device, 0, len(b.devs))
	for _, d := range b.devs {
		devs = append(devs, d)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs, nil
}
