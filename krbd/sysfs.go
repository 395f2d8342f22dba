/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package krbd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/NVIDIA/radstore/cmn/cos"
)

// DefaultSysfsRoot is where the kernel rbd driver exposes its bus.
const DefaultSysfsRoot = "/sys/bus/rbd"

// SysfsBus drives the kernel rbd module. Writes to add/remove need
// root; permission errors come back as-is.
type SysfsBus struct {
	root string
}

// interface guard
var _ DeviceBus = (*SysfsBus)(nil)

func NewSysfsBus() *SysfsBus { return &SysfsBus{root: DefaultSysfsRoot} }

// NewSysfsBusAt points the bus at a non-default root.
func NewSysfsBusAt(root string) *SysfsBus { return &SysfsBus{root: root} }

func (b *SysfsBus) Add(spec MapSpec) (Device, error) {
	line, err := spec.line()
	if err != nil {
		return Device{}, err
	}
	before := make(map[int]struct{}, 8)
	if devs, err := b.List(); err == nil {
		for _, d := range devs {
			before[d.ID] = struct{}{}
		}
	}
	if err := os.WriteFile(filepath.Join(b.root, "add"), []byte(line), 0o200); err != nil {
		return Device{}, err
	}
	devs, err := b.List()
	if err != nil {
		return Device{}, err
	}
	// the new device is the matching one that was not there before;
	// an already-mapped match is good enough when none appeared
	var match *Device
	for i := range devs {
		d := &devs[i]
		if d.Pool != spec.Pool || d.Image != spec.Image || d.Snap != spec.Snap {
			continue
		}
		if _, old := before[d.ID]; !old {
			return *d, nil
		}
		match = d
	}
	if match != nil {
		return *match, nil
	}
	return Device{}, fmt.Errorf("mapped %s/%s but no device appeared under %s", spec.Pool, spec.Image, b.root)
}

func (b *SysfsBus) Remove(id int) error {
	return os.WriteFile(filepath.Join(b.root, "remove"), []byte(strconv.Itoa(id)), 0o200)
}

func (b *SysfsBus) List() ([]Device, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "devices"))
	if err != nil {
		if os.IsNotExist(err) { // driver not loaded
			return nil, nil
		}
		return nil, err
	}
	devs := make([]Device, 0, len(entries))
	for _, e := range entries {
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(b.root, "devices", e.Name())
		dev := Device{
			ID:    id,
			Pool:  readAttr(dir, "pool"),
			Image: readAttr(dir, "name"),
			Snap:  readAttr(dir, "current_snap"),
		}
		if dev.Snap == "-" { // the kernel's spelling of "head"
			dev.Snap = ""
		}
		devs = append(devs, dev)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// FindDevice resolves a device path ("/dev/rbd0"), bare id, or
// pool/image[@snap] spec to a mapped device.
func FindDevice(bus DeviceBus, arg string) (Device, error) {
	devs, err := bus.List()
	if err != nil {
		return Device{}, err
	}
	if id, ok := deviceID(arg); ok {
		for _, d := range devs {
			if d.ID == id {
				return d, nil
			}
		}
	} else {
		pool, rest := "rbd", arg
		if i := strings.Index(rest, "/"); i >= 0 {
			pool, rest = rest[:i], rest[i+1:]
		}
		image, snap := rest, ""
		if i := strings.Index(rest, "@"); i >= 0 {
			image, snap = rest[:i], rest[i+1:]
		}
		for _, d := range devs {
			if d.Pool == pool && d.Image == image && d.Snap == snap {
				return d, nil
			}
		}
	}
	return Device{}, fmt.Errorf("%s is not a mapped rbd device: %w", arg, cos.ErrInvalid)
}

func deviceID(arg string) (int, bool) {
	s := strings.TrimPrefix(arg, "/dev/rbd")
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
