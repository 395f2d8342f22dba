/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package krbd

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/tools/tassert"
)

func TestMapLine(t *testing.T) {
	spec := MapSpec{Mons: "127.0.0.1:6789,127.0.0.2:6789", User: "admin", Secret: "sekrit", Pool: "rbd", Image: "disk0"}
	line, err := spec.line()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, line == "127.0.0.1:6789,127.0.0.2:6789 name=admin,key=sekrit rbd disk0", "line %q", line)

	spec.Snap = "base"
	line, err = spec.line()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, line == "127.0.0.1:6789,127.0.0.2:6789 name=admin,key=sekrit rbd disk0 base", "line %q", line)

	spec.Options = []string{"ro", "queue_depth=16"}
	line, err = spec.line()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t,
		line == "127.0.0.1:6789,127.0.0.2:6789 name=admin,key=sekrit,ro,queue_depth=16 rbd disk0 base",
		"line %q", line)

	for _, bad := range []MapSpec{
		{Pool: "rbd", Image: "disk0"},
		{Mons: "m", Image: "disk0"},
		{Mons: "m", Pool: "rbd"},
	} {
		_, err := bad.line()
		tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "%+v: expected EINVAL, got %v", bad, err)
	}
}

func TestFakeBus(t *testing.T) {
	bus := NewFakeBus()
	spec := MapSpec{Mons: "m", User: "admin", Secret: "k", Pool: "rbd", Image: "disk0"}

	d0, err := bus.Add(spec)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, d0.ID == 0 && d0.Path() == "/dev/rbd0", "device %+v", d0)

	spec.Image, spec.Snap = "disk1", "base"
	d1, err := bus.Add(spec)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, d1.ID == 1 && d1.Snap == "base", "device %+v", d1)

	devs, err := bus.List()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(devs) == 2 && devs[0] == d0 && devs[1] == d1, "list %+v", devs)

	tassert.CheckFatal(t, bus.Remove(0))
	err = bus.Remove(0)
	tassert.Errorf(t, cos.IsErrNotFound(err), "double remove: %v", err)

	devs, err = bus.List()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(devs) == 1 && devs[0].ID == 1, "list after remove %+v", devs)
}

// seedDevice lays out the sysfs attribute files the way the kernel
// driver does.
func seedDevice(t *testing.T, root string, id int, pool, image, snap string) {
	t.Helper()
	dir := filepath.Join(root, "devices", strconv.Itoa(id))
	tassert.CheckFatal(t, os.MkdirAll(dir, 0o755))
	for name, val := range map[string]string{"pool": pool, "name": image, "current_snap": snap} {
		tassert.CheckFatal(t, os.WriteFile(filepath.Join(dir, name), []byte(val+"\n"), 0o644))
	}
}

func TestSysfsBusList(t *testing.T) {
	root := t.TempDir()
	seedDevice(t, root, 0, "rbd", "disk0", "-")
	seedDevice(t, root, 2, "vms", "disk1", "base")

	bus := NewSysfsBusAt(root)
	devs, err := bus.List()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(devs) == 2, "list %+v", devs)
	tassert.Errorf(t, devs[0] == (Device{ID: 0, Pool: "rbd", Image: "disk0"}), "dev0 %+v", devs[0])
	tassert.Errorf(t, devs[1] == (Device{ID: 2, Pool: "vms", Image: "disk1", Snap: "base"}), "dev2 %+v", devs[1])

	// no devices dir at all: driver not loaded, not an error
	empty := NewSysfsBusAt(t.TempDir())
	devs, err = empty.List()
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(devs) == 0, "empty list %+v", devs)
}

func TestSysfsBusAddRemove(t *testing.T) {
	root := t.TempDir()
	seedDevice(t, root, 0, "rbd", "disk0", "")

	bus := NewSysfsBusAt(root)
	spec := MapSpec{Mons: "127.0.0.1:6789", User: "admin", Secret: "k", Pool: "rbd", Image: "disk0"}
	dev, err := bus.Add(spec)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, dev.ID == 0 && dev.Image == "disk0", "device %+v", dev)

	b, err := os.ReadFile(filepath.Join(root, "add"))
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "127.0.0.1:6789 name=admin,key=k rbd disk0", "add line %q", b)

	tassert.CheckFatal(t, bus.Remove(0))
	b, err = os.ReadFile(filepath.Join(root, "remove"))
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(b) == "0", "remove line %q", b)

	// an unreachable bus root surfaces the write error
	dead := NewSysfsBusAt(filepath.Join(root, "no", "such", "dir"))
	_, err = dead.Add(spec)
	tassert.Fatalf(t, err != nil, "expected a write error")
}

func TestFindDevice(t *testing.T) {
	bus := NewFakeBus()
	spec := MapSpec{Mons: "m", Pool: "rbd", Image: "disk0"}
	d0, err := bus.Add(spec)
	tassert.CheckFatal(t, err)
	spec.Image, spec.Snap = "disk1", "base"
	d1, err := bus.Add(spec)
	tassert.CheckFatal(t, err)

	for arg, want := range map[string]Device{
		"/dev/rbd0":      d0,
		"0":              d0,
		"rbd/disk0":      d0,
		"disk0":          d0,
		"rbd/disk1@base": d1,
	} {
		got, err := FindDevice(bus, arg)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, got == want, "%q: got %+v, want %+v", arg, got, want)
	}

	_, err = FindDevice(bus, "/dev/rbd9")
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "unmapped device: %v", err)
	_, err = FindDevice(bus, "rbd/ghost")
	tassert.Errorf(t, errors.Is(err, cos.ErrInvalid), "unmapped image: %v", err)
}
