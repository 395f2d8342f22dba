// Package krbd maps images through the kernel rbd driver's sysfs bus.
// The kernel does the data path; this package only speaks the bus
// protocol: an add line describing the image, a device id to remove.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package krbd

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/radstore/cmn/cos"
)

type (
	// MapSpec names the image to map and the cluster to reach it in.
	MapSpec struct {
		Mons    string // comma-separated monitor addresses
		User    string // client entity, sans the "client." prefix
		Secret  string
		Pool    string
		Image   string
		Snap    string   // "" maps the head
		Options []string // extra mount-style options, passed through
	}

	// Device is one mapped image, /dev/rbd<ID>.
	Device struct {
		Pool  string `json:"pool"`
		Image string `json:"image"`
		Snap  string `json:"snap,omitempty"`
		ID    int    `json:"id"`
	}

	// DeviceBus adds and removes mapped devices. The sysfs
	// implementation talks to the kernel driver; the fake one backs
	// tests and hosts without the driver.
	DeviceBus interface {
		Add(spec MapSpec) (Device, error)
		Remove(id int) error
		List() ([]Device, error)
	}
)

func (d Device) Path() string { return fmt.Sprintf("/dev/rbd%d", d.ID) }

// line renders the add-file format the kernel expects:
// "<mons> name=<user>,key=<secret>[,<options>] <pool> <image> [snap]".
func (s MapSpec) line() (string, error) {
	if s.Mons == "" || s.Pool == "" || s.Image == "" {
		return "", fmt.Errorf("map spec needs monitors, pool, and image: %w", cos.ErrInvalid)
	}
	opts := fmt.Sprintf("name=%s,key=%s", s.User, s.Secret)
	if len(s.Options) > 0 {
		opts += "," + strings.Join(s.Options, ",")
	}
	l := fmt.Sprintf("%s %s %s %s", s.Mons, opts, s.Pool, s.Image)
	if s.Snap != "" {
		l += " " + s.Snap
	}
	return l, nil
}
