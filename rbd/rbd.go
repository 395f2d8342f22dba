// Package rbd is the block-image library over the rados cluster:
// format-2 images with class-backed headers, striping, self-managed
// snapshots, layered clones with copy-up, advisory locks, and the
// diff-stream import/export pipeline. Legacy format-1 images are
// recognized for open/info/resize/remove compatibility.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/NVIDIA/radstore/cls"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/rados"
)

// DefaultPool is assumed when an image spec carries no pool part.
const DefaultPool = "rbd"

// Object size is 1<<order bytes.
const (
	MinOrder     = uint8(12)
	MaxOrder     = uint8(25)
	DefaultOrder = uint8(22)
)

// pool-level catalog objects and per-image naming
const (
	dirOid      = "rbd_directory"
	childrenOid = "rbd_children"

	idOidPrefix     = "rbd_id."
	headerOidPrefix = "rbd_header."
	dataOidPrefix   = "rbd_data."

	// format 1
	oldHeaderSuffix = ".rbd"
	oldDataPrefix   = "rb.0."
)

// image formats
const (
	FormatOne = 1
	FormatTwo = 2
)

func idOid(name string) string   { return idOidPrefix + name }
func headerOid(id string) string { return headerOidPrefix + id }
func oldHeaderOid(name string) string {
	return name + oldHeaderSuffix
}

func dataOid(prefix string, objNo uint64) string {
	return fmt.Sprintf("%s.%016x", prefix, objNo)
}

// Spec names an image, optionally at a snapshot.
type Spec struct {
	Pool  string
	Image string
	Snap  string
}

// ParseSpec parses "pool/image@snap" left-to-right on '/' then '@'.
// Pool and snap parts are optional; an empty component where a
// separator was given is an error.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{Pool: DefaultPool}
	if i := strings.Index(s, "/"); i >= 0 {
		spec.Pool, s = s[:i], s[i+1:]
		if spec.Pool == "" {
			return spec, fmt.Errorf("empty pool in image spec: %w", cos.ErrInvalid)
		}
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s, spec.Snap = s[:i], s[i+1:]
		if spec.Snap == "" {
			return spec, fmt.Errorf("empty snap in image spec: %w", cos.ErrInvalid)
		}
	}
	if s == "" {
		return spec, fmt.Errorf("empty image name in spec: %w", cos.ErrInvalid)
	}
	spec.Image = s
	return spec, nil
}

func (s Spec) String() string {
	out := s.Image
	if s.Pool != "" {
		out = s.Pool + "/" + out
	}
	if s.Snap != "" {
		out += "@" + s.Snap
	}
	return out
}

// image ids are restricted to the charset the directory class accepts
const idABC = "0123456789abcdefghijklmnopqrstuvwxyz"

func newImageID() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = idABC[rand.IntN(len(idABC))]
	}
	return string(b)
}

// List returns the image names of a pool: the format-2 directory plus
// legacy headers found by their ".rbd" suffix.
func List(c *rados.Cluster, pool string) ([]string, error) {
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return nil, err
	}
	var (
		names []string
		after string
	)
	for {
		out, err := ix.Exec(dirOid, "rbd", "dir_list",
			cos.PackBytes(&clsrbd.DirListOp{StartAfter: after, Max: 64}))
		if err != nil {
			if cos.IsErrNotFound(err) {
				break // no directory yet
			}
			return nil, err
		}
		var reply clsrbd.DirListReply
		if err := cos.UnpackBytes(out, &reply); err != nil {
			return nil, err
		}
		if len(reply.Images) == 0 {
			break
		}
		for _, im := range reply.Images {
			names = append(names, im.Name)
			after = im.Name
		}
	}
	for _, oid := range ix.ListObjects() {
		if strings.HasSuffix(oid, oldHeaderSuffix) {
			names = append(names, strings.TrimSuffix(oid, oldHeaderSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Rename moves an image to a new name within its pool. Both the
// directory mapping and the id object move; a taken destination fails
// with -EEXIST.
func Rename(c *rados.Cluster, pool, src, dest string) error {
	if src == "" || dest == "" {
		return cos.ErrInvalid
	}
	if src == dest {
		return nil
	}
	ix, err := c.NewIOCtx(pool)
	if err != nil {
		return err
	}
	id, err := imageID(ix, src)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return renameOld(ix, src, dest)
		}
		return err
	}
	if taken, err := nameTaken(ix, dest); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("image %s/%s: %w", pool, dest, cos.ErrExists)
	}
	// claim the new id object before touching the directory so a crash
	// leaves at worst a stray claim, never a nameless image
	wop := rados.NewWriteOp().Create(true).
		Exec("rbd", "set_id", cos.PackBytes(&cls.Str{S: id}))
	if err := ix.Operate(idOid(dest), wop); err != nil {
		return err
	}
	in := cos.PackBytes(&clsrbd.DirRenameOp{Src: src, Dest: dest, ID: id})
	if _, err := ix.Exec(dirOid, "rbd", "dir_rename_image", in); err != nil {
		_ = ix.Remove(idOid(dest))
		return err
	}
	return ix.Remove(idOid(src))
}

func renameOld(ix *rados.IOCtx, src, dest string) error {
	b, err := ix.Read(oldHeaderOid(src), 0, -1)
	if err != nil {
		return err
	}
	if taken, err := nameTaken(ix, dest); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("image %s/%s: %w", ix.Pool(), dest, cos.ErrExists)
	}
	wop := rados.NewWriteOp().Create(true).WriteFull(b)
	if err := ix.Operate(oldHeaderOid(dest), wop); err != nil {
		return err
	}
	return ix.Remove(oldHeaderOid(src))
}

// imageID resolves a format-2 image name via its id object.
func imageID(ix *rados.IOCtx, name string) (string, error) {
	out, err := ix.Exec(idOid(name), "rbd", "get_id", nil)
	if err != nil {
		return "", err
	}
	var id cls.Str
	if err := cos.UnpackBytes(out, &id); err != nil {
		return "", err
	}
	return id.S, nil
}

// nameTaken reports whether a name is claimed in either format.
func nameTaken(ix *rados.IOCtx, name string) (bool, error) {
	if _, _, err := ix.Stat(idOid(name)); err == nil {
		return true, nil
	} else if !cos.IsErrNotFound(err) {
		return false, err
	}
	if _, _, err := ix.Stat(oldHeaderOid(name)); err == nil {
		return true, nil
	} else if !cos.IsErrNotFound(err) {
		return false, err
	}
	return false, nil
}
