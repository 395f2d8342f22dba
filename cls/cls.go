// Package cls is the class-method framework: named object methods
// registered per cluster and executed atomically against a single
// object under its lock.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cls

import (
	"fmt"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
)

type MethodFlags uint8

const (
	RD MethodFlags = 1 << iota
	WR
)

// Handler runs with the object lock already held; in/out payloads are
// versioned bytepack layouts owned by the backend.
type Handler func(hctx *Context, in []byte) ([]byte, error)

// Backend exposes the locked object to handlers. Implemented by the
// cluster's op execution path.
type Backend interface {
	Read(ofs, length int64) ([]byte, error)
	Write(ofs int64, data []byte) error
	WriteFull(data []byte) error
	Truncate(size uint64) error
	Create(exclusive bool) error
	Remove() error
	Stat() (size uint64, mtime time.Time, err error)

	GetXattr(name string) ([]byte, error)
	GetXattrs() (map[string][]byte, error)
	SetXattr(name string, value []byte) error
	RmXattr(name string) error

	OmapGetVals(startAfter, prefix string, maxReturn int) (vals map[string][]byte, more bool, err error)
	OmapGetValsByKeys(keys []string) (map[string][]byte, error)
	OmapSet(kvs map[string][]byte) error
	OmapRmKeys(keys []string) error
	OmapClear() error

	Version() uint64
	SnapContext() (seq uint64, snaps []uint64)
}

type method struct {
	h     Handler
	name  string
	flags MethodFlags
}

// Registry maps class/method names to handlers. Owned by a cluster;
// nothing here is global.
type Registry struct {
	classes map[string]map[string]method
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]map[string]method, 8)}
}

// Register panics on duplicates and on flagless methods; backends
// register at cluster construction, concurrent use starts after.
func (r *Registry) Register(class, name string, flags MethodFlags, h Handler) {
	debug.Assert(flags&(RD|WR) != 0, class, ".", name)
	m, ok := r.classes[class]
	if !ok {
		m = make(map[string]method, 16)
		r.classes[class] = m
	}
	_, ok = m[name]
	debug.Assert(!ok, "duplicate method ", class, ".", name)
	m[name] = method{h: h, name: name, flags: flags}
}

// Call dispatches class.method against hctx. Unknown class or method
// returns -ENOTSUP.
func (r *Registry) Call(hctx *Context, class, name string, in []byte) ([]byte, error) {
	m, ok := r.classes[class]
	if !ok {
		return nil, fmt.Errorf("class %q: %w", class, cos.ErrNotSupported)
	}
	mth, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("method %q.%q: %w", class, name, cos.ErrNotSupported)
	}
	hctx.wr = mth.flags&WR != 0
	return mth.h(hctx, in)
}

/////////////
// Context //
/////////////

// Origin identifies the requesting client instance. Lock ownership
// and watcher listings key on it.
type Origin struct {
	Name string // entity, e.g. "client.4127"
	Addr string
}

// Context is the handler's view of the object. Mutators mark the
// context modified; the cluster bumps the object version and logs the
// mutation only when a handler actually wrote.
type Context struct {
	be       Backend
	pool     string
	oid      string
	origin   Origin
	wr       bool
	modified bool
}

func NewContext(be Backend, pool, oid string, origin Origin) *Context {
	return &Context{be: be, pool: pool, oid: oid, origin: origin}
}

func (c *Context) Pool() string    { return c.pool }
func (c *Context) Oid() string     { return c.oid }
func (c *Context) Origin() Origin  { return c.origin }
func (c *Context) Modified() bool  { return c.modified }
func (c *Context) SetModified()    { c.modified = true }
func (c *Context) Version() uint64 { return c.be.Version() }

func (c *Context) SnapContext() (seq uint64, snaps []uint64) { return c.be.SnapContext() }

func (c *Context) Read(ofs, length int64) ([]byte, error) { return c.be.Read(ofs, length) }

func (c *Context) Stat() (uint64, time.Time, error) { return c.be.Stat() }

func (c *Context) GetXattr(name string) ([]byte, error) { return c.be.GetXattr(name) }

func (c *Context) GetXattrs() (map[string][]byte, error) { return c.be.GetXattrs() }

func (c *Context) OmapGetVals(startAfter, prefix string, maxReturn int) (map[string][]byte, bool, error) {
	return c.be.OmapGetVals(startAfter, prefix, maxReturn)
}

func (c *Context) OmapGetValsByKeys(keys []string) (map[string][]byte, error) {
	return c.be.OmapGetValsByKeys(keys)
}

// OmapGetVal reads a single key; missing key => -ENOENT.
func (c *Context) OmapGetVal(key string) ([]byte, error) {
	vals, err := c.be.OmapGetValsByKeys([]string{key})
	if err != nil {
		return nil, err
	}
	v, ok := vals[key]
	if !ok {
		return nil, cos.ErrNotFound
	}
	return v, nil
}

func (c *Context) Write(ofs int64, data []byte) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.Write(ofs, data)
}

func (c *Context) WriteFull(data []byte) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.WriteFull(data)
}

func (c *Context) Truncate(size uint64) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.Truncate(size)
}

func (c *Context) Create(exclusive bool) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.Create(exclusive)
}

func (c *Context) Remove() error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.Remove()
}

func (c *Context) SetXattr(name string, value []byte) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.SetXattr(name, value)
}

func (c *Context) RmXattr(name string) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.RmXattr(name)
}

func (c *Context) OmapSet(kvs map[string][]byte) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.OmapSet(kvs)
}

func (c *Context) OmapSetVal(key string, value []byte) error {
	return c.OmapSet(map[string][]byte{key: value})
}

func (c *Context) OmapRmKeys(keys ...string) error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.OmapRmKeys(keys)
}

func (c *Context) OmapClear() error {
	if err := c.wrcheck(); err != nil {
		return err
	}
	c.modified = true
	return c.be.OmapClear()
}

func (c *Context) wrcheck() error {
	if !c.wr {
		debug.Assert(false, "write from a read-only method: ", c.oid)
		return cos.ErrPermission
	}
	return nil
}
