/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"context"
	"sync"

	"github.com/NVIDIA/radstore/cmn/cos"
)

type (
	// Transport is one framed session between a client and a monitor.
	// Send and Recv fail with -ENOTCONN once either side closes.
	Transport interface {
		Send(f *Frame) error
		Recv() (*Frame, error)
		Close() error
		RemoteName() string
	}

	// Dialer opens sessions by monitor name.
	Dialer interface {
		Dial(ctx context.Context, name string) (Transport, error)
	}
)

const connChanCap = 64

// chanConn is one end of an in-process session: frames are packed to
// bytes on Send and unpacked on Recv, so nothing structured crosses
// the boundary.
type chanConn struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{} // shared by both ends
	once   *sync.Once
	remote string
}

// interface guard
var _ Transport = (*chanConn)(nil)

func newConnPair(clientName, serverName string) (client, server *chanConn) {
	var (
		a      = make(chan []byte, connChanCap)
		b      = make(chan []byte, connChanCap)
		closed = make(chan struct{})
		once   = &sync.Once{}
	)
	client = &chanConn{out: a, in: b, closed: closed, once: once, remote: serverName}
	server = &chanConn{out: b, in: a, closed: closed, once: once, remote: clientName}
	return client, server
}

func (c *chanConn) Send(f *Frame) error {
	b, err := f.pack()
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return cos.ErrNotConnected
	}
}

func (c *chanConn) Recv() (*Frame, error) {
	select {
	case b := <-c.in:
		return unpackFrame(b)
	case <-c.closed:
		// drain what the peer sent before closing
		select {
		case b := <-c.in:
			return unpackFrame(b)
		default:
			return nil, cos.ErrNotConnected
		}
	}
}

// trySend never blocks; the server uses it for pushes so that one
// slow consumer cannot stall the delivery tick.
func (c *chanConn) trySend(f *Frame) bool {
	b, err := f.pack()
	if err != nil {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *chanConn) RemoteName() string { return c.remote }

// Bus accepts in-process sessions for the monitors it hosts; each
// Server registers itself per name.
type Bus struct {
	mu      sync.RWMutex
	accepts map[string]chan *chanConn
}

// interface guard
var _ Dialer = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{accepts: make(map[string]chan *chanConn, 3)}
}

func (bs *Bus) listen(name string) (chan *chanConn, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if _, ok := bs.accepts[name]; ok {
		return nil, cos.ErrExists
	}
	ch := make(chan *chanConn, connChanCap)
	bs.accepts[name] = ch
	return ch, nil
}

func (bs *Bus) unlisten(name string) {
	bs.mu.Lock()
	delete(bs.accepts, name)
	bs.mu.Unlock()
}

func (bs *Bus) Dial(ctx context.Context, name string) (Transport, error) {
	bs.mu.RLock()
	accept := bs.accepts[name]
	bs.mu.RUnlock()
	if accept == nil {
		return nil, cos.ErrNotConnected
	}
	client, server := newConnPair("client", name)
	select {
	case accept <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
}
