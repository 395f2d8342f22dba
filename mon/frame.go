/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"bytes"
	"fmt"

	"github.com/NVIDIA/radstore/cmn/cos"

	"github.com/tinylib/msgp/msgp"
)

// One flat frame carries every session message; the op selects which
// fields matter. Frames cross the transport msgp-encoded, never as
// shared pointers.
const (
	opAuth      = uint8(1)  // Name=entity, Str=client challenge, Data=proof or prior ticket
	opAuthReply = uint8(2)  // Code; -EAGAIN: Str=server challenge; ok: Data=ticket, Version=global id, Aux=expiry unix
	opSub       = uint8(3)  // Name=what, Version=start, Flags
	opDeliver   = uint8(4)  // Name=what, Version, Data=payload
	opCmd       = uint8(5)  // Tid, Name=target ("" = this rank), Str=cmd json, Data=inbl
	opCmdReply  = uint8(6)  // Tid, Code, Str=outs, Data=outbl
	opGetVer    = uint8(7)  // Tid, Name=what
	opVerReply  = uint8(8)  // Tid, Code, Version=newest, Aux=oldest
	opKeepalive = uint8(9)  // no payload; refreshes the session either way
	opLog       = uint8(10) // Name=channel, Version=line seq, Str=line
)

const frameVersion = uint8(1)

type Frame struct {
	Name    string
	Str     string
	Data    []byte
	Tid     uint64
	Version uint64
	Aux     uint64
	Code    int32
	Op      uint8
	Flags   uint8
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame[op=%d tid=%d name=%q code=%d]", f.Op, f.Tid, f.Name, f.Code)
}

// Err maps the reply code back onto the errno sentinels.
func (f *Frame) Err() error {
	if f.Code == 0 {
		return nil
	}
	return cos.Errno(f.Code)
}

func errCode(err error) int32 {
	if err == nil {
		return 0
	}
	if code := cos.ErrnoOf(err); code != 0 {
		return int32(code)
	}
	return int32(cos.ErrIO.Code())
}

func (f *Frame) pack() ([]byte, error) {
	var buf bytes.Buffer
	m := &mwr{w: msgp.NewWriter(&buf)}
	m.u8(frameVersion)
	m.u8(f.Op)
	m.u8(f.Flags)
	m.u64(f.Tid)
	m.u64(f.Version)
	m.u64(f.Aux)
	m.i32(f.Code)
	m.str(f.Name)
	m.str(f.Str)
	m.bts(f.Data)
	if err := m.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpackFrame(b []byte) (*Frame, error) {
	m := &mrd{r: msgp.NewReader(bytes.NewReader(b))}
	if v := m.u8(); m.err == nil && v != frameVersion {
		return nil, fmt.Errorf("frame v%d: %w", v, cos.ErrNotSupported)
	}
	f := &Frame{}
	f.Op = m.u8()
	f.Flags = m.u8()
	f.Tid = m.u64()
	f.Version = m.u64()
	f.Aux = m.u64()
	f.Code = m.i32()
	f.Name = m.str()
	f.Str = m.str()
	f.Data = m.bts()
	if m.err != nil {
		return nil, fmt.Errorf("bad frame: %v: %w", m.err, cos.ErrBadMsg)
	}
	return f, nil
}

// sticky-error codec wrappers, one check per frame

type mwr struct {
	w   *msgp.Writer
	err error
}

func (m *mwr) u8(v uint8) {
	if m.err == nil {
		m.err = m.w.WriteUint8(v)
	}
}

func (m *mwr) u64(v uint64) {
	if m.err == nil {
		m.err = m.w.WriteUint64(v)
	}
}

func (m *mwr) i32(v int32) {
	if m.err == nil {
		m.err = m.w.WriteInt32(v)
	}
}

func (m *mwr) str(s string) {
	if m.err == nil {
		m.err = m.w.WriteString(s)
	}
}

func (m *mwr) bts(b []byte) {
	if m.err == nil {
		m.err = m.w.WriteBytes(b)
	}
}

func (m *mwr) flush() error {
	if m.err != nil {
		return m.err
	}
	return m.w.Flush()
}

type mrd struct {
	r   *msgp.Reader
	err error
}

func (m *mrd) u8() (v uint8) {
	if m.err == nil {
		v, m.err = m.r.ReadUint8()
	}
	return
}

func (m *mrd) u64() (v uint64) {
	if m.err == nil {
		v, m.err = m.r.ReadUint64()
	}
	return
}

func (m *mrd) i32() (v int32) {
	if m.err == nil {
		v, m.err = m.r.ReadInt32()
	}
	return
}

func (m *mrd) str() (s string) {
	if m.err == nil {
		s, m.err = m.r.ReadString()
	}
	return
}

func (m *mrd) bts() (b []byte) {
	if m.err == nil {
		b, m.err = m.r.ReadBytes(nil)
	}
	return
}
