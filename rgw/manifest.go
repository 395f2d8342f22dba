/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/NVIDIA/radstore/cmn/cos"
	"github.com/NVIDIA/radstore/cmn/debug"
)

// A manifest maps a logical object onto its head object plus tail
// stripes. The common case is a single trivial rule: bytes up to
// MaxHeadSize live in the head, the rest is cut into StripeMaxSize
// stripes named "<prefix><n>". Multipart appends add rules with their
// own part numbering ("<prefix>.<part>_<stripe>"). The legacy
// explicit-objs form (a literal offset map) is still decoded and is
// what incompatible appends degrade to.

// manifest wire versions
const (
	manifestVerExplicit = 1
	manifestVerRules    = 2
)

const manifestRandLen = 31

type (
	// ManifestObj is one explicit stripe location (legacy form).
	ManifestObj struct {
		Pool   string
		Oid    string
		LocOfs int64
		Size   int64
	}

	ManifestRule struct {
		StartOfs       int64
		PartSize       int64 // 0: single part spanning the rest
		StripeMaxSize  int64
		OverridePrefix string
		StartPartNum   uint32
	}

	Manifest struct {
		Objs        map[int64]ManifestObj  // legacy; nil unless decoded or appended-explicit
		Rules       map[int64]ManifestRule // keyed by start offset
		HeadObj     string                 // raw head oid
		TailPool    string
		Prefix      string // raw tail-oid prefix
		ObjSize     int64
		HeadSize    int64
		MaxHeadSize int64
	}

	// ManifestGen tracks the write frontier while a putter streams
	// stripes; CreateNext advances to the stripe containing ofs.
	ManifestGen struct {
		m         *Manifest
		curOid    string
		lastOfs   int64
		curStripe int
		curPart   uint32
	}

	// ManifestIter walks stripes; see ObjBegin/ObjFind.
	ManifestIter struct {
		m          *Manifest
		override   string
		oid        string
		explicit   []int64
		ofs        int64
		partOfs    int64
		stripeOfs  int64
		stripeSize int64
		curStripe  int
		curPart    uint32
	}
)

// interface guards
var (
	_ cos.Packer   = (*Manifest)(nil)
	_ cos.Unpacker = (*Manifest)(nil)
)

func (m *Manifest) Empty() bool {
	return m.ObjSize == 0 && len(m.Rules) == 0 && len(m.Objs) == 0
}

func (m *Manifest) HasExplicitObjs() bool { return len(m.Objs) > 0 }

// SetTrivialRule installs the single-part layout used by plain puts.
func (m *Manifest) SetTrivialRule(maxHeadSize, stripeMaxSize int64) {
	m.MaxHeadSize = maxHeadSize
	m.Rules = map[int64]ManifestRule{0: {StripeMaxSize: stripeMaxSize}}
}

func (m *Manifest) firstRule() ManifestRule {
	r, ok := m.Rules[m.sortedRuleOfs()[0]]
	debug.Assert(ok)
	return r
}

// ruleFor returns the rule governing ofs: greatest start offset <= ofs.
func (m *Manifest) ruleFor(ofs int64) ManifestRule {
	keys := m.sortedRuleOfs()
	i := sort.Search(len(keys), func(i int) bool { return keys[i] > ofs })
	if i > 0 {
		i--
	}
	return m.Rules[keys[i]]
}

func (m *Manifest) sortedRuleOfs() []int64 {
	keys := make([]int64, 0, len(m.Rules))
	for k := range m.Rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// implicitLoc names the stripe for (part, stripe, ofs); the head region
// of part 0 maps to the head object itself.
func (m *Manifest) implicitLoc(partID uint32, stripe int, ofs int64, override string) string {
	oid := m.Prefix
	if override != "" {
		oid = override
	}
	switch {
	case partID == 0:
		if ofs < m.MaxHeadSize {
			return m.HeadObj
		}
		return oid + strconv.Itoa(stripe)
	case stripe == 0:
		return fmt.Sprintf("%s.%d", oid, partID)
	default:
		return fmt.Sprintf("%s.%d_%d", oid, partID, stripe)
	}
}

//
// generator
//

// CreateBegin binds the generator, seeding a random tail prefix under
// the bucket marker's shadow namespace when the manifest has none.
func (g *ManifestGen) CreateBegin(m *Manifest, marker, headObj, tailPool string) {
	debug.Assert(len(m.Rules) > 0, "trivial rule must be set before create_begin")
	m.HeadObj = headObj
	m.TailPool = tailPool
	m.HeadSize = 0
	if m.Prefix == "" {
		m.Prefix = marker + shadowNs + "." + cos.RandString(manifestRandLen) + "_"
	}
	g.m = m
	g.curOid = headObj
}

// CreateNext advances the frontier to ofs (monotonic) and names the
// stripe that starts there.
func (g *ManifestGen) CreateNext(ofs int64) error {
	if ofs < g.lastOfs {
		return cos.ErrInvalid
	}
	m := g.m
	if ofs <= m.MaxHeadSize {
		m.HeadSize = ofs
	}
	if ofs >= m.MaxHeadSize {
		m.HeadSize = m.MaxHeadSize
		rule := m.firstRule()
		g.curStripe = int((ofs - m.MaxHeadSize) / rule.StripeMaxSize)
		if g.curPart == 0 && m.MaxHeadSize > 0 {
			g.curStripe++
		}
	}
	g.lastOfs = ofs
	m.ObjSize = ofs
	g.curOid = m.implicitLoc(g.curPart, g.curStripe, ofs, "")
	return nil
}

func (g *ManifestGen) CurOid() string  { return g.curOid }
func (g *ManifestGen) CurPool() string { return g.m.TailPool }

//
// iterator
//

func (m *Manifest) ObjBegin() *ManifestIter { return m.ObjFind(0) }

// ObjFind positions an iterator at the stripe containing ofs.
func (m *Manifest) ObjFind(ofs int64) *ManifestIter {
	it := &ManifestIter{m: m}
	if m.HasExplicitObjs() {
		it.explicit = make([]int64, 0, len(m.Objs))
		for k := range m.Objs {
			it.explicit = append(it.explicit, k)
		}
		sort.Slice(it.explicit, func(i, j int) bool { return it.explicit[i] < it.explicit[j] })
	}
	it.seek(ofs)
	return it
}

func (it *ManifestIter) End() bool  { return it.ofs >= it.m.ObjSize }
func (it *ManifestIter) Next()      { it.seek(it.stripeOfs + it.stripeSize) }
func (it *ManifestIter) Ofs() int64 { return it.ofs }

// StripeOfs is the logical offset where the current stripe begins.
func (it *ManifestIter) StripeOfs() int64  { return it.stripeOfs }
func (it *ManifestIter) StripeSize() int64 { return it.stripeSize }

// Loc is the raw location of the current stripe; head and tail share
// the bucket's data pool.
func (it *ManifestIter) Loc() (pool, oid string) {
	if it.m.HasExplicitObjs() {
		obj := it.m.Objs[it.stripeOfs]
		return obj.Pool, obj.Oid
	}
	return it.m.TailPool, it.oid
}

// LocOfs is the read offset within the located object for the current
// seek position.
func (it *ManifestIter) LocOfs() int64 {
	if it.m.HasExplicitObjs() {
		return it.m.Objs[it.stripeOfs].LocOfs + (it.ofs - it.stripeOfs)
	}
	if it.oid == it.m.HeadObj {
		return it.ofs
	}
	return it.ofs - it.stripeOfs
}

// StripeLeft is the byte count from the seek position to the stripe end.
func (it *ManifestIter) StripeLeft() int64 { return it.stripeOfs + it.stripeSize - it.ofs }

func (it *ManifestIter) seek(ofs int64) {
	it.ofs = ofs
	if it.End() {
		return
	}
	if it.m.HasExplicitObjs() {
		it.seekExplicit(ofs)
		return
	}
	m := it.m
	if ofs < m.HeadSize {
		r := m.firstRule()
		it.partOfs, it.stripeOfs = 0, 0
		it.stripeSize = m.HeadSize
		if r.PartSize > 0 {
			it.stripeSize = min(m.HeadSize, r.PartSize)
		}
		it.curPart, it.curStripe = r.StartPartNum, 0
		it.override = r.OverridePrefix
		it.updateLoc()
		return
	}
	r := m.ruleFor(ofs)
	if r.PartSize > 0 {
		it.curPart = r.StartPartNum + uint32((ofs-r.StartOfs)/r.PartSize)
	} else {
		it.curPart = r.StartPartNum
	}
	it.partOfs = r.StartOfs + int64(it.curPart-r.StartPartNum)*r.PartSize
	if r.StripeMaxSize > 0 {
		var headAdj int64
		if it.curPart == 0 {
			headAdj = m.HeadSize
		}
		it.curStripe = int((ofs - it.partOfs - headAdj) / r.StripeMaxSize)
		it.stripeOfs = it.partOfs + headAdj + int64(it.curStripe)*r.StripeMaxSize
		if it.curPart == 0 && m.HeadSize > 0 {
			it.curStripe++
		}
	} else {
		it.curStripe = 0
		it.stripeOfs = it.partOfs
	}
	if r.PartSize == 0 {
		it.stripeSize = min(r.StripeMaxSize, m.ObjSize-it.stripeOfs)
	} else {
		next := min(it.stripeOfs+r.StripeMaxSize, it.partOfs+r.PartSize)
		it.stripeSize = next - it.stripeOfs
	}
	it.override = r.OverridePrefix
	it.updateLoc()
}

func (it *ManifestIter) seekExplicit(ofs int64) {
	i := sort.Search(len(it.explicit), func(i int) bool { return it.explicit[i] > ofs })
	if i > 0 {
		i--
	}
	key := it.explicit[i]
	obj := it.m.Objs[key]
	it.stripeOfs = key
	it.stripeSize = obj.Size
	it.oid = obj.Oid
}

func (it *ManifestIter) updateLoc() {
	if it.ofs < it.m.HeadSize {
		it.oid = it.m.HeadObj
		return
	}
	it.oid = it.m.implicitLoc(it.curPart, it.curStripe, it.ofs, it.override)
}

//
// append (multipart complete and friends)
//

// Append merges a subsequent manifest onto m: compatible rule streams
// extend in place with continued part numbering, anything else falls
// back to the explicit form.
func (m *Manifest) Append(other *Manifest) error {
	if m.HasExplicitObjs() || other.HasExplicitObjs() {
		return m.appendExplicit(other)
	}
	if len(m.Rules) == 0 {
		*m = *other
		return nil
	}
	override := other.Prefix
	if override == m.Prefix {
		override = ""
	}
	keys := other.sortedRuleOfs()
	i := 0
	for ; i < len(keys); i++ {
		lastOfs := m.sortedRuleOfs()
		last := m.Rules[lastOfs[len(lastOfs)-1]]
		if last.PartSize == 0 {
			last.PartSize = m.ObjSize - last.StartOfs
			m.Rules[last.StartOfs] = last
		}
		next := other.Rules[keys[i]]
		if next.PartSize == 0 {
			next.PartSize = other.ObjSize - next.StartOfs
		}
		if last.PartSize != next.PartSize || last.StripeMaxSize != next.StripeMaxSize ||
			last.OverridePrefix != override {
			break
		}
		expected := last.StartPartNum + 1
		if last.PartSize > 0 {
			expected = last.StartPartNum + uint32((m.ObjSize+next.StartOfs-last.StartOfs)/last.PartSize)
		}
		if expected != next.StartPartNum {
			break
		}
		// the trailing rule's arithmetic already covers the appended part
	}
	for ; i < len(keys); i++ {
		r := other.Rules[keys[i]]
		r.StartOfs += m.ObjSize
		r.OverridePrefix = override
		m.Rules[r.StartOfs] = r
	}
	m.ObjSize += other.ObjSize
	return nil
}

func (m *Manifest) appendExplicit(other *Manifest) error {
	m.convertToExplicit()
	oc := *other
	oc.convertToExplicit()
	base := m.ObjSize
	for ofs, obj := range oc.Objs {
		m.Objs[base+ofs] = obj
	}
	m.ObjSize += oc.ObjSize
	return nil
}

func (m *Manifest) convertToExplicit() {
	if m.HasExplicitObjs() {
		return
	}
	objs := make(map[int64]ManifestObj, 8)
	for it := m.ObjBegin(); !it.End(); it.Next() {
		pool, oid := it.Loc()
		objs[it.StripeOfs()] = ManifestObj{Pool: pool, Oid: oid, Size: it.StripeSize()}
	}
	m.Objs = objs
	m.Rules = nil
}

//
// codec
//

func (m *Manifest) Pack(bw *cos.BytePack) {
	ver := byte(manifestVerRules)
	if m.HasExplicitObjs() {
		ver = manifestVerExplicit
	}
	bw.WriteByte(ver)
	bw.WriteInt64(m.ObjSize)
	bw.WriteInt64(m.HeadSize)
	bw.WriteInt64(m.MaxHeadSize)
	bw.WriteString(m.HeadObj)
	bw.WriteString(m.TailPool)
	bw.WriteString(m.Prefix)
	if ver == manifestVerExplicit {
		keys := make([]int64, 0, len(m.Objs))
		for k := range m.Objs {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		bw.WriteUint32(uint32(len(keys)))
		for _, k := range keys {
			obj := m.Objs[k]
			bw.WriteInt64(k)
			bw.WriteString(obj.Pool)
			bw.WriteString(obj.Oid)
			bw.WriteInt64(obj.LocOfs)
			bw.WriteInt64(obj.Size)
		}
		return
	}
	keys := m.sortedRuleOfs()
	bw.WriteUint32(uint32(len(keys)))
	for _, k := range keys {
		r := m.Rules[k]
		bw.WriteInt64(r.StartOfs)
		bw.WriteUint32(r.StartPartNum)
		bw.WriteInt64(r.PartSize)
		bw.WriteInt64(r.StripeMaxSize)
		bw.WriteString(r.OverridePrefix)
	}
}

func (m *Manifest) PackedSize() int {
	size := cos.SizeofI8 + 3*cos.SizeofI64 +
		cos.PackedStrLen(m.HeadObj) + cos.PackedStrLen(m.TailPool) + cos.PackedStrLen(m.Prefix) +
		cos.SizeofLen
	if m.HasExplicitObjs() {
		for _, obj := range m.Objs {
			size += 3*cos.SizeofI64 + cos.PackedStrLen(obj.Pool) + cos.PackedStrLen(obj.Oid)
		}
		return size
	}
	for _, r := range m.Rules {
		size += 3*cos.SizeofI64 + cos.SizeofI32 + cos.PackedStrLen(r.OverridePrefix)
	}
	return size
}

func (m *Manifest) Unpack(br *cos.ByteUnpack) (err error) {
	var ver byte
	if ver, err = br.ReadByte(); err != nil {
		return err
	}
	if ver != manifestVerExplicit && ver != manifestVerRules {
		return fmt.Errorf("manifest: unknown version %d: %w", ver, cos.ErrBadMsg)
	}
	if m.ObjSize, err = br.ReadInt64(); err != nil {
		return err
	}
	if m.HeadSize, err = br.ReadInt64(); err != nil {
		return err
	}
	if m.MaxHeadSize, err = br.ReadInt64(); err != nil {
		return err
	}
	if m.HeadObj, err = br.ReadString(); err != nil {
		return err
	}
	if m.TailPool, err = br.ReadString(); err != nil {
		return err
	}
	if m.Prefix, err = br.ReadString(); err != nil {
		return err
	}
	n, err := br.ReadUint32()
	if err != nil {
		return err
	}
	if ver == manifestVerExplicit {
		m.Objs = make(map[int64]ManifestObj, n)
		for range n {
			var (
				k   int64
				obj ManifestObj
			)
			if k, err = br.ReadInt64(); err != nil {
				return err
			}
			if obj.Pool, err = br.ReadString(); err != nil {
				return err
			}
			if obj.Oid, err = br.ReadString(); err != nil {
				return err
			}
			if obj.LocOfs, err = br.ReadInt64(); err != nil {
				return err
			}
			if obj.Size, err = br.ReadInt64(); err != nil {
				return err
			}
			m.Objs[k] = obj
		}
		return nil
	}
	m.Rules = make(map[int64]ManifestRule, n)
	for range n {
		var r ManifestRule
		if r.StartOfs, err = br.ReadInt64(); err != nil {
			return err
		}
		if r.StartPartNum, err = br.ReadUint32(); err != nil {
			return err
		}
		if r.PartSize, err = br.ReadInt64(); err != nil {
			return err
		}
		if r.StripeMaxSize, err = br.ReadInt64(); err != nil {
			return err
		}
		if r.OverridePrefix, err = br.ReadString(); err != nil {
			return err
		}
		m.Rules[r.StartOfs] = r
	}
	return nil
}
