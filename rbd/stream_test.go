/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rbd

import (
	"bytes"
	"io"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/radstore/cmn/cos"
)

func TestDiffStream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("DiffStream", func() {
	mkDiff := func(from, to string, size uint64, build func(*DiffWriter)) *bytes.Reader {
		var buf bytes.Buffer
		dw := NewDiffWriter(&buf)
		if from != "" {
			dw.FromSnap(from)
		}
		if to != "" {
			dw.ToSnap(to)
		}
		dw.Size(size)
		if build != nil {
			build(dw)
		}
		Expect(dw.End()).NotTo(HaveOccurred())
		return bytes.NewReader(buf.Bytes())
	}

	Describe("codec", func() {
		It("round-trips every record kind", func() {
			var buf bytes.Buffer
			dw := NewDiffWriter(&buf)
			dw.FromSnap("base")
			dw.ToSnap("top")
			dw.Size(1 << 20)
			dw.Data(4096, []byte("payload"))
			dw.Hole(8192, 512)
			Expect(dw.End()).NotTo(HaveOccurred())

			raw := buf.Bytes()
			Expect(string(raw[:len(DiffBanner)])).To(Equal(DiffBanner))
			// first record: tag, then the name length little-endian
			Expect(raw[len(DiffBanner)]).To(Equal(byte('f')))
			Expect(raw[len(DiffBanner)+1 : len(DiffBanner)+5]).To(Equal([]byte{4, 0, 0, 0}))

			dr, err := NewDiffReader(&buf)
			Expect(err).NotTo(HaveOccurred())

			rec, err := dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('f')))
			Expect(rec.Name).To(Equal("base"))

			rec, err = dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('t')))
			Expect(rec.Name).To(Equal("top"))

			rec, err = dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('s')))
			Expect(rec.Size).To(Equal(uint64(1 << 20)))

			rec, err = dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('w')))
			Expect(rec.Off).To(Equal(uint64(4096)))
			Expect(rec.Length).To(Equal(uint64(7)))
			Expect(rec.Data).To(Equal([]byte("payload")))

			rec, err = dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('z')))
			Expect(rec.Off).To(Equal(uint64(8192)))
			Expect(rec.Length).To(Equal(uint64(512)))

			rec, err = dr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tag).To(Equal(byte('e')))
		})

		It("rejects a bad banner", func() {
			_, err := NewDiffReader(bytes.NewReader([]byte("tar archive v9\n stuff")))
			Expect(err).To(MatchError(cos.ErrInvalid))
		})

		It("rejects a short banner", func() {
			_, err := NewDiffReader(bytes.NewReader([]byte("rbd")))
			Expect(err).To(MatchError(cos.ErrInvalid))
		})

		It("rejects an unknown record tag", func() {
			var buf bytes.Buffer
			buf.WriteString(DiffBanner)
			buf.WriteByte('q')
			dr, err := NewDiffReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			_, err = dr.Next()
			Expect(err).To(MatchError(cos.ErrNotSupported))
		})

		It("sticks on a truncated record", func() {
			var buf bytes.Buffer
			dw := NewDiffWriter(&buf)
			dw.Data(0, []byte("abc"))
			Expect(dw.End()).NotTo(HaveOccurred())

			dr, err := NewDiffReader(bytes.NewReader(buf.Bytes()[:buf.Len()-8]))
			Expect(err).NotTo(HaveOccurred())
			_, err = dr.Next()
			Expect(err).To(MatchError(io.ErrUnexpectedEOF))
			_, err = dr.Next()
			Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		})
	})

	Describe("subtractExt", func() {
		base := streamExt{off: 100, length: 100}

		It("returns the whole extent when nothing covers it", func() {
			out := subtractExt(base, nil)
			Expect(out).To(Equal([]streamExt{base}))
		})

		It("returns nothing when fully covered", func() {
			out := subtractExt(base, []streamExt{{off: 50, length: 200}})
			Expect(out).To(BeEmpty())
		})

		It("splits around a hole in the middle", func() {
			out := subtractExt(base, []streamExt{{off: 120, length: 10}})
			Expect(out).To(Equal([]streamExt{
				{off: 100, length: 20},
				{off: 130, length: 70},
			}))
		})

		It("clips overlapping head and tail covers", func() {
			out := subtractExt(base, []streamExt{{off: 50, length: 80}, {off: 180, length: 120}})
			Expect(out).To(Equal([]streamExt{{off: 130, length: 50}}))
		})

		It("slices the payload along with the range", func() {
			data := make([]byte, 100)
			for i := range data {
				data[i] = byte(i)
			}
			e := streamExt{off: 100, length: 100, data: data}
			out := subtractExt(e, []streamExt{{off: 120, length: 60}})
			Expect(out).To(HaveLen(2))
			Expect(out[0].data).To(Equal(data[:20]))
			Expect(out[1].data).To(Equal(data[80:]))
		})
	})

	Describe("MergeDiff", func() {
		It("requires the first end snapshot to be the second base", func() {
			first := mkDiff("", "s1", 100, nil)
			second := mkDiff("other", "s2", 100, nil)
			var out bytes.Buffer
			Expect(MergeDiff(first, second, &out)).To(MatchError(cos.ErrInvalid))
		})

		It("lets the second diff win where both touch", func() {
			a := bytes.Repeat([]byte{0xaa}, 50)
			b := bytes.Repeat([]byte{0xbb}, 50)
			first := mkDiff("", "s1", 100, func(dw *DiffWriter) { dw.Data(0, a) })
			second := mkDiff("s1", "s2", 100, func(dw *DiffWriter) { dw.Data(25, b) })

			var out bytes.Buffer
			Expect(MergeDiff(first, second, &out)).NotTo(HaveOccurred())

			ds, err := parseDiff(bytes.NewReader(out.Bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(ds.from).To(BeEmpty())
			Expect(ds.to).To(Equal("s2"))
			Expect(ds.size).To(Equal(uint64(100)))
			Expect(ds.exts).To(HaveLen(2))
			Expect(ds.exts[0].off).To(Equal(uint64(0)))
			Expect(ds.exts[0].data).To(Equal(a[:25]))
			Expect(ds.exts[1].off).To(Equal(uint64(25)))
			Expect(ds.exts[1].data).To(Equal(b))
		})

		It("clips merged extents to the final size", func() {
			c := bytes.Repeat([]byte{0xcc}, 50)
			first := mkDiff("", "s1", 200, func(dw *DiffWriter) { dw.Data(150, c) })
			second := mkDiff("s1", "s2", 100, func(dw *DiffWriter) { dw.Hole(50, 100) })

			var out bytes.Buffer
			Expect(MergeDiff(first, second, &out)).NotTo(HaveOccurred())

			ds, err := parseDiff(bytes.NewReader(out.Bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(ds.size).To(Equal(uint64(100)))
			Expect(ds.exts).To(Equal([]streamExt{{off: 50, length: 50, zero: true}}))
		})

		It("merges holes and data in offset order", func() {
			d := bytes.Repeat([]byte{0xdd}, 10)
			first := mkDiff("", "s1", 100, func(dw *DiffWriter) {
				dw.Data(80, d)
				dw.Hole(0, 10)
			})
			second := mkDiff("s1", "s2", 100, func(dw *DiffWriter) { dw.Data(40, d) })

			var out bytes.Buffer
			Expect(MergeDiff(first, second, &out)).NotTo(HaveOccurred())

			ds, err := parseDiff(bytes.NewReader(out.Bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(ds.exts).To(HaveLen(3))
			Expect(ds.exts[0].zero).To(BeTrue())
			Expect(ds.exts[0].off).To(Equal(uint64(0)))
			Expect(ds.exts[1].off).To(Equal(uint64(40)))
			Expect(ds.exts[2].off).To(Equal(uint64(80)))
			Expect(ds.exts[2].data).To(Equal(d))
		})
	})
})
