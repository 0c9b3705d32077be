package obd_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/obd"
)

var vinBytes = strings.Fields("49 02 01 31 47 31 4A 43 35 34 34 34 52 37 32 35 32 33 36 37")

var _ = Describe("Frame", func() {
	Describe("ParseFrame", func() {
		DescribeTable("extracts payload bytes",
			func(raw, echo string, want []string) {
				Expect(obd.ParseFrame(raw, echo)).To(Equal(want))
			},
			Entry("plain reply", "41 0C 1A F8\r\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("echoed command", "010C\r41 0C 1A F8\r\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("lower case, no spaces", "410c1af8\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("11-bit header with spaces", "7E8 04 41 0C 1A F8\r\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("11-bit header without spaces", "7E803410D32\r\r>", "010D", []string{"41", "0D", "32"}),
			Entry("29-bit header", "18DAF110 03 41 0D 32\r>", "010D", []string{"41", "0D", "32"}),
			Entry("fused rpm prefix", "7E804410C1AF8\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("fused rpm prefix with ragged tail", "7E804410C1AF8F\r>", "010C", []string{"41", "0C", "1A", "F8"}),
			Entry("searching line", "SEARCHING...\r41 0D 32\r\r>", "010D", []string{"41", "0D", "32"}),
			Entry("padding after declared length", "7E8 03 41 0D 32 AA AA AA AA\r>", "010D", []string{"41", "0D", "32"}),
			Entry("multi-frame without headers",
				"014\r0: 49 02 01 31 47 31\r1: 4A 43 35 34 34 34 52\r2: 37 32 35 32 33 36 37\r\r>", "0902", vinBytes),
			Entry("multi-frame with headers",
				"7E8 10 14 49 02 01 31 47 31\r7E8 21 4A 43 35 34 34 34 52\r7E8 22 37 32 35 32 33 36 37\r\r>", "0902", vinBytes),
		)

		It("returns no tokens for an empty reply", func() {
			Expect(obd.ParseFrame("\r\r>", "010C")).To(BeEmpty())
			Expect(obd.ParseFrame("010C\r>", "010C")).To(BeEmpty())
		})
	})

	Describe("SplitFrame", func() {
		It("keeps one group per ECU", func() {
			raw := "7E8 04 43 01 03 01\r7E9 04 43 01 C1 00\r>"
			Expect(obd.SplitFrame(raw, "03")).To(Equal([][]string{
				{"43", "01", "03", "01"},
				{"43", "01", "C1", "00"},
			}))
		})

		It("reassembles consecutive frames of one ECU", func() {
			raw := "7E8 10 0A 43 04 01 03 01 04\r7E8 21 01 05 01 06\r>"
			Expect(obd.SplitFrame(raw, "03")).To(Equal([][]string{
				{"43", "04", "01", "03", "01", "04", "01", "05", "01", "06"},
			}))
		})
	})

	Describe("CheckAdapterReply", func() {
		DescribeTable("rejects adapter failure messages",
			func(raw string) {
				err := obd.CheckAdapterReply(raw)
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, obd.ErrAdapter)).To(BeTrue())
				var de *obd.DecodeError
				Expect(errors.As(err, &de)).To(BeTrue())
				Expect(de.Raw).To(Equal(raw))
			},
			Entry("no data", "NO DATA\r\r>"),
			Entry("unknown command", "?\r\r>"),
			Entry("unable to connect", "SEARCHING...\rUNABLE TO CONNECT\r\r>"),
			Entry("can error", "CAN ERROR\r>"),
			Entry("bus init error", "BUS INIT: ...ERROR\r>"),
			Entry("stopped", "STOPPED\r>"),
		)

		It("accepts data", func() {
			Expect(obd.CheckAdapterReply("41 0C 1A F8\r>")).To(Succeed())
			Expect(obd.CheckAdapterReply("OK\r>")).To(Succeed())
		})
	})

	DescribeTable("ForeignReply",
		func(raw, echo string, mode int, pid string, want bool) {
			Expect(obd.ForeignReply(obd.SplitFrame(raw, echo), mode, pid)).To(Equal(want))
		},
		Entry("own reply", "41 0C 1A F8", "010C", 0x01, "0C", false),
		Entry("other PID", "41 0D 3C", "010C", 0x01, "0C", true),
		Entry("other mode", "7E8 06 43 02 03 01 04 20", "010C", 0x01, "0C", true),
		Entry("negative response to another mode", "7F 03 11", "010C", 0x01, "0C", true),
		Entry("negative response to this mode", "7F 01 12", "010C", 0x01, "0C", false),
		Entry("one ECU answering", "7E8 03 41 0D 3C\r7E9 04 41 0C 1A F8", "010C", 0x01, "0C", false),
		Entry("bare data bytes", "1A F8", "010C", 0x01, "0C", false),
		Entry("mode request", "7E8 02 43 00", "03", 0x03, "", false),
		Entry("empty", "", "010C", 0x01, "0C", false),
	)

	Describe("CleanReply", func() {
		It("drops echo, prompt and blank lines", func() {
			Expect(obd.CleanReply("ATZ\r\rELM327 v1.5\r\r>", "ATZ")).To(Equal("ELM327 V1.5"))
			Expect(obd.CleanReply("ATRV\r12.6V\r\r>", "ATRV")).To(Equal("12.6V"))
		})
	})
})
