package obd_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/models"
	"elmdiag/internal/obd"
)

var _ = Describe("Trouble codes", func() {
	DescribeTable("DecodeDTC",
		func(a, b byte, want string) {
			Expect(obd.DecodeDTC(a, b)).To(Equal(want))
		},
		Entry("powertrain", byte(0x03), byte(0x01), "P0301"),
		Entry("powertrain, generic 1", byte(0x11), byte(0x23), "P1123"),
		Entry("chassis", byte(0x40), byte(0x35), "C0035"),
		Entry("body", byte(0x93), byte(0x42), "B1342"),
		Entry("network", byte(0xC1), byte(0x00), "U0100"),
		Entry("hex digits", byte(0x5A), byte(0x00), "C1A00"),
	)

	Describe("DecodeTroubleCodes", func() {
		It("skips the CAN count byte and padding", func() {
			codes, err := obd.DecodeTroubleCodes([][]string{{"43", "02", "03", "01", "04", "20", "00", "00"}}, 0x43)
			Expect(err).NotTo(HaveOccurred())
			Expect(codes).To(Equal([]models.TroubleCode{
				{Code: "P0301", Description: "Cylinder 1 Misfire Detected"},
				{Code: "P0420", Description: "Catalyst System Efficiency Below Threshold (Bank 1)"},
			}))
		})

		It("reads replies without a count byte", func() {
			codes, err := obd.DecodeTroubleCodes([][]string{{"43", "01", "71", "00", "00", "00", "00"}}, 0x43)
			Expect(err).NotTo(HaveOccurred())
			Expect(codes).To(HaveLen(1))
			Expect(codes[0].Code).To(Equal("P0171"))
		})

		It("merges several ECUs without duplicates", func() {
			codes, err := obd.DecodeTroubleCodes([][]string{
				{"43", "01", "03", "01"},
				{"43", "02", "03", "01", "C1", "00"},
			}, 0x43)
			Expect(err).NotTo(HaveOccurred())
			Expect(codes).To(HaveLen(2))
			Expect(codes[1]).To(Equal(models.TroubleCode{Code: "U0100", Description: "Lost Communication With ECM/PCM"}))
		})

		It("returns no codes for an empty scan", func() {
			codes, err := obd.DecodeTroubleCodes([][]string{{"43", "00"}}, 0x43)
			Expect(err).NotTo(HaveOccurred())
			Expect(codes).To(BeEmpty())
		})

		It("fails when no message carries the response mode", func() {
			_, err := obd.DecodeTroubleCodes([][]string{{"41", "0C", "1A", "F8"}}, 0x43)
			var de *obd.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Raw).To(Equal("41 0C 1A F8"))
		})

		It("fails on non-hex words", func() {
			_, err := obd.DecodeTroubleCodes([][]string{{"43", "01", "0X", "01"}}, 0x43)
			Expect(err).To(HaveOccurred())
		})
	})

	It("describes unknown codes", func() {
		Expect(obd.DescribeDTC("P0301")).To(Equal("Cylinder 1 Misfire Detected"))
		Expect(obd.DescribeDTC("P3FFF")).To(Equal("Unknown DTC"))
	})
})
