package models_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/models"
)

var _ = Describe("DecodedReading", func() {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	It("derives age from the timestamp", func() {
		r := models.DecodedReading{Timestamp: now.Add(-3 * time.Second)}
		Expect(r.Age(now)).To(Equal(3 * time.Second))
		Expect(r.Stale(now, 2*time.Second)).To(BeTrue())
		Expect(r.Stale(now, 5*time.Second)).To(BeFalse())
		Expect(r.Stale(now, 0)).To(BeFalse())
		Expect(models.DecodedReading{}.Age(now)).To(BeZero())
	})

	DescribeTable("Display",
		func(r models.DecodedReading, want string) {
			Expect(r.Display()).To(Equal(want))
		},
		Entry("with unit", models.DecodedReading{Value: "1726", Unit: "rpm"}, "1726 rpm"),
		Entry("without unit", models.DecodedReading{Value: "1G1JC5444R7252367"}, "1G1JC5444R7252367"),
		Entry("error", models.DecodedReading{Value: "timeout", Unit: "rpm", IsError: true}, "error: timeout"),
	)
})

var _ = Describe("DeviceDescriptor", func() {
	a := models.DeviceDescriptor{DisplayName: "OBDII", Address: "/dev/rfcomm0"}

	It("compares by address", func() {
		Expect(a.Equal(models.DeviceDescriptor{Address: "/dev/rfcomm0"})).To(BeTrue())
		Expect(a.Equal(models.DeviceDescriptor{DisplayName: "OBDII", Address: "/dev/rfcomm1"})).To(BeFalse())
		Expect(models.ContainsDevice([]models.DeviceDescriptor{{Address: "/dev/ttyUSB0"}, a}, models.DeviceDescriptor{Address: "/dev/rfcomm0"})).To(BeTrue())
		Expect(models.ContainsDevice(nil, a)).To(BeFalse())
	})

	It("prints the name and address", func() {
		Expect(a.String()).To(Equal("OBDII (/dev/rfcomm0)"))
		Expect(models.DeviceDescriptor{Address: "/dev/ttyUSB0"}.String()).To(Equal("/dev/ttyUSB0"))
		Expect(models.TroubleCode{Code: "P0171", Description: "System Too Lean (Bank 1)"}.String()).To(Equal("P0171 System Too Lean (Bank 1)"))
	})
})
