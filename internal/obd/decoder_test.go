package obd_test

import (
	"errors"
	"fmt"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/obd"
)

func hexTokens(b ...byte) []string {
	out := make([]string, len(b))
	for i, v := range b {
		out[i] = fmt.Sprintf("%02X", v)
	}
	return out
}

var _ = Describe("Decoders", func() {
	Describe("EngineRPM", func() {
		It("decodes every A,B pair as floor((A*256+B)/4)", func() {
			for a := 0; a < 256; a++ {
				for b := 0; b < 256; b++ {
					want := strconv.Itoa((a*256 + b) / 4)

					got, err := obd.EngineRPM.Parse(append([]string{"41", "0C"}, hexTokens(byte(a), byte(b))...))
					if err != nil || got != want {
						Fail(fmt.Sprintf("echoed %02X %02X: got %q (%v), want %s", a, b, got, err, want))
					}
					if a == 0x41 && b == 0x0C {
						// indistinguishable from a bare echo
						continue
					}
					got, err = obd.EngineRPM.Parse(hexTokens(byte(a), byte(b)))
					if err != nil || got != want {
						Fail(fmt.Sprintf("bare %02X %02X: got %q (%v), want %s", a, b, got, err, want))
					}
				}
			}
		})

		It("decodes 41 0C 1A F8 as 1726", func() {
			Expect(obd.EngineRPM.Parse([]string{"41", "0C", "1A", "F8"})).To(Equal("1726"))
		})

		It("uses the two bytes right after the echo", func() {
			Expect(obd.EngineRPM.Parse([]string{"41", "0C", "1A", "F8", "00"})).To(Equal("1726"))
		})

		It("passes a single byte through", func() {
			Expect(obd.EngineRPM.Parse([]string{"7B"})).To(Equal("123"))
		})

		// Longer replies without an echo fall back to the trailing bytes. That is a guess at
		// the payload position and is kept as-is.
		It("uses the last two bytes of a longer un-echoed reply", func() {
			Expect(obd.EngineRPM.Parse([]string{"00", "1A", "F8"})).To(Equal("1726"))
		})

		It("rejects a reply with no data bytes", func() {
			_, err := obd.EngineRPM.Parse([]string{"41", "0C"})
			var de *obd.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Raw).To(Equal("41 0C"))
		})

		It("rejects non-hex tokens", func() {
			_, err := obd.EngineRPM.Parse([]string{"41", "0C", "ZZ", "F8"})
			var de *obd.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Raw).To(ContainSubstring("ZZ"))
		})
	})

	Describe("numeric decoders", func() {
		DescribeTable("apply their formula",
			func(d obd.Decoder, data []string, want string) {
				Expect(d.Parse(data)).To(Equal(want))
			},
			Entry("coolant", obd.CoolantTemp, []string{"41", "05", "7B"}, "83"),
			Entry("coolant below zero", obd.CoolantTemp, []string{"41", "05", "00"}, "-40"),
			Entry("engine load", obd.EngineLoad, []string{"41", "04", "FF"}, "100.0"),
			Entry("fuel pressure", obd.FuelPressure, []string{"41", "0A", "10"}, "48"),
			Entry("intake pressure", obd.IntakePressure, []string{"41", "0B", "65"}, "101"),
			Entry("speed", obd.VehicleSpeed, []string{"41", "0D", "32"}, "50"),
			Entry("timing advance", obd.TimingAdvance, []string{"41", "0E", "80"}, "0.0"),
			Entry("intake air", obd.IntakeAirTemp, []string{"41", "0F", "3C"}, "20"),
			Entry("maf", obd.MAFRate, []string{"41", "10", "01", "F4"}, "5.00"),
			Entry("throttle", obd.ThrottlePosition, []string{"41", "11", "33"}, "20.0"),
			Entry("run time", obd.RunTime, []string{"41", "1F", "01", "00"}, "256"),
			Entry("fuel level", obd.FuelLevel, []string{"41", "2F", "80"}, "50.2"),
			Entry("distance", obd.DistanceSinceCleared, []string{"41", "31", "00", "0A"}, "10"),
			Entry("module voltage", obd.ModuleVoltage, []string{"41", "42", "31", "38"}, "12.600"),
			Entry("ambient", obd.AmbientAirTemp, []string{"41", "46", "32"}, "10"),
			Entry("oil", obd.OilTemp, []string{"41", "5C", "82"}, "90"),
			Entry("coolant without echo", obd.CoolantTemp, []string{"7B"}, "83"),
			Entry("coolant, trailing byte of longer reply", obd.CoolantTemp, []string{"05", "7B"}, "83"),
		)

		It("rejects too few bytes for a two-byte formula", func() {
			_, err := obd.MAFRate.Parse([]string{"41", "10", "01"})
			var de *obd.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Reason).To(ContainSubstring("need 2"))
		})

		It("keeps decoded values inside the documented range", func() {
			meta := obd.CoolantTemp.Metadata()
			for b := 0; b < 256; b++ {
				v, err := obd.CoolantTemp.Parse(hexTokens(byte(b)))
				Expect(err).NotTo(HaveOccurred())
				f, _ := strconv.ParseFloat(v, 64)
				Expect(meta.InRange(f)).To(BeTrue())
			}
		})
	})

	Describe("support bitmaps", func() {
		It("lists PIDs most significant bit first", func() {
			v, err := obd.Mode9Support.Parse([]string{"49", "00", "FF", "00", "00", "00"})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("01,02,03,04,05,06,07,08"))
			Expect(obd.SupportsVIN(v)).To(BeTrue())
		})

		It("reports VIN support from bit 1", func() {
			v, err := obd.Mode9Support.Parse([]string{"49", "00", "40", "00", "00", "00"})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("02"))
			Expect(obd.SupportsVIN(v)).To(BeTrue())
		})

		It("reports no VIN support when bit 1 is clear", func() {
			v, err := obd.Mode9Support.Parse([]string{"49", "00", "80", "00", "00", "01"})
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("01,20"))
			Expect(obd.SupportsVIN(v)).To(BeFalse())
		})

		It("degrades to a status on short replies", func() {
			Expect(obd.Mode9Support.Parse([]string{"49", "00", "40"})).To(Equal(obd.StatusInsufficientData))
		})

		It("decodes mode 01 support the same way", func() {
			Expect(obd.Mode1Support.Parse([]string{"41", "00", "BE", "3F", "A8", "13"})).
				To(Equal("01,03,04,05,06,07,0B,0C,0D,0E,0F,10,11,13,15,1C,1F,20"))
		})
	})

	Describe("VIN", func() {
		It("reads the 17 characters of a multi-frame reply", func() {
			Expect(obd.VIN.Parse(vinBytes)).To(Equal("1G1JC5444R7252367"))
		})

		It("rejects a short VIN", func() {
			_, err := obd.VIN.Parse([]string{"49", "02", "01", "31", "47"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Registry", func() {
		var registry *obd.Registry

		BeforeEach(func() {
			registry = obd.DefaultRegistry()
		})

		It("looks decoders up by mode and PID", func() {
			d, ok := registry.Lookup(obd.ModeCurrentData, "0c")
			Expect(ok).To(BeTrue())
			Expect(d).To(Equal(obd.EngineRPM))
		})

		It("finds decoders by command body or short name", func() {
			d, ok := registry.Find("010D")
			Expect(ok).To(BeTrue())
			Expect(d).To(Equal(obd.VehicleSpeed))

			d, ok = registry.Find("Coolant")
			Expect(ok).To(BeTrue())
			Expect(d).To(Equal(obd.CoolantTemp))

			_, ok = registry.Find("warp")
			Expect(ok).To(BeFalse())
		})

		It("refuses duplicate registrations", func() {
			Expect(registry.Register(obd.EngineRPM)).To(MatchError(ContainSubstring("already registered")))
		})

		It("lists decoders ordered by key", func() {
			ds := registry.Decoders()
			Expect(ds).To(HaveLen(len(obd.StandardDecoders())))
			Expect(ds[0]).To(Equal(obd.Mode1Support))
			Expect(ds[len(ds)-1]).To(Equal(obd.VIN))
		})
	})
})
