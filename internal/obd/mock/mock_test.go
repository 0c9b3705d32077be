package mock_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"elmdiag/internal/models"
	"elmdiag/internal/obd"
	"elmdiag/internal/obd/mock"
)

func exchange(a *mock.Adapter, cmd string) string {
	_, err := a.Write([]byte(cmd + "\r"))
	Expect(err).NotTo(HaveOccurred())
	var out bytes.Buffer
	buf := make([]byte, 64)
	for !strings.Contains(out.String(), ">") {
		n, err := a.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		out.Write(buf[:n])
	}
	return out.String()
}

var _ = Describe("Adapter", func() {
	var a *mock.Adapter

	BeforeEach(func() {
		a = mock.New()
		a.SetRPM(1726)
	})

	It("echoes commands until echo is turned off", func() {
		Expect(exchange(a, "010C")).To(Equal("010C\r41 0C 1A F8\r\r>"))
		Expect(exchange(a, "ATE0")).To(Equal("ATE0\rOK\r\r>"))
		Expect(exchange(a, "010C")).To(Equal("41 0C 1A F8\r\r>"))
	})

	It("formats replies the way the settings ask", func() {
		exchange(a, "ATE0")
		exchange(a, "ATH1")
		Expect(exchange(a, "010C")).To(Equal("7E8 04 41 0C 1A F8\r\r>"))
		exchange(a, "ATS0")
		Expect(exchange(a, "010C")).To(Equal("7E804410C1AF8\r\r>"))
	})

	It("restores defaults on reset", func() {
		exchange(a, "ATE0")
		Expect(exchange(a, "ATZ")).To(ContainSubstring("ELM327"))
		Expect(exchange(a, "ATI")).To(HavePrefix("ATI\r"))
	})

	DescribeTable("produces replies the frame parser and decoders understand",
		func(headers, spaces bool) {
			exchange(a, "ATE0")
			if headers {
				exchange(a, "ATH1")
			}
			if !spaces {
				exchange(a, "ATS0")
			}
			a.SetCoolant(83)

			Expect(obd.EngineRPM.Parse(obd.ParseFrame(exchange(a, "010C"), "010C"))).To(Equal("1726"))
			Expect(obd.CoolantTemp.Parse(obd.ParseFrame(exchange(a, "0105"), "0105"))).To(Equal("83"))
			Expect(obd.VIN.Parse(obd.ParseFrame(exchange(a, "0902"), "0902"))).To(Equal("1G1JC5444R7252367"))
			Expect(obd.Mode9Support.Parse(obd.ParseFrame(exchange(a, "0900"), "0900"))).To(Equal("02"))
		},
		Entry("headers off, spaces on", false, true),
		Entry("headers on, spaces on", true, true),
		Entry("headers on, spaces off", true, false),
		Entry("headers off, spaces off", false, false),
	)

	It("reports and clears trouble codes", func() {
		exchange(a, "ATE0")
		exchange(a, "ATH1")
		a.SetCodes([2]byte{0x03, 0x01}, [2]byte{0x04, 0x20}, [2]byte{0xC1, 0x00})

		codes, err := obd.DecodeTroubleCodes(obd.SplitFrame(exchange(a, "03"), "03"), 0x43)
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(HaveLen(3))
		Expect(codes[2].Code).To(Equal("U0100"))

		Expect(exchange(a, "04")).To(Equal("7E8 01 44\r\r>"))
		codes, err = obd.DecodeTroubleCodes(obd.SplitFrame(exchange(a, "03"), "03"), 0x43)
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(BeEmpty())
	})

	It("answers unknown requests like an adapter", func() {
		exchange(a, "ATE0")
		Expect(exchange(a, "01FF")).To(Equal("NO DATA\r\r>"))
		Expect(exchange(a, "ATXYZ")).To(Equal("?\r\r>"))
	})

	It("can be scripted", func() {
		exchange(a, "ATE0")
		a.SetReply("010C", "7E804410C1AF8F")
		Expect(exchange(a, "010C")).To(Equal("7E804410C1AF8F\r\r>"))

		a.Mute("010D")
		_, err := a.Write([]byte("010D\r"))
		Expect(err).NotTo(HaveOccurred())
		Expect(exchange(a, "0105")).To(HavePrefix("41 05"))
		Expect(a.Commands()).To(Equal([]string{"ATE0", "010C", "010D", "0105"}))
	})

	It("fails reads after the link drops and recovers on reopen", func() {
		lost := errors.New("link lost")
		a.Drop(lost)
		_, err := a.Read(make([]byte, 8))
		Expect(err).To(MatchError(lost))

		rwc, err := a.Open(context.Background(), models.DeviceDescriptor{Address: "mock"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rwc.Close()).To(Succeed())
		_, err = a.Read(make([]byte, 8))
		Expect(err).To(Equal(io.EOF))

		_, err = a.Open(context.Background(), models.DeviceDescriptor{Address: "mock"})
		Expect(err).NotTo(HaveOccurred())
		Expect(exchange(a, "ATI")).To(ContainSubstring("ELM327"))
	})

	It("refuses to open when told to", func() {
		a.RefuseOpen(errors.New("no such device"))
		_, err := a.Open(context.Background(), models.DeviceDescriptor{})
		Expect(err).To(MatchError("no such device"))
	})
})
