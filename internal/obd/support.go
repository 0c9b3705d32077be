package obd

import (
	"fmt"
	"strings"
)

// StatusInsufficientData is returned instead of an error when a support bitmap reply is
// too short to decode.
const StatusInsufficientData = "insufficient data"

// supportDecoder decodes the "PIDs supported [01-20]" bitmap of a mode.
type supportDecoder struct {
	mode int
	name string
}

var (
	Mode1Support Decoder = supportDecoder{mode: ModeCurrentData, name: "Supported PIDs [01-20]"}
	Mode9Support Decoder = supportDecoder{mode: ModeVehicleInfo, name: "Supported Vehicle Info PIDs [01-20]"}
)

func (d supportDecoder) Metadata() Metadata {
	return Metadata{Name: d.name, Short: fmt.Sprintf("support%02X", d.mode), Mode: d.mode, PID: "00"}
}

func (d supportDecoder) Encode() string { return d.Metadata().Key().String() }

// Parse returns the supported PIDs as comma-separated hex, e.g. "01,02,0C". Fewer than
// four data bytes gives StatusInsufficientData rather than an error.
func (d supportDecoder) Parse(data []string) (string, error) {
	b, echoed, err := payload(data, d.mode, "00")
	if err != nil {
		return "", err
	}
	if len(b) < 4 {
		return StatusInsufficientData, nil
	}
	if echoed {
		b = b[:4]
	} else {
		b = b[len(b)-4:]
	}
	return strings.Join(SupportedPIDs(b), ","), nil
}

// SupportedPIDs reads a 4-byte bitmap most-significant bit first: bit i set means PID
// i+1 is supported.
func SupportedPIDs(bitmap []byte) []string {
	var out []string
	for i := 0; i < 32 && i/8 < len(bitmap); i++ {
		if bitmap[i/8]&(1<<(7-i%8)) != 0 {
			out = append(out, fmt.Sprintf("%02X", i+1))
		}
	}
	return out
}

// SupportsVIN reports whether a decoded mode 09 support value lists PID 02. It follows
// the bitmap strictly: FF 00 00 00 sets bit 1 and so reports VIN support, while
// 80 00 00 01 (PIDs 01 and 20) does not.
func SupportsVIN(value string) bool {
	for _, pid := range strings.Split(value, ",") {
		if pid == "02" {
			return true
		}
	}
	return false
}
