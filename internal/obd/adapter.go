package obd

import (
	"strconv"
	"strings"
)

var protocols = map[string]string{
	"0": "Auto",
	"1": "SAE J1850 PWM (41.6 kbaud)",
	"2": "SAE J1850 VPW (10.4 kbaud)",
	"3": "ISO 9141-2 (5 baud init)",
	"4": "ISO 14230-4 KWP (5 baud init)",
	"5": "ISO 14230-4 KWP (fast init)",
	"6": "ISO 15765-4 CAN (11 bit ID, 500 kbaud)",
	"7": "ISO 15765-4 CAN (29 bit ID, 500 kbaud)",
	"8": "ISO 15765-4 CAN (11 bit ID, 250 kbaud)",
	"9": "ISO 15765-4 CAN (29 bit ID, 250 kbaud)",
	"A": "SAE J1939 CAN (29 bit ID, 250 kbaud)",
}

// ProtocolName turns an ATDPN reply into a readable name. A leading "A" means the
// protocol was found by automatic search.
func ProtocolName(dpn string) string {
	dpn = strings.ToUpper(strings.TrimSpace(dpn))
	auto := len(dpn) == 2 && dpn[0] == 'A'
	if auto {
		dpn = dpn[1:]
	}
	name, ok := protocols[dpn]
	if !ok {
		return "Unknown"
	}
	if auto {
		return name + ", auto"
	}
	return name
}

// ParseVoltage reads an ATRV reply such as "12.6V".
func ParseVoltage(reply string) (float64, error) {
	s := strings.TrimSpace(strings.ToUpper(reply))
	s = strings.TrimSuffix(s, "V")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, decodeErrorf(reply, "not a voltage")
	}
	return v, nil
}
