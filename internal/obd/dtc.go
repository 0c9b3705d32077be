package obd

import (
	"fmt"
	"strconv"
	"strings"

	"elmdiag/internal/models"
)

var dtcLetters = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDTC converts a raw two-byte trouble code word per SAE J2012: bits 7-6 of a pick
// the system letter, bits 5-4 the first digit, the low nibble of a and both nibbles of b
// the remaining three digits.
func DecodeDTC(a, b byte) string {
	return fmt.Sprintf("%c%X%X%X%X", dtcLetters[a>>6], (a>>4)&0x03, a&0x0F, b>>4, b&0x0F)
}

// DecodeTroubleCodes decodes the per-message token groups of a mode 03/07 reply.
// responseMode is 0x43 or 0x47. CAN replies carry a count byte after the mode, which
// shows as an odd number of remaining bytes. All-zero words are padding.
func DecodeTroubleCodes(groups [][]string, responseMode byte) ([]models.TroubleCode, error) {
	want := fmt.Sprintf("%02X", responseMode)
	var (
		codes []models.TroubleCode
		seen  = map[string]bool{}
		found bool
	)
	for _, g := range groups {
		if len(g) == 0 || !strings.EqualFold(g[0], want) {
			continue
		}
		found = true
		rest := g[1:]
		if len(rest)%2 == 1 {
			rest = rest[1:]
		}
		for i := 0; i+1 < len(rest); i += 2 {
			a, err := strconv.ParseUint(rest[i], 16, 8)
			if err != nil || len(rest[i]) != 2 {
				return nil, decodeErrorf(strings.Join(g, " "), "non-hex token %q", rest[i])
			}
			b, err := strconv.ParseUint(rest[i+1], 16, 8)
			if err != nil || len(rest[i+1]) != 2 {
				return nil, decodeErrorf(strings.Join(g, " "), "non-hex token %q", rest[i+1])
			}
			if a == 0 && b == 0 {
				continue
			}
			code := DecodeDTC(byte(a), byte(b))
			if seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, models.TroubleCode{Code: code, Description: DescribeDTC(code)})
		}
	}
	if !found {
		var all []string
		for _, g := range groups {
			all = append(all, g...)
		}
		return nil, decodeErrorf(strings.Join(all, " "), "no %s response in reply", want)
	}
	return codes, nil
}

var dtcDescriptions = map[string]string{
	// Powertrain
	"P0100": "Mass Air Flow Circuit Malfunction",
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0102": "Mass Air Flow Circuit Low Input",
	"P0103": "Mass Air Flow Circuit High Input",
	"P0113": "Intake Air Temperature Circuit High Input",
	"P0118": "Engine Coolant Temperature Circuit High Input",
	"P0128": "Coolant Thermostat Below Regulating Temperature",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0305": "Cylinder 5 Misfire Detected",
	"P0306": "Cylinder 6 Misfire Detected",
	"P0325": "Knock Sensor 1 Circuit Malfunction",
	"P0335": "Crankshaft Position Sensor A Circuit Malfunction",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0441": "Evaporative Emission Control System Incorrect Purge Flow",
	"P0442": "Evaporative Emission Control System Leak Detected (Small)",
	"P0443": "Evaporative Emission Control System Purge Control Valve Circuit",
	"P0455": "Evaporative Emission Control System Leak Detected (Large)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0506": "Idle Control System RPM Lower Than Expected",
	"P0507": "Idle Control System RPM Higher Than Expected",
	"P0562": "System Voltage Low",
	"P0700": "Transmission Control System Malfunction",

	// Chassis
	"C0035": "Left Front Wheel Speed Sensor Circuit",
	"C0040": "Right Front Wheel Speed Sensor Circuit",
	"C1A00": "TPMS Control Module Malfunction",
	"C2100": "Tire Pressure Too Low - Left Front",

	// Body
	"B1000": "Body Control Module Malfunction",
	"B1342": "ECU Defective",
	"B1600": "Ignition Switch Malfunction",

	// Network
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Module",
	"U0140": "Lost Communication With Body Control Module",
	"U0155": "Lost Communication With Instrument Cluster",
}

// DescribeDTC returns a description for common codes.
func DescribeDTC(code string) string {
	if desc, ok := dtcDescriptions[code]; ok {
		return desc
	}
	if strings.HasPrefix(code, "C1A") || strings.HasPrefix(code, "C2") {
		return "TPMS/Tire Pressure Related Code"
	}
	return "Unknown DTC"
}
