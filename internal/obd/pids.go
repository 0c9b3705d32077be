package obd

import (
	"strconv"
	"strings"
)

// Standard mode 01 decoders.
var (
	EngineLoad Decoder = &numeric{
		meta: Metadata{Name: "Calculated Engine Load", Short: "load", Mode: ModeCurrentData, PID: "04", Unit: "%", Max: 100},
		size: 1, precision: 1,
		formula: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
	}
	CoolantTemp Decoder = &numeric{
		meta: Metadata{Name: "Engine Coolant Temperature", Short: "coolant", Mode: ModeCurrentData, PID: "05", Unit: "°C", Min: -40, Max: 215},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) - 40 },
	}
	FuelPressure Decoder = &numeric{
		meta: Metadata{Name: "Fuel Pressure", Short: "fuelpressure", Mode: ModeCurrentData, PID: "0A", Unit: "kPa", Max: 765},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) * 3 },
	}
	IntakePressure Decoder = &numeric{
		meta: Metadata{Name: "Intake Manifold Absolute Pressure", Short: "map", Mode: ModeCurrentData, PID: "0B", Unit: "kPa", Max: 255},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) },
	}
	EngineRPM Decoder = &rpmDecoder{}

	VehicleSpeed Decoder = &numeric{
		meta: Metadata{Name: "Vehicle Speed", Short: "speed", Mode: ModeCurrentData, PID: "0D", Unit: "km/h", Max: 255},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) },
	}
	TimingAdvance Decoder = &numeric{
		meta: Metadata{Name: "Timing Advance", Short: "timing", Mode: ModeCurrentData, PID: "0E", Unit: "°", Min: -64, Max: 63.5},
		size: 1, precision: 1,
		formula: func(b []byte) float64 { return float64(b[0])/2 - 64 },
	}
	IntakeAirTemp Decoder = &numeric{
		meta: Metadata{Name: "Intake Air Temperature", Short: "iat", Mode: ModeCurrentData, PID: "0F", Unit: "°C", Min: -40, Max: 215},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) - 40 },
	}
	MAFRate Decoder = &numeric{
		meta: Metadata{Name: "Mass Air Flow Rate", Short: "maf", Mode: ModeCurrentData, PID: "10", Unit: "g/s", Max: 655.35},
		size: 2, precision: 2,
		formula: func(b []byte) float64 { return float64(int(b[0])*256+int(b[1])) / 100 },
	}
	ThrottlePosition Decoder = &numeric{
		meta: Metadata{Name: "Throttle Position", Short: "throttle", Mode: ModeCurrentData, PID: "11", Unit: "%", Max: 100},
		size: 1, precision: 1,
		formula: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
	}
	RunTime Decoder = &numeric{
		meta: Metadata{Name: "Run Time Since Engine Start", Short: "runtime", Mode: ModeCurrentData, PID: "1F", Unit: "s", Max: 65535},
		size: 2,
		formula: func(b []byte) float64 { return float64(int(b[0])*256 + int(b[1])) },
	}
	FuelLevel Decoder = &numeric{
		meta: Metadata{Name: "Fuel Tank Level Input", Short: "fuel", Mode: ModeCurrentData, PID: "2F", Unit: "%", Max: 100},
		size: 1, precision: 1,
		formula: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
	}
	DistanceSinceCleared Decoder = &numeric{
		meta: Metadata{Name: "Distance Traveled Since Codes Cleared", Short: "distance", Mode: ModeCurrentData, PID: "31", Unit: "km", Max: 65535},
		size: 2,
		formula: func(b []byte) float64 { return float64(int(b[0])*256 + int(b[1])) },
	}
	ModuleVoltage Decoder = &numeric{
		meta: Metadata{Name: "Control Module Voltage", Short: "voltage", Mode: ModeCurrentData, PID: "42", Unit: "V", Max: 65.535},
		size: 2, precision: 3,
		formula: func(b []byte) float64 { return float64(int(b[0])*256+int(b[1])) / 1000 },
	}
	AmbientAirTemp Decoder = &numeric{
		meta: Metadata{Name: "Ambient Air Temperature", Short: "ambient", Mode: ModeCurrentData, PID: "46", Unit: "°C", Min: -40, Max: 215},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) - 40 },
	}
	OilTemp Decoder = &numeric{
		meta: Metadata{Name: "Engine Oil Temperature", Short: "oil", Mode: ModeCurrentData, PID: "5C", Unit: "°C", Min: -40, Max: 210},
		size: 1,
		formula: func(b []byte) float64 { return float64(b[0]) - 40 },
	}
)

// StandardDecoders lists every decoder shipped with the package.
func StandardDecoders() []Decoder {
	return []Decoder{
		Mode1Support,
		EngineLoad,
		CoolantTemp,
		FuelPressure,
		IntakePressure,
		EngineRPM,
		VehicleSpeed,
		TimingAdvance,
		IntakeAirTemp,
		MAFRate,
		ThrottlePosition,
		RunTime,
		FuelLevel,
		DistanceSinceCleared,
		ModuleVoltage,
		AmbientAirTemp,
		OilTemp,
		Mode9Support,
		VIN,
	}
}

// DashboardDecoders is the default set polled while connected.
func DashboardDecoders() []Decoder {
	return []Decoder{EngineRPM, VehicleSpeed, CoolantTemp, EngineLoad, ThrottlePosition, FuelLevel, ModuleVoltage}
}

// numeric covers PIDs whose value is a fixed-size formula over the data bytes.
type numeric struct {
	meta      Metadata
	size      int
	precision int
	formula   func(b []byte) float64
}

func (n *numeric) Metadata() Metadata { return n.meta }

func (n *numeric) Encode() string { return n.meta.Key().String() }

func (n *numeric) Parse(data []string) (string, error) {
	b, echoed, err := payload(data, n.meta.Mode, n.meta.PID)
	if err != nil {
		return "", err
	}
	b, err = pick(b, n.size, echoed, data)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(n.formula(b), 'f', n.precision, 64), nil
}

// rpmDecoder handles 010C. A lone byte is passed through as-is because some adapters
// report it that way; two bytes are (A*256+B)/4.
type rpmDecoder struct{}

func (*rpmDecoder) Metadata() Metadata {
	return Metadata{Name: "Engine RPM", Short: "rpm", Mode: ModeCurrentData, PID: "0C", Unit: "rpm", Max: 16383}
}

func (d *rpmDecoder) Encode() string { return d.Metadata().Key().String() }

func (*rpmDecoder) Parse(data []string) (string, error) {
	b, echoed, err := payload(data, ModeCurrentData, "0C")
	if err != nil {
		return "", err
	}
	if len(b) == 1 {
		return strconv.Itoa(int(b[0])), nil
	}
	b, err = pick(b, 2, echoed, data)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(RPM(b[0], b[1])), nil
}

// RPM is the 010C formula.
func RPM(a, b byte) int {
	return (int(a)*256 + int(b)) / 4
}

// vinDecoder reads 0902. Multi-frame replies carry a record count and padding in front
// of the 17 ASCII characters; only printable bytes are kept and the last 17 used.
type vinDecoder struct{}

var VIN Decoder = vinDecoder{}

func (vinDecoder) Metadata() Metadata {
	return Metadata{Name: "Vehicle Identification Number", Short: "vin", Mode: ModeVehicleInfo, PID: "02"}
}

func (d vinDecoder) Encode() string { return d.Metadata().Key().String() }

func (vinDecoder) Parse(data []string) (string, error) {
	b, _, err := payload(data, ModeVehicleInfo, "02")
	if err != nil {
		return "", err
	}
	var chars []byte
	for _, c := range b {
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') {
			chars = append(chars, c)
		}
	}
	if len(chars) < 17 {
		return "", decodeErrorf(strings.Join(data, " "), "vin needs 17 characters, got %d", len(chars))
	}
	return string(chars[len(chars)-17:]), nil
}
