package obd

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 5000 * time.Millisecond
	DirectiveTimeout = 2000 * time.Millisecond

	CR     = "\r"
	Prompt = '>'
)

// Adapter directives.
const (
	CommandReset           = "ATZ"
	CommandEchoOff         = "ATE0"
	CommandHeadersOn       = "ATH1"
	CommandSetProtocolAuto = "ATSP0"
	CommandSpacesOff       = "ATS0"
	CommandLineFeedsOff    = "ATL0"
	CommandAllowLong       = "ATAL"
	CommandProtocolNum     = "ATDPN"
	CommandReadVoltage     = "ATRV"
	CommandLowPower        = "ATLP"
)

// OBD modes.
const (
	ModeCurrentData  = 0x01
	ModeStoredDTC    = 0x03
	ModeClearDTC     = 0x04
	ModePendingDTC   = 0x07
	ModeVehicleInfo  = 0x09
	responseModeBase = 0x40
)

// Command is one request to the adapter. Mode is zero for adapter directives.
type Command struct {
	Mode    int
	PID     string
	Body    string
	Timeout time.Duration
	Decoder Decoder
}

// Encode returns the bytes written to the transport.
func (c Command) Encode() []byte {
	return []byte(c.Body + CR)
}

// IsDirective reports whether the command is addressed to the adapter rather than the ECU.
func (c Command) IsDirective() bool {
	return strings.HasPrefix(strings.ToUpper(c.Body), "AT")
}

// Name is used for readings and log lines.
func (c Command) Name() string {
	if c.Decoder != nil {
		return c.Decoder.Metadata().Name
	}
	return c.Body
}

func (c Command) String() string {
	return c.Body
}

// Directive builds an adapter directive (AT...) with the short timeout.
func Directive(body string) Command {
	return Command{
		Body:    strings.ToUpper(strings.ReplaceAll(body, " ", "")),
		Timeout: DirectiveTimeout,
	}
}

// SetTimeoutDirective builds ATST<hex>; the adapter counts in 4 ms units.
func SetTimeoutDirective(d time.Duration) Command {
	units := d.Milliseconds() / 4
	if units < 1 {
		units = 1
	}
	if units > 0xFF {
		units = 0xFF
	}
	return Directive(fmt.Sprintf("ATST%02X", units))
}

// ModeRequest builds a request with a mode and no PID, e.g. 03 for stored trouble codes.
func ModeRequest(mode int) Command {
	return Command{
		Mode:    mode,
		Body:    fmt.Sprintf("%02X", mode),
		Timeout: DefaultTimeout,
	}
}

// PIDRequest builds a mode+PID request without a decoder.
func PIDRequest(mode int, pid string) Command {
	pid = strings.ToUpper(pid)
	return Command{
		Mode:    mode,
		PID:     pid,
		Body:    fmt.Sprintf("%02X%s", mode, pid),
		Timeout: DefaultTimeout,
	}
}

// Request builds the command for a decoder.
func Request(d Decoder) Command {
	meta := d.Metadata()
	return Command{
		Mode:    meta.Mode,
		PID:     meta.PID,
		Body:    d.Encode(),
		Timeout: DefaultTimeout,
		Decoder: d,
	}
}

// WithTimeout returns a copy with a different deadline.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// InitSequence is the adapter setup run before a session is declared ready.
func InitSequence(adapterTimeout time.Duration) []Command {
	return []Command{
		Directive(CommandReset),
		Directive(CommandEchoOff),
		Directive(CommandHeadersOn),
		Directive(CommandSetProtocolAuto),
		Directive(CommandSpacesOff),
		Directive(CommandLineFeedsOff),
		SetTimeoutDirective(adapterTimeout),
		Directive(CommandAllowLong),
	}
}
