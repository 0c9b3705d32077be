package obd

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// fusedRPMPrefix is a header+PCI+mode+PID run some adapters emit with the data bytes
// glued on and the tail cut short.
const fusedRPMPrefix = "7E804410C"

const negativeResponse = 0x7F

var segmentLine = regexp.MustCompile(`^([0-9A-F]):\s*(.*)$`)

// adapterErrors are whole-line replies meaning the request failed.
var adapterErrors = []string{
	"NODATA",
	"?",
	"ERROR",
	"UNABLETOCONNECT",
	"CANERROR",
	"BUSERROR",
	"BUSBUSY",
	"BUFFERFULL",
	"DATAERROR",
	"FBERROR",
	"STOPPED",
}

// ParseFrame reduces a raw reply to its payload byte tokens, all messages concatenated.
// echo is the body of the command that was sent; an echoed copy of it is dropped.
func ParseFrame(raw, echo string) []string {
	var out []string
	for _, g := range SplitFrame(raw, echo) {
		out = append(out, g...)
	}
	return out
}

// SplitFrame is ParseFrame keeping one token group per ECU message. CAN multi-frame
// replies are reassembled into a single group.
func SplitFrame(raw, echo string) [][]string {
	echo = compact(echo)

	type message struct {
		tokens []string
		length int
	}
	var (
		order    []string
		messages = map[string]*message{}
		plain    [][]string
	)
	open := func(id string, length int) *message {
		m, ok := messages[id]
		if !ok {
			order = append(order, id)
			m = &message{length: length}
			messages[id] = m
		}
		if length > 0 {
			m.length = length
		}
		return m
	}

	for _, line := range replyLines(raw) {
		c := compact(line)
		if c == "" || c == echo || isNoise(c) {
			continue
		}

		if strings.HasPrefix(c, fusedRPMPrefix) {
			if tail := c[len(fusedRPMPrefix):]; len(tail) >= 4 && isHex(tail[:4]) {
				plain = append(plain, []string{"41", "0C", tail[0:2], tail[2:4]})
				continue
			}
		}

		// multi-frame reply with headers off: "00A" byte count, then "0: ..", "1: ..".
		if len(c) == 3 && isHex(c) && c[0] != '7' {
			n, _ := strconv.ParseUint(c, 16, 16)
			open("segments", int(n))
			continue
		}
		if m := segmentLine.FindStringSubmatch(line); m != nil {
			seg := open("segments", 0)
			seg.tokens = append(seg.tokens, tokenize(m[2])...)
			continue
		}

		id, rest := splitHeader(line)
		if id == "" {
			plain = append(plain, tokenize(line))
			continue
		}
		if len(rest) == 0 {
			continue
		}

		pci, err := strconv.ParseUint(rest[0], 16, 8)
		if err != nil || len(rest[0]) != 2 {
			m := open(id, 0)
			m.tokens = append(m.tokens, rest...)
			continue
		}
		switch pci >> 4 {
		case 0x0:
			m := open(id, int(pci&0x0F))
			m.tokens = append(m.tokens, rest[1:]...)
		case 0x1:
			length := int(pci&0x0F) << 8
			if len(rest) > 1 {
				lo, _ := strconv.ParseUint(rest[1], 16, 8)
				length |= int(lo)
			}
			m := open(id, length)
			if len(rest) > 2 {
				m.tokens = append(m.tokens, rest[2:]...)
			}
		case 0x2:
			m := open(id, 0)
			m.tokens = append(m.tokens, rest[1:]...)
		default:
			m := open(id, 0)
			m.tokens = append(m.tokens, rest...)
		}
	}

	groups := make([][]string, 0, len(plain)+len(order))
	groups = append(groups, plain...)
	for _, id := range order {
		m := messages[id]
		tokens := m.tokens
		if m.length > 0 && m.length < len(tokens) {
			tokens = tokens[:m.length]
		}
		if len(tokens) > 0 {
			groups = append(groups, tokens)
		}
	}
	return groups
}

// CheckAdapterReply returns a *DecodeError wrapping ErrAdapter when the adapter answered
// with one of its failure messages instead of data.
func CheckAdapterReply(raw string) error {
	for _, line := range replyLines(raw) {
		c := compact(line)
		for _, marker := range adapterErrors {
			if c == marker || (marker != "?" && strings.HasSuffix(c, marker)) {
				return &DecodeError{Raw: raw, Reason: "adapter replied " + strings.TrimSpace(line), Err: ErrAdapter}
			}
		}
	}
	return nil
}

// ForeignReply reports whether the messages of a reply visibly answer a request other
// than mode+pid: each one leads with another response mode, another PID, or a negative
// response (7F) to another mode. A message without a response mode byte is never foreign.
func ForeignReply(groups [][]string, mode int, pid string) bool {
	foreign := 0
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		if !foreignMessage(g, mode, pid) {
			return false
		}
		foreign++
	}
	return foreign > 0
}

func foreignMessage(g []string, mode int, pid string) bool {
	if len(g[0]) != 2 || !isHex(g[0]) {
		return false
	}
	v, _ := strconv.ParseUint(g[0], 16, 8)
	switch {
	case v == negativeResponse:
		return len(g) >= 2 && !strings.EqualFold(g[1], fmt.Sprintf("%02X", mode))
	case v > responseModeBase && v <= responseModeBase+0x0A:
		if int(v) != mode+responseModeBase {
			return true
		}
		return pid != "" && len(g) >= 2 && !strings.EqualFold(g[1], pid)
	}
	return false
}

// CleanReply returns the reply text without prompt, echo and blank lines, lines joined by a space.
func CleanReply(raw, echo string) string {
	echo = compact(echo)
	var out []string
	for _, line := range replyLines(raw) {
		if compact(line) == echo {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}

func replyLines(raw string) []string {
	raw = strings.ToUpper(strings.ReplaceAll(raw, string(Prompt), ""))
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' })
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			lines = append(lines, f)
		}
	}
	return lines
}

// splitHeader detects a CAN identifier at the start of the line (11-bit "7E8" or
// 29-bit "18DAF110") and returns it with the tokens that follow.
func splitHeader(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) > 1 {
		f := fields[0]
		if isHex(f) && ((len(f) == 3 && f[0] == '7') || (len(f) == 8 && strings.HasPrefix(f, "18DA"))) {
			return f, tokenize(strings.Join(fields[1:], " "))
		}
		return "", nil
	}
	c := compact(line)
	if !isHex(c) {
		return "", nil
	}
	switch {
	case len(c) > 8 && strings.HasPrefix(c, "18DA"):
		return c[:8], pairs(c[8:])
	case len(c) > 3 && len(c)%2 == 1 && c[0] == '7':
		return c[:3], pairs(c[3:])
	}
	return "", nil
}

// tokenize splits a spaced or run-together line into byte tokens. Fields that are not
// even-length hex are kept whole so decoders can reject them.
func tokenize(line string) []string {
	var out []string
	for _, f := range strings.Fields(line) {
		if isHex(f) && len(f)%2 == 0 {
			out = append(out, pairs(f)...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// pairs cuts s into two-character tokens; a dangling odd character becomes its own token.
func pairs(s string) []string {
	out := make([]string, 0, (len(s)+1)/2)
	for i := 0; i < len(s); i += 2 {
		end := i + 2
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}

func compact(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

func isNoise(c string) bool {
	return strings.HasPrefix(c, "SEARCHING") || (strings.HasPrefix(c, "BUSINIT") && !strings.HasSuffix(c, "ERROR"))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
