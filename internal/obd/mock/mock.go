// Package mock simulates an ELM327 adapter on a CAN vehicle. It implements
// io.ReadWriteCloser so it can stand in for a serial port, for demos and tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"elmdiag/internal/models"
)

const vin = "1G1JC5444R7252367"

// Adapter is a simulated ELM327.
type Adapter struct {
	mu   sync.Mutex
	cond *sync.Cond

	in     []byte
	out    bytes.Buffer
	closed bool
	err    error

	echo    bool
	headers bool
	spaces  bool

	// simulated values
	rpm     int
	speed   int
	coolant int
	load    int
	codes   [][2]byte
	pending [][2]byte

	replies  map[string]string
	silent   map[string]bool
	writeErr error
	refuse   error
	commands []string
}

func New() *Adapter {
	a := &Adapter{
		rpm:     800,
		coolant: 75,
		load:    20,
		replies: map[string]string{},
		silent:  map[string]bool{},
	}
	a.cond = sync.NewCond(&a.mu)
	a.reset()
	return a
}

func (a *Adapter) reset() {
	a.echo = true
	a.headers = false
	a.spaces = true
}

// Open hands out the adapter as the link to device, so an Adapter can stand in for a
// serial opener. Opening a closed or dropped adapter powers it back on with defaults.
func (a *Adapter) Open(ctx context.Context, _ models.DeviceDescriptor) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refuse != nil {
		return nil, a.refuse
	}
	if a.closed || a.err != nil {
		a.closed = false
		a.err = nil
		a.in = nil
		a.out.Reset()
		a.reset()
	}
	return a, nil
}

// RefuseOpen makes Open fail with err; nil accepts again.
func (a *Adapter) RefuseOpen(err error) {
	a.mu.Lock()
	a.refuse = err
	a.mu.Unlock()
}

// Simulate random-walks engine values until ctx ends.
func (a *Adapter) Simulate(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			a.rpm = clamp(a.rpm+rand.Intn(201)-100, 600, 4000)
			a.coolant = clamp(a.coolant+rand.Intn(3)-1, 60, 110)
			a.speed = clamp(a.speed+rand.Intn(11)-5, 0, 180)
			a.load = clamp(a.load+rand.Intn(7)-3, 5, 95)
			// randomly add/remove an error
			if rand.Float32() < 0.05 {
				a.codes = append(a.codes, [2]byte{byte(rand.Intn(0x40)), byte(rand.Intn(0x100))})
			}
			if len(a.codes) > 0 && rand.Float32() < 0.02 {
				a.codes = a.codes[1:]
			}
			a.mu.Unlock()
		}
	}
}

func (a *Adapter) SetRPM(rpm int) {
	a.mu.Lock()
	a.rpm = rpm
	a.mu.Unlock()
}

func (a *Adapter) SetCoolant(celsius int) {
	a.mu.Lock()
	a.coolant = celsius
	a.mu.Unlock()
}

// SetCodes replaces the stored trouble codes with raw two-byte words.
func (a *Adapter) SetCodes(words ...[2]byte) {
	a.mu.Lock()
	a.codes = append([][2]byte(nil), words...)
	a.mu.Unlock()
}

func (a *Adapter) SetPendingCodes(words ...[2]byte) {
	a.mu.Lock()
	a.pending = append([][2]byte(nil), words...)
	a.mu.Unlock()
}

// SetReply makes the adapter answer cmd with reply verbatim (without prompt).
func (a *Adapter) SetReply(cmd, reply string) {
	a.mu.Lock()
	a.replies[strings.ToUpper(cmd)] = reply
	a.mu.Unlock()
}

// Mute makes the adapter swallow cmd without answering.
func (a *Adapter) Mute(cmd string) {
	a.mu.Lock()
	a.silent[strings.ToUpper(cmd)] = true
	a.mu.Unlock()
}

// FailWrites makes every later Write fail with err.
func (a *Adapter) FailWrites(err error) {
	a.mu.Lock()
	a.writeErr = err
	a.mu.Unlock()
}

// Drop simulates losing the link: pending and later reads fail with err.
func (a *Adapter) Drop(err error) {
	a.mu.Lock()
	a.err = err
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Commands returns every command received so far.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func (a *Adapter) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.out.Len() == 0 && !a.closed && a.err == nil {
		a.cond.Wait()
	}
	if a.err != nil {
		return 0, a.err
	}
	if a.out.Len() == 0 && a.closed {
		return 0, io.EOF
	}
	return a.out.Read(p)
}

func (a *Adapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, io.ErrClosedPipe
	}
	if a.err != nil {
		return 0, a.err
	}
	if a.writeErr != nil {
		return 0, a.writeErr
	}
	a.in = append(a.in, p...)
	for {
		i := bytes.IndexByte(a.in, '\r')
		if i < 0 {
			break
		}
		cmd := strings.ToUpper(strings.TrimSpace(string(a.in[:i])))
		a.in = a.in[i+1:]
		a.commands = append(a.commands, cmd)
		if a.silent[cmd] {
			continue
		}
		var reply strings.Builder
		if a.echo {
			reply.WriteString(cmd + "\r")
		}
		reply.WriteString(a.respond(cmd))
		reply.WriteString("\r\r>")
		a.out.WriteString(reply.String())
	}
	a.cond.Broadcast()
	return len(p), nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.cond.Broadcast()
	return nil
}

// respond is called with the lock held.
func (a *Adapter) respond(cmd string) string {
	if r, ok := a.replies[cmd]; ok {
		return r
	}
	if strings.HasPrefix(cmd, "AT") {
		return a.directive(cmd[2:])
	}

	switch cmd {
	case "0100":
		return a.format(0x41, 0x00, 0xBE, 0x3F, 0xA8, 0x13)
	case "0104":
		return a.format(0x41, 0x04, byte(a.load*255/100))
	case "0105":
		return a.format(0x41, 0x05, byte(a.coolant+40))
	case "010C":
		v := a.rpm * 4
		return a.format(0x41, 0x0C, byte(v>>8), byte(v))
	case "010D":
		return a.format(0x41, 0x0D, byte(a.speed))
	case "0111":
		return a.format(0x41, 0x11, 0x33)
	case "012F":
		return a.format(0x41, 0x2F, 0x99)
	case "0142":
		return a.format(0x41, 0x42, 0x31, 0x38)
	case "03":
		return a.format(troubleCodeReply(0x43, a.codes)...)
	case "04":
		a.codes = nil
		return a.format(0x44)
	case "07":
		return a.format(troubleCodeReply(0x47, a.pending)...)
	case "0900":
		return a.format(0x49, 0x00, 0x40, 0x00, 0x00, 0x00)
	case "0902":
		return a.format(append([]byte{0x49, 0x02, 0x01}, vin...)...)
	}
	return "NO DATA"
}

func (a *Adapter) directive(d string) string {
	switch {
	case d == "Z":
		a.reset()
		return "\rELM327 v1.5"
	case d == "I":
		return "ELM327 v1.5"
	case d == "E0", d == "E1":
		a.echo = d == "E1"
	case d == "H0", d == "H1":
		a.headers = d == "H1"
	case d == "S0", d == "S1":
		a.spaces = d == "S1"
	case d == "RV":
		return "12.6V"
	case d == "DPN":
		return "A6"
	case d == "L0", d == "L1", d == "AL", d == "D", d == "LP",
		strings.HasPrefix(d, "SP"), strings.HasPrefix(d, "TP"), strings.HasPrefix(d, "ST"), strings.HasPrefix(d, "SH"):
	default:
		return "?"
	}
	return "OK"
}

// format renders a payload the way a CAN ELM327 would with the current settings,
// splitting it into ISO-TP frames when it does not fit one.
func (a *Adapter) format(payload ...byte) string {
	sep := ""
	if a.spaces {
		sep = " "
	}
	hexJoin := func(b []byte) string {
		parts := make([]string, len(b))
		for i, c := range b {
			parts[i] = fmt.Sprintf("%02X", c)
		}
		return strings.Join(parts, sep)
	}
	header := func(b []byte) string {
		if !a.headers {
			return hexJoin(b)
		}
		return "7E8" + sep + hexJoin(b)
	}

	if len(payload) <= 7 {
		if a.headers {
			return header(append([]byte{byte(len(payload))}, payload...))
		}
		return hexJoin(payload)
	}

	var lines []string
	if !a.headers {
		lines = append(lines, fmt.Sprintf("%03X", len(payload)))
	}
	first := payload[:6]
	rest := payload[6:]
	if a.headers {
		lines = append(lines, header(append([]byte{0x10 | byte(len(payload)>>8), byte(len(payload))}, first...)))
	} else {
		lines = append(lines, "0:"+sep+hexJoin(first))
	}
	for seq := 1; len(rest) > 0; seq++ {
		n := 7
		if len(rest) < n {
			n = len(rest)
		}
		chunk := rest[:n]
		rest = rest[n:]
		if a.headers {
			lines = append(lines, header(append([]byte{0x20 | byte(seq&0x0F)}, chunk...)))
		} else {
			lines = append(lines, fmt.Sprintf("%X:", seq&0x0F)+sep+hexJoin(chunk))
		}
	}
	return strings.Join(lines, "\r")
}

func troubleCodeReply(mode byte, words [][2]byte) []byte {
	out := []byte{mode, byte(len(words))}
	for _, w := range words {
		out = append(out, w[0], w[1])
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
