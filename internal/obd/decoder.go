package obd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Decoder turns the payload of one mode+PID reply into a display value.
type Decoder interface {
	Metadata() Metadata
	// Encode returns the command body, e.g. "010C".
	Encode() string
	// Parse consumes the byte tokens produced by ParseFrame.
	Parse(data []string) (string, error)
}

// Metadata is the static description of a decoder.
type Metadata struct {
	Name  string
	Short string
	Mode  int
	PID   string
	Unit  string
	Min   float64
	Max   float64
}

func (m Metadata) Key() Key {
	return Key{Mode: m.Mode, PID: m.PID}
}

// InRange reports whether v lies in the documented range. Decoders don't enforce it.
func (m Metadata) InRange(v float64) bool {
	if m.Min == 0 && m.Max == 0 {
		return true
	}
	return v >= m.Min && v <= m.Max
}

// Key identifies a decoder by mode and PID.
type Key struct {
	Mode int
	PID  string
}

func (k Key) String() string {
	return fmt.Sprintf("%02X%s", k.Mode, k.PID)
}

// Registry maps mode+PID to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Key]Decoder
}

func NewRegistry(decoders ...Decoder) (*Registry, error) {
	r := &Registry{decoders: make(map[Key]Decoder, len(decoders))}
	for _, d := range decoders {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a fresh registry holding every standard decoder.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(StandardDecoders()...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(d Decoder) error {
	key := d.Metadata().Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[key]; ok {
		return fmt.Errorf("decoder for %s already registered", key)
	}
	r.decoders[key] = d
	return nil
}

func (r *Registry) Lookup(mode int, pid string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[Key{Mode: mode, PID: strings.ToUpper(pid)}]
	return d, ok
}

// Find resolves a user supplied name: a command body ("010C") or a short name ("rpm").
func (r *Registry) Find(name string) (Decoder, bool) {
	name = strings.TrimSpace(name)
	if len(name) == 4 && isHex(name) {
		mode, _ := strconv.ParseUint(name[:2], 16, 8)
		return r.Lookup(int(mode), name[2:])
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decoders {
		if strings.EqualFold(d.Metadata().Short, name) {
			return d, true
		}
	}
	return nil, false
}

// Decoders returns all decoders ordered by mode then PID.
func (r *Registry) Decoders() []Decoder {
	r.mu.RLock()
	out := make([]Decoder, 0, len(r.decoders))
	for _, d := range r.decoders {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata().Key().String() < out[j].Metadata().Key().String()
	})
	return out
}

// payload converts tokens to bytes. When the echoed response mode+PID ("41 0C") leads
// the data it is dropped and echoed is true.
func payload(data []string, mode int, pid string) (b []byte, echoed bool, err error) {
	raw := strings.Join(data, " ")
	if len(data) >= 2 && strings.EqualFold(data[0], fmt.Sprintf("%02X", mode+responseModeBase)) && strings.EqualFold(data[1], pid) {
		data = data[2:]
		echoed = true
	}
	b = make([]byte, 0, len(data))
	for _, tok := range data {
		if len(tok) != 2 || !isHex(tok) {
			return nil, echoed, decodeErrorf(raw, "non-hex token %q", tok)
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, echoed, decodeErrorf(raw, "non-hex token %q", tok)
		}
		b = append(b, byte(v))
	}
	return b, echoed, nil
}

// pick selects the n bytes a formula needs. After an echo the bytes right behind it are
// used. Without one, a longer run is assumed to carry something in front of the payload
// and the trailing n bytes are taken; that is a heuristic and can misread unusual
// multi-frame replies.
func pick(b []byte, n int, echoed bool, data []string) ([]byte, error) {
	switch {
	case len(b) == 0:
		return nil, decodeErrorf(strings.Join(data, " "), "no data bytes")
	case len(b) < n:
		return nil, decodeErrorf(strings.Join(data, " "), "need %d data bytes, got %d", n, len(b))
	case echoed:
		return b[:n], nil
	}
	return b[len(b)-n:], nil
}
