package serial

import (
	"bufio"
	"bytes"
	"io"

	"elmdiag/internal/obd"
)

// SplitPrompt is a bufio.SplitFunc yielding one adapter reply cycle per token: everything
// up to the '>' prompt, with NUL and other non-printing bytes except CR/LF dropped.
// Pure whitespace cycles are skipped.
func SplitPrompt(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		i := bytes.IndexByte(data[advance:], obd.Prompt)
		if i < 0 {
			break
		}
		frame := clean(data[advance : advance+i])
		advance += i + 1
		if len(bytes.TrimSpace(frame)) > 0 {
			return advance, frame, nil
		}
	}
	if atEOF && len(data) > advance {
		if frame := clean(data[advance:]); len(bytes.TrimSpace(frame)) > 0 {
			return len(data), frame, nil
		}
		return len(data), nil, nil
	}
	return advance, nil, nil
}

func clean(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if (c >= 32 && c <= 126) || c == '\r' || c == '\n' {
			out = append(out, c)
		}
	}
	return out
}

// ReadFrames scans r and calls deliver for every reply cycle until r fails or ends.
// It returns the read error, or io.EOF when the stream ended cleanly.
func ReadFrames(r io.Reader, deliver func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), 64*1024)
	sc.Split(SplitPrompt)
	for sc.Scan() {
		deliver(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
