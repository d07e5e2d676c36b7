package relay

import (
	"strings"
	"time"
)

// commandEntry is one reconstructed operator command.
type commandEntry struct {
	TS   float64 `json:"ts"`
	Line string  `json:"line"`
}

// lineAssembler reconstructs operator commands from client-to-target bytes:
// characters accumulate until a carriage return or line feed, at which point
// a non-empty trimmed buffer becomes a command entry. The heuristic does not
// distinguish keystrokes from pasted input, does not interpret backspace, and
// may split a multi-byte character that straddles two frames. A buffer that
// never sees a terminator is discarded at disconnect.
type lineAssembler struct {
	buf []byte
}

// Feed consumes one client frame and returns any completed command entries,
// stamped with ts.
func (a *lineAssembler) Feed(data []byte, ts time.Time) []commandEntry {
	var entries []commandEntry
	for _, b := range data {
		if b == '\r' || b == '\n' {
			line := strings.TrimSpace(string(a.buf))
			if line != "" {
				entries = append(entries, commandEntry{TS: epochSeconds(ts), Line: line})
			}
			a.buf = a.buf[:0]
			continue
		}
		a.buf = append(a.buf, b)
	}
	return entries
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
