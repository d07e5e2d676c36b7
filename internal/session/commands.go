package session

import (
	"bufio"
	"encoding/json"
	"os"
)

// CommandEntry is one parsed line from a session's command log.
type CommandEntry struct {
	TS   float64 `json:"ts"`
	Line string  `json:"line"`
}

// readCommandLog parses the newline-delimited command log at path and keeps a
// trailing window of the most recent limit entries, preserving chronological
// order. Malformed lines are skipped.
func readCommandLog(path string, limit int) ([]CommandEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make([]CommandEntry, 0, limit)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry CommandEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Line == "" {
			continue
		}
		entries = append(entries, entry)
		if len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
