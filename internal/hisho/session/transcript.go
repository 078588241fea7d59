package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// transcript.go handles the per-session transcript log: an append-only file
// (<id>.txt) holding one JSON object per line, oldest first. JSON framing is
// unambiguous — newlines inside message content are escaped by the encoder —
// so a record boundary is always a real record boundary, unlike delimiter
// schemes that break the first time a model emits the delimiter verbatim.

// appendTranscript durably appends one message record to the log at path,
// creating the file on first append.
func appendTranscript(path string, msg Message) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return persistErr("open transcript log", err)
	}
	if err := json.NewEncoder(f).Encode(msg); err != nil {
		f.Close()
		return persistErr("append transcript record", err)
	}
	if err := f.Close(); err != nil {
		return persistErr("close transcript log", err)
	}
	return nil
}

// readTranscript reconstructs the message sequence from the log at path.
// A missing file yields an empty transcript. Records that cannot be parsed
// are reported back so the caller can log and skip them; the messages parsed
// around them are still returned.
func readTranscript(path string) ([]Message, []error, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, persistErr("read transcript log", err)
	}

	var msgs []Message
	var bad []error
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			bad = append(bad, fmt.Errorf("record %d: %w", i+1, corruptErr("transcript record", err)))
			continue
		}
		if !knownRole(msg.Role) {
			bad = append(bad, fmt.Errorf("record %d: %w", i+1, corruptErr(fmt.Sprintf("unknown role %q", msg.Role), nil)))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, bad, nil
}

// removeTranscript deletes the log at path. Removal is best-effort: a file
// that is already gone is not an error, and any other failure is reported to
// the caller for logging but never blocks the session operation itself.
func removeTranscript(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return persistErr("remove transcript log", err)
}
