package session

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// snapshot.go handles the index snapshot: a newline-delimited text file
// (db.txt) with one "<id> <marker>" line per known session, fully rewritten
// after every mutating store operation. Rewriting the whole file trades write
// amplification for a trivially simple recovery story; at interactive-chat
// session counts the file is tiny.

const indexFile = "db.txt"

// writeIndex regenerates the snapshot from the given marker table. The
// content is written to a temp file and renamed into place so a crash
// mid-write never leaves a truncated snapshot behind.
func writeIndex(path string, markers map[int64]int64) error {
	ids := make([]int64, 0, len(markers))
	for id := range markers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%d %d\n", id, markers[id])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return persistErr("write index snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return persistErr("replace index snapshot", err)
	}
	return nil
}

// readIndex parses the snapshot into an id → marker table. A missing file
// yields an empty table. Lines that cannot be parsed are reported back so
// the caller can log and skip them; parsing always continues past them.
func readIndex(path string) (map[int64]int64, []error, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[int64]int64{}, nil, nil
	}
	if err != nil {
		return nil, nil, persistErr("read index snapshot", err)
	}

	markers := make(map[int64]int64)
	var bad []error
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, marker, err := parseIndexLine(line)
		if err != nil {
			bad = append(bad, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		markers[id] = marker
	}
	return markers, bad, nil
}

// parseIndexLine splits one "<id> <marker>" snapshot line.
func parseIndexLine(line string) (id, marker int64, err error) {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return 0, 0, corruptErr(fmt.Sprintf("index line %q: want 2 fields, got %d", line, len(parts)), nil)
	}
	id, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, corruptErr(fmt.Sprintf("index line %q: bad session id", line), err)
	}
	marker, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || marker < 0 {
		return 0, 0, corruptErr(fmt.Sprintf("index line %q: bad activity marker", line), err)
	}
	return id, marker, nil
}
