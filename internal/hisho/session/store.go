package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the inactivity threshold after which a session's rolling
// transcript is implicitly cleared on the next context read.
const DefaultWindow = 1800 * time.Second

// Config holds store configuration.
type Config struct {
	// Dir is the root directory for the index snapshot and transcript logs.
	Dir string

	// Window is the activity window. Defaults to DefaultWindow when zero.
	Window time.Duration

	// Logger receives load-time warnings about skipped corrupt records.
	// Defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Store is the session table plus its durable projection on disk. All
// operations are mediated by one table-wide RWMutex: mutating operations are
// fully serialized, and reads observe either all of a prior mutation or none
// of it. File I/O happens while the lock is held, so one slow disk operation
// stalls every caller — an accepted trade-off at interactive-chat throughput.
type Store struct {
	dir    string
	window time.Duration
	logger *slog.Logger

	// nowFn is the clock; replaced in tests.
	nowFn func() time.Time

	mu       sync.RWMutex
	sessions map[int64]state
}

// Open loads (or initialises) a store rooted at cfg.Dir. The session table
// is rebuilt from the index snapshot plus each confirmed session's transcript
// log. Corrupt snapshot lines and corrupt transcript records are skipped with
// a warning; only an unreadable filesystem aborts the open.
func Open(cfg Config) (*Store, error) {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, persistErr("create store directory", err)
	}

	s := &Store{
		dir:      cfg.Dir,
		window:   cfg.Window,
		logger:   cfg.Logger,
		nowFn:    time.Now,
		sessions: make(map[int64]state),
	}

	markers, bad, err := readIndex(s.indexPath())
	if err != nil {
		return nil, err
	}
	for _, lineErr := range bad {
		s.logger.Warn("session: skipping corrupt index line", "err", lineErr)
	}

	for id, marker := range markers {
		if marker == 0 {
			s.sessions[id] = unconfirmed{}
			continue
		}
		msgs, badRecs, err := readTranscript(s.transcriptPath(id))
		if err != nil {
			// Unreadable log: keep the approval, start with an empty
			// transcript rather than refusing to load every other session.
			s.logger.Warn("session: transcript log unreadable, starting empty", "session", id, "err", err)
			msgs = nil
		}
		for _, recErr := range badRecs {
			s.logger.Warn("session: skipping corrupt transcript record", "session", id, "err", recErr)
		}
		s.sessions[id] = &confirmed{
			lastActivity: time.Unix(marker, 0),
			transcript:   msgs,
		}
	}

	return s, nil
}

// Register inserts (or resets to) an unconfirmed record for id. Registering
// an already-known session is idempotent for unconfirmed sessions and demotes
// a confirmed one back to pending, matching a fresh membership request.
func (s *Store) Register(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.sessions[id]
	s.sessions[id] = unconfirmed{}
	if err := s.saveIndexLocked(); err != nil {
		s.restoreLocked(id, prev, had)
		return err
	}
	return nil
}

// Confirm transitions id to a confirmed record with an empty transcript and
// lastActivity = now. Any leftover transcript log from a prior confirmation
// is removed first so it cannot leak into the fresh session.
func (s *Store) Confirm(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freshConfirmedLocked(id)
}

// Reset clears the rolling transcript of a confirmed session without
// touching its approval status; unconfirmed or unknown sessions are left
// alone. Used for an explicit "new conversation" request.
func (s *Store) Reset(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id].(*confirmed); !ok {
		return nil
	}
	return s.freshConfirmedLocked(id)
}

// Delete removes the record for id (no-op if absent) together with its
// transcript log.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removeTranscript(s.transcriptPath(id)); err != nil {
		s.logger.Warn("session: transcript removal failed", "session", id, "err", err)
	}

	prev, had := s.sessions[id]
	if !had {
		return nil
	}
	delete(s.sessions, id)
	if err := s.saveIndexLocked(); err != nil {
		s.sessions[id] = prev
		return err
	}
	return nil
}

// Known reports whether id has any record, confirmed or not.
func (s *Store) Known(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[id]
	return ok
}

// IsAccepted reports whether id has a confirmed record.
func (s *Store) IsAccepted(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[id].(*confirmed)
	return ok
}

// Context returns a copy of the rolling transcript for id. When the activity
// window has elapsed since the last append the session is implicitly reset —
// transcript cleared, log removed, lastActivity refreshed — and an empty
// sequence is returned. Unconfirmed and unknown sessions yield an empty
// sequence without any mutation.
func (s *Store) Context(id int64) ([]Message, error) {
	s.mu.RLock()
	c, ok := s.sessions[id].(*confirmed)
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	if s.nowFn().Sub(c.lastActivity) < s.window {
		msgs := make([]Message, len(c.transcript))
		copy(msgs, c.transcript)
		s.mu.RUnlock()
		return msgs, nil
	}
	s.mu.RUnlock()

	// Window elapsed: upgrade to the write lock and re-check, since another
	// caller may have reset or deleted the session in between.
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok = s.sessions[id].(*confirmed)
	if !ok {
		return nil, nil
	}
	if s.nowFn().Sub(c.lastActivity) < s.window {
		msgs := make([]Message, len(c.transcript))
		copy(msgs, c.transcript)
		return msgs, nil
	}
	if err := s.freshConfirmedLocked(id); err != nil {
		return nil, err
	}
	return nil, nil
}

// AddMessage appends (role, content) to the transcript of a confirmed
// session: first durably to the log, then in memory, refreshing lastActivity
// and rewriting the index snapshot. A no-op for unconfirmed or unknown
// sessions. If the snapshot rewrite fails the in-memory append is rolled
// back; the already-written log record is reconciled on the next load.
func (s *Store) AddMessage(id int64, role Role, content string) error {
	if !knownRole(role) {
		return fmt.Errorf("session: add message: unknown role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.sessions[id].(*confirmed)
	if !ok {
		return nil
	}

	msg := Message{Role: role, Content: content}
	if err := appendTranscript(s.transcriptPath(id), msg); err != nil {
		return err
	}

	prevLast := c.lastActivity
	c.transcript = append(c.transcript, msg)
	c.lastActivity = s.nowFn()
	if err := s.saveIndexLocked(); err != nil {
		c.transcript = c.transcript[:len(c.transcript)-1]
		c.lastActivity = prevLast
		return err
	}
	return nil
}

// Pending returns the identifiers of all unconfirmed sessions, ascending.
func (s *Store) Pending() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, st := range s.sessions {
		if _, ok := st.(unconfirmed); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counts returns the number of known sessions and how many are confirmed.
func (s *Store) Counts() (total, accepted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total = len(s.sessions)
	for _, st := range s.sessions {
		if _, ok := st.(*confirmed); ok {
			accepted++
		}
	}
	return total, accepted
}

// Window returns the configured activity window.
func (s *Store) Window() time.Duration {
	return s.window
}

// freshConfirmedLocked installs a confirmed record with an empty transcript
// and lastActivity = now, removing any existing transcript log first.
// Must be called with the write lock held.
func (s *Store) freshConfirmedLocked(id int64) error {
	if err := removeTranscript(s.transcriptPath(id)); err != nil {
		s.logger.Warn("session: transcript removal failed", "session", id, "err", err)
	}

	prev, had := s.sessions[id]
	s.sessions[id] = &confirmed{lastActivity: s.nowFn()}
	if err := s.saveIndexLocked(); err != nil {
		s.restoreLocked(id, prev, had)
		return err
	}
	return nil
}

// saveIndexLocked rewrites the index snapshot from the current table.
// Must be called with the write lock held.
func (s *Store) saveIndexLocked() error {
	markers := make(map[int64]int64, len(s.sessions))
	for id, st := range s.sessions {
		markers[id] = indexMarker(st)
	}
	return writeIndex(s.indexPath(), markers)
}

// restoreLocked undoes a speculative table mutation after a failed disk
// write, so memory never reflects state the snapshot does not.
func (s *Store) restoreLocked(id int64, prev state, had bool) {
	if had {
		s.sessions[id] = prev
	} else {
		delete(s.sessions, id)
	}
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFile)
}

func (s *Store) transcriptPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.txt", id))
}
