// Package session implements Hisho's persistent session store: per-user
// approval state plus a time-bounded rolling transcript, durably persisted
// on a plain filesystem. The whole table lives behind a single RWMutex and
// every mutation is written through to disk before it is committed in memory.
package session

import "time"

// Role is the role tag of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// knownRole reports whether r is one of the recognised role tags.
// Transcript records carrying any other tag are treated as corrupt.
func knownRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleFunction:
		return true
	}
	return false
}

// Message is a single turn in a session transcript, oldest first.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// state is the record held for one session identifier. It is a closed sum:
// a session is either registered-but-unapproved or approved with a rolling
// transcript. Keeping the two as distinct types makes "approved but no
// transcript yet" representable only as a confirmed record with an empty
// transcript, never as a half-filled struct.
type state interface {
	isState()
}

// unconfirmed marks a session that has registered but has not been approved.
type unconfirmed struct{}

func (unconfirmed) isState() {}

// confirmed is an approved session with its rolling transcript.
type confirmed struct {
	// lastActivity is refreshed on every append and on implicit reset.
	// It is non-decreasing for the lifetime of the record.
	lastActivity time.Time
	// transcript is the in-memory projection of the on-disk transcript log
	// since the last reset, oldest first.
	transcript []Message
}

func (*confirmed) isState() {}

// indexMarker returns the value written to the index snapshot for a record:
// 0 for an unconfirmed session, the last-activity epoch seconds otherwise.
func indexMarker(st state) int64 {
	if c, ok := st.(*confirmed); ok {
		return c.lastActivity.Unix()
	}
	return 0
}
