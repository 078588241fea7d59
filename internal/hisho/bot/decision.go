package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Decision holds the result of parsing an approve or deny message from the
// admin room.
type Decision struct {
	// Approve is true for "approve", false for "deny".
	Approve bool
	// SessionID is the session the decision applies to.
	SessionID int64
	// Reason is the optional reason string.
	Reason string
}

// ErrNotADecision is returned when the message is not an approve/deny command.
var ErrNotADecision = fmt.Errorf("not an approval decision")

// ParseDecision parses a plain admin-room message into an approval decision.
//
// Accepted formats (case-insensitive verb):
//
//	approve <session-id|@mxid>
//	deny <session-id|@mxid> [reason text]
//
// Returns ErrNotADecision if the message does not start with "approve" or
// "deny". Returns an error if the message is malformed.
func ParseDecision(text string) (*Decision, error) {
	text = strings.TrimSpace(text)

	lower := strings.ToLower(text)
	var isApprove bool

	switch {
	case strings.HasPrefix(lower, "approve ") || lower == "approve":
		isApprove = true
	case strings.HasPrefix(lower, "deny ") || lower == "deny":
		isApprove = false
	default:
		return nil, ErrNotADecision
	}

	rest := strings.TrimSpace(text[len("approve"):])
	if !isApprove {
		rest = strings.TrimSpace(text[len("deny"):])
	}
	if rest == "" {
		return nil, fmt.Errorf("usage: %s <session-id> [reason]", verb(isApprove))
	}

	parts := strings.Fields(rest)
	id, err := parseTarget(parts[0])
	if err != nil {
		return nil, err
	}

	return &Decision{
		Approve:   isApprove,
		SessionID: id,
		Reason:    strings.Join(parts[1:], " "),
	}, nil
}

// parseTarget accepts either a raw session identifier or a Matrix user ID,
// which is mapped through the same derivation the reply flow uses.
func parseTarget(s string) (int64, error) {
	if strings.HasPrefix(s, "@") {
		return SessionID(s), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("target %q is neither a session id nor a Matrix user id", s)
	}
	return id, nil
}

// verb returns the command verb string for error messages.
func verb(approve bool) string {
	if approve {
		return "approve"
	}
	return "deny"
}
