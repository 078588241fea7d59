package bot_test

import (
	"errors"
	"testing"

	"github.com/bdobrica/Hisho/internal/hisho/bot"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		approve bool
		session int64
		reason  string
	}{
		{name: "approve numeric", text: "approve 42", approve: true, session: 42},
		{name: "deny numeric", text: "deny 42", approve: false, session: 42},
		{name: "deny with reason", text: "deny 42 too many requests", approve: false, session: 42, reason: "too many requests"},
		{name: "case insensitive verb", text: "Approve 7", approve: true, session: 7},
		{name: "leading whitespace", text: "  approve 7", approve: true, session: 7},
		{name: "negative id", text: "approve -3", approve: true, session: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := bot.ParseDecision(tt.text)
			if err != nil {
				t.Fatalf("ParseDecision(%q): %v", tt.text, err)
			}
			if d.Approve != tt.approve {
				t.Errorf("Approve: got %v, want %v", d.Approve, tt.approve)
			}
			if d.SessionID != tt.session {
				t.Errorf("SessionID: got %d, want %d", d.SessionID, tt.session)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason: got %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestParseDecisionMXIDTarget(t *testing.T) {
	d, err := bot.ParseDecision("approve @alice:example.com")
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if want := bot.SessionID("@alice:example.com"); d.SessionID != want {
		t.Errorf("SessionID: got %d, want %d", d.SessionID, want)
	}
}

func TestParseDecisionNotADecision(t *testing.T) {
	for _, text := range []string{
		"hello there",
		"approved 42", // not the bare verb
		"!hisho pending",
		"",
	} {
		if _, err := bot.ParseDecision(text); !errors.Is(err, bot.ErrNotADecision) {
			t.Errorf("ParseDecision(%q): got %v, want ErrNotADecision", text, err)
		}
	}
}

func TestParseDecisionMalformed(t *testing.T) {
	for _, text := range []string{
		"approve",
		"deny",
		"approve not-a-number",
	} {
		_, err := bot.ParseDecision(text)
		if err == nil {
			t.Errorf("ParseDecision(%q): expected error, got nil", text)
		}
		if errors.Is(err, bot.ErrNotADecision) {
			t.Errorf("ParseDecision(%q): got ErrNotADecision, want a usage error", text)
		}
	}
}
