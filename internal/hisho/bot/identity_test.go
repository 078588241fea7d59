package bot_test

import (
	"testing"

	"github.com/bdobrica/Hisho/internal/hisho/bot"
)

func TestSessionIDDeterministic(t *testing.T) {
	a := bot.SessionID("@alice:example.com")
	b := bot.SessionID("@alice:example.com")
	if a != b {
		t.Errorf("same user mapped to different sessions: %d vs %d", a, b)
	}
}

func TestSessionIDDistinctUsers(t *testing.T) {
	users := []string{
		"@alice:example.com",
		"@bob:example.com",
		"@alice:other.org",
		"@alice1:example.com",
	}
	seen := make(map[int64]string)
	for _, u := range users {
		id := bot.SessionID(u)
		if prev, ok := seen[id]; ok {
			t.Errorf("collision: %q and %q both map to %d", prev, u, id)
		}
		seen[id] = u
	}
}
