package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

// reopen simulates a process restart by loading a fresh store over the same
// directory.
func reopen(t *testing.T, s *Store) *Store {
	t.Helper()
	re, err := Open(Config{Dir: s.dir, Window: s.window})
	if err != nil {
		t.Fatalf("reopen: Open() error: %v", err)
	}
	return re
}

func TestApprovalGating(t *testing.T) {
	s := openTestStore(t)

	// Never registered.
	if s.IsAccepted(7) {
		t.Error("IsAccepted(unknown) = true, want false")
	}
	if msgs, err := s.Context(7); err != nil || len(msgs) != 0 {
		t.Errorf("Context(unknown) = %v, %v; want empty, nil", msgs, err)
	}

	// Registered but not confirmed.
	if err := s.Register(7); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if s.IsAccepted(7) {
		t.Error("IsAccepted(unconfirmed) = true, want false")
	}
	if msgs, _ := s.Context(7); len(msgs) != 0 {
		t.Errorf("Context(unconfirmed) = %v, want empty", msgs)
	}

	// AddMessage on an unconfirmed session is a no-op, not an error.
	if err := s.AddMessage(7, RoleUser, "hello?"); err != nil {
		t.Fatalf("AddMessage(unconfirmed) error: %v", err)
	}
	if msgs, _ := s.Context(7); len(msgs) != 0 {
		t.Errorf("transcript after no-op append = %v, want empty", msgs)
	}
}

func TestRoundTripPersistence(t *testing.T) {
	s := openTestStore(t)

	if err := s.Register(42); err != nil {
		t.Fatal(err)
	}
	if err := s.Confirm(42); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(42, RoleUser, "hi"); err != nil {
		t.Fatal(err)
	}

	re := reopen(t, s)
	if !re.IsAccepted(42) {
		t.Fatal("IsAccepted(42) = false after reload")
	}
	msgs, err := re.Context(42)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	want := []Message{{Role: RoleUser, Content: "hi"}}
	assertMessages(t, msgs, want)
}

func TestActivityWindowReset(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }

	mustConfirm(t, s, 9)
	if err := s.AddMessage(9, RoleUser, "old message"); err != nil {
		t.Fatal(err)
	}

	// Still inside the window: transcript survives.
	s.nowFn = func() time.Time { return base.Add(DefaultWindow - time.Second) }
	msgs, _ := s.Context(9)
	if len(msgs) != 1 {
		t.Fatalf("Context inside window = %d messages, want 1", len(msgs))
	}

	// Window elapsed: implicit reset clears the transcript and the log file.
	s.nowFn = func() time.Time { return base.Add(DefaultWindow) }
	msgs, err := s.Context(9)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("Context past window = %v, want empty", msgs)
	}
	if _, err := os.Stat(s.transcriptPath(9)); !os.IsNotExist(err) {
		t.Error("transcript log still present after implicit reset")
	}
	if !s.IsAccepted(9) {
		t.Error("implicit reset destroyed approval status")
	}

	// A fresh append starts a new transcript; old messages stay gone.
	if err := s.AddMessage(9, RoleUser, "new message"); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.Context(9)
	assertMessages(t, msgs, []Message{{Role: RoleUser, Content: "new message"}})
}

func TestDeleteIsTotal(t *testing.T) {
	s := openTestStore(t)

	mustConfirm(t, s, 5)
	if err := s.AddMessage(5, RoleUser, "bye"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(5); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if s.IsAccepted(5) {
		t.Error("IsAccepted = true after delete")
	}
	if _, err := os.Stat(s.transcriptPath(5)); !os.IsNotExist(err) {
		t.Error("transcript log survived delete")
	}

	// Deleting an absent session is a no-op.
	if err := s.Delete(5); err != nil {
		t.Errorf("Delete(absent) error: %v", err)
	}

	// The deletion is durable.
	re := reopen(t, s)
	if re.IsAccepted(5) {
		t.Error("deleted session resurrected after reload")
	}
}

func TestReconfirmClearsHistory(t *testing.T) {
	s := openTestStore(t)

	mustConfirm(t, s, 3)
	if err := s.AddMessage(3, RoleUser, "secret from the first session"); err != nil {
		t.Fatal(err)
	}
	if err := s.Confirm(3); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.Context(3)
	if len(msgs) != 0 {
		t.Fatalf("Context after reconfirm = %v, want empty", msgs)
	}

	// The old log must not leak back in on reload either.
	re := reopen(t, s)
	msgs, _ = re.Context(3)
	if len(msgs) != 0 {
		t.Fatalf("Context after reconfirm+reload = %v, want empty", msgs)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.Register(11); err != nil {
			t.Fatalf("Register() #%d error: %v", i+1, err)
		}
		if s.IsAccepted(11) {
			t.Fatalf("Register() #%d produced a confirmed session", i+1)
		}
	}

	if got := s.Pending(); len(got) != 1 || got[0] != 11 {
		t.Errorf("Pending() = %v, want [11]", got)
	}
}

func TestResetKeepsApproval(t *testing.T) {
	s := openTestStore(t)

	mustConfirm(t, s, 8)
	if err := s.AddMessage(8, RoleUser, "forget this"); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(8); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if !s.IsAccepted(8) {
		t.Error("Reset destroyed approval status")
	}
	if msgs, _ := s.Context(8); len(msgs) != 0 {
		t.Errorf("Context after reset = %v, want empty", msgs)
	}

	// Reset must never promote an unconfirmed session.
	if err := s.Register(12); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(12); err != nil {
		t.Fatal(err)
	}
	if s.IsAccepted(12) {
		t.Error("Reset promoted an unconfirmed session to confirmed")
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := openTestStore(t)

	if err := s.Register(42); err != nil {
		t.Fatal(err)
	}
	if s.IsAccepted(42) {
		t.Fatal("accepted before confirmation")
	}
	if err := s.Confirm(42); err != nil {
		t.Fatal(err)
	}
	if !s.IsAccepted(42) {
		t.Fatal("not accepted after confirmation")
	}
	if err := s.AddMessage(42, RoleUser, "translate: hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(42, RoleAssistant, "привет"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Context(42)
	if err != nil {
		t.Fatal(err)
	}
	assertMessages(t, msgs, []Message{
		{Role: RoleUser, Content: "translate: hello"},
		{Role: RoleAssistant, Content: "привет"},
	})

	if err := s.Delete(42); err != nil {
		t.Fatal(err)
	}
	if s.IsAccepted(42) {
		t.Error("accepted after delete")
	}
}

func TestContextReturnsCopy(t *testing.T) {
	s := openTestStore(t)

	mustConfirm(t, s, 1)
	if err := s.AddMessage(1, RoleUser, "original"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.Context(1)
	msgs[0].Content = "mutated by caller"

	again, _ := s.Context(1)
	if again[0].Content != "original" {
		t.Errorf("caller mutation leaked into the store: %q", again[0].Content)
	}
}

func TestLastActivityMarkerPersisted(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }
	mustConfirm(t, s, 6)
	if err := s.AddMessage(6, RoleUser, "hi"); err != nil {
		t.Fatal(err)
	}

	re := reopen(t, s)
	re.mu.RLock()
	c, ok := re.sessions[6].(*confirmed)
	re.mu.RUnlock()
	if !ok {
		t.Fatal("session 6 not confirmed after reload")
	}
	if got := c.lastActivity.Unix(); got != base.Unix() {
		t.Errorf("lastActivity after reload = %d, want %d", got, base.Unix())
	}
}

func TestLoadSkipsCorruptIndexLines(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	mustConfirm(t, s, 21)
	if err := s.AddMessage(21, RoleUser, "still here"); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-rewrite: a truncated garbage line next to a
	// healthy one.
	index := filepath.Join(dir, indexFile)
	data, err := os.ReadFile(index)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(index, append(data, []byte("999 not-a-number\ngarb\n")...), 0o644); err != nil {
		t.Fatal(err)
	}

	re, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open with corrupt lines error: %v", err)
	}
	if !re.IsAccepted(21) {
		t.Error("healthy session lost while skipping corrupt lines")
	}
	if re.IsAccepted(999) {
		t.Error("corrupt line produced a session")
	}
}

func TestLoadSkipsCorruptTranscriptRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	mustConfirm(t, s, 4)
	if err := s.AddMessage(4, RoleUser, "first"); err != nil {
		t.Fatal(err)
	}

	// Inject a torn record between two healthy ones.
	log := s.transcriptPath(4)
	f, err := os.OpenFile(log, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"role\":\"us\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := s.AddMessage(4, RoleAssistant, "second"); err != nil {
		t.Fatal(err)
	}

	re := reopen(t, s)
	msgs, _ := re.Context(4)
	assertMessages(t, msgs, []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	})
}

func TestPersistenceFailureLeavesMemoryUntouched(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	mustConfirm(t, s, 2)

	// Make the store directory unwritable so the snapshot rewrite fails.
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err = s.Register(99)
	if err == nil {
		t.Skip("filesystem permits writes despite chmod (running as root?)")
	}
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("Register() error = %v, want ErrPersistence", err)
	}

	// The failed call must not have committed anything.
	s.mu.RLock()
	_, present := s.sessions[99]
	s.mu.RUnlock()
	if present {
		t.Error("failed Register committed in-memory state")
	}
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	s := openTestStore(t)
	mustConfirm(t, s, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.AddMessage(10, RoleUser, "ping"); err != nil {
					t.Errorf("AddMessage: %v", err)
					return
				}
				if _, err := s.Context(10); err != nil {
					t.Errorf("Context: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	msgs, _ := s.Context(10)
	if len(msgs) != 80 {
		t.Errorf("got %d messages after concurrent appends, want 80", len(msgs))
	}

	re := reopen(t, s)
	reloaded, _ := re.Context(10)
	if len(reloaded) != len(msgs) {
		t.Errorf("reloaded %d messages, in-memory had %d", len(reloaded), len(msgs))
	}
}

func mustConfirm(t *testing.T, s *Store, id int64) {
	t.Helper()
	if err := s.Register(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Confirm(id); err != nil {
		t.Fatal(err)
	}
}

func assertMessages(t *testing.T, got, want []Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
