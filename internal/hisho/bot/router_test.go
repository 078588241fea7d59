package bot_test

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Hisho/internal/hisho/bot"
)

func TestRouterParse(t *testing.T) {
	router := bot.NewRouter("!hisho")

	cmd, err := router.Parse("!hisho audit 5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Name != "audit" {
		t.Errorf("Name: got %q, want %q", cmd.Name, "audit")
	}
	if len(cmd.Args) != 1 || cmd.Args[0] != "5" {
		t.Errorf("Args: got %v, want [5]", cmd.Args)
	}
}

func TestRouterParseNotACommand(t *testing.T) {
	router := bot.NewRouter("!hisho")

	for _, text := range []string{
		"hello there",
		"approve 42",
		"!hishoping", // prefix must be a separate word
		"",
	} {
		if _, err := router.Parse(text); !errors.Is(err, bot.ErrNotACommand) {
			t.Errorf("Parse(%q): got %v, want ErrNotACommand", text, err)
		}
	}
}

func TestRouterRoute(t *testing.T) {
	router := bot.NewRouter("!hisho")
	called := false
	router.Register("ping", func(ctx context.Context, cmd *bot.Command, evt *event.Event) (string, error) {
		called = true
		return "pong", nil
	})

	resp, err := router.Route(context.Background(), "!hisho ping", &event.Event{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if resp != "pong" {
		t.Errorf("response: got %q, want %q", resp, "pong")
	}
}

func TestRouterRouteUnknownCommand(t *testing.T) {
	router := bot.NewRouter("!hisho")

	_, err := router.Route(context.Background(), "!hisho nosuch", &event.Event{})
	if err == nil {
		t.Fatal("expected error for unknown command, got nil")
	}
	if errors.Is(err, bot.ErrNotACommand) {
		t.Error("unknown command with the prefix should not be ErrNotACommand")
	}
}
