package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Hisho/common/trace"
	"github.com/bdobrica/Hisho/internal/hisho/audit"
	"github.com/bdobrica/Hisho/internal/hisho/llm"
	"github.com/bdobrica/Hisho/internal/hisho/session"
)

// CommandPrefix is the prefix for explicit bot commands in any room.
const CommandPrefix = "!hisho"

// pendingReply is sent to every message from a user whose session is not
// confirmed. It is deliberately identical whether the user just registered
// or has been waiting, so the reply leaks nothing about the queue state.
const pendingReply = "Your access request has not been approved yet. Please wait for an administrator."

// DefaultSystemPrompt is the fixed system instruction given to the model
// ahead of the rolling context.
const DefaultSystemPrompt = "You are an office assistant and secretary. " +
	"You help with business correspondence, drafting articles, and finding information. " +
	"You are also a skilled translator fluent in every language."

// Messenger is the subset of the Matrix client the handlers need. Kept small
// so tests can substitute a recording fake.
type Messenger interface {
	SendMessage(roomID, message string) error
	SendNotice(roomID, message string) error
	ReplyToMessage(roomID, eventID, message string) error
	SetTyping(roomID string, typing bool, timeout time.Duration) error
	GetDisplayName(userID string) (string, error)
}

// Auditor records approval lifecycle events.
type Auditor interface {
	Write(ctx context.Context, traceID, actor, action, target, result, detail string) error
	Recent(ctx context.Context, limit int) ([]*audit.Entry, error)
}

// Config wires the handlers' collaborators.
type Config struct {
	Sessions  *session.Store
	Provider  llm.Provider
	Messenger Messenger
	Audit     Auditor
	AdminRoom string
	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
	// Model and MaxTokens are passed through to the provider.
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// Handlers implements the approval workflow and the gated reply flow.
type Handlers struct {
	cfg    Config
	router *Router
	rooms  *roomDirectory
	logger *slog.Logger
}

// New creates the handlers and registers the command routes.
func New(cfg Config) *Handlers {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &Handlers{
		cfg:    cfg,
		router: NewRouter(CommandPrefix),
		rooms:  newRoomDirectory(),
		logger: cfg.Logger,
	}

	h.router.Register("help", h.handleHelp)
	h.router.Register("ping", h.handlePing)
	h.router.Register("new", h.handleNew)
	h.router.Register("pending", h.handlePending)
	h.router.Register("audit", h.handleAudit)

	return h
}

// HandleMessage processes one inbound text message: admin-room traffic goes
// through the decision parser and admin commands, everything else through
// the gated reply flow.
func (h *Handlers) HandleMessage(ctx context.Context, evt *event.Event) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	text := strings.TrimSpace(evt.Content.AsMessage().Body)
	roomID := evt.RoomID.String()

	if roomID == h.cfg.AdminRoom {
		h.handleAdminMessage(ctx, text, evt)
		return
	}
	h.handleUserMessage(ctx, text, evt)
}

// HandleMembership removes sessions of users who leave or are banned from
// their conversation room.
func (h *Handlers) HandleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil {
		return
	}
	switch member.Membership {
	case event.MembershipLeave, event.MembershipBan:
	default:
		return
	}

	userID := evt.GetStateKey()
	sid := SessionID(userID)
	if !h.cfg.Sessions.Known(sid) {
		return
	}

	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	h.logger.Info("user left, removing session", "user", userID, "session", sid)
	if err := h.cfg.Sessions.Delete(sid); err != nil {
		h.logger.Error("failed to remove session of departed user", "session", sid, "err", err)
		return
	}
	h.rooms.Forget(sid)
	h.audit(ctx, userID, "removed", sid, "ok", "left the room")
}

// --- user flow ---

func (h *Handlers) handleUserMessage(ctx context.Context, text string, evt *event.Event) {
	userID := evt.Sender.String()
	roomID := evt.RoomID.String()
	sid := SessionID(userID)
	h.rooms.Observe(sid, userID, roomID)

	// Explicit commands work in user rooms too (help, ping, new).
	if resp, err := h.router.Route(ctx, text, evt); !errors.Is(err, ErrNotACommand) {
		if err != nil {
			h.send(roomID, fmt.Sprintf("Error: %s", err))
			return
		}
		if resp != "" {
			h.send(roomID, resp)
		}
		return
	}

	if !h.cfg.Sessions.IsAccepted(sid) {
		h.registerIfUnknown(ctx, sid, userID, roomID)
		h.notice(roomID, pendingReply)
		return
	}

	h.reply(ctx, sid, roomID, text)
}

// registerIfUnknown inserts a pending session on first contact and asks the
// admin room for a decision.
func (h *Handlers) registerIfUnknown(ctx context.Context, sid int64, userID, roomID string) {
	if h.cfg.Sessions.Known(sid) {
		return
	}

	if err := h.cfg.Sessions.Register(sid); err != nil {
		h.logger.Error("failed to register session", "session", sid, "user", userID, "err", err)
		return
	}
	h.audit(ctx, userID, "registered", sid, "ok", "")

	name := userID
	if display, err := h.cfg.Messenger.GetDisplayName(userID); err == nil && display != "" {
		name = fmt.Sprintf("%s (%s)", display, userID)
	}
	h.logger.Info("new user registered", "user", userID, "session", sid)
	h.notice(h.cfg.AdminRoom, fmt.Sprintf(
		"New access request from %s, session %d.\nReply `approve %d` or `deny %d [reason]`.",
		name, sid, sid, sid,
	))
}

// reply runs the gated reply flow: rolling context + system instruction +
// the new user message through the model, replies sent back and persisted.
func (h *Handlers) reply(ctx context.Context, sid int64, roomID, text string) {
	exchangeID := uuid.New().String()
	logger := h.logger.With("trace_id", trace.FromContext(ctx))

	prev, err := h.cfg.Sessions.Context(sid)
	if err != nil {
		logger.Error("failed to read rolling context", "session", sid, "exchange", exchangeID, "err", err)
		h.notice(roomID, "Something went wrong, please try again.")
		return
	}

	msgs := make([]llm.Message, 0, len(prev)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: h.cfg.SystemPrompt})
	for _, m := range prev {
		msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	// Typing indicator while the model works; errors here are cosmetic.
	_ = h.cfg.Messenger.SetTyping(roomID, true, 30*time.Second)
	resp, err := h.cfg.Provider.Complete(ctx, llm.CompletionRequest{
		Model:     h.cfg.Model,
		Messages:  msgs,
		MaxTokens: h.cfg.MaxTokens,
	})
	_ = h.cfg.Messenger.SetTyping(roomID, false, 0)
	if err != nil {
		logger.Error("completion failed", "session", sid, "exchange", exchangeID, "err", err)
		h.notice(roomID, "Something went wrong, please try again.")
		return
	}

	if err := h.cfg.Sessions.AddMessage(sid, session.RoleUser, text); err != nil {
		logger.Error("failed to persist user message", "session", sid, "exchange", exchangeID, "err", err)
	}

	for _, r := range resp.Replies {
		h.send(roomID, r.Content)
		if err := h.cfg.Sessions.AddMessage(sid, session.RoleAssistant, r.Content); err != nil {
			logger.Error("failed to persist reply", "session", sid, "exchange", exchangeID, "err", err)
		}
	}

	logger.Info("exchange complete",
		"session", sid,
		"exchange", exchangeID,
		"replies", len(resp.Replies),
		"total_tokens", resp.Usage.TotalTokens,
	)
}

// --- admin flow ---

func (h *Handlers) handleAdminMessage(ctx context.Context, text string, evt *event.Event) {
	roomID := evt.RoomID.String()

	if resp, err := h.router.Route(ctx, text, evt); !errors.Is(err, ErrNotACommand) {
		if err != nil {
			h.replyTo(evt, fmt.Sprintf("Error: %s", err))
			return
		}
		if resp != "" {
			h.send(roomID, resp)
		}
		return
	}

	decision, err := ParseDecision(text)
	if errors.Is(err, ErrNotADecision) {
		// Ordinary admin-room chatter; not addressed to the bot.
		return
	}
	if err != nil {
		h.logger.Warn("unparseable admin decision", "text", text, "err", err)
		h.replyTo(evt, fmt.Sprintf("Error: %s", err))
		return
	}

	h.applyDecision(ctx, decision, evt.Sender.String())
}

// applyDecision confirms or deletes the target session and notifies both
// the admin room and, when the user's room is known, the user.
func (h *Handlers) applyDecision(ctx context.Context, d *Decision, actor string) {
	sid := d.SessionID

	if d.Approve {
		if err := h.cfg.Sessions.Confirm(sid); err != nil {
			h.logger.Error("failed to confirm session", "session", sid, "err", err)
			h.audit(ctx, actor, "approve", sid, "error", err.Error())
			h.send(h.cfg.AdminRoom, fmt.Sprintf("Failed to approve session %d: %s", sid, err))
			return
		}
		h.audit(ctx, actor, "approve", sid, "ok", d.Reason)
		h.send(h.cfg.AdminRoom, fmt.Sprintf("Session %d approved.", sid))
		if p, ok := h.rooms.Lookup(sid); ok {
			h.notice(p.RoomID, "Your access request has been approved. The assistant is at your service.")
		}
		return
	}

	if err := h.cfg.Sessions.Delete(sid); err != nil {
		h.logger.Error("failed to delete session", "session", sid, "err", err)
		h.audit(ctx, actor, "deny", sid, "error", err.Error())
		h.send(h.cfg.AdminRoom, fmt.Sprintf("Failed to deny session %d: %s", sid, err))
		return
	}
	h.audit(ctx, actor, "deny", sid, "ok", d.Reason)
	h.send(h.cfg.AdminRoom, fmt.Sprintf("Session %d denied.", sid))
	if p, ok := h.rooms.Lookup(sid); ok {
		h.notice(p.RoomID, "Your access request has been declined.")
		h.rooms.Forget(sid)
	}
}

// --- commands ---

func (h *Handlers) handleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if evt.RoomID.String() == h.cfg.AdminRoom {
		return "Commands: !hisho pending — list sessions awaiting approval; " +
			"!hisho audit [n] — recent approval events; " +
			"approve <id> / deny <id> [reason] — decide a request; " +
			"!hisho ping.", nil
	}
	return "Commands: !hisho new — start a fresh conversation; !hisho ping. " +
		"Anything else is answered by the assistant.", nil
}

func (h *Handlers) handlePing(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return "pong", nil
}

// handleNew clears the rolling transcript on explicit user request.
func (h *Handlers) handleNew(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	sid := SessionID(evt.Sender.String())
	if !h.cfg.Sessions.IsAccepted(sid) {
		return pendingReply, nil
	}
	if err := h.cfg.Sessions.Reset(sid); err != nil {
		return "", fmt.Errorf("reset conversation: %w", err)
	}
	return "Started a new conversation.", nil
}

// handlePending lists sessions awaiting an approval decision (admin room only).
func (h *Handlers) handlePending(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if evt.RoomID.String() != h.cfg.AdminRoom {
		return "", fmt.Errorf("unknown command: pending")
	}

	ids := h.cfg.Sessions.Pending()
	if len(ids) == 0 {
		return "No sessions awaiting approval.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s) awaiting approval:\n", len(ids))
	for _, id := range ids {
		if p, ok := h.rooms.Lookup(id); ok {
			fmt.Fprintf(&b, "  %d — %s\n", id, p.UserID)
		} else {
			fmt.Fprintf(&b, "  %d\n", id)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// handleAudit shows recent approval lifecycle events (admin room only).
func (h *Handlers) handleAudit(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if evt.RoomID.String() != h.cfg.AdminRoom {
		return "", fmt.Errorf("unknown command: audit")
	}

	limit := 10
	if len(cmd.Args) > 0 {
		fmt.Sscanf(cmd.Args[0], "%d", &limit)
	}

	entries, err := h.cfg.Audit.Recent(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("read audit log: %w", err)
	}
	if len(entries) == 0 {
		return "Audit log is empty.", nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-10s %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
		if e.Target.Valid {
			fmt.Fprintf(&b, " → %s", e.Target.String)
		}
		if e.Detail.Valid {
			fmt.Fprintf(&b, " (%s)", e.Detail.String)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// --- helpers ---

func (h *Handlers) audit(ctx context.Context, actor, action string, sid int64, result, detail string) {
	if h.cfg.Audit == nil {
		return
	}
	if err := h.cfg.Audit.Write(ctx, trace.FromContext(ctx), actor, action, fmt.Sprintf("%d", sid), result, detail); err != nil {
		h.logger.Warn("failed to write audit entry", "action", action, "session", sid, "err", err)
	}
}

func (h *Handlers) send(roomID, message string) {
	if err := h.cfg.Messenger.SendMessage(roomID, message); err != nil {
		h.logger.Error("failed to send message", "room", roomID, "err", err)
	}
}

func (h *Handlers) replyTo(evt *event.Event, message string) {
	if err := h.cfg.Messenger.ReplyToMessage(evt.RoomID.String(), evt.ID.String(), message); err != nil {
		h.logger.Error("failed to send reply", "room", evt.RoomID, "err", err)
	}
}

func (h *Handlers) notice(roomID, message string) {
	if err := h.cfg.Messenger.SendNotice(roomID, message); err != nil {
		h.logger.Error("failed to send notice", "room", roomID, "err", err)
	}
}
