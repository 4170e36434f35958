// Package channel hosts the interactive front ends that turn user input
// into skill dispatches.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"skillrun/internal/dispatch"
	"skillrun/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram exposes the skill registry over a Telegram bot. Each chat gets
// its own dispatch session, so repeated identical calls within a chat are
// answered from that chat's records without re-running the skill.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot     *tgbotapi.BotAPI
	factory *dispatch.Factory
	logger  *slog.Logger

	sessionsMu sync.Mutex
	sessions   map[int64]*dispatch.Dispatcher
}

type TelegramConfig struct {
	Token     string
	AllowFrom []int64
	ParseMode string
	Factory   *dispatch.Factory
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: cfg.AllowFrom,
		parseMode: cfg.ParseMode,
		factory:   cfg.Factory,
		logger:    cfg.Logger,
		sessions:  make(map[int64]*dispatch.Dispatcher),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// dispatcher returns the chat's session dispatcher, creating it on first use.
func (t *Telegram) dispatcher(chatID int64) *dispatch.Dispatcher {
	t.sessionsMu.Lock()
	defer t.sessionsMu.Unlock()
	d, ok := t.sessions[chatID]
	if !ok {
		d = t.factory.ForSession(fmt.Sprintf("telegram:%d", chatID))
		t.sessions[chatID] = d
	}
	return d
}

// resetSession drops the chat's session so subsequent calls execute fresh.
func (t *Telegram) resetSession(chatID int64) {
	t.sessionsMu.Lock()
	delete(t.sessions, chatID)
	t.sessionsMu.Unlock()
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	t.sendMessage(chatID, "Use /call <skill> <json-args> to run a skill, or /skills to list them.")
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! I run registered skills on demand.\n\nCommands:\n/skills — list available skills\n/call <skill> <json-args> — run a skill\n/reset — forget this chat's previous calls\n/help — show this message")
	case "help":
		t.sendMessage(chatID, "Commands:\n/skills — list available skills\n/call <skill> {\"param\": \"value\"} — run a skill\n/reset — forget this chat's previous calls\n\nRepeating a call with the same arguments returns the recorded result instead of running the skill again; /reset clears those records.")
	case "skills":
		t.sendMessage(chatID, t.renderSkillList())
	case "call":
		t.handleCall(ctx, chatID, msg.CommandArguments())
	case "reset":
		t.resetSession(chatID)
		t.sendMessage(chatID, "Session cleared. Subsequent calls will execute fresh.")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

// handleCall parses "/call <skill> [<json-args>]" and dispatches it.
func (t *Telegram) handleCall(ctx context.Context, chatID int64, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.sendMessage(chatID, "Usage: /call <skill> <json-args>\nExample: /call page_get {\"url\": \"https://example.com\"}")
		return
	}

	name := raw
	argsJSON := ""
	if i := strings.IndexAny(raw, " \t"); i >= 0 {
		name = raw[:i]
		argsJSON = strings.TrimSpace(raw[i+1:])
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			t.sendMessage(chatID, fmt.Sprintf("Arguments must be a JSON object: %v", err))
			return
		}
	}

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	start := time.Now()
	out := t.dispatcher(chatID).Dispatch(ctx, domain.CallRequest{
		Skill:     name,
		Arguments: args,
		OnProgress: func(note string) {
			t.logger.Debug("skill progress", "chat_id", chatID, "skill", name, "note", note)
		},
	})

	t.logger.Info("telegram dispatch",
		"chat_id", chatID,
		"skill", name,
		"ok", out.OK,
		"cache_hit", out.CacheHit,
		"duration", time.Since(start),
	)

	if !out.OK {
		t.sendMessage(chatID, fmt.Sprintf("%s failed (%s): %s", name, out.Kind(), out.Failure.Message))
		return
	}
	reply := out.Text
	if out.CacheHit {
		reply = "(recorded result)\n" + reply
	}
	if reply == "" {
		reply = "(empty result)"
	}
	t.sendMessage(chatID, reply)
}

func (t *Telegram) renderSkillList() string {
	defs := t.factory.Registry().Definitions()
	if len(defs) == 0 {
		return "No skills registered."
	}
	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "\n*%s* — %s\n", d.Name, d.Description)
	}
	b.WriteString("\nRun one with /call <skill> <json-args>.")
	return b.String()
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, fall back to plain text on
// parse errors, back off on transient failures.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Parse error on first attempt, retry immediately as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
