package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/types"
)

const (
	maxTelegramMessage = 4096
	maxListedThreads   = 10
)

// sender is the part of the bot API the adapter replies through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to one agent through the gateway.
type Adapter struct {
	api     *tgbotapi.BotAPI
	bot     sender
	gateway *gateway.Gateway
	agentID string
	wg      sync.WaitGroup
}

// New creates a Telegram adapter that chats with agentID.
func New(token string, gw *gateway.Gateway, agentID string) (*Adapter, error) {
	if agentID == "" {
		return nil, errors.New("create bot: telegram.agent_id is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		api:     bot,
		bot:     bot,
		gateway: gw,
		agentID: agentID,
	}, nil
}

// Start begins long-polling for Telegram updates. Each message is handled
// on its own goroutine; a message arriving while the chat's previous send is
// in flight is dropped by the gateway.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer a.wg.Done()
				a.handleMessage(ctx, msg)
			}(update.Message)
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			a.wg.Wait()
			return
		}
	}
}

const busyReply = "Still working on your previous message."

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Handle commands
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	key := buildConversationKey(chatID)
	if a.gateway.Busy(key) {
		a.sendResponse(chatID, busyReply)
		return
	}

	if _, err := a.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.Debug("send typing action", "chat_id", chatID, "error", err)
	}

	res, err := a.gateway.Send(ctx, key, a.agentID, msg.Text)
	if errors.Is(err, gateway.ErrBusy) {
		a.sendResponse(chatID, busyReply)
		return
	}
	if err != nil {
		slog.Error("handle telegram message", "chat_id", chatID, "agent_id", a.agentID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
		return
	}

	if len(res.Messages) > 0 {
		a.sendResponse(chatID, res.Messages[len(res.Messages)-1].Text)
	}
	if res.Notice != "" {
		a.sendResponse(chatID, res.Notice)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildConversationKey(chatID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message to chat with the agent. Use /new to start a fresh thread and /threads to pick an earlier one.")

	case "new":
		if a.gateway.Busy(key) {
			a.sendResponse(chatID, busyReply)
			return
		}
		if err := a.gateway.NewThread(ctx, key, a.agentID); err != nil {
			slog.Error("start new thread", "chat_id", chatID, "error", err)
			a.sendResponse(chatID, "Error starting a new thread.")
			return
		}
		a.sendResponse(chatID, "Starting a new thread.")

	case "threads":
		a.handleThreads(ctx, chatID, key, strings.TrimSpace(msg.CommandArguments()))

	case "status":
		conv, err := a.gateway.Conversation(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		thread := "none (next message starts a new one)"
		if conv.LocalID != "" {
			thread = conv.LocalID
			if th, ok, err := a.gateway.Thread(ctx, a.agentID, conv.LocalID); err == nil && ok {
				thread = fmt.Sprintf("%s (%d messages)", th.Title(), len(th.Messages))
			}
		}
		a.sendResponse(chatID, fmt.Sprintf("Agent: %s\nOrganization: %s\nThread: %s", a.agentID, a.gateway.OrgID(), thread))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /threads, /status")
	}
}

// handleThreads lists the agent's threads, or switches to the numbered one
// when arg is given.
func (a *Adapter) handleThreads(ctx context.Context, chatID int64, key types.ConversationKey, arg string) {
	list, err := a.gateway.ListThreads(ctx, a.agentID)
	if err != nil {
		a.sendResponse(chatID, "Error listing threads.")
		return
	}
	if len(list) == 0 {
		a.sendResponse(chatID, "No threads yet.")
		return
	}

	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(list) {
			a.sendResponse(chatID, fmt.Sprintf("Pick a thread between 1 and %d.", len(list)))
			return
		}
		th := list[n-1]
		if a.gateway.Busy(key) {
			a.sendResponse(chatID, busyReply)
			return
		}
		if err := a.gateway.UseThread(ctx, key, th); err != nil {
			slog.Error("switch thread", "chat_id", chatID, "local_id", th.LocalID, "error", err)
			a.sendResponse(chatID, "Error switching thread.")
			return
		}
		a.sendResponse(chatID, "Switched to: "+th.Title())
		return
	}

	var b strings.Builder
	for i, th := range list {
		if i == maxListedThreads {
			fmt.Fprintf(&b, "... and %d more\n", len(list)-maxListedThreads)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, th.Title())
	}
	b.WriteString("\nSend /threads <number> to continue one.")
	a.sendResponse(chatID, b.String())
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send telegram message", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildConversationKey(chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram", strconv.FormatInt(chatID, 10))
}
