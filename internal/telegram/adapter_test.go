package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentchat/internal/chattest"
	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/ownership"
	"github.com/user/agentchat/internal/state"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/pkg/chatapi"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func setupAdapter(t *testing.T) (*Adapter, *fakeBot, *chattest.MockGateway) {
	t.Helper()
	remote := new(chattest.MockGateway)
	kv := state.NewMemoryKV()
	store := threads.NewStore(remote, kv)
	owners := ownership.NewResolver(remote, nil, "org-a")
	gw := gateway.New(remote, store, owners, state.NewConversationStore(kv))
	bot := &fakeBot{}
	return &Adapter{bot: bot, gateway: gw, agentID: "a1"}, bot, remote
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 7},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestBuildConversationKey(t *testing.T) {
	key := buildConversationKey(67890)
	if string(key) != "telegram:67890" {
		t.Errorf("expected 'telegram:67890', got %q", key)
	}
}

func TestMessageRepliesWithAgentText(t *testing.T) {
	a, bot, remote := setupAdapter(t)
	ctx := context.Background()
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hi", AgentID: "a1"}).
		Return(&chatapi.SendResponse{Message: "hello there", ThreadID: "r1"}, nil).Once()
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "again", AgentID: "a1", ThreadID: "r1"}).
		Return(&chatapi.SendResponse{Message: "still here", ThreadID: "r1"}, nil).Once()

	a.handleMessage(ctx, textMessage(1, "hi"))
	if bot.last() != "hello there" {
		t.Errorf("expected agent reply, got %q", bot.last())
	}

	a.handleMessage(ctx, textMessage(1, "again"))
	if bot.last() != "still here" {
		t.Errorf("expected follow-up reply, got %q", bot.last())
	}
	remote.AssertExpectations(t)
}

func TestMessageFailureSendsApologyAndNotice(t *testing.T) {
	a, bot, remote := setupAdapter(t)
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hi", AgentID: "a1"}).
		Return(nil, &chatapi.StatusError{Op: "send message", StatusCode: 429})

	a.handleMessage(context.Background(), textMessage(1, "hi"))

	if len(bot.sent) != 2 {
		t.Fatalf("expected apology and notice, got %v", bot.sent)
	}
	if bot.sent[0] != threads.ErrorReply {
		t.Errorf("expected apology first, got %q", bot.sent[0])
	}
	if bot.sent[1] != chatapi.UserMessage(&chatapi.StatusError{StatusCode: 429}) {
		t.Errorf("expected rate limit notice, got %q", bot.sent[1])
	}
}

func TestNewCommandDetachesThread(t *testing.T) {
	a, bot, remote := setupAdapter(t)
	ctx := context.Background()
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hi", AgentID: "a1"}).
		Return(&chatapi.SendResponse{Message: "hello", ThreadID: "r1"}, nil).Twice()

	a.handleMessage(ctx, textMessage(1, "hi"))
	a.handleMessage(ctx, textMessage(1, "/new"))
	if bot.last() != "Starting a new thread." {
		t.Errorf("unexpected reply %q", bot.last())
	}
	// The second send carries no thread id.
	a.handleMessage(ctx, textMessage(1, "hi"))
	remote.AssertExpectations(t)
}

func TestThreadsCommandListsAndSwitches(t *testing.T) {
	a, bot, remote := setupAdapter(t)
	ctx := context.Background()
	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{
		{ID: "r1", MiddlewareID: "m1", Name: "Trip plans"},
	}, nil)

	a.handleMessage(ctx, textMessage(1, "/threads"))
	if !strings.Contains(bot.last(), "1. Trip plans") {
		t.Errorf("expected listing, got %q", bot.last())
	}

	a.handleMessage(ctx, textMessage(1, "/threads 5"))
	if !strings.Contains(bot.last(), "between 1 and 1") {
		t.Errorf("expected range hint, got %q", bot.last())
	}

	a.handleMessage(ctx, textMessage(1, "/threads 1"))
	if bot.last() != "Switched to: Trip plans" {
		t.Errorf("unexpected reply %q", bot.last())
	}

	conv, err := a.gateway.Conversation(ctx, buildConversationKey(1))
	if err != nil {
		t.Fatal(err)
	}
	if conv.LocalID != "m1" || conv.RemoteID != "r1" {
		t.Errorf("expected conversation on m1/r1, got %s/%s", conv.LocalID, conv.RemoteID)
	}
}

func TestStatusCommand(t *testing.T) {
	a, bot, _ := setupAdapter(t)

	a.handleMessage(context.Background(), textMessage(1, "/status"))
	if !strings.Contains(bot.last(), "Agent: a1") || !strings.Contains(bot.last(), "Organization: org-a") {
		t.Errorf("unexpected status %q", bot.last())
	}
}

func TestUnknownCommand(t *testing.T) {
	a, bot, _ := setupAdapter(t)

	a.handleMessage(context.Background(), textMessage(1, "/bogus"))
	if !strings.HasPrefix(bot.last(), "Unknown command") {
		t.Errorf("unexpected reply %q", bot.last())
	}
}
