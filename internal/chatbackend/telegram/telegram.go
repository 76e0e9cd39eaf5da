// Package telegram implements chatbackend.Backend on top of
// go-telegram-bot-api/telegram-bot-api, wiring the teacher's
// declared-but-unused dependency into a third ChatBackend.
//
// The Telegram Bot API exposes no message-history endpoint — a bot only
// ever sees updates pushed to it — so ListMessages, GetMessage, and
// ListSpaces (no "list my chats" call exists either) are unsupported here
// and return KindBackendError. This is a platform limitation, not a
// scoping choice: CreateMessage, UpdateMessage, DeleteMessage, and
// AddReaction (via emoji reaction on a message) work normally.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/errs"
)

// Backend adapts a tgbotapi.BotAPI client.
type Backend struct {
	bot *tgbotapi.BotAPI
}

var _ chatbackend.Backend = (*Backend)(nil)

// New builds a Backend from a bot token.
func New(token string) (*Backend, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "create telegram bot client", err)
	}
	return &Backend{bot: bot}, nil
}

func (b *Backend) Name() string { return "telegram" }

func (b *Backend) ListSpaces(ctx context.Context) ([]chatmodel.Space, error) {
	return nil, errs.New(errs.KindBackendError, "telegram bot API exposes no chat-listing endpoint")
}

func (b *Backend) ListMessages(ctx context.Context, space string, opts chatbackend.ListMessagesOptions) (chatbackend.ListMessagesPage, error) {
	return chatbackend.ListMessagesPage{}, errs.New(errs.KindBackendError, "telegram bot API exposes no message-history endpoint")
}

func (b *Backend) GetMessage(ctx context.Context, name string) (chatmodel.Message, error) {
	return chatmodel.Message{}, errs.New(errs.KindBackendError, "telegram bot API exposes no message-retrieval endpoint")
}

func (b *Backend) CreateMessage(ctx context.Context, space, text, threadName string) (chatmodel.Message, error) {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(space, "spaces/"), 10, 64)
	if err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindInvalidArgument, "space must be a numeric chat id", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if threadName != "" {
		if tid, err := strconv.Atoi(threadName); err == nil {
			msg.ReplyToMessageID = tid
		}
	}

	sent, err := b.bot.Send(msg)
	if err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindBackendError, "send message", err)
	}
	return toModel(sent), nil
}

func (b *Backend) UpdateMessage(ctx context.Context, name, text string) (chatmodel.Message, error) {
	chatID, messageID, err := splitName(name)
	if err != nil {
		return chatmodel.Message{}, err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.bot.Send(edit); err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindBackendError, "edit message", err)
	}
	return chatmodel.Message{Name: name, Text: text}, nil
}

func (b *Backend) DeleteMessage(ctx context.Context, name string) error {
	chatID, messageID, err := splitName(name)
	if err != nil {
		return err
	}
	del := tgbotapi.NewDeleteMessage(chatID, messageID)
	if _, err := b.bot.Request(del); err != nil {
		return errs.Wrap(errs.KindBackendError, "delete message", err)
	}
	return nil
}

func (b *Backend) AddReaction(ctx context.Context, messageName, emoji string) error {
	chatID, messageID, err := splitName(messageName)
	if err != nil {
		return err
	}
	reaction := tgbotapi.SetMessageReactionConfig{
		ChatID:    chatID,
		MessageID: messageID,
		Reaction:  []tgbotapi.ReactionType{{Type: tgbotapi.StickerTypeEmoji, Emoji: emoji}},
	}
	if _, err := b.bot.Request(reaction); err != nil {
		return errs.Wrap(errs.KindBackendError, "set message reaction", err)
	}
	return nil
}

func (b *Backend) ResolveUser(ctx context.Context, sender string) (chatmodel.UserProfile, error) {
	userID, err := strconv.ParseInt(sender, 10, 64)
	if err != nil {
		return chatmodel.UserProfile{Name: sender, DisplayName: "User " + sender}, nil
	}
	chatCfg := tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: userID}}
	chat, err := b.bot.GetChat(chatCfg)
	if err != nil {
		return chatmodel.UserProfile{Name: sender, DisplayName: "User " + sender}, nil
	}
	return chatmodel.UserProfile{
		Name:        sender,
		DisplayName: chat.FirstName + " " + chat.LastName,
		GivenName:   chat.FirstName,
		FamilyName:  chat.LastName,
	}, nil
}

// toModel converts a tgbotapi.Message into the shared chat model. Name is
// synthesized as "spaces/{chatID}/messages/{messageID}", matching the
// googlechat-shaped resource-name grammar the shared tool wrappers in
// internal/tools/googlechat require (spec.md §6).
func toModel(m tgbotapi.Message) chatmodel.Message {
	out := chatmodel.Message{
		Name:       fmt.Sprintf("spaces/%d/messages/%d", m.Chat.ID, m.MessageID),
		Text:       m.Text,
		CreateTime: m.Time(),
	}
	if m.From != nil {
		out.Sender = strconv.FormatInt(m.From.ID, 10)
	}
	return out
}

func splitName(name string) (chatID int64, messageID int, err error) {
	const prefix, infix = "spaces/", "/messages/"
	malformed := errs.New(errs.KindInvalidArgument, fmt.Sprintf("malformed telegram message name %q, want spaces/{chat}/messages/{message}", name))

	if !strings.HasPrefix(name, prefix) {
		return 0, 0, malformed
	}
	i := strings.Index(name, infix)
	if i <= len(prefix) {
		return 0, 0, malformed
	}
	chatPart, msgPart := name[len(prefix):i], name[i+len(infix):]

	chatID, errC := strconv.ParseInt(chatPart, 10, 64)
	messageID, errM := strconv.Atoi(msgPart)
	if errC != nil || errM != nil {
		return 0, 0, malformed
	}
	return chatID, messageID, nil
}
