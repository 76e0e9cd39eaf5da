// Package discord implements chatbackend.Backend on top of discordgo,
// wiring the teacher's declared-but-unused bwmarrin/discordgo dependency
// into a second concrete ChatBackend (SPEC_FULL.md §3 domain stack).
//
// Space maps to a Discord guild text channel; thread maps to a Discord
// message thread. Discord has no People-API equivalent, so ResolveUser
// looks the sender up with the session's user endpoint (Session.User).
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/errs"
)

// Backend adapts an open discordgo.Session, scoped to a single guild.
type Backend struct {
	session *discordgo.Session
	guildID string
}

var (
	_ chatbackend.Backend         = (*Backend)(nil)
	_ chatbackend.ReactionBackend = (*Backend)(nil)
)

// New builds a Backend from a bot token, opening the gateway connection.
// Callers must call Close when done.
func New(token, guildID string) (*Backend, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "create discord session", err)
	}
	if err := session.Open(); err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "open discord gateway connection", err)
	}
	return &Backend{session: session, guildID: guildID}, nil
}

func (b *Backend) Close() error { return b.session.Close() }

func (b *Backend) Name() string { return "discord" }

func (b *Backend) ListSpaces(ctx context.Context) ([]chatmodel.Space, error) {
	channels, err := b.session.GuildChannels(b.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "list guild channels", err)
	}

	var out []chatmodel.Space
	for _, c := range channels {
		if c.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, chatmodel.Space{Name: "spaces/" + c.ID, Type: "CHANNEL", DisplayName: c.Name})
	}
	return out, nil
}

func (b *Backend) ListMessages(ctx context.Context, space string, opts chatbackend.ListMessagesOptions) (chatbackend.ListMessagesPage, error) {
	limit := opts.PageSize
	if limit <= 0 {
		limit = 25
	}
	if limit > 100 {
		limit = 100 // Discord's own message-list cap, independent of spec's 1000-cap
	}

	channelID := strings.TrimPrefix(space, "spaces/")
	msgs, err := b.session.ChannelMessages(channelID, limit, opts.PageToken, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return chatbackend.ListMessagesPage{}, errs.Wrap(errs.KindBackendError, "list channel messages", err)
	}

	page := chatbackend.ListMessagesPage{}
	for _, m := range msgs {
		page.Messages = append(page.Messages, toModel(channelID, m))
	}
	if len(msgs) > 0 {
		page.NextPageToken = msgs[len(msgs)-1].ID
	}
	return page, nil
}

func (b *Backend) GetMessage(ctx context.Context, name string) (chatmodel.Message, error) {
	channelID, messageID, err := splitName(name)
	if err != nil {
		return chatmodel.Message{}, err
	}
	m, err := b.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindBackendError, "get channel message", err)
	}
	return toModel(channelID, m), nil
}

func (b *Backend) CreateMessage(ctx context.Context, space, text, threadName string) (chatmodel.Message, error) {
	target := strings.TrimPrefix(space, "spaces/")
	if threadName != "" {
		target = threadName
	}
	m, err := b.session.ChannelMessageSend(target, text, discordgo.WithContext(ctx))
	if err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindBackendError, "send channel message", err)
	}
	return toModel(target, m), nil
}

func (b *Backend) UpdateMessage(ctx context.Context, name, text string) (chatmodel.Message, error) {
	channelID, messageID, err := splitName(name)
	if err != nil {
		return chatmodel.Message{}, err
	}
	m, err := b.session.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx))
	if err != nil {
		return chatmodel.Message{}, errs.Wrap(errs.KindBackendError, "edit channel message", err)
	}
	return toModel(channelID, m), nil
}

func (b *Backend) DeleteMessage(ctx context.Context, name string) error {
	channelID, messageID, err := splitName(name)
	if err != nil {
		return err
	}
	if err := b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return errs.Wrap(errs.KindBackendError, "delete channel message", err)
	}
	return nil
}

func (b *Backend) AddReaction(ctx context.Context, messageName, emoji string) error {
	channelID, messageID, err := splitName(messageName)
	if err != nil {
		return err
	}
	if err := b.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return errs.Wrap(errs.KindBackendError, "add reaction", err)
	}
	return nil
}

func (b *Backend) ResolveUser(ctx context.Context, sender string) (chatmodel.UserProfile, error) {
	u, err := b.session.User(sender, discordgo.WithContext(ctx))
	if err != nil {
		return chatmodel.UserProfile{Name: sender, DisplayName: "User " + sender}, nil
	}
	return chatmodel.UserProfile{
		Name:        u.ID,
		DisplayName: u.Username,
		PhotoURL:    u.AvatarURL(""),
	}, nil
}

// toModel converts a discordgo.Message into the shared chat model. Name is
// synthesized as "spaces/{channelID}/messages/{messageID}" since Discord
// has no resource name grammar of its own — matching the googlechat-shaped
// form the shared tool wrappers in internal/tools/googlechat require
// (spec.md §6: message-scoped tools "reject bare ids with InvalidArgument").
func toModel(channelID string, m *discordgo.Message) chatmodel.Message {
	out := chatmodel.Message{
		Name:       "spaces/" + channelID + "/messages/" + m.ID,
		Text:       m.Content,
		CreateTime: m.Timestamp,
	}
	if m.Author != nil {
		out.Sender = m.Author.ID
	}
	return out
}

func splitName(name string) (channelID, messageID string, err error) {
	const prefix, infix = "spaces/", "/messages/"
	if strings.HasPrefix(name, prefix) {
		if i := strings.Index(name, infix); i > len(prefix) {
			return name[len(prefix):i], name[i+len(infix):], nil
		}
	}
	return "", "", errs.New(errs.KindInvalidArgument, fmt.Sprintf("malformed discord message name %q, want spaces/{channel}/messages/{message}", name))
}
