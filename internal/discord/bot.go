package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/internal/mind"
)

// resetCommand starts the conversation over.
const resetCommand = "/start"

// Conversations is the part of the session registry the gateway drives.
type Conversations interface {
	Dispatch(ctx context.Context, in mind.Inbound) (mind.Turn, error)
	Reset(ctx context.Context, userID string) (string, error)
}

// channelAPI is the slice of *discordgo.Session used to answer.
type channelAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Bot relays direct messages to the session registry.
type Bot struct {
	dg             *discordgo.Session
	conversations  Conversations
	typingInterval time.Duration
	log            zerolog.Logger
	ctx            context.Context
}

// StartBot connects to Discord and serves direct messages until ctx is done.
func StartBot(ctx context.Context, token string, conversations Conversations) error {
	b := &Bot{
		conversations:  conversations,
		typingInterval: defaultTypingInterval,
		log:            logging.Component("discord"),
		ctx:            ctx,
	}
	if err := b.run(ctx, token); err != nil {
		return fmt.Errorf("bot run error: %w", err)
	}
	return nil
}

func (b *Bot) run(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg

	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Msg("discord gateway is running")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	// Direct messages only.
	if m.GuildID != "" {
		return
	}
	b.handle(b.ctx, s, m.ChannelID, m.Author.ID, m.Content)
}

// handle answers one direct message. It blocks until the reply is sent.
func (b *Bot) handle(ctx context.Context, api channelAPI, channelID, userID, content string) {
	if strings.EqualFold(strings.TrimSpace(content), resetCommand) {
		greeting, err := b.conversations.Reset(ctx, userID)
		if err != nil {
			b.log.Error().Err(err).Str("user", userID).Msg("reset failed")
			return
		}
		b.send(api, channelID, greeting)
		return
	}

	typing := newTypingLoop(api, channelID, b.typingInterval, b.log)
	defer typing.stop()

	turn, err := b.conversations.Dispatch(ctx, mind.Inbound{
		UserID: userID,
		Text:   content,
		Typing: typing.start,
	})
	if err != nil {
		if !errors.Is(err, mind.ErrRegistryClosed) && !errors.Is(err, context.Canceled) {
			b.log.Error().Err(err).Str("user", userID).Msg("dispatch failed")
		}
		return
	}
	typing.stop()
	b.send(api, channelID, turn.Reply)
}

func (b *Bot) send(api channelAPI, channelID, text string) {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if _, err := api.ChannelMessageSend(channelID, chunk); err != nil {
			b.log.Error().Err(err).Str("channel", channelID).Msg("failed to send message")
			return
		}
	}
}
