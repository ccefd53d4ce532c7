package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

const commandTimeout = 15 * time.Second

// Lifecycle is the engine surface the bot drives.
type Lifecycle interface {
	Open(ctx context.Context, guildID, creatorID, supportRoleID snowflake.ID) (service.OpenResult, error)
	Close(ctx context.Context, channelID, guildID, supportRoleID, requesterID snowflake.ID) (service.CloseResult, error)
	Delete(ctx context.Context, channelID snowflake.ID) error
	Claim(ctx context.Context, channelID, staffID snowflake.ID) (service.ClaimResult, error)
	Unclaim(ctx context.Context, channelID, staffID snowflake.ID) error
	AddParticipant(ctx context.Context, channelID, userID snowflake.ID) error
	RemoveParticipant(ctx context.Context, channelID, userID snowflake.ID) error
	Info(ctx context.Context, channelID snowflake.ID) (*domain.Ticket, error)
}

type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot translates slash commands and button clicks into lifecycle calls.
type Bot struct {
	session          *discordgo.Session
	responder        responder
	engine           Lifecycle
	guildID          snowflake.ID
	supportRoleID    snowflake.ID
	registerCommands bool
	metrics          *observability.Metrics
	logger           *zap.Logger
	baseCtx          context.Context
}

// NewBot wires the bot to an unopened discordgo session.
func NewBot(session *discordgo.Session, engine Lifecycle, cfg config.DiscordConfig, metrics *observability.Metrics, logger *zap.Logger) *Bot {
	b := newBot(session, engine, cfg, metrics, logger)
	b.session = session
	return b
}

func newBot(r responder, engine Lifecycle, cfg config.DiscordConfig, metrics *observability.Metrics, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		responder:        r,
		engine:           engine,
		guildID:          cfg.GuildID,
		supportRoleID:    cfg.SupportRoleID,
		registerCommands: cfg.RegisterCommands,
		metrics:          metrics,
		logger:           logger.Named("discord"),
		baseCtx:          context.Background(),
	}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.baseCtx = ctx
	b.session.Identify.Intents = discordgo.IntentsGuilds
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.handleInteraction(ic.Interaction)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.logger.Info("discord gateway connected")

	<-ctx.Done()
	b.logger.Info("closing discord gateway")
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("logged in", zap.String("user", r.User.String()), zap.String("user_id", r.User.ID))
	if !b.registerCommands {
		return
	}
	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.guildID.String(), Commands())
	if err != nil {
		b.logger.Warn("command sync failed", zap.Error(err))
		return
	}
	b.logger.Info("synced commands", zap.Int("count", len(cmds)), zap.Stringer("guild_id", b.guildID))
}

// invocation is a parsed interaction from a guild member.
type invocation struct {
	it        *discordgo.Interaction
	channelID snowflake.ID
	userID    snowflake.ID
	roles     []string
}

func (b *Bot) handleInteraction(it *discordgo.Interaction) {
	ctx, cancel := context.WithTimeout(b.baseCtx, commandTimeout)
	defer cancel()

	switch it.Type {
	case discordgo.InteractionApplicationCommand:
		data := it.ApplicationCommandData()
		if data.Name != commandName || len(data.Options) == 0 {
			return
		}
		inv, ok := b.parseInvocation(ctx, it)
		if !ok {
			return
		}
		b.handleCommand(ctx, inv, data.Options[0])
	case discordgo.InteractionMessageComponent:
		if it.MessageComponentData().CustomID != openTicketButtonID {
			return
		}
		inv, ok := b.parseInvocation(ctx, it)
		if !ok {
			return
		}
		b.deferred(ctx, inv, func() string { return b.createTicket(ctx, inv) })
	}
}

func (b *Bot) parseInvocation(ctx context.Context, it *discordgo.Interaction) (invocation, bool) {
	if it.Member == nil || it.Member.User == nil || it.GuildID != b.guildID.String() {
		b.respondEphemeral(ctx, it, "Tickets can only be managed inside the support server.")
		return invocation{}, false
	}
	channelID, err := snowflake.ParseString(it.ChannelID)
	if err != nil {
		b.logger.Warn("bad channel id in interaction", zap.String("channel_id", it.ChannelID))
		return invocation{}, false
	}
	userID, err := snowflake.ParseString(it.Member.User.ID)
	if err != nil {
		b.logger.Warn("bad user id in interaction", zap.String("user_id", it.Member.User.ID))
		return invocation{}, false
	}
	return invocation{it: it, channelID: channelID, userID: userID, roles: it.Member.Roles}, true
}

func (b *Bot) hasSupportRole(inv invocation) bool {
	want := b.supportRoleID.String()
	for _, r := range inv.roles {
		if r == want {
			return true
		}
	}
	return false
}

func (b *Bot) handleCommand(ctx context.Context, inv invocation, sub *discordgo.ApplicationCommandInteractionDataOption) {
	log := b.logger.With(zap.String("command", sub.Name),
		zap.Stringer("channel_id", inv.channelID), zap.Stringer("user_id", inv.userID))
	log.Debug("command received")

	if staffOnly[sub.Name] && !b.hasSupportRole(inv) {
		b.respondEphemeral(ctx, inv.it, "You don't have permission to use this command.")
		return
	}

	switch sub.Name {
	case subSetup:
		err := b.responder.InteractionRespond(inv.it, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: setupPanel(),
		}, discordgo.WithContext(ctx))
		if err != nil {
			log.Error("post setup panel", zap.Error(err))
		}
	case subCreate:
		b.deferred(ctx, inv, func() string { return b.createTicket(ctx, inv) })
	case subClose:
		b.deferred(ctx, inv, func() string {
			res, err := b.engine.Close(ctx, inv.channelID, b.guildID, b.supportRoleID, inv.userID)
			if err != nil {
				return b.errorReply(err, log)
			}
			if res.AlreadyClosed {
				return "This ticket is already closed."
			}
			return "Ticket closed!"
		})
	case subDelete:
		b.deleteTicket(ctx, inv, log)
	case subAdd, subRemove:
		b.deferred(ctx, inv, func() string {
			target, err := userOptionValue(sub)
			if err != nil {
				return "Please pick a user."
			}
			if sub.Name == subAdd {
				if err := b.engine.AddParticipant(ctx, inv.channelID, target); err != nil {
					return b.errorReply(err, log)
				}
				return mention(target) + " added to ticket!"
			}
			if err := b.engine.RemoveParticipant(ctx, inv.channelID, target); err != nil {
				return b.errorReply(err, log)
			}
			return mention(target) + " removed from ticket!"
		})
	case subClaim:
		b.deferred(ctx, inv, func() string {
			res, err := b.engine.Claim(ctx, inv.channelID, inv.userID)
			if err != nil {
				return b.errorReply(err, log)
			}
			return claimReply(res, inv.userID)
		})
	case subUnclaim:
		b.deferred(ctx, inv, func() string {
			if err := b.engine.Unclaim(ctx, inv.channelID, inv.userID); err != nil {
				return b.errorReply(err, log)
			}
			return "Ticket unclaimed."
		})
	case subInfo:
		b.deferred(ctx, inv, func() string {
			t, err := b.engine.Info(ctx, inv.channelID)
			if err != nil {
				return b.errorReply(err, log)
			}
			return infoText(t)
		})
	default:
		log.Warn("unknown subcommand")
	}
}

func (b *Bot) createTicket(ctx context.Context, inv invocation) string {
	res, err := b.engine.Open(ctx, b.guildID, inv.userID, b.supportRoleID)
	if err != nil {
		return b.errorReply(err, b.logger.With(zap.Stringer("user_id", inv.userID)))
	}
	return fmt.Sprintf("Ticket created! ID: %s (check %s).", domain.ShortID(res.TicketID), channelMention(res.ChannelID))
}

// deleteTicket confirms before removing the channel, since the reply cannot
// be delivered once the channel is gone.
func (b *Bot) deleteTicket(ctx context.Context, inv invocation, log *zap.Logger) {
	if !b.deferResponse(ctx, inv.it) {
		return
	}
	if _, err := b.engine.Info(ctx, inv.channelID); err != nil {
		b.editResponse(ctx, inv.it, b.errorReply(err, log))
		return
	}
	b.editResponse(ctx, inv.it, "Ticket deleted!")
	if err := b.engine.Delete(ctx, inv.channelID); err != nil {
		de := apperrors.ToDomainError(err)
		b.metrics.RecordError("discord", de.Code)
		log.Error("delete ticket after confirmation", zap.Error(err))
	}
}

func claimReply(res service.ClaimResult, caller snowflake.ID) string {
	if res.Outcome == service.ClaimSucceeded {
		return "Ticket claimed!"
	}
	if res.ClaimedBy == caller {
		return "You have already claimed this ticket."
	}
	return "Ticket already claimed by " + mention(res.ClaimedBy) + "."
}

func userOptionValue(sub *discordgo.ApplicationCommandInteractionDataOption) (snowflake.ID, error) {
	for _, o := range sub.Options {
		if o.Name != "user" || o.Type != discordgo.ApplicationCommandOptionUser {
			continue
		}
		raw, ok := o.Value.(string)
		if !ok {
			break
		}
		return snowflake.ParseString(raw)
	}
	return 0, errors.New("missing user option")
}

// errorReply logs err and returns the message safe to show the user.
func (b *Bot) errorReply(err error, log *zap.Logger) string {
	de := apperrors.ToDomainError(err)
	b.metrics.RecordError("discord", de.Code)
	if de.Code == apperrors.CodeInternal || de.HTTPStatus >= 500 {
		log.Error("command failed", zap.String("code", de.Code), zap.Error(err))
	} else {
		log.Info("command rejected", zap.String("code", de.Code))
	}
	if de.Code == apperrors.CodeInternal {
		return "Something went wrong. Please try again later."
	}
	return de.Message
}

// deferred acknowledges the interaction ephemerally, runs fn and edits the
// acknowledgement with its reply.
func (b *Bot) deferred(ctx context.Context, inv invocation, fn func() string) {
	if !b.deferResponse(ctx, inv.it) {
		return
	}
	b.editResponse(ctx, inv.it, fn())
}

func (b *Bot) deferResponse(ctx context.Context, it *discordgo.Interaction) bool {
	err := b.responder.InteractionRespond(it, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Error("acknowledge interaction", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) editResponse(ctx context.Context, it *discordgo.Interaction, content string) {
	if _, err := b.responder.InteractionResponseEdit(it, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("edit interaction response", zap.Error(err))
	}
}

func (b *Bot) respondEphemeral(ctx context.Context, it *discordgo.Interaction, content string) {
	err := b.responder.InteractionRespond(it, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Error("respond to interaction", zap.Error(err))
	}
}
