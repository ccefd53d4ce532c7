package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/service"
)

// restClient is the slice of the discordgo REST API the adapter uses.
// *discordgo.Session satisfies it.
type restClient interface {
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelAdapter implements service.ChannelManager over the Discord REST API.
type ChannelAdapter struct {
	rest restClient
}

var _ service.ChannelManager = (*ChannelAdapter)(nil)

// NewChannelAdapter wraps a discordgo session.
func NewChannelAdapter(rest restClient) *ChannelAdapter {
	return &ChannelAdapter{rest: rest}
}

func (a *ChannelAdapter) RoleExists(ctx context.Context, guildID, roleID snowflake.ID) (bool, error) {
	roles, err := a.rest.GuildRoles(guildID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return false, mapRESTError(err)
	}
	want := roleID.String()
	for _, r := range roles {
		if r.ID == want {
			return true, nil
		}
	}
	return false, nil
}

func (a *ChannelAdapter) CreateChannel(ctx context.Context, guildID snowflake.ID, name string, overrides []domain.PermissionOverride) (snowflake.ID, error) {
	ch, err := a.rest.GuildChannelCreateComplex(guildID.String(), discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: toOverwrites(overrides),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapRESTError(err)
	}
	id, err := snowflake.ParseString(ch.ID)
	if err != nil {
		return 0, fmt.Errorf("parse channel id %q: %w", ch.ID, err)
	}
	return id, nil
}

func (a *ChannelAdapter) SetPermissions(ctx context.Context, channelID snowflake.ID, overrides []domain.PermissionOverride) error {
	overwrites := toOverwrites(overrides)
	_, err := a.rest.ChannelEdit(channelID.String(), &discordgo.ChannelEdit{
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	return mapRESTError(err)
}

func (a *ChannelAdapter) UpsertOverride(ctx context.Context, channelID snowflake.ID, override domain.PermissionOverride) error {
	o := toOverwrite(override)
	err := a.rest.ChannelPermissionSet(channelID.String(), o.ID, o.Type, o.Allow, o.Deny, discordgo.WithContext(ctx))
	return mapRESTError(err)
}

func (a *ChannelAdapter) RemoveOverride(ctx context.Context, channelID, targetID snowflake.ID) error {
	err := mapRESTError(a.rest.ChannelPermissionDelete(channelID.String(), targetID.String(), discordgo.WithContext(ctx)))
	if errors.Is(err, service.ErrChannelNotFound) {
		// removing a member who holds no override is a no-op
		return nil
	}
	return err
}

func (a *ChannelAdapter) DeleteChannel(ctx context.Context, channelID snowflake.ID) error {
	_, err := a.rest.ChannelDelete(channelID.String(), discordgo.WithContext(ctx))
	return mapRESTError(err)
}

func (a *ChannelAdapter) PostNotice(ctx context.Context, channelID snowflake.ID, notice domain.Notice) error {
	_, err := a.rest.ChannelMessageSendEmbed(channelID.String(), noticeEmbed(notice), discordgo.WithContext(ctx))
	return mapRESTError(err)
}

// mapRESTError turns 404 and 403 responses into the lifecycle sentinels.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", service.ErrChannelNotFound, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", service.ErrChannelForbidden, err)
	}
	return err
}
