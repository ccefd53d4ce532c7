package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/spec-kit/ticketbot/internal/domain"
)

var (
	// ErrChannelNotFound reports that the channel is already gone.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelForbidden reports that the bot lacks permission for the action.
	ErrChannelForbidden = errors.New("missing permission for channel action")
)

// ChannelManager performs the chat-platform side effects of the lifecycle.
type ChannelManager interface {
	RoleExists(ctx context.Context, guildID, roleID snowflake.ID) (bool, error)
	CreateChannel(ctx context.Context, guildID snowflake.ID, name string, overrides []domain.PermissionOverride) (snowflake.ID, error)
	// SetPermissions replaces the channel's whole override set.
	SetPermissions(ctx context.Context, channelID snowflake.ID, overrides []domain.PermissionOverride) error
	UpsertOverride(ctx context.Context, channelID snowflake.ID, override domain.PermissionOverride) error
	RemoveOverride(ctx context.Context, channelID, targetID snowflake.ID) error
	DeleteChannel(ctx context.Context, channelID snowflake.ID) error
	PostNotice(ctx context.Context, channelID snowflake.ID, notice domain.Notice) error
}
