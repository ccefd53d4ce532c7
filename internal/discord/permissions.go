package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticketbot/internal/domain"
)

func permissionBits(p domain.Permission) int64 {
	var bits int64
	if p.Has(domain.PermissionView) {
		bits |= discordgo.PermissionViewChannel
	}
	if p.Has(domain.PermissionSend) {
		bits |= discordgo.PermissionSendMessages
	}
	if p.Has(domain.PermissionReadHistory) {
		bits |= discordgo.PermissionReadMessageHistory
	}
	return bits
}

func overwriteType(t domain.OverrideTarget) discordgo.PermissionOverwriteType {
	if t == domain.OverrideMember {
		return discordgo.PermissionOverwriteTypeMember
	}
	return discordgo.PermissionOverwriteTypeRole
}

func toOverwrite(o domain.PermissionOverride) *discordgo.PermissionOverwrite {
	return &discordgo.PermissionOverwrite{
		ID:    o.TargetID.String(),
		Type:  overwriteType(o.Target),
		Allow: permissionBits(o.Allow),
		Deny:  permissionBits(o.Deny),
	}
}

func toOverwrites(overrides []domain.PermissionOverride) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverwrite(o))
	}
	return out
}
