package domain

import "github.com/bwmarrin/snowflake"

// Permission is a platform-neutral channel capability bitmask.
type Permission uint8

const (
	PermissionView Permission = 1 << iota
	PermissionSend
	PermissionReadHistory
)

// PermissionFull is what staff and active participants receive.
const PermissionFull = PermissionView | PermissionSend | PermissionReadHistory

// Has reports whether all bits of q are set in p.
func (p Permission) Has(q Permission) bool {
	return p&q == q
}

// OverrideTarget distinguishes role and member overrides.
type OverrideTarget string

const (
	OverrideRole   OverrideTarget = "role"
	OverrideMember OverrideTarget = "member"
)

// PermissionOverride grants or denies capabilities to one role or member.
type PermissionOverride struct {
	TargetID snowflake.ID
	Target   OverrideTarget
	Allow    Permission
	Deny     Permission
}

// OpenTicketOverrides returns the default-deny, creator-allow, support-allow
// set applied when a ticket channel is created. The everyone role shares the
// guild's id on the platform.
func OpenTicketOverrides(guildID, supportRoleID, creatorID snowflake.ID) []PermissionOverride {
	return []PermissionOverride{
		{TargetID: guildID, Target: OverrideRole, Deny: PermissionView},
		{TargetID: supportRoleID, Target: OverrideRole, Allow: PermissionFull},
		{TargetID: creatorID, Target: OverrideMember, Allow: PermissionFull},
	}
}

// ClosedTicketOverrides keeps the creator able to read but not send.
func ClosedTicketOverrides(guildID, supportRoleID, creatorID snowflake.ID) []PermissionOverride {
	return []PermissionOverride{
		{TargetID: guildID, Target: OverrideRole, Deny: PermissionView},
		{TargetID: supportRoleID, Target: OverrideRole, Allow: PermissionFull},
		{TargetID: creatorID, Target: OverrideMember, Allow: PermissionView | PermissionReadHistory, Deny: PermissionSend},
	}
}

// ParticipantOverride grants an added member full access to the channel.
func ParticipantOverride(userID snowflake.ID) PermissionOverride {
	return PermissionOverride{TargetID: userID, Target: OverrideMember, Allow: PermissionFull}
}
