package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened       EventType = "ticket_opened"
	EventTicketClosed       EventType = "ticket_closed"
	EventTicketDeleted      EventType = "ticket_deleted"
	EventTicketClaimed      EventType = "ticket_claimed"
	EventTicketUnclaimed    EventType = "ticket_unclaimed"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventTicketPurged       EventType = "ticket_purged"
)

// AllEventTypes lists every lifecycle event, in publication order of a
// typical ticket.
var AllEventTypes = []EventType{
	EventTicketOpened,
	EventTicketClaimed,
	EventTicketUnclaimed,
	EventParticipantAdded,
	EventParticipantRemoved,
	EventTicketClosed,
	EventTicketDeleted,
	EventTicketPurged,
}

// ActorType identifies who triggered an event.
type ActorType string

const (
	ActorMember   ActorType = "member"
	ActorStaff    ActorType = "staff"
	ActorOperator ActorType = "operator"
	ActorSystem   ActorType = "system"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type ActorType     `json:"type"`
	ID   *snowflake.ID `json:"id,omitempty"`
	Name string        `json:"name,omitempty"`
}

// Event represents a lifecycle event emitted by the engine.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	TicketID  string        `json:"ticket_id"`
	ChannelID *snowflake.ID `json:"channel_id,omitempty"`
	Actor     Actor         `json:"actor"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   interface{}   `json:"payload,omitempty"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	GuildID   snowflake.ID `json:"guild_id"`
	CreatorID snowflake.ID `json:"creator_id"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	CreatorID snowflake.ID `json:"creator_id"`
	ClosedBy  snowflake.ID `json:"closed_by"`
}

// TicketClaimPayload is shared by claimed and unclaimed events.
type TicketClaimPayload struct {
	StaffID snowflake.ID `json:"staff_id"`
}

// ParticipantPayload is shared by participant add/remove events.
type ParticipantPayload struct {
	UserID snowflake.ID `json:"user_id"`
}

// TicketRemovedPayload is attached to deleted and purged events.
type TicketRemovedPayload struct {
	ChannelDeleted bool `json:"channel_deleted"`
}
