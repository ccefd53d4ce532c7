package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketStatusOpen || s == TicketStatusClosed
}

// Ticket is a support request backed by a private guild channel.
type Ticket struct {
	ID        string
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
	CreatorID snowflake.ID
	Status    TicketStatus
	CreatedAt time.Time
	ClosedAt  *time.Time
	ClaimedBy *snowflake.ID
}

// IsClaimed reports whether a staff member currently holds the ticket.
func (t *Ticket) IsClaimed() bool {
	return t != nil && t.ClaimedBy != nil
}

// ShortID is the prefix used in channel names and user replies.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ChannelName derives the companion channel name for a ticket.
func ChannelName(id string) string {
	return "ticket-" + ShortID(id)
}
