package dto

import (
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// TicketResponse is the operator view of a ticket. Discord ids are rendered
// as strings so they survive JSON number precision.
type TicketResponse struct {
	ID        string              `json:"id"`
	GuildID   string              `json:"guild_id"`
	ChannelID *string             `json:"channel_id"`
	CreatorID string              `json:"creator_id"`
	Status    domain.TicketStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	ClosedAt  *time.Time          `json:"closed_at"`
	ClaimedBy *string             `json:"claimed_by"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:        t.ID,
		GuildID:   t.GuildID.String(),
		CreatorID: t.CreatorID.String(),
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		ClosedAt:  t.ClosedAt,
	}
	if t.ChannelID != nil {
		s := t.ChannelID.String()
		resp.ChannelID = &s
	}
	if t.ClaimedBy != nil {
		s := t.ClaimedBy.String()
		resp.ClaimedBy = &s
	}
	return resp
}

// NewTicketListResponse maps a slice of tickets.
func NewTicketListResponse(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewTicketResponse(&tickets[i]))
	}
	return out
}

// TicketListQuery captures query filters for the ops list endpoint.
type TicketListQuery struct {
	GuildID string `query:"guild_id"`
	Status  string `query:"status"`
	Unbound bool   `query:"unbound"`
	Limit   int    `query:"limit"`
}

// ReconcileRequest triggers an orphan sweep on demand.
type ReconcileRequest struct {
	OlderThan string `json:"older_than"`
	Purge     bool   `json:"purge"`
}

// ReconcileResponse reports what the sweep found.
type ReconcileResponse struct {
	Orphans []string `json:"orphans"`
	Purged  int      `json:"purged"`
}
